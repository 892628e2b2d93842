package wire

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
)

var (
	// ErrConnectionFailed matches every *ConnectionError via errors.Is.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrChannelClosed is returned by a Channel used after Close.
	ErrChannelClosed = errors.New("channel is closed")

	// ErrUnknownColumnType is returned when the driver cannot describe a
	// result column (UDT columns such as geography or hierarchyid).
	ErrUnknownColumnType = errors.New("unsupported column type")
)

// FatalSeverity is the lowest server error class that terminates the
// connection. Classes 20-25 are fatal to the session per SQL Server docs.
const FatalSeverity = 20

// ConnectionError is a transport or authentication failure while opening
// a Channel. It is surfaced verbatim and never retried by the pool itself.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection failed: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrConnectionFailed) work for every ConnectionError.
func (e *ConnectionError) Is(target error) bool {
	return target == ErrConnectionFailed
}

// StatementError is a server-reported failure of a statement.
type StatementError struct {
	Number    int32
	State     uint8
	Severity  uint8
	Message   string
	Server    string
	Procedure string
	Line      int32

	Err error
}

func (e *StatementError) Error() string {
	if e.Procedure != "" {
		return fmt.Sprintf("mssql: error %d, severity %d, state %d, procedure %s, line %d: %s",
			e.Number, e.Severity, e.State, e.Procedure, e.Line, e.Message)
	}
	return fmt.Sprintf("mssql: error %d, severity %d, state %d, line %d: %s",
		e.Number, e.Severity, e.State, e.Line, e.Message)
}

func (e *StatementError) Unwrap() error {
	return e.Err
}

// Fatal reports whether the error terminated the server session.
// A fatal error leaves the Channel unusable; anything below is a plain
// SQL error and the Channel stays reusable.
func (e *StatementError) Fatal() bool {
	return e.Severity >= FatalSeverity
}

// ColumnTypeError reports a result set whose column metadata the driver
// could not produce. The driver describes all columns in one call, so the
// offending column is not known; Columns lists every name of the set.
// The rows are closed and the Channel stays usable.
type ColumnTypeError struct {
	Columns []string
	Detail  string
}

func (e *ColumnTypeError) Error() string {
	return fmt.Sprintf("%v in result set (%s): %s",
		ErrUnknownColumnType, strings.Join(e.Columns, ", "), e.Detail)
}

func (e *ColumnTypeError) Unwrap() error {
	return ErrUnknownColumnType
}

// UnsentError is the context error of a batch that was never written to
// the Channel because ctx ended first. The Channel is untouched.
type UnsentError struct {
	Err error
}

func (e *UnsentError) Error() string {
	return fmt.Sprintf("batch not sent: %v", e.Err)
}

func (e *UnsentError) Unwrap() error {
	return e.Err
}

// CheckSend returns an *UnsentError when ctx is already done.
func CheckSend(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &UnsentError{Err: err}
	}
	return nil
}

// IsChannelBroken decides whether the Channel that produced err must be
// discarded instead of being reused.
//
// Server errors below FatalSeverity, decode errors and batches that were
// never sent keep the Channel.
// Transport failures, fatal server errors and cancelled statements do not:
// a cancelled batch leaves the protocol in an unknown state.
func IsChannelBroken(err error) bool {
	if err == nil {
		return false
	}

	var unsent *UnsentError
	if errors.As(err, &unsent) {
		return false
	}

	var stmtErr *StatementError
	if errors.As(err, &stmtErr) {
		return stmtErr.Fatal()
	}

	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return true
	}

	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, ErrChannelClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
