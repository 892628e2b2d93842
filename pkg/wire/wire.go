package wire

import (
	"context"
	"fmt"
	"time"
)

// Column describes one result column as declared by the server.
type Column struct {
	Name  string
	Index int

	// TypeName is the SQL Server type name reported by the driver
	// (INT, NVARCHAR, DECIMAL, DATETIMEOFFSET, UNIQUEIDENTIFIER, ...).
	TypeName string

	Precision int64
	Scale     int64
	HasScale  bool // Precision/Scale were declared (DECIMAL, NUMERIC)

	Length    int64
	HasLength bool // variable-length types

	Nullable bool
}

// String returns "name (TYPE)" for diagnostics.
func (c Column) String() string {
	return fmt.Sprintf("%s (%s)", c.Name, c.TypeName)
}

// ResultStream is the reply to one submitted batch.
//
// The stream walks result sets in server order. Callers must drain it
// (Next until false, NextResultSet until false) and Close it before the
// Channel can carry another batch.
type ResultStream interface {
	// Columns returns the metadata of the current result set.
	// An empty slice means the current statement produced no result set.
	Columns() ([]Column, error)

	// Next advances to the next row of the current result set.
	Next() bool

	// Values returns the raw driver cells of the current row.
	// The slice is reused by the next call to Next.
	Values() []any

	// NextResultSet advances to the next result set of the batch.
	NextResultSet() bool

	// RowsAffected returns the affected-row count reported for a
	// statement that produced no result set.
	RowsAffected() (int64, bool)

	// Err returns the first error met while reading the stream.
	Err() error

	// Close releases the stream. Closing an undrained stream discards
	// the remaining rows.
	Close() error
}

// Channel is one live, authenticated connection to the server.
type Channel interface {
	// ID is the server-assigned session id (@@SPID).
	// Used for diagnostics and tests only.
	ID() int

	// CreatedAt is the moment the Channel finished its handshake.
	CreatedAt() time.Time

	// Submit sends one SQL batch. Positional args bind to @p1, @p2, ...
	Submit(ctx context.Context, query string, args ...any) (ResultStream, error)

	// Ping performs a round trip to verify the Channel is alive.
	Ping(ctx context.Context) error

	// Close tears down the physical connection. It is safe to call twice.
	Close() error
}

// Dialer opens new Channels.
type Dialer interface {
	Dial(ctx context.Context) (Channel, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context) (Channel, error)

// Dial calls f(ctx).
func (f DialerFunc) Dial(ctx context.Context) (Channel, error) {
	return f(ctx)
}
