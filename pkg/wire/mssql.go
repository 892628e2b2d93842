package wire

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	mssql "github.com/denisenkom/go-mssqldb"
	"github.com/denisenkom/go-mssqldb/azuread"
	"github.com/denisenkom/go-mssqldb/msdsn"
)

// sessionIDQuery is issued once per Channel right after the handshake.
const sessionIDQuery = "SELECT @@SPID"

// MSSQLDialer opens Channels to SQL Server through go-mssqldb.
type MSSQLDialer struct {
	db *sql.DB
}

// NewDialer parses dsn with the driver and prepares a Dialer.
// No network I/O happens until the first Dial.
//
// Accepted DSN formats are the driver's: URL (sqlserver://...),
// ADO (server=...;user id=...) and ODBC (odbc:server=...).
// A fedauth parameter switches to Azure AD authentication.
func NewDialer(dsn string) (*MSSQLDialer, error) {
	connector, err := newConnector(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid connection string: %w", err)
	}
	return newDialer(sql.OpenDB(connector)), nil
}

func newConnector(dsn string) (*mssql.Connector, error) {
	_, params, err := msdsn.Parse(dsn)
	if err != nil {
		return nil, err
	}
	if params["fedauth"] != "" {
		return azuread.NewConnector(dsn)
	}
	return mssql.NewConnector(dsn)
}

func newDialer(db *sql.DB) *MSSQLDialer {
	// database/sql must not keep or recycle physical connections:
	// returning a *sql.Conn closes it, the Channel owner decides lifetime.
	db.SetMaxIdleConns(0)
	db.SetMaxOpenConns(0)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	return &MSSQLDialer{db: db}
}

// Dial opens one physical connection and reads its session id.
func (d *MSSQLDialer) Dial(ctx context.Context) (Channel, error) {
	conn, err := d.db.Conn(ctx)
	if err != nil {
		return nil, &ConnectionError{Err: err}
	}

	var spid int
	if err := conn.QueryRowContext(ctx, sessionIDQuery).Scan(&spid); err != nil {
		conn.Close()
		return nil, &ConnectionError{Err: fmt.Errorf("read session id: %w", err)}
	}

	return &mssqlChannel{
		conn:      conn,
		id:        spid,
		createdAt: time.Now(),
	}, nil
}

// Close releases the driver connector. Channels already dialed stay open
// until their owners close them.
func (d *MSSQLDialer) Close() error {
	return d.db.Close()
}

// mssqlChannel pins one *sql.Conn.
type mssqlChannel struct {
	conn      *sql.Conn
	id        int
	createdAt time.Time

	closeOnce sync.Once
	closeErr  error
	closed    bool
	mu        sync.Mutex
}

func (c *mssqlChannel) ID() int              { return c.id }
func (c *mssqlChannel) CreatedAt() time.Time { return c.createdAt }

func (c *mssqlChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *mssqlChannel) Submit(ctx context.Context, query string, args ...any) (ResultStream, error) {
	if c.isClosed() {
		return nil, ErrChannelClosed
	}

	if ReturnsRows(query) {
		rows, err := c.conn.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, translate(err)
		}
		return &rowsStream{rows: rows}, nil
	}

	res, err := c.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, translate(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, translate(err)
	}
	return &execStream{affected: affected}, nil
}

func (c *mssqlChannel) Ping(ctx context.Context) error {
	if c.isClosed() {
		return ErrChannelClosed
	}
	return translate(c.conn.PingContext(ctx))
}

func (c *mssqlChannel) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// translate turns driver server errors into *StatementError and leaves
// transport errors untouched for IsChannelBroken.
func translate(err error) error {
	if err == nil {
		return nil
	}

	var srvErr mssql.Error
	if errors.As(err, &srvErr) {
		return &StatementError{
			Number:    srvErr.Number,
			State:     srvErr.State,
			Severity:  srvErr.Class,
			Message:   srvErr.Message,
			Server:    srvErr.ServerName,
			Procedure: srvErr.ProcName,
			Line:      srvErr.LineNo,
			Err:       err,
		}
	}
	return err
}

// rowsStream reads a Query reply.
type rowsStream struct {
	rows   *sql.Rows
	cols   []Column
	loaded bool
	vals   []any
	ptrs   []any
	err    error
}

func (s *rowsStream) Columns() ([]Column, error) {
	if s.loaded {
		return s.cols, nil
	}
	if s.err != nil {
		return nil, s.err
	}

	types, err := s.columnTypes()
	if err != nil {
		s.err = err
		return nil, err
	}

	cols := make([]Column, len(types))
	for i, ct := range types {
		col := Column{
			Name:     ct.Name(),
			Index:    i,
			TypeName: ct.DatabaseTypeName(),
		}
		if p, sc, ok := ct.DecimalSize(); ok {
			col.Precision, col.Scale, col.HasScale = p, sc, true
		}
		if l, ok := ct.Length(); ok {
			col.Length, col.HasLength = l, true
		}
		if n, ok := ct.Nullable(); ok {
			col.Nullable = n
		}
		cols[i] = col
	}

	s.cols = cols
	s.loaded = true
	s.vals = make([]any, len(cols))
	s.ptrs = make([]any, len(cols))
	for i := range s.vals {
		s.ptrs[i] = &s.vals[i]
	}
	return cols, nil
}

// columnTypes wraps rows.ColumnTypes. go-mssqldb panics on column types
// it has no name for (typeUdt); the panic becomes a *ColumnTypeError and
// the rows are closed so the connection is left clean for the next batch.
func (s *rowsStream) columnTypes() (types []*sql.ColumnType, err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		names, _ := s.rows.Columns()
		s.rows.Close()
		types, err = nil, &ColumnTypeError{Columns: names, Detail: fmt.Sprint(r)}
	}()

	types, err = s.rows.ColumnTypes()
	if err != nil {
		return nil, translate(err)
	}
	return types, nil
}

func (s *rowsStream) Next() bool {
	if s.err != nil {
		return false
	}
	if !s.loaded {
		if _, err := s.Columns(); err != nil {
			s.err = err
			return false
		}
	}
	if !s.rows.Next() {
		return false
	}
	for i := range s.vals {
		s.vals[i] = nil
	}
	if err := s.rows.Scan(s.ptrs...); err != nil {
		s.err = translate(err)
		return false
	}
	return true
}

func (s *rowsStream) Values() []any { return s.vals }

func (s *rowsStream) NextResultSet() bool {
	if s.err != nil {
		return false
	}
	s.loaded = false
	s.cols = nil
	return s.rows.NextResultSet()
}

func (s *rowsStream) RowsAffected() (int64, bool) { return 0, false }

func (s *rowsStream) Err() error {
	if s.err != nil {
		return s.err
	}
	return translate(s.rows.Err())
}

func (s *rowsStream) Close() error {
	return translate(s.rows.Close())
}

// execStream is the reply to an Exec: no result set, only a count.
type execStream struct {
	affected int64
}

func (s *execStream) Columns() ([]Column, error)  { return nil, nil }
func (s *execStream) Next() bool                  { return false }
func (s *execStream) Values() []any               { return nil }
func (s *execStream) NextResultSet() bool         { return false }
func (s *execStream) RowsAffected() (int64, bool) { return s.affected, true }
func (s *execStream) Err() error                  { return nil }
func (s *execStream) Close() error                { return nil }
