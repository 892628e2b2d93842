package wire

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	mssql "github.com/denisenkom/go-mssqldb"
)

// fakeSet is one scripted result set of the fake driver.
type fakeSet struct {
	names []string
	types []string
	rows  [][]driver.Value
	err   error // returned by Next after the rows, like a server error mid-batch

	// panics mimics go-mssqldb on a typeUdt column
	panics bool
}

type fakeReply struct {
	sets     []fakeSet
	affected int64
	err      error
}

// fakeConnector hands out fakeConns to sql.OpenDB.
type fakeConnector struct {
	handler func(query string) fakeReply
	dialErr error

	mu    sync.Mutex
	conns []*fakeConn
}

func (c *fakeConnector) Connect(context.Context) (driver.Conn, error) {
	if c.dialErr != nil {
		return nil, c.dialErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	conn := &fakeConn{handler: c.handler, spid: int64(52 + len(c.conns))}
	c.conns = append(c.conns, conn)
	return conn, nil
}

func (c *fakeConnector) Driver() driver.Driver { return fakeDriver{} }

type fakeDriver struct{}

func (fakeDriver) Open(string) (driver.Conn, error) {
	return nil, errors.New("fake driver is opened through its connector")
}

type fakeConn struct {
	handler func(query string) fakeReply
	spid    int64

	mu      sync.Mutex
	queries []string
	execs   []string
	closed  bool
	rows    []*fakeRows
}

func (c *fakeConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("prepare not supported")
}

func (c *fakeConn) Begin() (driver.Tx, error) {
	return nil, errors.New("transactions not supported")
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Ping(context.Context) error { return nil }

func (c *fakeConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	c.queries = append(c.queries, query)
	c.mu.Unlock()

	if query == sessionIDQuery {
		return &fakeRows{sets: []fakeSet{{names: []string{""}, types: []string{"INT"}, rows: [][]driver.Value{{c.spid}}}}}, nil
	}
	reply := c.handler(query)
	if reply.err != nil {
		return nil, reply.err
	}
	rows := &fakeRows{sets: reply.sets}
	c.mu.Lock()
	c.rows = append(c.rows, rows)
	c.mu.Unlock()
	return rows, nil
}

func (c *fakeConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	c.execs = append(c.execs, query)
	c.mu.Unlock()

	reply := c.handler(query)
	if reply.err != nil {
		return nil, reply.err
	}
	return driver.RowsAffected(reply.affected), nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeRows struct {
	sets   []fakeSet
	set    int
	row    int
	closed bool
}

func (r *fakeRows) Columns() []string { return r.sets[r.set].names }

func (r *fakeRows) Close() error {
	r.closed = true
	return nil
}

func (r *fakeRows) Next(dest []driver.Value) error {
	s := r.sets[r.set]
	if r.row >= len(s.rows) {
		if s.err != nil {
			return s.err
		}
		return io.EOF
	}
	copy(dest, s.rows[r.row])
	r.row++
	return nil
}

func (r *fakeRows) HasNextResultSet() bool { return r.set+1 < len(r.sets) }

func (r *fakeRows) NextResultSet() error {
	if !r.HasNextResultSet() {
		return io.EOF
	}
	r.set++
	r.row = 0
	return nil
}

func (r *fakeRows) ColumnTypeDatabaseTypeName(i int) string {
	s := r.sets[r.set]
	if s.panics {
		panic("not implemented makeGoLangTypeName for type 240")
	}
	return s.types[i]
}

func (r *fakeRows) ColumnTypeNullable(int) (bool, bool) { return true, true }

func (r *fakeRows) ColumnTypePrecisionScale(i int) (int64, int64, bool) {
	if r.sets[r.set].types[i] == "DECIMAL" {
		return 18, 2, true
	}
	return 0, 0, false
}

func (r *fakeRows) ColumnTypeLength(i int) (int64, bool) {
	if r.sets[r.set].types[i] == "NVARCHAR" {
		return 50, true
	}
	return 0, false
}

// dialFake opens a Channel over the fake driver.
func dialFake(t *testing.T, handler func(query string) fakeReply) (Channel, *fakeConnector) {
	t.Helper()

	connector := &fakeConnector{handler: handler}
	d := newDialer(sql.OpenDB(connector))
	t.Cleanup(func() { d.Close() })

	ch, err := d.Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { ch.Close() })
	return ch, connector
}

// drain reads every result set and returns the column names seen per set
// and the number of rows.
func drain(t *testing.T, s ResultStream) ([][]string, int) {
	t.Helper()

	var names [][]string
	rows := 0
	for {
		cols, err := s.Columns()
		if err != nil {
			t.Fatalf("Columns() error = %v", err)
		}
		var set []string
		for _, c := range cols {
			set = append(set, c.Name)
		}
		names = append(names, set)
		for s.Next() {
			rows++
		}
		if !s.NextResultSet() {
			break
		}
	}
	if err := s.Err(); err != nil {
		t.Fatalf("Err() = %v", err)
	}
	return names, rows
}

func TestNewDialer_ConnectionStrings(t *testing.T) {
	tests := []struct {
		name    string
		dsn     string
		wantErr bool
	}{
		{"url", "sqlserver://app:x@db01:1433?database=orders", false},
		{"ado", "server=db01;user id=app;password=x;database=orders", false},
		{"azure ad msi", "sqlserver://srv.database.windows.net?fedauth=ActiveDirectoryMSI", false},
		{"azure ad password without client id", "sqlserver://u:x@srv.database.windows.net?fedauth=ActiveDirectoryPassword", true},
		{"unknown fedauth", "sqlserver://srv.database.windows.net?fedauth=Kerberos", true},
		{"bad encrypt", "sqlserver://db01?encrypt=maybe", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewDialer(tt.dsn)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewDialer() error = %v, wantErr %v", err, tt.wantErr)
			}
			if d != nil {
				d.Close()
			}
		})
	}
}

func TestMSSQLChannel_Dial(t *testing.T) {
	ch, connector := dialFake(t, nil)

	if ch.ID() != 52 {
		t.Errorf("ID() = %d, want 52", ch.ID())
	}
	if ch.CreatedAt().IsZero() {
		t.Error("CreatedAt() is zero")
	}
	if got := connector.conns[0].queries; len(got) != 1 || got[0] != sessionIDQuery {
		t.Errorf("queries after dial = %v", got)
	}
	if err := ch.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

func TestMSSQLChannel_DialError(t *testing.T) {
	cause := errors.New("login failed for user 'sa'")
	d := newDialer(sql.OpenDB(&fakeConnector{dialErr: cause}))
	defer d.Close()

	_, err := d.Dial(context.Background())
	if !errors.Is(err, ErrConnectionFailed) || !errors.Is(err, cause) {
		t.Fatalf("Dial() error = %v, want ConnectionError wrapping the cause", err)
	}
	if !IsChannelBroken(err) {
		t.Error("dial failure must count as broken")
	}
}

func TestMSSQLChannel_QueryAndExecDispatch(t *testing.T) {
	ch, connector := dialFake(t, func(query string) fakeReply {
		if strings.HasPrefix(query, "UPDATE") {
			return fakeReply{affected: 3}
		}
		return fakeReply{sets: []fakeSet{{
			names: []string{"id", "price", "name"},
			types: []string{"INT", "DECIMAL", "NVARCHAR"},
			rows:  [][]driver.Value{{int64(1), []byte("9.99"), "tea"}},
		}}}
	})
	conn := connector.conns[0]

	s, err := ch.Submit(context.Background(), "UPDATE t SET a = 1")
	if err != nil {
		t.Fatalf("Submit(UPDATE) error = %v", err)
	}
	if n, ok := s.RowsAffected(); !ok || n != 3 {
		t.Errorf("RowsAffected() = %d, %v; want 3, true", n, ok)
	}
	if cols, _ := s.Columns(); len(cols) != 0 {
		t.Errorf("exec stream Columns() = %v", cols)
	}
	s.Close()

	s, err = ch.Submit(context.Background(), "SELECT id, price, name FROM items")
	if err != nil {
		t.Fatalf("Submit(SELECT) error = %v", err)
	}
	cols, err := s.Columns()
	if err != nil {
		t.Fatalf("Columns() error = %v", err)
	}
	if len(cols) != 3 || cols[1].TypeName != "DECIMAL" || cols[1].Index != 1 {
		t.Fatalf("Columns() = %+v", cols)
	}
	if !cols[1].HasScale || cols[1].Precision != 18 || cols[1].Scale != 2 {
		t.Errorf("DECIMAL column = %+v, want precision 18 scale 2", cols[1])
	}
	if !cols[2].HasLength || cols[2].Length != 50 || !cols[2].Nullable {
		t.Errorf("NVARCHAR column = %+v", cols[2])
	}
	if !s.Next() {
		t.Fatalf("Next() = false, Err() = %v", s.Err())
	}
	if v := s.Values(); v[0] != int64(1) || v[2] != "tea" {
		t.Errorf("Values() = %v", v)
	}
	if s.Next() {
		t.Error("Next() = true past the last row")
	}
	if _, ok := s.RowsAffected(); ok {
		t.Error("RowsAffected() ok = true for a query")
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}

	if len(conn.execs) != 1 || len(conn.queries) != 2 {
		t.Errorf("execs = %v, queries = %v", conn.execs, conn.queries)
	}
}

func TestMSSQLChannel_MultipleResultSets(t *testing.T) {
	ch, _ := dialFake(t, func(string) fakeReply {
		return fakeReply{sets: []fakeSet{
			{names: []string{"a"}, types: []string{"INT"}, rows: [][]driver.Value{{int64(1)}, {int64(2)}}},
			{names: []string{"b", "c"}, types: []string{"NVARCHAR", "BIT"}, rows: [][]driver.Value{{"x", true}}},
			{names: []string{"d"}, types: []string{"INT"}},
		}}
	})

	s, err := ch.Submit(context.Background(), "SELECT a FROM t; SELECT b, c FROM u; SELECT d FROM v")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	defer s.Close()

	names, rows := drain(t, s)
	want := [][]string{{"a"}, {"b", "c"}, {"d"}}
	if len(names) != len(want) {
		t.Fatalf("result sets = %v, want %v", names, want)
	}
	for i := range want {
		if strings.Join(names[i], ",") != strings.Join(want[i], ",") {
			t.Errorf("set %d columns = %v, want %v", i, names[i], want[i])
		}
	}
	if rows != 3 {
		t.Errorf("rows = %d, want 3", rows)
	}
}

func TestMSSQLChannel_ServerErrorMidStream(t *testing.T) {
	srvErr := mssql.Error{Number: 8134, Class: 16, State: 1, Message: "Divide by zero error encountered.", LineNo: 1}
	ch, _ := dialFake(t, func(query string) fakeReply {
		if strings.Contains(query, "missing") {
			return fakeReply{err: mssql.Error{Number: 208, Class: 16, Message: "Invalid object name 'missing'."}}
		}
		return fakeReply{sets: []fakeSet{{
			names: []string{"q"}, types: []string{"INT"},
			rows: [][]driver.Value{{int64(1)}},
			err:  srvErr,
		}}}
	})

	s, err := ch.Submit(context.Background(), "SELECT 1 / x AS q FROM t")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	for s.Next() {
	}
	var stmtErr *StatementError
	if !errors.As(s.Err(), &stmtErr) || stmtErr.Number != 8134 || stmtErr.Severity != 16 {
		t.Fatalf("Err() = %v, want StatementError 8134", s.Err())
	}
	if IsChannelBroken(s.Err()) {
		t.Error("severity 16 must not break the channel")
	}
	s.Close()

	_, err = ch.Submit(context.Background(), "SELECT * FROM missing")
	if !errors.As(err, &stmtErr) || stmtErr.Number != 208 {
		t.Fatalf("Submit() error = %v, want StatementError 208", err)
	}

	if _, err := ch.Submit(context.Background(), "SELECT 1 / x AS q FROM t"); err != nil {
		t.Errorf("Submit() after statement errors = %v", err)
	}
}

func TestMSSQLChannel_UndescribableColumn(t *testing.T) {
	ch, connector := dialFake(t, func(query string) fakeReply {
		if strings.Contains(query, "parcels") {
			return fakeReply{sets: []fakeSet{{
				names:  []string{"id", "shape"},
				types:  []string{"INT", ""},
				rows:   [][]driver.Value{{int64(1), []byte{0xE6, 0x10}}},
				panics: true,
			}}}
		}
		return fakeReply{sets: []fakeSet{{names: []string{"n"}, types: []string{"INT"}, rows: [][]driver.Value{{int64(7)}}}}}
	})

	s, err := ch.Submit(context.Background(), "SELECT id, shape FROM parcels")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	_, err = s.Columns()
	var typeErr *ColumnTypeError
	if !errors.As(err, &typeErr) {
		t.Fatalf("Columns() error = %v, want *ColumnTypeError", err)
	}
	if !errors.Is(err, ErrUnknownColumnType) {
		t.Errorf("error %v does not wrap ErrUnknownColumnType", err)
	}
	if strings.Join(typeErr.Columns, ",") != "id,shape" || !strings.Contains(typeErr.Detail, "240") {
		t.Errorf("ColumnTypeError = %+v", typeErr)
	}
	if IsChannelBroken(err) {
		t.Error("column type error must not break the channel")
	}
	if s.Next() || s.NextResultSet() {
		t.Error("stream continued after column type error")
	}
	if !errors.Is(s.Err(), ErrUnknownColumnType) {
		t.Errorf("Err() = %v", s.Err())
	}
	s.Close()

	if !connector.conns[0].rows[0].closed {
		t.Error("driver rows left open after column type error")
	}

	s, err = ch.Submit(context.Background(), "SELECT 7 AS n")
	if err != nil {
		t.Fatalf("Submit() after column type error = %v", err)
	}
	defer s.Close()
	if _, rows := drain(t, s); rows != 1 {
		t.Errorf("rows = %d, want 1", rows)
	}
}

func TestMSSQLChannel_ImplicitProcedureCallUsesQuery(t *testing.T) {
	ch, connector := dialFake(t, func(string) fakeReply {
		return fakeReply{sets: []fakeSet{{names: []string{"spid"}, types: []string{"SMALLINT"}, rows: [][]driver.Value{{int64(52)}}}}}
	})

	for _, q := range []string{"sp_who", "(SELECT 1 AS a) UNION ALL (SELECT 2)"} {
		s, err := ch.Submit(context.Background(), q)
		if err != nil {
			t.Fatalf("Submit(%q) error = %v", q, err)
		}
		if _, rows := drain(t, s); rows != 1 {
			t.Errorf("Submit(%q) rows = %d, want 1", q, rows)
		}
		s.Close()
	}
	if execs := connector.conns[0].execs; len(execs) != 0 {
		t.Errorf("row-returning batches went through Exec: %v", execs)
	}
}

func TestMSSQLChannel_Close(t *testing.T) {
	ch, connector := dialFake(t, nil)

	if err := ch.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if !connector.conns[0].isClosed() {
		t.Error("driver connection still open after Close")
	}

	if _, err := ch.Submit(context.Background(), "SELECT 1"); !errors.Is(err, ErrChannelClosed) {
		t.Errorf("Submit() after Close error = %v, want ErrChannelClosed", err)
	}
	if err := ch.Ping(context.Background()); !errors.Is(err, ErrChannelClosed) {
		t.Errorf("Ping() after Close error = %v, want ErrChannelClosed", err)
	}
}
