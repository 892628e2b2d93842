// Package wiretest provides an in-memory wire.Dialer for unit tests.
//
// Every Channel gets an increasing ID starting at 51, the way SQL Server
// hands out user session ids. Replies are scripted through a Handler;
// the default handler answers "SELECT @@SPID" with the Channel ID and every
// other batch with an affected count of zero.
package wiretest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ruslano69/mssqlpool/pkg/wire"
)

// FirstID is the ID of the first dialed Channel.
const FirstID = 51

// ResultSet is one scripted result set.
type ResultSet struct {
	Columns []wire.Column
	Rows    [][]any
}

// Reply is the scripted answer to one Submit.
type Reply struct {
	Sets     []ResultSet
	Affected int64

	// Err is returned by Submit itself.
	Err error
	// StreamErr is reported by the stream once the rows of the first
	// result set are consumed, like a server error raised mid-batch.
	StreamErr error
	// ColumnsErr is returned by Columns of the first result set, like a
	// result set the driver cannot describe.
	ColumnsErr error
	// Delay holds Submit until it elapses or ctx is done.
	Delay time.Duration
}

// Handler produces the reply for a batch submitted on ch.
type Handler func(ch *Channel, query string, args []any) Reply

// Col builds a column descriptor.
func Col(name, typeName string) wire.Column {
	return wire.Column{Name: name, TypeName: typeName, Nullable: true}
}

// Rows builds a single result set reply.
func Rows(cols []wire.Column, rows ...[]any) Reply {
	for i := range cols {
		cols[i].Index = i
	}
	return Reply{Sets: []ResultSet{{Columns: cols, Rows: rows}}}
}

// Affected builds an affected-count reply.
func Affected(n int64) Reply {
	return Reply{Affected: n}
}

// DefaultHandler answers SELECT @@SPID and nothing else.
func DefaultHandler(ch *Channel, query string, _ []any) Reply {
	if strings.EqualFold(strings.TrimSpace(query), "SELECT @@SPID") {
		return Rows([]wire.Column{Col("", "SMALLINT")}, []any{int64(ch.ID())})
	}
	return Affected(0)
}

// Dialer is a scriptable wire.Dialer.
type Dialer struct {
	handler Handler

	mu        sync.Mutex
	nextID    int
	dialErr   error
	dialDelay time.Duration
	dials     int
	channels  []*Channel
}

// NewDialer creates a Dialer. A nil handler means DefaultHandler.
func NewDialer(h Handler) *Dialer {
	if h == nil {
		h = DefaultHandler
	}
	return &Dialer{handler: h, nextID: FirstID}
}

// Dial opens a new in-memory Channel.
func (d *Dialer) Dial(ctx context.Context) (wire.Channel, error) {
	d.mu.Lock()
	d.dials++
	err := d.dialErr
	delay := d.dialDelay
	d.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, &wire.ConnectionError{Err: ctx.Err()}
		}
	}
	if err != nil {
		return nil, &wire.ConnectionError{Err: err}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	ch := &Channel{
		id:        d.nextID,
		createdAt: time.Now(),
		handler:   d.handler,
	}
	d.nextID++
	d.channels = append(d.channels, ch)
	return ch, nil
}

// SetDialErr makes subsequent dials fail with err; nil restores them.
func (d *Dialer) SetDialErr(err error) {
	d.mu.Lock()
	d.dialErr = err
	d.mu.Unlock()
}

// SetDialDelay slows every subsequent dial down.
func (d *Dialer) SetDialDelay(delay time.Duration) {
	d.mu.Lock()
	d.dialDelay = delay
	d.mu.Unlock()
}

// Dials counts Dial calls, failed ones included.
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// Channels returns every Channel dialed so far.
func (d *Dialer) Channels() []*Channel {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Channel, len(d.channels))
	copy(out, d.channels)
	return out
}

// OpenChannels counts Channels not closed yet.
func (d *Dialer) OpenChannels() int {
	n := 0
	for _, ch := range d.Channels() {
		if !ch.Closed() {
			n++
		}
	}
	return n
}

// Channel is an in-memory wire.Channel.
type Channel struct {
	id      int
	handler Handler

	mu        sync.Mutex
	createdAt time.Time
	closed    bool
	pingErr   error
	pings     int
	submits   []string
	active    int
	overlaps  int
}

func (c *Channel) ID() int { return c.id }

func (c *Channel) CreatedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.createdAt
}

// SetCreatedAt ages the Channel for lifetime tests.
func (c *Channel) SetCreatedAt(t time.Time) {
	c.mu.Lock()
	c.createdAt = t
	c.mu.Unlock()
}

func (c *Channel) Submit(ctx context.Context, query string, args ...any) (wire.ResultStream, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, wire.ErrChannelClosed
	}
	c.submits = append(c.submits, query)
	c.active++
	if c.active > 1 {
		c.overlaps++
	}
	c.mu.Unlock()

	reply := c.handler(c, query, args)

	if reply.Delay > 0 {
		select {
		case <-time.After(reply.Delay):
		case <-ctx.Done():
			c.done()
			return nil, ctx.Err()
		}
	}
	if reply.Err != nil {
		c.done()
		return nil, reply.Err
	}
	return &stream{ch: c, reply: reply}, nil
}

func (c *Channel) done() {
	c.mu.Lock()
	c.active--
	c.mu.Unlock()
}

func (c *Channel) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pings++
	if c.closed {
		return wire.ErrChannelClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.pingErr
}

func (c *Channel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// SetPingErr makes subsequent pings fail with err.
func (c *Channel) SetPingErr(err error) {
	c.mu.Lock()
	c.pingErr = err
	c.mu.Unlock()
}

// Closed reports whether Close was called.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Pings counts Ping calls.
func (c *Channel) Pings() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pings
}

// Submits returns the batches submitted so far.
func (c *Channel) Submits() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.submits))
	copy(out, c.submits)
	return out
}

// Overlaps counts Submits issued while a previous stream was still open.
func (c *Channel) Overlaps() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.overlaps
}

type stream struct {
	ch     *Channel
	reply  Reply
	set    int
	row    int
	cur    []any
	err    error
	closed bool
}

func (s *stream) Columns() ([]wire.Column, error) {
	if s.set == 0 && s.reply.ColumnsErr != nil {
		s.err = s.reply.ColumnsErr
		return nil, s.err
	}
	if s.set >= len(s.reply.Sets) {
		return nil, nil
	}
	return s.reply.Sets[s.set].Columns, nil
}

func (s *stream) Next() bool {
	if s.err != nil || s.set >= len(s.reply.Sets) {
		return false
	}
	rows := s.reply.Sets[s.set].Rows
	if s.row >= len(rows) {
		if s.set == 0 && s.reply.StreamErr != nil {
			s.err = s.reply.StreamErr
		}
		return false
	}
	s.cur = rows[s.row]
	s.row++
	return true
}

func (s *stream) Values() []any { return s.cur }

func (s *stream) NextResultSet() bool {
	if s.err != nil {
		return false
	}
	if s.set == 0 && s.reply.StreamErr != nil {
		s.err = s.reply.StreamErr
		return false
	}
	if s.set+1 >= len(s.reply.Sets) {
		s.set = len(s.reply.Sets)
		return false
	}
	s.set++
	s.row = 0
	return true
}

func (s *stream) RowsAffected() (int64, bool) {
	if len(s.reply.Sets) > 0 {
		return 0, false
	}
	return s.reply.Affected, true
}

func (s *stream) Err() error { return s.err }

func (s *stream) Close() error {
	if !s.closed {
		s.closed = true
		s.ch.done()
	}
	return nil
}
