// Package session is the operation surface callers use: open, execute,
// close. A Session runs either on a pool (every Execute may use a different
// Channel) or on one dedicated Channel (every Execute uses the same one).
//
// The mode is fixed at construction:
//
//	session.New(dsn)                                  // dedicated
//	session.New(dsn, session.WithPoolConfig(cfg))     // pooled
//	session.New(dsn, session.WithPool(shared))        // pooled, caller-owned pool
//	session.New(dsn, session.WithPoolConfig(cfg),
//		session.WithDedicated())                      // dedicated
//
// Statements that depend on server session state (BEGIN TRANSACTION,
// SET options, #temp tables) need dedicated mode.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ruslano69/mssqlpool/pkg/audit"
	"github.com/ruslano69/mssqlpool/pkg/dedicated"
	"github.com/ruslano69/mssqlpool/pkg/pool"
	"github.com/ruslano69/mssqlpool/pkg/result"
	"github.com/ruslano69/mssqlpool/pkg/resultlog"
	"github.com/ruslano69/mssqlpool/pkg/wire"
)

var (
	// ErrSessionClosed is returned by every operation after Close.
	ErrSessionClosed = dedicated.ErrSessionClosed

	// ErrNotConnected is returned by Execute before Open.
	ErrNotConnected = errors.New("session is not connected")

	// ErrNoResultSet is returned by Query for a batch that produced no rows form.
	ErrNoResultSet = errors.New("statement returned no result set")
)

// Mode selects how statements reach the server.
type Mode int

const (
	ModeDedicated Mode = iota
	ModePooled
)

func (m Mode) String() string {
	if m == ModePooled {
		return "pooled"
	}
	return "dedicated"
}

// DefaultPublishTimeout bounds one PublishOutcome call.
const DefaultPublishTimeout = 500 * time.Millisecond

// Publisher receives the outcome of every statement.
type Publisher interface {
	PublishOutcome(ctx context.Context, outcome resultlog.StatementOutcome) error
}

// Option configures a Session.
type Option func(*Session)

// WithPoolConfig selects pooled mode with a pool owned by the session.
func WithPoolConfig(cfg pool.Config) Option {
	return func(s *Session) {
		s.poolCfg = cfg
		s.hasPoolCfg = true
	}
}

// WithPool selects pooled mode on a pool the caller owns. Close leaves
// the pool open.
func WithPool(p *pool.Pool) Option {
	return func(s *Session) { s.shared = p }
}

// WithPoolOptions passes options to the pool the session creates.
func WithPoolOptions(opts ...pool.Option) Option {
	return func(s *Session) { s.poolOpts = append(s.poolOpts, opts...) }
}

// WithDedicated selects dedicated mode even when a pool is configured.
func WithDedicated() Option {
	return func(s *Session) { s.forceDedicated = true }
}

// WithDialer replaces the go-mssqldb dialer built from the DSN.
func WithDialer(d wire.Dialer) Option {
	return func(s *Session) { s.dialer = d }
}

// WithAudit records connect, execute and disconnect entries. The session
// does not close the logger.
func WithAudit(l audit.Logger) Option {
	return func(s *Session) { s.auditor = l }
}

// WithPublisher publishes statement outcomes. The session does not close it.
func WithPublisher(p Publisher) Option {
	return func(s *Session) { s.publisher = p }
}

// WithPublishTimeout bounds each PublishOutcome call. A slow publisher
// delays Execute by at most d.
func WithPublishTimeout(d time.Duration) Option {
	return func(s *Session) { s.publishTimeout = d }
}

// WithLogger sets the logger. The default is the global zerolog logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.log = l }
}

type state int

const (
	stateNew state = iota
	stateOpen
	stateClosed
)

// Session dispatches statements to a pool or a dedicated Channel.
type Session struct {
	id   string
	dsn  string
	mode Mode

	poolCfg        pool.Config
	hasPoolCfg     bool
	poolOpts       []pool.Option
	shared         *pool.Pool
	forceDedicated bool
	dialer         wire.Dialer
	auditor        audit.Logger
	publisher      Publisher
	publishTimeout time.Duration
	log            zerolog.Logger

	mu          sync.Mutex
	state       state
	pool        *pool.Pool
	ded         *dedicated.Session
	ownedDialer io.Closer
	poolName    string // set by Open
}

// New creates a Session. Nothing is dialed until Open (pooled mode with
// MinIdle > 0) or the first Execute.
func New(dsn string, opts ...Option) *Session {
	s := &Session{
		id:      uuid.NewString(),
		dsn:     dsn,
		auditor: audit.NewNullLogger(),
		log:     log.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	switch {
	case s.forceDedicated:
		s.mode = ModeDedicated
	case s.shared != nil || s.hasPoolCfg:
		s.mode = ModePooled
	default:
		s.mode = ModeDedicated
	}

	s.log = s.log.With().Str("session", s.id).Str("mode", s.mode.String()).Logger()
	return s
}

// ID returns the session identifier used in logs, audit and published outcomes.
func (s *Session) ID() string { return s.id }

// Mode returns the dispatch mode.
func (s *Session) Mode() Mode { return s.mode }

// Open prepares the backend. In pooled mode an owned pool is created and
// warmed up to MinIdle; in dedicated mode the Channel is still dialed
// lazily. Open on an open session is a no-op.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateClosed:
		return ErrSessionClosed
	case stateOpen:
		return nil
	}

	start := time.Now()
	err := s.openLocked(ctx)
	s.audit(ctx, s.entry(audit.OpConnect).WithDuration(time.Since(start)).WithError(err))
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}

	s.state = stateOpen
	s.log.Info().Msg("session opened")
	return nil
}

func (s *Session) openLocked(ctx context.Context) error {
	if s.mode == ModePooled && s.shared != nil {
		s.pool = s.shared
		s.poolName = s.shared.Name()
		return nil
	}

	dialer := s.dialer
	if dialer == nil {
		d, err := wire.NewDialer(s.dsn)
		if err != nil {
			return err
		}
		dialer = d
		s.ownedDialer = d
	}

	if s.mode == ModeDedicated {
		s.ded = dedicated.New(dialer, dedicated.WithLogger(s.log))
		return nil
	}

	opts := append([]pool.Option{pool.WithLogger(s.log)}, s.poolOpts...)
	p, err := pool.New(dialer, s.poolCfg, opts...)
	if err != nil {
		s.closeDialer()
		return err
	}
	if err := p.Warmup(ctx); err != nil {
		p.Close(context.WithoutCancel(ctx))
		s.closeDialer()
		return err
	}
	s.pool = p
	s.poolName = p.Name()
	return nil
}

func (s *Session) closeDialer() error {
	if s.ownedDialer == nil {
		return nil
	}
	err := s.ownedDialer.Close()
	s.ownedDialer = nil
	return err
}

// IsConnected reports whether the session is open with a usable backend.
// A lost dedicated Channel or a closed shared pool reports false.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateOpen {
		return false
	}
	if s.ded != nil {
		return !s.ded.Lost() && !s.ded.IsClosed()
	}
	return !s.pool.Stats().Closed
}

// PoolStats returns the pool snapshot; false in dedicated mode or before Open.
func (s *Session) PoolStats() (pool.Stats, bool) {
	s.mu.Lock()
	p := s.pool
	s.mu.Unlock()

	if p == nil {
		return pool.Stats{}, false
	}
	return p.Stats(), true
}

// Execute runs one batch and returns its materialized result. In pooled
// mode the lease is released before Execute returns.
func (s *Session) Execute(ctx context.Context, query string, args ...any) (*result.ExecutionResult, error) {
	return s.execute(ctx, audit.OpExecute, query, args)
}

// Query runs a batch that must produce a result set and returns its rows.
func (s *Session) Query(ctx context.Context, query string, args ...any) ([]result.Row, error) {
	res, err := s.execute(ctx, audit.OpQuery, query, args)
	if err != nil {
		return nil, err
	}
	if !res.HasRows() {
		return nil, ErrNoResultSet
	}
	return res.Rows(), nil
}

func (s *Session) execute(ctx context.Context, op audit.Operation, query string, args []any) (*result.ExecutionResult, error) {
	s.mu.Lock()
	st, p, ded := s.state, s.pool, s.ded
	s.mu.Unlock()

	switch st {
	case stateNew:
		return nil, ErrNotConnected
	case stateClosed:
		return nil, ErrSessionClosed
	}

	start := time.Now()
	var (
		res       *result.ExecutionResult
		channelID int
		err       error
	)
	if ded != nil {
		res, err = ded.Execute(ctx, query, args...)
		channelID, _ = ded.ChannelID()
	} else {
		err = p.With(ctx, func(l *pool.Lease) error {
			channelID = l.Channel().ID()
			var err error
			res, err = l.Execute(ctx, query, args...)
			return err
		})
		if errors.Is(err, pool.ErrPoolClosed) && s.closed() {
			err = ErrSessionClosed
		}
	}

	s.record(ctx, op, query, len(args), start, channelID, res, err)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Session) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateClosed
}

func (s *Session) entry(op audit.Operation) *audit.Entry {
	return audit.NewEntry(op, audit.StatusSuccess).
		WithSession(s.id, s.mode.String()).
		WithPool(s.poolName)
}

// record writes the audit entry and publishes the outcome. Their failures
// are logged and never change the statement result.
func (s *Session) record(ctx context.Context, op audit.Operation, query string, nargs int, start time.Time, channelID int, res *result.ExecutionResult, err error) {
	ctx = context.WithoutCancel(ctx)
	finished := time.Now()
	elapsed := finished.Sub(start)

	e := s.entry(op).
		WithChannel(channelID).
		WithStatement(query).
		WithDuration(elapsed).
		WithMetadata("args", nargs).
		WithError(err)
	outcome := resultlog.StatementOutcome{
		Session:     s.id,
		Mode:        s.mode.String(),
		Pool:        e.Pool,
		ChannelID:   channelID,
		Fingerprint: e.Fingerprint,
		Status:      "success",
		StartedAt:   start,
		FinishedAt:  finished,
		DurationMs:  elapsed.Milliseconds(),
	}

	if res != nil {
		e.WithRows(len(res.Rows()))
		outcome.Rows = len(res.Rows())
		if n, ok := res.AffectedRows(); ok {
			e.WithRecordsAffected(n)
			outcome.Affected = &n
		}
	}
	if err != nil {
		msg := err.Error()
		outcome.Status = "failed"
		outcome.Error = &msg
		outcome.ErrorNumber = e.ErrorNumber
		s.log.Debug().Err(err).Int("channel_id", channelID).Dur("elapsed", elapsed).Msg("statement failed")
	}

	s.audit(ctx, e)
	if s.publisher != nil {
		s.publish(ctx, outcome)
	}
}

func (s *Session) publish(ctx context.Context, outcome resultlog.StatementOutcome) {
	timeout := s.publishTimeout
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.publisher.PublishOutcome(ctx, outcome); err != nil {
		s.log.Warn().Err(err).Msg("publish statement outcome")
	}
}

func (s *Session) audit(ctx context.Context, e *audit.Entry) {
	if err := s.auditor.Log(context.WithoutCancel(ctx), e); err != nil {
		s.log.Warn().Err(err).Str("operation", string(e.Operation)).Msg("audit entry dropped")
	}
}

// Close releases the backend: the dedicated Channel, or the owned pool
// (waiting for leases until ctx ends). A shared pool stays open. Close is
// terminal and safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.state == stateClosed {
		s.mu.Unlock()
		return nil
	}
	wasOpen := s.state == stateOpen
	s.state = stateClosed
	p, ded := s.pool, s.ded
	s.mu.Unlock()

	start := time.Now()
	var errs []error
	if ded != nil {
		errs = append(errs, ded.Close(ctx))
	}
	if p != nil && p != s.shared {
		errs = append(errs, p.Close(ctx))
	}
	s.mu.Lock()
	errs = append(errs, s.closeDialer())
	s.mu.Unlock()
	err := errors.Join(errs...)

	if wasOpen {
		s.audit(ctx, s.entry(audit.OpDisconnect).WithDuration(time.Since(start)).WithError(err))
		s.log.Info().Msg("session closed")
	}
	return err
}

// Run opens s, calls fn and closes s on every exit path, panics included.
// The close error is returned when fn succeeds.
func Run(ctx context.Context, s *Session, fn func(*Session) error) (err error) {
	if err := s.Open(ctx); err != nil {
		s.Close(context.WithoutCancel(ctx))
		return err
	}

	defer func() {
		cerr := s.Close(context.WithoutCancel(ctx))
		if err == nil {
			err = cerr
		}
	}()

	return fn(s)
}
