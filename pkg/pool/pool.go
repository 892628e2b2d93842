// Package pool is a bounded pool of wire Channels.
//
// The pool guarantees:
//   - idle + leased + dialing Channels never exceed Config.MaxSize;
//   - a Channel is leased to one caller at a time;
//   - a Channel released as broken is closed and never leased again;
//   - with TestOnCheckout, every leased Channel answered a ping after the
//     lease started (a freshly dialed Channel counts as checked).
//
// Idle Channels are kept on a LIFO stack, so the most recently used and
// validated Channel is handed out first. Callers that find the pool full
// queue in FIFO order; a released Channel, or the slot of a discarded one,
// is handed directly to the first waiter.
//
// All bookkeeping happens under one mutex. Dials, pings and Close calls
// happen outside it: a slot is reserved first, then the Channel is dialed.
package pool

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ruslano69/mssqlpool/pkg/resilience"
	"github.com/ruslano69/mssqlpool/pkg/retry"
	"github.com/ruslano69/mssqlpool/pkg/wire"
)

var (
	// ErrPoolTimeout is returned when no Channel became available within
	// Config.ConnectionTimeout.
	ErrPoolTimeout = errors.New("pool: timed out waiting for a connection")

	// ErrPoolExhausted is returned when the pool is at MaxSize with no idle
	// Channel and the caller cannot queue: TryAcquire, or a full wait queue.
	ErrPoolExhausted = errors.New("pool: exhausted")

	// ErrPoolClosed is returned by a pool after Close.
	ErrPoolClosed = errors.New("pool: closed")
)

// conn is a pooled Channel.
type conn struct {
	ch       wire.Channel
	lastUsed time.Time
}

// handoff is what a waiter receives: a Channel, a reserved slot (c == nil)
// or an error.
type handoff struct {
	c   *conn
	err error
}

type waiter struct {
	ready chan handoff // buffered, receives exactly one handoff
	elem  *list.Element
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the logger. The default is the global zerolog logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Pool) { p.log = l }
}

// WithBreaker guards every dial with cb.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(p *Pool) { p.breaker = cb }
}

// WithRetry sets the re-dial schedule of Warmup and maintenance.
func WithRetry(cfg retry.Config) Option {
	return func(p *Pool) { p.retryCfg = cfg }
}

// Pool is a bounded set of Channels. Create it with New and release it
// with Close; it is safe for concurrent use.
type Pool struct {
	cfg      Config
	dialer   wire.Dialer
	breaker  *resilience.CircuitBreaker
	retryCfg retry.Config
	retryer  *retry.Retryer
	backoff  *retry.Backoff
	log      zerolog.Logger
	m        *metrics
	now      func() time.Time

	ctx    context.Context // cancelled by Close
	cancel context.CancelFunc
	done   chan struct{} // closed when maintenance stops

	mu      sync.Mutex
	idle    []*conn
	open    int // idle + leased + reserved
	leased  int
	waiters list.List
	closed  bool
	drained chan struct{}
	isDrain bool
	totals  totals
}

// New creates a pool. No Channel is dialed until the first Acquire,
// Warmup or maintenance tick.
func New(dialer wire.Dialer, cfg Config, opts ...Option) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pool config: %w", err)
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}

	p := &Pool{
		cfg:      cfg,
		dialer:   dialer,
		retryCfg: retry.DefaultConfig(),
		log:      log.Logger,
		now:      time.Now,
		done:     make(chan struct{}),
		drained:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.retryCfg.Retryable = func(err error) bool {
		return !errors.Is(err, resilience.ErrCircuitOpen)
	}
	retryer, err := retry.NewRetryer(p.retryCfg)
	if err != nil {
		return nil, err
	}
	p.retryer = retryer
	p.backoff = retry.NewBackoff(retryer)

	p.log = p.log.With().Str("pool", cfg.Name).Logger()
	p.m = newMetrics(cfg.Name)
	p.ctx, p.cancel = context.WithCancel(context.Background())

	if cfg.ReapInterval > 0 {
		go p.maintain()
	} else {
		close(p.done)
	}

	p.log.Debug().
		Int("max_size", cfg.MaxSize).
		Int("min_idle", cfg.MinIdle).
		Dur("connection_timeout", cfg.ConnectionTimeout).
		Msg("pool created")

	return p, nil
}

// Name returns the pool name used in logs and metrics.
func (p *Pool) Name() string { return p.cfg.Name }

// Config returns a copy of the pool configuration.
func (p *Pool) Config() Config { return p.cfg }

// Acquire leases a Channel, waiting up to Config.ConnectionTimeout.
//
// Errors: ErrPoolTimeout, ErrPoolExhausted (wait queue full),
// ErrPoolClosed, a *wire.ConnectionError when dialing a new Channel fails,
// or ctx.Err() when the caller gives up first.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	return p.acquire(ctx, true)
}

// TryAcquire is Acquire without queueing: a full pool yields
// ErrPoolExhausted immediately.
func (p *Pool) TryAcquire(ctx context.Context) (*Lease, error) {
	return p.acquire(ctx, false)
}

func (p *Pool) acquire(ctx context.Context, wait bool) (*Lease, error) {
	start := time.Now()

	actx, cancel := p.acquireContext(ctx)
	defer cancel()

	c, w, err := p.take(wait)
	if err != nil {
		return nil, err
	}

	if w != nil {
		h, err := p.await(ctx, actx, w)
		if err != nil {
			return nil, err
		}
		c = h.c
	}

	if c != nil {
		if p.checkout(actx, c) {
			return p.grant(c, start), nil
		}
		// c was discarded, its slot is reserved for this caller
	}

	c, err = p.dial(actx)
	if err != nil {
		p.mu.Lock()
		p.freeSlotLocked()
		p.mu.Unlock()
		return nil, p.acquireErr(ctx, actx, err)
	}
	if err := p.adopt(c); err != nil {
		return nil, err
	}
	return p.grant(c, start), nil
}

func (p *Pool) acquireContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.cfg.ConnectionTimeout > 0 {
		return context.WithTimeout(ctx, p.cfg.ConnectionTimeout)
	}
	return context.WithCancel(ctx)
}

// acquireErr attributes a dial failure to the acquire deadline when that
// deadline, and not the caller, cut it short.
func (p *Pool) acquireErr(ctx, actx context.Context, err error) error {
	if ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
		p.mu.Lock()
		p.totals.timeouts++
		p.mu.Unlock()
		p.m.timeouts.Inc()
		return fmt.Errorf("%w: %w", ErrPoolTimeout, err)
	}
	return err
}

// take pops an idle Channel, reserves a slot (both results nil) or queues
// a waiter.
func (p *Pool) take(wait bool) (*conn, *waiter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, nil, ErrPoolClosed
	}

	if n := len(p.idle); n > 0 {
		c := p.idle[n-1]
		p.idle[n-1] = nil
		p.idle = p.idle[:n-1]
		p.leased++
		p.updateGaugesLocked()
		return c, nil, nil
	}

	if p.open < p.cfg.MaxSize {
		p.open++
		p.updateGaugesLocked()
		return nil, nil, nil
	}

	if !wait || (p.cfg.MaxWaiters > 0 && p.waiters.Len() >= p.cfg.MaxWaiters) {
		p.totals.exhausted++
		p.m.exhausted.Inc()
		return nil, nil, ErrPoolExhausted
	}

	w := &waiter{ready: make(chan handoff, 1)}
	w.elem = p.waiters.PushBack(w)
	p.updateGaugesLocked()
	return nil, w, nil
}

func (p *Pool) await(ctx, actx context.Context, w *waiter) (handoff, error) {
	select {
	case h := <-w.ready:
		return h, h.err

	case <-actx.Done():
		p.mu.Lock()
		queued := p.removeWaiterLocked(w)
		p.mu.Unlock()

		if !queued {
			// a hand-off raced the deadline; pass it on
			p.giveBack(<-w.ready)
		}

		if err := ctx.Err(); err != nil {
			return handoff{}, err
		}

		p.mu.Lock()
		p.totals.timeouts++
		p.mu.Unlock()
		p.m.timeouts.Inc()
		p.log.Warn().Dur("timeout", p.cfg.ConnectionTimeout).Msg("acquire timed out")
		return handoff{}, ErrPoolTimeout
	}
}

func (p *Pool) giveBack(h handoff) {
	switch {
	case h.err != nil:
	case h.c != nil:
		p.release(h.c, OutcomeOK)
	default:
		p.mu.Lock()
		p.freeSlotLocked()
		p.mu.Unlock()
	}
}

// checkout validates a Channel taken from the pool. On failure the Channel
// is closed and its slot stays reserved for the caller.
func (p *Pool) checkout(ctx context.Context, c *conn) bool {
	reason := ""
	if p.expired(c, p.now()) {
		reason = "expired"
	} else if p.cfg.TestOnCheckout {
		if err := c.ch.Ping(ctx); err != nil {
			reason = "ping"
			p.log.Debug().Int("channel_id", c.ch.ID()).Err(err).Msg("ping failed on checkout")
		}
	}
	if reason == "" {
		return true
	}

	c.ch.Close()
	if reason == "expired" {
		p.m.discardExpired.Inc()
	} else {
		p.m.discardPing.Inc()
	}

	p.mu.Lock()
	p.leased--
	p.totals.discarded++
	p.updateGaugesLocked()
	p.mu.Unlock()

	p.log.Debug().Int("channel_id", c.ch.ID()).Str("reason", reason).Msg("channel replaced on checkout")
	return false
}

func (p *Pool) expired(c *conn, now time.Time) bool {
	if p.cfg.MaxLifetime > 0 && now.Sub(c.ch.CreatedAt()) >= p.cfg.MaxLifetime {
		return true
	}
	return p.cfg.IdleTimeout > 0 && now.Sub(c.lastUsed) >= p.cfg.IdleTimeout
}

// dial opens a Channel for an already reserved slot.
func (p *Pool) dial(ctx context.Context) (*conn, error) {
	var ch wire.Channel
	dialFn := func(ctx context.Context) error {
		c, err := p.dialer.Dial(ctx)
		if err != nil {
			return err
		}
		ch = c
		return nil
	}

	var err error
	if p.breaker != nil {
		err = p.breaker.Execute(ctx, dialFn)
	} else {
		err = dialFn(ctx)
	}

	if err != nil {
		p.mu.Lock()
		p.totals.dialErrors++
		p.mu.Unlock()
		p.m.dialErrors.Inc()

		var connErr *wire.ConnectionError
		if !errors.As(err, &connErr) {
			err = &wire.ConnectionError{Err: err}
		}
		return nil, err
	}

	p.mu.Lock()
	p.totals.created++
	p.mu.Unlock()
	p.m.created.Inc()
	p.log.Debug().Int("channel_id", ch.ID()).Msg("channel opened")

	return &conn{ch: ch, lastUsed: p.now()}, nil
}

// adopt turns the caller's reserved slot into a lease.
func (p *Pool) adopt(c *conn) error {
	p.mu.Lock()
	if p.closed {
		p.open--
		p.totals.discarded++
		p.checkDrainedLocked()
		p.updateGaugesLocked()
		p.mu.Unlock()

		c.ch.Close()
		p.m.discardClosed.Inc()
		return ErrPoolClosed
	}
	p.leased++
	p.updateGaugesLocked()
	p.mu.Unlock()
	return nil
}

func (p *Pool) grant(c *conn, start time.Time) *Lease {
	waited := time.Since(start)

	p.mu.Lock()
	p.totals.acquired++
	p.totals.wait += waited
	p.mu.Unlock()

	p.m.acquired.Inc()
	p.m.wait.Observe(waited.Seconds())

	return &Lease{pool: p, c: c, acquiredAt: p.now()}
}

// release returns a leased Channel. Broken and expired Channels are closed
// and their slot goes to the first waiter.
func (p *Pool) release(c *conn, outcome Outcome) {
	if outcome == OutcomeBroken {
		c.ch.Close()
		p.m.discardBroken.Inc()

		p.mu.Lock()
		p.leased--
		p.totals.discarded++
		p.freeSlotLocked()
		p.mu.Unlock()

		p.log.Debug().Int("channel_id", c.ch.ID()).Msg("broken channel discarded")
		return
	}

	now := p.now()

	p.mu.Lock()
	switch {
	case p.closed:
		p.leased--
		p.open--
		p.totals.discarded++
		p.checkDrainedLocked()
		p.updateGaugesLocked()
		p.mu.Unlock()

		c.ch.Close()
		p.m.discardClosed.Inc()

	case p.cfg.MaxLifetime > 0 && now.Sub(c.ch.CreatedAt()) >= p.cfg.MaxLifetime:
		p.leased--
		p.totals.discarded++
		p.freeSlotLocked()
		p.mu.Unlock()

		c.ch.Close()
		p.m.discardExpired.Inc()

	default:
		c.lastUsed = now
		if w := p.popWaiterLocked(); w != nil {
			// stays leased, now by the waiter
			w.ready <- handoff{c: c}
		} else {
			p.leased--
			p.idle = append(p.idle, c)
		}
		p.updateGaugesLocked()
		p.mu.Unlock()
	}
}

// putNew adds a Channel dialed by Warmup or maintenance into a reserved slot.
func (p *Pool) putNew(c *conn) {
	p.mu.Lock()
	if p.closed {
		p.open--
		p.totals.discarded++
		p.checkDrainedLocked()
		p.updateGaugesLocked()
		p.mu.Unlock()

		c.ch.Close()
		p.m.discardClosed.Inc()
		return
	}

	if w := p.popWaiterLocked(); w != nil {
		p.leased++
		w.ready <- handoff{c: c}
	} else {
		p.idle = append(p.idle, c)
	}
	p.updateGaugesLocked()
	p.mu.Unlock()
}

// freeSlotLocked gives a freed slot to the first waiter, or shrinks the pool.
func (p *Pool) freeSlotLocked() {
	if w := p.popWaiterLocked(); w != nil {
		w.ready <- handoff{}
	} else {
		p.open--
		p.checkDrainedLocked()
	}
	p.updateGaugesLocked()
}

func (p *Pool) popWaiterLocked() *waiter {
	e := p.waiters.Front()
	if e == nil {
		return nil
	}
	w := p.waiters.Remove(e).(*waiter)
	w.elem = nil
	return w
}

func (p *Pool) removeWaiterLocked(w *waiter) bool {
	if w.elem == nil {
		return false
	}
	p.waiters.Remove(w.elem)
	w.elem = nil
	p.updateGaugesLocked()
	return true
}

func (p *Pool) checkDrainedLocked() {
	if p.closed && p.open == 0 && !p.isDrain {
		p.isDrain = true
		close(p.drained)
	}
}

func (p *Pool) updateGaugesLocked() {
	p.m.open.Set(float64(p.open))
	p.m.idle.Set(float64(len(p.idle)))
	p.m.leased.Set(float64(p.leased))
	p.m.waiting.Set(float64(p.waiters.Len()))
}

// Close shuts the pool down: waiters fail with ErrPoolClosed, idle
// Channels are closed and Close waits until every lease is released or
// ctx ends. Channels released after Close are closed, not pooled.
// Close is safe to call more than once.
func (p *Pool) Close(ctx context.Context) error {
	var idle []*conn

	p.mu.Lock()
	if !p.closed {
		p.closed = true
		for w := p.popWaiterLocked(); w != nil; w = p.popWaiterLocked() {
			w.ready <- handoff{err: ErrPoolClosed}
		}
		idle = p.idle
		p.idle = nil
		p.open -= len(idle)
		p.totals.discarded += uint64(len(idle))
		p.checkDrainedLocked()
		p.updateGaugesLocked()
		p.cancel()
	}
	leased := p.leased
	p.mu.Unlock()

	for _, c := range idle {
		c.ch.Close()
		p.m.discardClosed.Inc()
	}

	<-p.done

	select {
	case <-p.drained:
		p.log.Debug().Msg("pool closed")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("close pool %s with %d leased channels: %w", p.cfg.Name, leased, ctx.Err())
	}
}
