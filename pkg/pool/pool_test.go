package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ruslano69/mssqlpool/pkg/resilience"
	"github.com/ruslano69/mssqlpool/pkg/retry"
	"github.com/ruslano69/mssqlpool/pkg/wire"
	"github.com/ruslano69/mssqlpool/pkg/wire/wiretest"
)

func testConfig(maxSize int) Config {
	cfg := DefaultConfig()
	cfg.Name = "test"
	cfg.MaxSize = maxSize
	cfg.MinIdle = 0
	cfg.ReapInterval = 0
	cfg.ConnectionTimeout = 2 * time.Second
	return cfg
}

func newTestPool(t *testing.T, cfg Config, h wiretest.Handler, opts ...Option) (*Pool, *wiretest.Dialer) {
	t.Helper()

	dialer := wiretest.NewDialer(h)
	opts = append([]Option{WithLogger(zerolog.Nop())}, opts...)
	p, err := New(dialer, cfg, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		p.Close(ctx)
	})
	return p, dialer
}

func mustAcquire(t *testing.T, p *Pool) *Lease {
	t.Helper()

	lease, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	return lease
}

// eventually polls cond until it holds or a second passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"zero max size", func(c *Config) { c.MaxSize = 0 }, true},
		{"min idle above max", func(c *Config) { c.MinIdle = c.MaxSize + 1 }, true},
		{"negative min idle", func(c *Config) { c.MinIdle = -1 }, true},
		{"negative lifetime", func(c *Config) { c.MaxLifetime = -time.Second }, true},
		{"negative timeout", func(c *Config) { c.ConnectionTimeout = -1 }, true},
		{"negative waiters", func(c *Config) { c.MaxWaiters = -1 }, true},
		{"zero durations", func(c *Config) { c.MaxLifetime, c.IdleTimeout, c.ConnectionTimeout = 0, 0, 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPresets(t *testing.T) {
	tests := []struct {
		name                 string
		maxSize, minIdle     int
		lifetime, idle, wait time.Duration
	}{
		{"default", 10, 2, 30 * time.Minute, 5 * time.Minute, 30 * time.Second},
		{"high-throughput", 50, 15, 30 * time.Minute, 10 * time.Minute, 30 * time.Second},
		{"low-resource", 3, 1, 15 * time.Minute, 5 * time.Minute, 15 * time.Second},
		{"development", 5, 1, 10 * time.Minute, 3 * time.Minute, 10 * time.Second},
		{"maximum-performance", 100, 30, 2 * time.Hour, 30 * time.Minute, 10 * time.Second},
		{"load-test-worker", 12, 4, time.Hour, 10 * time.Minute, 5 * time.Second},
		{"ultra-high-concurrency", 200, 50, time.Hour, 15 * time.Minute, 15 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Preset(tt.name)
			if err != nil {
				t.Fatalf("Preset() error = %v", err)
			}
			if err := cfg.Validate(); err != nil {
				t.Errorf("Validate() error = %v", err)
			}
			if cfg.MaxSize != tt.maxSize || cfg.MinIdle != tt.minIdle ||
				cfg.MaxLifetime != tt.lifetime || cfg.IdleTimeout != tt.idle ||
				cfg.ConnectionTimeout != tt.wait {
				t.Errorf("Preset(%s) = %+v", tt.name, cfg)
			}
		})
	}

	if _, err := Preset("nope"); err == nil {
		t.Error("Preset(nope) error = nil")
	}
}

func TestPool_ReusesChannel(t *testing.T) {
	p, dialer := newTestPool(t, testConfig(2), nil)

	lease := mustAcquire(t, p)
	id := lease.Channel().ID()
	lease.Release(OutcomeOK)

	lease = mustAcquire(t, p)
	defer lease.Release(OutcomeOK)

	if got := lease.Channel().ID(); got != id {
		t.Errorf("second lease got channel %d, want %d", got, id)
	}
	if dialer.Dials() != 1 {
		t.Errorf("Dials() = %d, want 1", dialer.Dials())
	}
	if pings := dialer.Channels()[0].Pings(); pings != 1 {
		t.Errorf("Pings() = %d, want 1 (checkout of the idle channel)", pings)
	}
}

func TestPool_ReleaseIsIdempotent(t *testing.T) {
	p, _ := newTestPool(t, testConfig(2), nil)

	lease := mustAcquire(t, p)
	lease.Release(OutcomeOK)
	lease.Release(OutcomeBroken)

	st := p.Stats()
	if st.Idle != 1 || st.Open != 1 || st.Leased != 0 {
		t.Errorf("Stats() = %+v, want 1 idle", st)
	}
	if _, err := lease.Execute(context.Background(), "SELECT 1"); !errors.Is(err, ErrLeaseReleased) {
		t.Errorf("Execute() after Release = %v, want ErrLeaseReleased", err)
	}
}

func TestPool_MaxSizeUnderLoad(t *testing.T) {
	const maxSize = 3

	handler := func(ch *wiretest.Channel, q string, args []any) wiretest.Reply {
		r := wiretest.Affected(1)
		r.Delay = time.Millisecond
		return r
	}
	p, dialer := newTestPool(t, testConfig(maxSize), handler)

	var inUse, peak int64
	var wg sync.WaitGroup
	errs := make(chan error, 20*10)

	for g := 0; g < 20; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				err := p.With(context.Background(), func(l *Lease) error {
					n := atomic.AddInt64(&inUse, 1)
					for {
						old := atomic.LoadInt64(&peak)
						if n <= old || atomic.CompareAndSwapInt64(&peak, old, n) {
							break
						}
					}
					defer atomic.AddInt64(&inUse, -1)

					_, err := l.Execute(context.Background(), "UPDATE t SET a = 1")
					return err
				})
				if err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("With() error = %v", err)
	}
	if peak > maxSize {
		t.Errorf("peak leased = %d, want <= %d", peak, maxSize)
	}
	if dialer.Dials() > maxSize {
		t.Errorf("Dials() = %d, want <= %d", dialer.Dials(), maxSize)
	}
	for _, ch := range dialer.Channels() {
		if ch.Overlaps() != 0 {
			t.Errorf("channel %d was used by two leases at once", ch.ID())
		}
	}
	if st := p.Stats(); st.Open > maxSize || st.Leased != 0 || st.Acquired != 200 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestPool_BrokenChannelNeverReleased(t *testing.T) {
	p, _ := newTestPool(t, testConfig(2), nil)

	lease := mustAcquire(t, p)
	broken := lease.Channel().(*wiretest.Channel)
	lease.Release(OutcomeBroken)

	if !broken.Closed() {
		t.Error("broken channel was not closed")
	}

	for i := 0; i < 3; i++ {
		l := mustAcquire(t, p)
		if l.Channel().ID() == broken.ID() {
			t.Fatalf("broken channel %d leased again", broken.ID())
		}
		l.Release(OutcomeOK)
	}

	if st := p.Stats(); st.Open != 1 || st.Discarded != 1 {
		t.Errorf("Stats() = %+v, want open 1, discarded 1", st)
	}
}

func TestPool_AcquireTimeout(t *testing.T) {
	const timeout = 100 * time.Millisecond

	cfg := testConfig(1)
	cfg.ConnectionTimeout = timeout
	p, _ := newTestPool(t, cfg, nil)

	held := mustAcquire(t, p)
	defer held.Release(OutcomeOK)

	start := time.Now()
	_, err := p.Acquire(context.Background())
	elapsed := time.Since(start)

	if !errors.Is(err, ErrPoolTimeout) {
		t.Fatalf("Acquire() error = %v, want ErrPoolTimeout", err)
	}
	if elapsed < timeout || elapsed > timeout+500*time.Millisecond {
		t.Errorf("Acquire() failed after %v, want within [%v, %v]", elapsed, timeout, timeout+500*time.Millisecond)
	}

	st := p.Stats()
	if st.Waiting != 0 || st.Timeouts != 1 || st.Open != 1 {
		t.Errorf("Stats() = %+v, want no waiters, 1 timeout, 1 open", st)
	}
}

func TestPool_CallerCancel(t *testing.T) {
	p, _ := newTestPool(t, testConfig(1), nil)

	held := mustAcquire(t, p)
	defer held.Release(OutcomeOK)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		_, err := p.Acquire(ctx)
		errc <- err
	}()
	eventually(t, "waiter queued", func() bool { return p.Stats().Waiting == 1 })
	cancel()

	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Errorf("Acquire() error = %v, want context.Canceled", err)
	}
	if p.Stats().Waiting != 0 {
		t.Error("cancelled waiter left in queue")
	}
}

func TestPool_FIFOWaiters(t *testing.T) {
	p, _ := newTestPool(t, testConfig(1), nil)

	held := mustAcquire(t, p)

	order := make(chan int, 3)
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l, err := p.Acquire(context.Background())
			if err != nil {
				t.Errorf("waiter %d: %v", i, err)
				return
			}
			order <- i
			l.Release(OutcomeOK)
		}(i)
		eventually(t, "waiter queued", func() bool { return p.Stats().Waiting == i+1 })
	}

	held.Release(OutcomeOK)
	wg.Wait()
	close(order)

	want := 0
	for got := range order {
		if got != want {
			t.Errorf("waiter %d served at position %d", got, want)
		}
		want++
	}
}

func TestPool_Exhausted(t *testing.T) {
	cfg := testConfig(1)
	cfg.MaxWaiters = 1
	p, _ := newTestPool(t, cfg, nil)

	held := mustAcquire(t, p)
	defer held.Release(OutcomeOK)

	if _, err := p.TryAcquire(context.Background()); !errors.Is(err, ErrPoolExhausted) {
		t.Errorf("TryAcquire() error = %v, want ErrPoolExhausted", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Acquire(ctx)
	eventually(t, "waiter queued", func() bool { return p.Stats().Waiting == 1 })

	if _, err := p.Acquire(context.Background()); !errors.Is(err, ErrPoolExhausted) {
		t.Errorf("Acquire() with full queue error = %v, want ErrPoolExhausted", err)
	}
	if got := p.Stats().Exhausted; got != 2 {
		t.Errorf("Exhausted = %d, want 2", got)
	}
}

func TestPool_ExpiredChannelReplaced(t *testing.T) {
	cfg := testConfig(1)
	cfg.MaxLifetime = time.Hour
	p, dialer := newTestPool(t, cfg, nil)

	lease := mustAcquire(t, p)
	old := lease.Channel().(*wiretest.Channel)
	lease.Release(OutcomeOK)
	old.SetCreatedAt(time.Now().Add(-2 * time.Hour))

	lease = mustAcquire(t, p)
	defer lease.Release(OutcomeOK)

	if lease.Channel().ID() == old.ID() {
		t.Fatal("expired channel leased")
	}
	if !old.Closed() {
		t.Error("expired channel not closed")
	}
	if dialer.Dials() != 2 || p.Stats().Open != 1 {
		t.Errorf("Dials() = %d, Open = %d; want 2, 1", dialer.Dials(), p.Stats().Open)
	}
}

func TestPool_IdleTimeoutReplaced(t *testing.T) {
	cfg := testConfig(1)
	cfg.IdleTimeout = 20 * time.Millisecond
	p, _ := newTestPool(t, cfg, nil)

	lease := mustAcquire(t, p)
	first := lease.Channel().ID()
	lease.Release(OutcomeOK)

	time.Sleep(40 * time.Millisecond)

	lease = mustAcquire(t, p)
	defer lease.Release(OutcomeOK)
	if lease.Channel().ID() == first {
		t.Error("channel idle past idle_timeout was leased")
	}
}

func TestPool_PingFailureReplaced(t *testing.T) {
	p, _ := newTestPool(t, testConfig(1), nil)

	lease := mustAcquire(t, p)
	dead := lease.Channel().(*wiretest.Channel)
	lease.Release(OutcomeOK)
	dead.SetPingErr(errors.New("connection reset by peer"))

	lease = mustAcquire(t, p)
	defer lease.Release(OutcomeOK)

	if lease.Channel().ID() == dead.ID() || !dead.Closed() {
		t.Error("channel that failed its ping was leased")
	}
}

func TestPool_DialFailure(t *testing.T) {
	p, dialer := newTestPool(t, testConfig(2), nil)
	dialer.SetDialErr(errors.New("login failed for user 'sa'"))

	_, err := p.Acquire(context.Background())
	if !errors.Is(err, wire.ErrConnectionFailed) {
		t.Fatalf("Acquire() error = %v, want ErrConnectionFailed", err)
	}
	if st := p.Stats(); st.Open != 0 || st.DialErrors != 1 {
		t.Errorf("Stats() = %+v, want reservation released", st)
	}

	dialer.SetDialErr(nil)
	lease := mustAcquire(t, p)
	lease.Release(OutcomeOK)
}

func TestPool_WaiterGetsSlotOfBrokenChannel(t *testing.T) {
	p, _ := newTestPool(t, testConfig(1), nil)

	held := mustAcquire(t, p)
	heldID := held.Channel().ID()

	got := make(chan int, 1)
	go func() {
		l, err := p.Acquire(context.Background())
		if err != nil {
			t.Errorf("Acquire() error = %v", err)
			got <- 0
			return
		}
		got <- l.Channel().ID()
		l.Release(OutcomeOK)
	}()
	eventually(t, "waiter queued", func() bool { return p.Stats().Waiting == 1 })

	held.Release(OutcomeBroken)

	select {
	case id := <-got:
		if id == heldID || id == 0 {
			t.Errorf("waiter got channel %d, want a fresh one", id)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter was not served")
	}
}

func TestPool_WithReleasesOnPanic(t *testing.T) {
	p, _ := newTestPool(t, testConfig(1), nil)

	var ch *wiretest.Channel
	func() {
		defer func() {
			if recover() == nil {
				t.Error("panic was swallowed")
			}
		}()
		p.With(context.Background(), func(l *Lease) error {
			ch = l.Channel().(*wiretest.Channel)
			panic("boom")
		})
	}()

	if !ch.Closed() {
		t.Error("channel of a panicking holder was not discarded")
	}
	if st := p.Stats(); st.Open != 0 || st.Leased != 0 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestPool_ExecuteKeepsChannelOnStatementError(t *testing.T) {
	handler := func(ch *wiretest.Channel, q string, args []any) wiretest.Reply {
		return wiretest.Reply{Err: &wire.StatementError{Number: 102, Severity: 15, Message: "Incorrect syntax near 'FORM'."}}
	}
	p, _ := newTestPool(t, testConfig(1), handler)

	_, err := p.Execute(context.Background(), "SELECT * FORM t")
	var stmtErr *wire.StatementError
	if !errors.As(err, &stmtErr) {
		t.Fatalf("Execute() error = %v, want StatementError", err)
	}
	if st := p.Stats(); st.Idle != 1 {
		t.Errorf("Idle = %d, want 1: a syntax error keeps the channel", st.Idle)
	}
}

func TestPool_ExecuteDiscardsCancelled(t *testing.T) {
	handler := func(ch *wiretest.Channel, q string, args []any) wiretest.Reply {
		return wiretest.Reply{Delay: time.Second}
	}
	p, dialer := newTestPool(t, testConfig(1), handler)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := p.Execute(ctx, "WAITFOR DELAY '00:00:01'"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Execute() error = %v, want DeadlineExceeded", err)
	}
	if !dialer.Channels()[0].Closed() || p.Stats().Open != 0 {
		t.Error("cancelled channel returned to the pool")
	}
}

func TestPool_ExecuteKeepsChannelWhenContextEndsBeforeSend(t *testing.T) {
	p, dialer := newTestPool(t, testConfig(1), nil)

	lease := mustAcquire(t, p)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := lease.Execute(ctx, "SELECT 1")
	var unsent *wire.UnsentError
	if !errors.As(err, &unsent) || !errors.Is(err, context.Canceled) {
		t.Fatalf("Execute() error = %v, want UnsentError wrapping Canceled", err)
	}
	if got := OutcomeFor(err); got != OutcomeOK {
		t.Errorf("OutcomeFor() = %v, want OutcomeOK", got)
	}
	lease.Release(OutcomeFor(err))

	ch := dialer.Channels()[0]
	if len(ch.Submits()) != 0 {
		t.Errorf("Submits() = %v, want none", ch.Submits())
	}
	if ch.Closed() || p.Stats().Idle != 1 {
		t.Error("channel discarded although nothing was sent")
	}
}

func TestPool_Warmup(t *testing.T) {
	cfg := testConfig(5)
	cfg.MinIdle = 3
	p, dialer := newTestPool(t, cfg, nil)

	if err := p.Warmup(context.Background()); err != nil {
		t.Fatalf("Warmup() error = %v", err)
	}
	if st := p.Stats(); st.Idle != 3 || dialer.Dials() != 3 {
		t.Errorf("Idle = %d, Dials = %d; want 3, 3", st.Idle, dialer.Dials())
	}
}

func TestPool_WarmupRetriesThenFails(t *testing.T) {
	cfg := testConfig(5)
	cfg.MinIdle = 1
	rc := retry.DefaultConfig()
	rc.MaxAttempts = 2
	rc.InitialDelay = time.Millisecond
	rc.Jitter = 0

	p, dialer := newTestPool(t, cfg, nil, WithRetry(rc))
	dialer.SetDialErr(errors.New("server not found"))

	err := p.Warmup(context.Background())
	if !errors.Is(err, retry.ErrMaxAttempts) || !errors.Is(err, wire.ErrConnectionFailed) {
		t.Fatalf("Warmup() error = %v", err)
	}
	if dialer.Dials() != 2 || p.Stats().Open != 0 {
		t.Errorf("Dials() = %d, Open = %d; want 2, 0", dialer.Dials(), p.Stats().Open)
	}
}

func TestPool_MaintenanceRefillsAndEvicts(t *testing.T) {
	cfg := testConfig(4)
	cfg.MinIdle = 2
	cfg.MaxLifetime = time.Minute
	cfg.ReapInterval = 5 * time.Millisecond
	p, dialer := newTestPool(t, cfg, nil)

	eventually(t, "refill to min_idle", func() bool { return p.Stats().Idle == 2 })

	for _, ch := range dialer.Channels() {
		ch.SetCreatedAt(time.Now().Add(-time.Hour))
	}

	eventually(t, "expired channels replaced", func() bool {
		closed := 0
		for _, ch := range dialer.Channels() {
			if ch.Closed() {
				closed++
			}
		}
		return closed >= 2 && p.Stats().Idle == 2
	})
	if st := p.Stats(); st.Open > cfg.MaxSize {
		t.Errorf("Open = %d exceeds max size", st.Open)
	}
}

func TestPool_Reap(t *testing.T) {
	cfg := testConfig(3)
	cfg.MaxLifetime = time.Minute
	p, _ := newTestPool(t, cfg, nil)

	a, b := mustAcquire(t, p), mustAcquire(t, p)
	aged := a.Channel().(*wiretest.Channel)
	a.Release(OutcomeOK)
	b.Release(OutcomeOK)
	aged.SetCreatedAt(time.Now().Add(-time.Hour))

	if n := p.reap(); n != 1 {
		t.Errorf("reap() = %d, want 1", n)
	}
	if st := p.Stats(); st.Idle != 1 || st.Open != 1 || !aged.Closed() {
		t.Errorf("Stats() = %+v after reap", st)
	}
}

func TestPool_BreakerStopsDialing(t *testing.T) {
	bc := resilience.DefaultConfig("test")
	bc.MaxFailures = 2
	cb, err := resilience.New(bc)
	if err != nil {
		t.Fatalf("resilience.New() error = %v", err)
	}

	p, dialer := newTestPool(t, testConfig(2), nil, WithBreaker(cb))
	dialer.SetDialErr(errors.New("connection refused"))

	for i := 0; i < 2; i++ {
		p.Acquire(context.Background())
	}
	_, err = p.Acquire(context.Background())
	if !errors.Is(err, resilience.ErrCircuitOpen) || !errors.Is(err, wire.ErrConnectionFailed) {
		t.Errorf("Acquire() error = %v, want ConnectionError wrapping ErrCircuitOpen", err)
	}
	if dialer.Dials() != 2 {
		t.Errorf("Dials() = %d, want 2", dialer.Dials())
	}
}

func TestPool_Close(t *testing.T) {
	p, dialer := newTestPool(t, testConfig(1), nil)

	held := mustAcquire(t, p)

	waiterErr := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background())
		waiterErr <- err
	}()
	eventually(t, "waiter queued", func() bool { return p.Stats().Waiting == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := p.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Close() with a held lease = %v, want DeadlineExceeded", err)
	}

	if err := <-waiterErr; !errors.Is(err, ErrPoolClosed) {
		t.Errorf("waiter error = %v, want ErrPoolClosed", err)
	}
	if _, err := p.Acquire(context.Background()); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Acquire() after Close = %v, want ErrPoolClosed", err)
	}

	held.Release(OutcomeOK)
	if err := p.Close(context.Background()); err != nil {
		t.Errorf("Close() after drain = %v", err)
	}
	if dialer.OpenChannels() != 0 {
		t.Errorf("OpenChannels() = %d, want 0", dialer.OpenChannels())
	}
}

func TestPool_CloseClosesIdle(t *testing.T) {
	p, dialer := newTestPool(t, testConfig(2), nil)

	a, b := mustAcquire(t, p), mustAcquire(t, p)
	a.Release(OutcomeOK)
	b.Release(OutcomeOK)

	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if dialer.OpenChannels() != 0 {
		t.Errorf("OpenChannels() = %d, want 0", dialer.OpenChannels())
	}
	if st := p.Stats(); !st.Closed || st.Open != 0 || st.Idle != 0 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestOutcomeFor(t *testing.T) {
	tests := []struct {
		err  error
		want Outcome
	}{
		{nil, OutcomeOK},
		{&wire.StatementError{Severity: 16}, OutcomeOK},
		{&wire.StatementError{Severity: 20}, OutcomeBroken},
		{context.Canceled, OutcomeBroken},
		{&wire.UnsentError{Err: context.Canceled}, OutcomeOK},
		{wire.ErrChannelClosed, OutcomeBroken},
		{errors.New("decode"), OutcomeOK},
	}

	for _, tt := range tests {
		if got := OutcomeFor(tt.err); got != tt.want {
			t.Errorf("OutcomeFor(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
