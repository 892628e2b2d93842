package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ruslano69/mssqlpool/pkg/result"
	"github.com/ruslano69/mssqlpool/pkg/wire"
)

// ErrLeaseReleased is returned by a Lease used after Release.
var ErrLeaseReleased = errors.New("pool: lease already released")

// Outcome tells the pool what to do with a released Channel.
type Outcome int

const (
	// OutcomeOK returns the Channel to the idle set.
	OutcomeOK Outcome = iota
	// OutcomeBroken closes the Channel.
	OutcomeBroken
)

func (o Outcome) String() string {
	if o == OutcomeBroken {
		return "broken"
	}
	return "ok"
}

// OutcomeFor maps the error of the last operation on a Channel to an
// Outcome. Statement errors below the fatal severity and decode errors
// keep the Channel.
func OutcomeFor(err error) Outcome {
	if wire.IsChannelBroken(err) {
		return OutcomeBroken
	}
	return OutcomeOK
}

// Lease is exclusive use of one Channel until Release.
type Lease struct {
	pool       *Pool
	c          *conn
	acquiredAt time.Time

	mu       sync.Mutex
	released bool
}

// Channel returns the leased Channel. It must not be used after Release.
func (l *Lease) Channel() wire.Channel { return l.c.ch }

// AcquiredAt returns when the lease was granted.
func (l *Lease) AcquiredAt() time.Time { return l.acquiredAt }

// Execute submits one batch on the leased Channel and materializes the reply.
// It does not release the lease. A ctx that ended before the batch was sent
// yields a *wire.UnsentError and leaves the Channel reusable.
func (l *Lease) Execute(ctx context.Context, query string, args ...any) (*result.ExecutionResult, error) {
	l.mu.Lock()
	released := l.released
	l.mu.Unlock()
	if released {
		return nil, ErrLeaseReleased
	}
	if err := wire.CheckSend(ctx); err != nil {
		return nil, err
	}

	stream, err := l.c.ch.Submit(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return result.Materialize(stream)
}

// Release hands the Channel back. Only the first call has an effect.
func (l *Lease) Release(outcome Outcome) {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		return
	}
	l.released = true
	l.mu.Unlock()

	l.pool.release(l.c, outcome)
}

// Release is l.Release(outcome).
func (p *Pool) Release(l *Lease, outcome Outcome) {
	l.Release(outcome)
}

// With leases a Channel for the duration of fn. The lease is released on
// every exit path: with OutcomeFor(err) when fn returns, and as broken when
// fn panics; the panic is then re-raised.
func (p *Pool) With(ctx context.Context, fn func(*Lease) error) (err error) {
	lease, err := p.Acquire(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			lease.Release(OutcomeBroken)
			panic(r)
		}
		lease.Release(OutcomeFor(err))
	}()

	return fn(lease)
}

// Execute runs one batch on a leased Channel and releases it. Consecutive
// calls may run on different Channels.
func (p *Pool) Execute(ctx context.Context, query string, args ...any) (*result.ExecutionResult, error) {
	var res *result.ExecutionResult
	err := p.With(ctx, func(l *Lease) error {
		var err error
		res, err = l.Execute(ctx, query, args...)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("pool %s: %w", p.cfg.Name, err)
	}
	return res, nil
}
