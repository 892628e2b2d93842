package pool

import (
	"context"
	"fmt"
	"time"
)

// maintain runs reap and refill every ReapInterval until Close.
func (p *Pool) maintain() {
	defer close(p.done)

	ticker := time.NewTicker(p.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.runMaintenance()
		}
	}
}

func (p *Pool) runMaintenance() {
	if n := p.reap(); n > 0 {
		p.log.Debug().Int("evicted", n).Msg("idle channels evicted")
	}

	ctx, cancel := p.dialContext()
	defer cancel()
	p.refill(ctx)
}

func (p *Pool) dialContext() (context.Context, context.CancelFunc) {
	if p.cfg.ConnectionTimeout > 0 {
		return context.WithTimeout(p.ctx, p.cfg.ConnectionTimeout)
	}
	return context.WithCancel(p.ctx)
}

// reap closes idle Channels past MaxLifetime or IdleTimeout and hands
// their slots to waiters.
func (p *Pool) reap() int {
	now := p.now()

	p.mu.Lock()
	var expired []*conn
	old := p.idle
	kept := old[:0]
	for _, c := range old {
		if p.expired(c, now) {
			expired = append(expired, c)
		} else {
			kept = append(kept, c)
		}
	}
	for i := len(kept); i < len(old); i++ {
		old[i] = nil
	}
	p.idle = kept
	for range expired {
		p.totals.discarded++
		p.freeSlotLocked()
	}
	p.mu.Unlock()

	for _, c := range expired {
		c.ch.Close()
		p.m.discardExpired.Inc()
	}
	return len(expired)
}

// refill dials up to MinIdle idle Channels without exceeding MaxSize.
// After a failed dial the next attempt waits for the retry backoff.
func (p *Pool) refill(ctx context.Context) {
	if p.cfg.MinIdle == 0 || !p.backoff.Ready(p.now()) {
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	n := p.cfg.MinIdle - len(p.idle)
	if room := p.cfg.MaxSize - p.open; n > room {
		n = room
	}
	if n <= 0 {
		p.mu.Unlock()
		return
	}
	p.open += n
	p.updateGaugesLocked()
	p.mu.Unlock()

	for i := 0; i < n; i++ {
		c, err := p.dial(ctx)
		if err != nil {
			delay := p.backoff.Failure(p.now())
			p.log.Warn().Err(err).Dur("retry_in", delay).Msg("refill dial failed")

			p.mu.Lock()
			for j := i; j < n; j++ {
				p.freeSlotLocked()
			}
			p.mu.Unlock()
			return
		}
		p.backoff.Success()
		p.putNew(c)
	}
}

// Warmup dials Channels until MinIdle are idle, retrying failed dials on
// the retry schedule. It returns the last dial error when retries run out.
func (p *Pool) Warmup(ctx context.Context) error {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return ErrPoolClosed
		}
		if len(p.idle) >= p.cfg.MinIdle || p.open >= p.cfg.MaxSize {
			p.mu.Unlock()
			return nil
		}
		p.open++
		p.updateGaugesLocked()
		p.mu.Unlock()

		var c *conn
		err := p.retryer.Do(ctx, func(ctx context.Context) error {
			var err error
			c, err = p.dial(ctx)
			return err
		})
		if err != nil {
			p.mu.Lock()
			p.freeSlotLocked()
			p.mu.Unlock()
			return fmt.Errorf("warm up pool %s: %w", p.cfg.Name, err)
		}
		p.putNew(c)
	}
}
