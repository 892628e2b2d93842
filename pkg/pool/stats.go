package pool

import "time"

type totals struct {
	acquired   uint64
	created    uint64
	discarded  uint64
	dialErrors uint64
	timeouts   uint64
	exhausted  uint64
	wait       time.Duration
}

// Stats is a point-in-time snapshot of a pool.
type Stats struct {
	Name    string `json:"name"`
	MaxSize int    `json:"max_size"`
	Open    int    `json:"open"`
	Idle    int    `json:"idle"`
	Leased  int    `json:"leased"`
	Waiting int    `json:"waiting"`

	Acquired   uint64 `json:"acquired_total"`
	Created    uint64 `json:"created_total"`
	Discarded  uint64 `json:"discarded_total"`
	DialErrors uint64 `json:"dial_errors_total"`
	Timeouts   uint64 `json:"timeouts_total"`
	Exhausted  uint64 `json:"exhausted_total"`

	// WaitDuration is the total time granted Acquire calls spent waiting.
	WaitDuration time.Duration `json:"wait_duration_ns"`

	Closed bool `json:"closed"`
}

// AverageWait returns the mean Acquire wait.
func (s Stats) AverageWait() time.Duration {
	if s.Acquired == 0 {
		return 0
	}
	return s.WaitDuration / time.Duration(s.Acquired)
}

// Stats returns current counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		Name:         p.cfg.Name,
		MaxSize:      p.cfg.MaxSize,
		Open:         p.open,
		Idle:         len(p.idle),
		Leased:       p.leased,
		Waiting:      p.waiters.Len(),
		Acquired:     p.totals.acquired,
		Created:      p.totals.created,
		Discarded:    p.totals.discarded,
		DialErrors:   p.totals.dialErrors,
		Timeouts:     p.totals.timeouts,
		Exhausted:    p.totals.exhausted,
		WaitDuration: p.totals.wait,
		Closed:       p.closed,
	}
}
