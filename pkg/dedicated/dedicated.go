// Package dedicated pins a session to one Channel for its whole lifetime.
//
// Transaction state, session variables and #temp tables live on the server
// side of a physical connection. A pool may run consecutive statements on
// different connections; a dedicated Session never does, so
//
//	s.Execute(ctx, "BEGIN TRANSACTION")
//	s.Execute(ctx, "UPDATE accounts SET ...")
//	s.Execute(ctx, "COMMIT")
//
// all reach the same server session. Calls on one Session are serialized;
// calls on different Sessions are independent.
package dedicated

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ruslano69/mssqlpool/pkg/result"
	"github.com/ruslano69/mssqlpool/pkg/wire"
)

var (
	// ErrSessionClosed is returned by every call after Close.
	ErrSessionClosed = errors.New("session is closed")

	// ErrChannelLost is returned after the pinned Channel broke. The session
	// does not re-dial: the server-side state it carried is gone.
	ErrChannelLost = errors.New("dedicated channel lost")
)

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger. The default is the global zerolog logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// Session owns at most one Channel.
type Session struct {
	dialer wire.Dialer
	log    zerolog.Logger

	// sem is a lock that honors context cancellation.
	sem chan struct{}

	closed    atomic.Bool
	connected atomic.Bool
	isLost    atomic.Bool
	channelID atomic.Int64

	// guarded by sem
	ch   wire.Channel
	lost error
}

// New creates a Session. No Channel is opened until the first Execute.
func New(dialer wire.Dialer, opts ...Option) *Session {
	s := &Session{
		dialer: dialer,
		log:    log.Logger,
		sem:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) lock(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) unlock() {
	<-s.sem
}

// Execute runs one batch on the pinned Channel, dialing it on first use.
//
// A closed session fails with ErrSessionClosed before any I/O. If the
// Channel breaks (I/O error, severity >= 20, cancellation mid-statement)
// it is closed and every later call fails with ErrChannelLost.
func (s *Session) Execute(ctx context.Context, query string, args ...any) (*result.ExecutionResult, error) {
	if s.closed.Load() {
		return nil, ErrSessionClosed
	}

	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	defer s.unlock()

	if s.closed.Load() {
		return nil, ErrSessionClosed
	}
	if s.lost != nil {
		return nil, fmt.Errorf("%w: %w", ErrChannelLost, s.lost)
	}

	if s.ch == nil {
		ch, err := s.dialer.Dial(ctx)
		if err != nil {
			return nil, err
		}
		s.ch = ch
		s.channelID.Store(int64(ch.ID()))
		s.connected.Store(true)
		s.log.Debug().Int("channel_id", ch.ID()).Msg("dedicated channel opened")
	}

	res, err := s.submit(ctx, query, args)
	if wire.IsChannelBroken(err) {
		s.log.Warn().Int("channel_id", s.ch.ID()).Err(err).Msg("dedicated channel lost")
		s.lost = err
		s.isLost.Store(true)
		s.closeChannelLocked()
	}

	// Close gave up waiting for this call
	if s.closed.Load() {
		s.closeChannelLocked()
	}
	return res, err
}

func (s *Session) submit(ctx context.Context, query string, args []any) (*result.ExecutionResult, error) {
	if err := wire.CheckSend(ctx); err != nil {
		return nil, err
	}
	stream, err := s.ch.Submit(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return result.Materialize(stream)
}

func (s *Session) closeChannelLocked() {
	if s.ch == nil {
		return
	}
	if err := s.ch.Close(); err != nil {
		s.log.Debug().Err(err).Msg("close dedicated channel")
	}
	s.ch = nil
	s.connected.Store(false)
}

// Close closes the Channel and makes the session terminal. It waits for
// an in-flight Execute; if ctx ends first, the Channel is closed when that
// call returns. Later calls to Close return nil.
func (s *Session) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	if err := s.lock(ctx); err != nil {
		return fmt.Errorf("close dedicated session: %w", err)
	}
	defer s.unlock()

	if s.ch != nil {
		s.log.Debug().Int("channel_id", s.ch.ID()).Msg("dedicated channel closed")
	}
	s.closeChannelLocked()
	return nil
}

// IsConnected reports whether the session holds an open Channel.
func (s *Session) IsConnected() bool {
	return !s.closed.Load() && s.connected.Load()
}

// Lost reports whether the pinned Channel broke.
func (s *Session) Lost() bool {
	return s.isLost.Load()
}

// IsClosed reports whether Close was called.
func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// ChannelID returns the server session id of the pinned Channel, or false
// before the first successful dial.
func (s *Session) ChannelID() (int, bool) {
	id := s.channelID.Load()
	return int(id), id != 0
}
