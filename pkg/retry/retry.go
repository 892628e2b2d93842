package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
)

// ErrMaxAttempts оборачивает последнюю ошибку после исчерпания попыток
var ErrMaxAttempts = errors.New("max retry attempts exceeded")

// RetryableFunc - функция которую можно повторить
type RetryableFunc func(ctx context.Context) error

// Retryer выполняет retry логику
type Retryer struct {
	config Config
}

// NewRetryer создает новый Retryer
func NewRetryer(config Config) (*Retryer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry config: %w", err)
	}
	return &Retryer{config: config}, nil
}

// Do выполняет функцию с повторами
func (r *Retryer) Do(ctx context.Context, fn RetryableFunc) error {
	attempts := 0

	for {
		attempts++

		err := fn(ctx)
		if err == nil {
			return nil
		}

		if !r.retryable(err) {
			return err
		}

		if r.config.MaxAttempts > 0 && attempts >= r.config.MaxAttempts {
			return fmt.Errorf("%w (%d): %w", ErrMaxAttempts, attempts, err)
		}

		if ctx.Err() != nil {
			return fmt.Errorf("context cancelled: %w", ctx.Err())
		}

		delay := r.Delay(attempts)

		if r.config.OnRetry != nil {
			r.config.OnRetry(attempts, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		}
	}
}

// Delay вычисляет задержку после attempt-й неудачи (attempt >= 1)
func (r *Retryer) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	var delay time.Duration

	switch r.config.BackoffStrategy {
	case BackoffLinear:
		delay = r.config.InitialDelay * time.Duration(attempt)

	case BackoffExponential:
		multiplier := math.Pow(r.config.BackoffMultiplier, float64(attempt-1))
		f := float64(r.config.InitialDelay) * multiplier
		if f > float64(r.config.MaxDelay) {
			f = float64(r.config.MaxDelay)
		}
		delay = time.Duration(f)

	default:
		delay = r.config.InitialDelay
	}

	if delay > r.config.MaxDelay {
		delay = r.config.MaxDelay
	}

	if r.config.Jitter > 0 {
		jitter := time.Duration(float64(delay) * r.config.Jitter * (rand.Float64()*2 - 1))
		delay += jitter
		if delay < 0 {
			delay = r.config.InitialDelay
		}
	}

	return delay
}

func (r *Retryer) retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if r.config.Retryable == nil {
		return true
	}
	return r.config.Retryable(err)
}

// Backoff - неблокирующий учет неудач для периодических задач.
// Фоновое обслуживание пула не спит между попытками: оно пропускает
// тики до наступления NextAttempt.
type Backoff struct {
	retryer *Retryer

	mu       sync.Mutex
	failures int
	next     time.Time
}

// NewBackoff создает Backoff с расписанием retryer
func NewBackoff(retryer *Retryer) *Backoff {
	return &Backoff{retryer: retryer}
}

// Ready - можно ли пытаться сейчас
func (b *Backoff) Ready(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !now.Before(b.next)
}

// Failure регистрирует неудачу и откладывает следующую попытку
func (b *Backoff) Failure(now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	delay := b.retryer.Delay(b.failures)
	b.next = now.Add(delay)
	return delay
}

// Success сбрасывает расписание
func (b *Backoff) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.next = time.Time{}
}

// Failures - количество неудач подряд
func (b *Backoff) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
