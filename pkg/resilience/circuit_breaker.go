package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrCircuitOpen - circuit breaker открыт, сервер считается недоступным
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrHalfOpenBusy - в Half-Open уже идет пробный вызов
	ErrHalfOpenBusy = errors.New("circuit breaker is probing")
)

// State - состояние Circuit Breaker
type State int

const (
	// StateClosed - нормальная работа, dial проходят
	StateClosed State = iota

	// StateHalfOpen - пробный dial после таймаута
	StateHalfOpen

	// StateOpen - dial отклоняются без сетевого вызова
	StateOpen
)

// String - строковое представление состояния
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Counts - счетчики текущего поколения
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// CircuitBreaker - защита сервера от лавины повторных подключений.
// Пул оборачивает в него каждый dial: после MaxFailures подряд
// новые соединения не открываются до истечения OpenTimeout.
type CircuitBreaker struct {
	config Config
	now    func() time.Time

	mu         sync.Mutex
	state      State
	generation uint64
	counts     Counts
	expiry     time.Time
	probing    bool
}

// New - создать новый Circuit Breaker
func New(config Config) (*CircuitBreaker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid circuit breaker config: %w", err)
	}

	return &CircuitBreaker{
		config: config,
		now:    time.Now,
	}, nil
}

// Execute - выполнить dial с защитой circuit breaker
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.config.Enabled {
		return fn(ctx)
	}

	generation, halfOpen, err := cb.beforeRequest()
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			cb.afterRequest(generation, halfOpen, false)
			panic(r)
		}
	}()

	err = fn(ctx)

	switch {
	case err == nil:
		cb.afterRequest(generation, halfOpen, true)
	case cb.config.IsFailure(err):
		cb.afterRequest(generation, halfOpen, false)
	default:
		// не отказ сервера: только освобождаем пробный слот
		cb.release(halfOpen)
	}

	return err
}

// beforeRequest - проверка состояния перед dial
func (cb *CircuitBreaker) beforeRequest() (uint64, bool, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && !cb.now().Before(cb.expiry) {
		cb.setStateLocked(StateHalfOpen)
	}

	switch cb.state {
	case StateOpen:
		return cb.generation, false, ErrCircuitOpen
	case StateHalfOpen:
		// в Half-Open пропускаем по одному пробному dial
		if cb.probing {
			return cb.generation, false, ErrHalfOpenBusy
		}
		cb.probing = true
		return cb.generation, true, nil
	}

	return cb.generation, false, nil
}

// afterRequest - учет результата dial
func (cb *CircuitBreaker) afterRequest(generation uint64, halfOpen, success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if halfOpen {
		cb.probing = false
	}

	// Состояние сменилось во время dial, результат устарел
	if generation != cb.generation {
		return
	}

	cb.counts.Requests++
	if success {
		cb.counts.TotalSuccesses++
		cb.counts.ConsecutiveSuccesses++
		cb.counts.ConsecutiveFailures = 0

		if cb.state == StateHalfOpen && cb.counts.ConsecutiveSuccesses >= cb.config.SuccessThreshold {
			cb.setStateLocked(StateClosed)
		}
		return
	}

	cb.counts.TotalFailures++
	cb.counts.ConsecutiveFailures++
	cb.counts.ConsecutiveSuccesses = 0

	switch cb.state {
	case StateClosed:
		if cb.counts.ConsecutiveFailures >= cb.config.MaxFailures {
			cb.setStateLocked(StateOpen)
		}
	case StateHalfOpen:
		// Любая ошибка в Half-Open возвращает в Open
		cb.setStateLocked(StateOpen)
	}
}

func (cb *CircuitBreaker) release(halfOpen bool) {
	if !halfOpen {
		return
	}
	cb.mu.Lock()
	cb.probing = false
	cb.mu.Unlock()
}

// setStateLocked - смена состояния, cb.mu должен быть взят
func (cb *CircuitBreaker) setStateLocked(to State) {
	from := cb.state
	if from == to {
		return
	}

	cb.state = to
	cb.generation++
	cb.counts = Counts{}
	if to == StateOpen {
		cb.expiry = cb.now().Add(cb.config.OpenTimeout)
	}

	if cb.config.OnStateChange != nil {
		go cb.config.OnStateChange(cb.config.Name, from, to)
	}
}

// State - текущее состояние
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && !cb.now().Before(cb.expiry) {
		return StateHalfOpen
	}
	return cb.state
}

// Counts - счетчики текущего поколения
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

// Reset - принудительно закрыть circuit
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.setStateLocked(StateClosed)
	cb.counts = Counts{}
	cb.probing = false
}

// Name - имя Circuit Breaker
func (cb *CircuitBreaker) Name() string {
	return cb.config.Name
}

// String - строковое представление
func (cb *CircuitBreaker) String() string {
	counts := cb.Counts()
	return fmt.Sprintf("CircuitBreaker(%s state=%s failures=%d/%d)",
		cb.config.Name,
		cb.State(),
		counts.ConsecutiveFailures,
		cb.config.MaxFailures,
	)
}
