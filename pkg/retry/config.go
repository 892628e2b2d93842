package retry

import (
	"fmt"
	"time"
)

// BackoffStrategy определяет стратегию задержки между повторами
type BackoffStrategy string

const (
	// BackoffConstant - постоянная задержка
	BackoffConstant BackoffStrategy = "constant"
	// BackoffLinear - линейное увеличение задержки
	BackoffLinear BackoffStrategy = "linear"
	// BackoffExponential - экспоненциальное увеличение задержки
	BackoffExponential BackoffStrategy = "exponential"
)

// Config - расписание повторного открытия соединений.
// Применяется только к dial (прогрев и пополнение пула), никогда к SQL:
// инструкции не обязаны быть идемпотентными.
type Config struct {
	// MaxAttempts - максимальное количество попыток (включая первую)
	// 0 = без ограничения, до отмены контекста
	MaxAttempts int `yaml:"max_attempts"`

	// InitialDelay - задержка перед первым повтором
	InitialDelay time.Duration `yaml:"initial_delay"`

	// MaxDelay - верхняя граница задержки
	MaxDelay time.Duration `yaml:"max_delay"`

	// BackoffStrategy - стратегия увеличения задержки
	BackoffStrategy BackoffStrategy `yaml:"backoff"`

	// BackoffMultiplier - множитель для exponential (обычно 2.0)
	BackoffMultiplier float64 `yaml:"multiplier"`

	// Jitter - случайность задержки (0.0 - 1.0), разносит повторы
	// нескольких процессов по времени
	Jitter float64 `yaml:"jitter"`

	// Retryable - нужен ли повтор для ошибки. nil = для всех
	Retryable func(err error) bool `yaml:"-"`

	// OnRetry - callback перед каждым повтором
	OnRetry func(attempt int, err error, delay time.Duration) `yaml:"-"`
}

// Validate проверяет корректность конфигурации
func (c *Config) Validate() error {
	if c.MaxAttempts < 0 {
		return fmt.Errorf("max_attempts must be >= 0, got %d", c.MaxAttempts)
	}

	if c.InitialDelay < 0 {
		return fmt.Errorf("initial_delay must be >= 0")
	}

	if c.MaxDelay < c.InitialDelay {
		return fmt.Errorf("max_delay (%v) must be >= initial_delay (%v)", c.MaxDelay, c.InitialDelay)
	}

	switch c.BackoffStrategy {
	case "":
		c.BackoffStrategy = BackoffExponential
	case BackoffConstant, BackoffLinear, BackoffExponential:
	default:
		return fmt.Errorf("invalid backoff strategy: %s", c.BackoffStrategy)
	}

	if c.BackoffMultiplier <= 0 {
		c.BackoffMultiplier = 2.0
	}

	if c.Jitter < 0 || c.Jitter > 1.0 {
		return fmt.Errorf("jitter must be between 0.0 and 1.0, got %f", c.Jitter)
	}

	return nil
}

// DefaultConfig - расписание по умолчанию для пополнения пула
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       3,
		InitialDelay:      500 * time.Millisecond,
		MaxDelay:          30 * time.Second,
		BackoffStrategy:   BackoffExponential,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
	}
}
