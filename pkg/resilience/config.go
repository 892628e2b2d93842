package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Config - конфигурация Circuit Breaker вокруг открытия соединений
type Config struct {
	// Enabled - включить Circuit Breaker
	Enabled bool `yaml:"enabled"`

	// Name - имя для логов и метрик (обычно имя пула)
	Name string `yaml:"name"`

	// MaxFailures - количество подряд неудачных dial для открытия
	MaxFailures uint32 `yaml:"max_failures"`

	// OpenTimeout - время в Open состоянии перед переходом в Half-Open
	OpenTimeout time.Duration `yaml:"open_timeout"`

	// SuccessThreshold - количество успешных dial в Half-Open для закрытия
	SuccessThreshold uint32 `yaml:"success_threshold"`

	// OnStateChange - callback при изменении состояния, вызывается без lock
	OnStateChange func(name string, from, to State) `yaml:"-"`

	// IsFailure - какие ошибки считаются отказом сервера.
	// Если nil, отмена контекста вызывающей стороной не считается.
	IsFailure func(err error) bool `yaml:"-"`
}

// Validate - валидация конфигурации
func (c *Config) Validate() error {
	if c.MaxFailures == 0 {
		return fmt.Errorf("max_failures must be greater than 0")
	}

	if c.OpenTimeout <= 0 {
		return fmt.Errorf("open_timeout must be greater than 0")
	}

	if c.SuccessThreshold == 0 {
		c.SuccessThreshold = 1
	}

	if c.Name == "" {
		c.Name = "dial"
	}

	if c.IsFailure == nil {
		c.IsFailure = countsAsFailure
	}

	return nil
}

// countsAsFailure - отмена вызывающей стороной не говорит о здоровье сервера
func countsAsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// DefaultConfig - конфигурация по умолчанию
func DefaultConfig(name string) Config {
	return Config{
		Enabled:          true,
		Name:             name,
		MaxFailures:      5,
		OpenTimeout:      30 * time.Second,
		SuccessThreshold: 1,
	}
}

// AggressiveConfig - быстрое открытие, для пулов с коротким ConnectionTimeout
func AggressiveConfig(name string) Config {
	return Config{
		Enabled:          true,
		Name:             name,
		MaxFailures:      3,
		OpenTimeout:      10 * time.Second,
		SuccessThreshold: 2,
	}
}
