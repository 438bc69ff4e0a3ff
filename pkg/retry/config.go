package retry

import (
	"time"

	"github.com/go-faster/errors"
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

// Config содержит конфигурацию повторов.
// Используется для подключения к исходной базе и для транзиентных
// ошибок записи в целевую базу.
type Config struct {
	Enabled bool `yaml:"enabled" env-default:"true"`

	// MaxAttempts - максимальное количество попыток (включая первую)
	MaxAttempts int `yaml:"max_attempts" env-default:"5"`

	InitialDelay time.Duration `yaml:"initial_delay" env-default:"500ms"`
	MaxDelay     time.Duration `yaml:"max_delay" env-default:"30s"`

	Backoff    BackoffStrategy `yaml:"backoff" env-default:"exponential"`
	Multiplier float64         `yaml:"multiplier" env-default:"2"`

	// Jitter - доля случайного отклонения задержки (0.0 - 1.0)
	Jitter float64 `yaml:"jitter" env-default:"0.1"`

	// Retryable решает, стоит ли повторять ошибку.
	// nil = повторять все ошибки, кроме Permanent.
	Retryable func(error) bool `yaml:"-"`

	// OnRetry вызывается перед каждым повтором
	OnRetry func(attempt int, err error, delay time.Duration) `yaml:"-"`
}

// Validate проверяет корректность конфигурации
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.MaxAttempts < 1 {
		return errors.Errorf("max_attempts must be >= 1, got %d", c.MaxAttempts)
	}
	if c.InitialDelay < 0 {
		return errors.New("initial_delay must be >= 0")
	}
	if c.MaxDelay < c.InitialDelay {
		return errors.Errorf("max_delay (%v) must be >= initial_delay (%v)", c.MaxDelay, c.InitialDelay)
	}

	switch c.Backoff {
	case BackoffConstant, BackoffLinear, BackoffExponential:
	case "":
		c.Backoff = BackoffExponential
	default:
		return errors.Errorf("invalid backoff strategy: %s", c.Backoff)
	}

	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	if c.Jitter < 0 || c.Jitter > 1.0 {
		return errors.Errorf("jitter must be between 0.0 and 1.0, got %f", c.Jitter)
	}
	return nil
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		MaxAttempts:  5,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Backoff:      BackoffExponential,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}

// Disabled - одна попытка без повторов
func Disabled() Config {
	c := DefaultConfig()
	c.Enabled = false
	return c
}

// Fixed - постоянная задержка, удобно в тестах
func Fixed(maxAttempts int, delay time.Duration) Config {
	c := DefaultConfig()
	c.MaxAttempts = maxAttempts
	c.InitialDelay = delay
	c.MaxDelay = delay
	c.Backoff = BackoffConstant
	c.Jitter = 0
	return c
}
