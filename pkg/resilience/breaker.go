// Package resilience - защита побочных операций импорта.
//
// CircuitBreaker быстро отказывает, если зависимость (хранилище файлов)
// стабильно падает. Tolerance.Do - единственная точка, где ошибки
// побочных операций (аватары, редиректы) гасятся и превращаются в диагностику.
package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-faster/errors"
)

// ErrCircuitOpen - circuit breaker открыт
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State - состояние Circuit Breaker
type State int

const (
	// StateClosed - нормальная работа, запросы проходят
	StateClosed State = iota
	// StateHalfOpen - пробный запрос после таймаута
	StateHalfOpen
	// StateOpen - запросы отклоняются
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// BreakerConfig - конфигурация Circuit Breaker
type BreakerConfig struct {
	Enabled bool   `yaml:"enabled" env-default:"true"`
	Name    string `yaml:"-"`

	// MaxFailures - количество последовательных ошибок для открытия
	MaxFailures uint32 `yaml:"max_failures" env-default:"5"`

	// Timeout - время в Open перед пробным запросом
	Timeout time.Duration `yaml:"timeout" env-default:"30s"`

	// SuccessThreshold - успешных вызовов в Half-Open для закрытия
	SuccessThreshold uint32 `yaml:"success_threshold" env-default:"1"`

	OnStateChange func(name string, from, to State) `yaml:"-"`
}

// Validate - валидация конфигурации
func (c *BreakerConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.MaxFailures == 0 {
		return errors.New("max_failures must be greater than 0")
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be greater than 0")
	}
	if c.SuccessThreshold == 0 {
		c.SuccessThreshold = 1
	}
	if c.Name == "" {
		c.Name = "circuit-breaker"
	}
	return nil
}

// DefaultBreakerConfig - конфигурация по умолчанию
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Enabled:          true,
		Name:             name,
		MaxFailures:      5,
		Timeout:          30 * time.Second,
		SuccessThreshold: 1,
	}
}

// Counts - счетчики текущего поколения
type Counts struct {
	Requests             uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
	Rejected             uint32
}

// CircuitBreaker - защита от каскадных сбоев
type CircuitBreaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu         sync.Mutex
	state      State
	generation uint64
	counts     Counts
	expiry     time.Time
}

// NewBreaker создает Circuit Breaker
func NewBreaker(cfg BreakerConfig) (*CircuitBreaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid circuit breaker config")
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}, nil
}

// Execute выполняет fn под защитой breaker.
// Паника внутри fn считается ошибкой и пробрасывается дальше.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if !cb.cfg.Enabled {
		return fn(ctx)
	}

	generation, err := cb.before()
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			cb.after(generation, false)
			panic(r)
		}
	}()

	err = fn(ctx)
	// отмена контекста - не сбой зависимости
	cb.after(generation, err == nil || errors.Is(err, context.Canceled))
	return err
}

func (cb *CircuitBreaker) before() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && !cb.now().Before(cb.expiry) {
		cb.setState(StateHalfOpen)
	}
	if cb.state == StateOpen {
		cb.counts.Rejected++
		return cb.generation, ErrCircuitOpen
	}
	return cb.generation, nil
}

func (cb *CircuitBreaker) after(generation uint64, success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	// результат запроса из прошлого поколения не учитывается
	if generation != cb.generation {
		return
	}

	cb.counts.Requests++
	if success {
		cb.counts.ConsecutiveSuccesses++
		cb.counts.ConsecutiveFailures = 0
		if cb.state == StateHalfOpen && cb.counts.ConsecutiveSuccesses >= cb.cfg.SuccessThreshold {
			cb.setState(StateClosed)
		}
		return
	}

	cb.counts.TotalFailures++
	cb.counts.ConsecutiveFailures++
	cb.counts.ConsecutiveSuccesses = 0

	switch cb.state {
	case StateClosed:
		if cb.counts.ConsecutiveFailures >= cb.cfg.MaxFailures {
			cb.setState(StateOpen)
		}
	case StateHalfOpen:
		cb.setState(StateOpen)
	}
}

// setState вызывается под cb.mu
func (cb *CircuitBreaker) setState(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.generation++
	cb.counts = Counts{}
	if to == StateOpen {
		cb.expiry = cb.now().Add(cb.cfg.Timeout)
	}
	if cb.cfg.OnStateChange != nil {
		go cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}

// State - текущее состояние
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Counts - счетчики текущего поколения
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

// Reset - вернуть в Closed
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.setState(StateClosed)
	cb.counts = Counts{}
}

// Name - имя Circuit Breaker
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

func (cb *CircuitBreaker) String() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return fmt.Sprintf("CircuitBreaker(%s state=%s failures=%d/%d)",
		cb.cfg.Name, cb.state, cb.counts.ConsecutiveFailures, cb.cfg.MaxFailures)
}
