// Package retry повторяет операции с задержкой (constant/linear/exponential).
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/go-faster/errors"
)

// RetryableFunc - функция которую можно повторить
type RetryableFunc func(ctx context.Context) error

// ErrExhausted - все попытки исчерпаны
var ErrExhausted = errors.New("retry attempts exhausted")

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent помечает ошибку как не подлежащую повтору
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent проверяет пометку Permanent
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Retryer выполняет retry логику
type Retryer struct {
	config Config
}

// NewRetryer создает новый Retryer
func NewRetryer(config Config) (*Retryer, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid retry config")
	}
	return &Retryer{config: config}, nil
}

// MustRetryer - NewRetryer для заведомо корректной конфигурации
func MustRetryer(config Config) *Retryer {
	r, err := NewRetryer(config)
	if err != nil {
		panic(err)
	}
	return r
}

// Do выполняет fn, повторяя ее при ошибках.
// Непрерываемые ошибки возвращаются сразу и без обертки,
// чтобы вызывающий мог сравнить их через errors.Is.
func (r *Retryer) Do(ctx context.Context, fn RetryableFunc) error {
	if !r.config.Enabled {
		return fn(ctx)
	}

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		if !r.retryable(err) {
			var p *permanentError
			if errors.As(err, &p) {
				return p.err
			}
			return err
		}

		if attempt >= r.config.MaxAttempts {
			return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt, err)
		}

		if ctx.Err() != nil {
			return errors.Wrap(ctx.Err(), "context cancelled")
		}

		delay := r.delay(attempt)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return errors.Wrap(ctx.Err(), "context cancelled during retry")
		}
	}
}

// delay вычисляет задержку перед повтором номер attempt
func (r *Retryer) delay(attempt int) time.Duration {
	var d time.Duration

	switch r.config.Backoff {
	case BackoffLinear:
		d = r.config.InitialDelay * time.Duration(attempt)
	case BackoffExponential:
		m := math.Pow(r.config.Multiplier, float64(attempt-1))
		d = time.Duration(float64(r.config.InitialDelay) * m)
	default:
		d = r.config.InitialDelay
	}

	if d > r.config.MaxDelay {
		d = r.config.MaxDelay
	}

	if r.config.Jitter > 0 {
		d += time.Duration(float64(d) * r.config.Jitter * (rand.Float64()*2 - 1))
		if d < 0 {
			d = r.config.InitialDelay
		}
	}
	return d
}

func (r *Retryer) retryable(err error) bool {
	if IsPermanent(err) || errors.Is(err, context.Canceled) {
		return false
	}
	if r.config.Retryable == nil {
		return true
	}
	return r.config.Retryable(err)
}
