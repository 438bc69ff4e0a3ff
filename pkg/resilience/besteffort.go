package resilience

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/go-faster/errors"
	"github.com/rs/zerolog"
)

// Failure - погашенная ошибка побочной операции
type Failure struct {
	Op  string
	Key string
	Err error
}

// Tolerance - политика best-effort: ошибка операции логируется,
// передается в OnFailure и не возвращается вызывающему.
// Отмена контекста не гасится.
type Tolerance struct {
	Log       zerolog.Logger
	OnFailure func(Failure)

	ok     atomic.Int64
	failed atomic.Int64
}

// NewTolerance создает политику best-effort
func NewTolerance(log zerolog.Logger, onFailure func(Failure)) *Tolerance {
	return &Tolerance{Log: log, OnFailure: onFailure}
}

// Do выполняет fn. Возвращает true, если операция прошла без ошибки.
// Ненулевая ошибка возвращается только при отмене ctx.
func (t *Tolerance) Do(ctx context.Context, op, key string, fn func(ctx context.Context) error) (ok bool, err error) {
	ferr := t.call(ctx, fn)
	if ferr == nil {
		t.ok.Add(1)
		return true, nil
	}

	if ctx.Err() != nil && errors.Is(ferr, ctx.Err()) {
		return false, ferr
	}

	t.failed.Add(1)
	t.Log.Warn().Err(ferr).Str("op", op).Str("key", key).Msg("best-effort operation failed")
	if t.OnFailure != nil {
		t.OnFailure(Failure{Op: op, Key: key, Err: ferr})
	}
	return false, nil
}

// call выполняет fn, превращая панику в ошибку
func (t *Tolerance) call(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

// Stats возвращает количество успешных и погашенных операций
func (t *Tolerance) Stats() (ok, failed int64) {
	return t.ok.Load(), t.failed.Load()
}

// BestEffort - Tolerance.Do без счетчиков и callback, только лог
func BestEffort(ctx context.Context, log zerolog.Logger, op, key string, fn func(ctx context.Context) error) bool {
	t := Tolerance{Log: log}
	ok, _ := t.Do(ctx, op, key, fn)
	return ok
}
