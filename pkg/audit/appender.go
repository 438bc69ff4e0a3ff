package audit

import (
	"context"

	"github.com/rs/zerolog"
)

// Appender - интерфейс для записи журнала
type Appender interface {
	// Append - записать entry
	Append(ctx context.Context, entry *Entry) error

	// Close - закрыть appender
	Close() error
}

// MultiAppender - запись в несколько appenders
type MultiAppender struct {
	appenders []Appender
}

// NewMultiAppender - создать multi appender
func NewMultiAppender(appenders ...Appender) *MultiAppender {
	return &MultiAppender{appenders: appenders}
}

// Append - записать во все appenders; возвращается первая ошибка
func (ma *MultiAppender) Append(ctx context.Context, entry *Entry) error {
	var firstErr error
	for _, a := range ma.appenders {
		if err := a.Append(ctx, entry); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close - закрыть все appenders
func (ma *MultiAppender) Close() error {
	var firstErr error
	for _, a := range ma.appenders {
		if err := a.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// LogAppender пишет записи в zerolog
type LogAppender struct {
	log zerolog.Logger
}

// NewLogAppender - создать log appender
func NewLogAppender(log zerolog.Logger) *LogAppender {
	return &LogAppender{log: log.With().Str("component", "audit").Logger()}
}

// Append - записать в лог
func (la *LogAppender) Append(_ context.Context, e *Entry) error {
	ev := la.log.Info()
	if e.Status == StatusFailure {
		ev = la.log.Error()
	}
	ev.Str("run_id", e.RunID).
		Str("phase", e.Phase).
		Str("status", string(e.Status)).
		Int64("created", e.Created).
		Int64("existing", e.Existing).
		Int64("skipped", e.Skipped).
		Int64("degraded", e.Degraded).
		Dur("duration", e.Duration)
	if e.ErrorMessage != "" {
		ev.Str("error", e.ErrorMessage)
	}
	ev.Msg("phase finished")
	return nil
}

// Close - noop
func (la *LogAppender) Close() error { return nil }

// NullAppender - пустой appender (для тестов)
type NullAppender struct{}

func (NullAppender) Append(context.Context, *Entry) error { return nil }
func (NullAppender) Close() error                         { return nil }
