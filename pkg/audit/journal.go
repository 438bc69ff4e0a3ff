package audit

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// Journal пишет записи фаз одного запуска
type Journal struct {
	runID    string
	appender Appender
	onError  func(error)

	mu      sync.Mutex
	entries []Entry
}

// NewJournal - создать журнал запуска. Пустой runID - сгенерировать.
// onError вызывается при ошибке записи; сама ошибка наружу не идет.
func NewJournal(runID string, appender Appender, onError func(error)) *Journal {
	if runID == "" {
		runID = uuid.NewString()
	}
	if appender == nil {
		appender = NullAppender{}
	}
	return &Journal{runID: runID, appender: appender, onError: onError}
}

// RunID - идентификатор запуска
func (j *Journal) RunID() string { return j.runID }

// Phase записывает итог фазы. Статус - success, partial при пропусках,
// failure при ошибке.
func (j *Journal) Phase(ctx context.Context, phase string, created, existing, skipped, degraded int64, d time.Duration, phaseErr error) *Entry {
	status := StatusSuccess
	if skipped > 0 || degraded > 0 {
		status = StatusPartial
	}
	e := NewEntry(j.runID, phase, status).
		WithCounts(created, existing, skipped, degraded).
		WithDuration(d).
		WithError(phaseErr)

	j.Log(ctx, e)
	return e
}

// Log записывает готовую запись
func (j *Journal) Log(ctx context.Context, e *Entry) {
	if e.RunID == "" {
		e.RunID = j.runID
	}

	j.mu.Lock()
	j.entries = append(j.entries, *e)
	j.mu.Unlock()

	if err := j.appender.Append(ctx, e); err != nil && j.onError != nil {
		j.onError(errors.Wrap(err, "audit append"))
	}
}

// Entries - записанные в этом запуске записи
func (j *Journal) Entries() []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]Entry(nil), j.entries...)
}

// Close закрывает appender
func (j *Journal) Close() error {
	return j.appender.Close()
}
