// Package audit - журнал фаз импорта.
//
// Одна запись на фазу: run id, фаза, статус, счетчики, длительность, ошибка.
package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status - итог фазы
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	// StatusPartial - фаза завершена, но часть единиц пропущена
	StatusPartial Status = "partial"
)

// Entry - запись журнала
type Entry struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	Timestamp time.Time `json:"timestamp"`
	Phase     string    `json:"phase"`
	Status    Status    `json:"status"`

	Created  int64 `json:"created"`
	Existing int64 `json:"existing"`
	Skipped  int64 `json:"skipped"`
	Degraded int64 `json:"degraded,omitempty"`

	Duration     time.Duration `json:"duration"`
	ErrorMessage string        `json:"error_message,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewEntry - создать запись фазы
func NewEntry(runID, phase string, status Status) *Entry {
	return &Entry{
		ID:        uuid.NewString(),
		RunID:     runID,
		Timestamp: time.Now().UTC(),
		Phase:     phase,
		Status:    status,
	}
}

// WithCounts - установить счетчики
func (e *Entry) WithCounts(created, existing, skipped, degraded int64) *Entry {
	e.Created = created
	e.Existing = existing
	e.Skipped = skipped
	e.Degraded = degraded
	return e
}

// WithDuration - установить длительность
func (e *Entry) WithDuration(d time.Duration) *Entry {
	e.Duration = d
	return e
}

// WithError - ошибка переводит запись в failure
func (e *Entry) WithError(err error) *Entry {
	if err != nil {
		e.ErrorMessage = err.Error()
		e.Status = StatusFailure
	}
	return e
}

// WithMetadata - добавить метаданные
func (e *Entry) WithMetadata(key string, value any) *Entry {
	if e.Metadata == nil {
		e.Metadata = make(map[string]any)
	}
	e.Metadata[key] = value
	return e
}

// ToJSON - преобразовать в JSON
func (e *Entry) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

func (e *Entry) String() string {
	return fmt.Sprintf("[%s] run=%s phase=%s %s (created=%d existing=%d skipped=%d duration=%v)",
		e.Timestamp.Format(time.RFC3339),
		e.RunID,
		e.Phase,
		e.Status,
		e.Created,
		e.Existing,
		e.Skipped,
		e.Duration,
	)
}
