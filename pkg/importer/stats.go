package importer

import (
	"sync/atomic"
	"time"
)

// PhaseStats - итог фазы
type PhaseStats struct {
	Phase     string        `json:"phase"`
	Total     int           `json:"total,omitempty"`
	Pages     int           `json:"pages"`
	Created   int64         `json:"created"`
	Existing  int64         `json:"existing"`
	Skipped   int64         `json:"skipped"`
	Degraded  int64         `json:"degraded"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Resumed   bool          `json:"resumed,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// Processed - число обработанных единиц
func (s PhaseStats) Processed() int64 { return s.Created + s.Existing + s.Skipped }

// RunStats - итог запуска
type RunStats struct {
	RunID       string        `json:"run_id"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
	Duration    time.Duration `json:"duration"`
	Phases      []PhaseStats  `json:"phases"`
	Diagnostics []Diagnostic  `json:"-"`
	Error       string        `json:"error,omitempty"`
}

// Phase возвращает итог фазы по имени
func (r RunStats) Phase(name string) (PhaseStats, bool) {
	for _, p := range r.Phases {
		if p.Phase == name {
			return p, true
		}
	}
	return PhaseStats{}, false
}

// counters - счетчики фазы, в которые пишут горутины users-фазы
type counters struct {
	created  atomic.Int64
	existing atomic.Int64
	skipped  atomic.Int64
	degraded atomic.Int64
}

func (c *counters) add(r Result) {
	switch r.Status {
	case StatusCreated:
		c.created.Add(1)
	case StatusExisting:
		c.existing.Add(1)
	case StatusSkipped:
		c.skipped.Add(1)
	}
	if r.Degraded {
		c.degraded.Add(1)
	}
}

func (c *counters) fill(s *PhaseStats) {
	s.Created = c.created.Load()
	s.Existing = c.existing.Load()
	s.Skipped = c.skipped.Load()
	s.Degraded = c.degraded.Load()
}
