package importer

import (
	"sync"
	"time"
)

// Severity - тип замечания
type Severity string

const (
	// SeveritySkip - единица не импортирована
	SeveritySkip Severity = "skip"
	// SeverityDegrade - сущность создана, побочная операция не удалась
	SeverityDegrade Severity = "degrade"
	// SeverityNote - сущность создана с оговоркой (например, без категории)
	SeverityNote Severity = "note"
)

// Diagnostic - замечание по одной единице
type Diagnostic struct {
	Time     time.Time `json:"time"`
	Phase    string    `json:"phase"`
	Kind     string    `json:"kind"`
	SourceID string    `json:"source_id"`
	Severity Severity  `json:"severity"`
	Reason   string    `json:"reason"`
}

// Diagnostics собирает замечания запуска; безопасен для горутин
type Diagnostics struct {
	mu    sync.Mutex
	items []Diagnostic
	limit int
	lost  int
}

// NewDiagnostics - limit <= 0 без ограничения; сверх лимита замечания
// только считаются
func NewDiagnostics(limit int) *Diagnostics {
	return &Diagnostics{limit: limit}
}

// Add добавляет замечание
func (d *Diagnostics) Add(item Diagnostic) {
	if item.Time.IsZero() {
		item.Time = time.Now().UTC()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.limit > 0 && len(d.items) >= d.limit {
		d.lost++
		return
	}
	d.items = append(d.items, item)
}

// Items - копия собранных замечаний
func (d *Diagnostics) Items() []Diagnostic {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Diagnostic(nil), d.items...)
}

// Dropped - число замечаний сверх лимита
func (d *Diagnostics) Dropped() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lost
}

// Count - число замечаний фазы заданного типа (без учета отброшенных)
func (d *Diagnostics) Count(phase string, sev Severity) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, it := range d.items {
		if it.Phase == phase && it.Severity == sev {
			n++
		}
	}
	return n
}
