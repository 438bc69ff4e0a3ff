// Package progress хранит контрольные точки фаз импорта.
//
// Контрольная точка - оптимизация повторного запуска: фаза может начать
// с сохраненного смещения. Корректность повторного запуска обеспечивает
// identity map, а не этот файл.
package progress

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/go-faster/errors"
)

// Checkpoint - состояние одной фазы
type Checkpoint struct {
	Phase     string    `json:"phase"`
	Offset    int       `json:"offset"` // смещение следующей страницы
	Total     int       `json:"total,omitempty"`
	Created   int64     `json:"created"`
	Existing  int64     `json:"existing"`
	Skipped   int64     `json:"skipped"`
	Completed bool      `json:"completed"`
	UpdatedAt time.Time `json:"updated_at"`
	LastError string    `json:"last_error,omitempty"`
}

// Manager управляет контрольными точками всех фаз
type Manager struct {
	mu       sync.RWMutex
	states   map[string]*Checkpoint
	path     string // пустой путь - только в памяти
	autoSave bool
	now      func() time.Time
}

// NewManager создает менеджер и загружает файл, если он существует
func NewManager(path string, autoSave bool) (*Manager, error) {
	m := &Manager{
		states:   make(map[string]*Checkpoint),
		path:     path,
		autoSave: autoSave,
		now:      time.Now,
	}

	if path == "" {
		return m, nil
	}
	if _, err := os.Stat(path); err == nil {
		if err := m.Load(); err != nil {
			return nil, errors.Wrap(err, "load checkpoints")
		}
	}
	return m, nil
}

// Get возвращает копию контрольной точки фазы (пустую, если фаза не запускалась)
func (m *Manager) Get(phase string) Checkpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if cp, ok := m.states[phase]; ok {
		return *cp
	}
	return Checkpoint{Phase: phase}
}

// Update сохраняет состояние фазы после обработанной страницы
func (m *Manager) Update(cp Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp.UpdatedAt = m.now()
	cp.LastError = ""
	m.states[cp.Phase] = &cp
	return m.autoSaveLocked()
}

// Complete отмечает фазу завершенной
func (m *Manager) Complete(phase string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := m.lockedState(phase)
	cp.Completed = true
	cp.LastError = ""
	cp.UpdatedAt = m.now()
	return m.autoSaveLocked()
}

// Fail запоминает ошибку фазы, сохраняя смещение
func (m *Manager) Fail(phase string, err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := m.lockedState(phase)
	cp.Completed = false
	cp.LastError = err.Error()
	cp.UpdatedAt = m.now()
	return m.autoSaveLocked()
}

// Reset удаляет контрольную точку фазы
func (m *Manager) Reset(phase string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.states, phase)
	return m.autoSaveLocked()
}

// ResetAll удаляет все контрольные точки
func (m *Manager) ResetAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.states = make(map[string]*Checkpoint)
	return m.autoSaveLocked()
}

// All - копии всех контрольных точек, отсортированные по времени обновления
func (m *Manager) All() []Checkpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Checkpoint, 0, len(m.states))
	for _, cp := range m.states {
		out = append(out, *cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].Phase < out[j].Phase
		}
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	return out
}

// Path - путь к файлу контрольных точек
func (m *Manager) Path() string { return m.path }

// Save записывает файл (через временный файл и rename)
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked()
}

// Load перечитывает файл
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.path)
	if err != nil {
		return errors.Wrap(err, "read checkpoint file")
	}

	states := make(map[string]*Checkpoint)
	if err := json.Unmarshal(data, &states); err != nil {
		return errors.Wrap(err, "decode checkpoint file")
	}
	m.states = states
	return nil
}

func (m *Manager) lockedState(phase string) *Checkpoint {
	cp, ok := m.states[phase]
	if !ok {
		cp = &Checkpoint{Phase: phase}
		m.states[phase] = cp
	}
	return cp
}

func (m *Manager) autoSaveLocked() error {
	if !m.autoSave {
		return nil
	}
	return m.saveLocked()
}

func (m *Manager) saveLocked() error {
	if m.path == "" {
		return nil
	}

	data, err := json.MarshalIndent(m.states, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode checkpoints")
	}

	if dir := filepath.Dir(m.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "create checkpoint dir")
		}
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "write checkpoint file")
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return errors.Wrap(err, "replace checkpoint file")
	}
	return nil
}
