package identity

import "context"

// Filter - грубая оптимизация: позволяет пропустить батч целиком,
// если все его source_id уже есть в identity map.
// Корректность повторного запуска от него не зависит.
type Filter struct {
	m Map
}

// NewFilter создает фильтр поверх identity map
func NewFilter(m Map) *Filter {
	return &Filter{m: m}
}

// AlreadyImported возвращает true только если каждый id уже сопоставлен.
// Пустой набор id - false.
func (f *Filter) AlreadyImported(ctx context.Context, kind Kind, ids []string) (bool, error) {
	if len(ids) == 0 {
		return false, nil
	}
	missing, err := f.m.Missing(ctx, kind, ids)
	if err != nil {
		return false, err
	}
	return len(missing) == 0, nil
}
