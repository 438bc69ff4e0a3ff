// Package identity хранит соответствие первичных ключей исходного форума
// первичным ключам целевой платформы: (kind, source_id) → target_id.
//
// Map - долговременное хранилище (SQL или Redis), переживает перезапуски
// процесса. Запись выполняется по принципу compare-and-set: если для пары
// (kind, source_id) уже есть значение, Record ничего не меняет.
package identity

import (
	"context"

	"github.com/go-faster/errors"
)

// Kind - тип сущности, раздел identity map и фаза импорта
type Kind string

const (
	KindUser     Kind = "user"
	KindCategory Kind = "category"
	KindTopic    Kind = "topic"
	KindPost     Kind = "post"
)

// Kinds возвращает все известные типы сущностей в порядке фаз импорта
func Kinds() []Kind {
	return []Kind{KindUser, KindCategory, KindTopic, KindPost}
}

// Valid проверяет, что тип сущности известен
func (k Kind) Valid() bool {
	switch k {
	case KindUser, KindCategory, KindTopic, KindPost:
		return true
	}
	return false
}

// ErrInvalidKind - неизвестный тип сущности
var ErrInvalidKind = errors.New("invalid entity kind")

// Map - интерфейс identity map
type Map interface {
	// Resolve возвращает target_id для (kind, sourceID); ok=false если соответствия нет
	Resolve(ctx context.Context, kind Kind, sourceID string) (targetID int64, ok bool, err error)

	// Record сохраняет соответствие. Если запись уже существует - no-op,
	// recorded=false. Существующее значение никогда не перезаписывается.
	Record(ctx context.Context, kind Kind, sourceID string, targetID int64) (recorded bool, err error)

	// Missing возвращает те sourceIDs, для которых соответствия нет
	// (в порядке входного списка)
	Missing(ctx context.Context, kind Kind, sourceIDs []string) ([]string, error)
}

// Resolver - только чтение; этого достаточно мапперам
type Resolver interface {
	Resolve(ctx context.Context, kind Kind, sourceID string) (targetID int64, ok bool, err error)
}

func checkKind(kind Kind) error {
	if !kind.Valid() {
		return errors.Wrapf(ErrInvalidKind, "%q", kind)
	}
	return nil
}

// chunk разбивает список id на куски для IN (...) / HMGET
func chunk(ids []string, size int) [][]string {
	if size <= 0 {
		size = len(ids)
	}
	var out [][]string
	for len(ids) > size {
		out = append(out, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}
