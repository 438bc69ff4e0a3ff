// Package mapper превращает ряды источника в единицы импорта.
//
// Маппер не пишет в целевую платформу: он только разрешает внешние ключи
// через identity map и формирует Unit. Запись выполняет importer.Committer.
package mapper

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/ruslano69/forum-migrator/pkg/identity"
	"github.com/ruslano69/forum-migrator/pkg/target"
)

// Phase - фаза импорта
type Phase string

const (
	PhaseUsers      Phase = "users"
	PhaseCategories Phase = "categories"
	PhasePosts      Phase = "posts"
	PhasePermalinks Phase = "permalinks"
)

// Phases - фазы в порядке выполнения
func Phases() []Phase {
	return []Phase{PhaseUsers, PhaseCategories, PhasePosts, PhasePermalinks}
}

// HookContext передается в post-create hook явно.
// ImportMode=true - запись идет из импорта, побочные эффекты живой
// платформы (уведомления, пересчет аватаров) не нужны.
type HookContext struct {
	Phase      Phase
	ImportMode bool
	Log        zerolog.Logger
}

// Hook вызывается после создания сущности с ее target id.
// Ошибка hook никогда не прерывает импорт.
type Hook func(ctx context.Context, hc HookContext, targetID int64) error

// Unit - единица импорта: ровно одна сущность одного вида
type Unit struct {
	Kind     identity.Kind
	SourceID string

	// ровно одно из полей заполнено
	User     *target.NewUser
	Category *target.NewCategory
	Topic    *target.NewTopic
	Post     *target.NewPost

	Hook Hook

	// Skip - причина пропуска; непустая - не создавать
	Skip string
	// Blocked - пропуск из-за еще не импортированной зависимости,
	// единицу имеет смысл построить заново позже
	Blocked bool

	// Notes - некритичные замечания (например, топик без категории)
	Notes []string
}

// Skipped - единица помечена к пропуску
func (u Unit) Skipped() bool { return u.Skip != "" }

func skipUnit(kind identity.Kind, sourceID, reason string, blocked bool) Unit {
	return Unit{Kind: kind, SourceID: sourceID, Skip: reason, Blocked: blocked}
}
