// Package permalink создает редиректы со старых URL Flarum
// на импортированные топики и категории.
package permalink

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/rs/zerolog"

	"github.com/ruslano69/forum-migrator/pkg/resilience"
	"github.com/ruslano69/forum-migrator/pkg/slug"
	"github.com/ruslano69/forum-migrator/pkg/target"
)

// Store - операции целевой платформы, нужные генератору
type Store interface {
	ImportedTopics(ctx context.Context) ([]target.ImportedTopic, error)
	Categories(ctx context.Context) ([]target.Category, error)
	CreatePermalink(ctx context.Context, p target.Permalink) (bool, error)
}

// Style - формат путей редиректов
type Style string

const (
	// StyleFlarum - пути, которые реально отдает Flarum:
	// d/<discussion_id>-<slug> и t/<slug>
	StyleFlarum Style = "flarum"
	// StyleLegacy - формат старого скрипта импорта: d/<import_id>-<slug>
	// и для топиков (id первого поста), и для категорий
	StyleLegacy Style = "legacy"
)

// ParseStyle проверяет имя формата из конфигурации
func ParseStyle(name string) (Style, error) {
	switch Style(name) {
	case "", StyleFlarum:
		return StyleFlarum, nil
	case StyleLegacy:
		return StyleLegacy, nil
	}
	return "", errors.Errorf("unknown permalink style %q", name)
}

// Stats - итог генерации
type Stats struct {
	Created  int64 `json:"created"`
	Existing int64 `json:"existing"`
	Failed   int64 `json:"failed"`
}

// Total - число обработанных сущностей
func (s Stats) Total() int64 { return s.Created + s.Existing + s.Failed }

// Generator создает редиректы. Ошибка отдельного редиректа не прерывает
// генерацию: она проходит через Tolerance и попадает в Failed.
type Generator struct {
	store     Store
	tolerance *resilience.Tolerance
	style     Style
	log       zerolog.Logger
}

// NewGenerator создает генератор. tolerance == nil - только логирование.
func NewGenerator(store Store, tolerance *resilience.Tolerance, log zerolog.Logger) *Generator {
	if tolerance == nil {
		tolerance = resilience.NewTolerance(log, nil)
	}
	return &Generator{store: store, tolerance: tolerance, style: StyleFlarum, log: log}
}

// SetStyle меняет формат путей
func (g *Generator) SetStyle(s Style) { g.style = s }

func (g *Generator) topicURL(t target.ImportedTopic) string {
	if g.style == StyleLegacy {
		return "d/" + t.ImportID + "-" + slug.Make(t.Title)
	}
	return TopicURL(t)
}

func (g *Generator) categoryURL(c target.Category) string {
	if g.style == StyleLegacy {
		return "d/" + c.ImportID + "-" + slug.OrFallback(c.Slug, c.Name)
	}
	return CategoryURL(c)
}

// TopicURL - d/<discussion_id>-<slug(title)>.
// Если id обсуждения неизвестен, используется id первого поста.
func TopicURL(t target.ImportedTopic) string {
	id := t.DiscussionID
	if id == "" {
		id = t.ImportID
	}
	return "d/" + id + "-" + slug.Make(t.Title)
}

// CategoryURL - t/<slug>
func CategoryURL(c target.Category) string {
	return "t/" + slug.OrFallback(c.Slug, c.Name)
}

// Generate создает редиректы для всех импортированных топиков и категорий.
// Ошибка чтения списка сущностей возвращается; ошибки записи редиректов - нет.
func (g *Generator) Generate(ctx context.Context) (Stats, error) {
	var stats Stats

	topics, err := g.store.ImportedTopics(ctx)
	if err != nil {
		return stats, errors.Wrap(err, "list imported topics")
	}
	for _, t := range topics {
		id := t.TopicID
		if err := g.create(ctx, &stats, target.Permalink{URL: g.topicURL(t), TopicID: &id}); err != nil {
			return stats, err
		}
	}

	cats, err := g.store.Categories(ctx)
	if err != nil {
		return stats, errors.Wrap(err, "list categories")
	}
	for _, c := range cats {
		if c.ImportID == "" {
			continue
		}
		id := c.ID
		if err := g.create(ctx, &stats, target.Permalink{URL: g.categoryURL(c), CategoryID: &id}); err != nil {
			return stats, err
		}
	}

	g.log.Info().
		Int64("created", stats.Created).
		Int64("existing", stats.Existing).
		Int64("failed", stats.Failed).
		Msg("permalinks generated")
	return stats, nil
}

// create возвращает ошибку только при отмене ctx
func (g *Generator) create(ctx context.Context, stats *Stats, p target.Permalink) error {
	var created bool
	ok, err := g.tolerance.Do(ctx, "permalink", p.URL, func(ctx context.Context) error {
		var err error
		created, err = g.store.CreatePermalink(ctx, p)
		return err
	})
	if err != nil {
		return err
	}

	switch {
	case !ok:
		stats.Failed++
	case created:
		stats.Created++
	default:
		stats.Existing++
	}
	return nil
}
