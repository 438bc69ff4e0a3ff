package importer

import (
	"context"

	"github.com/go-faster/errors"
	"golang.org/x/sync/errgroup"

	"github.com/ruslano69/forum-migrator/pkg/identity"
	"github.com/ruslano69/forum-migrator/pkg/mapper"
	"github.com/ruslano69/forum-migrator/pkg/source"
)

// importUsers - пользователи страницы независимы и пишутся параллельно
func (i *Importer) importUsers(ctx context.Context, stats *PhaseStats, cnt *counters, offset int, hc mapper.HookContext) error {
	total, err := i.src.CountUsers(ctx)
	if err != nil {
		return errors.Wrap(err, "count users")
	}
	stats.Total = total

	for {
		page, err := i.src.Users(ctx, offset, i.cfg.BatchSize)
		if err != nil {
			i.metrics.Batch(stats.Phase, offset, err)
			return errors.Wrapf(err, "read users at offset %d", offset)
		}
		if len(page.Rows) == 0 {
			return nil
		}

		done, err := i.filter.AlreadyImported(ctx, identity.KindUser, sourceIDs(page.Rows))
		if err != nil {
			return errors.Wrap(err, "check imported users")
		}

		if done {
			cnt.existing.Add(int64(len(page.Rows)))
		} else {
			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(i.cfg.Workers)
			for _, row := range page.Rows {
				g.Go(func() error {
					return i.apply(gctx, i.users.Map(row), hc, cnt)
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
		}

		offset = page.Next()
		i.batchDone(hc.Log, stats, cnt, offset)
		if page.Exhausted {
			return nil
		}
	}
}

// importCategories - сначала верхний уровень, затем дочерние:
// родитель дочерней категории должен быть уже в identity map
func (i *Importer) importCategories(ctx context.Context, stats *PhaseStats, cnt *counters, hc mapper.HookContext) error {
	tags, err := i.src.Tags(ctx)
	if err != nil {
		return errors.Wrap(err, "read tags")
	}
	stats.Total = len(tags)

	var children []source.TagRow
	for _, tag := range tags {
		if tag.IsChild() {
			children = append(children, tag)
			continue
		}
		if err := i.apply(ctx, i.categories.TopLevel(tag), hc, cnt); err != nil {
			return err
		}
	}

	for _, tag := range children {
		unit, err := i.categories.Child(ctx, tag)
		if err != nil {
			return err
		}
		if err := i.apply(ctx, unit, hc, cnt); err != nil {
			return err
		}
	}

	i.batchDone(hc.Log, stats, cnt, len(tags))
	return nil
}

// importPosts - в пределах страницы все первые посты пишутся раньше ответов.
// Ответ, топик которого еще не импортирован, откладывается до конца фазы
// и повторяется один раз. Ответы пишутся последовательно: номера постов
// следуют порядку источника.
func (i *Importer) importPosts(ctx context.Context, stats *PhaseStats, cnt *counters, offset int, hc mapper.HookContext) error {
	total, err := i.src.CountPosts(ctx)
	if err != nil {
		return errors.Wrap(err, "count posts")
	}
	stats.Total = total

	var deferred []source.PostRow

	for {
		page, err := i.src.Posts(ctx, offset, i.cfg.BatchSize)
		if err != nil {
			i.metrics.Batch(stats.Phase, offset, err)
			return errors.Wrapf(err, "read posts at offset %d", offset)
		}
		if len(page.Rows) == 0 {
			break
		}

		// первый пост записан и как topic, и как post
		done, err := i.filter.AlreadyImported(ctx, identity.KindPost, sourceIDs(page.Rows))
		if err != nil {
			return errors.Wrap(err, "check imported posts")
		}

		if done {
			cnt.existing.Add(int64(len(page.Rows)))
		} else {
			late, err := i.importPostPage(ctx, page.Rows, hc, cnt)
			if err != nil {
				return err
			}
			deferred = append(deferred, late...)
		}

		offset = page.Next()
		i.batchDone(hc.Log, stats, cnt, offset)
		if page.Exhausted {
			break
		}
	}

	if len(deferred) > 0 {
		hc.Log.Info().Int("replies", len(deferred)).Msg("retrying deferred replies")
	}
	for _, row := range deferred {
		unit, err := i.posts.Map(ctx, row)
		if err != nil {
			return err
		}
		if err := i.apply(ctx, unit, hc, cnt); err != nil {
			return err
		}
	}
	return nil
}

// importPostPage возвращает ответы, отложенные до конца фазы
func (i *Importer) importPostPage(ctx context.Context, rows []source.PostRow, hc mapper.HookContext, cnt *counters) ([]source.PostRow, error) {
	replies := make([]source.PostRow, 0, len(rows))
	for _, row := range rows {
		if !row.IsFirst() {
			replies = append(replies, row)
			continue
		}
		unit, err := i.posts.Map(ctx, row)
		if err != nil {
			return nil, err
		}
		if err := i.apply(ctx, unit, hc, cnt); err != nil {
			return nil, err
		}
	}

	var deferred []source.PostRow
	for _, row := range replies {
		unit, err := i.posts.Map(ctx, row)
		if err != nil {
			return nil, err
		}
		if unit.Blocked {
			deferred = append(deferred, row)
			continue
		}
		if err := i.apply(ctx, unit, hc, cnt); err != nil {
			return nil, err
		}
	}
	return deferred, nil
}

func (i *Importer) importPermalinks(ctx context.Context, stats *PhaseStats) error {
	ps, err := i.perma.Generate(ctx)
	if err != nil {
		return err
	}
	stats.Total = int(ps.Total())
	stats.Pages = 1
	stats.Created = ps.Created
	stats.Existing = ps.Existing
	stats.Degraded = ps.Failed
	return nil
}
