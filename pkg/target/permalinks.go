package target

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-faster/errors"
)

// CreatePermalink создает редирект, если такого URL еще нет.
// created=false - URL уже занят (этим или другим редиректом).
func (s *Store) CreatePermalink(ctx context.Context, p Permalink) (bool, error) {
	if p.URL == "" || (p.TopicID == nil) == (p.CategoryID == nil) {
		return false, errors.Wrapf(ErrInvalid, "permalink %q needs exactly one target", p.URL)
	}

	res, err := s.builder.Insert("permalinks").
		Columns("url", "topic_id", "category_id").
		Values(p.URL, nullInt(p.TopicID), nullInt(p.CategoryID)).
		Suffix("ON CONFLICT (url) DO NOTHING").
		RunWith(s.db).
		ExecContext(ctx)
	if err != nil {
		return false, classify(err, "create permalink "+p.URL)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "rows affected")
	}
	return n == 1, nil
}

// PermalinkByURL возвращает редирект
func (s *Store) PermalinkByURL(ctx context.Context, url string) (Permalink, error) {
	var (
		p               Permalink
		topic, category sql.NullInt64
	)
	err := s.builder.Select("url", "topic_id", "category_id").
		From("permalinks").
		Where(sq.Eq{"url": url}).
		RunWith(s.db).
		QueryRowContext(ctx).
		Scan(&p.URL, &topic, &category)
	if errors.Is(err, sql.ErrNoRows) {
		return p, errors.Wrapf(ErrNotFound, "permalink %q", url)
	}
	if err != nil {
		return p, errors.Wrapf(err, "get permalink %q", url)
	}
	p.TopicID, p.CategoryID = intPtr(topic), intPtr(category)
	return p, nil
}
