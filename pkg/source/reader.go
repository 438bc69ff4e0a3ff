package source

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-faster/errors"
)

// Querier - часть *sql.DB, нужная Reader
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Page - страница рядов одной сущности.
// Exhausted = true, если вернулось меньше рядов, чем запрошено;
// пустая страница всегда исчерпана.
type Page[T any] struct {
	Rows      []T
	Offset    int
	Exhausted bool
}

// Next возвращает offset следующей страницы
func (p Page[T]) Next() int { return p.Offset + len(p.Rows) }

// Reader читает Flarum постранично в стабильном порядке:
// users по id, posts по (created_at, id), tags по (position, id).
// Ошибки драйвера возвращаются как есть (обернутые); повторов внутри нет,
// вызывающий может перечитать страницу с того же offset.
type Reader struct {
	db     Querier
	prefix string
}

// NewReader создает Reader. prefix - префикс таблиц Flarum (может быть пустым).
func NewReader(db Querier, prefix string) *Reader {
	return &Reader{db: db, prefix: prefix}
}

func (r *Reader) table(name string) string { return r.prefix + name }

// Users читает страницу пользователей
func (r *Reader) Users(ctx context.Context, offset, size int) (Page[UserRow], error) {
	q := sq.Select(UserColumns...).
		From(r.table("users")).
		OrderBy("id")
	return readPage(ctx, r.db, q, "users", UserColumns, scanUser, offset, size)
}

// CountUsers возвращает общее количество пользователей
func (r *Reader) CountUsers(ctx context.Context) (int, error) {
	return r.count(ctx, sq.Select("COUNT(*)").From(r.table("users")), "users")
}

// Tags читает все теги. Порядок: по position (NULL в конце), затем по id.
func (r *Reader) Tags(ctx context.Context) ([]TagRow, error) {
	q := sq.Select(TagColumns...).
		From(r.table("tags")).
		OrderBy("position IS NULL", "position", "id")

	query, args, err := q.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build tags query")
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query tags")
	}
	defer rows.Close()

	if err := checkColumns(rows, "tags", TagColumns); err != nil {
		return nil, err
	}

	var out []TagRow
	for rows.Next() {
		row, err := scanTag(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate tags")
	}
	return out, nil
}

// postTypeComment - обычный пост; остальные типы (discussionRenamed,
// discussionTagged, ...) - служебные события
const postTypeComment = "comment"

// Posts читает страницу постов вместе с данными обсуждения.
// Для каждого обсуждения выбирается один дочерний тег и один тег
// верхнего уровня (наименьший id), поэтому каждый пост встречается один раз.
func (r *Reader) Posts(ctx context.Context, offset, size int) (Page[PostRow], error) {
	child, err := r.discussionTag(true)
	if err != nil {
		return Page[PostRow]{}, err
	}
	top, err := r.discussionTag(false)
	if err != nil {
		return Page[PostRow]{}, err
	}

	q := sq.Select(
		"p.id AS id",
		"p.discussion_id AS discussion_id",
		"d.title AS title",
		"d.first_post_id AS first_post_id",
		"p.user_id AS user_id",
		"p.content AS content",
		"p.created_at AS created_at",
		"ct.tag_id AS child_tag_id",
		"tt.tag_id AS top_tag_id",
	).
		From(r.table("posts") + " p").
		Join(r.table("discussions") + " d ON d.id = p.discussion_id").
		LeftJoin("(" + child + ") ct ON ct.discussion_id = d.id").
		LeftJoin("(" + top + ") tt ON tt.discussion_id = d.id").
		Where(sq.Eq{"p.type": postTypeComment}).
		OrderBy("p.created_at", "p.id")

	return readPage(ctx, r.db, q, "posts", PostColumns, scanPost, offset, size)
}

// CountPosts возвращает количество импортируемых постов
func (r *Reader) CountPosts(ctx context.Context) (int, error) {
	q := sq.Select("COUNT(*)").
		From(r.table("posts") + " p").
		Join(r.table("discussions") + " d ON d.id = p.discussion_id").
		Where(sq.Eq{"p.type": postTypeComment})
	return r.count(ctx, q, "posts")
}

// discussionTag строит подзапрос (discussion_id, tag_id) с наименьшим
// дочерним тегом (child=true) или тегом верхнего уровня обсуждения
func (r *Reader) discussionTag(child bool) (string, error) {
	cond := "tg.parent_id IS NULL"
	if child {
		cond = "tg.parent_id IS NOT NULL"
	}

	query, _, err := sq.Select("dt.discussion_id", "MIN(dt.tag_id) AS tag_id").
		From(r.table("discussion_tag") + " dt").
		Join(r.table("tags") + " tg ON tg.id = dt.tag_id").
		Where(cond).
		GroupBy("dt.discussion_id").
		ToSql()
	if err != nil {
		return "", errors.Wrap(err, "build discussion tag query")
	}
	return query, nil
}

func (r *Reader) count(ctx context.Context, q sq.SelectBuilder, entity string) (int, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return 0, errors.Wrapf(err, "build %s count", entity)
	}

	var n int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, errors.Wrapf(err, "count %s", entity)
	}
	return n, nil
}

func readPage[T any](
	ctx context.Context,
	db Querier,
	q sq.SelectBuilder,
	entity string,
	columns []string,
	scan func(*sql.Rows) (T, error),
	offset, size int,
) (Page[T], error) {
	page := Page[T]{Offset: offset}
	if size <= 0 {
		return page, errors.Errorf("%s: page size must be positive, got %d", entity, size)
	}
	if offset < 0 {
		return page, errors.Errorf("%s: negative offset %d", entity, offset)
	}

	query, args, err := q.Limit(uint64(size)).Offset(uint64(offset)).ToSql()
	if err != nil {
		return page, errors.Wrapf(err, "build %s query", entity)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return page, errors.Wrapf(err, "query %s at offset %d", entity, offset)
	}
	defer rows.Close()

	if err := checkColumns(rows, entity, columns); err != nil {
		return page, err
	}

	page.Rows = make([]T, 0, size)
	for rows.Next() {
		row, err := scan(rows)
		if err != nil {
			return page, err
		}
		page.Rows = append(page.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return page, errors.Wrapf(err, "iterate %s at offset %d", entity, offset)
	}

	page.Exhausted = len(page.Rows) < size
	return page, nil
}
