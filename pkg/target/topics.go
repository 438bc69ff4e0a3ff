package target

import (
	"context"
	"database/sql"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-faster/errors"
)

// CreateTopic создает топик и его первый пост в одной транзакции.
// Первый пост получает тот же import_id, что и топик.
func (s *Store) CreateTopic(ctx context.Context, t NewTopic) (TopicRef, error) {
	var ref TopicRef

	title := strings.TrimSpace(t.Title)
	if title == "" {
		return ref, errors.Wrapf(ErrInvalid, "topic %s: empty title", t.ImportID)
	}
	created := t.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	created = created.UTC()

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		err := s.builder.Insert("topics").
			Columns("title", "slug", "category_id", "user_id", "posts_count", "highest_post_number",
				"created_at", "last_posted_at", "import_id", "import_discussion_id").
			Values(title, t.Slug, nullInt(t.CategoryID), t.UserID, 1, 1,
				created, created, nullString(t.ImportID), nullString(t.DiscussionID)).
			Suffix("RETURNING id").
			RunWith(tx).
			QueryRowContext(ctx).
			Scan(&ref.TopicID)
		if err != nil {
			return classify(err, "create topic "+t.ImportID)
		}

		ref.PostID, err = s.insertPost(ctx, tx, ref.TopicID, 1, t.UserID, t.Raw, created, t.ImportID)
		return err
	})
	return ref, err
}

// CreatePost добавляет ответ в конец топика и обновляет счетчики топика
func (s *Store) CreatePost(ctx context.Context, p NewPost) (int64, error) {
	created := p.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	created = created.UTC()

	var id int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var (
			highest    int
			lastPosted time.Time
		)
		err := s.builder.Select("highest_post_number", "last_posted_at").
			From("topics").
			Where(sq.Eq{"id": p.TopicID}).
			RunWith(tx).
			QueryRowContext(ctx).
			Scan(&highest, &lastPosted)
		if errors.Is(err, sql.ErrNoRows) {
			return errors.Wrapf(ErrInvalid, "post %s: topic %d does not exist", p.ImportID, p.TopicID)
		}
		if err != nil {
			return errors.Wrapf(err, "read topic %d", p.TopicID)
		}

		number := highest + 1
		id, err = s.insertPost(ctx, tx, p.TopicID, number, p.UserID, p.Raw, created, p.ImportID)
		if err != nil {
			return err
		}

		if created.After(lastPosted) {
			lastPosted = created
		}
		_, err = s.builder.Update("topics").
			Set("posts_count", sq.Expr("posts_count + 1")).
			Set("highest_post_number", number).
			Set("last_posted_at", lastPosted.UTC()).
			Where(sq.Eq{"id": p.TopicID}).
			RunWith(tx).
			ExecContext(ctx)
		if err != nil {
			return errors.Wrapf(err, "update topic %d counters", p.TopicID)
		}
		return nil
	})
	return id, err
}

func (s *Store) insertPost(ctx context.Context, tx *sql.Tx, topicID int64, number int, userID int64, raw string, created time.Time, importID string) (int64, error) {
	var id int64
	err := s.builder.Insert("posts").
		Columns("topic_id", "user_id", "post_number", "raw", "created_at", "import_id").
		Values(topicID, userID, number, raw, created, nullString(importID)).
		Suffix("RETURNING id").
		RunWith(tx).
		QueryRowContext(ctx).
		Scan(&id)
	if err != nil {
		return 0, classify(err, "create post "+importID)
	}
	return id, nil
}

// inTx выполняет fn в транзакции; ошибка fn откатывает транзакцию
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
			s.log.Warn().Err(rerr).Msg("rollback")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit")
	}
	return nil
}

var topicColumns = []string{
	"id", "title", "slug", "category_id", "user_id", "posts_count", "highest_post_number",
	"created_at", "last_posted_at", "import_id", "import_discussion_id",
}

// TopicByID возвращает топик
func (s *Store) TopicByID(ctx context.Context, id int64) (Topic, error) {
	var (
		t                      Topic
		category               sql.NullInt64
		importID, discussionID sql.NullString
	)
	err := s.builder.Select(topicColumns...).
		From("topics").
		Where(sq.Eq{"id": id}).
		RunWith(s.db).
		QueryRowContext(ctx).
		Scan(&t.ID, &t.Title, &t.Slug, &category, &t.UserID, &t.PostsCount, &t.HighestPostNumber,
			&t.CreatedAt, &t.LastPostedAt, &importID, &discussionID)
	if errors.Is(err, sql.ErrNoRows) {
		return t, errors.Wrapf(ErrNotFound, "topic %d", id)
	}
	if err != nil {
		return t, errors.Wrapf(err, "get topic %d", id)
	}
	t.CategoryID = intPtr(category)
	t.ImportID, t.DiscussionID = importID.String, discussionID.String
	return t, nil
}

// ImportedTopics - все топики с import_id, в порядке создания
func (s *Store) ImportedTopics(ctx context.Context) ([]ImportedTopic, error) {
	rows, err := s.builder.Select("id", "title", "import_id", "import_discussion_id").
		From("topics").
		Where(sq.NotEq{"import_id": nil}).
		OrderBy("id").
		RunWith(s.db).
		QueryContext(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list imported topics")
	}
	defer rows.Close()

	var out []ImportedTopic
	for rows.Next() {
		var (
			t          ImportedTopic
			discussion sql.NullString
		)
		if err := rows.Scan(&t.TopicID, &t.Title, &t.ImportID, &discussion); err != nil {
			return nil, errors.Wrap(err, "scan topic")
		}
		t.DiscussionID = discussion.String
		out = append(out, t)
	}
	return out, rows.Err()
}

// Posts - посты топика по номеру
func (s *Store) Posts(ctx context.Context, topicID int64) ([]Post, error) {
	rows, err := s.builder.Select("id", "topic_id", "user_id", "post_number", "raw", "created_at", "import_id").
		From("posts").
		Where(sq.Eq{"topic_id": topicID}).
		OrderBy("post_number").
		RunWith(s.db).
		QueryContext(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "list posts of topic %d", topicID)
	}
	defer rows.Close()

	var out []Post
	for rows.Next() {
		var (
			p        Post
			importID sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.TopicID, &p.UserID, &p.PostNumber, &p.Raw, &p.CreatedAt, &importID); err != nil {
			return nil, errors.Wrap(err, "scan post")
		}
		p.ImportID = importID.String
		out = append(out, p)
	}
	return out, rows.Err()
}
