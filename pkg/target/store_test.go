package target

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSQLite(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{
		Dialect: DialectSQLite,
		DSN:     filepath.Join(t.TempDir(), "forum.db"),
		Migrate: true,
	}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var t0 = time.Date(2022, 3, 1, 10, 0, 0, 0, time.UTC)

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, Config{Dialect: DialectSQLite, DSN: "x.db"}.Validate())
	assert.Error(t, Config{Dialect: "oracle", DSN: "x"}.Validate())
	assert.Error(t, Config{Dialect: DialectPostgres}.Validate())
	assert.Error(t, Config{Dialect: DialectSQLite, DSN: "x.db", MaxOpenConns: -1}.Validate())
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t,
		"f.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		sqliteDSN("f.db"))
	assert.Equal(t, "f.db?_pragma=foreign_keys(0)", sqliteDSN("f.db?_pragma=foreign_keys(0)"))
	assert.NotContains(t, sqliteDSN(":memory:"), "journal_mode")
}

func TestStore_MigrateIsIdempotent(t *testing.T) {
	s := openSQLite(t)

	applied, err := s.Migrate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, applied)
	assert.Equal(t, DialectSQLite, s.Dialect())
}

func TestStore_MigrationsLeaveIdentityTable(t *testing.T) {
	s := openSQLite(t)

	// import_identity создает identity.SQLMap.EnsureTable
	var n int
	require.NoError(t, s.DB().QueryRowContext(context.Background(),
		`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = 'import_identity'`).Scan(&n))
	assert.Zero(t, n)
}

func TestStore_CreateUser(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)

	seen := t0.Add(time.Hour)
	id, err := s.CreateUser(ctx, NewUser{
		Username:     "Alice",
		Email:        " Alice@Example.com ",
		PasswordHash: "$2y$10$abc",
		CreatedAt:    t0,
		LastSeenAt:   &seen,
		ImportID:     "5",
	})
	require.NoError(t, err)
	// системный пользователь -1 не сдвигает нумерацию
	assert.Equal(t, int64(1), id)

	u, err := s.UserByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Alice", u.Username)
	assert.Equal(t, "Alice", u.Name)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.Equal(t, "$2y$10$abc", u.PasswordHash)
	assert.Equal(t, "5", u.ImportID)
	assert.True(t, t0.Equal(u.CreatedAt))
	require.NotNil(t, u.LastSeenAt)
	assert.True(t, seen.Equal(*u.LastSeenAt))
	assert.Nil(t, u.SuspendedTill)

	system, err := s.UserByID(ctx, SystemUserID)
	require.NoError(t, err)
	assert.Equal(t, "system", system.Username)

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Users)

	_, err = s.UserByID(ctx, 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_CreateUserConflicts(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)

	_, err := s.CreateUser(ctx, NewUser{Username: "alice", Email: "a@example.com", ImportID: "1"})
	require.NoError(t, err)

	_, err = s.CreateUser(ctx, NewUser{Username: "alice2", Email: "A@EXAMPLE.COM", ImportID: "2"})
	assert.ErrorIs(t, err, ErrConflict)
	assert.True(t, IsSkippable(err))

	_, err = s.CreateUser(ctx, NewUser{Username: "ALICE", ImportID: "3"})
	assert.ErrorIs(t, err, ErrConflict)

	_, err = s.CreateUser(ctx, NewUser{Username: "  ", ImportID: "4"})
	assert.ErrorIs(t, err, ErrInvalid)
	assert.NotErrorIs(t, err, ErrConflict)
	assert.True(t, IsSkippable(err))

	// пустой email не участвует в уникальности
	_, err = s.CreateUser(ctx, NewUser{Username: "bob", ImportID: "5"})
	require.NoError(t, err)
	_, err = s.CreateUser(ctx, NewUser{Username: "carol", ImportID: "6"})
	require.NoError(t, err)
}

func TestStore_CategoriesAndImportedID(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)

	pos := int64(3)
	general, err := s.CreateCategory(ctx, NewCategory{Name: "General", Slug: "general", Position: &pos, ImportID: "1"})
	require.NoError(t, err)
	sub, err := s.CreateCategory(ctx, NewCategory{Name: "Sub", Slug: "sub", ParentID: &general, ImportID: "child#2"})
	require.NoError(t, err)

	missing := int64(999)
	_, err = s.CreateCategory(ctx, NewCategory{Name: "Lost", Slug: "lost", ParentID: &missing})
	assert.ErrorIs(t, err, ErrInvalid)

	list, err := s.Categories(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "General", list[0].Name)
	require.NotNil(t, list[0].Position)
	assert.Equal(t, int64(3), *list[0].Position)
	require.NotNil(t, list[1].ParentID)
	assert.Equal(t, general, *list[1].ParentID)

	id, ok, err := s.ImportedID(ctx, EntityCategory, "child#2")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, sub, id)

	_, ok, err = s.ImportedID(ctx, EntityCategory, "2")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = s.ImportedID(ctx, "badge", "1")
	assert.Error(t, err)
}

func TestStore_TopicsAndPosts(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)

	user, err := s.CreateUser(ctx, NewUser{Username: "alice", ImportID: "1"})
	require.NoError(t, err)

	ref, err := s.CreateTopic(ctx, NewTopic{
		Title: "Hello", Slug: "hello", UserID: user, Raw: "first",
		CreatedAt: t0, ImportID: "100", DiscussionID: "50",
	})
	require.NoError(t, err)

	reply, err := s.CreatePost(ctx, NewPost{TopicID: ref.TopicID, UserID: SystemUserID, Raw: "second", CreatedAt: t0.Add(time.Hour), ImportID: "101"})
	require.NoError(t, err)
	// ответ, созданный раньше последнего, не двигает last_posted_at назад
	_, err = s.CreatePost(ctx, NewPost{TopicID: ref.TopicID, UserID: user, Raw: "early", CreatedAt: t0.Add(-time.Hour), ImportID: "99"})
	require.NoError(t, err)

	topic, err := s.TopicByID(ctx, ref.TopicID)
	require.NoError(t, err)
	assert.Equal(t, "Hello", topic.Title)
	assert.Nil(t, topic.CategoryID)
	assert.Equal(t, 3, topic.PostsCount)
	assert.Equal(t, 3, topic.HighestPostNumber)
	assert.True(t, t0.Add(time.Hour).Equal(topic.LastPostedAt))
	assert.Equal(t, "50", topic.DiscussionID)

	posts, err := s.Posts(ctx, ref.TopicID)
	require.NoError(t, err)
	require.Len(t, posts, 3)
	assert.Equal(t, ref.PostID, posts[0].ID)
	assert.Equal(t, "100", posts[0].ImportID)
	assert.Equal(t, reply, posts[1].ID)
	assert.Equal(t, []int{1, 2, 3}, []int{posts[0].PostNumber, posts[1].PostNumber, posts[2].PostNumber})

	firstPost, ok, err := s.ImportedID(ctx, EntityPost, "100")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ref.PostID, firstPost)

	imported, err := s.ImportedTopics(ctx)
	require.NoError(t, err)
	assert.Equal(t, []ImportedTopic{{TopicID: ref.TopicID, Title: "Hello", ImportID: "100", DiscussionID: "50"}}, imported)

	_, err = s.CreatePost(ctx, NewPost{TopicID: 12345, UserID: user, Raw: "x", ImportID: "500"})
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = s.CreateTopic(ctx, NewTopic{Title: "", UserID: user, ImportID: "600"})
	assert.ErrorIs(t, err, ErrInvalid)

	// неудачная транзакция не оставляет топик без первого поста
	_, err = s.CreateTopic(ctx, NewTopic{Title: "Ghost", Slug: "ghost", UserID: 777, Raw: "x", ImportID: "700"})
	assert.ErrorIs(t, err, ErrInvalid)
	_, ok, err = s.ImportedID(ctx, EntityTopic, "700")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.TopicByID(ctx, 4242)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_UploadsAndAvatar(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)

	alice, err := s.CreateUser(ctx, NewUser{Username: "alice", ImportID: "1"})
	require.NoError(t, err)
	bob, err := s.CreateUser(ctx, NewUser{Username: "bob", ImportID: "2"})
	require.NoError(t, err)

	up := NewUpload{UserID: alice, SHA: "abc", OriginalFilename: "a.png", Size: 10, ContentType: "image/png", URL: "/uploads/abc.png"}
	first, err := s.CreateUpload(ctx, up)
	require.NoError(t, err)
	up.UserID = bob
	second, err := s.CreateUpload(ctx, up)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	require.NoError(t, s.SetUserAvatar(ctx, bob, second))
	u, err := s.UserByID(ctx, bob)
	require.NoError(t, err)
	require.NotNil(t, u.UploadedAvatarID)
	assert.Equal(t, first, *u.UploadedAvatarID)

	assert.ErrorIs(t, s.SetUserAvatar(ctx, 999, first), ErrNotFound)

	_, err = s.CreateUpload(ctx, NewUpload{UserID: alice})
	assert.ErrorIs(t, err, ErrInvalid)

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Users: 2, Uploads: 1}, counts)
}

func TestStore_Permalinks(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)

	cat, err := s.CreateCategory(ctx, NewCategory{Name: "General", Slug: "general", ImportID: "1"})
	require.NoError(t, err)

	created, err := s.CreatePermalink(ctx, Permalink{URL: "t/general", CategoryID: &cat})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.CreatePermalink(ctx, Permalink{URL: "t/general", CategoryID: &cat})
	require.NoError(t, err)
	assert.False(t, created)

	_, err = s.CreatePermalink(ctx, Permalink{URL: "t/none"})
	assert.ErrorIs(t, err, ErrInvalid)

	p, err := s.PermalinkByURL(ctx, "t/general")
	require.NoError(t, err)
	assert.Nil(t, p.TopicID)
	require.NotNil(t, p.CategoryID)
	assert.Equal(t, cat, *p.CategoryID)

	_, err = s.PermalinkByURL(ctx, "t/other")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(sql.ErrConnDone))
	assert.True(t, IsTransient(errors.Wrap(driver.ErrBadConn, "exec")))
	assert.True(t, IsTransient(&pgconn.PgError{Code: "40001"}))
	assert.True(t, IsTransient(&pgconn.PgError{Code: "08006"}))
	assert.False(t, IsTransient(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsTransient(context.Canceled))
	assert.False(t, IsTransient(errors.New("syntax error")))
	assert.False(t, IsTransient(nil))
}

func TestClassifyPostgres(t *testing.T) {
	err := classify(&pgconn.PgError{Code: "23505", Message: "duplicate key", ConstraintName: "users_email_key"}, "create user")
	assert.ErrorIs(t, err, ErrConflict)
	assert.Contains(t, err.Error(), "users_email_key")

	assert.ErrorIs(t, classify(&pgconn.PgError{Code: "23503"}, "create post"), ErrInvalid)

	cause := &pgconn.PgError{Code: "42P01", Message: "relation does not exist"}
	err = classify(cause, "create topic")
	assert.False(t, IsSkippable(err))
	var pgErr *pgconn.PgError
	assert.True(t, errors.As(err, &pgErr))

	assert.NoError(t, classify(nil, "noop"))
}
