package mapper

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruslano69/forum-migrator/pkg/assets"
	"github.com/ruslano69/forum-migrator/pkg/identity"
	"github.com/ruslano69/forum-migrator/pkg/resilience"
	"github.com/ruslano69/forum-migrator/pkg/source"
	"github.com/ruslano69/forum-migrator/pkg/target"
)

type resolver map[identity.Kind]map[string]int64

func (r resolver) set(kind identity.Kind, sourceID string, targetID int64) {
	if r[kind] == nil {
		r[kind] = map[string]int64{}
	}
	r[kind][sourceID] = targetID
}

func (r resolver) Resolve(_ context.Context, kind identity.Kind, sourceID string) (int64, bool, error) {
	id, ok := r[kind][sourceID]
	return id, ok, nil
}

type failingResolver struct{ err error }

func (f failingResolver) Resolve(context.Context, identity.Kind, string) (int64, bool, error) {
	return 0, false, f.err
}

func ptr(v int64) *int64 { return &v }

func TestUserMapper_Map(t *testing.T) {
	joined := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	m := &UserMapper{}

	u := m.Map(source.UserRow{
		ID:           7,
		Username:     "alice",
		Email:        "a@example.com",
		PasswordHash: "$2y$10$hash",
		AvatarURL:    "a.png",
		JoinedAt:     &joined,
	})

	assert.Equal(t, identity.KindUser, u.Kind)
	assert.Equal(t, "7", u.SourceID)
	require.NotNil(t, u.User)
	assert.Equal(t, "alice", u.User.Username)
	assert.Equal(t, "alice", u.User.Name)
	assert.Equal(t, "$2y$10$hash", u.User.PasswordHash)
	assert.Equal(t, joined, u.User.CreatedAt)
	assert.Equal(t, "7", u.User.ImportID)
	assert.False(t, u.Skipped())
	// без хранилища файлов hook не нужен
	assert.Nil(t, u.Hook)
}

type avatarTarget struct {
	uploads []target.NewUpload
	avatars map[int64]int64
}

func (a *avatarTarget) CreateUpload(_ context.Context, u target.NewUpload) (int64, error) {
	a.uploads = append(a.uploads, u)
	return int64(len(a.uploads)), nil
}

func (a *avatarTarget) SetUserAvatar(_ context.Context, userID, uploadID int64) error {
	if a.avatars == nil {
		a.avatars = map[int64]int64{}
	}
	a.avatars[userID] = uploadID
	return nil
}

func writeAvatar(t *testing.T, dir, name string) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 1, 1))))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), buf.Bytes(), 0o644))
}

func TestUserMapper_AvatarHook(t *testing.T) {
	dir := t.TempDir()
	writeAvatar(t, dir, "a.png")

	tg := &avatarTarget{}
	m := &UserMapper{
		AvatarsDir: dir,
		Assets:     assets.NewLocalStore(t.TempDir(), "/uploads", 0),
		Target:     tg,
	}
	hc := HookContext{Phase: PhaseUsers, ImportMode: true, Log: zerolog.Nop()}

	u := m.Map(source.UserRow{ID: 1, Username: "alice", AvatarURL: "a.png"})
	require.NotNil(t, u.Hook)
	require.NoError(t, u.Hook(context.Background(), hc, 42))
	require.Len(t, tg.uploads, 1)
	assert.Equal(t, int64(42), tg.uploads[0].UserID)
	assert.Equal(t, "image/png", tg.uploads[0].ContentType)
	assert.Equal(t, int64(1), tg.avatars[42])

	missing := m.Map(source.UserRow{ID: 2, Username: "bob", AvatarURL: "nope.png"})
	err := missing.Hook(context.Background(), hc, 43)
	assert.ErrorIs(t, err, assets.ErrNotFound)
	assert.NotContains(t, tg.avatars, int64(43))
}

type failingStore struct{ calls int }

func (f *failingStore) Upload(context.Context, string) (assets.Asset, error) {
	f.calls++
	return assets.Asset{}, errors.New("connection refused")
}

func TestUserMapper_AvatarHookBehindBreaker(t *testing.T) {
	dir := t.TempDir()
	writeAvatar(t, dir, "a.png")

	cfg := resilience.DefaultBreakerConfig("assets")
	cfg.MaxFailures = 2
	cb, err := resilience.NewBreaker(cfg)
	require.NoError(t, err)

	store := &failingStore{}
	m := &UserMapper{AvatarsDir: dir, Assets: store, Target: &avatarTarget{}, Breaker: cb}
	hc := HookContext{Phase: PhaseUsers, Log: zerolog.Nop()}

	for i := int64(0); i < 4; i++ {
		u := m.Map(source.UserRow{ID: i, Username: "u", AvatarURL: "a.png"})
		assert.Error(t, u.Hook(context.Background(), hc, i))
	}
	assert.Equal(t, 2, store.calls)
	assert.Equal(t, resilience.StateOpen, cb.State())
}

func TestUserMapper_AvatarPathStaysInDir(t *testing.T) {
	m := &UserMapper{AvatarsDir: "/data/avatars"}
	assert.Equal(t, filepath.Join("/data/avatars", "a.png"), m.avatarPath("a.png"))
	assert.Equal(t, filepath.Join("/data/avatars", "etc/passwd"), m.avatarPath("../../etc/passwd"))

	m = &UserMapper{}
	assert.Equal(t, filepath.Join(DefaultAvatarsDir, "x.jpg"), m.avatarPath("x.jpg"))
}

func TestCategoryMapper(t *testing.T) {
	r := resolver{}
	r.set(identity.KindCategory, "1", 10)
	m := &CategoryMapper{Resolver: r}
	ctx := context.Background()

	top := m.TopLevel(source.TagRow{ID: 1, Name: "General", Slug: "general", Position: ptr(0)})
	assert.Equal(t, "1", top.SourceID)
	require.NotNil(t, top.Category)
	assert.Equal(t, "general", top.Category.Slug)
	assert.Nil(t, top.Category.ParentID)
	assert.Equal(t, "1", top.Category.ImportID)

	child, err := m.Child(ctx, source.TagRow{ID: 2, Name: "Sub Forum", ParentID: ptr(1)})
	require.NoError(t, err)
	assert.Equal(t, "child#2", child.SourceID)
	require.NotNil(t, child.Category)
	assert.Equal(t, int64(10), *child.Category.ParentID)
	assert.Equal(t, "sub-forum", child.Category.Slug)
	assert.Equal(t, "child#2", child.Category.ImportID)

	orphan, err := m.Child(ctx, source.TagRow{ID: 3, Name: "Orphan", ParentID: ptr(99)})
	require.NoError(t, err)
	assert.True(t, orphan.Skipped())
	assert.True(t, orphan.Blocked)
	assert.Contains(t, orphan.Skip, "99")

	wrongTier := m.TopLevel(source.TagRow{ID: 2, ParentID: ptr(1)})
	assert.True(t, wrongTier.Skipped())

	_, err = (&CategoryMapper{Resolver: failingResolver{err: errors.New("down")}}).
		Child(ctx, source.TagRow{ID: 2, ParentID: ptr(1)})
	assert.Error(t, err)
}

func TestPostMapper_FirstPost(t *testing.T) {
	r := resolver{}
	r.set(identity.KindUser, "1", 5)
	r.set(identity.KindCategory, "1", 10)
	r.set(identity.KindCategory, "child#2", 11)
	m := NewPostMapper(r, nil)
	ctx := context.Background()
	created := time.Date(2021, 5, 1, 0, 0, 0, 0, time.UTC)

	u, err := m.Map(ctx, source.PostRow{
		ID: 100, DiscussionID: 50, Title: "Hello &amp; welcome", FirstPostID: ptr(100),
		UserID: ptr(1), Raw: "first", CreatedAt: created,
		ChildTagID: ptr(2), TopTagID: ptr(1),
	})
	require.NoError(t, err)
	assert.Equal(t, identity.KindTopic, u.Kind)
	require.NotNil(t, u.Topic)
	assert.Equal(t, "Hello & welcome", u.Topic.Title)
	assert.Equal(t, "hello-welcome", u.Topic.Slug)
	assert.Equal(t, int64(5), u.Topic.UserID)
	assert.Equal(t, int64(11), *u.Topic.CategoryID)
	assert.Equal(t, "100", u.Topic.ImportID)
	assert.Equal(t, "50", u.Topic.DiscussionID)
	assert.Empty(t, u.Notes)

	// дочерний тег не импортирован - берется верхний
	u, err = m.Map(ctx, source.PostRow{ID: 200, FirstPostID: ptr(200), Title: "x", ChildTagID: ptr(3), TopTagID: ptr(1)})
	require.NoError(t, err)
	assert.Equal(t, int64(10), *u.Topic.CategoryID)

	// без тегов - без категории, автор - системный
	u, err = m.Map(ctx, source.PostRow{ID: 300, FirstPostID: ptr(300), Title: "y", UserID: ptr(77)})
	require.NoError(t, err)
	assert.Nil(t, u.Topic.CategoryID)
	assert.Equal(t, target.SystemUserID, u.Topic.UserID)
	assert.Equal(t, []string{NoteUncategorized}, u.Notes)
}

func TestPostMapper_Reply(t *testing.T) {
	r := resolver{}
	r.set(identity.KindTopic, "100", 1)
	m := NewPostMapper(r, TextFormatter)
	ctx := context.Background()

	u, err := m.Map(ctx, source.PostRow{ID: 101, FirstPostID: ptr(100), Raw: "<t>reply</t>"})
	require.NoError(t, err)
	assert.Equal(t, identity.KindPost, u.Kind)
	require.NotNil(t, u.Post)
	assert.Equal(t, int64(1), u.Post.TopicID)
	assert.Equal(t, "reply", u.Post.Raw)
	assert.Equal(t, target.SystemUserID, u.Post.UserID)
	assert.Equal(t, "101", u.Post.ImportID)

	u, err = m.Map(ctx, source.PostRow{ID: 102, FirstPostID: ptr(999)})
	require.NoError(t, err)
	assert.True(t, u.Skipped())
	assert.True(t, u.Blocked)
	assert.Nil(t, u.Post)

	u, err = m.Map(ctx, source.PostRow{ID: 103})
	require.NoError(t, err)
	assert.True(t, u.Skipped())
	assert.False(t, u.Blocked)

	_, err = NewPostMapper(failingResolver{err: errors.New("down")}, nil).
		Map(ctx, source.PostRow{ID: 104, FirstPostID: ptr(100)})
	assert.Error(t, err)
}

func TestTextFormatter(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "just text", "just text"},
		{"t", "<t>Hello &amp; bye</t>", "Hello & bye"},
		{"br", "<t>line one<br/>\nline two</t>", "line one\nline two"},
		{"rich", "<r><STRONG><s>**</s>bold<e>**</e></STRONG> text</r>", "**bold** text"},
		{"empty", "<t></t>", ""},
		{"table", "<r><TABLE><THEAD><TR><TH>a</TH><TH>b</TH></TR></THEAD><TBODY><TR><TD>1</TD><TD>2</TD></TR></TBODY></TABLE> after</r>", "ab12 after"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TextFormatter(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTransformByName(t *testing.T) {
	for _, name := range []string{"", "identity", "textformatter"} {
		tr, err := TransformByName(name)
		require.NoError(t, err)
		assert.NotNil(t, tr)
	}
	_, err := TransformByName("bbcode")
	assert.Error(t, err)
}
