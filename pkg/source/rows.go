package source

import (
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

// ErrSchemaMismatch - набор колонок результата не совпадает с ожидаемым рядом
var ErrSchemaMismatch = errors.New("source schema mismatch")

// UserRow - ряд таблицы users
type UserRow struct {
	ID             int64
	Username       string
	Email          string
	PasswordHash   string
	AvatarURL      string
	JoinedAt       *time.Time
	LastSeenAt     *time.Time
	SuspendedUntil *time.Time
}

// UserColumns - колонки, из которых сканируется UserRow
var UserColumns = []string{
	"id", "username", "email", "password", "avatar_url",
	"joined_at", "last_seen_at", "suspended_until",
}

// SourceID возвращает ключ для identity map
func (r UserRow) SourceID() string { return strconv.FormatInt(r.ID, 10) }

func scanUser(rows *sql.Rows) (UserRow, error) {
	var (
		r      UserRow
		email  sql.NullString
		avatar sql.NullString
		joined nullTime
		seen   nullTime
		susp   nullTime
	)
	err := rows.Scan(&r.ID, &r.Username, &email, &r.PasswordHash, &avatar, &joined, &seen, &susp)
	if err != nil {
		return r, schemaErr(err, "users")
	}
	r.Email = email.String
	r.AvatarURL = avatar.String
	r.JoinedAt = joined.Ptr()
	r.LastSeenAt = seen.Ptr()
	r.SuspendedUntil = susp.Ptr()
	return r, nil
}

// TagRow - ряд таблицы tags. ParentID == nil у тегов верхнего уровня.
type TagRow struct {
	ID          int64
	Name        string
	Slug        string
	Description string
	Position    *int64
	ParentID    *int64
}

// TagColumns - колонки, из которых сканируется TagRow
var TagColumns = []string{"id", "name", "slug", "description", "position", "parent_id"}

// IsChild - тег второго уровня
func (r TagRow) IsChild() bool { return r.ParentID != nil }

func scanTag(rows *sql.Rows) (TagRow, error) {
	var (
		r      TagRow
		slug   sql.NullString
		desc   sql.NullString
		pos    sql.NullInt64
		parent sql.NullInt64
	)
	if err := rows.Scan(&r.ID, &r.Name, &slug, &desc, &pos, &parent); err != nil {
		return r, schemaErr(err, "tags")
	}
	r.Slug = slug.String
	r.Description = desc.String
	r.Position = intPtr(pos)
	r.ParentID = intPtr(parent)
	return r, nil
}

// PostRow - пост вместе с его обсуждением и тегами обсуждения
type PostRow struct {
	ID           int64
	DiscussionID int64
	Title        string
	FirstPostID  *int64
	UserID       *int64
	Raw          string
	CreatedAt    time.Time

	// ChildTagID - наименьший id среди тегов обсуждения с родителем
	ChildTagID *int64
	// TopTagID - наименьший id среди тегов обсуждения без родителя
	TopTagID *int64
}

// PostColumns - колонки, из которых сканируется PostRow
var PostColumns = []string{
	"id", "discussion_id", "title", "first_post_id", "user_id",
	"content", "created_at", "child_tag_id", "top_tag_id",
}

// SourceID возвращает ключ для identity map
func (r PostRow) SourceID() string { return strconv.FormatInt(r.ID, 10) }

// IsFirst - пост открывает обсуждение и определяет топик
func (r PostRow) IsFirst() bool {
	return r.FirstPostID != nil && *r.FirstPostID == r.ID
}

// FirstPostSourceID - ключ топика в identity map ("" если первый пост неизвестен)
func (r PostRow) FirstPostSourceID() string {
	if r.FirstPostID == nil {
		return ""
	}
	return strconv.FormatInt(*r.FirstPostID, 10)
}

func scanPost(rows *sql.Rows) (PostRow, error) {
	var (
		r       PostRow
		first   sql.NullInt64
		user    sql.NullInt64
		content sql.NullString
		created nullTime
		child   sql.NullInt64
		top     sql.NullInt64
	)
	err := rows.Scan(&r.ID, &r.DiscussionID, &r.Title, &first, &user, &content, &created, &child, &top)
	if err != nil {
		return r, schemaErr(err, "posts")
	}
	if !created.Valid {
		return r, errors.Wrapf(ErrSchemaMismatch, "posts: post %d has no created_at", r.ID)
	}
	r.FirstPostID = intPtr(first)
	r.UserID = intPtr(user)
	r.Raw = content.String
	r.CreatedAt = created.Time
	r.ChildTagID = intPtr(child)
	r.TopTagID = intPtr(top)
	return r, nil
}

// checkColumns сверяет колонки результата с ожидаемым списком
func checkColumns(rows *sql.Rows, entity string, want []string) error {
	got, err := rows.Columns()
	if err != nil {
		return errors.Wrapf(err, "%s: columns", entity)
	}
	if len(got) != len(want) {
		return errors.Wrapf(ErrSchemaMismatch, "%s: got columns %v, want %v", entity, got, want)
	}
	for i := range want {
		if !strings.EqualFold(got[i], want[i]) {
			return errors.Wrapf(ErrSchemaMismatch, "%s: column %d is %q, want %q", entity, i, got[i], want[i])
		}
	}
	return nil
}

func schemaErr(err error, entity string) error {
	return errors.Wrapf(ErrSchemaMismatch, "%s: scan: %v", entity, err)
}

func intPtr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

// nullTime принимает время в любом виде, который отдают драйверы:
// time.Time (mysql parseTime), строку или []byte (sqlite, mysql без parseTime),
// unix timestamp.
type nullTime struct {
	Time  time.Time
	Valid bool
}

var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z",
	time.RFC3339Nano,
	"2006-01-02",
}

// Scan реализует sql.Scanner
func (t *nullTime) Scan(src any) error {
	t.Time, t.Valid = time.Time{}, false

	switch v := src.(type) {
	case nil:
		return nil
	case time.Time:
		t.Time, t.Valid = v.UTC(), true
		return nil
	case int64:
		t.Time, t.Valid = time.Unix(v, 0).UTC(), true
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	}
	return errors.Errorf("unsupported time value %T", src)
}

func (t *nullTime) parse(s string) error {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "0000-00-00") {
		return nil
	}
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			t.Time, t.Valid = ts.UTC(), true
			return nil
		}
	}
	return errors.Errorf("unparsable time %q", s)
}

// Ptr возвращает nil для NULL
func (t nullTime) Ptr() *time.Time {
	if !t.Valid {
		return nil
	}
	ts := t.Time
	return &ts
}
