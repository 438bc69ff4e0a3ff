// Package sourcetest поднимает минимальную схему Flarum в SQLite для тестов.
package sourcetest

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE users (
	id              INTEGER PRIMARY KEY,
	username        TEXT NOT NULL,
	email           TEXT,
	password        TEXT NOT NULL,
	avatar_url      TEXT,
	joined_at       DATETIME,
	last_seen_at    DATETIME,
	suspended_until DATETIME
);
CREATE TABLE tags (
	id          INTEGER PRIMARY KEY,
	name        TEXT NOT NULL,
	slug        TEXT NOT NULL,
	description TEXT,
	position    INTEGER,
	parent_id   INTEGER
);
CREATE TABLE discussions (
	id            INTEGER PRIMARY KEY,
	title         TEXT NOT NULL,
	first_post_id INTEGER
);
CREATE TABLE posts (
	id            INTEGER PRIMARY KEY,
	discussion_id INTEGER NOT NULL,
	user_id       INTEGER,
	type          TEXT NOT NULL DEFAULT 'comment',
	content       TEXT,
	created_at    DATETIME NOT NULL
);
CREATE TABLE discussion_tag (
	discussion_id INTEGER NOT NULL,
	tag_id        INTEGER NOT NULL,
	PRIMARY KEY (discussion_id, tag_id)
);
`

// TimeLayout - формат DATETIME в фикстуре
const TimeLayout = "2006-01-02 15:04:05"

// Fixture - исходная база Flarum в temp-файле SQLite
type Fixture struct {
	DB *sql.DB
	t  testing.TB
}

// New создает пустую схему Flarum
func New(t testing.TB) *Fixture {
	t.Helper()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "flarum.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(schema)
	require.NoError(t, err)

	return &Fixture{DB: db, t: t}
}

func (f *Fixture) exec(query string, args ...any) {
	f.t.Helper()
	_, err := f.DB.Exec(query, args...)
	require.NoError(f.t, err)
}

// User добавляет пользователя
func (f *Fixture) User(id int64, username, email, avatar string, joined time.Time) {
	f.t.Helper()
	f.exec(`INSERT INTO users (id, username, email, password, avatar_url, joined_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, username, email, "$2y$10$hash"+username, nullable(avatar), joined.UTC().Format(TimeLayout))
}

// Tag добавляет тег; parent == 0 - тег верхнего уровня
func (f *Fixture) Tag(id int64, name, slug string, position int64, parent int64) {
	f.t.Helper()
	var p any
	if parent != 0 {
		p = parent
	}
	f.exec(`INSERT INTO tags (id, name, slug, description, position, parent_id) VALUES (?, ?, ?, ?, ?, ?)`,
		id, name, slug, name+" description", position, p)
}

// Discussion добавляет обсуждение с тегами
func (f *Fixture) Discussion(id int64, title string, firstPostID int64, tagIDs ...int64) {
	f.t.Helper()
	f.exec(`INSERT INTO discussions (id, title, first_post_id) VALUES (?, ?, ?)`, id, title, firstPostID)
	for _, tag := range tagIDs {
		f.exec(`INSERT INTO discussion_tag (discussion_id, tag_id) VALUES (?, ?)`, id, tag)
	}
}

// Post добавляет пост типа comment; userID == 0 - автор удален
func (f *Fixture) Post(id, discussionID, userID int64, content string, created time.Time) {
	f.t.Helper()
	f.PostOfType(id, discussionID, userID, "comment", content, created)
}

// PostOfType добавляет пост произвольного типа (discussionRenamed и т.п.)
func (f *Fixture) PostOfType(id, discussionID, userID int64, typ, content string, created time.Time) {
	f.t.Helper()
	var u any
	if userID != 0 {
		u = userID
	}
	f.exec(`INSERT INTO posts (id, discussion_id, user_id, type, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, discussionID, u, typ, content, created.UTC().Format(TimeLayout))
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
