package target

import (
	"context"
	"database/sql"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-faster/errors"
)

// CreateUser создает пользователя. Email и username уникальны без учета
// регистра; совпадение - ErrConflict, пустой username - ErrInvalid.
func (s *Store) CreateUser(ctx context.Context, u NewUser) (int64, error) {
	username := strings.TrimSpace(u.Username)
	if username == "" {
		return 0, errors.Wrapf(ErrInvalid, "user %s: empty username", u.ImportID)
	}
	name := u.Name
	if name == "" {
		name = username
	}
	created := u.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	var id int64
	err := s.builder.Insert("users").
		Columns("username", "username_lower", "name", "email", "password_hash",
			"created_at", "last_seen_at", "suspended_till", "import_id").
		Values(username, strings.ToLower(username), name,
			nullString(strings.ToLower(strings.TrimSpace(u.Email))),
			nullString(u.PasswordHash),
			created.UTC(), nullTime(u.LastSeenAt), nullTime(u.SuspendedTill),
			nullString(u.ImportID)).
		Suffix("RETURNING id").
		RunWith(s.db).
		QueryRowContext(ctx).
		Scan(&id)
	if err != nil {
		return 0, classify(err, "create user "+username)
	}
	return id, nil
}

// UserByID возвращает пользователя
func (s *Store) UserByID(ctx context.Context, id int64) (User, error) {
	var (
		u                 User
		name, email, hash sql.NullString
		importID          sql.NullString
		seen, susp        sql.NullTime
		avatar            sql.NullInt64
	)
	err := s.builder.Select("id", "username", "name", "email", "password_hash",
		"created_at", "last_seen_at", "suspended_till", "uploaded_avatar_id", "import_id").
		From("users").
		Where(sq.Eq{"id": id}).
		RunWith(s.db).
		QueryRowContext(ctx).
		Scan(&u.ID, &u.Username, &name, &email, &hash, &u.CreatedAt, &seen, &susp, &avatar, &importID)
	if errors.Is(err, sql.ErrNoRows) {
		return u, errors.Wrapf(ErrNotFound, "user %d", id)
	}
	if err != nil {
		return u, errors.Wrapf(err, "get user %d", id)
	}
	u.Name, u.Email, u.PasswordHash, u.ImportID = name.String, email.String, hash.String, importID.String
	u.LastSeenAt, u.SuspendedTill = timePtr(seen), timePtr(susp)
	u.UploadedAvatarID = intPtr(avatar)
	return u, nil
}

// CreateUpload регистрирует файл. Файл с тем же SHA уже зарегистрирован -
// возвращается его id.
func (s *Store) CreateUpload(ctx context.Context, u NewUpload) (int64, error) {
	if u.SHA == "" || u.URL == "" {
		return 0, errors.Wrap(ErrInvalid, "upload without sha or url")
	}

	_, err := s.builder.Insert("uploads").
		Columns("user_id", "sha1", "original_filename", "filesize", "content_type", "url").
		Values(u.UserID, u.SHA, u.OriginalFilename, u.Size, nullString(u.ContentType), u.URL).
		Suffix("ON CONFLICT (sha1) DO NOTHING").
		RunWith(s.db).
		ExecContext(ctx)
	if err != nil {
		return 0, classify(err, "create upload "+u.OriginalFilename)
	}
	var id int64
	err = s.builder.Select("id").
		From("uploads").
		Where(sq.Eq{"sha1": u.SHA}).
		RunWith(s.db).
		QueryRowContext(ctx).
		Scan(&id)
	if err != nil {
		return 0, errors.Wrapf(err, "find upload %s", u.SHA)
	}
	return id, nil
}

// SetUserAvatar назначает загруженный файл фотографией профиля
func (s *Store) SetUserAvatar(ctx context.Context, userID, uploadID int64) error {
	res, err := s.builder.Update("users").
		Set("uploaded_avatar_id", uploadID).
		Where(sq.Eq{"id": userID}).
		RunWith(s.db).
		ExecContext(ctx)
	if err != nil {
		return classify(err, "set avatar")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return errors.Wrapf(ErrNotFound, "user %d", userID)
	}
	return nil
}
