package mapper

import (
	"context"
	"os"
	"path/filepath"

	"github.com/go-faster/errors"

	"github.com/ruslano69/forum-migrator/pkg/assets"
	"github.com/ruslano69/forum-migrator/pkg/identity"
	"github.com/ruslano69/forum-migrator/pkg/resilience"
	"github.com/ruslano69/forum-migrator/pkg/source"
	"github.com/ruslano69/forum-migrator/pkg/target"
)

// DefaultAvatarsDir - каталог аватаров Flarum по умолчанию
const DefaultAvatarsDir = "/shared/import/data/avatars/"

// AvatarTarget - операции целевой платформы, нужные для аватара
type AvatarTarget interface {
	CreateUpload(ctx context.Context, u target.NewUpload) (int64, error)
	SetUserAvatar(ctx context.Context, userID, uploadID int64) error
}

// UserMapper строит единицы пользователей
type UserMapper struct {
	AvatarsDir string
	Assets     assets.Store
	Target     AvatarTarget

	// Breaker, если задан, защищает загрузку файлов
	Breaker *resilience.CircuitBreaker
}

// Map строит Unit пользователя. display_name совпадает с username,
// хеш пароля переносится без изменений.
func (m *UserMapper) Map(row source.UserRow) Unit {
	u := &target.NewUser{
		Username:      row.Username,
		Name:          row.Username,
		Email:         row.Email,
		PasswordHash:  row.PasswordHash,
		LastSeenAt:    row.LastSeenAt,
		SuspendedTill: row.SuspendedUntil,
		ImportID:      row.SourceID(),
	}
	if row.JoinedAt != nil {
		u.CreatedAt = *row.JoinedAt
	}

	unit := Unit{Kind: identity.KindUser, SourceID: row.SourceID(), User: u}
	if row.AvatarURL != "" && m.Assets != nil && m.Target != nil {
		unit.Hook = m.avatarHook(m.avatarPath(row.AvatarURL))
	}
	return unit
}

// avatarPath - конкатенация каталога и avatar_url; выход за пределы
// каталога через ".." не допускается
func (m *UserMapper) avatarPath(avatarURL string) string {
	dir := m.AvatarsDir
	if dir == "" {
		dir = DefaultAvatarsDir
	}
	return filepath.Join(dir, filepath.Clean("/"+avatarURL))
}

func (m *UserMapper) avatarHook(path string) Hook {
	return func(ctx context.Context, hc HookContext, userID int64) error {
		if _, err := os.Stat(path); err != nil {
			return errors.Wrapf(assets.ErrNotFound, "avatar %s", path)
		}

		var asset assets.Asset
		upload := func(ctx context.Context) error {
			var err error
			asset, err = m.Assets.Upload(ctx, path)
			return err
		}

		var err error
		if m.Breaker != nil {
			err = m.Breaker.Execute(ctx, upload)
		} else {
			err = upload(ctx)
		}
		if err != nil {
			return errors.Wrapf(err, "upload avatar %s", path)
		}

		uploadID, err := m.Target.CreateUpload(ctx, target.NewUpload{
			UserID:           userID,
			SHA:              asset.SHA,
			OriginalFilename: asset.OriginalFilename,
			Size:             asset.Size,
			ContentType:      asset.ContentType,
			URL:              asset.URL,
		})
		if err != nil {
			return errors.Wrap(err, "register avatar upload")
		}
		if err := m.Target.SetUserAvatar(ctx, userID, uploadID); err != nil {
			return errors.Wrap(err, "attach avatar")
		}

		hc.Log.Debug().
			Int64("user_id", userID).
			Int64("upload_id", uploadID).
			Bool("import_mode", hc.ImportMode).
			Str("url", asset.URL).
			Msg("avatar attached")
		return nil
	}
}
