package assets

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-faster/errors"
)

// LocalStore кладет файлы в каталог uploads целевой платформы
type LocalStore struct {
	Root    string
	BaseURL string
	MaxSize int64
}

// NewLocalStore создает локальное хранилище
func NewLocalStore(root, baseURL string, maxSize int64) *LocalStore {
	return &LocalStore{Root: root, BaseURL: strings.TrimRight(baseURL, "/"), MaxSize: maxSize}
}

// Upload реализует Store. Повторная загрузка того же содержимого
// не переписывает файл.
func (s *LocalStore) Upload(ctx context.Context, path string) (Asset, error) {
	if err := ctx.Err(); err != nil {
		return Asset{}, err
	}

	f, err := Inspect(path, s.MaxSize)
	if err != nil {
		return Asset{}, err
	}

	key := f.Key()
	dst := filepath.Join(s.Root, filepath.FromSlash(key))

	if _, err := os.Stat(dst); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return Asset{}, errors.Wrap(err, "create upload dir")
		}
		tmp := dst + ".tmp"
		if err := os.WriteFile(tmp, f.Data, 0o644); err != nil {
			return Asset{}, errors.Wrap(err, "write upload")
		}
		if err := os.Rename(tmp, dst); err != nil {
			os.Remove(tmp)
			return Asset{}, errors.Wrap(err, "rename upload")
		}
	} else if err != nil {
		return Asset{}, errors.Wrap(err, "stat upload")
	}

	a := f.Asset
	a.URL = s.BaseURL + "/" + key
	return a, nil
}
