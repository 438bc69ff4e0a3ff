// Package assets загружает файлы (аватары) в хранилище целевой платформы.
package assets

import (
	"context"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-faster/errors"
	"github.com/zeebo/xxh3"
)

var (
	// ErrNotFound - исходного файла нет
	ErrNotFound = errors.New("asset file not found")
	// ErrUnsupportedType - тип содержимого не из списка разрешенных
	ErrUnsupportedType = errors.New("unsupported asset type")
	// ErrTooLarge - файл больше MaxSize
	ErrTooLarge = errors.New("asset too large")
)

// DefaultMaxSize - ограничение размера аватара по умолчанию
const DefaultMaxSize int64 = 10 << 20

// Allowed - разрешенные типы изображений
var Allowed = []string{"image/png", "image/jpeg", "image/gif", "image/webp"}

// Asset - загруженный файл
type Asset struct {
	URL              string
	SHA              string
	ContentType      string
	Extension        string
	OriginalFilename string
	Size             int64
}

// Store - хранилище файлов
type Store interface {
	Upload(ctx context.Context, path string) (Asset, error)
}

// File - прочитанный и проверенный исходный файл
type File struct {
	Asset
	Data []byte
}

// Key - ключ хранения: original/<sha[:2]>/<sha><ext>
func (f File) Key() string {
	return "original/" + f.SHA[:2] + "/" + f.SHA + f.Extension
}

// Inspect читает файл, определяет тип по содержимому и считает хеш
func Inspect(path string, maxSize int64) (File, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	fh, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return File{}, errors.Wrapf(ErrNotFound, "%s", path)
	}
	if err != nil {
		return File{}, errors.Wrapf(err, "open %s", path)
	}
	defer fh.Close()

	st, err := fh.Stat()
	if err != nil {
		return File{}, errors.Wrapf(err, "stat %s", path)
	}
	if st.IsDir() {
		return File{}, errors.Wrapf(ErrNotFound, "%s is a directory", path)
	}
	if st.Size() > maxSize {
		return File{}, errors.Wrapf(ErrTooLarge, "%s: %d bytes", path, st.Size())
	}

	data, err := io.ReadAll(io.LimitReader(fh, maxSize+1))
	if err != nil {
		return File{}, errors.Wrapf(err, "read %s", path)
	}
	if int64(len(data)) > maxSize {
		return File{}, errors.Wrapf(ErrTooLarge, "%s", path)
	}

	mime := mimetype.Detect(data)
	if !mimetype.EqualsAny(mime.String(), Allowed...) {
		return File{}, errors.Wrapf(ErrUnsupportedType, "%s: %s", path, mime.String())
	}

	sum := xxh3.Hash128(data).Bytes()
	return File{
		Asset: Asset{
			SHA:              hex.EncodeToString(sum[:]),
			ContentType:      mime.String(),
			Extension:        mime.Extension(),
			OriginalFilename: filepath.Base(path),
			Size:             int64(len(data)),
		},
		Data: data,
	}, nil
}
