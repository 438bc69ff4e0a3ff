package audit

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-faster/errors"
	"github.com/klauspost/compress/zstd"
)

// FileAppender - JSON lines в файл с ротацией по размеру.
// Ротированные файлы сжимаются zstd: <path>.1.zst, <path>.2.zst, ...
type FileAppender struct {
	mu          sync.Mutex
	file        *os.File
	filePath    string
	maxSize     int64
	maxBackups  int
	currentSize int64
}

// FileAppenderConfig - конфигурация file appender
type FileAppenderConfig struct {
	FilePath   string `yaml:"file" env:"AUDIT_FILE"`
	MaxSize    int64  `yaml:"max_size_mb" env-default:"100"` // В мегабайтах
	MaxBackups int    `yaml:"max_backups" env-default:"5"`

	// maxBytes - для тестов ротации; перекрывает MaxSize
	maxBytes int64
}

// NewFileAppender - создать file appender
func NewFileAppender(config FileAppenderConfig) (*FileAppender, error) {
	if config.FilePath == "" {
		return nil, errors.New("audit file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(config.FilePath), 0o755); err != nil {
		return nil, errors.Wrap(err, "create audit directory")
	}

	file, err := os.OpenFile(config.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "open audit file")
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, errors.Wrap(err, "stat audit file")
	}

	maxSize := config.maxBytes
	if maxSize <= 0 {
		mb := config.MaxSize
		if mb <= 0 {
			mb = 100
		}
		maxSize = mb * 1024 * 1024
	}
	maxBackups := config.MaxBackups
	if maxBackups <= 0 {
		maxBackups = 5
	}

	return &FileAppender{
		file:        file,
		filePath:    config.FilePath,
		maxSize:     maxSize,
		maxBackups:  maxBackups,
		currentSize: info.Size(),
	}, nil
}

// Append - записать entry строкой JSON
func (fa *FileAppender) Append(_ context.Context, entry *Entry) error {
	data, err := entry.ToJSON()
	if err != nil {
		return errors.Wrap(err, "marshal audit entry")
	}
	data = append(data, '\n')

	fa.mu.Lock()
	defer fa.mu.Unlock()

	if fa.file == nil {
		return errors.New("audit file is closed")
	}

	if fa.currentSize > 0 && fa.currentSize+int64(len(data)) > fa.maxSize {
		if err := fa.rotate(); err != nil {
			return errors.Wrap(err, "rotate audit file")
		}
	}

	n, err := fa.file.Write(data)
	fa.currentSize += int64(n)
	if err != nil {
		return errors.Wrap(err, "write audit entry")
	}
	return nil
}

func (fa *FileAppender) backupPath(i int) string {
	return fmt.Sprintf("%s.%d.zst", fa.filePath, i)
}

// rotate вызывается под fa.mu
func (fa *FileAppender) rotate() error {
	if err := fa.file.Close(); err != nil {
		return err
	}
	fa.file = nil

	// сдвигаем старые копии, самая старая удаляется
	os.Remove(fa.backupPath(fa.maxBackups))
	for i := fa.maxBackups - 1; i > 0; i-- {
		if _, err := os.Stat(fa.backupPath(i)); err == nil {
			if err := os.Rename(fa.backupPath(i), fa.backupPath(i+1)); err != nil {
				return err
			}
		}
	}

	if err := compressFile(fa.filePath, fa.backupPath(1)); err != nil {
		return err
	}

	file, err := os.OpenFile(fa.filePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	fa.file = file
	fa.currentSize = 0
	return nil
}

func compressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	enc, err := zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		out.Close()
		return err
	}
	if _, err := io.Copy(enc, in); err != nil {
		enc.Close()
		out.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Flush - сбросить на диск
func (fa *FileAppender) Flush() error {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	if fa.file != nil {
		return fa.file.Sync()
	}
	return nil
}

// Close - закрыть файл
func (fa *FileAppender) Close() error {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	if fa.file == nil {
		return nil
	}
	err := fa.file.Close()
	fa.file = nil
	return err
}

// CurrentSize - текущий размер файла
func (fa *FileAppender) CurrentSize() int64 {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	return fa.currentSize
}

// FilePath - путь к файлу
func (fa *FileAppender) FilePath() string { return fa.filePath }
