// Package target пишет импортированные сущности в схему платформы обсуждений
// (PostgreSQL или SQLite).
//
// Каждая создаваемая сущность несет import_id - исходный ключ Flarum.
// По нему генератор редиректов находит импортированные топики и категории,
// а committer восстанавливает соответствие, если запись в identity map
// не успела выполниться.
package target

import (
	"strings"

	"github.com/go-faster/errors"
)

// Dialect - тип целевой СУБД
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// SystemUserID - автор контента, чей пользователь не импортирован.
// Создается миграцией.
const SystemUserID int64 = -1

// Config - параметры подключения к целевой базе
type Config struct {
	Dialect      Dialect `yaml:"dialect" env:"TARGET_DIALECT" env-default:"postgres"`
	DSN          string  `yaml:"dsn" env:"TARGET_DSN"`
	MaxOpenConns int     `yaml:"max_open_conns" env:"TARGET_MAX_OPEN_CONNS" env-default:"8"`

	// Migrate - применить миграции при подключении
	Migrate bool `yaml:"migrate" env:"TARGET_MIGRATE" env-default:"true"`
}

// Validate проверяет конфигурацию
func (c Config) Validate() error {
	switch c.Dialect {
	case DialectPostgres, DialectSQLite:
	default:
		return errors.Errorf("unknown target dialect %q", c.Dialect)
	}
	if strings.TrimSpace(c.DSN) == "" {
		return errors.New("target dsn is required")
	}
	if c.MaxOpenConns < 0 {
		return errors.Errorf("invalid max_open_conns %d", c.MaxOpenConns)
	}
	return nil
}

// sqlitePragmas применяются к каждому соединению через DSN.
// busy_timeout нужен параллельной записи пользователей.
var sqlitePragmas = []string{
	"foreign_keys(1)",
	"busy_timeout(5000)",
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
}

// sqliteDSN добавляет pragma к DSN, если вызывающий не задал их сам
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	var b strings.Builder
	b.WriteString(dsn)
	for _, p := range sqlitePragmas {
		if strings.HasPrefix(dsn, ":memory:") && strings.HasPrefix(p, "journal_mode") {
			continue
		}
		b.WriteString(sep)
		b.WriteString("_pragma=")
		b.WriteString(p)
		sep = "&"
	}
	return b.String()
}
