package target

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrConflict - нарушено ограничение уникальности (email, username, url)
	ErrConflict = errors.New("target constraint conflict")
	// ErrInvalid - сущность не может быть создана из-за своих данных:
	// пустое обязательное поле, ссылка на несуществующую сущность
	ErrInvalid = errors.New("invalid target entity")
	// ErrNotFound - сущность не найдена
	ErrNotFound = errors.New("target entity not found")
)

// IsSkippable - ошибка относится к одной сущности, импорт продолжается
func IsSkippable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrInvalid)
}

// IsTransient - ошибку имеет смысл повторить: обрыв соединения,
// блокировка, сериализация
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03", "57P01", "53300":
			return true
		}
		return len(pgErr.Code) == 5 && pgErr.Code[:2] == "08"
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
	}
	return false
}

// classify переводит ошибки ограничений драйвера в ErrConflict / ErrInvalid
func classify(err error, what string) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return errors.Wrapf(ErrConflict, "%s: %s (%s)", what, pgErr.Message, pgErr.ConstraintName)
		case "23502", "23503", "23514", "22001":
			return errors.Wrapf(ErrInvalid, "%s: %s", what, pgErr.Message)
		}
		return errors.Wrap(err, what)
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch code := liteErr.Code(); {
		case code == sqlite3.SQLITE_CONSTRAINT_UNIQUE, code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY,
			code == sqlite3.SQLITE_CONSTRAINT && strings.Contains(liteErr.Error(), "UNIQUE constraint failed"):
			return errors.Wrapf(ErrConflict, "%s: %s", what, liteErr.Error())
		case code&0xff == sqlite3.SQLITE_CONSTRAINT:
			return errors.Wrapf(ErrInvalid, "%s: %s", what, liteErr.Error())
		}
	}
	return errors.Wrap(err, what)
}
