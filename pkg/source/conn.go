package source

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-faster/errors"
	_ "github.com/go-sql-driver/mysql" // MySQL driver
	"github.com/rs/zerolog"

	"github.com/ruslano69/forum-migrator/pkg/retry"
)

// DriverName - имя database/sql драйвера исходной базы
const DriverName = "mysql"

// Open подключается к исходной базе Flarum.
// Подключение повторяется по retry конфигурации; если все попытки
// неудачны, ошибка фатальна для запуска.
func Open(ctx context.Context, cfg Config, rc retry.Config, log zerolog.Logger) (*sql.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open(DriverName, cfg.DSN())
	if err != nil {
		return nil, errors.Wrap(err, "open source database")
	}

	rc.OnRetry = func(attempt int, err error, delay time.Duration) {
		log.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Str("host", cfg.Host).Msg("source connection failed, retrying")
	}
	r, err := retry.NewRetryer(rc)
	if err != nil {
		db.Close()
		return nil, err
	}

	if err := r.Do(ctx, db.PingContext); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "connect to source %s/%s", cfg.Host, cfg.Database)
	}

	var version string
	if err := db.QueryRowContext(ctx, "SELECT VERSION()").Scan(&version); err == nil {
		log.Info().Str("host", cfg.Host).Str("database", cfg.Database).Str("version", version).Msg("source connected")
	}
	return db, nil
}
