package target

import (
	"context"
	"database/sql"
	"embed"
	"io/fs"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // SQLite driver
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrations embed.FS

// Store - доступ к целевой базе
type Store struct {
	db      *sql.DB
	pool    *pgxpool.Pool // только для PostgreSQL
	dialect Dialect
	builder sq.StatementBuilderType
	log     zerolog.Logger
}

// Open подключается к целевой базе и, если cfg.Migrate, применяет миграции
func Open(ctx context.Context, cfg Config, log zerolog.Logger) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Store{dialect: cfg.Dialect, log: log.With().Str("target", string(cfg.Dialect)).Logger()}

	switch cfg.Dialect {
	case DialectPostgres:
		pcfg, err := pgxpool.ParseConfig(cfg.DSN)
		if err != nil {
			return nil, errors.Wrap(err, "parse target dsn")
		}
		if cfg.MaxOpenConns > 0 {
			pcfg.MaxConns = int32(cfg.MaxOpenConns)
		}
		pool, err := pgxpool.NewWithConfig(ctx, pcfg)
		if err != nil {
			return nil, errors.Wrap(err, "create target pool")
		}
		s.pool = pool
		s.db = stdlib.OpenDBFromPool(pool)
		s.builder = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

	case DialectSQLite:
		db, err := sql.Open("sqlite", sqliteDSN(cfg.DSN))
		if err != nil {
			return nil, errors.Wrap(err, "open target database")
		}
		// одна запись за раз; остальные ждут соединение, а не SQLITE_BUSY
		db.SetMaxOpenConns(1)
		s.db = db
		s.builder = sq.StatementBuilder.PlaceholderFormat(sq.Question)
	}

	if err := s.db.PingContext(ctx); err != nil {
		s.Close()
		return nil, errors.Wrapf(err, "connect to target %s", cfg.Dialect)
	}

	if cfg.Migrate {
		applied, err := s.Migrate(ctx)
		if err != nil {
			s.Close()
			return nil, err
		}
		if len(applied) > 0 {
			s.log.Info().Ints64("versions", applied).Msg("target migrations applied")
		}
	}
	return s, nil
}

// Close закрывает соединения
func (s *Store) Close() error {
	err := s.db.Close()
	if s.pool != nil {
		s.pool.Close()
	}
	return err
}

// DB возвращает *sql.DB для прямого доступа (identity map в той же базе)
func (s *Store) DB() *sql.DB { return s.db }

// Dialect возвращает тип целевой СУБД
func (s *Store) Dialect() Dialect { return s.dialect }

// Placeholder - формат параметров squirrel для этой СУБД
func (s *Store) Placeholder() sq.PlaceholderFormat {
	if s.dialect == DialectPostgres {
		return sq.Dollar
	}
	return sq.Question
}

// Migrate применяет встроенные миграции и возвращает примененные версии
func (s *Store) Migrate(ctx context.Context) ([]int64, error) {
	dir, dialect := "migrations/sqlite", goose.DialectSQLite3
	if s.dialect == DialectPostgres {
		dir, dialect = "migrations/postgres", goose.DialectPostgres
	}

	fsys, err := fs.Sub(migrations, dir)
	if err != nil {
		return nil, errors.Wrap(err, "migrations fs")
	}
	provider, err := goose.NewProvider(dialect, s.db, fsys)
	if err != nil {
		return nil, errors.Wrap(err, "goose provider")
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "apply target migrations")
	}
	versions := make([]int64, 0, len(results))
	for _, r := range results {
		versions = append(versions, r.Source.Version)
	}
	return versions, nil
}

// Counts считает строки импортируемых таблиц
func (s *Store) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	targets := []struct {
		table string
		where sq.Sqlizer
		dst   *int64
	}{
		{"users", sq.NotEq{"id": SystemUserID}, &c.Users},
		{"categories", nil, &c.Categories},
		{"topics", nil, &c.Topics},
		{"posts", nil, &c.Posts},
		{"uploads", nil, &c.Uploads},
		{"permalinks", nil, &c.Permalinks},
	}
	for _, t := range targets {
		q := s.builder.Select("COUNT(*)").From(t.table)
		if t.where != nil {
			q = q.Where(t.where)
		}
		if err := q.RunWith(s.db).QueryRowContext(ctx).Scan(t.dst); err != nil {
			return c, errors.Wrapf(err, "count %s", t.table)
		}
	}
	return c, nil
}

// ImportedID находит сущность по import_id. Committer использует его,
// когда сущность создана, а соответствие в identity map не записано.
func (s *Store) ImportedID(ctx context.Context, entity Entity, importID string) (int64, bool, error) {
	var table string
	switch entity {
	case EntityUser:
		table = "users"
	case EntityCategory:
		table = "categories"
	case EntityTopic:
		table = "topics"
	case EntityPost:
		table = "posts"
	default:
		return 0, false, errors.Errorf("unknown entity %q", entity)
	}

	var id int64
	err := s.builder.Select("id").
		From(table).
		Where(sq.Eq{"import_id": importID}).
		RunWith(s.db).
		QueryRowContext(ctx).
		Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrapf(err, "find %s by import_id %s", entity, importID)
	}
	return id, true, nil
}

// nullString - пустая строка пишется как NULL
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func nullTime(p *time.Time) sql.NullTime {
	if p == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: p.UTC(), Valid: true}
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}

func intPtr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}
