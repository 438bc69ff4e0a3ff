package identity

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-faster/errors"
)

// DefaultTable - таблица identity map по умолчанию
const DefaultTable = "import_identity"

// lookupChunk - максимальное количество id в одном IN (...)
const lookupChunk = 500

// SQLMap - identity map в SQL базе (PostgreSQL или SQLite).
// Уникальность (kind, source_id) обеспечивается первичным ключом таблицы,
// Record использует INSERT ... ON CONFLICT DO NOTHING.
type SQLMap struct {
	db      *sql.DB
	table   string
	builder sq.StatementBuilderType
}

// NewSQLMap создает identity map поверх db.
// placeholder - sq.Dollar для PostgreSQL, sq.Question для SQLite.
func NewSQLMap(db *sql.DB, placeholder sq.PlaceholderFormat) *SQLMap {
	return &SQLMap{
		db:      db,
		table:   DefaultTable,
		builder: sq.StatementBuilder.PlaceholderFormat(placeholder),
	}
}

// EnsureTable создает таблицу если ее еще нет
func (m *SQLMap) EnsureTable(ctx context.Context) error {
	ddl := `CREATE TABLE IF NOT EXISTS ` + m.table + ` (
		kind       VARCHAR(32)  NOT NULL,
		source_id  VARCHAR(191) NOT NULL,
		target_id  BIGINT       NOT NULL,
		created_at TIMESTAMP    NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (kind, source_id)
	)`
	if _, err := m.db.ExecContext(ctx, ddl); err != nil {
		return errors.Wrap(err, "create identity table")
	}
	return nil
}

// Resolve реализует Map
func (m *SQLMap) Resolve(ctx context.Context, kind Kind, sourceID string) (int64, bool, error) {
	if err := checkKind(kind); err != nil {
		return 0, false, err
	}

	query, args, err := m.builder.
		Select("target_id").
		From(m.table).
		Where(sq.Eq{"kind": string(kind), "source_id": sourceID}).
		ToSql()
	if err != nil {
		return 0, false, errors.Wrap(err, "build resolve query")
	}

	var targetID int64
	err = m.db.QueryRowContext(ctx, query, args...).Scan(&targetID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrapf(err, "resolve %s %s", kind, sourceID)
	}
	return targetID, true, nil
}

// Record реализует Map
func (m *SQLMap) Record(ctx context.Context, kind Kind, sourceID string, targetID int64) (bool, error) {
	if err := checkKind(kind); err != nil {
		return false, err
	}

	query, args, err := m.builder.
		Insert(m.table).
		Columns("kind", "source_id", "target_id").
		Values(string(kind), sourceID, targetID).
		Suffix("ON CONFLICT (kind, source_id) DO NOTHING").
		ToSql()
	if err != nil {
		return false, errors.Wrap(err, "build record query")
	}

	res, err := m.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, errors.Wrapf(err, "record %s %s", kind, sourceID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "rows affected")
	}
	return n == 1, nil
}

// Missing реализует Map
func (m *SQLMap) Missing(ctx context.Context, kind Kind, sourceIDs []string) ([]string, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	if len(sourceIDs) == 0 {
		return nil, nil
	}

	found := make(map[string]struct{}, len(sourceIDs))
	for _, part := range chunk(sourceIDs, lookupChunk) {
		query, args, err := m.builder.
			Select("source_id").
			From(m.table).
			Where(sq.Eq{"kind": string(kind), "source_id": part}).
			ToSql()
		if err != nil {
			return nil, errors.Wrap(err, "build lookup query")
		}

		if err := m.collect(ctx, query, args, found); err != nil {
			return nil, err
		}
	}

	var missing []string
	for _, id := range sourceIDs {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func (m *SQLMap) collect(ctx context.Context, query string, args []any, found map[string]struct{}) error {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, "lookup identities")
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return errors.Wrap(err, "scan identity")
		}
		found[id] = struct{}{}
	}
	return rows.Err()
}

// Count возвращает количество соответствий для kind
func (m *SQLMap) Count(ctx context.Context, kind Kind) (int64, error) {
	query, args, err := m.builder.
		Select("COUNT(*)").
		From(m.table).
		Where(sq.Eq{"kind": string(kind)}).
		ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "build count query")
	}

	var n int64
	if err := m.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, errors.Wrapf(err, "count %s", kind)
	}
	return n, nil
}
