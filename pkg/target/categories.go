package target

import (
	"context"
	"database/sql"
	"strings"

	"github.com/go-faster/errors"
)

// CreateCategory создает категорию; ParentID должен ссылаться на
// существующую категорию, иначе ErrInvalid
func (s *Store) CreateCategory(ctx context.Context, c NewCategory) (int64, error) {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return 0, errors.Wrapf(ErrInvalid, "category %s: empty name", c.ImportID)
	}

	var id int64
	err := s.builder.Insert("categories").
		Columns("name", "slug", "description", "position", "parent_category_id", "import_id").
		Values(name, c.Slug, nullString(c.Description), nullInt(c.Position), nullInt(c.ParentID), nullString(c.ImportID)).
		Suffix("RETURNING id").
		RunWith(s.db).
		QueryRowContext(ctx).
		Scan(&id)
	if err != nil {
		return 0, classify(err, "create category "+name)
	}
	return id, nil
}

// Categories возвращает все категории в порядке создания
func (s *Store) Categories(ctx context.Context) ([]Category, error) {
	rows, err := s.builder.Select("id", "name", "slug", "description", "position", "parent_category_id", "import_id").
		From("categories").
		OrderBy("id").
		RunWith(s.db).
		QueryContext(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list categories")
	}
	defer rows.Close()

	var out []Category
	for rows.Next() {
		var (
			c              Category
			desc, importID sql.NullString
			pos, parent    sql.NullInt64
		)
		if err := rows.Scan(&c.ID, &c.Name, &c.Slug, &desc, &pos, &parent, &importID); err != nil {
			return nil, errors.Wrap(err, "scan category")
		}
		c.Description, c.ImportID = desc.String, importID.String
		c.Position, c.ParentID = intPtr(pos), intPtr(parent)
		out = append(out, c)
	}
	return out, rows.Err()
}
