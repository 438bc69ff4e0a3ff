package mapper

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-faster/errors"

	"github.com/ruslano69/forum-migrator/pkg/identity"
	"github.com/ruslano69/forum-migrator/pkg/slug"
	"github.com/ruslano69/forum-migrator/pkg/source"
	"github.com/ruslano69/forum-migrator/pkg/target"
)

// ChildPrefix - префикс ключа дочерней категории в identity map.
// Обе категории живут в одной таблице tags, префикс исключает коллизию id.
const ChildPrefix = "child#"

// ChildSourceID - ключ дочерней категории
func ChildSourceID(tagID int64) string {
	return ChildPrefix + strconv.FormatInt(tagID, 10)
}

// TopSourceID - ключ категории верхнего уровня
func TopSourceID(tagID int64) string {
	return strconv.FormatInt(tagID, 10)
}

// CategoryMapper строит единицы категорий в два уровня
type CategoryMapper struct {
	Resolver identity.Resolver
}

// TopLevel - категория из тега без родителя
func (m *CategoryMapper) TopLevel(row source.TagRow) Unit {
	id := TopSourceID(row.ID)
	if row.IsChild() {
		return skipUnit(identity.KindCategory, id, "tag has a parent, imported as child", false)
	}
	return Unit{
		Kind:     identity.KindCategory,
		SourceID: id,
		Category: newCategory(row, id, nil),
	}
}

// Child - категория второго уровня. Родитель берется из parent_id
// и разрешается через identity map; неразрешенный родитель - пропуск.
func (m *CategoryMapper) Child(ctx context.Context, row source.TagRow) (Unit, error) {
	id := ChildSourceID(row.ID)
	if !row.IsChild() {
		return skipUnit(identity.KindCategory, id, "tag has no parent", false), nil
	}

	parentID, ok, err := m.Resolver.Resolve(ctx, identity.KindCategory, TopSourceID(*row.ParentID))
	if err != nil {
		return Unit{}, errors.Wrapf(err, "resolve parent of tag %d", row.ID)
	}
	if !ok {
		reason := fmt.Sprintf("parent tag %d is not imported", *row.ParentID)
		return skipUnit(identity.KindCategory, id, reason, true), nil
	}

	return Unit{
		Kind:     identity.KindCategory,
		SourceID: id,
		Category: newCategory(row, id, &parentID),
	}, nil
}

func newCategory(row source.TagRow, importID string, parentID *int64) *target.NewCategory {
	return &target.NewCategory{
		Name:        row.Name,
		Slug:        slug.OrFallback(row.Slug, row.Name),
		Description: row.Description,
		Position:    row.Position,
		ParentID:    parentID,
		ImportID:    importID,
	}
}
