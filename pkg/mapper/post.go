package mapper

import (
	"context"
	"fmt"
	"html"
	"strconv"

	"github.com/go-faster/errors"

	"github.com/ruslano69/forum-migrator/pkg/identity"
	"github.com/ruslano69/forum-migrator/pkg/slug"
	"github.com/ruslano69/forum-migrator/pkg/source"
	"github.com/ruslano69/forum-migrator/pkg/target"
)

// NoteUncategorized - замечание для топика без категории
const NoteUncategorized = "discussion has no imported category"

// PostMapper строит топики (из первых постов) и ответы
type PostMapper struct {
	Resolver identity.Resolver

	// SystemUserID - автор постов, чей пользователь не импортирован
	SystemUserID int64

	// Transform преобразует содержимое поста; nil - без изменений
	Transform Transform
}

// NewPostMapper создает маппер с системным пользователем по умолчанию
func NewPostMapper(r identity.Resolver, t Transform) *PostMapper {
	return &PostMapper{Resolver: r, SystemUserID: target.SystemUserID, Transform: t}
}

// Map строит Unit для поста. Первый пост обсуждения - топик,
// остальные - ответы в топике, найденном по первому посту.
func (m *PostMapper) Map(ctx context.Context, row source.PostRow) (Unit, error) {
	id := row.SourceID()

	author, err := m.author(ctx, row)
	if err != nil {
		return Unit{}, err
	}

	raw, err := m.transform(row.Raw)
	if err != nil {
		return skipUnit(identity.KindPost, id, "content transform: "+err.Error(), false), nil
	}

	if row.IsFirst() {
		return m.topic(ctx, row, author, raw)
	}

	firstID := row.FirstPostSourceID()
	if firstID == "" {
		return skipUnit(identity.KindPost, id, "discussion has no first post", false), nil
	}

	topicID, ok, err := m.Resolver.Resolve(ctx, identity.KindTopic, firstID)
	if err != nil {
		return Unit{}, errors.Wrapf(err, "resolve topic of post %s", id)
	}
	if !ok {
		reason := fmt.Sprintf("topic for first post %s is not imported", firstID)
		return skipUnit(identity.KindPost, id, reason, true), nil
	}

	return Unit{
		Kind:     identity.KindPost,
		SourceID: id,
		Post: &target.NewPost{
			TopicID:   topicID,
			UserID:    author,
			Raw:       raw,
			CreatedAt: row.CreatedAt,
			ImportID:  id,
		},
	}, nil
}

func (m *PostMapper) topic(ctx context.Context, row source.PostRow, author int64, raw string) (Unit, error) {
	id := row.SourceID()
	title := html.UnescapeString(row.Title)

	unit := Unit{
		Kind:     identity.KindTopic,
		SourceID: id,
		Topic: &target.NewTopic{
			Title:        title,
			Slug:         slug.Make(title),
			UserID:       author,
			Raw:          raw,
			CreatedAt:    row.CreatedAt,
			ImportID:     id,
			DiscussionID: strconv.FormatInt(row.DiscussionID, 10),
		},
	}

	categoryID, ok, err := m.category(ctx, row)
	if err != nil {
		return Unit{}, err
	}
	if ok {
		unit.Topic.CategoryID = &categoryID
	} else {
		unit.Notes = append(unit.Notes, NoteUncategorized)
	}
	return unit, nil
}

// category: дочерний тег, затем тег верхнего уровня
func (m *PostMapper) category(ctx context.Context, row source.PostRow) (int64, bool, error) {
	var keys []string
	if row.ChildTagID != nil {
		keys = append(keys, ChildSourceID(*row.ChildTagID))
	}
	if row.TopTagID != nil {
		keys = append(keys, TopSourceID(*row.TopTagID))
	}

	for _, key := range keys {
		id, ok, err := m.Resolver.Resolve(ctx, identity.KindCategory, key)
		if err != nil {
			return 0, false, errors.Wrapf(err, "resolve category %s", key)
		}
		if ok {
			return id, true, nil
		}
	}
	return 0, false, nil
}

func (m *PostMapper) author(ctx context.Context, row source.PostRow) (int64, error) {
	if row.UserID == nil {
		return m.SystemUserID, nil
	}
	id, ok, err := m.Resolver.Resolve(ctx, identity.KindUser, strconv.FormatInt(*row.UserID, 10))
	if err != nil {
		return 0, errors.Wrapf(err, "resolve author of post %d", row.ID)
	}
	if !ok {
		return m.SystemUserID, nil
	}
	return id, nil
}

func (m *PostMapper) transform(raw string) (string, error) {
	if m.Transform == nil {
		return raw, nil
	}
	return m.Transform(raw)
}
