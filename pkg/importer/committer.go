package importer

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/rs/zerolog"

	"github.com/ruslano69/forum-migrator/pkg/identity"
	"github.com/ruslano69/forum-migrator/pkg/mapper"
	"github.com/ruslano69/forum-migrator/pkg/resilience"
	"github.com/ruslano69/forum-migrator/pkg/retry"
	"github.com/ruslano69/forum-migrator/pkg/target"
)

// Status - итог единицы импорта
type Status string

const (
	StatusCreated  Status = "created"
	StatusExisting Status = "existing"
	StatusSkipped  Status = "skipped"
)

// Result - итог Commit
type Result struct {
	Status   Status
	TargetID int64
	Reason   string
	// Degraded - hook завершился ошибкой, сущность создана
	Degraded bool
}

// Writer - операции создания сущностей целевой платформы
type Writer interface {
	CreateUser(ctx context.Context, u target.NewUser) (int64, error)
	CreateCategory(ctx context.Context, c target.NewCategory) (int64, error)
	CreateTopic(ctx context.Context, t target.NewTopic) (target.TopicRef, error)
	CreatePost(ctx context.Context, p target.NewPost) (int64, error)

	// ImportedID ищет сущность по import_id
	ImportedID(ctx context.Context, entity target.Entity, importID string) (int64, bool, error)
}

// Committer записывает единицы импорта: проверка identity map,
// создание, запись соответствия, post-create hook.
type Committer struct {
	ids       identity.Map
	writer    Writer
	retryer   *retry.Retryer
	tolerance *resilience.Tolerance
	log       zerolog.Logger
}

// NewCommitter создает committer. Повторяются только транзиентные
// ошибки целевой базы.
func NewCommitter(ids identity.Map, w Writer, rc retry.Config, tol *resilience.Tolerance, log zerolog.Logger) (*Committer, error) {
	rc.Retryable = target.IsTransient
	rc.OnRetry = func(attempt int, err error, delay time.Duration) {
		log.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("transient target error, retrying")
	}
	r, err := retry.NewRetryer(rc)
	if err != nil {
		return nil, err
	}
	if tol == nil {
		tol = resilience.NewTolerance(log, nil)
	}
	return &Committer{ids: ids, writer: w, retryer: r, tolerance: tol, log: log}, nil
}

// Commit записывает единицу. Ошибка возвращается только для фатальных
// случаев: сбой identity map или нетранзиентная ошибка целевой базы.
func (c *Committer) Commit(ctx context.Context, u mapper.Unit, hc mapper.HookContext) (Result, error) {
	// 1. Пропуск, решенный маппером
	if u.Skipped() {
		return Result{Status: StatusSkipped, Reason: u.Skip}, nil
	}

	// 2. Уже импортировано
	existing, ok, err := c.ids.Resolve(ctx, u.Kind, u.SourceID)
	if err != nil {
		return Result{}, errors.Wrapf(err, "resolve %s %s", u.Kind, u.SourceID)
	}
	if ok {
		return Result{Status: StatusExisting, TargetID: existing}, nil
	}

	// 2a. Сущность создана прошлым запуском, но соответствие не записано
	existing, ok, err = c.recover(ctx, u)
	if err != nil {
		return Result{}, err
	}
	if ok {
		return Result{Status: StatusExisting, TargetID: existing}, nil
	}

	// 3. Создание
	var (
		targetID int64
		extra    int64 // id первого поста для топика
	)
	err = c.retryer.Do(ctx, func(ctx context.Context) error {
		var err error
		targetID, extra, err = c.create(ctx, u)
		return err
	})
	if err != nil {
		if target.IsSkippable(err) {
			return Result{Status: StatusSkipped, Reason: err.Error()}, nil
		}
		return Result{}, errors.Wrapf(err, "create %s %s", u.Kind, u.SourceID)
	}

	// 4. Соответствия. Топик записывается и как пост: ответы и фильтр
	// страниц ищут первый пост по его исходному id.
	if err := c.record(ctx, u.Kind, u.SourceID, targetID); err != nil {
		return Result{}, err
	}
	if u.Kind == identity.KindTopic {
		if err := c.record(ctx, identity.KindPost, u.SourceID, extra); err != nil {
			return Result{}, err
		}
	}

	res := Result{Status: StatusCreated, TargetID: targetID}

	// 5. Hook: ошибки гасятся
	if u.Hook != nil {
		hookID := targetID
		ok, err := c.tolerance.Do(ctx, hookOp(u.Kind), u.SourceID,
			func(ctx context.Context) error { return u.Hook(ctx, hc, hookID) })
		if err != nil {
			return res, err
		}
		res.Degraded = !ok
	}
	return res, nil
}

// recover восстанавливает соответствие по import_id в целевой базе
func (c *Committer) recover(ctx context.Context, u mapper.Unit) (int64, bool, error) {
	id, ok, err := c.writer.ImportedID(ctx, target.Entity(u.Kind), u.SourceID)
	if err != nil {
		return 0, false, errors.Wrapf(err, "find imported %s %s", u.Kind, u.SourceID)
	}
	if !ok {
		return 0, false, nil
	}

	c.log.Warn().
		Str("kind", string(u.Kind)).
		Str("source_id", u.SourceID).
		Int64("target_id", id).
		Msg("recovered identity mapping from import_id")

	if err := c.record(ctx, u.Kind, u.SourceID, id); err != nil {
		return 0, false, err
	}
	if u.Kind == identity.KindTopic {
		postID, ok, err := c.writer.ImportedID(ctx, target.EntityPost, u.SourceID)
		if err != nil {
			return 0, false, errors.Wrapf(err, "find imported first post %s", u.SourceID)
		}
		if ok {
			if err := c.record(ctx, identity.KindPost, u.SourceID, postID); err != nil {
				return 0, false, err
			}
		}
	}
	return id, true, nil
}

func hookOp(kind identity.Kind) string { return "hook:" + string(kind) }

func (c *Committer) create(ctx context.Context, u mapper.Unit) (int64, int64, error) {
	switch u.Kind {
	case identity.KindUser:
		if u.User == nil {
			return 0, 0, retry.Permanent(errors.New("user unit without payload"))
		}
		id, err := c.writer.CreateUser(ctx, *u.User)
		return id, 0, err
	case identity.KindCategory:
		if u.Category == nil {
			return 0, 0, retry.Permanent(errors.New("category unit without payload"))
		}
		id, err := c.writer.CreateCategory(ctx, *u.Category)
		return id, 0, err
	case identity.KindTopic:
		if u.Topic == nil {
			return 0, 0, retry.Permanent(errors.New("topic unit without payload"))
		}
		ref, err := c.writer.CreateTopic(ctx, *u.Topic)
		return ref.TopicID, ref.PostID, err
	case identity.KindPost:
		if u.Post == nil {
			return 0, 0, retry.Permanent(errors.New("post unit without payload"))
		}
		id, err := c.writer.CreatePost(ctx, *u.Post)
		return id, 0, err
	}
	return 0, 0, retry.Permanent(errors.Wrapf(identity.ErrInvalidKind, "%q", u.Kind))
}

func (c *Committer) record(ctx context.Context, kind identity.Kind, sourceID string, targetID int64) error {
	recorded, err := c.ids.Record(ctx, kind, sourceID, targetID)
	if err != nil {
		// повторный запуск восстановит соответствие по import_id
		c.log.Error().Err(err).
			Str("kind", string(kind)).
			Str("source_id", sourceID).
			Int64("target_id", targetID).
			Msg("entity created but identity mapping not recorded")
		return errors.Wrapf(err, "record %s %s", kind, sourceID)
	}
	if !recorded {
		c.log.Warn().
			Str("kind", string(kind)).
			Str("source_id", sourceID).
			Int64("target_id", targetID).
			Msg("identity mapping already recorded by a concurrent writer")
	}
	return nil
}
