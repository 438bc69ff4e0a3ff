// Package importer - оркестратор импорта Flarum.
//
// Фазы выполняются строго последовательно: users, categories, posts,
// permalinks. Страницы источника обрабатываются по порядку. Повторный
// запуск безопасен: уже импортированные сущности находятся в identity map.
package importer

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"github.com/rs/zerolog"

	"github.com/ruslano69/forum-migrator/pkg/assets"
	"github.com/ruslano69/forum-migrator/pkg/audit"
	"github.com/ruslano69/forum-migrator/pkg/identity"
	"github.com/ruslano69/forum-migrator/pkg/mapper"
	"github.com/ruslano69/forum-migrator/pkg/metrics"
	"github.com/ruslano69/forum-migrator/pkg/permalink"
	"github.com/ruslano69/forum-migrator/pkg/progress"
	"github.com/ruslano69/forum-migrator/pkg/resilience"
	"github.com/ruslano69/forum-migrator/pkg/retry"
	"github.com/ruslano69/forum-migrator/pkg/source"
)

// Config - параметры запуска, неизменны в течение запуска
type Config struct {
	BatchSize  int    `yaml:"batch_size" env:"BATCH_SIZE" env-default:"1000"`
	Workers    int    `yaml:"workers" env:"IMPORT_WORKERS" env-default:"4"`
	AvatarsDir string `yaml:"avatars_dir" env:"AVATARS_DIR" env-default:"/shared/import/data/avatars/"`

	// SystemUserID - автор постов без импортированного пользователя
	SystemUserID int64 `yaml:"system_user_id" env-default:"-1"`

	// Transform - identity | textformatter
	Transform string `yaml:"transform" env:"CONTENT_TRANSFORM" env-default:"identity"`

	// PermalinkStyle - flarum | legacy
	PermalinkStyle string `yaml:"permalink_style" env:"PERMALINK_STYLE" env-default:"flarum"`

	// FromCheckpoint - продолжить фазы с сохраненного смещения
	FromCheckpoint bool `yaml:"from_checkpoint" env:"FROM_CHECKPOINT"`

	// DiagnosticsLimit - сколько замечаний хранить для отчета
	DiagnosticsLimit int `yaml:"diagnostics_limit" env-default:"100000"`

	Retry retry.Config `yaml:"retry"`
}

// DefaultConfig - конфигурация по умолчанию
func DefaultConfig() Config {
	return Config{
		BatchSize:        1000,
		Workers:          4,
		AvatarsDir:       mapper.DefaultAvatarsDir,
		SystemUserID:     -1,
		Transform:        "identity",
		PermalinkStyle:   string(permalink.StyleFlarum),
		DiagnosticsLimit: 100000,
		Retry:            retry.DefaultConfig(),
	}
}

// Validate проверяет конфигурацию
func (c Config) Validate() error {
	if c.BatchSize <= 0 {
		return errors.Errorf("batch_size must be > 0, got %d", c.BatchSize)
	}
	if c.Workers <= 0 {
		return errors.Errorf("workers must be > 0, got %d", c.Workers)
	}
	if _, err := mapper.TransformByName(c.Transform); err != nil {
		return err
	}
	if _, err := permalink.ParseStyle(c.PermalinkStyle); err != nil {
		return err
	}
	return c.Retry.Validate()
}

// Source - чтение исходного форума
type Source interface {
	Users(ctx context.Context, offset, size int) (source.Page[source.UserRow], error)
	CountUsers(ctx context.Context) (int, error)
	Tags(ctx context.Context) ([]source.TagRow, error)
	Posts(ctx context.Context, offset, size int) (source.Page[source.PostRow], error)
	CountPosts(ctx context.Context) (int, error)
}

// Target - операции целевой платформы, нужные всем фазам
type Target interface {
	Writer
	permalink.Store
	mapper.AvatarTarget
}

// Deps - зависимости импортера. Обязательны Source, Target и Identity.
type Deps struct {
	Source   Source
	Target   Target
	Identity identity.Map

	// Assets == nil - аватары не переносятся
	Assets  assets.Store
	Breaker *resilience.CircuitBreaker

	Progress *progress.Manager
	Journal  *audit.Journal
	Metrics  *metrics.Metrics
	Log      zerolog.Logger
}

// Importer выполняет фазы импорта
type Importer struct {
	cfg Config

	src      Source
	ids      identity.Map
	filter   *identity.Filter
	commit   *Committer
	perma    *permalink.Generator
	progress *progress.Manager
	journal  *audit.Journal
	metrics  *metrics.Metrics
	log      zerolog.Logger

	users      *mapper.UserMapper
	categories *mapper.CategoryMapper
	posts      *mapper.PostMapper

	diags   *Diagnostics
	current atomic.Value // текущая фаза, string
}

// New создает импортер
func New(cfg Config, d Deps) (*Importer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid import config")
	}
	if d.Source == nil || d.Target == nil || d.Identity == nil {
		return nil, errors.New("importer: source, target and identity map are required")
	}

	transform, _ := mapper.TransformByName(cfg.Transform)

	i := &Importer{
		cfg:      cfg,
		src:      d.Source,
		ids:      d.Identity,
		filter:   identity.NewFilter(d.Identity),
		progress: d.Progress,
		journal:  d.Journal,
		metrics:  d.Metrics,
		log:      d.Log,
		diags:    NewDiagnostics(cfg.DiagnosticsLimit),
	}
	i.current.Store("")
	if i.journal == nil {
		i.journal = audit.NewJournal("", nil, nil)
	}

	tol := resilience.NewTolerance(d.Log, i.onFailure)

	commit, err := NewCommitter(d.Identity, d.Target, cfg.Retry, tol, d.Log)
	if err != nil {
		return nil, err
	}
	i.commit = commit
	i.perma = permalink.NewGenerator(d.Target, tol, d.Log)
	style, _ := permalink.ParseStyle(cfg.PermalinkStyle)
	i.perma.SetStyle(style)

	i.users = &mapper.UserMapper{AvatarsDir: cfg.AvatarsDir, Breaker: d.Breaker}
	if d.Assets != nil {
		i.users.Assets = d.Assets
		i.users.Target = d.Target
	}
	i.categories = &mapper.CategoryMapper{Resolver: d.Identity}
	i.posts = &mapper.PostMapper{Resolver: d.Identity, SystemUserID: cfg.SystemUserID, Transform: transform}

	return i, nil
}

// RunID - идентификатор запуска
func (i *Importer) RunID() string { return i.journal.RunID() }

// Diagnostics - замечания запуска
func (i *Importer) Diagnostics() []Diagnostic { return i.diags.Items() }

// onFailure получает погашенные ошибки побочных операций
func (i *Importer) onFailure(f resilience.Failure) {
	kind := strings.TrimPrefix(f.Op, "hook:")
	i.diags.Add(Diagnostic{
		Phase:    i.phase(),
		Kind:     kind,
		SourceID: f.Key,
		Severity: SeverityDegrade,
		Reason:   f.Err.Error(),
	})
	i.metrics.Degraded(f.Op)
}

func (i *Importer) phase() string {
	s, _ := i.current.Load().(string)
	return s
}

// Run выполняет все фазы по порядку. Первая фатальная ошибка
// останавливает запуск.
func (i *Importer) Run(ctx context.Context) (RunStats, error) {
	return i.run(ctx, mapper.Phases()...)
}

// RunPhase выполняет одну фазу
func (i *Importer) RunPhase(ctx context.Context, phase mapper.Phase) (RunStats, error) {
	return i.run(ctx, phase)
}

func (i *Importer) run(ctx context.Context, phases ...mapper.Phase) (RunStats, error) {
	run := RunStats{RunID: i.RunID(), StartedAt: time.Now().UTC()}
	i.log.Info().Str("run_id", run.RunID).Int("batch_size", i.cfg.BatchSize).Msg("import started")

	var runErr error
	for _, p := range phases {
		stats, err := i.runPhase(ctx, p)
		run.Phases = append(run.Phases, stats)
		if err != nil {
			runErr = errors.Wrapf(err, "phase %s", p)
			break
		}
	}

	run.FinishedAt = time.Now().UTC()
	run.Duration = run.FinishedAt.Sub(run.StartedAt)
	run.Diagnostics = i.diags.Items()
	if runErr != nil {
		run.Error = runErr.Error()
		i.log.Error().Err(runErr).Str("run_id", run.RunID).Msg("import failed")
		return run, runErr
	}
	i.log.Info().Str("run_id", run.RunID).Dur("duration", run.Duration).Msg("import finished")
	return run, nil
}

func (i *Importer) runPhase(ctx context.Context, phase mapper.Phase) (PhaseStats, error) {
	name := string(phase)
	i.current.Store(name)
	stats := PhaseStats{Phase: name, StartedAt: time.Now().UTC()}
	log := i.log.With().Str("phase", name).Logger()

	start := 0
	if i.cfg.FromCheckpoint && i.progress != nil {
		cp := i.progress.Get(name)
		if cp.Completed {
			log.Info().Time("completed_at", cp.UpdatedAt).Msg("phase already completed, skipping")
			stats.Resumed = true
			stats.Created, stats.Existing, stats.Skipped = cp.Created, cp.Existing, cp.Skipped
			return stats, nil
		}
		if cp.Offset > 0 {
			start = cp.Offset
			stats.Resumed = true
			log.Info().Int("offset", start).Msg("resuming from checkpoint")
		}
	}

	log.Info().Msg("phase started")

	var (
		cnt counters
		err error
	)
	hc := mapper.HookContext{Phase: phase, ImportMode: true, Log: log}
	switch phase {
	case mapper.PhaseUsers:
		err = i.importUsers(ctx, &stats, &cnt, start, hc)
	case mapper.PhaseCategories:
		err = i.importCategories(ctx, &stats, &cnt, hc)
	case mapper.PhasePosts:
		err = i.importPosts(ctx, &stats, &cnt, start, hc)
	case mapper.PhasePermalinks:
		err = i.importPermalinks(ctx, &stats)
	default:
		err = errors.Errorf("unknown phase %q", phase)
	}

	if phase != mapper.PhasePermalinks {
		cnt.fill(&stats)
	}
	stats.Duration = time.Since(stats.StartedAt)
	i.metrics.Phase(name, stats.Duration)
	i.journal.Phase(ctx, name, stats.Created, stats.Existing, stats.Skipped, stats.Degraded, stats.Duration, err)

	if err != nil {
		stats.Error = err.Error()
		if i.progress != nil {
			if perr := i.progress.Fail(name, err); perr != nil {
				log.Warn().Err(perr).Msg("save checkpoint")
			}
		}
		return stats, err
	}

	if i.progress != nil {
		i.checkpoint(log, stats, -1)
		if perr := i.progress.Complete(name); perr != nil {
			log.Warn().Err(perr).Msg("save checkpoint")
		}
	}

	log.Info().
		Int64("created", stats.Created).
		Int64("existing", stats.Existing).
		Int64("skipped", stats.Skipped).
		Int64("degraded", stats.Degraded).
		Dur("duration", stats.Duration).
		Msg("phase finished")
	return stats, nil
}

// checkpoint сохраняет смещение следующей страницы; offset < 0 - оставить прежнее
func (i *Importer) checkpoint(log zerolog.Logger, stats PhaseStats, offset int) {
	if i.progress == nil {
		return
	}
	if offset < 0 {
		offset = i.progress.Get(stats.Phase).Offset
	}
	err := i.progress.Update(progress.Checkpoint{
		Phase:    stats.Phase,
		Offset:   offset,
		Total:    stats.Total,
		Created:  stats.Created,
		Existing: stats.Existing,
		Skipped:  stats.Skipped,
	})
	if err != nil {
		log.Warn().Err(err).Msg("save checkpoint")
	}
}

// apply записывает единицу и учитывает итог
func (i *Importer) apply(ctx context.Context, u mapper.Unit, hc mapper.HookContext, cnt *counters) error {
	res, err := i.commit.Commit(ctx, u, hc)
	if err != nil {
		return err
	}

	cnt.add(res)
	i.metrics.Unit(string(u.Kind), string(res.Status))

	switch res.Status {
	case StatusSkipped:
		i.diags.Add(Diagnostic{
			Phase:    string(hc.Phase),
			Kind:     string(u.Kind),
			SourceID: u.SourceID,
			Severity: SeveritySkip,
			Reason:   res.Reason,
		})
		hc.Log.Debug().Str("kind", string(u.Kind)).Str("source_id", u.SourceID).Str("reason", res.Reason).Msg("unit skipped")
	case StatusCreated:
		for _, note := range u.Notes {
			i.diags.Add(Diagnostic{
				Phase:    string(hc.Phase),
				Kind:     string(u.Kind),
				SourceID: u.SourceID,
				Severity: SeverityNote,
				Reason:   note,
			})
		}
	}
	return nil
}

// batchDone - общий хвост обработки страницы
func (i *Importer) batchDone(log zerolog.Logger, stats *PhaseStats, cnt *counters, next int) {
	stats.Pages++
	cnt.fill(stats)
	i.metrics.Batch(stats.Phase, next, nil)
	i.checkpoint(log, *stats, next)

	log.Info().
		Int("offset", next).
		Int("total", stats.Total).
		Int64("created", stats.Created).
		Int64("existing", stats.Existing).
		Int64("skipped", stats.Skipped).
		Msg("batch imported")
}

func sourceIDs[T interface{ SourceID() string }](rows []T) []string {
	ids := make([]string, len(rows))
	for n, r := range rows {
		ids[n] = r.SourceID()
	}
	return ids
}
