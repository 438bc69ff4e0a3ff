package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ruslano69/forum-migrator/pkg/assets"
	"github.com/ruslano69/forum-migrator/pkg/audit"
	"github.com/ruslano69/forum-migrator/pkg/identity"
	"github.com/ruslano69/forum-migrator/pkg/importer"
	"github.com/ruslano69/forum-migrator/pkg/metrics"
	"github.com/ruslano69/forum-migrator/pkg/progress"
	"github.com/ruslano69/forum-migrator/pkg/resilience"
	"github.com/ruslano69/forum-migrator/pkg/resultlog"
	"github.com/ruslano69/forum-migrator/pkg/retry"
	"github.com/ruslano69/forum-migrator/pkg/source"
	"github.com/ruslano69/forum-migrator/pkg/target"
)

// openSource is replaced in tests with an in-process SQLite fixture
var openSource = func(ctx context.Context, cfg source.Config, rc retry.Config, log zerolog.Logger) (*sql.DB, error) {
	return source.Open(ctx, cfg, rc, log)
}

// app holds every live handle of one run
type app struct {
	cfg *Config
	log zerolog.Logger

	srcDB    *sql.DB
	store    *target.Store
	progress *progress.Manager
	journal  *audit.Journal
	metrics  *metrics.Metrics
	results  *resultlog.Publisher
	importer *importer.Importer

	closers []func() error
}

// newApp connects to source and target and builds the importer
func newApp(ctx context.Context, cfg *Config, log zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log, metrics: metrics.New()}
	if err := a.open(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// open fills a; handles opened before a failure stay in a.closers
func (a *app) open(ctx context.Context) error {
	cfg, log := a.cfg, a.log

	var err error

	a.srcDB, err = openSource(ctx, cfg.Source, cfg.SourceRetry, log)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, a.srcDB.Close)

	a.store, err = target.Open(ctx, cfg.Target, log)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, a.store.Close)

	ids, err := a.identity(ctx)
	if err != nil {
		return err
	}

	store, err := a.assets(ctx)
	if err != nil {
		return err
	}

	bcfg := cfg.Breaker
	bcfg.Name = "assets"
	bcfg.OnStateChange = func(name string, from, to resilience.State) {
		log.Warn().Str("breaker", name).Stringer("from", from).Stringer("to", to).Msg("circuit breaker state changed")
	}
	breaker, err := resilience.NewBreaker(bcfg)
	if err != nil {
		return errors.Wrap(err, "breaker")
	}

	a.progress, err = progress.NewManager(cfg.State.File, true)
	if err != nil {
		return err
	}

	if err := a.openJournal(); err != nil {
		return err
	}

	if cfg.ResultLog.Enabled() {
		a.results, err = resultlog.NewPublisher(cfg.ResultLog)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, a.results.Close)
	}

	a.importer, err = importer.New(cfg.Import, importer.Deps{
		Source:   source.NewReader(a.srcDB, cfg.Source.TablePrefix),
		Target:   a.store,
		Identity: ids,
		Assets:   store,
		Breaker:  breaker,
		Progress: a.progress,
		Journal:  a.journal,
		Metrics:  a.metrics,
		Log:      log,
	})
	return err
}

func (a *app) identity(ctx context.Context) (identity.Map, error) {
	var m identity.Map
	switch a.cfg.Identity.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     a.cfg.Identity.RedisAddr,
			Password: a.cfg.Identity.RedisPassword,
			DB:       a.cfg.Identity.RedisDB,
		})
		a.closers = append(a.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, errors.Wrapf(err, "identity redis %s", a.cfg.Identity.RedisAddr)
		}
		m = identity.NewRedisMap(client, a.cfg.Identity.RedisPrefix)
	default:
		sm := identity.NewSQLMap(a.store.DB(), a.store.Placeholder())
		// the identity table is owned by pkg/identity, not by target migrations
		if err := sm.EnsureTable(ctx); err != nil {
			return nil, err
		}
		m = sm
	}
	if a.cfg.Identity.Cache {
		m = identity.NewCached(m)
	}
	return m, nil
}

func (a *app) assets(ctx context.Context) (assets.Store, error) {
	switch a.cfg.Assets.Backend {
	case "s3":
		return assets.NewS3Store(ctx, a.cfg.Assets.S3, a.cfg.Assets.MaxSize)
	case "local":
		return assets.NewLocalStore(a.cfg.Assets.LocalRoot, a.cfg.Assets.BaseURL, a.cfg.Assets.MaxSize), nil
	}
	a.log.Info().Msg("avatar upload disabled")
	return nil, nil
}

func (a *app) openJournal() error {
	appenders := []audit.Appender{audit.NewLogAppender(a.log)}
	if a.cfg.Audit.Enabled && a.cfg.Audit.File.FilePath != "" {
		fa, err := audit.NewFileAppender(a.cfg.Audit.File)
		if err != nil {
			return err
		}
		appenders = append(appenders, fa)
	}
	a.journal = audit.NewJournal("", audit.NewMultiAppender(appenders...), func(err error) {
		a.log.Warn().Err(err).Msg("audit write failed")
	})
	a.closers = append(a.closers, a.journal.Close)
	return nil
}

// finish publishes and stores the run summary; failures are only logged
func (a *app) finish(ctx context.Context, run importer.RunStats, runErr error) {
	if a.results != nil {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := a.results.Publish(pctx, run, runErr); err != nil {
			a.log.Warn().Err(err).Msg("publish run result")
		}
	}
	if a.cfg.State.SummaryFile != "" {
		if err := saveSummary(a.cfg.State.SummaryFile, run); err != nil {
			a.log.Warn().Err(err).Msg("save run summary")
		}
	}
}

// Close releases handles in reverse order
func (a *app) Close() {
	for n := len(a.closers) - 1; n >= 0; n-- {
		if err := a.closers[n](); err != nil {
			a.log.Warn().Err(err).Msg("close")
		}
	}
	a.closers = nil
}

// summary is the on-disk run summary; RunStats keeps diagnostics out of JSON
type summary struct {
	Run         importer.RunStats     `json:"run"`
	Diagnostics []importer.Diagnostic `json:"diagnostics"`
}

func saveSummary(path string, run importer.RunStats) error {
	data, err := json.MarshalIndent(summary{Run: run, Diagnostics: run.Diagnostics}, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal summary")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "create %s", dir)
		}
	}
	return os.WriteFile(path, data, 0o644)
}

func loadSummary(path string) (importer.RunStats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return importer.RunStats{}, errors.Wrapf(err, "read summary %s", path)
	}
	var s summary
	if err := json.Unmarshal(data, &s); err != nil {
		return importer.RunStats{}, errors.Wrapf(err, "decode summary %s", path)
	}
	s.Run.Diagnostics = s.Diagnostics
	return s.Run, nil
}

// serveMetrics exposes /metrics until ctx is done
func serveMetrics(ctx context.Context, addr string, m *metrics.Metrics, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info().Str("addr", addr).Msg("metrics listener started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server error")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
