package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruslano69/forum-migrator/pkg/report"
	"github.com/ruslano69/forum-migrator/pkg/retry"
	"github.com/ruslano69/forum-migrator/pkg/source"
	"github.com/ruslano69/forum-migrator/pkg/source/sourcetest"
	"github.com/ruslano69/forum-migrator/pkg/target"
)

// useFixture points openSource at an in-process Flarum schema
func useFixture(t *testing.T) *sourcetest.Fixture {
	t.Helper()
	f := sourcetest.New(t)
	prev := openSource
	openSource = func(context.Context, source.Config, retry.Config, zerolog.Logger) (*sql.DB, error) {
		return f.DB, nil
	}
	t.Cleanup(func() { openSource = prev })
	return f
}

// writeConfig stores a SQLite-target config in a temp dir
func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := SampleConfig()
	cfg.Target = target.Config{Dialect: target.DialectSQLite, DSN: filepath.Join(dir, "forum.db"), MaxOpenConns: 1, Migrate: true}
	cfg.Assets.Backend = "none"
	cfg.State.File = filepath.Join(dir, "state.json")
	cfg.State.SummaryFile = filepath.Join(dir, "summary.json")
	cfg.Audit.File.FilePath = filepath.Join(dir, "audit.log")
	cfg.Import.Retry = retry.Fixed(1, time.Millisecond)

	path := filepath.Join(dir, "flarumimport.yaml")
	require.NoError(t, SaveConfig(cfg, path))
	return path, dir
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func seed(f *sourcetest.Fixture) {
	t0 := time.Date(2021, 6, 1, 9, 0, 0, 0, time.UTC)
	f.User(1, "alice", "alice@example.com", "", t0)
	f.Tag(1, "General", "general", 0, 0)
	f.Tag(2, "Sub", "sub", 1, 1)
	f.Discussion(50, "Hello", 100, 1, 2)
	f.Post(100, 50, 1, "first", t0.Add(time.Minute))
	f.Post(101, 50, 1, "reply", t0.Add(2*time.Minute))
	f.Discussion(60, "Orphan", 999, 1)
	f.Post(102, 60, 1, "lost", t0.Add(3*time.Minute))
}

func TestRunCommand(t *testing.T) {
	seed(useFixture(t))
	cfgPath, dir := writeConfig(t)
	xlsx := filepath.Join(dir, "run.xlsx")

	out, err := runCLI(t, "run", "--config", cfgPath, "--report", xlsx)
	require.NoError(t, err)
	assert.Contains(t, out, "permalinks")

	phases, err := report.ReadSummary(xlsx)
	require.NoError(t, err)
	require.Len(t, phases, 4)
	assert.Equal(t, int64(2), phases[2].Created)
	assert.Equal(t, int64(1), phases[2].Skipped)

	run, err := loadSummary(filepath.Join(dir, "summary.json"))
	require.NoError(t, err)
	assert.NotEmpty(t, run.RunID)
	require.Len(t, run.Diagnostics, 1)
	assert.Equal(t, "102", run.Diagnostics[0].SourceID)

	audit, err := os.ReadFile(filepath.Join(dir, "audit.log"))
	require.NoError(t, err)
	assert.Equal(t, 4, bytes.Count(audit, []byte("\n")))

	out, err = runCLI(t, "status", "--config", cfgPath, "--json")
	require.NoError(t, err)
	var st statusReport
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, target.Counts{Users: 1, Categories: 2, Topics: 1, Posts: 2, Permalinks: 3}, st.Target)
	require.Len(t, st.Checkpoints, 4)
	for _, cp := range st.Checkpoints {
		assert.True(t, cp.Completed, cp.Phase)
	}

	report2 := filepath.Join(dir, "again.xlsx")
	out, err = runCLI(t, "report", "--config", cfgPath, "--out", report2)
	require.NoError(t, err)
	assert.Contains(t, out, report2)
	_, err = os.Stat(report2)
	assert.NoError(t, err)
}

func TestPhaseCommand(t *testing.T) {
	seed(useFixture(t))
	cfgPath, _ := writeConfig(t)

	out, err := runCLI(t, "users", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "users")
	assert.NotContains(t, out, "posts")
}

func TestMigrateCommand(t *testing.T) {
	cfgPath, _ := writeConfig(t)

	out, err := runCLI(t, "migrate", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "applied")

	out, err = runCLI(t, "migrate", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "up to date")
}

func TestInitConfigCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "sample.yaml")

	out, err := runCLI(t, "init-config", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	cfg, err := LoadConfig(path, true)
	require.NoError(t, err)
	assert.Equal(t, "flarum_db", cfg.Source.Database)
	assert.Equal(t, 1000, cfg.Import.BatchSize)
	assert.Equal(t, target.DialectPostgres, cfg.Target.Dialect)
	assert.Equal(t, 30*time.Second, cfg.Breaker.Timeout)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, SaveConfig(SampleConfig(), path))

	t.Setenv("FLARUM_HOST", "flarum.internal")
	t.Setenv("BATCH_SIZE", "250")
	t.Setenv("AVATARS_DIR", "/data/avatars")

	cfg, err := LoadConfig(path, true)
	require.NoError(t, err)
	assert.Equal(t, "flarum.internal", cfg.Source.Host)
	assert.Equal(t, 250, cfg.Import.BatchSize)
	assert.Equal(t, "/data/avatars", cfg.Import.AvatarsDir)
}

func TestLoadConfig_EnvOnly(t *testing.T) {
	t.Setenv("TARGET_DSN", "file.db")
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), false)
	require.NoError(t, err)
	assert.Equal(t, "localhost", cfg.Source.Host)
	assert.Equal(t, 3306, cfg.Source.Port)
	assert.Equal(t, "/shared/import/data/avatars/", cfg.Import.AvatarsDir)
	assert.Equal(t, "sql", cfg.Identity.Backend)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), true)
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	cfg := SampleConfig()
	cfg.Identity.Backend = "etcd"
	require.NoError(t, SaveConfig(cfg, path))
	_, err = LoadConfig(path, true)
	assert.ErrorContains(t, err, "etcd")
}

func TestRunCommand_SourceFailure(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	prev := openSource
	openSource = func(context.Context, source.Config, retry.Config, zerolog.Logger) (*sql.DB, error) {
		return nil, sql.ErrConnDone
	}
	t.Cleanup(func() { openSource = prev })

	_, err := runCLI(t, "run", "--config", cfgPath)
	assert.ErrorIs(t, err, sql.ErrConnDone)
}
