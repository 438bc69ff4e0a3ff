package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readLines(t *testing.T, path string) []Entry {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []Entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		out = append(out, e)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestEntry_WithError(t *testing.T) {
	e := NewEntry("run", "users", StatusSuccess).WithError(nil)
	assert.Equal(t, StatusSuccess, e.Status)

	e.WithError(errors.New("boom"))
	assert.Equal(t, StatusFailure, e.Status)
	assert.Equal(t, "boom", e.ErrorMessage)
	assert.NotEmpty(t, e.ID)
	assert.Contains(t, e.String(), "phase=users")
}

func TestFileAppender_AppendAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "import.jsonl")
	ctx := context.Background()

	fa, err := NewFileAppender(FileAppenderConfig{FilePath: path})
	require.NoError(t, err)
	require.NoError(t, fa.Append(ctx, NewEntry("r1", "users", StatusSuccess).WithCounts(3, 0, 0, 0)))
	require.NoError(t, fa.Close())
	require.NoError(t, fa.Close())
	assert.Error(t, fa.Append(ctx, NewEntry("r1", "posts", StatusSuccess)))

	fa, err = NewFileAppender(FileAppenderConfig{FilePath: path})
	require.NoError(t, err)
	assert.Positive(t, fa.CurrentSize())
	require.NoError(t, fa.Append(ctx, NewEntry("r1", "categories", StatusPartial)))
	require.NoError(t, fa.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 2)
	assert.Equal(t, "users", lines[0].Phase)
	assert.Equal(t, int64(3), lines[0].Created)
	assert.Equal(t, StatusPartial, lines[1].Status)
}

func TestFileAppender_RotatesWithZstd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "import.jsonl")
	ctx := context.Background()

	fa, err := NewFileAppender(FileAppenderConfig{FilePath: path, MaxBackups: 2, maxBytes: 10})
	require.NoError(t, err)
	defer fa.Close()

	for _, phase := range []string{"users", "categories", "posts", "permalinks"} {
		require.NoError(t, fa.Append(ctx, NewEntry("r", phase, StatusSuccess)))
	}

	// каждая запись больше лимита: текущий файл - последняя запись
	lines := readLines(t, path)
	require.Len(t, lines, 1)
	assert.Equal(t, "permalinks", lines[0].Phase)

	assert.FileExists(t, path+".1.zst")
	assert.FileExists(t, path+".2.zst")
	assert.NoFileExists(t, path+".3.zst")

	compressed, err := os.ReadFile(path + ".1.zst")
	require.NoError(t, err)
	dec, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer dec.Close()
	plain, err := dec.DecodeAll(compressed, nil)
	require.NoError(t, err)

	var e Entry
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(plain), &e))
	assert.Equal(t, "posts", e.Phase)
}

func TestNewFileAppender_RequiresPath(t *testing.T) {
	_, err := NewFileAppender(FileAppenderConfig{})
	assert.Error(t, err)
}

type failingAppender struct{}

func (failingAppender) Append(context.Context, *Entry) error { return errors.New("disk full") }
func (failingAppender) Close() error                         { return nil }

func TestJournal_Phase(t *testing.T) {
	var buf bytes.Buffer
	var appendErrs []error

	j := NewJournal("", NewMultiAppender(NewLogAppender(zerolog.New(&buf)), failingAppender{}),
		func(err error) { appendErrs = append(appendErrs, err) })
	ctx := context.Background()

	assert.NotEmpty(t, j.RunID())

	e := j.Phase(ctx, "users", 10, 0, 0, 0, time.Second, nil)
	assert.Equal(t, StatusSuccess, e.Status)
	e = j.Phase(ctx, "posts", 5, 1, 2, 0, time.Second, nil)
	assert.Equal(t, StatusPartial, e.Status)
	e = j.Phase(ctx, "permalinks", 0, 0, 0, 0, 0, errors.New("target down"))
	assert.Equal(t, StatusFailure, e.Status)

	entries := j.Entries()
	require.Len(t, entries, 3)
	for _, e := range entries {
		assert.Equal(t, j.RunID(), e.RunID)
	}

	assert.Len(t, appendErrs, 3)
	assert.Contains(t, buf.String(), `"phase":"posts"`)
	assert.Contains(t, buf.String(), `"error":"target down"`)
	require.NoError(t, j.Close())
}
