package progress

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_UpdateAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "checkpoints.json")

	m, err := NewManager(path, false)
	require.NoError(t, err)
	require.NoError(t, m.Update(Checkpoint{Phase: "users", Offset: 2000, Total: 5000, Created: 1990, Skipped: 10}))

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "no autosave - no file")

	require.NoError(t, m.Save())

	m2, err := NewManager(path, false)
	require.NoError(t, err)
	cp := m2.Get("users")
	assert.Equal(t, 2000, cp.Offset)
	assert.Equal(t, 5000, cp.Total)
	assert.Equal(t, int64(1990), cp.Created)
	assert.False(t, cp.UpdatedAt.IsZero())
}

func TestManager_AutoSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.json")

	m, err := NewManager(path, true)
	require.NoError(t, err)
	require.NoError(t, m.Update(Checkpoint{Phase: "posts", Offset: 1000}))
	require.NoError(t, m.Complete("posts"))

	m2, err := NewManager(path, false)
	require.NoError(t, err)
	cp := m2.Get("posts")
	assert.True(t, cp.Completed)
	assert.Equal(t, 1000, cp.Offset)
}

func TestManager_FailKeepsOffset(t *testing.T) {
	m, err := NewManager("", true)
	require.NoError(t, err)

	require.NoError(t, m.Update(Checkpoint{Phase: "posts", Offset: 3000}))
	require.NoError(t, m.Fail("posts", errors.New("connection reset")))

	cp := m.Get("posts")
	assert.Equal(t, 3000, cp.Offset)
	assert.Equal(t, "connection reset", cp.LastError)
	assert.False(t, cp.Completed)

	// следующая страница очищает ошибку
	require.NoError(t, m.Update(Checkpoint{Phase: "posts", Offset: 4000}))
	assert.Empty(t, m.Get("posts").LastError)
}

func TestManager_GetUnknownPhase(t *testing.T) {
	m, err := NewManager("", false)
	require.NoError(t, err)

	cp := m.Get("categories")
	assert.Equal(t, "categories", cp.Phase)
	assert.Zero(t, cp.Offset)
	assert.True(t, cp.UpdatedAt.IsZero())
}

func TestManager_Reset(t *testing.T) {
	m, err := NewManager("", false)
	require.NoError(t, err)

	require.NoError(t, m.Update(Checkpoint{Phase: "users", Offset: 1}))
	require.NoError(t, m.Update(Checkpoint{Phase: "posts", Offset: 2}))

	require.NoError(t, m.Reset("users"))
	assert.Zero(t, m.Get("users").Offset)
	assert.Len(t, m.All(), 1)

	require.NoError(t, m.ResetAll())
	assert.Empty(t, m.All())
}

func TestManager_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewManager(path, false)
	assert.Error(t, err)
}
