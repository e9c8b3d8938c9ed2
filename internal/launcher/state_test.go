package launcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/ws-launcher/internal/model"
)

func record(name string, pid int, startedAt time.Time) model.ProcessRecord {
	return model.ProcessRecord{
		Name:      name,
		PID:       pid,
		Dir:       "/srv/ws/" + name,
		Args:      []string{"/srv/ws/" + name + "/" + name, "-s", model.DefaultBusURL},
		StartedAt: startedAt,
	}
}

// TestStateStore_LoadMissing verifies that no file means no workers.
func TestStateStore_LoadMissing(t *testing.T) {
	base := t.TempDir()
	state, err := NewStateStore(base).Load()
	require.NoError(t, err)
	assert.Empty(t, state.Workers)
	assert.Equal(t, base, state.BaseDir)
}

// TestStateStore_RecordAndLoad verifies persistence, ordering by start
// time and replacement of an existing entry.
func TestStateStore_RecordAndLoad(t *testing.T) {
	base := t.TempDir()
	store := NewStateStore(base)
	t0 := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.Record(record("ws-online", 200, t0.Add(time.Second))))
	require.NoError(t, store.Record(record("ws-connector", 100, t0)))

	state, err := store.Load()
	require.NoError(t, err)
	require.Len(t, state.Workers, 2)
	assert.Equal(t, "ws-connector", state.Workers[0].Name)
	assert.Equal(t, "ws-online", state.Workers[1].Name)
	assert.True(t, t0.Equal(state.Workers[0].StartedAt))
	assert.Equal(t, record("ws-connector", 100, t0).Args, state.Workers[0].Args)

	replacement := record("ws-online", 300, t0.Add(2*time.Second))
	replacement.LogPath = "/var/log/ws/ws-online.log"
	require.NoError(t, store.Record(replacement))

	state, err = store.Load()
	require.NoError(t, err)
	require.Len(t, state.Workers, 2)
	assert.Equal(t, 300, state.Workers[1].PID)
	assert.Equal(t, "/var/log/ws/ws-online.log", state.Workers[1].LogPath)

	assert.NoFileExists(t, store.Path()+".tmp")
	info, err := os.Stat(store.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

// TestStateStore_Forget verifies removal and that the file disappears
// with the last entry.
func TestStateStore_Forget(t *testing.T) {
	store := NewStateStore(t.TempDir())
	t0 := time.Now().UTC()
	require.NoError(t, store.Record(record("ws-cache", 1, t0)))
	require.NoError(t, store.Record(record("ws-sender", 2, t0.Add(time.Millisecond))))

	require.NoError(t, store.Forget("ws-cache"))
	state, err := store.Load()
	require.NoError(t, err)
	require.Len(t, state.Workers, 1)
	assert.Equal(t, "ws-sender", state.Workers[0].Name)

	require.NoError(t, store.Forget("ws-sender"))
	assert.NoFileExists(t, store.Path())

	require.NoError(t, store.Clear(), "clearing a missing file is fine")
}

// TestStateStore_Corrupt verifies that undecodable content is an error.
func TestStateStore_Corrupt(t *testing.T) {
	base := t.TempDir()
	store := NewStateStore(base)
	require.NoError(t, os.MkdirAll(filepath.Dir(store.Path()), 0o755))
	require.NoError(t, os.WriteFile(store.Path(), []byte{0xff, 0x00, 0x13}, 0o600))

	_, err := store.Load()
	assert.ErrorContains(t, err, "decoding state file")
}

// TestStateStore_VersionMismatch verifies that a future layout is refused.
func TestStateStore_VersionMismatch(t *testing.T) {
	store := NewStateStore(t.TempDir())
	require.NoError(t, store.Save(&State{}))

	data, err := encMode.Marshal(State{Version: stateVersion + 1})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(store.Path(), data, 0o600))

	_, err = store.Load()
	assert.ErrorContains(t, err, "version")
}

// TestStateStore_ReadsVersion1 verifies that records written before
// instance tokens existed load and report as exited.
func TestStateStore_ReadsVersion1(t *testing.T) {
	store := NewStateStore(t.TempDir())
	require.NoError(t, store.Save(&State{}))

	data, err := encMode.Marshal(State{
		Version: 1,
		Workers: []model.ProcessRecord{{Name: "ws-online", PID: os.Getpid()}},
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(store.Path(), data, 0o600))

	state, err := store.Load()
	require.NoError(t, err)
	require.Len(t, state.Workers, 1)
	assert.Empty(t, state.Workers[0].Instance)
	assert.Equal(t, model.StatusExited, Status(state.Workers[0]))
}

// TestStatus verifies that impossible PIDs and records without an
// instance token never count as running.
func TestStatus(t *testing.T) {
	assert.Equal(t, model.StatusExited, Status(model.ProcessRecord{PID: 0, Instance: "x"}))
	assert.Equal(t, model.StatusExited, Status(model.ProcessRecord{PID: -5, Instance: "x"}))

	// This test process is alive but was not started by the launcher.
	assert.Equal(t, model.StatusExited, Status(model.ProcessRecord{PID: os.Getpid()}))
}
