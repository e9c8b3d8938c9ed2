package launcher

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/shinji-kodama/ws-launcher/internal/model"
)

// StateDirName is created inside the base directory to hold launcher state.
const StateDirName = ".ws-launcher"

// stateFileName is the CBOR file listing started workers.
const stateFileName = "workers.cbor"

// stateVersion is bumped when the on-disk layout changes. Version 2 added
// ProcessRecord.Instance.
const stateVersion = 2

// minStateVersion is the oldest layout Load still reads. Version 1 records
// decode with an empty Instance and therefore report as exited.
const minStateVersion = 1

// State is the content of the state file.
type State struct {
	// Version guards against reading a layout written by another release.
	Version int `cbor:"version"`

	// BaseDir is the directory the workers were launched from. It is
	// informational; the file's location already implies it.
	BaseDir string `cbor:"base_dir"`

	// UpdatedAt is the time of the last Save.
	UpdatedAt time.Time `cbor:"updated_at"`

	// Workers are ordered by StartedAt, which is the launch order.
	Workers []model.ProcessRecord `cbor:"workers"`
}

// encMode and decMode are built once; cbor modes are immutable and safe
// for concurrent use.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	// Core deterministic encoding sorts map keys and uses the shortest
	// integer forms, so saving the same state twice yields identical bytes.
	// Times are written as RFC 3339 text with nanoseconds so the file can
	// be inspected with any CBOR diagnostic tool and StartedAt round-trips
	// exactly.
	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("launcher: CBOR encoder initialization failed: " + err.Error())
	}

	// Default decoding accepts both text and numeric time values.
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("launcher: CBOR decoder initialization failed: " + err.Error())
	}
}

// StateStore reads and writes the state file of one base directory.
type StateStore struct {
	// baseDir is copied into every saved State.
	baseDir string

	// path is <baseDir>/.ws-launcher/workers.cbor.
	path string
}

// NewStateStore returns the store for baseDir. Nothing is touched on disk
// until Save is called.
func NewStateStore(baseDir string) *StateStore {
	return &StateStore{
		baseDir: baseDir,
		path:    filepath.Join(baseDir, StateDirName, stateFileName),
	}
}

// Path returns the state file location.
func (s *StateStore) Path() string {
	return s.path
}

// Load returns the recorded state. A missing file yields an empty state.
func (s *StateStore) Load() (*State, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		// Nothing launched yet, or the last stop cleared the file.
		if errors.Is(err, os.ErrNotExist) {
			return &State{Version: stateVersion, BaseDir: s.baseDir}, nil
		}
		return nil, fmt.Errorf("reading state file: %w", err)
	}

	// A truncated or foreign file is reported rather than silently reset,
	// since resetting would lose track of running workers.
	var state State
	if err := decMode.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decoding state file %s: %w", s.path, err)
	}
	// Older layouts are read and upgraded on the next Save; newer ones
	// come from a later release and may hold fields this one would drop.
	if state.Version < minStateVersion || state.Version > stateVersion {
		return nil, fmt.Errorf("state file %s has version %d, expected %d-%d",
			s.path, state.Version, minStateVersion, stateVersion)
	}
	return &state, nil
}

// Record adds or replaces the entry for rec.Name and saves the file.
func (s *StateStore) Record(rec model.ProcessRecord) error {
	state, err := s.Load()
	if err != nil {
		return err
	}

	// Names are unique within a plan, so a relaunched worker replaces its
	// previous record instead of accumulating stale entries.
	replaced := false
	for i := range state.Workers {
		if state.Workers[i].Name == rec.Name {
			state.Workers[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		state.Workers = append(state.Workers, rec)
	}
	return s.Save(state)
}

// Forget removes the entries for the given names and saves the file. The
// file is deleted once no entries remain.
func (s *StateStore) Forget(names ...string) error {
	state, err := s.Load()
	if err != nil {
		return err
	}

	drop := make(map[string]bool, len(names))
	for _, name := range names {
		drop[name] = true
	}
	// Filter in place; state is a private copy from Load.
	kept := state.Workers[:0]
	for _, rec := range state.Workers {
		if !drop[rec.Name] {
			kept = append(kept, rec)
		}
	}
	state.Workers = kept

	// An empty state is represented by the absence of the file.
	if len(state.Workers) == 0 {
		return s.Clear()
	}
	return s.Save(state)
}

// Clear removes the state file. Removing a missing file is not an error.
func (s *StateStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing state file: %w", err)
	}
	return nil
}

// Save writes state atomically: the data goes to a temporary file that is
// synced and then renamed over the state file.
func (s *StateStore) Save(state *State) error {
	state.Version = stateVersion
	state.BaseDir = s.baseDir
	state.UpdatedAt = time.Now().UTC()
	// Keep launch order regardless of the order records were added in.
	// Stop walks the list backwards.
	sort.SliceStable(state.Workers, func(i, j int) bool {
		return state.Workers[i].StartedAt.Before(state.Workers[j].StartedAt)
	})

	data, err := encMode.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshaling launcher state: %w", err)
	}

	// The state directory is created on first save, not by NewStateStore,
	// so read-only commands never leave a directory behind.
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	// Step 1: Write the full content to a sibling file. 0600 because the
	// file holds PIDs and command lines of the operator's processes.
	temporaryPath := s.path + ".tmp"
	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating temporary state file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		_ = os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary state file: %w", err)
	}
	// Step 2: Flush to disk before the rename, otherwise a crash could
	// leave an empty file behind the final name.
	if err := file.Sync(); err != nil {
		_ = file.Close()
		_ = os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary state file: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary state file: %w", err)
	}
	// Step 3: Rename into place. Rename within one directory is atomic, so
	// readers see either the old or the new state, never a mix.
	if err := os.Rename(temporaryPath, s.path); err != nil {
		_ = os.Remove(temporaryPath)
		return fmt.Errorf("renaming state file into place: %w", err)
	}
	return nil
}
