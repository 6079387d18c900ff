package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pkt.systems/carspot/schema"
	"pkt.systems/pslog"
)

// StateVersion is the current layout of the state document.
const StateVersion = 1

const stateFile = "navigation.json"

// State is the document persisted between runs.
type State struct {
	Version    int                       `json:"version"`
	Navigation schema.NavigationSnapshot `json:"navigation"`
	SavedAt    time.Time                 `json:"saved_at"`
}

// Store persists navigator state to disk.
type Store struct {
	dir string
	log pslog.Logger
}

// NewStore constructs a persistent store at the given directory.
func NewStore(dir string) (*Store, error) {
	return NewStoreWithLogger(dir, nil)
}

// NewStoreWithLogger constructs a persistent store with logging.
func NewStoreWithLogger(dir string, logger pslog.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("state directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	if logger != nil {
		logger = logger.With("state_dir", dir)
	}
	return &Store{dir: dir, log: logger}, nil
}

// Path returns the state file location.
func (s *Store) Path() string {
	return filepath.Join(s.dir, stateFile)
}

// Load reads the state document. ok is false when nothing was saved yet.
func (s *Store) Load() (State, bool, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if s.log != nil {
				s.log.Debug("state load miss")
			}
			return State{}, false, nil
		}
		s.warn("state load failed", err)
		return State{}, false, err
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		s.warn("state load failed", err)
		return State{}, false, err
	}
	if state.Version > StateVersion {
		err := fmt.Errorf("state version %d is newer than supported version %d", state.Version, StateVersion)
		s.warn("state load failed", err)
		return State{}, false, err
	}
	if s.log != nil {
		s.log.Debug("state load ok", "tabs", len(state.Navigation.Tabs), "trigger", state.Navigation.Trigger)
	}
	return state, true, nil
}

// Save writes the state document atomically.
func (s *Store) Save(state State) error {
	state.Version = StateVersion
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		s.warn("state save failed", err)
		return err
	}
	if err := writeAtomic(s.Path(), data); err != nil {
		s.warn("state save failed", err)
		return err
	}
	if s.log != nil {
		s.log.Trace("state save ok", "tabs", len(state.Navigation.Tabs))
	}
	return nil
}

func (s *Store) warn(msg string, err error) {
	if s.log != nil {
		s.log.Warn(msg, "err", err)
	}
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "state-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
