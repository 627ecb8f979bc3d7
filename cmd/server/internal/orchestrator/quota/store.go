package quota

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Store persists quota State. Update must run fn with exclusive access to the
// state across every process sharing the store, and persist the result only
// when fn reports a change and returns no error.
type Store interface {
	Load(ctx context.Context) (State, error)
	Update(ctx context.Context, fn func(s *State) (changed bool, err error)) error
}

// MemoryStore keeps state in process memory. Suitable for a single process.
type MemoryStore struct {
	mu    sync.Mutex
	state State
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(ctx context.Context) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, nil
}

func (m *MemoryStore) Update(ctx context.Context, fn func(s *State) (bool, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	working := m.state
	changed, err := fn(&working)
	if err != nil {
		return err
	}
	if changed {
		m.state = working
	}
	return nil
}

// lockPollInterval is how often a blocked FileStore retries the flock.
const lockPollInterval = 20 * time.Millisecond

// FileStore keeps state in a JSON file guarded by an advisory flock on a
// sibling ".lock" file, so several processes on one host share the quota.
// Missing or unreadable state files read as the zero State.
type FileStore struct {
	path string
}

// NewFileStore creates a store backed by path. The parent directory is created on demand.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the state file location.
func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) Load(ctx context.Context) (State, error) {
	unlock, err := f.lock(ctx, unix.LOCK_SH)
	if err != nil {
		return State{}, err
	}
	defer unlock()
	return f.read(), nil
}

func (f *FileStore) Update(ctx context.Context, fn func(s *State) (bool, error)) error {
	unlock, err := f.lock(ctx, unix.LOCK_EX)
	if err != nil {
		return err
	}
	defer unlock()

	state := f.read()
	changed, err := fn(&state)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return f.write(state)
}

// lock acquires the advisory lock, polling with LOCK_NB so ctx can interrupt the wait.
func (f *FileStore) lock(ctx context.Context, how int) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return nil, fmt.Errorf("create quota dir: %w", err)
	}
	lf, err := os.OpenFile(f.path+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open quota lock: %w", err)
	}

	for {
		err := unix.Flock(int(lf.Fd()), how|unix.LOCK_NB)
		if err == nil {
			break
		}
		if !errors.Is(err, unix.EWOULDBLOCK) && !errors.Is(err, unix.EINTR) {
			lf.Close()
			return nil, fmt.Errorf("lock quota state: %w", err)
		}
		select {
		case <-ctx.Done():
			lf.Close()
			return nil, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}

	return func() {
		_ = unix.Flock(int(lf.Fd()), unix.LOCK_UN)
		lf.Close()
	}, nil
}

func (f *FileStore) read() State {
	var s State
	data, err := os.ReadFile(f.path)
	if err != nil {
		return State{}
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}
	}
	return s
}

// write replaces the state file atomically (temp file + rename).
func (f *FileStore) write(s State) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode quota state: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create quota temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write quota state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close quota state: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace quota state: %w", err)
	}
	return nil
}
