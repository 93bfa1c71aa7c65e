package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"dmagent/internal/core"
)

const sessionExt = ".yaml"

// FileSessionStore keeps one YAML snapshot per session in a directory.
type FileSessionStore struct {
	dir string
}

// NewFileSessionStore creates a store rooted at dir. The directory is created
// on first save.
func NewFileSessionStore(dir string) *FileSessionStore {
	return &FileSessionStore{dir: dir}
}

// Dir returns the directory holding the snapshots.
func (s *FileSessionStore) Dir() string {
	return s.dir
}

func (s *FileSessionStore) path(id string) string {
	return filepath.Join(s.dir, id+sessionExt)
}

func (s *FileSessionStore) Load(ctx context.Context, id string) (*core.SessionState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateSessionID(id); err != nil {
		return nil, err
	}
	return s.read(s.path(id))
}

func (s *FileSessionStore) read(path string) (*core.SessionState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("read session: %w", err)
	}

	state := core.NewSessionState()
	if err := yaml.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("parse session %s: %w", filepath.Base(path), err)
	}
	if state.DomainState == nil {
		state.DomainState = make(map[string]any)
	}
	return state, nil
}

func (s *FileSessionStore) Save(ctx context.Context, state *core.SessionState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stored, err := prepare(state)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return writeFileAtomic(s.path(stored.ID), data, 0o644)
}

func (s *FileSessionStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateSessionID(id); err != nil {
		return err
	}

	if err := os.Remove(s.path(id)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *FileSessionStore) List(ctx context.Context) ([]SessionInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []SessionInfo{}, nil
		}
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	out := make([]SessionInfo, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != sessionExt {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		state, err := s.read(filepath.Join(s.dir, name))
		if err != nil {
			return nil, err
		}
		out = append(out, infoOf(state))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Lock takes an exclusive lock on a session so two interactive clients do
// not interleave turns. Release the returned lock when done.
func (s *FileSessionStore) Lock(id, owner string) (*FileLock, error) {
	if err := ValidateSessionID(id); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}

	lock := NewFileLock(filepath.Join(s.dir, id+".lock"), owner)
	if err := lock.Acquire(); err != nil {
		return nil, err
	}
	return lock, nil
}
