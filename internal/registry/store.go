// Package registry keeps the list of patient ids allowed to use the intake
// system. The list lives in a JSON settings file and is served over HTTP to
// other stations.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/fsnotify/fsnotify"
)

type document struct {
	AllowedNumbers []ID `json:"allowedNumbers"`
}

// FileStore is the settings file. Every change is written through with a
// temp file and rename; external edits are picked up by Watch.
type FileStore struct {
	path   string
	logger *slog.Logger

	mu  sync.RWMutex
	ids []string
}

// OpenFileStore loads path, creating an empty settings file when it does not
// exist yet.
func OpenFileStore(path string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &FileStore{path: path, logger: logger.With("component", "registry")}

	ids, err := s.read()
	if errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create registry dir: %w", err)
		}
		if err := s.write(nil); err != nil {
			return nil, err
		}
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	s.ids = ids
	return s, nil
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.ids), nil
}

func (s *FileStore) Contains(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Contains(s.ids, id), nil
}

// Add appends id. Adding an id that is already listed is a no-op.
func (s *FileStore) Add(_ context.Context, id string) error {
	if !validID(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.Contains(s.ids, id) {
		return nil
	}
	next := append(slices.Clone(s.ids), id)
	if err := s.write(next); err != nil {
		return err
	}
	s.ids = next
	s.logger.Info("patient added", "patient_id", id)
	return nil
}

// Remove drops id. Removing an unknown id is a no-op.
func (s *FileStore) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !slices.Contains(s.ids, id) {
		return nil
	}
	next := slices.DeleteFunc(slices.Clone(s.ids), func(v string) bool { return v == id })
	if err := s.write(next); err != nil {
		return err
	}
	s.ids = next
	s.logger.Info("patient removed", "patient_id", id)
	return nil
}

// Watch reloads the file whenever it changes on disk until ctx is done. It
// returns once the watcher is running.
func (s *FileStore) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	// The directory is watched because a rename replaces the file.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(s.path), err)
	}

	go func() {
		defer func() { _ = watcher.Close() }()
		target := filepath.Clean(s.path)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
					s.reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("registry watcher error", "error", err)
			}
		}
	}()
	return nil
}

func (s *FileStore) reload() {
	ids, err := s.read()
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("registry reload failed, keeping previous list", "error", err)
		}
		return
	}
	s.mu.Lock()
	changed := !slices.Equal(s.ids, ids)
	s.ids = ids
	s.mu.Unlock()
	if changed {
		s.logger.Info("registry reloaded", "count", len(ids))
	}
}

func (s *FileStore) read() ([]string, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	ids := make([]string, 0, len(doc.AllowedNumbers))
	for _, id := range doc.AllowedNumbers {
		if !slices.Contains(ids, string(id)) {
			ids = append(ids, string(id))
		}
	}
	return ids, nil
}

func (s *FileStore) write(ids []string) error {
	doc := document{AllowedNumbers: make([]ID, len(ids))}
	for i, id := range ids {
		doc.AllowedNumbers[i] = ID(id)
	}
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".settings-*.json")
	if err != nil {
		return fmt.Errorf("create temp registry: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(append(payload, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close registry: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace registry: %w", err)
	}
	return nil
}
