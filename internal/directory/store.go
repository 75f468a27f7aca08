package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/user/burrow/internal/types"
)

// Store persists agent records, one independent record per agent.
type Store interface {
	Save(ctx context.Context, rec *Record) error
	Delete(ctx context.Context, id types.AgentID) error
	LoadAll(ctx context.Context) ([]*Record, error)
}

// FileStore keeps each record in <dir>/<id>.json.
type FileStore struct {
	dir string
}

// NewFileStore creates a store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) path(id types.AgentID) string {
	return filepath.Join(s.dir, string(id)+".json")
}

// Save writes rec atomically via a unique temp file and rename.
func (s *FileStore) Save(_ context.Context, rec *Record) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create agents dir: %w", err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal agent: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, string(rec.ID)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write agent: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close agent file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(rec.ID)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename agent file: %w", err)
	}
	return nil
}

func (s *FileStore) Delete(_ context.Context, id types.AgentID) error {
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete agent: %w", err)
	}
	return nil
}

// LoadAll reads every record in the directory. Unreadable files are logged
// and skipped.
func (s *FileStore) LoadAll(_ context.Context) ([]*Record, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read agents dir: %w", err)
	}
	var recs []*Record
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("skip agent record", "path", path, "error", err)
			continue
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			slog.Warn("skip agent record", "path", path, "error", err)
			continue
		}
		recs = append(recs, &rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].CreatedAt.Before(recs[j].CreatedAt) })
	return recs, nil
}
