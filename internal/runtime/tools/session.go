package tools

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"
)

// Session is the per-conversation context a handler may consult: which agent
// is calling and which files it has read.
type Session struct {
	AgentID string
	Reads   *ReadTracker
}

type sessionKey struct{}

// WithSession attaches s to ctx.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFrom returns the session attached to ctx, or nil.
func SessionFrom(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionKey{}).(*Session)
	return s
}

type stamp struct {
	mod  time.Time
	size int64
}

// ReadTracker remembers the modification time and size of every file read,
// so a later overwrite can be refused if the file was never read or has
// changed since.
type ReadTracker struct {
	mu   sync.Mutex
	seen map[string]stamp
}

func NewReadTracker() *ReadTracker {
	return &ReadTracker{seen: make(map[string]stamp)}
}

// Record stores the current stamp of path.
func (r *ReadTracker) Record(path string, info os.FileInfo) {
	r.mu.Lock()
	r.seen[path] = stamp{mod: info.ModTime(), size: info.Size()}
	r.mu.Unlock()
}

// Check allows writing a new file, or an existing one whose stamp matches the
// last Record.
func (r *ReadTracker) Check(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	r.mu.Lock()
	prev, ok := r.seen[path]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", path, ErrNotRead)
	}
	if !prev.mod.Equal(info.ModTime()) || prev.size != info.Size() {
		return fmt.Errorf("%s: %w", path, ErrStale)
	}
	return nil
}
