package tools

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestGlobMatch(t *testing.T) {
	tests := []struct {
		pattern, s string
		want       bool
	}{
		{"git*", "git", true},
		{"git*", "gitlog", true},
		{"git*", "npm", false},
		{"*", "anything", true},
		{"*", "", true},
		{"?s", "ls", true},
		{"?s", "s", false},
		{"g?t", "git", true},
		{"*.go", "main.go", true},
		{"*.go", "main.goo", false},
		{"a*b*c", "axxbyyc", true},
		{"a*b*c", "axxbyy", false},
		{"ls", "lsx", false},
		{"", "", true},
	}
	for _, tt := range tests {
		if got := GlobMatch(tt.pattern, tt.s); got != tt.want {
			t.Errorf("GlobMatch(%q, %q) = %v, want %v", tt.pattern, tt.s, got, tt.want)
		}
	}
}

func TestCommandAllowed(t *testing.T) {
	allowed := []string{"ls", "git*"}
	tests := []struct {
		cmd  string
		want bool
	}{
		{"ls -la", true},
		{"git status", true},
		{"/usr/bin/git log", true},
		{"rm -rf /", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := CommandAllowed(tt.cmd, allowed); got != tt.want {
			t.Errorf("CommandAllowed(%q) = %v, want %v", tt.cmd, got, tt.want)
		}
	}
	if !CommandAllowed("rm -rf /", []string{"ls", "*"}) {
		t.Error("a lone * must allow everything")
	}
	if CommandAllowed("ls", nil) {
		t.Error("empty allow-list must allow nothing")
	}
}

func TestConfine(t *testing.T) {
	p := &Policy{Root: "/home/u/work"}

	if _, err := p.Confine("/home/u/work/../../etc/passwd"); !errors.Is(err, ErrOutsideRoot) {
		t.Errorf("expected ErrOutsideRoot, got %v", err)
	}
	got, err := p.Confine("/home/u/work/sub/file.txt")
	if err != nil {
		t.Fatalf("expected path inside root to be accepted: %v", err)
	}
	if got != "/home/u/work/sub/file.txt" {
		t.Errorf("got %q", got)
	}

	rel, err := p.Confine("sub/file.txt")
	if err != nil || rel != "/home/u/work/sub/file.txt" {
		t.Errorf("relative path: got %q, %v", rel, err)
	}
	root, err := p.Confine("")
	if err != nil || root != "/home/u/work" {
		t.Errorf("empty path: got %q, %v", root, err)
	}
	if _, err := p.Confine("/home/u/workshop/x"); !errors.Is(err, ErrOutsideRoot) {
		t.Errorf("sibling with shared prefix must be rejected, got %v", err)
	}
}

func TestConfineSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(root, "link")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	p := &Policy{Root: root}
	if _, err := p.Confine(filepath.Join(root, "link", "secret.txt")); !errors.Is(err, ErrOutsideRoot) {
		t.Errorf("expected symlink escape to be rejected, got %v", err)
	}
	if _, err := p.Confine(filepath.Join(root, "new", "file.txt")); err != nil {
		t.Errorf("nonexistent path inside root: %v", err)
	}
}

func TestHiddenAndReadOnly(t *testing.T) {
	p := &Policy{Root: "/work", Hidden: []string{"**/.env"}, ReadOnly: []string{"docs/**"}}

	if _, err := p.Readable("/work/app/.env"); !errors.Is(err, ErrHidden) {
		t.Errorf("expected ErrHidden, got %v", err)
	}
	if _, err := p.Readable("/work/docs/readme.md"); err != nil {
		t.Errorf("read-only paths are readable: %v", err)
	}
	if _, err := p.Writable("/work/docs/readme.md"); !errors.Is(err, ErrReadOnly) {
		t.Errorf("expected ErrReadOnly, got %v", err)
	}
	if _, err := p.Writable("/work/src/main.go"); err != nil {
		t.Errorf("expected writable, got %v", err)
	}
}
