package tools

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/text/unicode/norm"
)

// Policy violations. Handlers wrap these; the registry turns them into
// failure results for the model.
var (
	ErrOutsideRoot       = errors.New("path is outside the working directory")
	ErrHidden            = errors.New("path is hidden")
	ErrReadOnly          = errors.New("path is read-only")
	ErrCommandNotAllowed = errors.New("command is not allowed")
	ErrNotRead           = errors.New("file must be read before it is overwritten")
	ErrStale             = errors.New("file changed since it was last read")
)

// GlobMatch reports whether s matches pattern, where '*' matches any run of
// characters (including none) and '?' matches exactly one.
func GlobMatch(pattern, s string) bool {
	p, i := 0, 0
	star, mark := -1, 0
	for i < len(s) {
		switch {
		case p < len(pattern) && pattern[p] == '*':
			star, mark = p, i
			p++
		case p < len(pattern) && (pattern[p] == '?' || pattern[p] == s[i]):
			p++
			i++
		case star >= 0:
			p = star + 1
			mark++
			i = mark
		default:
			return false
		}
	}
	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}

// CommandAllowed checks the first word of command against the allow-list.
// A lone "*" entry allows everything.
func CommandAllowed(command string, allowed []string) bool {
	for _, pattern := range allowed {
		if pattern == "*" {
			return true
		}
	}
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return false
	}
	name := filepath.Base(fields[0])
	for _, pattern := range allowed {
		if GlobMatch(pattern, name) {
			return true
		}
	}
	return false
}

// Policy confines filesystem access to Root.
type Policy struct {
	Root     string
	Hidden   []string // doublestar patterns relative to Root
	ReadOnly []string
}

// Confine resolves path against the root and rejects anything that escapes
// it, lexically or through a symlink.
func (p *Policy) Confine(path string) (string, error) {
	root, err := filepath.Abs(p.Root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	path = norm.NFC.String(strings.TrimSpace(path))
	if path == "" {
		path = root
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	path = filepath.Clean(path)
	if !within(root, path) {
		return "", fmt.Errorf("%s: %w", path, ErrOutsideRoot)
	}

	// Symlinks are only checked when both ends resolve; a missing path is
	// fine (write_file creates it).
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return path, nil
	}
	if real, err := resolveExisting(path); err == nil && !within(realRoot, real) {
		return "", fmt.Errorf("%s: %w", path, ErrOutsideRoot)
	}
	return path, nil
}

// resolveExisting evaluates symlinks on the longest existing prefix of path.
func resolveExisting(path string) (string, error) {
	var rest []string
	cur := path
	for {
		if _, err := os.Lstat(cur); err == nil {
			real, err := filepath.EvalSymlinks(cur)
			if err != nil {
				return "", err
			}
			for i := len(rest) - 1; i >= 0; i-- {
				real = filepath.Join(real, rest[i])
			}
			return real, nil
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return path, nil
		}
		rest = append(rest, filepath.Base(cur))
		cur = parent
	}
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// IsHidden reports whether a confined path matches a hidden pattern.
func (p *Policy) IsHidden(path string) bool {
	return p.matches(path, p.Hidden)
}

// IsReadOnly reports whether a confined path matches a read-only pattern.
func (p *Policy) IsReadOnly(path string) bool {
	return p.matches(path, p.ReadOnly)
}

func (p *Policy) matches(path string, patterns []string) bool {
	if len(patterns) == 0 {
		return false
	}
	rel := p.Rel(path)
	for _, pattern := range patterns {
		if ok, _ := doublestar.PathMatch(pattern, rel); ok {
			return true
		}
		if ok, _ := doublestar.PathMatch(pattern, path); ok {
			return true
		}
	}
	return false
}

// Rel returns path relative to the root, or path itself if that fails.
func (p *Policy) Rel(path string) string {
	root, err := filepath.Abs(p.Root)
	if err != nil {
		return path
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return rel
}

// Readable confines path and rejects hidden paths.
func (p *Policy) Readable(path string) (string, error) {
	abs, err := p.Confine(path)
	if err != nil {
		return "", err
	}
	if p.IsHidden(abs) {
		return "", fmt.Errorf("%s: %w", path, ErrHidden)
	}
	return abs, nil
}

// Writable confines path and rejects hidden and read-only paths.
func (p *Policy) Writable(path string) (string, error) {
	abs, err := p.Readable(path)
	if err != nil {
		return "", err
	}
	if p.IsReadOnly(abs) {
		return "", fmt.Errorf("%s: %w", path, ErrReadOnly)
	}
	return abs, nil
}
