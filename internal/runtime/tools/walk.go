package tools

import (
	"errors"
	"io/fs"
	"path/filepath"
)

// DefaultIgnore lists directory names never descended into.
var DefaultIgnore = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
	".venv":        true,
	".cache":       true,
}

// WalkOptions bounds a tree traversal.
type WalkOptions struct {
	Ignore map[string]bool                       // base names skipped (dirs are not entered)
	Skip   func(path string, d fs.DirEntry) bool // extra predicate, e.g. hidden paths
	Limit  int                                   // stop after this many accepted entries; 0 means no limit
}

// Visitor inspects one entry and reports whether it counts toward the limit.
type Visitor func(path string, d fs.DirEntry) (bool, error)

var errLimit = errors.New("walk limit reached")

// Walk traverses root depth-first in lexical order. It returns truncated=true
// when the limit stopped the walk early. Unreadable entries are skipped.
func Walk(root string, opts WalkOptions, visit Visitor) (truncated bool, err error) {
	accepted := 0
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if path != root {
			if opts.Ignore[d.Name()] || (opts.Skip != nil && opts.Skip(path, d)) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}
		ok, err := visit(path, d)
		if err != nil {
			return err
		}
		if ok {
			accepted++
			if opts.Limit > 0 && accepted >= opts.Limit {
				return errLimit
			}
		}
		return nil
	})
	if errors.Is(err, errLimit) {
		return true, nil
	}
	return false, err
}
