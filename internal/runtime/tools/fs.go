package tools

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const (
	maxListEntries   = 500
	maxReadChars     = 100000
	maxFindResults   = 200
	maxSearchResults = 100
	maxSearchFile    = 1 << 20
)

// fsTool carries what every filesystem handler needs.
type fsTool struct {
	policy *Policy
	reads  *ReadTracker // used when the context carries no session
}

func (t *fsTool) tracker(ctx context.Context) *ReadTracker {
	if s := SessionFrom(ctx); s != nil && s.Reads != nil {
		return s.Reads
	}
	return t.reads
}

func (t *fsTool) skipHidden(path string, _ fs.DirEntry) bool {
	return t.policy.IsHidden(path)
}

// Filesystem returns the five filesystem tools sharing one policy.
func Filesystem(policy *Policy) []Tool {
	base := &fsTool{policy: policy, reads: NewReadTracker()}
	return []Tool{
		&ListDirectory{base}, &ReadFile{base}, &WriteFile{base}, &FindFiles{base}, &SearchFiles{base},
	}
}

// ListDirectory lists one directory.
type ListDirectory struct{ *fsTool }

func NewListDirectory(policy *Policy) *ListDirectory {
	return &ListDirectory{&fsTool{policy: policy, reads: NewReadTracker()}}
}

func (t *ListDirectory) Name() string { return "list_directory" }
func (t *ListDirectory) Description() string {
	return "List the files and directories in a directory inside the working directory"
}
func (t *ListDirectory) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Directory to list (default: the working directory)"}
		}
	}`)
}

func (t *ListDirectory) Execute(_ context.Context, args json.RawMessage) (string, error) {
	var params struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("parse args: %w", err)
	}
	dir, err := t.policy.Readable(params.Path)
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("list directory: %w", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n", dir)
	shown := 0
	for _, e := range entries {
		if t.policy.IsHidden(filepath.Join(dir, e.Name())) {
			continue
		}
		if shown == maxListEntries {
			fmt.Fprintf(&sb, "[... %d more entries]\n", len(entries)-shown)
			break
		}
		shown++
		if e.IsDir() {
			fmt.Fprintf(&sb, "  [dir]  %s/\n", e.Name())
			continue
		}
		size := int64(0)
		if info, err := e.Info(); err == nil {
			size = info.Size()
		}
		fmt.Fprintf(&sb, "  [file] %s (%d bytes)\n", e.Name(), size)
	}
	if shown == 0 {
		sb.WriteString("  (empty)\n")
	}
	return sb.String(), nil
}

// ReadFile returns file contents and records the read for WriteFile.
type ReadFile struct{ *fsTool }

func NewReadFile(policy *Policy) *ReadFile {
	return &ReadFile{&fsTool{policy: policy, reads: NewReadTracker()}}
}

func (t *ReadFile) Name() string        { return "read_file" }
func (t *ReadFile) Description() string { return "Read a text file inside the working directory" }
func (t *ReadFile) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "File to read"},
			"offset": {"type": "integer", "description": "First line to return, 1-based (default: 1)"},
			"limit": {"type": "integer", "description": "Maximum number of lines to return"}
		},
		"required": ["path"]
	}`)
}

func (t *ReadFile) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		Path   string `json:"path"`
		Offset int    `json:"offset"`
		Limit  int    `json:"limit"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("parse args: %w", err)
	}
	if params.Path == "" {
		return "", fmt.Errorf("path is required")
	}
	path, err := t.policy.Readable(params.Path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	t.tracker(ctx).Record(path, info)

	content := string(data)
	if params.Offset > 1 || params.Limit > 0 {
		lines := strings.SplitAfter(content, "\n")
		start := max(params.Offset-1, 0)
		if start > len(lines) {
			start = len(lines)
		}
		end := len(lines)
		if params.Limit > 0 && start+params.Limit < end {
			end = start + params.Limit
		}
		content = strings.Join(lines[start:end], "")
	}
	if len(content) > maxReadChars {
		content = cut(content, maxReadChars) + "\n\n[Content truncated]"
	}
	return content, nil
}

// WriteFile creates or overwrites a file. Existing files must have been read
// first and must not have changed since.
type WriteFile struct{ *fsTool }

func NewWriteFile(policy *Policy) *WriteFile {
	return &WriteFile{&fsTool{policy: policy, reads: NewReadTracker()}}
}

func (t *WriteFile) Name() string { return "write_file" }
func (t *WriteFile) Description() string {
	return "Write a file inside the working directory, replacing it entirely. Read existing files first."
}
func (t *WriteFile) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "File to write"},
			"content": {"type": "string", "description": "Full new content"}
		},
		"required": ["path", "content"]
	}`)
}

func (t *WriteFile) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("parse args: %w", err)
	}
	if params.Path == "" {
		return "", fmt.Errorf("path is required")
	}
	path, err := t.policy.Writable(params.Path)
	if err != nil {
		return "", err
	}
	reads := t.tracker(ctx)
	if err := reads.Check(path); err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(params.Content), 0644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	if info, err := os.Stat(path); err == nil {
		reads.Record(path, info)
	}
	return fmt.Sprintf("Wrote %d bytes to %s", len(params.Content), path), nil
}

// FindFiles lists files whose relative path matches a doublestar pattern.
type FindFiles struct{ *fsTool }

func NewFindFiles(policy *Policy) *FindFiles {
	return &FindFiles{&fsTool{policy: policy, reads: NewReadTracker()}}
}

func (t *FindFiles) Name() string { return "find_files" }
func (t *FindFiles) Description() string {
	return "Find files by glob pattern (supports **), e.g. \"**/*.go\" or \"*.md\""
}
func (t *FindFiles) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"pattern": {"type": "string", "description": "Glob pattern; patterns without a slash match file names"},
			"path": {"type": "string", "description": "Directory to search (default: the working directory)"}
		},
		"required": ["pattern"]
	}`)
}

func (t *FindFiles) Execute(_ context.Context, args json.RawMessage) (string, error) {
	var params struct {
		Pattern string `json:"pattern"`
		Path    string `json:"path"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("parse args: %w", err)
	}
	if params.Pattern == "" {
		return "", fmt.Errorf("pattern is required")
	}
	if !doublestar.ValidatePattern(params.Pattern) {
		return "", fmt.Errorf("invalid pattern %q", params.Pattern)
	}
	root, err := t.policy.Readable(params.Path)
	if err != nil {
		return "", err
	}
	byName := !strings.Contains(params.Pattern, "/")

	var matches []string
	truncated, err := Walk(root, WalkOptions{Ignore: DefaultIgnore, Skip: t.skipHidden, Limit: maxFindResults},
		func(path string, d fs.DirEntry) (bool, error) {
			if d.IsDir() {
				return false, nil
			}
			rel, _ := filepath.Rel(root, path)
			target := filepath.ToSlash(rel)
			if byName {
				target = d.Name()
			}
			if ok, _ := doublestar.Match(params.Pattern, target); !ok {
				return false, nil
			}
			matches = append(matches, filepath.ToSlash(rel))
			return true, nil
		})
	if err != nil {
		return "", fmt.Errorf("find files: %w", err)
	}
	if len(matches) == 0 {
		return "No files found.", nil
	}
	out := strings.Join(matches, "\n")
	if truncated {
		out += fmt.Sprintf("\n[stopped after %d results]", maxFindResults)
	}
	return out, nil
}

// SearchFiles greps file contents.
type SearchFiles struct{ *fsTool }

func NewSearchFiles(policy *Policy) *SearchFiles {
	return &SearchFiles{&fsTool{policy: policy, reads: NewReadTracker()}}
}

func (t *SearchFiles) Name() string { return "search_files" }
func (t *SearchFiles) Description() string {
	return "Search file contents for a regular expression and return matching lines"
}
func (t *SearchFiles) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "Regular expression (plain text also works)"},
			"path": {"type": "string", "description": "Directory to search (default: the working directory)"},
			"file_pattern": {"type": "string", "description": "Only search files whose name matches this glob"}
		},
		"required": ["query"]
	}`)
}

func (t *SearchFiles) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		Query       string `json:"query"`
		Path        string `json:"path"`
		FilePattern string `json:"file_pattern"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("parse args: %w", err)
	}
	if params.Query == "" {
		return "", fmt.Errorf("query is required")
	}
	re, err := regexp.Compile(params.Query)
	if err != nil {
		re = regexp.MustCompile(regexp.QuoteMeta(params.Query))
	}
	root, err := t.policy.Readable(params.Path)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	found := 0
	truncated, err := Walk(root, WalkOptions{Ignore: DefaultIgnore, Skip: t.skipHidden},
		func(path string, d fs.DirEntry) (bool, error) {
			if err := ctx.Err(); err != nil {
				return false, err
			}
			if d.IsDir() {
				return false, nil
			}
			if params.FilePattern != "" {
				if ok, _ := doublestar.Match(params.FilePattern, d.Name()); !ok {
					return false, nil
				}
			}
			n, err := grepFile(path, root, re, &sb, maxSearchResults-found)
			if err != nil {
				return false, nil
			}
			found += n
			if found >= maxSearchResults {
				return false, errLimit
			}
			return false, nil
		})
	if err != nil {
		return "", fmt.Errorf("search files: %w", err)
	}
	if found == 0 {
		return "No matches found.", nil
	}
	if truncated || found >= maxSearchResults {
		fmt.Fprintf(&sb, "[stopped after %d matches]\n", maxSearchResults)
	}
	return sb.String(), nil
}

func grepFile(path, root string, re *regexp.Regexp, sb *strings.Builder, budget int) (int, error) {
	info, err := os.Stat(path)
	if err != nil || info.Size() > maxSearchFile {
		return 0, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	if bytes.IndexByte(head, 0) >= 0 {
		return 0, nil
	}
	rel, _ := filepath.Rel(root, path)
	rel = filepath.ToSlash(rel)

	n := 0
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), maxSearchFile)
	for line := 1; scanner.Scan(); line++ {
		if n >= budget {
			break
		}
		text := scanner.Text()
		if !re.MatchString(text) {
			continue
		}
		if len(text) > 200 {
			text = cut(text, 200) + "..."
		}
		fmt.Fprintf(sb, "%s:%d: %s\n", rel, line, text)
		n++
	}
	return n, nil
}
