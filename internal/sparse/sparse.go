// Package sparse maintains the sparse-checkout pattern list of a clone.
//
// The pattern set only ever grows: once a path has been registered it stays
// materialized on every later sync.
package sparse

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/schaermu/nbpuller/internal/pathutil"
)

const (
	// PatternFile is the sparse-checkout file relative to the clone root
	PatternFile = ".git/info/sparse-checkout"
	// IgnoreFile is always registered so the repo's ignore rules apply
	IgnoreFile = ".gitignore"
)

// Registry reads and appends sparse-checkout patterns of one clone
type Registry struct {
	fs billy.Filesystem
}

// New returns a registry for the clone whose root is fs
func New(fs billy.Filesystem) *Registry {
	return &Registry{fs: fs}
}

// ForClone returns a registry for the clone at dir on the local disk
func ForClone(dir string) *Registry {
	return New(osfs.New(dir))
}

// Patterns returns the registered paths in file order, without the leading
// anchor slash and with spaces unescaped. A missing file yields no patterns.
func (r *Registry) Patterns() ([]string, error) {
	data, err := util.ReadFile(r.fs, PatternFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read sparse-checkout file: %w", err)
	}

	var patterns []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if p := pathutil.Normalize(line); p != "" {
			patterns = append(patterns, p)
		}
	}
	return patterns, nil
}

// Register appends every path not yet present, plus IgnoreFile, as a
// root-anchored pattern. It returns the entries that were added. Calling it
// again with the same paths is a no-op.
func (r *Registry) Register(paths []string) ([]string, error) {
	existing, err := r.Patterns()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(existing)+len(paths)+1)
	for _, p := range existing {
		seen[p] = true
	}

	var added []string
	for _, p := range append([]string{IgnoreFile}, paths...) {
		p = pathutil.Normalize(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		added = append(added, p)
	}

	if err := r.fs.MkdirAll(path.Dir(PatternFile), 0755); err != nil {
		return nil, fmt.Errorf("failed to create sparse-checkout directory: %w", err)
	}

	f, err := r.fs.OpenFile(PatternFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open sparse-checkout file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	if len(added) == 0 {
		return nil, nil
	}

	var buf bytes.Buffer
	if needsNewline, err := r.endsWithoutNewline(); err != nil {
		return nil, err
	} else if needsNewline {
		buf.WriteByte('\n')
	}
	for _, p := range added {
		buf.WriteString("/" + pathutil.EscapeSpaces(p) + "\n")
	}

	if _, err := f.Write(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("failed to write sparse-checkout file: %w", err)
	}
	return added, nil
}

// endsWithoutNewline reports whether the pattern file has content whose
// last line is unterminated, so appends do not merge into it.
func (r *Registry) endsWithoutNewline() (bool, error) {
	data, err := util.ReadFile(r.fs, PatternFile)
	if err != nil {
		return false, fmt.Errorf("failed to read sparse-checkout file: %w", err)
	}
	return len(data) > 0 && data[len(data)-1] != '\n', nil
}
