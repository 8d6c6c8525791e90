package git

import (
	"bytes"
	"fmt"
)

// StatusEntry is one record of `git status --porcelain=v1`
type StatusEntry struct {
	// Index is the staged state (X column), Worktree the unstaged state (Y column)
	Index    byte
	Worktree byte
	Path     string
	// OrigPath is set for renames and copies
	OrigPath string
}

// Unmerged reports whether the entry is a merge conflict
func (e StatusEntry) Unmerged() bool {
	switch string([]byte{e.Index, e.Worktree}) {
	case "DD", "AU", "UD", "UA", "DU", "AA", "UU":
		return true
	}
	return false
}

// DeletedInWorktree reports a tracked file removed from disk but not staged
func (e StatusEntry) DeletedInWorktree() bool {
	return !e.Unmerged() && e.Worktree == 'D'
}

// DeletedInIndex reports a deletion that has been staged
func (e StatusEntry) DeletedInIndex() bool {
	return !e.Unmerged() && e.Index == 'D'
}

// ParseStatus parses NUL-terminated porcelain v1 output
func ParseStatus(out []byte) ([]StatusEntry, error) {
	var entries []StatusEntry
	records := bytes.Split(out, []byte{0})
	for i := 0; i < len(records); i++ {
		rec := records[i]
		if len(rec) == 0 {
			continue
		}
		if len(rec) < 4 || rec[2] != ' ' {
			return nil, fmt.Errorf("malformed status record %q", rec)
		}

		entry := StatusEntry{
			Index:    rec[0],
			Worktree: rec[1],
			Path:     string(rec[3:]),
		}

		// Renames and copies carry the source path as the next record
		if entry.Index == 'R' || entry.Index == 'C' {
			if i+1 >= len(records) {
				return nil, fmt.Errorf("rename record %q missing source path", rec)
			}
			i++
			entry.OrigPath = string(records[i])
		}

		entries = append(entries, entry)
	}
	return entries, nil
}
