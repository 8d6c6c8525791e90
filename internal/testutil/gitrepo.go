// Package testutil provides helpers for building throwaway git repositories
// in tests.
package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// RequireGit skips the test when the git binary is not installed
func RequireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

// Git runs git with args in dir and returns trimmed stdout
func Git(t *testing.T, dir string, args ...string) string {
	t.Helper()
	full := append([]string{"-C", dir}, args...)
	cmd := exec.Command("git", full...)
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=Test", "GIT_AUTHOR_EMAIL=test@test.com",
		"GIT_COMMITTER_NAME=Test", "GIT_COMMITTER_EMAIL=test@test.com",
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v: %v: %s", args, err, out)
	}
	return strings.TrimSpace(string(out))
}

// InitRepo creates a repository on branch in dir with a test identity
func InitRepo(t *testing.T, dir, branch string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	Git(t, dir, "init", "-b", branch)
	Git(t, dir, "config", "user.email", "test@test.com")
	Git(t, dir, "config", "user.name", "Test")
}

// WriteFile creates or overwrites rel below dir
func WriteFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// ReadFile returns the content of rel below dir
func ReadFile(t *testing.T, dir, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, rel))
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

// Exists reports whether rel exists below dir
func Exists(dir, rel string) bool {
	_, err := os.Stat(filepath.Join(dir, rel))
	return err == nil
}

// CommitFiles writes files into repo and commits them with msg
func CommitFiles(t *testing.T, repo string, files map[string]string, msg string) {
	t.Helper()
	for rel, content := range files {
		WriteFile(t, repo, rel, content)
	}
	Git(t, repo, "add", "-A")
	Git(t, repo, "commit", "-m", msg)
}

// NewRemote creates a repository named name below root on branch with an
// initial commit of files, and returns its path.
func NewRemote(t *testing.T, root, name, branch string, files map[string]string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	InitRepo(t, dir, branch)
	CommitFiles(t, dir, files, "Initial commit")
	return dir
}
