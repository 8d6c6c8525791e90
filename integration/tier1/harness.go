//go:build integration

package tier1

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

const (
	binaryName     = "nbpuller"
	shimLogName    = "chown.log"
	defaultTimeout = 5 * time.Minute
)

// chownShim replaces chown on PATH and records every invocation instead of
// changing ownership, so the tests run unprivileged.
const chownShim = `#!/bin/sh
echo "$(date -u +%Y-%m-%dT%H:%M:%SZ) $*" >> "$NBPULLER_SHIM_LOG"
`

// Harness builds the nbpuller binary and runs it against local remotes
// inside a scratch directory
type Harness struct {
	t       *testing.T
	root    string
	binary  string
	shimDir string
	keep    bool
	serve   *exec.Cmd
	addr    string
}

// NewHarness creates a new test harness rooted in a fresh temp directory
func NewHarness(t *testing.T) *Harness {
	t.Helper()
	root := t.TempDir()
	return &Harness{
		t:       t,
		root:    root,
		binary:  filepath.Join(root, "bin", binaryName),
		shimDir: filepath.Join(root, "shim"),
		keep:    os.Getenv("INTEGRATION_KEEP_SERVER_LOGS") == "1",
	}
}

// Path returns p joined to the harness root
func (h *Harness) Path(p ...string) string {
	return filepath.Join(append([]string{h.root}, p...)...)
}

// BuildBinary compiles cmd/nbpuller and installs the chown shim
func (h *Harness) BuildBinary(ctx context.Context) error {
	h.t.Helper()

	projectRoot, err := findProjectRoot()
	if err != nil {
		return fmt.Errorf("get project root: %w", err)
	}

	h.t.Logf("Building %s", h.binary)
	cmd := exec.CommandContext(ctx, "go", "build", "-o", h.binary, "./cmd/nbpuller")
	cmd.Dir = projectRoot
	cmd.Stdout = &testWriter{t: h.t, prefix: "[build] "}
	cmd.Stderr = &testWriter{t: h.t, prefix: "[build] "}
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("go build: %w", err)
	}

	if err := os.MkdirAll(h.shimDir, 0o755); err != nil {
		return fmt.Errorf("create shim dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(h.shimDir, "chown"), []byte(chownShim), 0o755); err != nil {
		return fmt.Errorf("write chown shim: %w", err)
	}
	return nil
}

// env is the environment every nbpuller process runs with
func (h *Harness) env() []string {
	return append(os.Environ(),
		"PATH="+h.shimDir+string(os.PathListSeparator)+os.Getenv("PATH"),
		"NBPULLER_SHIM_LOG="+h.Path(shimLogName),
	)
}

// Exec runs a command and returns stdout, stderr and the exit code. A
// command named nbpuller resolves to the built binary.
func (h *Harness) Exec(ctx context.Context, cmd ...string) (string, string, int, error) {
	h.t.Helper()
	name := cmd[0]
	if name == binaryName {
		name = h.binary
	}

	execCmd := exec.CommandContext(ctx, name, cmd[1:]...)
	execCmd.Dir = h.root
	execCmd.Env = h.env()

	var stdout, stderr bytes.Buffer
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr

	err := execCmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return "", "", 0, fmt.Errorf("exec failed: %w", err)
		}
	}

	return stdout.String(), stderr.String(), exitCode, nil
}

// MustExec executes a command and fails the test if it returns non-zero
func (h *Harness) MustExec(ctx context.Context, cmd ...string) (string, string) {
	h.t.Helper()
	stdout, stderr, exitCode, err := h.Exec(ctx, cmd...)
	if err != nil {
		h.t.Fatalf("exec failed: %v", err)
	}
	if exitCode != 0 {
		h.t.Fatalf("command failed with exit code %d\nstdout: %s\nstderr: %s\ncmd: %v",
			exitCode, stdout, stderr, cmd)
	}
	return stdout, stderr
}

// Git runs git with a fixed identity in dir
func (h *Harness) Git(ctx context.Context, dir string, args ...string) string {
	h.t.Helper()
	full := append([]string{"git", "-c", "user.name=Course Staff", "-c", "user.email=staff@example.com", "-C", dir}, args...)
	stdout, _ := h.MustExec(ctx, full...)
	return strings.TrimSpace(stdout)
}

// WriteFile writes a file below the harness root, creating parents
func (h *Harness) WriteFile(path, content string) error {
	h.t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir parent: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// ReadFile reads a file
func (h *Harness) ReadFile(path string) (string, error) {
	h.t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// FileExists checks if a regular file exists
func (h *Harness) FileExists(path string) bool {
	h.t.Helper()
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// StartServe runs "nbpuller serve" on a free port and waits until healthz
// answers
func (h *Harness) StartServe(ctx context.Context, configPath, baseURL string) error {
	h.t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("reserve port: %w", err)
	}
	h.addr = ln.Addr().String()
	_ = ln.Close()

	cmd := exec.CommandContext(ctx, h.binary, "serve", "--config", configPath, "--log-level", "debug")
	cmd.Dir = h.root
	cmd.Env = append(h.env(), "NBPULLER_LISTEN_ADDR="+h.addr)
	cmd.Stdout = &testWriter{t: h.t, prefix: "[serve] "}
	cmd.Stderr = &testWriter{t: h.t, prefix: "[serve] "}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start serve: %w", err)
	}
	h.serve = cmd

	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get("http://" + h.addr + baseURL + "healthz")
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("server on %s did not become healthy", h.addr)
}

// Addr returns the address StartServe bound
func (h *Harness) Addr() string {
	return h.addr
}

// Cleanup stops the server, if one was started
func (h *Harness) Cleanup() {
	h.t.Helper()
	if h.serve == nil || h.serve.Process == nil {
		return
	}

	if h.keep && h.t.Failed() {
		h.t.Logf("Test failed and INTEGRATION_KEEP_SERVER_LOGS=1, scratch directory kept at %s", h.root)
	}

	_ = h.serve.Process.Signal(os.Interrupt)
	done := make(chan struct{})
	go func() {
		_ = h.serve.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		h.t.Log("Warning: server did not stop on interrupt, killing it")
		_ = h.serve.Process.Kill()
	}
}

// ReadShimLog reads and parses the chown shim log
func (h *Harness) ReadShimLog() ([]ShimLogEntry, error) {
	h.t.Helper()
	content, err := h.ReadFile(h.Path(shimLogName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var entries []ShimLogEntry
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		// Parse: "2024-01-01T12:00:00Z -R -h alice: -- /path/to/clone"
		parts := strings.SplitN(line, " ", 2)
		if len(parts) != 2 {
			continue
		}

		entries = append(entries, ShimLogEntry{
			Timestamp: parts[0],
			Args:      strings.Fields(parts[1]),
		})
	}

	return entries, scanner.Err()
}

// ClearShimLog clears the chown shim log
func (h *Harness) ClearShimLog() error {
	h.t.Helper()
	err := os.Remove(h.Path(shimLogName))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ShimLogEntry represents a parsed chown shim log entry
type ShimLogEntry struct {
	Timestamp string
	Args      []string
}

// String returns a human-readable representation
func (e ShimLogEntry) String() string {
	return fmt.Sprintf("%s: chown %s", e.Timestamp, strings.Join(e.Args, " "))
}

// HasArgs checks if the entry starts with the given arguments
func (e ShimLogEntry) HasArgs(args ...string) bool {
	if len(e.Args) < len(args) {
		return false
	}
	for i, arg := range args {
		if e.Args[i] != arg {
			return false
		}
	}
	return true
}

// ContainsArg checks if the entry contains a specific argument anywhere
func (e ShimLogEntry) ContainsArg(arg string) bool {
	for _, a := range e.Args {
		if a == arg {
			return true
		}
	}
	return false
}

// testWriter wraps test logging for command output
type testWriter struct {
	t      *testing.T
	prefix string
}

func (w *testWriter) Write(p []byte) (n int, err error) {
	lines := strings.Split(string(p), "\n")
	for _, line := range lines {
		if line != "" {
			w.t.Log(w.prefix + line)
		}
	}
	return len(p), nil
}

var _ io.Writer = (*testWriter)(nil)

// findProjectRoot walks up the directory tree from the current file to find go.mod
func findProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("failed to get caller information")
	}

	dir := filepath.Dir(filename)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found in any parent directory")
		}
		dir = parent
	}
}
