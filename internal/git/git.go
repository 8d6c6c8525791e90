package git

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ProgressFunc receives one line of git's progress output at a time
type ProgressFunc func(line string)

// Tool is the set of version-control operations the sync engine needs.
// Every method operates on the working copy rooted at dir.
type Tool interface {
	// Clone clones branch of url into dir, streaming transfer progress
	Clone(ctx context.Context, url, branch, dir string, progress ProgressFunc) error
	// EnableSparseCheckout turns on sparse materialization for the clone
	EnableSparseCheckout(ctx context.Context, dir string) error
	// Fetch updates origin/<branch>, streaming transfer progress
	Fetch(ctx context.Context, dir, branch string, progress ProgressFunc) error
	// Merge merges ref into the current branch, keeping the local side of
	// every conflicting hunk
	Merge(ctx context.Context, dir, ref string) error
	// Commit stages tracked changes and records a commit with message
	Commit(ctx context.Context, dir, message string) error
	// Checkout restores paths from rev, or from the index when rev is empty
	Checkout(ctx context.Context, dir, rev string, paths []string) error
	// ReadTree rewrites the working tree from HEAD honoring sparse patterns
	ReadTree(ctx context.Context, dir string) error
	// CatFile reports whether path exists in the tree of rev
	CatFile(ctx context.Context, dir, rev, path string) (bool, error)
	// Status lists tracked working-tree changes
	Status(ctx context.Context, dir string) ([]StatusEntry, error)
}

// CommandError is returned when a git invocation exits unsuccessfully.
// Stderr holds the raw diagnostic and must not be shown to end users.
type CommandError struct {
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("git %s: %v: %s", strings.Join(e.Args, " "), e.Err, strings.TrimSpace(e.Stderr))
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ShellClient implements Tool by shelling out to the git command
type ShellClient struct {
	sshKeyFile     string
	httpsTokenFile string
	commitName     string
	commitEmail    string
}

// NewShellClient creates a new git client that uses the git command.
// commitName and commitEmail are used for every commit it creates.
func NewShellClient(sshKeyFile, httpsTokenFile, commitName, commitEmail string) *ShellClient {
	return &ShellClient{
		sshKeyFile:     sshKeyFile,
		httpsTokenFile: httpsTokenFile,
		commitName:     commitName,
		commitEmail:    commitEmail,
	}
}

// Clone clones the repository and checks out branch
func (c *ShellClient) Clone(ctx context.Context, url, branch, dir string, progress ProgressFunc) error {
	if err := os.MkdirAll(filepath.Dir(dir), 0755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	cmd := exec.CommandContext(ctx, "git", "clone", "--progress", "--branch", branch, "--", url, dir)
	if err := c.configureAuth(cmd, url); err != nil {
		return err
	}
	return c.runStreaming(cmd, progress)
}

// EnableSparseCheckout sets core.sparseCheckout in the clone's local config
func (c *ShellClient) EnableSparseCheckout(ctx context.Context, dir string) error {
	return c.run(ctx, dir, "config", "core.sparseCheckout", "true")
}

// Fetch fetches branch from origin
func (c *ShellClient) Fetch(ctx context.Context, dir, branch string, progress ProgressFunc) error {
	args := append([]string{"git"}, trustFlags(dir)...)
	args = append(args, "-C", dir, "fetch", "--progress", "origin", branch)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	url, err := c.remoteURL(ctx, dir)
	if err != nil {
		return err
	}
	if err := c.configureAuth(cmd, url); err != nil {
		return err
	}
	return c.runStreaming(cmd, progress)
}

// Merge merges ref with the "ours" conflict strategy option
func (c *ShellClient) Merge(ctx context.Context, dir, ref string) error {
	return c.run(ctx, dir, "merge", "--no-edit", "-Xours", ref)
}

// Commit stages changes to tracked files and commits them. Untracked files
// are left alone so read-tree cannot later hide them behind the sparse filter.
func (c *ShellClient) Commit(ctx context.Context, dir, message string) error {
	if err := c.run(ctx, dir, "add", "-u"); err != nil {
		return err
	}
	return c.run(ctx, dir, "commit", "--no-verify", "-m", message)
}

// Checkout restores paths from rev, or from the index if rev is empty
func (c *ShellClient) Checkout(ctx context.Context, dir, rev string, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	args := []string{"checkout"}
	if rev != "" {
		args = append(args, rev)
	}
	args = append(args, "--")
	args = append(args, paths...)
	return c.run(ctx, dir, args...)
}

// ReadTree re-applies the sparse patterns to the working tree
func (c *ShellClient) ReadTree(ctx context.Context, dir string) error {
	return c.run(ctx, dir, "read-tree", "-mu", "HEAD")
}

// Status returns the tracked changes in the working tree
func (c *ShellClient) Status(ctx context.Context, dir string) ([]StatusEntry, error) {
	out, err := c.output(ctx, dir, "status", "--porcelain=v1", "-z", "--untracked-files=no")
	if err != nil {
		return nil, err
	}
	return ParseStatus(out)
}

// remoteURL returns the configured URL of origin so auth can be chosen
func (c *ShellClient) remoteURL(ctx context.Context, dir string) (string, error) {
	out, err := c.output(ctx, dir, "remote", "get-url", "origin")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// configureAuth sets up authentication for git operations
func (c *ShellClient) configureAuth(cmd *exec.Cmd, url string) error {
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	cmd.Env = append(cmd.Env, "GIT_TERMINAL_PROMPT=0")

	// SSH authentication
	if c.sshKeyFile != "" && (strings.HasPrefix(url, "git@") || strings.HasPrefix(url, "ssh://")) {
		// The path is shell-quoted to prevent injection via crafted filenames.
		sshCmd := fmt.Sprintf("ssh -i %s -o StrictHostKeyChecking=accept-new -F /dev/null", shellQuote(c.sshKeyFile))
		cmd.Env = append(cmd.Env, "GIT_SSH_COMMAND="+sshCmd)
		return nil
	}

	// HTTPS authentication with token
	if c.httpsTokenFile != "" && strings.HasPrefix(url, "https://") {
		token, err := os.ReadFile(c.httpsTokenFile)
		if err != nil {
			return fmt.Errorf("failed to read HTTPS token file: %w", err)
		}

		// The token travels in an environment variable read by a credential
		// helper so it never lands in .git/config or the process list.
		cmd.Env = append(cmd.Env, "NBPULLER_GIT_TOKEN="+strings.TrimSpace(string(token)))
		cmd.Args = insertGitFlags(cmd.Args,
			"-c", `credential.helper=!f() { echo "username=x-access-token"; echo "password=$NBPULLER_GIT_TOKEN"; }; f`,
		)
	}

	return nil
}

// identityFlags pins the committer identity so commits work on hosts
// without a global git config.
func (c *ShellClient) identityFlags() []string {
	return []string{"-c", "user.name=" + c.commitName, "-c", "user.email=" + c.commitEmail}
}

// trustFlags lets git operate on a clone owned by another user, as happens
// once a clone has been handed over. The clone's own config is not trusted:
// hooks and fsmonitor are switched off for every invocation.
func trustFlags(dir string) []string {
	flags := []string{"-c", "core.hooksPath=/dev/null", "-c", "core.fsmonitor=false"}
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	flags = append(flags, "-c", "safe.directory="+abs)
	if resolved, err := filepath.EvalSymlinks(abs); err == nil && resolved != abs {
		flags = append(flags, "-c", "safe.directory="+resolved)
	}
	return flags
}

// run executes git in dir and discards its output
func (c *ShellClient) run(ctx context.Context, dir string, args ...string) error {
	_, err := c.output(ctx, dir, args...)
	return err
}

// output executes git in dir and returns stdout
func (c *ShellClient) output(ctx context.Context, dir string, args ...string) ([]byte, error) {
	full := append([]string{"git"}, c.identityFlags()...)
	full = append(full, trustFlags(dir)...)
	full = append(full, "-C", dir)
	full = append(full, args...)

	cmd := exec.CommandContext(ctx, full[0], full[1:]...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, newCommandError(args, err, stderr.String())
	}
	return stdout.Bytes(), nil
}

// runStreaming executes cmd forwarding each stderr progress line to progress
// as it arrives, and returns a CommandError carrying the full stderr on failure.
func (c *ShellClient) runStreaming(cmd *exec.Cmd, progress ProgressFunc) error {
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to open stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return newCommandError(cmd.Args[1:], err, "")
	}

	var captured bytes.Buffer
	scanner := bufio.NewScanner(io.TeeReader(stderr, &captured))
	scanner.Split(ScanProgressLines)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && progress != nil {
			progress(line)
		}
	}
	// Drain anything the scanner left behind so Wait does not block
	_, _ = io.Copy(&captured, stderr)

	if err := cmd.Wait(); err != nil {
		return newCommandError(cmd.Args[1:], err, captured.String())
	}
	return nil
}

func newCommandError(args []string, err error, stderr string) *CommandError {
	cmdErr := &CommandError{
		Args:     args,
		ExitCode: -1,
		Stderr:   stderr,
		Err:      err,
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		cmdErr.ExitCode = exitErr.ExitCode()
	}
	return cmdErr
}

// ScanProgressLines is a bufio.SplitFunc that splits on both '\n' and '\r',
// since git redraws progress counters in place with carriage returns.
func ScanProgressLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// insertGitFlags inserts flags immediately after the "git" command name,
// before the subcommand (e.g. "clone", "fetch").
func insertGitFlags(args []string, flags ...string) []string {
	if len(args) == 0 {
		return flags
	}
	result := make([]string, 0, len(args)+len(flags))
	result = append(result, args[0])
	result = append(result, flags...)
	result = append(result, args[1:]...)
	return result
}

// shellQuote wraps s in single quotes, escaping any embedded single quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
