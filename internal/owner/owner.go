// Package owner hands synced directories over to the user they belong to.
package owner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Owner transfers ownership of a directory tree to a user account
type Owner interface {
	// Chown assigns dir and everything below it to username
	Chown(ctx context.Context, dir, username string) error
}

// Client implements Owner by shelling out to chown
type Client struct {
	binary string
}

// NewClient creates a new chown client
func NewClient() *Client {
	return &Client{binary: "chown"}
}

// Chown recursively assigns dir to username and the user's login group.
// Symlinks are changed themselves, never their targets.
func (c *Client) Chown(ctx context.Context, dir, username string) error {
	if username == "" || strings.ContainsAny(username, ":/ \t\n") || strings.HasPrefix(username, "-") {
		return fmt.Errorf("invalid username %q", username)
	}
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("failed to stat %s: %w", dir, err)
	}

	cmd := exec.CommandContext(ctx, c.binary, "-R", "-h", username+":", "--", dir)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("chown %s failed: %w: %s", dir, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// Noop is an Owner that leaves ownership untouched, for setups where the
// server already runs as the notebook user.
type Noop struct{}

// Chown does nothing
func (Noop) Chown(context.Context, string, string) error {
	return nil
}
