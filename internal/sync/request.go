package sync

import (
	"fmt"
	"path"
	"strings"

	"github.com/schaermu/nbpuller/internal/config"
	"github.com/schaermu/nbpuller/internal/pathutil"
)

// Request describes one pull of paths from a remote repository into a
// user's notebook directory.
type Request struct {
	Username string
	Domain   string
	Account  string
	Repo     string
	Branch   string
	// Paths are repository-relative and may contain '*' wildcards
	Paths []string
	// NotebookPath is the sub-directory of the user's notebook root the
	// clone is placed in. Empty means the root itself.
	NotebookPath string
}

// WithDefaults returns a copy of r with empty domain, account and branch
// filled in from cfg.
func (r Request) WithDefaults(cfg *config.Config) Request {
	if r.Domain == "" {
		r.Domain = cfg.Remote.DefaultDomain
	}
	if r.Account == "" {
		r.Account = cfg.Remote.DefaultAccount
	}
	if r.Branch == "" {
		r.Branch = cfg.Remote.DefaultBranch
	}
	r.NotebookPath = pathutil.Normalize(r.NotebookPath)
	return r
}

// Validate checks the request shape. Every failure wraps ErrInvalidRequest.
func (r Request) Validate() error {
	if err := pathutil.ValidateName(r.Username); err != nil {
		return fmt.Errorf("%w: username: %v", ErrInvalidRequest, err)
	}
	if err := pathutil.ValidateName(r.Repo); err != nil {
		return fmt.Errorf("%w: repo: %v", ErrInvalidRequest, err)
	}
	if err := pathutil.ValidateName(r.Account); err != nil {
		return fmt.Errorf("%w: account: %v", ErrInvalidRequest, err)
	}
	if err := validateDomain(r.Domain); err != nil {
		return fmt.Errorf("%w: domain: %v", ErrInvalidRequest, err)
	}
	if err := validateBranch(r.Branch); err != nil {
		return fmt.Errorf("%w: branch: %v", ErrInvalidRequest, err)
	}
	if len(r.Paths) == 0 {
		return fmt.Errorf("%w: at least one path is required", ErrInvalidRequest)
	}
	for _, p := range r.Paths {
		if err := pathutil.ValidateRelative(p); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}
	if r.NotebookPath != "" {
		if err := pathutil.ValidateRelative(r.NotebookPath); err != nil {
			return fmt.Errorf("%w: notebook path: %v", ErrInvalidRequest, err)
		}
	}
	return nil
}

// Destination is where the last requested path lands relative to the
// notebook root, with wildcards stripped.
func (r Request) Destination() string {
	last := pathutil.StripWildcards(pathutil.Normalize(r.Paths[len(r.Paths)-1]))
	return path.Join(r.NotebookPath, r.Repo, last)
}

func validateDomain(domain string) error {
	if domain == "" {
		return fmt.Errorf("must not be empty")
	}
	if strings.ContainsAny(domain, "/\\@ \t\n\x00") {
		return fmt.Errorf("%q is not a host name", domain)
	}
	return nil
}

func validateBranch(branch string) error {
	switch {
	case branch == "":
		return fmt.Errorf("must not be empty")
	case strings.HasPrefix(branch, "-"):
		return fmt.Errorf("%q must not start with '-'", branch)
	case strings.Contains(branch, ".."):
		return fmt.Errorf("%q must not contain '..'", branch)
	case strings.ContainsAny(branch, " \t\n\x00~^:?*[\\"):
		return fmt.Errorf("%q contains characters not allowed in a branch name", branch)
	}
	return nil
}

// OutcomeKind tags which variant an Outcome holds
type OutcomeKind string

const (
	OutcomeRedirected OutcomeKind = "REDIRECT"
	OutcomeStatus     OutcomeKind = "STATUS"
	OutcomeError      OutcomeKind = "ERROR"
)

// Outcome is the single result of a sync attempt. Exactly one of the
// variant fields is meaningful, selected by Kind.
type Outcome struct {
	Kind OutcomeKind
	// Destination is the notebook-relative path of the last requested path
	// and Location the rendered redirect URL. Set for OutcomeRedirected.
	Destination string
	Location    string
	// Message is set for OutcomeStatus
	Message string
	// Err is set for OutcomeError
	Err *Error
}

// Redirected returns a redirect outcome
func Redirected(destination, location string) Outcome {
	return Outcome{Kind: OutcomeRedirected, Destination: destination, Location: location}
}

// Status returns a plain status outcome
func Status(message string) Outcome {
	return Outcome{Kind: OutcomeStatus, Message: message}
}

// Failed returns an error outcome
func Failed(err *Error) Outcome {
	return Outcome{Kind: OutcomeError, Err: err}
}

// Failure builds an error outcome for kind with its public message
func Failure(kind ErrorKind, recoveryURL string) Outcome {
	return Failed(&Error{Kind: kind, Detail: PublicMessage(kind), RecoveryURL: recoveryURL})
}
