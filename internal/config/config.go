package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/schaermu/nbpuller/internal/pathutil"
)

const (
	DefaultURLTemplate  = "https://{domain}/{account}/{repo}"
	DefaultDomain       = "github.com"
	DefaultAccount      = "data-8"
	DefaultBranch       = "gh-pages"
	DefaultListenAddr   = ":8002"
	DefaultWorkers      = 4
	DefaultMockUsername = "sample_username"
	DefaultUserHeader   = "X-Forwarded-User"
	DefaultAutoPullPath = "README.md"
	DefaultInterval     = 10 * time.Second
)

// Config represents the complete nbpuller configuration
type Config struct {
	Paths    PathsConfig    `yaml:"paths"`
	Remote   RemoteConfig   `yaml:"remote"`
	Auth     AuthConfig     `yaml:"auth"`
	Sync     SyncConfig     `yaml:"sync"`
	Redirect RedirectConfig `yaml:"redirect"`
	Serve    ServeConfig    `yaml:"serve"`
	AutoPull AutoPullConfig `yaml:"autopull"`
}

// PathsConfig configures local filesystem paths
type PathsConfig struct {
	// NotebookRoot is the directory clones are created under. It may
	// contain a {username} placeholder.
	NotebookRoot string `yaml:"notebook_root"`
	LockDir      string `yaml:"lock_dir"`
}

// RemoteConfig configures where repositories are fetched from
type RemoteConfig struct {
	URLTemplate     string   `yaml:"url_template"`
	DefaultDomain   string   `yaml:"default_domain"`
	DefaultAccount  string   `yaml:"default_account"`
	DefaultBranch   string   `yaml:"default_branch"`
	AllowedDomains  []string `yaml:"allowed_domains"`
	AllowedAccounts []string `yaml:"allowed_accounts"`
}

// AuthConfig configures Git authentication
type AuthConfig struct {
	SSHKeyFile     string `yaml:"ssh_key_file"`
	HTTPSTokenFile string `yaml:"https_token_file"`
}

// SyncConfig configures reconciliation behavior
type SyncConfig struct {
	CommitName  string `yaml:"commit_name"`
	CommitEmail string `yaml:"commit_email"`
}

// RedirectConfig configures where callers are sent once a sync finishes
type RedirectConfig struct {
	// GitPath is rendered with {username} and {destination}. When empty a
	// plain status message is returned instead of a redirect.
	GitPath  string `yaml:"git_path"`
	ErrorURL string `yaml:"error_url"`
}

// ServeConfig configures the HTTP/WebSocket server
type ServeConfig struct {
	ListenAddr   string `yaml:"listen_addr"`
	BaseURL      string `yaml:"base_url"`
	Workers      int    `yaml:"workers"`
	MockAuth     bool   `yaml:"mock_auth"`
	MockUsername string `yaml:"mock_username"`
	UserHeader   string `yaml:"user_header"`

	GitHubWebhookSecretFile string   `yaml:"github_webhook_secret_file"`
	AllowedEventTypes       []string `yaml:"allowed_event_types"`
	AllowedRefs             []string `yaml:"allowed_refs"`
}

// AutoPullConfig configures the periodic re-sync loop
type AutoPullConfig struct {
	ListFile string        `yaml:"list_file"`
	Interval time.Duration `yaml:"interval"`
	Username string        `yaml:"username"`
	Paths    []string      `yaml:"paths"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandEnv()
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.Paths.NotebookRoot = os.ExpandEnv(c.Paths.NotebookRoot)
	c.Paths.LockDir = os.ExpandEnv(c.Paths.LockDir)
	c.Remote.URLTemplate = os.ExpandEnv(c.Remote.URLTemplate)
	c.Auth.SSHKeyFile = os.ExpandEnv(c.Auth.SSHKeyFile)
	c.Auth.HTTPSTokenFile = os.ExpandEnv(c.Auth.HTTPSTokenFile)
	c.Redirect.ErrorURL = os.ExpandEnv(c.Redirect.ErrorURL)
	c.Serve.ListenAddr = os.ExpandEnv(c.Serve.ListenAddr)
	c.Serve.GitHubWebhookSecretFile = os.ExpandEnv(c.Serve.GitHubWebhookSecretFile)
	c.AutoPull.ListFile = os.ExpandEnv(c.AutoPull.ListFile)
}

// ApplyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.Paths.LockDir == "" {
		c.Paths.LockDir = filepath.Join(os.TempDir(), "nbpuller-locks")
	}
	if c.Remote.URLTemplate == "" {
		c.Remote.URLTemplate = DefaultURLTemplate
	}
	if c.Remote.DefaultDomain == "" {
		c.Remote.DefaultDomain = DefaultDomain
	}
	if c.Remote.DefaultAccount == "" {
		c.Remote.DefaultAccount = DefaultAccount
	}
	if c.Remote.DefaultBranch == "" {
		c.Remote.DefaultBranch = DefaultBranch
	}
	if len(c.Remote.AllowedDomains) == 0 {
		c.Remote.AllowedDomains = []string{c.Remote.DefaultDomain}
	}
	if len(c.Remote.AllowedAccounts) == 0 {
		c.Remote.AllowedAccounts = []string{c.Remote.DefaultAccount}
	}
	if c.Sync.CommitName == "" {
		c.Sync.CommitName = "nbpuller"
	}
	if c.Sync.CommitEmail == "" {
		c.Sync.CommitEmail = "nbpuller@localhost"
	}
	if c.Serve.ListenAddr == "" {
		c.Serve.ListenAddr = DefaultListenAddr
	}
	if c.Serve.BaseURL == "" {
		c.Serve.BaseURL = "/"
	}
	if !strings.HasSuffix(c.Serve.BaseURL, "/") {
		c.Serve.BaseURL += "/"
	}
	if c.Serve.Workers <= 0 {
		c.Serve.Workers = DefaultWorkers
	}
	if c.Serve.MockUsername == "" {
		c.Serve.MockUsername = DefaultMockUsername
	}
	if c.Serve.UserHeader == "" {
		c.Serve.UserHeader = DefaultUserHeader
	}
	if c.AutoPull.Interval <= 0 {
		c.AutoPull.Interval = DefaultInterval
	}
	if len(c.AutoPull.Paths) == 0 {
		c.AutoPull.Paths = []string{DefaultAutoPullPath}
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Paths.NotebookRoot == "" {
		return fmt.Errorf("paths.notebook_root is required")
	}
	if !filepath.IsAbs(c.Paths.NotebookRoot) {
		return fmt.Errorf("paths.notebook_root must be an absolute path: %s", c.Paths.NotebookRoot)
	}
	if !filepath.IsAbs(c.Paths.LockDir) {
		return fmt.Errorf("paths.lock_dir must be an absolute path: %s", c.Paths.LockDir)
	}

	if !strings.Contains(c.Remote.URLTemplate, "{repo}") {
		return fmt.Errorf("remote.url_template must contain a {repo} placeholder: %s", c.Remote.URLTemplate)
	}

	// Validate auth: only one auth method may be configured
	if c.Auth.SSHKeyFile != "" && c.Auth.HTTPSTokenFile != "" {
		return fmt.Errorf("auth: only one of ssh_key_file or https_token_file may be set")
	}

	// Validate auth: when auth is configured, the URL scheme must match
	if c.Auth.SSHKeyFile != "" && !c.IsSSH() {
		return fmt.Errorf("auth.ssh_key_file is set but remote.url_template does not use an SSH scheme (git@ or ssh://)")
	}
	if c.Auth.HTTPSTokenFile != "" && !c.IsHTTPS() {
		return fmt.Errorf("auth.https_token_file is set but remote.url_template does not use HTTPS scheme")
	}

	if c.Redirect.GitPath != "" && !strings.Contains(c.Redirect.GitPath, "{destination}") {
		return fmt.Errorf("redirect.git_path must contain a {destination} placeholder: %s", c.Redirect.GitPath)
	}

	if c.AutoPull.ListFile != "" {
		if c.AutoPull.Username == "" {
			return fmt.Errorf("autopull.username is required when autopull.list_file is set")
		}
		for _, p := range c.AutoPull.Paths {
			if err := pathutil.ValidateRelative(p); err != nil {
				return fmt.Errorf("autopull.paths: %w", err)
			}
		}
	}

	return nil
}

// NotebookRootFor returns the notebook root for a user
func (c *Config) NotebookRootFor(username string) string {
	return pathutil.RenderTemplate(c.Paths.NotebookRoot, map[string]string{"username": username})
}

// RemoteURL returns the clone URL for a repository identity
func (c *Config) RemoteURL(domain, account, repo string) string {
	return pathutil.RenderTemplate(c.Remote.URLTemplate, map[string]string{
		"domain":  domain,
		"account": account,
		"repo":    repo,
	})
}

// DomainAllowed reports whether pulls from domain are permitted
func (c *Config) DomainAllowed(domain string) bool {
	return contains(c.Remote.AllowedDomains, domain)
}

// AccountAllowed reports whether pulls from account on domain are permitted.
// The account allow-list only applies to the default domain.
func (c *Config) AccountAllowed(domain, account string) bool {
	if domain != c.Remote.DefaultDomain {
		return true
	}
	return contains(c.Remote.AllowedAccounts, account)
}

// AuthMethod returns a description of the configured auth method
func (c *Config) AuthMethod() string {
	if c.Auth.SSHKeyFile != "" {
		return "ssh"
	}
	if c.Auth.HTTPSTokenFile != "" {
		return "https"
	}
	return "none"
}

// IsHTTPS returns true if the remote URL template uses HTTPS
func (c *Config) IsHTTPS() bool {
	return strings.HasPrefix(c.Remote.URLTemplate, "https://")
}

// IsSSH returns true if the remote URL template uses SSH
func (c *Config) IsSSH() bool {
	return strings.HasPrefix(c.Remote.URLTemplate, "git@") || strings.HasPrefix(c.Remote.URLTemplate, "ssh://")
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
