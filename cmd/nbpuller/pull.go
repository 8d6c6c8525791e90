package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/schaermu/nbpuller/internal/protocol"
	"github.com/schaermu/nbpuller/internal/sync"
)

var pullFlags struct {
	user         string
	repo         string
	paths        []string
	branch       string
	domain       string
	account      string
	notebookPath string
}

var errPullFailed = errors.New("pull failed")

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Pull paths from a repository once",
	Long: `Pull clones or updates one repository for one user and materializes the
given paths. Progress and the final result are printed to stdout as one JSON
message per line, the same records the WebSocket endpoint streams.`,
	RunE: runPull,
}

func init() {
	pullCmd.Flags().StringVar(&pullFlags.user, "user", os.Getenv("USER"), "user whose notebook directory receives the files")
	pullCmd.Flags().StringVar(&pullFlags.repo, "repo", "", "repository name")
	pullCmd.Flags().StringArrayVar(&pullFlags.paths, "path", nil, "repository path to materialize (repeatable, may contain '*')")
	pullCmd.Flags().StringVar(&pullFlags.branch, "branch", "", "branch (defaults to remote.default_branch)")
	pullCmd.Flags().StringVar(&pullFlags.domain, "domain", "", "git host (defaults to remote.default_domain)")
	pullCmd.Flags().StringVar(&pullFlags.account, "account", "", "account owning the repository (defaults to remote.default_account)")
	pullCmd.Flags().StringVar(&pullFlags.notebookPath, "notebook-path", "", "sub-directory of the notebook root to clone into")
	_ = pullCmd.MarkFlagRequired("repo")
	_ = pullCmd.MarkFlagRequired("path")
}

func pullRequest() sync.Request {
	return sync.Request{
		Username:     pullFlags.user,
		Repo:         pullFlags.repo,
		Paths:        pullFlags.paths,
		Branch:       pullFlags.branch,
		Domain:       pullFlags.domain,
		Account:      pullFlags.account,
		NotebookPath: pullFlags.notebookPath,
	}
}

func runPull(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return err
	}

	return pull(ctx, newEngine(cfg, logger), pullRequest(), cmd.OutOrStdout())
}

// pull runs one sync and prints every message as a JSON line. An ERROR
// outcome is reported as errPullFailed after it has been printed.
func pull(ctx context.Context, syncer sync.Syncer, req sync.Request, out io.Writer) error {
	enc := json.NewEncoder(out)
	outcome := syncer.Sync(ctx, req, func(snapshot string) {
		_ = enc.Encode(protocol.Log(snapshot))
	})

	if err := enc.Encode(protocol.FromOutcome(outcome)); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	if outcome.Kind == sync.OutcomeError {
		return errPullFailed
	}
	return nil
}
