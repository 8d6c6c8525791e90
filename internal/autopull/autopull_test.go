package autopull

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	gosync "sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/schaermu/nbpuller/internal/config"
	"github.com/schaermu/nbpuller/internal/progress"
	"github.com/schaermu/nbpuller/internal/sync"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockSyncer records requests and optionally blocks until released
type mockSyncer struct {
	mu       gosync.Mutex
	requests []sync.Request
	block    chan struct{}
	entered  chan struct{}
	outcome  sync.Outcome
}

func (m *mockSyncer) Sync(_ context.Context, req sync.Request, _ progress.Sink) sync.Outcome {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.entered != nil {
		select {
		case m.entered <- struct{}{}:
		default:
		}
	}
	if m.block != nil {
		<-m.block
	}
	if m.outcome.Kind == "" {
		return sync.Status("ok")
	}
	return m.outcome
}

func (m *mockSyncer) repos() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var repos []string
	for _, req := range m.requests {
		repos = append(repos, req.Repo)
	}
	return repos
}

func writeList(t *testing.T, content string) *config.Config {
	t.Helper()
	listFile := filepath.Join(t.TempDir(), "autopull.txt")
	if err := os.WriteFile(listFile, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{
		Paths:    config.PathsConfig{NotebookRoot: "/home/{username}"},
		AutoPull: config.AutoPullConfig{ListFile: listFile, Username: "jovyan"},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestParseList(t *testing.T) {
	input := strings.Join([]string{
		"materials,github.com,data-8,gh-pages",
		"",
		"# comment",
		"textbook",
		"  spaced , gitlab.com , me , main  ",
		"a,b,c,d,e",
		",github.com,data-8,main",
	}, "\n")

	var badLines []int
	entries, err := ParseList(strings.NewReader(input), func(line int, _ error) {
		badLines = append(badLines, line)
	})
	if err != nil {
		t.Fatal(err)
	}

	want := []Entry{
		{Repo: "materials", Domain: "github.com", Account: "data-8", Branch: "gh-pages"},
		{Repo: "textbook"},
		{Repo: "spaced", Domain: "gitlab.com", Account: "me", Branch: "main"},
	}
	if diff := cmp.Diff(want, entries); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{6, 7}, badLines); diff != "" {
		t.Errorf("bad lines mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_SyncsEveryEntry(t *testing.T) {
	cfg := writeList(t, "materials,github.com,data-8,gh-pages\ntextbook,,,\n")
	syncer := &mockSyncer{}
	r := NewRunner(cfg, syncer, testLogger())

	var triggers []string
	r.OnRun(func(trigger string) { triggers = append(triggers, trigger) })
	r.Run(context.Background(), TriggerTimer)

	want := []sync.Request{
		{Username: "jovyan", Repo: "materials", Domain: "github.com", Account: "data-8", Branch: "gh-pages", Paths: []string{"README.md"}},
		{Username: "jovyan", Repo: "textbook", Paths: []string{"README.md"}},
	}
	if diff := cmp.Diff(want, syncer.requests); diff != "" {
		t.Errorf("requests mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{TriggerTimer}, triggers); diff != "" {
		t.Errorf("triggers mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_MissingListFile(t *testing.T) {
	cfg := writeList(t, "")
	cfg.AutoPull.ListFile = filepath.Join(t.TempDir(), "missing.txt")
	syncer := &mockSyncer{}

	NewRunner(cfg, syncer, testLogger()).Run(context.Background(), TriggerTimer)

	if len(syncer.requests) != 0 {
		t.Errorf("expected no syncs, got %v", syncer.requests)
	}
}

func TestRun_ContinuesAfterFailedEntry(t *testing.T) {
	cfg := writeList(t, "a\nb\n")
	syncer := &mockSyncer{outcome: sync.Failure(sync.KindRepositoryNotFound, "")}

	NewRunner(cfg, syncer, testLogger()).Run(context.Background(), TriggerTimer)

	if diff := cmp.Diff([]string{"a", "b"}, syncer.repos()); diff != "" {
		t.Errorf("repos mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_SingleFlightQueuesOneRerun(t *testing.T) {
	cfg := writeList(t, "a\n")
	syncer := &mockSyncer{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	r := NewRunner(cfg, syncer, testLogger())

	done := make(chan struct{})
	go func() {
		r.Run(context.Background(), TriggerTimer)
		close(done)
	}()
	<-syncer.entered

	// Both calls return immediately while the first run is blocked
	r.Run(context.Background(), TriggerWebhook)
	r.Run(context.Background(), TriggerWebhook)

	syncer.block <- struct{}{}
	<-syncer.entered
	syncer.block <- struct{}{}
	<-done

	if got := len(syncer.repos()); got != 2 {
		t.Errorf("expected exactly 2 runs, got %d", got)
	}
}

func TestLoop_StopsOnCancel(t *testing.T) {
	cfg := writeList(t, "a\n")
	cfg.AutoPull.Interval = 5 * time.Millisecond
	syncer := &mockSyncer{}
	r := NewRunner(cfg, syncer, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Loop(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for len(syncer.repos()) < 2 {
		select {
		case <-deadline:
			t.Fatal("loop did not tick")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop after cancel")
	}
}
