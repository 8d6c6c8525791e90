// Package progress buffers the most recent lines of a long-running operation
// and pushes a snapshot of them to a subscriber on every new line.
package progress

import (
	"log/slog"
	"strings"
	"sync"
)

// DefaultMaxLines is the number of lines kept in a snapshot
const DefaultMaxLines = 10

// Sink receives the current snapshot: the buffered lines joined by newlines
type Sink func(snapshot string)

// Reporter is a bounded, ordered line buffer. It is safe for concurrent use;
// sink invocations are serialized so snapshots are delivered in order.
type Reporter struct {
	mu       sync.Mutex
	lines    []string
	start    int
	count    int
	sink     Sink
	logger   *slog.Logger
	username string
}

// NewReporter creates a reporter that keeps maxLines lines and forwards
// snapshots to sink. A nil sink only logs.
func NewReporter(username string, sink Sink, logger *slog.Logger, maxLines int) *Reporter {
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	return &Reporter{
		lines:    make([]string, maxLines),
		sink:     sink,
		logger:   logger,
		username: username,
	}
}

// Line appends one line and emits a snapshot
func (r *Reporter) Line(line string) {
	line = strings.TrimRight(line, "\r\n")

	r.mu.Lock()
	defer r.mu.Unlock()
	r.appendLocked(line)
}

// Snapshot returns the buffered lines, oldest first, joined by newlines
func (r *Reporter) Snapshot() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Reporter) appendLocked(line string) {
	size := len(r.lines)
	if r.count < size {
		r.lines[(r.start+r.count)%size] = line
		r.count++
	} else {
		r.lines[r.start] = line
		r.start = (r.start + 1) % size
	}

	if r.logger != nil {
		r.logger.Debug("("+r.username+") "+line, "user", r.username)
	}
	if r.sink != nil {
		r.sink(r.snapshotLocked())
	}
}

func (r *Reporter) snapshotLocked() string {
	var b strings.Builder
	size := len(r.lines)
	for i := 0; i < r.count; i++ {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(r.lines[(r.start+i)%size])
	}
	return b.String()
}
