// Package journal keeps the append-only action log the fetcher writes.
// One session header per invocation, then one line per success or failure.
package journal

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/microcore-linux/ext-composer/internal/utils/logger"
)

const timeLayout = time.RFC3339

// Journal appends timestamped entries to a log file. Write failures are
// reported through the process logger and never interrupt the caller; the
// journal is a record of best-effort work, not part of it.
type Journal struct {
	path string
	f    *os.File
	now  func() time.Time
}

// Open opens (or creates) the journal file for appending.
func Open(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening journal %s: %w", path, err)
	}
	return &Journal{path: path, f: f, now: time.Now}, nil
}

// Path returns the journal file location.
func (j *Journal) Path() string { return j.path }

// Close releases the underlying file.
func (j *Journal) Close() error { return j.f.Close() }

// BeginSession writes the session header for one invocation.
func (j *Journal) BeginSession(args []string) {
	id := uuid.New().String()[:8]
	j.write(fmt.Sprintf("==== session %s id=%s args: %s",
		j.now().UTC().Format(timeLayout), id, strings.Join(args, " ")))
}

// Successf records a successful step.
func (j *Journal) Successf(format string, a ...interface{}) {
	j.entry("ok", format, a...)
}

// Failuref records a failed step.
func (j *Journal) Failuref(format string, a ...interface{}) {
	j.entry("fail", format, a...)
}

// Notef records a neutral observation (skips, verification gaps).
func (j *Journal) Notef(format string, a ...interface{}) {
	j.entry("note", format, a...)
}

func (j *Journal) entry(status, format string, a ...interface{}) {
	j.write(fmt.Sprintf("%s %s %s",
		j.now().UTC().Format(timeLayout), status, fmt.Sprintf(format, a...)))
}

func (j *Journal) write(line string) {
	if _, err := fmt.Fprintln(j.f, line); err != nil {
		logger.Logger().Warnf("journal write failed: %v", err)
	}
}
