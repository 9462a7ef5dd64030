// Package proclog keeps a fixed-capacity tail of each job process's
// combined stdout/stderr, using github.com/armon/circbuf — SPEC_FULL.md
// §D.3: "a fixed-capacity circbuf.Buffer per process role per job... not a
// full log-capture subsystem."
package proclog

import (
	"fmt"
	"sync"

	"github.com/armon/circbuf"
)

// DefaultCapacity bounds each tail buffer; past this many bytes the oldest
// output is silently discarded, matching circbuf's ring semantics.
const DefaultCapacity = 16 * 1024

// Store keeps one tail buffer per (job path, role) pair.
type Store struct {
	mu   sync.Mutex
	caps int64
	buf  map[string]*circbuf.Buffer
}

// NewStore returns a Store whose buffers are capped at capacity bytes.
func NewStore(capacity int64) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &Store{caps: capacity, buf: make(map[string]*circbuf.Buffer)}
}

func key(jobPath, role string) string { return jobPath + "/" + role }

// Writer returns an io.Writer attaching to the process started for
// (jobPath, role) — the value cmd/initd passes as the child's combined
// stdout/stderr. Safe to call concurrently from multiple spawned children.
func (s *Store) Writer(jobPath, role string) (*circbuf.Buffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buf[key(jobPath, role)]
	if ok {
		return b, nil
	}

	b, err := circbuf.NewBuffer(s.caps)
	if err != nil {
		return nil, fmt.Errorf("allocate process tail buffer for %s/%s: %w", jobPath, role, err)
	}

	s.buf[key(jobPath, role)] = b

	return b, nil
}

// Tail returns the currently buffered output for (jobPath, role), or nil if
// nothing has been captured yet. Matches the "GetProcessTail" control
// operation SPEC_FULL.md §D.3 adds beyond the distilled control surface.
func (s *Store) Tail(jobPath, role string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buf[key(jobPath, role)]
	if !ok || b.TotalWritten() == 0 {
		return nil
	}

	return b.Bytes()
}

// Drop discards the buffers for jobPath, called once an instance is
// destroyed (engine's Waiting entry action) so tails don't accumulate for
// job classes with a high instance churn rate.
func (s *Store) Drop(jobPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, role := range []string{"pre-start", "main", "post-start", "pre-stop", "post-stop"} {
		delete(s.buf, key(jobPath, role))
	}
}
