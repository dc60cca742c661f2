// SPDX-License-Identifier: MIT

// Package logtail keeps the most recent log lines in memory so the
// operator can ask for them without touching disk.
package logtail

import (
	"strings"
	"sync"
)

// Ring is a thread-safe ring buffer holding the last N log lines.
// It implements io.Writer so it can be teed behind the logger.
type Ring struct {
	mu    sync.RWMutex
	lines []string
	head  int
	size  int
}

// New creates a Ring with the given capacity.
func New(capacity int) *Ring {
	if capacity < 1 {
		capacity = 256
	}
	return &Ring{
		lines: make([]string, capacity),
		size:  capacity,
	}
}

// Write captures line-oriented output. Partial lines are not reassembled;
// zerolog emits one full JSON line per write, which is what we receive.
func (r *Ring) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, line := range strings.Split(string(p), "\n") {
		if line == "" {
			continue
		}
		r.lines[r.head] = line
		r.head = (r.head + 1) % r.size
	}
	return len(p), nil
}

// LastN returns the last n lines in chronological order.
func (r *Ring) LastN(n int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n > r.size {
		n = r.size
	}
	ordered := make([]string, 0, r.size)
	for i := 0; i < r.size; i++ {
		idx := (r.head + i) % r.size
		if r.lines[idx] != "" {
			ordered = append(ordered, r.lines[idx])
		}
	}
	if len(ordered) <= n {
		return ordered
	}
	return ordered[len(ordered)-n:]
}

// Dump returns every retained line joined by newlines, oldest first.
func (r *Ring) Dump() string {
	return strings.Join(r.LastN(r.size), "\n")
}
