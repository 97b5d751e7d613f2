// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package store

import (
	"sync"

	"github.com/velopad/telemetry/sensor"
)

// Private append-only buffer with a read cursor. Written only by the ingest
// path and read only by the owning subscription; the mutex covers the two
// running on different goroutines.
type stream struct {
	mu         sync.Mutex
	samples    []sensor.Sample
	cursor     int
	compaction int
	closed     bool
}

func newStream(compaction int) *stream {
	return &stream{compaction: compaction}
}

func (s *stream) append(sample sensor.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.samples = append(s.samples, sample)
}

func (s *stream) drain() ([]sensor.Sample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, false
	}

	out := make([]sensor.Sample, len(s.samples)-s.cursor)
	copy(out, s.samples[s.cursor:])
	s.cursor = len(s.samples)

	s.compact()
	return out, true
}

// Discard consumed entries once the cursor passes the threshold. Unconsumed
// entries are moved to the front, so the next drain is unaffected.
func (s *stream) compact() {
	if s.cursor < s.compaction {
		return
	}

	rest := make([]sensor.Sample, len(s.samples)-s.cursor)
	copy(rest, s.samples[s.cursor:])
	s.samples = rest
	s.cursor = 0
}

// Number of retained entries, consumed or not.
func (s *stream) retained() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples)
}

func (s *stream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.samples = nil
	s.cursor = 0
}
