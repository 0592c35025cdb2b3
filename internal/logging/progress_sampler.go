package logging

import (
	"strings"
	"sync"
)

// ProgressSampler thins job progress logging to one line per step change or
// per bucket of percentage points. It is safe for concurrent use since
// analyzers report progress from their own goroutines.
type ProgressSampler struct {
	mu         sync.Mutex
	bucketSize int
	lastStep   string
	lastBucket int
}

// NewProgressSampler returns a sampler with the given bucket width in
// percentage points. Widths below 1 fall back to 10.
func NewProgressSampler(bucketSize int) *ProgressSampler {
	if bucketSize < 1 {
		bucketSize = 10
	}
	return &ProgressSampler{bucketSize: bucketSize, lastBucket: -1}
}

// ShouldLog reports whether this progress report is worth a log line.
func (s *ProgressSampler) ShouldLog(step string, percent int) bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	percent = min(max(percent, 0), 100)
	bucket := percent / s.bucketSize
	step = strings.TrimSpace(step)
	if step != s.lastStep {
		s.lastStep = step
		s.lastBucket = bucket
		return true
	}
	if bucket > s.lastBucket {
		s.lastBucket = bucket
		return true
	}
	return false
}
