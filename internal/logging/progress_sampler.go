package logging

// ProgressSampler suppresses repetitive progress logs by emitting only when a
// running count crosses a multiple of the configured interval.
type ProgressSampler struct {
	every      int
	lastBucket int
}

// NewProgressSampler constructs a sampler that emits every n settled records
// (default 10).
func NewProgressSampler(every int) *ProgressSampler {
	if every <= 0 {
		every = 10
	}
	return &ProgressSampler{every: every}
}

// ShouldLog reports whether the count has entered a new bucket since the last
// emission. Counts that move backwards never emit.
func (s *ProgressSampler) ShouldLog(count int) bool {
	if s == nil {
		return true
	}
	if count <= 0 {
		return false
	}
	bucket := count / s.every
	if bucket > s.lastBucket {
		s.lastBucket = bucket
		return true
	}
	return false
}

// Reset clears the sampler state (e.g. when a new run starts).
func (s *ProgressSampler) Reset() {
	if s == nil {
		return
	}
	s.lastBucket = 0
}
