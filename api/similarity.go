package api

import "sync"

// SimilarityFilter skips frames whose image payload is nearly identical to
// the previously processed one, bounded by a maximum consecutive skip count
// so a static scene still refreshes eventually.
type SimilarityFilter struct {
	enabled   bool
	threshold float64
	maxSkip   int

	mu      sync.Mutex
	prev    []byte
	skipped int
}

// NewSimilarityFilter creates a filter. threshold is the similarity score
// in [0,1] above which a frame is considered a duplicate; maxSkip bounds
// consecutive skips.
func NewSimilarityFilter(enabled bool, threshold float64, maxSkip int) *SimilarityFilter {
	return &SimilarityFilter{enabled: enabled, threshold: threshold, maxSkip: maxSkip}
}

// ShouldSkip reports whether the frame should be dropped as a near
// duplicate of the last processed frame. A processed (non-skipped) frame
// becomes the new reference and resets the skip counter.
func (f *SimilarityFilter) ShouldSkip(image []byte) bool {
	if f == nil || !f.enabled || len(image) == 0 {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.prev == nil {
		f.prev = image
		return false
	}
	if similarityScore(f.prev, image) >= f.threshold && f.skipped < f.maxSkip {
		f.skipped++
		return true
	}
	f.prev = image
	f.skipped = 0
	return false
}

// Reset forgets the reference frame and zeroes the skip counter.
func (f *SimilarityFilter) Reset() {
	if f == nil {
		return
	}
	f.mu.Lock()
	f.prev = nil
	f.skipped = 0
	f.mu.Unlock()
}

// Skipped returns the current consecutive skip count.
func (f *SimilarityFilter) Skipped() int {
	if f == nil {
		return 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.skipped
}

// similarityScore compares up to 4096 evenly sampled bytes of the encoded
// payloads and returns 1 - mean absolute difference / 255. Payloads of
// different lengths are treated as dissimilar; encoded frames of the same
// scene at the same settings keep a stable length.
func similarityScore(a, b []byte) float64 {
	if len(a) != len(b) {
		return 0
	}
	if len(a) == 0 {
		return 1
	}

	const maxSamples = 4096
	step := 1
	if len(a) > maxSamples {
		step = len(a) / maxSamples
	}

	var total, samples int64
	for i := 0; i < len(a); i += step {
		d := int64(a[i]) - int64(b[i])
		if d < 0 {
			d = -d
		}
		total += d
		samples++
	}
	return 1 - float64(total)/float64(samples*255)
}
