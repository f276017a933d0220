package api

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimilarityFilterSkipsNearDuplicates(t *testing.T) {
	f := NewSimilarityFilter(true, 0.98, 10)

	base := bytes.Repeat([]byte{128}, 1024)

	// First frame establishes the reference.
	assert.False(t, f.ShouldSkip(base))

	// Identical frame is skipped.
	assert.True(t, f.ShouldSkip(base))
	assert.Equal(t, 1, f.Skipped())

	// A clearly different frame of the same length is processed and
	// becomes the new reference.
	different := bytes.Repeat([]byte{255}, 1024)
	assert.False(t, f.ShouldSkip(different))
	assert.Equal(t, 0, f.Skipped())
}

func TestSimilarityFilterMaxConsecutiveSkips(t *testing.T) {
	f := NewSimilarityFilter(true, 0.98, 3)

	img := bytes.Repeat([]byte{42}, 512)
	assert.False(t, f.ShouldSkip(img))

	for i := 0; i < 3; i++ {
		assert.True(t, f.ShouldSkip(img), "skip %d", i)
	}

	// The bound forces the next duplicate through.
	assert.False(t, f.ShouldSkip(img))
	assert.Equal(t, 0, f.Skipped())
}

func TestSimilarityFilterDisabled(t *testing.T) {
	f := NewSimilarityFilter(false, 0.98, 10)

	img := bytes.Repeat([]byte{7}, 256)
	assert.False(t, f.ShouldSkip(img))
	assert.False(t, f.ShouldSkip(img))
}

func TestSimilarityFilterReset(t *testing.T) {
	f := NewSimilarityFilter(true, 0.98, 10)

	img := bytes.Repeat([]byte{9}, 256)
	assert.False(t, f.ShouldSkip(img))
	assert.True(t, f.ShouldSkip(img))

	f.Reset()

	// After reset the same frame is a fresh reference, not a duplicate.
	assert.False(t, f.ShouldSkip(img))
	assert.Equal(t, 0, f.Skipped())
}

func TestSimilarityFilterNilReceiver(t *testing.T) {
	var f *SimilarityFilter
	assert.False(t, f.ShouldSkip([]byte{1}))
	assert.Equal(t, 0, f.Skipped())
	f.Reset()
}

func TestSimilarityScore(t *testing.T) {
	a := bytes.Repeat([]byte{100}, 1000)
	assert.Equal(t, 1.0, similarityScore(a, a))

	b := bytes.Repeat([]byte{100}, 999)
	assert.Equal(t, 0.0, similarityScore(a, b))

	c := bytes.Repeat([]byte{110}, 1000)
	score := similarityScore(a, c)
	assert.InDelta(t, 1.0-10.0/255.0, score, 0.001)
}
