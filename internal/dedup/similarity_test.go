package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimilarityEquivalentHeadlines(t *testing.T) {
	t.Parallel()

	sim := Similarity(
		"Fed raises interest rates by 0.25%",
		"Federal Reserve raises rates 0.25 percent",
	)
	assert.Greater(t, sim, 0.80)
}

func TestSimilarityUnrelatedHeadlines(t *testing.T) {
	t.Parallel()

	cases := [][2]string{
		{"Apple unveils new iPhone at September event", "Tesla recalls two million vehicles over autopilot"},
		{"Stocks fall on inflation fears", "Oil prices surge after OPEC cut"},
	}
	for _, pair := range cases {
		assert.Lessf(t, Similarity(pair[0], pair[1]), 0.80, "%q vs %q", pair[0], pair[1])
	}
}

func TestSimilarityIdentical(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1.0, Similarity("Fed raises rates.", "Fed raises rates."))
	// Case and punctuation do not matter.
	assert.Equal(t, 1.0, Similarity("Fed Raises Rates!", "fed raises rates"))
}

func TestSimilarityEmpty(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1.0, Similarity("", ""))
	assert.Equal(t, 0.0, Similarity("headline", ""))
}
