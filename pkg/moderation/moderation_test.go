package moderation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedScorer map[string]float64

func (f fixedScorer) Score(context.Context, string) (map[string]float64, error) {
	return f, nil
}

func TestThreshold(t *testing.T) {
	type tcase struct {
		scores fixedScorer
		limit  float64
		want   bool
	}

	tcases := map[string]tcase{
		"no_labels":          {scores: fixedScorer{}, want: false},
		"below_default":      {scores: fixedScorer{"toxic": 0.3, "insult": 0.49}, want: false},
		"at_limit_not_over":  {scores: fixedScorer{"toxic": 0.5}, want: false},
		"one_label_over":     {scores: fixedScorer{"toxic": 0.1, "threat": 0.51}, want: true},
		"custom_limit_lower": {scores: fixedScorer{"toxic": 0.3}, limit: 0.2, want: true},
		"custom_limit_high":  {scores: fixedScorer{"toxic": 0.8}, limit: 0.9, want: false},
	}

	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			got, err := NewThreshold(tc.scores, tc.limit).Classify(context.Background(), "text")
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

type failingScorer struct{}

func (failingScorer) Score(context.Context, string) (map[string]float64, error) {
	return nil, errors.New("model offline")
}

func TestThresholdPropagatesScorerError(t *testing.T) {
	_, err := NewThreshold(failingScorer{}, 0).Classify(context.Background(), "hi")
	assert.ErrorContains(t, err, "model offline")
}

func TestWordlist(t *testing.T) {
	list := `
# comment
darn
insult: Dummy
threat: boom
`
	w, err := ParseWordlist(strings.NewReader(list))
	require.NoError(t, err)
	assert.Equal(t, 3, w.Len())

	c := NewThreshold(w, 0)
	tests := map[string]bool{
		"hello there":       false,
		"well DARN it":      true,
		"you dummy!":        true,
		"boomerang":         false,
		"boom.":             true,
		"":                  false,
		"darning the socks": false,
	}
	for text, want := range tests {
		got, err := c.Classify(context.Background(), text)
		require.NoError(t, err)
		assert.Equal(t, want, got, text)
	}

	scores, err := w.Score(context.Background(), "dummy boom")
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"insult": 1, "threat": 1}, scores)
}

func TestNop(t *testing.T) {
	flagged, err := Nop{}.Classify(context.Background(), "anything")
	require.NoError(t, err)
	assert.False(t, flagged)
}
