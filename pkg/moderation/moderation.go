// Package moderation decides whether a chat line may be broadcast.
package moderation

import (
	"context"
	"fmt"
)

// DefaultThreshold is the per-label probability above which a line is flagged.
const DefaultThreshold = 0.5

// Classifier reports whether text should be withheld from broadcast.
type Classifier interface {
	Classify(ctx context.Context, text string) (bool, error)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(ctx context.Context, text string) (bool, error)

func (f ClassifierFunc) Classify(ctx context.Context, text string) (bool, error) {
	return f(ctx, text)
}

// Nop never flags anything.
type Nop struct{}

func (Nop) Classify(context.Context, string) (bool, error) {
	return false, nil
}

// Scorer returns a probability in [0,1] per label, e.g. "toxic", "insult".
type Scorer interface {
	Score(ctx context.Context, text string) (map[string]float64, error)
}

// Threshold flags text when any label scored by Scorer exceeds Limit.
type Threshold struct {
	Scorer Scorer
	Limit  float64
}

// NewThreshold returns a Threshold classifier. A non-positive limit selects
// DefaultThreshold.
func NewThreshold(s Scorer, limit float64) *Threshold {
	if limit <= 0 {
		limit = DefaultThreshold
	}
	return &Threshold{Scorer: s, Limit: limit}
}

func (t *Threshold) Classify(ctx context.Context, text string) (bool, error) {
	scores, err := t.Scorer.Score(ctx, text)
	if err != nil {
		return false, fmt.Errorf("moderation: score: %w", err)
	}
	for _, p := range scores {
		if p > t.Limit {
			return true, nil
		}
	}
	return false, nil
}
