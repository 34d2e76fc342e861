package moderation

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"

	"github.com/samber/lo"
)

// DefaultLabel is used for wordlist entries without an explicit label.
const DefaultLabel = "toxic"

// Wordlist is a Scorer that gives a label probability 1 when the text contains
// one of that label's words, and 0 otherwise. Matching is per word and
// case-insensitive.
type Wordlist struct {
	words map[string][]string // word -> labels
}

// NewWordlist builds a Wordlist from label -> words.
func NewWordlist(labels map[string][]string) *Wordlist {
	w := &Wordlist{words: make(map[string][]string)}
	for label, words := range labels {
		for _, word := range words {
			word = strings.ToLower(strings.TrimSpace(word))
			if word == "" {
				continue
			}
			w.words[word] = lo.Uniq(append(w.words[word], label))
		}
	}
	return w
}

// ParseWordlist reads one entry per line, either "word" or "label: word".
// Blank lines and lines starting with '#' are skipped.
func ParseWordlist(r io.Reader) (*Wordlist, error) {
	labels := make(map[string][]string)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		label, word, ok := strings.Cut(line, ":")
		if !ok {
			label, word = DefaultLabel, line
		}
		label = strings.TrimSpace(label)
		labels[label] = append(labels[label], word)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("moderation: read wordlist: %w", err)
	}
	return NewWordlist(labels), nil
}

// LoadWordlist parses the wordlist file at path.
func LoadWordlist(path string) (*Wordlist, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("moderation: open wordlist: %w", err)
	}
	defer f.Close()
	return ParseWordlist(f)
}

// Len returns the number of distinct words.
func (w *Wordlist) Len() int {
	return len(w.words)
}

func (w *Wordlist) Score(_ context.Context, text string) (map[string]float64, error) {
	scores := make(map[string]float64)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, tok := range tokens {
		for _, label := range w.words[tok] {
			scores[label] = 1
		}
	}
	return scores, nil
}
