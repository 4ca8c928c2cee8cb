// Package transcript post-processes speech-to-text output before it reaches
// the language model.
//
// Its main concern is self-echo suppression: a cascaded voice session can
// re-hear its own synthesized speech through the client's microphone, and
// without a filter the bot would transcribe its reply, answer it, and spiral
// into a conversation with itself. The EchoSuppressor remembers the bot's
// recent replies and screens incoming transcripts against them in two stages:
//
//  1. Containment: the microphone usually captures an arbitrary window of the
//     reply, so a transcript that is a literal substring of a remembered
//     reply (after normalization) is an echo.
//
//  2. Similarity ranking: transcripts that are near-duplicates of a reply or
//     of its same-length tail are matched with the higher of Jaro-Winkler
//     similarity and normalized Levenshtein ratio, accepted above a
//     configurable threshold.
//
// Comparison is case-insensitive and ignores punctuation, since STT engines
// rarely reproduce either faithfully.
package transcript

import (
	"strings"
	"sync"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultSimilarityThreshold = 0.88
	defaultMemorySize          = 3

	// minContainmentLen guards the substring check against trivially short
	// transcripts ("the", "ok") that appear inside almost any reply.
	minContainmentLen = 12
)

// Option is a functional option for configuring an [EchoSuppressor].
type Option func(*EchoSuppressor)

// WithSimilarityThreshold sets the minimum similarity score required for a
// transcript to count as an echo. Default: 0.88.
func WithSimilarityThreshold(threshold float64) Option {
	return func(e *EchoSuppressor) {
		e.threshold = threshold
	}
}

// WithMemorySize sets how many recent replies are kept for comparison.
// Default: 3.
func WithMemorySize(n int) Option {
	return func(e *EchoSuppressor) {
		if n > 0 {
			e.memory = n
		}
	}
}

// EchoSuppressor screens transcripts against the bot's own recent speech.
// All methods are safe for concurrent use.
type EchoSuppressor struct {
	mu        sync.Mutex
	threshold float64
	memory    int
	replies   []string // normalized, newest last
}

// NewEchoSuppressor returns an EchoSuppressor configured with the supplied
// options.
func NewEchoSuppressor(opts ...Option) *EchoSuppressor {
	e := &EchoSuppressor{
		threshold: defaultSimilarityThreshold,
		memory:    defaultMemorySize,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Observe records a completed bot reply for future comparisons. The oldest
// reply is evicted once the memory is full.
func (e *EchoSuppressor) Observe(reply string) {
	norm := normalize(reply)
	if norm == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.replies = append(e.replies, norm)
	if len(e.replies) > e.memory {
		e.replies = e.replies[len(e.replies)-e.memory:]
	}
}

// IsEcho reports whether text is a near-duplicate of a remembered reply.
func (e *EchoSuppressor) IsEcho(text string) bool {
	norm := normalize(text)
	if norm == "" {
		return false
	}

	e.mu.Lock()
	replies := make([]string, len(e.replies))
	copy(replies, e.replies)
	threshold := e.threshold
	e.mu.Unlock()

	for _, reply := range replies {
		if matches(norm, reply, threshold) {
			return true
		}
	}
	return false
}

// matches compares one normalized transcript against one normalized reply.
func matches(text, reply string, threshold float64) bool {
	if len(text) >= minContainmentLen && strings.Contains(reply, text) {
		return true
	}
	if similarity(text, reply) >= threshold {
		return true
	}
	// The microphone often catches only the end of the reply; compare
	// against a tail window of matching word count.
	if tail := tailWords(reply, len(strings.Fields(text))); tail != "" && tail != reply {
		if similarity(text, tail) >= threshold {
			return true
		}
	}
	return false
}

// similarity returns the higher of Jaro-Winkler similarity and normalized
// Levenshtein ratio.
func similarity(a, b string) float64 {
	jw := matchr.JaroWinkler(a, b, false)
	if lev := levenshteinRatio(a, b); lev > jw {
		return lev
	}
	return jw
}

// levenshteinRatio maps edit distance into [0, 1], where 1 is identical.
func levenshteinRatio(a, b string) float64 {
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(matchr.Levenshtein(a, b))/float64(longest)
}

// tailWords returns the last n words of s joined by single spaces, or ""
// when s has fewer than n words.
func tailWords(s string, n int) string {
	fields := strings.Fields(s)
	if n <= 0 || len(fields) < n {
		return ""
	}
	return strings.Join(fields[len(fields)-n:], " ")
}

// normalize lowercases s, strips everything but letters, digits and spaces,
// and collapses runs of whitespace.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r) || unicode.IsPunct(r):
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}
