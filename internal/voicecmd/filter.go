// Package voicecmd implements spoken stop-command detection on finished
// transcripts.
//
// Transcribed speech is noisy: "stop listening" may arrive as "stop,
// listening." or "stop listenin". The filter normalizes the transcript and
// compares it against a set of stop phrases using Jaro-Winkler string
// similarity, so close mis-transcriptions still trigger the command while
// ordinary speech does not.
package voicecmd

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// defaultThreshold is the minimum Jaro-Winkler score for a fuzzy phrase
// match. 0.90 tolerates one or two character slips on short phrases without
// matching unrelated speech.
const defaultThreshold = 0.90

// DefaultPhrases are the built-in stop commands.
var DefaultPhrases = []string{
	"stop listening",
	"exit car mode",
	"goodbye",
}

// Option is a functional option for configuring a [Filter].
type Option func(*Filter)

// WithPhrases replaces the default stop phrases. Empty entries are ignored.
func WithPhrases(phrases ...string) Option {
	return func(f *Filter) {
		f.phrases = f.phrases[:0]
		for _, p := range phrases {
			if n := normalize(p); n != "" {
				f.phrases = append(f.phrases, n)
			}
		}
	}
}

// WithThreshold sets the minimum Jaro-Winkler score required for a fuzzy
// match. Default: 0.90.
func WithThreshold(threshold float64) Option {
	return func(f *Filter) {
		f.threshold = threshold
	}
}

// Filter detects stop commands in transcripts. All methods are safe for
// concurrent use — the Filter is read-only after construction.
type Filter struct {
	phrases   []string
	threshold float64
}

// New returns a Filter configured with the supplied options. Without options
// it recognizes [DefaultPhrases] at the default threshold.
func New(opts ...Option) *Filter {
	f := &Filter{threshold: defaultThreshold}
	for _, p := range DefaultPhrases {
		f.phrases = append(f.phrases, normalize(p))
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// IsStopCommand reports whether text is one of the configured stop phrases,
// allowing for transcription noise. The whole (normalized) transcript must
// resemble a phrase; a stop phrase buried inside a longer sentence does not
// count.
func (f *Filter) IsStopCommand(text string) bool {
	norm := normalize(text)
	if norm == "" {
		return false
	}
	for _, phrase := range f.phrases {
		if norm == phrase {
			return true
		}
		if matchr.JaroWinkler(norm, phrase, false) >= f.threshold {
			return true
		}
	}
	return false
}

// normalize lowercases text and strips everything except letters, digits and
// single inner spaces.
func normalize(text string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r) && !lastSpace:
			b.WriteRune(' ')
			lastSpace = true
		}
	}
	return strings.TrimRight(b.String(), " ")
}
