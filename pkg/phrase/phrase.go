// Package phrase classifies recognized utterances against wake and stop
// phrase sets. Matching is a case-insensitive substring test over folded text.
package phrase

import (
	"strings"
	"unicode"
)

var (
	wakeAliases = []string{
		"hey mizon", "hi mizon", "ok mizon", "mizon",
		"مرحبا ميزون", "يا ميزون", "ميزون",
	}
	stopPhrases = []string{
		"stop", "stop listening", "goodbye", "bye", "end session",
		"توقف", "قف", "إيقاف", "مع السلامة", "وداعا",
	}
)

type Detector struct {
	wake []string
	stop []string
}

// New builds a detector. Phrases are folded once here so IsWake/IsStop only
// fold the utterance.
func New(wake, stop []string) Detector {
	return Detector{wake: foldAll(wake), stop: foldAll(stop)}
}

// Defaults returns the bilingual default sets with wake prepended to the
// wake aliases.
func Defaults(wake string) Detector {
	w := make([]string, 0, len(wakeAliases)+1)
	if strings.TrimSpace(wake) != "" {
		w = append(w, wake)
	}
	w = append(w, wakeAliases...)
	return New(w, stopPhrases)
}

func (d Detector) IsWake(text string) bool { return match(d.wake, Fold(text)) }

func (d Detector) IsStop(text string) bool { return match(d.stop, Fold(text)) }

// Strip removes the first matching wake phrase and everything before it.
func (d Detector) Strip(text string) string {
	f := Fold(text)
	for _, p := range d.wake {
		if i := strings.Index(f, p); i >= 0 {
			return strings.TrimSpace(f[i+len(p):])
		}
	}
	return f
}

func (d Detector) WakePhrases() []string { return append([]string(nil), d.wake...) }
func (d Detector) StopPhrases() []string { return append([]string(nil), d.stop...) }

func match(set []string, folded string) bool {
	if folded == "" {
		return false
	}
	for _, p := range set {
		if p != "" && strings.Contains(folded, p) {
			return true
		}
	}
	return false
}

var alef = strings.NewReplacer("أ", "ا", "إ", "ا", "آ", "ا")

// Fold lowercases text, maps punctuation to spaces, collapses runs of
// whitespace and normalizes alef variants.
func Fold(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	space := true
	for _, r := range strings.ToLower(text) {
		if unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r) {
			if !space {
				b.WriteByte(' ')
				space = true
			}
			continue
		}
		b.WriteRune(r)
		space = false
	}
	return alef.Replace(strings.TrimSpace(b.String()))
}

func foldAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		if f := Fold(p); f != "" {
			out = append(out, f)
		}
	}
	return out
}
