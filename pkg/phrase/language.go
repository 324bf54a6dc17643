package phrase

import (
	"fmt"
	"strings"
	"unicode"
)

// Language is the session language hint.
type Language string

const (
	English Language = "en"
	Arabic  Language = "ar"
	Auto    Language = "auto"
)

func ParseLanguage(s string) (Language, error) {
	switch l := Language(strings.ToLower(strings.TrimSpace(s))); l {
	case English, Arabic, Auto:
		return l, nil
	case "":
		return Auto, nil
	default:
		return "", fmt.Errorf("unknown language %q (want en|ar|auto)", s)
	}
}

// Resolve turns Auto into a concrete language by looking at the script of
// text. Concrete languages are returned unchanged.
func (l Language) Resolve(text string) Language {
	if l == English || l == Arabic {
		return l
	}
	for _, r := range text {
		if unicode.Is(unicode.Arabic, r) {
			return Arabic
		}
	}
	return English
}

// Hint is the value sent to transcription backends; auto means no hint.
func (l Language) Hint() string {
	if l == Auto {
		return ""
	}
	return string(l)
}
