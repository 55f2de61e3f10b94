package transcription

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lukehanabi/audio-to-doc/internal/config"
)

// Language is a user-facing language selector.
type Language string

const (
	Spanish Language = "spanish"
	English Language = "english"
	Auto    Language = "auto"
)

// SupportedLanguages lists the accepted selectors in display order.
var SupportedLanguages = []Language{Spanish, English, Auto}

// ErrUnsupportedLanguage is matched by every *UnsupportedLanguageError.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// UnsupportedLanguageError carries the rejected selector.
type UnsupportedLanguageError struct {
	Value string
}

func (e *UnsupportedLanguageError) Error() string {
	return fmt.Sprintf("Language '%s' is not supported. Supported languages: %s",
		e.Value, strings.Join(LanguageNames(), ", "))
}

func (e *UnsupportedLanguageError) Unwrap() error { return ErrUnsupportedLanguage }

// ParseLanguage accepts a selector case-insensitively, ignoring surrounding space.
func ParseLanguage(value string) (Language, error) {
	lang := Language(strings.ToLower(strings.TrimSpace(value)))
	for _, supported := range SupportedLanguages {
		if lang == supported {
			return lang, nil
		}
	}
	return "", &UnsupportedLanguageError{Value: value}
}

// Locale returns the model locale. Auto has no detection and means English.
func (l Language) Locale() string {
	switch l {
	case Spanish:
		return config.LocaleSpanish
	default:
		return config.LocaleEnglish
	}
}

// LanguageNames returns SupportedLanguages as plain strings.
func LanguageNames() []string {
	names := make([]string, len(SupportedLanguages))
	for i, l := range SupportedLanguages {
		names[i] = string(l)
	}
	return names
}
