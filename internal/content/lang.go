package content

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

// NormalizeLang reduces a language code or BCP 47 tag to its lower-case base
// language ("pt-BR" -> "pt", "EN" -> "en").
func NormalizeLang(code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", fmt.Errorf("empty language code")
	}
	tag, err := language.Parse(code)
	if err != nil {
		return "", fmt.Errorf("invalid language code %q: %w", code, err)
	}
	base, _ := tag.Base()
	return base.String(), nil
}

// WireLang is the form the remote service expects in query strings and
// request bodies: the upper-cased base language.
func WireLang(code string) string {
	if norm, err := NormalizeLang(code); err == nil {
		return strings.ToUpper(norm)
	}
	return strings.ToUpper(strings.TrimSpace(code))
}

// SameLanguage compares two codes by base language. Unparseable codes are
// compared case-insensitively.
func SameLanguage(a, b string) bool {
	na, errA := NormalizeLang(a)
	nb, errB := NormalizeLang(b)
	if errA != nil || errB != nil {
		return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
	}
	return na == nb
}

var rtlLanguages = map[string]bool{
	"ar": true,
	"fa": true,
	"he": true,
	"ur": true,
	"yi": true,
	"ku": true,
	"ps": true,
	"sd": true,
}

// IsRTL reports whether text in the language is written right to left.
// Legacy codes ("iw", "ji") normalise to their current form first.
func IsRTL(code string) bool {
	norm, err := NormalizeLang(code)
	if err != nil {
		return false
	}
	return rtlLanguages[norm]
}
