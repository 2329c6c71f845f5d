package media

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// LanguageDisplayName resolves an ISO language code (two- or three-letter)
// to its English display name. Unknown or undefined codes fall back to the
// uppercased code so the manifest never carries an empty NAME attribute.
func LanguageDisplayName(code string) string {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" || strings.EqualFold(trimmed, "und") {
		return "Unknown"
	}
	tag, err := language.Parse(trimmed)
	if err != nil {
		return strings.ToUpper(trimmed)
	}
	name := display.English.Languages().Name(tag)
	if name == "" || strings.EqualFold(name, "unknown language") {
		return strings.ToUpper(trimmed)
	}
	return name
}
