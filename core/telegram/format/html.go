package format

import "strings"

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
)

// EscapeHTML escapes user-supplied text before it is interpolated into
// HTML-parse-mode Telegram messages.
func EscapeHTML(text string) string {
	return htmlEscaper.Replace(text)
}
