package diag

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// gcc localises quotes as ‘x’ under UTF-8 locales; expectations are
// written with ASCII quotes.
var quoteFolder = strings.NewReplacer(
	"‘", "'",
	"’", "'",
	"‚", "'",
	"‛", "'",
	"“", `"`,
	"”", `"`,
	"„", `"`,
	"\u00a0", " ",
)

// Normalize brings message text into the comparable form: NFC, ASCII quotes,
// surrounding space trimmed.
func Normalize(s string) string {
	return strings.TrimSpace(quoteFolder.Replace(norm.NFC.String(s)))
}
