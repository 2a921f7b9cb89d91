// Package mode defines the regulator's tagged algorithm-selection enum and
// the language-tolerant alias normalization applied at the persistence
// boundary.
package mode

import "strings"

// Mode is the regulator's algorithm selector.
type Mode string

const (
	Auto       Mode = "auto"
	Predictive Mode = "predictive"
	Manual     Mode = "manual"
)

// aliases maps case- and language-variant spellings to their canonical
// Mode, since the persisted settings file and legacy UI builds may write
// Russian-language mode names.
var aliases = map[string]Mode{
	"auto":                 Auto,
	"automatic":            Auto,
	"авто":                 Auto,
	"автоматический":       Auto,
	"predictive":           Predictive,
	"авто (предиктивный)":  Predictive,
	"предиктивный":         Predictive,
	"manual":               Manual,
	"ручной":               Manual,
}

// Normalize maps a raw mode string to its canonical Mode, or reports
// ok=false for anything unrecognized. Unknown values must be rejected with
// no write at every call site.
func Normalize(raw string) (Mode, bool) {
	m, ok := aliases[strings.ToLower(strings.TrimSpace(raw))]
	return m, ok
}
