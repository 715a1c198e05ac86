package parser

import "regexp"

var (
	// csiRe matches CSI sequences such as colors and cursor movement.
	csiRe = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)
	// oscRe matches OSC sequences terminated by BEL (window titles, hyperlinks).
	oscRe = regexp.MustCompile(`\x1b\][^\x07]*\x07`)
)

// StripANSI removes CSI and OSC escape sequences from s. Removal is repeated
// until nothing matches, so StripANSI(StripANSI(s)) == StripANSI(s).
func StripANSI(s string) string {
	for {
		out := oscRe.ReplaceAllString(csiRe.ReplaceAllString(s, ""), "")
		if out == s {
			return out
		}
		s = out
	}
}
