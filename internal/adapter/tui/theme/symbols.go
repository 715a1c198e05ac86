package theme

import (
	"os"
	"strings"
)

// SymbolSet holds the status glyphs, with an ASCII fallback.
type SymbolSet struct {
	Active string
	Idle   string
	Error  string
	Lead   string
	Bullet string
}

var unicodeSymbols = SymbolSet{
	Active: "●", // ●
	Idle:   "○", // ○
	Error:  "✗", // ✗
	Lead:   "★", // ★
	Bullet: "•", // •
}

var asciiSymbols = SymbolSet{
	Active: "*",
	Idle:   "o",
	Error:  "x",
	Lead:   "+",
	Bullet: "-",
}

var (
	SymbolActive = unicodeSymbols.Active
	SymbolIdle   = unicodeSymbols.Idle
	SymbolError  = unicodeSymbols.Error
	SymbolLead   = unicodeSymbols.Lead
	SymbolBullet = unicodeSymbols.Bullet
)

// DetectUnicodeSupport checks whether the terminal likely supports Unicode.
// ANTAI_ASCII_SYMBOLS=1 forces ASCII.
func DetectUnicodeSupport() bool {
	if v := os.Getenv("ANTAI_ASCII_SYMBOLS"); v == "1" || strings.EqualFold(v, "true") {
		return false
	}
	for _, key := range []string{"LC_ALL", "LC_CTYPE", "LANG"} {
		val := strings.ToLower(os.Getenv(key))
		if strings.Contains(val, "utf-8") || strings.Contains(val, "utf8") {
			return true
		}
	}
	// Most modern terminals support Unicode.
	return true
}

// InitSymbols sets the Symbol* variables for the current terminal. Called by
// init, and again by tests that change the environment.
func InitSymbols() {
	set := unicodeSymbols
	if !DetectUnicodeSupport() {
		set = asciiSymbols
	}
	SymbolActive = set.Active
	SymbolIdle = set.Idle
	SymbolError = set.Error
	SymbolLead = set.Lead
	SymbolBullet = set.Bullet
}

func init() {
	InitSymbols()
}
