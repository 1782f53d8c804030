// Package config loads and saves the ecsu YAML config file, which holds
// named transfer profiles plus ledger, notification and download settings.
package config

import (
	"os"
	"regexp"
	"strings"
)

// envRef matches ${NAME} and ${NAME:-fallback}.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-[^}]*)?\}`)

// ExpandEnv substitutes environment references in config text. ${NAME}
// becomes the variable's value. ${NAME:-fallback} uses fallback when NAME
// is unset or empty. Any other "$" is left alone, so secrets containing it
// survive.
//
// An unset reference without a fallback becomes the empty string; a
// required setting left empty that way fails validation later.
func ExpandEnv(text string) string {
	matches := envRef.FindAllStringSubmatchIndex(text, -1)
	if matches == nil {
		return text
	}

	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, m := range matches {
		b.WriteString(text[last:m[0]])
		name := text[m[2]:m[3]]
		fallback := ""
		if m[4] >= 0 {
			fallback = strings.TrimPrefix(text[m[4]:m[5]], ":-")
		}
		if v := os.Getenv(name); v != "" {
			b.WriteString(v)
		} else {
			b.WriteString(fallback)
		}
		last = m[1]
	}
	b.WriteString(text[last:])
	return b.String()
}
