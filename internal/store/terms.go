package store

import (
	"strings"
	"unicode"
)

// splitIdentifier breaks a camelCase, PascalCase, or snake_case
// identifier into its word parts. Acronym runs stay together:
// "parseHTTPRequest" becomes ["parse", "HTTP", "Request"].
func splitIdentifier(token string) []string {
	if strings.Contains(token, "_") {
		var parts []string
		for _, p := range strings.Split(token, "_") {
			if p != "" {
				parts = append(parts, splitCamel(p)...)
			}
		}
		return parts
	}
	return splitCamel(token)
}

func splitCamel(s string) []string {
	if s == "" {
		return nil
	}

	var parts []string
	var current strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevLower := unicode.IsLower(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			// A boundary sits before an upper rune that starts or ends
			// a lowercase run; mid-acronym uppers stay attached.
			if prevLower || nextLower {
				if current.Len() > 0 {
					parts = append(parts, current.String())
					current.Reset()
				}
			}
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		parts = append(parts, current.String())
	}
	return parts
}
