package model

import "strings"

// StripPrefix removes the first recognized prefix token (case-insensitive)
// from displayID and reports whether the remainder is a valid numericID:
// non-empty and all decimal digits. Applying StripPrefix to its own output
// is a no-op when the output is already free of any recognized prefix,
// which is the idempotence property spec §8 requires.
func StripPrefix(displayID string, tokens []string) (numericID string, ok bool) {
	trimmed := strings.TrimSpace(displayID)
	upper := strings.ToUpper(trimmed)

	rest := trimmed
	for _, tok := range tokens {
		tok = strings.ToUpper(strings.TrimSpace(tok))
		if tok == "" {
			continue
		}
		if strings.HasPrefix(upper, tok) {
			rest = trimmed[len(tok):]
			break
		}
	}

	if rest == "" {
		return "", false
	}
	for _, r := range rest {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return rest, true
}
