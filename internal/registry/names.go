package registry

import (
	"fmt"
	"strings"
	"unicode"
)

const maxNameLen = 64

// normalizeName validates a registered name or group. Names must not look
// like handle literals, otherwise the resolver could never reach them.
func normalizeName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", nil
	}
	if len(name) > maxNameLen {
		return "", fmt.Errorf("name %q is too long (max %d characters)", name, maxNameLen)
	}
	digits := true
	for _, r := range name {
		if !unicode.IsDigit(r) {
			digits = false
		}
		if isAllowedNameRune(r) {
			continue
		}
		return "", fmt.Errorf("name %q contains invalid character %q (allowed: letters, digits, '.', '-', '_')", name, r)
	}
	if digits {
		return "", fmt.Errorf("name %q must not be numeric", name)
	}
	return name, nil
}

func isAllowedNameRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case '-', '_', '.':
		return true
	default:
		return false
	}
}
