package coordinator

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
)

const maxLabelLen = 64

// NoLabel is what unlabelled call sites pass. It matches any armed store.
const NoLabel = ""

// NormalizeLabel lower-cases and validates a label.
func NormalizeLabel(raw string) (string, error) {
	label := strings.ToLower(strings.TrimSpace(raw))
	if label == "" {
		return "", fmt.Errorf("%w: label must not be empty", ErrBadLabel)
	}
	if len(label) > maxLabelLen {
		return "", fmt.Errorf("%w: %q is too long (max %d characters)", ErrBadLabel, label, maxLabelLen)
	}
	for _, r := range label {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			continue
		}
		switch r {
		case '-', '_', '.', ':', '/':
			continue
		}
		return "", fmt.Errorf("%w: %q contains invalid character %q", ErrBadLabel, label, r)
	}
	return label, nil
}

// NormalizeLabels validates every label and removes duplicates.
func NormalizeLabels(raw []string) ([]string, error) {
	set := make(map[string]struct{}, len(raw))
	for _, l := range raw {
		clean, err := NormalizeLabel(l)
		if err != nil {
			return nil, err
		}
		set[clean] = struct{}{}
	}
	return sortedKeys(set), nil
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
