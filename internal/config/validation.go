package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/v2"
)

// ValidationWarning flags an unknown, possibly misspelled, key.
type ValidationWarning struct {
	Key         string
	Suggestions []string
}

func (w ValidationWarning) String() string {
	msg := fmt.Sprintf("'%s' is not a known config key", w.Key)
	switch len(w.Suggestions) {
	case 0:
	case 1:
		msg += fmt.Sprintf(". Did you mean '%s'?", w.Suggestions[0])
	default:
		msg += ". Did you mean one of: " + strings.Join(w.Suggestions, ", ") + "?"
	}
	return msg
}

// ValidateKeys compares every loaded key against the registry.
func ValidateKeys(k *koanf.Koanf) []ValidationWarning {
	var warnings []ValidationWarning
	for _, key := range k.Keys() {
		if _, ok := LookupKey(key); ok || underRegisteredNamespace(key) {
			continue
		}
		warnings = append(warnings, ValidationWarning{
			Key:         key,
			Suggestions: FindSimilarKeys(key, 3),
		})
	}
	return warnings
}

// FormatWarnings renders warnings as a bulleted block, or "" when empty.
func FormatWarnings(warnings []ValidationWarning) string {
	if len(warnings) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("configuration warnings:\n")
	for _, w := range warnings {
		sb.WriteString("  - " + w.String() + "\n")
	}
	return sb.String()
}
