package config

import (
	"sort"
	"strings"
	"sync"

	"github.com/agnivade/levenshtein"
)

// KeyInfo describes a known configuration key.
type KeyInfo struct {
	Key         string // Full dotted path, e.g. "store.driver"
	Description string
	Type        string // "string", "int", "[]string", ...
	Default     any
}

var (
	registry   = map[string]KeyInfo{}
	registryMu sync.RWMutex
)

// RegisterKeys records known configuration keys.
func RegisterKeys(infos ...KeyInfo) {
	registryMu.Lock()
	defer registryMu.Unlock()
	for _, info := range infos {
		registry[info.Key] = info
	}
}

// LookupKey returns metadata for a registered key.
func LookupKey(key string) (KeyInfo, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	info, ok := registry[key]
	return info, ok
}

// RegisteredKeys returns every registered key, sorted.
func RegisteredKeys() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	keys := make([]string, 0, len(registry))
	for k := range registry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DefaultConfigs returns the non-nil defaults of all registered keys.
func DefaultConfigs() map[string]any {
	registryMu.RLock()
	defer registryMu.RUnlock()
	defaults := map[string]any{}
	for key, info := range registry {
		if info.Default != nil {
			defaults[key] = info.Default
		}
	}
	return defaults
}

// FindSimilarKeys returns up to maxResults registered keys within a small edit
// distance of key, closest first. Keys sharing the same parent path get a one
// point bonus.
func FindSimilarKeys(key string, maxResults int) []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	type scored struct {
		key   string
		score int
	}
	var candidates []scored
	prefix := parentOf(key)
	for candidate := range registry {
		if candidate == key {
			continue
		}
		d := levenshtein.ComputeDistance(key, candidate)
		if prefix != "" && prefix == parentOf(candidate) && d > 0 {
			d--
		}
		if d <= 3 {
			candidates = append(candidates, scored{candidate, d})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score == candidates[j].score {
			return candidates[i].key < candidates[j].key
		}
		return candidates[i].score < candidates[j].score
	})

	out := make([]string, 0, maxResults)
	for i := 0; i < len(candidates) && i < maxResults; i++ {
		out = append(out, candidates[i].key)
	}
	return out
}

// parentOf returns "store" for "store.driver".
func parentOf(key string) string {
	if i := strings.LastIndex(key, "."); i >= 0 {
		return key[:i]
	}
	return ""
}

// underRegisteredNamespace reports whether a parent path of key is itself a
// registered key, e.g. "roles" covers "roles.0.name".
func underRegisteredNamespace(key string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	for p := parentOf(key); p != ""; p = parentOf(p) {
		if _, ok := registry[p]; ok {
			return true
		}
	}
	return false
}
