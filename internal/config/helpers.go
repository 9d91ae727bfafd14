package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/iancoleman/strcase"
)

// SearchForConfig looks for filename in startDir and each of its parents,
// returning the first absolute path found or "".
func SearchForConfig(filename string, startDir string) string {
	d, err := filepath.Abs(startDir)
	if err != nil {
		return ""
	}
	for {
		p := filepath.Join(d, filename)
		if _, err := os.Stat(p); err == nil {
			return p
		}
		parent := filepath.Dir(d)
		if parent == d {
			return ""
		}
		d = parent
	}
}

// EnvTransformer returns a koanf env key transform for the given prefix:
// PERM__STORE__TABLE_PREFIX becomes store.tablePrefix. Double underscores
// separate path segments, single underscores mark camelCase boundaries.
func EnvTransformer(prefix string) func(string) string {
	return func(s string) string {
		segments := strings.Split(strings.TrimPrefix(s, prefix), "__")
		for i, segment := range segments {
			segments[i] = strcase.ToLowerCamel(strings.ToLower(segment))
		}
		return strings.Join(segments, ".")
	}
}
