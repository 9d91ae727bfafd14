package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withRegistry(t *testing.T, infos ...KeyInfo) {
	t.Helper()
	registryMu.Lock()
	original := registry
	registry = map[string]KeyInfo{}
	registryMu.Unlock()
	RegisterKeys(infos...)
	t.Cleanup(func() {
		registryMu.Lock()
		registry = original
		registryMu.Unlock()
	})
}

func TestEnvTransformer(t *testing.T) {
	transform := EnvTransformer("PERM__")
	tests := []struct {
		input string
		want  string
	}{
		{input: "PERM__STORE__DRIVER", want: "store.driver"},
		{input: "PERM__STORE__TABLE_PREFIX", want: "store.tablePrefix"},
		{input: "PERM__PERM__CREATION_ACTIONS", want: "perm.creationActions"},
		{input: "PERM__EVENTBUS__WORKERS", want: "eventbus.workers"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, transform(tt.input))
		})
	}
}

func TestSearchForConfig(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "permissible.yaml"), []byte("store:\n  driver: memory\n"), 0o600))

	assert.Equal(t, filepath.Join(root, "permissible.yaml"), SearchForConfig("permissible.yaml", nested))
	assert.Empty(t, SearchForConfig("permissible-missing-1234.yaml", nested))
}

func TestFindSimilarKeys(t *testing.T) {
	withRegistry(t,
		KeyInfo{Key: "store.driver"},
		KeyInfo{Key: "store.dsn"},
		KeyInfo{Key: "store.tablePrefix"},
		KeyInfo{Key: "eventbus.workers"},
	)

	assert.Equal(t, "store.driver", FindSimilarKeys("store.drivr", 3)[0])
	assert.Contains(t, FindSimilarKeys("store.tablePrefx", 3), "store.tablePrefix")
	assert.Empty(t, FindSimilarKeys("completely.different.thing", 3))
}

func TestValidateKeys(t *testing.T) {
	withRegistry(t,
		KeyInfo{Key: "store.driver"},
		KeyInfo{Key: "roles", Type: "[]object"},
	)

	k := koanf.New(".")
	require.NoError(t, k.Load(confmap.Provider(map[string]any{
		"store.driver":  "sqlite",
		"store.drivre":  "postgres",
		"roles.viewers": "x",
	}, "."), nil))

	warnings := ValidateKeys(k)
	require.Len(t, warnings, 1)
	assert.Equal(t, "store.drivre", warnings[0].Key)
	assert.Equal(t, []string{"store.driver"}, warnings[0].Suggestions)
	assert.Contains(t, FormatWarnings(warnings), "Did you mean 'store.driver'?")
	assert.Empty(t, FormatWarnings(nil))
}

func TestApplyDefaults(t *testing.T) {
	withRegistry(t,
		KeyInfo{Key: "store.driver", Default: "memory"},
		KeyInfo{Key: "eventbus.workers", Default: 4},
	)

	k := koanf.New(".")
	require.NoError(t, k.Set("store.driver", "sqlite"))
	ApplyDefaults(k)

	assert.Equal(t, "sqlite", k.String("store.driver"))
	assert.Equal(t, 4, k.Int("eventbus.workers"))
}

func TestValidationWarningString(t *testing.T) {
	assert.Equal(t, "'x' is not a known config key", ValidationWarning{Key: "x"}.String())
	assert.Contains(t, ValidationWarning{Key: "x", Suggestions: []string{"a", "b"}}.String(), "one of: a, b")
}
