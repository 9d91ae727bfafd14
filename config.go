package permissible

import (
	"github.com/dpup/permissible/errors"
	"github.com/dpup/permissible/internal/config"
	"github.com/dpup/permissible/perm"
	"github.com/dpup/permissible/roots"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Filename of the standard configuration file.
const ConfigFile = "permissible.yaml"

// Prefix of environment variables read into Config.
const EnvPrefix = "PERM__"

// ConfigKeyInfo contains metadata about a known configuration key.
type ConfigKeyInfo = config.KeyInfo

// ValidationWarning flags an unknown configuration key.
type ValidationWarning = config.ValidationWarning

// Config is a global koanf instance holding engine configuration.
//
// Config is loaded in the following order (later sources override earlier):
// 1. Auto-discovered permissible.yaml (in init())
// 2. Environment variables with PERM__ prefix (in init())
// 3. Additional sources loaded via LoadConfigFile() or LoadConfigDefaults()
//
// Defaults of registered keys fill in whatever no source set.
//
// Environment variable transformation:
//   - PERM__STORE__DRIVER → store.driver
//   - PERM__PERM__CREATION_ACTIONS → perm.creationActions
var Config = koanf.New(".")

func init() {
	registerCoreConfigKeys()

	// Look for a permissible.yaml file in the current directory or any parent.
	if cfg := config.SearchForConfig(ConfigFile, "."); cfg != "" {
		if err := Config.Load(file.Provider(cfg), yaml.Parser()); err != nil {
			panic("error loading config: " + err.Error())
		}
	}

	if err := Config.Load(env.Provider(EnvPrefix, ".", config.EnvTransformer(EnvPrefix)), nil); err != nil {
		panic("error loading env config: " + err.Error())
	}

	config.ApplyDefaults(Config)
}

// RegisterConfigKeys records known keys so ValidateConfig does not flag them.
func RegisterConfigKeys(infos ...ConfigKeyInfo) {
	config.RegisterKeys(infos...)
	config.ApplyDefaults(Config)
}

// LoadConfigFile loads additional configuration from a YAML file.
func LoadConfigFile(path string) {
	if err := Config.Load(file.Provider(path), yaml.Parser()); err != nil {
		panic("error loading config file '" + path + "': " + err.Error())
	}
}

// LoadConfigDefaults loads configuration values from a map, overriding
// anything loaded before.
//
// Example:
//
//	permissible.LoadConfigDefaults(map[string]any{
//	    "store.driver": "sqlite",
//	    "store.dsn":    "file:perms.db",
//	})
func LoadConfigDefaults(defaults map[string]any) {
	if err := Config.Load(confmap.Provider(defaults, "."), nil); err != nil {
		panic("error loading config defaults: " + err.Error())
	}
}

// ValidateConfig returns a warning for every loaded key that is not
// registered, with suggestions for likely typos.
func ValidateConfig() []ValidationWarning {
	return config.ValidateKeys(Config)
}

// ConfigWarnings renders ValidateConfig's result, or "" when there is nothing
// to report.
func ConfigWarnings() string {
	return config.FormatWarnings(ValidateConfig())
}

// ConfigRoles returns the role table from "roles", or the default table when
// none is configured.
func ConfigRoles() (roots.RoleDefinitions, error) {
	if !Config.Exists("roles") {
		return roots.DefaultRoles(), nil
	}
	var roles []roots.Role
	if err := Config.Unmarshal("roles", &roles); err != nil {
		return roots.RoleDefinitions{}, errors.WrapPrefix(err, "invalid roles configuration", 0)
	}
	return roots.NewRoleDefinitions(roles...)
}

// ConfigCreationActions returns "perm.creationActions" as actions.
func ConfigCreationActions() []perm.Action {
	names := Config.Strings("perm.creationActions")
	actions := make([]perm.Action, len(names))
	for i, n := range names {
		actions[i] = perm.Action(n)
	}
	return actions
}

func registerCoreConfigKeys() {
	config.RegisterKeys(
		ConfigKeyInfo{
			Key:         "store.driver",
			Description: "Storage backend: memory, sqlite or postgres",
			Type:        "string",
			Default:     "memory",
		},
		ConfigKeyInfo{
			Key:         "store.dsn",
			Description: "Connection string for sqlite or postgres",
			Type:        "string",
			Default:     ":memory:",
		},
		ConfigKeyInfo{
			Key:         "store.prefix",
			Description: "Prefix for SQL table names",
			Type:        "string",
			Default:     "permissible_",
		},
		ConfigKeyInfo{
			Key:         "store.schema",
			Description: "PostgreSQL schema holding the tables",
			Type:        "string",
		},
		ConfigKeyInfo{
			Key:         "logging.mode",
			Description: "Logger output: dev, prod or nop",
			Type:        "string",
			Default:     "dev",
		},
		ConfigKeyInfo{
			Key:         "eventbus.workers",
			Description: "Workers delivering sync notifications, 0 for a goroutine per delivery",
			Type:        "int",
			Default:     16,
		},
		ConfigKeyInfo{
			Key:         "perm.creationActions",
			Description: "Actions that skip the object phase when no object is given",
			Type:        "[]string",
			Default:     []string{string(perm.ActionCreate)},
		},
		ConfigKeyInfo{
			Key:         "roles",
			Description: "Role table as a list of {name, label, codes}",
			Type:        "[]map",
		},
	)
}
