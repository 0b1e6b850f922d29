package vstore

import (
	"fmt"
	"os"
	"strings"

	koanfyaml "github.com/knadh/koanf/parsers/yaml"
	confmap "github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ConfigFileArg selects an explicit config file on the command line.
const ConfigFileArg = "config"

var defaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"config/config.yaml",
	"config/config.yml",
}

// DefaultValues are applied before any other source.
var DefaultValues = map[string]any{
	"log.level":            "info",
	"http.port":            ":8080",
	"grpc.port":            ":50051",
	"store.driver":         "memory",
	"store.mongo.database": "vstore",
	"lock.driver":          "memory",
	"lock.ttl":             "30s",
	"events.driver":        "none",
	"events.topic":         "vstore.changes",
	"definitions.file":     "config/definitions.yaml",
}

// LoadConfig merges, in order: defaults, a YAML file, environment variables
// and CLI arguments. Env vars are matched by prefix, lower-cased and split on
// underscores (VSTORE_STORE_DRIVER -> store.driver). Arguments use --key=value
// or --key value. --config=path overrides the YAML file lookup.
func LoadConfig(envNamespace string, args []string) (*Config, error) {
	cfg := NewConfig()
	if err := cfg.LoadSources(envNamespace, args); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadSources merges every configuration source into the receiver.
func (p *Config) LoadSources(envNamespace string, args []string) error {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(DefaultValues, "."), nil); err != nil {
		return fmt.Errorf("config: loading defaults: %w", err)
	}

	kv := parseArgsToMap(args)
	path, explicit := kv[ConfigFileArg].(string)
	if !explicit {
		path, explicit = findConfigFile()
	}
	if explicit && path != "" {
		if err := k.Load(file.Provider(path), koanfyaml.Parser()); err != nil {
			return fmt.Errorf("config: loading %s: %w", path, err)
		}
	}

	if envNamespace != "" {
		envPrefix := strings.ToUpper(strings.TrimSuffix(envNamespace, "_")) + "_"
		transform := func(s string) string {
			s = strings.TrimPrefix(s, envPrefix)
			return strings.ToLower(strings.ReplaceAll(s, "_", "."))
		}
		if err := k.Load(env.Provider(envPrefix, ".", transform), nil); err != nil {
			return fmt.Errorf("config: loading env: %w", err)
		}
	}

	delete(kv, ConfigFileArg)
	if len(kv) > 0 {
		if err := k.Load(confmap.Provider(kv, "."), nil); err != nil {
			return fmt.Errorf("config: loading args: %w", err)
		}
	}

	raw := map[string]any{}
	if err := k.Unmarshal("", &raw); err != nil {
		return fmt.Errorf("config: unmarshal: %w", err)
	}
	p.MergeNested(raw)
	return nil
}

func findConfigFile() (string, bool) {
	for _, path := range defaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}

func parseArgsToMap(args []string) map[string]any {
	out := make(map[string]any)
	for i := 0; i < len(args); i++ {
		key, ok := strings.CutPrefix(args[i], "--")
		if !ok || key == "" {
			continue
		}
		if name, value, found := strings.Cut(key, "="); found {
			out[strings.ReplaceAll(name, "_", ".")] = value
			continue
		}
		value := "true"
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "--") {
			value = args[i+1]
			i++
		}
		out[strings.ReplaceAll(key, "_", ".")] = value
	}
	return out
}
