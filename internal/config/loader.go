package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	ktoml "github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Loader hydrates the runtime configuration while respecting env > file >
// default precedence.
type Loader struct {
	envPrefix string
	files     []string
}

// NewLoader prepares a config hydrator that honors the env-first contract
// before touching files or defaults.
func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{
		envPrefix: envPrefix,
		files:     files,
	}
}

// Load assembles the effective snapshot using the documented precedence rules.
// File parsers are chosen by extension: .yaml/.yml, .json, or .toml.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	defaultCfg := DefaultConfig()
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(defaultCfg), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	for _, path := range l.files {
		if path == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return Config{}, ctx.Err()
		default:
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		parser, err := parserFor(path)
		if err != nil {
			return Config{}, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if l.envPrefix != "" {
		if err := k.Load(env.Provider(l.envPrefix, ".", l.envTransform), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadRules parses a standalone cache-directive rules document (yaml, json,
// or toml) into the path/content-type rule layers. Used by the rules watcher
// to hot-swap directives without a full configuration reload.
func LoadRules(path string) (RulesBundle, error) {
	parser, err := parserFor(path)
	if err != nil {
		return RulesBundle{}, err
	}
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), parser); err != nil {
		return RulesBundle{}, fmt.Errorf("config: load rules %s: %w", path, err)
	}
	var bundle RulesBundle
	if err := k.Unmarshal("", &bundle); err != nil {
		return RulesBundle{}, fmt.Errorf("config: unmarshal rules %s: %w", path, err)
	}
	for i, rule := range bundle.Rules {
		if strings.TrimSpace(rule.Pattern) == "" {
			return RulesBundle{}, fmt.Errorf("config: rules[%d] pattern empty in %s", i, path)
		}
	}
	return bundle, nil
}

// RulesBundle is the shape of a standalone directive rules document.
type RulesBundle struct {
	Rules            []PathRule               `koanf:"rules"`
	ContentTypeRules map[string]RuleOverrides `koanf:"contentTypeRules"`
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", "":
		return yaml.Parser(), nil
	case ".json":
		return kjson.Parser(), nil
	case ".toml":
		return ktoml.Parser(), nil
	default:
		return nil, fmt.Errorf("config: unsupported file extension: %s", path)
	}
}

// canonicalKeys lists every config leaf whose camelCase spelling must survive
// the lowercased env round trip.
var canonicalKeys = []string{
	"server.logging.correlationHeader",
	"server.baseUrl",
	"pipeline.rateLimit.enabled",
	"pipeline.rateLimit.maxRequests",
	"pipeline.rateLimit.windowSeconds",
	"pipeline.sizeLimitBytes",
	"pipeline.cors.maxAgeSeconds",
	"cache.maxAgeSeconds",
	"cache.sMaxAgeSeconds",
	"cache.staleWhileRevalidateSeconds",
	"cache.mustRevalidate",
	"cache.noCache",
	"cache.noStore",
	"cache.lastModified",
	"cache.includeSecurityHeaders",
	"cache.rulesFile",
	"feed.ttlSeconds",
	"feed.titleTemplate",
	"feed.descriptionTemplate",
	"feed.overviewLimit",
	"storage.valkey.tls.caFile",
	"health.metadataUrl",
	"health.timeoutSeconds",
}

var canonicalEnvKeys = func() map[string]string {
	m := make(map[string]string, len(canonicalKeys))
	for _, key := range canonicalKeys {
		m[strings.ToLower(key)] = key
	}
	return m
}()

// envTransform maps HELPARR_SERVER__LISTEN__PORT to server.listen.port. Double
// underscores signal nesting; camelCase leaves are restored through the
// canonical key table since env names arrive lowercased.
func (l *Loader) envTransform(s string) string {
	key := strings.TrimPrefix(s, l.envPrefix+"_")
	key = strings.ReplaceAll(key, "__", ".")
	lower := strings.ToLower(key)
	if mapped, ok := canonicalEnvKeys[lower]; ok {
		return mapped
	}
	key = strings.ReplaceAll(key, "_", "")
	return strings.ToLower(key)
}

// structToMap converts DefaultConfig into a map for the koanf confmap provider.
func structToMap(cfg Config) map[string]any {
	return map[string]any{
		"server": map[string]any{
			"listen": map[string]any{
				"address": cfg.Server.Listen.Address,
				"port":    cfg.Server.Listen.Port,
			},
			"logging": map[string]any{
				"level":             cfg.Server.Logging.Level,
				"format":            cfg.Server.Logging.Format,
				"correlationHeader": cfg.Server.Logging.CorrelationHeader,
			},
			"baseUrl":     cfg.Server.BaseURL,
			"environment": cfg.Server.Environment,
		},
		"pipeline": map[string]any{
			"cors": map[string]any{
				"enabled":       cfg.Pipeline.CORS.Enabled,
				"origins":       cfg.Pipeline.CORS.Origins,
				"methods":       cfg.Pipeline.CORS.Methods,
				"headers":       cfg.Pipeline.CORS.Headers,
				"maxAgeSeconds": cfg.Pipeline.CORS.MaxAgeSeconds,
			},
			"rateLimit": map[string]any{
				"enabled":       cfg.Pipeline.RateLimit.Enabled,
				"maxRequests":   cfg.Pipeline.RateLimit.MaxRequests,
				"windowSeconds": cfg.Pipeline.RateLimit.WindowSeconds,
			},
			"sizeLimitBytes": cfg.Pipeline.SizeLimitBytes,
			"logging":        cfg.Pipeline.Logging,
		},
		"cache": map[string]any{
			"maxAgeSeconds":               cfg.Cache.MaxAgeSeconds,
			"sMaxAgeSeconds":              cfg.Cache.SMaxAgeSeconds,
			"staleWhileRevalidateSeconds": cfg.Cache.StaleWhileRevalidateSeconds,
			"public":                      cfg.Cache.Public,
			"immutable":                   cfg.Cache.Immutable,
			"mustRevalidate":              cfg.Cache.MustRevalidate,
			"noCache":                     cfg.Cache.NoCache,
			"noStore":                     cfg.Cache.NoStore,
			"etag":                        cfg.Cache.ETag,
			"lastModified":                cfg.Cache.LastModified,
			"vary":                        cfg.Cache.Vary,
			"includeSecurityHeaders":      cfg.Cache.IncludeSecurityHeaders,
			"rulesFile":                   cfg.Cache.RulesFile,
		},
		"feed": map[string]any{
			"ttlSeconds":          cfg.Feed.TTLSeconds,
			"titleTemplate":       cfg.Feed.TitleTemplate,
			"descriptionTemplate": cfg.Feed.DescriptionTemplate,
			"language":            cfg.Feed.Language,
			"overviewLimit":       cfg.Feed.OverviewLimit,
		},
		"storage": map[string]any{
			"backend": cfg.Storage.Backend,
			"valkey": map[string]any{
				"address":  cfg.Storage.Valkey.Address,
				"username": cfg.Storage.Valkey.Username,
				"password": cfg.Storage.Valkey.Password,
				"db":       cfg.Storage.Valkey.DB,
				"tls": map[string]any{
					"enabled": cfg.Storage.Valkey.TLS.Enabled,
					"caFile":  cfg.Storage.Valkey.TLS.CAFile,
				},
			},
			"sqlite": map[string]any{
				"path": cfg.Storage.SQLite.Path,
			},
		},
		"health": map[string]any{
			"metadataUrl":    cfg.Health.MetadataURL,
			"timeoutSeconds": cfg.Health.TimeoutSeconds,
		},
		"sweep": map[string]any{
			"schedule": cfg.Sweep.Schedule,
		},
	}
}
