package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds every server-level option for the helparr serving layer.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Pipeline PipelineConfig `koanf:"pipeline"`
	Cache    CacheConfig    `koanf:"cache"`
	Feed     FeedConfig     `koanf:"feed"`
	Storage  StorageConfig  `koanf:"storage"`
	Health   HealthConfig   `koanf:"health"`
	Sweep    SweepConfig    `koanf:"sweep"`
}

// ServerConfig collects the bootstrap knobs owned by the lifecycle agent.
type ServerConfig struct {
	Listen  ListenConfig  `koanf:"listen"`
	Logging LoggingConfig `koanf:"logging"`
	// BaseURL is the externally visible origin used when rendering feed
	// self-links (e.g. "https://helparr.example.com").
	BaseURL string `koanf:"baseUrl"`
	// Environment toggles production behavior such as stripping stack
	// detail from error payloads. Accepted values: production, development.
	Environment string `koanf:"environment"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level, format, and correlation ID wiring.
type LoggingConfig struct {
	Level             string `koanf:"level"`
	Format            string `koanf:"format"`
	CorrelationHeader string `koanf:"correlationHeader"`
}

// PipelineConfig enumerates every recognized middleware option. Zero values
// mean "disabled" except where a default is documented on the field.
type PipelineConfig struct {
	CORS      CORSConfig      `koanf:"cors"`
	RateLimit RateLimitConfig `koanf:"rateLimit"`
	// SizeLimitBytes rejects request bodies larger than this many bytes.
	// Zero disables the stage.
	SizeLimitBytes int64 `koanf:"sizeLimitBytes"`
	// Logging enables the request lifecycle logging stage.
	Logging bool `koanf:"logging"`
}

// CORSConfig shapes the CORS stage. Enabled with an empty origin list allows
// any origin.
type CORSConfig struct {
	Enabled bool     `koanf:"enabled"`
	Origins []string `koanf:"origins"`
	Methods []string `koanf:"methods"`
	Headers []string `koanf:"headers"`
	// MaxAgeSeconds controls the Access-Control-Max-Age preflight header.
	MaxAgeSeconds int `koanf:"maxAgeSeconds"`
}

// RateLimitConfig shapes the sliding-window rate limit stage.
type RateLimitConfig struct {
	Enabled       bool `koanf:"enabled"`
	MaxRequests   int  `koanf:"maxRequests"`
	WindowSeconds int  `koanf:"windowSeconds"`
}

// Window returns the configured sliding window as a duration.
func (c RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// CacheConfig is the layered cache-directive configuration: global defaults,
// an ordered list of path-pattern rules (first match wins), and a
// content-type-keyed rule map. Each layer overrides only the keys it sets.
type CacheConfig struct {
	Directives `koanf:",squash"`

	// ETag enables fingerprint computation and If-None-Match evaluation.
	ETag bool `koanf:"etag"`
	// LastModified enables Last-Modified emission and If-Modified-Since
	// evaluation.
	LastModified bool `koanf:"lastModified"`
	// Vary headers appended independently of the directive set.
	Vary []string `koanf:"vary"`
	// IncludeSecurityHeaders appends X-Content-Type-Options and
	// X-Frame-Options to every evaluated response.
	IncludeSecurityHeaders bool `koanf:"includeSecurityHeaders"`

	// Rules are matched against the request path in order; the first match
	// contributes its overrides.
	Rules []PathRule `koanf:"rules"`
	// ContentTypeRules are keyed by media type (e.g. "application/rss+xml")
	// and applied after path rules.
	ContentTypeRules map[string]RuleOverrides `koanf:"contentTypeRules"`
	// RulesFile optionally points at a standalone rules document that is
	// hot-reloaded into the running engine on change.
	RulesFile string `koanf:"rulesFile"`
}

// Directives are the concrete global defaults for Cache-Control serialization.
type Directives struct {
	MaxAgeSeconds               int  `koanf:"maxAgeSeconds"`
	SMaxAgeSeconds              int  `koanf:"sMaxAgeSeconds"`
	StaleWhileRevalidateSeconds int  `koanf:"staleWhileRevalidateSeconds"`
	Public                      bool `koanf:"public"`
	Immutable                   bool `koanf:"immutable"`
	MustRevalidate              bool `koanf:"mustRevalidate"`
	NoCache                     bool `koanf:"noCache"`
	NoStore                     bool `koanf:"noStore"`
}

// RuleOverrides carries the optional per-rule directive overrides. Nil fields
// leave the lower layer's value untouched.
type RuleOverrides struct {
	MaxAgeSeconds               *int  `koanf:"maxAgeSeconds"`
	SMaxAgeSeconds              *int  `koanf:"sMaxAgeSeconds"`
	StaleWhileRevalidateSeconds *int  `koanf:"staleWhileRevalidateSeconds"`
	Public                      *bool `koanf:"public"`
	Immutable                   *bool `koanf:"immutable"`
	MustRevalidate              *bool `koanf:"mustRevalidate"`
	NoCache                     *bool `koanf:"noCache"`
	NoStore                     *bool `koanf:"noStore"`
}

// PathRule couples a shell-style path pattern with the directive overrides it
// contributes when the request path matches.
type PathRule struct {
	Pattern       string `koanf:"pattern"`
	RuleOverrides `koanf:",squash"`
}

// FeedConfig shapes the RSS generator and its in-memory cache.
type FeedConfig struct {
	// TTLSeconds is the feed cache time-to-live. Entries older than this
	// are treated as absent.
	TTLSeconds int `koanf:"ttlSeconds"`
	// TitleTemplate and DescriptionTemplate render the channel metadata.
	// They are text/template documents with sprig functions available and
	// {{.Count}} / {{.TenantID}} bindings.
	TitleTemplate       string `koanf:"titleTemplate"`
	DescriptionTemplate string `koanf:"descriptionTemplate"`
	// Language is emitted as the channel language element.
	Language string `koanf:"language"`
	// OverviewLimit truncates movie overviews in item descriptions.
	OverviewLimit int `koanf:"overviewLimit"`
}

// TTL returns the configured feed cache TTL as a duration.
func (c FeedConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// StorageConfig selects and shapes the tenant store backend.
type StorageConfig struct {
	Backend string       `koanf:"backend"`
	Valkey  ValkeyConfig `koanf:"valkey"`
	SQLite  SQLiteConfig `koanf:"sqlite"`
}

// ValkeyConfig carries the Valkey/Redis connection options.
type ValkeyConfig struct {
	Address  string          `koanf:"address"`
	Username string          `koanf:"username"`
	Password string          `koanf:"password"`
	DB       int             `koanf:"db"`
	TLS      ValkeyTLSConfig `koanf:"tls"`
}

// ValkeyTLSConfig toggles TLS and an optional CA bundle for the Valkey client.
type ValkeyTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

// SQLiteConfig points the SQLite backend at its database file.
type SQLiteConfig struct {
	Path string `koanf:"path"`
}

// HealthConfig shapes the health endpoint's optional upstream probe.
type HealthConfig struct {
	// MetadataURL, when set, is probed on /healthz with a hard timeout.
	MetadataURL    string `koanf:"metadataUrl"`
	TimeoutSeconds int    `koanf:"timeoutSeconds"`
}

// Timeout returns the probe timeout as a duration.
func (c HealthConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SweepConfig drives the background janitor that purges stale rate-limiter
// keys and expired feed cache entries.
type SweepConfig struct {
	// Schedule is a robfig/cron spec, e.g. "@every 1m".
	Schedule string `koanf:"schedule"`
}

// Validate rejects configurations the runtime cannot honor.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen.port invalid: %d", c.Server.Listen.Port)
	}
	switch strings.TrimSpace(strings.ToLower(c.Server.Environment)) {
	case "", "production", "development":
	default:
		return fmt.Errorf("config: server.environment unsupported: %s", c.Server.Environment)
	}
	if c.Feed.TTLSeconds < 0 {
		return fmt.Errorf("config: feed.ttlSeconds invalid: %d", c.Feed.TTLSeconds)
	}
	if c.Pipeline.RateLimit.Enabled {
		if c.Pipeline.RateLimit.MaxRequests <= 0 {
			return fmt.Errorf("config: pipeline.rateLimit.maxRequests invalid: %d", c.Pipeline.RateLimit.MaxRequests)
		}
		if c.Pipeline.RateLimit.WindowSeconds <= 0 {
			return fmt.Errorf("config: pipeline.rateLimit.windowSeconds invalid: %d", c.Pipeline.RateLimit.WindowSeconds)
		}
	}
	if c.Pipeline.SizeLimitBytes < 0 {
		return fmt.Errorf("config: pipeline.sizeLimitBytes invalid: %d", c.Pipeline.SizeLimitBytes)
	}
	for i, rule := range c.Cache.Rules {
		if strings.TrimSpace(rule.Pattern) == "" {
			return fmt.Errorf("config: cache.rules[%d] pattern empty", i)
		}
	}
	backend := strings.TrimSpace(strings.ToLower(c.Storage.Backend))
	switch backend {
	case "", "memory":
	case "valkey", "redis":
		if strings.TrimSpace(c.Storage.Valkey.Address) == "" {
			return errors.New("config: storage.valkey.address required for valkey backend")
		}
	case "sqlite":
		if strings.TrimSpace(c.Storage.SQLite.Path) == "" {
			return errors.New("config: storage.sqlite.path required for sqlite backend")
		}
	default:
		return fmt.Errorf("config: storage.backend unsupported: %s", c.Storage.Backend)
	}
	if c.Health.TimeoutSeconds < 0 {
		return fmt.Errorf("config: health.timeoutSeconds invalid: %d", c.Health.TimeoutSeconds)
	}
	return nil
}

// IsProduction reports whether error payloads should omit stack detail.
func (c ServerConfig) IsProduction() bool {
	return strings.TrimSpace(strings.ToLower(c.Environment)) != "development"
}

// DefaultConfig returns the baseline values that align with the design defaults.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    8080,
			},
			Logging: LoggingConfig{
				Level:             "info",
				Format:            "json",
				CorrelationHeader: "X-Request-ID",
			},
			BaseURL:     "http://localhost:8080",
			Environment: "production",
		},
		Pipeline: PipelineConfig{
			CORS: CORSConfig{
				Enabled:       true,
				Methods:       []string{"GET", "POST", "OPTIONS"},
				Headers:       []string{"Content-Type", "X-Request-ID"},
				MaxAgeSeconds: 86400,
			},
			RateLimit: RateLimitConfig{
				Enabled:       true,
				MaxRequests:   30,
				WindowSeconds: 60,
			},
			SizeLimitBytes: 1 << 20,
			Logging:        true,
		},
		Cache: CacheConfig{
			Directives: Directives{
				MaxAgeSeconds: 60,
				Public:        true,
			},
			ETag:                   true,
			LastModified:           true,
			Vary:                   []string{"Accept-Encoding"},
			IncludeSecurityHeaders: true,
		},
		Feed: FeedConfig{
			TTLSeconds:          60,
			TitleTemplate:       `{{ if gt .Count 0 }}{{ .Count }} Movie{{ if ne .Count 1 }}s{{ end }}{{ else }}Ready for Movies{{ end }}`,
			DescriptionTemplate: `Curated movie list for your download automation client`,
			Language:            "en-us",
			OverviewLimit:       175,
		},
		Storage: StorageConfig{
			Backend: "memory",
		},
		Health: HealthConfig{
			TimeoutSeconds: 5,
		},
		Sweep: SweepConfig{
			Schedule: "@every 1m",
		},
	}
}
