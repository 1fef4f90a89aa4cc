// Package config loads the server configuration: YAML file, then TB_*
// environment overrides, then schema and semantic validation.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"tickbridge.ai/internal/host"
	"tickbridge.ai/internal/protect"
	"tickbridge.ai/internal/sched"
)

const EnvPrefix = "TB_"

type Config struct {
	WorkerPoolSize  int    `yaml:"worker_pool_size" json:"worker_pool_size" env:"WORKER_POOL_SIZE"`
	TickRateHz      int    `yaml:"tick_rate_hz" json:"tick_rate_hz" env:"TICK_RATE_HZ"`
	TickBudgetMS    int    `yaml:"tick_budget_ms" json:"tick_budget_ms" env:"TICK_BUDGET_MS"`
	TickBudgetTasks int    `yaml:"tick_budget_tasks" json:"tick_budget_tasks" env:"TICK_BUDGET_TASKS"`
	DrainPhase      string `yaml:"drain_phase" json:"drain_phase" env:"DRAIN_PHASE"`
	StarvationTicks int    `yaml:"starvation_ticks" json:"starvation_ticks" env:"STARVATION_TICKS"`

	ProviderTimeoutMS    int      `yaml:"provider_timeout_ms" json:"provider_timeout_ms" env:"PROVIDER_TIMEOUT_MS"`
	EnabledProviders     []string `yaml:"enabled_providers" json:"enabled_providers" env:"ENABLED_PROVIDERS" envSeparator:","`
	ProtectionCacheTTLMS int      `yaml:"protection_cache_ttl_ms" json:"protection_cache_ttl_ms" env:"PROTECTION_CACHE_TTL_MS"`
	ProtectionCacheSize  int      `yaml:"protection_cache_size" json:"protection_cache_size" env:"PROTECTION_CACHE_SIZE"`

	CallSites map[string]string `yaml:"call_sites" json:"call_sites" env:"CALL_SITES"`

	DataDir            string `yaml:"data_dir" json:"data_dir" env:"DATA_DIR"`
	HTTPAddr           string `yaml:"http_addr" json:"http_addr" env:"HTTP_ADDR"`
	SnapshotEveryTicks int    `yaml:"snapshot_every_ticks" json:"snapshot_every_ticks" env:"SNAPSHOT_EVERY_TICKS"`
	SnapshotKeep       int    `yaml:"snapshot_keep" json:"snapshot_keep" env:"SNAPSHOT_KEEP"`

	// Optional S3-compatible mirror of snapshots and rotated journals.
	// Credentials come from the environment only.
	MirrorEndpoint        string `yaml:"mirror_endpoint" json:"mirror_endpoint" env:"MIRROR_ENDPOINT"`
	MirrorBucket          string `yaml:"mirror_bucket" json:"mirror_bucket" env:"MIRROR_BUCKET"`
	MirrorPrefix          string `yaml:"mirror_prefix" json:"mirror_prefix" env:"MIRROR_PREFIX"`
	MirrorAccessKeyID     string `yaml:"-" json:"-" env:"MIRROR_ACCESS_KEY_ID"`
	MirrorSecretAccessKey string `yaml:"-" json:"-" env:"MIRROR_SECRET_ACCESS_KEY"`
}

func Defaults() Config {
	return Config{
		WorkerPoolSize:       runtime.NumCPU(),
		TickRateHz:           20,
		TickBudgetMS:         10,
		TickBudgetTasks:      sched.NoTaskLimit,
		DrainPhase:           string(host.BeforeStep),
		StarvationTicks:      20,
		ProviderTimeoutMS:    50,
		ProtectionCacheTTLMS: 5000,
		ProtectionCacheSize:  1000,
		DataDir:              "./data",
		HTTPAddr:             "127.0.0.1:8080",
		SnapshotEveryTicks:   6000,
		SnapshotKeep:         10,
	}
}

// Load reads path (optional), applies environment overrides and validates
// the result. The returned config is usable even when err != nil only for
// error reporting.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	cfg.Normalize()
	if err := cfg.ValidateSchema(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) Normalize() {
	c.DrainPhase = strings.ToLower(strings.TrimSpace(c.DrainPhase))
	if c.DrainPhase == "" {
		c.DrainPhase = string(host.BeforeStep)
	}
	out := c.EnabledProviders[:0]
	for _, p := range c.EnabledProviders {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	c.EnabledProviders = out
	for k, v := range c.CallSites {
		c.CallSites[k] = strings.ToLower(strings.TrimSpace(v))
	}
}

//go:embed config.schema.json
var schemaJSON []byte

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("config.schema.json", bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = c.Compile("config.schema.json")
	})
	return schema, schemaErr
}

// ValidateSchema checks the effective config against the embedded JSON
// schema.
func (c Config) ValidateSchema() error {
	s, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("config schema: %w", err)
	}
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Validate checks what the schema cannot: provider and call site names.
func (c Config) Validate() error {
	if _, err := host.ParseDrainPhase(c.DrainPhase); err != nil {
		return err
	}
	var names []string
	for _, k := range protect.Kinds() {
		names = append(names, string(k))
	}
	for _, p := range c.EnabledProviders {
		if _, ok := protect.ParseProviderKind(p); ok {
			continue
		}
		if s := host.Suggest(p, names); s != "" {
			return fmt.Errorf("enabled_providers: unknown provider %q (did you mean %q?)", p, s)
		}
		return fmt.Errorf("enabled_providers: unknown provider %q (known: %s)", p, strings.Join(names, ", "))
	}
	sites := host.SiteNames()
	for name := range c.CallSites {
		if _, ok := host.DefaultSites()[name]; ok {
			continue
		}
		if s := host.Suggest(name, sites); s != "" {
			return fmt.Errorf("call_sites: unknown call site %q (did you mean %q?)", name, s)
		}
		return fmt.Errorf("call_sites: unknown call site %q", name)
	}
	return nil
}

func (c Config) Budget() sched.Budget {
	return sched.Budget{MaxTasks: c.TickBudgetTasks, MaxTime: ms(c.TickBudgetMS)}
}

func (c Config) Phase() host.DrainPhase {
	p, _ := host.ParseDrainPhase(c.DrainPhase)
	return p
}

// MirrorEnabled reports whether an object-store mirror is configured.
func (c Config) MirrorEnabled() bool {
	return strings.TrimSpace(c.MirrorEndpoint) != "" && strings.TrimSpace(c.MirrorBucket) != ""
}

func (c Config) ProviderTimeout() time.Duration { return ms(c.ProviderTimeoutMS) }
func (c Config) CacheTTL() time.Duration        { return ms(c.ProtectionCacheTTLMS) }

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
