package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"missionctl/internal/routing"
)

const (
	MatchFirst  = "first"
	MatchStrict = "strict"
)

// Config models missionctl.yml.
type Config struct {
	Routing  routing.Settings `yaml:"routing"`
	Dispatch struct {
		GatewayURL     string `yaml:"gateway_url"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
		Workers        int    `yaml:"workers"`
		QueueSize      int    `yaml:"queue_size"`
	} `yaml:"dispatch"`
	Alerts struct {
		RepeatAfterMinutes int    `yaml:"repeat_after_minutes"`
		Schedule           string `yaml:"schedule"`
		Mark               bool   `yaml:"mark"`
	} `yaml:"alerts"`
	Mentions struct {
		MatchMode string `yaml:"match_mode"`
	} `yaml:"mentions"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with missionctl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if len(c.Routing.Profiles) == 0 {
		return fmt.Errorf("config.routing.profiles is required")
	}
	seen := map[string]bool{}
	for i, p := range c.Routing.Profiles {
		if strings.TrimSpace(p.ID) == "" {
			return fmt.Errorf("routing profile #%d has empty id", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("routing profile %s defined twice", p.ID)
		}
		seen[p.ID] = true
		if len(p.Keywords) == 0 && len(p.AffinityHints) == 0 {
			return fmt.Errorf("routing profile %s has no keywords or affinity hints", p.ID)
		}
		for _, term := range append(append([]string{}, p.Keywords...), p.AffinityHints...) {
			if strings.TrimSpace(term) == "" {
				return fmt.Errorf("routing profile %s has empty term", p.ID)
			}
		}
	}
	w := c.Routing.Weights
	if w.Keyword < 0 || w.Affinity < 0 || w.Fit < 0 || w.Master < 0 || c.Routing.DefaultAssignee.Bonus < 0 {
		return fmt.Errorf("config.routing weights must not be negative")
	}
	if c.Routing.DefaultAssignee.Name != "" && len(c.Routing.DefaultAssignee.Triggers) == 0 {
		return fmt.Errorf("config.routing.default_assignee.triggers is required when name is set")
	}
	if c.Dispatch.TimeoutSeconds < 0 || c.Dispatch.Workers < 0 || c.Dispatch.QueueSize < 0 {
		return fmt.Errorf("config.dispatch values must not be negative")
	}
	if c.Alerts.RepeatAfterMinutes < 0 {
		return fmt.Errorf("config.alerts.repeat_after_minutes must not be negative")
	}
	switch c.Mentions.MatchMode {
	case "", MatchFirst, MatchStrict:
	default:
		return fmt.Errorf("config.mentions.match_mode must be %q or %q", MatchFirst, MatchStrict)
	}
	return nil
}

// applyDefaults fills zero values that have a documented default.
func (c *Config) applyDefaults() {
	if c.Routing.MaxReasonTerms == 0 {
		c.Routing.MaxReasonTerms = 3
	}
	if c.Routing.TopCandidates == 0 {
		c.Routing.TopCandidates = 3
	}
	if c.Routing.PreviewCandidates == 0 {
		c.Routing.PreviewCandidates = 5
	}
	if c.Dispatch.TimeoutSeconds == 0 {
		c.Dispatch.TimeoutSeconds = 10
	}
	if c.Dispatch.Workers == 0 {
		c.Dispatch.Workers = 2
	}
	if c.Dispatch.QueueSize == 0 {
		c.Dispatch.QueueSize = 64
	}
	if c.Alerts.RepeatAfterMinutes == 0 {
		c.Alerts.RepeatAfterMinutes = 60
	}
	if c.Mentions.MatchMode == "" {
		c.Mentions.MatchMode = MatchFirst
	}
}

// DispatchTimeout is the per-call gateway timeout.
func (c *Config) DispatchTimeout() time.Duration {
	return time.Duration(c.Dispatch.TimeoutSeconds) * time.Second
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "missionctl.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	cfg, err := FromYAML([]byte(defaultTemplate))
	if err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return cfg
}

// FromYAML parses and validates config from raw YAML bytes. The document is
// decoded over the default template, so keys it omits (weights, the default
// assignee, alerts.mark, even the whole catalog) keep their default values
// while explicit values win. Lists such as profiles are replaced, not merged.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		return nil, fmt.Errorf("default config yaml: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `routing:
  weights:
    keyword: 2
    affinity: 3
    fit: 4
    master: 1
  default_assignee:
    name: platform builder pro
    triggers: [api, backend, platform]
    bonus: 20
    tag: platform-default
  max_reason_terms: 3
  top_candidates: 3
  preview_candidates: 5
  profiles:
    - id: regional-news
      keywords: [news, trend, x trend, twitter, weather, forecast, election, results, research, portugal]
      affinity_hints: [news, research, scout, analyst, regional, weather]
    - id: ops
      keywords: [api, integration, deploy, vercel, server, database, script, automation, cron, webhook, bug, fix, build]
      affinity_hints: [ops, engineer, developer, dev, backend, automation, executor]
    - id: platform-builder
      keywords: [platform, backend, architecture, api, database, scalable, microservice, service, infra, integration]
      affinity_hints: [platform, backend, architect, architecture, builder, design, product]
    - id: briefing
      keywords: [summary, brief, format, rewrite, polish, digest, telegram copy]
      affinity_hints: [brief, editor, writer, copy, content, synthesizer]

dispatch:
  gateway_url: ""
  timeout_seconds: 10
  workers: 2
  queue_size: 64

alerts:
  repeat_after_minutes: 60
  schedule: ""
  mark: true

mentions:
  match_mode: first
`
