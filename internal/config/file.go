package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML shape an optional config file may carry. The file
// supplements the environment: it is the natural home for the model-alias
// table, which is awkward to express in a single env var, while every
// value also settable by env var keeps the env var as the winner.
type fileConfig struct {
	Models []fileModel `yaml:"models"`

	CouncilAliases   []string `yaml:"council_aliases"`
	SynthesisAlias   string   `yaml:"synthesis_alias"`
	SmartRouterAlias string   `yaml:"smart_router_alias"`

	PheromindTTL string `yaml:"pheromind_ttl"`
}

type fileModel struct {
	Alias         string `yaml:"alias"`
	Provider      string `yaml:"provider"`
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	APIKey        string `yaml:"api_key"`
	ContextSize   int    `yaml:"context_size"`
	DailyCostHint int    `yaml:"daily_cost_hint"`
}

// applyFile overlays cfg with the YAML file at path. ${VAR} references in
// the file are expanded from the environment before parsing, so API keys
// can stay out of the file itself. Values already set from the environment
// are left alone.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &fc); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	if len(c.LLM.Models) == 0 {
		for _, fm := range fc.Models {
			if strings.TrimSpace(fm.Alias) == "" || strings.TrimSpace(fm.Provider) == "" {
				return fmt.Errorf("config: %s: model entries need alias and provider", path)
			}
			if fm.ContextSize <= 0 {
				fm.ContextSize = 8192
			}
			c.LLM.Models = append(c.LLM.Models, ModelDescriptor{
				Alias:         strings.TrimSpace(fm.Alias),
				Provider:      strings.TrimSpace(fm.Provider),
				Host:          strings.TrimSpace(fm.Host),
				Port:          fm.Port,
				APIKey:        fm.APIKey,
				ContextSize:   fm.ContextSize,
				DailyCostHint: fm.DailyCostHint,
			})
		}
	}
	if len(c.LLM.CouncilAliases) == 0 {
		c.LLM.CouncilAliases = fc.CouncilAliases
	}
	if c.LLM.SynthesisAlias == "" {
		c.LLM.SynthesisAlias = fc.SynthesisAlias
	}
	if c.LLM.SmartRouterAlias == "" {
		c.LLM.SmartRouterAlias = fc.SmartRouterAlias
	}
	if fc.PheromindTTL != "" && os.Getenv("PHEROMIND_TTL") == "" {
		if d, err := time.ParseDuration(fc.PheromindTTL); err == nil {
			c.PheromindTTL = d
		}
	}
	return nil
}
