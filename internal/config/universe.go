package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// UniversePlanConfig is the YAML-loadable form of a universe planner
// invocation, following LoadProvidersConfig's load-then-validate pattern.
type UniversePlanConfig struct {
	StartDate  string  `yaml:"start_date"`
	EndDate    string  `yaml:"end_date"`
	T1Months   int     `yaml:"t1_months"`
	T2Months   int     `yaml:"t2_months"`
	T3Months   int     `yaml:"t3_months"`
	DelayDays  int     `yaml:"delay_days"`
	QuoteAsset string  `yaml:"quote_asset"`
	TopK       int     `yaml:"top_k,omitempty"`
	TopRatio   float64 `yaml:"top_ratio,omitempty"`

	MaxConcurrent   int `yaml:"max_concurrent"`
	InterBatchDelay int `yaml:"inter_batch_delay_ms"`
}

// LoadUniversePlanConfig loads and structurally validates a universe plan
// YAML file. Cross-field validation (exactly one of top_k/top_ratio) is
// delegated to universe.Config.Validate after translation, since that
// invariant belongs to the domain type, not the file format.
func LoadUniversePlanConfig(path string) (*UniversePlanConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read universe plan config: %w", err)
	}
	var cfg UniversePlanConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse universe plan config: %w", err)
	}
	if cfg.StartDate == "" || cfg.EndDate == "" {
		return nil, fmt.Errorf("universe plan config: start_date and end_date are required")
	}
	return &cfg, nil
}
