// Package presets supplies built-in rate-limit defaults for well-known
// (provider, model) pairs, with an optional on-disk YAML overlay consumed
// directly by the facade at construction.
package presets

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ModelLimits are the shaping/budget defaults for one (provider, model)
// pair. Input and output tokens are priced separately, since providers
// charge asymmetrically for prompt versus completion tokens (typically
// cheaper input, pricier output).
type ModelLimits struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	TokensPerMinute   float64 `yaml:"tokens_per_minute"`
	InputCostPer1K    float64 `yaml:"input_cost_per_1k_tokens"`
	OutputCostPer1K   float64 `yaml:"output_cost_per_1k_tokens"`
	DailyBudget       float64 `yaml:"daily_budget"`
}

// key identifies a preset entry.
type key struct {
	Provider string
	Model    string
}

// builtin is the static preset table, grounded on well-known published
// rate limits as of this module's authoring. Operators can override or
// extend it via an overlay file loaded with LoadOverlay.
var builtin = map[key]ModelLimits{ //nolint:gochecknoglobals // static reference table, analogous to a const map
	{"anthropic", "claude-sonnet"}: {RequestsPerMinute: 50, TokensPerMinute: 40000, InputCostPer1K: 0.003, OutputCostPer1K: 0.015, DailyBudget: 50},
	{"anthropic", "claude-opus"}:   {RequestsPerMinute: 50, TokensPerMinute: 20000, InputCostPer1K: 0.015, OutputCostPer1K: 0.075, DailyBudget: 100},
	{"openai", "gpt-5"}:            {RequestsPerMinute: 500, TokensPerMinute: 150000, InputCostPer1K: 0.005, OutputCostPer1K: 0.015, DailyBudget: 100},
	{"openai", "o3"}:               {RequestsPerMinute: 500, TokensPerMinute: 150000, InputCostPer1K: 0.010, OutputCostPer1K: 0.040, DailyBudget: 100},
	{"openai", "o3-mini"}:          {RequestsPerMinute: 1000, TokensPerMinute: 200000, InputCostPer1K: 0.001, OutputCostPer1K: 0.004, DailyBudget: 25},
}

// Table is a mutable collection of presets, seeded from the built-in
// defaults and optionally extended by an overlay file.
type Table struct {
	entries map[key]ModelLimits
}

// NewTable returns a Table seeded with the built-in defaults.
func NewTable() *Table {
	t := &Table{entries: make(map[key]ModelLimits, len(builtin))}
	for k, v := range builtin {
		t.entries[k] = v
	}
	return t
}

// Lookup returns the preset for (provider, model), if known.
func (t *Table) Lookup(provider, model string) (ModelLimits, bool) {
	v, ok := t.entries[key{provider, model}]
	return v, ok
}

// Set inserts or overrides a preset.
func (t *Table) Set(provider, model string, limits ModelLimits) {
	t.entries[key{provider, model}] = limits
}

// overlayFile is the on-disk shape an overlay YAML file is decoded into:
// a flat map of "provider/model" to ModelLimits.
type overlayFile map[string]ModelLimits

// LoadOverlay reads a YAML file of the form:
//
//	openai/gpt-5:
//	  requests_per_minute: 600
//	  tokens_per_minute: 200000
//
// and merges it into t, overriding any built-in entries with the same key.
func (t *Table) LoadOverlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("presets: reading overlay %s: %w", path, err)
	}
	var overlay overlayFile
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("presets: parsing overlay %s: %w", path, err)
	}
	for k, v := range overlay {
		provider, model, err := splitKey(k)
		if err != nil {
			return fmt.Errorf("presets: overlay %s: %w", path, err)
		}
		t.Set(provider, model, v)
	}
	return nil
}

func splitKey(k string) (provider, model string, err error) {
	for i := 0; i < len(k); i++ {
		if k[i] == '/' {
			return k[:i], k[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("preset key %q must be provider/model", k)
}
