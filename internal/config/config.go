// Package config resolves the memory injection configuration surface: a
// global default plus per-agent overrides, loaded from YAML, validated, and
// exposed as an atomically-swappable snapshot so a hot reload never races a
// turn in flight.
package config

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/slvnlrt/memengine/internal/memory"
)

// ErrConfigInvalid marks a field outside its admissible range, detected at
// snapshot resolution. A reload that fails validation is rejected outright;
// the previous valid snapshot stays in effect.
var ErrConfigInvalid = errors.New("config: invalid")

// InjectionConfig is the memory_injection schema (spec.md §6). Per-agent
// overrides use the same shape; a zero value for a field means "inherit
// from default" during resolution, so pointer fields carry that distinction
// on the wire while ResolvedConfig carries only concrete values.
type InjectionConfig struct {
	Enabled                    *bool     `yaml:"enabled"`
	SearchLimit                *int      `yaml:"search_limit"`
	ContextualMinScore         *float64  `yaml:"contextual_min_score"`
	SemanticThreshold          *float64  `yaml:"semantic_threshold"`
	ContextWindowDepth         *int      `yaml:"context_window_depth"`
	AmbientEnabled             *bool     `yaml:"ambient_enabled"`
	PinnedKinds                *[]string `yaml:"pinned_kinds"`
	PinnedLimit                *int      `yaml:"pinned_limit"`
	PinnedSort                 *string   `yaml:"pinned_sort"`
	MaxTotal                   *int      `yaml:"max_total"`
	MaxInjectedBlocksInHistory *int      `yaml:"max_injected_blocks_in_history"`
}

// ResolvedConfig is InjectionConfig with every field concrete, produced by
// merging a per-agent override over the global default and validating the
// result. This is what the engine actually reads.
type ResolvedConfig struct {
	Enabled                    bool
	SearchLimit                int
	ContextualMinScore         float64
	SemanticThreshold          float64
	ContextWindowDepth         int
	AmbientEnabled             bool
	PinnedKinds                []memory.Kind
	PinnedLimit                int
	PinnedSort                 memory.SortMode
	MaxTotal                   int
	MaxInjectedBlocksInHistory int
}

// Config is the on-disk document: a global default plus a map of per-agent
// overrides keyed by normalized agent id.
type Config struct {
	Default  InjectionConfig            `yaml:"memory_injection"`
	PerAgent map[string]InjectionConfig `yaml:"agents"`
}

// Load reads and parses a config file. It does not validate — validation
// happens per-agent at resolution time, since an override might fix a
// field the default leaves invalid, or vice versa.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parse yaml: %v", ErrConfigInvalid, err)
	}
	return &cfg, nil
}

func defaultInjectionConfig() ResolvedConfig {
	return ResolvedConfig{
		Enabled:                    true,
		SearchLimit:                20,
		ContextualMinScore:         0.01,
		SemanticThreshold:          0.85,
		ContextWindowDepth:         10,
		AmbientEnabled:             false,
		PinnedKinds:                nil,
		PinnedLimit:                3,
		PinnedSort:                 memory.SortRecent,
		MaxTotal:                   25,
		MaxInjectedBlocksInHistory: 3,
	}
}

// Resolve merges agentID's override (if any) over the global default,
// falling back to the engine's hardcoded defaults for fields absent from
// both, and validates the merged result. Unknown pinned_kinds entries are
// dropped, each producing a warning the caller should trace.
func (c *Config) Resolve(agentID string) (ResolvedConfig, []string, error) {
	base := defaultInjectionConfig()
	applyOverride(&base, c.Default)
	if override, ok := c.PerAgent[NormalizeAgentID(agentID)]; ok {
		applyOverride(&base, override)
	}

	var warnings []string
	if base.PinnedKinds != nil {
		filtered := base.PinnedKinds[:0]
		for _, k := range base.PinnedKinds {
			if memory.ValidKind(k) {
				filtered = append(filtered, k)
			} else {
				warnings = append(warnings, fmt.Sprintf("pinned_kinds: dropping unknown kind %q", k))
			}
		}
		base.PinnedKinds = filtered
	}

	if err := validate(base); err != nil {
		return ResolvedConfig{}, warnings, err
	}
	return base, warnings, nil
}

func applyOverride(base *ResolvedConfig, o InjectionConfig) {
	if o.Enabled != nil {
		base.Enabled = *o.Enabled
	}
	if o.SearchLimit != nil {
		base.SearchLimit = *o.SearchLimit
	}
	if o.ContextualMinScore != nil {
		base.ContextualMinScore = *o.ContextualMinScore
	}
	if o.SemanticThreshold != nil {
		base.SemanticThreshold = *o.SemanticThreshold
	}
	if o.ContextWindowDepth != nil {
		base.ContextWindowDepth = *o.ContextWindowDepth
	}
	if o.AmbientEnabled != nil {
		base.AmbientEnabled = *o.AmbientEnabled
	}
	if o.PinnedKinds != nil {
		kinds := make([]memory.Kind, len(*o.PinnedKinds))
		for i, k := range *o.PinnedKinds {
			kinds[i] = memory.Kind(k)
		}
		base.PinnedKinds = kinds
	}
	if o.PinnedLimit != nil {
		base.PinnedLimit = *o.PinnedLimit
	}
	if o.PinnedSort != nil {
		base.PinnedSort = memory.SortMode(*o.PinnedSort)
	}
	if o.MaxTotal != nil {
		base.MaxTotal = *o.MaxTotal
	}
	if o.MaxInjectedBlocksInHistory != nil {
		base.MaxInjectedBlocksInHistory = *o.MaxInjectedBlocksInHistory
	}
}

func validate(c ResolvedConfig) error {
	if c.SemanticThreshold < 0 || c.SemanticThreshold > 1 {
		return fmt.Errorf("%w: semantic_threshold %v outside [0,1]", ErrConfigInvalid, c.SemanticThreshold)
	}
	if c.ContextualMinScore < 0 {
		return fmt.Errorf("%w: contextual_min_score %v is negative", ErrConfigInvalid, c.ContextualMinScore)
	}
	if c.SearchLimit <= 0 {
		return fmt.Errorf("%w: search_limit must be positive, got %d", ErrConfigInvalid, c.SearchLimit)
	}
	if c.MaxTotal <= 0 {
		return fmt.Errorf("%w: max_total must be positive, got %d", ErrConfigInvalid, c.MaxTotal)
	}
	if c.PinnedLimit < 0 {
		return fmt.Errorf("%w: pinned_limit cannot be negative, got %d", ErrConfigInvalid, c.PinnedLimit)
	}
	if c.MaxInjectedBlocksInHistory < 0 {
		return fmt.Errorf("%w: max_injected_blocks_in_history cannot be negative, got %d", ErrConfigInvalid, c.MaxInjectedBlocksInHistory)
	}
	if c.PinnedSort != memory.SortRecent && c.PinnedSort != memory.SortImportance {
		return fmt.Errorf("%w: pinned_sort must be \"recent\" or \"importance\", got %q", ErrConfigInvalid, c.PinnedSort)
	}
	if c.ContextWindowDepth < 0 {
		return fmt.Errorf("%w: context_window_depth cannot be negative, got %d", ErrConfigInvalid, c.ContextWindowDepth)
	}
	return nil
}

// Validate resolves the default config and every per-agent override,
// returning the first ErrConfigInvalid encountered. A reload must pass this
// before it is allowed to reach a Snapshot — see Snapshot.Store.
func (c *Config) Validate() error {
	if _, _, err := c.Resolve(""); err != nil {
		return fmt.Errorf("default config: %w", err)
	}
	for agentID := range c.PerAgent {
		if _, _, err := c.Resolve(agentID); err != nil {
			return fmt.Errorf("agent %q override: %w", agentID, err)
		}
	}
	return nil
}

// Snapshot is the atomically-swappable holder every component reads
// through. A hot reload calls Store; readers call Load and never observe a
// torn or partially-applied config.
type Snapshot struct {
	ptr atomic.Pointer[Config]
}

// NewSnapshot wraps an initial config.
func NewSnapshot(cfg *Config) *Snapshot {
	s := &Snapshot{}
	s.ptr.Store(cfg)
	return s
}

// Load returns the current config document.
func (s *Snapshot) Load() *Config { return s.ptr.Load() }

// Store atomically replaces the config document. Callers must validate
// (via Resolve) before calling Store, per the ConfigInvalid propagation
// policy: an invalid reload never reaches the snapshot.
func (s *Snapshot) Store(cfg *Config) { s.ptr.Store(cfg) }
