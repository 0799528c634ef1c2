package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/slvnlrt/memengine/internal/memory"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestResolve_DefaultsWhenFieldsAbsent(t *testing.T) {
	path := writeConfig(t, `memory_injection: {}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	resolved, warnings, err := cfg.Resolve("agent-a")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("expected no warnings, got %v", warnings)
	}
	if !resolved.Enabled || resolved.MaxTotal != 25 || resolved.SemanticThreshold != 0.85 {
		t.Errorf("expected hardcoded defaults, got %+v", resolved)
	}
}

func TestResolve_PerAgentOverride(t *testing.T) {
	path := writeConfig(t, `
memory_injection:
  max_total: 25
  semantic_threshold: 0.85
agents:
  sales-bot:
    max_total: 10
    ambient_enabled: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	resolved, _, err := cfg.Resolve("Sales-Bot")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.MaxTotal != 10 {
		t.Errorf("expected override max_total=10, got %d", resolved.MaxTotal)
	}
	if !resolved.AmbientEnabled {
		t.Error("expected ambient_enabled overridden to true")
	}
	if resolved.SemanticThreshold != 0.85 {
		t.Errorf("expected inherited semantic_threshold=0.85, got %v", resolved.SemanticThreshold)
	}

	other, _, err := cfg.Resolve("unmapped-agent")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if other.MaxTotal != 25 {
		t.Errorf("expected default max_total=25 for unmapped agent, got %d", other.MaxTotal)
	}
}

func TestResolve_RejectsInvalidSemanticThreshold(t *testing.T) {
	path := writeConfig(t, `
memory_injection:
  semantic_threshold: 1.5
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	_, _, err = cfg.Resolve("default")
	if err == nil {
		t.Fatal("expected ConfigInvalid for out-of-range semantic_threshold")
	}
}

func TestResolve_FiltersUnknownPinnedKinds(t *testing.T) {
	path := writeConfig(t, `
memory_injection:
  pinned_kinds: ["identity", "not-a-real-kind"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	resolved, warnings, err := cfg.Resolve("default")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(warnings) != 1 {
		t.Fatalf("expected 1 warning for dropped kind, got %v", warnings)
	}
	if len(resolved.PinnedKinds) != 1 || resolved.PinnedKinds[0] != memory.KindIdentity {
		t.Fatalf("expected only identity kind to survive, got %+v", resolved.PinnedKinds)
	}
}

func TestResolve_RejectsBadPinnedSort(t *testing.T) {
	path := writeConfig(t, `
memory_injection:
  pinned_sort: "oldest"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	_, _, err = cfg.Resolve("default")
	if err == nil {
		t.Fatal("expected ConfigInvalid for unrecognized pinned_sort")
	}
}

func TestValidate_RejectsInvalidPerAgentOverride(t *testing.T) {
	path := writeConfig(t, `
memory_injection:
  max_total: 25
agents:
  sales-bot:
    semantic_threshold: 5.0
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected Validate to reject an out-of-range per-agent override")
	}
}

func TestValidate_AcceptsWellFormedConfig(t *testing.T) {
	path := writeConfig(t, `
memory_injection:
  max_total: 25
agents:
  sales-bot:
    max_total: 10
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected a well-formed config to validate, got %v", err)
	}
}

func TestSnapshot_StoreAndLoadAreAtomic(t *testing.T) {
	path := writeConfig(t, `memory_injection: {max_total: 25}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	snap := NewSnapshot(cfg)

	newPath := writeConfig(t, `memory_injection: {max_total: 5}`)
	newCfg, err := Load(newPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	snap.Store(newCfg)

	got, _, err := snap.Load().Resolve("default")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.MaxTotal != 5 {
		t.Errorf("expected swapped snapshot to read max_total=5, got %d", got.MaxTotal)
	}
}
