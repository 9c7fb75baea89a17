package planner

import (
	"errors"
	"testing"

	"github.com/readyforquantum/quantforge/pkg/core"
)

func TestParametersFromName(t *testing.T) {
	cases := []struct {
		name string
		want int64
		ok   bool
	}{
		{"Llama-3-8B-Instruct", 8_000_000_000, true},
		{"Qwen2.5-0.5B", 500_000_000, true},
		{"phi-2", 0, false},
		{"gemma-2-27b-it", 27_000_000_000, true},
	}
	for _, tc := range cases {
		got, ok := ParametersFromName(tc.name)
		if ok != tc.ok {
			t.Errorf("ParametersFromName(%q) ok = %v, want %v", tc.name, ok, tc.ok)
			continue
		}
		if ok && got != tc.want {
			t.Errorf("ParametersFromName(%q) = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestFilterConfigsBySize(t *testing.T) {
	configs := []QuantConfig{
		{Name: "IQ1_S", QuantType: "IQ1_S"},
		{Name: "Q2_K", QuantType: "Q2_K"},
		{Name: "Q4_K_M", QuantType: "Q4_K_M"},
		{Name: "Q8_0", QuantType: "Q8_0"},
	}

	small := FilterConfigs(configs, 1_000_000_000, false)
	for _, c := range small {
		if bitsOf(c.QuantType) < 3 {
			t.Errorf("small model kept too-aggressive config %s", c.Name)
		}
	}

	large := FilterConfigs(configs, 70_000_000_000, false)
	if len(large) != len(configs) {
		t.Errorf("large model should keep all configs, got %d of %d", len(large), len(configs))
	}
}

func TestFilterConfigsGatesTernary(t *testing.T) {
	configs := []QuantConfig{
		{Name: "TQ1_0", QuantType: "TQ1_0"},
		{Name: "Q4_K_M", QuantType: "Q4_K_M"},
	}

	notTriLM := FilterConfigs(configs, 1_000_000_000, false)
	for _, c := range notTriLM {
		if c.Name == "TQ1_0" {
			t.Error("TQ config should be gated out for non-TriLM models")
		}
	}

	triLM := FilterConfigs(configs, 1_000_000_000, true)
	found := false
	for _, c := range triLM {
		if c.Name == "TQ1_0" {
			found = true
		}
	}
	if !found {
		t.Error("TQ config should survive filtering for TriLM models")
	}
}

func TestFilterConfigsUnknownSizeKeepsAll(t *testing.T) {
	configs := []QuantConfig{{Name: "Q4_K_M", QuantType: "Q4_K_M"}}
	got := FilterConfigs(configs, 0, false)
	if len(got) != 1 {
		t.Errorf("unknown size should keep all configs, got %d", len(got))
	}
}

func TestCompatibilityFallback(t *testing.T) {
	cfg := QuantConfig{Name: "Q5_K_M", QuantType: "Q5_K_M", TensorType: "Q6_K", EmbedType: "Q5_K"}
	fallback, changed := CompatibilityFallback(cfg)
	if !changed {
		t.Fatal("expected fallback to apply")
	}
	if fallback.TensorType != "Q5_1" || fallback.EmbedType != "Q5_1" {
		t.Errorf("fallback = %+v, want both types Q5_1", fallback)
	}

	stable := QuantConfig{Name: "Q4_K_M", QuantType: "Q4_K_M", TensorType: "Q4_K", EmbedType: "Q4_K"}
	_, changed = CompatibilityFallback(stable)
	if changed {
		t.Error("stable config should not need a fallback")
	}
}

func TestLoadConfigsParsesList(t *testing.T) {
	data := []byte(`{"configs": [{"name": "Q4_K_M", "type": "Q4_K_M", "use_imatrix": true}]}`)
	configs, err := LoadConfigs(data)
	if err != nil {
		t.Fatalf("LoadConfigs failed: %v", err)
	}
	if len(configs) != 1 || configs[0].Name != "Q4_K_M" || !configs[0].UseImatrix {
		t.Errorf("configs = %+v, want one Q4_K_M config with UseImatrix=true", configs)
	}
}

func TestLoadConfigsRejectsMalformed(t *testing.T) {
	if _, err := LoadConfigs([]byte("not json")); !errors.Is(err, core.ErrInvalidConfigFile) {
		t.Errorf("LoadConfigs error = %v, want ErrInvalidConfigFile", err)
	}
}
