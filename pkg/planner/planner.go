// Package planner decides which quant configs a model should produce:
// filtering the site-wide config list down by the model's own parameter
// count, gating ternary (TQ) configs to the models that support them, and
// substituting a compatible fallback when a chosen config's tensor/embed
// types are known to be unstable for a given architecture.
package planner

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/readyforquantum/quantforge/pkg/core"
)

// BitLevels maps a quant type name to its approximate bits-per-weight,
// used only to rank configs by aggressiveness; unlisted types are assumed
// full precision (16 bit).
var BitLevels = map[string]int{
	"IQ1_S": 1, "IQ1_M": 1,
	"Q2_K": 2, "Q2_K_S": 2, "Q2_K_M": 2, "IQ2_XS": 2, "IQ2_S": 2, "IQ2_M": 2, "IQ2_XXS": 2,
	"Q3_K": 3, "Q3_K_S": 3, "Q3_K_M": 3, "IQ3_XS": 3, "IQ3_S": 3, "IQ3_M": 3, "IQ3_XXS": 3,
	"Q4_K": 4, "Q4_K_S": 4, "Q4_K_M": 4, "IQ4_XS": 4, "IQ4_NL": 4, "Q4_0": 4, "Q4_1": 4,
	"Q5_K": 5, "Q5_K_S": 5, "Q5_K_M": 5, "Q5_0": 5, "Q5_1": 5,
	"Q6_K": 6, "Q8_0": 8, "F16": 16, "BF16": 16,
}

func bitsOf(quantType string) int {
	if b, ok := BitLevels[quantType]; ok {
		return b
	}
	return 16
}

// QuantConfig is one named, buildable quant variant of a model.
type QuantConfig struct {
	// Name is the output artifact label (e.g. "Q4_K_M").
	Name string `json:"name"`

	// QuantType is the llama-quantize type argument.
	QuantType string `json:"type"`

	// TensorType and EmbedType optionally override the output tensor /
	// token embedding precision for this config.
	TensorType string `json:"output_type,omitempty"`
	EmbedType  string `json:"embed_type,omitempty"`

	// UseImatrix marks configs that require an importance matrix.
	UseImatrix bool `json:"use_imatrix,omitempty"`

	// UsePure passes --pure to llama-quantize; the rule engine's
	// --tensor-type overrides are still passed alongside it.
	UsePure bool `json:"use_pure,omitempty"`
}

// configFile is the on-disk shape of a site-wide quant config list.
type configFile struct {
	Configs []QuantConfig `json:"configs"`
}

// LoadConfigs parses the JSON list of site-wide quant configs to build for
// every model, in the order FilterConfigs should apply ladder and TQ
// gating to them.
func LoadConfigs(data []byte) ([]QuantConfig, error) {
	var f configFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidConfigFile, err)
	}
	return f.Configs, nil
}

var modelSizePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(\d+\.?\d*)\s*([bm])b?`),
	regexp.MustCompile(`(?i)-(\d+)([bm])-`),
	regexp.MustCompile(`(?i)_(\d+)([bm])_`),
	regexp.MustCompile(`(?i)(\d+)([bm])\D`),
	regexp.MustCompile(`(?i)(\d+)([bm])$`),
}

// ParametersFromName extracts an approximate parameter count from a model
// name such as "Llama-3-8B-Instruct", trying progressively looser patterns.
// Returns 0, false if no pattern matches.
func ParametersFromName(baseName string) (int64, bool) {
	for _, re := range modelSizePatterns {
		m := re.FindStringSubmatch(baseName)
		if m == nil {
			continue
		}
		size, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		switch strings.ToLower(m[2]) {
		case "b":
			return int64(size * 1e9), true
		case "m":
			return int64(size * 1e6), true
		}
	}
	return 0, false
}

// minBitsFor returns the minimum acceptable bits-per-weight for a model of
// the given parameter count: smaller models tolerate less aggressive
// quantization before quality collapses.
func minBitsFor(parameters int64) int {
	switch {
	case parameters < 3_000_000_000:
		return 3
	case parameters < 10_000_000_000:
		return 2
	default:
		return 1
	}
}

// FilterConfigs narrows configs down to the ones appropriate for a model
// of the given parameter count, dropping:
//   - configs more aggressive than the size-derived minimum bit floor
//   - TQ-prefixed (ternary) configs, unless isTriLM is true
//
// If parameters is unknown (0), every config is kept.
func FilterConfigs(configs []QuantConfig, parameters int64, isTriLM bool) []QuantConfig {
	if parameters <= 0 {
		return configs
	}
	minBits := minBitsFor(parameters)

	filtered := make([]QuantConfig, 0, len(configs))
	for _, c := range configs {
		bits := bitsOf(c.QuantType)
		if bits < minBits {
			continue
		}
		if strings.HasPrefix(c.QuantType, "TQ") && !isTriLM {
			continue
		}
		filtered = append(filtered, c)
	}
	return filtered
}

// needsCompatibilityCheck reports whether a config's tensor/embed type
// overrides are in the Q5_K/Q6_K family known to be unstable for some
// architectures without a pure-precision fallback.
func needsCompatibilityCheck(tensorType, embedType string) bool {
	unstable := func(t string) bool { return t == "Q5_K" || t == "Q6_K" }
	return unstable(tensorType) || unstable(embedType)
}

// CompatibilityFallback returns a copy of config with any Q5_K/Q6_K
// tensor/embed type overrides replaced by Q5_1, the fallback the
// quantizer retries with after a Q5_K/Q6_K attempt fails. Returns the
// config unchanged, ok=false if no fallback was needed.
func CompatibilityFallback(config QuantConfig) (QuantConfig, bool) {
	if !needsCompatibilityCheck(config.TensorType, config.EmbedType) {
		return config, false
	}
	fallback := config
	if fallback.TensorType == "Q5_K" || fallback.TensorType == "Q6_K" {
		fallback.TensorType = "Q5_1"
	}
	if fallback.EmbedType == "Q5_K" || fallback.EmbedType == "Q6_K" {
		fallback.EmbedType = "Q5_1"
	}
	return fallback, true
}
