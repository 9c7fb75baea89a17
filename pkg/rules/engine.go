// Package rules implements the per-tensor precision-bump engine: given a
// tensor's current type, its target quant config, and a JSON rule table, it
// decides whether that tensor should be quantized at a higher precision
// than the rest of the model.
package rules

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/readyforquantum/quantforge/pkg/core"
)

// Levels is the quantization ladder ordered from lowest to highest
// precision. Index position is what "bump" arithmetic moves along.
var Levels = []string{
	"IQ1_S", "IQ1_M",
	"IQ2_XXS", "IQ2_XS", "IQ2_S",
	"Q2_K",
	"IQ3_XXS", "IQ3_S",
	"Q3_K",
	"IQ4_XS", "IQ4_NL",
	"Q4_K",
	"Q5_K",
	"Q6_K",
	"Q8_0",
}

// Substitutions maps family-variant quant type names (e.g. the "_S"/"_M"
// llama.cpp aliases) onto the canonical ladder entry they bump from.
var Substitutions = map[string]string{
	"IQ2_M":  "IQ2_S",
	"IQ3_M":  "IQ3_S",
	"IQ3_XS": "IQ3_XXS",
	"Q2_K_S": "Q2_K",
	"Q3_K_S": "Q3_K",
	"Q4_K_S": "Q4_K",
	"Q5_K_S": "Q5_K",
	"Q6_K_S": "Q6_K",
	"Q2_K_M": "Q2_K",
	"Q3_K_M": "Q3_K",
	"Q4_K_M": "Q4_K",
	"Q5_K_M": "Q5_K",
	"Q6_K_M": "Q6_K",
}

func levelIndex(quantType string) (int, bool) {
	canonical := quantType
	if sub, ok := Substitutions[quantType]; ok {
		canonical = sub
	}
	for i, l := range Levels {
		if l == canonical {
			return i, true
		}
	}
	return 0, false
}

var layerOrderPattern = regexp.MustCompile(`blk\.(\d+)\.`)

// ExtractLayerOrder pulls the transformer block index out of a tensor name
// such as "blk.27.attn_k_norm.weight", returning -1 if the name carries no
// block index (embeddings, output head, etc).
func ExtractLayerOrder(tensorName string) int {
	m := layerOrderPattern.FindStringSubmatch(tensorName)
	if m == nil {
		return -1
	}
	var n int
	fmt.Sscanf(m[1], "%d", &n)
	return n
}

// NormalizeLayerOrder rescales a raw block index to the [0, 10] range used
// by order-based bump rules, so rule tables don't need to know a given
// model's depth.
func NormalizeLayerOrder(layerOrder, maxLayerOrder int) float64 {
	if maxLayerOrder <= 0 {
		return 0
	}
	v := 10 * (float64(layerOrder) / float64(maxLayerOrder))
	return math.Min(v, 10)
}

// Rule is one entry of a rule table: it applies when the target quant type
// (after substitution) is in BaseType and the tensor's name matches
// LayerName (if given), bumping the tensor up the ladder by
// Bump levels, with an optional additional bump for MoE models and/or
// tensors at the start/end of the layer-order range.
type Rule struct {
	BaseType  []string `json:"base_type"`
	LayerName []string `json:"layer_name,omitempty"`

	Bump        int `json:"bump,omitempty"`
	BumpExperts int `json:"bump_experts,omitempty"`

	BumpOrderLow        *float64 `json:"bump_order_low,omitempty"`
	BumpOrderHigh       *float64 `json:"bump_order_high,omitempty"`
	BumpOrderVal        int      `json:"bump_order_val,omitempty"`
	BumpOrderExpertsVal int      `json:"bump_order_experts_val,omitempty"`

	// OverrideTypes, when non-empty, makes this rule a precision-override
	// rule instead of a bump rule: it trumps any ladder bump when a
	// matching PrecisionOverride mode is active.
	OverrideTypes []string `json:"override_types,omitempty"`
	Experts       *bool    `json:"experts,omitempty"`
	OrderLow      *float64 `json:"order_low,omitempty"`
	OrderHigh     *float64 `json:"order_high,omitempty"`
}

// Table is a named collection of rules loaded from JSON.
type Table struct {
	Rules []Rule `json:"rules"`
}

// LoadTable parses a JSON rule table.
func LoadTable(data []byte) (*Table, error) {
	var t Table
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidRuleTable, err)
	}
	return &t, nil
}

func matchesAny(name string, patterns []string) bool {
	for _, p := range patterns {
		if isLayerMatch(name, p) {
			return true
		}
	}
	return false
}

func isLayerMatch(layerName, pattern string) bool {
	if !strings.Contains(pattern, "*") {
		return pattern == layerName
	}
	full := "^" + strings.ReplaceAll(regexp.QuoteMeta(pattern), `\*`, ".*") + "$"
	matched, _ := regexp.MatchString(full, layerName)
	return matched
}

func containsString(list []string, target string) bool {
	for _, v := range list {
		if v == target {
			return true
		}
	}
	return false
}

// Decision is the outcome of evaluating a tensor against a Table.
type Decision struct {
	QuantType string
	Reason    string
	Changed   bool
}

// DetermineTier decides the quantization type for one tensor given its
// current on-disk type (baseQuant), the model's overall target quant type,
// and the rule table. baseQuant == "F32" is never bumped: full-precision
// tensors keep their precision regardless of any rule.
func DetermineTier(baseQuant, targetType, layerName string, isMOE bool, layerOrder float64, table *Table) Decision {
	if baseQuant == "F32" {
		return Decision{QuantType: baseQuant, Reason: "keeping original F32 precision", Changed: false}
	}

	targetIdx, ok := levelIndex(targetType)
	if !ok {
		targetIdx, _ = levelIndex("Q4_K")
	}

	noRule := Decision{QuantType: targetType, Reason: "no specific rule applied, using target type", Changed: false}
	if table == nil || len(table.Rules) == 0 {
		return noRule
	}

	totalBump := 0
	var reasonParts []string

	for _, rule := range table.Rules {
		if !containsString(rule.BaseType, targetType) {
			continue
		}
		if len(rule.LayerName) > 0 && !matchesAny(layerName, rule.LayerName) {
			continue
		}

		base := rule.Bump
		if isMOE && rule.BumpExperts != 0 {
			base = rule.BumpExperts
		}
		totalBump += base

		if rule.BumpOrderLow != nil || rule.BumpOrderHigh != nil {
			low := math.Inf(-1)
			if rule.BumpOrderLow != nil {
				low = *rule.BumpOrderLow
			}
			high := math.Inf(1)
			if rule.BumpOrderHigh != nil {
				high = *rule.BumpOrderHigh
			}
			if layerOrder <= low || layerOrder >= high {
				orderBump := rule.BumpOrderVal
				if isMOE && rule.BumpOrderExpertsVal != 0 {
					orderBump = rule.BumpOrderExpertsVal
				}
				totalBump += orderBump
				reasonParts = append(reasonParts, fmt.Sprintf("layer order bump: %d", orderBump))
			}
		}
	}

	if totalBump == 0 {
		return noRule
	}

	newIdx := targetIdx + totalBump
	if newIdx > len(Levels)-1 {
		newIdx = len(Levels) - 1
	}
	if newIdx < 0 {
		newIdx = 0
	}

	reason := fmt.Sprintf("bumped from %s by %d levels for %s", targetType, totalBump, layerName)
	if len(reasonParts) > 0 {
		reason += " (" + strings.Join(reasonParts, ", ") + ")"
	}
	return Decision{QuantType: Levels[newIdx], Reason: reason, Changed: true}
}

// ApplyPrecisionOverride checks the table for an override_types rule whose
// mode matches precisionOverride and whose layer_name/experts/order gates
// all pass; if found, it replaces decision with the override type. An
// override, when it matches, always trumps a ladder bump.
func ApplyPrecisionOverride(tensorName string, decision Decision, table *Table, precisionOverride string, isMOE bool, layerOrder int) Decision {
	if precisionOverride == "" || table == nil {
		return decision
	}

	for _, rule := range table.Rules {
		if !containsString(rule.OverrideTypes, precisionOverride) {
			continue
		}
		if !matchesAny(tensorName, rule.LayerName) {
			continue
		}
		if rule.Experts != nil && *rule.Experts != isMOE {
			continue
		}
		if rule.OrderLow != nil && rule.OrderHigh != nil {
			lo := float64(layerOrder)
			if lo < *rule.OrderLow || lo > *rule.OrderHigh {
				continue
			}
		}
		return Decision{
			QuantType: precisionOverride,
			Reason:    fmt.Sprintf("override: %s for %s by rule", precisionOverride, tensorName),
			Changed:   true,
		}
	}
	return decision
}

// TensorQuant is one tensor's observed current quantization type, as
// reported by a GGUF metadata scan.
type TensorQuant struct {
	Name string
	Type string
}

// Suggestion is one tensor whose quantization the rule table changed away
// from the model-wide target type.
type Suggestion struct {
	Name      string
	QuantType string
	Reason    string
}

// Plan evaluates every tensor in tensors against table and returns the
// tensors whose suggested type differs from targetType, ready to become
// "--tensor-type NAME=QUANT" quantizer arguments. Tensors whose current
// type contains "mxfp4" are left untouched: that format is not part of the
// bump ladder.
func Plan(tensors []TensorQuant, table *Table, targetType string, isMOE bool, precisionOverride string) []Suggestion {
	maxLayerOrder := -1
	for _, t := range tensors {
		if lo := ExtractLayerOrder(t.Name); lo > maxLayerOrder {
			maxLayerOrder = lo
		}
	}

	normalizedTarget := targetType
	if sub, ok := Substitutions[targetType]; ok {
		normalizedTarget = sub
	}

	var out []Suggestion
	for _, t := range tensors {
		if strings.Contains(strings.ToLower(t.Type), "mxfp4") {
			continue
		}
		layerOrder := ExtractLayerOrder(t.Name)
		normalizedOrder := NormalizeLayerOrder(layerOrder, maxLayerOrder)

		decision := DetermineTier(t.Type, normalizedTarget, t.Name, isMOE, normalizedOrder, table)
		decision = ApplyPrecisionOverride(t.Name, decision, table, precisionOverride, isMOE, layerOrder)

		if decision.Changed {
			out = append(out, Suggestion{Name: t.Name, QuantType: decision.QuantType, Reason: decision.Reason})
		}
	}

	return out
}

// TensorTypeArgs renders suggestions as the quantizer's repeated
// "--tensor-type NAME=QUANT" flag pairs, sorted by layer order to match
// the source tool's deterministic output.
func TensorTypeArgs(suggestions []Suggestion) []string {
	sorted := make([]Suggestion, len(suggestions))
	copy(sorted, suggestions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return ExtractLayerOrder(sorted[i].Name) < ExtractLayerOrder(sorted[j].Name)
	})
	args := make([]string, 0, len(sorted)*2)
	for _, s := range sorted {
		args = append(args, "--tensor-type", fmt.Sprintf("%s=%s", s.Name, s.QuantType))
	}
	return args
}
