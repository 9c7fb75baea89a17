package rules

import "testing"

func TestExtractLayerOrder(t *testing.T) {
	cases := []struct {
		name string
		want int
	}{
		{"blk.27.attn_k_norm.weight", 27},
		{"blk.0.ffn_down.weight", 0},
		{"token_embd.weight", -1},
		{"output_norm.weight", -1},
	}
	for _, tc := range cases {
		if got := ExtractLayerOrder(tc.name); got != tc.want {
			t.Errorf("ExtractLayerOrder(%q) = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestNormalizeLayerOrder(t *testing.T) {
	if got := NormalizeLayerOrder(5, 0); got != 0 {
		t.Errorf("NormalizeLayerOrder with max<=0 = %v, want 0", got)
	}
	if got := NormalizeLayerOrder(10, 10); got != 10 {
		t.Errorf("NormalizeLayerOrder(10,10) = %v, want 10", got)
	}
	if got := NormalizeLayerOrder(5, 10); got != 5 {
		t.Errorf("NormalizeLayerOrder(5,10) = %v, want 5", got)
	}
}

func TestDetermineTierF32NeverBumps(t *testing.T) {
	table := &Table{Rules: []Rule{{BaseType: []string{"Q4_K"}, Bump: 3}}}
	d := DetermineTier("F32", "Q4_K", "blk.0.attn_q.weight", false, 0, table)
	if d.Changed || d.QuantType != "F32" {
		t.Errorf("DetermineTier(F32) = %+v, want unchanged F32", d)
	}
}

func TestDetermineTierBump(t *testing.T) {
	table := &Table{Rules: []Rule{
		{BaseType: []string{"Q4_K"}, LayerName: []string{"blk.*.attn_q.weight"}, Bump: 2},
	}}
	d := DetermineTier("Q4_K", "Q4_K", "blk.5.attn_q.weight", false, 5, table)
	if !d.Changed {
		t.Fatalf("expected a bump to apply")
	}
	wantIdx, _ := levelIndex("Q4_K")
	want := Levels[wantIdx+2]
	if d.QuantType != want {
		t.Errorf("DetermineTier bump = %s, want %s", d.QuantType, want)
	}
}

func TestDetermineTierMoEBumpSubstitution(t *testing.T) {
	table := &Table{Rules: []Rule{
		{BaseType: []string{"Q4_K"}, Bump: 1, BumpExperts: 3},
	}}
	d := DetermineTier("Q4_K", "Q4_K", "blk.0.ffn_gate_exps.weight", true, 0, table)
	base, _ := levelIndex("Q4_K")
	if d.QuantType != Levels[base+3] {
		t.Errorf("MoE bump = %s, want %s", d.QuantType, Levels[base+3])
	}
}

func TestDetermineTierClampsAtLadderEnd(t *testing.T) {
	table := &Table{Rules: []Rule{
		{BaseType: []string{"Q8_0"}, Bump: 100},
	}}
	d := DetermineTier("Q8_0", "Q8_0", "blk.0.attn_q.weight", false, 0, table)
	if d.QuantType != Levels[len(Levels)-1] {
		t.Errorf("clamp = %s, want %s", d.QuantType, Levels[len(Levels)-1])
	}
}

func TestDetermineTierOrderBoundaryBump(t *testing.T) {
	low, high := 1.0, 9.0
	table := &Table{Rules: []Rule{
		{
			BaseType:      []string{"Q4_K"},
			BumpOrderLow:  &low,
			BumpOrderHigh: &high,
			BumpOrderVal:  2,
		},
	}}
	// layerOrder=0 is <= low(1): boundary bump applies
	d := DetermineTier("Q4_K", "Q4_K", "blk.0.attn_q.weight", false, 0, table)
	base, _ := levelIndex("Q4_K")
	if d.QuantType != Levels[base+2] {
		t.Errorf("boundary-low bump = %s, want %s", d.QuantType, Levels[base+2])
	}

	// layerOrder=5 is strictly between low and high: no bump
	d2 := DetermineTier("Q4_K", "Q4_K", "blk.5.attn_q.weight", false, 5, table)
	if d2.Changed {
		t.Errorf("mid-range layer order should not bump, got %+v", d2)
	}
}

func TestApplyPrecisionOverrideTrumpsBump(t *testing.T) {
	table := &Table{Rules: []Rule{
		{BaseType: []string{"Q4_K"}, Bump: 2},
		{OverrideTypes: []string{"bf16"}, LayerName: []string{"blk.*.attn_q.weight"}},
	}}
	d := DetermineTier("Q4_K", "Q4_K", "blk.0.attn_q.weight", false, 0, table)
	d = ApplyPrecisionOverride("blk.0.attn_q.weight", d, table, "bf16", false, 0)
	if d.QuantType != "bf16" {
		t.Errorf("override result = %s, want bf16", d.QuantType)
	}
}

func TestApplyPrecisionOverrideSkipsEmptyLayerName(t *testing.T) {
	table := &Table{Rules: []Rule{
		{OverrideTypes: []string{"bf16"}},
	}}
	d := DetermineTier("Q4_K", "Q4_K", "blk.0.attn_q.weight", false, 0, table)
	got := ApplyPrecisionOverride("blk.0.attn_q.weight", d, table, "bf16", false, 0)
	if got.Changed {
		t.Errorf("override with no layer_name pattern should not apply, got %+v", got)
	}
}

func TestPlanSkipsMXFP4(t *testing.T) {
	tensors := []TensorQuant{
		{Name: "blk.0.ffn_gate.weight", Type: "MXFP4"},
	}
	out := Plan(tensors, &Table{Rules: []Rule{{BaseType: []string{"Q4_K"}, Bump: 5}}}, "Q4_K", false, "")
	if len(out) != 0 {
		t.Errorf("expected mxfp4 tensor skipped, got %+v", out)
	}
}

func TestIsLayerMatchWildcard(t *testing.T) {
	if !isLayerMatch("blk.3.attn_q.weight", "blk.*.attn_q.weight") {
		t.Error("wildcard pattern should match")
	}
	if isLayerMatch("blk.3.attn_k.weight", "blk.*.attn_q.weight") {
		t.Error("wildcard pattern should not match different suffix")
	}
}
