package core

import (
	"testing"
	"time"
)

func TestModelKeyOwnerAndBaseName(t *testing.T) {
	tests := []struct {
		key       ModelKey
		wantOwner string
		wantBase  string
	}{
		{"mistralai/Mistral-7B-v0.1", "mistralai", "Mistral-7B-v0.1"},
		{"TheBloke/Llama-2-7B-GGUF", "TheBloke", "Llama-2-7B-GGUF"},
		{"owner/nested/path", "owner", "nested/path"},
		{"no-slash", "no-slash", "no-slash"},
	}

	for _, tt := range tests {
		if got := tt.key.Owner(); got != tt.wantOwner {
			t.Errorf("%q.Owner() = %q, want %q", tt.key, got, tt.wantOwner)
		}
		if got := tt.key.BaseName(); got != tt.wantBase {
			t.Errorf("%q.BaseName() = %q, want %q", tt.key, got, tt.wantBase)
		}
	}
}

func TestNewModelEntryDefaults(t *testing.T) {
	before := time.Now().UTC()
	e := NewModelEntry(7_000_000_000, true, false)
	after := time.Now().UTC()

	if e.Parameters != 7_000_000_000 {
		t.Errorf("Parameters = %d", e.Parameters)
	}
	if !e.HasConfig || e.IsMOE {
		t.Errorf("HasConfig/IsMOE = %v/%v", e.HasConfig, e.IsMOE)
	}
	if e.Added.Before(before) || e.Added.After(after) {
		t.Errorf("Added = %v, want between %v and %v", e.Added, before, after)
	}
	if e.ErrorLog == nil || e.Quantizations == nil {
		t.Error("ErrorLog/Quantizations should be initialized, not nil")
	}
}

func TestModelEntryCloneIsIndependent(t *testing.T) {
	e := NewModelEntry(1, true, true)
	e.ErrorLog = append(e.ErrorLog, "first failure")
	e.Quantizations = append(e.Quantizations, "Q4_K_M")

	clone := e.Clone()
	clone.ErrorLog[0] = "mutated"
	clone.Quantizations = append(clone.Quantizations, "Q8_0")

	if e.ErrorLog[0] != "first failure" {
		t.Error("mutating clone's ErrorLog affected the original")
	}
	if len(e.Quantizations) != 1 {
		t.Error("appending to clone's Quantizations affected the original")
	}
}

func TestModelEntryEligible(t *testing.T) {
	const maxAttempts = 3
	const maxParameters = int64(10_000_000_000)

	tests := []struct {
		name  string
		entry *ModelEntry
		want  bool
	}{
		{
			name:  "eligible",
			entry: &ModelEntry{HasConfig: true, Parameters: 5_000_000_000, Attempts: 0},
			want:  true,
		},
		{
			name:  "already converted",
			entry: &ModelEntry{HasConfig: true, Parameters: 1, Converted: true},
			want:  false,
		},
		{
			name:  "attempts at ceiling",
			entry: &ModelEntry{HasConfig: true, Parameters: 1, Attempts: maxAttempts},
			want:  false,
		},
		{
			name:  "parameters over ceiling",
			entry: &ModelEntry{HasConfig: true, Parameters: maxParameters + 1},
			want:  false,
		},
		{
			name:  "parameters unknown",
			entry: &ModelEntry{HasConfig: true, Parameters: -1},
			want:  false,
		},
		{
			name:  "missing config",
			entry: &ModelEntry{HasConfig: false, Parameters: 1},
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.entry.Eligible(maxAttempts, maxParameters); got != tt.want {
				t.Errorf("Eligible() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestModelEntryStalenessKey(t *testing.T) {
	added := time.Now().UTC().Add(-24 * time.Hour)
	lastAttempt := time.Now().UTC().Add(-1 * time.Hour)

	never := &ModelEntry{Added: added}
	if got := never.StalenessKey(); !got.Equal(added) {
		t.Errorf("StalenessKey() with no attempt = %v, want %v", got, added)
	}

	attempted := &ModelEntry{Added: added, LastAttempt: lastAttempt}
	if got := attempted.StalenessKey(); !got.Equal(lastAttempt) {
		t.Errorf("StalenessKey() with attempt = %v, want %v", got, lastAttempt)
	}
}
