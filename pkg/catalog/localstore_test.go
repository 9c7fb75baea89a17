package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/readyforquantum/quantforge/pkg/core"
)

func newTestLocalStore(t *testing.T) (*LocalStore, string) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.db")
	s, err := NewLocalStore(path)
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}
	return s, path
}

func TestLocalStoreAddGet(t *testing.T) {
	s, _ := newTestLocalStore(t)
	ctx := context.Background()

	key := core.ModelKey("acme/test-model")
	entry := core.NewModelEntry(7_000_000_000, true, false)

	if err := s.Add(ctx, key, entry); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	got, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Parameters != entry.Parameters {
		t.Errorf("Parameters = %d, want %d", got.Parameters, entry.Parameters)
	}

	if err := s.Add(ctx, key, entry); err != core.ErrModelExists {
		t.Errorf("duplicate Add err = %v, want ErrModelExists", err)
	}

	if _, err := s.Get(ctx, core.ModelKey("missing/model")); err != core.ErrModelNotFound {
		t.Errorf("missing Get err = %v, want ErrModelNotFound", err)
	}
}

func TestLocalStoreUpdateAppliesMutation(t *testing.T) {
	s, _ := newTestLocalStore(t)
	ctx := context.Background()

	key := core.ModelKey("acme/test-model")
	entry := core.NewModelEntry(7_000_000_000, true, false)
	if err := s.Add(ctx, key, entry); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	err := s.Update(ctx, key, func(e *core.ModelEntry) error {
		e.Attempts++
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, _ := s.Get(ctx, key)
	if got.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", got.Attempts)
	}

	if err := s.Update(ctx, core.ModelKey("missing/model"), func(*core.ModelEntry) error { return nil }); err != core.ErrModelNotFound {
		t.Errorf("Update on missing key err = %v, want ErrModelNotFound", err)
	}
}

func TestLocalStoreConvertingAndFailedMarkers(t *testing.T) {
	s, _ := newTestLocalStore(t)
	ctx := context.Background()
	key := core.ModelKey("acme/test-model")

	claimed, err := s.MarkConverting(ctx, key)
	if err != nil || !claimed {
		t.Fatalf("first MarkConverting = (%v, %v), want (true, nil)", claimed, err)
	}
	claimed, err = s.MarkConverting(ctx, key)
	if err != nil || claimed {
		t.Fatalf("second MarkConverting = (%v, %v), want (false, nil)", claimed, err)
	}

	is, _ := s.IsConverting(ctx, key)
	if !is {
		t.Error("IsConverting = false, want true")
	}

	if err := s.UnmarkConverting(ctx, key); err != nil {
		t.Fatalf("UnmarkConverting failed: %v", err)
	}
	is, _ = s.IsConverting(ctx, key)
	if is {
		t.Error("IsConverting = true after unmark, want false")
	}

	if err := s.MarkFailed(ctx, key); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}
	is, _ = s.IsFailed(ctx, key)
	if !is {
		t.Error("IsFailed = false, want true")
	}
	if err := s.UnmarkFailed(ctx, key); err != nil {
		t.Fatalf("UnmarkFailed failed: %v", err)
	}
	is, _ = s.IsFailed(ctx, key)
	if is {
		t.Error("IsFailed = true after unmark, want false")
	}
}

func TestLocalStoreQuantProgress(t *testing.T) {
	s, _ := newTestLocalStore(t)
	ctx := context.Background()
	key := core.ModelKey("acme/test-model")

	progress, err := s.GetQuantProgress(ctx, key)
	if err != nil || progress != "" {
		t.Fatalf("GetQuantProgress on unset = (%q, %v), want (\"\", nil)", progress, err)
	}

	if err := s.SetQuantProgress(ctx, key, "Q4_K_M"); err != nil {
		t.Fatalf("SetQuantProgress failed: %v", err)
	}
	progress, _ = s.GetQuantProgress(ctx, key)
	if progress != "Q4_K_M" {
		t.Errorf("GetQuantProgress = %q, want Q4_K_M", progress)
	}

	if err := s.ClearQuantProgress(ctx, key); err != nil {
		t.Fatalf("ClearQuantProgress failed: %v", err)
	}
	progress, _ = s.GetQuantProgress(ctx, key)
	if progress != "" {
		t.Errorf("GetQuantProgress after clear = %q, want empty", progress)
	}
}

func TestLocalStorePersistsAcrossReopen(t *testing.T) {
	s, path := newTestLocalStore(t)
	ctx := context.Background()
	key := core.ModelKey("acme/test-model")

	if err := s.Add(ctx, key, core.NewModelEntry(1_000_000, true, false)); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if _, err := s.MarkConverting(ctx, key); err != nil {
		t.Fatalf("MarkConverting failed: %v", err)
	}
	if err := s.SetQuantProgress(ctx, key, "IQ2_XS"); err != nil {
		t.Fatalf("SetQuantProgress failed: %v", err)
	}

	reopened, err := NewLocalStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}

	if _, err := reopened.Get(ctx, key); err != nil {
		t.Errorf("Get after reopen failed: %v", err)
	}
	if is, _ := reopened.IsConverting(ctx, key); !is {
		t.Error("IsConverting after reopen = false, want true")
	}
	if progress, _ := reopened.GetQuantProgress(ctx, key); progress != "IQ2_XS" {
		t.Errorf("GetQuantProgress after reopen = %q, want IQ2_XS", progress)
	}
}

func TestLocalStoreBackup(t *testing.T) {
	s, dir := newTestLocalStore(t)
	ctx := context.Background()
	key := core.ModelKey("acme/test-model")
	if err := s.Add(ctx, key, core.NewModelEntry(1, true, false)); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	backupPath := filepath.Join(filepath.Dir(dir), "backup.db")
	if err := s.Backup(ctx, backupPath); err != nil {
		t.Fatalf("Backup failed: %v", err)
	}
	if _, err := os.Stat(backupPath); err != nil {
		t.Errorf("backup file missing: %v", err)
	}
}

func TestLocalStoreBackupRestoreRoundTrip(t *testing.T) {
	s, _ := newTestLocalStore(t)
	ctx := context.Background()

	key := core.ModelKey("acme/test-model")
	if err := s.Add(ctx, key, core.NewModelEntry(1, true, false)); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if _, err := s.MarkConverting(ctx, key); err != nil {
		t.Fatalf("MarkConverting failed: %v", err)
	}
	if err := s.MarkFailed(ctx, key); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}
	if err := s.SetQuantProgress(ctx, key, "Q4_K_M"); err != nil {
		t.Fatalf("SetQuantProgress failed: %v", err)
	}

	backupPath := filepath.Join(t.TempDir(), "backup.json")
	if err := s.Backup(ctx, backupPath); err != nil {
		t.Fatalf("Backup failed: %v", err)
	}

	restored, _ := newTestLocalStore(t)
	if err := restored.Restore(ctx, backupPath); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	got, err := restored.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get after restore failed: %v", err)
	}
	if got.Parameters != 1 || !got.HasConfig {
		t.Errorf("restored entry = %+v, want matching original", got)
	}
	if converting, _ := restored.IsConverting(ctx, key); !converting {
		t.Error("IsConverting after restore = false, want true")
	}
	if failed, _ := restored.IsFailed(ctx, key); !failed {
		t.Error("IsFailed after restore = false, want true")
	}
	if progress, _ := restored.GetQuantProgress(ctx, key); progress != "Q4_K_M" {
		t.Errorf("GetQuantProgress after restore = %q, want Q4_K_M", progress)
	}

	secondBackup := filepath.Join(t.TempDir(), "backup2.json")
	if err := restored.Backup(ctx, secondBackup); err != nil {
		t.Fatalf("second Backup failed: %v", err)
	}
	first, err := os.ReadFile(backupPath)
	if err != nil {
		t.Fatalf("reading first backup: %v", err)
	}
	second, err := os.ReadFile(secondBackup)
	if err != nil {
		t.Fatalf("reading second backup: %v", err)
	}
	if string(first) != string(second) {
		t.Errorf("backup -> restore -> backup did not round-trip byte-equal")
	}
}

func TestLocalStoreImportMany(t *testing.T) {
	s, _ := newTestLocalStore(t)
	ctx := context.Background()

	existing := core.ModelKey("acme/already-tracked")
	if err := s.Add(ctx, existing, core.NewModelEntry(1, true, false)); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	result, err := s.ImportMany(ctx, []ImportCandidate{
		{Key: "acme/brand-new", Parameters: 7_000_000_000, HasConfig: true, IsMOE: false},
		{Key: existing, Parameters: 1, HasConfig: true, IsMOE: true},
	})
	if err != nil {
		t.Fatalf("ImportMany failed: %v", err)
	}
	if result.Added != 1 || result.Updated != 1 {
		t.Errorf("ImportMany result = %+v, want Added=1 Updated=1", result)
	}

	newEntry, err := s.Get(ctx, "acme/brand-new")
	if err != nil {
		t.Fatalf("Get new entry failed: %v", err)
	}
	if newEntry.Parameters != 7_000_000_000 {
		t.Errorf("new entry Parameters = %d, want 7000000000", newEntry.Parameters)
	}

	updated, err := s.Get(ctx, existing)
	if err != nil {
		t.Fatalf("Get existing entry failed: %v", err)
	}
	if !updated.IsMOE {
		t.Error("existing entry IsMOE not reconciled to true")
	}

	again, err := s.ImportMany(ctx, []ImportCandidate{
		{Key: existing, Parameters: 1, HasConfig: true, IsMOE: true},
	})
	if err != nil {
		t.Fatalf("second ImportMany failed: %v", err)
	}
	if again.Added != 0 || again.Updated != 0 {
		t.Errorf("no-op ImportMany result = %+v, want zero", again)
	}
}
