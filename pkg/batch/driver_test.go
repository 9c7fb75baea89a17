package batch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/readyforquantum/quantforge/pkg/catalog"
	"github.com/readyforquantum/quantforge/pkg/chunker"
	"github.com/readyforquantum/quantforge/pkg/core"
	"github.com/readyforquantum/quantforge/pkg/diskcache"
	"github.com/readyforquantum/quantforge/pkg/hub"
	"github.com/readyforquantum/quantforge/pkg/pipeline"
)

type noopHubClient struct{}

func (noopHubClient) RepoInfo(ctx context.Context, key core.ModelKey) (hub.RepoInfo, error) {
	return hub.RepoInfo{}, nil
}
func (noopHubClient) Download(ctx context.Context, key core.ModelKey, filename string, w io.Writer) error {
	return nil
}
func (noopHubClient) UploadFile(ctx context.Context, repoID, localPath string, opts hub.UploadOptions) error {
	return nil
}
func (noopHubClient) CreateRepo(ctx context.Context, repoID string) error { return nil }

func newTestDriver(t *testing.T) (*Driver, catalog.Store) {
	t.Helper()
	store, err := catalog.NewLocalStore(t.TempDir() + "/catalog.db")
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}
	disk := diskcache.NewManager(core.DiskConfig{
		CacheDir:     t.TempDir(),
		WorkDir:      t.TempDir(),
		MinFreeBytes: 0,
		SafetyFactor: 1.1,
	})
	client := noopHubClient{}
	orch := &pipeline.Orchestrator{
		Store:    store,
		Disk:     disk,
		Hub:      client,
		Uploader: chunker.NewUploader(client, chunker.ChunkLimits{SoftLimitBytes: 1 << 30, SafetyFactor: 0.95, LargeFileThresholdBytes: 1 << 30}),
		Pipeline: core.PipelineConfig{MaxAttempts: 1, BytesPerParam: 2, MaxParameters: 70_000_000_000},
	}
	return New(store, orch), store
}

func writeManifest(t *testing.T, data any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "manifest.json")
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal manifest: %v", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func TestLoadManifestAcceptsStringAndObjectEntries(t *testing.T) {
	path := writeManifest(t, map[string]any{
		"models": []any{
			"acme/plain-string",
			map[string]any{"name": "acme/moe-model", "is_moe": true},
		},
	})

	manifest, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest failed: %v", err)
	}
	if len(manifest.Models) != 2 {
		t.Fatalf("len(Models) = %d, want 2", len(manifest.Models))
	}
	if manifest.Models[0].Name != "acme/plain-string" || manifest.Models[0].IsMOE {
		t.Errorf("entry 0 = %+v, want plain string with IsMOE=false", manifest.Models[0])
	}
	if manifest.Models[1].Name != "acme/moe-model" || !manifest.Models[1].IsMOE {
		t.Errorf("entry 1 = %+v, want moe-model with IsMOE=true", manifest.Models[1])
	}
}

func TestLoadManifestRejectsEmptyList(t *testing.T) {
	path := writeManifest(t, map[string]any{"models": []any{}})
	if _, err := LoadManifest(path); !errors.Is(err, core.ErrManifestInvalid) {
		t.Errorf("LoadManifest error = %v, want ErrManifestInvalid", err)
	}
}

func TestEnsureSeededAddsMissingModel(t *testing.T) {
	driver, store := newTestDriver(t)
	ctx := context.Background()
	ref := ModelRef{Name: "acme/new-model", IsMOE: true}

	if err := driver.ensureSeeded(ctx, []ModelRef{ref}); err != nil {
		t.Fatalf("ensureSeeded failed: %v", err)
	}

	entry, err := store.Get(ctx, ref.Name)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !entry.IsMOE {
		t.Error("expected IsMOE to be seeded from manifest")
	}
}

func TestEnsureSeededReconcilesMOEFlag(t *testing.T) {
	driver, store := newTestDriver(t)
	ctx := context.Background()
	key := core.ModelKey("acme/existing")
	if err := store.Add(ctx, key, core.NewModelEntry(7_000_000_000, true, false)); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if err := driver.ensureSeeded(ctx, []ModelRef{{Name: key, IsMOE: true}}); err != nil {
		t.Fatalf("ensureSeeded failed: %v", err)
	}

	entry, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !entry.IsMOE {
		t.Error("expected IsMOE to be reconciled to true")
	}
}
