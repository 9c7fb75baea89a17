package pipeline

import (
	"context"
	"io"
	"testing"

	"github.com/readyforquantum/quantforge/pkg/catalog"
	"github.com/readyforquantum/quantforge/pkg/chunker"
	"github.com/readyforquantum/quantforge/pkg/core"
	"github.com/readyforquantum/quantforge/pkg/diskcache"
	"github.com/readyforquantum/quantforge/pkg/hub"
	"github.com/readyforquantum/quantforge/pkg/planner"
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

func newTestOrchestrator(t *testing.T) (*Orchestrator, catalog.Store) {
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
	return &Orchestrator{
		Store:     store,
		Disk:      disk,
		Hub:       client,
		Uploader:  chunker.NewUploader(client, chunker.ChunkLimits{SoftLimitBytes: 1 << 30, SafetyFactor: 0.95, LargeFileThresholdBytes: 1 << 30}),
		Configs:   []planner.QuantConfig{{Name: "Q4_K_M", QuantType: "Q4_K_M"}},
		Pipeline:  core.PipelineConfig{MaxAttempts: 3, BytesPerParam: 2},
	}, store
}

func TestFinalizeSuccessMarksConverted(t *testing.T) {
	o, store := newTestOrchestrator(t)
	ctx := context.Background()
	key := core.ModelKey("acme/test-model")

	if err := store.Add(ctx, key, core.NewModelEntry(7_000_000_000, true, false)); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if _, err := store.MarkConverting(ctx, key); err != nil {
		t.Fatalf("MarkConverting failed: %v", err)
	}

	if err := o.finalize(ctx, key, true); err != nil {
		t.Fatalf("finalize failed: %v", err)
	}

	entry, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !entry.Converted {
		t.Error("expected entry to be marked converted")
	}
	if entry.SuccessDate.IsZero() {
		t.Error("expected SuccessDate to be set")
	}

	converting, err := store.IsConverting(ctx, key)
	if err != nil {
		t.Fatalf("IsConverting failed: %v", err)
	}
	if converting {
		t.Error("expected converting marker to be cleared on success")
	}
}

func TestFinalizeFailureMarksFailedAndUnmarksConverting(t *testing.T) {
	o, store := newTestOrchestrator(t)
	ctx := context.Background()
	key := core.ModelKey("acme/test-model")

	if err := store.Add(ctx, key, core.NewModelEntry(7_000_000_000, true, false)); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if _, err := store.MarkConverting(ctx, key); err != nil {
		t.Fatalf("MarkConverting failed: %v", err)
	}

	if err := o.finalize(ctx, key, false); err != nil {
		t.Fatalf("finalize failed: %v", err)
	}

	failed, err := store.IsFailed(ctx, key)
	if err != nil {
		t.Fatalf("IsFailed failed: %v", err)
	}
	if !failed {
		t.Error("expected entry to be marked failed")
	}

	converting, err := store.IsConverting(ctx, key)
	if err != nil {
		t.Fatalf("IsConverting failed: %v", err)
	}
	if converting {
		t.Error("expected converting marker to be cleared when no quant progress is pending")
	}
}

func TestFinalizeFailureWithQuantProgressLeavesConverting(t *testing.T) {
	o, store := newTestOrchestrator(t)
	ctx := context.Background()
	key := core.ModelKey("acme/test-model")

	if err := store.Add(ctx, key, core.NewModelEntry(7_000_000_000, true, false)); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if _, err := store.MarkConverting(ctx, key); err != nil {
		t.Fatalf("MarkConverting failed: %v", err)
	}
	if err := store.SetQuantProgress(ctx, key, "Q4_K_M"); err != nil {
		t.Fatalf("SetQuantProgress failed: %v", err)
	}

	if err := o.finalize(ctx, key, false); err != nil {
		t.Fatalf("finalize failed: %v", err)
	}

	converting, err := store.IsConverting(ctx, key)
	if err != nil {
		t.Fatalf("IsConverting failed: %v", err)
	}
	if !converting {
		t.Error("expected converting marker to survive while quant progress is pending")
	}
}

func TestQuantizeAllNoConfigsSurvivingFilter(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	o.Configs = nil
	ctx := context.Background()

	err := o.quantizeAll(ctx, core.ModelKey("acme/test-model"), t.TempDir(), "/nonexistent/bf16.gguf", false, "")
	if err != core.ErrNoQuantConfigs {
		t.Errorf("quantizeAll error = %v, want %v", err, core.ErrNoQuantConfigs)
	}
}
