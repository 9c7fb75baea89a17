package diskcache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/readyforquantum/quantforge/pkg/core"
)

func TestRequiredSpace(t *testing.T) {
	cases := []struct {
		name    string
		params  int64
		wantErr error
	}{
		{"unknown size", 0, core.ErrUnknownModelSize},
		{"negative size", -1, core.ErrUnknownModelSize},
		{"7B model", 7_000_000_000, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := RequiredSpace(tc.params, 2, 1.1, 10<<30)
			if tc.wantErr != nil {
				if err != tc.wantErr {
					t.Fatalf("err = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			want := int64(float64(tc.params) * 2 * 3 * 1.1)
			if got != want {
				t.Errorf("RequiredSpace = %d, want %d", got, want)
			}
		})
	}
}

func TestRequiredSpaceFloor(t *testing.T) {
	got, err := RequiredSpace(1, 2, 1.1, 10<<30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 10<<30 {
		t.Errorf("RequiredSpace = %d, want floor %d", got, int64(10)<<30)
	}
}

func TestLargestCacheItemsSortsDescending(t *testing.T) {
	cacheDir := t.TempDir()
	mustWriteFile(t, filepath.Join(cacheDir, "small", "a.bin"), 10)
	mustWriteFile(t, filepath.Join(cacheDir, "large", "b.bin"), 1000)
	mustWriteFile(t, filepath.Join(cacheDir, "medium", "c.bin"), 100)

	m := NewManager(core.DiskConfig{CacheDir: cacheDir, WorkDir: t.TempDir()})
	items, err := m.LargestCacheItems(2)
	if err != nil {
		t.Fatalf("LargestCacheItems failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len(items) = %d, want 2", len(items))
	}
	if items[0].Name != "large" || items[1].Name != "medium" {
		t.Errorf("items = %+v, want [large, medium]", items)
	}
}

func TestEvictModel(t *testing.T) {
	cacheDir := t.TempDir()
	modelDir := filepath.Join(cacheDir, "models--acme--test-model")
	mustWriteFile(t, filepath.Join(modelDir, "weights.bin"), 10)

	m := NewManager(core.DiskConfig{CacheDir: cacheDir, WorkDir: t.TempDir()})
	if err := m.EvictModel(core.ModelKey("acme/test-model")); err != nil {
		t.Fatalf("EvictModel failed: %v", err)
	}
	if _, err := os.Stat(modelDir); !os.IsNotExist(err) {
		t.Errorf("model cache dir still exists after eviction")
	}
}

func mustWriteFile(t *testing.T, path string, size int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
}
