// Package diskcache enforces the disk-space budget a conversion needs
// before it starts, and reclaims space from the Hub download cache when
// the budget would otherwise be missed.
package diskcache

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"github.com/readyforquantum/quantforge/pkg/core"
)

// conversionCopies is how many full-size copies of a model's weights the
// pipeline holds on disk at once: the downloaded BF16 checkpoint, the
// working copy the quantizer reads from, and the split upload parts.
const conversionCopies = 3

// Usage reports free/used/total bytes for a filesystem path.
type Usage struct {
	Path  string
	Total uint64
	Used  uint64
	Free  uint64
}

// String renders the usage with human-readable byte counts.
func (u Usage) String() string {
	return fmt.Sprintf("%s: %s free of %s", u.Path, humanize.Bytes(u.Free), humanize.Bytes(u.Total))
}

// Manager enforces DiskConfig against a Hub download cache directory and a
// conversion working directory.
type Manager struct {
	cfg core.DiskConfig
}

// NewManager returns a Manager bound to cfg.
func NewManager(cfg core.DiskConfig) *Manager {
	return &Manager{cfg: cfg}
}

// WorkDir returns the configured conversion scratch directory.
func (m *Manager) WorkDir() string { return m.cfg.WorkDir }

// CacheDir returns the configured Hub download cache directory.
func (m *Manager) CacheDir() string { return m.cfg.CacheDir }

// SafetyFactor returns the configured required-space safety multiplier.
func (m *Manager) SafetyFactor() float64 { return m.cfg.SafetyFactor }

// RequiredSpace returns the bytes needed to convert a model with the given
// parameter count: conversionCopies copies of the BF16 checkpoint, scaled
// by the configured safety factor, floored at the configured minimum.
func RequiredSpace(params int64, bytesPerParam int64, safetyFactor float64, floor int64) (int64, error) {
	if params <= 0 {
		return 0, core.ErrUnknownModelSize
	}
	raw := float64(params) * float64(bytesPerParam) * float64(conversionCopies)
	needed := int64(raw * safetyFactor)
	if needed < floor {
		return floor, nil
	}
	return needed, nil
}

// GetUsage returns current disk usage statistics for path.
func GetUsage(path string) (Usage, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return Usage{}, fmt.Errorf("statfs %s: %w", path, err)
	}
	blockSize := uint64(stat.Bsize)
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return Usage{
		Path:  abs,
		Total: stat.Blocks * blockSize,
		Free:  stat.Bavail * blockSize,
		Used:  (stat.Blocks - stat.Bfree) * blockSize,
	}, nil
}

// CanFit reports whether the configured work directory currently has
// enough free space to hold a model of the given parameter count.
func (m *Manager) CanFit(params int64, bytesPerParam int64) (bool, error) {
	needed, err := RequiredSpace(params, bytesPerParam, m.cfg.SafetyFactor, m.cfg.MinFreeBytes)
	if err != nil {
		return false, err
	}
	usage, err := GetUsage(m.cfg.WorkDir)
	if err != nil {
		return false, err
	}
	fits := usage.Free >= uint64(needed)
	log.Printf("disk space check: need %s, have %s (%v)", humanize.Bytes(uint64(needed)), humanize.Bytes(usage.Free), fits)
	return fits, nil
}

// cacheItem is one top-level entry under the Hub cache directory, sized
// recursively.
type cacheItem struct {
	Name string
	Path string
	Size int64
}

// LargestCacheItems returns the n largest top-level entries in the Hub
// cache directory, descending by size.
func (m *Manager) LargestCacheItems(n int) ([]cacheItem, error) {
	entries, err := os.ReadDir(m.cfg.CacheDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning cache dir %s: %w", m.cfg.CacheDir, err)
	}

	items := make([]cacheItem, 0, len(entries))
	for _, e := range entries {
		full := filepath.Join(m.cfg.CacheDir, e.Name())
		size, err := dirSize(full)
		if err != nil {
			continue
		}
		items = append(items, cacheItem{Name: e.Name(), Path: full, Size: size})
	}

	sort.Slice(items, func(i, j int) bool { return items[i].Size > items[j].Size })
	if n < len(items) {
		items = items[:n]
	}
	return items, nil
}

func dirSize(path string) (int64, error) {
	var total int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}

// EvictLargest removes the n largest items from the Hub cache directory.
// Failures removing an individual item are logged and skipped rather than
// aborting the whole pass, matching best-effort reclamation semantics.
func (m *Manager) EvictLargest(n int) error {
	items, err := m.LargestCacheItems(n)
	if err != nil {
		return err
	}
	for _, item := range items {
		log.Printf("evicting cache item %s (%s)", item.Name, humanize.Bytes(uint64(item.Size)))
		if err := os.RemoveAll(item.Path); err != nil {
			log.Printf("failed to evict %s: %v", item.Path, err)
		}
	}
	return nil
}

// WipeCache removes the entire Hub cache directory, the last-resort tier
// of eviction when targeted and k-largest reclamation were not enough.
func (m *Manager) WipeCache() error {
	log.Printf("wiping entire cache directory %s", m.cfg.CacheDir)
	return os.RemoveAll(m.cfg.CacheDir)
}

// EvictModel removes the cache entries for a single model, used when a
// conversion finishes (success or permanent failure) and its source
// download is no longer needed.
func (m *Manager) EvictModel(key core.ModelKey) error {
	cacheName := "models--" + sanitizeCacheName(string(key))
	path := filepath.Join(m.cfg.CacheDir, cacheName)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	log.Printf("clearing cache entry for %s", key)
	return os.RemoveAll(path)
}

func sanitizeCacheName(modelID string) string {
	out := make([]byte, 0, len(modelID)+2)
	for i := 0; i < len(modelID); i++ {
		if modelID[i] == '/' {
			out = append(out, '-', '-')
		} else {
			out = append(out, modelID[i])
		}
	}
	return string(out)
}

// Reclaim runs the tiered eviction ladder until neededBytes is free or
// every tier has been exhausted: first a targeted eviction of key's own
// cache entry, then the k largest cache items, then a full cache wipe.
// Returns core.ErrCacheExhausted if no tier frees enough space.
func (m *Manager) Reclaim(key core.ModelKey, neededBytes int64, kLargest int) error {
	tiers := []func() error{
		func() error { return m.EvictModel(key) },
		func() error { return m.EvictLargest(kLargest) },
		func() error { return m.WipeCache() },
	}

	for _, tier := range tiers {
		if err := tier(); err != nil {
			log.Printf("reclaim tier failed: %v", err)
		}
		usage, err := GetUsage(m.cfg.WorkDir)
		if err != nil {
			return err
		}
		if usage.Free >= uint64(neededBytes) {
			return nil
		}
	}
	return core.ErrCacheExhausted
}
