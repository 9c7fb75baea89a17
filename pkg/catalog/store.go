// Package catalog implements the durable registry of candidate models: one
// record per "owner/name" key tracking parameter count, conversion state,
// attempt history, and the list of quantizations already produced.
package catalog

import (
	"context"

	"github.com/readyforquantum/quantforge/pkg/core"
)

// Mutator inspects and modifies a cloned ModelEntry in place. It returns an
// error to abort the update without writing anything back.
type Mutator func(entry *core.ModelEntry) error

// ImportCandidate is one record offered to Store.ImportMany: a key plus
// the defaults a freshly discovered model is seeded with.
type ImportCandidate struct {
	Key        core.ModelKey
	Parameters int64
	HasConfig  bool
	IsMOE      bool
}

// ImportResult reports how many ImportMany candidates were newly inserted
// versus reconciled in place against an existing entry.
type ImportResult struct {
	Added   int
	Updated int
}

// backupFile is the JSON wire format Backup/Restore exchange: a flat
// snapshot of every catalog entry plus the in-flight/failed sets and
// quant-progress cursors, portable between backends.
type backupFile struct {
	Entries    map[core.ModelKey]*core.ModelEntry `json:"entries"`
	Converting []core.ModelKey                    `json:"converting"`
	Failed     []core.ModelKey                    `json:"failed"`
	Progress   map[core.ModelKey]string           `json:"progress"`
}

// Store is the thread/process-safe interface every catalog backend
// implements. All methods are safe for concurrent use by multiple
// goroutines, and the Redis-backed implementation is additionally safe
// across separate OS processes racing the same Redis keys.
type Store interface {
	// Get returns a clone of the entry for key, or core.ErrModelNotFound.
	Get(ctx context.Context, key core.ModelKey) (*core.ModelEntry, error)

	// Add inserts a new entry atomically. Returns core.ErrModelExists if
	// key is already present.
	Add(ctx context.Context, key core.ModelKey, entry *core.ModelEntry) error

	// Update loads the current entry, applies mutate to a clone, and
	// writes it back only if the store's copy has not changed since the
	// read (optimistic concurrency). Returns core.ErrPreconditionFailed
	// after exhausting its internal retry budget under sustained
	// contention, and core.ErrModelNotFound if key does not exist.
	Update(ctx context.Context, key core.ModelKey, mutate Mutator) error

	// Delete removes an entry. Returns core.ErrModelNotFound if absent.
	Delete(ctx context.Context, key core.ModelKey) error

	// List returns a snapshot of every entry in the catalog.
	List(ctx context.Context) (map[core.ModelKey]*core.ModelEntry, error)

	// MarkConverting attempts to claim key for exclusive conversion.
	// Returns true if this call won the claim, false if another
	// run (or process) already holds it.
	MarkConverting(ctx context.Context, key core.ModelKey) (bool, error)

	// UnmarkConverting releases a claim taken by MarkConverting.
	UnmarkConverting(ctx context.Context, key core.ModelKey) error

	// IsConverting reports whether key is currently claimed.
	IsConverting(ctx context.Context, key core.ModelKey) (bool, error)

	// MarkFailed records key as interrupted mid-pipeline and resumable.
	MarkFailed(ctx context.Context, key core.ModelKey) error

	// UnmarkFailed clears the resumable-failure marker for key.
	UnmarkFailed(ctx context.Context, key core.ModelKey) error

	// IsFailed reports whether key carries a resumable-failure marker.
	IsFailed(ctx context.Context, key core.ModelKey) (bool, error)

	// SetQuantProgress records key's quant-progress marker: the name of
	// the last quant config whose upload completed, or the "imatrix"
	// sentinel while a config is being produced, so a later run can
	// resume past completed ones.
	SetQuantProgress(ctx context.Context, key core.ModelKey, quantName string) error

	// GetQuantProgress returns the quant config name recorded by
	// SetQuantProgress, or "" if none is set.
	GetQuantProgress(ctx context.Context, key core.ModelKey) (string, error)

	// ClearQuantProgress removes the quant-progress marker for key,
	// called once a model's full quant list has completed.
	ClearQuantProgress(ctx context.Context, key core.ModelKey) error

	// ImportMany inserts every candidate missing from the catalog and
	// reconciles the IsMOE flag of any candidate already present whose
	// stored value disagrees, as one atomic operation against the backing
	// store. Returns how many entries were newly added versus updated.
	ImportMany(ctx context.Context, candidates []ImportCandidate) (ImportResult, error)

	// Backup snapshots every entry, plus the converting/failed/progress
	// sets, to path as the JSON wire format Restore reads back.
	Backup(ctx context.Context, path string) error

	// Restore replaces the entire catalog — entries, converting set,
	// failed set, and quant-progress cursors — with the contents of a
	// file previously written by Backup.
	Restore(ctx context.Context, path string) error

	// Close releases any network connections or file handles held by
	// the store.
	Close() error
}
