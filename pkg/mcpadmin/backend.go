package mcpadmin

import (
	"context"
	"fmt"
	"log"

	"github.com/readyforquantum/quantforge/pkg/catalog"
	"github.com/readyforquantum/quantforge/pkg/core"
	"github.com/readyforquantum/quantforge/pkg/pipeline"
	"github.com/readyforquantum/quantforge/pkg/scheduler"
)

// CatalogBackend implements Backend over a live catalog, scheduler, and
// orchestrator, the administrative counterpart to the scheduler's own
// catalog-wide sweep: enqueue runs the same Orchestrator.Convert call path,
// just triggered on demand instead of by staleness order.
type CatalogBackend struct {
	Store        catalog.Store
	Scheduler    *scheduler.Scheduler
	Orchestrator *pipeline.Orchestrator
}

// NewCatalogBackend returns a Backend wired to the given components.
func NewCatalogBackend(store catalog.Store, sched *scheduler.Scheduler, orch *pipeline.Orchestrator) *CatalogBackend {
	return &CatalogBackend{Store: store, Scheduler: sched, Orchestrator: orch}
}

func entryToMap(key string, e *core.ModelEntry) map[string]any {
	return map[string]any{
		"model_key":     key,
		"parameters":    e.Parameters,
		"has_config":    e.HasConfig,
		"is_moe":        e.IsMOE,
		"converted":     e.Converted,
		"attempts":      e.Attempts,
		"added":         e.Added,
		"last_attempt":  e.LastAttempt,
		"success_date":  e.SuccessDate,
		"error_log":     e.ErrorLog,
		"quantizations": e.Quantizations,
	}
}

// CatalogStatus returns the catalog entry for one model key.
func (b *CatalogBackend) CatalogStatus(ctx context.Context, key string) (map[string]any, error) {
	entry, err := b.Store.Get(ctx, core.ModelKey(key))
	if err != nil {
		return nil, err
	}
	return entryToMap(key, entry), nil
}

// CatalogSummary aggregates conversion counts across the whole catalog.
func (b *CatalogBackend) CatalogSummary(ctx context.Context) (map[string]any, error) {
	all, err := b.Store.List(ctx)
	if err != nil {
		return nil, err
	}

	var converted, failed, pending int
	for key, entry := range all {
		switch {
		case entry.Converted:
			converted++
		default:
			isFailed, err := b.Store.IsFailed(ctx, key)
			if err == nil && isFailed {
				failed++
			} else {
				pending++
			}
		}
	}

	return map[string]any{
		"total":     len(all),
		"converted": converted,
		"failed":    failed,
		"pending":   pending,
	}, nil
}

// SchedulerStats reports the running scheduler's configuration, or an
// error if no scheduler is attached to this process.
func (b *CatalogBackend) SchedulerStats(ctx context.Context) (map[string]any, error) {
	if b.Scheduler == nil {
		return nil, fmt.Errorf("no scheduler is running in this process")
	}
	return b.Scheduler.Stats(), nil
}

// EnqueueModel seeds key into the catalog if absent and starts converting
// it in the background, returning immediately.
func (b *CatalogBackend) EnqueueModel(ctx context.Context, key string, isMOE bool) (map[string]any, error) {
	modelKey := core.ModelKey(key)

	_, err := b.Store.Get(ctx, modelKey)
	if err == core.ErrModelNotFound {
		if addErr := b.Store.Add(ctx, modelKey, core.NewModelEntry(0, true, isMOE)); addErr != nil {
			return nil, addErr
		}
	} else if err != nil {
		return nil, err
	}

	go func() {
		bgCtx := context.Background()
		if convErr := b.Orchestrator.Convert(bgCtx, modelKey, false); convErr != nil {
			log.Printf("mcpadmin: background conversion of %s failed: %v", modelKey, convErr)
		}
	}()

	return map[string]any{
		"model_key": key,
		"status":    "enqueued",
	}, nil
}
