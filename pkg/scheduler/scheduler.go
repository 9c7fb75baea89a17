// Package scheduler runs the conversion pipeline over the whole catalog on
// a repeating cycle: sort unconverted entries oldest-first, filter out
// everything the process-wide ceilings exclude, and convert what remains
// one model at a time. Grounded in model_converter.py's
// run_conversion_cycle and start_daemon.
package scheduler

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/readyforquantum/quantforge/pkg/catalog"
	"github.com/readyforquantum/quantforge/pkg/core"
	"github.com/readyforquantum/quantforge/pkg/pipeline"
)

// Scheduler walks the catalog and feeds eligible models to an Orchestrator,
// one at a time. Unlike the source's five concurrent per-resource daemons,
// only one worker loop exists here: the pipeline forbids running more than
// one conversion at once, so there is nothing else to parallelize.
type Scheduler struct {
	Store        catalog.Store
	Orchestrator *pipeline.Orchestrator
	Config       core.SchedulerConfig
	Pipeline     core.PipelineConfig

	intervalMu sync.RWMutex
	interval   time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns a Scheduler ready to Start.
func New(store catalog.Store, orch *pipeline.Orchestrator, schedCfg core.SchedulerConfig, pipeCfg core.PipelineConfig) *Scheduler {
	return &Scheduler{
		Store:        store,
		Orchestrator: orch,
		Config:       schedCfg,
		Pipeline:     pipeCfg,
		interval:     schedCfg.CycleInterval,
	}
}

// candidate pairs a catalog entry with its key for sorting.
type candidate struct {
	key   core.ModelKey
	entry *core.ModelEntry
}

func isExcludedOwner(owner string, excluded []string) bool {
	for _, o := range excluded {
		if o == owner {
			return true
		}
	}
	return false
}

// eligible lists every catalog entry the process-wide ceilings allow to be
// converted, oldest-first by StalenessKey, matching the source's
// get_last_attempt_or_added sort used before each cycle's conversion loop.
func (s *Scheduler) eligible(ctx context.Context) ([]candidate, error) {
	all, err := s.Store.List(ctx)
	if err != nil {
		return nil, err
	}

	candidates := make([]candidate, 0, len(all))
	for key, entry := range all {
		if isExcludedOwner(key.Owner(), s.Pipeline.ExcludedOwners) {
			continue
		}
		if !entry.Eligible(s.Pipeline.MaxAttempts, s.Pipeline.MaxParameters) {
			continue
		}
		candidates = append(candidates, candidate{key: key, entry: entry})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].entry.StalenessKey().Before(candidates[j].entry.StalenessKey())
	})
	return candidates, nil
}

// RunCycle converts every eligible model once, oldest-first, stopping early
// if ctx is canceled. A single model's failure never aborts the cycle;
// daemonMode is forwarded to the orchestrator unchanged.
func (s *Scheduler) RunCycle(ctx context.Context, daemonMode bool) error {
	candidates, err := s.eligible(ctx)
	if err != nil {
		return err
	}
	log.Printf("scheduler cycle: %d eligible models", len(candidates))

	for _, c := range candidates {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := s.Orchestrator.Convert(ctx, c.key, daemonMode); err != nil {
			log.Printf("scheduler: conversion failed for %s: %v", c.key, err)
		}
	}
	return nil
}

// Start launches the cycle/sleep loop in the background and returns
// immediately. Call Stop to shut it down.
func (s *Scheduler) Start() {
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.wg.Add(1)
	go s.loop()
	log.Println("scheduler started")
}

// Stop cancels the running loop and waits for the current cycle to notice.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	log.Println("scheduler stopped")
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	for {
		if err := s.RunCycle(s.ctx, true); err != nil && s.ctx.Err() == nil {
			log.Printf("scheduler: cycle error: %v", err)
		}
		if !s.waitInterval(s.getInterval()) {
			return
		}
	}
}

func (s *Scheduler) waitInterval(interval time.Duration) bool {
	timer := time.NewTimer(interval)
	defer timer.Stop()
	select {
	case <-s.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *Scheduler) getInterval() time.Duration {
	s.intervalMu.RLock()
	defer s.intervalMu.RUnlock()
	return s.interval
}

// SetInterval overrides the configured cycle interval, taking effect on
// the next wait.
func (s *Scheduler) SetInterval(d time.Duration) {
	s.intervalMu.Lock()
	defer s.intervalMu.Unlock()
	s.interval = d
}

// Stats returns a snapshot of the scheduler's running configuration.
func (s *Scheduler) Stats() map[string]any {
	return map[string]any{
		"cycle_interval": s.getInterval().String(),
	}
}
