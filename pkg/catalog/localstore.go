package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/readyforquantum/quantforge/pkg/core"
)

// LocalStore is a single-process Store backed by an in-memory map and a
// msgpack-encoded file on disk, written atomically via a temp-file-plus-
// rename. It is the default when no Redis address is configured. Its
// msgpack file is its own durable format; Backup/Restore use the JSON
// backupFile format shared with RedisStore.
type LocalStore struct {
	mu         sync.RWMutex
	entries    map[core.ModelKey]*core.ModelEntry
	converting map[core.ModelKey]struct{}
	failed     map[core.ModelKey]struct{}
	progress   map[core.ModelKey]string
	path       string
}

type localStoreFile struct {
	Entries    map[core.ModelKey]*core.ModelEntry `msgpack:"entries"`
	Converting []core.ModelKey                    `msgpack:"converting"`
	Failed     []core.ModelKey                    `msgpack:"failed"`
	Progress   map[core.ModelKey]string           `msgpack:"progress"`
}

// NewLocalStore opens (or creates) the catalog file at path.
func NewLocalStore(path string) (*LocalStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating catalog directory: %w", err)
		}
	}

	s := &LocalStore{
		entries:    make(map[core.ModelKey]*core.ModelEntry),
		converting: make(map[core.ModelKey]struct{}),
		failed:     make(map[core.ModelKey]struct{}),
		progress:   make(map[core.ModelKey]string),
		path:       path,
	}
	if err := s.load(); err != nil {
		return nil, fmt.Errorf("loading catalog file %s: %w", path, err)
	}
	return s, nil
}

func (s *LocalStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var file localStoreFile
	if err := msgpack.Unmarshal(data, &file); err != nil {
		return err
	}

	if file.Entries != nil {
		s.entries = file.Entries
	}
	for _, k := range file.Converting {
		s.converting[k] = struct{}{}
	}
	for _, k := range file.Failed {
		s.failed[k] = struct{}{}
	}
	if file.Progress != nil {
		s.progress = file.Progress
	}
	return nil
}

// save must be called with s.mu held.
func (s *LocalStore) save() error {
	file := localStoreFile{
		Entries:    s.entries,
		Converting: make([]core.ModelKey, 0, len(s.converting)),
		Failed:     make([]core.ModelKey, 0, len(s.failed)),
		Progress:   s.progress,
	}
	for k := range s.converting {
		file.Converting = append(file.Converting, k)
	}
	for k := range s.failed {
		file.Failed = append(file.Failed, k)
	}

	data, err := msgpack.Marshal(&file)
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *LocalStore) Get(_ context.Context, key core.ModelKey) (*core.ModelEntry, error) {
	if err := core.ValidateModelKey(key); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, core.ErrModelNotFound
	}
	return entry.Clone(), nil
}

func (s *LocalStore) Add(_ context.Context, key core.ModelKey, entry *core.ModelEntry) error {
	if err := core.ValidateModelKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[key]; exists {
		return core.ErrModelExists
	}
	s.entries[key] = entry.Clone()
	if err := s.save(); err != nil {
		delete(s.entries, key)
		return err
	}
	return nil
}

func (s *LocalStore) Update(_ context.Context, key core.ModelKey, mutate Mutator) error {
	if err := core.ValidateModelKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.entries[key]
	if !ok {
		return core.ErrModelNotFound
	}
	clone := current.Clone()
	if err := mutate(clone); err != nil {
		return err
	}
	s.entries[key] = clone
	if err := s.save(); err != nil {
		s.entries[key] = current
		return err
	}
	return nil
}

func (s *LocalStore) Delete(_ context.Context, key core.ModelKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return core.ErrModelNotFound
	}
	delete(s.entries, key)
	if err := s.save(); err != nil {
		s.entries[key] = entry
		return err
	}
	return nil
}

func (s *LocalStore) List(_ context.Context) (map[core.ModelKey]*core.ModelEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[core.ModelKey]*core.ModelEntry, len(s.entries))
	for k, v := range s.entries {
		out[k] = v.Clone()
	}
	return out, nil
}

func (s *LocalStore) MarkConverting(_ context.Context, key core.ModelKey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, already := s.converting[key]; already {
		return false, nil
	}
	s.converting[key] = struct{}{}
	if err := s.save(); err != nil {
		delete(s.converting, key)
		return false, err
	}
	return true, nil
}

func (s *LocalStore) UnmarkConverting(_ context.Context, key core.ModelKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.converting, key)
	return s.save()
}

func (s *LocalStore) IsConverting(_ context.Context, key core.ModelKey) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.converting[key]
	return ok, nil
}

func (s *LocalStore) MarkFailed(_ context.Context, key core.ModelKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failed[key] = struct{}{}
	return s.save()
}

func (s *LocalStore) UnmarkFailed(_ context.Context, key core.ModelKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.failed, key)
	return s.save()
}

func (s *LocalStore) IsFailed(_ context.Context, key core.ModelKey) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.failed[key]
	return ok, nil
}

func (s *LocalStore) SetQuantProgress(_ context.Context, key core.ModelKey, quantName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.progress[key] = quantName
	return s.save()
}

func (s *LocalStore) GetQuantProgress(_ context.Context, key core.ModelKey) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.progress[key], nil
}

func (s *LocalStore) ClearQuantProgress(_ context.Context, key core.ModelKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.progress, key)
	return s.save()
}

func (s *LocalStore) ImportMany(_ context.Context, candidates []ImportCandidate) (ImportResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prevEntries := s.entries
	entries := make(map[core.ModelKey]*core.ModelEntry, len(s.entries)+len(candidates))
	for k, v := range s.entries {
		entries[k] = v
	}

	var result ImportResult
	for _, c := range candidates {
		existing, ok := entries[c.Key]
		if !ok {
			entries[c.Key] = core.NewModelEntry(c.Parameters, c.HasConfig, c.IsMOE)
			result.Added++
			continue
		}
		if existing.IsMOE != c.IsMOE {
			clone := existing.Clone()
			clone.IsMOE = c.IsMOE
			entries[c.Key] = clone
			result.Updated++
		}
	}

	s.entries = entries
	if err := s.save(); err != nil {
		s.entries = prevEntries
		return ImportResult{}, err
	}
	return result, nil
}

// Backup writes the §6 JSON wire format (entries plus the converting/
// failed/progress sets), independent of the msgpack format used by the
// local durable file itself.
func (s *LocalStore) Backup(_ context.Context, path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	file := backupFile{
		Entries:    s.entries,
		Converting: setKeys(s.converting),
		Failed:     setKeys(s.failed),
		Progress:   s.progress,
	}
	data, err := json.MarshalIndent(&file, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Restore replaces the in-memory catalog and the on-disk local store file
// with the contents of a JSON backup written by Backup (from either
// backend), as a single atomic swap.
func (s *LocalStore) Restore(_ context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading backup %s: %w", path, err)
	}
	var file backupFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("decoding backup %s: %w", path, err)
	}

	entries := file.Entries
	if entries == nil {
		entries = make(map[core.ModelKey]*core.ModelEntry)
	}
	converting := make(map[core.ModelKey]struct{}, len(file.Converting))
	for _, k := range file.Converting {
		converting[k] = struct{}{}
	}
	failed := make(map[core.ModelKey]struct{}, len(file.Failed))
	for _, k := range file.Failed {
		failed[k] = struct{}{}
	}
	progress := file.Progress
	if progress == nil {
		progress = make(map[core.ModelKey]string)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prevEntries, prevConverting, prevFailed, prevProgress := s.entries, s.converting, s.failed, s.progress
	s.entries, s.converting, s.failed, s.progress = entries, converting, failed, progress
	if err := s.save(); err != nil {
		s.entries, s.converting, s.failed, s.progress = prevEntries, prevConverting, prevFailed, prevProgress
		return err
	}
	return nil
}

func (s *LocalStore) Close() error {
	return nil
}

func setKeys(m map[core.ModelKey]struct{}) []core.ModelKey {
	out := make([]core.ModelKey, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

var _ Store = (*LocalStore)(nil)
