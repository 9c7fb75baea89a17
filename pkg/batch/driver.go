// Package batch drives conversion over a fixed manifest of models instead
// of the scheduler's catalog-wide sweep. Grounded in
// run_all_from_json.py's process_model/main: load a JSON list, seed any
// model missing from the catalog, reconcile its MoE flag, then convert
// each entry in manifest order, stopping at the first failure.
package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/readyforquantum/quantforge/pkg/catalog"
	"github.com/readyforquantum/quantforge/pkg/core"
	"github.com/readyforquantum/quantforge/pkg/pipeline"
)

// ModelRef is one manifest entry. UnmarshalJSON accepts either a bare
// string model key or an object, matching the source's acceptance of both
// `"owner/name"` and `{"name": "...", "is_moe": true}`.
type ModelRef struct {
	Name  core.ModelKey
	IsMOE bool
}

// UnmarshalJSON implements the string-or-object manifest entry shape.
func (m *ModelRef) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		m.Name = core.ModelKey(asString)
		m.IsMOE = false
		return nil
	}

	var asObject struct {
		Name  string `json:"name"`
		IsMOE bool   `json:"is_moe"`
	}
	if err := json.Unmarshal(data, &asObject); err != nil {
		return fmt.Errorf("%w: %v", core.ErrManifestInvalid, err)
	}
	if asObject.Name == "" {
		return fmt.Errorf("%w: manifest entry missing \"name\"", core.ErrManifestInvalid)
	}
	m.Name = core.ModelKey(asObject.Name)
	m.IsMOE = asObject.IsMOE
	return nil
}

// Manifest is the top-level JSON document: a "models" list of ModelRef.
type Manifest struct {
	Models []ModelRef `json:"models"`
}

// LoadManifest reads and parses a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrManifestInvalid, err)
	}
	if len(manifest.Models) == 0 {
		return nil, fmt.Errorf("%w: manifest has no models", core.ErrManifestInvalid)
	}
	return &manifest, nil
}

// Driver runs a Manifest's models through an Orchestrator in order.
type Driver struct {
	Store        catalog.Store
	Orchestrator *pipeline.Orchestrator
}

// New returns a Driver bound to store and orch.
func New(store catalog.Store, orch *pipeline.Orchestrator) *Driver {
	return &Driver{Store: store, Orchestrator: orch}
}

// ensureSeeded bulk-imports every manifest entry missing from the catalog
// with zeroed stats, and reconciles the IsMOE flag of any entry already
// present that disagrees with the manifest, matching process_model's
// catalog bootstrap via the store's import_many contract.
func (d *Driver) ensureSeeded(ctx context.Context, refs []ModelRef) error {
	candidates := make([]catalog.ImportCandidate, len(refs))
	for i, ref := range refs {
		candidates[i] = catalog.ImportCandidate{
			Key:        ref.Name,
			Parameters: 0,
			HasConfig:  true,
			IsMOE:      ref.IsMOE,
		}
	}
	result, err := d.Store.ImportMany(ctx, candidates)
	if err != nil {
		return err
	}
	log.Printf("batch: seeded catalog (added=%d, updated=%d)", result.Added, result.Updated)
	return nil
}

// Run processes every entry in manifest order, stopping and returning the
// error from the first model that fails to convert — the source treats a
// batch run as all-or-nothing rather than best-effort.
func (d *Driver) Run(ctx context.Context, manifest *Manifest) error {
	if err := d.ensureSeeded(ctx, manifest.Models); err != nil {
		return fmt.Errorf("seeding manifest: %w", err)
	}

	total := len(manifest.Models)
	for i, ref := range manifest.Models {
		log.Printf("batch: processing model %d/%d: %s", i+1, total, ref.Name)

		if err := d.Orchestrator.Convert(ctx, ref.Name, false); err != nil {
			return fmt.Errorf("converting %s: %w", ref.Name, err)
		}
	}
	log.Println("batch: all models processed successfully")
	return nil
}
