// Package bootstrap wires a loaded Config into the shared set of
// components every quantforge entry point needs: the catalog store, disk
// manager, Hub client, uploader, rule table, quant configs, and the
// orchestrator built on top of them. Factored out of the per-binary main()
// since four commands (forge-daemon, forge-batch, forge-quant, forge-mcp)
// all need the identical wiring the teacher's single binary built inline.
package bootstrap

import (
	"fmt"
	"os"

	"github.com/readyforquantum/quantforge/pkg/catalog"
	"github.com/readyforquantum/quantforge/pkg/chunker"
	"github.com/readyforquantum/quantforge/pkg/core"
	"github.com/readyforquantum/quantforge/pkg/diskcache"
	"github.com/readyforquantum/quantforge/pkg/hub"
	"github.com/readyforquantum/quantforge/pkg/pipeline"
	"github.com/readyforquantum/quantforge/pkg/planner"
	"github.com/readyforquantum/quantforge/pkg/rules"
)

// App bundles every long-lived component a quantforge process needs.
type App struct {
	Config       *core.Config
	Store        catalog.Store
	Disk         *diskcache.Manager
	Hub          hub.Client
	Uploader     *chunker.Uploader
	RuleTable    *rules.Table
	Configs      []planner.QuantConfig
	Orchestrator *pipeline.Orchestrator
}

// New resolves a catalog store (Redis if configured, else the local file
// store), loads the rule table and quant config list from disk, and
// assembles an Orchestrator ready to convert models.
func New(cfg *core.Config) (*App, error) {
	store, err := newStore(cfg.Catalog)
	if err != nil {
		return nil, fmt.Errorf("initializing catalog store: %w", err)
	}

	ruleData, err := os.ReadFile(cfg.Tools.RuleTablePath)
	if err != nil {
		return nil, fmt.Errorf("reading rule table: %w", err)
	}
	ruleTable, err := rules.LoadTable(ruleData)
	if err != nil {
		return nil, fmt.Errorf("loading rule table: %w", err)
	}

	configData, err := os.ReadFile(cfg.Tools.QuantConfigsPath)
	if err != nil {
		return nil, fmt.Errorf("reading quant configs: %w", err)
	}
	configs, err := planner.LoadConfigs(configData)
	if err != nil {
		return nil, fmt.Errorf("loading quant configs: %w", err)
	}

	disk := diskcache.NewManager(cfg.Disk)
	hubClient := hub.NewHTTPClient(cfg.Hub)
	uploader := chunker.NewUploader(hubClient, chunker.FromConfig(cfg.Chunk))

	orch := &pipeline.Orchestrator{
		Store:     store,
		Disk:      disk,
		Hub:       hubClient,
		Uploader:  uploader,
		RuleTable: ruleTable,
		Configs:   configs,
		Pipeline:  cfg.Pipeline,
		Tools:     cfg.Tools,
	}

	return &App{
		Config:       cfg,
		Store:        store,
		Disk:         disk,
		Hub:          hubClient,
		Uploader:     uploader,
		RuleTable:    ruleTable,
		Configs:      configs,
		Orchestrator: orch,
	}, nil
}

// Close releases the store's resources. Call during shutdown.
func (a *App) Close() error {
	return a.Store.Close()
}

func newStore(cfg core.CatalogConfig) (catalog.Store, error) {
	if cfg.RedisAddr == "" {
		return catalog.NewLocalStore(cfg.LocalPath)
	}
	return catalog.NewRedisStore(cfg.RedisAddr, cfg.RedisUser, cfg.RedisPassword, cfg.RedisDB), nil
}
