// Command forge-batch converts a fixed JSON manifest of models, stopping
// at the first failure, matching run_all_from_json.py's all-or-nothing
// batch semantics.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/readyforquantum/quantforge/pkg/batch"
	"github.com/readyforquantum/quantforge/pkg/bootstrap"
	"github.com/readyforquantum/quantforge/pkg/core"
)

func main() {
	var cliOverrides core.CLIOverrides

	rootCmd := &cobra.Command{
		Use:   "forge-batch <manifest.json>",
		Short: "quantforge batch driver — converts a fixed list of models",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], cmd.Flags(), &cliOverrides)
		},
		SilenceUsage: true,
	}

	f := rootCmd.Flags()
	cliOverrides.ConfigPath = f.StringP("config", "f", "", "Path to YAML config file (overrides FORGE_CONFIG env)")
	cliOverrides.MaxParameters = f.Int64("max-parameters", 0, "Parameter-count ceiling for eligible models")
	cliOverrides.MaxAttempts = f.Int("max-attempts", 0, "Failed-attempt ceiling before a model is skipped")
	cliOverrides.CacheDir = f.String("cache-dir", "", "Hub download cache directory")
	cliOverrides.WorkDir = f.String("work-dir", "", "Conversion scratch directory")
	cliOverrides.RedisAddr = f.String("redis-addr", "", "Redis catalog address (empty uses the local file store)")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(manifestPath string, flags *pflag.FlagSet, o *core.CLIOverrides) error {
	core.PrintBanner()

	configPath := ""
	if o.ConfigPath != nil && *o.ConfigPath != "" {
		configPath = *o.ConfigPath
	} else {
		configPath = os.Getenv("FORGE_CONFIG")
	}

	cfg, err := core.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyExplicitFlags(flags, cfg, o)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	manifest, err := batch.LoadManifest(manifestPath)
	if err != nil {
		return fmt.Errorf("failed to load manifest: %w", err)
	}
	log.Printf("loaded manifest with %d models", len(manifest.Models))

	app, err := bootstrap.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Printf("shutdown: closing catalog store: %v", err)
		}
	}()

	driver := batch.New(app.Store, app.Orchestrator)
	if err := driver.Run(context.Background(), manifest); err != nil {
		return fmt.Errorf("batch run failed: %w", err)
	}
	return nil
}

func applyExplicitFlags(flags *pflag.FlagSet, cfg *core.Config, o *core.CLIOverrides) {
	overrides := core.CLIOverrides{}
	if flags.Changed("max-parameters") {
		overrides.MaxParameters = o.MaxParameters
	}
	if flags.Changed("max-attempts") {
		overrides.MaxAttempts = o.MaxAttempts
	}
	if flags.Changed("cache-dir") {
		overrides.CacheDir = o.CacheDir
	}
	if flags.Changed("work-dir") {
		overrides.WorkDir = o.WorkDir
	}
	if flags.Changed("redis-addr") {
		overrides.RedisAddr = o.RedisAddr
	}
	cfg.ApplyCLIOverrides(&overrides)
}
