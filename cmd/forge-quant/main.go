// Command forge-quant converts a single model by key, for ad hoc or
// scripted use outside the daemon's catalog sweep, matching the source's
// convert_model entry point called directly rather than through a cycle.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/readyforquantum/quantforge/pkg/bootstrap"
	"github.com/readyforquantum/quantforge/pkg/core"
)

func main() {
	var cliOverrides core.CLIOverrides
	var isMOE bool

	rootCmd := &cobra.Command{
		Use:   "forge-quant <owner/model>",
		Short: "quantforge single-model converter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(core.ModelKey(args[0]), isMOE, cmd.Flags(), &cliOverrides)
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
	f.BoolVar(&isMOE, "moe", false, "Treat the model as mixture-of-experts")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(key core.ModelKey, isMOE bool, flags *pflag.FlagSet, o *core.CLIOverrides) error {
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

	app, err := bootstrap.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Printf("shutdown: closing catalog store: %v", err)
		}
	}()

	ctx := context.Background()
	if _, err := app.Store.Get(ctx, key); err == core.ErrModelNotFound {
		if err := app.Store.Add(ctx, key, core.NewModelEntry(0, true, isMOE)); err != nil {
			return fmt.Errorf("seeding %s into catalog: %w", key, err)
		}
	} else if err != nil {
		return fmt.Errorf("looking up %s: %w", key, err)
	}

	if err := app.Orchestrator.Convert(ctx, key, false); err != nil {
		return fmt.Errorf("converting %s: %w", key, err)
	}
	log.Printf("%s converted successfully", key)
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
