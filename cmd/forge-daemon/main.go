// Command forge-daemon runs the scheduler continuously: every cycle
// interval it sweeps the catalog oldest-first and converts every eligible
// model, restarting llama.cpp's build is left to the operator (the
// source's start_daemon rebuilt it per cycle; this process assumes a
// fixed llama.cpp checkout instead, matching a containerized deployment).
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/readyforquantum/quantforge/pkg/bootstrap"
	"github.com/readyforquantum/quantforge/pkg/core"
	"github.com/readyforquantum/quantforge/pkg/mcpadmin"
	"github.com/readyforquantum/quantforge/pkg/scheduler"
)

func serveHTTP(addr string, handler http.Handler) error {
	return http.ListenAndServe(addr, handler)
}

func main() {
	var cliOverrides core.CLIOverrides

	rootCmd := &cobra.Command{
		Use:   "forge-daemon",
		Short: "quantforge daemon — continuously converts catalog models to GGUF",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Flags(), &cliOverrides)
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
	cliOverrides.CycleInterval = f.Duration("cycle-interval", 0, "How often the scheduler re-sweeps the catalog")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(flags *pflag.FlagSet, o *core.CLIOverrides) error {
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

	app, err := bootstrap.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Printf("shutdown: closing catalog store: %v", err)
		}
	}()

	sched := scheduler.New(app.Store, app.Orchestrator, cfg.Scheduler, cfg.Pipeline)

	ctx, cancel := context.WithCancel(context.Background())

	if cfg.MCPAdmin.Enabled && !cfg.MCPAdmin.Stdio {
		backend := mcpadmin.NewCatalogBackend(app.Store, sched, app.Orchestrator)
		handler, err := mcpadmin.NewHandler(mcpadmin.Config{
			APIKey: cfg.MCPAdmin.APIKey,
		}, backend)
		if err != nil {
			return fmt.Errorf("failed to build MCP admin handler: %w", err)
		}
		go func() {
			log.Printf("MCP admin surface listening on %s", cfg.MCPAdmin.Addr)
			if err := serveHTTP(cfg.MCPAdmin.Addr, handler); err != nil {
				log.Printf("MCP admin server error: %v", err)
			}
		}()
	}

	sched.Start()
	log.Println("quantforge daemon is running")

	core.WaitForShutdown(ctx, cancel)
	log.Println("shutting down scheduler...")
	sched.Stop()
	log.Println("quantforge daemon shutdown complete")
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
	if flags.Changed("cycle-interval") {
		overrides.CycleInterval = o.CycleInterval
	}
	cfg.ApplyCLIOverrides(&overrides)
}
