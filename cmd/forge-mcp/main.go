// Command forge-mcp runs the administrative MCP surface standalone,
// either over streamable HTTP or stdio, without starting a scheduler of
// its own — enqueue_model triggers conversions directly through the
// orchestrator, matching a control-plane process separate from the
// daemon that actually runs cycles.
package main

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/readyforquantum/quantforge/pkg/bootstrap"
	"github.com/readyforquantum/quantforge/pkg/core"
	"github.com/readyforquantum/quantforge/pkg/mcpadmin"
)

func main() {
	var cliOverrides core.CLIOverrides

	rootCmd := &cobra.Command{
		Use:   "forge-mcp",
		Short: "quantforge administrative MCP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Flags(), &cliOverrides)
		},
		SilenceUsage: true,
	}

	f := rootCmd.Flags()
	cliOverrides.ConfigPath = f.StringP("config", "f", "", "Path to YAML config file (overrides FORGE_CONFIG env)")
	cliOverrides.RedisAddr = f.String("redis-addr", "", "Redis catalog address (empty uses the local file store)")
	cliOverrides.MCPAddr = f.String("mcp-addr", "", "Listen address for the MCP streamable HTTP server")
	cliOverrides.MCPAPIKey = f.String("mcp-api-key", "", "Shared secret required of MCP clients")
	cliOverrides.MCPStdio = f.Bool("mcp-stdio", false, "Serve over stdio instead of HTTP")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(flags *pflag.FlagSet, o *core.CLIOverrides) error {
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

	backend := mcpadmin.NewCatalogBackend(app.Store, nil, app.Orchestrator)
	mcpCfg := mcpadmin.Config{APIKey: cfg.MCPAdmin.APIKey}

	if cfg.MCPAdmin.Stdio {
		log.Println("serving MCP admin surface over stdio")
		return mcpadmin.ServeStdio(mcpCfg, backend)
	}

	handler, err := mcpadmin.NewHandler(mcpCfg, backend)
	if err != nil {
		return fmt.Errorf("failed to build MCP admin handler: %w", err)
	}
	log.Printf("MCP admin surface listening on %s", cfg.MCPAdmin.Addr)
	return http.ListenAndServe(cfg.MCPAdmin.Addr, handler)
}

func applyExplicitFlags(flags *pflag.FlagSet, cfg *core.Config, o *core.CLIOverrides) {
	overrides := core.CLIOverrides{}
	if flags.Changed("redis-addr") {
		overrides.RedisAddr = o.RedisAddr
	}
	if flags.Changed("mcp-addr") {
		overrides.MCPAddr = o.MCPAddr
	}
	if flags.Changed("mcp-api-key") {
		overrides.MCPAPIKey = o.MCPAPIKey
	}
	if flags.Changed("mcp-stdio") {
		overrides.MCPStdio = o.MCPStdio
	}
	cfg.ApplyCLIOverrides(&overrides)
}
