// Package mcpadmin exposes a read/trigger administrative surface over the
// catalog and scheduler as an MCP streamable HTTP server, grounded in the
// teacher's pkg/mcp/server.go: tool registration, allow-listing, API-key
// and rate-limit middleware all carry over unchanged in shape.
package mcpadmin

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	mcpproto "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

const (
	toolCatalogStatus  = "forge_catalog_status"
	toolCatalogList    = "forge_catalog_list"
	toolSchedulerStats = "forge_scheduler_stats"
	toolEnqueueModel   = "forge_enqueue_model"
)

// Config controls MCP route behavior.
type Config struct {
	APIKey         string
	Stateless      bool
	RateLimitRPS   float64
	RateLimitBurst int
	AllowedTools   []string
}

// Backend is the minimal capability contract exposed to MCP tools.
type Backend interface {
	CatalogStatus(ctx context.Context, key string) (map[string]any, error)
	CatalogSummary(ctx context.Context) (map[string]any, error)
	SchedulerStats(ctx context.Context) (map[string]any, error)
	EnqueueModel(ctx context.Context, key string, isMOE bool) (map[string]any, error)
}

func newServer(cfg Config, backend Backend) (*mcpserver.MCPServer, error) {
	if backend == nil {
		return nil, fmt.Errorf("mcp backend is required")
	}

	s := mcpserver.NewMCPServer(
		"quantforge-mcp",
		"1.0.0",
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithRecovery(),
	)
	registerTools(s, backend, cfg.AllowedTools)
	return s, nil
}

// ServeStdio runs the MCP server over stdio until the client disconnects,
// for direct subprocess integration with an MCP-aware client. API key and
// rate-limit settings do not apply to the stdio transport.
func ServeStdio(cfg Config, backend Backend) error {
	s, err := newServer(cfg, backend)
	if err != nil {
		return err
	}
	return mcpserver.ServeStdio(s)
}

// NewHandler builds an MCP streamable HTTP handler with optional API-key
// auth and endpoint-local rate limiting.
func NewHandler(cfg Config, backend Backend) (http.Handler, error) {
	s, err := newServer(cfg, backend)
	if err != nil {
		return nil, err
	}

	streamable := mcpserver.NewStreamableHTTPServer(s, mcpserver.WithStateLess(cfg.Stateless))
	var h http.Handler = http.HandlerFunc(streamable.ServeHTTP)

	if strings.TrimSpace(cfg.APIKey) != "" {
		h = apiKeyMiddleware(strings.TrimSpace(cfg.APIKey), h)
	}
	if cfg.RateLimitRPS > 0 && cfg.RateLimitBurst > 0 {
		h = rateLimitMiddleware(newRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst), h)
	}

	return h, nil
}

func registerTools(s *mcpserver.MCPServer, backend Backend, allowed []string) {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, name := range allowed {
		name = strings.TrimSpace(name)
		if name != "" {
			allowedSet[name] = struct{}{}
		}
	}
	isAllowed := func(name string) bool {
		if len(allowedSet) == 0 {
			return true
		}
		_, ok := allowedSet[name]
		return ok
	}

	if isAllowed(toolCatalogStatus) {
		s.AddTool(mcpproto.NewTool(toolCatalogStatus,
			mcpproto.WithDescription("Get the catalog entry for one model by owner/name key."),
			mcpproto.WithString("model_key", mcpproto.Required(), mcpproto.Description("Model key, e.g. \"acme/my-model\".")),
		), func(ctx context.Context, req mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
			args := req.GetArguments()
			key := getString(args, "model_key", "")
			if key == "" {
				return errResult("model_key is required"), nil
			}
			result, err := backend.CatalogStatus(ctx, key)
			if err != nil {
				return errResult(err.Error()), nil
			}
			return structuredResult("catalog status fetched", result)
		})
	}

	if isAllowed(toolCatalogList) {
		s.AddTool(mcpproto.NewTool(toolCatalogList,
			mcpproto.WithDescription("Summarize catalog-wide conversion counts (total, converted, failed, pending)."),
		), func(ctx context.Context, req mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
			result, err := backend.CatalogSummary(ctx)
			if err != nil {
				return errResult(err.Error()), nil
			}
			return structuredResult("catalog summary fetched", result)
		})
	}

	if isAllowed(toolSchedulerStats) {
		s.AddTool(mcpproto.NewTool(toolSchedulerStats,
			mcpproto.WithDescription("Report the running scheduler's current configuration."),
		), func(ctx context.Context, req mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
			result, err := backend.SchedulerStats(ctx)
			if err != nil {
				return errResult(err.Error()), nil
			}
			return structuredResult("scheduler stats fetched", result)
		})
	}

	if isAllowed(toolEnqueueModel) {
		s.AddTool(mcpproto.NewTool(toolEnqueueModel,
			mcpproto.WithDescription("Seed a model into the catalog if missing and start converting it in the background."),
			mcpproto.WithString("model_key", mcpproto.Required(), mcpproto.Description("Model key, e.g. \"acme/my-model\".")),
			mcpproto.WithBoolean("is_moe", mcpproto.Description("Whether the model is a mixture-of-experts architecture. Default false.")),
		), func(ctx context.Context, req mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
			args := req.GetArguments()
			key := getString(args, "model_key", "")
			if key == "" {
				return errResult("model_key is required"), nil
			}
			isMOE := getBool(args, "is_moe", false)
			result, err := backend.EnqueueModel(ctx, key, isMOE)
			if err != nil {
				return errResult(err.Error()), nil
			}
			return structuredResult("model enqueued", result)
		})
	}
}

func errResult(msg string) *mcpproto.CallToolResult {
	return &mcpproto.CallToolResult{
		Content: []mcpproto.Content{
			mcpproto.TextContent{Type: "text", Text: "Error: " + msg},
		},
		IsError: true,
	}
}

func structuredResult(summary string, data any) (*mcpproto.CallToolResult, error) {
	blob, err := json.Marshal(data)
	if err != nil {
		return errResult(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return &mcpproto.CallToolResult{
		Content: []mcpproto.Content{
			mcpproto.TextContent{Type: "text", Text: summary},
			mcpproto.TextContent{Type: "text", Text: string(blob)},
		},
	}, nil
}

func getString(args map[string]any, key string, def string) string {
	if args == nil {
		return def
	}
	if v, ok := args[key].(string); ok {
		return v
	}
	return def
}

func getBool(args map[string]any, key string, def bool) bool {
	if args == nil {
		return def
	}
	if v, ok := args[key].(bool); ok {
		return v
	}
	return def
}

func apiKeyMiddleware(expected string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		provided := strings.TrimSpace(r.Header.Get("X-API-Key"))
		if provided == "" {
			auth := strings.TrimSpace(r.Header.Get("Authorization"))
			if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
				provided = strings.TrimSpace(auth[7:])
			}
		}

		if provided == "" || provided != expected {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte("unauthorized"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type rateLimitEntry struct {
	tokens float64
	last   time.Time
}

type rateLimiter struct {
	rps   float64
	burst float64

	mu      sync.Mutex
	clients map[string]rateLimitEntry
}

func newRateLimiter(rps float64, burst int) *rateLimiter {
	return &rateLimiter{
		rps:     rps,
		burst:   float64(burst),
		clients: make(map[string]rateLimitEntry),
	}
}

func (rl *rateLimiter) allow(key string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, ok := rl.clients[key]
	if !ok {
		rl.clients[key] = rateLimitEntry{tokens: rl.burst - 1, last: now}
		return true
	}

	elapsed := now.Sub(entry.last).Seconds()
	entry.tokens = math.Min(rl.burst, entry.tokens+elapsed*rl.rps)
	entry.last = now
	if entry.tokens < 1 {
		rl.clients[key] = entry
		return false
	}
	entry.tokens -= 1
	rl.clients[key] = entry
	return true
}

func rateLimitMiddleware(rl *rateLimiter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientAddr(r)
		if !rl.allow(key) {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte("rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientAddr(r *http.Request) string {
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
		parts := strings.Split(fwd, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	if strings.TrimSpace(r.RemoteAddr) != "" {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return "unknown"
}
