package core

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Config — central configuration for a quantforge process (daemon, batch
// driver, or single-model CLI run).
//
// The configuration is resolved through a four-level hierarchy where each
// layer overrides values set by the layer beneath it:
//
//	Priority (highest → lowest):
//	  1. Programmatic overrides (CLI flags applied after loading)
//	  2. Environment variables (FORGE_* prefix, plus a .env file)
//	  3. YAML configuration file
//	  4. Built-in defaults
//
// All duration fields accept standard Go duration strings when supplied
// through the YAML file or environment variables (e.g. "30s", "5m", "1h").
// ---------------------------------------------------------------------------

// HubConfig groups settings for reaching the model Hub.
type HubConfig struct {
	// BaseURL is the root of the Hub REST API.
	BaseURL string `yaml:"baseURL"`

	// Token authenticates privileged operations (repo creation, uploads).
	// Normally sourced from the HF_API_TOKEN environment variable rather
	// than committed to a YAML file.
	Token string `yaml:"token"`

	// RequestTimeout bounds a single Hub HTTP call.
	RequestTimeout time.Duration `yaml:"requestTimeout"`

	// MaxRetries is the number of additional attempts after a failed Hub
	// call before giving up, used by the backoff-wrapped client.
	MaxRetries int `yaml:"maxRetries"`
}

// CatalogConfig groups settings for the durable model catalog.
type CatalogConfig struct {
	// RedisAddr is the "host:port" of the Redis catalog store. Empty
	// disables Redis and falls back to the local file-backed store.
	RedisAddr string `yaml:"redisAddr"`

	// RedisUser and RedisPassword authenticate the Redis connection.
	RedisUser     string `yaml:"redisUser"`
	RedisPassword string `yaml:"redisPassword"`

	// RedisDB selects the logical Redis database number.
	RedisDB int `yaml:"redisDB"`

	// LocalPath is the file used by the local catalog store.
	LocalPath string `yaml:"localPath"`

	// BackupInterval is loaded and validated (it must not be negative),
	// but no component reads it: no periodic backup of the catalog runs.
	BackupInterval time.Duration `yaml:"backupInterval"`
}

// DiskConfig groups disk-space and Hub-cache management settings.
type DiskConfig struct {
	// CacheDir is the Hub download cache directory to monitor and evict from.
	CacheDir string `yaml:"cacheDir"`

	// WorkDir is the scratch directory for in-progress conversions.
	WorkDir string `yaml:"workDir"`

	// MinFreeBytes is the floor that must remain free after reclamation,
	// independent of any single model's required space.
	MinFreeBytes int64 `yaml:"minFreeBytes"`

	// SafetyFactor multiplies the raw required-space estimate (parameters
	// × bytesPerParam × diskcache's conversionCopies) to leave headroom.
	SafetyFactor float64 `yaml:"safetyFactor"`
}

// PipelineConfig groups per-model conversion limits.
type PipelineConfig struct {
	// MaxParameters is the parameter-count ceiling for eligible models.
	MaxParameters int64 `yaml:"maxParameters"`

	// MaxAttempts is how many failed attempts a model may accumulate
	// before being permanently excluded from future cycles.
	MaxAttempts int `yaml:"maxAttempts"`

	// BytesPerParam is the assumed on-disk size of one BF16 parameter.
	BytesPerParam int64 `yaml:"bytesPerParam"`

	// AllowRequantize passes --allow-requantize to every llama-quantize
	// invocation, including the Q5_1 fallback retry.
	AllowRequantize bool `yaml:"allowRequantize"`

	// Threads is the thread count passed to the quantizer subprocess.
	// 0 lets the quantizer choose its own default.
	Threads int `yaml:"threads"`

	// ExcludedOwners blocks entire Hub namespaces from ever being
	// considered, regardless of catalog state.
	ExcludedOwners []string `yaml:"excludedOwners"`
}

// ToolsConfig locates the external binaries the pipeline shells out to.
// None of these are reimplemented in Go: quantization and GGUF conversion
// are CPU/GPU-bound native tools this repository only orchestrates.
type ToolsConfig struct {
	// LlamaCppDir is the root of a llama.cpp checkout; llama-quantize and
	// llama-imatrix are expected at "<LlamaCppDir>/llama-quantize" etc.
	LlamaCppDir string `yaml:"llamaCppDir"`

	// ConvertScript converts a downloaded checkpoint to BF16 GGUF.
	ConvertScript string `yaml:"convertScript"`

	// ImatrixTrainSet is the calibration text file passed to
	// llama-imatrix when no prebuilt .imatrix file can be found.
	ImatrixTrainSet string `yaml:"imatrixTrainSet"`

	// TensorInfoScript writes a GGUF file's "tensor_name=quant_type"
	// lines to the file named by its -o argument; the pipeline reads
	// that file for the rule engine rather than
	// this repository parsing the GGUF binary format itself.
	TensorInfoScript string `yaml:"tensorInfoScript"`

	// RuleTablePath is a JSON file of per-tensor-pattern bump/override
	// rules, loaded once at startup via rules.LoadTable.
	RuleTablePath string `yaml:"ruleTablePath"`

	// QuantConfigsPath is a JSON file listing the site-wide quant configs
	// to build for every model, loaded once at startup via
	// planner.LoadConfigs.
	QuantConfigsPath string `yaml:"quantConfigsPath"`
}

// ChunkConfig groups chunked-upload settings.
type ChunkConfig struct {
	// SoftLimitBytes is the per-part size target before the safety
	// factor is applied.
	SoftLimitBytes int64 `yaml:"softLimitBytes"`

	// SafetyFactor shrinks SoftLimitBytes to leave headroom under the
	// Hub's hard per-file limit.
	SafetyFactor float64 `yaml:"safetyFactor"`

	// LargeFileThresholdBytes is the size above which a produced
	// artifact is split into parts rather than uploaded whole.
	LargeFileThresholdBytes int64 `yaml:"largeFileThresholdBytes"`
}

// SchedulerConfig groups daemon cycle settings.
type SchedulerConfig struct {
	// CycleInterval controls how often the scheduler wakes to rebuild
	// the eligible-model queue and drain it.
	CycleInterval time.Duration `yaml:"cycleInterval"`

	// TrendingLimit is loaded and validated (it must be at least 1), but
	// no component reads it: the scheduler does not pull candidates from
	// a Hub trending listing; it only sweeps entries already in the catalog.
	TrendingLimit int `yaml:"trendingLimit"`
}

// MCPAdminConfig groups the administrative Model Context Protocol surface.
type MCPAdminConfig struct {
	// Enabled controls whether the MCP admin surface starts at all.
	Enabled bool `yaml:"enabled"`

	// Addr is the listen address for the MCP admin server, when it
	// serves over streamable HTTP rather than stdio.
	Addr string `yaml:"addr"`

	// APIKey is an optional shared secret validated from the
	// X-API-Key header or Authorization: Bearer.
	APIKey string `yaml:"apiKey"`

	// Stdio runs the MCP server over stdio instead of HTTP, for direct
	// subprocess integration with an MCP-aware client.
	Stdio bool `yaml:"stdio"`
}

// Config is the root configuration object for a quantforge process.
type Config struct {
	Hub       HubConfig       `yaml:"hub"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Disk      DiskConfig      `yaml:"disk"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Tools     ToolsConfig     `yaml:"tools"`
	Chunk     ChunkConfig     `yaml:"chunk"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	MCPAdmin  MCPAdminConfig  `yaml:"mcpAdmin"`
}

// ---------------------------------------------------------------------------
// Factory functions
// ---------------------------------------------------------------------------

// DefaultConfig returns a Config populated with production-safe defaults.
func DefaultConfig() *Config {
	return &Config{
		Hub: HubConfig{
			BaseURL:        "https://huggingface.co",
			RequestTimeout: 30 * time.Second,
			MaxRetries:     4,
		},
		Catalog: CatalogConfig{
			RedisAddr:      "localhost:6379",
			RedisDB:        0,
			LocalPath:      "./data/catalog.db",
			BackupInterval: 10 * time.Minute,
		},
		Disk: DiskConfig{
			CacheDir:     "./cache",
			WorkDir:      "./work",
			MinFreeBytes: 10 << 30, // 10 GiB
			SafetyFactor: 1.1,
		},
		Pipeline: PipelineConfig{
			MaxParameters:  33_000_000_000,
			MaxAttempts:    3,
			BytesPerParam:  2,
			AllowRequantize: false,
			Threads:        0,
			ExcludedOwners: nil,
		},
		Tools: ToolsConfig{
			LlamaCppDir:      "./llama.cpp",
			ConvertScript:    "./llama.cpp/convert_hf_to_gguf.py",
			ImatrixTrainSet:  "./imatrix-train-set.txt",
			TensorInfoScript: "./tools/get_gguf_tensor_info.py",
			RuleTablePath:    "./config/rules.json",
			QuantConfigsPath: "./config/quant_configs.json",
		},
		Chunk: ChunkConfig{
			SoftLimitBytes:          45 << 30, // 45 GiB
			SafetyFactor:            0.95,
			LargeFileThresholdBytes: int64(49.5 * float64(int64(1)<<30)),
		},
		Scheduler: SchedulerConfig{
			CycleInterval: 1 * time.Hour,
			TrendingLimit: 100,
		},
		MCPAdmin: MCPAdminConfig{
			Enabled: false,
			Addr:    ":7070",
			Stdio:   false,
		},
	}
}

// ConfigFromFile reads a YAML configuration file and merges it on top of
// the built-in defaults. Fields absent from the file retain their defaults.
func ConfigFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	return cfg, nil
}

// ConfigFromEnv applies environment variable overrides to the given Config.
// If cfg is nil a new default Config is created first. Before reading the
// process environment, it loads a ".env" file in the working directory if
// present, so secrets like HF_API_TOKEN need not be exported manually.
//
// Environment variable mapping (all optional):
//
//	HF_API_TOKEN                → Hub.Token
//	FORGE_HUB_BASE_URL          → Hub.BaseURL
//	FORGE_HUB_REQUEST_TIMEOUT   → Hub.RequestTimeout   (duration string)
//	FORGE_HUB_MAX_RETRIES       → Hub.MaxRetries
//	REDIS_HOST, REDIS_PORT      → Catalog.RedisAddr    (combined "host:port")
//	REDIS_USER                  → Catalog.RedisUser
//	REDIS_PASSWORD              → Catalog.RedisPassword
//	FORGE_REDIS_DB              → Catalog.RedisDB
//	FORGE_CATALOG_LOCAL_PATH    → Catalog.LocalPath
//	FORGE_CATALOG_BACKUP_INTERVAL → Catalog.BackupInterval (duration string)
//	FORGE_CACHE_DIR             → Disk.CacheDir
//	FORGE_WORK_DIR              → Disk.WorkDir
//	FORGE_MIN_FREE_BYTES        → Disk.MinFreeBytes
//	FORGE_DISK_SAFETY_FACTOR    → Disk.SafetyFactor    (float)
//	FORGE_MAX_PARAMETERS        → Pipeline.MaxParameters
//	FORGE_MAX_ATTEMPTS          → Pipeline.MaxAttempts
//	FORGE_BYTES_PER_PARAM       → Pipeline.BytesPerParam
//	FORGE_ALLOW_REQUANTIZE      → Pipeline.AllowRequantize ("true"/"false")
//	FORGE_THREADS               → Pipeline.Threads
//	FORGE_EXCLUDED_OWNERS       → Pipeline.ExcludedOwners (comma-separated)
//	FORGE_LLAMACPP_DIR          → Tools.LlamaCppDir
//	FORGE_CONVERT_SCRIPT        → Tools.ConvertScript
//	FORGE_IMATRIX_TRAIN_SET     → Tools.ImatrixTrainSet
//	FORGE_TENSOR_INFO_SCRIPT    → Tools.TensorInfoScript
//	FORGE_RULE_TABLE_PATH       → Tools.RuleTablePath
//	FORGE_QUANT_CONFIGS_PATH    → Tools.QuantConfigsPath
//	FORGE_CHUNK_SOFT_LIMIT_BYTES → Chunk.SoftLimitBytes
//	FORGE_CHUNK_SAFETY_FACTOR   → Chunk.SafetyFactor   (float)
//	FORGE_CHUNK_LARGE_FILE_THRESHOLD_BYTES → Chunk.LargeFileThresholdBytes
//	FORGE_CYCLE_INTERVAL        → Scheduler.CycleInterval (duration string)
//	FORGE_TRENDING_LIMIT        → Scheduler.TrendingLimit
//	FORGE_MCP_ADMIN_ENABLED     → MCPAdmin.Enabled     ("true"/"false")
//	FORGE_MCP_ADMIN_ADDR        → MCPAdmin.Addr
//	FORGE_MCP_ADMIN_API_KEY     → MCPAdmin.APIKey
//	FORGE_MCP_ADMIN_STDIO       → MCPAdmin.Stdio       ("true"/"false")
func ConfigFromEnv(cfg *Config) *Config {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	_ = godotenv.Load()

	// -- Hub --
	setEnvStr("HF_API_TOKEN", &cfg.Hub.Token)
	setEnvStr("FORGE_HUB_BASE_URL", &cfg.Hub.BaseURL)
	setEnvDuration("FORGE_HUB_REQUEST_TIMEOUT", &cfg.Hub.RequestTimeout)
	setEnvInt("FORGE_HUB_MAX_RETRIES", &cfg.Hub.MaxRetries)

	// -- Catalog / Redis --
	host := os.Getenv("REDIS_HOST")
	port := os.Getenv("REDIS_PORT")
	if host != "" {
		if port == "" {
			port = "6379"
		}
		cfg.Catalog.RedisAddr = host + ":" + port
	}
	setEnvStr("REDIS_USER", &cfg.Catalog.RedisUser)
	setEnvStr("REDIS_PASSWORD", &cfg.Catalog.RedisPassword)
	setEnvInt("FORGE_REDIS_DB", &cfg.Catalog.RedisDB)
	setEnvStr("FORGE_CATALOG_LOCAL_PATH", &cfg.Catalog.LocalPath)
	setEnvDuration("FORGE_CATALOG_BACKUP_INTERVAL", &cfg.Catalog.BackupInterval)

	// -- Disk --
	setEnvStr("FORGE_CACHE_DIR", &cfg.Disk.CacheDir)
	setEnvStr("FORGE_WORK_DIR", &cfg.Disk.WorkDir)
	setEnvInt64("FORGE_MIN_FREE_BYTES", &cfg.Disk.MinFreeBytes)
	setEnvFloat("FORGE_DISK_SAFETY_FACTOR", &cfg.Disk.SafetyFactor)

	// -- Pipeline --
	setEnvInt64("FORGE_MAX_PARAMETERS", &cfg.Pipeline.MaxParameters)
	setEnvInt("FORGE_MAX_ATTEMPTS", &cfg.Pipeline.MaxAttempts)
	setEnvInt64("FORGE_BYTES_PER_PARAM", &cfg.Pipeline.BytesPerParam)
	setEnvBool("FORGE_ALLOW_REQUANTIZE", &cfg.Pipeline.AllowRequantize)
	setEnvInt("FORGE_THREADS", &cfg.Pipeline.Threads)
	setEnvCSV("FORGE_EXCLUDED_OWNERS", &cfg.Pipeline.ExcludedOwners)

	// -- Tools --
	setEnvStr("FORGE_LLAMACPP_DIR", &cfg.Tools.LlamaCppDir)
	setEnvStr("FORGE_CONVERT_SCRIPT", &cfg.Tools.ConvertScript)
	setEnvStr("FORGE_IMATRIX_TRAIN_SET", &cfg.Tools.ImatrixTrainSet)
	setEnvStr("FORGE_TENSOR_INFO_SCRIPT", &cfg.Tools.TensorInfoScript)
	setEnvStr("FORGE_RULE_TABLE_PATH", &cfg.Tools.RuleTablePath)
	setEnvStr("FORGE_QUANT_CONFIGS_PATH", &cfg.Tools.QuantConfigsPath)

	// -- Chunk --
	setEnvInt64("FORGE_CHUNK_SOFT_LIMIT_BYTES", &cfg.Chunk.SoftLimitBytes)
	setEnvFloat("FORGE_CHUNK_SAFETY_FACTOR", &cfg.Chunk.SafetyFactor)
	setEnvInt64("FORGE_CHUNK_LARGE_FILE_THRESHOLD_BYTES", &cfg.Chunk.LargeFileThresholdBytes)

	// -- Scheduler --
	setEnvDuration("FORGE_CYCLE_INTERVAL", &cfg.Scheduler.CycleInterval)
	setEnvInt("FORGE_TRENDING_LIMIT", &cfg.Scheduler.TrendingLimit)

	// -- MCP admin --
	setEnvBool("FORGE_MCP_ADMIN_ENABLED", &cfg.MCPAdmin.Enabled)
	setEnvStr("FORGE_MCP_ADMIN_ADDR", &cfg.MCPAdmin.Addr)
	setEnvStr("FORGE_MCP_ADMIN_API_KEY", &cfg.MCPAdmin.APIKey)
	setEnvBool("FORGE_MCP_ADMIN_STDIO", &cfg.MCPAdmin.Stdio)

	return cfg
}

// LoadConfig implements the full four-level configuration hierarchy:
//
//  1. Start with built-in defaults.
//  2. If configPath is non-empty, overlay the YAML file.
//  3. Apply environment variable overrides (including a .env file).
//  4. The caller may then apply programmatic overrides (e.g. CLI flags).
//
// Returns the merged Config or an error if the file cannot be read/parsed.
func LoadConfig(configPath string) (*Config, error) {
	var cfg *Config

	if configPath != "" {
		var err error
		cfg, err = ConfigFromFile(configPath)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = DefaultConfig()
	}

	cfg = ConfigFromEnv(cfg)
	return cfg, nil
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// Validate performs structural validation of the entire configuration.
// Returns a descriptive error for the first invalid field encountered.
func (c *Config) Validate() error {
	// Hub
	if c.Hub.BaseURL == "" {
		return fmt.Errorf("hub.baseURL must not be empty")
	}
	if c.Hub.RequestTimeout <= 0 {
		return fmt.Errorf("hub.requestTimeout must be > 0")
	}
	if c.Hub.MaxRetries < 0 {
		return fmt.Errorf("hub.maxRetries must be >= 0")
	}

	// Catalog
	if c.Catalog.RedisAddr == "" && c.Catalog.LocalPath == "" {
		return fmt.Errorf("catalog.redisAddr and catalog.localPath must not both be empty")
	}
	if c.Catalog.BackupInterval < 0 {
		return fmt.Errorf("catalog.backupInterval must be >= 0")
	}

	// Disk
	if c.Disk.CacheDir == "" {
		return fmt.Errorf("disk.cacheDir must not be empty")
	}
	if c.Disk.WorkDir == "" {
		return fmt.Errorf("disk.workDir must not be empty")
	}
	if c.Disk.MinFreeBytes < 0 {
		return fmt.Errorf("disk.minFreeBytes must be >= 0")
	}
	if c.Disk.SafetyFactor < 1.0 {
		return fmt.Errorf("disk.safetyFactor must be >= 1.0, got %f", c.Disk.SafetyFactor)
	}

	// Pipeline
	if c.Pipeline.MaxParameters <= 0 {
		return fmt.Errorf("pipeline.maxParameters must be > 0")
	}
	if c.Pipeline.MaxAttempts < 1 {
		return fmt.Errorf("pipeline.maxAttempts must be >= 1, got %d", c.Pipeline.MaxAttempts)
	}
	if c.Pipeline.BytesPerParam <= 0 {
		return fmt.Errorf("pipeline.bytesPerParam must be > 0")
	}
	if c.Pipeline.Threads < 0 {
		return fmt.Errorf("pipeline.threads must be >= 0, got %d", c.Pipeline.Threads)
	}

	// Tools
	if c.Tools.LlamaCppDir == "" {
		return fmt.Errorf("tools.llamaCppDir must not be empty")
	}
	if c.Tools.RuleTablePath == "" {
		return fmt.Errorf("tools.ruleTablePath must not be empty")
	}
	if c.Tools.QuantConfigsPath == "" {
		return fmt.Errorf("tools.quantConfigsPath must not be empty")
	}

	// Chunk
	if c.Chunk.SoftLimitBytes <= 0 {
		return fmt.Errorf("chunk.softLimitBytes must be > 0")
	}
	if c.Chunk.SafetyFactor <= 0 || c.Chunk.SafetyFactor > 1 {
		return fmt.Errorf("chunk.safetyFactor must be in (0, 1], got %f", c.Chunk.SafetyFactor)
	}
	if c.Chunk.LargeFileThresholdBytes <= 0 {
		return fmt.Errorf("chunk.largeFileThresholdBytes must be > 0")
	}

	// Scheduler
	if c.Scheduler.CycleInterval <= 0 {
		return fmt.Errorf("scheduler.cycleInterval must be > 0")
	}
	if c.Scheduler.TrendingLimit < 1 {
		return fmt.Errorf("scheduler.trendingLimit must be >= 1, got %d", c.Scheduler.TrendingLimit)
	}

	// MCP admin
	if c.MCPAdmin.Enabled && !c.MCPAdmin.Stdio && c.MCPAdmin.Addr == "" {
		return fmt.Errorf("mcpAdmin.addr must not be empty when mcpAdmin is enabled over HTTP")
	}

	if c.Pipeline.MaxParameters > 200_000_000_000 {
		log.Printf("WARNING: pipeline.maxParameters=%d is extremely high; disk and memory usage will be significant", c.Pipeline.MaxParameters)
	}

	return nil
}

// ---------------------------------------------------------------------------
// Environment variable helpers
// ---------------------------------------------------------------------------

func setEnvStr(key string, target *string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func setEnvBool(key string, target *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*target = b
		}
	}
}

func setEnvInt(key string, target *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func setEnvInt64(key string, target *int64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*target = n
		}
	}
}

func setEnvDuration(key string, target *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*target = d
		}
	}
}

func setEnvFloat(key string, target *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*target = f
		}
	}
}

func setEnvCSV(key string, target *[]string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
		*target = out
	}
}

// ---------------------------------------------------------------------------
// CLI flag overrides — final layer of the configuration hierarchy.
// ---------------------------------------------------------------------------

// CLIOverrides carries optional values set via command-line flags.
// Pointer fields are nil when the flag was not explicitly provided,
// allowing the caller to distinguish "not set" from the zero value.
type CLIOverrides struct {
	ConfigPath      *string
	MaxParameters   *int64
	MaxAttempts     *int
	AllowRequantize *bool
	Threads         *int
	CacheDir        *string
	WorkDir         *string
	RedisAddr       *string
	CycleInterval   *time.Duration
	TrendingLimit   *int
	MCPAddr         *string
	MCPAPIKey       *string
	MCPStdio        *bool
}

// ApplyCLIOverrides patches the Config with any explicitly-set CLI flags.
// Only non-nil fields in the CLIOverrides are applied, preserving all
// values resolved from earlier hierarchy layers.
func (c *Config) ApplyCLIOverrides(o *CLIOverrides) {
	if o == nil {
		return
	}
	if o.MaxParameters != nil {
		c.Pipeline.MaxParameters = *o.MaxParameters
	}
	if o.MaxAttempts != nil {
		c.Pipeline.MaxAttempts = *o.MaxAttempts
	}
	if o.AllowRequantize != nil {
		c.Pipeline.AllowRequantize = *o.AllowRequantize
	}
	if o.Threads != nil {
		c.Pipeline.Threads = *o.Threads
	}
	if o.CacheDir != nil {
		c.Disk.CacheDir = *o.CacheDir
	}
	if o.WorkDir != nil {
		c.Disk.WorkDir = *o.WorkDir
	}
	if o.RedisAddr != nil {
		c.Catalog.RedisAddr = *o.RedisAddr
	}
	if o.CycleInterval != nil {
		c.Scheduler.CycleInterval = *o.CycleInterval
	}
	if o.TrendingLimit != nil {
		c.Scheduler.TrendingLimit = *o.TrendingLimit
	}
	if o.MCPAddr != nil {
		c.MCPAdmin.Addr = *o.MCPAddr
	}
	if o.MCPAPIKey != nil {
		c.MCPAdmin.APIKey = *o.MCPAPIKey
	}
	if o.MCPStdio != nil {
		c.MCPAdmin.Stdio = *o.MCPStdio
	}
}

// ---------------------------------------------------------------------------
// Lifecycle helpers
// ---------------------------------------------------------------------------

// WaitForShutdown blocks until an OS interrupt or termination signal is
// received, then cancels the provided context to initiate graceful shutdown.
func WaitForShutdown(ctx context.Context, cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Printf("received signal %v, initiating shutdown...", sig)
		cancel()
	case <-ctx.Done():
	}
}

// PrintBanner prints the quantforge ASCII art banner to stdout.
func PrintBanner() {
	banner := `
   ____                  _    _____
  / __ \__  ______ _____ | |_ / ____/___  _________ ____
 / / / / / / / __  / __ \| __// /_  / __ \/ ___/ __  / _ \
/ /_/ / /_/ / /_/ / / / /| |_/ __/ / /_/ / /  / /_/ /  __/
\___\_\__,_/\__,_/_/ /_/  \__/_/    \____/_/   \__, /\___/
                                               /____/
    GGUF quantization pipeline
    ────────────────────────────────────
`
	fmt.Print(banner)
}
