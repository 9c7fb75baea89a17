// Package pipeline drives a single model through the full conversion
// pipeline: claim, download+convert to BF16, quantize each configured
// variant (via the rule engine and planner), upload, and release. Grounded
// in model_converter.py's convert_model and make_files.py's
// quantize_model/quantize_with_fallback/download_imatrix.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/readyforquantum/quantforge/pkg/catalog"
	"github.com/readyforquantum/quantforge/pkg/chunker"
	"github.com/readyforquantum/quantforge/pkg/core"
	"github.com/readyforquantum/quantforge/pkg/diskcache"
	execpkg "github.com/readyforquantum/quantforge/pkg/exec"
	"github.com/readyforquantum/quantforge/pkg/hub"
	"github.com/readyforquantum/quantforge/pkg/planner"
	"github.com/readyforquantum/quantforge/pkg/rules"
)

// reclaimKLargest is how many cache items the largest-eviction tier removes
// per attempt, matching the source's single-pass "remove a handful of big
// directories" cleanup.
const reclaimKLargest = 5

// Orchestrator runs the conversion pipeline for one model at a time. It
// holds no per-run state: every method is safe to call repeatedly for
// different keys, and two Orchestrators sharing a Store safely coordinate
// through the catalog's converting/failed markers.
type Orchestrator struct {
	Store     catalog.Store
	Disk      *diskcache.Manager
	Hub       hub.Client
	Uploader  *chunker.Uploader
	RuleTable *rules.Table
	Configs   []planner.QuantConfig

	Pipeline core.PipelineConfig
	Tools    core.ToolsConfig
}

// Convert runs the full pipeline for key. daemonMode mirrors the source's
// behavior of treating persistent, post-cleanup disk exhaustion as fatal
// to the whole process rather than just this one model.
func (o *Orchestrator) Convert(ctx context.Context, key core.ModelKey, daemonMode bool) error {
	log.Printf("begin conversion for %s", key)

	converting, err := o.Store.IsConverting(ctx, key)
	if err != nil {
		return err
	}
	if converting {
		failed, err := o.Store.IsFailed(ctx, key)
		if err != nil {
			return err
		}
		if !failed {
			log.Printf("%s is already being converted by another run, skipping", key)
			return nil
		}
		log.Printf("resuming failed conversion for %s", key)
	}

	entry, err := o.Store.Get(ctx, key)
	if err != nil {
		return err
	}

	if entry.Attempts >= o.Pipeline.MaxAttempts {
		_ = o.Store.UnmarkConverting(ctx, key)
		return fmt.Errorf("%w: %s has used %d attempts", core.ErrMaxAttemptsReached, key, entry.Attempts)
	}

	if err := o.ensureSpace(key, entry); err != nil {
		if daemonMode {
			log.Fatalf("persistent insufficient disk space for %s, stopping daemon: %v", key, err)
		}
		return err
	}

	now := time.Now().UTC()
	if err := o.Store.Update(ctx, key, func(e *core.ModelEntry) error {
		e.Attempts++
		e.LastAttempt = now
		return nil
	}); err != nil {
		return err
	}

	quantProgress, err := o.Store.GetQuantProgress(ctx, key)
	if err != nil {
		return err
	}
	if quantProgress != "" {
		log.Printf("resuming quantization for %s from %s", key, quantProgress)
	}

	if _, err := o.Store.MarkConverting(ctx, key); err != nil {
		return err
	}

	success := o.runPipeline(ctx, key, entry, quantProgress)

	return o.finalize(ctx, key, success)
}

func (o *Orchestrator) ensureSpace(key core.ModelKey, entry *core.ModelEntry) error {
	needed, err := diskcache.RequiredSpace(entry.Parameters, o.Pipeline.BytesPerParam, o.Disk.SafetyFactor(), 0)
	if err != nil {
		return fmt.Errorf("cannot determine space requirements for %s: %w", key, err)
	}

	fits, err := o.Disk.CanFit(entry.Parameters, o.Pipeline.BytesPerParam)
	if err != nil {
		return err
	}
	if fits {
		return nil
	}

	log.Printf("insufficient space for %s (need %d bytes), reclaiming", key, needed)
	if err := o.Disk.Reclaim(key, needed, reclaimKLargest); err != nil {
		return fmt.Errorf("%w for %s", core.ErrInsufficientSpace, key)
	}
	return nil
}

// runPipeline executes the download/convert, quantize, and upload stages
// in order, stopping at the first failure. It never returns an error
// directly: every failure is logged and folded into the bool result, so
// finalize always runs the same cleanup regardless of which stage failed.
func (o *Orchestrator) runPipeline(ctx context.Context, key core.ModelKey, entry *core.ModelEntry, quantProgress string) bool {
	workDir := filepath.Join(o.Disk.WorkDir(), key.BaseName())
	bf16Path := filepath.Join(workDir, key.BaseName()+"-bf16.gguf")

	if _, err := os.Stat(bf16Path); err == nil {
		log.Printf("BF16 artifact already exists at %s, skipping download/convert", bf16Path)
	} else {
		if err := o.downloadAndConvert(ctx, key, workDir, bf16Path); err != nil {
			log.Printf("download/convert failed for %s: %v", key, err)
			o.appendError(ctx, key, err)
			return false
		}
	}

	if _, err := os.Stat(bf16Path); err != nil {
		log.Printf("BF16 file not found for %s after conversion step", key)
		o.appendError(ctx, key, fmt.Errorf("%w: %s", core.ErrBaseArtifactMissing, bf16Path))
		return false
	}

	if err := o.Store.UnmarkFailed(ctx, key); err != nil {
		log.Printf("failed to clear failed-marker for %s: %v", key, err)
	}

	if err := o.quantizeAll(ctx, key, workDir, bf16Path, entry.IsMOE, quantProgress); err != nil {
		log.Printf("quantization failed for %s: %v", key, err)
		o.appendError(ctx, key, err)
		return false
	}

	log.Printf("successfully converted %s", key)
	return true
}

func (o *Orchestrator) appendError(ctx context.Context, key core.ModelKey, cause error) {
	_ = o.Store.Update(ctx, key, func(e *core.ModelEntry) error {
		e.ErrorLog = append(e.ErrorLog, cause.Error())
		return nil
	})
}

// downloadAndConvert downloads key's safetensors checkpoint and converts
// it to a BF16 GGUF via the configured convert script, matching the
// source's download_convert.py step.
func (o *Orchestrator) downloadAndConvert(ctx context.Context, key core.ModelKey, workDir, bf16Path string) error {
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return fmt.Errorf("creating work dir: %w", err)
	}

	args := []string{string(key), "--outfile", bf16Path, "--outtype", "bf16"}
	res, err := execpkg.Run(ctx, o.Tools.ConvertScript, args, workDir, logLine(key, "convert"))
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrStepFailed, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%w: convert script exited %d", core.ErrStepFailed, res.ExitCode)
	}
	return nil
}

func logLine(key core.ModelKey, stage string) execpkg.LineFunc {
	return func(l execpkg.OutputLine) {
		if l.Stderr {
			log.Printf("[%s:%s] %s", key, stage, l.Text)
		}
	}
}

// quantizeAll produces and uploads every quant config surviving
// planner.FilterConfigs, resuming past quantProgress if it names a
// config already completed by a previous run. Mirrors quantize_model's
// progress-tracking loop.
func (o *Orchestrator) quantizeAll(ctx context.Context, key core.ModelKey, workDir, bf16Path string, isMOE bool, quantProgress string) error {
	params, _ := planner.ParametersFromName(key.BaseName())
	isTriLM := strings.Contains(key.BaseName(), "TriLM")
	configs := planner.FilterConfigs(o.Configs, params, isTriLM)
	if len(configs) == 0 {
		return core.ErrNoQuantConfigs
	}

	startIdx := 0
	if quantProgress != "" && quantProgress != "imatrix" {
		for i, c := range configs {
			if c.Name == quantProgress {
				startIdx = i + 1
				break
			}
		}
	}

	repoID := fmt.Sprintf("%s-GGUF", key.BaseName())
	repoCreated := false

	for idx := startIdx; idx < len(configs); idx++ {
		cfg := configs[idx]
		// Sentinel only; does not advance the cursor past any config, so a
		// crash before the upload below completes replays this config.
		if err := o.Store.SetQuantProgress(ctx, key, "imatrix"); err != nil {
			return err
		}

		outputPath := filepath.Join(workDir, fmt.Sprintf("%s-%s.gguf", key.BaseName(), cfg.Name))
		if err := o.quantizeOne(ctx, key, bf16Path, outputPath, cfg, isMOE); err != nil {
			log.Printf("quantization of %s failed for %s, skipping: %v", cfg.Name, key, err)
			continue
		}
		log.Printf("produced %s for %s", outputPath, key)

		if !repoCreated {
			if err := o.Hub.CreateRepo(ctx, repoID); err != nil {
				return fmt.Errorf("creating repo %s: %w", repoID, err)
			}
			repoCreated = true
		}

		if err := o.Uploader.Upload(ctx, outputPath, repoID, cfg.Name); err != nil {
			return err
		}
		if err := os.Remove(outputPath); err != nil {
			log.Printf("failed to remove uploaded artifact %s: %v", outputPath, err)
		}

		if err := o.Store.SetQuantProgress(ctx, key, cfg.Name); err != nil {
			return err
		}
	}

	imatrixFile := filepath.Join(workDir, key.BaseName()+".imatrix")
	if _, err := os.Stat(imatrixFile); err == nil && repoCreated {
		opts := hub.UploadOptions{PathInRepo: "imatrix/" + filepath.Base(imatrixFile)}
		if err := o.Hub.UploadFile(ctx, repoID, imatrixFile, opts); err != nil {
			return fmt.Errorf("uploading imatrix for %s: %w", key, err)
		}
	}

	return o.Store.ClearQuantProgress(ctx, key)
}

// quantizeOne invokes llama-quantize for a single config, retrying with
// the Q5_1 compatibility fallback if the first attempt fails and the
// config's tensor/embed types are in the known-unstable Q5_K/Q6_K family.
// Mirrors quantize_with_fallback.
func (o *Orchestrator) quantizeOne(ctx context.Context, key core.ModelKey, bf16Path, outputPath string, cfg planner.QuantConfig, isMOE bool) error {
	tempOutput := outputPath + ".tmp"
	defer os.Remove(tempOutput)

	precisionOverride := ""
	switch {
	case strings.Contains(strings.ToLower(cfg.Name), "bf16"):
		precisionOverride = "BF16"
	case strings.Contains(strings.ToLower(cfg.Name), "f16"):
		precisionOverride = "F16"
	}

	tensors, err := o.scanTensors(ctx, bf16Path)
	if err != nil {
		return err
	}
	suggestions := rules.Plan(tensors, o.RuleTable, cfg.QuantType, isMOE, precisionOverride)
	tensorArgs := rules.TensorTypeArgs(suggestions)

	var imatrixPath string
	if cfg.UseImatrix {
		imatrixPath, err = o.downloadImatrix(ctx, filepath.Dir(bf16Path), key.BaseName())
		if err != nil {
			return err
		}
	}

	attempt := func(tensorType, embedType string) error {
		args := o.quantizeArgs(tempOutput, bf16Path, cfg, tensorType, embedType, tensorArgs, imatrixPath)
		res, err := execpkg.Run(ctx, filepath.Join(o.Tools.LlamaCppDir, "llama-quantize"), args, filepath.Dir(bf16Path), logLine(key, "quantize:"+cfg.Name))
		if err != nil {
			return err
		}
		if res.ExitCode != 0 {
			return fmt.Errorf("llama-quantize exited %d", res.ExitCode)
		}
		return os.Rename(tempOutput, outputPath)
	}

	if err := attempt(cfg.TensorType, cfg.EmbedType); err == nil {
		return nil
	} else if !needsCompatibilityCheck(cfg) {
		return fmt.Errorf("%w: %v", core.ErrStepFailed, err)
	}

	log.Printf("Q5_K/Q6_K types not compatible for %s, retrying with Q5_1 fallback", cfg.Name)
	fallback, _ := planner.CompatibilityFallback(cfg)
	if err := attempt(fallback.TensorType, fallback.EmbedType); err != nil {
		return fmt.Errorf("%w: quantization failed even with fallback: %v", core.ErrStepFailed, err)
	}
	return nil
}

func needsCompatibilityCheck(cfg planner.QuantConfig) bool {
	unstable := func(t string) bool { return t == "Q5_K" || t == "Q6_K" }
	return unstable(cfg.TensorType) || unstable(cfg.EmbedType)
}

func (o *Orchestrator) quantizeArgs(tempOutput, bf16Path string, cfg planner.QuantConfig, tensorType, embedType string, tensorArgs []string, imatrixPath string) []string {
	var args []string
	if o.Pipeline.AllowRequantize {
		args = append(args, "--allow-requantize")
	}
	if imatrixPath != "" {
		args = append(args, "--imatrix", imatrixPath)
	}
	if cfg.UsePure {
		args = append(args, "--pure")
	}
	if tensorType != "" && embedType != "" {
		args = append(args, "--output-tensor-type", tensorType, "--token-embedding-type", embedType)
	}
	args = append(args, tensorArgs...)
	args = append(args, bf16Path, tempOutput, cfg.QuantType)
	if o.Pipeline.Threads > 0 {
		args = append(args, fmt.Sprintf("%d", o.Pipeline.Threads))
	}
	return args
}

// downloadImatrix returns the path to a usable .imatrix file for baseName,
// reusing a cached or previously generated copy, or otherwise generating it
// locally with llama-imatrix. It does not download a published imatrix
// file from the Hub. Mirrors download_imatrix.
func (o *Orchestrator) downloadImatrix(ctx context.Context, modelDir, baseName string) (string, error) {
	imatrixDir := filepath.Join(filepath.Dir(modelDir), "imatrix-files")
	cached := filepath.Join(imatrixDir, baseName+".imatrix")
	local := filepath.Join(modelDir, baseName+".imatrix")

	if _, err := os.Stat(cached); err == nil {
		data, err := os.ReadFile(cached)
		if err != nil {
			return "", err
		}
		if err := os.WriteFile(local, data, 0o644); err != nil {
			return "", err
		}
		return local, nil
	}

	if _, err := os.Stat(local); err == nil {
		return local, nil
	}

	bf16Path := filepath.Join(modelDir, baseName+"-bf16.gguf")
	if _, err := os.Stat(bf16Path); err != nil {
		return "", fmt.Errorf("cannot generate imatrix: %s not found", bf16Path)
	}

	args := []string{
		"-m", bf16Path,
		"-f", o.Tools.ImatrixTrainSet,
		"-o", local,
	}
	if o.Pipeline.Threads > 0 {
		args = append(args, "--threads", fmt.Sprintf("%d", o.Pipeline.Threads))
	}

	res, err := execpkg.Run(ctx, filepath.Join(o.Tools.LlamaCppDir, "llama-imatrix"), args, modelDir, nil)
	if err != nil || res.ExitCode != 0 {
		return "", fmt.Errorf("failed to generate imatrix file: %w", err)
	}

	if err := os.MkdirAll(imatrixDir, 0o755); err != nil {
		return "", err
	}
	data, err := os.ReadFile(local)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(cached, data, 0o644); err != nil {
		return "", err
	}
	return local, nil
}

// scanTensors reads a GGUF file's current tensor name/type table by
// running the configured tensor-info script and parsing its
// "name=quant_type" output lines. Mirrors get_current_quant_types, which
// shells out to get_gguf_tensor_info.py rather than parsing the GGUF
// binary format in-process.
func (o *Orchestrator) scanTensors(ctx context.Context, path string) ([]rules.TensorQuant, error) {
	outputFile := path + ".tensorinfo.txt"
	defer os.Remove(outputFile)

	res, err := execpkg.Run(ctx, o.Tools.TensorInfoScript, []string{path, "-o", outputFile}, "", nil)
	if err != nil {
		return nil, fmt.Errorf("reading tensor info for %s: %w", path, err)
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("tensor info script exited %d for %s", res.ExitCode, path)
	}

	data, err := os.ReadFile(outputFile)
	if err != nil {
		return nil, fmt.Errorf("reading tensor info output: %w", err)
	}

	var tensors []rules.TensorQuant
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		name, quant, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		tensors = append(tensors, rules.TensorQuant{Name: name, Type: quant})
	}
	return tensors, nil
}

// finalize applies the outcome of a pipeline run: cache cleanup, catalog
// status transitions, and the converting/failed marker bookkeeping that
// must happen regardless of which stage failed.
func (o *Orchestrator) finalize(ctx context.Context, key core.ModelKey, success bool) error {
	entry, err := o.Store.Get(ctx, key)
	if err != nil {
		return err
	}

	if success || entry.Attempts >= o.Pipeline.MaxAttempts {
		log.Printf("cleaning up cache for %s", key)
		if err := o.Disk.EvictModel(key); err != nil {
			log.Printf("failed to evict cache for %s: %v", key, err)
		}
	}

	if success {
		if err := o.Store.Update(ctx, key, func(e *core.ModelEntry) error {
			e.Converted = true
			e.SuccessDate = time.Now().UTC()
			e.ErrorLog = nil
			return nil
		}); err != nil {
			return err
		}
		return o.Store.UnmarkConverting(ctx, key)
	}

	if err := o.Store.MarkFailed(ctx, key); err != nil {
		return err
	}

	quantProgress, err := o.Store.GetQuantProgress(ctx, key)
	if err != nil {
		return err
	}
	if quantProgress == "" {
		return o.Store.UnmarkConverting(ctx, key)
	}
	log.Printf("leaving %s marked converting: quant progress %s pending resume", key, quantProgress)
	return nil
}
