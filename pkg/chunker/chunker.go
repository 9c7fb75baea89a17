// Package chunker splits oversized quantized artifacts into Hub-standard
// parts and drives their upload, falling back to direct upload for files
// under the size threshold. Grounded in make_files.py's
// get_standard_chunk_name/split_file_standard/upload_large_file.
package chunker

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/readyforquantum/quantforge/pkg/core"
	"github.com/readyforquantum/quantforge/pkg/hub"
)

// readBufferBytes is the copy buffer used while writing chunk parts.
const readBufferBytes = 1 << 30 // 1GB

var precisionSuffixPattern = regexp.MustCompile(`(?i)-(f16|bf16|q[0-9]_[kmls]|iq\d_\w+)$`)

// PartName generates the Hub-standard chunk filename for one part of a
// split artifact, stripping any existing quantization suffix from
// baseName first so re-chunking an already-named file doesn't double it up.
func PartName(baseName, quantType string, partNum, totalParts int) string {
	clean := precisionSuffixPattern.ReplaceAllString(baseName, "")
	return fmt.Sprintf("%s-%s-%05d-of-%05d.gguf", clean, quantType, partNum, totalParts)
}

// Chunker splits artifacts into parts according to a ChunkLimits; Uploader
// performs the uploads.
type Chunker struct {
	cfg ChunkLimits
}

// ChunkLimits mirrors core.ChunkConfig's fields, kept as a separate type
// so this package does not need to import core.Config wholesale.
type ChunkLimits struct {
	SoftLimitBytes          int64
	SafetyFactor            float64
	LargeFileThresholdBytes int64
}

// FromConfig adapts a core.ChunkConfig into ChunkLimits.
func FromConfig(cfg core.ChunkConfig) ChunkLimits {
	return ChunkLimits{
		SoftLimitBytes:          cfg.SoftLimitBytes,
		SafetyFactor:            cfg.SafetyFactor,
		LargeFileThresholdBytes: cfg.LargeFileThresholdBytes,
	}
}

// New builds a Chunker from the given limits.
func New(limits ChunkLimits) *Chunker {
	return &Chunker{cfg: limits}
}

func (c *Chunker) safeChunkSize() int64 {
	return int64(float64(c.cfg.SoftLimitBytes) * c.cfg.SafetyFactor)
}

// Split divides filePath into Hub-standard-named parts of at most
// safeChunkSize bytes each, written alongside the source file. On any
// failure, already-written parts are removed before returning the error.
func (c *Chunker) Split(filePath, quantType string) ([]string, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrChunkWriteFailed, err)
	}

	safeSize := c.safeChunkSize()
	if safeSize <= 0 {
		return nil, fmt.Errorf("%w: non-positive chunk size", core.ErrChunkWriteFailed)
	}

	totalSize := info.Size()
	totalParts := int(math.Ceil(float64(totalSize) / float64(safeSize)))
	if totalParts < 1 {
		totalParts = 1
	}

	baseName := strings.TrimSuffix(filepath.Base(filePath), ".gguf")
	dir := filepath.Dir(filePath)

	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrChunkWriteFailed, err)
	}
	defer f.Close()

	var parts []string
	cleanup := func() {
		for _, p := range parts {
			os.Remove(p)
		}
	}

	buf := make([]byte, readBufferBytes)
	for partNum := 1; partNum <= totalParts; partNum++ {
		chunkPath := filepath.Join(dir, PartName(baseName, quantType, partNum, totalParts))
		written, err := writeChunk(f, chunkPath, safeSize, buf)
		if err != nil {
			os.Remove(chunkPath)
			cleanup()
			return nil, fmt.Errorf("%w: %v", core.ErrChunkWriteFailed, err)
		}
		parts = append(parts, chunkPath)
		if written < safeSize {
			break
		}
	}

	return parts, nil
}

func writeChunk(src io.Reader, chunkPath string, limit int64, buf []byte) (int64, error) {
	out, err := os.Create(chunkPath)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	var written int64
	for written < limit {
		toRead := int64(len(buf))
		if remaining := limit - written; remaining < toRead {
			toRead = remaining
		}
		n, err := src.Read(buf[:toRead])
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return written, werr
			}
			written += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// Uploader drives the direct-vs-chunked upload decision and the actual
// Hub transfer via a hub.Client.
type Uploader struct {
	chunker *Chunker
	client  hub.Client
}

// NewUploader builds an Uploader backed by client, chunking with limits.
func NewUploader(client hub.Client, limits ChunkLimits) *Uploader {
	return &Uploader{chunker: New(limits), client: client}
}

// Upload uploads filePath to repoID, splitting it into quantName-named
// parts under a quantName-derived folder first if it exceeds the
// configured large-file threshold. Each chunk is removed locally once its
// upload is acknowledged.
func (u *Uploader) Upload(ctx context.Context, filePath, repoID, quantName string) error {
	info, err := os.Stat(filePath)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrUploadFailed, err)
	}

	if info.Size() <= u.chunker.cfg.LargeFileThresholdBytes {
		if err := u.client.UploadFile(ctx, repoID, filePath, hub.UploadOptions{}); err != nil {
			return fmt.Errorf("%w: %v", core.ErrUploadFailed, err)
		}
		return nil
	}

	parts, err := u.chunker.Split(filePath, quantName)
	if err != nil {
		return err
	}

	folder := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(quantName)), "_", "-")
	for _, part := range parts {
		opts := hub.UploadOptions{
			PathInRepo: folder + "/" + filepath.Base(part),
			CreateRepo: true,
		}
		if err := u.client.UploadFile(ctx, repoID, part, opts); err != nil {
			return fmt.Errorf("%w: chunk %s: %v", core.ErrUploadFailed, part, err)
		}
		if err := os.Remove(part); err != nil {
			return fmt.Errorf("%w: removing uploaded chunk %s: %v", core.ErrUploadFailed, part, err)
		}
	}
	return nil
}
