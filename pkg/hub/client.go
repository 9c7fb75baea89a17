// Package hub defines the narrow surface this repository needs from a
// model-hosting Hub: resolving a repo's metadata and uploading files to it.
// The concrete HTTP client lives in http_client.go; callers should depend
// on the Client interface so alternate backends (a local mock for tests, a
// mirrored Hub) can be swapped in without touching orchestration code.
package hub

import (
	"context"
	"io"

	"github.com/readyforquantum/quantforge/pkg/core"
)

// RepoInfo is the subset of a Hub model repo's metadata this repository
// consumes for planning and eligibility decisions.
type RepoInfo struct {
	ID         string
	Parameters int64
	HasConfig  bool
	IsMOE      bool
	SHA        string
}

// UploadOptions controls where an uploaded file lands in the destination
// repo.
type UploadOptions struct {
	// PathInRepo is the destination path. If empty, the uploaded file's
	// base name is used at the repo root.
	PathInRepo string

	// CreateRepo creates the destination repo if it does not exist yet.
	CreateRepo bool
}

// Client is the Hub surface the pipeline depends on.
type Client interface {
	// RepoInfo fetches metadata for a model repo.
	RepoInfo(ctx context.Context, key core.ModelKey) (RepoInfo, error)

	// Download streams a file from a model repo to w.
	Download(ctx context.Context, key core.ModelKey, filename string, w io.Writer) error

	// UploadFile uploads a local file to repoID, returning once the
	// transfer is acknowledged.
	UploadFile(ctx context.Context, repoID, localPath string, opts UploadOptions) error

	// CreateRepo creates a destination repo if it does not already exist.
	CreateRepo(ctx context.Context, repoID string) error
}
