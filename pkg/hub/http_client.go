package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/readyforquantum/quantforge/pkg/core"
)

// HTTPClient is the stdlib net/http-backed Client implementation. It wraps
// every call in the shared retry budget so transient Hub errors (rate
// limiting, connection resets) are retried the same way catalog writes are.
type HTTPClient struct {
	baseURL string
	token   string
	hc      *http.Client
	budget  core.RetryBudget
}

// NewHTTPClient builds a Client from a HubConfig.
func NewHTTPClient(cfg core.HubConfig) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		hc:      &http.Client{Timeout: cfg.RequestTimeout},
		budget: core.RetryBudget{
			MaxAttempts:     cfg.MaxRetries + 1,
			InitialInterval: core.DefaultRetryBudget().InitialInterval,
			MaxInterval:     core.DefaultRetryBudget().MaxInterval,
		},
	}
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *HTTPClient) do(req *http.Request) (*http.Response, error) {
	c.authorize(req)
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		resp.Body.Close()
		return nil, fmt.Errorf("hub returned retryable status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, core.Permanent(fmt.Errorf("hub returned status %d: %s", resp.StatusCode, body))
	}
	return resp, nil
}

type repoInfoResponse struct {
	ID                    string `json:"id"`
	SHA                   string `json:"sha"`
	SafeTensorsParameters struct {
		Total int64 `json:"total"`
	} `json:"safetensors"`
	Config map[string]any `json:"config"`
	Tags   []string       `json:"tags"`
}

func (c *HTTPClient) RepoInfo(ctx context.Context, key core.ModelKey) (RepoInfo, error) {
	var info RepoInfo
	err := core.Retry(ctx, c.budget, func() error {
		url := fmt.Sprintf("%s/api/models/%s", c.baseURL, key)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return core.Permanent(err)
		}
		resp, err := c.do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		var body repoInfoResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return core.Permanent(fmt.Errorf("decoding repo info: %w", err))
		}

		isMOE := false
		for _, tag := range body.Tags {
			if strings.Contains(strings.ToLower(tag), "moe") {
				isMOE = true
				break
			}
		}

		info = RepoInfo{
			ID:         body.ID,
			Parameters: body.SafeTensorsParameters.Total,
			HasConfig:  len(body.Config) > 0,
			IsMOE:      isMOE,
			SHA:        body.SHA,
		}
		return nil
	})
	return info, err
}

func (c *HTTPClient) Download(ctx context.Context, key core.ModelKey, filename string, w io.Writer) error {
	return core.Retry(ctx, c.budget, func() error {
		url := fmt.Sprintf("%s/%s/resolve/main/%s", c.baseURL, key, filename)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return core.Permanent(err)
		}
		resp, err := c.do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if _, err := io.Copy(w, resp.Body); err != nil {
			return err
		}
		return nil
	})
}

func (c *HTTPClient) CreateRepo(ctx context.Context, repoID string) error {
	return core.Retry(ctx, c.budget, func() error {
		payload, _ := json.Marshal(map[string]any{"name": repoID, "exist_ok": true})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/repos/create", bytes.NewReader(payload))
		if err != nil {
			return core.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	})
}

// UploadFile uploads a local file as a single multipart request. Files
// above the chunker's large-file threshold are expected to be pre-split by
// the caller (pkg/chunker) before reaching this method: the Hub API this
// client targets has no native resumable-upload endpoint to delegate to.
func (c *HTTPClient) UploadFile(ctx context.Context, repoID, localPath string, opts UploadOptions) error {
	pathInRepo := opts.PathInRepo
	if pathInRepo == "" {
		pathInRepo = filepath.Base(localPath)
	}
	pathInRepo = strings.ReplaceAll(pathInRepo, "\\", "/")

	if opts.CreateRepo {
		if err := c.CreateRepo(ctx, repoID); err != nil {
			return err
		}
	}

	return core.Retry(ctx, c.budget, func() error {
		f, err := os.Open(localPath)
		if err != nil {
			return core.Permanent(err)
		}
		defer f.Close()

		body := &bytes.Buffer{}
		mw := multipart.NewWriter(body)
		part, err := mw.CreateFormFile("file", filepath.Base(localPath))
		if err != nil {
			return core.Permanent(err)
		}
		if _, err := io.Copy(part, f); err != nil {
			return core.Permanent(err)
		}
		if err := mw.Close(); err != nil {
			return core.Permanent(err)
		}

		url := fmt.Sprintf("%s/api/repos/%s/upload/%s", c.baseURL, repoID, pathInRepo)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
		if err != nil {
			return core.Permanent(err)
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())

		resp, err := c.do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	})
}

var _ Client = (*HTTPClient)(nil)
