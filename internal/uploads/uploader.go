// Package uploads sends attachment files to object storage and returns
// publicly resolvable URLs.
package uploads

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 60 * time.Second

// Uploader stores one file and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, name, contentType string, data []byte) (string, error)
}

// Config holds upload endpoint settings.
type Config struct {
	UploadURL  string
	HTTPClient *http.Client
}

// HTTPUploader posts file bytes to an upload endpoint that responds with
// {"url": "..."}.
type HTTPUploader struct {
	uploadURL  string
	httpClient *http.Client
}

// NewHTTPUploader creates an uploader.
func NewHTTPUploader(cfg Config) (*HTTPUploader, error) {
	if strings.TrimSpace(cfg.UploadURL) == "" {
		return nil, fmt.Errorf("upload URL required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &HTTPUploader{uploadURL: cfg.UploadURL, httpClient: httpClient}, nil
}

type uploadResponse struct {
	URL string `json:"url"`
}

// Upload implements Uploader.
func (u *HTTPUploader) Upload(ctx context.Context, name, contentType string, data []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.uploadURL, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("X-File-Name", name)

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read upload response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("upload %s returned %d", name, resp.StatusCode)
	}

	var parsed uploadResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if parsed.URL == "" {
		return "", fmt.Errorf("upload response missing url")
	}
	return parsed.URL, nil
}
