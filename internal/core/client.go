package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
)

// UploadResponse is the slice of the server's reply the client renders.
type UploadResponse struct {
	ID          string `json:"id"`
	Slug        string `json:"slug"`
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	URL         string `json:"url"`
	PreviewURL  string `json:"preview_url"`
	DownloadURL string `json:"download_url"`
}

// Upload sends one local file to the gateway's direct-upload endpoint
// and decodes the created record.
func Upload(ctx context.Context, client *http.Client, opts *Options, filePath string) (*UploadResponse, error) {
	body, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filePath, err)
	}

	name := filepath.Base(filePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, opts.UploadURL(name), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", name, err)
	}
	req.Header.Set("Authorization", opts.Authorization())
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		req.Header.Set("Content-Type", ct)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		var apiErr struct {
			Error string `json:"error"`
		}
		if derr := json.NewDecoder(resp.Body).Decode(&apiErr); derr == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("server rejected %s: %s (%s)", name, apiErr.Error, resp.Status)
		}
		return nil, fmt.Errorf("server rejected %s: %s", name, resp.Status)
	}

	var out UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response for %s: %w", name, err)
	}
	return &out, nil
}
