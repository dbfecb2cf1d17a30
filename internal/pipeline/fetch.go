package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const fetchMaxBytes = 64 << 20 // 64MB hard cap on a single origin fetch

// fetchOrigin downloads the origin URL and returns the bytes plus the
// content type, sniffed from the payload when the origin does not say.
func fetchOrigin(ctx context.Context, client *http.Client, sourceURL string, timeout time.Duration) ([]byte, string, error) {
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", fmt.Errorf("fetch status %d", resp.StatusCode)
	}

	// Read one byte past the cap so an oversize body is detected instead
	// of silently truncated and cached as a corrupt object.
	data, err := io.ReadAll(io.LimitReader(resp.Body, fetchMaxBytes+1))
	if err != nil {
		return nil, "", err
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("empty response body")
	}
	if len(data) > fetchMaxBytes {
		return nil, "", fmt.Errorf("response body exceeds %d bytes", fetchMaxBytes)
	}

	ct := resp.Header.Get("Content-Type")
	if idx := strings.IndexByte(ct, ';'); idx >= 0 {
		ct = strings.TrimSpace(ct[:idx])
	}
	ct = strings.ToLower(strings.TrimSpace(ct))
	if ct == "" || ct == "application/octet-stream" {
		ct = strings.ToLower(strings.TrimSpace(http.DetectContentType(data)))
	}
	return data, ct, nil
}
