package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	maxFetchSize = 5 << 20 // 5MB
	fetchTimeout = 10 * time.Second
)

// Fetch retrieves the HTML snapshot for a flowing document. The response is
// size-capped; callers store the body verbatim as the document snapshot.
func Fetch(ctx context.Context, client *http.Client, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("url returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchSize))
	if err != nil {
		return "", fmt.Errorf("reading url response: %w", err)
	}
	return string(body), nil
}
