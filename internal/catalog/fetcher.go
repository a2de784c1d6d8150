package catalog

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

const (
	// DefaultSourceURL is CelesTrak's active-satellite group in 3LE form.
	DefaultSourceURL = "https://celestrak.org/NORAD/elements/gp.php?GROUP=active&FORMAT=tle"

	// UserAgent identifies the service to catalog providers.
	UserAgent = "heavensat/1.0 (+https://github.com/1valdis/heavensat-web)"

	maxBodyBytes = 50 << 20
)

// Payload is the raw body fetched from one URL.
type Payload struct {
	URL  string
	Data []byte
}

// Fetcher retrieves raw catalog data from a primary source and optional
// extra sources.
type Fetcher struct {
	sourceURL  string
	extraURLs  []string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewFetcher creates a Fetcher for the given source URL. Extra URLs are
// best-effort: their failures are logged, not returned.
func NewFetcher(sourceURL string, logger *slog.Logger, extraURLs ...string) *Fetcher {
	if sourceURL == "" {
		sourceURL = DefaultSourceURL
	}
	return &Fetcher{
		sourceURL: sourceURL,
		extraURLs: extraURLs,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// SourceURL returns the configured primary URL.
func (f *Fetcher) SourceURL() string {
	return f.sourceURL
}

// Fetch downloads the primary source, then each extra source.
func (f *Fetcher) Fetch(ctx context.Context) ([]Payload, error) {
	body, err := f.get(ctx, f.sourceURL)
	if err != nil {
		return nil, err
	}
	payloads := []Payload{{URL: f.sourceURL, Data: body}}

	for _, u := range f.extraURLs {
		body, err := f.get(ctx, u)
		if err != nil {
			f.logger.Warn("extra catalog source failed", "url", u, "error", err)
			continue
		}
		payloads = append(payloads, Payload{URL: u, Data: body})
	}
	return payloads, nil
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "creating request")
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetching catalog")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("unexpected status code %d from %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, errors.Wrap(err, "reading response body")
	}
	if len(body) > maxBodyBytes {
		return nil, errors.Errorf("response from %s exceeds %d byte limit", url, maxBodyBytes)
	}
	return body, nil
}
