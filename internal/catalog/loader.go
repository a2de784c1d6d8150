package catalog

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/1valdis/heavensat-web/internal/metrics"
)

// Loader fills a Store from the network, the disk cache or a local file.
type Loader struct {
	store   *Store
	fetcher *Fetcher
	cache   *Cache
	logger  *slog.Logger
}

// NewLoader wires a loader. fetcher and cache may be nil.
func NewLoader(store *Store, fetcher *Fetcher, cache *Cache, logger *slog.Logger) *Loader {
	return &Loader{store: store, fetcher: fetcher, cache: cache, logger: logger}
}

// LoadCache publishes the newest cached snapshot, if any.
func (l *Loader) LoadCache() error {
	if l.cache == nil {
		return errors.New("no cache configured")
	}
	data, ts, err := l.cache.LoadLatest()
	if err != nil {
		return err
	}
	sats, err := Parse(bytes.NewReader(data), l.logger)
	if err != nil {
		return errors.Wrap(err, "parsing cached catalog")
	}
	if len(sats) == 0 {
		return errors.New("cached catalog is empty")
	}
	l.publish(NewDataset("cache", ts, sats))
	return nil
}

// LoadFile publishes the catalog stored at path, in either format.
func (l *Loader) LoadFile(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading catalog file")
	}
	sats, err := ParseAny(data, l.logger)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}
	if len(sats) == 0 {
		return nil, errors.Errorf("%s holds no usable satellites", path)
	}
	modTime := time.Now().UTC()
	if st, err := os.Stat(path); err == nil {
		modTime = st.ModTime()
	}
	ds := NewDataset("file:"+path, modTime, sats)
	l.publish(ds)
	return ds, nil
}

// Refresh fetches every source, merges the records (first occurrence of a
// NORAD id wins), publishes the result and writes it to the cache.
func (l *Loader) Refresh(ctx context.Context) (*Dataset, error) {
	if l.fetcher == nil {
		return nil, errors.New("fetching disabled")
	}

	l.store.Lock()
	defer l.store.Unlock()

	payloads, err := l.fetcher.Fetch(ctx)
	if err != nil {
		metrics.IncCatalogRefresh("error")
		return nil, err
	}

	seen := make(map[string]bool)
	var sats []Satellite
	for _, p := range payloads {
		parsed, err := ParseAny(p.Data, l.logger)
		if err != nil {
			l.logger.Warn("discarding unparseable catalog payload", "url", p.URL, "error", err)
			continue
		}
		for _, s := range parsed {
			if seen[s.NoradID] {
				continue
			}
			seen[s.NoradID] = true
			sats = append(sats, s)
		}
	}
	if len(sats) == 0 {
		metrics.IncCatalogRefresh("error")
		return nil, errors.New("fetched catalog holds no usable satellites")
	}

	now := time.Now().UTC()
	ds := NewDataset(l.fetcher.SourceURL(), now, sats)
	l.publish(ds)
	metrics.IncCatalogRefresh("ok")

	if l.cache != nil {
		if err := l.cache.Write(Format3LEText(sats), now); err != nil {
			l.logger.Warn("failed to write catalog cache", "error", err)
		}
	}
	return ds, nil
}

// Run refreshes immediately when the store is empty or older than maxAge,
// then every interval until ctx is cancelled.
func (l *Loader) Run(ctx context.Context, interval, maxAge time.Duration) {
	if age := l.store.AgeSeconds(); age < 0 || time.Duration(age*float64(time.Second)) > maxAge {
		l.refreshLogged(ctx)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.refreshLogged(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (l *Loader) refreshLogged(ctx context.Context) {
	start := time.Now()
	ds, err := l.Refresh(ctx)
	if err != nil {
		l.logger.Warn("catalog refresh failed", "error", err)
		return
	}
	l.logger.Info("catalog refreshed",
		"satellite_count", len(ds.Satellites),
		"source", ds.Source,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

func (l *Loader) publish(ds *Dataset) {
	l.store.Set(ds)
	metrics.SetCatalogCount(len(ds.Satellites))
	metrics.SetCatalogAge(0)
	l.logger.Info("catalog published",
		"source", ds.Source,
		"satellite_count", len(ds.Satellites),
		"fetched_at", ds.FetchedAt.Format(time.RFC3339),
	)
}
