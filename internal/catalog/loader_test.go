package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCacheRoundTrip(t *testing.T) {
	c := NewCache(t.TempDir(), 3)
	if _, _, err := c.LoadLatest(); err == nil {
		t.Fatal("expected error on empty cache")
	}

	base := time.Unix(1712664000, 0)
	for i := 0; i < 5; i++ {
		data := []byte(iss3LE)
		if i == 4 {
			data = []byte(starlink3LE)
		}
		if err := c.Write(data, base.Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}

	data, ts, err := c.LoadLatest()
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if string(data) != starlink3LE {
		t.Errorf("latest data = %q", data)
	}
	if !ts.Equal(base.Add(4 * time.Hour)) {
		t.Errorf("latest ts = %v", ts)
	}

	files, err := c.listFiles()
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 3 {
		t.Errorf("kept %d files, want 3", len(files))
	}
}

func TestCacheIgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(dir, "catalog_abc.3le.zst"), []byte("x"), 0o644)

	files, err := NewCache(dir, 5).listFiles()
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 0 {
		t.Errorf("listed %d files, want 0", len(files))
	}
}

func TestLoaderRefreshMergesSources(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(iss3LE + starlink3LE))
	}))
	defer primary.Close()
	extra := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(issOMM))
	}))
	defer extra.Close()

	store := NewStore()
	cache := NewCache(t.TempDir(), 2)
	l := NewLoader(store, NewFetcher(primary.URL, testLogger, extra.URL), cache, testLogger)

	ds, err := l.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(ds.Satellites) != 2 {
		t.Fatalf("got %d satellites, want 2 (duplicate ISS dropped)", len(ds.Satellites))
	}
	if ds.Satellites[0].Name != "ISS (ZARYA)" {
		t.Errorf("first satellite = %q", ds.Satellites[0].Name)
	}
	if store.Get() != ds {
		t.Error("dataset not published to store")
	}

	// A fresh loader with fetching disabled recovers the same catalog from disk.
	other := NewStore()
	if err := NewLoader(other, nil, cache, testLogger).LoadCache(); err != nil {
		t.Fatalf("LoadCache: %v", err)
	}
	if got := len(other.Get().Satellites); got != 2 {
		t.Errorf("cached catalog has %d satellites, want 2", got)
	}
}

func TestLoaderRefreshEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("nothing to see\n"))
	}))
	defer server.Close()

	store := NewStore()
	l := NewLoader(store, NewFetcher(server.URL, testLogger), nil, testLogger)
	if _, err := l.Refresh(context.Background()); err == nil {
		t.Fatal("expected error for empty catalog")
	}
	if store.Get() != nil {
		t.Error("empty catalog was published")
	}
}

func TestLoaderLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	if err := os.WriteFile(path, []byte(issOMM), 0o644); err != nil {
		t.Fatal(err)
	}

	store := NewStore()
	ds, err := NewLoader(store, nil, nil, testLogger).LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(ds.Satellites) != 1 || ds.Satellites[0].Line1 != issLine1 {
		t.Errorf("unexpected dataset %+v", ds.Satellites)
	}
	if ds.Source != "file:"+path {
		t.Errorf("Source = %q", ds.Source)
	}
}
