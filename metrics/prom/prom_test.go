package prom_test

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"

	"github.com/gophersatwork/fscache"
	"github.com/gophersatwork/fscache/metrics/prom"
)

// TestAdapterCounts drives a cache through a hit, two kinds of miss
// and a self-heal, then checks what a scrape would see.
func TestAdapterCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	adapter := prom.New(reg, "fscache", "", nil)

	memFs := afero.NewMemMapFs()
	cache, err := fscache.New("/prom-counts-test", fscache.WithFs(memFs), fscache.WithMetrics(adapter))
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	defer cache.Close()

	// Absent miss.
	if _, found, err := cache.Load("absent.bin"); err != nil || found {
		t.Fatalf("Expected clean miss: found=%v err=%v", found, err)
	}

	// One completed save of five bytes, then a verified hit.
	if _, err := cache.Save(context.Background(), "a.bin", fscache.String("12345")); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}
	if _, found, err := cache.LoadBuffer("a.bin"); err != nil || !found {
		t.Fatalf("Expected hit: found=%v err=%v", found, err)
	}

	// Tampering turns the next load into a mismatch miss with a
	// self-heal.
	paths, err := cache.Paths("a.bin")
	if err != nil {
		t.Fatalf("Failed to derive paths: %v", err)
	}
	if err := afero.WriteFile(memFs, paths.Artifact, []byte("54321"), 0o644); err != nil {
		t.Fatalf("Failed to tamper: %v", err)
	}
	if _, found, err := cache.Load("a.bin"); err != nil || found {
		t.Fatalf("Expected mismatch miss: found=%v err=%v", found, err)
	}

	expected := `
# HELP fscache_hits_total Verified cache hits
# TYPE fscache_hits_total counter
fscache_hits_total 1
# HELP fscache_misses_total Cache misses by reason
# TYPE fscache_misses_total counter
fscache_misses_total{reason="absent"} 1
fscache_misses_total{reason="mismatch"} 1
# HELP fscache_save_bytes_total Artifact bytes written by completed saves
# TYPE fscache_save_bytes_total counter
fscache_save_bytes_total 5
# HELP fscache_saves_total Write pipelines started as the elected producer
# TYPE fscache_saves_total counter
fscache_saves_total 1
# HELP fscache_self_heals_total Corrupt or partial entries erased by reason
# TYPE fscache_self_heals_total counter
fscache_self_heals_total{reason="mismatch"} 1
`
	err = testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"fscache_hits_total",
		"fscache_misses_total",
		"fscache_save_bytes_total",
		"fscache_saves_total",
		"fscache_self_heals_total",
	)
	if err != nil {
		t.Fatalf("Unexpected scrape output: %v", err)
	}
}

// TestAdapterNamespaceAndLabels checks that namespace, subsystem and
// constant labels make it onto every metric.
func TestAdapterNamespaceAndLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	adapter := prom.New(reg, "app", "cache", prometheus.Labels{"shard": "a"})

	adapter.Hit()
	adapter.Hit()

	expected := `
# HELP app_cache_hits_total Verified cache hits
# TYPE app_cache_hits_total counter
app_cache_hits_total{shard="a"} 2
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "app_cache_hits_total"); err != nil {
		t.Fatalf("Unexpected scrape output: %v", err)
	}
}
