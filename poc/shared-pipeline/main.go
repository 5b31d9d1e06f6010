package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gophersatwork/fscache"
	"golang.org/x/sync/errgroup"
)

// Configuration for the simulated pipeline
const (
	// Bundle version - bump to address a fresh set of cache entries
	bundleVersion = "2024-01"

	// Simulated delays
	renderDelay = 2 * time.Second
	rowDelay    = 300 * time.Millisecond
)

func main() {
	// Command line flags
	clearCache := flag.Bool("clear-cache", false, "Clear cache before running")
	showStats := flag.Bool("show-cache-stats", false, "Show cache statistics and exit")
	workers := flag.Int("workers", 4, "Number of workers racing for the same artifact")
	flag.Parse()

	fmt.Println("╔════════════════════════════════════════════════════════╗")
	fmt.Println("║       Shared Artifact Pipeline - fscache POC           ║")
	fmt.Println("╚════════════════════════════════════════════════════════╝")
	fmt.Println()

	// Open cache
	cache, err := fscache.New(".fscache-demo", fscache.WithAlgorithm(fscache.XXH64))
	if err != nil {
		fmt.Printf("Error opening cache: %v\n", err)
		os.Exit(1)
	}
	defer cache.Close()

	// Handle clear cache flag
	if *clearCache {
		fmt.Println("🗑️  Clearing cache...")
		cache.Clear()
		fmt.Println("✓ Cache cleared")
		fmt.Println()
	}

	// Handle show stats flag
	if *showStats {
		showCacheStats(cache)
		return
	}

	// Track total execution time
	pipelineStart := time.Now()

	// Stage 1: N workers race for the same bundle
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("Stage 1: Render Asset Bundle (%d racing workers)\n", *workers)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	bundlePath, err := renderBundle(cache, *workers)
	if err != nil {
		fmt.Printf("Error in render stage: %v\n", err)
		os.Exit(1)
	}
	fmt.Println()

	// Stage 2: stream the build log while it is being written
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("Stage 2: Tail the Build Log During Production")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	logPath, err := streamBuildLog(cache)
	if err != nil {
		fmt.Printf("Error in streaming stage: %v\n", err)
		os.Exit(1)
	}
	fmt.Println()

	// Stage 3: corrupt the bundle on disk and watch the cache recover
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("Stage 3: Corruption Recovery")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	err = recoverFromCorruption(cache, bundlePath)
	if err != nil {
		fmt.Printf("Error in recovery stage: %v\n", err)
		os.Exit(1)
	}
	fmt.Println()

	// Show final results
	pipelineElapsed := time.Since(pipelineStart)
	fmt.Println("╔════════════════════════════════════════════════════════╗")
	fmt.Println("║                   Pipeline Complete                    ║")
	fmt.Println("╚════════════════════════════════════════════════════════╝")
	fmt.Printf("\nTotal execution time: %.2f seconds\n", pipelineElapsed.Seconds())
	fmt.Printf("Bundle:    %s\n", bundlePath)
	fmt.Printf("Build log: %s\n\n", logPath)

	fmt.Println("💡 Tip: Run again to see every worker reuse the bundle!")
	fmt.Println("   Run with --workers=16 to raise the contention")
	fmt.Println("   Run with --show-cache-stats to see cache contents")
}

// renderBundle starts every worker on the same key. The cache elects one
// producer through its lock marker; the rest block until the artifact is
// committed and adopt it without rendering anything themselves.
func renderBundle(cache *fscache.Cache, workers int) (string, error) {
	key := "bundle/site-assets-" + bundleVersion + ".tar"

	var renders atomic.Int32
	produced := make([]bool, workers)
	paths := make([]string, workers)

	start := time.Now()
	g := new(errgroup.Group)
	for i := 0; i < workers; i++ {
		i := i
		g.Go(func() error {
			src := fscache.Lazy(func() (fscache.Source, error) {
				// Only the elected producer ever reaches this point.
				produced[i] = true
				renders.Add(1)
				time.Sleep(renderDelay)
				return fscache.String(assetBundle()), nil
			})

			path, err := cache.Save(context.Background(), key, src)
			if err != nil {
				return fmt.Errorf("worker %d: %w", i, err)
			}
			paths[i] = path
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	elapsed := time.Since(start)

	for i := 0; i < workers; i++ {
		if produced[i] {
			fmt.Printf("  worker %d: ✗ Cache MISS - rendered the bundle\n", i)
		} else {
			fmt.Printf("  worker %d: ✓ Cache HIT - reused the committed artifact\n", i)
		}
	}

	fmt.Printf("\n  Render function ran %d time(s) for %d workers\n", renders.Load(), workers)
	fmt.Printf("  All workers done in %.2f seconds\n", elapsed.Seconds())

	entry, err := cache.Paths(key)
	if err != nil {
		return "", err
	}
	fmt.Printf("  Artifact:  %s\n", entry.Artifact)
	fmt.Printf("  Integrity: %s\n", entry.Sidecar)

	return paths[0], nil
}

// streamBuildLog commits a build log through the cache while a consumer
// tails it. Rows become readable as soon as the producer writes them,
// before the entry is verified and published.
func streamBuildLog(cache *fscache.Cache) (string, error) {
	key := "logs/build-" + bundleVersion + ".ndjson"

	pr, pw := io.Pipe()

	result, err := cache.BeginSave(context.Background(), key, fscache.Reader(pr))
	if err != nil {
		return "", err
	}

	// Producer side: emit rows with a delay between each one.
	go func() {
		defer pw.Close()
		for _, row := range buildLogRows() {
			if _, err := fmt.Fprintln(pw, row); err != nil {
				return
			}
			time.Sleep(rowDelay)
		}
	}()

	// Consumer side: follow the artifact as it grows.
	stream, err := result.Stream()
	if err != nil {
		return "", err
	}
	defer stream.Close()

	start := time.Now()
	scanner := bufio.NewScanner(stream)
	for scanner.Scan() {
		fmt.Printf("  [%5.2fs] ⇠ %s\n", time.Since(start).Seconds(), scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}

	path, err := result.Wait()
	if err != nil {
		return "", err
	}
	pr.Close()

	fmt.Printf("\n  Log committed and verified: %s\n", path)
	return path, nil
}

// recoverFromCorruption scribbles over the committed bundle, shows that
// the next load refuses the corrupt bytes, and re-renders the entry.
func recoverFromCorruption(cache *fscache.Cache, bundlePath string) error {
	key := "bundle/site-assets-" + bundleVersion + ".tar"

	fmt.Println("  Simulating a torn write on the committed artifact...")
	err := os.WriteFile(bundlePath, []byte("garbage from a crashed writer"), 0o644)
	if err != nil {
		return err
	}

	// The fingerprint no longer matches the sidecar, so this is a miss.
	// The cache erases both halves so no later reader can see the damage.
	_, ok, err := cache.Load(key)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("corrupt artifact served as a hit")
	}
	fmt.Println("  ✗ Cache MISS - fingerprint mismatch, entry quarantined")

	start := time.Now()
	path, err := cache.Save(context.Background(), key, fscache.String(assetBundle()))
	if err != nil {
		return err
	}
	fmt.Printf("  ✓ Re-rendered in %.2f seconds: %s\n", time.Since(start).Seconds(), path)

	content, ok, err := cache.LoadBuffer(key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("freshly saved bundle missing")
	}
	fmt.Printf("  ✓ Verified load returned %d bytes\n", len(content))
	return nil
}

// assetBundle generates the deterministic payload every worker would
// produce. Same key, same bytes - that is what makes adoption safe.
func assetBundle() string {
	var b strings.Builder
	b.WriteString("#bundle " + bundleVersion + "\n")
	for _, asset := range []string{"index.html", "app.js", "vendor.js", "styles.css", "logo.svg"} {
		fmt.Fprintf(&b, "asset %-12s %6d bytes\n", asset, len(asset)*1024)
	}
	b.WriteString("#end\n")
	return b.String()
}

func buildLogRows() []string {
	return []string{
		`{"step":"fetch-deps","status":"ok","elapsed_ms":412}`,
		`{"step":"compile","status":"ok","elapsed_ms":1874}`,
		`{"step":"minify","status":"ok","elapsed_ms":655}`,
		`{"step":"fingerprint","status":"ok","elapsed_ms":89}`,
		`{"step":"bundle","status":"ok","elapsed_ms":240}`,
	}
}

// showCacheStats displays cache statistics
func showCacheStats(cache *fscache.Cache) {
	fmt.Println("╔════════════════════════════════════════════════════════╗")
	fmt.Println("║                  Cache Statistics                      ║")
	fmt.Println("╚════════════════════════════════════════════════════════╝")
	fmt.Println()

	stats, err := cache.Stats()
	if err != nil {
		fmt.Printf("Error getting stats: %v\n", err)
		return
	}

	fmt.Printf("Complete entries: %d\n", stats.Entries)
	fmt.Printf("Partial files:    %d\n", stats.Partial)
	fmt.Printf("Lock markers:     %d\n", stats.Locks)
	fmt.Printf("Total size:       %.2f KB\n\n", float64(stats.TotalSize)/1024)

	entries, err := cache.Entries()
	if err != nil {
		fmt.Printf("Error getting entries: %v\n", err)
		return
	}

	if len(entries) == 0 {
		fmt.Println("Cache is empty. Run the pipeline to populate it.")
		return
	}

	fmt.Println("Cached artifacts:")
	fmt.Println("─────────────────────────────────────────────────────────")
	for i, entry := range entries {
		state := "complete"
		if entry.Locked {
			state = "locked"
		} else if !entry.Complete {
			state = "partial"
		}
		fmt.Printf("%d. %s\n", i+1, entry.Path)
		fmt.Printf("   Modified: %s\n", entry.ModTime.Format("2006-01-02 15:04:05"))
		fmt.Printf("   Size: %.2f KB  State: %s\n", float64(entry.Size)/1024, state)
		fmt.Println()
	}
}
