package fscache

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/spf13/afero"
)

func TestLoadMissWhenAbsent(t *testing.T) {
	metrics := newRecordingMetrics()
	cache := newTestCache(t, "load-absent-test", WithMetrics(metrics))

	assertMiss(t, cache, "never-saved.txt", "load of unknown key")

	if got := metrics.snapshot().misses[MissAbsent]; got != 1 {
		t.Fatalf("Expected 1 absent miss, got %d", got)
	}
}

// TestLoadMissWhileLocked checks that a lock marker makes the entry
// untrusted even when its files are complete and valid.
func TestLoadMissWhileLocked(t *testing.T) {
	metrics := newRecordingMetrics()
	cache := newTestCache(t, "load-locked-test", WithMetrics(metrics))
	content := []byte("complete but locked")

	saveString(t, cache, "locked.txt", string(content))
	paths, err := cache.Paths("locked.txt")
	if err != nil {
		t.Fatalf("Failed to derive paths: %v", err)
	}
	if err := afero.WriteFile(cache.fs, paths.Lock, nil, 0o644); err != nil {
		t.Fatalf("Failed to plant lock: %v", err)
	}

	assertMiss(t, cache, "locked.txt", "load while locked")
	if got := metrics.snapshot().misses[MissLocked]; got != 1 {
		t.Fatalf("Expected 1 locked miss, got %d", got)
	}

	// The entry must survive: a miss under lock is not corruption.
	assertPresent(t, cache.fs, paths.Artifact, "after locked miss")
	assertPresent(t, cache.fs, paths.Sidecar, "after locked miss")

	// Once the lock is gone the same entry is a hit again.
	if err := cache.fs.Remove(paths.Lock); err != nil {
		t.Fatalf("Failed to remove lock: %v", err)
	}
	assertHit(t, cache, "locked.txt", content, "load after lock release")
}

// TestLoadSelfHealTamper checks that a content change is detected and
// the whole entry erased, without surfacing an error.
func TestLoadSelfHealTamper(t *testing.T) {
	metrics := newRecordingMetrics()
	cache := newTestCache(t, "load-tamper-test", WithMetrics(metrics))

	saveString(t, cache, "tampered.txt", "original bytes")
	paths, err := cache.Paths("tampered.txt")
	if err != nil {
		t.Fatalf("Failed to derive paths: %v", err)
	}
	if err := afero.WriteFile(cache.fs, paths.Artifact, []byte("altered bytes"), 0o644); err != nil {
		t.Fatalf("Failed to tamper with artifact: %v", err)
	}

	assertMiss(t, cache, "tampered.txt", "load of tampered entry")
	assertAbsent(t, cache.fs, paths.Artifact, "after self-heal")
	assertAbsent(t, cache.fs, paths.Sidecar, "after self-heal")

	snap := metrics.snapshot()
	if got := snap.selfHeals[MissMismatch]; got != 1 {
		t.Fatalf("Expected 1 mismatch self-heal, got %d", got)
	}
	if got := snap.misses[MissMismatch]; got != 1 {
		t.Fatalf("Expected 1 mismatch miss, got %d", got)
	}

	// The erased key accepts a fresh save.
	saveString(t, cache, "tampered.txt", "replacement bytes")
	assertHit(t, cache, "tampered.txt", []byte("replacement bytes"), "save after self-heal")
}

// TestLoadSelfHealPartial checks both halves of a broken pair: the
// surviving file is erased whichever one it is.
func TestLoadSelfHealPartial(t *testing.T) {
	metrics := newRecordingMetrics()
	cache := newTestCache(t, "load-partial-test", WithMetrics(metrics))

	saveString(t, cache, "partial.txt", "doomed")
	paths, err := cache.Paths("partial.txt")
	if err != nil {
		t.Fatalf("Failed to derive paths: %v", err)
	}

	// Artifact without sidecar.
	if err := cache.fs.Remove(paths.Sidecar); err != nil {
		t.Fatalf("Failed to remove sidecar: %v", err)
	}
	assertMiss(t, cache, "partial.txt", "load with missing sidecar")
	assertAbsent(t, cache.fs, paths.Artifact, "after partial self-heal")

	// Sidecar without artifact.
	saveString(t, cache, "partial.txt", "doomed again")
	if err := cache.fs.Remove(paths.Artifact); err != nil {
		t.Fatalf("Failed to remove artifact: %v", err)
	}
	assertMiss(t, cache, "partial.txt", "load with missing artifact")
	assertAbsent(t, cache.fs, paths.Sidecar, "after partial self-heal")

	if got := metrics.snapshot().selfHeals[MissPartial]; got != 2 {
		t.Fatalf("Expected 2 partial self-heals, got %d", got)
	}
}

// TestLoadFastHashDrift checks that fast mode distrusts an artifact
// whose modification time moved.
func TestLoadFastHashDrift(t *testing.T) {
	cache := newTestCache(t, "load-fast-drift-test", WithFastHash())
	content := []byte("mtime-guarded bytes")

	saveString(t, cache, "fast.bin", string(content))
	assertHit(t, cache, "fast.bin", content, "load before drift")

	paths, err := cache.Paths("fast.bin")
	if err != nil {
		t.Fatalf("Failed to derive paths: %v", err)
	}
	info, err := cache.fs.Stat(paths.Artifact)
	if err != nil {
		t.Fatalf("Failed to stat artifact: %v", err)
	}
	touched := info.ModTime().Add(time.Second)
	if err := cache.fs.Chtimes(paths.Artifact, touched, touched); err != nil {
		t.Fatalf("Failed to touch artifact: %v", err)
	}

	assertMiss(t, cache, "fast.bin", "load after mtime drift")
	assertAbsent(t, cache.fs, paths.Artifact, "after drift self-heal")
	assertAbsent(t, cache.fs, paths.Sidecar, "after drift self-heal")
}

// TestLoadFastHashSameTickSwap shows the trade fast mode makes:
// replacing the content without moving the modification time still
// verifies, because only the mtime is fingerprinted.
func TestLoadFastHashSameTickSwap(t *testing.T) {
	cache := newTestCache(t, "load-fast-swap-test", WithFastHash())

	saveString(t, cache, "blob.bin", string(bytes.Repeat([]byte("a"), 1000)))

	paths, err := cache.Paths("blob.bin")
	if err != nil {
		t.Fatalf("Failed to derive paths: %v", err)
	}
	info, err := cache.fs.Stat(paths.Artifact)
	if err != nil {
		t.Fatalf("Failed to stat artifact: %v", err)
	}

	swapped := bytes.Repeat([]byte("b"), 1000)
	if err := afero.WriteFile(cache.fs, paths.Artifact, swapped, 0o644); err != nil {
		t.Fatalf("Failed to swap content: %v", err)
	}
	// Put the original mtime back; WriteFile moved it.
	if err := cache.fs.Chtimes(paths.Artifact, info.ModTime(), info.ModTime()); err != nil {
		t.Fatalf("Failed to restore mtime: %v", err)
	}

	assertHit(t, cache, "blob.bin", swapped, "load after same-tick swap")
}

// TestFastAndContentSidecarsDisjoint checks that switching hash modes
// cannot validate an entry written under the other mode.
func TestFastAndContentSidecarsDisjoint(t *testing.T) {
	memFs := afero.NewMemMapFs()
	dir := "/load-mode-switch-test"

	contentCache, err := New(dir, WithFs(memFs))
	if err != nil {
		t.Fatalf("Failed to create content cache: %v", err)
	}
	saveString(t, contentCache, "switch.bin", "written in content mode")
	if err := contentCache.Close(); err != nil {
		t.Fatalf("Failed to close content cache: %v", err)
	}

	fastCache, err := New(dir, WithFs(memFs), WithFastHash())
	if err != nil {
		t.Fatalf("Failed to create fast cache: %v", err)
	}
	defer fastCache.Close()

	// The fast cache sees the artifact but not its own sidecar; the
	// pair is partial from its point of view and gets erased.
	assertMiss(t, fastCache, "switch.bin", "load across hash modes")
}

func TestLoadBuffer(t *testing.T) {
	cache := newTestCache(t, "load-buffer-test")
	content := []byte("buffered bytes")

	saveString(t, cache, "buffered.txt", string(content))
	assertHit(t, cache, "buffered.txt", content, "LoadBuffer after save")

	_, ok, err := cache.LoadBuffer("missing.txt")
	if err != nil {
		t.Fatalf("Unexpected error on miss: %v", err)
	}
	if ok {
		t.Fatal("Expected miss for unknown key")
	}
}

func TestLoadStream(t *testing.T) {
	cache := newTestCache(t, "load-stream-test")
	content := []byte("streamed bytes")

	saveString(t, cache, "streamed.txt", string(content))

	rc, ok, err := cache.LoadStream("streamed.txt")
	if err != nil {
		t.Fatalf("Failed to open stream: %v", err)
	}
	if !ok {
		t.Fatal("Expected hit, got miss")
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("Failed to read stream: %v", err)
	}
	if string(data) != string(content) {
		t.Fatalf("Stream mismatch:\nExpected: %s\nActual: %s", content, data)
	}

	_, ok, err = cache.LoadStream("missing.txt")
	if err != nil {
		t.Fatalf("Unexpected error on miss: %v", err)
	}
	if ok {
		t.Fatal("Expected miss for unknown key")
	}
}

func TestRemove(t *testing.T) {
	cache := newTestCache(t, "remove-test")

	saveString(t, cache, "removed.txt", "short-lived")
	paths, err := cache.Paths("removed.txt")
	if err != nil {
		t.Fatalf("Failed to derive paths: %v", err)
	}

	if err := cache.Remove("removed.txt"); err != nil {
		t.Fatalf("Failed to remove entry: %v", err)
	}
	assertAbsent(t, cache.fs, paths.Artifact, "after remove")
	assertAbsent(t, cache.fs, paths.Sidecar, "after remove")
	assertMiss(t, cache, "removed.txt", "load after remove")

	// Removing an absent entry is not an error.
	if err := cache.Remove("removed.txt"); err != nil {
		t.Fatalf("Second remove failed: %v", err)
	}
}

// TestRemoveLeavesLock checks that Remove does not arbitrate against
// a live producer.
func TestRemoveLeavesLock(t *testing.T) {
	cache := newTestCache(t, "remove-lock-test")
	paths, err := cache.Paths("producing.txt")
	if err != nil {
		t.Fatalf("Failed to derive paths: %v", err)
	}
	if err := afero.WriteFile(cache.fs, paths.Lock, nil, 0o644); err != nil {
		t.Fatalf("Failed to plant lock: %v", err)
	}

	if err := cache.Remove("producing.txt"); err != nil {
		t.Fatalf("Failed to remove entry: %v", err)
	}
	assertPresent(t, cache.fs, paths.Lock, "after remove")
}

func TestClear(t *testing.T) {
	cache := newTestCache(t, "clear-test")

	saveString(t, cache, "one.txt", "first")
	saveString(t, cache, "two.txt", "second")

	if err := cache.Clear(); err != nil {
		t.Fatalf("Failed to clear cache: %v", err)
	}

	assertMiss(t, cache, "one.txt", "load after clear")
	assertMiss(t, cache, "two.txt", "load after clear")

	// The directory is recreated and usable.
	exists, err := afero.DirExists(cache.fs, cache.Dir())
	if err != nil {
		t.Fatalf("Failed to check cache directory: %v", err)
	}
	if !exists {
		t.Fatal("Expected cache directory to exist after clear")
	}
	saveString(t, cache, "one.txt", "fresh start")
	assertHit(t, cache, "one.txt", []byte("fresh start"), "save after clear")
}
