/*
	Package fscache provides a filesystem-backed artifact cache that multiple processes can share safely.

It lets independent producers and consumers, potentially on different hosts
sharing a directory such as a network volume, agree on a single cached artifact
per key without double-computing it or reading a half-written file.

# Overview

fscache coordinates entirely through filesystem primitives. There are no
in-memory locks guarding entries and no external coordination service: the
atomic "create if absent" operation on a lock marker file elects exactly one
producer per key, and everyone else either waits for that producer to finish or
comes back later. The same correctness argument therefore holds between two
goroutines, two processes, and two hosts.

# Core Architecture

Every cache entry is a triad of co-located files named by the key's digest:

	<digest><ext>                 the artifact (the cached bytes)
	<digest><ext>.integrity       the fingerprint sidecar
	<digest><ext>.fslock          the lock marker, present only during production

An artifact is trusted only when all three conditions hold: no lock marker
exists, both the artifact and its sidecar exist, and the fingerprint recomputed
from the artifact matches the sidecar exactly. Anything less is treated as a
miss, and torn pairs or mismatching fingerprints are erased on sight so the
next save starts clean. Corruption is never an error; callers just regenerate.

In fast-hash mode the fingerprint covers the artifact's modification time
instead of its content, trading integrity strength for O(1) validation. Fast
sidecars use the distinct suffix .fast-integrity so the two strategies never
validate against each other.

# Key Features

  - Multi-process safety: exclusive-create on a lock marker elects one producer per key
  - Integrity verification: artifacts are fingerprinted on write and verified on load
  - Self-healing: partial and corrupt entries are deleted, not reported
  - Stale lock reclamation: markers older than a timeout are treated as crashed producers
  - Streaming: producers can expose bytes to consumers while the write is in flight
  - Pluggable filesystem: any afero.Fs, with in-memory filesystems for tests

# Basic Usage

Creating a cache:

	cache, err := fscache.New(".fscache")
	if err != nil {
	    log.Fatalf("Failed to create cache: %v", err)
	}
	defer cache.Close()

Saving and loading:

	path, err := cache.Save(ctx, "report.json", fscache.Bytes(data))
	if err != nil {
	    log.Fatalf("Save failed: %v", err)
	}

	data, ok, err := cache.LoadBuffer("report.json")
	if err != nil {
	    log.Fatalf("Load failed: %v", err)
	}
	if !ok {
	    // Miss: absent, locked by a producer, or erased as corrupt.
	}

Expensive computations should be wrapped in a lazy source, which only runs if
this call wins the producer race:

	path, err := cache.Save(ctx, "report.json", fscache.Lazy(func() (fscache.Source, error) {
	    data, err := buildReport()
	    if err != nil {
	        return fscache.Source{}, err
	    }
	    return fscache.Bytes(data), nil
	}))

# Racing Producers

When two saves race for one key, the loser does not write at all. It waits for
the winner's lock marker to disappear, then returns the winner's artifact. The
WaitTimeout save option bounds that wait:

	path, err := cache.Save(ctx, key, src, fscache.WaitTimeout(2*time.Second))
	if errors.Is(err, fscache.ErrWaitTimeout) {
	    // The producer is still writing; try again later.
	}

A producer that crashes leaves its lock marker behind. Markers older than the
configured staleness timeout are reclaimed by the next save attempt, so a key
is never wedged forever.

# Streaming While Writing

BeginSave returns a SaveResult whose Stream method serves the artifact's bytes
as they are written, using the artifact file itself as the buffer:

	res, err := cache.BeginSave(ctx, key, fscache.Reader(upstream))
	rc, err := res.Stream()   // follows the write in progress
	io.Copy(peer, rc)         // forward without buffering in memory
	path, err := res.Wait()   // block for the fingerprint commit

# Configuration Options

fscache can be configured with various options:

	cache, err := fscache.New(
	    ".fscache",
	    fscache.WithAlgorithm(fscache.SHA256),
	    fscache.WithFastHash(),
	    fscache.WithSalt("builder-v2"),
	    fscache.WithStaleTimeout(10*time.Minute),
	    fscache.WithFs(afero.NewMemMapFs()),
	)

Each directory may be claimed by at most one Cache per process. New fails with
ErrDirInUse on a duplicate claim, because two differently configured instances
sharing a directory would erase each other's entries as corrupt.

# Error Handling

The package defines several sentinel errors:

  - ErrKeyEmpty: an operation was given an empty key
  - ErrDirInUse: the directory is already claimed by another Cache in this process
  - ErrWaitTimeout: waiting for a concurrent producer exceeded the caller's bound
  - ErrNotProduced: the winning producer left no valid entry behind

Misses are reported through the ok return, not through errors:

	data, ok, err := cache.LoadBuffer(key)
	if err != nil {
	    // Real I/O failure.
	}
	if !ok {
	    // Plain miss; regenerate via Save.
	}
*/
package fscache
