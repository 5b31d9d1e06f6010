package fscache

import (
	"context"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"time"

	"github.com/spf13/afero"
)

// SaveOption adjusts a single save call.
type SaveOption func(*saveConfig)

type saveConfig struct {
	waitTimeout time.Duration
}

// WaitTimeout bounds how long a save that lost the producer race waits
// for the winning producer to release the entry's lock. Zero, the
// default, waits until ctx is done.
func WaitTimeout(d time.Duration) SaveOption {
	return func(sc *saveConfig) {
		sc.waitTimeout = d
	}
}

// Save stores the source's bytes under key and returns the artifact
// path. When another producer is already writing the entry, Save does
// not consume the source: it waits for that producer to finish and
// returns its artifact instead, or ErrWaitTimeout if the wait exceeds
// the WaitTimeout option, or ErrNotProduced if the other producer left
// no valid entry behind.
//
// ctx bounds only the waiting-for-another-producer path. A write this
// call started itself is never canceled; callers that stop waiting do
// not stop the write.
func (c *Cache) Save(ctx context.Context, key string, src Source, options ...SaveOption) (string, error) {
	res, err := c.BeginSave(ctx, key, src, options...)
	if err != nil {
		return "", err
	}
	return res.Wait()
}

// BeginSave starts a save and returns a handle to its completion. The
// handle's Stream method exposes the artifact's bytes while they are
// still being written, so a caller forwarding them elsewhere does not
// have to buffer the artifact or wait for the fingerprint commit.
//
// By the time BeginSave returns, paths are derived and the producer
// race is settled; the write itself proceeds in the background.
func (c *Cache) BeginSave(ctx context.Context, key string, src Source, options ...SaveOption) (*SaveResult, error) {
	var sc saveConfig
	for _, option := range options {
		option(&sc)
	}

	e, err := c.entryFor(key)
	if err != nil {
		return nil, err
	}

	state, err := c.acquireLock(e)
	if err != nil {
		return nil, err
	}

	res := newSaveResult(c, e)
	switch state {
	case lockComplete:
		c.logger.Debug("entry already complete", "key", key, "path", e.artifact)
		res.finish(e.artifact, nil)
	case lockAcquired:
		go c.produce(ctx, res, e, src, sc.waitTimeout)
	case lockBusy:
		go c.awaitProducer(ctx, res, e, sc.waitTimeout)
	}
	return res, nil
}

// produce runs the write pipeline as the entry's elected producer and
// resolves res. The lock comes off before the result resolves,
// whatever happened, so a caller woken by Wait immediately observes a
// loadable entry.
func (c *Cache) produce(ctx context.Context, res *SaveResult, e entry, src Source, waitTimeout time.Duration) {
	path, err := c.writeEntry(res, e, src)
	c.releaseLock(e)

	switch {
	case err == nil:
		res.finish(path, nil)
	case errors.Is(err, os.ErrExist):
		// The artifact appeared without its lock, so some actor wrote
		// it outside the lock protocol. Treat it as a lost race: wait
		// out any lock and let the verified load decide.
		c.logger.Debug("artifact appeared during save", "key", e.key, "path", e.artifact)
		c.awaitProducer(ctx, res, e, waitTimeout)
	default:
		c.metrics.SaveFailed()
		c.logger.Debug("save failed", "key", e.key, "error", err)
		res.finish("", err)
	}
}

// writeEntry streams the source into the artifact file and commits its
// fingerprint sidecar. The caller must hold the entry's lock. The
// sidecar is written only after the artifact bytes are fully flushed;
// a failure at any stage erases whatever partial state this attempt
// created.
func (c *Cache) writeEntry(res *SaveResult, e entry, src Source) (string, error) {
	resolved, err := src.resolve()
	if err != nil {
		return "", err
	}

	start := c.nowFunc()
	c.metrics.SaveStarted()

	f, err := c.fs.OpenFile(e.artifact, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			// Race detection point; surfaced unwrapped so produce can
			// tell it apart from real write failures.
			return "", err
		}
		return "", fmt.Errorf("failed to create artifact %s: %w", e.artifact, err)
	}
	res.markWriting()

	// In content mode the same bytes feed the file and the fingerprint
	// in one pass. Fast mode skips content hashing entirely.
	writers := []io.Writer{f}
	var h hash.Hash
	if !c.fastHash {
		h = c.newHash()
		writers = append(writers, h)
	}
	writers = append(writers, progressWriter{res})

	bufPtr := bufferPool.Get().(*[]byte)
	written, copyErr := io.CopyBuffer(io.MultiWriter(writers...), resolved.stream(), *bufPtr)
	bufferPool.Put(bufPtr)

	closeErr := f.Close()
	if copyErr != nil {
		c.removeEntry(e)
		return "", fmt.Errorf("failed to write artifact: %w", copyErr)
	}
	if closeErr != nil {
		c.removeEntry(e)
		return "", fmt.Errorf("failed to flush artifact %s: %w", e.artifact, closeErr)
	}

	var fingerprint string
	if c.fastHash {
		// Stat after the write completed so the fingerprint reflects
		// the just-written file, not a stale stat.
		info, err := c.fs.Stat(e.artifact)
		if err != nil {
			c.removeEntry(e)
			return "", fmt.Errorf("failed to stat artifact %s: %w", e.artifact, err)
		}
		fingerprint = mtimeFingerprint(c.newHash, info.ModTime())
	} else {
		fingerprint = hexDigest(h)
	}

	if err := afero.WriteFile(c.fs, e.sidecar, []byte(fingerprint), 0o644); err != nil {
		c.removeEntry(e)
		return "", fmt.Errorf("failed to write sidecar %s: %w", e.sidecar, err)
	}

	elapsed := c.nowFunc().Sub(start)
	c.metrics.SaveCompleted(written, elapsed)
	c.logger.Debug("entry saved", "key", e.key, "path", e.artifact, "bytes", written, "elapsed", elapsed)
	return e.artifact, nil
}

// awaitProducer resolves res for a save that lost the producer race:
// wait out the winner's lock, then let the verified load decide what
// the winner left behind.
func (c *Cache) awaitProducer(ctx context.Context, res *SaveResult, e entry, timeout time.Duration) {
	if err := c.waitForRelease(ctx, e, timeout); err != nil {
		res.finish("", err)
		return
	}

	path, ok, err := c.loadEntry(e)
	switch {
	case err != nil:
		res.finish("", err)
	case !ok:
		res.finish("", fmt.Errorf("%s: %w", e.key, ErrNotProduced))
	default:
		res.finish(path, nil)
	}
}
