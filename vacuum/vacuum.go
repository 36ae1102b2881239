// Package vacuum implements the vacuumer (C8): the worker loop that
// reclaims manifests and blocks superseded by a newer file version once
// every RG has durably deleted them (spec §4.8).
package vacuum

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/syndicate-storage/syndicate-sub005/errs"
	"github.com/syndicate-storage/syndicate-sub005/internal/clock"
	"github.com/syndicate-storage/syndicate-sub005/manifest"
	"github.com/syndicate-storage/syndicate-sub005/metrics"
	"github.com/syndicate-storage/syndicate-sub005/msclient"
	"github.com/syndicate-storage/syndicate-sub005/replication"
	"github.com/syndicate-storage/syndicate-sub005/wire"
)

// ManifestFetcher is the C6-client seam for downloading the prior
// manifest when a context's affected blocks weren't already resolved to
// (version, hash) pairs (spec §4.8 step 2). Mirrors
// consistency.ManifestFetcher; kept local to avoid vacuum depending on rpc.
type ManifestFetcher interface {
	GetManifest(ctx context.Context, candidateGatewayID uint64, req *wire.RequestData) (*manifest.Manifest, error)
}

// Context is one queued vacuum work unit, keyed by the tuple spec §4.8
// names: (file_id, file_version, manifest_mtime). The same tuple may be
// processed arbitrarily many times (§4.8 "Correctness argument"); nothing
// here depends on wall-clock identity.
type Context struct {
	VolumeID      uint64
	FileID        uint64
	FileVersion   uint64
	ManifestMtime time.Time
	CoordinatorID uint64
	Unlinking     bool

	// OldBlocks, if non-nil, are already resolved (block_id, block_version)
	// pairs supplied by the caller at enqueue time (e.g. a truncate or
	// overwrite that already knows which blocks it replaced), skipping the
	// manifest download of step 2.
	OldBlocks []wire.ChunkDescriptor

	nextAttempt time.Time
	lastBackoff time.Duration
	fatal       error
}

// Fatal reports the unrecoverable error recorded for this context, if any
// (spec §4.8 step 2: "this indicates lost data and is surfaced in logs but
// not retried").
func (c *Context) Fatal() error { return c.fatal }

// Deps bundles the collaborators one vacuum Queue needs: the MS client,
// a manifest fetcher for the prior-manifest download, a chunk deleter
// (rpc.Client.DeleteChunks has this shape) used per-RG by the replication
// fan-out, the RG membership list, and a clock for backoff scheduling.
type Deps struct {
	MS        msclient.Client
	Fetcher   ManifestFetcher
	Delete    func(ctx context.Context, gatewayID uint64, req *wire.RequestData) error
	RGIDs     []uint64
	Clock     clock.Clock
	Metrics   *metrics.Registry
	Backoff   backoffConfig
	SelfID    uint64
	MaxFanout int
}

// Queue holds the vacuum contexts not yet fully processed.
type Queue struct {
	mu    sync.Mutex
	items []*Context
	deps  Deps
}

// NewQueue builds an empty queue. A zero-value Deps.Backoff is replaced
// with defaultBackoffConfig.
func NewQueue(deps Deps) *Queue {
	if deps.Backoff == (backoffConfig{}) {
		deps.Backoff = defaultBackoffConfig
	}
	return &Queue{deps: deps}
}

// Enqueue adds a context, ready for immediate processing.
func (q *Queue) Enqueue(c *Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, c)
	if q.deps.Metrics != nil {
		q.deps.Metrics.VacuumQueueDepth.Set(float64(len(q.items)))
	}
}

// Depth returns the number of contexts still queued (including ones
// waiting out a backoff), for the VacuumQueueDepth gauge and tests.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// outcome is process's tri-state result: a context is either fully
// vacuumed (done, whether via success or a benign "nothing to do"),
// stuck behind a fatal manifest-loss error (also done, but logged rather
// than retried, §4.8 step 2), or needs to be retried after a backoff.
type outcome int

const (
	outcomeDone outcome = iota
	outcomeFatal
	outcomeRetry
)

// RunDue processes every context whose retry deadline has passed,
// removing each on full success or a fatal manifest-loss error, and
// leaving the rest re-enqueued behind their new backoff deadline (spec
// §4.8 steps 1-5). It returns the contexts it finished this pass (either
// outcome).
func (q *Queue) RunDue(ctx context.Context) []*Context {
	now := q.deps.Clock.Now()

	q.mu.Lock()
	var due, notYet []*Context
	for _, c := range q.items {
		if c.nextAttempt.IsZero() || !now.Before(c.nextAttempt) {
			due = append(due, c)
		} else {
			notYet = append(notYet, c)
		}
	}
	q.mu.Unlock()

	var finished, retry []*Context
	for _, c := range due {
		switch q.process(ctx, c) {
		case outcomeDone, outcomeFatal:
			finished = append(finished, c)
		case outcomeRetry:
			q.scheduleRetry(c)
			retry = append(retry, c)
		}
	}

	q.mu.Lock()
	q.items = append(notYet, retry...)
	if q.deps.Metrics != nil {
		q.deps.Metrics.VacuumQueueDepth.Set(float64(len(q.items)))
	}
	q.mu.Unlock()

	return finished
}

func (q *Queue) scheduleRetry(c *Context) {
	if q.deps.Metrics != nil {
		q.deps.Metrics.VacuumBackoffTotal.Inc()
	}
	c.lastBackoff = nextBackoff(q.deps.Backoff, c.lastBackoff)
	c.nextAttempt = q.deps.Clock.Now().Add(c.lastBackoff)
}

// process runs steps 1-5 of §4.8 for one context.
func (q *Queue) process(ctx context.Context, c *Context) outcome {
	entry, err := q.deps.MS.PeekVacuumLog(ctx, c.VolumeID, c.FileID)
	if err != nil {
		if errs.CodeOf(err) == errs.NotFound {
			return outcomeDone // NoEntry peek is treated as success (§4.8 correctness argument)
		}
		return outcomeRetry
	}
	if entry == nil {
		return outcomeDone
	}
	if !c.Unlinking && entry.ManifestMtime.Equal(c.ManifestMtime) {
		return outcomeDone // head is the live manifest: do not vacuum it yet
	}

	descriptors, ok := q.resolveDescriptors(ctx, c, entry)
	if !ok {
		if c.fatal != nil {
			return outcomeFatal
		}
		return outcomeRetry
	}

	req := &wire.RequestData{
		Verb:              wire.VerbDeleteChunks,
		VolumeID:          c.VolumeID,
		FileID:            c.FileID,
		FileVersion:       c.FileVersion,
		CoordinatorID:     c.CoordinatorID,
		ManifestMtimeSec:  c.ManifestMtime.Unix(),
		ManifestMtimeNsec: int64(c.ManifestMtime.Nanosecond()),
		ChunkDescriptors:  descriptors,
	}

	start := q.deps.Clock.Now()
	result := replication.Fanout(ctx, q.deps.RGIDs, q.deps.MaxFanout, replication.RequestSender(q.deps.Delete, req))
	if q.deps.Metrics != nil {
		q.deps.Metrics.ReplicationFanoutSeconds.Observe(q.deps.Clock.Now().Sub(start).Seconds())
	}
	if result.Code != errs.Ok {
		return outcomeRetry
	}

	if err := q.deps.MS.RemoveVacuumLogEntry(ctx, c.VolumeID, c.FileID, c.ManifestMtime); err != nil && errs.CodeOf(err) != errs.NotFound {
		return outcomeRetry
	}
	return outcomeDone
}

// resolveDescriptors builds the manifest-plus-block ChunkDescriptor list
// for a DELETECHUNKS request (§4.8 steps 2-3), downloading the prior
// manifest only when the context didn't already carry resolved
// (version, hash) pairs.
func (q *Queue) resolveDescriptors(ctx context.Context, c *Context, entry *msclient.VacuumLogEntry) ([]wire.ChunkDescriptor, bool) {
	descs := make([]wire.ChunkDescriptor, 0, 1+len(c.OldBlocks))
	descs = append(descs, wire.ChunkDescriptor{
		Kind:              wire.ChunkKindManifest,
		ManifestMtimeSec:  c.ManifestMtime.Unix(),
		ManifestMtimeNsec: int64(c.ManifestMtime.Nanosecond()),
	})

	if len(c.OldBlocks) > 0 {
		return append(descs, c.OldBlocks...), true
	}

	affected := entry.OldBlocks
	if len(affected) == 0 {
		return descs, true
	}

	prior, err := q.deps.Fetcher.GetManifest(ctx, c.CoordinatorID, &wire.RequestData{
		Verb:              wire.VerbGetManifest,
		VolumeID:          c.VolumeID,
		FileID:            c.FileID,
		FileVersion:       c.FileVersion,
		CoordinatorID:     c.CoordinatorID,
		ManifestMtimeSec:  c.ManifestMtime.Unix(),
		ManifestMtimeNsec: int64(c.ManifestMtime.Nanosecond()),
	})
	if err != nil {
		return nil, false // transient fetch failure: eligible for retry, not fatal
	}

	for _, blockID := range affected {
		info, ok := prior.GetBlock(blockID)
		if !ok {
			c.fatal = errs.New("vacuum.resolveDescriptors", errs.NotFound,
				fmt.Errorf("manifest for file %d mtime %s is missing block %d named by the MS vacuum log",
					c.FileID, c.ManifestMtime, blockID))
			return nil, false
		}
		descs = append(descs, wire.ChunkDescriptor{
			Kind:         wire.ChunkKindBlock,
			BlockID:      blockID,
			BlockVersion: uint64(info.Version),
		})
	}
	return descs, true
}
