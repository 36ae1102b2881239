package vacuum

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syndicate-storage/syndicate-sub005/errs"
	"github.com/syndicate-storage/syndicate-sub005/internal/clock"
	"github.com/syndicate-storage/syndicate-sub005/inode"
	"github.com/syndicate-storage/syndicate-sub005/manifest"
	"github.com/syndicate-storage/syndicate-sub005/msclient"
	"github.com/syndicate-storage/syndicate-sub005/wire"
)

type fakeMS struct {
	log       map[uint64]*msclient.VacuumLogEntry
	removed   []uint64
	peekErr   error
	removeErr error
}

func newFakeMS() *fakeMS { return &fakeMS{log: map[uint64]*msclient.VacuumLogEntry{}} }

func (m *fakeMS) GetAttrMulti(ctx context.Context, volumeID, parentID uint64, names []string) ([]msclient.Attr, error) {
	return nil, nil
}
func (m *fakeMS) PathDownload(ctx context.Context, volumeID uint64, path string) ([]inode.MdEntry, error) {
	return nil, nil
}
func (m *fakeMS) ListDir(ctx context.Context, volumeID, parentID uint64) ([]inode.MdEntry, error) {
	return nil, nil
}
func (m *fakeMS) DiffDir(ctx context.Context, volumeID, parentID, sinceGeneration uint64) ([]inode.MdEntry, error) {
	return nil, nil
}
func (m *fakeMS) PeekVacuumLog(ctx context.Context, volumeID, fileID uint64) (*msclient.VacuumLogEntry, error) {
	if m.peekErr != nil {
		return nil, m.peekErr
	}
	return m.log[fileID], nil
}
func (m *fakeMS) RemoveVacuumLogEntry(ctx context.Context, volumeID, fileID uint64, manifestMtime time.Time) error {
	if m.removeErr != nil {
		return m.removeErr
	}
	m.removed = append(m.removed, fileID)
	delete(m.log, fileID)
	return nil
}
func (m *fakeMS) Publish(ctx context.Context, volumeID uint64, entry inode.MdEntry) error { return nil }

type fakeFetcher struct {
	manifests map[uint64]*manifest.Manifest
}

func (f *fakeFetcher) GetManifest(ctx context.Context, candidateGatewayID uint64, req *wire.RequestData) (*manifest.Manifest, error) {
	m, ok := f.manifests[req.FileID]
	if !ok {
		return nil, errs.New("fakeFetcher", errs.NotFound, nil)
	}
	return m, nil
}

func newDeleter(results map[uint64]error) func(ctx context.Context, gatewayID uint64, req *wire.RequestData) error {
	return func(ctx context.Context, gatewayID uint64, req *wire.RequestData) error {
		return results[gatewayID]
	}
}

func TestRunDueSkipsWhenHeadIsLiveManifest(t *testing.T) {
	sc := clock.NewSimulatedClock(time.Unix(1700000000, 0))
	ms := newFakeMS()
	live := time.Unix(1700000100, 0)
	ms.log[42] = &msclient.VacuumLogEntry{FileID: 42, ManifestMtime: live}

	q := NewQueue(Deps{MS: ms, Clock: sc, RGIDs: []uint64{1, 2}, Delete: newDeleter(nil)})
	q.Enqueue(&Context{FileID: 42, ManifestMtime: live})

	finished := q.RunDue(context.Background())
	require.Len(t, finished, 1)
	assert.Empty(t, ms.removed)
	assert.Equal(t, 0, q.Depth())
}

func TestRunDueVacuumsSupersededManifestOnFullSuccess(t *testing.T) {
	sc := clock.NewSimulatedClock(time.Unix(1700000000, 0))
	ms := newFakeMS()
	old := time.Unix(1699999000, 0)
	live := time.Unix(1700000100, 0)
	ms.log[42] = &msclient.VacuumLogEntry{FileID: 42, ManifestMtime: live}

	q := NewQueue(Deps{MS: ms, Clock: sc, RGIDs: []uint64{1, 2}, Delete: newDeleter(nil)})
	q.Enqueue(&Context{FileID: 42, ManifestMtime: old, OldBlocks: []wire.ChunkDescriptor{
		{Kind: wire.ChunkKindBlock, BlockID: 0, BlockVersion: 1},
	}})

	finished := q.RunDue(context.Background())
	require.Len(t, finished, 1)
	assert.Equal(t, []uint64{42}, ms.removed)
	assert.Equal(t, 0, q.Depth())
}

func TestRunDueResolvesAffectedBlocksFromDownloadedManifest(t *testing.T) {
	sc := clock.NewSimulatedClock(time.Unix(1700000000, 0))
	ms := newFakeMS()
	old := time.Unix(1699999000, 0)
	live := time.Unix(1700000100, 0)
	ms.log[42] = &msclient.VacuumLogEntry{FileID: 42, ManifestMtime: live, OldBlocks: []uint64{0, 1}}

	m := manifest.New(1, 9, 42, 1)
	require.NoError(t, m.PutBlock(0, manifest.BlockInfo{Version: 3}, false))
	require.NoError(t, m.PutBlock(1, manifest.BlockInfo{Version: 5}, false))
	fetcher := &fakeFetcher{manifests: map[uint64]*manifest.Manifest{42: m}}

	var captured *wire.RequestData
	deleter := func(ctx context.Context, gatewayID uint64, req *wire.RequestData) error {
		captured = req
		return nil
	}

	q := NewQueue(Deps{MS: ms, Fetcher: fetcher, Clock: sc, RGIDs: []uint64{1}, Delete: deleter})
	q.Enqueue(&Context{FileID: 42, CoordinatorID: 9, ManifestMtime: old})

	finished := q.RunDue(context.Background())
	require.Len(t, finished, 1)
	require.NotNil(t, captured)
	require.Len(t, captured.ChunkDescriptors, 3) // 1 manifest descriptor + 2 blocks
}

func TestRunDueMarksFatalWhenManifestMissingAffectedBlock(t *testing.T) {
	sc := clock.NewSimulatedClock(time.Unix(1700000000, 0))
	ms := newFakeMS()
	old := time.Unix(1699999000, 0)
	live := time.Unix(1700000100, 0)
	ms.log[42] = &msclient.VacuumLogEntry{FileID: 42, ManifestMtime: live, OldBlocks: []uint64{7}}

	m := manifest.New(1, 9, 42, 1)
	fetcher := &fakeFetcher{manifests: map[uint64]*manifest.Manifest{42: m}}

	q := NewQueue(Deps{MS: ms, Fetcher: fetcher, Clock: sc, RGIDs: []uint64{1}, Delete: newDeleter(nil)})
	c := &Context{FileID: 42, CoordinatorID: 9, ManifestMtime: old}
	q.Enqueue(c)

	finished := q.RunDue(context.Background())
	require.Len(t, finished, 1)
	require.Error(t, c.Fatal())
	assert.Empty(t, ms.removed)
	assert.Equal(t, 0, q.Depth())
}

func TestRunDueRetriesWithBackoffOnPartialRGFailure(t *testing.T) {
	sc := clock.NewSimulatedClock(time.Unix(1700000000, 0))
	ms := newFakeMS()
	old := time.Unix(1699999000, 0)
	live := time.Unix(1700000100, 0)
	ms.log[42] = &msclient.VacuumLogEntry{FileID: 42, ManifestMtime: live}

	deleter := newDeleter(map[uint64]error{2: errs.New("x", errs.IOError, nil)})
	q := NewQueue(Deps{MS: ms, Clock: sc, RGIDs: []uint64{1, 2}, Delete: deleter})
	q.Enqueue(&Context{FileID: 42, ManifestMtime: old, OldBlocks: []wire.ChunkDescriptor{
		{Kind: wire.ChunkKindBlock, BlockID: 0, BlockVersion: 1},
	}})

	finished := q.RunDue(context.Background())
	assert.Empty(t, finished)
	assert.Equal(t, 1, q.Depth())
	assert.Empty(t, ms.removed)

	// Not due again immediately: the backoff hasn't elapsed.
	finished = q.RunDue(context.Background())
	assert.Empty(t, finished)

	sc.AdvanceTime(2 * time.Hour)
	deleter2 := newDeleter(nil)
	q.deps.Delete = deleter2
	finished = q.RunDue(context.Background())
	require.Len(t, finished, 1)
	assert.Equal(t, []uint64{42}, ms.removed)
}

func TestRunDueIsIdempotentOnRepeatedPeekAfterRemoval(t *testing.T) {
	sc := clock.NewSimulatedClock(time.Unix(1700000000, 0))
	ms := newFakeMS()
	ms.peekErr = errs.New("x", errs.NotFound, nil) // already popped by a previous, concurrent run
	old := time.Unix(1699999000, 0)

	q := NewQueue(Deps{MS: ms, Clock: sc, RGIDs: []uint64{1}, Delete: newDeleter(nil)})
	q.Enqueue(&Context{FileID: 42, ManifestMtime: old})

	finished := q.RunDue(context.Background())
	require.Len(t, finished, 1)
	assert.Equal(t, 0, q.Depth())
}
