package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syndicate-storage/syndicate-sub005/chunk"
	"github.com/syndicate-storage/syndicate-sub005/errs"
	"github.com/syndicate-storage/syndicate-sub005/gwctx"
	"github.com/syndicate-storage/syndicate-sub005/inode"
	"github.com/syndicate-storage/syndicate-sub005/manifest"
	"github.com/syndicate-storage/syndicate-sub005/msclient"
	"github.com/syndicate-storage/syndicate-sub005/wire"
)

func newTestUG(t *testing.T, gatewayID uint64, store map[string][]byte) (*UG, *gwctx.Context) {
	t.Helper()
	gc, priv := newTestGC(t, gwctx.RoleUG, gatewayID, 4096)
	cache := inode.NewCache()
	codec := &chunk.Codec{Signer: &chunk.Signer{GatewayID: gatewayID, PrivateKey: priv}}
	pool := newPoolWithGroups(map[string]func(*wire.RequestData, []byte) (errs.Code, []byte){
		"read":   storeHandler(store, func(r *wire.RequestData) string { return "b" }),
		"write":  storeHandler(store, func(r *wire.RequestData) string { return "b" }),
		"delete": storeHandler(store, func(r *wire.RequestData) string { return "b" }),
	})
	return NewUG(gc, cache, codec, pool), gc
}

func seedFile(t *testing.T, cache *inode.Cache, gatewayID, fileID uint64, m *manifest.Manifest) *inode.Inode {
	t.Helper()
	in := &inode.Inode{
		Kind: inode.KindFile,
		Meta: inode.Metadata{FileID: fileID, CoordinatorID: gatewayID, VolumeID: 1, Size: 10},
		Manifest: m,
	}
	require.NoError(t, cache.Create(inode.RootID, "f", in))
	return in
}

func TestUGGetBlockSignsLocallyReadBytes(t *testing.T) {
	store := map[string][]byte{"b": []byte("plaintext")}
	ug, _ := newTestUG(t, 1, store)
	m := manifest.New(1, 1, 42, 1)
	require.NoError(t, m.PutBlock(0, manifest.BlockInfo{Version: 1}, false))
	seedFile(t, ug.Cache, 1, 42, m)

	out, err := ug.GetBlock(context.Background(), &wire.RequestData{Verb: wire.VerbGetBlock, FileID: 42, CoordinatorID: 1})
	require.NoError(t, err)

	sc, err := chunk.DecodeSignedChunk(out)
	require.NoError(t, err)
	assert.Equal(t, []byte("plaintext"), sc.Payload)
	assert.EqualValues(t, 1, sc.SignerID)
}

func TestUGGetBlockPrefersDirtyBuffer(t *testing.T) {
	store := map[string][]byte{"b": []byte("stale-on-disk")}
	ug, _ := newTestUG(t, 1, store)
	m := manifest.New(1, 1, 42, 1)
	seedFile(t, ug.Cache, 1, 42, m)
	in, _ := ug.Cache.FindByFileID(42)
	in.Dirty = manifest.NewDirtySet()
	in.Dirty.Put(0, &manifest.DirtyBlock{Buffer: []byte("fresh-in-memory")})

	out, err := ug.GetBlock(context.Background(), &wire.RequestData{Verb: wire.VerbGetBlock, FileID: 42, CoordinatorID: 1})
	require.NoError(t, err)
	sc, err := chunk.DecodeSignedChunk(out)
	require.NoError(t, err)
	assert.Equal(t, []byte("fresh-in-memory"), sc.Payload)
}

func TestUGGetBlockRejectsWhenNotCoordinator(t *testing.T) {
	ug, _ := newTestUG(t, 1, map[string][]byte{})
	m := manifest.New(1, 99, 42, 1)
	seedFile(t, ug.Cache, 99, 42, m)

	_, err := ug.GetBlock(context.Background(), &wire.RequestData{Verb: wire.VerbGetBlock, FileID: 42, CoordinatorID: 99})
	assert.Equal(t, errs.WrongCoordinator, errs.CodeOf(err))
}

func TestUGPutBlockVerifiesSignatureBeforeWriting(t *testing.T) {
	store := map[string][]byte{}
	ug, gc := newTestUG(t, 1, store)
	m := manifest.New(1, 1, 42, 1)
	seedFile(t, ug.Cache, 1, 42, m)

	req := &wire.RequestData{Verb: wire.VerbPutBlock, FileID: 42, CoordinatorID: 1, SrcGatewayID: 1}
	codec := &chunk.Codec{Signer: &chunk.Signer{GatewayID: 1, PrivateKey: gc.Identity.PrivateKey}}
	sc, err := codec.Sign(req, []byte("payload"))
	require.NoError(t, err)

	err = ug.PutBlock(context.Background(), req, chunk.EncodeSignedChunk(sc))
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), store["b"])
}

func TestUGPutBlockRejectsUnknownSigner(t *testing.T) {
	ug, _ := newTestUG(t, 1, map[string][]byte{})
	req := &wire.RequestData{Verb: wire.VerbPutBlock, FileID: 42, CoordinatorID: 1, SrcGatewayID: 7}
	sc := &chunk.SignedChunk{Payload: []byte("x"), SignerID: 7, Signature: []byte("bogus")}

	err := ug.PutBlock(context.Background(), req, chunk.EncodeSignedChunk(sc))
	assert.Equal(t, errs.PermissionDenied, errs.CodeOf(err))
}

func TestUGTruncateDropsBlocksPastNewSize(t *testing.T) {
	ug, _ := newTestUG(t, 1, map[string][]byte{})
	m := manifest.New(1, 1, 42, 1)
	require.NoError(t, m.PutBlock(0, manifest.BlockInfo{Version: 1}, false))
	require.NoError(t, m.PutBlock(1, manifest.BlockInfo{Version: 1}, false))
	require.NoError(t, m.PutBlock(2, manifest.BlockInfo{Version: 1}, false))
	seedFile(t, ug.Cache, 1, 42, m)

	err := ug.Truncate(context.Background(), &wire.RequestData{Verb: wire.VerbTruncate, FileID: 42, CoordinatorID: 1, NewSize: 4096})
	require.NoError(t, err)

	assert.Equal(t, 1, m.NumBlocks())
	assert.EqualValues(t, 4096, m.Size)
}

func TestUGTruncateToZeroDropsEveryBlock(t *testing.T) {
	ug, _ := newTestUG(t, 1, map[string][]byte{})
	m := manifest.New(1, 1, 42, 1)
	require.NoError(t, m.PutBlock(0, manifest.BlockInfo{Version: 1}, false))
	require.NoError(t, m.PutBlock(1, manifest.BlockInfo{Version: 1}, false))
	seedFile(t, ug.Cache, 1, 42, m)

	err := ug.Truncate(context.Background(), &wire.RequestData{Verb: wire.VerbTruncate, FileID: 42, CoordinatorID: 1, NewSize: 0})
	require.NoError(t, err)
	assert.Equal(t, 0, m.NumBlocks())
}

func TestUGDetachIsIdempotent(t *testing.T) {
	ug, _ := newTestUG(t, 1, map[string][]byte{})
	err := ug.Detach(context.Background(), &wire.RequestData{Verb: wire.VerbDetach, FsPath: "/nonexistent"})
	assert.NoError(t, err)
}

func TestUGRenameMovesCachedEntryAndPublishes(t *testing.T) {
	ug, _ := newTestUG(t, 1, map[string][]byte{})
	ms := &fakeMS{}
	ug.GC.MS = ms
	in := &inode.Inode{Kind: inode.KindFile, Name: "a", Meta: inode.Metadata{FileID: 7, CoordinatorID: 1, VolumeID: 1}}
	require.NoError(t, ug.Cache.Create(inode.RootID, "a", in))

	err := ug.Rename(context.Background(), &wire.RequestData{Verb: wire.VerbRename, FsPath: "/a", DstPath: "/b", CoordinatorID: 1})
	require.NoError(t, err)

	_, found := ug.Cache.LookupChild(inode.RootID, "a")
	assert.False(t, found)
	id, found := ug.Cache.LookupChild(inode.RootID, "b")
	require.True(t, found)
	assert.Equal(t, in.ID, id)
	require.Len(t, ms.published, 1)
	assert.Equal(t, "b", ms.published[0].Name)
}

func TestUGPatchManifestMergesDeltaByVersion(t *testing.T) {
	ug, _ := newTestUG(t, 1, map[string][]byte{})
	m := manifest.New(1, 1, 42, 1)
	require.NoError(t, m.PutBlock(0, manifest.BlockInfo{Version: 1}, false))
	seedFile(t, ug.Cache, 1, 42, m)

	delta := manifest.New(1, 1, 42, 1)
	require.NoError(t, delta.PutBlock(0, manifest.BlockInfo{Version: 2}, false))
	require.NoError(t, delta.PutBlock(1, manifest.BlockInfo{Version: 1}, false))

	err := ug.PatchManifest(context.Background(), &wire.RequestData{Verb: wire.VerbPatchManifest, FileID: 42}, wire.EncodeManifest(delta))
	require.NoError(t, err)
	bi, ok := m.GetBlock(0)
	require.True(t, ok)
	assert.EqualValues(t, 2, bi.Version)
	_, ok = m.GetBlock(1)
	assert.True(t, ok)
}

type fakeMS struct {
	published []inode.MdEntry
}

func (f *fakeMS) GetAttrMulti(ctx context.Context, volumeID, parentID uint64, names []string) ([]msclient.Attr, error) {
	return nil, nil
}

func (f *fakeMS) PathDownload(ctx context.Context, volumeID uint64, path string) ([]inode.MdEntry, error) {
	return nil, nil
}

func (f *fakeMS) ListDir(ctx context.Context, volumeID, parentID uint64) ([]inode.MdEntry, error) {
	return nil, nil
}

func (f *fakeMS) DiffDir(ctx context.Context, volumeID, parentID, sinceGeneration uint64) ([]inode.MdEntry, error) {
	return nil, nil
}

func (f *fakeMS) PeekVacuumLog(ctx context.Context, volumeID, fileID uint64) (*msclient.VacuumLogEntry, error) {
	return nil, nil
}

func (f *fakeMS) RemoveVacuumLogEntry(ctx context.Context, volumeID, fileID uint64, manifestMtime time.Time) error {
	return nil
}

func (f *fakeMS) Publish(ctx context.Context, volumeID uint64, entry inode.MdEntry) error {
	f.published = append(f.published, entry)
	return nil
}
