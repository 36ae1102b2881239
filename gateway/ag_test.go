package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syndicate-storage/syndicate-sub005/chunk"
	"github.com/syndicate-storage/syndicate-sub005/errs"
	"github.com/syndicate-storage/syndicate-sub005/gwctx"
	"github.com/syndicate-storage/syndicate-sub005/inode"
	"github.com/syndicate-storage/syndicate-sub005/manifest"
	"github.com/syndicate-storage/syndicate-sub005/wire"
)

func newTestAG(t *testing.T, store map[string][]byte) *AG {
	t.Helper()
	gc, priv := newTestGC(t, gwctx.RoleAG, 9, 4096)
	cache := inode.NewCache()
	codec := &chunk.Codec{Signer: &chunk.Signer{GatewayID: 9, PrivateKey: priv}}
	pool := newPoolWithGroups(map[string]func(*wire.RequestData, []byte) (errs.Code, []byte){
		"read": storeHandler(store, func(r *wire.RequestData) string { return "b" }),
	})
	return NewAG(gc, cache, codec, pool)
}

func TestAGGetBlockServesCrawledFile(t *testing.T) {
	store := map[string][]byte{"b": []byte("crawled-bytes")}
	ag := newTestAG(t, store)
	m := manifest.New(1, 9, 55, 1)
	in := &inode.Inode{Kind: inode.KindFile, Meta: inode.Metadata{FileID: 55, CoordinatorID: 9, VolumeID: 1}, Manifest: m}
	require.NoError(t, ag.Cache.Create(inode.RootID, "a.txt", in))

	out, err := ag.GetBlock(context.Background(), &wire.RequestData{Verb: wire.VerbGetBlock, FileID: 55})
	require.NoError(t, err)
	sc, err := chunk.DecodeSignedChunk(out)
	require.NoError(t, err)
	assert.Equal(t, []byte("crawled-bytes"), sc.Payload)
}

func TestAGGetBlockRejectsUncrawledFile(t *testing.T) {
	ag := newTestAG(t, map[string][]byte{})
	_, err := ag.GetBlock(context.Background(), &wire.RequestData{Verb: wire.VerbGetBlock, FileID: 999})
	assert.Equal(t, errs.NotFound, errs.CodeOf(err))
}

func TestAGRejectsEveryWriteVerb(t *testing.T) {
	ag := newTestAG(t, map[string][]byte{})
	ctx := context.Background()

	assert.Equal(t, errs.ProtocolMismatch, errs.CodeOf(ag.PutBlock(ctx, &wire.RequestData{}, nil)))
	assert.Equal(t, errs.ProtocolMismatch, errs.CodeOf(ag.PutManifest(ctx, &wire.RequestData{}, nil)))
	assert.Equal(t, errs.ProtocolMismatch, errs.CodeOf(ag.DeleteChunks(ctx, &wire.RequestData{})))
	assert.Equal(t, errs.ProtocolMismatch, errs.CodeOf(ag.Rename(ctx, &wire.RequestData{})))
	assert.Equal(t, errs.ProtocolMismatch, errs.CodeOf(ag.Truncate(ctx, &wire.RequestData{})))
	assert.Equal(t, errs.ProtocolMismatch, errs.CodeOf(ag.Detach(ctx, &wire.RequestData{})))
	assert.Equal(t, errs.ProtocolMismatch, errs.CodeOf(ag.PatchManifest(ctx, &wire.RequestData{}, nil)))
}
