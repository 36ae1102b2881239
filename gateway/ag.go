package gateway

import (
	"context"
	"fmt"

	"github.com/syndicate-storage/syndicate-sub005/chunk"
	"github.com/syndicate-storage/syndicate-sub005/driver"
	"github.com/syndicate-storage/syndicate-sub005/errs"
	"github.com/syndicate-storage/syndicate-sub005/gwctx"
	"github.com/syndicate-storage/syndicate-sub005/inode"
	"github.com/syndicate-storage/syndicate-sub005/wire"
)

// AG is the acquisition-gateway role server (spec §4.9 "AG server"): a
// read-only coordinator for whatever paths its crawler has discovered.
// GET_* is served exactly like a UG that is always its own coordinator;
// every write verb is disabled.
type AG struct {
	GC     *gwctx.Context
	Cache  *inode.Cache
	Codec  *chunk.Codec
	Driver *driver.Pool
}

// NewAG builds an AG handler bound to the given collaborators.
func NewAG(gc *gwctx.Context, cache *inode.Cache, codec *chunk.Codec, pool *driver.Pool) *AG {
	return &AG{GC: gc, Cache: cache, Codec: codec, Driver: pool}
}

// GetBlock serves a block discovered by the crawler, signing it the way
// a UG signs a locally-owned block (spec §4.9).
func (a *AG) GetBlock(ctx context.Context, req *wire.RequestData) ([]byte, error) {
	if _, ok := a.Cache.FindByFileID(req.FileID); !ok {
		return nil, errs.New("gateway.AG.GetBlock", errs.NotFound, fmt.Errorf("file %d not crawled", req.FileID))
	}
	raw, err := a.Driver.Dispatch("read", req, nil)
	if err != nil {
		return nil, err
	}
	serialized, err := a.Codec.Serialize(req, raw)
	if err != nil {
		return nil, errs.New("gateway.AG.GetBlock", errs.DriverError, err)
	}
	sc, err := a.Codec.Sign(req, serialized)
	if err != nil {
		return nil, err
	}
	return chunk.EncodeSignedChunk(sc), nil
}

// GetManifest serves the crawler-synthesized manifest for a crawled file.
func (a *AG) GetManifest(ctx context.Context, req *wire.RequestData) ([]byte, error) {
	in, ok := a.Cache.FindByFileID(req.FileID)
	if !ok {
		return nil, errs.New("gateway.AG.GetManifest", errs.NotFound, fmt.Errorf("file %d not crawled", req.FileID))
	}
	in.RLock()
	defer in.RUnlock()
	if in.Manifest == nil {
		return nil, errs.New("gateway.AG.GetManifest", errs.NotFound, fmt.Errorf("file %d has no manifest yet", req.FileID))
	}
	encoded := wire.EncodeManifest(in.Manifest.Clone())
	sc, err := a.Codec.Sign(req, encoded)
	if err != nil {
		return nil, err
	}
	return chunk.EncodeSignedChunk(sc), nil
}

func (a *AG) PutBlock(ctx context.Context, req *wire.RequestData, payload []byte) error {
	return unsupported(wire.VerbPutBlock)
}
func (a *AG) PutManifest(ctx context.Context, req *wire.RequestData, payload []byte) error {
	return unsupported(wire.VerbPutManifest)
}
func (a *AG) DeleteChunks(ctx context.Context, req *wire.RequestData) error {
	return unsupported(wire.VerbDeleteChunks)
}
func (a *AG) Rename(ctx context.Context, req *wire.RequestData) error { return unsupported(wire.VerbRename) }
func (a *AG) Truncate(ctx context.Context, req *wire.RequestData) error {
	return unsupported(wire.VerbTruncate)
}
func (a *AG) Detach(ctx context.Context, req *wire.RequestData) error { return unsupported(wire.VerbDetach) }
func (a *AG) PatchManifest(ctx context.Context, req *wire.RequestData, payload []byte) error {
	return unsupported(wire.VerbPatchManifest)
}
