// Package gateway implements the three role servers (C9): UG, RG, AG.
// Each installs rpc.Handler once, in place of the source's impl_get_block/
// impl_put_block/... function-pointer table (spec §9 "callback soup ->
// trait with typed methods", §4.9).
package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/syndicate-storage/syndicate-sub005/chunk"
	"github.com/syndicate-storage/syndicate-sub005/driver"
	"github.com/syndicate-storage/syndicate-sub005/errs"
	"github.com/syndicate-storage/syndicate-sub005/gwctx"
	"github.com/syndicate-storage/syndicate-sub005/inode"
	"github.com/syndicate-storage/syndicate-sub005/manifest"
	"github.com/syndicate-storage/syndicate-sub005/wire"
)

// UG is the user-gateway role server (spec §4.9 "UG server"): it answers
// GET_* from the local inode cache and dirty buffers first, and accepts
// PUT_*/DELETECHUNKS/RENAME/TRUNCATE/DETACH/PATCH_MANIFEST as the
// coordinator of its own files.
type UG struct {
	GC     *gwctx.Context
	Cache  *inode.Cache
	Codec  *chunk.Codec
	Driver *driver.Pool
}

// NewUG builds a UG handler bound to the given collaborators.
func NewUG(gc *gwctx.Context, cache *inode.Cache, codec *chunk.Codec, pool *driver.Pool) *UG {
	return &UG{GC: gc, Cache: cache, Codec: codec, Driver: pool}
}

func (u *UG) findByFileID(fileID uint64) (*inode.Inode, error) {
	in, ok := u.Cache.FindByFileID(fileID)
	if !ok {
		return nil, errs.New("gateway.UG", errs.NotFound, fmt.Errorf("file %d not cached", fileID))
	}
	return in, nil
}

// GetBlock consults the dirty-block buffer first, falling back to the
// local cache through the driver (spec §4.9 "local-read fast path").
func (u *UG) GetBlock(ctx context.Context, req *wire.RequestData) ([]byte, error) {
	in, err := u.findByFileID(req.FileID)
	if err != nil {
		return nil, err
	}
	in.RLock()
	defer in.RUnlock()
	if err := u.GC.CheckCoordinator(in.Meta.CoordinatorID); err != nil {
		return nil, err
	}

	var plain []byte
	if in.Dirty != nil {
		if db, ok := in.Dirty.Get(req.BlockID); ok {
			plain = db.Buffer
		}
	}
	if plain == nil {
		out, err := u.Driver.Dispatch("read", req, nil)
		if err != nil {
			return nil, err
		}
		plain = out
	}

	serialized, err := u.Codec.Serialize(req, plain)
	if err != nil {
		return nil, errs.New("gateway.UG.GetBlock", errs.DriverError, err)
	}
	sc, err := u.Codec.Sign(req, serialized)
	if err != nil {
		return nil, err
	}
	return chunk.EncodeSignedChunk(sc), nil
}

// GetManifest serves the coordinator's in-memory manifest (spec §4.6
// "coordinator locality"; the Server's localityCheck has already rejected
// a call here when this gateway isn't the coordinator).
func (u *UG) GetManifest(ctx context.Context, req *wire.RequestData) ([]byte, error) {
	in, err := u.findByFileID(req.FileID)
	if err != nil {
		return nil, err
	}
	in.RLock()
	defer in.RUnlock()
	if err := u.GC.CheckCoordinator(in.Meta.CoordinatorID); err != nil {
		return nil, err
	}
	if in.Manifest == nil {
		return nil, errs.New("gateway.UG.GetManifest", errs.NotFound, fmt.Errorf("file %d has no manifest yet", req.FileID))
	}
	encoded := wire.EncodeManifest(in.Manifest.Clone())
	sc, err := u.Codec.Sign(req, encoded)
	if err != nil {
		return nil, err
	}
	return chunk.EncodeSignedChunk(sc), nil
}

// PutBlock accepts a signed block pushed by its signer (used when one
// gateway caches another's block, e.g. a coordinator handoff), verifying
// the signature before writing it through the driver.
func (u *UG) PutBlock(ctx context.Context, req *wire.RequestData, payload []byte) error {
	sc, err := chunk.DecodeSignedChunk(payload)
	if err != nil {
		return errs.New("gateway.UG.PutBlock", errs.DriverError, err)
	}
	pub, ok := u.GC.Identity.GatewayKey(sc.SignerID)
	if !ok {
		return errs.New("gateway.UG.PutBlock", errs.PermissionDenied, fmt.Errorf("unknown signer %d", sc.SignerID))
	}
	plain, err := chunk.Verify(req, sc, req.SrcGatewayID, pub)
	if err != nil {
		return err
	}
	deserialized, err := u.Codec.Deserialize(req, plain)
	if err != nil {
		return errs.New("gateway.UG.PutBlock", errs.DriverError, err)
	}
	if _, err := u.Driver.Dispatch("write", req, deserialized); err != nil {
		return err
	}
	if in, ok := u.Cache.FindByFileID(req.FileID); ok {
		in.Lock()
		if in.Manifest != nil {
			_ = in.Manifest.PutBlock(req.BlockID, manifest.BlockInfo{Version: int64(req.BlockVersion)}, true)
		}
		in.Unlock()
	}
	return nil
}

// PutManifest verifies and merges a coordinator-signed manifest into the
// local cache (spec §4.6 PUT_MANIFEST contract; the Server has already
// checked req.CoordinatorID == req.SrcGatewayID).
func (u *UG) PutManifest(ctx context.Context, req *wire.RequestData, payload []byte) error {
	sc, err := chunk.DecodeSignedChunk(payload)
	if err != nil {
		return errs.New("gateway.UG.PutManifest", errs.NotAManifest, err)
	}
	pub, ok := u.GC.Identity.GatewayKey(sc.SignerID)
	if !ok {
		return errs.New("gateway.UG.PutManifest", errs.PermissionDenied, fmt.Errorf("unknown signer %d", sc.SignerID))
	}
	plain, err := chunk.Verify(req, sc, req.CoordinatorID, pub)
	if err != nil {
		return err
	}
	m, err := wire.DecodeManifest(plain)
	if err != nil {
		return errs.New("gateway.UG.PutManifest", errs.NotAManifest, err)
	}
	in, err := u.findByFileID(req.FileID)
	if err != nil {
		return err
	}
	in.Lock()
	defer in.Unlock()
	if in.Manifest == nil {
		in.Manifest = manifest.New(m.VolumeID, m.CoordinatorID, m.FileID, m.FileVersion)
	}
	in.Manifest.Patch(m)
	in.Meta.ManifestMtime = m.Modtime
	in.ManifestStaleHint = false
	return nil
}

// DeleteChunks evicts local cache entries named by req.ChunkDescriptors
// (spec §4.8 step 4; authoritative deletion happens at the RGs — this
// path only keeps the coordinator's own cache from serving stale bytes).
func (u *UG) DeleteChunks(ctx context.Context, req *wire.RequestData) error {
	for _, d := range req.ChunkDescriptors {
		dreq := *req
		dreq.ChunkDescriptors = nil
		if d.Kind == wire.ChunkKindBlock {
			dreq.BlockID = d.BlockID
			dreq.BlockVersion = d.BlockVersion
		} else {
			dreq.ManifestMtimeSec = d.ManifestMtimeSec
			dreq.ManifestMtimeNsec = d.ManifestMtimeNsec
		}
		if _, err := u.Driver.Dispatch("delete", &dreq, nil); err != nil {
			return err
		}
	}
	return nil
}

// Rename moves a path within the cached tree and republishes the new
// location to the MS (spec §4.6 RENAME contract: Busy/NotCoordinator).
func (u *UG) Rename(ctx context.Context, req *wire.RequestData) error {
	oldParent, oldName, ok := resolveParent(u.Cache, req.FsPath)
	if !ok {
		return errs.New("gateway.UG.Rename", errs.NotFound, fmt.Errorf("source path %q not cached", req.FsPath))
	}
	newParent, newName, ok := resolveParent(u.Cache, req.DstPath)
	if !ok {
		return errs.New("gateway.UG.Rename", errs.NotFound, fmt.Errorf("destination parent of %q not cached", req.DstPath))
	}
	childID, ok := u.Cache.LookupChild(oldParent, oldName)
	if !ok {
		return errs.New("gateway.UG.Rename", errs.NotFound, fmt.Errorf("%q not found", req.FsPath))
	}
	in, ok := u.Cache.Get(childID)
	if !ok {
		return errs.New("gateway.UG.Rename", errs.NotFound, nil)
	}
	if err := u.GC.CheckCoordinator(in.Meta.CoordinatorID); err != nil {
		return err
	}
	if err := u.Cache.Rename(oldParent, oldName, newParent, newName); err != nil {
		return err
	}
	entry := mdEntryFor(in, newName)
	if err := u.GC.MS.Publish(ctx, in.Meta.VolumeID, entry); err != nil {
		return errs.New("gateway.UG.Rename", errs.IOError, err)
	}
	return nil
}

// Truncate shrinks the coordinator's manifest to the block boundary
// req.NewSize implies (spec §4.6 TRUNCATE; §3 "Block").
func (u *UG) Truncate(ctx context.Context, req *wire.RequestData) error {
	in, err := u.findByFileID(req.FileID)
	if err != nil {
		return err
	}
	in.Lock()
	defer in.Unlock()
	if err := u.GC.CheckCoordinator(in.Meta.CoordinatorID); err != nil {
		return err
	}
	if in.Manifest == nil {
		return errs.New("gateway.UG.Truncate", errs.NotFound, fmt.Errorf("file %d has no manifest yet", req.FileID))
	}
	var maxID uint64
	if req.NewSize > 0 && u.GC.BlockSize > 0 {
		count := uint64((req.NewSize + u.GC.BlockSize - 1) / u.GC.BlockSize)
		if count > 0 {
			maxID = count - 1
		}
	}
	in.Manifest.Truncate(maxID)
	in.Manifest.Size = req.NewSize
	in.Meta.Size = req.NewSize
	return nil
}

// Detach unlinks a cached path (spec §4.6 DETACH; deferred-GC semantics
// are the inode cache's, per §3 "Lifecycles").
func (u *UG) Detach(ctx context.Context, req *wire.RequestData) error {
	parentID, name, ok := resolveParent(u.Cache, req.FsPath)
	if !ok {
		return nil // already gone: DETACH is idempotent
	}
	return u.Cache.Detach(parentID, name)
}

// PatchManifest applies a coordinator-authored partial manifest delta
// (spec §4.6 PATCH_MANIFEST; the Server has already checked that the
// sender is the coordinator the request names).
func (u *UG) PatchManifest(ctx context.Context, req *wire.RequestData, payload []byte) error {
	m, err := wire.DecodeManifest(payload)
	if err != nil {
		return errs.New("gateway.UG.PatchManifest", errs.NotAManifest, err)
	}
	in, err := u.findByFileID(req.FileID)
	if err != nil {
		return err
	}
	in.Lock()
	defer in.Unlock()
	if in.Manifest == nil {
		in.Manifest = manifest.New(m.VolumeID, m.CoordinatorID, m.FileID, m.FileVersion)
	}
	in.Manifest.Patch(m)
	return nil
}

// resolveParent walks path from root through cached edges only, returning
// the id and name of its deepest component's parent (the inode arena has
// no parent backlinks, per §9 "arena + indices"; this is the lookup that
// stands in for one).
func resolveParent(c *inode.Cache, path string) (parentID uint64, name string, ok bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		return 0, "", false
	}
	parentID = inode.RootID
	for i := 0; i < len(parts)-1; i++ {
		id, found := c.LookupChild(parentID, parts[i])
		if !found {
			return 0, "", false
		}
		parentID = id
	}
	return parentID, parts[len(parts)-1], true
}

func mdEntryFor(in *inode.Inode, name string) inode.MdEntry {
	return inode.MdEntry{
		Kind:          in.Kind,
		Name:          name,
		FileID:        in.Meta.FileID,
		Version:       in.Meta.FileVersion,
		Owner:         in.Meta.Owner,
		Coordinator:   in.Meta.CoordinatorID,
		Volume:        in.Meta.VolumeID,
		Mode:          in.Meta.Mode,
		Size:          in.Meta.Size,
		Ctime:         in.Meta.Ctime,
		Mtime:         in.Meta.Mtime,
		ManifestMtime: in.Meta.ManifestMtime,
		WriteNonce:    in.Meta.WriteNonce,
		XattrNonce:    in.Meta.XattrNonce,
		Generation:    in.Meta.Generation,
		NumChildren:   in.NumChildren,
	}
}
