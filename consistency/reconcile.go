package consistency

import (
	"time"

	"github.com/syndicate-storage/syndicate-sub005/inode"
)

// ReconcileResult reports the structural changes Reconcile could not
// apply itself (it has no access to the Cache's parent/child edges);
// the caller applies them under the appropriate locks (spec §4.5: "runs
// under the inode write lock... and under the parent's write lock if the
// entry is being renamed or replaced").
type ReconcileResult struct {
	TypeChanged    bool // caller must detach and replace the whole inode
	VersionChanged bool // caller must reversion any on-disk cache namespace
	Renamed        bool
	NewName        string
}

// Reconcile applies the inode reconciliation rule of spec §4.5 ("the
// heart of C5") to in given a freshly-retrieved md_entry. Caller must
// hold in's write lock. blockSize is needed only for the size-shrink
// block-eviction step; pass 0 to skip it (directories, symlinks).
func Reconcile(in *inode.Inode, fresh inode.MdEntry, isCoordinator bool, refreshStart time.Time, blockSize int64) ReconcileResult {
	var result ReconcileResult

	// 1. Type change: caller detaches and replaces wholesale.
	if in.Kind != fresh.Kind {
		result.TypeChanged = true
		if in.Kind == inode.KindFile {
			in.ManifestStaleHint = true
		}
		return result
	}

	// 2. file_version differs: reversion.
	if in.Meta.FileVersion != fresh.Version {
		result.VersionChanged = true
		in.Meta.FileVersion = fresh.Version
		if in.Manifest != nil {
			in.Manifest.FileVersion = fresh.Version
		}
	}

	// 3. Regular file whose size shrank: evict blocks beyond the new end,
	// truncate the manifest, update the recorded size.
	if in.Kind == inode.KindFile && fresh.Size < in.Meta.Size && blockSize > 0 && in.Manifest != nil {
		maxID := uint64(fresh.Size / blockSize)
		if fresh.Size%blockSize == 0 && maxID > 0 {
			maxID-- // the new end falls on a block boundary
		}
		in.Manifest.Truncate(maxID)
		in.Manifest.Size = fresh.Size
	}
	if in.Kind == inode.KindFile && fresh.Size < in.Meta.Size {
		in.Meta.Size = fresh.Size
	}

	// 4. Name differs: caller renames within the parent.
	if in.Name != fresh.Name {
		result.Renamed = true
		result.NewName = fresh.Name
	}

	// 5. Non-coordinator observing a manifest_mtime drift: mark stale.
	if !isCoordinator && in.Kind == inode.KindFile && !in.Meta.ManifestMtime.Equal(fresh.ManifestMtime) {
		in.ManifestStaleHint = true
	}

	// 6. xattr_nonce differs: drop cached xattrs.
	if in.Meta.XattrNonce != fresh.XattrNonce {
		in.Xattrs = nil
	}

	// 7. Copy forward remaining scalar fields.
	in.Meta.Owner = fresh.Owner
	in.Meta.CoordinatorID = fresh.Coordinator
	in.Meta.Mode = fresh.Mode
	in.Meta.Ctime = fresh.Ctime
	in.Meta.Mtime = fresh.Mtime
	in.Meta.ManifestMtime = fresh.ManifestMtime
	in.Meta.WriteNonce = fresh.WriteNonce
	in.Meta.XattrNonce = fresh.XattrNonce
	in.Meta.Generation = fresh.Generation
	in.Meta.MaxReadFreshness = fresh.MaxReadFreshness
	in.Meta.MaxWriteFreshness = fresh.MaxWriteFreshness
	if in.Kind == inode.KindDir {
		in.NumChildren = fresh.NumChildren
	}
	in.RefreshTime = refreshStart

	return result
}
