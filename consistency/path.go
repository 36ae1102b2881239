package consistency

import (
	"context"
	"time"

	"github.com/syndicate-storage/syndicate-sub005/errs"
	"github.com/syndicate-storage/syndicate-sub005/gwctx"
	"github.com/syndicate-storage/syndicate-sub005/inode"
)

// staleEntry is one cached-but-stale path component collected while
// walking the prefix, grouped by parent for a batched getattr_multi.
type staleEntry struct {
	parentID uint64
	name     string
}

// RefreshPath implements spec §4.5(b). blockSize feeds the reconciliation
// rule's size-shrink step for any regular files it touches.
func RefreshPath(ctx context.Context, gc *gwctx.Context, cache *inode.Cache, path string, blockSize int64) error {
	now := gc.Clock.Now()

	byParent := make(map[uint64][]string)
	var order []staleEntry
	var tailParentID uint64
	var tailRemaining string
	resolvedFully := true

	cache.ResolvePrefix(path, func(pc inode.PathComponent) bool {
		if !pc.ChildFound {
			tailParentID = pc.ParentID
			tailRemaining = pc.RemainingPath
			resolvedFully = false
			return false
		}
		child, ok := cache.Get(pc.ChildID)
		if !ok {
			return true
		}
		child.RLock()
		stale := child.IsStaleForReads(now)
		child.RUnlock()
		if stale {
			byParent[pc.ParentID] = append(byParent[pc.ParentID], pc.Name)
			order = append(order, staleEntry{parentID: pc.ParentID, name: pc.Name})
		}
		return true
	})

	volumeID := gc.Identity.VolumeID

	for parentID, names := range byParent {
		attrs, err := gc.MS.GetAttrMulti(ctx, volumeID, parentID, names)
		if err != nil {
			return errs.New("consistency.RefreshPath", errs.NoData, err)
		}
		for _, attr := range attrs {
			if !attr.Found {
				if err := cache.Detach(parentID, attr.Name); err != nil && errs.CodeOf(err) != errs.NotFound {
					return err
				}
				continue
			}
			if err := applyReconcile(cache, parentID, attr.Name, attr.Entry, gc.Identity.GatewayID, now, blockSize); err != nil {
				return err
			}
		}
	}

	if resolvedFully || tailRemaining == "" {
		return nil
	}

	chain, err := gc.MS.PathDownload(ctx, volumeID, tailRemaining)
	if err != nil {
		return errs.New("consistency.RefreshPath", errs.NoData, err)
	}

	parentID := tailParentID
	for i, entry := range chain {
		child := entry.ToInode()
		if i == 0 {
			err = cache.AttachGraft(parentID, entry.Name, child)
		} else {
			err = cache.Create(parentID, entry.Name, child)
		}
		if err != nil {
			return err
		}
		parentID = child.ID
	}
	return nil
}

// applyReconcile reconciles the cached child at parentID/name against a
// freshly-fetched entry and applies the structural changes Reconcile
// reports, under the locks spec §4.5 requires.
func applyReconcile(cache *inode.Cache, parentID uint64, name string, fresh inode.MdEntry, selfGatewayID uint64, refreshStart time.Time, blockSize int64) error {
	childID, ok := cache.LookupChild(parentID, name)
	if !ok {
		return nil
	}
	child, ok := cache.Get(childID)
	if !ok {
		return nil
	}

	child.Lock()
	isCoordinator := child.Meta.CoordinatorID == selfGatewayID
	result := Reconcile(child, fresh, isCoordinator, refreshStart, blockSize)
	child.Unlock()

	if result.TypeChanged {
		if err := cache.Detach(parentID, name); err != nil {
			return err
		}
		return cache.Create(parentID, fresh.Name, fresh.ToInode())
	}
	if result.Renamed {
		if err := cache.Rename(parentID, name, parentID, result.NewName); err != nil {
			return err
		}
	}
	return nil
}
