package consistency

import (
	"context"

	"github.com/syndicate-storage/syndicate-sub005/errs"
	"github.com/syndicate-storage/syndicate-sub005/gwctx"
	"github.com/syndicate-storage/syndicate-sub005/inode"
)

// RefreshDirectory implements spec §4.5(c): first fetch uses an unbounded
// listdir, incremental fetch uses diffdir(least_unknown_generation+1).
// The merge protects locally-created children by ctime against the
// freshly-fetched listing.
func RefreshDirectory(ctx context.Context, gc *gwctx.Context, cache *inode.Cache, dirID uint64) error {
	dir, ok := cache.Get(dirID)
	if !ok {
		return errs.New("consistency.RefreshDirectory", errs.NotFound, nil)
	}

	dir.RLock()
	stale := dir.IsStaleForReads(gc.Clock.Now())
	incremental := dir.LeastUnknownGeneration > 0
	sinceGen := dir.LeastUnknownGeneration
	dir.RUnlock()
	if !stale {
		return nil
	}

	refreshStart := gc.Clock.Now()
	volumeID := gc.Identity.VolumeID

	var entries []inode.MdEntry
	var err error
	fullListing := !incremental
	if fullListing {
		entries, err = gc.MS.ListDir(ctx, volumeID, dirID)
	} else {
		entries, err = gc.MS.DiffDir(ctx, volumeID, dirID, sinceGen+1)
	}
	if err != nil {
		return errs.New("consistency.RefreshDirectory", errs.NoData, err)
	}

	seen := make(map[string]bool, len(entries))
	for _, entry := range entries {
		seen[entry.Name] = true
		childID, found := cache.LookupChild(dirID, entry.Name)
		if !found {
			if err := cache.Create(dirID, entry.Name, entry.ToInode()); err != nil && errs.CodeOf(err) != errs.AlreadyExists {
				return err
			}
			continue
		}
		child, ok := cache.Get(childID)
		if !ok {
			continue
		}
		child.Lock()
		locallyCreated := child.Meta.Ctime.After(refreshStart)
		if !locallyCreated {
			isCoordinator := child.Meta.CoordinatorID == gc.Identity.GatewayID
			Reconcile(child, entry, isCoordinator, refreshStart, 0)
		}
		child.Unlock()
	}

	if fullListing {
		if err := evictMissingChildren(cache, dirID, seen); err != nil {
			return err
		}
	}

	dir.Lock()
	dir.RefreshTime = refreshStart
	for _, entry := range entries {
		if entry.Generation > dir.LeastUnknownGeneration {
			dir.LeastUnknownGeneration = entry.Generation
		}
	}
	dir.Unlock()
	return nil
}

// evictMissingChildren deferred-removes every cached child of dirID not
// present in a fresh full listing (spec §4.5c).
func evictMissingChildren(cache *inode.Cache, dirID uint64, seen map[string]bool) error {
	for _, name := range cache.ChildNames(dirID) {
		if seen[name] {
			continue
		}
		if err := cache.Detach(dirID, name); err != nil && errs.CodeOf(err) != errs.NotFound {
			return err
		}
	}
	return nil
}
