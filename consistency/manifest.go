// Package consistency implements the three refresh primitives of C5 that
// together keep a gateway's cached metadata and manifests fresh against
// the MS and remote coordinators: manifest freshness, path freshness, and
// directory freshness (spec §4.5).
package consistency

import (
	"context"
	"fmt"

	"github.com/syndicate-storage/syndicate-sub005/errs"
	"github.com/syndicate-storage/syndicate-sub005/gwctx"
	"github.com/syndicate-storage/syndicate-sub005/inode"
	"github.com/syndicate-storage/syndicate-sub005/manifest"
	"github.com/syndicate-storage/syndicate-sub005/wire"
)

// ManifestFetcher is the C6-client seam: whatever can run a GET_MANIFEST
// against one candidate gateway. rpc.Client implements this; tests use a
// fake that simulates a coordinator or RG.
type ManifestFetcher interface {
	GetManifest(ctx context.Context, candidateGatewayID uint64, req *wire.RequestData) (*manifest.Manifest, error)
}

// RefreshManifest implements spec §4.5(a). rgIDs is the volume's RG list,
// tried in order after the coordinator.
func RefreshManifest(ctx context.Context, gc *gwctx.Context, fetcher ManifestFetcher, in *inode.Inode, rgIDs []uint64) error {
	in.Lock()
	defer in.Unlock()

	isCoordinator := in.Meta.CoordinatorID == gc.Identity.GatewayID
	if isCoordinator && !in.ManifestStaleHint {
		return nil
	}
	now := gc.Clock.Now()
	if !in.ManifestStaleHint && now.Sub(in.ManifestRefreshTime) <= in.Meta.MaxReadFreshness {
		return nil
	}

	candidates := make([]uint64, 0, 1+len(rgIDs))
	candidates = append(candidates, in.Meta.CoordinatorID)
	candidates = append(candidates, rgIDs...)

	req := &wire.RequestData{
		Verb:          wire.VerbGetManifest,
		SrcGatewayID:  gc.Identity.GatewayID,
		VolumeID:      in.Meta.VolumeID,
		FileID:        in.Meta.FileID,
		FileVersion:   in.Meta.FileVersion,
		CoordinatorID: in.Meta.CoordinatorID,
		UserID:        gc.Identity.UserID,
		FsPath:        in.Name,
	}

	var received *manifest.Manifest
	var lastErr error
	for _, candidateID := range candidates {
		m, err := fetcher.GetManifest(ctx, candidateID, req)
		if err != nil {
			lastErr = err
			continue
		}
		received = m
		break
	}
	if received == nil {
		if lastErr == nil {
			lastErr = fmt.Errorf("no candidate gateway for file %d", in.Meta.FileID)
		}
		return errs.New("consistency.RefreshManifest", errs.NoData, lastErr)
	}

	if in.Manifest == nil {
		in.Manifest = manifest.New(in.Meta.VolumeID, in.Meta.CoordinatorID, in.Meta.FileID, in.Meta.FileVersion)
	}
	in.Manifest.Patch(received)

	if isCoordinator {
		if received.Size < in.Meta.Size {
			in.Manifest.Size = received.Size
			in.Meta.Size = received.Size
		}
		in.Manifest.Modtime = in.Meta.ManifestMtime
	}

	in.ManifestRefreshTime = now
	in.ManifestStaleHint = false
	return nil
}
