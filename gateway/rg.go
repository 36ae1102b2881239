package gateway

import (
	"context"
	"fmt"

	"github.com/syndicate-storage/syndicate-sub005/driver"
	"github.com/syndicate-storage/syndicate-sub005/errs"
	"github.com/syndicate-storage/syndicate-sub005/wire"
)

// RG is the replica-gateway role server (spec §4.9 "RG server"): it
// stores and returns chunks exactly as its coordinator sent them, signed
// blob and all, through the driver's "read"/"write"/"delete" roles. It
// never parses or re-signs a chunk — that would substitute the RG's
// identity for the original signer's, breaking GET_BLOCK's signature
// contract (spec §8 property 5).
type RG struct {
	Driver *driver.Pool
}

// NewRG builds an RG handler bound to the given driver pool.
func NewRG(pool *driver.Pool) *RG {
	return &RG{Driver: pool}
}

// GetBlock returns the stored signed-chunk bytes verbatim.
func (r *RG) GetBlock(ctx context.Context, req *wire.RequestData) ([]byte, error) {
	return r.Driver.Dispatch("read", req, nil)
}

// GetManifest returns the stored signed-manifest bytes verbatim.
func (r *RG) GetManifest(ctx context.Context, req *wire.RequestData) ([]byte, error) {
	return r.Driver.Dispatch("read", req, nil)
}

// PutBlock stores payload exactly as received.
func (r *RG) PutBlock(ctx context.Context, req *wire.RequestData, payload []byte) error {
	_, err := r.Driver.Dispatch("write", req, payload)
	return err
}

// PutManifest stores payload exactly as received.
func (r *RG) PutManifest(ctx context.Context, req *wire.RequestData, payload []byte) error {
	_, err := r.Driver.Dispatch("write", req, payload)
	return err
}

// DeleteChunks removes every manifest/block named by req.ChunkDescriptors
// (spec §4.8 step 4).
func (r *RG) DeleteChunks(ctx context.Context, req *wire.RequestData) error {
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
		if _, err := r.Driver.Dispatch("delete", &dreq, nil); err != nil {
			return err
		}
	}
	return nil
}

// unsupported is returned by the four UG-only verbs an RG has no
// meaningful implementation for (spec §4.9 "Disables UG-specific hooks").
func unsupported(verb wire.Verb) error {
	return errs.New(fmt.Sprintf("gateway.RG.%s", verb), errs.ProtocolMismatch,
		fmt.Errorf("%s is not meaningful at an RG", verb))
}

func (r *RG) Rename(ctx context.Context, req *wire.RequestData) error { return unsupported(wire.VerbRename) }
func (r *RG) Truncate(ctx context.Context, req *wire.RequestData) error {
	return unsupported(wire.VerbTruncate)
}
func (r *RG) Detach(ctx context.Context, req *wire.RequestData) error { return unsupported(wire.VerbDetach) }
func (r *RG) PatchManifest(ctx context.Context, req *wire.RequestData, payload []byte) error {
	return unsupported(wire.VerbPatchManifest)
}
