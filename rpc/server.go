// Package rpc implements the gateway-to-gateway RPC contract of C6: the
// fixed verb set, its per-verb success/failure contract, the authorization
// rules, and the coordinator-locality dispatch rule (spec §4.6). The actual
// HTTP/TLS transport is an external collaborator (spec §1) specified only
// at the Transport interface in client.go; this package owns everything on
// either side of that boundary.
package rpc

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/syndicate-storage/syndicate-sub005/errs"
	"github.com/syndicate-storage/syndicate-sub005/gwctx"
	"github.com/syndicate-storage/syndicate-sub005/wire"
)

// Handler is the per-role verb implementation (spec §4.9 "Role servers"):
// one trait, implemented once each by the UG, RG, and AG servers, in place
// of the impl_get_block/impl_put_block/... function-pointer table (spec §9
// redesign flag "callback soup -> trait with typed methods").
type Handler interface {
	GetBlock(ctx context.Context, req *wire.RequestData) ([]byte, error)
	GetManifest(ctx context.Context, req *wire.RequestData) ([]byte, error)
	PutBlock(ctx context.Context, req *wire.RequestData, payload []byte) error
	PutManifest(ctx context.Context, req *wire.RequestData, payload []byte) error
	DeleteChunks(ctx context.Context, req *wire.RequestData) error
	Rename(ctx context.Context, req *wire.RequestData) error
	Truncate(ctx context.Context, req *wire.RequestData) error
	Detach(ctx context.Context, req *wire.RequestData) error
	PatchManifest(ctx context.Context, req *wire.RequestData, payload []byte) error
}

// Server applies the checks common to every verb (signature, authorization,
// coordinator locality, spec §4.6) and then dispatches to a role-specific
// Handler. It has no knowledge of HTTP: a caller hands it an already
// length-delimited-decoded request plus optional payload and gets back the
// reply envelope plus an optional payload to frame back onto the wire.
type Server struct {
	GC *gwctx.Context
	H  Handler
}

// NewServer builds a Server for the given role context and handler.
func NewServer(gc *gwctx.Context, h Handler) *Server {
	return &Server{GC: gc, H: h}
}

// Handle routes req (and its optional dataplane payload) to the configured
// Handler after authorization, returning the reply envelope and an optional
// reply payload. It never returns a non-nil error itself for a
// taxonomy-coded rejection; those are reported via the Reply's Code, the
// same path a remote peer observes (spec §6 "Reply is ... error_code").
func (s *Server) Handle(ctx context.Context, req *wire.RequestData, payload []byte) (*wire.Reply, []byte) {
	if err := s.verify(req); err != nil {
		return replyFor(err), nil
	}
	if err := s.authorize(req); err != nil {
		return replyFor(err), nil
	}
	if err := s.localityCheck(req); err != nil {
		return replyFor(err), nil
	}

	switch req.Verb {
	case wire.VerbGetBlock:
		out, err := s.H.GetBlock(ctx, req)
		return replyFor(err), out
	case wire.VerbGetManifest:
		out, err := s.H.GetManifest(ctx, req)
		return replyFor(err), out
	case wire.VerbPutBlock:
		return replyFor(s.H.PutBlock(ctx, req, payload)), nil
	case wire.VerbPutManifest:
		return replyFor(s.H.PutManifest(ctx, req, payload)), nil
	case wire.VerbDeleteChunks:
		return replyFor(s.H.DeleteChunks(ctx, req)), nil
	case wire.VerbRename:
		return replyFor(s.H.Rename(ctx, req)), nil
	case wire.VerbTruncate:
		return replyFor(s.H.Truncate(ctx, req)), nil
	case wire.VerbDetach:
		return replyFor(s.H.Detach(ctx, req)), nil
	case wire.VerbPatchManifest:
		return replyFor(s.H.PatchManifest(ctx, req, payload)), nil
	default:
		return replyFor(errs.New("rpc.Server.Handle", errs.ProtocolMismatch,
			fmt.Errorf("unknown verb %d", req.Verb))), nil
	}
}

// verify checks the envelope signature against the sender's MS-advertised
// key (spec §4.6 "Authorization": "the sender's signature must verify
// against its MS-advertised key"). A PATCH_MANIFEST from a gateway whose
// key hasn't been learned yet is rejected outright; other verbs tolerate an
// unknown key (the key cache fills in lazily as the MS is polled) but still
// reject a known key whose signature fails to verify.
func (s *Server) verify(req *wire.RequestData) error {
	pub, ok := s.GC.Identity.GatewayKey(req.SrcGatewayID)
	if !ok {
		if req.Verb == wire.VerbPatchManifest {
			return errs.New("rpc.Server.verify", errs.PermissionDenied,
				fmt.Errorf("no trusted key for gateway %d", req.SrcGatewayID))
		}
		return nil
	}
	if !ed25519.Verify(pub, req.UnsignedPayload(), req.Signature) {
		return errs.New("rpc.Server.verify", errs.InvalidSignature,
			fmt.Errorf("signature check failed for gateway %d", req.SrcGatewayID))
	}
	return nil
}

// authorize enforces the two coordinator-identity checks of §4.6: a
// PUT_BLOCK/PUT_MANIFEST must be sent by the gateway the manifest names as
// coordinator (else WrongCoordinator, telling the sender its MS view is
// stale), and a PATCH_MANIFEST must likewise come from the recorded
// coordinator (else NotCoordinator, since only the coordinator may accept
// patches for its own files).
func (s *Server) authorize(req *wire.RequestData) error {
	switch req.Verb {
	case wire.VerbPutBlock, wire.VerbPutManifest:
		if req.CoordinatorID != req.SrcGatewayID {
			return errs.New("rpc.Server.authorize", errs.WrongCoordinator,
				fmt.Errorf("manifest declares coordinator %d, sent by %d", req.CoordinatorID, req.SrcGatewayID))
		}
	case wire.VerbPatchManifest:
		if req.CoordinatorID != req.SrcGatewayID {
			return errs.New("rpc.Server.authorize", errs.NotCoordinator,
				fmt.Errorf("patch for file %d must come from coordinator %d, sent by %d", req.FileID, req.CoordinatorID, req.SrcGatewayID))
		}
	}
	return nil
}

// localityCheck implements §4.6 "Coordinator locality": RGs always answer
// GET_MANIFEST from their backing store, but a UG or AG that is not itself
// the coordinator must refuse with Stale, sending the caller back to the
// coordinator rather than risking a stale read.
func (s *Server) localityCheck(req *wire.RequestData) error {
	if req.Verb != wire.VerbGetManifest || s.GC.Role == gwctx.RoleRG {
		return nil
	}
	if req.CoordinatorID != s.GC.Identity.GatewayID {
		return errs.New("rpc.Server.localityCheck", errs.Stale,
			fmt.Errorf("gateway %d is not coordinator for file %d", s.GC.Identity.GatewayID, req.FileID))
	}
	return nil
}

func replyFor(err error) *wire.Reply {
	return &wire.Reply{Code: errs.CodeOf(err)}
}
