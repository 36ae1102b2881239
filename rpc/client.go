package rpc

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/syndicate-storage/syndicate-sub005/errs"
	"github.com/syndicate-storage/syndicate-sub005/gwctx"
	"github.com/syndicate-storage/syndicate-sub005/manifest"
	"github.com/syndicate-storage/syndicate-sub005/wire"
)

// Transport sends one signed request (plus optional dataplane payload) to
// candidateGatewayID and returns its reply envelope (plus optional reply
// payload). It is the seam at which the HTTP/TLS plumbing named out of
// scope by spec §1 would plug in; tests use an in-memory fake that calls
// straight into a Server.
type Transport interface {
	RoundTrip(ctx context.Context, candidateGatewayID uint64, req *wire.RequestData, payload []byte) (*wire.Reply, []byte, error)
}

// Client is the caller-side half of C6: it stamps every request with this
// gateway's identity, signs it, and turns a non-Ok reply into a taxonomy
// error. It satisfies consistency.ManifestFetcher via GetManifest.
type Client struct {
	GC        *gwctx.Context
	Transport Transport
}

// NewClient builds a Client bound to gc's identity and the given transport.
func NewClient(gc *gwctx.Context, t Transport) *Client {
	return &Client{GC: gc, Transport: t}
}

func (c *Client) call(ctx context.Context, gatewayID uint64, req *wire.RequestData, payload []byte) ([]byte, error) {
	req.SrcGatewayID = c.GC.Identity.GatewayID
	req.UserID = c.GC.Identity.UserID
	req.Signature = ed25519.Sign(c.GC.Identity.PrivateKey, req.UnsignedPayload())

	reply, out, err := c.Transport.RoundTrip(ctx, gatewayID, req, payload)
	if err != nil {
		return nil, fmt.Errorf("rpc.Client.%s: %w", req.Verb, err)
	}
	if reply.Code != errs.Ok {
		return nil, errs.New(fmt.Sprintf("rpc.Client.%s", req.Verb), reply.Code, nil)
	}
	return out, nil
}

// GetBlock fetches one signed block from candidateGatewayID.
func (c *Client) GetBlock(ctx context.Context, candidateGatewayID uint64, req *wire.RequestData) ([]byte, error) {
	req.Verb = wire.VerbGetBlock
	return c.call(ctx, candidateGatewayID, req, nil)
}

// GetManifest fetches and decodes a manifest from candidateGatewayID. It
// satisfies consistency.ManifestFetcher.
func (c *Client) GetManifest(ctx context.Context, candidateGatewayID uint64, req *wire.RequestData) (*manifest.Manifest, error) {
	req.Verb = wire.VerbGetManifest
	out, err := c.call(ctx, candidateGatewayID, req, nil)
	if err != nil {
		return nil, err
	}
	return wire.DecodeManifest(out)
}

// PutBlock pushes a signed block payload to candidateGatewayID.
func (c *Client) PutBlock(ctx context.Context, candidateGatewayID uint64, req *wire.RequestData, payload []byte) error {
	req.Verb = wire.VerbPutBlock
	_, err := c.call(ctx, candidateGatewayID, req, payload)
	return err
}

// PutManifest pushes an encoded manifest to candidateGatewayID.
func (c *Client) PutManifest(ctx context.Context, candidateGatewayID uint64, req *wire.RequestData, payload []byte) error {
	req.Verb = wire.VerbPutManifest
	_, err := c.call(ctx, candidateGatewayID, req, payload)
	return err
}

// DeleteChunks asks candidateGatewayID to delete the manifests/blocks named
// by req.ChunkDescriptors (spec §4.8 step 4).
func (c *Client) DeleteChunks(ctx context.Context, candidateGatewayID uint64, req *wire.RequestData) error {
	req.Verb = wire.VerbDeleteChunks
	_, err := c.call(ctx, candidateGatewayID, req, nil)
	return err
}

// Rename asks candidateGatewayID (always the coordinator) to rename a path.
func (c *Client) Rename(ctx context.Context, candidateGatewayID uint64, req *wire.RequestData) error {
	req.Verb = wire.VerbRename
	_, err := c.call(ctx, candidateGatewayID, req, nil)
	return err
}

// Truncate asks candidateGatewayID to truncate a manifest to a new length.
func (c *Client) Truncate(ctx context.Context, candidateGatewayID uint64, req *wire.RequestData) error {
	req.Verb = wire.VerbTruncate
	_, err := c.call(ctx, candidateGatewayID, req, nil)
	return err
}

// Detach asks candidateGatewayID to unlink a path.
func (c *Client) Detach(ctx context.Context, candidateGatewayID uint64, req *wire.RequestData) error {
	req.Verb = wire.VerbDetach
	_, err := c.call(ctx, candidateGatewayID, req, nil)
	return err
}

// PatchManifest sends a partial manifest delta to its coordinator.
func (c *Client) PatchManifest(ctx context.Context, candidateGatewayID uint64, req *wire.RequestData, payload []byte) error {
	req.Verb = wire.VerbPatchManifest
	_, err := c.call(ctx, candidateGatewayID, req, payload)
	return err
}
