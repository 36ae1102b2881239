// Package chunk implements the chunk codec (C1): serialize/deserialize
// through a pluggable driver role, sign/verify of the resulting bytes, and
// hashing (spec §4.1).
package chunk

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"

	"github.com/syndicate-storage/syndicate-sub005/errs"
	"github.com/syndicate-storage/syndicate-sub005/manifest"
	"github.com/syndicate-storage/syndicate-sub005/wire"
)

// Dispatcher is the C4 seam: whatever can run a named driver role against
// a request+chunk pair. driver.Pool implements this; tests use a fake.
type Dispatcher interface {
	Dispatch(role string, req *wire.RequestData, payload []byte) ([]byte, error)
}

// Signer owns the gateway's private key and the id it signs as.
type Signer struct {
	GatewayID  uint64
	PrivateKey ed25519.PrivateKey
}

// SignedChunk is a length-prefixed payload plus a signature computed over
// (file_id, file_version, block_id, block_version, payload_digest) with
// the gateway's private key (spec §4.1).
type SignedChunk struct {
	Payload   []byte
	SignerID  uint64
	Signature []byte
}

// Codec bundles the driver dispatcher a gateway uses for the serialize/
// deserialize roles with the signer used for sign/verify.
type Codec struct {
	Driver Dispatcher
	Signer *Signer
}

// Hash computes the 32-byte digest of a chunk's bytes (spec §4.1 "hash").
func Hash(payload []byte) [32]byte {
	return sha256.Sum256(payload)
}

// Serialize runs the gateway's "serialize" driver role over plain (e.g.
// compression/encryption). A nil Driver, or a driver that reports
// errs.DriverAbsent, is treated as identity (spec §4.1).
func (c *Codec) Serialize(req *wire.RequestData, plain []byte) ([]byte, error) {
	return c.runRole("serialize", req, plain)
}

// Deserialize is the inverse of Serialize.
func (c *Codec) Deserialize(req *wire.RequestData, wireBytes []byte) ([]byte, error) {
	return c.runRole("deserialize", req, wireBytes)
}

func (c *Codec) runRole(role string, req *wire.RequestData, payload []byte) ([]byte, error) {
	if c.Driver == nil {
		return payload, nil
	}
	out, err := c.Driver.Dispatch(role, req, payload)
	if err != nil {
		if errs.CodeOf(err) == errs.DriverAbsent {
			return payload, nil
		}
		return nil, fmt.Errorf("chunk.%s: %w", role, err)
	}
	return out, nil
}

// signaturePayload builds the bytes the signature binds to: the request's
// identity tuple plus the digest of the already-serialized chunk (spec
// §4.1: "signing happens after serialization").
func signaturePayload(req *wire.RequestData, digest [32]byte) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%d:%d:%d:%d:", req.FileID, req.FileVersion, req.BlockID, req.BlockVersion)
	buf.Write(digest[:])
	return buf.Bytes()
}

// Sign produces a SignedChunk over already-serialized bytes.
func (c *Codec) Sign(req *wire.RequestData, serialized []byte) (*SignedChunk, error) {
	if c.Signer == nil {
		return nil, errs.New("Codec.Sign", errs.InvalidArgument, fmt.Errorf("no signer configured"))
	}
	digest := Hash(serialized)
	sig := ed25519.Sign(c.Signer.PrivateKey, signaturePayload(req, digest))
	return &SignedChunk{Payload: serialized, SignerID: c.Signer.GatewayID, Signature: sig}, nil
}

// Verify checks sc's signature against the given public key and signer
// id, rejecting if the signature fails or the signer is not who the
// caller expected (spec §4.1).
func Verify(req *wire.RequestData, sc *SignedChunk, expectedSignerID uint64, pub ed25519.PublicKey) ([]byte, error) {
	if sc.SignerID != expectedSignerID {
		return nil, errs.New("chunk.Verify", errs.WrongSigner, fmt.Errorf("signed by %d, expected %d", sc.SignerID, expectedSignerID))
	}
	digest := Hash(sc.Payload)
	if !ed25519.Verify(pub, signaturePayload(req, digest), sc.Signature) {
		return nil, errs.New("chunk.Verify", errs.InvalidSignature, fmt.Errorf("signature check failed"))
	}
	return sc.Payload, nil
}

// ManifestEncode/ManifestDecode delegate to the wire schema (spec §4.1,
// §6); kept here so callers of the codec don't need to import wire
// directly for the common case.
func ManifestEncode(m *manifest.Manifest) []byte {
	return wire.EncodeManifest(m)
}

func ManifestDecode(chunk []byte) (*manifest.Manifest, error) {
	return wire.DecodeManifest(chunk)
}

// EncodeSignedChunk frames sc the way a GET_BLOCK reply or a PUT_BLOCK
// request body carries it on the wire (spec §4.6).
func EncodeSignedChunk(sc *SignedChunk) []byte {
	return wire.EncodeSignedChunk(sc.Payload, sc.SignerID, sc.Signature)
}

// DecodeSignedChunk is the inverse of EncodeSignedChunk.
func DecodeSignedChunk(buf []byte) (*SignedChunk, error) {
	payload, signerID, signature, err := wire.DecodeSignedChunk(buf)
	if err != nil {
		return nil, fmt.Errorf("chunk.DecodeSignedChunk: %w", err)
	}
	return &SignedChunk{Payload: payload, SignerID: signerID, Signature: signature}, nil
}
