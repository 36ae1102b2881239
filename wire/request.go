package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Verb is the fixed RPC verb set of §4.6.
type Verb int32

const (
	VerbGetBlock Verb = iota
	VerbGetManifest
	VerbPutBlock
	VerbPutManifest
	VerbDeleteChunks
	VerbRename
	VerbTruncate
	VerbDetach
	VerbPatchManifest
)

func (v Verb) String() string {
	switch v {
	case VerbGetBlock:
		return "GET_BLOCK"
	case VerbGetManifest:
		return "GET_MANIFEST"
	case VerbPutBlock:
		return "PUT_BLOCK"
	case VerbPutManifest:
		return "PUT_MANIFEST"
	case VerbDeleteChunks:
		return "DELETECHUNKS"
	case VerbRename:
		return "RENAME"
	case VerbTruncate:
		return "TRUNCATE"
	case VerbDetach:
		return "DETACH"
	case VerbPatchManifest:
		return "PATCH_MANIFEST"
	default:
		return "UNKNOWN_VERB"
	}
}

// ChunkKind distinguishes the two addressing modes a DELETECHUNKS entry
// may carry (§4.8 step 3).
type ChunkKind int32

const (
	ChunkKindManifest ChunkKind = iota
	ChunkKindBlock
)

// ChunkDescriptor addresses either a manifest by mtime or a block by
// (id, version), for DELETECHUNKS (§4.6, §4.8).
type ChunkDescriptor struct {
	Kind              ChunkKind
	BlockID           uint64
	BlockVersion      uint64
	ManifestMtimeSec  int64
	ManifestMtimeNsec int64
}

func (c ChunkDescriptor) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.Kind))
	switch c.Kind {
	case ChunkKindBlock:
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, c.BlockID)
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, c.BlockVersion)
	case ChunkKindManifest:
		b = protowire.AppendTag(b, 4, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(c.ManifestMtimeSec))
		b = protowire.AppendTag(b, 5, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(c.ManifestMtimeNsec))
	}
	return b
}

func unmarshalChunkDescriptor(buf []byte) (ChunkDescriptor, error) {
	var c ChunkDescriptor
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return c, fmt.Errorf("ChunkDescriptor: bad tag: %w", protowire.ParseError(n))
		}
		buf = buf[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(buf)
			checkConsume(n)
			c.Kind = ChunkKind(v)
			buf = buf[n:]
		case 2:
			v, n := protowire.ConsumeVarint(buf)
			checkConsume(n)
			c.BlockID = v
			buf = buf[n:]
		case 3:
			v, n := protowire.ConsumeVarint(buf)
			checkConsume(n)
			c.BlockVersion = v
			buf = buf[n:]
		case 4:
			v, n := protowire.ConsumeVarint(buf)
			checkConsume(n)
			c.ManifestMtimeSec = protowire.DecodeZigZag(v)
			buf = buf[n:]
		case 5:
			v, n := protowire.ConsumeVarint(buf)
			checkConsume(n)
			c.ManifestMtimeNsec = protowire.DecodeZigZag(v)
			buf = buf[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			checkConsume(n)
			buf = buf[n:]
		}
	}
	return c, nil
}

func checkConsume(n int) {
	if n < 0 {
		panic(protowire.ParseError(n))
	}
}

// RequestData is the unit of dispatch into the driver pool (C4) and the
// unit of authorization at the server (C6); every core operation carries
// one (spec §3 "Request descriptor").
type RequestData struct {
	Verb          Verb
	SrcGatewayID  uint64
	VolumeID      uint64
	FileID        uint64
	FileVersion   uint64
	CoordinatorID uint64
	UserID        uint64
	FsPath        string

	// Block request fields. Populated iff ManifestMtimeSec/Nsec are
	// zero value AND this is a block verb.
	BlockID      uint64
	BlockVersion uint64

	// Manifest request fields.
	ManifestMtimeSec  int64
	ManifestMtimeNsec int64

	// DELETECHUNKS payload.
	ChunkDescriptors []ChunkDescriptor

	// RENAME target path; FsPath carries the source.
	DstPath string

	// TRUNCATE target size.
	NewSize int64

	// Signature over every field above (message-minus-signature), §6.
	Signature []byte
}

// IsBlockRequest reports whether this descriptor addresses a single block
// (as opposed to a whole manifest).
func (r *RequestData) IsBlockRequest() bool {
	return r.Verb == VerbGetBlock || r.Verb == VerbPutBlock
}

// Marshal encodes r as a length-delimited protobuf message (without the
// outer frame length prefix — callers use WriteFrame for that).
func (r *RequestData) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Verb))
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, r.SrcGatewayID)
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, r.VolumeID)
	b = protowire.AppendTag(b, 4, protowire.VarintType)
	b = protowire.AppendVarint(b, r.FileID)
	b = protowire.AppendTag(b, 5, protowire.VarintType)
	b = protowire.AppendVarint(b, r.FileVersion)
	b = protowire.AppendTag(b, 6, protowire.VarintType)
	b = protowire.AppendVarint(b, r.CoordinatorID)
	b = protowire.AppendTag(b, 7, protowire.VarintType)
	b = protowire.AppendVarint(b, r.UserID)
	b = protowire.AppendTag(b, 8, protowire.BytesType)
	b = protowire.AppendString(b, r.FsPath)
	b = protowire.AppendTag(b, 9, protowire.VarintType)
	b = protowire.AppendVarint(b, r.BlockID)
	b = protowire.AppendTag(b, 10, protowire.VarintType)
	b = protowire.AppendVarint(b, r.BlockVersion)
	b = protowire.AppendTag(b, 11, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(r.ManifestMtimeSec))
	b = protowire.AppendTag(b, 12, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(r.ManifestMtimeNsec))
	for _, cd := range r.ChunkDescriptors {
		b = protowire.AppendTag(b, 13, protowire.BytesType)
		b = protowire.AppendBytes(b, cd.marshal())
	}
	b = protowire.AppendTag(b, 14, protowire.BytesType)
	b = protowire.AppendBytes(b, r.Signature)
	b = protowire.AppendTag(b, 15, protowire.BytesType)
	b = protowire.AppendString(b, r.DstPath)
	b = protowire.AppendTag(b, 16, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(r.NewSize))
	return b
}

// UnsignedPayload returns the bytes the signature in §6 covers: the
// message with the signature field cleared. It is recomputed rather than
// cached so callers can't accidentally sign stale bytes.
func (r *RequestData) UnsignedPayload() []byte {
	cp := *r
	cp.Signature = nil
	return cp.Marshal()
}

// Unmarshal decodes a RequestData from its protobuf bytes.
func Unmarshal(buf []byte) (*RequestData, error) {
	r := &RequestData{}
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, fmt.Errorf("RequestData: bad tag: %w", protowire.ParseError(n))
		}
		buf = buf[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(buf)
			checkConsume(n)
			r.Verb = Verb(v)
			buf = buf[n:]
		case 2:
			v, n := protowire.ConsumeVarint(buf)
			checkConsume(n)
			r.SrcGatewayID = v
			buf = buf[n:]
		case 3:
			v, n := protowire.ConsumeVarint(buf)
			checkConsume(n)
			r.VolumeID = v
			buf = buf[n:]
		case 4:
			v, n := protowire.ConsumeVarint(buf)
			checkConsume(n)
			r.FileID = v
			buf = buf[n:]
		case 5:
			v, n := protowire.ConsumeVarint(buf)
			checkConsume(n)
			r.FileVersion = v
			buf = buf[n:]
		case 6:
			v, n := protowire.ConsumeVarint(buf)
			checkConsume(n)
			r.CoordinatorID = v
			buf = buf[n:]
		case 7:
			v, n := protowire.ConsumeVarint(buf)
			checkConsume(n)
			r.UserID = v
			buf = buf[n:]
		case 8:
			v, n := protowire.ConsumeBytes(buf)
			checkConsume(n)
			r.FsPath = string(v)
			buf = buf[n:]
		case 9:
			v, n := protowire.ConsumeVarint(buf)
			checkConsume(n)
			r.BlockID = v
			buf = buf[n:]
		case 10:
			v, n := protowire.ConsumeVarint(buf)
			checkConsume(n)
			r.BlockVersion = v
			buf = buf[n:]
		case 11:
			v, n := protowire.ConsumeVarint(buf)
			checkConsume(n)
			r.ManifestMtimeSec = protowire.DecodeZigZag(v)
			buf = buf[n:]
		case 12:
			v, n := protowire.ConsumeVarint(buf)
			checkConsume(n)
			r.ManifestMtimeNsec = protowire.DecodeZigZag(v)
			buf = buf[n:]
		case 13:
			v, n := protowire.ConsumeBytes(buf)
			checkConsume(n)
			cd, err := unmarshalChunkDescriptor(v)
			if err != nil {
				return nil, err
			}
			r.ChunkDescriptors = append(r.ChunkDescriptors, cd)
			buf = buf[n:]
		case 14:
			v, n := protowire.ConsumeBytes(buf)
			checkConsume(n)
			if len(v) > 0 {
				r.Signature = append([]byte(nil), v...)
			}
			buf = buf[n:]
		case 15:
			v, n := protowire.ConsumeBytes(buf)
			checkConsume(n)
			r.DstPath = string(v)
			buf = buf[n:]
		case 16:
			v, n := protowire.ConsumeVarint(buf)
			checkConsume(n)
			r.NewSize = protowire.DecodeZigZag(v)
			buf = buf[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			checkConsume(n)
			buf = buf[n:]
		}
	}
	return r, nil
}
