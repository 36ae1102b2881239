package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// EncodeSignedChunk serializes the three fields a GET_BLOCK/PUT_BLOCK
// payload carries over the wire: the (already-serialized, already-signed)
// chunk bytes, the id of the gateway that signed them, and the signature
// itself (§4.6 "a signed chunk of exact block_size").
func EncodeSignedChunk(payload []byte, signerID uint64, signature []byte) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, payload)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, signerID)
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendBytes(b, signature)
	return b
}

// DecodeSignedChunk is the inverse of EncodeSignedChunk.
func DecodeSignedChunk(buf []byte) (payload []byte, signerID uint64, signature []byte, err error) {
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, 0, nil, fmt.Errorf("SignedChunk: bad tag: %w", protowire.ParseError(n))
		}
		buf = buf[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeBytes(buf)
			checkConsume(n)
			payload = append([]byte(nil), v...)
			buf = buf[n:]
		case 2:
			v, n := protowire.ConsumeVarint(buf)
			checkConsume(n)
			signerID = v
			buf = buf[n:]
		case 3:
			v, n := protowire.ConsumeBytes(buf)
			checkConsume(n)
			signature = append([]byte(nil), v...)
			buf = buf[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			checkConsume(n)
			buf = buf[n:]
		}
	}
	return payload, signerID, signature, nil
}
