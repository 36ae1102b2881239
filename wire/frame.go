// Package wire implements the length-delimited wire contract of §6: the
// gateway-to-gateway RPC envelope, the two manifest schema shapes, the
// md_entry schema, and the chunk-pair framing shared by RPC transport and
// the driver pipe protocol (§4.4).
//
// Messages are hand-encoded with google.golang.org/protobuf/encoding/
// protowire rather than generated from a .proto file: this environment has
// no protoc toolchain, and protowire is the same module's low-level wire
// primitive, so the bytes on the wire are ordinary protobuf bytes a real
// .proto-generated client could also decode.
package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// maxFrameBytes bounds a single length-delimited frame to guard against a
// corrupt or hostile peer claiming an enormous length.
const maxFrameBytes = 256 << 20

// WriteFrame writes a length-prefixed (big-endian uint32) frame, the shape
// used for every RPC and driver-pipe message in §6.
func WriteFrame(w io.Writer, payload []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("WriteFrame: header: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("WriteFrame: payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("ReadFrame: header: %w", err)
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxFrameBytes {
		return nil, errors.New("ReadFrame: frame exceeds maximum size")
	}
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("ReadFrame: payload: %w", err)
	}
	return buf, nil
}

// NewFrameReader wraps r with buffering suitable for repeated ReadFrame
// calls against a driver pipe or an HTTP body.
func NewFrameReader(r io.Reader) *bufio.Reader {
	return bufio.NewReaderSize(r, 64*1024)
}
