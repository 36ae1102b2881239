package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/syndicate-storage/syndicate-sub005/errs"
)

// Reply is the second half of the §6 RPC contract: an error_code (errs.Ok
// or another errs taxonomy code) optionally followed by a chunk, which
// travels as a separate frame after the reply frame.
type Reply struct {
	Code errs.Code
}

// Marshal encodes the reply envelope. error_code is stored zigzag so a
// negative encoding (reserved for transport-level use) costs the same as
// a positive one.
func (r *Reply) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(r.Code)))
	return b
}

func UnmarshalReply(buf []byte) (*Reply, error) {
	r := &Reply{}
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, fmt.Errorf("Reply: bad tag: %w", protowire.ParseError(n))
		}
		buf = buf[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(buf)
			checkConsume(n)
			r.Code = errs.Code(protowire.DecodeZigZag(v))
			buf = buf[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			checkConsume(n)
			buf = buf[n:]
		}
	}
	return r, nil
}
