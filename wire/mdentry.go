package wire

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/syndicate-storage/syndicate-sub005/inode"
)

// EncodeMdEntry serializes an md_entry per the §6 schema.
func EncodeMdEntry(e inode.MdEntry) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Kind))
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, e.Name)
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, e.FileID)
	b = protowire.AppendTag(b, 4, protowire.VarintType)
	b = protowire.AppendVarint(b, e.Version)
	b = protowire.AppendTag(b, 5, protowire.VarintType)
	b = protowire.AppendVarint(b, e.Owner)
	b = protowire.AppendTag(b, 6, protowire.VarintType)
	b = protowire.AppendVarint(b, e.Coordinator)
	b = protowire.AppendTag(b, 7, protowire.VarintType)
	b = protowire.AppendVarint(b, e.Volume)
	b = protowire.AppendTag(b, 8, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Mode))
	b = protowire.AppendTag(b, 9, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(e.Size))
	b = protowire.AppendTag(b, 10, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(e.Ctime.Unix()))
	b = protowire.AppendTag(b, 11, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(e.Ctime.Nanosecond())))
	b = protowire.AppendTag(b, 12, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(e.Mtime.Unix()))
	b = protowire.AppendTag(b, 13, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(e.Mtime.Nanosecond())))
	b = protowire.AppendTag(b, 14, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(e.ManifestMtime.Unix()))
	b = protowire.AppendTag(b, 15, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(e.ManifestMtime.Nanosecond())))
	b = protowire.AppendTag(b, 16, protowire.VarintType)
	b = protowire.AppendVarint(b, e.WriteNonce)
	b = protowire.AppendTag(b, 17, protowire.VarintType)
	b = protowire.AppendVarint(b, e.XattrNonce)
	b = protowire.AppendTag(b, 18, protowire.VarintType)
	b = protowire.AppendVarint(b, e.Generation)
	b = protowire.AppendTag(b, 19, protowire.VarintType)
	b = protowire.AppendVarint(b, e.NumChildren)
	b = protowire.AppendTag(b, 20, protowire.VarintType)
	b = protowire.AppendVarint(b, e.ParentID)
	b = protowire.AppendTag(b, 21, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.MaxReadFreshness.Seconds()))
	b = protowire.AppendTag(b, 22, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.MaxWriteFreshness.Seconds()))
	return b
}

// DecodeMdEntry is the inverse of EncodeMdEntry.
func DecodeMdEntry(buf []byte) (inode.MdEntry, error) {
	var e inode.MdEntry
	var ctimeSec, ctimeNsec, mtimeSec, mtimeNsec, mmtimeSec, mmtimeNsec int64
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return e, fmt.Errorf("MdEntry: bad tag: %w", protowire.ParseError(n))
		}
		buf = buf[n:]
		consumeVarint := func() uint64 {
			v, n := protowire.ConsumeVarint(buf)
			checkConsume(n)
			buf = buf[n:]
			return v
		}
		switch num {
		case 1:
			e.Kind = inode.Kind(consumeVarint())
		case 2:
			v, n := protowire.ConsumeBytes(buf)
			checkConsume(n)
			e.Name = string(v)
			buf = buf[n:]
		case 3:
			e.FileID = consumeVarint()
		case 4:
			e.Version = consumeVarint()
		case 5:
			e.Owner = consumeVarint()
		case 6:
			e.Coordinator = consumeVarint()
		case 7:
			e.Volume = consumeVarint()
		case 8:
			e.Mode = uint32(consumeVarint())
		case 9:
			e.Size = protowire.DecodeZigZag(consumeVarint())
		case 10:
			ctimeSec = protowire.DecodeZigZag(consumeVarint())
		case 11:
			ctimeNsec = protowire.DecodeZigZag(consumeVarint())
		case 12:
			mtimeSec = protowire.DecodeZigZag(consumeVarint())
		case 13:
			mtimeNsec = protowire.DecodeZigZag(consumeVarint())
		case 14:
			mmtimeSec = protowire.DecodeZigZag(consumeVarint())
		case 15:
			mmtimeNsec = protowire.DecodeZigZag(consumeVarint())
		case 16:
			e.WriteNonce = consumeVarint()
		case 17:
			e.XattrNonce = consumeVarint()
		case 18:
			e.Generation = consumeVarint()
		case 19:
			e.NumChildren = consumeVarint()
		case 20:
			e.ParentID = consumeVarint()
		case 21:
			e.MaxReadFreshness = time.Duration(consumeVarint()) * time.Second
		case 22:
			e.MaxWriteFreshness = time.Duration(consumeVarint()) * time.Second
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			checkConsume(n)
			buf = buf[n:]
		}
	}
	e.Ctime = secNsecToTime(ctimeSec, ctimeNsec)
	e.Mtime = secNsecToTime(mtimeSec, mtimeNsec)
	e.ManifestMtime = secNsecToTime(mmtimeSec, mmtimeNsec)
	return e, nil
}
