package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/syndicate-storage/syndicate-sub005/manifest"
)

// BlockURLSet is the AG bulk-coverage manifest shape (§6): a contiguous
// run of block ids all served by one file_url, with one version per id.
type BlockURLSet struct {
	StartID       uint64
	EndID         uint64
	FileURL       string
	BlockVersions []int64
}

func (s BlockURLSet) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, s.StartID)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, s.EndID)
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendString(b, s.FileURL)
	for _, v := range s.BlockVersions {
		b = protowire.AppendTag(b, 4, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(v))
	}
	return b
}

func unmarshalBlockURLSet(buf []byte) (BlockURLSet, error) {
	var s BlockURLSet
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return s, fmt.Errorf("BlockURLSet: bad tag: %w", protowire.ParseError(n))
		}
		buf = buf[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(buf)
			checkConsume(n)
			s.StartID = v
			buf = buf[n:]
		case 2:
			v, n := protowire.ConsumeVarint(buf)
			checkConsume(n)
			s.EndID = v
			buf = buf[n:]
		case 3:
			v, n := protowire.ConsumeBytes(buf)
			checkConsume(n)
			s.FileURL = string(v)
			buf = buf[n:]
		case 4:
			v, n := protowire.ConsumeVarint(buf)
			checkConsume(n)
			s.BlockVersions = append(s.BlockVersions, protowire.DecodeZigZag(v))
			buf = buf[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			checkConsume(n)
			buf = buf[n:]
		}
	}
	return s, nil
}

func marshalBlock(id uint64, bi manifest.BlockInfo) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, id)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(bi.Version))
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendBytes(b, bi.Hash[:])
	b = protowire.AppendTag(b, 4, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(bi.Type))
	b = protowire.AppendTag(b, 5, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(bi.ChunkRole))
	return b
}

func unmarshalBlock(buf []byte) (uint64, manifest.BlockInfo, error) {
	var id uint64
	var bi manifest.BlockInfo
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return 0, bi, fmt.Errorf("Block: bad tag: %w", protowire.ParseError(n))
		}
		buf = buf[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(buf)
			checkConsume(n)
			id = v
			buf = buf[n:]
		case 2:
			v, n := protowire.ConsumeVarint(buf)
			checkConsume(n)
			bi.Version = protowire.DecodeZigZag(v)
			buf = buf[n:]
		case 3:
			v, n := protowire.ConsumeBytes(buf)
			checkConsume(n)
			copy(bi.Hash[:], v)
			buf = buf[n:]
		case 4:
			v, n := protowire.ConsumeVarint(buf)
			checkConsume(n)
			bi.Type = manifest.BlockType(v)
			buf = buf[n:]
		case 5:
			v, n := protowire.ConsumeVarint(buf)
			checkConsume(n)
			bi.ChunkRole = manifest.ChunkRole(v)
			buf = buf[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			checkConsume(n)
			buf = buf[n:]
		}
	}
	return id, bi, nil
}

// EncodeManifest serializes m in the per-block form (§6: "per-block form
// by UGs"). EncodeManifestURLSets encodes the AG bulk form instead.
func EncodeManifest(m *manifest.Manifest) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, m.VolumeID)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, m.CoordinatorID)
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, m.FileID)
	b = protowire.AppendTag(b, 4, protowire.VarintType)
	b = protowire.AppendVarint(b, m.FileVersion)
	b = protowire.AppendTag(b, 5, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(m.Size))
	b = protowire.AppendTag(b, 6, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(m.Modtime.Unix()))
	b = protowire.AppendTag(b, 7, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(m.Modtime.Nanosecond())))
	m.Iter(func(id uint64, bi manifest.BlockInfo) {
		b = protowire.AppendTag(b, 8, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalBlock(id, bi))
	})
	return b
}

// EncodeManifestURLSets encodes m using the AG URL-set shape, collapsing
// each contiguous run of block ids that share a URL into one set; every
// block in a set keeps its own version.
func EncodeManifestURLSets(m *manifest.Manifest, urlFor func(id uint64) string) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, m.VolumeID)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, m.CoordinatorID)
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, m.FileID)
	b = protowire.AppendTag(b, 4, protowire.VarintType)
	b = protowire.AppendVarint(b, m.FileVersion)
	b = protowire.AppendTag(b, 5, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(m.Size))
	b = protowire.AppendTag(b, 6, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(m.Modtime.Unix()))
	b = protowire.AppendTag(b, 7, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(m.Modtime.Nanosecond())))

	var cur *BlockURLSet
	flush := func() {
		if cur == nil {
			return
		}
		b = protowire.AppendTag(b, 9, protowire.BytesType)
		b = protowire.AppendBytes(b, cur.marshal())
		cur = nil
	}
	m.Iter(func(id uint64, bi manifest.BlockInfo) {
		url := urlFor(id)
		if cur != nil && cur.FileURL == url && cur.EndID+1 == id {
			cur.EndID = id
			cur.BlockVersions = append(cur.BlockVersions, bi.Version)
			return
		}
		flush()
		cur = &BlockURLSet{StartID: id, EndID: id, FileURL: url, BlockVersions: []int64{bi.Version}}
	})
	flush()
	return b
}

// DecodeManifest accepts either wire shape (§6: "implementations must
// accept both shapes for compatibility").
func DecodeManifest(buf []byte) (*manifest.Manifest, error) {
	m := manifest.New(0, 0, 0, 0)
	var modtimeSec, modtimeNsec int64
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, fmt.Errorf("Manifest: bad tag: %w", protowire.ParseError(n))
		}
		buf = buf[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(buf)
			checkConsume(n)
			m.VolumeID = v
			buf = buf[n:]
		case 2:
			v, n := protowire.ConsumeVarint(buf)
			checkConsume(n)
			m.CoordinatorID = v
			buf = buf[n:]
		case 3:
			v, n := protowire.ConsumeVarint(buf)
			checkConsume(n)
			m.FileID = v
			buf = buf[n:]
		case 4:
			v, n := protowire.ConsumeVarint(buf)
			checkConsume(n)
			m.FileVersion = v
			buf = buf[n:]
		case 5:
			v, n := protowire.ConsumeVarint(buf)
			checkConsume(n)
			m.Size = protowire.DecodeZigZag(v)
			buf = buf[n:]
		case 6:
			v, n := protowire.ConsumeVarint(buf)
			checkConsume(n)
			modtimeSec = protowire.DecodeZigZag(v)
			buf = buf[n:]
		case 7:
			v, n := protowire.ConsumeVarint(buf)
			checkConsume(n)
			modtimeNsec = protowire.DecodeZigZag(v)
			buf = buf[n:]
		case 8:
			v, n := protowire.ConsumeBytes(buf)
			checkConsume(n)
			id, bi, err := unmarshalBlock(v)
			if err != nil {
				return nil, err
			}
			if err := m.PutBlock(id, bi, true); err != nil {
				return nil, err
			}
			buf = buf[n:]
		case 9:
			v, n := protowire.ConsumeBytes(buf)
			checkConsume(n)
			urlSet, err := unmarshalBlockURLSet(v)
			if err != nil {
				return nil, err
			}
			for i, id := 0, urlSet.StartID; id <= urlSet.EndID; i, id = i+1, id+1 {
				version := int64(1)
				if i < len(urlSet.BlockVersions) {
					version = urlSet.BlockVersions[i]
				}
				if err := m.PutBlock(id, manifest.BlockInfo{Version: version, Type: manifest.BlockTypeData}, true); err != nil {
					return nil, err
				}
			}
			buf = buf[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			checkConsume(n)
			buf = buf[n:]
		}
	}
	m.Modtime = secNsecToTime(modtimeSec, modtimeNsec)
	return m, nil
}
