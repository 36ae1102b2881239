// Package manifest implements the in-memory, ordered block map of a file
// (spec §3 "Manifest", §4.2 C2).
package manifest

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/syndicate-storage/syndicate-sub005/errs"
)

// BlockType distinguishes a data block from a nested manifest reference
// (used when a block's "contents" is itself another manifest, e.g. a very
// large sparse file's indirect blocks).
type BlockType int

const (
	BlockTypeData BlockType = iota
	BlockTypeManifest
)

// ChunkRole marks a block as ordinary file data or an ephemeral chunk
// that may be reclaimed without going through the vacuum log (used by
// AG-synthesized placeholder entries, §8 S6).
type ChunkRole int

const (
	ChunkRoleData ChunkRole = iota
	ChunkRoleEphemeral
)

// BlockInfo is one entry of a manifest's block map (spec §3).
type BlockInfo struct {
	Version   int64
	Hash      [32]byte
	Type      BlockType
	ChunkRole ChunkRole
}

// Manifest is the ordered block_id -> BlockInfo map for one file, plus the
// coordinator stamp and modtime that travel with it on the wire (§3, §4.2).
//
// Manifest is not safe for concurrent use; callers serialize access via
// the owning inode's lock (§3 "Ownership").
type Manifest struct {
	VolumeID      uint64
	CoordinatorID uint64
	FileID        uint64
	FileVersion   uint64
	Size          int64
	Modtime       time.Time
	stale         bool

	blocks map[uint64]BlockInfo
}

// New returns an empty manifest stamped with the given file identity.
func New(volumeID, coordinatorID, fileID, fileVersion uint64) *Manifest {
	return &Manifest{
		VolumeID:      volumeID,
		CoordinatorID: coordinatorID,
		FileID:        fileID,
		FileVersion:   fileVersion,
		blocks:        make(map[uint64]BlockInfo),
	}
}

// GetBlock returns the BlockInfo for id, if present.
func (m *Manifest) GetBlock(id uint64) (BlockInfo, bool) {
	bi, ok := m.blocks[id]
	return bi, ok
}

// PutBlock inserts or overwrites block id. If overwrite is false and an
// entry already exists, it fails with errs.AlreadyExists (§4.2).
func (m *Manifest) PutBlock(id uint64, info BlockInfo, overwrite bool) error {
	if _, exists := m.blocks[id]; exists && !overwrite {
		return errs.New("Manifest.PutBlock", errs.AlreadyExists, fmt.Errorf("block %d already present", id))
	}
	m.blocks[id] = info
	return nil
}

// Truncate drops every entry with block_id > maxID (§4.2).
func (m *Manifest) Truncate(maxID uint64) {
	for id := range m.blocks {
		if id > maxID {
			delete(m.blocks, id)
		}
	}
}

// NumBlocks returns the number of block entries currently held.
func (m *Manifest) NumBlocks() int {
	return len(m.blocks)
}

// Patch merges delta into m, preserving any entry in m whose version is
// strictly newer than the corresponding entry in delta ("write wins iff
// strictly newer", §4.2). Patch is commutative and associative across
// strict-progress deltas (spec §8 property 1, 2; tested in manifest_test.go).
func (m *Manifest) Patch(delta *Manifest) {
	for id, incoming := range delta.blocks {
		existing, ok := m.blocks[id]
		if !ok || incoming.Version > existing.Version {
			m.blocks[id] = incoming
		}
		// existing.Version >= incoming.Version: local write wins, keep it.
	}
}

// Iter calls fn for every block in ascending block_id order (§4.2,
// deterministic iteration).
func (m *Manifest) Iter(fn func(id uint64, info BlockInfo)) {
	ids := make([]uint64, 0, len(m.blocks))
	for id := range m.blocks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		fn(id, m.blocks[id])
	}
}

// IsStale reports the coordinator-mediated staleness hint (§4.2).
func (m *Manifest) IsStale() bool { return m.stale }

// SetStale marks the manifest as requiring refetch on next read.
func (m *Manifest) SetStale() { m.stale = true }

// ClearStale clears the staleness hint (set by the consistency engine
// after a successful refresh, §4.5a).
func (m *Manifest) ClearStale() { m.stale = false }

// Clone returns a deep copy, used whenever a caller of C6 receives the
// inode's manifest (§3 "Ownership": "the caller of C6 receives a
// deep-dup").
func (m *Manifest) Clone() *Manifest {
	cp := &Manifest{
		VolumeID:      m.VolumeID,
		CoordinatorID: m.CoordinatorID,
		FileID:        m.FileID,
		FileVersion:   m.FileVersion,
		Size:          m.Size,
		Modtime:       m.Modtime,
		stale:         m.stale,
		blocks:        make(map[uint64]BlockInfo, len(m.blocks)),
	}
	for id, bi := range m.blocks {
		cp.blocks[id] = bi
	}
	return cp
}

// Equal reports whether two manifests describe the same blocks and
// metadata (used by the round-trip property test, §8 property 3).
func (m *Manifest) Equal(o *Manifest) bool {
	if m.VolumeID != o.VolumeID || m.CoordinatorID != o.CoordinatorID ||
		m.FileID != o.FileID || m.FileVersion != o.FileVersion ||
		m.Size != o.Size || !m.Modtime.Equal(o.Modtime) ||
		len(m.blocks) != len(o.blocks) {
		return false
	}
	for id, bi := range m.blocks {
		obi, ok := o.blocks[id]
		if !ok || bi.Version != obi.Version || bi.Type != obi.Type ||
			bi.ChunkRole != obi.ChunkRole || !bytes.Equal(bi.Hash[:], obi.Hash[:]) {
			return false
		}
	}
	return true
}

// ValidateDense checks the §3 manifest invariant that block ids are dense
// from 0..ceil(size/blockSize)-1, with only the final block permitted to
// be short.
func (m *Manifest) ValidateDense(blockSize int64) error {
	want := uint64(0)
	if m.Size > 0 {
		want = uint64((m.Size + blockSize - 1) / blockSize)
	}
	if uint64(len(m.blocks)) != want {
		return errs.New("Manifest.ValidateDense", errs.InvalidArgument,
			fmt.Errorf("expected %d blocks for size %d, have %d", want, m.Size, len(m.blocks)))
	}
	for id := uint64(0); id < want; id++ {
		if _, ok := m.blocks[id]; !ok {
			return errs.New("Manifest.ValidateDense", errs.InvalidArgument, fmt.Errorf("missing block %d", id))
		}
	}
	return nil
}
