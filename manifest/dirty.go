package manifest

import "sort"

// DirtyBlock is one entry of a UG's dirty block buffer map (§3 "Dirty
// block buffers (UG only)"). A block is Aligned when PartialStart==0 and
// PartialEnd==blockSize; unaligned blocks must have their pre-image read
// and merged before a flush can serialize them.
type DirtyBlock struct {
	Buffer       []byte
	PartialStart int
	PartialEnd   int
	PriorVersion int64
}

// Aligned reports whether the dirty write covers the whole block.
func (d DirtyBlock) Aligned(blockSize int) bool {
	return d.PartialStart == 0 && d.PartialEnd == blockSize
}

// DirtySet is the per-inode map of block_id -> DirtyBlock (§3). It is
// owned by the inode until a successful flush moves its entries into a
// replication plan (§3 "Ownership").
type DirtySet struct {
	blocks map[uint64]*DirtyBlock
}

func NewDirtySet() *DirtySet {
	return &DirtySet{blocks: make(map[uint64]*DirtyBlock)}
}

func (d *DirtySet) Get(id uint64) (*DirtyBlock, bool) {
	b, ok := d.blocks[id]
	return b, ok
}

func (d *DirtySet) Put(id uint64, b *DirtyBlock) {
	d.blocks[id] = b
}

func (d *DirtySet) Delete(id uint64) {
	delete(d.blocks, id)
}

func (d *DirtySet) Len() int { return len(d.blocks) }

// Iter calls fn for every dirty block in ascending block_id order, giving
// flush a deterministic write order.
func (d *DirtySet) Iter(fn func(id uint64, b *DirtyBlock)) {
	ids := make([]uint64, 0, len(d.blocks))
	for id := range d.blocks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		fn(id, d.blocks[id])
	}
}

// Clear empties the set after a successful flush.
func (d *DirtySet) Clear() {
	d.blocks = make(map[uint64]*DirtyBlock)
}

// ReplacedBlock is one entry of the replaced-block set a flush produces
// for the vacuumer (§3 "Replaced-block set (UG only)").
type ReplacedBlock struct {
	BlockID      uint64
	PriorVersion int64
	Hash         [32]byte
}
