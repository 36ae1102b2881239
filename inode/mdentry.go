package inode

import "time"

// MdEntry is the metadata-service record for one path element (spec §6
// "Inode (md_entry) schema"), the DTO the consistency engine reconciles
// against a cached Inode.
type MdEntry struct {
	Kind          Kind
	Name          string
	FileID        uint64
	Version       uint64
	Owner         uint64
	Coordinator   uint64
	Volume        uint64
	Mode          uint32
	Size          int64
	Ctime         time.Time
	Mtime         time.Time
	ManifestMtime time.Time
	WriteNonce    uint64
	XattrNonce    uint64
	Generation    uint64
	NumChildren   uint64
	ParentID      uint64

	MaxReadFreshness  time.Duration
	MaxWriteFreshness time.Duration
}

// ToInode builds a freshly-cached Inode from an MdEntry, used when
// grafting a newly-discovered path (spec §4.5b) or creating the first
// cached copy of a directory child (spec §4.5c).
func (e MdEntry) ToInode() *Inode {
	n := &Inode{
		Kind: e.Kind,
		Name: e.Name,
		Meta: Metadata{
			FileID:            e.FileID,
			FileVersion:       e.Version,
			CoordinatorID:     e.Coordinator,
			VolumeID:          e.Volume,
			Owner:             e.Owner,
			Mode:              e.Mode,
			Size:              e.Size,
			Ctime:             e.Ctime,
			Mtime:             e.Mtime,
			ManifestMtime:     e.ManifestMtime,
			XattrNonce:        e.XattrNonce,
			WriteNonce:        e.WriteNonce,
			Generation:        e.Generation,
			MaxReadFreshness:  e.MaxReadFreshness,
			MaxWriteFreshness: e.MaxWriteFreshness,
		},
		NumChildren: e.NumChildren,
	}
	if e.Kind == KindDir {
		n.LeastUnknownGeneration = 0
	}
	return n
}
