// Package msclient specifies the contract for the external Metadata
// Service. The MS itself and its wire transport are out of scope (spec
// §1); this package pins down only the interface every consumer
// (consistency, vacuum, gateway) programs against.
package msclient

import (
	"context"
	"time"

	"github.com/syndicate-storage/syndicate-sub005/inode"
)

// Attr is one MS directory-entry answer (spec §4.5 getattr_multi).
type Attr struct {
	Name  string
	Entry inode.MdEntry
	Found bool
}

// VacuumLogEntry is one queued-for-GC manifest (spec §4.8).
type VacuumLogEntry struct {
	FileID        uint64
	FileVersion   uint64
	ManifestMtime time.Time
	Unlinking     bool
	OldBlocks     []uint64 // nil if the MS didn't attach the old block id list
}

// Client is the MS operations every gateway role needs. Implementations
// own the actual RPC/HTTP transport to the MS; none of that is specified
// here (spec §1 "Non-goals").
type Client interface {
	// GetAttrMulti resolves every name in names under parentID in one
	// round trip (spec §4.5 path freshness).
	GetAttrMulti(ctx context.Context, volumeID, parentID uint64, names []string) ([]Attr, error)

	// PathDownload resolves everything from the deepest cached ancestor
	// down to the full path in one call, for the AG/UG unresolved-tail
	// case (spec §4.5).
	PathDownload(ctx context.Context, volumeID uint64, path string) ([]inode.MdEntry, error)

	// ListDir lists parentID's full child set (spec §4.5 directory
	// freshness "listdir").
	ListDir(ctx context.Context, volumeID, parentID uint64) ([]inode.MdEntry, error)

	// DiffDir lists only children changed since sinceGeneration (spec
	// §4.5 directory freshness "diffdir").
	DiffDir(ctx context.Context, volumeID, parentID, sinceGeneration uint64) ([]inode.MdEntry, error)

	// PeekVacuumLog returns the head of fileID's vacuum log without
	// popping it (spec §4.8 "peek").
	PeekVacuumLog(ctx context.Context, volumeID, fileID uint64) (*VacuumLogEntry, error)

	// RemoveVacuumLogEntry pops the head entry after a fully-successful
	// replicated DELETECHUNKS fan-out (spec §4.8).
	RemoveVacuumLogEntry(ctx context.Context, volumeID, fileID uint64, manifestMtime time.Time) error

	// Publish pushes a local metadata change (create/update/delete) to
	// the MS so other gateways observe it (spec §4.5/§4.9).
	Publish(ctx context.Context, volumeID uint64, entry inode.MdEntry) error
}
