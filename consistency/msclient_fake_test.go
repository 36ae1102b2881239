package consistency

import (
	"context"
	"time"

	"github.com/syndicate-storage/syndicate-sub005/inode"
	"github.com/syndicate-storage/syndicate-sub005/msclient"
)

// fakeMS is a minimal in-memory msclient.Client for exercising
// RefreshPath/RefreshDirectory without a real MS transport.
type fakeMS struct {
	attrs      map[uint64]map[string]inode.MdEntry // parentID -> name -> entry
	dirListing map[uint64][]inode.MdEntry
	pathChain  map[string][]inode.MdEntry
}

func newFakeMS() *fakeMS {
	return &fakeMS{
		attrs:      make(map[uint64]map[string]inode.MdEntry),
		dirListing: make(map[uint64][]inode.MdEntry),
		pathChain:  make(map[string][]inode.MdEntry),
	}
}

func (f *fakeMS) GetAttrMulti(_ context.Context, _, parentID uint64, names []string) ([]msclient.Attr, error) {
	var out []msclient.Attr
	for _, name := range names {
		entry, ok := f.attrs[parentID][name]
		out = append(out, msclient.Attr{Name: name, Entry: entry, Found: ok})
	}
	return out, nil
}

func (f *fakeMS) PathDownload(_ context.Context, _ uint64, path string) ([]inode.MdEntry, error) {
	return f.pathChain[path], nil
}

func (f *fakeMS) ListDir(_ context.Context, _, parentID uint64) ([]inode.MdEntry, error) {
	return f.dirListing[parentID], nil
}

func (f *fakeMS) DiffDir(_ context.Context, _, parentID, _ uint64) ([]inode.MdEntry, error) {
	return f.dirListing[parentID], nil
}

func (f *fakeMS) PeekVacuumLog(_ context.Context, _, _ uint64) (*msclient.VacuumLogEntry, error) {
	return nil, nil
}

func (f *fakeMS) RemoveVacuumLogEntry(_ context.Context, _, _ uint64, _ time.Time) error {
	return nil
}

func (f *fakeMS) Publish(_ context.Context, _ uint64, _ inode.MdEntry) error { return nil }
