package inode

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/syndicate-storage/syndicate-sub005/errs"
)

const RootID = 1

// Cache is the inode cache (C3): an arena of inodes plus, per directory
// inode id, a name -> child-id edge map. A coarse tree-global lock
// (spec §5) guards only root-attachment operations; ordinary lookups take
// only the read side of the cache's map lock (mu), not the tree lock.
type Cache struct {
	treeMu sync.RWMutex

	mu       sync.RWMutex
	inodes   map[uint64]*Inode
	children map[uint64]map[string]uint64 // parent id -> name -> child id
	byFileID map[uint64]uint64            // Meta.FileID -> arena id, for C6 server-side lookup
	nextID   uint64

	gc *gcQueue
}

// NewCache returns a cache with a single root directory inode.
func NewCache() *Cache {
	c := &Cache{
		inodes:   make(map[uint64]*Inode),
		children: make(map[uint64]map[string]uint64),
		byFileID: make(map[uint64]uint64),
		nextID:   RootID,
	}
	root := &Inode{ID: RootID, Kind: KindDir, Name: "/"}
	c.inodes[RootID] = root
	c.children[RootID] = make(map[string]uint64)
	c.nextID = RootID + 1
	c.gc = newGCQueue(c)
	return c
}

func (c *Cache) allocID() uint64 {
	return atomic.AddUint64(&c.nextID, 1) - 1
}

// Get returns the inode with the given id.
func (c *Cache) Get(id uint64) (*Inode, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.inodes[id]
	return n, ok
}

// LookupChild returns the id of parentID's child named name.
func (c *Cache) LookupChild(parentID uint64, name string) (uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	kids, ok := c.children[parentID]
	if !ok {
		return 0, false
	}
	id, ok := kids[name]
	return id, ok
}

// Create allocates a new inode under parentID named name, failing with
// errs.AlreadyExists if the name is taken (spec §9 open question: overwrite
// is disallowed unless the caller explicitly requests a replace).
func (c *Cache) Create(parentID uint64, name string, n *Inode) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	kids, ok := c.children[parentID]
	if !ok {
		return errs.New("Cache.Create", errs.NotFound, fmt.Errorf("parent %d not cached", parentID))
	}
	if _, exists := kids[name]; exists {
		return errs.New("Cache.Create", errs.AlreadyExists, fmt.Errorf("%q already exists under %d", name, parentID))
	}

	n.ID = c.allocID()
	n.Name = name
	c.inodes[n.ID] = n
	kids[name] = n.ID
	if n.Kind == KindDir {
		c.children[n.ID] = make(map[string]uint64)
	}
	if n.Meta.FileID != 0 {
		c.byFileID[n.Meta.FileID] = n.ID
	}
	return nil
}

// FindByFileID resolves the Syndicate file_id carried on the wire (spec §6
// md_entry "file_id") to the locally-cached Inode, used by the C6 server
// side to answer a GET_*/PUT_* request that names a file only by id (spec
// §4.6 "coordinator locality").
func (c *Cache) FindByFileID(fileID uint64) (*Inode, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.byFileID[fileID]
	if !ok {
		return nil, false
	}
	n, ok := c.inodes[id]
	return n, ok
}

// Rename moves the child named oldName under oldParent to newName under
// newParent. Caller must hold the write locks of both parent inodes plus
// the child per §4.5 ("this procedure runs under the parent's write lock
// if the entry is being renamed or replaced").
func (c *Cache) Rename(oldParent uint64, oldName string, newParent uint64, newName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	oldKids, ok := c.children[oldParent]
	if !ok {
		return errs.New("Cache.Rename", errs.NotFound, fmt.Errorf("parent %d not cached", oldParent))
	}
	id, ok := oldKids[oldName]
	if !ok {
		return errs.New("Cache.Rename", errs.NotFound, fmt.Errorf("%q not found", oldName))
	}
	newKids, ok := c.children[newParent]
	if !ok {
		return errs.New("Cache.Rename", errs.NotFound, fmt.Errorf("parent %d not cached", newParent))
	}
	if _, exists := newKids[newName]; exists {
		return errs.New("Cache.Rename", errs.AlreadyExists, fmt.Errorf("%q already exists under %d", newName, newParent))
	}

	delete(oldKids, oldName)
	newKids[newName] = id
	if n, ok := c.inodes[id]; ok {
		n.Name = newName
	}
	return nil
}

// Detach removes the name->id edge under parentID. If the inode still has
// live references, it is handed to the deferred-removal queue instead of
// being freed immediately, preserving read-after-unlink semantics (§3, §4.3).
func (c *Cache) Detach(parentID uint64, name string) error {
	c.mu.Lock()
	kids, ok := c.children[parentID]
	if !ok {
		c.mu.Unlock()
		return errs.New("Cache.Detach", errs.NotFound, fmt.Errorf("parent %d not cached", parentID))
	}
	id, ok := kids[name]
	if !ok {
		c.mu.Unlock()
		return errs.New("Cache.Detach", errs.NotFound, fmt.Errorf("%q not found", name))
	}
	delete(kids, name)
	n := c.inodes[id]
	c.mu.Unlock()

	if n == nil {
		return nil
	}
	n.mu.Lock()
	n.deferred = true
	collectable := n.refcount == 0
	n.mu.Unlock()

	if collectable {
		c.reap(id)
	} else {
		c.gc.enqueue(id)
	}
	return nil
}

// reap permanently removes an inode from the arena. Called only once its
// refcount has reached zero after a deferred detach.
func (c *Cache) reap(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.inodes[id]; ok && n.Meta.FileID != 0 {
		delete(c.byFileID, n.Meta.FileID)
	}
	delete(c.inodes, id)
	delete(c.children, id)
}

// AttachGraft atomically attaches a detached subtree root under parentID
// as name (spec §4.5b "path freshness": attaching a graft built from
// path_download results). Fails AlreadyExists on a name collision,
// matching the root-attachment case the global tree lock protects.
func (c *Cache) AttachGraft(parentID uint64, name string, root *Inode) error {
	c.treeMu.Lock()
	defer c.treeMu.Unlock()
	return c.Create(parentID, name, root)
}

// ChildNames returns the current names cached under parentID, used by the
// directory-freshness merge to find children absent from a fresh full
// listing (spec §4.5c).
func (c *Cache) ChildNames(parentID uint64) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	kids, ok := c.children[parentID]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(kids))
	for name := range kids {
		names = append(names, name)
	}
	return names
}

// PathComponent is one step of a streaming path resolution (spec §4.3:
// "a streaming iterator that yields (parent, child, remaining_path)
// tuples and can stop at the deepest cached prefix").
type PathComponent struct {
	ParentID      uint64
	ChildID       uint64
	ChildFound    bool
	Name          string
	RemainingPath string
}

// ResolvePrefix walks path from root, yielding one PathComponent per
// cached path element, and stops at the deepest cached prefix. The final
// yielded component's RemainingPath (if ChildFound is false) is the
// unresolved tail C5 must fetch from the MS via path_download.
func (c *Cache) ResolvePrefix(path string, yield func(PathComponent) bool) {
	parts := splitPath(path)
	parentID := uint64(RootID)
	for i, part := range parts {
		childID, found := c.LookupChild(parentID, part)
		remaining := strings.Join(parts[i:], "/")
		pc := PathComponent{ParentID: parentID, Name: part, RemainingPath: remaining}
		if found {
			pc.ChildID = childID
			pc.ChildFound = true
		}
		if !yield(pc) || !found {
			return
		}
		parentID = childID
	}
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
