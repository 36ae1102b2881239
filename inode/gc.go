package inode

import (
	"log/slog"
	"sync"
	"time"

	"github.com/syndicate-storage/syndicate-sub005/internal/logger"
)

// gcQueue is the deferred-removal worker of spec.md §3/§5: a detach
// request on a path whose inode still has live handles is recorded here
// and reaped only once its refcount drops to zero. Grounded on
// libsyndicate/workqueue.cpp's worker-queue shape (SPEC_FULL.md §4) and
// gcsfuse's fs/garbage_collect.go (periodic, cooperative polling).
//
// Per §5's deadlock discipline, the worker never holds its own lock while
// taking an inode lock: it snapshots candidate ids under its lock, then
// locks each inode individually to check refcounts.
type gcQueue struct {
	cache *Cache

	mu      sync.Mutex
	pending map[uint64]struct{}

	cancelled chan struct{}
	once      sync.Once
}

func newGCQueue(c *Cache) *gcQueue {
	return &gcQueue{cache: c, pending: make(map[uint64]struct{}), cancelled: make(chan struct{})}
}

func (g *gcQueue) enqueue(id uint64) {
	g.mu.Lock()
	g.pending[id] = struct{}{}
	g.mu.Unlock()
}

// Run polls the pending set on the given interval, reaping any inode
// whose refcount has reached zero, until the cancellation token fires.
func (g *gcQueue) Run(interval time.Duration) {
	log := logger.For("inode.gc")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-g.cancelled:
			return
		case <-ticker.C:
			g.sweep(log)
		}
	}
}

func (g *gcQueue) sweep(log *slog.Logger) {
	g.mu.Lock()
	ids := make([]uint64, 0, len(g.pending))
	for id := range g.pending {
		ids = append(ids, id)
	}
	g.mu.Unlock()

	for _, id := range ids {
		n, ok := g.cache.Get(id)
		if !ok {
			g.mu.Lock()
			delete(g.pending, id)
			g.mu.Unlock()
			continue
		}
		n.mu.Lock()
		collectable := n.deferred && n.refcount == 0
		n.mu.Unlock()
		if collectable {
			g.cache.reap(id)
			g.mu.Lock()
			delete(g.pending, id)
			g.mu.Unlock()
			log.Info("reaped deferred inode", "inode_id", id)
		}
	}
}

// Cancel stops the background Run loop; safe to call multiple times.
func (g *gcQueue) Cancel() {
	g.once.Do(func() { close(g.cancelled) })
}

// StartGC launches the cache's deferred-removal worker as a background
// goroutine. Returns a stop function for cooperative cancellation (§5).
func (c *Cache) StartGC(interval time.Duration) (stop func()) {
	go c.gc.Run(interval)
	return c.gc.Cancel
}

// PendingGCCount reports how many inodes await collection (used in tests).
func (c *Cache) PendingGCCount() int {
	c.gc.mu.Lock()
	defer c.gc.mu.Unlock()
	return len(c.gc.pending)
}
