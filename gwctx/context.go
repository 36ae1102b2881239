// Package gwctx defines the GatewayContext handle that replaces the
// module-level globals (global_conf and friends) the source relies on
// (spec §9 "Pervasive singletons → handle passing"). Every operation that
// used to reach for a global instead takes a *Context.
package gwctx

import (
	"context"
	"crypto/ed25519"
	"log/slog"
	"sync"

	"github.com/syndicate-storage/syndicate-sub005/errs"
	"github.com/syndicate-storage/syndicate-sub005/internal/clock"
	"github.com/syndicate-storage/syndicate-sub005/metrics"
	"github.com/syndicate-storage/syndicate-sub005/msclient"
)

// Role is which of the three gateway kinds a process is running as.
type Role int

const (
	RoleUG Role = iota
	RoleRG
	RoleAG
)

func (r Role) String() string {
	switch r {
	case RoleUG:
		return "UG"
	case RoleRG:
		return "RG"
	case RoleAG:
		return "AG"
	default:
		return "unknown"
	}
}

// Identity is this gateway's MS-registered identity and keypair.
type Identity struct {
	GatewayID  uint64
	VolumeID   uint64
	UserID     uint64
	PrivateKey ed25519.PrivateKey

	// gatewayPubkeys holds the MS-advertised public keys this gateway has
	// learned, keyed by gateway id, used to verify requests
	// and manifests signed by other gateways in the volume.
	mu             sync.RWMutex
	gatewayPubkeys map[uint64]ed25519.PublicKey
}

// NewIdentity constructs an Identity with an empty pubkey cache.
func NewIdentity(gatewayID, volumeID, userID uint64, priv ed25519.PrivateKey) *Identity {
	return &Identity{
		GatewayID:      gatewayID,
		VolumeID:       volumeID,
		UserID:         userID,
		PrivateKey:     priv,
		gatewayPubkeys: make(map[uint64]ed25519.PublicKey),
	}
}

// TrustGatewayKey records the MS-advertised public key for peerID.
func (id *Identity) TrustGatewayKey(peerID uint64, pub ed25519.PublicKey) {
	id.mu.Lock()
	defer id.mu.Unlock()
	id.gatewayPubkeys[peerID] = pub
}

// GatewayKey returns the trusted public key for peerID, if any.
func (id *Identity) GatewayKey(peerID uint64) (ed25519.PublicKey, bool) {
	id.mu.RLock()
	defer id.mu.RUnlock()
	pub, ok := id.gatewayPubkeys[peerID]
	return pub, ok
}

// Context is the handle threaded through every core operation: identity,
// the MS client, the process clock, logging, and metrics. There is no
// other module-level mutable state (spec §9).
type Context struct {
	Role     Role
	Identity *Identity
	MS       msclient.Client
	Clock    clock.Clock
	Metrics  *metrics.Registry
	Log      *slog.Logger

	// BlockSize is the volume's fixed block size, used to translate a
	// TRUNCATE request's byte length into a manifest block-id boundary
	// (spec §4.9, §3 "Block"). Set by the CLI/config layer at startup.
	BlockSize int64

	cancel context.CancelFunc
	done   context.Context
}

// New builds a Context whose Done channel closes when Shutdown is called
// or the parent context is cancelled.
func New(parent context.Context, role Role, id *Identity, ms msclient.Client, c clock.Clock, m *metrics.Registry, log *slog.Logger) *Context {
	done, cancel := context.WithCancel(parent)
	return &Context{
		Role:     role,
		Identity: id,
		MS:       ms,
		Clock:    c,
		Metrics:  m,
		Log:      log,
		cancel:   cancel,
		done:     done,
	}
}

// Shutdown cancels the context's Done channel; in-flight operations that
// select on it should unwind (spec §5 "graceful shutdown").
func (c *Context) Shutdown() { c.cancel() }

// Done returns the cancellation signal for long-running loops (vacuum
// worker, GC sweep, AG crawler) to select on.
func (c *Context) Done() <-chan struct{} { return c.done.Done() }

// CheckCoordinator returns errs.WrongCoordinator unless this gateway is
// the coordinator recorded for fileID (spec §4.6 "PATCH_MANIFEST must
// come from the coordinator").
func (c *Context) CheckCoordinator(recordedCoordinatorID uint64) error {
	if recordedCoordinatorID != c.Identity.GatewayID {
		return errs.New("gwctx.CheckCoordinator", errs.WrongCoordinator, nil)
	}
	return nil
}
