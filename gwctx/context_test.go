package gwctx

import (
	"context"
	"crypto/ed25519"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syndicate-storage/syndicate-sub005/errs"
	"github.com/syndicate-storage/syndicate-sub005/internal/clock"
	"github.com/syndicate-storage/syndicate-sub005/metrics"
)

func newTestContext(t *testing.T, gatewayID uint64) *Context {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	id := NewIdentity(gatewayID, 1, 1000, priv)
	id.TrustGatewayKey(gatewayID, pub)
	return New(context.Background(), RoleUG, id, nil, clock.NewSimulatedClock(time.Unix(1700000000, 0)), metrics.NewRegistry(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestTrustAndLookupGatewayKey(t *testing.T) {
	c := newTestContext(t, 5)
	pub, ok := c.Identity.GatewayKey(5)
	assert.True(t, ok)
	assert.NotNil(t, pub)

	_, ok = c.Identity.GatewayKey(999)
	assert.False(t, ok)
}

func TestCheckCoordinatorAcceptsSelf(t *testing.T) {
	c := newTestContext(t, 7)
	assert.NoError(t, c.CheckCoordinator(7))
}

func TestCheckCoordinatorRejectsOther(t *testing.T) {
	c := newTestContext(t, 7)
	err := c.CheckCoordinator(8)
	assert.Equal(t, errs.WrongCoordinator, errs.CodeOf(err))
}

func TestShutdownClosesDone(t *testing.T) {
	c := newTestContext(t, 1)
	select {
	case <-c.Done():
		t.Fatal("should not be done yet")
	default:
	}
	c.Shutdown()
	<-c.Done()
}
