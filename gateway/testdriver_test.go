package gateway

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/syndicate-storage/syndicate-sub005/driver"
	"github.com/syndicate-storage/syndicate-sub005/errs"
	"github.com/syndicate-storage/syndicate-sub005/gwctx"
	"github.com/syndicate-storage/syndicate-sub005/internal/clock"
	"github.com/syndicate-storage/syndicate-sub005/metrics"
	"github.com/syndicate-storage/syndicate-sub005/wire"

	"crypto/ed25519"
)

// fakeConn simulates one driver child process entirely in memory, mirroring
// driver/pool_test.go's fakeConn (kept package-local since that one is
// unexported).
type fakeConn struct {
	in, out bytes.Buffer
	handler func(req *wire.RequestData, payload []byte) (errs.Code, []byte)
}

func (f *fakeConn) Write(b []byte) (int, error) { return f.in.Write(b) }

func (f *fakeConn) Read(b []byte) (int, error) {
	if f.out.Len() == 0 {
		f.process()
	}
	return f.out.Read(b)
}

func (f *fakeConn) Close() error { return nil }

func (f *fakeConn) process() {
	reqBuf, err := wire.ReadFrame(&f.in)
	if err != nil {
		return
	}
	req, err := wire.Unmarshal(reqBuf)
	if err != nil {
		return
	}
	var payload []byte
	if f.in.Len() > 0 {
		payload, _ = wire.ReadFrame(&f.in)
	}
	code, out := f.handler(req, payload)
	_ = wire.WriteFrame(&f.out, (&wire.Reply{Code: code}).Marshal())
	_ = wire.WriteFrame(&f.out, out)
}

func echoHandler(_ *wire.RequestData, payload []byte) (errs.Code, []byte) {
	out := make([]byte, len(payload))
	copy(out, payload)
	return errs.Ok, out
}

func storeHandler(store map[string][]byte, key func(*wire.RequestData) string) func(*wire.RequestData, []byte) (errs.Code, []byte) {
	return func(req *wire.RequestData, payload []byte) (errs.Code, []byte) {
		k := key(req)
		if payload != nil {
			store[k] = append([]byte(nil), payload...)
			return errs.Ok, nil
		}
		v, ok := store[k]
		if !ok {
			return errs.NotFound, nil
		}
		return errs.Ok, v
	}
}

func newTestGC(t *testing.T, role gwctx.Role, gatewayID uint64, blockSize int64) (*gwctx.Context, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	id := gwctx.NewIdentity(gatewayID, 1, 1000, priv)
	id.TrustGatewayKey(gatewayID, pub)
	sc := clock.NewSimulatedClock(time.Unix(1700000000, 0))
	gc := gwctx.New(context.Background(), role, id, nil, sc, metrics.NewRegistry(),
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	gc.BlockSize = blockSize
	return gc, priv
}

func newPoolWithGroups(groups map[string]func(*wire.RequestData, []byte) (errs.Code, []byte)) *driver.Pool {
	p := driver.NewPool(nil)
	for role, h := range groups {
		p.AddGroup(role, []driver.Conn{&fakeConn{handler: h}})
	}
	return p
}
