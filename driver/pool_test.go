package driver

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syndicate-storage/syndicate-sub005/errs"
	"github.com/syndicate-storage/syndicate-sub005/wire"
)

// fakeConn simulates one driver child process entirely in memory: it
// buffers whatever roundTrip writes, then on first Read synthesizes a
// reply (and optional chunk) via handler.
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
	code, chunk := f.handler(req, payload)
	_ = wire.WriteFrame(&f.out, (&wire.Reply{Code: code}).Marshal())
	_ = wire.WriteFrame(&f.out, chunk)
}

func echoHandler(_ *wire.RequestData, payload []byte) (errs.Code, []byte) {
	out := make([]byte, len(payload))
	copy(out, payload)
	return errs.Ok, out
}

func TestDispatchRoundTripsThroughWorker(t *testing.T) {
	conn := &fakeConn{handler: echoHandler}
	p := NewPool(nil)
	p.AddGroup("read", []Conn{conn})

	got, err := p.Dispatch("read", &wire.RequestData{FileID: 1}, []byte("chunk bytes"))
	require.NoError(t, err)
	assert.Equal(t, []byte("chunk bytes"), got)
}

func TestDispatchAbsentRoleReturnsDriverAbsent(t *testing.T) {
	p := NewPool(nil)
	_, err := p.Dispatch("write", &wire.RequestData{}, nil)
	assert.Equal(t, errs.DriverAbsent, errs.CodeOf(err))
}

func TestDispatchNonBlockingReturnsNoDataWhenSaturated(t *testing.T) {
	conn := &fakeConn{handler: echoHandler}
	p := NewPool(nil)
	p.AddGroup("write", []Conn{conn})

	g := p.groups["write"]
	held, err := g.acquire(true)
	require.NoError(t, err)
	defer g.release(held)

	_, err = p.DispatchNonBlocking("write", &wire.RequestData{}, nil)
	assert.Equal(t, errs.NoData, errs.CodeOf(err))
}

func TestDispatchSurfacesDriverErrorCode(t *testing.T) {
	conn := &fakeConn{handler: func(_ *wire.RequestData, _ []byte) (errs.Code, []byte) {
		return errs.DriverError, nil
	}}
	p := NewPool(nil)
	p.AddGroup("delete", []Conn{conn})

	_, err := p.Dispatch("delete", &wire.RequestData{}, nil)
	assert.Equal(t, errs.DriverError, errs.CodeOf(err))
}
