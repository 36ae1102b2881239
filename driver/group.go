// Package driver implements the per-role driver worker pool (C4): a
// fixed set of long-lived child processes, each speaking the
// length-prefixed request/chunk/reply protocol of spec §4.4 over a pipe.
package driver

import (
	"fmt"

	"github.com/syndicate-storage/syndicate-sub005/errs"
	"github.com/syndicate-storage/syndicate-sub005/wire"
)

// Group is one role's fixed pool of driver processes. The free-list
// channel plays the role of the spec's "counting semaphore to gate
// process acquisition plus a per-process mutex for writer exclusivity":
// a worker can only be in the channel or checked out, never both, so
// holding it already grants exclusive use of its stdin/stdout.
type Group struct {
	role  string
	free  chan Conn
	total int
}

// NewGroup builds a Group of role backed by the given already-started
// connections (one per child process).
func NewGroup(role string, conns []Conn) *Group {
	free := make(chan Conn, len(conns))
	for _, c := range conns {
		free <- c
	}
	return &Group{role: role, free: free, total: len(conns)}
}

// acquire returns a free worker. If blocking is false and none is free,
// it returns errs.NoData immediately (spec §4.4 "returns a free process
// or None immediately if the pool is saturated").
func (g *Group) acquire(blocking bool) (Conn, error) {
	if blocking {
		return <-g.free, nil
	}
	select {
	case c := <-g.free:
		return c, nil
	default:
		return nil, errs.New("Group.acquire", errs.NoData, fmt.Errorf("role %q: no free driver worker", g.role))
	}
}

func (g *Group) release(c Conn) { g.free <- c }

// roundTrip runs one request+optional-chunk through conn and returns the
// reply chunk, if any (spec §4.4 framing).
func (g *Group) roundTrip(conn Conn, req *wire.RequestData, payload []byte) ([]byte, error) {
	if err := wire.WriteFrame(conn, req.Marshal()); err != nil {
		return nil, errs.New("driver.roundTrip", errs.IOError, err)
	}
	if payload != nil {
		if err := wire.WriteFrame(conn, payload); err != nil {
			return nil, errs.New("driver.roundTrip", errs.IOError, err)
		}
	}
	replyBuf, err := wire.ReadFrame(conn)
	if err != nil {
		return nil, errs.New("driver.roundTrip", errs.IOError, err)
	}
	reply, err := wire.UnmarshalReply(replyBuf)
	if err != nil {
		return nil, errs.New("driver.roundTrip", errs.ProtocolMismatch, err)
	}
	if reply.Code != errs.Ok {
		return nil, errs.New("driver.roundTrip", reply.Code, fmt.Errorf("driver role %q returned %s", g.role, reply.Code))
	}
	chunk, err := wire.ReadFrame(conn)
	if err != nil {
		return nil, errs.New("driver.roundTrip", errs.IOError, err)
	}
	return chunk, nil
}

// dispatch acquires a worker, round-trips the request, and always
// returns the worker to the free list.
func (g *Group) dispatch(req *wire.RequestData, payload []byte, blocking bool) ([]byte, error) {
	conn, err := g.acquire(blocking)
	if err != nil {
		return nil, err
	}
	defer g.release(conn)
	return g.roundTrip(conn, req, payload)
}
