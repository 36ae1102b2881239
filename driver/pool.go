package driver

import (
	"fmt"
	"time"

	"github.com/syndicate-storage/syndicate-sub005/errs"
	"github.com/syndicate-storage/syndicate-sub005/metrics"
	"github.com/syndicate-storage/syndicate-sub005/wire"
)

// Pool is the full set of role groups a gateway process runs. It
// satisfies chunk.Dispatcher, with Dispatch defaulting to the blocking
// acquire path (flush/replication) and DispatchNonBlocking exposed for
// best-effort background paths (cache fill) per spec §4.4.
type Pool struct {
	groups  map[string]*Group
	metrics *metrics.Registry
}

// NewPool builds an empty pool; groups are registered with AddGroup.
func NewPool(m *metrics.Registry) *Pool {
	return &Pool{groups: make(map[string]*Group), metrics: m}
}

// AddGroup registers role's process group. Calling it twice for the same
// role replaces the previous group.
func (p *Pool) AddGroup(role string, conns []Conn) {
	p.groups[role] = NewGroup(role, conns)
}

func (p *Pool) dispatch(role string, req *wire.RequestData, payload []byte, blocking bool) ([]byte, error) {
	g, ok := p.groups[role]
	if !ok {
		return nil, errs.New("Pool.Dispatch", errs.DriverAbsent, fmt.Errorf("no driver group registered for role %q", role))
	}
	start := time.Now()
	if p.metrics != nil {
		p.metrics.DriverPoolInUse.WithLabelValues(role).Inc()
		defer p.metrics.DriverPoolInUse.WithLabelValues(role).Dec()
	}
	out, err := g.dispatch(req, payload, blocking)
	if p.metrics != nil {
		p.metrics.DriverDispatchSeconds.WithLabelValues(role).Observe(time.Since(start).Seconds())
		if errs.CodeOf(err) == errs.NoData {
			p.metrics.DriverPoolSaturated.Inc()
		}
	}
	return out, err
}

// Dispatch implements chunk.Dispatcher with the blocking acquire
// semantics used by flush and replication call paths.
func (p *Pool) Dispatch(role string, req *wire.RequestData, payload []byte) ([]byte, error) {
	return p.dispatch(role, req, payload, true)
}

// DispatchNonBlocking is the best-effort cache-fill path: it returns
// errs.NoData immediately rather than blocking on a saturated pool.
func (p *Pool) DispatchNonBlocking(role string, req *wire.RequestData, payload []byte) ([]byte, error) {
	return p.dispatch(role, req, payload, false)
}

// Close tears down every worker in every group.
func (p *Pool) Close() error {
	var first error
	for _, g := range p.groups {
		close(g.free)
		for c := range g.free {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}
