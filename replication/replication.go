// Package replication implements the fan-out module (C7): sending one
// prepared request to every RG in parallel with bounded concurrency and
// reducing their individual results to the single all-or-nothing result
// the caller sees (spec §4.7).
package replication

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/syndicate-storage/syndicate-sub005/errs"
	"github.com/syndicate-storage/syndicate-sub005/wire"
)

// State is one RG's position in the fan-out state machine (spec §4.7:
// "NotStarted -> InProgress -> Success | error").
type State int

const (
	NotStarted State = iota
	InProgress
	Success
	Failed
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "NotStarted"
	case InProgress:
		return "InProgress"
	case Success:
		return "Success"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// RGResult is one replica gateway's outcome, recorded in the fan-out
// Result so a caller (the vacuumer, a flush path) can see exactly which
// RGs failed (spec §4.7 "a per-RG error is recorded in the context").
type RGResult struct {
	GatewayID uint64
	State     State
	Err       error
}

// Result is the outcome of one Fanout call: the overall code (Ok iff every
// RG succeeded, else IOError per spec §4.7) plus the per-RG detail.
type Result struct {
	Code errs.Code
	RGs  []RGResult
}

// Sender performs one RPC against a single RG; rpc.Client's per-verb
// methods (PutBlock, PutManifest, DeleteChunks, ...) all have this shape
// once their other arguments are captured in a closure, so Fanout takes a
// Sender rather than depending on the rpc package directly.
type Sender func(ctx context.Context, rgID uint64) error

// Fanout sends req (via send, already closed over the concrete verb and
// payload) to every gateway in rgIDs with at most maxConcurrency in flight
// at once. The whole fan-out is reported Success only when every RG
// succeeds; any failure yields an overall errs.IOError while still
// reporting every RG's individual result (spec §4.7).
func Fanout(ctx context.Context, rgIDs []uint64, maxConcurrency int, send Sender) *Result {
	results := make([]RGResult, len(rgIDs))
	for i, id := range rgIDs {
		results[i] = RGResult{GatewayID: id, State: NotStarted}
	}

	g, gctx := errgroup.WithContext(ctx)
	if maxConcurrency > 0 {
		g.SetLimit(maxConcurrency)
	}

	for i, id := range rgIDs {
		i, id := i, id
		g.Go(func() error {
			results[i].State = InProgress
			err := send(gctx, id)
			if err != nil {
				results[i].State = Failed
				results[i].Err = err
				return err
			}
			results[i].State = Success
			return nil
		})
	}

	// errgroup.Wait's own error is discarded: we need every RG's result,
	// not just the first failure, so success/failure is read back off
	// `results` rather than off g.Wait()'s return value.
	_ = g.Wait()

	code := errs.Ok
	for _, r := range results {
		if r.State != Success {
			code = errs.IOError
			break
		}
	}
	return &Result{Code: code, RGs: results}
}

// RequestSender adapts an rpc.Client-shaped verb call (gatewayID, req)
// into a Sender, giving every RG the same RequestData value (§4.7 "a
// prepared request ... sent to every RG").
func RequestSender(call func(ctx context.Context, gatewayID uint64, req *wire.RequestData) error, req *wire.RequestData) Sender {
	return func(ctx context.Context, rgID uint64) error {
		return call(ctx, rgID, req)
	}
}
