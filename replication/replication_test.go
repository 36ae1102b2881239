package replication

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/syndicate-storage/syndicate-sub005/errs"
)

func TestFanoutSucceedsWhenEveryRGSucceeds(t *testing.T) {
	rgIDs := []uint64{1, 2, 3}
	res := Fanout(context.Background(), rgIDs, 2, func(ctx context.Context, rgID uint64) error {
		return nil
	})

	assert.Equal(t, errs.Ok, res.Code)
	for _, r := range res.RGs {
		assert.Equal(t, Success, r.State)
	}
}

func TestFanoutReportsIOErrorAndPerRGDetailOnPartialFailure(t *testing.T) {
	rgIDs := []uint64{1, 2, 3}
	res := Fanout(context.Background(), rgIDs, 0, func(ctx context.Context, rgID uint64) error {
		if rgID == 2 {
			return fmt.Errorf("rg %d unreachable", rgID)
		}
		return nil
	})

	assert.Equal(t, errs.IOError, res.Code)
	byID := map[uint64]RGResult{}
	for _, r := range res.RGs {
		byID[r.GatewayID] = r
	}
	assert.Equal(t, Success, byID[1].State)
	assert.Equal(t, Failed, byID[2].State)
	assert.Error(t, byID[2].Err)
	assert.Equal(t, Success, byID[3].State)
}

func TestFanoutRespectsConcurrencyLimit(t *testing.T) {
	rgIDs := []uint64{1, 2, 3, 4, 5, 6}
	var inFlight, maxSeen int32

	res := Fanout(context.Background(), rgIDs, 2, func(ctx context.Context, rgID uint64) error {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			cur := atomic.LoadInt32(&maxSeen)
			if n <= cur || atomic.CompareAndSwapInt32(&maxSeen, cur, n) {
				break
			}
		}
		atomic.AddInt32(&inFlight, -1)
		return nil
	})

	assert.Equal(t, errs.Ok, res.Code)
	assert.LessOrEqual(t, int(maxSeen), 2)
}

func TestFanoutEmptyRGListSucceedsVacuously(t *testing.T) {
	res := Fanout(context.Background(), nil, 4, func(ctx context.Context, rgID uint64) error {
		t.Fatal("should not be called")
		return nil
	})
	assert.Equal(t, errs.Ok, res.Code)
	assert.Empty(t, res.RGs)
}
