package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"vwap-band-bot/internal/types"
)

func TestAccountSyncSnapshotBeforeFirstCycle(t *testing.T) {
	as := newAccountSync(&fakeBroker{}, time.Second, time.Second)
	if _, ok := as.snapshot(); ok {
		t.Error("snapshot must report not-ok before the first successful cycle")
	}
}

func TestAccountSyncCycleReplacesWholesale(t *testing.T) {
	broker := &fakeBroker{
		balances:  types.Balances{Cash: 5000, TotalAssets: 7500, Known: true},
		positions: map[string]types.Position{"ONDS": {Qty: 10, AvgPrice: 98.5}, "AAPL": {Qty: 2, AvgPrice: 190}},
		orders: []types.Order{
			{ID: "A", Symbol: "ONDS", Cancelable: true},
			{ID: "B", Symbol: "ONDS", Cancelable: false},
		},
	}
	as := newAccountSync(broker, time.Second, time.Second)
	as.cycle(context.Background())

	snap, ok := as.snapshot()
	if !ok {
		t.Fatal("expected a snapshot after a successful cycle")
	}
	if snap.Cash != 5000 || snap.TotalAssets != 7500 {
		t.Errorf("balances not carried: %+v", snap)
	}
	if len(snap.OpenOrders) != 1 || snap.OpenOrders[0].ID != "A" {
		t.Errorf("open orders should contain only cancelable orders, got %+v", snap.OpenOrders)
	}

	// Second cycle with a different world: the old snapshot is fully
	// discarded, including positions that vanished.
	broker.balances = types.Balances{Cash: 6000, TotalAssets: 6000, Known: true}
	broker.positions = map[string]types.Position{"ONDS": {}}
	broker.orders = nil
	as.cycle(context.Background())

	snap, _ = as.snapshot()
	if snap.Cash != 6000 {
		t.Errorf("cash = %v, want 6000", snap.Cash)
	}
	if _, stale := snap.Positions["AAPL"]; stale {
		t.Error("stale position survived a wholesale replacement")
	}
	if len(snap.OpenOrders) != 0 {
		t.Errorf("stale open orders survived: %+v", snap.OpenOrders)
	}
}

func TestAccountSyncFailureKeepsOldSnapshot(t *testing.T) {
	broker := &fakeBroker{
		balances:  types.Balances{Cash: 5000, TotalAssets: 5000, Known: true},
		positions: map[string]types.Position{"ONDS": {Qty: 3, AvgPrice: 101}},
	}
	as := newAccountSync(broker, time.Second, time.Second)
	as.cycle(context.Background())

	broker.posErr = types.Transient("positions", errors.New("http 503"))
	as.cycle(context.Background())

	snap, ok := as.snapshot()
	if !ok {
		t.Fatal("old snapshot should survive a failed cycle")
	}
	if snap.Cash != 5000 || snap.Positions["ONDS"].Qty != 3 {
		t.Errorf("failed cycle mutated the snapshot: %+v", snap)
	}

	// Recovery on the next interval.
	broker.posErr = nil
	broker.balances.Cash = 5100
	as.cycle(context.Background())
	snap, _ = as.snapshot()
	if snap.Cash != 5100 {
		t.Errorf("cycle after recovery did not refresh, cash = %v", snap.Cash)
	}
}

func TestAccountSyncUnknownCashFailsCycle(t *testing.T) {
	broker := &fakeBroker{
		balances:  types.Balances{Cash: 0, Known: false},
		positions: map[string]types.Position{},
	}
	as := newAccountSync(broker, time.Second, time.Second)
	as.cycle(context.Background())
	if _, ok := as.snapshot(); ok {
		t.Error("a balance response without a cash figure must not produce a snapshot")
	}
}

func TestAccountSyncSnapshotIsACopy(t *testing.T) {
	broker := &fakeBroker{
		balances:  types.Balances{Cash: 5000, Known: true},
		positions: map[string]types.Position{"ONDS": {Qty: 3, AvgPrice: 101}},
	}
	as := newAccountSync(broker, time.Second, time.Second)
	as.cycle(context.Background())

	snap, _ := as.snapshot()
	snap.Positions["ONDS"] = types.Position{Qty: 999}

	again, _ := as.snapshot()
	if again.Positions["ONDS"].Qty != 3 {
		t.Error("mutating a returned snapshot leaked into shared state")
	}
}

func TestAccountSyncLoopStopsOnCancel(t *testing.T) {
	broker := &fakeBroker{
		balances:  types.Balances{Cash: 5000, Known: true},
		positions: map[string]types.Position{},
	}
	as := newAccountSync(broker, 5*time.Millisecond, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	as.start(ctx)

	deadline := time.After(time.Second)
	for {
		if _, ok := as.snapshot(); ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("poller never produced a snapshot")
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	done := make(chan struct{})
	go func() {
		as.wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not exit after cancellation")
	}
}
