package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"vwap-band-bot/internal/types"
)

// fakeBroker scripts PlaceOrder responses and records every call.
type fakeBroker struct {
	placeErrs []error // consumed per call; nil entry means success
	placed    []types.OrderReq
	nextID    int

	cancelErr error
	cancelled []string

	balances    types.Balances
	balancesErr error
	positions   map[string]types.Position
	posErr      error
	orders      []types.Order
	ordersErr   error
}

func (f *fakeBroker) PlaceOrder(_ context.Context, req types.OrderReq) (types.OrderResp, error) {
	f.placed = append(f.placed, req)
	var err error
	if len(f.placeErrs) > 0 {
		err = f.placeErrs[0]
		f.placeErrs = f.placeErrs[1:]
	}
	if err != nil {
		return types.OrderResp{}, err
	}
	f.nextID++
	return types.OrderResp{OrderID: orderID(f.nextID), Status: "SUBMITTED"}, nil
}

func orderID(n int) string {
	return "ORD-" + string(rune('0'+n))
}

func (f *fakeBroker) CancelOrder(_ context.Context, id string) error {
	f.cancelled = append(f.cancelled, id)
	return f.cancelErr
}

func (f *fakeBroker) Balances(_ context.Context) (types.Balances, error) {
	return f.balances, f.balancesErr
}

func (f *fakeBroker) Positions(_ context.Context) (map[string]types.Position, error) {
	return f.positions, f.posErr
}

func (f *fakeBroker) Orders(_ context.Context) ([]types.Order, error) {
	return f.orders, f.ordersErr
}

func newTestExecutor(t *testing.T, mode types.ExecutionMode, broker *fakeBroker, ledger *positionLedger) (*orderExecutor, *[]time.Duration) {
	t.Helper()
	t.Setenv("TRADER_LOG_DIR", t.TempDir())
	oe := newOrderExecutor(mode, "ONDS", broker, ledger, 3, 500, 10)
	slept := &[]time.Duration{}
	oe.sleep = func(d time.Duration) { *slept = append(*slept, d) }
	return oe, slept
}

func TestExecutorSimulatedFillIsSynchronous(t *testing.T) {
	ledger := newPositionLedger("ONDS", 10000, false)
	oe, _ := newTestExecutor(t, types.ModeSimulated, nil, ledger)

	sig := types.Signal{Kind: types.SignalBuy, Qty: 2, SourceTs: 1, Reason: "test"}
	bar := types.Bar{Ts: 1, Close: 100, High: 101, Low: 99, Vol: 10}
	if err := oe.submit(context.Background(), sig, bar); err != nil {
		t.Fatal(err)
	}
	if ledger.qty != 2 {
		t.Errorf("qty = %v, want 2", ledger.qty)
	}
	if !almostEqual(ledger.cash, 10000-200, 1e-9) {
		t.Errorf("cash = %v, want 9800", ledger.cash)
	}
}

func TestExecutorCloseShortBuysBack(t *testing.T) {
	ledger := newPositionLedger("ONDS", 10000, true)
	if err := ledger.applyFill(types.SideSell, 3, 100); err != nil {
		t.Fatal(err)
	}
	oe, _ := newTestExecutor(t, types.ModeSimulated, nil, ledger)

	sig := types.Signal{Kind: types.SignalClose, Qty: ledger.qty, SourceTs: 2, Reason: "manual"}
	bar := types.Bar{Ts: 2, Close: 95, High: 96, Low: 94, Vol: 10}
	if err := oe.submit(context.Background(), sig, bar); err != nil {
		t.Fatal(err)
	}
	if ledger.qty != 0 {
		t.Errorf("qty = %v, want flat after covering short", ledger.qty)
	}
	if !almostEqual(ledger.realized, 15, 1e-9) {
		t.Errorf("realized = %v, want 15", ledger.realized)
	}
}

func TestExecutorLocalInsufficientCheckSkipsBroker(t *testing.T) {
	broker := &fakeBroker{}
	ledger := newPositionLedger("ONDS", 10000, false)
	oe, _ := newTestExecutor(t, types.ModeReal, broker, ledger)

	sig := types.Signal{Kind: types.SignalSell, Qty: 5, SourceTs: 1, Reason: "manual"}
	err := oe.submit(context.Background(), sig, types.Bar{Ts: 1, Close: 100})
	if !errors.Is(err, types.ErrInsufficientPosition) {
		t.Fatalf("expected ErrInsufficientPosition, got %v", err)
	}
	if len(broker.placed) != 0 {
		t.Error("broker must not be called for a locally rejected sell")
	}
}

func TestExecutorPendingIdempotency(t *testing.T) {
	broker := &fakeBroker{}
	ledger := newPositionLedger("ONDS", 10000, false)
	oe, _ := newTestExecutor(t, types.ModeReal, broker, ledger)

	sig := types.Signal{Kind: types.SignalBuy, Qty: 1, SourceTs: 1, Reason: "dip"}
	bar := types.Bar{Ts: 1, Close: 100}
	if err := oe.submit(context.Background(), sig, bar); err != nil {
		t.Fatal(err)
	}
	// Identical side while the first is still open: dropped, not re-sent.
	if err := oe.submit(context.Background(), sig, bar); err != nil {
		t.Fatal(err)
	}
	if len(broker.placed) != 1 {
		t.Fatalf("placed %d orders, want 1", len(broker.placed))
	}

	// Broker no longer reports the order as open: the hold clears.
	oe.refreshPending(nil)
	if err := oe.submit(context.Background(), sig, bar); err != nil {
		t.Fatal(err)
	}
	if len(broker.placed) != 2 {
		t.Fatalf("placed %d orders after hold cleared, want 2", len(broker.placed))
	}
}

func TestExecutorTransientRetryWithBackoff(t *testing.T) {
	transient := types.Transient("place_order", errors.New("timeout"))
	broker := &fakeBroker{placeErrs: []error{transient, transient, nil}}
	ledger := newPositionLedger("ONDS", 10000, false)
	oe, slept := newTestExecutor(t, types.ModeReal, broker, ledger)

	sig := types.Signal{Kind: types.SignalBuy, Qty: 1, SourceTs: 1, Reason: "dip"}
	if err := oe.submit(context.Background(), sig, types.Bar{Ts: 1, Close: 100}); err != nil {
		t.Fatalf("expected success on third attempt, got %v", err)
	}
	if len(broker.placed) != 3 {
		t.Errorf("attempts = %d, want 3", len(broker.placed))
	}
	want := []time.Duration{500 * time.Millisecond, 1000 * time.Millisecond}
	if len(*slept) != len(want) {
		t.Fatalf("backoff sleeps = %v, want %v", *slept, want)
	}
	for i, d := range want {
		if (*slept)[i] != d {
			t.Errorf("sleep %d = %v, want %v", i, (*slept)[i], d)
		}
	}
}

func TestExecutorTransientExhausted(t *testing.T) {
	transient := types.Transient("place_order", errors.New("timeout"))
	broker := &fakeBroker{placeErrs: []error{transient, transient, transient}}
	ledger := newPositionLedger("ONDS", 10000, false)
	oe, _ := newTestExecutor(t, types.ModeReal, broker, ledger)

	sig := types.Signal{Kind: types.SignalBuy, Qty: 1, SourceTs: 1, Reason: "dip"}
	err := oe.submit(context.Background(), sig, types.Bar{Ts: 1, Close: 100})
	if !types.IsTransient(err) {
		t.Fatalf("expected the last transient error, got %v", err)
	}
	if len(broker.placed) != 3 {
		t.Errorf("attempts = %d, want exactly the retry budget 3", len(broker.placed))
	}
}

func TestExecutorAuthFailureHaltsSession(t *testing.T) {
	broker := &fakeBroker{placeErrs: []error{types.ErrAuth}}
	ledger := newPositionLedger("ONDS", 10000, false)
	oe, slept := newTestExecutor(t, types.ModeReal, broker, ledger)

	sig := types.Signal{Kind: types.SignalBuy, Qty: 1, SourceTs: 1, Reason: "dip"}
	err := oe.submit(context.Background(), sig, types.Bar{Ts: 1, Close: 100})
	if !errors.Is(err, types.ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
	if len(*slept) != 0 {
		t.Error("auth failures must not be retried")
	}

	// Every later submission is refused without touching the broker.
	err = oe.submit(context.Background(), sig, types.Bar{Ts: 2, Close: 100})
	if !errors.Is(err, types.ErrAuth) {
		t.Fatalf("expected ErrAuth on halted session, got %v", err)
	}
	if len(broker.placed) != 1 {
		t.Errorf("broker called %d times, want 1", len(broker.placed))
	}
}

func TestExecutorRejectedNeverRetried(t *testing.T) {
	broker := &fakeBroker{placeErrs: []error{types.ErrOrderRejected}}
	ledger := newPositionLedger("ONDS", 10000, false)
	oe, slept := newTestExecutor(t, types.ModeReal, broker, ledger)

	sig := types.Signal{Kind: types.SignalBuy, Qty: 1, SourceTs: 1, Reason: "dip"}
	err := oe.submit(context.Background(), sig, types.Bar{Ts: 1, Close: 100})
	if !errors.Is(err, types.ErrOrderRejected) {
		t.Fatalf("expected ErrOrderRejected, got %v", err)
	}
	if len(broker.placed) != 1 || len(*slept) != 0 {
		t.Errorf("rejected order was retried: calls=%d sleeps=%d", len(broker.placed), len(*slept))
	}

	// Rejection does not poison the session the way an auth failure does.
	broker.placeErrs = nil
	if err := oe.submit(context.Background(), sig, types.Bar{Ts: 2, Close: 100}); err != nil {
		t.Fatalf("submission after rejection should work: %v", err)
	}
}

func TestExecutorCancelAll(t *testing.T) {
	broker := &fakeBroker{}
	ledger := newPositionLedger("ONDS", 10000, false)
	oe, _ := newTestExecutor(t, types.ModeReal, broker, ledger)

	open := []types.Order{
		{ID: "A", Symbol: "ONDS", Cancelable: true},
		{ID: "B", Symbol: "ONDS", Cancelable: false}, // terminal, skipped
		{ID: "C", Symbol: "ONDS", Cancelable: true},
	}
	if err := oe.cancelAll(context.Background(), open); err != nil {
		t.Fatal(err)
	}
	if len(broker.cancelled) != 2 || broker.cancelled[0] != "A" || broker.cancelled[1] != "C" {
		t.Errorf("cancelled %v, want [A C]", broker.cancelled)
	}

	// Idempotent: nothing open, nothing cancelled, no error.
	broker.cancelled = nil
	if err := oe.cancelAll(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if len(broker.cancelled) != 0 {
		t.Errorf("cancelled %v on empty book", broker.cancelled)
	}
}

func TestExecutorCancelAllCollectsErrors(t *testing.T) {
	broker := &fakeBroker{cancelErr: errors.New("gateway busy")}
	ledger := newPositionLedger("ONDS", 10000, false)
	oe, _ := newTestExecutor(t, types.ModeReal, broker, ledger)

	open := []types.Order{
		{ID: "A", Cancelable: true},
		{ID: "B", Cancelable: true},
	}
	err := oe.cancelAll(context.Background(), open)
	if err == nil {
		t.Fatal("expected an error when cancels fail")
	}
	// Every order is still attempted despite the failures.
	if len(broker.cancelled) != 2 {
		t.Errorf("attempted %d cancels, want 2", len(broker.cancelled))
	}
}
