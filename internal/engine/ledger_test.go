package engine

import (
	"context"
	"errors"
	"math"
	"testing"

	"vwap-band-bot/internal/types"
)

// conservation: cash + qty*price must always equal
// initialCash + realized + unrealized at any mark price.
func checkConservation(t *testing.T, l *positionLedger, initialCash, price float64) {
	t.Helper()
	lhs := l.cash + l.qty*price
	rhs := initialCash + l.realized + l.unrealizedPnL(price)
	if math.Abs(lhs-rhs) > 1e-6 {
		t.Errorf("conservation violated: cash+qty*price=%v, initial+realized+unrealized=%v", lhs, rhs)
	}
}

func TestLedgerConservation(t *testing.T) {
	const initial = 10000.0
	l := newPositionLedger("ONDS", initial, false)

	fills := []struct {
		side  types.Side
		qty   float64
		price float64
	}{
		{types.SideBuy, 10, 100.0},
		{types.SideBuy, 5, 110.0},
		{types.SideSell, 8, 105.0},
		{types.SideBuy, 3, 95.0},
		{types.SideSell, 10, 102.0},
	}
	for i, f := range fills {
		if err := l.applyFill(f.side, f.qty, f.price); err != nil {
			t.Fatalf("fill %d: %v", i, err)
		}
		for _, mark := range []float64{f.price, 90.0, 120.0} {
			checkConservation(t, l, initial, mark)
		}
	}
	if l.qty != 0 {
		t.Fatalf("expected flat after fills, got %v", l.qty)
	}
	if l.avg != 0 {
		t.Errorf("avg should reset to 0 when flat, got %v", l.avg)
	}
	if l.unrealizedPnL(123.45) != 0 {
		t.Errorf("flat position must have zero unrealized PnL")
	}
}

func TestLedgerWeightedAverage(t *testing.T) {
	l := newPositionLedger("ONDS", 10000, false)
	if err := l.applyFill(types.SideBuy, 10, 100); err != nil {
		t.Fatal(err)
	}
	if err := l.applyFill(types.SideBuy, 10, 110); err != nil {
		t.Fatal(err)
	}
	if !almostEqual(l.avg, 105, 1e-9) {
		t.Errorf("avg = %v, want 105", l.avg)
	}
	if !almostEqual(l.cash, 10000-10*100-10*110, 1e-9) {
		t.Errorf("cash = %v", l.cash)
	}
}

// Scenario C: oversell without shorting is rejected with no state change.
func TestLedgerInsufficientPosition(t *testing.T) {
	l := newPositionLedger("ONDS", 10000, false)
	if err := l.applyFill(types.SideBuy, 5, 100); err != nil {
		t.Fatal(err)
	}
	cash, qty, avg, realized := l.cash, l.qty, l.avg, l.realized

	err := l.applyFill(types.SideSell, 10, 100)
	if !errors.Is(err, types.ErrInsufficientPosition) {
		t.Fatalf("expected ErrInsufficientPosition, got %v", err)
	}
	if l.cash != cash || l.qty != qty || l.avg != avg || l.realized != realized {
		t.Error("rejected fill mutated ledger state")
	}
}

func TestLedgerShortAccounting(t *testing.T) {
	const initial = 10000.0
	l := newPositionLedger("ONDS", initial, true)

	// Sell from flat: short 10 at 100.
	if err := l.applyFill(types.SideSell, 10, 100); err != nil {
		t.Fatal(err)
	}
	if l.qty != -10 {
		t.Fatalf("qty = %v, want -10", l.qty)
	}
	if !almostEqual(l.avg, 100, 1e-9) {
		t.Fatalf("avg = %v, want 100", l.avg)
	}
	// Shorts profit as price falls.
	if !almostEqual(l.unrealizedPnL(90), 100, 1e-9) {
		t.Errorf("unrealized at 90 = %v, want 100", l.unrealizedPnL(90))
	}
	checkConservation(t, l, initial, 90)

	// Cover half at 95: realized (100-95)*5 = 25.
	if err := l.applyFill(types.SideBuy, 5, 95); err != nil {
		t.Fatal(err)
	}
	if !almostEqual(l.realized, 25, 1e-9) {
		t.Errorf("realized = %v, want 25", l.realized)
	}
	checkConservation(t, l, initial, 95)
}

func TestLedgerCrossThroughZero(t *testing.T) {
	const initial = 10000.0
	l := newPositionLedger("ONDS", initial, true)
	if err := l.applyFill(types.SideBuy, 5, 100); err != nil {
		t.Fatal(err)
	}
	// Sell 8: closes the 5 long at 110 (realized +50), opens a 3 short at 110.
	if err := l.applyFill(types.SideSell, 8, 110); err != nil {
		t.Fatal(err)
	}
	if l.qty != -3 {
		t.Fatalf("qty = %v, want -3", l.qty)
	}
	if !almostEqual(l.avg, 110, 1e-9) {
		t.Errorf("avg after cross = %v, want 110", l.avg)
	}
	if !almostEqual(l.realized, 50, 1e-9) {
		t.Errorf("realized = %v, want 50", l.realized)
	}
	checkConservation(t, l, initial, 110)
}

func TestLedgerRejectsInvalidFill(t *testing.T) {
	l := newPositionLedger("ONDS", 10000, false)
	if err := l.applyFill(types.SideBuy, 0, 100); err == nil {
		t.Error("zero qty should be rejected")
	}
	if err := l.applyFill(types.SideBuy, 1, -5); err == nil {
		t.Error("negative price should be rejected")
	}
	if err := l.applyFill(types.SideBuy, -1, 100); err == nil {
		t.Error("negative qty should be rejected")
	}
}

func TestLedgerSeedOnce(t *testing.T) {
	l := newPositionLedger("ONDS", 0, false)
	l.seed(5000, 3, 101.5)
	if l.cash != 5000 || l.qty != 3 || l.avg != 101.5 {
		t.Fatalf("seed not applied: %+v", l)
	}
	l.seed(9999, 0, 0)
	if l.cash != 5000 || l.qty != 3 {
		t.Error("second seed must be a no-op")
	}
}

func TestLedgerAdoptDrift(t *testing.T) {
	l := newPositionLedger("ONDS", 10000, false)
	if err := l.applyFill(types.SideBuy, 5, 100); err != nil {
		t.Fatal(err)
	}

	snap := types.AccountSnapshot{
		Cash:      9400.00, // broker disagrees by more than a cent
		Positions: map[string]types.Position{"ONDS": {Qty: 4, AvgPrice: 102}},
	}
	l.adopt(context.Background(), snap)
	if l.qty != 4 {
		t.Errorf("qty = %v, broker truth 4 should win", l.qty)
	}
	if l.avg != 102 {
		t.Errorf("avg = %v, broker basis 102 should come with the quantity", l.avg)
	}
	if l.cash != 9400.00 {
		t.Errorf("cash = %v, broker truth 9400 should win", l.cash)
	}

	// Within tolerance: no adoption churn.
	snap2 := types.AccountSnapshot{
		Cash:      9400.005,
		Positions: map[string]types.Position{"ONDS": {Qty: 4, AvgPrice: 102}},
	}
	l.adopt(context.Background(), snap2)
	if l.cash != 9400.00 {
		t.Errorf("sub-cent cash delta should not be adopted, got %v", l.cash)
	}
}

func TestLedgerSeededBasisMarksPnL(t *testing.T) {
	l := newPositionLedger("ONDS", 0, false)
	l.seed(1000, 10, 60)

	// 10 shares with a $60 basis marked at $50 is a $100 loss.
	if got := l.pl(50); !almostEqual(got, -100, 1e-9) {
		t.Errorf("pl(50) = %v, want -100", got)
	}
	if got := l.pl(65); !almostEqual(got, 50, 1e-9) {
		t.Errorf("pl(65) = %v, want 50", got)
	}
}

func TestLedgerAdoptCarriesBasis(t *testing.T) {
	l := newPositionLedger("ONDS", 0, false)
	l.seed(1000, 0, 0)

	// A position appears at the broker; its average cost must come along so
	// the take-profit gate cannot see a losing position as profitable.
	snap := types.AccountSnapshot{
		Cash:      400,
		Positions: map[string]types.Position{"ONDS": {Qty: 10, AvgPrice: 60}},
	}
	l.adopt(context.Background(), snap)
	if l.qty != 10 || l.avg != 60 {
		t.Fatalf("qty = %v avg = %v, want 10 @ 60", l.qty, l.avg)
	}
	if got := l.pl(50); got >= 0 {
		t.Errorf("pl(50) = %v, a $60 basis marked at $50 must be a loss", got)
	}

	// Same quantity, corrected basis: adopt the basis alone.
	snap.Positions["ONDS"] = types.Position{Qty: 10, AvgPrice: 62}
	l.adopt(context.Background(), snap)
	if l.avg != 62 {
		t.Errorf("avg = %v, want broker-corrected 62", l.avg)
	}
}
