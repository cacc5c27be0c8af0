package fuzz

import (
	"errors"
	"math"
	"math/big"
	"testing"

	"vaultlend/core/lending"
	"vaultlend/crypto"
	"vaultlend/state"
	"vaultlend/storage"
)

const fuzzClock = uint64(1_765_000_000)

func makeAddress(suffix byte) crypto.Address {
	raw := make([]byte, crypto.AddressLength)
	raw[len(raw)-1] = suffix
	return crypto.NewAddress(raw)
}

func absInt64(v int64) int64 {
	if v == math.MinInt64 {
		return math.MaxInt64
	}
	if v < 0 {
		return -v
	}
	return v
}

type fuzzFeed struct{}

func (fuzzFeed) Price() (*big.Int, error)    { return big.NewInt(lending.RateScale), nil }
func (fuzzFeed) LastUpdate() (uint64, error) { return fuzzClock, nil }
func (fuzzFeed) ValidatePrice(*big.Int) bool { return true }

func newFuzzEngine() *lending.Engine {
	engine := lending.NewEngine(lending.DefaultParams())
	engine.SetState(state.NewManager(storage.NewMemDB()))
	engine.SetOracle(fuzzFeed{})
	engine.SetClock(func() uint64 { return fuzzClock })
	return engine
}

func fuzzTotals(t *testing.T, engine *lending.Engine) (borrowed, supplied *big.Int) {
	t.Helper()
	rates, err := engine.CurrentRates()
	if err != nil {
		t.Fatalf("current rates: %v", err)
	}
	return rates.TotalBorrowed, rates.TotalSupplied
}

// FuzzLendingDepositWithdrawAmounts round-trips fuzzed deposit and
// borrow amounts through a full position lifecycle. Whatever the
// amounts, the aggregates must conserve: a rejected borrow leaves no
// trace, an accepted one unwinds to zero, and the collateral exits in
// full.
func FuzzLendingDepositWithdrawAmounts(f *testing.F) {
	f.Add(int64(1_000_000_000_000), int64(3))
	f.Add(int64(42), int64(17))
	f.Add(int64(7), int64(99))

	f.Fuzz(func(t *testing.T, depositRaw, borrowRaw int64) {
		deposit := big.NewInt(absInt64(depositRaw)%1_000_000_000_000_000 + 1)
		// Scale the borrow between 1% and 100% of the collateral so the
		// draw lands on both sides of the minimum ratio.
		scale := absInt64(borrowRaw)%100 + 1
		borrow := new(big.Int).Mul(deposit, big.NewInt(scale))
		borrow.Quo(borrow, big.NewInt(100))
		if borrow.Sign() == 0 {
			borrow = big.NewInt(1)
		}

		engine := newFuzzEngine()
		principal := makeAddress(0x53)

		if err := engine.Deposit(principal, deposit); err != nil {
			t.Fatalf("deposit of a positive amount rejected: %v", err)
		}
		borrowed, supplied := fuzzTotals(t, engine)
		if borrowed.Sign() != 0 || supplied.Cmp(deposit) != 0 {
			t.Fatalf("deposit booked wrong totals: borrowed=%s supplied=%s", borrowed, supplied)
		}

		// At a unit price the engine's ratio is collateral*100/debt.
		predicted := new(big.Int).Mul(deposit, big.NewInt(100))
		predicted.Quo(predicted, borrow)
		wantAccepted := predicted.Cmp(big.NewInt(150)) >= 0

		err := engine.Borrow(principal, borrow)
		switch {
		case err == nil && !wantAccepted:
			t.Fatalf("undercollateralized borrow accepted: deposit=%s borrow=%s ratio=%s", deposit, borrow, predicted)
		case err != nil && wantAccepted:
			t.Fatalf("healthy borrow rejected: deposit=%s borrow=%s ratio=%s err=%v", deposit, borrow, predicted, err)
		case err != nil:
			if !errors.Is(err, lending.ErrInsufficientCollateralRatio) {
				t.Fatalf("unexpected borrow rejection: %v", err)
			}
			borrowed, supplied = fuzzTotals(t, engine)
			if borrowed.Sign() != 0 || supplied.Cmp(deposit) != 0 {
				t.Fatalf("failed borrow mutated totals: borrowed=%s supplied=%s", borrowed, supplied)
			}
		default:
			borrowed, _ = fuzzTotals(t, engine)
			if borrowed.Cmp(borrow) != 0 {
				t.Fatalf("borrow booked wrong total: got %s want %s", borrowed, borrow)
			}
			overpay := new(big.Int).Add(borrow, big.NewInt(7))
			if err := engine.Repay(principal, overpay); err != nil {
				t.Fatalf("repaying accepted borrow failed: %v", err)
			}
			borrowed, _ = fuzzTotals(t, engine)
			if borrowed.Sign() != 0 {
				t.Fatalf("repay left borrowed total: %s", borrowed)
			}
		}

		if err := engine.Withdraw(principal, deposit); err != nil {
			t.Fatalf("withdrawing free collateral failed: %v", err)
		}
		borrowed, supplied = fuzzTotals(t, engine)
		if borrowed.Sign() != 0 || supplied.Sign() != 0 {
			t.Fatalf("lifecycle left residue: borrowed=%s supplied=%s", borrowed, supplied)
		}

		view, err := engine.GetPosition(principal)
		if err != nil {
			t.Fatalf("final position: %v", err)
		}
		if view.Collateral.Sign() != 0 || view.Debt.Sign() != 0 || !view.RatioUnbounded {
			t.Fatalf("position not emptied: collateral=%s debt=%s", view.Collateral, view.Debt)
		}
	})
}
