package lending

import (
	"errors"
	"math/big"
	"testing"

	"vaultlend/crypto"
)

func TestLiquidateUndercollateralizedPosition(t *testing.T) {
	state := newMockEngineState()
	engine, _ := newTestEngine(t, state)
	// Price 1.2: (10000*1.2*100)/9000 = 133% < 150%.
	engine.SetOracle(freshOracle(120_000_000, testTime))
	sink := &captureSink{}
	engine.Events().Register(sink)
	alice := makeAddress(0x01)
	bob := makeAddress(0x02)
	seedPosition(state, alice, 10_000, 9000, testTime)

	if err := engine.Liquidate(bob, alice, big.NewInt(9000)); err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	// Close factor 50%: repay 4500. Incentive 10%: seize 4950.
	stored := state.positions[state.key(alice)]
	if stored.Debt.Cmp(big.NewInt(4500)) != 0 {
		t.Fatalf("unexpected debt: got %s want 4500", stored.Debt)
	}
	if stored.Collateral.Cmp(big.NewInt(5050)) != 0 {
		t.Fatalf("unexpected collateral: got %s want 5050", stored.Collateral)
	}
	if state.rates.TotalBorrowed.Cmp(big.NewInt(4500)) != 0 {
		t.Fatalf("unexpected total borrowed: %s", state.rates.TotalBorrowed)
	}
	if state.rates.TotalSupplied.Cmp(big.NewInt(5050)) != 0 {
		t.Fatalf("unexpected total supplied: %s", state.rates.TotalSupplied)
	}

	events := sink.byKind(EventLiquidate)
	if len(events) != 1 {
		t.Fatalf("expected one liquidate event, got %d", len(events))
	}
	evt := events[0]
	if evt.Principal != bob.String() || evt.Counterparty != alice.String() {
		t.Fatalf("unexpected parties: %+v", evt)
	}
	if evt.Amount.Cmp(big.NewInt(4500)) != 0 || evt.Seized.Cmp(big.NewInt(4950)) != 0 {
		t.Fatalf("unexpected amounts: %+v", evt)
	}

	performed := state.activity[state.key(bob)]
	received := state.activity[state.key(alice)]
	if performed == nil || performed.LiquidationsPerformed != 1 {
		t.Fatalf("liquidator counter not tracked: %+v", performed)
	}
	if received == nil || received.LiquidationsReceived != 1 {
		t.Fatalf("target counter not tracked: %+v", received)
	}
}

func TestLiquidateHealthyPositionRejected(t *testing.T) {
	state := newMockEngineState()
	engine, _ := newTestEngine(t, state)
	// Price 2.0: (10000*2*100)/9000 = 222% >= 150%.
	engine.SetOracle(freshOracle(200_000_000, testTime))
	alice := makeAddress(0x01)
	bob := makeAddress(0x02)
	seedPosition(state, alice, 10_000, 9000, testTime)

	if err := engine.Liquidate(bob, alice, big.NewInt(1000)); !errors.Is(err, ErrNotEligibleForLiquidation) {
		t.Fatalf("expected eligibility rejection, got %v", err)
	}
	stored := state.positions[state.key(alice)]
	if stored.Debt.Cmp(big.NewInt(9000)) != 0 || stored.Collateral.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("rejected liquidation mutated position: %+v", stored)
	}
}

func TestLiquidateSeizureCappedByCollateral(t *testing.T) {
	state := newMockEngineState()
	engine, _ := newTestEngine(t, state)
	engine.SetOracle(freshOracle(100_000_000, testTime))
	alice := makeAddress(0x01)
	bob := makeAddress(0x02)
	// Deeply underwater: 100 collateral against 9000 debt.
	seedPosition(state, alice, 100, 9000, testTime)

	if err := engine.Liquidate(bob, alice, big.NewInt(9000)); err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	stored := state.positions[state.key(alice)]
	if stored.Collateral.Sign() != 0 {
		t.Fatalf("seizure must cap at the collateral held: %s", stored.Collateral)
	}
	if stored.Debt.Cmp(big.NewInt(4500)) != 0 {
		t.Fatalf("unexpected debt: %s", stored.Debt)
	}
	if stored.Collateral.Sign() < 0 || stored.Debt.Sign() < 0 {
		t.Fatalf("negative balances after liquidation: %+v", stored)
	}
}

func TestLiquidateGuards(t *testing.T) {
	state := newMockEngineState()
	engine, _ := newTestEngine(t, state)
	engine.SetOracle(freshOracle(100_000_000, testTime))
	alice := makeAddress(0x01)
	bob := makeAddress(0x02)
	seedPosition(state, alice, 100, 9000, testTime)

	if err := engine.Liquidate(bob, bob, big.NewInt(100)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("self liquidation: got %v", err)
	}
	if err := engine.Liquidate(bob, crypto.Address{}, big.NewInt(100)); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("zero target: got %v", err)
	}
	if err := engine.Liquidate(bob, makeAddress(0x33), big.NewInt(100)); !errors.Is(err, ErrPositionNotFound) {
		t.Fatalf("missing target: got %v", err)
	}
	if err := engine.Liquidate(bob, alice, big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero amount: got %v", err)
	}
}
