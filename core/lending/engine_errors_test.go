package lending

import (
	"errors"
	"math/big"
	"testing"
)

type captureErrorSink struct {
	contexts []ErrorContext
}

func (s *captureErrorSink) RecordError(ctx ErrorContext) {
	s.contexts = append(s.contexts, ctx)
}

func TestStorageWriteRetriedOnce(t *testing.T) {
	state := newMockEngineState()
	engine, _ := newTestEngine(t, state)
	alice := makeAddress(0x01)

	state.failPositionWrites = 1
	if err := engine.Deposit(alice, big.NewInt(100)); err != nil {
		t.Fatalf("deposit should survive one write fault: %v", err)
	}
	if state.positions[state.key(alice)] == nil {
		t.Fatalf("position not persisted by the retry")
	}

	stats := engine.ErrorStats()
	if stats.RecoveryAttempts != 1 || stats.RecoverySuccesses != 1 {
		t.Fatalf("unexpected recovery stats: %+v", stats)
	}
	if stats.RecoverySuccessRate != 100 {
		t.Fatalf("unexpected recovery rate: %d", stats.RecoverySuccessRate)
	}
	recent := engine.RecentErrors(1)
	if len(recent) != 1 || recent[0].Code != "storage_error" || !recent[0].RecoverySucceeded {
		t.Fatalf("unexpected recent entry: %+v", recent)
	}
}

func TestPartialCommitRollsBack(t *testing.T) {
	state := newMockEngineState()
	engine, _ := newTestEngine(t, state)
	alice := makeAddress(0x01)

	if err := engine.Deposit(alice, big.NewInt(1000)); err != nil {
		t.Fatalf("seed deposit: %v", err)
	}

	// Both rate-state write attempts fail after the position already
	// landed; the commit must restore the pre-call records.
	state.failRateWrites = 2
	if err := engine.Deposit(alice, big.NewInt(500)); !errors.Is(err, ErrStorageError) {
		t.Fatalf("expected storage error, got %v", err)
	}
	stored := state.positions[state.key(alice)]
	if stored.Collateral.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("position not rolled back: %s", stored.Collateral)
	}
	if state.rates.TotalSupplied.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("totals not rolled back: %s", state.rates.TotalSupplied)
	}
}

func TestPartialCommitRemovesFreshPosition(t *testing.T) {
	state := newMockEngineState()
	engine, _ := newTestEngine(t, state)
	bob := makeAddress(0x02)

	state.failRateWrites = 2
	if err := engine.Deposit(bob, big.NewInt(500)); !errors.Is(err, ErrStorageError) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if _, ok := state.positions[state.key(bob)]; ok {
		t.Fatalf("fresh position must be removed on rollback")
	}
}

func TestOracleFallbackOnFailure(t *testing.T) {
	state := newMockEngineState()
	engine, _ := newTestEngine(t, state)
	engine.SetOracle(&stubOracle{priceErr: errors.New("feed offline")})
	alice := makeAddress(0x01)

	if err := engine.Deposit(alice, big.NewInt(1000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	// Fallback price 1.5: (1000*1.5*100)/100 = 1500% clears the floor.
	if err := engine.Borrow(alice, big.NewInt(100)); err != nil {
		t.Fatalf("borrow should use the fallback price: %v", err)
	}

	recovered := false
	for _, ctx := range engine.RecentErrors(0) {
		if ctx.Code == "oracle_failure" && ctx.RecoveryAttempted && ctx.RecoverySucceeded {
			recovered = true
		}
	}
	if !recovered {
		t.Fatalf("fallback substitution not recorded")
	}
}

func TestOracleFailureWithoutFallback(t *testing.T) {
	state := newMockEngineState()
	params := DefaultParams()
	params.Admin = adminAddr
	params.Oracle.FallbackPrice = big.NewInt(0)
	engine := NewEngine(params)
	engine.SetState(state)
	engine.SetClock(func() uint64 { return testTime })
	engine.SetOracle(&stubOracle{priceErr: errors.New("feed offline")})
	alice := makeAddress(0x01)
	seedPosition(state, alice, 1000, 0, testTime)

	if err := engine.Borrow(alice, big.NewInt(100)); !errors.Is(err, ErrOracleFailure) {
		t.Fatalf("expected oracle failure, got %v", err)
	}
	stats := engine.ErrorStats()
	if stats.RecoveryAttempts != 1 || stats.RecoverySuccesses != 0 {
		t.Fatalf("unexpected recovery stats: %+v", stats)
	}
	if stats.RecoverySuccessRate != 0 {
		t.Fatalf("unexpected recovery rate: %d", stats.RecoverySuccessRate)
	}
}

func TestStalePriceRefetchedOnce(t *testing.T) {
	state := newMockEngineState()
	engine, _ := newTestEngine(t, state)
	oracle := freshOracle(200_000_000, 0)
	// First observation two hours old, the refetch is fresh.
	oracle.updates = []uint64{testTime - 7200, testTime}
	engine.SetOracle(oracle)
	alice := makeAddress(0x01)
	seedPosition(state, alice, 1000, 0, testTime)

	if err := engine.Borrow(alice, big.NewInt(100)); err != nil {
		t.Fatalf("borrow after refetch: %v", err)
	}
	if oracle.priceCalls != 2 {
		t.Fatalf("expected exactly one refetch, got %d fetches", oracle.priceCalls)
	}
	refreshed := false
	for _, ctx := range engine.RecentErrors(0) {
		if ctx.Code == "price_stale" && ctx.RecoverySucceeded {
			refreshed = true
		}
	}
	if !refreshed {
		t.Fatalf("stale refresh not recorded")
	}
}

func TestStalePriceFallsBackWhenStillStale(t *testing.T) {
	state := newMockEngineState()
	engine, _ := newTestEngine(t, state)
	oracle := freshOracle(200_000_000, 0)
	oracle.updates = []uint64{testTime - 7200, testTime - 7200}
	engine.SetOracle(oracle)
	alice := makeAddress(0x01)
	seedPosition(state, alice, 1000, 0, testTime)

	if err := engine.Borrow(alice, big.NewInt(100)); err != nil {
		t.Fatalf("borrow should use the fallback price: %v", err)
	}
	if oracle.priceCalls != 2 {
		t.Fatalf("refetch must be bounded to one attempt, got %d", oracle.priceCalls)
	}
}

func TestDeviationRejectedPriceFallsBack(t *testing.T) {
	state := newMockEngineState()
	engine, _ := newTestEngine(t, state)
	oracle := freshOracle(200_000_000, testTime)
	oracle.invalid = true
	engine.SetOracle(oracle)
	alice := makeAddress(0x01)
	seedPosition(state, alice, 1000, 0, testTime)

	if err := engine.Borrow(alice, big.NewInt(100)); err != nil {
		t.Fatalf("borrow should use the fallback price: %v", err)
	}
	found := false
	for _, ctx := range engine.RecentErrors(0) {
		if ctx.Code == "oracle_failure" && ctx.RecoveryAttempted {
			found = true
		}
	}
	if !found {
		t.Fatalf("deviation rejection not recorded")
	}
}

func TestErrorSinkReceivesContexts(t *testing.T) {
	state := newMockEngineState()
	engine, _ := newTestEngine(t, state)
	sink := &captureErrorSink{}
	engine.SetErrorSink(sink)
	alice := makeAddress(0x01)

	if err := engine.Deposit(alice, big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if len(sink.contexts) != 1 {
		t.Fatalf("expected one forwarded context, got %d", len(sink.contexts))
	}
	ctx := sink.contexts[0]
	if ctx.Code != "invalid_amount" || ctx.Class != string(ClassValidation) || ctx.Function != "deposit" {
		t.Fatalf("unexpected context: %+v", ctx)
	}
	if ctx.Principal != alice.String() || ctx.Timestamp != testTime {
		t.Fatalf("context not attributed: %+v", ctx)
	}
}
