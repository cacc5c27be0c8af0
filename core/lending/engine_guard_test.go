package lending

import (
	"errors"
	"math/big"
	"testing"

	"vaultlend/crypto"
)

type stubCompliance struct {
	unauthorized map[string]bool
	frozen       map[string]bool
	flagged      []string
	onFlag       func(principal crypto.Address, amount *big.Int, action string)
}

func newStubCompliance() *stubCompliance {
	return &stubCompliance{
		unauthorized: make(map[string]bool),
		frozen:       make(map[string]bool),
	}
}

func (c *stubCompliance) IsAuthorized(addr crypto.Address) bool {
	return !c.unauthorized[addr.String()]
}

func (c *stubCompliance) IsFrozen(addr crypto.Address) bool {
	return c.frozen[addr.String()]
}

func (c *stubCompliance) FlagIfLarge(addr crypto.Address, amount *big.Int, action string) {
	c.flagged = append(c.flagged, action)
	if c.onFlag != nil {
		c.onFlag(addr, amount, action)
	}
}

func TestReentrantCallRejected(t *testing.T) {
	state := newMockEngineState()
	engine, _ := newTestEngine(t, state)
	gate := newStubCompliance()
	engine.SetCompliance(gate)
	alice := makeAddress(0x01)

	var inner error
	gate.onFlag = func(principal crypto.Address, _ *big.Int, _ string) {
		inner = engine.Deposit(principal, big.NewInt(1))
	}

	// At the large-transaction threshold the gate fires mid-operation.
	if err := engine.Deposit(alice, big.NewInt(100_000_000)); err != nil {
		t.Fatalf("outer deposit: %v", err)
	}
	if !errors.Is(inner, ErrReentrancyDetected) {
		t.Fatalf("nested call must trip the latch, got %v", inner)
	}

	// The latch is released exactly once per call: a fresh call works.
	gate.onFlag = nil
	if err := engine.Deposit(alice, big.NewInt(5)); err != nil {
		t.Fatalf("follow-up deposit: %v", err)
	}
}

func TestGuardReleasedAfterFailedCall(t *testing.T) {
	state := newMockEngineState()
	engine, _ := newTestEngine(t, state)
	alice := makeAddress(0x01)

	if err := engine.Withdraw(alice, big.NewInt(10)); !errors.Is(err, ErrPositionNotFound) {
		t.Fatalf("expected failure, got %v", err)
	}
	if err := engine.Deposit(alice, big.NewInt(10)); err != nil {
		t.Fatalf("latch not released after failure: %v", err)
	}
}

func TestPauseSwitchesStopEverythingButRepay(t *testing.T) {
	state := newMockEngineState()
	params := DefaultParams()
	params.Admin = adminAddr
	params.Treasury = treasuryAddr
	params.Risk.Pauses = PauseFlags{Deposit: true, Borrow: true, Withdraw: true, Liquidate: true}
	engine := NewEngine(params)
	engine.SetState(state)
	engine.SetClock(func() uint64 { return testTime })
	engine.SetOracle(freshOracle(100_000_000, testTime))
	alice := makeAddress(0x01)
	bob := makeAddress(0x02)
	seedPosition(state, alice, 1000, 500, testTime)

	if err := engine.Deposit(alice, big.NewInt(10)); !errors.Is(err, ErrProtocolPaused) {
		t.Fatalf("deposit: got %v", err)
	}
	if err := engine.Borrow(alice, big.NewInt(10)); !errors.Is(err, ErrProtocolPaused) {
		t.Fatalf("borrow: got %v", err)
	}
	if err := engine.Withdraw(alice, big.NewInt(10)); !errors.Is(err, ErrProtocolPaused) {
		t.Fatalf("withdraw: got %v", err)
	}
	if err := engine.Liquidate(bob, alice, big.NewInt(10)); !errors.Is(err, ErrProtocolPaused) {
		t.Fatalf("liquidate: got %v", err)
	}
	if err := engine.Repay(alice, big.NewInt(100)); err != nil {
		t.Fatalf("repay must stay open while paused: %v", err)
	}
}

func TestComplianceGateScreensPrincipals(t *testing.T) {
	state := newMockEngineState()
	engine, _ := newTestEngine(t, state)
	gate := newStubCompliance()
	engine.SetCompliance(gate)
	alice := makeAddress(0x01)
	bob := makeAddress(0x02)

	gate.unauthorized[alice.String()] = true
	if err := engine.Deposit(alice, big.NewInt(10)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("unauthorized principal: got %v", err)
	}

	gate.frozen[bob.String()] = true
	if err := engine.Deposit(bob, big.NewInt(10)); !errors.Is(err, ErrComplianceViolation) {
		t.Fatalf("frozen principal: got %v", err)
	}
	if len(state.positions) != 0 {
		t.Fatalf("screened deposits must not persist")
	}
}

func TestFrozenLiquidationTargetRejected(t *testing.T) {
	state := newMockEngineState()
	engine, _ := newTestEngine(t, state)
	engine.SetOracle(freshOracle(100_000_000, testTime))
	gate := newStubCompliance()
	engine.SetCompliance(gate)
	alice := makeAddress(0x01)
	bob := makeAddress(0x02)
	seedPosition(state, alice, 100, 9000, testTime)

	gate.frozen[alice.String()] = true
	if err := engine.Liquidate(bob, alice, big.NewInt(100)); !errors.Is(err, ErrComplianceViolation) {
		t.Fatalf("frozen target: got %v", err)
	}
}

func TestLargeTransactionsFlagged(t *testing.T) {
	state := newMockEngineState()
	engine, _ := newTestEngine(t, state)
	gate := newStubCompliance()
	engine.SetCompliance(gate)
	alice := makeAddress(0x01)

	if err := engine.Deposit(alice, big.NewInt(99_999_999)); err != nil {
		t.Fatalf("deposit below threshold: %v", err)
	}
	if len(gate.flagged) != 0 {
		t.Fatalf("sub-threshold deposit flagged: %v", gate.flagged)
	}
	if err := engine.Deposit(alice, big.NewInt(100_000_000)); err != nil {
		t.Fatalf("deposit at threshold: %v", err)
	}
	if len(gate.flagged) != 1 || gate.flagged[0] != "deposit" {
		t.Fatalf("threshold deposit must flag: %v", gate.flagged)
	}
}
