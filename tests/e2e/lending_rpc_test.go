package e2e

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"vaultlend/compliance"
	"vaultlend/core/lending"
	"vaultlend/crypto"
	"vaultlend/rpc"
	"vaultlend/sdk/lend"
	"vaultlend/state"
	"vaultlend/storage"
)

const (
	e2eToken = "e2e-rpc-token"
	e2eStart = uint64(1_750_000_000)
)

// mutableFeed is a price oracle the test drives directly. Server
// handlers read it from their own goroutines, so access is locked.
type mutableFeed struct {
	mu      sync.Mutex
	price   *big.Int
	updated uint64
}

func (f *mutableFeed) set(price *big.Int, updated uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price = new(big.Int).Set(price)
	f.updated = updated
}

func (f *mutableFeed) Price() (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.price), nil
}

func (f *mutableFeed) LastUpdate() (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updated, nil
}

func (f *mutableFeed) ValidatePrice(*big.Int) bool { return true }

func e2eAddress(suffix byte) crypto.Address {
	raw := make([]byte, crypto.AddressLength)
	raw[0] = 0xE2
	raw[len(raw)-1] = suffix
	return crypto.NewAddress(raw)
}

type lendingNode struct {
	engine   *lending.Engine
	registry *compliance.Registry
	feed     *mutableFeed
	clock    *atomic.Uint64
	url      string
}

// startLendingNode wires the engine, compliance registry and RPC server
// the way the daemon does, served from an in-process HTTP listener.
func startLendingNode(t *testing.T) *lendingNode {
	t.Helper()

	db := storage.NewMemDB()
	t.Cleanup(db.Close)

	params := lending.DefaultParams()
	params.Admin = e2eAddress(0xAD)
	params.Treasury = e2eAddress(0x77)

	clock := &atomic.Uint64{}
	clock.Store(e2eStart)

	engine := lending.NewEngine(params)
	engine.SetState(state.NewManager(db))
	engine.SetClock(clock.Load)

	feed := &mutableFeed{price: big.NewInt(lending.RateScale), updated: e2eStart}
	engine.SetOracle(feed)

	registry := compliance.NewRegistry(db)
	registry.SetClock(clock.Load)
	engine.SetCompliance(registry)

	server := rpc.NewServer(engine, registry)
	server.SetAuthToken(e2eToken)

	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)

	return &lendingNode{
		engine:   engine,
		registry: registry,
		feed:     feed,
		clock:    clock,
		url:      srv.URL,
	}
}

func newLendClient(t *testing.T, url string, opts ...lend.Option) *lend.Client {
	t.Helper()
	client, err := lend.New(url, opts...)
	if err != nil {
		t.Fatalf("new lend client: %v", err)
	}
	return client
}

// collectEvents drains n events from the subscription or fails.
func collectEvents(t *testing.T, sub *lend.EventSubscription, n int) []lending.Event {
	t.Helper()
	events := make([]lending.Event, 0, n)
	timeout := time.After(5 * time.Second)
	for len(events) < n {
		select {
		case evt, ok := <-sub.Events():
			if !ok {
				t.Fatalf("event stream closed after %d of %d events: %v", len(events), n, sub.Err())
			}
			events = append(events, evt)
		case <-timeout:
			t.Fatalf("timed out after %d of %d events", len(events), n)
		}
	}
	return events
}

// TestLendingLifecycleOverRPC drives a full position lifecycle through
// the node: verification, deposit, borrow, a price crash, liquidation,
// repayment and exit, all over the JSON-RPC and websocket surfaces.
func TestLendingLifecycleOverRPC(t *testing.T) {
	node := startLendingNode(t)
	client := newLendClient(t, node.url, lend.WithAuthToken(e2eToken))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	borrower := e2eAddress(0xB0).String()
	liquidator := e2eAddress(0x1C).String()

	sub, err := client.SubscribeEvents(ctx, 0)
	if err != nil {
		t.Fatalf("subscribe events: %v", err)
	}
	t.Cleanup(func() { _ = sub.Close() })

	for _, principal := range []string{borrower, liquidator} {
		record, err := client.SetKYCStatus(ctx, principal, "verified")
		if err != nil {
			t.Fatalf("verify %s: %v", principal, err)
		}
		if record.Status != "verified" {
			t.Fatalf("unexpected status after verification: %q", record.Status)
		}
	}

	if _, err := client.Deposit(ctx, borrower, big.NewInt(1_000_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := client.Borrow(ctx, borrower, big.NewInt(400_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	view, err := client.Position(ctx, borrower)
	if err != nil {
		t.Fatalf("position after borrow: %v", err)
	}
	if view.Collateral.String() != "1000000" || view.Debt.String() != "400000" {
		t.Fatalf("unexpected position after borrow: collateral=%s debt=%s", view.Collateral, view.Debt)
	}
	if view.RatioUnbounded || view.CollateralRatio == nil || view.CollateralRatio.String() != "250" {
		t.Fatalf("unexpected collateral ratio: %v (unbounded=%v)", view.CollateralRatio, view.RatioUnbounded)
	}

	// Halve the collateral price. Further borrowing is blocked and the
	// position becomes eligible for liquidation.
	node.feed.set(big.NewInt(lending.RateScale/2), e2eStart)

	_, err = client.Borrow(ctx, borrower, big.NewInt(1))
	var rpcErr *lend.Error
	if !errors.As(err, &rpcErr) || rpcErr.Data != "insufficient_collateral_ratio" {
		t.Fatalf("expected collateral ratio rejection, got %v", err)
	}

	// The close factor clamps the repay to half the debt; the seize adds
	// the ten percent incentive on top of the repaid amount.
	if _, err := client.Liquidate(ctx, liquidator, borrower, big.NewInt(300_000)); err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	view, err = client.Position(ctx, borrower)
	if err != nil {
		t.Fatalf("position after liquidation: %v", err)
	}
	if view.Debt.String() != "200000" || view.Collateral.String() != "780000" {
		t.Fatalf("unexpected position after liquidation: collateral=%s debt=%s", view.Collateral, view.Debt)
	}
	if view.RatioUnbounded || view.CollateralRatio == nil || view.CollateralRatio.String() != "195" {
		t.Fatalf("unexpected ratio after liquidation: %v", view.CollateralRatio)
	}

	// Overpayment clamps to the outstanding debt.
	if _, err := client.Repay(ctx, borrower, big.NewInt(250_000)); err != nil {
		t.Fatalf("repay: %v", err)
	}
	view, err = client.Position(ctx, borrower)
	if err != nil {
		t.Fatalf("position after repay: %v", err)
	}
	if view.Debt.Sign() != 0 || !view.RatioUnbounded {
		t.Fatalf("expected cleared debt, got debt=%s unbounded=%v", view.Debt, view.RatioUnbounded)
	}

	if _, err := client.Withdraw(ctx, borrower, big.NewInt(780_000)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	view, err = client.Position(ctx, borrower)
	if err != nil {
		t.Fatalf("position after withdraw: %v", err)
	}
	if view.Collateral.Sign() != 0 || view.Debt.Sign() != 0 {
		t.Fatalf("expected empty position, got collateral=%s debt=%s", view.Collateral, view.Debt)
	}

	activity, err := client.Activity(ctx, borrower)
	if err != nil {
		t.Fatalf("borrower activity: %v", err)
	}
	if activity.TotalDeposited.String() != "1000000" || activity.TotalBorrowed.String() != "400000" {
		t.Fatalf("unexpected totals: deposited=%s borrowed=%s", activity.TotalDeposited, activity.TotalBorrowed)
	}
	if activity.TotalRepaid.String() != "200000" || activity.TotalWithdrawn.String() != "780000" {
		t.Fatalf("unexpected totals: repaid=%s withdrawn=%s", activity.TotalRepaid, activity.TotalWithdrawn)
	}
	if activity.LiquidationsReceived != 1 {
		t.Fatalf("expected one liquidation received, got %d", activity.LiquidationsReceived)
	}
	liqActivity, err := client.Activity(ctx, liquidator)
	if err != nil {
		t.Fatalf("liquidator activity: %v", err)
	}
	if liqActivity.LiquidationsPerformed != 1 {
		t.Fatalf("expected one liquidation performed, got %d", liqActivity.LiquidationsPerformed)
	}

	// A frozen account loses access to every position mutation.
	record, err := client.Freeze(ctx, borrower)
	if err != nil || !record.Frozen {
		t.Fatalf("freeze borrower: record=%+v err=%v", record, err)
	}
	_, err = client.Deposit(ctx, borrower, big.NewInt(10))
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected rpc error for frozen account, got %v", err)
	}
	if rpcErr.HTTPStatus != http.StatusForbidden || rpcErr.Data != "compliance_violation" {
		t.Fatalf("unexpected frozen rejection: %+v", rpcErr)
	}

	// The five committed operations arrived on the stream in commit
	// order. The rejected borrow and the frozen deposit left no trace.
	events := collectEvents(t, sub, 5)
	wantKinds := []lending.EventKind{
		lending.EventDeposit,
		lending.EventBorrow,
		lending.EventLiquidate,
		lending.EventRepay,
		lending.EventWithdraw,
	}
	for i, evt := range events {
		if evt.Kind != wantKinds[i] {
			t.Fatalf("event %d: expected kind %s, got %s", i, wantKinds[i], evt.Kind)
		}
		if evt.ID == "" {
			t.Fatalf("event %d missing canonical id", i)
		}
		if i > 0 && events[i].Sequence <= events[i-1].Sequence {
			t.Fatalf("sequences not ascending: %d after %d", events[i].Sequence, events[i-1].Sequence)
		}
	}
	liquidation := events[2]
	if liquidation.Principal != liquidator || liquidation.Counterparty != borrower {
		t.Fatalf("unexpected liquidation parties: %+v", liquidation)
	}
	if liquidation.Amount.String() != "200000" || liquidation.Seized.String() != "220000" {
		t.Fatalf("unexpected liquidation amounts: repay=%s seized=%s", liquidation.Amount, liquidation.Seized)
	}
	if events[3].Amount.String() != "200000" {
		t.Fatalf("unexpected repay amount: %s", events[3].Amount)
	}
	if events[4].Amount.String() != "780000" {
		t.Fatalf("unexpected withdraw amount: %s", events[4].Amount)
	}
}

// TestLendingEventStreamReplaysBacklog verifies a late subscriber can
// replay retained events from a cursor instead of only seeing live
// traffic.
func TestLendingEventStreamReplaysBacklog(t *testing.T) {
	node := startLendingNode(t)
	client := newLendClient(t, node.url, lend.WithAuthToken(e2eToken))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	depositor := e2eAddress(0xD0).String()
	if _, err := client.SetKYCStatus(ctx, depositor, "verified"); err != nil {
		t.Fatalf("verify depositor: %v", err)
	}
	if _, err := client.Deposit(ctx, depositor, big.NewInt(111)); err != nil {
		t.Fatalf("first deposit: %v", err)
	}
	if _, err := client.Deposit(ctx, depositor, big.NewInt(222)); err != nil {
		t.Fatalf("second deposit: %v", err)
	}

	sub, err := client.SubscribeEvents(ctx, 0)
	if err != nil {
		t.Fatalf("subscribe from zero: %v", err)
	}
	events := collectEvents(t, sub, 2)
	_ = sub.Close()
	if events[0].Amount.String() != "111" || events[1].Amount.String() != "222" {
		t.Fatalf("unexpected replayed amounts: %s, %s", events[0].Amount, events[1].Amount)
	}

	// A cursor at the first sequence replays only what came after it.
	tail, err := client.SubscribeEvents(ctx, events[0].Sequence)
	if err != nil {
		t.Fatalf("subscribe from cursor: %v", err)
	}
	t.Cleanup(func() { _ = tail.Close() })
	rest := collectEvents(t, tail, 1)
	if rest[0].Sequence != events[1].Sequence || rest[0].Amount.String() != "222" {
		t.Fatalf("unexpected tail event: %+v", rest[0])
	}
}

// TestLendingRPCAuthBoundaries checks the three credential postures:
// reads need no token, mutations without a token fail client side, and
// a wrong token is rejected by the node.
func TestLendingRPCAuthBoundaries(t *testing.T) {
	node := startLendingNode(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	anonymous := newLendClient(t, node.url)
	if _, err := anonymous.Rates(ctx); err != nil {
		t.Fatalf("tokenless rates read: %v", err)
	}
	principal := e2eAddress(0x05).String()
	if _, err := anonymous.Deposit(ctx, principal, big.NewInt(1)); !errors.Is(err, lend.ErrNoAuthToken) {
		t.Fatalf("expected client-side token error, got %v", err)
	}

	impostor := newLendClient(t, node.url, lend.WithAuthToken("wrong-token"))
	_, err := impostor.Deposit(ctx, principal, big.NewInt(1))
	var rpcErr *lend.Error
	if !errors.As(err, &rpcErr) || rpcErr.HTTPStatus != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized rejection, got %v", err)
	}
}
