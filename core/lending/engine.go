package lending

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"vaultlend/crypto"
)

var (
	errNilState  = errors.New("lending engine: state not configured")
	errNilOracle = errors.New("lending engine: oracle not configured")
)

// AdminGate authorizes parameter and treasury mutations. A nil gate
// falls back to comparing the caller against the configured admin
// address.
type AdminGate interface {
	RequireAdmin(caller crypto.Address) error
}

// OperationMetrics observes operation outcomes and refreshed state.
// Implementations must be safe for concurrent use and must not block.
type OperationMetrics interface {
	ObserveOperation(op string, err error)
	ObserveRates(view RatesView)
	ObserveReserves(view ReservesView)
}

// Engine executes the lending protocol transitions against injected
// collaborators. Construct with NewEngine, wire the persistence layer
// with SetState, then the oracle, compliance gate and sinks as needed.
// A single reentrancy latch serializes every mutating entry point; the
// hosting module layer additionally serializes top-level calls.
type Engine struct {
	state      engineState
	oracle     PriceOracle
	compliance ComplianceGate
	adminGate  AdminGate
	metrics    OperationMetrics
	params     Params
	guard      reentrancyGuard
	errlog     *errorLog
	events     *EventMux
	now        func() uint64
}

// NewEngine returns an engine seeded with the supplied parameters.
// SetState replaces them with the persisted set when the store carries
// one.
func NewEngine(params Params) *Engine {
	params.Normalize()
	return &Engine{
		params: params,
		errlog: newErrorLog(),
		events: NewEventMux(),
		now:    func() uint64 { return uint64(time.Now().Unix()) },
	}
}

// SetState wires the persistence layer and adopts previously persisted
// parameters when present.
func (e *Engine) SetState(state engineState) {
	if e == nil {
		return
	}
	e.state = state
	if state == nil {
		return
	}
	if stored, err := state.GetParams(); err == nil && stored != nil {
		params := stored.Clone()
		params.Normalize()
		e.params = params
	}
}

// SetOracle wires the price feed consumed by the dynamic ratio checks.
func (e *Engine) SetOracle(oracle PriceOracle) {
	if e == nil {
		return
	}
	e.oracle = oracle
}

// SetCompliance wires the gate screening principals before mutations.
func (e *Engine) SetCompliance(gate ComplianceGate) {
	if e == nil {
		return
	}
	e.compliance = gate
}

// SetAdminGate overrides the built-in admin address comparison.
func (e *Engine) SetAdminGate(gate AdminGate) {
	if e == nil {
		return
	}
	e.adminGate = gate
}

// SetMetrics wires the operation observer.
func (e *Engine) SetMetrics(metrics OperationMetrics) {
	if e == nil {
		return
	}
	e.metrics = metrics
}

// SetErrorSink forwards every recorded error context to a durable sink
// in addition to the in-memory ring.
func (e *Engine) SetErrorSink(sink ErrorSink) {
	if e == nil || e.errlog == nil {
		return
	}
	e.errlog.setSink(sink)
}

// SetClock overrides the time source. Intended for tests.
func (e *Engine) SetClock(now func() uint64) {
	if e == nil || now == nil {
		return
	}
	e.now = now
}

// Events exposes the mux so hosts can register event sinks.
func (e *Engine) Events() *EventMux {
	if e == nil {
		return nil
	}
	return e.events
}

func (e *Engine) timestamp() uint64 {
	if e.now != nil {
		return e.now()
	}
	return uint64(time.Now().Unix())
}

func principalLabel(addr crypto.Address) string {
	if addr.IsZero() {
		return ""
	}
	return addr.String()
}

func copyAmount(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

// recordFailure captures a failed top-level operation in the rolling
// error log.
func (e *Engine) recordFailure(function, principal string, opErr error, now uint64) {
	if e.errlog == nil || opErr == nil {
		return
	}
	e.errlog.record(ErrorContext{
		Principal: principal,
		Function:  function,
		Code:      Code(opErr),
		Class:     string(Class(opErr)),
		Detail:    opErr.Error(),
		Timestamp: now,
	})
}

// recordRecovery captures one recovery attempt for a transient fault.
func (e *Engine) recordRecovery(principal, function, detail string, now uint64, cause error, succeeded bool) {
	if e.errlog == nil {
		return
	}
	e.errlog.record(ErrorContext{
		Principal:         principal,
		Function:          function,
		Code:              Code(cause),
		Class:             string(Class(cause)),
		Detail:            detail,
		Timestamp:         now,
		RecoveryAttempted: true,
		RecoverySucceeded: succeeded,
	})
}

// finish records the outcome of one top-level call.
func (e *Engine) finish(op, principal string, now uint64, err error) {
	if err != nil {
		e.recordFailure(op, principal, err, now)
	}
	if e.metrics != nil {
		e.metrics.ObserveOperation(op, err)
	}
}

// validateOperation runs the shared entry checks for a principal
// operation: configured state, a usable address, a positive amount and
// the per-operation pause switch.
func (e *Engine) validateOperation(principal crypto.Address, amount *big.Int, paused bool) error {
	if e.state == nil {
		return errNilState
	}
	if principal.IsZero() {
		return ErrInvalidAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if paused {
		return ErrProtocolPaused
	}
	return nil
}

// requireAdmin authorizes parameter mutations. With no gate wired the
// caller must match the configured admin address.
func (e *Engine) requireAdmin(caller crypto.Address) error {
	if e.adminGate != nil {
		return e.adminGate.RequireAdmin(caller)
	}
	if caller.IsZero() || e.params.Admin.IsZero() || !caller.Equal(e.params.Admin) {
		return ErrNotAdmin
	}
	return nil
}

func (e *Engine) publish(evt Event) {
	if e.events == nil {
		return
	}
	e.events.Publish(evt)
}

func (e *Engine) ratesView(state *InterestRateState) RatesView {
	return RatesView{
		BorrowRate:      cloneBigInt(state.CurrentBorrowRate),
		SupplyRate:      cloneBigInt(state.CurrentSupplyRate),
		UtilizationRate: cloneBigInt(state.UtilizationRate),
		TotalBorrowed:   cloneBigInt(state.TotalBorrowed),
		TotalSupplied:   cloneBigInt(state.TotalSupplied),
		LastAccrualTime: state.LastAccrualTime,
	}
}

func (e *Engine) reservesView(reserves *ReserveData) ReservesView {
	view := ReservesView{
		TotalFeesCollected:    cloneBigInt(reserves.TotalFeesCollected),
		TotalFeesDistributed:  cloneBigInt(reserves.TotalFeesDistributed),
		CurrentReserves:       cloneBigInt(reserves.CurrentReserves),
		BorrowFeeTotal:        cloneBigInt(reserves.BorrowFeeTotal),
		SupplyFeeTotal:        cloneBigInt(reserves.SupplyFeeTotal),
		LastDistributionTime:  reserves.LastDistributionTime,
		DistributionFrequency: e.params.DistributionFrequency,
	}
	if !e.params.Treasury.IsZero() {
		view.Treasury = e.params.Treasury.String()
	}
	return view
}

func (e *Engine) observeRates(state *InterestRateState) {
	if e.metrics == nil {
		return
	}
	e.metrics.ObserveRates(e.ratesView(state))
}

func (e *Engine) observeReserves(reserves *ReserveData) {
	if e.metrics == nil {
		return
	}
	e.metrics.ObserveReserves(e.reservesView(reserves))
}

// callContext carries the records one guarded operation mutates.
// Nothing reaches the store until commit; the originals are kept so a
// partial commit can be rolled back.
type callContext struct {
	function         string
	principal        crypto.Address
	position         *Position
	positionExisted  bool
	originalPosition *Position
	rates            *InterestRateState
	originalRates    *InterestRateState
	// borrowAccrued and supplyAccrued are the interest amounts credited
	// to the position by this call, the base for the reserve split.
	borrowAccrued *big.Int
	supplyAccrued *big.Int
}

// loadCall performs the load-and-accrue step shared by every mutating
// operation: refresh the global rates from the pre-mutation totals,
// then accrue interest into the loaded position.
func (e *Engine) loadCall(function string, principal crypto.Address, now uint64) (*callContext, error) {
	position, existed, err := e.loadPosition(function, principal, now)
	if err != nil {
		return nil, err
	}
	var originalPosition *Position
	if existed {
		originalPosition = position.Clone()
	}
	rates, err := e.loadRateState(function, now)
	if err != nil {
		return nil, err
	}
	originalRates := rates.Clone()
	updateRates(rates, e.params.InterestRate, now)
	borrowAccrued, supplyAccrued := accrueInterest(position, rates, now)
	return &callContext{
		function:         function,
		principal:        principal,
		position:         position,
		positionExisted:  existed,
		originalPosition: originalPosition,
		rates:            rates,
		originalRates:    originalRates,
		borrowAccrued:    borrowAccrued,
		supplyAccrued:    supplyAccrued,
	}, nil
}

// commit persists the call's mutated records in order and books the
// reserve share of the interest accrued this call. A write failure
// after the first record rolls the store back to the pre-call records,
// so a partial commit never lands.
func (e *Engine) commit(ctx *callContext, now uint64) error {
	principal := ctx.principal.String()
	borrowFee, supplyFee, err := collectFeesFromInterest(ctx.borrowAccrued, ctx.supplyAccrued, e.params.InterestRate.ReserveFactor)
	if err != nil {
		return err
	}
	if err := e.persistRecord(principal, ctx.function, "position", now, func() error {
		return e.state.PutPosition(ctx.position)
	}); err != nil {
		return err
	}
	if err := e.persistRecord(principal, ctx.function, "rate state", now, func() error {
		return e.state.PutRateState(ctx.rates)
	}); err != nil {
		e.rollback(ctx, now)
		return err
	}
	if borrowFee.Sign() > 0 || supplyFee.Sign() > 0 {
		reserves, err := e.loadReserves(ctx.function, now)
		if err != nil {
			e.rollback(ctx, now)
			return err
		}
		reserves.credit(borrowFee, supplyFee)
		if err := e.persistRecord(principal, ctx.function, "reserves", now, func() error {
			return e.state.PutReserves(reserves)
		}); err != nil {
			e.rollback(ctx, now)
			return err
		}
		e.observeReserves(reserves)
		e.publish(Event{
			Kind:      EventFeesCollected,
			Principal: principal,
			BorrowFee: borrowFee,
			SupplyFee: supplyFee,
			Timestamp: now,
		})
	}
	e.observeRates(ctx.rates)
	return nil
}

// rollback restores the pre-call records after a failed commit write.
// Best effort: rollback failures are recorded and the original storage
// error still surfaces to the caller.
func (e *Engine) rollback(ctx *callContext, now uint64) {
	principal := ctx.principal.String()
	_ = e.persistRecord(principal, ctx.function, "position rollback", now, func() error {
		if !ctx.positionExisted {
			return e.state.RemovePosition(ctx.principal)
		}
		return e.state.PutPosition(ctx.originalPosition)
	})
	_ = e.persistRecord(principal, ctx.function, "rate state rollback", now, func() error {
		return e.state.PutRateState(ctx.originalRates)
	})
}

// trackActivity updates the principal's lifetime counters after a
// committed operation. Failures are recorded but never unwind the
// commit.
func (e *Engine) trackActivity(addr crypto.Address, now uint64, apply func(*ActivityCounters)) {
	counters, err := e.loadActivity("trackActivity", addr, now)
	if err != nil {
		return
	}
	apply(counters)
	_ = e.persistRecord(addr.String(), "trackActivity", "activity", now, func() error {
		return e.state.PutActivity(counters)
	})
}

// Deposit adds collateral to the principal's position and grows the
// supplied total.
func (e *Engine) Deposit(principal crypto.Address, amount *big.Int) error {
	now := e.timestamp()
	err := e.deposit(principal, amount, now)
	e.finish("deposit", principalLabel(principal), now, err)
	return err
}

func (e *Engine) deposit(principal crypto.Address, amount *big.Int, now uint64) error {
	if err := e.guard.enter(); err != nil {
		return err
	}
	defer e.guard.exit()
	if err := e.validateOperation(principal, amount, e.params.Risk.Pauses.Deposit); err != nil {
		return err
	}
	if err := e.checkCompliance(principal, amount, "deposit"); err != nil {
		return err
	}
	ctx, err := e.loadCall("deposit", principal, now)
	if err != nil {
		return err
	}
	ctx.position.Collateral.Add(ctx.position.Collateral, amount)
	ctx.rates.TotalSupplied.Add(ctx.rates.TotalSupplied, amount)
	if err := e.commit(ctx, now); err != nil {
		return err
	}
	e.trackActivity(principal, now, func(a *ActivityCounters) { a.recordDeposit(amount, now) })
	e.publish(Event{
		Kind:      EventDeposit,
		Principal: principal.String(),
		Amount:    copyAmount(amount),
		Timestamp: now,
	})
	return nil
}

// Borrow draws debt against the principal's collateral. The resulting
// position must clear the minimum price-adjusted collateral ratio.
func (e *Engine) Borrow(principal crypto.Address, amount *big.Int) error {
	now := e.timestamp()
	err := e.borrow(principal, amount, now)
	e.finish("borrow", principalLabel(principal), now, err)
	return err
}

func (e *Engine) borrow(principal crypto.Address, amount *big.Int, now uint64) error {
	if err := e.guard.enter(); err != nil {
		return err
	}
	defer e.guard.exit()
	if err := e.validateOperation(principal, amount, e.params.Risk.Pauses.Borrow); err != nil {
		return err
	}
	if e.oracle == nil {
		return errNilOracle
	}
	if err := e.checkCompliance(principal, amount, "borrow"); err != nil {
		return err
	}
	ctx, err := e.loadCall("borrow", principal, now)
	if err != nil {
		return err
	}
	price, err := e.resolvePrice(principal.String(), now)
	if err != nil {
		return err
	}
	ctx.position.Debt.Add(ctx.position.Debt, amount)
	if ratio, unbounded := dynamicRatio(ctx.position, price); !ratioAtLeast(ratio, unbounded, e.params.MinCollateralRatio) {
		return ErrInsufficientCollateralRatio
	}
	ctx.rates.TotalBorrowed.Add(ctx.rates.TotalBorrowed, amount)
	if err := e.commit(ctx, now); err != nil {
		return err
	}
	e.trackActivity(principal, now, func(a *ActivityCounters) { a.recordBorrow(amount, now) })
	e.publish(Event{
		Kind:      EventBorrow,
		Principal: principal.String(),
		Amount:    copyAmount(amount),
		Timestamp: now,
	})
	return nil
}

// Repay pays debt down. Overpayment clamps to the outstanding debt and
// only the actual reduction leaves the borrowed total. Repay has no
// pause switch: winding down risk stays possible in every protocol
// state.
func (e *Engine) Repay(principal crypto.Address, amount *big.Int) error {
	now := e.timestamp()
	err := e.repay(principal, amount, now)
	e.finish("repay", principalLabel(principal), now, err)
	return err
}

func (e *Engine) repay(principal crypto.Address, amount *big.Int, now uint64) error {
	if err := e.guard.enter(); err != nil {
		return err
	}
	defer e.guard.exit()
	if err := e.validateOperation(principal, amount, false); err != nil {
		return err
	}
	if err := e.checkCompliance(principal, amount, "repay"); err != nil {
		return err
	}
	ctx, err := e.loadCall("repay", principal, now)
	if err != nil {
		return err
	}
	if ctx.position.Debt.Sign() == 0 {
		return fmt.Errorf("%w: no outstanding debt", ErrInvalidInput)
	}
	reduction := new(big.Int).Set(minBigInt(ctx.position.Debt, amount))
	ctx.position.Debt.Sub(ctx.position.Debt, reduction)
	ctx.rates.TotalBorrowed.Sub(ctx.rates.TotalBorrowed, reduction)
	if err := e.commit(ctx, now); err != nil {
		return err
	}
	e.trackActivity(principal, now, func(a *ActivityCounters) { a.recordRepayment(reduction, now) })
	e.publish(Event{
		Kind:      EventRepay,
		Principal: principal.String(),
		Amount:    reduction,
		Timestamp: now,
	})
	return nil
}

// Withdraw removes collateral, guarded by the price-independent static
// ratio so a broken oracle can never trap deposits.
func (e *Engine) Withdraw(principal crypto.Address, amount *big.Int) error {
	now := e.timestamp()
	err := e.withdraw(principal, amount, now)
	e.finish("withdraw", principalLabel(principal), now, err)
	return err
}

func (e *Engine) withdraw(principal crypto.Address, amount *big.Int, now uint64) error {
	if err := e.guard.enter(); err != nil {
		return err
	}
	defer e.guard.exit()
	if err := e.validateOperation(principal, amount, e.params.Risk.Pauses.Withdraw); err != nil {
		return err
	}
	if err := e.checkCompliance(principal, amount, "withdraw"); err != nil {
		return err
	}
	ctx, err := e.loadCall("withdraw", principal, now)
	if err != nil {
		return err
	}
	if !ctx.positionExisted {
		return ErrPositionNotFound
	}
	if ctx.position.Collateral.Cmp(amount) < 0 {
		return ErrInsufficientCollateral
	}
	ctx.position.Collateral.Sub(ctx.position.Collateral, amount)
	if ratio, unbounded := staticRatio(ctx.position); !ratioAtLeast(ratio, unbounded, e.params.MinCollateralRatio) {
		return ErrInsufficientCollateralRatio
	}
	ctx.rates.TotalSupplied.Sub(ctx.rates.TotalSupplied, amount)
	if err := e.commit(ctx, now); err != nil {
		return err
	}
	e.trackActivity(principal, now, func(a *ActivityCounters) { a.recordWithdrawal(amount, now) })
	e.publish(Event{
		Kind:      EventWithdraw,
		Principal: principal.String(),
		Amount:    copyAmount(amount),
		Timestamp: now,
	})
	return nil
}

// Liquidate repays part of an undercollateralized target's debt and
// seizes a discounted share of its collateral for the liquidator.
func (e *Engine) Liquidate(liquidator, target crypto.Address, amount *big.Int) error {
	now := e.timestamp()
	err := e.liquidate(liquidator, target, amount, now)
	e.finish("liquidate", principalLabel(liquidator), now, err)
	return err
}

func (e *Engine) liquidate(liquidator, target crypto.Address, amount *big.Int, now uint64) error {
	if err := e.guard.enter(); err != nil {
		return err
	}
	defer e.guard.exit()
	if err := e.validateOperation(liquidator, amount, e.params.Risk.Pauses.Liquidate); err != nil {
		return err
	}
	if target.IsZero() {
		return ErrInvalidAddress
	}
	if liquidator.Equal(target) {
		return fmt.Errorf("%w: cannot liquidate own position", ErrInvalidInput)
	}
	if e.oracle == nil {
		return errNilOracle
	}
	if err := e.checkCompliance(liquidator, amount, "liquidate"); err != nil {
		return err
	}
	if e.compliance != nil && e.compliance.IsFrozen(target) {
		return ErrComplianceViolation
	}
	ctx, err := e.loadCall("liquidate", target, now)
	if err != nil {
		return err
	}
	if !ctx.positionExisted {
		return ErrPositionNotFound
	}
	price, err := e.resolvePrice(liquidator.String(), now)
	if err != nil {
		return err
	}
	if ratio, unbounded := dynamicRatio(ctx.position, price); ratioAtLeast(ratio, unbounded, e.params.MinCollateralRatio) {
		return ErrNotEligibleForLiquidation
	}
	repay, seize, err := liquidationAmounts(ctx.position, amount, e.params.Risk)
	if err != nil {
		return err
	}
	ctx.position.Debt.Sub(ctx.position.Debt, repay)
	ctx.position.Collateral.Sub(ctx.position.Collateral, seize)
	ctx.rates.TotalBorrowed.Sub(ctx.rates.TotalBorrowed, repay)
	ctx.rates.TotalSupplied.Sub(ctx.rates.TotalSupplied, seize)
	if err := e.commit(ctx, now); err != nil {
		return err
	}
	e.trackActivity(liquidator, now, func(a *ActivityCounters) {
		a.LiquidationsPerformed++
		a.touch(now)
	})
	e.trackActivity(target, now, func(a *ActivityCounters) {
		a.LiquidationsReceived++
		a.touch(now)
	})
	e.publish(Event{
		Kind:         EventLiquidate,
		Principal:    liquidator.String(),
		Counterparty: target.String(),
		Amount:       repay,
		Seized:       seize,
		Timestamp:    now,
	})
	return nil
}

// AccrueInterest refreshes the cached global rates without touching any
// position. Anyone may call it; keepers use it to keep the published
// curve outputs fresh during quiet periods.
func (e *Engine) AccrueInterest() error {
	now := e.timestamp()
	err := e.accrue(now)
	e.finish("accrueInterest", "", now, err)
	return err
}

func (e *Engine) accrue(now uint64) error {
	if err := e.guard.enter(); err != nil {
		return err
	}
	defer e.guard.exit()
	if e.state == nil {
		return errNilState
	}
	rates, err := e.loadRateState("accrueInterest", now)
	if err != nil {
		return err
	}
	updateRates(rates, e.params.InterestRate, now)
	if err := e.persistRecord("", "accrueInterest", "rate state", now, func() error {
		return e.state.PutRateState(rates)
	}); err != nil {
		return err
	}
	e.observeRates(rates)
	return nil
}

// GetPosition returns the stored position with the price-adjusted
// collateral ratio. Absent positions read as zeroed records.
func (e *Engine) GetPosition(principal crypto.Address) (PositionView, error) {
	if e == nil || e.state == nil {
		return PositionView{}, errNilState
	}
	if principal.IsZero() {
		return PositionView{}, ErrInvalidAddress
	}
	now := e.timestamp()
	position, _, err := e.loadPosition("getPosition", principal, now)
	if err != nil {
		return PositionView{}, err
	}
	view := PositionView{
		Address:               principal.String(),
		Collateral:            cloneBigInt(position.Collateral),
		Debt:                  cloneBigInt(position.Debt),
		BorrowInterestAccrued: cloneBigInt(position.BorrowInterestAccrued),
		SupplyInterestAccrued: cloneBigInt(position.SupplyInterestAccrued),
		LastAccrualTime:       position.LastAccrualTime,
	}
	if position.Debt.Sign() == 0 {
		view.RatioUnbounded = true
		return view, nil
	}
	if e.oracle == nil {
		return PositionView{}, errNilOracle
	}
	price, err := e.resolvePrice(principal.String(), now)
	if err != nil {
		return PositionView{}, err
	}
	ratio, unbounded := dynamicRatio(position, price)
	view.RatioUnbounded = unbounded
	if !unbounded {
		view.CollateralRatio = ratio
	}
	return view, nil
}

// CurrentRates recomputes the curve outputs at the current time without
// persisting the refresh.
func (e *Engine) CurrentRates() (RatesView, error) {
	if e == nil || e.state == nil {
		return RatesView{}, errNilState
	}
	now := e.timestamp()
	rates, err := e.loadRateState("currentRates", now)
	if err != nil {
		return RatesView{}, err
	}
	updateRates(rates, e.params.InterestRate, now)
	return e.ratesView(rates), nil
}

// AccruedInterest projects the interest owed and earned by the
// principal at the current time without persisting the accrual.
func (e *Engine) AccruedInterest(principal crypto.Address) (borrow, supply *big.Int, err error) {
	if e == nil || e.state == nil {
		return nil, nil, errNilState
	}
	if principal.IsZero() {
		return nil, nil, ErrInvalidAddress
	}
	now := e.timestamp()
	position, _, err := e.loadPosition("accruedInterest", principal, now)
	if err != nil {
		return nil, nil, err
	}
	rates, err := e.loadRateState("accruedInterest", now)
	if err != nil {
		return nil, nil, err
	}
	updateRates(rates, e.params.InterestRate, now)
	accrueInterest(position, rates, now)
	return cloneBigInt(position.BorrowInterestAccrued), cloneBigInt(position.SupplyInterestAccrued), nil
}

// ReserveSnapshot reports the reserve accumulators and the treasury
// routing they drain into.
func (e *Engine) ReserveSnapshot() (ReservesView, error) {
	if e == nil || e.state == nil {
		return ReservesView{}, errNilState
	}
	now := e.timestamp()
	reserves, err := e.loadReserves("reserveSnapshot", now)
	if err != nil {
		return ReservesView{}, err
	}
	return e.reservesView(reserves), nil
}

// Activity reports the principal's lifetime operation counters.
func (e *Engine) Activity(principal crypto.Address) (ActivityView, error) {
	if e == nil || e.state == nil {
		return ActivityView{}, errNilState
	}
	if principal.IsZero() {
		return ActivityView{}, ErrInvalidAddress
	}
	now := e.timestamp()
	counters, err := e.loadActivity("activity", principal, now)
	if err != nil {
		return ActivityView{}, err
	}
	return ActivityView{
		Address:               principal.String(),
		TotalDeposited:        cloneBigInt(counters.TotalDeposited),
		TotalWithdrawn:        cloneBigInt(counters.TotalWithdrawn),
		TotalBorrowed:         cloneBigInt(counters.TotalBorrowed),
		TotalRepaid:           cloneBigInt(counters.TotalRepaid),
		LiquidationsPerformed: counters.LiquidationsPerformed,
		LiquidationsReceived:  counters.LiquidationsReceived,
		ActivityCount:         counters.ActivityCount,
		LastActivityTime:      counters.LastActivityTime,
	}, nil
}

// ProtocolParams returns a copy of the active parameter set.
func (e *Engine) ProtocolParams() Params {
	if e == nil {
		return Params{}
	}
	return e.params.Clone()
}

// RecentErrors returns up to n recorded error contexts, newest first.
func (e *Engine) RecentErrors(n int) []ErrorContext {
	if e == nil || e.errlog == nil {
		return nil
	}
	return e.errlog.recent(n)
}

// ErrorStats aggregates the rolling error log.
func (e *Engine) ErrorStats() ErrorAnalytics {
	if e == nil || e.errlog == nil {
		return ErrorAnalytics{}
	}
	return e.errlog.analytics()
}

// adminMutation wraps a parameter change: guard, admin check, apply,
// validate the result as a whole, persist, announce.
func (e *Engine) adminMutation(function string, caller crypto.Address, now uint64, apply func(p *Params) error) error {
	if err := e.guard.enter(); err != nil {
		return err
	}
	defer e.guard.exit()
	if e.state == nil {
		return errNilState
	}
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	updated := e.params.Clone()
	if err := apply(&updated); err != nil {
		return err
	}
	updated.Normalize()
	if err := updated.Validate(); err != nil {
		return err
	}
	persisted := updated.Clone()
	if err := e.persistRecord(caller.String(), function, "params", now, func() error {
		return e.state.PutParams(&persisted)
	}); err != nil {
		return err
	}
	e.params = updated
	e.publish(Event{
		Kind:      EventParamsUpdated,
		Principal: caller.String(),
		Timestamp: now,
	})
	return nil
}

// SetInterestRateConfig replaces the rate curve and refreshes the
// cached rate state under the new curve.
func (e *Engine) SetInterestRateConfig(caller crypto.Address, cfg InterestRateConfig) error {
	now := e.timestamp()
	err := e.adminMutation("setInterestRateConfig", caller, now, func(p *Params) error {
		p.InterestRate = cfg
		return nil
	})
	if err == nil {
		// Cached rates refresh on the next operation regardless.
		_ = e.accrue(now)
	}
	e.finish("setInterestRateConfig", principalLabel(caller), now, err)
	return err
}

// EmergencyRateAdjustment overrides the base rate and multiplier in one
// step, for incident response. The floor and ceiling still apply the
// next time the curve is evaluated.
func (e *Engine) EmergencyRateAdjustment(caller crypto.Address, baseRate, multiplier int64) error {
	now := e.timestamp()
	err := e.adminMutation("emergencyRateAdjustment", caller, now, func(p *Params) error {
		p.InterestRate.BaseRate = baseRate
		p.InterestRate.Multiplier = multiplier
		return nil
	})
	if err == nil {
		_ = e.accrue(now)
	}
	e.finish("emergencyRateAdjustment", principalLabel(caller), now, err)
	return err
}

// SetRiskParams updates the liquidation close factor and incentive.
func (e *Engine) SetRiskParams(caller crypto.Address, closeFactor, liquidationIncentive int64) error {
	now := e.timestamp()
	err := e.adminMutation("setRiskParams", caller, now, func(p *Params) error {
		p.Risk.CloseFactor = closeFactor
		p.Risk.LiquidationIncentive = liquidationIncentive
		return nil
	})
	e.finish("setRiskParams", principalLabel(caller), now, err)
	return err
}

// SetPauses replaces the per-operation pause switches.
func (e *Engine) SetPauses(caller crypto.Address, flags PauseFlags) error {
	now := e.timestamp()
	err := e.adminMutation("setPauses", caller, now, func(p *Params) error {
		p.Risk.Pauses = flags
		return nil
	})
	e.finish("setPauses", principalLabel(caller), now, err)
	return err
}

// SetMinCollateralRatio updates the minimum collateral ratio, expressed
// as a plain percent.
func (e *Engine) SetMinCollateralRatio(caller crypto.Address, ratio int64) error {
	now := e.timestamp()
	err := e.adminMutation("setMinCollateralRatio", caller, now, func(p *Params) error {
		p.MinCollateralRatio = ratio
		return nil
	})
	e.finish("setMinCollateralRatio", principalLabel(caller), now, err)
	return err
}

// SetOracleConfig updates the price feed acceptance bounds.
func (e *Engine) SetOracleConfig(caller crypto.Address, cfg OracleConfig) error {
	now := e.timestamp()
	err := e.adminMutation("setOracleConfig", caller, now, func(p *Params) error {
		p.Oracle = cfg
		return nil
	})
	e.finish("setOracleConfig", principalLabel(caller), now, err)
	return err
}

// SetTreasury updates the distribution target address.
func (e *Engine) SetTreasury(caller crypto.Address, treasury crypto.Address) error {
	now := e.timestamp()
	err := e.adminMutation("setTreasury", caller, now, func(p *Params) error {
		if treasury.IsZero() {
			return ErrInvalidAddress
		}
		p.Treasury = treasury
		return nil
	})
	e.finish("setTreasury", principalLabel(caller), now, err)
	return err
}

// SetLargeTxThreshold updates the compliance review threshold. Zero
// disables flagging.
func (e *Engine) SetLargeTxThreshold(caller crypto.Address, threshold *big.Int) error {
	now := e.timestamp()
	err := e.adminMutation("setLargeTxThreshold", caller, now, func(p *Params) error {
		if threshold != nil && threshold.Sign() < 0 {
			return ErrInvalidAmount
		}
		p.LargeTxThreshold = cloneBigInt(threshold)
		return nil
	})
	e.finish("setLargeTxThreshold", principalLabel(caller), now, err)
	return err
}

// SetDistributionFrequency updates the minimum spacing between treasury
// distributions, in seconds. Zero disables the gate.
func (e *Engine) SetDistributionFrequency(caller crypto.Address, seconds uint64) error {
	now := e.timestamp()
	err := e.adminMutation("setDistributionFrequency", caller, now, func(p *Params) error {
		p.DistributionFrequency = seconds
		return nil
	})
	e.finish("setDistributionFrequency", principalLabel(caller), now, err)
	return err
}

// CollectProtocolFees books a manual reserve credit against the named
// interest source, for reconciling off-ledger collections.
func (e *Engine) CollectProtocolFees(caller crypto.Address, amount *big.Int, source string) error {
	now := e.timestamp()
	err := e.collectFees(caller, amount, source, now)
	e.finish("collectProtocolFees", principalLabel(caller), now, err)
	return err
}

func (e *Engine) collectFees(caller crypto.Address, amount *big.Int, source string, now uint64) error {
	if err := e.guard.enter(); err != nil {
		return err
	}
	defer e.guard.exit()
	if e.state == nil {
		return errNilState
	}
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	var borrowFee, supplyFee *big.Int
	switch source {
	case "borrow":
		borrowFee = amount
	case "supply":
		supplyFee = amount
	default:
		return fmt.Errorf("%w: unknown fee source %q", ErrInvalidInput, source)
	}
	reserves, err := e.loadReserves("collectProtocolFees", now)
	if err != nil {
		return err
	}
	reserves.credit(borrowFee, supplyFee)
	if err := e.persistRecord(caller.String(), "collectProtocolFees", "reserves", now, func() error {
		return e.state.PutReserves(reserves)
	}); err != nil {
		return err
	}
	e.observeReserves(reserves)
	e.publish(Event{
		Kind:      EventFeesCollected,
		Principal: caller.String(),
		BorrowFee: copyAmount(borrowFee),
		SupplyFee: copyAmount(supplyFee),
		Timestamp: now,
	})
	return nil
}

// DistributeFees moves reserves to the treasury, subject to the
// distribution frequency gate.
func (e *Engine) DistributeFees(caller crypto.Address, amount *big.Int) error {
	now := e.timestamp()
	err := e.distributeFees(caller, amount, now)
	e.finish("distributeFees", principalLabel(caller), now, err)
	return err
}

func (e *Engine) distributeFees(caller crypto.Address, amount *big.Int, now uint64) error {
	if err := e.guard.enter(); err != nil {
		return err
	}
	defer e.guard.exit()
	if e.state == nil {
		return errNilState
	}
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if e.params.Treasury.IsZero() {
		return fmt.Errorf("%w: treasury not configured", ErrConfigurationError)
	}
	reserves, err := e.loadReserves("distributeFees", now)
	if err != nil {
		return err
	}
	if freq := e.params.DistributionFrequency; freq > 0 && reserves.LastDistributionTime > 0 && now < reserves.LastDistributionTime+freq {
		return ErrDistributionTooSoon
	}
	if err := reserves.distribute(amount, now); err != nil {
		return err
	}
	if err := e.persistRecord(caller.String(), "distributeFees", "reserves", now, func() error {
		return e.state.PutReserves(reserves)
	}); err != nil {
		return err
	}
	e.observeReserves(reserves)
	e.publish(Event{
		Kind:         EventFeesDistributed,
		Principal:    caller.String(),
		Counterparty: e.params.Treasury.String(),
		Amount:       copyAmount(amount),
		Timestamp:    now,
	})
	return nil
}

// EmergencyWithdrawFees drains reserves outside the distribution
// schedule. The withdrawal reduces the balance without counting toward
// the distributed total, so reconciliation can tell the paths apart.
func (e *Engine) EmergencyWithdrawFees(caller crypto.Address, amount *big.Int) error {
	now := e.timestamp()
	err := e.emergencyWithdraw(caller, amount, now)
	e.finish("emergencyWithdrawFees", principalLabel(caller), now, err)
	return err
}

func (e *Engine) emergencyWithdraw(caller crypto.Address, amount *big.Int, now uint64) error {
	if err := e.guard.enter(); err != nil {
		return err
	}
	defer e.guard.exit()
	if e.state == nil {
		return errNilState
	}
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	reserves, err := e.loadReserves("emergencyWithdrawFees", now)
	if err != nil {
		return err
	}
	if reserves.CurrentReserves.Cmp(amount) < 0 {
		return fmt.Errorf("%w: withdrawal exceeds current reserves", ErrInsufficientCollateral)
	}
	reserves.CurrentReserves.Sub(reserves.CurrentReserves, amount)
	if err := e.persistRecord(caller.String(), "emergencyWithdrawFees", "reserves", now, func() error {
		return e.state.PutReserves(reserves)
	}); err != nil {
		return err
	}
	e.observeReserves(reserves)
	e.publish(Event{
		Kind:      EventReservesWithdrawn,
		Principal: caller.String(),
		Amount:    copyAmount(amount),
		Timestamp: now,
	})
	return nil
}
