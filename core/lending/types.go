package lending

import (
	"math/big"

	"vaultlend/crypto"
)

// Position tracks the lending account of a single principal. Amounts are
// big integers in the protocol's base units to keep the accounting exact.
type Position struct {
	// Address is the principal that owns the position.
	Address crypto.Address
	// Collateral is the amount currently pledged by the principal.
	Collateral *big.Int
	// Debt is the outstanding borrowed principal.
	Debt *big.Int
	// BorrowInterestAccrued is interest charged against debt but not yet
	// settled.
	BorrowInterestAccrued *big.Int
	// SupplyInterestAccrued is interest earned on collateral but not yet
	// settled.
	SupplyInterestAccrued *big.Int
	// LastAccrualTime is the unix time interest was last accrued. Zero
	// until the position is first touched.
	LastAccrualTime uint64
}

// NewPosition returns a zeroed position owned by addr.
func NewPosition(addr crypto.Address) *Position {
	return &Position{
		Address:               addr,
		Collateral:            big.NewInt(0),
		Debt:                  big.NewInt(0),
		BorrowInterestAccrued: big.NewInt(0),
		SupplyInterestAccrued: big.NewInt(0),
	}
}

// Clone returns a deep copy safe to mutate independently.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := &Position{
		Address:         p.Address,
		LastAccrualTime: p.LastAccrualTime,
	}
	clone.Collateral = cloneBigInt(p.Collateral)
	clone.Debt = cloneBigInt(p.Debt)
	clone.BorrowInterestAccrued = cloneBigInt(p.BorrowInterestAccrued)
	clone.SupplyInterestAccrued = cloneBigInt(p.SupplyInterestAccrued)
	return clone
}

func (p *Position) ensureDefaults() {
	if p == nil {
		return
	}
	if p.Collateral == nil {
		p.Collateral = big.NewInt(0)
	}
	if p.Debt == nil {
		p.Debt = big.NewInt(0)
	}
	if p.BorrowInterestAccrued == nil {
		p.BorrowInterestAccrued = big.NewInt(0)
	}
	if p.SupplyInterestAccrued == nil {
		p.SupplyInterestAccrued = big.NewInt(0)
	}
}

// InterestRateState caches the globally derived rate state shared by all
// positions. It is recomputed from the pre-mutation aggregates at the top
// of every mutating call, before any position math runs.
type InterestRateState struct {
	// CurrentBorrowRate is the annual borrow rate, fixed point scaled by
	// 1e8.
	CurrentBorrowRate *big.Int
	// CurrentSupplyRate is the annual supply rate after the reserve cut.
	CurrentSupplyRate *big.Int
	// UtilizationRate is total borrowed over total supplied, scaled by
	// 1e8.
	UtilizationRate *big.Int
	// TotalBorrowed aggregates outstanding debt across every position.
	TotalBorrowed *big.Int
	// TotalSupplied aggregates pledged collateral across every position.
	TotalSupplied *big.Int
	// LastAccrualTime is the unix time the cached rates were refreshed.
	LastAccrualTime uint64
}

// NewInterestRateState returns a zeroed rate state.
func NewInterestRateState() *InterestRateState {
	return &InterestRateState{
		CurrentBorrowRate: big.NewInt(0),
		CurrentSupplyRate: big.NewInt(0),
		UtilizationRate:   big.NewInt(0),
		TotalBorrowed:     big.NewInt(0),
		TotalSupplied:     big.NewInt(0),
	}
}

// Clone returns a deep copy safe to mutate independently.
func (s *InterestRateState) Clone() *InterestRateState {
	if s == nil {
		return nil
	}
	return &InterestRateState{
		CurrentBorrowRate: cloneBigInt(s.CurrentBorrowRate),
		CurrentSupplyRate: cloneBigInt(s.CurrentSupplyRate),
		UtilizationRate:   cloneBigInt(s.UtilizationRate),
		TotalBorrowed:     cloneBigInt(s.TotalBorrowed),
		TotalSupplied:     cloneBigInt(s.TotalSupplied),
		LastAccrualTime:   s.LastAccrualTime,
	}
}

func (s *InterestRateState) ensureDefaults() {
	if s == nil {
		return
	}
	if s.CurrentBorrowRate == nil {
		s.CurrentBorrowRate = big.NewInt(0)
	}
	if s.CurrentSupplyRate == nil {
		s.CurrentSupplyRate = big.NewInt(0)
	}
	if s.UtilizationRate == nil {
		s.UtilizationRate = big.NewInt(0)
	}
	if s.TotalBorrowed == nil {
		s.TotalBorrowed = big.NewInt(0)
	}
	if s.TotalSupplied == nil {
		s.TotalSupplied = big.NewInt(0)
	}
}

// ReserveData tracks protocol revenue. The accumulators only move through
// the reserve accountant so that current reserves never go negative and
// distributions never exceed what was collected.
type ReserveData struct {
	// TotalFeesCollected is the lifetime sum of fees booked into
	// reserves.
	TotalFeesCollected *big.Int
	// TotalFeesDistributed is the lifetime sum paid out to the treasury.
	TotalFeesDistributed *big.Int
	// CurrentReserves is the undistributed balance held by the protocol.
	CurrentReserves *big.Int
	// BorrowFeeTotal is the share of TotalFeesCollected sourced from
	// borrower interest.
	BorrowFeeTotal *big.Int
	// SupplyFeeTotal is the share of TotalFeesCollected withheld from
	// supplier interest.
	SupplyFeeTotal *big.Int
	// LastDistributionTime gates scheduled treasury distributions.
	LastDistributionTime uint64
}

// NewReserveData returns zeroed reserve accumulators.
func NewReserveData() *ReserveData {
	return &ReserveData{
		TotalFeesCollected:   big.NewInt(0),
		TotalFeesDistributed: big.NewInt(0),
		CurrentReserves:      big.NewInt(0),
		BorrowFeeTotal:       big.NewInt(0),
		SupplyFeeTotal:       big.NewInt(0),
	}
}

// Clone returns a deep copy safe to mutate independently.
func (r *ReserveData) Clone() *ReserveData {
	if r == nil {
		return nil
	}
	return &ReserveData{
		TotalFeesCollected:   cloneBigInt(r.TotalFeesCollected),
		TotalFeesDistributed: cloneBigInt(r.TotalFeesDistributed),
		CurrentReserves:      cloneBigInt(r.CurrentReserves),
		BorrowFeeTotal:       cloneBigInt(r.BorrowFeeTotal),
		SupplyFeeTotal:       cloneBigInt(r.SupplyFeeTotal),
		LastDistributionTime: r.LastDistributionTime,
	}
}

func (r *ReserveData) ensureDefaults() {
	if r == nil {
		return
	}
	if r.TotalFeesCollected == nil {
		r.TotalFeesCollected = big.NewInt(0)
	}
	if r.TotalFeesDistributed == nil {
		r.TotalFeesDistributed = big.NewInt(0)
	}
	if r.CurrentReserves == nil {
		r.CurrentReserves = big.NewInt(0)
	}
	if r.BorrowFeeTotal == nil {
		r.BorrowFeeTotal = big.NewInt(0)
	}
	if r.SupplyFeeTotal == nil {
		r.SupplyFeeTotal = big.NewInt(0)
	}
}

// ActivityCounters records per-principal operation totals for analytics
// and compliance review.
type ActivityCounters struct {
	// Address is the principal the counters belong to.
	Address crypto.Address
	// TotalDeposited, TotalWithdrawn, TotalBorrowed and TotalRepaid sum
	// the amounts moved by the principal's successful operations.
	TotalDeposited *big.Int
	TotalWithdrawn *big.Int
	TotalBorrowed  *big.Int
	TotalRepaid    *big.Int
	// LiquidationsPerformed counts liquidations the principal executed
	// as liquidator; LiquidationsReceived counts times the principal's
	// own position was liquidated.
	LiquidationsPerformed uint64
	LiquidationsReceived  uint64
	// ActivityCount tallies every successful operation.
	ActivityCount uint64
	// LastActivityTime is the unix time of the most recent successful
	// operation.
	LastActivityTime uint64
}

// NewActivityCounters returns zeroed counters for addr.
func NewActivityCounters(addr crypto.Address) *ActivityCounters {
	return &ActivityCounters{
		Address:        addr,
		TotalDeposited: big.NewInt(0),
		TotalWithdrawn: big.NewInt(0),
		TotalBorrowed:  big.NewInt(0),
		TotalRepaid:    big.NewInt(0),
	}
}

// Clone returns a deep copy safe to mutate independently.
func (a *ActivityCounters) Clone() *ActivityCounters {
	if a == nil {
		return nil
	}
	clone := *a
	clone.TotalDeposited = cloneBigInt(a.TotalDeposited)
	clone.TotalWithdrawn = cloneBigInt(a.TotalWithdrawn)
	clone.TotalBorrowed = cloneBigInt(a.TotalBorrowed)
	clone.TotalRepaid = cloneBigInt(a.TotalRepaid)
	return &clone
}

func (a *ActivityCounters) ensureDefaults() {
	if a == nil {
		return
	}
	if a.TotalDeposited == nil {
		a.TotalDeposited = big.NewInt(0)
	}
	if a.TotalWithdrawn == nil {
		a.TotalWithdrawn = big.NewInt(0)
	}
	if a.TotalBorrowed == nil {
		a.TotalBorrowed = big.NewInt(0)
	}
	if a.TotalRepaid == nil {
		a.TotalRepaid = big.NewInt(0)
	}
}

func (a *ActivityCounters) touch(now uint64) {
	a.ActivityCount++
	a.LastActivityTime = now
}

func (a *ActivityCounters) recordDeposit(amount *big.Int, now uint64) {
	a.ensureDefaults()
	a.TotalDeposited.Add(a.TotalDeposited, amount)
	a.touch(now)
}

func (a *ActivityCounters) recordWithdrawal(amount *big.Int, now uint64) {
	a.ensureDefaults()
	a.TotalWithdrawn.Add(a.TotalWithdrawn, amount)
	a.touch(now)
}

func (a *ActivityCounters) recordBorrow(amount *big.Int, now uint64) {
	a.ensureDefaults()
	a.TotalBorrowed.Add(a.TotalBorrowed, amount)
	a.touch(now)
}

func (a *ActivityCounters) recordRepayment(amount *big.Int, now uint64) {
	a.ensureDefaults()
	a.TotalRepaid.Add(a.TotalRepaid, amount)
	a.touch(now)
}

// PositionView is the read model returned to callers. The collateral
// ratio is the price-adjusted ratio expressed as a plain percent; a
// position with zero debt reports RatioUnbounded instead of a number.
type PositionView struct {
	Address               string   `json:"address"`
	Collateral            *big.Int `json:"collateral"`
	Debt                  *big.Int `json:"debt"`
	BorrowInterestAccrued *big.Int `json:"borrowInterestAccrued"`
	SupplyInterestAccrued *big.Int `json:"supplyInterestAccrued"`
	LastAccrualTime       uint64   `json:"lastAccrualTime"`
	CollateralRatio       *big.Int `json:"collateralRatio,omitempty"`
	RatioUnbounded        bool     `json:"ratioUnbounded"`
}

// RatesView reports the cached global rate state.
type RatesView struct {
	BorrowRate      *big.Int `json:"borrowRate"`
	SupplyRate      *big.Int `json:"supplyRate"`
	UtilizationRate *big.Int `json:"utilizationRate"`
	TotalBorrowed   *big.Int `json:"totalBorrowed"`
	TotalSupplied   *big.Int `json:"totalSupplied"`
	LastAccrualTime uint64   `json:"lastAccrualTime"`
}

// ReservesView reports the reserve accumulators together with the
// treasury routing parameters they drain into.
type ReservesView struct {
	TotalFeesCollected    *big.Int `json:"totalFeesCollected"`
	TotalFeesDistributed  *big.Int `json:"totalFeesDistributed"`
	CurrentReserves       *big.Int `json:"currentReserves"`
	BorrowFeeTotal        *big.Int `json:"borrowFeeTotal"`
	SupplyFeeTotal        *big.Int `json:"supplyFeeTotal"`
	LastDistributionTime  uint64   `json:"lastDistributionTime"`
	Treasury              string   `json:"treasury,omitempty"`
	DistributionFrequency uint64   `json:"distributionFrequency"`
}

// ActivityView reports a principal's operation totals.
type ActivityView struct {
	Address               string   `json:"address"`
	TotalDeposited        *big.Int `json:"totalDeposited"`
	TotalWithdrawn        *big.Int `json:"totalWithdrawn"`
	TotalBorrowed         *big.Int `json:"totalBorrowed"`
	TotalRepaid           *big.Int `json:"totalRepaid"`
	LiquidationsPerformed uint64   `json:"liquidationsPerformed"`
	LiquidationsReceived  uint64   `json:"liquidationsReceived"`
	ActivityCount         uint64   `json:"activityCount"`
	LastActivityTime      uint64   `json:"lastActivityTime"`
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
