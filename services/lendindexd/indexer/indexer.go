package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"vaultlend/core/lending"
	"vaultlend/services/lendindexd/models"
)

const cursorName = "lending-events"

// Subscription is a live feed of committed engine events. The sdk's
// EventSubscription satisfies it.
type Subscription interface {
	Events() <-chan lending.Event
	Err() error
	Close() error
}

// Source opens the upstream feed, replaying retained events with
// sequence numbers above cursor before going live.
type Source interface {
	Subscribe(ctx context.Context, cursor uint64) (Subscription, error)
}

// Config captures the dependencies required to construct an Indexer.
type Config struct {
	DB     *gorm.DB
	Source Source
	TZ     *time.Location
	Logger *slog.Logger
	// ReplayFrom forces the first connection to resume from the given
	// sequence instead of the stored cursor. Below zero disables the
	// override.
	ReplayFrom int64
	// Backoff is the delay between reconnection attempts.
	Backoff time.Duration
}

// Indexer consumes the node's event stream and maintains the event log,
// per-principal daily activity, and the revenue snapshot ledger.
type Indexer struct {
	db         *gorm.DB
	source     Source
	tz         *time.Location
	logger     *slog.Logger
	replayFrom int64
	backoff    time.Duration
}

// New builds a configured indexer.
func New(cfg Config) (*Indexer, error) {
	if cfg.DB == nil {
		return nil, errors.New("indexer: db is required")
	}
	if cfg.Source == nil {
		return nil, errors.New("indexer: source is required")
	}
	tz := cfg.TZ
	if tz == nil {
		tz = time.UTC
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = 5 * time.Second
	}
	return &Indexer{
		db:         cfg.DB,
		source:     cfg.Source,
		tz:         tz,
		logger:     logger,
		replayFrom: cfg.ReplayFrom,
		backoff:    backoff,
	}, nil
}

// Run consumes the upstream feed until the context is cancelled,
// redialling with a fixed backoff whenever the stream drops. An apply
// failure tears the connection down so the event is retried from the
// stored cursor rather than skipped.
func (ix *Indexer) Run(ctx context.Context) error {
	for {
		cursor, err := ix.resumeCursor()
		if err != nil {
			return err
		}
		sub, err := ix.source.Subscribe(ctx, cursor)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			ix.logger.Warn("event stream dial failed", "cursor", cursor, "error", err)
			metrics().reconnects.Inc()
			if !sleepCtx(ctx, ix.backoff) {
				return ctx.Err()
			}
			continue
		}
		consumeErr := ix.consume(ctx, sub)
		sub.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if consumeErr != nil {
			ix.logger.Warn("event stream interrupted", "error", consumeErr)
		} else {
			ix.logger.Warn("event stream closed by node")
		}
		metrics().reconnects.Inc()
		if !sleepCtx(ctx, ix.backoff) {
			return ctx.Err()
		}
	}
}

func (ix *Indexer) consume(ctx context.Context, sub Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-sub.Events():
			if !ok {
				return sub.Err()
			}
			if err := ix.Apply(evt); err != nil {
				metrics().failures.Inc()
				return fmt.Errorf("apply event %s: %w", evt.ID, err)
			}
		}
	}
}

// Apply indexes a single event inside one transaction. Reapplying an
// already-indexed event only advances the cursor, so replays after a
// reconnect cannot double count activity or revenue.
func (ix *Indexer) Apply(evt lending.Event) error {
	if strings.TrimSpace(evt.ID) == "" {
		return errors.New("indexer: event id is empty")
	}
	occurred := time.Unix(int64(evt.Timestamp), 0).In(ix.tz)
	day := occurred.Format("2006-01-02")
	err := ix.db.Transaction(func(tx *gorm.DB) error {
		row := models.LendingEvent{
			ID:           evt.ID,
			Sequence:     evt.Sequence,
			Kind:         string(evt.Kind),
			Principal:    evt.Principal,
			Counterparty: evt.Counterparty,
			Amount:       amountString(evt.Amount),
			Seized:       amountString(evt.Seized),
			BorrowFee:    amountString(evt.BorrowFee),
			SupplyFee:    amountString(evt.SupplyFee),
			OccurredAt:   occurred,
			IngestedAt:   time.Now().In(ix.tz),
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoNothing: true,
		}).Create(&row)
		if res.Error != nil {
			return fmt.Errorf("store event: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return advanceCursor(tx, evt.Sequence)
		}
		if err := ix.rollupActivity(tx, day, evt); err != nil {
			return err
		}
		if err := ix.snapshotRevenue(tx, evt, occurred); err != nil {
			return err
		}
		return advanceCursor(tx, evt.Sequence)
	})
	if err != nil {
		return err
	}
	metrics().indexed.WithLabelValues(string(evt.Kind)).Inc()
	return nil
}

func (ix *Indexer) rollupActivity(tx *gorm.DB, day string, evt lending.Event) error {
	switch evt.Kind {
	case lending.EventDeposit:
		return bumpActivity(tx, day, evt.Principal, func(a *models.DailyActivity) {
			a.Deposits++
			a.SupplyVolume = addAmount(a.SupplyVolume, evt.Amount)
		})
	case lending.EventBorrow:
		return bumpActivity(tx, day, evt.Principal, func(a *models.DailyActivity) {
			a.Borrows++
			a.BorrowVolume = addAmount(a.BorrowVolume, evt.Amount)
		})
	case lending.EventRepay:
		return bumpActivity(tx, day, evt.Principal, func(a *models.DailyActivity) {
			a.Repays++
			a.RepayVolume = addAmount(a.RepayVolume, evt.Amount)
		})
	case lending.EventWithdraw:
		return bumpActivity(tx, day, evt.Principal, func(a *models.DailyActivity) {
			a.Withdrawals++
			a.WithdrawVolume = addAmount(a.WithdrawVolume, evt.Amount)
		})
	case lending.EventLiquidate:
		if err := bumpActivity(tx, day, evt.Principal, func(a *models.DailyActivity) {
			a.Liquidations++
		}); err != nil {
			return err
		}
		if evt.Counterparty == "" {
			return nil
		}
		return bumpActivity(tx, day, evt.Counterparty, func(a *models.DailyActivity) {
			a.Liquidated++
			a.SeizedVolume = addAmount(a.SeizedVolume, evt.Seized)
		})
	}
	// Fee and parameter events carry no per-principal activity.
	return nil
}

func (ix *Indexer) snapshotRevenue(tx *gorm.DB, evt lending.Event, occurred time.Time) error {
	delta := new(big.Int)
	switch evt.Kind {
	case lending.EventFeesCollected:
		if evt.BorrowFee != nil {
			delta.Add(delta, evt.BorrowFee)
		}
		if evt.SupplyFee != nil {
			delta.Add(delta, evt.SupplyFee)
		}
	case lending.EventFeesDistributed, lending.EventReservesWithdrawn:
		if evt.Amount != nil {
			delta.Set(evt.Amount)
		}
	default:
		return nil
	}

	collected := new(big.Int)
	distributed := new(big.Int)
	withdrawn := new(big.Int)
	var last models.RevenueSnapshot
	err := tx.Last(&last).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
	case err != nil:
		return fmt.Errorf("load revenue tail: %w", err)
	default:
		setAmount(collected, last.CollectedTotal)
		setAmount(distributed, last.DistributedTotal)
		setAmount(withdrawn, last.WithdrawnTotal)
	}

	switch evt.Kind {
	case lending.EventFeesCollected:
		collected.Add(collected, delta)
	case lending.EventFeesDistributed:
		distributed.Add(distributed, delta)
	case lending.EventReservesWithdrawn:
		withdrawn.Add(withdrawn, delta)
	}

	snap := models.RevenueSnapshot{
		EventID:          evt.ID,
		Kind:             string(evt.Kind),
		Delta:            delta.String(),
		CollectedTotal:   collected.String(),
		DistributedTotal: distributed.String(),
		WithdrawnTotal:   withdrawn.String(),
		OccurredAt:       occurred,
	}
	if err := tx.Create(&snap).Error; err != nil {
		return fmt.Errorf("store revenue snapshot: %w", err)
	}
	return nil
}

func (ix *Indexer) resumeCursor() (uint64, error) {
	if ix.replayFrom >= 0 {
		cursor := uint64(ix.replayFrom)
		// The override applies to the first connection only; later
		// redials resume from whatever the replay persisted.
		ix.replayFrom = -1
		return cursor, nil
	}
	var row models.StreamCursor
	err := ix.db.First(&row, "name = ?", cursorName).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("indexer: load cursor: %w", err)
	}
	return row.Sequence, nil
}

func advanceCursor(tx *gorm.DB, seq uint64) error {
	cur := models.StreamCursor{Name: cursorName, Sequence: seq, UpdatedAt: time.Now()}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"sequence", "updated_at"}),
	}).Create(&cur).Error
	if err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}
	return nil
}

func bumpActivity(tx *gorm.DB, day, principal string, update func(*models.DailyActivity)) error {
	if strings.TrimSpace(principal) == "" {
		return nil
	}
	var row models.DailyActivity
	err := tx.Where("day = ? AND principal = ?", day, principal).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		row = models.DailyActivity{Day: day, Principal: principal}
	} else if err != nil {
		return fmt.Errorf("load daily activity: %w", err)
	}
	update(&row)
	row.UpdatedAt = time.Now()
	if err := tx.Save(&row).Error; err != nil {
		return fmt.Errorf("store daily activity: %w", err)
	}
	return nil
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func addAmount(total string, delta *big.Int) string {
	sum := new(big.Int)
	setAmount(sum, total)
	if delta != nil {
		sum.Add(sum, delta)
	}
	return sum.String()
}

func setAmount(dst *big.Int, raw string) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return
	}
	if _, ok := dst.SetString(trimmed, 10); !ok {
		dst.SetInt64(0)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
