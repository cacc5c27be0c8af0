package models

import (
	"time"

	"gorm.io/gorm"
)

// LendingEvent mirrors one committed engine event. ID is the engine's
// canonical digest, so a replayed event upserts into the same row no
// matter which connection delivered it. Sequence is the node's
// process-local stream counter and restarts when the node does, which
// is why it carries a plain index rather than a unique one.
type LendingEvent struct {
	ID           string    `gorm:"primaryKey;size:64"`
	Sequence     uint64    `gorm:"index"`
	Kind         string    `gorm:"size:48;index"`
	Principal    string    `gorm:"size:128;index"`
	Counterparty string    `gorm:"size:128"`
	Amount       string    `gorm:"size:96"`
	Seized       string    `gorm:"size:96"`
	BorrowFee    string    `gorm:"size:96"`
	SupplyFee    string    `gorm:"size:96"`
	OccurredAt   time.Time `gorm:"index"`
	IngestedAt   time.Time
}

// DailyActivity aggregates one principal's operations for one calendar
// day in the reporting timezone. Volumes are decimal wei strings;
// SeizedVolume is collateral taken from this principal by liquidators.
type DailyActivity struct {
	Day            string `gorm:"primaryKey;size:10"`
	Principal      string `gorm:"primaryKey;size:128"`
	Deposits       int
	Borrows        int
	Repays         int
	Withdrawals    int
	Liquidations   int
	Liquidated     int
	SupplyVolume   string `gorm:"size:96"`
	BorrowVolume   string `gorm:"size:96"`
	RepayVolume    string `gorm:"size:96"`
	WithdrawVolume string `gorm:"size:96"`
	SeizedVolume   string `gorm:"size:96"`
	UpdatedAt      time.Time
}

// RevenueSnapshot records the reserve ledger after each fee event.
// Totals are running decimal wei strings inclusive of the event, so the
// latest snapshot always answers "how much has ever been collected,
// distributed, and withdrawn".
type RevenueSnapshot struct {
	ID               uint      `gorm:"primaryKey"`
	EventID          string    `gorm:"uniqueIndex;size:64"`
	Kind             string    `gorm:"size:48"`
	Delta            string    `gorm:"size:96"`
	CollectedTotal   string    `gorm:"size:96"`
	DistributedTotal string    `gorm:"size:96"`
	WithdrawnTotal   string    `gorm:"size:96"`
	OccurredAt       time.Time `gorm:"index"`
	CreatedAt        time.Time
}

// StreamCursor stores the resume position for the websocket feed.
type StreamCursor struct {
	Name      string `gorm:"primaryKey;size:32"`
	Sequence  uint64
	UpdatedAt time.Time
}

// AutoMigrate performs all schema migrations for the indexer.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&LendingEvent{},
		&DailyActivity{},
		&RevenueSnapshot{},
		&StreamCursor{},
	)
}
