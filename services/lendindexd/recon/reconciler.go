package recon

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
	"gorm.io/gorm"

	"vaultlend/core/lending"
	"vaultlend/services/lendindexd/models"
)

// Anomaly types emitted by the revenue reconciler.
const (
	// AnomalyNegativeDrift marks a day whose cumulative distributions and
	// withdrawals exceed everything ever collected.
	AnomalyNegativeDrift = "negative_drift"
	// AnomalySequenceGap marks missing stream sequence numbers inside the
	// window, meaning events were lost before indexing.
	AnomalySequenceGap = "sequence_gap"
)

// AlertFunc is invoked for every anomaly detected during reconciliation.
type AlertFunc func(ctx context.Context, anomaly Anomaly) error

// Config captures the dependencies required to construct a Reconciler.
type Config struct {
	DB        *gorm.DB
	TZ        *time.Location
	OutputDir string
	DryRun    bool
	Now       func() time.Time
	Alert     AlertFunc
	Logger    *slog.Logger
}

// RunOptions specifies overrides when executing a reconciliation window.
type RunOptions struct {
	Start  time.Time
	End    time.Time
	DryRun bool
}

// Reconciler materialises daily revenue reports joining the event log
// with the revenue snapshot ledger.
type Reconciler struct {
	db        *gorm.DB
	tz        *time.Location
	outputDir string
	dryRun    bool
	now       func() time.Time
	alert     AlertFunc
	logger    *slog.Logger
}

// Anomaly captures a ledger irregularity requiring operator review.
type Anomaly struct {
	Type    string
	Day     string
	EventID string
	Details string
}

// ReportRow summarises protocol activity and revenue for one calendar
// day in the reporting timezone. Amounts are wei.
type ReportRow struct {
	Day               string
	EventCount        int
	Deposits          int
	Borrows           int
	Repays            int
	Withdrawals       int
	Liquidations      int
	SupplyVolume      *big.Int
	BorrowVolume      *big.Int
	RepayVolume       *big.Int
	WithdrawVolume    *big.Int
	LiquidationRepaid *big.Int
	LiquidationSeized *big.Int
	FeesCollected     *big.Int
	FeesDistributed   *big.Int
	ReservesWithdrawn *big.Int
	// DriftEnd is cumulative collected minus distributed minus withdrawn
	// as of the end of the day, taken from the snapshot ledger.
	DriftEnd      *big.Int
	NegativeDrift bool
}

// ReportFile references the CSV and Parquet artefacts generated for a
// reconciliation window.
type ReportFile struct {
	CSVPath     string
	ParquetPath string
	Count       int
}

// Result summarises a reconciliation run.
type Result struct {
	Start     time.Time
	End       time.Time
	Rows      []*ReportRow
	Files     []ReportFile
	Anomalies []Anomaly
}

// NewReconciler builds a configured reconciler.
func NewReconciler(cfg Config) (*Reconciler, error) {
	if cfg.DB == nil {
		return nil, errors.New("recon: db is required")
	}
	if cfg.TZ == nil {
		cfg.TZ = time.UTC
	}
	outputDir := cfg.OutputDir
	if strings.TrimSpace(outputDir) == "" {
		outputDir = filepath.Join("lendindexd-data", "recon")
	}
	alert := cfg.Alert
	if alert == nil {
		alert = func(ctx context.Context, anomaly Anomaly) error {
			return nil
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().In(cfg.TZ) }
	}
	return &Reconciler{
		db:        cfg.DB,
		tz:        cfg.TZ,
		outputDir: outputDir,
		dryRun:    cfg.DryRun,
		now:       nowFn,
		alert:     alert,
		logger:    logger,
	}, nil
}

// Run executes reconciliation for the supplied window. A zero window
// defaults to the 24 hours ending now.
func (r *Reconciler) Run(ctx context.Context, opts RunOptions) (*Result, error) {
	end := opts.End
	if end.IsZero() {
		end = r.now()
	}
	start := opts.Start
	if start.IsZero() {
		start = end.Add(-24 * time.Hour)
	}
	start = start.In(r.tz)
	end = end.In(r.tz)
	if end.Before(start) {
		return nil, fmt.Errorf("recon: end before start")
	}
	dryRun := r.dryRun || opts.DryRun

	var events []models.LendingEvent
	if err := r.db.Where("occurred_at >= ? AND occurred_at < ?", start, end).
		Order("occurred_at ASC, sequence ASC").
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("recon: load events: %w", err)
	}

	anomalies := make([]Anomaly, 0)
	byDay := make(map[string]*ReportRow)
	var prevSeq uint64
	for _, evt := range events {
		day := evt.OccurredAt.In(r.tz).Format("2006-01-02")
		row := byDay[day]
		if row == nil {
			row = newReportRow(day)
			byDay[day] = row
		}
		row.EventCount++
		switch lending.EventKind(evt.Kind) {
		case lending.EventDeposit:
			row.Deposits++
			addAmount(row.SupplyVolume, evt.Amount)
		case lending.EventBorrow:
			row.Borrows++
			addAmount(row.BorrowVolume, evt.Amount)
		case lending.EventRepay:
			row.Repays++
			addAmount(row.RepayVolume, evt.Amount)
		case lending.EventWithdraw:
			row.Withdrawals++
			addAmount(row.WithdrawVolume, evt.Amount)
		case lending.EventLiquidate:
			row.Liquidations++
			addAmount(row.LiquidationRepaid, evt.Amount)
			addAmount(row.LiquidationSeized, evt.Seized)
		case lending.EventFeesCollected:
			addAmount(row.FeesCollected, evt.BorrowFee)
			addAmount(row.FeesCollected, evt.SupplyFee)
		case lending.EventFeesDistributed:
			addAmount(row.FeesDistributed, evt.Amount)
		case lending.EventReservesWithdrawn:
			addAmount(row.ReservesWithdrawn, evt.Amount)
		}

		// Sequence numbers restart with the node, so a drop only counts
		// as a gap while the numbering is still ascending.
		if prevSeq > 0 && evt.Sequence > prevSeq+1 {
			anomalies = append(anomalies, r.raise(ctx, Anomaly{
				Type:    AnomalySequenceGap,
				Day:     day,
				EventID: evt.ID,
				Details: fmt.Sprintf("stream jumped from sequence %d to %d, %d events unaccounted for", prevSeq, evt.Sequence, evt.Sequence-prevSeq-1),
			}))
		}
		prevSeq = evt.Sequence
	}

	rows := make([]*ReportRow, 0, len(byDay))
	for _, row := range byDay {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Day < rows[j].Day })

	for _, row := range rows {
		drift, err := r.driftAt(row.Day)
		if err != nil {
			return nil, err
		}
		row.DriftEnd = drift
		if drift.Sign() < 0 {
			row.NegativeDrift = true
			anomalies = append(anomalies, r.raise(ctx, Anomaly{
				Type:    AnomalyNegativeDrift,
				Day:     row.Day,
				Details: fmt.Sprintf("reserve ledger drift %s wei: distributions and withdrawals exceed collected fees", drift.String()),
			}))
		}
	}

	files := make([]ReportFile, 0)
	if !dryRun && len(rows) > 0 {
		runDir := filepath.Join(r.outputDir, fmt.Sprintf("%s_%s", start.Format("20060102"), end.Format("20060102")))
		if err := os.MkdirAll(runDir, 0o755); err != nil {
			return nil, fmt.Errorf("recon: ensure output dir: %w", err)
		}
		csvPath := filepath.Join(runDir, "revenue.csv")
		if err := writeCSV(csvPath, rows); err != nil {
			return nil, err
		}
		parquetPath := filepath.Join(runDir, "revenue.parquet")
		if err := writeParquet(parquetPath, rows); err != nil {
			return nil, err
		}
		r.logger.Info("revenue report written", "csv", csvPath, "parquet", parquetPath, "rows", len(rows))
		files = append(files, ReportFile{CSVPath: csvPath, ParquetPath: parquetPath, Count: len(rows)})
	}

	return &Result{Start: start, End: end, Rows: rows, Files: files, Anomalies: anomalies}, nil
}

// driftAt returns collected minus distributed minus withdrawn from the
// last snapshot at or before the end of day.
func (r *Reconciler) driftAt(day string) (*big.Int, error) {
	dayStart, err := time.ParseInLocation("2006-01-02", day, r.tz)
	if err != nil {
		return nil, fmt.Errorf("recon: parse day %q: %w", day, err)
	}
	dayEnd := dayStart.Add(24 * time.Hour)

	var snap models.RevenueSnapshot
	err = r.db.Where("occurred_at < ?", dayEnd).Order("id DESC").Take(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("recon: load revenue snapshot: %w", err)
	}

	drift := new(big.Int)
	setAmount(drift, snap.CollectedTotal)
	spent := new(big.Int)
	setAmount(spent, snap.DistributedTotal)
	drift.Sub(drift, spent)
	setAmount(spent, snap.WithdrawnTotal)
	drift.Sub(drift, spent)
	return drift, nil
}

func (r *Reconciler) raise(ctx context.Context, anomaly Anomaly) Anomaly {
	if r.alert != nil {
		if err := r.alert(ctx, anomaly); err != nil {
			r.logger.Warn("recon alert delivery failed", "type", anomaly.Type, "error", err)
		}
	}
	return anomaly
}

func newReportRow(day string) *ReportRow {
	return &ReportRow{
		Day:               day,
		SupplyVolume:      new(big.Int),
		BorrowVolume:      new(big.Int),
		RepayVolume:       new(big.Int),
		WithdrawVolume:    new(big.Int),
		LiquidationRepaid: new(big.Int),
		LiquidationSeized: new(big.Int),
		FeesCollected:     new(big.Int),
		FeesDistributed:   new(big.Int),
		ReservesWithdrawn: new(big.Int),
		DriftEnd:          new(big.Int),
	}
}

func writeCSV(path string, rows []*ReportRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("recon: create csv: %w", err)
	}
	defer file.Close()
	w := csv.NewWriter(file)
	header := []string{
		"day", "events", "deposits", "borrows", "repays", "withdrawals", "liquidations",
		"supply_volume_wei", "borrow_volume_wei", "repay_volume_wei", "withdraw_volume_wei",
		"liquidation_repaid_wei", "liquidation_seized_wei", "fees_collected_wei",
		"fees_distributed_wei", "reserves_withdrawn_wei", "drift_end_wei", "negative_drift",
	}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("recon: write csv header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			row.Day,
			fmt.Sprintf("%d", row.EventCount),
			fmt.Sprintf("%d", row.Deposits),
			fmt.Sprintf("%d", row.Borrows),
			fmt.Sprintf("%d", row.Repays),
			fmt.Sprintf("%d", row.Withdrawals),
			fmt.Sprintf("%d", row.Liquidations),
			weiString(row.SupplyVolume),
			weiString(row.BorrowVolume),
			weiString(row.RepayVolume),
			weiString(row.WithdrawVolume),
			weiString(row.LiquidationRepaid),
			weiString(row.LiquidationSeized),
			weiString(row.FeesCollected),
			weiString(row.FeesDistributed),
			weiString(row.ReservesWithdrawn),
			weiString(row.DriftEnd),
			boolString(row.NegativeDrift),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("recon: write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("recon: flush csv: %w", err)
	}
	return nil
}

type parquetRow struct {
	Day               string `parquet:"name=day, type=BYTE_ARRAY, convertedtype=UTF8"`
	EventCount        int32  `parquet:"name=events, type=INT32"`
	Deposits          int32  `parquet:"name=deposits, type=INT32"`
	Borrows           int32  `parquet:"name=borrows, type=INT32"`
	Repays            int32  `parquet:"name=repays, type=INT32"`
	Withdrawals       int32  `parquet:"name=withdrawals, type=INT32"`
	Liquidations      int32  `parquet:"name=liquidations, type=INT32"`
	SupplyVolume      string `parquet:"name=supply_volume_wei, type=BYTE_ARRAY, convertedtype=UTF8"`
	BorrowVolume      string `parquet:"name=borrow_volume_wei, type=BYTE_ARRAY, convertedtype=UTF8"`
	RepayVolume       string `parquet:"name=repay_volume_wei, type=BYTE_ARRAY, convertedtype=UTF8"`
	WithdrawVolume    string `parquet:"name=withdraw_volume_wei, type=BYTE_ARRAY, convertedtype=UTF8"`
	LiquidationRepaid string `parquet:"name=liquidation_repaid_wei, type=BYTE_ARRAY, convertedtype=UTF8"`
	LiquidationSeized string `parquet:"name=liquidation_seized_wei, type=BYTE_ARRAY, convertedtype=UTF8"`
	FeesCollected     string `parquet:"name=fees_collected_wei, type=BYTE_ARRAY, convertedtype=UTF8"`
	FeesDistributed   string `parquet:"name=fees_distributed_wei, type=BYTE_ARRAY, convertedtype=UTF8"`
	ReservesWithdrawn string `parquet:"name=reserves_withdrawn_wei, type=BYTE_ARRAY, convertedtype=UTF8"`
	DriftEnd          string `parquet:"name=drift_end_wei, type=BYTE_ARRAY, convertedtype=UTF8"`
	NegativeDrift     bool   `parquet:"name=negative_drift, type=BOOLEAN"`
}

func writeParquet(path string, rows []*ReportRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("recon: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("recon: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		pr := &parquetRow{
			Day:               row.Day,
			EventCount:        int32(row.EventCount),
			Deposits:          int32(row.Deposits),
			Borrows:           int32(row.Borrows),
			Repays:            int32(row.Repays),
			Withdrawals:       int32(row.Withdrawals),
			Liquidations:      int32(row.Liquidations),
			SupplyVolume:      weiString(row.SupplyVolume),
			BorrowVolume:      weiString(row.BorrowVolume),
			RepayVolume:       weiString(row.RepayVolume),
			WithdrawVolume:    weiString(row.WithdrawVolume),
			LiquidationRepaid: weiString(row.LiquidationRepaid),
			LiquidationSeized: weiString(row.LiquidationSeized),
			FeesCollected:     weiString(row.FeesCollected),
			FeesDistributed:   weiString(row.FeesDistributed),
			ReservesWithdrawn: weiString(row.ReservesWithdrawn),
			DriftEnd:          weiString(row.DriftEnd),
			NegativeDrift:     row.NegativeDrift,
		}
		if err := pw.Write(pr); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("recon: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("recon: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("recon: close parquet file: %w", err)
	}
	return nil
}

func addAmount(dst *big.Int, raw string) {
	if dst == nil {
		return
	}
	delta := new(big.Int)
	setAmount(delta, raw)
	dst.Add(dst, delta)
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

func weiString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func boolString(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
