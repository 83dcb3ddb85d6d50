// Package ledger is the append-only record of signals, trades and profit estimates.
package ledger

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"dex-trade-bot-go/internal/metrics"
	"dex-trade-bot-go/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Kind names one record table.
type Kind string

const (
	KindTrades  Kind = "trades"
	KindSignals Kind = "signals"
	KindProfits Kind = "profits"
)

// Kinds lists every record kind in export order.
var Kinds = []Kind{KindTrades, KindSignals, KindProfits}

// Ledger is the only writer of the trading database. All access is serialized
// so the scheduler and operator requests can share it.
type Ledger struct {
	mu        sync.Mutex
	db        *gorm.DB
	logger    *zap.Logger
	exportDir string
	now       func() time.Time
}

// New wraps an opened, migrated database.
func New(db *gorm.DB, logger *zap.Logger, exportDir string) *Ledger {
	return &Ledger{
		db:        db,
		logger:    logger.Named("ledger"),
		exportDir: exportDir,
		now:       time.Now,
	}
}

// RecordTrade inserts one trade attempt. Errors are logged and returned; callers may ignore them.
func (l *Ledger) RecordTrade(rec models.TradeRecord) error {
	rec.ID = 0
	return l.insert(KindTrades, &rec)
}

// RecordSignal serializes a cycle result and inserts it.
func (l *Ledger) RecordSignal(mode string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		metrics.LedgerWriteErrorsTotal.WithLabelValues(string(KindSignals)).Inc()
		l.logger.Error("Failed to serialize signal", zap.String("mode", mode), zap.Error(err))
		return fmt.Errorf("serialize signal: %w", err)
	}
	return l.insert(KindSignals, &models.SignalRecord{Mode: mode, Result: string(data)})
}

// RecordProfit inserts one profit estimate.
func (l *Ledger) RecordProfit(asset string, estimated decimal.Decimal) error {
	return l.insert(KindProfits, &models.ProfitRecord{Asset: asset, EstimatedProfit: estimated})
}

func (l *Ledger) insert(kind Kind, rec any) error {
	l.mu.Lock()
	err := l.db.Create(rec).Error
	l.mu.Unlock()

	if err != nil {
		metrics.LedgerWriteErrorsTotal.WithLabelValues(string(kind)).Inc()
		l.logger.Error("Failed to write ledger record", zap.String("kind", string(kind)), zap.Error(err))
		return fmt.Errorf("record %s: %w", kind, err)
	}
	return nil
}

// Trades returns every trade record in insertion order.
func (l *Ledger) Trades() ([]models.TradeRecord, error) {
	var rows []models.TradeRecord
	if err := l.find(&rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Signals returns every signal record in insertion order.
func (l *Ledger) Signals() ([]models.SignalRecord, error) {
	var rows []models.SignalRecord
	if err := l.find(&rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Profits returns every profit record in insertion order.
func (l *Ledger) Profits() ([]models.ProfitRecord, error) {
	var rows []models.ProfitRecord
	if err := l.find(&rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (l *Ledger) find(dest any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.db.Order("id asc").Find(dest).Error; err != nil {
		return fmt.Errorf("read ledger: %w", err)
	}
	return nil
}
