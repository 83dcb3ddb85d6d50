package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeRecord is one executed or attempted swap. Rows are never updated.
type TradeRecord struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	Asset     string          `gorm:"index;not null" json:"asset"`
	Action    string          `gorm:"not null" json:"action"` // "buy" or "sell"
	Delta     decimal.Decimal `gorm:"type:text" json:"delta"`
	GasPrice  decimal.Decimal `gorm:"type:text" json:"gas_price"` // wei
	TxRef     string          `json:"tx_ref"`
	Success   bool            `json:"success"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// TableName keeps the table name stable across struct renames.
func (TradeRecord) TableName() string { return "trades" }

// CSVHeader lists the exported columns in order.
func (TradeRecord) CSVHeader() []string {
	return []string{"id", "asset", "action", "delta", "gas_price", "tx_ref", "success", "created_at"}
}

// CSVRow renders the record in CSVHeader order.
func (r TradeRecord) CSVRow() []string {
	success := "0"
	if r.Success {
		success = "1"
	}
	return []string{
		uintString(r.ID),
		r.Asset,
		r.Action,
		r.Delta.String(),
		r.GasPrice.String(),
		r.TxRef,
		success,
		r.CreatedAt.UTC().Format(time.RFC3339),
	}
}
