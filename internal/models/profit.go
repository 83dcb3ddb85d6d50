package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProfitRecord is the strategy's profit estimate for an executed trade.
type ProfitRecord struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	Asset           string          `gorm:"index;not null" json:"asset"`
	EstimatedProfit decimal.Decimal `gorm:"type:text" json:"estimated_profit"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (ProfitRecord) TableName() string { return "profits" }

func (ProfitRecord) CSVHeader() []string {
	return []string{"id", "asset", "estimated_profit", "created_at"}
}

func (r ProfitRecord) CSVRow() []string {
	return []string{uintString(r.ID), r.Asset, r.EstimatedProfit.String(), r.CreatedAt.UTC().Format(time.RFC3339)}
}
