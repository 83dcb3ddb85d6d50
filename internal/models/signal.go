package models

import (
	"strconv"
	"time"
)

// SignalRecord stores the serialized strategy result of one cycle.
type SignalRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Mode      string    `gorm:"not null" json:"mode"`
	Result    string    `gorm:"type:text" json:"result"` // JSON
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (SignalRecord) TableName() string { return "signals" }

func (SignalRecord) CSVHeader() []string {
	return []string{"id", "mode", "result", "created_at"}
}

func (r SignalRecord) CSVRow() []string {
	return []string{uintString(r.ID), r.Mode, r.Result, r.CreatedAt.UTC().Format(time.RFC3339)}
}

func uintString(v uint) string {
	return strconv.FormatUint(uint64(v), 10)
}
