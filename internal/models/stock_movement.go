package models

import "time"

type MovementType string

const (
	MovementSale           MovementType = "sale"
	MovementReceipt        MovementType = "receipt"
	MovementInitialStock   MovementType = "initial_stock"
	MovementReconciliation MovementType = "reconciliation"
	MovementWriteOff       MovementType = "write_off"
)

// StockMovement is an append-only audit row for one stock change.
// BatchID is nil when the product aggregate was adjusted directly.
type StockMovement struct {
	ID            uint         `gorm:"primaryKey" json:"id"`
	ProductID     uint         `gorm:"index;not null" json:"product_id"`
	BatchID       *uint        `gorm:"index" json:"batch_id"`
	MovementType  MovementType `gorm:"size:20;not null;index" json:"movement_type"`
	Quantity      int64        `gorm:"not null" json:"quantity"` // signed, negative for consumption
	ReferenceType string       `gorm:"size:30;index:idx_movements_reference,priority:1" json:"reference_type"`
	ReferenceID   uint         `gorm:"index:idx_movements_reference,priority:2" json:"reference_id"`
	MovementDate  time.Time    `gorm:"index;not null" json:"movement_date"`
	Actor         string       `gorm:"size:100" json:"actor"`
	PreviousStock int64        `json:"previous_stock"`
	NewStock      int64        `json:"new_stock"`
	Note          string       `gorm:"size:255" json:"note"`
	CreatedAt     time.Time    `json:"created_at"`
}
