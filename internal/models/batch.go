package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type BatchStatus string

const (
	BatchStatusActive   BatchStatus = "active"
	BatchStatusDepleted BatchStatus = "depleted"
)

// Batch is one received lot of a product. A depleted batch is never re-activated.
type Batch struct {
	ID               uint            `gorm:"primaryKey" json:"id"`
	ProductID        uint            `gorm:"index:idx_batches_product_expiry,priority:1;not null" json:"product_id"`
	Product          *Product        `json:"-"`
	BatchCode        string          `gorm:"size:50;not null" json:"batch_id"` // human label printed on the lot
	LotNumber        string          `gorm:"size:50" json:"lot_number"`
	ExpiryDate       time.Time       `gorm:"index:idx_batches_product_expiry,priority:2;not null" json:"expiry_date"`
	ReceivedDate     time.Time       `gorm:"not null" json:"received_date"`
	QuantityReceived int64           `gorm:"not null" json:"quantity_received"`
	QuantityOnHand   int64           `gorm:"not null;check:quantity_on_hand >= 0" json:"quantity_on_hand"`
	CostPerUnit      decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"cost_per_unit"`
	Status           BatchStatus     `gorm:"size:20;not null;index" json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Take consumes up to qty units from the batch and returns how many were taken.
// The batch flips to depleted when on-hand reaches zero.
func (b *Batch) Take(qty int64) int64 {
	if qty <= 0 || b.QuantityOnHand <= 0 {
		return 0
	}
	take := min(qty, b.QuantityOnHand)
	b.QuantityOnHand -= take
	if b.QuantityOnHand == 0 {
		b.Status = BatchStatusDepleted
	}
	return take
}
