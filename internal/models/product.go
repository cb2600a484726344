package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is a catalog entry. TotalStock is a denormalized aggregate of the
// product's active batches and is only written by the stock package.
type Product struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	ClinicID     uint            `gorm:"index;not null" json:"clinic_id"`
	Name         string          `gorm:"size:150;not null" json:"name"`
	Category     string          `gorm:"size:50;index" json:"category"` // medication, vaccine, food, supply...
	Unit         string          `gorm:"size:20;not null" json:"unit"`  // tablet, ml, box...
	SellingPrice decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"selling_price"`
	CostPrice    decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"cost_price"`
	ReorderPoint int64           `gorm:"not null;default:0" json:"reorder_point"`
	TotalStock   int64           `gorm:"not null;default:0;check:total_stock >= 0" json:"total_stock"`
	IsActive     bool            `gorm:"not null;default:true;index" json:"is_active"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func (p *Product) BelowReorderPoint() bool {
	return p.TotalStock <= p.ReorderPoint
}
