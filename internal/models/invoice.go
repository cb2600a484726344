package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type InvoiceStatus string

const (
	InvoiceDraft     InvoiceStatus = "draft"
	InvoiceSent      InvoiceStatus = "sent"
	InvoicePaid      InvoiceStatus = "paid"
	InvoiceOverdue   InvoiceStatus = "overdue"
	InvoiceCancelled InvoiceStatus = "cancelled"
)

type Invoice struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	ClinicID   uint            `gorm:"index;not null" json:"clinic_id"`
	Number     string          `gorm:"size:30;index" json:"number"`
	ClientName string          `gorm:"size:150" json:"client_name"`
	PetName    string          `gorm:"size:100" json:"pet_name"`
	Status     InvoiceStatus   `gorm:"size:20;not null;index" json:"status"`
	IssueDate  time.Time       `gorm:"not null" json:"issue_date"`
	DueDate    *time.Time      `json:"due_date"`
	Notes      string          `gorm:"size:500" json:"notes"`
	Total      decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"total"`

	// Set once the paid transition has run the allocation engine.
	StockAllocated bool       `gorm:"not null;default:false" json:"stock_allocated"`
	PaidAt         *time.Time `json:"paid_at"`

	// Inventory could not be fully deducted and needs manual review.
	NeedsReconciliation bool   `gorm:"not null;default:false;index" json:"needs_reconciliation"`
	AllocationWarnings  string `gorm:"type:text" json:"allocation_warnings"`

	Items     []InvoiceItem `gorm:"foreignKey:InvoiceID;constraint:OnDelete:CASCADE" json:"items"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// InvoiceItem is a line on an invoice. Lines without a product (consultation
// fees, services) never touch stock.
type InvoiceItem struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	InvoiceID   uint            `gorm:"index;not null" json:"invoice_id"`
	ProductID   *uint           `gorm:"index" json:"product_id"`
	Description string          `gorm:"size:255" json:"description"`
	Quantity    int64           `gorm:"not null" json:"quantity"`
	UnitPrice   decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"unit_price"`
	Total       decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"total"`
}
