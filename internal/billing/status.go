package billing

import (
	"errors"

	"vetclinic-backend/internal/models"
)

var (
	ErrInvoiceNotFound   = errors.New("invoice not found")
	ErrInvalidTransition = errors.New("invoice status change not allowed")
	ErrInvalidStatus     = errors.New("unknown invoice status")
)

var transitions = map[models.InvoiceStatus][]models.InvoiceStatus{
	models.InvoiceDraft:   {models.InvoiceDraft, models.InvoiceSent, models.InvoicePaid, models.InvoiceCancelled},
	models.InvoiceSent:    {models.InvoiceSent, models.InvoicePaid, models.InvoiceOverdue, models.InvoiceCancelled},
	models.InvoiceOverdue: {models.InvoiceOverdue, models.InvoicePaid, models.InvoiceCancelled},
	models.InvoicePaid:    {models.InvoicePaid},
}

func ValidStatus(s models.InvoiceStatus) bool {
	switch s {
	case models.InvoiceDraft, models.InvoiceSent, models.InvoicePaid, models.InvoiceOverdue, models.InvoiceCancelled:
		return true
	}
	return false
}

// CanTransition reports whether an invoice in from may be saved as to.
// Saving with an unchanged status is allowed except for cancelled invoices.
func CanTransition(from, to models.InvoiceStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CanCreateAs lists the statuses a new invoice may start in.
func CanCreateAs(s models.InvoiceStatus) bool {
	return s == models.InvoiceDraft || s == models.InvoiceSent || s == models.InvoicePaid
}

// TriggersAllocation is the paid gate: stock moves only on the first save as paid.
func TriggersAllocation(old *models.Invoice, next models.InvoiceStatus) bool {
	if next != models.InvoicePaid {
		return false
	}
	if old == nil {
		return true
	}
	return old.Status != models.InvoicePaid && !old.StockAllocated
}
