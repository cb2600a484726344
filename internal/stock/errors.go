package stock

import (
	"errors"
	"fmt"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrInactiveProduct = errors.New("product is inactive")
	ErrInvalidQuantity = errors.New("quantity must be positive")
	ErrLockNotObtained = errors.New("could not obtain stock lock")
	ErrInvalidPolicy   = errors.New("invalid no-batch shortfall policy")
	ErrNoBatches       = errors.New("product has no batches")
	ErrBatchNotFound   = errors.New("batch not found")
	ErrBatchDepleted   = errors.New("batch is depleted")
)

// UnknownProductName is reported when a line item references a product that
// cannot be resolved.
const UnknownProductName = "Unknown Product"

// InsufficientStockError is the pre-condition failure of the availability check.
type InsufficientStockError struct {
	ProductID   uint   `json:"product_id"`
	ProductName string `json:"product_name"`
	Requested   int64  `json:"requested"`
	Available   int64  `json:"available"`
}

func (e *InsufficientStockError) Error() string {
	if e.ProductName == UnknownProductName {
		return fmt.Sprintf("insufficient stock: %s (id %d)", UnknownProductName, e.ProductID)
	}
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.ProductName, e.Requested, e.Available)
}

type ErrorKind string

const (
	KindMissingProduct ErrorKind = "missing_product"
	KindShortfall      ErrorKind = "shortfall"
	KindWriteFailure   ErrorKind = "write_failure"
)

// AllocationError is a soft failure collected by the engine. It never aborts
// the pass over the remaining line items.
type AllocationError struct {
	Kind        ErrorKind
	ProductID   uint
	ProductName string
	Short       int64
	Err         error
}

func (e *AllocationError) Error() string {
	switch e.Kind {
	case KindMissingProduct:
		return fmt.Sprintf("Missing product %d", e.ProductID)
	case KindShortfall:
		return fmt.Sprintf("Not enough stock deducted for %s (short %d)", e.ProductName, e.Short)
	default:
		name := e.ProductName
		if name == "" {
			name = fmt.Sprintf("product %d", e.ProductID)
		}
		return fmt.Sprintf("Stock update failed for %s: %v", name, e.Err)
	}
}

func (e *AllocationError) Unwrap() error {
	return e.Err
}
