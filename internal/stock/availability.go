package stock

import (
	"context"
	"errors"

	"vetclinic-backend/internal/models"
)

// Line is one (product, quantity) demand taken from an invoice item.
type Line struct {
	ProductID uint  `json:"product_id"`
	Quantity  int64 `json:"quantity"`
}

// AggregateLines drops lines that cannot take part in allocation (no product or
// a non-positive quantity) and sums the rest per product, keeping the order in
// which each product first appeared.
func AggregateLines(lines []Line) []Line {
	out := make([]Line, 0, len(lines))
	pos := make(map[uint]int, len(lines))
	for _, l := range lines {
		if l.ProductID == 0 || l.Quantity <= 0 {
			continue
		}
		if i, ok := pos[l.ProductID]; ok {
			out[i].Quantity += l.Quantity
			continue
		}
		pos[l.ProductID] = len(out)
		out = append(out, l)
	}
	return out
}

// Availability is the outcome of a check. Shortage is nil when every product
// can cover its demand.
type Availability struct {
	Shortage *InsufficientStockError
}

func (a Availability) Sufficient() bool {
	return a.Shortage == nil
}

// Err returns the shortage as an error, or nil.
func (a Availability) Err() error {
	if a.Shortage == nil {
		return nil
	}
	return a.Shortage
}

// Checker compares demand against the products' total_stock. It never writes
// and reserves nothing; callers that need the answer to hold must check under
// the product locks.
type Checker struct {
	lookup ProductLookup
}

func NewChecker(lookup ProductLookup) *Checker {
	return &Checker{lookup: lookup}
}

// ForClinic returns a checker that treats products of other clinics as unknown.
func (c *Checker) ForClinic(clinicID uint) *Checker {
	return NewChecker(ClinicScoped(c.lookup, clinicID))
}

// ClinicScoped hides products of other clinics behind ErrProductNotFound. A
// zero clinicID returns lookup unchanged.
func ClinicScoped(lookup ProductLookup, clinicID uint) ProductLookup {
	if clinicID == 0 {
		return lookup
	}
	return clinicLookup{lookup: lookup, clinicID: clinicID}
}

type clinicLookup struct {
	lookup   ProductLookup
	clinicID uint
}

func (l clinicLookup) FindProduct(ctx context.Context, id uint) (*models.Product, error) {
	p, err := l.lookup.FindProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.ClinicID != l.clinicID {
		return nil, ErrProductNotFound
	}
	return p, nil
}

// Check stops at the first product that cannot cover its demand. The returned
// error is reserved for lookup failures other than a missing product.
func (c *Checker) Check(ctx context.Context, lines []Line) (Availability, error) {
	for _, l := range AggregateLines(lines) {
		p, err := c.lookup.FindProduct(ctx, l.ProductID)
		if err != nil {
			if errors.Is(err, ErrProductNotFound) {
				return Availability{Shortage: &InsufficientStockError{
					ProductID:   l.ProductID,
					ProductName: UnknownProductName,
					Requested:   l.Quantity,
				}}, nil
			}
			return Availability{}, err
		}
		if p.TotalStock < l.Quantity {
			return Availability{Shortage: &InsufficientStockError{
				ProductID:   p.ID,
				ProductName: p.Name,
				Requested:   l.Quantity,
				Available:   p.TotalStock,
			}}, nil
		}
	}
	return Availability{}, nil
}
