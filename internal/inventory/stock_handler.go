package inventory

import (
	"time"

	"vetclinic-backend/internal/auth"
	"vetclinic-backend/internal/stock"

	"github.com/gofiber/fiber/v2"
)

type AvailabilityItem struct {
	ProductID *uint `json:"product_id"`
	Quantity  int64 `json:"quantity"`
}

type AvailabilityRequest struct {
	ClinicID *uint              `json:"clinic_id"`
	Items    []AvailabilityItem `json:"items"`
}

type AvailabilityResponse struct {
	Sufficient bool                          `json:"sufficient"`
	Shortage   *stock.InsufficientStockError `json:"shortage,omitempty"`
	Message    string                        `json:"message,omitempty"`
}

func parseDateQuery(c *fiber.Ctx, key string) (*time.Time, error) {
	v := c.Query(key)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, v)
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, key+" must be YYYY-MM-DD")
	}
	return &t, nil
}

func movementFilter(c *fiber.Ctx, defaultLimit int) (stock.MovementFilter, error) {
	clinicID, err := auth.ResolveClinicFromQueryOrRole(c)
	if err != nil {
		return stock.MovementFilter{}, err
	}

	f := stock.MovementFilter{
		ClinicID:      clinicID,
		ProductID:     uint(max(c.QueryInt("product_id", 0), 0)),
		ReferenceType: c.Query("reference_type"),
		ReferenceID:   uint(max(c.QueryInt("reference_id", 0), 0)),
		Limit:         c.QueryInt("limit", defaultLimit),
	}
	if f.From, err = parseDateQuery(c, "from"); err != nil {
		return stock.MovementFilter{}, err
	}
	if f.To, err = parseDateQuery(c, "to"); err != nil {
		return stock.MovementFilter{}, err
	}
	if f.To != nil {
		end := f.To.Add(24*time.Hour - time.Nanosecond)
		f.To = &end
	}
	return f, nil
}

// GET /api/stock/movements?product_id=&reference_type=&reference_id=&from=&to=&limit=
func ListMovementsHandler(svc *stock.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		f, err := movementFilter(c, 200)
		if err != nil {
			return err
		}
		movements, err := svc.Movements(c.UserContext(), f)
		if err != nil {
			return stockHTTPError(c, "list movements", err)
		}
		return c.JSON(movements)
	}
}

// GET /api/stock/consistency lists products whose total_stock drifted from
// the sum of their active batches.
func ConsistencyHandler(svc *stock.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		clinicID, err := auth.ResolveClinicFromQueryOrRole(c)
		if err != nil {
			return err
		}
		levels, err := svc.Consistency(c.UserContext(), clinicID)
		if err != nil {
			return stockHTTPError(c, "consistency", err)
		}
		return c.JSON(levels)
	}
}

// POST /api/stock/availability is advisory: it reads through the product
// cache and never blocks a later save. Products of other clinics are unknown.
func AvailabilityHandler(checker *stock.Checker) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body AvailabilityRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		clinicID, err := auth.ResolveClinicFromBodyOrRole(c, body.ClinicID)
		if err != nil {
			return err
		}

		lines := make([]stock.Line, 0, len(body.Items))
		for _, it := range body.Items {
			if it.ProductID == nil {
				continue
			}
			lines = append(lines, stock.Line{ProductID: *it.ProductID, Quantity: it.Quantity})
		}

		res, err := checker.ForClinic(clinicID).Check(c.UserContext(), lines)
		if err != nil {
			return stockHTTPError(c, "availability", err)
		}
		out := AvailabilityResponse{Sufficient: res.Sufficient(), Shortage: res.Shortage}
		if res.Shortage != nil {
			out.Message = res.Shortage.Error()
		}
		return c.JSON(out)
	}
}
