package inventory

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"vetclinic-backend/internal/audit"
	"vetclinic-backend/internal/auth"
	"vetclinic-backend/internal/logger"
	"vetclinic-backend/internal/models"
	"vetclinic-backend/internal/stock"
	"vetclinic-backend/internal/validation"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

type ReceiveBatchRequest struct {
	BatchCode    string          `json:"batch_id" validate:"required,max=50"`
	LotNumber    string          `json:"lot_number" validate:"max=50"`
	ExpiryDate   string          `json:"expiry_date" validate:"required"`
	ReceivedDate string          `json:"received_date"`
	Quantity     int64           `json:"quantity" validate:"gt=0"`
	CostPerUnit  decimal.Decimal `json:"cost_per_unit"`
}

type ReceiveBatchResponse struct {
	Batch    *models.Batch         `json:"batch"`
	Movement *models.StockMovement `json:"movement"`
}

type WriteOffRequest struct {
	Quantity int64  `json:"quantity" validate:"gt=0"`
	Reason   string `json:"reason" validate:"required,max=255"`
}

type ReconcileResponse struct {
	Level    *stock.StockLevel     `json:"level"`
	Movement *models.StockMovement `json:"movement"`
}

func (r ReceiveBatchRequest) toReceipt() (stock.Receipt, error) {
	expiry, err := time.Parse(dateLayout, r.ExpiryDate)
	if err != nil {
		return stock.Receipt{}, fiber.NewError(fiber.StatusBadRequest, "expiry_date must be YYYY-MM-DD")
	}
	var received time.Time
	if r.ReceivedDate != "" {
		received, err = time.Parse(dateLayout, r.ReceivedDate)
		if err != nil {
			return stock.Receipt{}, fiber.NewError(fiber.StatusBadRequest, "received_date must be YYYY-MM-DD")
		}
	}
	if r.CostPerUnit.IsNegative() {
		return stock.Receipt{}, fiber.NewError(fiber.StatusBadRequest, "cost_per_unit cannot be negative")
	}
	return stock.Receipt{
		BatchCode:    strings.TrimSpace(r.BatchCode),
		LotNumber:    strings.TrimSpace(r.LotNumber),
		ExpiryDate:   expiry,
		ReceivedDate: received,
		Quantity:     r.Quantity,
		CostPerUnit:  r.CostPerUnit,
	}, nil
}

// scopedProduct loads the product through the service and hides products of
// other clinics behind a 404.
func scopedProduct(c *fiber.Ctx, svc *stock.Service) (*models.Product, error) {
	id, err := parseID(c)
	if err != nil {
		return nil, err
	}
	p, err := svc.Product(c.UserContext(), id)
	if err != nil {
		if errors.Is(err, stock.ErrProductNotFound) {
			return nil, fiber.NewError(fiber.StatusNotFound, "Product not found")
		}
		return nil, fiber.NewError(fiber.StatusInternalServerError, "Product could not be loaded")
	}
	if !auth.CanAccessClinic(c, p.ClinicID) {
		return nil, fiber.NewError(fiber.StatusNotFound, "Product not found")
	}
	return p, nil
}

func stockHTTPError(c *fiber.Ctx, op string, err error) error {
	switch {
	case errors.Is(err, stock.ErrProductNotFound):
		return fiber.NewError(fiber.StatusNotFound, "Product not found")
	case errors.Is(err, stock.ErrInactiveProduct):
		return fiber.NewError(fiber.StatusUnprocessableEntity, "Product is inactive")
	case errors.Is(err, stock.ErrInvalidQuantity):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, stock.ErrBatchNotFound):
		return fiber.NewError(fiber.StatusNotFound, "Batch not found")
	case errors.Is(err, stock.ErrBatchDepleted):
		return fiber.NewError(fiber.StatusUnprocessableEntity, "Batch is already depleted")
	case errors.Is(err, stock.ErrNoBatches):
		return fiber.NewError(fiber.StatusUnprocessableEntity, "Product has no batches to reconcile against")
	}
	logger.FromFiber(c).WithError(err).WithField("op", op).Error("stock operation failed")
	return fiber.NewError(fiber.StatusInternalServerError, "Stock could not be updated")
}

// GET /api/products/:id/batches
func ListBatchesHandler(svc *stock.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := scopedProduct(c, svc)
		if err != nil {
			return err
		}
		batches, err := svc.Batches(c.UserContext(), p.ID)
		if err != nil {
			return stockHTTPError(c, "list batches", err)
		}
		return c.JSON(batches)
	}
}

// POST /api/products/:id/batches
func ReceiveBatchHandler(svc *stock.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := scopedProduct(c, svc)
		if err != nil {
			return err
		}

		var body ReceiveBatchRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		if err := validation.Struct(body); err != nil {
			return err
		}
		receipt, err := body.toReceipt()
		if err != nil {
			return err
		}

		batch, movement, err := svc.ReceiveBatch(c.UserContext(), p.ID, receipt, auth.Actor(c))
		if err != nil {
			return stockHTTPError(c, "receive batch", err)
		}

		audit.Record(c, p.ClinicID, audit.LogOptions{
			EntityType:  "batch",
			EntityID:    batch.ID,
			Action:      models.AuditActionReceive,
			Description: "batch " + batch.BatchCode + " received for " + p.Name,
			After:       batch,
		})
		return c.Status(fiber.StatusCreated).JSON(ReceiveBatchResponse{Batch: batch, Movement: movement})
	}
}

// POST /api/products/:id/reconcile
func ReconcileProductHandler(svc *stock.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := scopedProduct(c, svc)
		if err != nil {
			return err
		}

		level, movement, err := svc.Reconcile(c.UserContext(), p.ID, auth.Actor(c))
		if err != nil {
			return stockHTTPError(c, "reconcile", err)
		}

		if movement != nil {
			audit.Record(c, p.ClinicID, audit.LogOptions{
				EntityType:  "product",
				EntityID:    p.ID,
				Action:      models.AuditActionReconcile,
				Description: "total stock of " + p.Name + " realigned with its batches",
				Before:      movement.PreviousStock,
				After:       movement.NewStock,
			})
		}
		return c.JSON(ReconcileResponse{Level: level, Movement: movement})
	}
}

// POST /api/products/:id/batches/:batchId/write-off
func WriteOffBatchHandler(svc *stock.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := scopedProduct(c, svc)
		if err != nil {
			return err
		}
		batchID, err := c.ParamsInt("batchId")
		if err != nil || batchID <= 0 {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid batch id")
		}

		var body WriteOffRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		body.Reason = strings.TrimSpace(body.Reason)
		if err := validation.Struct(body); err != nil {
			return err
		}

		batch, movement, err := svc.WriteOff(c.UserContext(), p.ID, uint(batchID), body.Quantity, body.Reason, auth.Actor(c))
		if err != nil {
			return stockHTTPError(c, "write off", err)
		}

		audit.Record(c, p.ClinicID, audit.LogOptions{
			EntityType:  "batch",
			EntityID:    batch.ID,
			Action:      models.AuditActionWriteOff,
			Description: fmt.Sprintf("%d %s of %s written off from batch %s: %s", body.Quantity, p.Unit, p.Name, batch.BatchCode, body.Reason),
			After:       batch,
		})
		return c.JSON(ReceiveBatchResponse{Batch: batch, Movement: movement})
	}
}
