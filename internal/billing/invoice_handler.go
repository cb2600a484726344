package billing

import (
	"errors"
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

type InvoiceItemRequest struct {
	ProductID   *uint           `json:"product_id"`
	Description string          `json:"description" validate:"max=255"`
	Quantity    int64           `json:"quantity" validate:"gt=0"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

type SaveInvoiceRequest struct {
	ClinicID   *uint                `json:"clinic_id"`
	Number     string               `json:"number" validate:"max=30"`
	ClientName string               `json:"client_name" validate:"required,max=150"`
	PetName    string               `json:"pet_name" validate:"max=100"`
	Status     models.InvoiceStatus `json:"status" validate:"required,oneof=draft sent paid overdue cancelled"`
	IssueDate  string               `json:"issue_date"` // YYYY-MM-DD, today when empty
	DueDate    *string              `json:"due_date"`
	Notes      string               `json:"notes" validate:"max=500"`
	Items      []InvoiceItemRequest `json:"items" validate:"dive"`
}

// SaveInvoiceResponse separates a clean save from one whose stock needs review.
type SaveInvoiceResponse struct {
	Invoice             *models.Invoice `json:"invoice"`
	StockAllocated      bool            `json:"stock_allocated"`
	NeedsReconciliation bool            `json:"needs_reconciliation"`
	Warnings            []string        `json:"warnings"`
}

func (b SaveInvoiceRequest) toSave(id, clinicID uint, actor string) (SaveRequest, error) {
	issue := time.Now().UTC().Truncate(24 * time.Hour)
	if b.IssueDate != "" {
		d, err := time.Parse(dateLayout, b.IssueDate)
		if err != nil {
			return SaveRequest{}, fiber.NewError(fiber.StatusBadRequest, "issue_date must be YYYY-MM-DD")
		}
		issue = d
	}
	var due *time.Time
	if b.DueDate != nil && *b.DueDate != "" {
		d, err := time.Parse(dateLayout, *b.DueDate)
		if err != nil {
			return SaveRequest{}, fiber.NewError(fiber.StatusBadRequest, "due_date must be YYYY-MM-DD")
		}
		due = &d
	}

	items := make([]ItemInput, 0, len(b.Items))
	for _, it := range b.Items {
		if it.UnitPrice.IsNegative() {
			return SaveRequest{}, fiber.NewError(fiber.StatusBadRequest, "unit_price cannot be negative")
		}
		items = append(items, ItemInput{
			ProductID:   it.ProductID,
			Description: strings.TrimSpace(it.Description),
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
		})
	}

	return SaveRequest{
		ID:         id,
		ClinicID:   clinicID,
		Number:     strings.TrimSpace(b.Number),
		ClientName: strings.TrimSpace(b.ClientName),
		PetName:    strings.TrimSpace(b.PetName),
		Status:     b.Status,
		IssueDate:  issue,
		DueDate:    due,
		Notes:      b.Notes,
		Items:      items,
		Actor:      actor,
	}, nil
}

// toHTTPError maps workflow errors onto the three outcomes a caller can see:
// invoice rejected for stock, invoice rejected as a request, or save failed.
func toHTTPError(c *fiber.Ctx, err error) error {
	var insufficient *stock.InsufficientStockError
	switch {
	case errors.As(err, &insufficient):
		return fiber.NewError(fiber.StatusConflict, insufficient.Error())
	case errors.Is(err, ErrInvoiceNotFound):
		return fiber.NewError(fiber.StatusNotFound, "Invoice not found")
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrInvalidStatus):
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, stock.ErrLockNotObtained):
		return fiber.NewError(fiber.StatusServiceUnavailable, "Stock is busy, try again")
	}
	logger.FromFiber(c).WithError(err).Error("invoice save failed")
	return fiber.NewError(fiber.StatusInternalServerError, "Invoice could not be saved")
}

func respondSaved(c *fiber.Ctx, status int, res *SaveResult) error {
	warnings := res.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	return c.Status(status).JSON(SaveInvoiceResponse{
		Invoice:             res.Invoice,
		StockAllocated:      res.Invoice.StockAllocated,
		NeedsReconciliation: res.Invoice.NeedsReconciliation,
		Warnings:            warnings,
	})
}

func parseInvoiceID(c *fiber.Ctx) (uint, error) {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "Invalid invoice id")
	}
	return uint(id), nil
}

// scopedInvoice loads an invoice and hides invoices of other clinics behind a 404.
func scopedInvoice(c *fiber.Ctx, repo Repository, id uint) (*models.Invoice, error) {
	inv, err := repo.Get(c.UserContext(), id)
	if err != nil {
		if errors.Is(err, ErrInvoiceNotFound) {
			return nil, fiber.NewError(fiber.StatusNotFound, "Invoice not found")
		}
		logger.FromFiber(c).WithError(err).WithField("invoice_id", id).Error("load invoice failed")
		return nil, fiber.NewError(fiber.StatusInternalServerError, "Invoice could not be loaded")
	}
	if !auth.CanAccessClinic(c, inv.ClinicID) {
		return nil, fiber.NewError(fiber.StatusNotFound, "Invoice not found")
	}
	return inv, nil
}

// POST /api/invoices
func CreateInvoiceHandler(wf *Workflow) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body SaveInvoiceRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		if err := validation.Struct(body); err != nil {
			return err
		}
		clinicID, err := auth.ResolveClinicFromBodyOrRole(c, body.ClinicID)
		if err != nil {
			return err
		}

		req, err := body.toSave(0, clinicID, auth.Actor(c))
		if err != nil {
			return err
		}
		res, err := wf.Save(c.UserContext(), req)
		if err != nil {
			return toHTTPError(c, err)
		}

		audit.Record(c, clinicID, audit.LogOptions{
			EntityType:  "invoice",
			EntityID:    res.Invoice.ID,
			Action:      models.AuditActionCreate,
			Description: "invoice " + res.Invoice.Number + " created as " + string(res.Invoice.Status),
			After:       res.Invoice,
		})
		return respondSaved(c, fiber.StatusCreated, res)
	}
}

// PUT /api/invoices/:id
func UpdateInvoiceHandler(wf *Workflow, repo Repository) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := parseInvoiceID(c)
		if err != nil {
			return err
		}

		var body SaveInvoiceRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		if err := validation.Struct(body); err != nil {
			return err
		}

		before, err := scopedInvoice(c, repo, id)
		if err != nil {
			return err
		}

		req, err := body.toSave(id, before.ClinicID, auth.Actor(c))
		if err != nil {
			return err
		}
		res, err := wf.Save(c.UserContext(), req)
		if err != nil {
			return toHTTPError(c, err)
		}

		audit.Record(c, before.ClinicID, audit.LogOptions{
			EntityType:  "invoice",
			EntityID:    res.Invoice.ID,
			Action:      models.AuditActionUpdate,
			Description: "invoice " + res.Invoice.Number + ": " + string(before.Status) + " -> " + string(res.Invoice.Status),
			Before:      before,
			After:       res.Invoice,
		})
		return respondSaved(c, fiber.StatusOK, res)
	}
}

// GET /api/invoices?status=paid&needs_reconciliation=true
func ListInvoicesHandler(repo Repository) fiber.Handler {
	return func(c *fiber.Ctx) error {
		clinicID, err := auth.ResolveClinicFromQueryOrRole(c)
		if err != nil {
			return err
		}

		f := ListFilter{
			ClinicID: clinicID,
			Status:   models.InvoiceStatus(c.Query("status")),
			Limit:    c.QueryInt("limit", 100),
		}
		if f.Status != "" && !ValidStatus(f.Status) {
			return fiber.NewError(fiber.StatusBadRequest, "Unknown status filter")
		}
		if v := c.Query("needs_reconciliation"); v != "" {
			flag := v == "true" || v == "1"
			f.NeedsReconciliation = &flag
		}

		invoices, err := repo.List(c.UserContext(), f)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Invoices could not be listed")
		}
		return c.JSON(invoices)
	}
}

// GET /api/invoices/:id
func GetInvoiceHandler(repo Repository) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := parseInvoiceID(c)
		if err != nil {
			return err
		}
		inv, err := scopedInvoice(c, repo, id)
		if err != nil {
			return err
		}
		return c.JSON(inv)
	}
}

// POST /api/invoices/:id/reconciled
func MarkReconciledHandler(wf *Workflow, repo Repository) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := parseInvoiceID(c)
		if err != nil {
			return err
		}
		existing, err := scopedInvoice(c, repo, id)
		if err != nil {
			return err
		}

		inv, err := wf.MarkReconciled(c.UserContext(), id, existing.ClinicID)
		if err != nil {
			return toHTTPError(c, err)
		}

		audit.Record(c, inv.ClinicID, audit.LogOptions{
			EntityType:  "invoice",
			EntityID:    inv.ID,
			Action:      models.AuditActionReconcile,
			Description: "inventory review closed for invoice " + inv.Number,
			Before:      existing.AllocationWarnings,
		})
		return c.JSON(inv)
	}
}
