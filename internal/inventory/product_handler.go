package inventory

import (
	"errors"
	"strings"

	"vetclinic-backend/internal/audit"
	"vetclinic-backend/internal/auth"
	"vetclinic-backend/internal/database"
	"vetclinic-backend/internal/logger"
	"vetclinic-backend/internal/models"
	"vetclinic-backend/internal/stock"
	"vetclinic-backend/internal/validation"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type ProductResponse struct {
	models.Product
	LowStock bool `json:"low_stock"`
}

func toResponse(p models.Product) ProductResponse {
	return ProductResponse{Product: p, LowStock: p.IsActive && p.BelowReorderPoint()}
}

type CreateProductRequest struct {
	ClinicID     *uint           `json:"clinic_id"`
	Name         string          `json:"name" validate:"required,max=150"`
	Category     string          `json:"category" validate:"max=50"`
	Unit         string          `json:"unit" validate:"required,max=20"`
	SellingPrice decimal.Decimal `json:"selling_price"`
	CostPrice    decimal.Decimal `json:"cost_price"`
	ReorderPoint int64           `json:"reorder_point" validate:"gte=0"`
	InitialStock int64           `json:"initial_stock" validate:"gte=0"`
}

// UpdateProductRequest never carries stock: total_stock only moves through
// receipts, allocation and reconciliation.
type UpdateProductRequest struct {
	Name         *string          `json:"name" validate:"omitempty,max=150"`
	Category     *string          `json:"category" validate:"omitempty,max=50"`
	Unit         *string          `json:"unit" validate:"omitempty,max=20"`
	SellingPrice *decimal.Decimal `json:"selling_price"`
	CostPrice    *decimal.Decimal `json:"cost_price"`
	ReorderPoint *int64           `json:"reorder_point" validate:"omitempty,gte=0"`
	IsActive     *bool            `json:"is_active"`
}

func parseID(c *fiber.Ctx) (uint, error) {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "Invalid id")
	}
	return uint(id), nil
}

// loadProduct returns 404 for products of another clinic.
func loadProduct(c *fiber.Ctx) (*models.Product, error) {
	id, err := parseID(c)
	if err != nil {
		return nil, err
	}
	var p models.Product
	if err := database.DB.First(&p, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fiber.NewError(fiber.StatusNotFound, "Product not found")
		}
		return nil, fiber.NewError(fiber.StatusInternalServerError, "Product could not be loaded")
	}
	if !auth.CanAccessClinic(c, p.ClinicID) {
		return nil, fiber.NewError(fiber.StatusNotFound, "Product not found")
	}
	return &p, nil
}

// GET /api/products?category=vaccine&search=rabies&low_stock=true&include_inactive=true
func ListProductsHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		clinicID, err := auth.ResolveClinicFromQueryOrRole(c)
		if err != nil {
			return err
		}

		dbq := database.DB.Model(&models.Product{})
		if clinicID != 0 {
			dbq = dbq.Where("clinic_id = ?", clinicID)
		}
		if c.Query("include_inactive") != "true" {
			dbq = dbq.Where("is_active = ?", true)
		}
		if cat := strings.TrimSpace(c.Query("category")); cat != "" {
			dbq = dbq.Where("category = ?", cat)
		}
		if q := strings.TrimSpace(c.Query("search")); q != "" {
			dbq = dbq.Where("name ILIKE ?", "%"+q+"%")
		}
		if c.Query("low_stock") == "true" {
			dbq = dbq.Where("total_stock <= reorder_point")
		}

		var products []models.Product
		if err := dbq.Order("name ASC").Find(&products).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Products could not be listed")
		}

		res := make([]ProductResponse, 0, len(products))
		for _, p := range products {
			res = append(res, toResponse(p))
		}
		return c.JSON(res)
	}
}

// GET /api/products/low-stock
func LowStockHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		clinicID, err := auth.ResolveClinicFromQueryOrRole(c)
		if err != nil {
			return err
		}

		dbq := database.DB.Model(&models.Product{}).
			Where("is_active = ? AND total_stock <= reorder_point", true)
		if clinicID != 0 {
			dbq = dbq.Where("clinic_id = ?", clinicID)
		}

		var products []models.Product
		if err := dbq.Order("total_stock ASC, name ASC").Find(&products).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Products could not be listed")
		}
		res := make([]ProductResponse, 0, len(products))
		for _, p := range products {
			res = append(res, toResponse(p))
		}
		return c.JSON(res)
	}
}

// GET /api/products/categories
func ListCategoriesHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		clinicID, err := auth.ResolveClinicFromQueryOrRole(c)
		if err != nil {
			return err
		}
		dbq := database.DB.Model(&models.Product{}).Where("category <> ''")
		if clinicID != 0 {
			dbq = dbq.Where("clinic_id = ?", clinicID)
		}
		var categories []string
		if err := dbq.Distinct().Order("category ASC").Pluck("category", &categories).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Categories could not be listed")
		}
		return c.JSON(categories)
	}
}

// GET /api/products/:id
func GetProductHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := loadProduct(c)
		if err != nil {
			return err
		}
		return c.JSON(toResponse(*p))
	}
}

// POST /api/products
func CreateProductHandler(svc *stock.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body CreateProductRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		body.Name = strings.TrimSpace(body.Name)
		body.Unit = strings.TrimSpace(body.Unit)
		body.Category = strings.TrimSpace(strings.ToLower(body.Category))
		if err := validation.Struct(body); err != nil {
			return err
		}
		if body.SellingPrice.IsNegative() || body.CostPrice.IsNegative() {
			return fiber.NewError(fiber.StatusBadRequest, "Prices cannot be negative")
		}

		clinicID, err := auth.ResolveClinicFromBodyOrRole(c, body.ClinicID)
		if err != nil {
			return err
		}

		p := models.Product{
			ClinicID:     clinicID,
			Name:         body.Name,
			Category:     body.Category,
			Unit:         body.Unit,
			SellingPrice: body.SellingPrice,
			CostPrice:    body.CostPrice,
			ReorderPoint: body.ReorderPoint,
			IsActive:     true,
		}
		if err := svc.CreateProduct(c.UserContext(), &p, body.InitialStock, auth.Actor(c)); err != nil {
			logger.FromFiber(c).WithError(err).Error("create product failed")
			return fiber.NewError(fiber.StatusInternalServerError, "Product could not be created")
		}

		audit.Record(c, clinicID, audit.LogOptions{
			EntityType:  "product",
			EntityID:    p.ID,
			Action:      models.AuditActionCreate,
			Description: "product " + p.Name + " created",
			After:       p,
		})
		return c.Status(fiber.StatusCreated).JSON(toResponse(p))
	}
}

// PUT /api/products/:id
func UpdateProductHandler(idx stock.ProductIndex) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := loadProduct(c)
		if err != nil {
			return err
		}
		before := *p

		var body UpdateProductRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		if err := validation.Struct(body); err != nil {
			return err
		}

		updates := map[string]any{}
		if body.Name != nil {
			name := strings.TrimSpace(*body.Name)
			if name == "" {
				return fiber.NewError(fiber.StatusBadRequest, "name cannot be empty")
			}
			updates["name"] = name
		}
		if body.Unit != nil {
			unit := strings.TrimSpace(*body.Unit)
			if unit == "" {
				return fiber.NewError(fiber.StatusBadRequest, "unit cannot be empty")
			}
			updates["unit"] = unit
		}
		if body.Category != nil {
			updates["category"] = strings.TrimSpace(strings.ToLower(*body.Category))
		}
		if body.SellingPrice != nil {
			if body.SellingPrice.IsNegative() {
				return fiber.NewError(fiber.StatusBadRequest, "selling_price cannot be negative")
			}
			updates["selling_price"] = *body.SellingPrice
		}
		if body.CostPrice != nil {
			if body.CostPrice.IsNegative() {
				return fiber.NewError(fiber.StatusBadRequest, "cost_price cannot be negative")
			}
			updates["cost_price"] = *body.CostPrice
		}
		if body.ReorderPoint != nil {
			updates["reorder_point"] = *body.ReorderPoint
		}
		if body.IsActive != nil {
			updates["is_active"] = *body.IsActive
		}
		if len(updates) == 0 {
			return c.JSON(toResponse(*p))
		}

		// total_stock is deliberately left out so a concurrent sale is never overwritten
		if err := database.DB.WithContext(c.UserContext()).Model(p).Updates(updates).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Product could not be updated")
		}
		idx.Invalidate(p.ID)
		if err := database.DB.First(p, "id = ?", p.ID).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Product could not be reloaded")
		}

		audit.Record(c, p.ClinicID, audit.LogOptions{
			EntityType:  "product",
			EntityID:    p.ID,
			Action:      models.AuditActionUpdate,
			Description: "product " + p.Name + " updated",
			Before:      before,
			After:       p,
		})
		return c.JSON(toResponse(*p))
	}
}

// DELETE /api/products/:id deactivates; products are never removed because
// batches and movements keep pointing at them.
func DeactivateProductHandler(idx stock.ProductIndex) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := loadProduct(c)
		if err != nil {
			return err
		}
		if !p.IsActive {
			return c.SendStatus(fiber.StatusNoContent)
		}

		if err := database.DB.WithContext(c.UserContext()).Model(p).Update("is_active", false).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Product could not be deactivated")
		}
		idx.Invalidate(p.ID)

		audit.Record(c, p.ClinicID, audit.LogOptions{
			EntityType:  "product",
			EntityID:    p.ID,
			Action:      models.AuditActionDelete,
			Description: "product " + p.Name + " deactivated",
		})
		return c.SendStatus(fiber.StatusNoContent)
	}
}
