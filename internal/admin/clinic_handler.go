package admin

import (
	"errors"
	"strings"

	"vetclinic-backend/internal/audit"
	"vetclinic-backend/internal/auth"
	"vetclinic-backend/internal/database"
	"vetclinic-backend/internal/models"
	"vetclinic-backend/internal/validation"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

const timeLayout = "2006-01-02 15:04:05"

type ClinicResponse struct {
	ID        uint   `json:"id"`
	Name      string `json:"name"`
	Address   string `json:"address"`
	Phone     string `json:"phone"`
	CreatedAt string `json:"created_at"`
}

type CreateClinicRequest struct {
	Name    string `json:"name" validate:"required,max=100"`
	Address string `json:"address" validate:"max=255"`
	Phone   string `json:"phone" validate:"max=50"`
}

type UpdateClinicRequest struct {
	Name    *string `json:"name" validate:"omitempty,max=100"`
	Address *string `json:"address" validate:"omitempty,max=255"`
	Phone   *string `json:"phone" validate:"omitempty,max=50"`
}

type CreateClinicUserRequest struct {
	Name     string          `json:"name" validate:"required,max=100"`
	Email    string          `json:"email" validate:"required,email"`
	Password string          `json:"password" validate:"required,min=8"`
	Role     models.UserRole `json:"role" validate:"required,oneof=clinic_admin clinic_staff"`
}

type ClinicUserResponse struct {
	ID        uint            `json:"id"`
	Name      string          `json:"name"`
	Email     string          `json:"email"`
	Role      models.UserRole `json:"role"`
	ClinicID  *uint           `json:"clinic_id"`
	CreatedAt string          `json:"created_at"`
}

func toClinicResponse(cl models.Clinic) ClinicResponse {
	return ClinicResponse{
		ID:        cl.ID,
		Name:      cl.Name,
		Address:   cl.Address,
		Phone:     cl.Phone,
		CreatedAt: cl.CreatedAt.Format(timeLayout),
	}
}

func toUserResponse(u models.User) ClinicUserResponse {
	return ClinicUserResponse{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Role:      u.Role,
		ClinicID:  u.ClinicID,
		CreatedAt: u.CreatedAt.Format(timeLayout),
	}
}

func loadClinic(c *fiber.Ctx) (*models.Clinic, error) {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return nil, fiber.NewError(fiber.StatusBadRequest, "Invalid clinic id")
	}
	var cl models.Clinic
	if err := database.DB.First(&cl, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fiber.NewError(fiber.StatusNotFound, "Clinic not found")
		}
		return nil, fiber.NewError(fiber.StatusInternalServerError, "Clinic could not be loaded")
	}
	return &cl, nil
}

// POST /api/admin/clinics
func CreateClinicHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body CreateClinicRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		body.Name = strings.TrimSpace(body.Name)
		if err := validation.Struct(body); err != nil {
			return err
		}

		cl := models.Clinic{
			Name:    body.Name,
			Address: strings.TrimSpace(body.Address),
			Phone:   strings.TrimSpace(body.Phone),
		}
		if err := database.DB.Create(&cl).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Clinic could not be created")
		}

		audit.Record(c, cl.ID, audit.LogOptions{
			EntityType:  "clinic",
			EntityID:    cl.ID,
			Action:      models.AuditActionCreate,
			Description: "clinic " + cl.Name + " created",
		})
		return c.Status(fiber.StatusCreated).JSON(toClinicResponse(cl))
	}
}

// GET /api/admin/clinics
func ListClinicsHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var clinics []models.Clinic
		if err := database.DB.Order("name ASC").Find(&clinics).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Clinics could not be listed")
		}
		res := make([]ClinicResponse, 0, len(clinics))
		for _, cl := range clinics {
			res = append(res, toClinicResponse(cl))
		}
		return c.JSON(res)
	}
}

// GET /api/admin/clinics/:id
func GetClinicHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		cl, err := loadClinic(c)
		if err != nil {
			return err
		}
		return c.JSON(toClinicResponse(*cl))
	}
}

// PUT /api/admin/clinics/:id
func UpdateClinicHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		cl, err := loadClinic(c)
		if err != nil {
			return err
		}
		before := *cl

		var body UpdateClinicRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		if err := validation.Struct(body); err != nil {
			return err
		}

		if body.Name != nil {
			name := strings.TrimSpace(*body.Name)
			if name == "" {
				return fiber.NewError(fiber.StatusBadRequest, "name cannot be empty")
			}
			cl.Name = name
		}
		if body.Address != nil {
			cl.Address = strings.TrimSpace(*body.Address)
		}
		if body.Phone != nil {
			cl.Phone = strings.TrimSpace(*body.Phone)
		}

		if err := database.DB.Save(cl).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Clinic could not be updated")
		}

		audit.Record(c, cl.ID, audit.LogOptions{
			EntityType:  "clinic",
			EntityID:    cl.ID,
			Action:      models.AuditActionUpdate,
			Description: "clinic " + cl.Name + " updated",
			Before:      toClinicResponse(before),
			After:       toClinicResponse(*cl),
		})
		return c.JSON(toClinicResponse(*cl))
	}
}

// DELETE /api/admin/clinics/:id refuses clinics that still own products,
// since their batches and movements would be orphaned.
func DeleteClinicHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		cl, err := loadClinic(c)
		if err != nil {
			return err
		}

		var products int64
		if err := database.DB.Model(&models.Product{}).Where("clinic_id = ?", cl.ID).Count(&products).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Clinic could not be deleted")
		}
		if products > 0 {
			return fiber.NewError(fiber.StatusConflict, "Clinic still has products, deactivate them instead")
		}

		if err := database.DB.Delete(&models.Clinic{}, "id = ?", cl.ID).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Clinic could not be deleted")
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// POST /api/admin/clinics/:id/users
func CreateClinicUserHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		cl, err := loadClinic(c)
		if err != nil {
			return err
		}

		var body CreateClinicUserRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		body.Email = strings.ToLower(strings.TrimSpace(body.Email))
		body.Name = strings.TrimSpace(body.Name)
		if err := validation.Struct(body); err != nil {
			return err
		}

		var existing int64
		database.DB.Model(&models.User{}).Where("email = ?", body.Email).Count(&existing)
		if existing > 0 {
			return fiber.NewError(fiber.StatusConflict, "Email is already registered")
		}

		hash, err := auth.HashPassword(body.Password)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Password could not be hashed")
		}

		user := models.User{
			Name:         body.Name,
			Email:        body.Email,
			PasswordHash: hash,
			Role:         body.Role,
			ClinicID:     &cl.ID,
		}
		if err := database.DB.Create(&user).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "User could not be created")
		}

		audit.Record(c, cl.ID, audit.LogOptions{
			EntityType:  "user",
			EntityID:    user.ID,
			Action:      models.AuditActionCreate,
			Description: string(user.Role) + " " + user.Email + " added to " + cl.Name,
		})
		return c.Status(fiber.StatusCreated).JSON(toUserResponse(user))
	}
}

// GET /api/admin/clinics/:id/users
func ListClinicUsersHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		cl, err := loadClinic(c)
		if err != nil {
			return err
		}
		var users []models.User
		if err := database.DB.Where("clinic_id = ?", cl.ID).Order("created_at DESC").Find(&users).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Users could not be listed")
		}
		res := make([]ClinicUserResponse, 0, len(users))
		for _, u := range users {
			res = append(res, toUserResponse(u))
		}
		return c.JSON(res)
	}
}
