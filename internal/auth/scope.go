package auth

import (
	"strconv"

	"vetclinic-backend/internal/models"

	"github.com/gofiber/fiber/v2"
)

// CurrentUser is what the JWT middleware left on the request.
type CurrentUser struct {
	ID       uint
	Email    string
	Role     models.UserRole
	ClinicID *uint
}

func Current(c *fiber.Ctx) (CurrentUser, error) {
	role, ok := c.Locals(CtxUserRoleKey).(models.UserRole)
	if !ok {
		return CurrentUser{}, fiber.NewError(fiber.StatusForbidden, "Role could not be resolved")
	}
	u := CurrentUser{Role: role}
	u.ID, _ = c.Locals(CtxUserIDKey).(uint)
	u.Email, _ = c.Locals(CtxUserEmailKey).(string)
	u.ClinicID, _ = c.Locals(CtxClinicIDKey).(*uint)
	return u, nil
}

// Actor names the user in movement and audit rows.
func Actor(c *fiber.Ctx) string {
	u, err := Current(c)
	if err != nil || u.Email == "" {
		return "system"
	}
	return u.Email
}

// ResolveClinicFromBodyOrRole pins clinic users to their own clinic; a super
// admin must name the clinic in the body.
func ResolveClinicFromBodyOrRole(c *fiber.Ctx, bodyClinicID *uint) (uint, error) {
	u, err := Current(c)
	if err != nil {
		return 0, err
	}
	if u.Role != models.RoleSuperAdmin {
		return ownClinic(u)
	}
	if bodyClinicID == nil || *bodyClinicID == 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "clinic_id is required")
	}
	return *bodyClinicID, nil
}

// ResolveClinicFromQueryOrRole is the read-side variant. A super admin without
// a clinic_id query gets 0, meaning every clinic.
func ResolveClinicFromQueryOrRole(c *fiber.Ctx) (uint, error) {
	u, err := Current(c)
	if err != nil {
		return 0, err
	}
	if u.Role != models.RoleSuperAdmin {
		return ownClinic(u)
	}
	raw := c.Query("clinic_id")
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "clinic_id is invalid")
	}
	return uint(id), nil
}

// CanAccessClinic reports whether the caller may touch rows of clinicID.
func CanAccessClinic(c *fiber.Ctx, clinicID uint) bool {
	u, err := Current(c)
	if err != nil {
		return false
	}
	if u.Role == models.RoleSuperAdmin {
		return true
	}
	return u.ClinicID != nil && *u.ClinicID == clinicID
}

func ownClinic(u CurrentUser) (uint, error) {
	if u.ClinicID == nil {
		return 0, fiber.NewError(fiber.StatusForbidden, "No clinic assigned to this user")
	}
	return *u.ClinicID, nil
}
