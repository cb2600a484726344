package audit

import (
	"strconv"

	"vetclinic-backend/internal/auth"
	"vetclinic-backend/internal/database"
	"vetclinic-backend/internal/models"

	"github.com/gofiber/fiber/v2"
)

type AuditLogResponse struct {
	ID          uint               `json:"id"`
	CreatedAt   string             `json:"created_at"`
	ClinicID    *uint              `json:"clinic_id"`
	UserID      uint               `json:"user_id"`
	UserName    string             `json:"user_name"`
	EntityType  string             `json:"entity_type"`
	EntityID    uint               `json:"entity_id"`
	Action      models.AuditAction `json:"action"`
	Description string             `json:"description"`
	BeforeData  string             `json:"before_data"`
	AfterData   string             `json:"after_data"`
}

// GET /api/audit-logs?entity_type=invoice&entity_id=1&clinic_id=1&limit=100
func ListAuditLogsHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		clinicID, err := auth.ResolveClinicFromQueryOrRole(c)
		if err != nil {
			return err
		}

		dbq := database.DB.Model(&models.AuditLog{})
		if clinicID != 0 {
			dbq = dbq.Where("clinic_id = ?", clinicID)
		}
		if v := c.Query("entity_type"); v != "" {
			dbq = dbq.Where("entity_type = ?", v)
		}
		if id, err := strconv.ParseUint(c.Query("entity_id"), 10, 64); err == nil && id > 0 {
			dbq = dbq.Where("entity_id = ?", id)
		}
		if id, err := strconv.ParseUint(c.Query("user_id"), 10, 64); err == nil && id > 0 {
			dbq = dbq.Where("user_id = ?", id)
		}
		limit := c.QueryInt("limit", 200)
		if limit <= 0 || limit > 1000 {
			limit = 200
		}

		var logs []models.AuditLog
		if err := dbq.Order("created_at DESC").Limit(limit).Find(&logs).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Audit logs could not be listed")
		}

		resp := make([]AuditLogResponse, 0, len(logs))
		for _, l := range logs {
			resp = append(resp, AuditLogResponse{
				ID:          l.ID,
				CreatedAt:   l.CreatedAt.Format("2006-01-02 15:04:05"),
				ClinicID:    l.ClinicID,
				UserID:      l.UserID,
				UserName:    l.UserName,
				EntityType:  l.EntityType,
				EntityID:    l.EntityID,
				Action:      l.Action,
				Description: l.Description,
				BeforeData:  l.BeforeData,
				AfterData:   l.AfterData,
			})
		}
		return c.JSON(resp)
	}
}
