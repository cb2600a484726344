package audit

import (
	"encoding/json"
	"errors"
	"fmt"

	"vetclinic-backend/internal/auth"
	"vetclinic-backend/internal/database"
	"vetclinic-backend/internal/logger"
	"vetclinic-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type LogOptions struct {
	ClinicID    *uint
	UserID      uint
	UserName    string
	EntityType  string
	EntityID    uint
	Action      models.AuditAction
	Description string
	Before      any
	After       any
}

// jsonb columns take "null" rather than an empty string.
func encode(v any) string {
	if v == nil {
		return "null"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

func newEntry(opts LogOptions) models.AuditLog {
	return models.AuditLog{
		ClinicID:    opts.ClinicID,
		UserID:      opts.UserID,
		UserName:    opts.UserName,
		EntityType:  opts.EntityType,
		EntityID:    opts.EntityID,
		Action:      opts.Action,
		Description: opts.Description,
		BeforeData:  encode(opts.Before),
		AfterData:   encode(opts.After),
	}
}

func WriteLog(opts LogOptions) error {
	if database.DB == nil {
		return errors.New("audit log could not be saved: database not initialized")
	}
	entry := newEntry(opts)
	if err := database.DB.Create(&entry).Error; err != nil {
		return fmt.Errorf("audit log could not be saved: %w", err)
	}
	return nil
}

// Record fills the user from the request and writes the entry. A failed audit
// write is logged and never fails the request.
func Record(c *fiber.Ctx, clinicID uint, opts LogOptions) {
	if u, err := auth.Current(c); err == nil {
		opts.UserID = u.ID
		opts.UserName = u.Email
	}
	if clinicID != 0 {
		opts.ClinicID = &clinicID
	}
	if err := WriteLog(opts); err != nil {
		logger.FromFiber(c).WithError(err).WithFields(logrus.Fields{
			"entity_type": opts.EntityType,
			"entity_id":   opts.EntityID,
		}).Error("audit write failed")
	}
}
