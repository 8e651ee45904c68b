package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/example/limpio/internal/models"
)

// SettingsHandler manages the business settings singleton.
type SettingsHandler struct {
	db       *gorm.DB
	defaults models.BusinessSettings
}

// NewSettingsHandler constructs SettingsHandler. defaults fill empty
// fields on read, typically from environment configuration.
func NewSettingsHandler(db *gorm.DB, defaults models.BusinessSettings) *SettingsHandler {
	if defaults.Currency == "" {
		defaults.Currency = "COP"
	}
	return &SettingsHandler{db: db, defaults: defaults}
}

func (h *SettingsHandler) applyDefaults(s *models.BusinessSettings) {
	if strings.TrimSpace(s.WhatsAppNumber) == "" {
		s.WhatsAppNumber = h.defaults.WhatsAppNumber
	}
	if strings.TrimSpace(s.ContactPhone) == "" {
		s.ContactPhone = h.defaults.ContactPhone
	}
	if strings.TrimSpace(s.ContactEmail) == "" {
		s.ContactEmail = h.defaults.ContactEmail
	}
	if strings.TrimSpace(s.Currency) == "" {
		s.Currency = h.defaults.Currency
	}
}

// Get returns the current settings (public endpoint).
func (h *SettingsHandler) Get(c *fiber.Ctx) error {
	var settings models.BusinessSettings
	if err := h.db.First(&settings).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		// Nothing saved yet
		settings = models.BusinessSettings{}
	}

	h.applyDefaults(&settings)
	return c.JSON(fiber.Map{"success": true, "data": settings})
}

type settingsRequest struct {
	WhatsAppNumber string `json:"whatsapp_number" validate:"omitempty,phone"`
	ContactPhone   string `json:"contact_phone" validate:"omitempty,phone"`
	ContactEmail   string `json:"contact_email" validate:"omitempty,email"`
	Address        string `json:"address"`
	WorkingHours   string `json:"working_hours"`
	Currency       string `json:"currency" validate:"omitempty,len=3"`
}

// Update creates or updates the settings row (admin endpoint).
func (h *SettingsHandler) Update(c *fiber.Ctx) error {
	var input settingsRequest
	if err := parseBody(c, &input); err != nil {
		return err
	}

	var settings models.BusinessSettings
	if err := h.db.First(&settings).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	settings.WhatsAppNumber = input.WhatsAppNumber
	settings.ContactPhone = input.ContactPhone
	settings.ContactEmail = input.ContactEmail
	settings.Address = input.Address
	settings.WorkingHours = input.WorkingHours
	settings.Currency = strings.ToUpper(input.Currency)

	// Save inserts when the row does not exist yet.
	if err := h.db.Save(&settings).Error; err != nil {
		return err
	}

	h.applyDefaults(&settings)
	return c.JSON(fiber.Map{"success": true, "data": settings})
}
