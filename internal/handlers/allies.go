package handlers

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/limpio/internal/models"
	"github.com/example/limpio/internal/utils"
	"github.com/example/limpio/internal/validation"
)

// AllyHandler manages allies and their carnets.
type AllyHandler struct {
	db            *gorm.DB
	log           *zap.Logger
	temporaryDays int
	now           func() time.Time
}

// NewAllyHandler constructs AllyHandler. temporaryDays is the lifetime of
// a CVT carnet.
func NewAllyHandler(db *gorm.DB, log *zap.Logger, temporaryDays int) *AllyHandler {
	if temporaryDays <= 0 {
		temporaryDays = 30
	}
	return &AllyHandler{db: db, log: log, temporaryDays: temporaryDays, now: time.Now}
}

type allyRequest struct {
	UserID         *uuid.UUID `json:"user_id"`
	FirstName      string     `json:"first_name" validate:"required"`
	LastName       string     `json:"last_name" validate:"required"`
	Phone          string     `json:"phone" validate:"required,phone"`
	DocumentNumber string     `json:"document_number"`
	PhotoURL       string     `json:"photo_url" validate:"omitempty,url"`
	IsActive       *bool      `json:"is_active"`
}

func (r allyRequest) apply(a *models.Ally) {
	a.UserID = r.UserID
	a.FirstName = strings.TrimSpace(r.FirstName)
	a.LastName = strings.TrimSpace(r.LastName)
	a.Phone = validation.NormalizePhone(r.Phone)
	a.DocumentNumber = r.DocumentNumber
	a.PhotoURL = r.PhotoURL
	if r.IsActive != nil {
		a.IsActive = *r.IsActive
	}
}

// List returns allies with an optional search over name and phone.
func (h *AllyHandler) List(c *fiber.Ctx) error {
	pg := utils.ParsePagination(c)
	query := h.db.Model(&models.Ally{})

	if search := strings.ToLower(c.Query("search")); search != "" {
		like := "%" + search + "%"
		query = query.Where("LOWER(first_name) LIKE ? OR LOWER(last_name) LIKE ? OR phone LIKE ?", like, like, like)
	}
	if c.Query("active") == "true" {
		query = query.Where("is_active = ?", true)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return err
	}

	var items []models.Ally
	if err := query.Order("first_name asc, last_name asc").
		Limit(pg.Limit).Offset(pg.Offset).
		Find(&items).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{"success": true, "data": items, "pagination": pg.Meta(total)})
}

// Get returns one ally.
func (h *AllyHandler) Get(c *fiber.Ctx) error {
	ally, err := h.allyFromParam(c)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": ally})
}

// Create registers an ally. A linked user account is promoted to the ally role.
func (h *AllyHandler) Create(c *fiber.Ctx) error {
	var req allyRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	ally := models.Ally{IsActive: true}
	req.apply(&ally)

	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := linkAllyUser(tx, ally.UserID); err != nil {
			return err
		}
		return createRecord(tx, &ally, ally.IsActive)
	})
	if err != nil {
		return err
	}

	h.log.Info("ally created", zap.String("ally_id", ally.ID.String()))
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": ally})
}

// Update replaces the editable fields of an ally.
func (h *AllyHandler) Update(c *fiber.Ctx) error {
	ally, err := h.allyFromParam(c)
	if err != nil {
		return err
	}

	var req allyRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	req.apply(ally)

	err = h.db.Transaction(func(tx *gorm.DB) error {
		if err := linkAllyUser(tx, ally.UserID); err != nil {
			return err
		}
		return tx.Save(ally).Error
	})
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{"success": true, "data": ally})
}

// Delete removes an ally that never took a reservation. Allies with any
// reservation history are kept and must be deactivated instead.
func (h *AllyHandler) Delete(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}

	var assigned int64
	if err := h.db.Model(&models.Reservation{}).Where("ally_id = ?", id).Count(&assigned).Error; err != nil {
		return err
	}
	if assigned > 0 {
		return fiber.NewError(fiber.StatusConflict, "ally has reservations, deactivate it instead")
	}

	res := h.db.Delete(&models.Ally{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fiber.NewError(fiber.StatusNotFound, "ally not found")
	}

	return c.SendStatus(fiber.StatusNoContent)
}

type carnetRequest struct {
	Type models.CarnetType `json:"type" validate:"required,oneof=CVT CVU"`
}

// IssueCarnet gives the ally a new carnet code, replacing any previous one.
// CVT carnets expire after the configured number of days, CVU never.
func (h *AllyHandler) IssueCarnet(c *fiber.Ctx) error {
	ally, err := h.allyFromParam(c)
	if err != nil {
		return err
	}
	if !ally.IsActive {
		return fiber.NewError(fiber.StatusBadRequest, "ally is not active")
	}

	var req carnetRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	code, err := utils.PrefixedCode(string(req.Type))
	if err != nil {
		return err
	}

	now := h.now()
	ally.CarnetType = req.Type
	ally.CarnetCode = &code
	ally.CarnetIssuedAt = &now
	ally.CarnetExpiresAt = nil
	if req.Type == models.CarnetTemporary {
		expires := now.AddDate(0, 0, h.temporaryDays)
		ally.CarnetExpiresAt = &expires
	}

	if err := h.db.Save(ally).Error; err != nil {
		return err
	}

	h.log.Info("carnet issued",
		zap.String("ally_id", ally.ID.String()),
		zap.String("type", string(req.Type)),
		zap.String("code", code),
	)
	return c.JSON(fiber.Map{"success": true, "data": ally})
}

// RevokeCarnet clears the carnet of an ally.
func (h *AllyHandler) RevokeCarnet(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}

	res := h.db.Model(&models.Ally{}).Where("id = ?", id).Updates(map[string]interface{}{
		"carnet_type":       "",
		"carnet_code":       nil,
		"carnet_issued_at":  nil,
		"carnet_expires_at": nil,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fiber.NewError(fiber.StatusNotFound, "ally not found")
	}

	return c.JSON(fiber.Map{"success": true, "message": "carnet revoked"})
}

// VerifyCarnet is the public check behind the QR printed on a carnet.
func (h *AllyHandler) VerifyCarnet(c *fiber.Ctx) error {
	code := strings.ToUpper(strings.TrimSpace(c.Params("code")))

	var ally models.Ally
	if err := h.db.First(&ally, "carnet_code = ?", code).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "carnet not found")
		}
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"valid":       ally.CarnetValid(h.now()),
			"code":        code,
			"type":        ally.CarnetType,
			"first_name":  ally.FirstName,
			"last_name":   ally.LastName,
			"photo_url":   ally.PhotoURL,
			"issued_at":   ally.CarnetIssuedAt,
			"expires_at":  ally.CarnetExpiresAt,
			"ally_active": ally.IsActive,
		},
	})
}

func (h *AllyHandler) allyFromParam(c *fiber.Ctx) (*models.Ally, error) {
	id, err := paramID(c, "id")
	if err != nil {
		return nil, err
	}

	var ally models.Ally
	if err := h.db.First(&ally, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "ally")
	}
	return &ally, nil
}

func linkAllyUser(tx *gorm.DB, userID *uuid.UUID) error {
	if userID == nil {
		return nil
	}

	var user models.User
	if err := tx.First(&user, "id = ?", *userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return validation.NewError("user_id", "user not found")
		}
		return err
	}
	if user.Role == models.RoleAdmin {
		return validation.NewError("user_id", "admins cannot be linked as allies")
	}
	if user.Role == models.RoleAlly {
		return nil
	}
	return tx.Model(&user).Update("role", models.RoleAlly).Error
}
