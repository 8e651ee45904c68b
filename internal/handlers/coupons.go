package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/example/limpio/internal/models"
	"github.com/example/limpio/internal/pricing"
	"github.com/example/limpio/internal/utils"
	"github.com/example/limpio/internal/validation"
)

// CouponHandler manages discount coupons.
type CouponHandler struct {
	db *gorm.DB
}

// NewCouponHandler constructs CouponHandler.
func NewCouponHandler(db *gorm.DB) *CouponHandler {
	return &CouponHandler{db: db}
}

type couponRequest struct {
	Code          string              `json:"code" validate:"required,min=3,max=32"`
	Description   string              `json:"description"`
	DiscountType  models.DiscountType `json:"discount_type" validate:"required,oneof=percent fixed"`
	DiscountValue float64             `json:"discount_value" validate:"gt=0"`
	MaxUses       int                 `json:"max_uses" validate:"gte=0"`
	ValidFrom     *time.Time          `json:"valid_from"`
	ValidUntil    *time.Time          `json:"valid_until"`
	IsActive      *bool               `json:"is_active"`
}

func (r couponRequest) validate() error {
	if r.DiscountType == models.DiscountPercent && r.DiscountValue > 100 {
		return validation.NewError("discount_value", "must be at most 100")
	}
	if r.ValidFrom != nil && r.ValidUntil != nil && r.ValidUntil.Before(*r.ValidFrom) {
		return validation.NewError("valid_until", "must be after valid_from")
	}
	return nil
}

func (r couponRequest) apply(c *models.Coupon) {
	c.Code = pricing.NormalizeCouponCode(r.Code)
	c.Description = r.Description
	c.DiscountType = r.DiscountType
	c.DiscountValue = r.DiscountValue
	c.MaxUses = r.MaxUses
	c.ValidFrom = r.ValidFrom
	c.ValidUntil = r.ValidUntil
	if r.IsActive != nil {
		c.IsActive = *r.IsActive
	}
}

// List returns coupons, newest first.
func (h *CouponHandler) List(c *fiber.Ctx) error {
	pg := utils.ParsePagination(c)
	query := h.db.Model(&models.Coupon{})
	if c.Query("active") == "true" {
		query = query.Where("is_active = ?", true)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return err
	}

	var items []models.Coupon
	if err := query.Order("created_at desc").
		Limit(pg.Limit).Offset(pg.Offset).
		Find(&items).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{"success": true, "data": items, "pagination": pg.Meta(total)})
}

// Create adds a coupon. Codes are stored upper-case.
func (h *CouponHandler) Create(c *fiber.Ctx) error {
	var req couponRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if err := req.validate(); err != nil {
		return err
	}

	coupon := models.Coupon{IsActive: true}
	req.apply(&coupon)

	if err := h.ensureUniqueCode(coupon.Code, nil); err != nil {
		return err
	}
	if err := createRecord(h.db, &coupon, coupon.IsActive); err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": coupon})
}

// Update replaces the editable fields of a coupon. used_count is kept.
func (h *CouponHandler) Update(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}

	var coupon models.Coupon
	if err := h.db.First(&coupon, "id = ?", id).Error; err != nil {
		return notFound(err, "coupon")
	}

	var req couponRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if err := req.validate(); err != nil {
		return err
	}
	req.apply(&coupon)

	if err := h.ensureUniqueCode(coupon.Code, &coupon.ID); err != nil {
		return err
	}
	if err := h.db.Save(&coupon).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{"success": true, "data": coupon})
}

// Delete removes a coupon.
func (h *CouponHandler) Delete(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}

	res := h.db.Delete(&models.Coupon{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fiber.NewError(fiber.StatusNotFound, "coupon not found")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type validateCouponRequest struct {
	Code     string  `json:"code" validate:"required"`
	Subtotal float64 `json:"subtotal" validate:"gte=0"`
}

// Validate checks a code for the booking form and previews the discount
// against the given subtotal. The reservation itself always reprices.
func (h *CouponHandler) Validate(c *fiber.Ctx) error {
	var req validateCouponRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	var coupon models.Coupon
	if err := h.db.First(&coupon, "code = ?", pricing.NormalizeCouponCode(req.Code)).Error; err != nil {
		return notFound(err, "coupon")
	}

	discount, final, err := pricing.ApplyCoupon(req.Subtotal, &coupon, time.Now())
	if err != nil {
		return c.JSON(fiber.Map{
			"success": true,
			"data":    fiber.Map{"valid": false, "reason": err.Error()},
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"valid":          true,
			"code":           coupon.Code,
			"discount_type":  coupon.DiscountType,
			"discount_value": coupon.DiscountValue,
			"discount":       discount,
			"final_price":    final,
		},
	})
}

func (h *CouponHandler) ensureUniqueCode(code string, self *uuid.UUID) error {
	query := h.db.Model(&models.Coupon{}).Where("code = ?", code)
	if self != nil {
		query = query.Where("id <> ?", *self)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return fiber.NewError(fiber.StatusConflict, "coupon code already exists")
	}
	return nil
}
