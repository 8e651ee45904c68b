package handlers

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/limpio/internal/middleware"
	"github.com/example/limpio/internal/models"
	"github.com/example/limpio/internal/pricing"
	"github.com/example/limpio/internal/reservation"
	"github.com/example/limpio/internal/services"
	"github.com/example/limpio/internal/utils"
	"github.com/example/limpio/internal/validation"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// ReservationHandler serves customer, ally and admin reservation endpoints.
type ReservationHandler struct {
	db           *gorm.DB
	reservations *services.ReservationService
	log          *zap.Logger
}

// NewReservationHandler constructs ReservationHandler.
func NewReservationHandler(db *gorm.DB, reservations *services.ReservationService, log *zap.Logger) *ReservationHandler {
	return &ReservationHandler{db: db, reservations: reservations, log: log}
}

type quoteRequest struct {
	ServiceID  uuid.UUID         `json:"service_id" validate:"required"`
	Selection  pricing.Selection `json:"selection"`
	CouponCode string            `json:"coupon_code"`
}

// PreviewPrice prices a selection without persisting anything.
func (h *ReservationHandler) PreviewPrice(c *fiber.Ctx) error {
	var req quoteRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	svc, quote, err := h.reservations.Quote(c.UserContext(), req.ServiceID, req.Selection, req.CouponCode)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"service_id":       svc.ID,
			"pricing_model":    svc.PricingModel,
			"display_name":     quote.DisplayName,
			"calculated_price": quote.CalculatedPrice,
			"pricing_data":     quote.PricingData,
			"subtotal":         quote.Subtotal,
			"discount":         quote.Discount,
			"final_price":      quote.FinalPrice,
		},
	})
}

// createReservationRequest is the booking form. Any price the client sends
// is not part of it and is dropped by the decoder.
type createReservationRequest struct {
	ServiceID   uuid.UUID              `json:"service_id" validate:"required"`
	Selection   pricing.Selection      `json:"selection"`
	CouponCode  string                 `json:"coupon_code"`
	ScheduledAt string                 `json:"scheduled_at"`
	Date        string                 `json:"date" validate:"required_without=ScheduledAt,omitempty,datetime=2006-01-02"`
	Time        string                 `json:"time" validate:"required_without=ScheduledAt,omitempty,datetime=15:04"`
	AddressID   *uuid.UUID             `json:"address_id"`
	Address     *services.AddressInput `json:"address"`
	Customer    services.CustomerInput `json:"customer"`
	Notes       string                 `json:"notes" validate:"max=1000"`
}

func (r createReservationRequest) scheduledAt() (time.Time, error) {
	if r.ScheduledAt != "" {
		t, err := time.Parse(time.RFC3339, r.ScheduledAt)
		if err != nil {
			return time.Time{}, validation.NewError("scheduled_at", "must be an RFC3339 timestamp")
		}
		return t, nil
	}
	t, err := time.ParseInLocation(dateLayout+" "+timeLayout, r.Date+" "+r.Time, time.Local)
	if err != nil {
		return time.Time{}, validation.NewError("date", "invalid date or time")
	}
	return t, nil
}

// Create submits a reservation for the authenticated customer. The price
// is always recomputed on the server.
func (h *ReservationHandler) Create(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	var req createReservationRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if req.AddressID == nil && req.Address == nil {
		return validation.NewError("address", "address_id or address is required")
	}

	when, err := req.scheduledAt()
	if err != nil {
		return err
	}

	created, err := h.reservations.Create(c.UserContext(), userID, services.CreateReservationInput{
		ServiceID:   req.ServiceID,
		Selection:   req.Selection,
		CouponCode:  req.CouponCode,
		ScheduledAt: when,
		AddressID:   req.AddressID,
		Address:     req.Address,
		Customer:    req.Customer,
		Notes:       strings.TrimSpace(req.Notes),
	})
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": created})
}

// ListMine returns the caller's reservations, newest first.
func (h *ReservationHandler) ListMine(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	pg := utils.ParsePagination(c)
	query := h.db.Model(&models.Reservation{}).Where("user_id = ?", userID)
	query, err := filterByStatus(c, query)
	if err != nil {
		return err
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return err
	}

	var items []models.Reservation
	if err := query.Preload("Service").Preload("Address").Preload("Ally").
		Order("scheduled_at desc").
		Limit(pg.Limit).Offset(pg.Offset).
		Find(&items).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{"success": true, "data": items, "pagination": pg.Meta(total)})
}

// GetMine returns one of the caller's reservations.
func (h *ReservationHandler) GetMine(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	id, err := paramID(c, "id")
	if err != nil {
		return err
	}

	var r models.Reservation
	if err := h.db.Preload("Service").Preload("Address").Preload("Ally").
		First(&r, "id = ? AND user_id = ?", id, userID).Error; err != nil {
		return notFound(err, "reservation")
	}
	return c.JSON(fiber.Map{"success": true, "data": r})
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// CancelMine cancels one of the caller's pending reservations.
func (h *ReservationHandler) CancelMine(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	id, err := paramID(c, "id")
	if err != nil {
		return err
	}

	var req cancelRequest
	if len(c.Body()) > 0 {
		if err := parseBody(c, &req); err != nil {
			return err
		}
	}

	r, err := h.reservations.Cancel(c.UserContext(), userID, id, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": r})
}

// Ally endpoints

// AllyList returns the reservations assigned to the calling ally.
func (h *ReservationHandler) AllyList(c *fiber.Ctx) error {
	ally, err := h.currentAlly(c)
	if err != nil {
		return err
	}

	pg := utils.ParsePagination(c)
	query := h.db.Model(&models.Reservation{}).Where("ally_id = ?", ally.ID)
	query, err = filterByStatus(c, query)
	if err != nil {
		return err
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return err
	}

	var items []models.Reservation
	if err := query.Preload("User").Preload("Service").Preload("Address").
		Order("scheduled_at asc").
		Limit(pg.Limit).Offset(pg.Offset).
		Find(&items).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{"success": true, "data": items, "pagination": pg.Meta(total)})
}

type statusRequest struct {
	Status models.ReservationStatus `json:"status" validate:"required,oneof=pending in_progress completed cancelled"`
	Reason string                   `json:"reason" validate:"max=500"`
}

// AllyUpdateStatus moves an assigned reservation along its lifecycle.
func (h *ReservationHandler) AllyUpdateStatus(c *fiber.Ctx) error {
	ally, err := h.currentAlly(c)
	if err != nil {
		return err
	}

	id, err := paramID(c, "id")
	if err != nil {
		return err
	}

	var req statusRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	r, err := h.reservations.UpdateStatus(c.UserContext(), id, req.Status, req.Reason, &ally.ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": r})
}

func (h *ReservationHandler) currentAlly(c *fiber.Ctx) (*models.Ally, error) {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return nil, fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	var ally models.Ally
	if err := h.db.First(&ally, "user_id = ? AND is_active = ?", userID, true).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fiber.NewError(fiber.StatusForbidden, "no ally profile linked to this account")
		}
		return nil, err
	}
	return &ally, nil
}

// Admin endpoints

// AdminList returns all reservations with status, date and search filters.
func (h *ReservationHandler) AdminList(c *fiber.Ctx) error {
	pg := utils.ParsePagination(c)
	query := h.db.Model(&models.Reservation{})

	query, err := filterByStatus(c, query)
	if err != nil {
		return err
	}

	if from := c.Query("from"); from != "" {
		t, err := time.ParseInLocation(dateLayout, from, time.Local)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid from date")
		}
		query = query.Where("scheduled_at >= ?", t)
	}
	if to := c.Query("to"); to != "" {
		t, err := time.ParseInLocation(dateLayout, to, time.Local)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid to date")
		}
		query = query.Where("scheduled_at < ?", t.AddDate(0, 0, 1))
	}
	if serviceID := c.Query("service_id"); serviceID != "" {
		query = query.Where("service_id = ?", serviceID)
	}
	if allyID := c.Query("ally_id"); allyID != "" {
		query = query.Where("ally_id = ?", allyID)
	}
	if search := strings.ToUpper(strings.TrimSpace(c.Query("search"))); search != "" {
		query = query.Where("code LIKE ?", "%"+search+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return err
	}

	var items []models.Reservation
	if err := query.Preload("User").Preload("Service").Preload("Address").Preload("Ally").
		Order("scheduled_at desc").
		Limit(pg.Limit).Offset(pg.Offset).
		Find(&items).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{"success": true, "data": items, "pagination": pg.Meta(total)})
}

// AdminGet returns a reservation with every relation loaded.
func (h *ReservationHandler) AdminGet(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}

	var r models.Reservation
	if err := h.db.Preload("User").Preload("Service").Preload("Address").Preload("Ally").
		First(&r, "id = ?", id).Error; err != nil {
		return notFound(err, "reservation")
	}
	return c.JSON(fiber.Map{"success": true, "data": r})
}

// AdminUpdateStatus applies any allowed lifecycle transition.
func (h *ReservationHandler) AdminUpdateStatus(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}

	var req statusRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	r, err := h.reservations.UpdateStatus(c.UserContext(), id, req.Status, req.Reason, nil)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": r})
}

type assignAllyRequest struct {
	AllyID *uuid.UUID `json:"ally_id"`
}

// AdminAssignAlly sets or clears the ally of an open reservation.
func (h *ReservationHandler) AdminAssignAlly(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}

	var req assignAllyRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	r, err := h.reservations.AssignAlly(c.UserContext(), id, req.AllyID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": r})
}

// AdminDelete removes a reservation permanently.
func (h *ReservationHandler) AdminDelete(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}

	res := h.db.Delete(&models.Reservation{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fiber.NewError(fiber.StatusNotFound, "reservation not found")
	}

	h.log.Info("reservation deleted", zap.String("reservation_id", id.String()))
	return c.SendStatus(fiber.StatusNoContent)
}

func filterByStatus(c *fiber.Ctx, query *gorm.DB) (*gorm.DB, error) {
	raw := c.Query("status")
	if raw == "" {
		return query, nil
	}
	status, ok := reservation.ParseStatus(raw)
	if !ok {
		return nil, fiber.NewError(fiber.StatusBadRequest, "invalid status")
	}
	return query.Where("status = ?", status), nil
}
