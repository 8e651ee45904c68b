package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/example/limpio/internal/models"
	"github.com/example/limpio/internal/pricing"
	"github.com/example/limpio/internal/reservation"
	"github.com/example/limpio/internal/utils"
)

var (
	ErrServiceNotFound     = errors.New("service not found")
	ErrAddressNotFound     = errors.New("address not found")
	ErrAddressRequired     = errors.New("address_id or address is required")
	ErrCouponNotFound      = errors.New("coupon not found")
	ErrScheduleInPast      = errors.New("scheduled time must be in the future")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrAllyNotFound        = errors.New("ally not found")
)

// ReservationNotifier receives reservation events after they are committed.
type ReservationNotifier interface {
	ReservationCreated(ctx context.Context, r models.Reservation)
	ReservationStatusChanged(ctx context.Context, r models.Reservation)
}

// AddressInput is an address submitted inline with a reservation.
type AddressInput struct {
	Label       string `json:"label"`
	AddressLine string `json:"address_line" validate:"required"`
	Apartment   string `json:"apartment"`
	City        string `json:"city" validate:"required"`
	District    string `json:"district"`
	Reference   string `json:"reference"`
}

// CustomerInput carries profile fields upserted onto the booking user.
type CustomerInput struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email" validate:"omitempty,email"`
}

// CreateReservationInput is the server-side view of a submission. Any
// client-computed price is discarded before it gets here.
type CreateReservationInput struct {
	ServiceID   uuid.UUID
	Selection   pricing.Selection
	CouponCode  string
	ScheduledAt time.Time
	AddressID   *uuid.UUID
	Address     *AddressInput
	Customer    CustomerInput
	Notes       string
}

// Quote is a priced selection before it is persisted.
type Quote struct {
	pricing.Result
	Subtotal   float64    `json:"subtotal"`
	Discount   float64    `json:"discount"`
	FinalPrice float64    `json:"final_price"`
	CouponID   *uuid.UUID `json:"-"`
}

// ReservationService owns the reservation write paths.
type ReservationService struct {
	db       *gorm.DB
	log      *zap.Logger
	notifier ReservationNotifier
	now      func() time.Time
}

// NewReservationService constructs ReservationService. notifier may be nil.
func NewReservationService(db *gorm.DB, log *zap.Logger, notifier ReservationNotifier) *ReservationService {
	return &ReservationService{db: db, log: log, notifier: notifier, now: time.Now}
}

// LoadService fetches a service with everything pricing needs.
func LoadService(ctx context.Context, db *gorm.DB, id uuid.UUID) (*models.Service, error) {
	var svc models.Service
	err := db.WithContext(ctx).
		Preload("PricingOptions", func(tx *gorm.DB) *gorm.DB { return tx.Order("sort_order asc, created_at asc") }).
		Preload("FormulaVariables").
		Preload("Packages").
		First(&svc, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrServiceNotFound
		}
		return nil, err
	}
	return &svc, nil
}

// Quote prices a selection and applies an optional coupon code.
func (s *ReservationService) Quote(ctx context.Context, serviceID uuid.UUID, sel pricing.Selection, couponCode string) (*models.Service, Quote, error) {
	svc, err := LoadService(ctx, s.db, serviceID)
	if err != nil {
		return nil, Quote{}, err
	}

	result, err := pricing.Calculate(*svc, sel)
	if err != nil {
		return svc, Quote{}, err
	}

	q := Quote{Result: result, Subtotal: result.CalculatedPrice, FinalPrice: result.CalculatedPrice}

	code := pricing.NormalizeCouponCode(couponCode)
	if code == "" {
		return svc, q, nil
	}

	var coupon models.Coupon
	if err := s.db.WithContext(ctx).First(&coupon, "code = ?", code).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return svc, Quote{}, ErrCouponNotFound
		}
		return svc, Quote{}, err
	}

	discount, final, err := pricing.ApplyCoupon(result.CalculatedPrice, &coupon, s.now())
	if err != nil {
		return svc, Quote{}, err
	}
	q.Discount, q.FinalPrice = discount, final
	q.CouponID = &coupon.ID
	return svc, q, nil
}

// Create validates references, recomputes the price and writes the user
// profile, the inline address and the reservation in one transaction.
func (s *ReservationService) Create(ctx context.Context, userID uuid.UUID, in CreateReservationInput) (*models.Reservation, error) {
	if !in.ScheduledAt.After(s.now()) {
		return nil, ErrScheduleInPast
	}

	svc, quote, err := s.Quote(ctx, in.ServiceID, in.Selection, in.CouponCode)
	if err != nil {
		return nil, err
	}

	code, err := utils.PrefixedCode("RSV")
	if err != nil {
		return nil, fmt.Errorf("generate reservation code: %w", err)
	}

	var created models.Reservation
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.First(&user, "id = ?", userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSessionInvalid
			}
			return err
		}

		updates := map[string]any{}
		if v := strings.TrimSpace(in.Customer.FirstName); v != "" && v != user.FirstName {
			updates["first_name"] = v
		}
		if v := strings.TrimSpace(in.Customer.LastName); v != "" && v != user.LastName {
			updates["last_name"] = v
		}
		if v := strings.TrimSpace(in.Customer.Email); v != "" && v != user.Email {
			updates["email"] = v
		}
		if len(updates) > 0 {
			if err := tx.Model(&user).Updates(updates).Error; err != nil {
				return fmt.Errorf("update customer: %w", err)
			}
		}

		address, err := s.resolveAddress(tx, userID, in)
		if err != nil {
			return err
		}

		if quote.CouponID != nil {
			res := tx.Model(&models.Coupon{}).
				Where("id = ? AND (max_uses = 0 OR used_count < max_uses)", *quote.CouponID).
				UpdateColumn("used_count", gorm.Expr("used_count + 1"))
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("%w: usage limit reached", pricing.ErrCouponInvalid)
			}
		}

		created = models.Reservation{
			Code:            code,
			UserID:          userID,
			ServiceID:       svc.ID,
			AddressID:       address.ID,
			PricingOptionID: quote.PricingOptionID,
			PackageID:       quote.PackageID,
			CouponID:        quote.CouponID,
			ScheduledAt:     in.ScheduledAt,
			Status:          models.StatusPending,
			Subtotal:        quote.Subtotal,
			Discount:        quote.Discount,
			FinalPrice:      quote.FinalPrice,
			DisplayName:     quote.DisplayName,
			PricingData:     datatypes.JSONMap(quote.PricingData),
			Notes:           in.Notes,
		}
		if err := tx.Create(&created).Error; err != nil {
			return fmt.Errorf("create reservation: %w", err)
		}

		if err := tx.First(&user, "id = ?", userID).Error; err != nil {
			return err
		}
		created.User = &user
		created.Address = address
		return nil
	})
	if err != nil {
		return nil, err
	}

	svc.PricingOptions, svc.FormulaVariables, svc.Packages = nil, nil, nil
	created.Service = svc

	s.log.Info("reservation created",
		zap.String("reservation_id", created.ID.String()),
		zap.String("code", created.Code),
		zap.String("user_id", userID.String()),
		zap.Float64("final_price", created.FinalPrice),
	)

	if s.notifier != nil {
		r := created
		go s.notifier.ReservationCreated(context.Background(), r)
	}
	return &created, nil
}

func (s *ReservationService) resolveAddress(tx *gorm.DB, userID uuid.UUID, in CreateReservationInput) (*models.UserAddress, error) {
	if in.AddressID != nil {
		var addr models.UserAddress
		if err := tx.First(&addr, "id = ? AND user_id = ?", *in.AddressID, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrAddressNotFound
			}
			return nil, err
		}
		return &addr, nil
	}

	if in.Address == nil {
		return nil, ErrAddressRequired
	}

	addr := models.UserAddress{
		UserID:      userID,
		Label:       in.Address.Label,
		AddressLine: in.Address.AddressLine,
		Apartment:   in.Address.Apartment,
		City:        in.Address.City,
		District:    in.Address.District,
		Reference:   in.Address.Reference,
	}
	if err := tx.Create(&addr).Error; err != nil {
		return nil, fmt.Errorf("create address: %w", err)
	}
	return &addr, nil
}

// Cancel lets a customer cancel one of their own pending reservations.
func (s *ReservationService) Cancel(ctx context.Context, userID, id uuid.UUID, reason string) (*models.Reservation, error) {
	var r models.Reservation
	if err := s.db.WithContext(ctx).First(&r, "id = ? AND user_id = ?", id, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReservationNotFound
		}
		return nil, err
	}
	if r.Status != models.StatusPending {
		return nil, fmt.Errorf("%w: only pending reservations can be cancelled", reservation.ErrInvalidTransition)
	}
	return s.UpdateStatus(ctx, id, models.StatusCancelled, reason, nil)
}

// UpdateStatus applies a lifecycle transition. When allyID is set the
// reservation must be assigned to that ally.
func (s *ReservationService) UpdateStatus(ctx context.Context, id uuid.UUID, to models.ReservationStatus, reason string, allyID *uuid.UUID) (*models.Reservation, error) {
	db := s.db.WithContext(ctx)

	var r models.Reservation
	if err := db.First(&r, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReservationNotFound
		}
		return nil, err
	}
	if allyID != nil && (r.AllyID == nil || *r.AllyID != *allyID) {
		return nil, ErrReservationNotFound
	}
	if err := reservation.Transition(r.Status, to); err != nil {
		return nil, err
	}

	now := s.now()
	updates := map[string]any{"status": to}
	switch to {
	case models.StatusCompleted:
		updates["completed_at"] = &now
	case models.StatusCancelled:
		updates["cancelled_at"] = &now
		updates["cancelled_reason"] = reason
	}

	res := db.Model(&models.Reservation{}).
		Where("id = ? AND status = ?", id, r.Status).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: reservation changed concurrently", reservation.ErrInvalidTransition)
	}

	if err := db.Preload("User").Preload("Service").Preload("Address").Preload("Ally").
		First(&r, "id = ?", id).Error; err != nil {
		return nil, err
	}

	s.log.Info("reservation status changed",
		zap.String("reservation_id", id.String()),
		zap.String("status", string(to)),
	)

	if s.notifier != nil {
		snapshot := r
		go s.notifier.ReservationStatusChanged(context.Background(), snapshot)
	}
	return &r, nil
}

// AssignAlly sets or clears (allyID == nil) the ally of a reservation.
func (s *ReservationService) AssignAlly(ctx context.Context, id uuid.UUID, allyID *uuid.UUID) (*models.Reservation, error) {
	db := s.db.WithContext(ctx)

	var r models.Reservation
	if err := db.First(&r, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReservationNotFound
		}
		return nil, err
	}
	if reservation.IsTerminal(r.Status) {
		return nil, fmt.Errorf("%w: reservation is %s", reservation.ErrInvalidTransition, r.Status)
	}

	if allyID != nil {
		var ally models.Ally
		if err := db.First(&ally, "id = ? AND is_active = ?", *allyID, true).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrAllyNotFound
			}
			return nil, err
		}
	}

	if err := db.Model(&models.Reservation{}).Where("id = ?", id).
		Update("ally_id", allyID).Error; err != nil {
		return nil, err
	}

	if err := db.Preload("User").Preload("Service").Preload("Address").Preload("Ally").
		First(&r, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// DueForReminder returns open reservations scheduled in [from, to).
func (s *ReservationService) DueForReminder(ctx context.Context, from, to time.Time) ([]models.Reservation, error) {
	var out []models.Reservation
	err := s.db.WithContext(ctx).Preload("User").
		Where("scheduled_at >= ? AND scheduled_at < ? AND status IN ?", from, to,
			[]models.ReservationStatus{models.StatusPending, models.StatusInProgress}).
		Order("scheduled_at asc").
		Find(&out).Error
	return out, err
}
