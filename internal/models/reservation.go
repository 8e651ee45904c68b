package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ReservationStatus is the lifecycle state of a reservation.
type ReservationStatus string

const (
	StatusPending    ReservationStatus = "pending"
	StatusInProgress ReservationStatus = "in_progress"
	StatusCompleted  ReservationStatus = "completed"
	StatusCancelled  ReservationStatus = "cancelled"
)

type Reservation struct {
	BaseModel
	Code            string            `gorm:"uniqueIndex" json:"code"`
	UserID          uuid.UUID         `gorm:"type:uuid;index;not null" json:"user_id"`
	User            *User             `json:"user,omitempty"`
	ServiceID       uuid.UUID         `gorm:"type:uuid;index;not null" json:"service_id"`
	Service         *Service          `json:"service,omitempty"`
	AddressID       uuid.UUID         `gorm:"type:uuid;not null" json:"address_id"`
	Address         *UserAddress      `json:"address,omitempty"`
	PricingOptionID *uuid.UUID        `gorm:"type:uuid" json:"pricing_option_id"`
	PackageID       *uuid.UUID        `gorm:"type:uuid" json:"package_id"`
	CouponID        *uuid.UUID        `gorm:"type:uuid" json:"coupon_id"`
	AllyID          *uuid.UUID        `gorm:"type:uuid;index" json:"ally_id"`
	Ally            *Ally             `json:"ally,omitempty"`
	ScheduledAt     time.Time         `gorm:"index" json:"scheduled_at"`
	Status          ReservationStatus `gorm:"type:varchar(16);index;default:pending" json:"status"`
	Subtotal        float64           `json:"subtotal"`
	Discount        float64           `json:"discount"`
	FinalPrice      float64           `json:"final_price"`
	DisplayName     string            `json:"display_name"`
	PricingData     datatypes.JSONMap `gorm:"type:jsonb" json:"pricing_data"`
	Notes           string            `json:"notes"`
	CancelledReason string            `json:"cancelled_reason"`
	CompletedAt     *time.Time        `json:"completed_at"`
	CancelledAt     *time.Time        `json:"cancelled_at"`
}
