package models

import (
	"time"

	"github.com/google/uuid"
)

// CarnetType distinguishes temporary (CVT) from permanent (CVU) ally carnets.
type CarnetType string

const (
	CarnetTemporary CarnetType = "CVT"
	CarnetPermanent CarnetType = "CVU"
)

// Ally is a field worker assigned to fulfil reservations.
type Ally struct {
	BaseModel
	UserID          *uuid.UUID `gorm:"type:uuid;index" json:"user_id"`
	FirstName       string     `json:"first_name"`
	LastName        string     `json:"last_name"`
	Phone           string     `gorm:"uniqueIndex" json:"phone"`
	DocumentNumber  string     `json:"document_number"`
	PhotoURL        string     `json:"photo_url"`
	IsActive        bool       `gorm:"default:true" json:"is_active"`
	CarnetType      CarnetType `gorm:"type:varchar(8)" json:"carnet_type"`
	CarnetCode      *string    `gorm:"uniqueIndex" json:"carnet_code"`
	CarnetIssuedAt  *time.Time `json:"carnet_issued_at"`
	CarnetExpiresAt *time.Time `json:"carnet_expires_at"`
}

// CarnetValid reports whether the ally holds a usable carnet at now.
func (a Ally) CarnetValid(now time.Time) bool {
	if !a.IsActive || a.CarnetCode == nil || a.CarnetType == "" {
		return false
	}
	if a.CarnetExpiresAt != nil && !now.Before(*a.CarnetExpiresAt) {
		return false
	}
	return true
}
