package models

import "github.com/google/uuid"

type UserAddress struct {
	BaseModel
	UserID      uuid.UUID `gorm:"type:uuid;index" json:"user_id"`
	Label       string    `json:"label"`
	AddressLine string    `json:"address_line"`
	Apartment   string    `json:"apartment"`
	City        string    `json:"city"`
	District    string    `json:"district"`
	Reference   string    `json:"reference"`
	IsDefault   bool      `json:"is_default"`
}

// OneLine renders the address for notifications.
func (a UserAddress) OneLine() string {
	line := a.AddressLine
	if a.Apartment != "" {
		line += ", " + a.Apartment
	}
	if a.District != "" {
		line += ", " + a.District
	}
	if a.City != "" {
		line += ", " + a.City
	}
	return line
}
