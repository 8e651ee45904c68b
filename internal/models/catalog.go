package models

import (
	"time"

	"github.com/google/uuid"
)

// PricingModel selects how a service computes its price.
type PricingModel string

const (
	PricingPackage PricingModel = "PACKAGE_BASED"
	PricingFormula PricingModel = "FORMULA_BASED"
	PricingItem    PricingModel = "ITEM_BASED"
	PricingQuote   PricingModel = "QUOTE_BASED"
)

// Valid reports whether m is a known pricing model.
func (m PricingModel) Valid() bool {
	switch m {
	case PricingPackage, PricingFormula, PricingItem, PricingQuote:
		return true
	}
	return false
}

type Service struct {
	BaseModel
	Name             string            `json:"name"`
	Slug             string            `gorm:"uniqueIndex" json:"slug"`
	Description      string            `json:"description"`
	ImageURL         string            `json:"image_url"`
	PricingModel     PricingModel      `gorm:"type:varchar(32);not null" json:"pricing_model"`
	BasePrice        float64           `json:"base_price"`
	IsActive         bool              `gorm:"default:true" json:"is_active"`
	SortOrder        int               `json:"sort_order"`
	QuoteMessage     string            `json:"quote_message"`
	PricingOptions   []PricingOption   `json:"pricing_options,omitempty"`
	FormulaVariables []FormulaVariable `json:"formula_variables,omitempty"`
	Packages         []Package         `json:"packages,omitempty"`
}

// PricingOption is a selectable priced unit of a service. For item-based
// services the options are the catalog items and BasePrice is the unit price.
type PricingOption struct {
	BaseModel
	ServiceID   uuid.UUID `gorm:"type:uuid;index;not null" json:"service_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	BasePrice   float64   `json:"base_price"`
	Hours       float64   `json:"hours"`
	Unit        string    `json:"unit"`
	IsActive    bool      `gorm:"default:true" json:"is_active"`
	SortOrder   int       `json:"sort_order"`
}

type FormulaVariable struct {
	BaseModel
	ServiceID    uuid.UUID `gorm:"type:uuid;index;not null" json:"service_id"`
	Name         string    `json:"name"`
	Label        string    `json:"label"`
	MinValue     float64   `json:"min_value"`
	MaxValue     float64   `json:"max_value"`
	Step         float64   `json:"step"`
	Multiplier   float64   `json:"multiplier"`
	DefaultValue float64   `json:"default_value"`
	Unit         string    `json:"unit"`
}

// Package is a prepaid multi-visit bundle with a fixed price.
type Package struct {
	BaseModel
	ServiceID   uuid.UUID `gorm:"type:uuid;index;not null" json:"service_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Visits      int       `json:"visits"`
	Price       float64   `json:"price"`
	IsActive    bool      `gorm:"default:true" json:"is_active"`
}

// DiscountType is how a coupon reduces the subtotal.
type DiscountType string

const (
	DiscountPercent DiscountType = "percent"
	DiscountFixed   DiscountType = "fixed"
)

type Coupon struct {
	BaseModel
	Code          string       `gorm:"uniqueIndex;not null" json:"code"`
	Description   string       `json:"description"`
	DiscountType  DiscountType `gorm:"type:varchar(16)" json:"discount_type"`
	DiscountValue float64      `json:"discount_value"`
	MaxUses       int          `json:"max_uses"`
	UsedCount     int          `json:"used_count"`
	ValidFrom     *time.Time   `json:"valid_from"`
	ValidUntil    *time.Time   `json:"valid_until"`
	IsActive      bool         `gorm:"default:true" json:"is_active"`
}
