// Package pricing computes reservation prices for each service pricing model.
//
// All functions are pure: callers load the service with its options,
// variables and packages and pass the customer's selection in.
package pricing

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/limpio/internal/models"
)

// QuantityVariable is the only formula variable that scales the price.
const QuantityVariable = "cantidad"

var (
	ErrQuoteRequired      = errors.New("service is priced by quote")
	ErrServiceInactive    = errors.New("service is not active")
	ErrUnsupportedModel   = errors.New("unsupported pricing model")
	ErrOptionNotFound     = errors.New("pricing option not found")
	ErrPackageNotFound    = errors.New("package not found")
	ErrItemNotFound       = errors.New("item not found")
	ErrInvalidQuantity    = errors.New("invalid quantity")
	ErrUnknownVariable    = errors.New("unknown formula variable")
	ErrVariableOutOfRange = errors.New("formula variable out of range")
	ErrCouponInvalid      = errors.New("coupon is not valid")
)

// ItemQuantity is one line of an item-based selection.
type ItemQuantity struct {
	OptionID uuid.UUID `json:"option_id" validate:"required"`
	Quantity int       `json:"quantity"`
}

// Selection carries the customer's pricing inputs. Which fields matter
// depends on the service pricing model.
type Selection struct {
	OptionID  *uuid.UUID         `json:"option_id"`
	PackageID *uuid.UUID         `json:"package_id"`
	Variables map[string]float64 `json:"variables"`
	Items     []ItemQuantity     `json:"items" validate:"dive"`
}

// Result is shared by every pricing model and feeds the reservation summary.
type Result struct {
	CalculatedPrice float64        `json:"calculated_price"`
	DisplayName     string         `json:"display_name"`
	PricingData     map[string]any `json:"pricing_data"`
	PricingOptionID *uuid.UUID     `json:"pricing_option_id,omitempty"`
	PackageID       *uuid.UUID     `json:"package_id,omitempty"`
}

// Calculate dispatches on the service pricing model. A package selection
// overrides the model for any service that is not quote-based.
func Calculate(svc models.Service, sel Selection) (Result, error) {
	if !svc.IsActive {
		return Result{}, ErrServiceInactive
	}
	if svc.PricingModel == models.PricingQuote {
		return Result{}, ErrQuoteRequired
	}
	if sel.PackageID != nil {
		return packagePrice(svc, *sel.PackageID)
	}

	switch svc.PricingModel {
	case models.PricingPackage:
		return optionPrice(svc, sel)
	case models.PricingFormula:
		return formulaPrice(svc, sel)
	case models.PricingItem:
		return itemPrice(svc, sel)
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnsupportedModel, svc.PricingModel)
	}
}

func optionPrice(svc models.Service, sel Selection) (Result, error) {
	if sel.OptionID == nil {
		return Result{}, ErrOptionNotFound
	}
	opt, ok := findOption(svc.PricingOptions, *sel.OptionID)
	if !ok {
		return Result{}, ErrOptionNotFound
	}

	id := opt.ID
	return Result{
		CalculatedPrice: opt.BasePrice,
		DisplayName:     svc.Name + " - " + opt.Name,
		PricingOptionID: &id,
		PricingData: map[string]any{
			"model":      string(svc.PricingModel),
			"option_id":  opt.ID.String(),
			"option":     opt.Name,
			"base_price": opt.BasePrice,
			"hours":      opt.Hours,
		},
	}, nil
}

func formulaPrice(svc models.Service, sel Selection) (Result, error) {
	known := make(map[string]models.FormulaVariable, len(svc.FormulaVariables))
	for _, v := range svc.FormulaVariables {
		known[v.Name] = v
	}
	for name := range sel.Variables {
		if _, ok := known[name]; !ok && name != QuantityVariable {
			return Result{}, fmt.Errorf("%w: %s", ErrUnknownVariable, name)
		}
	}

	values := make(map[string]float64, len(known)+1)
	for _, v := range svc.FormulaVariables {
		value, ok := sel.Variables[v.Name]
		if !ok {
			value = v.DefaultValue
		}
		if value < v.MinValue || (v.MaxValue > 0 && value > v.MaxValue) {
			return Result{}, fmt.Errorf("%w: %s must be between %g and %g", ErrVariableOutOfRange, v.Name, v.MinValue, v.MaxValue)
		}
		values[v.Name] = value
	}

	qty, ok := values[QuantityVariable]
	if !ok {
		// Services without a configured quantity variable price one unit
		// unless the client sends a positive cantidad.
		qty = 1
		if sent, has := sel.Variables[QuantityVariable]; has {
			if sent <= 0 {
				return Result{}, fmt.Errorf("%w: %s must be positive", ErrVariableOutOfRange, QuantityVariable)
			}
			qty = sent
		}
		values[QuantityVariable] = qty
	}

	// Only cantidad scales the price. altura and the rest are recorded as
	// chosen but carry no price effect.
	price := svc.BasePrice * qty

	label := QuantityVariable
	if v, ok := known[QuantityVariable]; ok && v.Label != "" {
		label = v.Label
	}

	return Result{
		CalculatedPrice: price,
		DisplayName:     fmt.Sprintf("%s (%s: %g)", svc.Name, label, qty),
		PricingData: map[string]any{
			"model":      string(svc.PricingModel),
			"base_price": svc.BasePrice,
			"variables":  values,
		},
	}, nil
}

func itemPrice(svc models.Service, sel Selection) (Result, error) {
	var (
		total float64
		count int
		lines = make([]map[string]any, 0, len(sel.Items))
	)

	for _, it := range sel.Items {
		if it.Quantity < 0 {
			return Result{}, fmt.Errorf("%w: %d", ErrInvalidQuantity, it.Quantity)
		}
		opt, ok := findOption(svc.PricingOptions, it.OptionID)
		if !ok {
			return Result{}, fmt.Errorf("%w: %s", ErrItemNotFound, it.OptionID)
		}
		if it.Quantity == 0 {
			continue
		}

		lineTotal := opt.BasePrice * float64(it.Quantity)
		total += lineTotal
		count += it.Quantity
		lines = append(lines, map[string]any{
			"option_id":  opt.ID.String(),
			"name":       opt.Name,
			"unit_price": opt.BasePrice,
			"quantity":   it.Quantity,
			"line_total": lineTotal,
		})
	}

	return Result{
		CalculatedPrice: total,
		DisplayName:     fmt.Sprintf("%s (%d items)", svc.Name, count),
		PricingData: map[string]any{
			"model": string(svc.PricingModel),
			"items": lines,
		},
	}, nil
}

func packagePrice(svc models.Service, id uuid.UUID) (Result, error) {
	for _, p := range svc.Packages {
		if p.ID != id || !p.IsActive {
			continue
		}
		pkgID := p.ID
		return Result{
			CalculatedPrice: p.Price,
			DisplayName:     svc.Name + " - " + p.Name,
			PackageID:       &pkgID,
			PricingData: map[string]any{
				"model":      "PACKAGE",
				"package_id": p.ID.String(),
				"package":    p.Name,
				"visits":     p.Visits,
				"price":      p.Price,
			},
		}, nil
	}
	return Result{}, ErrPackageNotFound
}

func findOption(options []models.PricingOption, id uuid.UUID) (models.PricingOption, bool) {
	for _, o := range options {
		if o.ID == id && o.IsActive {
			return o, true
		}
	}
	return models.PricingOption{}, false
}

// ApplyCoupon returns the discount and the final price for subtotal.
// A nil coupon leaves the subtotal untouched.
func ApplyCoupon(subtotal float64, c *models.Coupon, now time.Time) (discount, final float64, err error) {
	if c == nil {
		return 0, subtotal, nil
	}
	if err := CheckCoupon(c, now); err != nil {
		return 0, subtotal, err
	}

	switch c.DiscountType {
	case models.DiscountPercent:
		discount = subtotal * c.DiscountValue / 100
	case models.DiscountFixed:
		discount = c.DiscountValue
	default:
		return 0, subtotal, fmt.Errorf("%w: unknown discount type %q", ErrCouponInvalid, c.DiscountType)
	}

	if discount > subtotal {
		discount = subtotal
	}
	if discount < 0 {
		discount = 0
	}
	return discount, subtotal - discount, nil
}

// CheckCoupon validates activity, validity window and usage limit.
func CheckCoupon(c *models.Coupon, now time.Time) error {
	switch {
	case !c.IsActive:
		return fmt.Errorf("%w: inactive", ErrCouponInvalid)
	case c.ValidFrom != nil && now.Before(*c.ValidFrom):
		return fmt.Errorf("%w: not yet valid", ErrCouponInvalid)
	case c.ValidUntil != nil && now.After(*c.ValidUntil):
		return fmt.Errorf("%w: expired", ErrCouponInvalid)
	case c.MaxUses > 0 && c.UsedCount >= c.MaxUses:
		return fmt.Errorf("%w: usage limit reached", ErrCouponInvalid)
	}
	return nil
}

// NormalizeCouponCode upper-cases and trims a customer-entered code.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// QuoteLink builds the WhatsApp hand-off link for quote-based services.
// It returns "" when no business number is configured.
func QuoteLink(number, message string) string {
	var digits strings.Builder
	for _, r := range number {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return ""
	}

	link := "https://wa.me/" + digits.String()
	if message != "" {
		link += "?text=" + url.QueryEscape(message)
	}
	return link
}
