package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/limpio/internal/models"
	"github.com/example/limpio/internal/pricing"
	"github.com/example/limpio/internal/services"
	"github.com/example/limpio/internal/utils"
	"github.com/example/limpio/internal/validation"
)

// CatalogHandler manages services and their pricing configuration.
type CatalogHandler struct {
	db               *gorm.DB
	cache            services.CatalogCache
	log              *zap.Logger
	fallbackWhatsApp string
}

// NewCatalogHandler constructs CatalogHandler.
func NewCatalogHandler(db *gorm.DB, cache services.CatalogCache, log *zap.Logger, fallbackWhatsApp string) *CatalogHandler {
	if cache == nil {
		cache = services.NoopCache{}
	}
	return &CatalogHandler{db: db, cache: cache, log: log, fallbackWhatsApp: fallbackWhatsApp}
}

func activeCatalog(db *gorm.DB) *gorm.DB {
	return db.
		Preload("PricingOptions", func(tx *gorm.DB) *gorm.DB {
			return tx.Where("is_active = ?", true).Order("sort_order asc, created_at asc")
		}).
		Preload("FormulaVariables").
		Preload("Packages", "is_active = ?", true)
}

// ListServices returns active services with their active pricing data.
func (h *CatalogHandler) ListServices(c *fiber.Ctx) error {
	ctx := c.UserContext()

	var items []models.Service
	if h.cache.Get(ctx, "services", &items) {
		return c.JSON(fiber.Map{"success": true, "data": items})
	}

	if err := activeCatalog(h.db).
		Where("is_active = ?", true).
		Order("sort_order asc, name asc").
		Find(&items).Error; err != nil {
		return err
	}

	h.cache.Set(ctx, "services", items)
	return c.JSON(fiber.Map{"success": true, "data": items})
}

// GetService returns one active service by id or slug.
func (h *CatalogHandler) GetService(c *fiber.Ctx) error {
	ctx := c.UserContext()
	key := c.Params("id")

	var svc models.Service
	if h.cache.Get(ctx, "service:"+key, &svc) {
		return c.JSON(fiber.Map{"success": true, "data": svc})
	}

	query := activeCatalog(h.db).Where("is_active = ?", true)
	if id, err := uuid.Parse(key); err == nil {
		query = query.Where("id = ?", id)
	} else {
		query = query.Where("slug = ?", key)
	}

	if err := query.First(&svc).Error; err != nil {
		return notFound(err, "service")
	}

	h.cache.Set(ctx, "service:"+key, svc)
	return c.JSON(fiber.Map{"success": true, "data": svc})
}

// QuoteLink returns the WhatsApp hand-off link for a service.
func (h *CatalogHandler) QuoteLink(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}

	var svc models.Service
	if err := h.db.First(&svc, "id = ? AND is_active = ?", id, true).Error; err != nil {
		return notFound(err, "service")
	}

	number := h.fallbackWhatsApp
	var settings models.BusinessSettings
	if err := h.db.First(&settings).Error; err == nil && settings.WhatsAppNumber != "" {
		number = settings.WhatsAppNumber
	} else if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	message := svc.QuoteMessage
	if message == "" {
		message = "Hola, quiero cotizar el servicio " + svc.Name
	}

	link := pricing.QuoteLink(number, message)
	if link == "" {
		return fiber.NewError(fiber.StatusServiceUnavailable, "whatsapp number not configured")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"service_id":    svc.ID,
			"pricing_model": svc.PricingModel,
			"url":           link,
		},
	})
}

// Admin: services

type serviceRequest struct {
	Name         string              `json:"name" validate:"required"`
	Slug         string              `json:"slug"`
	Description  string              `json:"description"`
	ImageURL     string              `json:"image_url" validate:"omitempty,url"`
	PricingModel models.PricingModel `json:"pricing_model" validate:"required,oneof=PACKAGE_BASED FORMULA_BASED ITEM_BASED QUOTE_BASED"`
	BasePrice    float64             `json:"base_price" validate:"gte=0"`
	IsActive     *bool               `json:"is_active"`
	SortOrder    int                 `json:"sort_order"`
	QuoteMessage string              `json:"quote_message"`
}

func (r serviceRequest) apply(svc *models.Service) {
	svc.Name = strings.TrimSpace(r.Name)
	svc.Slug = r.Slug
	if svc.Slug == "" {
		svc.Slug = slugify(svc.Name)
	}
	svc.Description = r.Description
	svc.ImageURL = r.ImageURL
	svc.PricingModel = r.PricingModel
	svc.BasePrice = r.BasePrice
	svc.SortOrder = r.SortOrder
	svc.QuoteMessage = r.QuoteMessage
	if r.IsActive != nil {
		svc.IsActive = *r.IsActive
	}
}

// AdminListServices returns every service, active or not.
func (h *CatalogHandler) AdminListServices(c *fiber.Ctx) error {
	pg := utils.ParsePagination(c)
	query := h.db.Model(&models.Service{})

	if search := c.Query("search"); search != "" {
		query = query.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(search)+"%")
	}
	if model := c.Query("pricing_model"); model != "" {
		query = query.Where("pricing_model = ?", model)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return err
	}

	var items []models.Service
	if err := query.Order("sort_order asc, created_at desc").
		Limit(pg.Limit).Offset(pg.Offset).
		Find(&items).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{"success": true, "data": items, "pagination": pg.Meta(total)})
}

// AdminGetService returns a service with all options, variables and packages.
func (h *CatalogHandler) AdminGetService(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}

	svc, err := services.LoadService(c.UserContext(), h.db, id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": svc})
}

// CreateService persists a new service.
func (h *CatalogHandler) CreateService(c *fiber.Ctx) error {
	var req serviceRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	svc := models.Service{IsActive: true}
	req.apply(&svc)

	if err := createRecord(h.db, &svc, svc.IsActive); err != nil {
		return err
	}

	h.cache.Invalidate(c.UserContext())
	h.log.Info("service created", zap.String("service_id", svc.ID.String()), zap.String("slug", svc.Slug))
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": svc})
}

// UpdateService replaces the editable fields of a service.
func (h *CatalogHandler) UpdateService(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}

	var svc models.Service
	if err := h.db.First(&svc, "id = ?", id).Error; err != nil {
		return notFound(err, "service")
	}

	var req serviceRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	req.apply(&svc)

	if err := h.db.Save(&svc).Error; err != nil {
		return err
	}

	h.cache.Invalidate(c.UserContext())
	return c.JSON(fiber.Map{"success": true, "data": svc})
}

// DeleteService removes a service and its pricing data. Services that
// already have reservations must be deactivated instead.
func (h *CatalogHandler) DeleteService(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}

	var count int64
	if err := h.db.Model(&models.Reservation{}).Where("service_id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return fiber.NewError(fiber.StatusConflict, "service has reservations, deactivate it instead")
	}

	err = h.db.Transaction(func(tx *gorm.DB) error {
		for _, child := range []any{&models.PricingOption{}, &models.FormulaVariable{}, &models.Package{}} {
			if err := tx.Where("service_id = ?", id).Delete(child).Error; err != nil {
				return err
			}
		}
		res := tx.Delete(&models.Service{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		return notFound(err, "service")
	}

	h.cache.Invalidate(c.UserContext())
	return c.SendStatus(fiber.StatusNoContent)
}

// Admin: pricing options

type pricingOptionRequest struct {
	Name        string  `json:"name" validate:"required"`
	Description string  `json:"description"`
	BasePrice   float64 `json:"base_price" validate:"gte=0"`
	Hours       float64 `json:"hours" validate:"gte=0"`
	Unit        string  `json:"unit"`
	IsActive    *bool   `json:"is_active"`
	SortOrder   int     `json:"sort_order"`
}

func (r pricingOptionRequest) apply(o *models.PricingOption) {
	o.Name = r.Name
	o.Description = r.Description
	o.BasePrice = r.BasePrice
	o.Hours = r.Hours
	o.Unit = r.Unit
	o.SortOrder = r.SortOrder
	if r.IsActive != nil {
		o.IsActive = *r.IsActive
	}
}

// ListPricingOptions returns every option of a service.
func (h *CatalogHandler) ListPricingOptions(c *fiber.Ctx) error {
	serviceID, err := paramID(c, "id")
	if err != nil {
		return err
	}

	var items []models.PricingOption
	if err := h.db.Where("service_id = ?", serviceID).
		Order("sort_order asc, created_at asc").
		Find(&items).Error; err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": items})
}

// CreatePricingOption adds an option to a service.
func (h *CatalogHandler) CreatePricingOption(c *fiber.Ctx) error {
	svc, err := h.serviceFromParam(c)
	if err != nil {
		return err
	}

	var req pricingOptionRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	opt := models.PricingOption{ServiceID: svc.ID, IsActive: true}
	req.apply(&opt)
	if err := createRecord(h.db, &opt, opt.IsActive); err != nil {
		return err
	}

	h.cache.Invalidate(c.UserContext())
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": opt})
}

// UpdatePricingOption edits an option.
func (h *CatalogHandler) UpdatePricingOption(c *fiber.Ctx) error {
	id, err := paramID(c, "optionId")
	if err != nil {
		return err
	}

	var opt models.PricingOption
	if err := h.db.First(&opt, "id = ?", id).Error; err != nil {
		return notFound(err, "pricing option")
	}

	var req pricingOptionRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	req.apply(&opt)

	if err := h.db.Save(&opt).Error; err != nil {
		return err
	}

	h.cache.Invalidate(c.UserContext())
	return c.JSON(fiber.Map{"success": true, "data": opt})
}

// DeletePricingOption removes an option.
func (h *CatalogHandler) DeletePricingOption(c *fiber.Ctx) error {
	return h.deleteChild(c, "optionId", &models.PricingOption{}, "pricing option")
}

// Admin: formula variables

type formulaVariableRequest struct {
	Name         string  `json:"name" validate:"required"`
	Label        string  `json:"label" validate:"required"`
	MinValue     float64 `json:"min_value"`
	MaxValue     float64 `json:"max_value"`
	Step         float64 `json:"step" validate:"gte=0"`
	Multiplier   float64 `json:"multiplier"`
	DefaultValue float64 `json:"default_value"`
	Unit         string  `json:"unit"`
}

func (r formulaVariableRequest) validate() error {
	if r.MaxValue < r.MinValue {
		return validation.NewError("max_value", "must be greater than or equal to min_value")
	}
	if r.DefaultValue < r.MinValue || r.DefaultValue > r.MaxValue {
		return validation.NewError("default_value", "must lie between min_value and max_value")
	}
	return nil
}

func (r formulaVariableRequest) apply(v *models.FormulaVariable) {
	v.Name = strings.ToLower(strings.TrimSpace(r.Name))
	v.Label = r.Label
	v.MinValue = r.MinValue
	v.MaxValue = r.MaxValue
	v.Step = r.Step
	v.Multiplier = r.Multiplier
	v.DefaultValue = r.DefaultValue
	v.Unit = r.Unit
}

// ListFormulaVariables returns the variables of a service.
func (h *CatalogHandler) ListFormulaVariables(c *fiber.Ctx) error {
	serviceID, err := paramID(c, "id")
	if err != nil {
		return err
	}

	var items []models.FormulaVariable
	if err := h.db.Where("service_id = ?", serviceID).Order("created_at asc").Find(&items).Error; err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": items})
}

// CreateFormulaVariable adds a variable to a formula-priced service.
func (h *CatalogHandler) CreateFormulaVariable(c *fiber.Ctx) error {
	svc, err := h.serviceFromParam(c)
	if err != nil {
		return err
	}
	if svc.PricingModel != models.PricingFormula {
		return fiber.NewError(fiber.StatusBadRequest, "formula variables only apply to FORMULA_BASED services")
	}

	var req formulaVariableRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if err := req.validate(); err != nil {
		return err
	}

	v := models.FormulaVariable{ServiceID: svc.ID}
	req.apply(&v)

	var dup int64
	if err := h.db.Model(&models.FormulaVariable{}).
		Where("service_id = ? AND name = ?", svc.ID, v.Name).
		Count(&dup).Error; err != nil {
		return err
	}
	if dup > 0 {
		return fiber.NewError(fiber.StatusConflict, "variable already exists")
	}

	if err := h.db.Create(&v).Error; err != nil {
		return err
	}

	h.cache.Invalidate(c.UserContext())
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": v})
}

// UpdateFormulaVariable edits a variable.
func (h *CatalogHandler) UpdateFormulaVariable(c *fiber.Ctx) error {
	id, err := paramID(c, "variableId")
	if err != nil {
		return err
	}

	var v models.FormulaVariable
	if err := h.db.First(&v, "id = ?", id).Error; err != nil {
		return notFound(err, "formula variable")
	}

	var req formulaVariableRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if err := req.validate(); err != nil {
		return err
	}
	req.apply(&v)

	if err := h.db.Save(&v).Error; err != nil {
		return err
	}

	h.cache.Invalidate(c.UserContext())
	return c.JSON(fiber.Map{"success": true, "data": v})
}

// DeleteFormulaVariable removes a variable.
func (h *CatalogHandler) DeleteFormulaVariable(c *fiber.Ctx) error {
	return h.deleteChild(c, "variableId", &models.FormulaVariable{}, "formula variable")
}

// Admin: packages

type packageRequest struct {
	Name        string  `json:"name" validate:"required"`
	Description string  `json:"description"`
	Visits      int     `json:"visits" validate:"gte=1"`
	Price       float64 `json:"price" validate:"gte=0"`
	IsActive    *bool   `json:"is_active"`
}

func (r packageRequest) apply(p *models.Package) {
	p.Name = r.Name
	p.Description = r.Description
	p.Visits = r.Visits
	p.Price = r.Price
	if r.IsActive != nil {
		p.IsActive = *r.IsActive
	}
}

// ListPackages returns the packages of a service.
func (h *CatalogHandler) ListPackages(c *fiber.Ctx) error {
	serviceID, err := paramID(c, "id")
	if err != nil {
		return err
	}

	var items []models.Package
	if err := h.db.Where("service_id = ?", serviceID).Order("visits asc").Find(&items).Error; err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": items})
}

// CreatePackage adds a multi-visit package to a service.
func (h *CatalogHandler) CreatePackage(c *fiber.Ctx) error {
	svc, err := h.serviceFromParam(c)
	if err != nil {
		return err
	}
	if svc.PricingModel == models.PricingQuote {
		return fiber.NewError(fiber.StatusBadRequest, "quote-based services cannot have packages")
	}

	var req packageRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	p := models.Package{ServiceID: svc.ID, IsActive: true}
	req.apply(&p)
	if err := createRecord(h.db, &p, p.IsActive); err != nil {
		return err
	}

	h.cache.Invalidate(c.UserContext())
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": p})
}

// UpdatePackage edits a package.
func (h *CatalogHandler) UpdatePackage(c *fiber.Ctx) error {
	id, err := paramID(c, "packageId")
	if err != nil {
		return err
	}

	var p models.Package
	if err := h.db.First(&p, "id = ?", id).Error; err != nil {
		return notFound(err, "package")
	}

	var req packageRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	req.apply(&p)

	if err := h.db.Save(&p).Error; err != nil {
		return err
	}

	h.cache.Invalidate(c.UserContext())
	return c.JSON(fiber.Map{"success": true, "data": p})
}

// DeletePackage removes a package.
func (h *CatalogHandler) DeletePackage(c *fiber.Ctx) error {
	return h.deleteChild(c, "packageId", &models.Package{}, "package")
}

func (h *CatalogHandler) serviceFromParam(c *fiber.Ctx) (*models.Service, error) {
	id, err := paramID(c, "id")
	if err != nil {
		return nil, err
	}

	var svc models.Service
	if err := h.db.First(&svc, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "service")
	}
	return &svc, nil
}

func (h *CatalogHandler) deleteChild(c *fiber.Ctx, param string, model any, what string) error {
	id, err := paramID(c, param)
	if err != nil {
		return err
	}

	res := h.db.Delete(model, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fiber.NewError(fiber.StatusNotFound, what+" not found")
	}

	h.cache.Invalidate(c.UserContext())
	return c.SendStatus(fiber.StatusNoContent)
}

func slugify(s string) string {
	return slug.MakeLang(s, "es")
}
