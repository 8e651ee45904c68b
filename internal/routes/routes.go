package routes

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/limpio/internal/config"
	"github.com/example/limpio/internal/handlers"
	"github.com/example/limpio/internal/middleware"
	"github.com/example/limpio/internal/models"
	"github.com/example/limpio/internal/services"
	"github.com/example/limpio/internal/utils"
)

// Deps are the long-lived services the routes need. main builds them once.
type Deps struct {
	DB           *gorm.DB
	Config       *config.Config
	Log          *zap.Logger
	Sessions     *services.SessionService
	Reservations *services.ReservationService
	Cache        services.CatalogCache
	ResetSender  handlers.ResetCodeSender
	AuthLimiter  *middleware.RateLimiter
}

// Register wires up all HTTP routes.
func Register(app *fiber.App, d Deps) {
	cfg := d.Config
	cookies := utils.CookieOptions{Secure: cfg.CookieSecure, Domain: cfg.CookieDomain}

	authHandler := handlers.NewAuthHandler(d.DB, d.Sessions, cookies, d.Log)
	resetHandler := handlers.NewPasswordResetHandler(d.DB, d.ResetSender, d.Sessions, d.Log, !cfg.IsProduction())
	catalogHandler := handlers.NewCatalogHandler(d.DB, d.Cache, d.Log, cfg.BusinessWhatsApp)
	reservationHandler := handlers.NewReservationHandler(d.DB, d.Reservations, d.Log)
	profileHandler := handlers.NewProfileHandler(d.DB)
	couponHandler := handlers.NewCouponHandler(d.DB)
	allyHandler := handlers.NewAllyHandler(d.DB, d.Log, cfg.CarnetCVTDays)
	settingsHandler := handlers.NewSettingsHandler(d.DB, models.BusinessSettings{
		WhatsAppNumber: cfg.BusinessWhatsApp,
	})
	adminHandler := handlers.NewAdminHandler(d.DB, d.Sessions, d.Log)

	requireAuth := middleware.AuthMiddleware(d.Sessions, cookies)
	limiter := d.AuthLimiter
	if limiter == nil {
		limiter = middleware.NewRateLimiter(cfg.AuthRatePerMinute, d.Log)
	}
	authLimit := limiter.Handler()

	api := app.Group("/api")

	// Auth routes
	auth := api.Group("/auth")
	auth.Post("/register", authLimit, authHandler.Register)
	auth.Post("/login", authLimit, authHandler.Login)
	auth.Post("/refresh", authHandler.Refresh)
	auth.Post("/logout", requireAuth, authHandler.Logout)
	auth.Get("/me", requireAuth, authHandler.Me)
	auth.Post("/forgot-password", authLimit, resetHandler.ForgotPassword)
	auth.Post("/verify-reset-code", authLimit, resetHandler.VerifyResetCode)
	auth.Post("/reset-password", authLimit, resetHandler.ResetPassword)

	// Public catalog
	api.Get("/services", catalogHandler.ListServices)
	api.Get("/services/:id", catalogHandler.GetService)
	api.Get("/services/:id/quote-link", catalogHandler.QuoteLink)
	api.Post("/pricing/quote", reservationHandler.PreviewPrice)
	api.Post("/coupons/validate", couponHandler.Validate)
	api.Get("/settings", settingsHandler.Get)
	api.Get("/carnets/:code", allyHandler.VerifyCarnet)

	// Customer routes
	reservations := api.Group("/reservations", requireAuth)
	reservations.Post("/", reservationHandler.Create)
	reservations.Get("/", reservationHandler.ListMine)
	reservations.Get("/:id", reservationHandler.GetMine)
	reservations.Post("/:id/cancel", reservationHandler.CancelMine)

	profile := api.Group("/profile", requireAuth)
	profile.Get("/", profileHandler.GetProfile)
	profile.Put("/", profileHandler.UpdateProfile)
	profile.Get("/addresses", profileHandler.ListAddresses)
	profile.Post("/addresses", profileHandler.CreateAddress)
	profile.Put("/addresses/:id", profileHandler.UpdateAddress)
	profile.Delete("/addresses/:id", profileHandler.DeleteAddress)

	// Ally routes
	ally := api.Group("/ally", requireAuth, middleware.RequireRole(models.RoleAlly))
	ally.Get("/reservations", reservationHandler.AllyList)
	ally.Patch("/reservations/:id/status", reservationHandler.AllyUpdateStatus)

	// Admin routes
	admin := api.Group("/admin", requireAuth, middleware.RequireRole(models.RoleAdmin))

	admin.Get("/dashboard/stats", adminHandler.DashboardStats)
	admin.Get("/dashboard/recent-reservations", adminHandler.RecentReservations)
	admin.Get("/users", adminHandler.ListAllUsers)
	admin.Patch("/users/:id", adminHandler.UpdateUser)

	admin.Get("/services", catalogHandler.AdminListServices)
	admin.Post("/services", catalogHandler.CreateService)
	admin.Get("/services/:id", catalogHandler.AdminGetService)
	admin.Put("/services/:id", catalogHandler.UpdateService)
	admin.Delete("/services/:id", catalogHandler.DeleteService)

	admin.Get("/services/:id/options", catalogHandler.ListPricingOptions)
	admin.Post("/services/:id/options", catalogHandler.CreatePricingOption)
	admin.Put("/options/:optionId", catalogHandler.UpdatePricingOption)
	admin.Delete("/options/:optionId", catalogHandler.DeletePricingOption)

	admin.Get("/services/:id/variables", catalogHandler.ListFormulaVariables)
	admin.Post("/services/:id/variables", catalogHandler.CreateFormulaVariable)
	admin.Put("/variables/:variableId", catalogHandler.UpdateFormulaVariable)
	admin.Delete("/variables/:variableId", catalogHandler.DeleteFormulaVariable)

	admin.Get("/services/:id/packages", catalogHandler.ListPackages)
	admin.Post("/services/:id/packages", catalogHandler.CreatePackage)
	admin.Put("/packages/:packageId", catalogHandler.UpdatePackage)
	admin.Delete("/packages/:packageId", catalogHandler.DeletePackage)

	admin.Get("/coupons", couponHandler.List)
	admin.Post("/coupons", couponHandler.Create)
	admin.Put("/coupons/:id", couponHandler.Update)
	admin.Delete("/coupons/:id", couponHandler.Delete)

	admin.Get("/allies", allyHandler.List)
	admin.Post("/allies", allyHandler.Create)
	admin.Get("/allies/:id", allyHandler.Get)
	admin.Put("/allies/:id", allyHandler.Update)
	admin.Delete("/allies/:id", allyHandler.Delete)
	admin.Post("/allies/:id/carnet", allyHandler.IssueCarnet)
	admin.Delete("/allies/:id/carnet", allyHandler.RevokeCarnet)

	admin.Get("/reservations", reservationHandler.AdminList)
	admin.Get("/reservations/:id", reservationHandler.AdminGet)
	admin.Patch("/reservations/:id/status", reservationHandler.AdminUpdateStatus)
	admin.Patch("/reservations/:id/ally", reservationHandler.AdminAssignAlly)
	admin.Delete("/reservations/:id", reservationHandler.AdminDelete)

	admin.Put("/settings", settingsHandler.Update)
}
