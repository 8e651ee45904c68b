package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/limpio/internal/middleware"
	"github.com/example/limpio/internal/models"
	"github.com/example/limpio/internal/services"
	"github.com/example/limpio/internal/utils"
	"github.com/example/limpio/internal/validation"
)

// AuthHandler bundles dependencies for authentication endpoints.
type AuthHandler struct {
	db       *gorm.DB
	sessions *services.SessionService
	cookies  utils.CookieOptions
	log      *zap.Logger
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(db *gorm.DB, sessions *services.SessionService, cookies utils.CookieOptions, log *zap.Logger) *AuthHandler {
	return &AuthHandler{db: db, sessions: sessions, cookies: cookies, log: log}
}

type registerRequest struct {
	FirstName string `json:"first_name" validate:"required"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone" validate:"required,phone"`
	Email     string `json:"email" validate:"omitempty,email"`
	Password  string `json:"password" validate:"required,min=6"`
	Device    string `json:"device"`
}

// Register creates a customer account and logs it in.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	phone := validation.NormalizePhone(req.Phone)

	var existing models.User
	if err := h.db.Where("phone = ?", phone).First(&existing).Error; err == nil {
		return fiber.NewError(fiber.StatusConflict, "user already exists")
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	passwordHash, err := utils.HashPassword(req.Password)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to hash password")
	}

	user := models.User{
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Phone:        phone,
		Email:        req.Email,
		Role:         models.RoleCustomer,
		PasswordHash: passwordHash,
		IsActive:     true,
	}
	if err := h.db.Create(&user).Error; err != nil {
		return err
	}

	return h.startSession(c.Status(fiber.StatusCreated), user, req.Device)
}

type loginRequest struct {
	Phone    string `json:"phone" validate:"required"`
	Password string `json:"password" validate:"required"`
	Device   string `json:"device"`
}

// Login authenticates by phone and password and opens a session.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	var user models.User
	if err := h.db.Where("phone = ?", validation.NormalizePhone(req.Phone)).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid credentials")
		}
		return err
	}

	if !user.IsActive || !utils.CheckPassword(user.PasswordHash, req.Password) {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid credentials")
	}

	return h.startSession(c, user, req.Device)
}

func (h *AuthHandler) startSession(c *fiber.Ctx, user models.User, device string) error {
	if device == "" {
		device = c.Get(fiber.HeaderUserAgent)
	}

	pair, session, err := h.sessions.Login(c.UserContext(), user, device, c.IP())
	if err != nil {
		return err
	}

	utils.SetTokenCookie(c, h.cookies, utils.AccessCookie, pair.Access)
	utils.SetTokenCookie(c, h.cookies, utils.RefreshCookie, pair.Refresh)

	return c.JSON(fiber.Map{
		"success": true,
		"user":    userResponse(user),
		"session": fiber.Map{
			"id":                 session.ID,
			"access_expires_at":  session.AccessExpiresAt,
			"refresh_expires_at": session.RefreshExpiresAt,
		},
		"access_token":  pair.Access.Token,
		"refresh_token": pair.Refresh.Token,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh issues a new access token. The refresh token is read from its
// cookie, or from the body for non-browser clients.
func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	token := c.Cookies(utils.RefreshCookie)
	if token == "" {
		var req refreshRequest
		_ = c.BodyParser(&req)
		token = req.RefreshToken
	}
	if token == "" {
		return fiber.NewError(fiber.StatusUnauthorized, "missing refresh token")
	}

	access, _, err := h.sessions.Refresh(c.UserContext(), token)
	if err != nil {
		if errors.Is(err, services.ErrSessionInvalid) {
			utils.ClearTokenCookies(c, h.cookies)
			return fiber.NewError(fiber.StatusUnauthorized, "session expired")
		}
		return err
	}

	utils.SetTokenCookie(c, h.cookies, utils.AccessCookie, access)
	return c.JSON(fiber.Map{
		"success":           true,
		"access_token":      access.Token,
		"access_expires_at": access.ExpiresAt,
	})
}

// Logout revokes the current session and clears the cookies.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	if sessionID, ok := middleware.GetSessionID(c); ok {
		if err := h.sessions.Revoke(c.UserContext(), sessionID); err != nil {
			return err
		}
	}
	utils.ClearTokenCookies(c, h.cookies)
	return c.JSON(fiber.Map{"success": true, "message": "logged out"})
}

// Me returns the authenticated user.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	var user models.User
	if err := h.db.First(&user, "id = ?", userID).Error; err != nil {
		return notFound(err, "user")
	}
	return c.JSON(fiber.Map{"success": true, "data": userResponse(user)})
}

func userResponse(u models.User) fiber.Map {
	return fiber.Map{
		"id":         u.ID,
		"first_name": u.FirstName,
		"last_name":  u.LastName,
		"phone":      u.Phone,
		"email":      u.Email,
		"role":       u.Role,
		"created_at": u.CreatedAt,
	}
}
