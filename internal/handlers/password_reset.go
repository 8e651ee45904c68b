package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/limpio/internal/models"
	"github.com/example/limpio/internal/services"
	"github.com/example/limpio/internal/utils"
	"github.com/example/limpio/internal/validation"
)

const (
	resetCodeTTL     = 10 * time.Minute
	maxResetAttempts = 5
)

// ResetCodeSender delivers password reset codes to a phone.
type ResetCodeSender interface {
	SendResetCode(ctx context.Context, phone, code string) error
}

// PasswordResetHandler manages forgot-password endpoints.
type PasswordResetHandler struct {
	db         *gorm.DB
	sender     ResetCodeSender
	sessions   *services.SessionService
	log        *zap.Logger
	exposeCode bool
}

// NewPasswordResetHandler constructs a PasswordResetHandler. exposeCode
// echoes the code in the response and is meant for development only.
func NewPasswordResetHandler(db *gorm.DB, sender ResetCodeSender, sessions *services.SessionService, log *zap.Logger, exposeCode bool) *PasswordResetHandler {
	return &PasswordResetHandler{db: db, sender: sender, sessions: sessions, log: log, exposeCode: exposeCode}
}

type forgotPasswordRequest struct {
	Phone string `json:"phone" validate:"required"`
}

// ForgotPassword generates a 6-digit code, sends it by SMS and returns the
// reset token the client uses in the next two steps. The answer is the same
// whether or not the phone belongs to an account; the code only goes out
// when it does.
func (h *PasswordResetHandler) ForgotPassword(c *fiber.Ctx) error {
	var req forgotPasswordRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	phone := validation.NormalizePhone(req.Phone)

	var known int64
	if err := h.db.Model(&models.User{}).Where("phone = ?", phone).Count(&known).Error; err != nil {
		return err
	}

	code, err := utils.NumericCode(6)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to generate code")
	}
	resetToken, err := utils.RandomHex(32)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to generate token")
	}

	// Expire any previous unused reset tokens for this phone.
	if err := h.db.Model(&models.PasswordResetToken{}).
		Where("phone = ? AND used_at IS NULL", phone).
		Update("expires_at", time.Now()).Error; err != nil {
		return err
	}

	record := models.PasswordResetToken{
		Phone:     phone,
		Token:     resetToken,
		Code:      code,
		ExpiresAt: time.Now().Add(resetCodeTTL),
	}
	if err := h.db.Create(&record).Error; err != nil {
		return err
	}

	if known > 0 && h.sender != nil {
		if err := h.sender.SendResetCode(c.UserContext(), phone, code); err != nil {
			h.log.Warn("reset code delivery failed", zap.String("phone", phone), zap.Error(err))
		}
	}

	resp := fiber.Map{"success": true, "token": resetToken}
	if h.exposeCode {
		resp["code"] = code
	}
	return c.JSON(resp)
}

type verifyResetCodeRequest struct {
	Token string `json:"token" validate:"required"`
	Code  string `json:"code" validate:"required,len=6"`
}

// VerifyResetCode checks the code sent to the user.
func (h *PasswordResetHandler) VerifyResetCode(c *fiber.Ctx) error {
	var req verifyResetCodeRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	record, err := h.openToken(req.Token)
	if err != nil {
		return err
	}

	if record.Code != req.Code {
		attempts := record.Attempts + 1
		updates := map[string]any{"attempts": attempts}
		if attempts >= maxResetAttempts {
			updates["expires_at"] = time.Now()
		}
		if err := h.db.Model(record).Updates(updates).Error; err != nil {
			return err
		}
		if attempts >= maxResetAttempts {
			return fiber.NewError(fiber.StatusTooManyRequests, "too many attempts, request a new code")
		}
		return fiber.NewError(fiber.StatusBadRequest, "invalid verification code")
	}

	record.Verified = true
	if err := h.db.Save(record).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success":  true,
		"verified": true,
		"token":    record.Token,
	})
}

type resetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=6"`
}

// ResetPassword updates the password after the code was verified and
// revokes every open session of the user.
func (h *PasswordResetHandler) ResetPassword(c *fiber.Ctx) error {
	var req resetPasswordRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	record, err := h.openToken(req.Token)
	if err != nil {
		return err
	}
	if !record.Verified {
		return fiber.NewError(fiber.StatusBadRequest, "code not verified yet")
	}

	hash, err := utils.HashPassword(req.NewPassword)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to hash password")
	}

	var user models.User
	err = h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("phone = ?", record.Phone).First(&user).Error; err != nil {
			return err
		}
		if err := tx.Model(&user).Update("password_hash", hash).Error; err != nil {
			return err
		}
		now := time.Now()
		return tx.Model(record).Update("used_at", &now).Error
	})
	if err != nil {
		return notFound(err, "user")
	}

	if err := h.sessions.RevokeAllForUser(c.UserContext(), user.ID); err != nil {
		h.log.Warn("failed to revoke sessions after password reset", zap.Error(err))
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "password updated successfully",
	})
}

func (h *PasswordResetHandler) openToken(token string) (*models.PasswordResetToken, error) {
	var record models.PasswordResetToken
	if err := h.db.Where("token = ?", token).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fiber.NewError(fiber.StatusNotFound, "invalid reset token")
		}
		return nil, err
	}

	if record.UsedAt != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "token already used")
	}
	if record.Attempts >= maxResetAttempts {
		return nil, fiber.NewError(fiber.StatusTooManyRequests, "too many attempts, request a new code")
	}
	if record.ExpiresAt.Before(time.Now()) {
		return nil, fiber.NewError(fiber.StatusBadRequest, "token expired")
	}
	return &record, nil
}
