package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/limpio/internal/pricing"
	"github.com/example/limpio/internal/reservation"
	"github.com/example/limpio/internal/services"
	"github.com/example/limpio/internal/validation"
)

var badRequestErrors = []error{
	pricing.ErrQuoteRequired,
	pricing.ErrServiceInactive,
	pricing.ErrUnsupportedModel,
	pricing.ErrOptionNotFound,
	pricing.ErrPackageNotFound,
	pricing.ErrItemNotFound,
	pricing.ErrInvalidQuantity,
	pricing.ErrUnknownVariable,
	pricing.ErrVariableOutOfRange,
	pricing.ErrCouponInvalid,
	reservation.ErrInvalidTransition,
	services.ErrScheduleInPast,
	services.ErrAddressRequired,
	services.ErrCouponNotFound,
}

var notFoundErrors = []error{
	gorm.ErrRecordNotFound,
	services.ErrServiceNotFound,
	services.ErrAddressNotFound,
	services.ErrReservationNotFound,
	services.ErrAllyNotFound,
}

// ErrorHandler renders every error returned by a handler as the JSON
// envelope. Unknown errors become a logged 500.
func ErrorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var verr *validation.Error
		if errors.As(err, &verr) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"error":   "validation failed",
				"issues":  verr.Issues,
			})
		}

		var ferr *fiber.Error
		if errors.As(err, &ferr) {
			return writeError(c, ferr.Code, ferr.Message)
		}

		if errors.Is(err, services.ErrSessionInvalid) {
			return writeError(c, fiber.StatusUnauthorized, "unauthorized")
		}
		for _, target := range notFoundErrors {
			if errors.Is(err, target) {
				return writeError(c, fiber.StatusNotFound, err.Error())
			}
		}
		for _, target := range badRequestErrors {
			if errors.Is(err, target) {
				return writeError(c, fiber.StatusBadRequest, err.Error())
			}
		}

		log.Error("unhandled error",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
		return writeError(c, fiber.StatusInternalServerError, "internal server error")
	}
}

func writeError(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error":   message,
	})
}

// parseBody decodes the JSON body into dst and runs struct validation.
func parseBody(c *fiber.Ctx, dst any) error {
	if err := c.BodyParser(dst); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	return validation.Struct(dst)
}

func paramID(c *fiber.Ctx, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params(name))
	if err != nil {
		return uuid.Nil, fiber.NewError(fiber.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fiber.NewError(fiber.StatusNotFound, what+" not found")
	}
	return err
}

// createRecord inserts model and then persists is_active=false, which
// gorm would otherwise replace with the column default.
func createRecord(db *gorm.DB, model any, active bool) error {
	if err := db.Create(model).Error; err != nil {
		return err
	}
	if active {
		return nil
	}
	return db.Model(model).Update("is_active", false).Error
}
