package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/limpio/internal/pricing"
	"github.com/example/limpio/internal/reservation"
	"github.com/example/limpio/internal/services"
	"github.com/example/limpio/internal/validation"
)

func TestErrorHandler(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantIssues bool
	}{
		{"validation", validation.NewError("phone", "is required"), fiber.StatusBadRequest, true},
		{"fiber error", fiber.NewError(fiber.StatusConflict, "user already exists"), fiber.StatusConflict, false},
		{"record not found", gorm.ErrRecordNotFound, fiber.StatusNotFound, false},
		{"wrapped service not found", fmt.Errorf("load: %w", services.ErrServiceNotFound), fiber.StatusNotFound, false},
		{"pricing", pricing.ErrVariableOutOfRange, fiber.StatusBadRequest, false},
		{"transition", fmt.Errorf("%w: completed -> pending", reservation.ErrInvalidTransition), fiber.StatusBadRequest, false},
		{"session", services.ErrSessionInvalid, fiber.StatusUnauthorized, false},
		{"unknown", errors.New("connection reset"), fiber.StatusInternalServerError, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(zap.NewNop())})
			app.Get("/", func(c *fiber.Ctx) error { return tc.err })

			resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			if resp.StatusCode != tc.wantStatus {
				t.Fatalf("expected %d got %d", tc.wantStatus, resp.StatusCode)
			}

			var body map[string]any
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["success"] != false {
				t.Fatalf("expected success=false, got %v", body)
			}
			if _, ok := body["issues"]; ok != tc.wantIssues {
				t.Fatalf("issues present=%v, want %v", ok, tc.wantIssues)
			}
			if tc.wantStatus == fiber.StatusInternalServerError && body["error"] != "internal server error" {
				t.Fatalf("internal error leaked: %v", body["error"])
			}
		})
	}
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Limpieza General":         "limpieza-general",
		"  Lavado de Sofás  ":      "lavado-de-sofas",
		"Post-obra / Remodelación": "post-obra-remodelacion",
		"Año 2024!":                "ano-2024",
		"LIMPIEZA DE BAÑOS ÉLITE":  "limpieza-de-banos-elite",
		"Sala & Comedor":           "sala-y-comedor",
		"Façade crème":             "facade-creme",
	}
	for in, want := range cases {
		if got := slugify(in); got != want {
			t.Errorf("slugify(%q) = %q, want %q", in, got, want)
		}
	}
}
