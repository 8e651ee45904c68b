package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func TestRateLimitBlocksAfterBurst(t *testing.T) {
	app := fiber.New()
	app.Post("/login", RateLimit(2, zap.NewNop()), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	want := []int{fiber.StatusOK, fiber.StatusOK, fiber.StatusTooManyRequests}
	for i, code := range want {
		resp, err := app.Test(httptest.NewRequest("POST", "/login", nil))
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if resp.StatusCode != code {
			t.Fatalf("request %d: expected %d got %d", i, code, resp.StatusCode)
		}
	}
}

func TestRateLimiterPrune(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	l := NewRateLimiter(10, zap.NewNop())
	l.now = func() time.Time { return now }

	l.allow("10.0.0.1")
	now = now.Add(20 * time.Minute)
	l.allow("10.0.0.2")

	if got := l.Prune(10 * time.Minute); got != 1 {
		t.Fatalf("expected 1 pruned client, got %d", got)
	}
	if l.Size() != 1 {
		t.Fatalf("expected 1 client left, got %d", l.Size())
	}
	if _, ok := l.clients["10.0.0.2"]; !ok {
		t.Fatal("recent client must be kept")
	}
}

func TestRateLimiterPrunedClientStartsFresh(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	l := NewRateLimiter(1, zap.NewNop())
	l.now = func() time.Time { return now }

	if !l.allow("10.0.0.1") || l.allow("10.0.0.1") {
		t.Fatal("expected one allowed request then a block")
	}

	now = now.Add(15 * time.Minute)
	l.Prune(10 * time.Minute)
	if !l.allow("10.0.0.1") {
		t.Fatal("client should be allowed after pruning")
	}
}
