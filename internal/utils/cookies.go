package utils

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

const (
	AccessCookie  = "access_token"
	RefreshCookie = "refresh_token"
)

// CookieOptions controls the attributes of auth cookies.
type CookieOptions struct {
	Secure bool
	Domain string
}

// SetTokenCookie writes an HttpOnly cookie that expires with the token.
func SetTokenCookie(c *fiber.Ctx, opts CookieOptions, name string, tok IssuedToken) {
	c.Cookie(&fiber.Cookie{
		Name:     name,
		Value:    tok.Token,
		Path:     "/",
		Domain:   opts.Domain,
		Expires:  tok.ExpiresAt,
		Secure:   opts.Secure,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

// ClearTokenCookies expires both auth cookies.
func ClearTokenCookies(c *fiber.Ctx, opts CookieOptions) {
	for _, name := range []string{AccessCookie, RefreshCookie} {
		c.Cookie(&fiber.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			Domain:   opts.Domain,
			Expires:  time.Unix(0, 0),
			Secure:   opts.Secure,
			HTTPOnly: true,
			SameSite: fiber.CookieSameSiteLaxMode,
		})
	}
}
