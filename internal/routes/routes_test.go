package routes

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/example/limpio/internal/config"
	"github.com/example/limpio/internal/database"
	"github.com/example/limpio/internal/handlers"
	"github.com/example/limpio/internal/models"
	"github.com/example/limpio/internal/services"
	"github.com/example/limpio/internal/utils"
)

type testEnv struct {
	app *fiber.App
	db  *gorm.DB
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "api.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cfg := &config.Config{
		AppEnv:            "test",
		JWTSecret:         "test-secret",
		AccessTokenTTL:    15 * time.Minute,
		RefreshTokenTTL:   24 * time.Hour,
		BusinessWhatsApp:  "+57 300 123 4567",
		CarnetCVTDays:     30,
		AuthRatePerMinute: 1000,
	}
	log := zap.NewNop()

	app := fiber.New(fiber.Config{ErrorHandler: handlers.ErrorHandler(log)})
	Register(app, Deps{
		DB:           db,
		Config:       cfg,
		Log:          log,
		Sessions:     services.NewSessionService(db, log, cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL),
		Reservations: services.NewReservationService(db, log, nil),
		Cache:        services.NoopCache{},
	})

	return &testEnv{app: app, db: db}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, cookie string) (int, map[string]any, *http.Response) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	resp, err := e.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}

	out := map[string]any{}
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, raw, err)
		}
	}
	return resp.StatusCode, out, resp
}

func (e *testEnv) user(t *testing.T, phone string, role models.Role) models.User {
	t.Helper()

	hash, err := utils.HashPassword("secret123")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u := models.User{FirstName: "Ana", Phone: phone, Role: role, PasswordHash: hash, IsActive: true}
	if err := e.db.Create(&u).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

// login returns a Cookie header carrying both session cookies.
func (e *testEnv) login(t *testing.T, phone string) string {
	t.Helper()

	status, body, resp := e.do(t, "POST", "/api/auth/login", map[string]string{"phone": phone, "password": "secret123"}, "")
	if status != fiber.StatusOK {
		t.Fatalf("login: expected 200 got %d (%v)", status, body)
	}

	var pairs []string
	for _, c := range resp.Cookies() {
		if c.Name == utils.AccessCookie || c.Name == utils.RefreshCookie {
			pairs = append(pairs, c.Name+"="+c.Value)
		}
	}
	if len(pairs) != 2 {
		t.Fatalf("expected access and refresh cookies, got %v", resp.Header.Values("Set-Cookie"))
	}
	return strings.Join(pairs, "; ")
}

func seedFormulaService(t *testing.T, db *gorm.DB) models.Service {
	t.Helper()

	svc := models.Service{
		Name:         "Limpieza de vidrios",
		Slug:         "vidrios",
		PricingModel: models.PricingFormula,
		BasePrice:    50000,
		IsActive:     true,
	}
	if err := db.Create(&svc).Error; err != nil {
		t.Fatalf("create service: %v", err)
	}
	vars := []models.FormulaVariable{
		{ServiceID: svc.ID, Name: "cantidad", Label: "Ventanas", MinValue: 1, MaxValue: 10, DefaultValue: 1},
		{ServiceID: svc.ID, Name: "altura", Label: "Piso", MinValue: 1, MaxValue: 20, DefaultValue: 1},
	}
	if err := db.Create(&vars).Error; err != nil {
		t.Fatalf("create variables: %v", err)
	}
	return svc
}

func data(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	d, ok := body["data"].(map[string]any)
	if !ok {
		t.Fatalf("response has no data object: %v", body)
	}
	return d
}

func TestCreateReservationRequiresSession(t *testing.T) {
	env := newTestEnv(t)
	svc := seedFormulaService(t, env.db)

	status, body, _ := env.do(t, "POST", "/api/reservations", map[string]any{
		"service_id":   svc.ID,
		"scheduled_at": time.Now().Add(48 * time.Hour).Format(time.RFC3339),
	}, "")

	if status != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", status)
	}
	if body["success"] != false {
		t.Fatalf("expected error envelope, got %v", body)
	}

	var count int64
	env.db.Model(&models.Reservation{}).Count(&count)
	if count != 0 {
		t.Fatalf("expected no reservations, got %d", count)
	}
}

func TestCreateReservationRecomputesPrice(t *testing.T) {
	env := newTestEnv(t)
	svc := seedFormulaService(t, env.db)
	env.user(t, "+573001112233", models.RoleCustomer)
	cookie := env.login(t, "+573001112233")

	status, body, _ := env.do(t, "POST", "/api/reservations", map[string]any{
		"service_id": svc.ID,
		"selection": map[string]any{
			"variables": map[string]float64{"cantidad": 3, "altura": 5},
		},
		"calculated_price": 1,
		"date":             time.Now().AddDate(0, 0, 2).Format("2006-01-02"),
		"time":             "10:30",
		"address":          map[string]string{"address_line": "Calle 10 # 5-20", "city": "Bogotá"},
		"customer":         map[string]string{"first_name": "Ana", "last_name": "Ruiz"},
	}, cookie)

	if status != fiber.StatusCreated {
		t.Fatalf("expected 201 got %d (%v)", status, body)
	}
	r := data(t, body)
	if r["final_price"] != float64(150000) {
		t.Fatalf("expected final price 150000, got %v", r["final_price"])
	}
	if r["status"] != string(models.StatusPending) {
		t.Fatalf("expected pending, got %v", r["status"])
	}

	status, body, _ = env.do(t, "GET", "/api/reservations", nil, cookie)
	if status != fiber.StatusOK {
		t.Fatalf("list: expected 200 got %d", status)
	}
	pagination := body["pagination"].(map[string]any)
	if pagination["total_items"] != float64(1) {
		t.Fatalf("expected 1 reservation, got %v", pagination)
	}
}

func TestCreateReservationValidation(t *testing.T) {
	env := newTestEnv(t)
	svc := seedFormulaService(t, env.db)
	env.user(t, "+573001112233", models.RoleCustomer)
	cookie := env.login(t, "+573001112233")

	cases := []struct {
		name  string
		body  map[string]any
		field string
	}{
		{
			name:  "missing schedule",
			body:  map[string]any{"service_id": svc.ID, "address": map[string]string{"address_line": "x", "city": "y"}},
			field: "date",
		},
		{
			name:  "missing address",
			body:  map[string]any{"service_id": svc.ID, "scheduled_at": time.Now().Add(48 * time.Hour).Format(time.RFC3339)},
			field: "address",
		},
		{
			name: "inline address without city",
			body: map[string]any{
				"service_id":   svc.ID,
				"scheduled_at": time.Now().Add(48 * time.Hour).Format(time.RFC3339),
				"address":      map[string]string{"address_line": "Calle 1"},
			},
			field: "address.city",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body, _ := env.do(t, "POST", "/api/reservations", tc.body, cookie)
			if status != fiber.StatusBadRequest {
				t.Fatalf("expected 400 got %d (%v)", status, body)
			}
			issues, _ := body["issues"].([]any)
			found := false
			for _, is := range issues {
				if is.(map[string]any)["field"] == tc.field {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected issue on %q, got %v", tc.field, body["issues"])
			}
		})
	}
}

func TestDeleteAddressOwnership(t *testing.T) {
	env := newTestEnv(t)
	owner := env.user(t, "+573001112233", models.RoleCustomer)
	env.user(t, "+573009998877", models.RoleCustomer)

	addr := models.UserAddress{UserID: owner.ID, AddressLine: "Calle 10", City: "Medellín"}
	if err := env.db.Create(&addr).Error; err != nil {
		t.Fatalf("create address: %v", err)
	}

	other := env.login(t, "+573009998877")
	status, _, _ := env.do(t, "DELETE", "/api/profile/addresses/"+addr.ID.String(), nil, other)
	if status != fiber.StatusNotFound {
		t.Fatalf("foreign delete: expected 404 got %d", status)
	}

	status, _, _ = env.do(t, "PUT", "/api/profile/addresses/"+addr.ID.String(), map[string]string{"label": "Casa"}, other)
	if status != fiber.StatusNotFound {
		t.Fatalf("foreign update: expected 404 got %d", status)
	}

	mine := env.login(t, "+573001112233")
	status, _, _ = env.do(t, "DELETE", "/api/profile/addresses/"+addr.ID.String(), nil, mine)
	if status != fiber.StatusOK {
		t.Fatalf("own delete: expected 200 got %d", status)
	}

	var count int64
	env.db.Model(&models.UserAddress{}).Where("id = ?", addr.ID).Count(&count)
	if count != 0 {
		t.Fatal("address should be gone")
	}
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t)

	status, body, _ := env.do(t, "POST", "/api/auth/register", map[string]string{
		"first_name": "Ana",
		"phone":      "abc",
		"password":   "123",
	}, "")
	if status != fiber.StatusBadRequest {
		t.Fatalf("expected 400 got %d", status)
	}
	issues, _ := body["issues"].([]any)
	if len(issues) != 2 {
		t.Fatalf("expected phone and password issues, got %v", body["issues"])
	}

	status, body, resp := env.do(t, "POST", "/api/auth/register", map[string]string{
		"first_name": "Ana",
		"phone":      "+57 300 111 2233",
		"password":   "secret123",
	}, "")
	if status != fiber.StatusCreated {
		t.Fatalf("expected 201 got %d (%v)", status, body)
	}
	if len(resp.Cookies()) < 2 {
		t.Fatalf("expected session cookies, got %v", resp.Header.Values("Set-Cookie"))
	}
	user := body["user"].(map[string]any)
	if user["phone"] != "+573001112233" || user["role"] != string(models.RoleCustomer) {
		t.Fatalf("unexpected user %v", user)
	}

	status, _, _ = env.do(t, "POST", "/api/auth/register", map[string]string{
		"first_name": "Ana",
		"phone":      "+573001112233",
		"password":   "secret123",
	}, "")
	if status != fiber.StatusConflict {
		t.Fatalf("duplicate: expected 409 got %d", status)
	}
}

func TestLogoutRevokesSession(t *testing.T) {
	env := newTestEnv(t)
	env.user(t, "+573001112233", models.RoleCustomer)
	cookie := env.login(t, "+573001112233")

	if status, _, _ := env.do(t, "GET", "/api/auth/me", nil, cookie); status != fiber.StatusOK {
		t.Fatalf("me: expected 200 got %d", status)
	}
	if status, _, _ := env.do(t, "POST", "/api/auth/logout", nil, cookie); status != fiber.StatusOK {
		t.Fatalf("logout: expected 200 got %d", status)
	}
	if status, _, _ := env.do(t, "GET", "/api/auth/me", nil, cookie); status != fiber.StatusUnauthorized {
		t.Fatalf("me after logout: expected 401 got %d", status)
	}
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	env := newTestEnv(t)
	env.user(t, "+573001112233", models.RoleCustomer)
	env.user(t, "+573004445566", models.RoleAdmin)

	customer := env.login(t, "+573001112233")
	if status, _, _ := env.do(t, "GET", "/api/admin/dashboard/stats", nil, customer); status != fiber.StatusForbidden {
		t.Fatalf("customer: expected 403 got %d", status)
	}

	admin := env.login(t, "+573004445566")
	status, body, _ := env.do(t, "GET", "/api/admin/dashboard/stats", nil, admin)
	if status != fiber.StatusOK {
		t.Fatalf("admin: expected 200 got %d (%v)", status, body)
	}
	stats := data(t, body)
	if stats["total_customers"] != float64(1) {
		t.Fatalf("expected 1 customer, got %v", stats["total_customers"])
	}
}

func TestAdminServiceLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.user(t, "+573004445566", models.RoleAdmin)
	admin := env.login(t, "+573004445566")

	status, body, _ := env.do(t, "POST", "/api/admin/services", map[string]any{
		"name":          "Limpieza General",
		"pricing_model": "PACKAGE_BASED",
	}, admin)
	if status != fiber.StatusCreated {
		t.Fatalf("create service: expected 201 got %d (%v)", status, body)
	}
	svc := data(t, body)
	if svc["slug"] != "limpieza-general" {
		t.Fatalf("expected generated slug, got %v", svc["slug"])
	}
	id := svc["id"].(string)

	status, body, _ = env.do(t, "POST", "/api/admin/services/"+id+"/options", map[string]any{
		"name":       "4 horas",
		"base_price": 80000,
		"hours":      4,
	}, admin)
	if status != fiber.StatusCreated {
		t.Fatalf("create option: expected 201 got %d (%v)", status, body)
	}
	optionID := data(t, body)["id"].(string)

	status, body, _ = env.do(t, "POST", "/api/pricing/quote", map[string]any{
		"service_id": id,
		"selection":  map[string]any{"option_id": optionID},
	}, "")
	if status != fiber.StatusOK {
		t.Fatalf("quote: expected 200 got %d (%v)", status, body)
	}
	if got := data(t, body)["final_price"]; got != float64(80000) {
		t.Fatalf("expected 80000, got %v", got)
	}

	status, body, _ = env.do(t, "GET", "/api/services/limpieza-general", nil, "")
	if status != fiber.StatusOK {
		t.Fatalf("public get: expected 200 got %d", status)
	}
	if opts, _ := data(t, body)["pricing_options"].([]any); len(opts) != 1 {
		t.Fatalf("expected 1 option, got %v", data(t, body)["pricing_options"])
	}

	status, _, _ = env.do(t, "POST", "/api/admin/services/"+id+"/variables", map[string]any{
		"name":  "cantidad",
		"label": "Cantidad",
	}, admin)
	if status != fiber.StatusBadRequest {
		t.Fatalf("variable on package service: expected 400 got %d", status)
	}
}

func TestQuoteLink(t *testing.T) {
	env := newTestEnv(t)
	svc := models.Service{
		Name:         "Limpieza post obra",
		Slug:         "post-obra",
		PricingModel: models.PricingQuote,
		IsActive:     true,
	}
	if err := env.db.Create(&svc).Error; err != nil {
		t.Fatalf("create service: %v", err)
	}

	status, body, _ := env.do(t, "GET", "/api/services/"+svc.ID.String()+"/quote-link", nil, "")
	if status != fiber.StatusOK {
		t.Fatalf("expected 200 got %d (%v)", status, body)
	}
	url, _ := data(t, body)["url"].(string)
	if !strings.HasPrefix(url, "https://wa.me/573001234567?text=") {
		t.Fatalf("unexpected link %q", url)
	}

	status, _, _ = env.do(t, "POST", "/api/pricing/quote", map[string]any{"service_id": svc.ID}, "")
	if status != fiber.StatusBadRequest {
		t.Fatalf("quote-based pricing: expected 400 got %d", status)
	}
}

func TestCarnetIssueAndVerify(t *testing.T) {
	env := newTestEnv(t)
	env.user(t, "+573004445566", models.RoleAdmin)
	admin := env.login(t, "+573004445566")

	status, body, _ := env.do(t, "POST", "/api/admin/allies", map[string]any{
		"first_name": "Luis",
		"last_name":  "Pérez",
		"phone":      "+573005556677",
	}, admin)
	if status != fiber.StatusCreated {
		t.Fatalf("create ally: expected 201 got %d (%v)", status, body)
	}
	allyID := data(t, body)["id"].(string)

	cases := []struct {
		carnet      string
		wantExpires bool
	}{
		{"CVT", true},
		{"CVU", false},
	}

	for _, tc := range cases {
		t.Run(tc.carnet, func(t *testing.T) {
			status, body, _ := env.do(t, "POST", "/api/admin/allies/"+allyID+"/carnet", map[string]string{"type": tc.carnet}, admin)
			if status != fiber.StatusOK {
				t.Fatalf("issue: expected 200 got %d (%v)", status, body)
			}
			code, _ := data(t, body)["carnet_code"].(string)
			if !strings.HasPrefix(code, tc.carnet+"-") || len(code) != len(tc.carnet)+9 {
				t.Fatalf("unexpected carnet code %q", code)
			}

			status, body, _ = env.do(t, "GET", "/api/carnets/"+code, nil, "")
			if status != fiber.StatusOK {
				t.Fatalf("verify: expected 200 got %d", status)
			}
			info := data(t, body)
			if info["valid"] != true {
				t.Fatalf("expected valid carnet, got %v", info)
			}
			if (info["expires_at"] != nil) != tc.wantExpires {
				t.Fatalf("expires_at = %v, want set=%v", info["expires_at"], tc.wantExpires)
			}
		})
	}

	if status, _, _ := env.do(t, "DELETE", "/api/admin/allies/"+allyID+"/carnet", nil, admin); status != fiber.StatusOK {
		t.Fatalf("revoke: expected 200 got %d", status)
	}
	if status, _, _ := env.do(t, "GET", "/api/carnets/CVU-00000000", nil, ""); status != fiber.StatusNotFound {
		t.Fatalf("unknown carnet: expected 404 got %d", status)
	}
}

func seedReservation(t *testing.T, db *gorm.DB, userID, serviceID uuid.UUID, allyID *uuid.UUID, status models.ReservationStatus) models.Reservation {
	t.Helper()

	addr := models.UserAddress{UserID: userID, AddressLine: "Calle 10", City: "Cali"}
	if err := db.Create(&addr).Error; err != nil {
		t.Fatalf("create address: %v", err)
	}
	r := models.Reservation{
		Code:        "RSV-" + strings.ToUpper(uuid.NewString()[:8]),
		UserID:      userID,
		ServiceID:   serviceID,
		AddressID:   addr.ID,
		AllyID:      allyID,
		ScheduledAt: time.Now().Add(24 * time.Hour),
		Status:      status,
		FinalPrice:  50000,
	}
	if err := db.Create(&r).Error; err != nil {
		t.Fatalf("create reservation: %v", err)
	}
	return r
}

func (e *testEnv) ally(t *testing.T, phone string) (models.Ally, string) {
	t.Helper()

	u := e.user(t, phone, models.RoleAlly)
	a := models.Ally{UserID: &u.ID, FirstName: "Luis", Phone: phone, IsActive: true}
	if err := e.db.Create(&a).Error; err != nil {
		t.Fatalf("create ally: %v", err)
	}
	return a, e.login(t, phone)
}

func TestUnknownAPIPathsAreNotFound(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		method string
		path   string
	}{
		{"GET", "/api/no-such-endpoint"},
		{"DELETE", "/api/services"},
		{"POST", "/api/settings"},
	}

	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			status, _, _ := env.do(t, tc.method, tc.path, nil, "")
			if status != fiber.StatusNotFound && status != fiber.StatusMethodNotAllowed {
				t.Fatalf("expected 404 or 405 got %d", status)
			}
		})
	}

	if status, _, _ := env.do(t, "GET", "/api/profile", nil, ""); status != fiber.StatusUnauthorized {
		t.Fatalf("profile without session: expected 401 got %d", status)
	}
}

func otherCode(code string) string {
	last := code[len(code)-1]
	if last == '9' {
		return code[:len(code)-1] + "0"
	}
	return code[:len(code)-1] + string(last+1)
}

func TestPasswordResetFlow(t *testing.T) {
	env := newTestEnv(t)
	env.user(t, "+573001112233", models.RoleCustomer)
	session := env.login(t, "+573001112233")

	forgot := func(phone string) (string, string) {
		t.Helper()
		status, body, _ := env.do(t, "POST", "/api/auth/forgot-password", map[string]string{"phone": phone}, "")
		if status != fiber.StatusOK {
			t.Fatalf("forgot %s: expected 200 got %d (%v)", phone, status, body)
		}
		token, _ := body["token"].(string)
		code, _ := body["code"].(string)
		if token == "" || len(code) != 6 {
			t.Fatalf("forgot %s: missing token or code: %v", phone, body)
		}
		return token, code
	}

	// Unknown phones get the same answer as registered ones.
	forgot("+573009990000")

	// Repeated wrong codes lock the token.
	locked, lockedCode := forgot("+57 300 111 2233")
	for i := 1; i < 5; i++ {
		status, _, _ := env.do(t, "POST", "/api/auth/verify-reset-code", map[string]string{"token": locked, "code": otherCode(lockedCode)}, "")
		if status != fiber.StatusBadRequest {
			t.Fatalf("wrong code %d: expected 400 got %d", i, status)
		}
	}
	status, _, _ := env.do(t, "POST", "/api/auth/verify-reset-code", map[string]string{"token": locked, "code": otherCode(lockedCode)}, "")
	if status != fiber.StatusTooManyRequests {
		t.Fatalf("fifth wrong code: expected 429 got %d", status)
	}
	status, _, _ = env.do(t, "POST", "/api/auth/verify-reset-code", map[string]string{"token": locked, "code": lockedCode}, "")
	if status != fiber.StatusTooManyRequests {
		t.Fatalf("right code on locked token: expected 429 got %d", status)
	}

	token, code := forgot("+573001112233")

	status, _, _ = env.do(t, "POST", "/api/auth/reset-password", map[string]string{"token": token, "new_password": "nuevo123"}, "")
	if status != fiber.StatusBadRequest {
		t.Fatalf("reset before verify: expected 400 got %d", status)
	}

	status, body, _ := env.do(t, "POST", "/api/auth/verify-reset-code", map[string]string{"token": token, "code": code}, "")
	if status != fiber.StatusOK || body["verified"] != true {
		t.Fatalf("verify: expected 200 got %d (%v)", status, body)
	}

	status, body, _ = env.do(t, "POST", "/api/auth/reset-password", map[string]string{"token": token, "new_password": "nuevo123"}, "")
	if status != fiber.StatusOK {
		t.Fatalf("reset: expected 200 got %d (%v)", status, body)
	}

	if status, _, _ := env.do(t, "GET", "/api/auth/me", nil, session); status != fiber.StatusUnauthorized {
		t.Fatalf("old session after reset: expected 401 got %d", status)
	}
	if status, _, _ := env.do(t, "POST", "/api/auth/login", map[string]string{"phone": "+573001112233", "password": "nuevo123"}, ""); status != fiber.StatusOK {
		t.Fatalf("login with new password: expected 200 got %d", status)
	}

	status, _, _ = env.do(t, "POST", "/api/auth/verify-reset-code", map[string]string{"token": token, "code": code}, "")
	if status != fiber.StatusBadRequest {
		t.Fatalf("used token: expected 400 got %d", status)
	}

	expired, expiredCode := forgot("+573001112233")
	if err := env.db.Model(&models.PasswordResetToken{}).Where("token = ?", expired).
		Update("expires_at", time.Now().Add(-time.Minute)).Error; err != nil {
		t.Fatalf("expire token: %v", err)
	}
	status, _, _ = env.do(t, "POST", "/api/auth/verify-reset-code", map[string]string{"token": expired, "code": expiredCode}, "")
	if status != fiber.StatusBadRequest {
		t.Fatalf("expired token: expected 400 got %d", status)
	}
}

func TestCouponAdminAndValidate(t *testing.T) {
	env := newTestEnv(t)
	env.user(t, "+573004445566", models.RoleAdmin)
	admin := env.login(t, "+573004445566")

	status, body, _ := env.do(t, "POST", "/api/admin/coupons", map[string]any{
		"code":           "bienvenida10",
		"discount_type":  "percent",
		"discount_value": 150,
	}, admin)
	if status != fiber.StatusBadRequest {
		t.Fatalf("percent over 100: expected 400 got %d (%v)", status, body)
	}

	coupon := map[string]any{
		"code":           "bienvenida10",
		"discount_type":  "percent",
		"discount_value": 10,
		"max_uses":       5,
	}
	status, body, _ = env.do(t, "POST", "/api/admin/coupons", coupon, admin)
	if status != fiber.StatusCreated {
		t.Fatalf("create: expected 201 got %d (%v)", status, body)
	}
	created := data(t, body)
	if created["code"] != "BIENVENIDA10" || created["is_active"] != true {
		t.Fatalf("unexpected coupon %v", created)
	}
	id := created["id"].(string)

	if status, _, _ := env.do(t, "POST", "/api/admin/coupons", coupon, admin); status != fiber.StatusConflict {
		t.Fatalf("duplicate code: expected 409 got %d", status)
	}

	status, body, _ = env.do(t, "GET", "/api/admin/coupons", nil, admin)
	if status != fiber.StatusOK || body["pagination"].(map[string]any)["total_items"] != float64(1) {
		t.Fatalf("list: unexpected %d %v", status, body)
	}

	status, body, _ = env.do(t, "POST", "/api/coupons/validate", map[string]any{"code": " Bienvenida10 ", "subtotal": 100000}, "")
	if status != fiber.StatusOK {
		t.Fatalf("validate: expected 200 got %d (%v)", status, body)
	}
	preview := data(t, body)
	if preview["valid"] != true || preview["discount"] != float64(10000) || preview["final_price"] != float64(90000) {
		t.Fatalf("unexpected preview %v", preview)
	}

	coupon["is_active"] = false
	if status, body, _ := env.do(t, "PUT", "/api/admin/coupons/"+id, coupon, admin); status != fiber.StatusOK {
		t.Fatalf("update: expected 200 got %d (%v)", status, body)
	}
	_, body, _ = env.do(t, "POST", "/api/coupons/validate", map[string]any{"code": "BIENVENIDA10", "subtotal": 100000}, "")
	if preview := data(t, body); preview["valid"] != false || preview["reason"] == nil {
		t.Fatalf("inactive coupon should be invalid, got %v", preview)
	}

	if status, _, _ := env.do(t, "DELETE", "/api/admin/coupons/"+id, nil, admin); status != fiber.StatusNoContent {
		t.Fatalf("delete: expected 204 got %d", status)
	}
	if status, _, _ := env.do(t, "POST", "/api/coupons/validate", map[string]any{"code": "BIENVENIDA10", "subtotal": 1}, ""); status != fiber.StatusNotFound {
		t.Fatalf("deleted coupon: expected 404 got %d", status)
	}
}

func TestAllyReservations(t *testing.T) {
	env := newTestEnv(t)
	svc := seedFormulaService(t, env.db)
	customer := env.user(t, "+573001112233", models.RoleCustomer)
	mine, allyCookie := env.ally(t, "+573005550001")
	other, _ := env.ally(t, "+573005550002")

	assigned := seedReservation(t, env.db, customer.ID, svc.ID, &mine.ID, models.StatusPending)
	foreign := seedReservation(t, env.db, customer.ID, svc.ID, &other.ID, models.StatusPending)

	status, body, _ := env.do(t, "GET", "/api/ally/reservations", nil, allyCookie)
	if status != fiber.StatusOK {
		t.Fatalf("list: expected 200 got %d (%v)", status, body)
	}
	items, _ := body["data"].([]any)
	if len(items) != 1 || items[0].(map[string]any)["id"] != assigned.ID.String() {
		t.Fatalf("expected only the assigned reservation, got %v", items)
	}

	cases := []struct {
		name   string
		id     uuid.UUID
		status string
		want   int
	}{
		{"start assigned", assigned.ID, "in_progress", fiber.StatusOK},
		{"back to pending", assigned.ID, "pending", fiber.StatusBadRequest},
		{"complete assigned", assigned.ID, "completed", fiber.StatusOK},
		{"reservation of another ally", foreign.ID, "in_progress", fiber.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body, _ := env.do(t, "PATCH", "/api/ally/reservations/"+tc.id.String()+"/status", map[string]string{"status": tc.status}, allyCookie)
			if status != tc.want {
				t.Fatalf("expected %d got %d (%v)", tc.want, status, body)
			}
		})
	}

	var stored models.Reservation
	env.db.First(&stored, "id = ?", assigned.ID)
	if stored.Status != models.StatusCompleted || stored.CompletedAt == nil {
		t.Fatalf("expected completed reservation, got %s", stored.Status)
	}

	customerCookie := env.login(t, "+573001112233")
	if status, _, _ := env.do(t, "GET", "/api/ally/reservations", nil, customerCookie); status != fiber.StatusForbidden {
		t.Fatalf("customer: expected 403 got %d", status)
	}

	env.user(t, "+573005550003", models.RoleAlly)
	unlinked := env.login(t, "+573005550003")
	if status, _, _ := env.do(t, "GET", "/api/ally/reservations", nil, unlinked); status != fiber.StatusForbidden {
		t.Fatalf("ally without profile: expected 403 got %d", status)
	}
}

func TestDeleteAllyKeepsHistory(t *testing.T) {
	env := newTestEnv(t)
	svc := seedFormulaService(t, env.db)
	env.user(t, "+573004445566", models.RoleAdmin)
	admin := env.login(t, "+573004445566")
	customer := env.user(t, "+573001112233", models.RoleCustomer)

	worked, _ := env.ally(t, "+573005550001")
	idle, _ := env.ally(t, "+573005550002")
	done := seedReservation(t, env.db, customer.ID, svc.ID, &worked.ID, models.StatusCompleted)

	if status, _, _ := env.do(t, "DELETE", "/api/admin/allies/"+worked.ID.String(), nil, admin); status != fiber.StatusConflict {
		t.Fatalf("ally with history: expected 409 got %d", status)
	}
	var stored models.Reservation
	env.db.First(&stored, "id = ?", done.ID)
	if stored.AllyID == nil || *stored.AllyID != worked.ID {
		t.Fatalf("reservation lost its ally: %v", stored.AllyID)
	}

	if status, _, _ := env.do(t, "DELETE", "/api/admin/allies/"+idle.ID.String(), nil, admin); status != fiber.StatusNoContent {
		t.Fatalf("ally without history: expected 204 got %d", status)
	}
	if status, _, _ := env.do(t, "DELETE", "/api/admin/allies/"+idle.ID.String(), nil, admin); status != fiber.StatusNotFound {
		t.Fatalf("second delete: expected 404 got %d", status)
	}
}

func TestAdminRoleChangeRevokesSessions(t *testing.T) {
	env := newTestEnv(t)
	env.user(t, "+573004445566", models.RoleAdmin)
	admin := env.login(t, "+573004445566")
	customer := env.user(t, "+573001112233", models.RoleCustomer)
	session := env.login(t, "+573001112233")

	if status, _, _ := env.do(t, "PATCH", "/api/admin/users/"+customer.ID.String(), map[string]any{}, admin); status != fiber.StatusBadRequest {
		t.Fatalf("empty update: expected 400 got %d", status)
	}
	if status, _, _ := env.do(t, "PATCH", "/api/admin/users/"+uuid.NewString(), map[string]string{"role": "ally"}, admin); status != fiber.StatusNotFound {
		t.Fatalf("unknown user: expected 404 got %d", status)
	}

	status, body, _ := env.do(t, "PATCH", "/api/admin/users/"+customer.ID.String(), map[string]string{"role": "ally"}, admin)
	if status != fiber.StatusOK {
		t.Fatalf("role change: expected 200 got %d (%v)", status, body)
	}
	if data(t, body)["role"] != string(models.RoleAlly) {
		t.Fatalf("role not updated: %v", body)
	}

	if status, _, _ := env.do(t, "GET", "/api/auth/me", nil, session); status != fiber.StatusUnauthorized {
		t.Fatalf("session after role change: expected 401 got %d", status)
	}

	var active int64
	env.db.Model(&models.Session{}).Where("user_id = ? AND revoked_at IS NULL", customer.ID).Count(&active)
	if active != 0 {
		t.Fatalf("expected all sessions revoked, %d still active", active)
	}
}
