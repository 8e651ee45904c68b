package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/limpio/internal/models"
)

func TestSessionLoginAuthenticateRefresh(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := createUser(t, db, "+573001112233", models.RoleCustomer)

	svc := NewSessionService(db, testLogger(), "secret", time.Minute, time.Hour)

	pair, session, err := svc.Login(ctx, user, "iPhone", "127.0.0.1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if session.RefreshTokenID != pair.Refresh.ID || session.AccessTokenID != pair.Access.ID {
		t.Fatal("session must record token ids")
	}

	auth, err := svc.Authenticate(ctx, pair.Access.Token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if auth.UserID != user.ID || auth.Role != models.RoleCustomer {
		t.Fatalf("unexpected auth context %+v", auth)
	}

	access, _, err := svc.Refresh(ctx, pair.Refresh.Token)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if access.ID == pair.Access.ID {
		t.Fatal("refresh must issue a new access token")
	}

	var stored models.Session
	if err := db.First(&stored, "id = ?", session.ID).Error; err != nil {
		t.Fatalf("load session: %v", err)
	}
	if stored.AccessTokenID != access.ID {
		t.Fatalf("expected rotated access id %s got %s", access.ID, stored.AccessTokenID)
	}
	if stored.RefreshTokenID != pair.Refresh.ID {
		t.Fatal("refresh token must not rotate")
	}

	// the refresh token stays usable until it expires
	if _, _, err := svc.Refresh(ctx, pair.Refresh.Token); err != nil {
		t.Fatalf("second refresh: %v", err)
	}
}

func TestSessionRevoked(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := createUser(t, db, "+573001112244", models.RoleCustomer)

	svc := NewSessionService(db, testLogger(), "secret", time.Minute, time.Hour)
	pair, session, err := svc.Login(ctx, user, "", "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := svc.Revoke(ctx, session.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	if _, err := svc.Authenticate(ctx, pair.Access.Token); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("expected ErrSessionInvalid got %v", err)
	}
	if _, _, err := svc.Refresh(ctx, pair.Refresh.Token); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("expected ErrSessionInvalid got %v", err)
	}
}

func TestSessionExpiredRefresh(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := createUser(t, db, "+573001112255", models.RoleCustomer)

	svc := NewSessionService(db, testLogger(), "secret", time.Minute, -time.Minute)
	pair, _, err := svc.Login(ctx, user, "", "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if _, _, err := svc.Refresh(ctx, pair.Refresh.Token); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("expected ErrSessionInvalid got %v", err)
	}
	if _, err := svc.Authenticate(ctx, pair.Access.Token); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("access token of a fully expired session must fail, got %v", err)
	}

	n, err := svc.PurgeExpired(ctx, time.Now())
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged session got %d", n)
	}
}
