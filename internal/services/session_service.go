package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/limpio/internal/models"
	"github.com/example/limpio/internal/utils"
)

// ErrSessionInvalid covers unknown, revoked and expired sessions.
var ErrSessionInvalid = errors.New("session is not valid")

// AuthContext identifies the caller of an authenticated request.
type AuthContext struct {
	UserID    uuid.UUID
	SessionID uuid.UUID
	Role      models.Role
}

// TokenPair is returned on login.
type TokenPair struct {
	Access  utils.IssuedToken
	Refresh utils.IssuedToken
}

// SessionService issues and verifies access/refresh token pairs backed by
// the sessions table.
type SessionService struct {
	db         *gorm.DB
	log        *zap.Logger
	secret     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewSessionService constructs a SessionService.
func NewSessionService(db *gorm.DB, log *zap.Logger, secret string, accessTTL, refreshTTL time.Duration) *SessionService {
	return &SessionService{
		db:         db,
		log:        log,
		secret:     secret,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// Login creates a session row and its token pair.
func (s *SessionService) Login(ctx context.Context, user models.User, device, ip string) (TokenPair, *models.Session, error) {
	sessionID := uuid.New()

	access, err := utils.GenerateToken(s.secret, utils.AccessToken, user.ID, sessionID, string(user.Role), s.accessTTL)
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := utils.GenerateToken(s.secret, utils.RefreshToken, user.ID, sessionID, string(user.Role), s.refreshTTL)
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("sign refresh token: %w", err)
	}

	session := models.Session{
		BaseModel:        models.BaseModel{ID: sessionID},
		UserID:           user.ID,
		AccessTokenID:    access.ID,
		RefreshTokenID:   refresh.ID,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
		Device:           device,
		IP:               ip,
	}
	if err := s.db.WithContext(ctx).Create(&session).Error; err != nil {
		return TokenPair{}, nil, fmt.Errorf("create session: %w", err)
	}

	s.log.Info("session created",
		zap.String("user_id", user.ID.String()),
		zap.String("session_id", sessionID.String()),
		zap.String("device", device),
	)
	return TokenPair{Access: access, Refresh: refresh}, &session, nil
}

// Authenticate verifies an access token and the session behind it.
func (s *SessionService) Authenticate(ctx context.Context, accessToken string) (AuthContext, error) {
	claims, err := utils.ParseToken(s.secret, accessToken, utils.AccessToken)
	if err != nil {
		return AuthContext{}, err
	}
	userID, sessionID, err := claims.IDs()
	if err != nil {
		return AuthContext{}, err
	}

	if _, err := s.activeSession(ctx, sessionID, userID); err != nil {
		return AuthContext{}, err
	}

	return AuthContext{UserID: userID, SessionID: sessionID, Role: models.Role(claims.Role)}, nil
}

// Refresh mints a new access token from a refresh token. The refresh token
// itself is not rotated and stays valid until its own expiry.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (utils.IssuedToken, AuthContext, error) {
	claims, err := utils.ParseToken(s.secret, refreshToken, utils.RefreshToken)
	if err != nil {
		return utils.IssuedToken{}, AuthContext{}, fmt.Errorf("%w: %v", ErrSessionInvalid, err)
	}
	userID, sessionID, err := claims.IDs()
	if err != nil {
		return utils.IssuedToken{}, AuthContext{}, fmt.Errorf("%w: %v", ErrSessionInvalid, err)
	}

	session, err := s.activeSession(ctx, sessionID, userID)
	if err != nil {
		return utils.IssuedToken{}, AuthContext{}, err
	}
	if session.RefreshTokenID != claims.ID {
		return utils.IssuedToken{}, AuthContext{}, ErrSessionInvalid
	}

	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.IssuedToken{}, AuthContext{}, ErrSessionInvalid
		}
		return utils.IssuedToken{}, AuthContext{}, err
	}
	if !user.IsActive {
		return utils.IssuedToken{}, AuthContext{}, ErrSessionInvalid
	}

	access, err := utils.GenerateToken(s.secret, utils.AccessToken, userID, sessionID, string(user.Role), s.accessTTL)
	if err != nil {
		return utils.IssuedToken{}, AuthContext{}, fmt.Errorf("sign access token: %w", err)
	}

	if err := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ?", sessionID).
		Updates(map[string]any{
			"access_token_id":   access.ID,
			"access_expires_at": access.ExpiresAt,
		}).Error; err != nil {
		return utils.IssuedToken{}, AuthContext{}, fmt.Errorf("rotate access token: %w", err)
	}

	s.log.Debug("access token refreshed", zap.String("session_id", sessionID.String()))
	return access, AuthContext{UserID: userID, SessionID: sessionID, Role: user.Role}, nil
}

// Revoke marks a session revoked. Revoking twice is not an error.
func (s *SessionService) Revoke(ctx context.Context, sessionID uuid.UUID) error {
	now := s.now()
	return s.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ? AND revoked = ?", sessionID, false).
		Updates(map[string]any{"revoked": true, "revoked_at": &now}).Error
}

// RevokeAllForUser revokes every open session of the user.
func (s *SessionService) RevokeAllForUser(ctx context.Context, userID uuid.UUID) error {
	now := s.now()
	return s.db.WithContext(ctx).Model(&models.Session{}).
		Where("user_id = ? AND revoked = ?", userID, false).
		Updates(map[string]any{"revoked": true, "revoked_at": &now}).Error
}

// PurgeExpired deletes sessions whose refresh token expired or that were
// revoked before cutoff. It returns the number of rows removed.
func (s *SessionService) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("refresh_expires_at < ? OR (revoked = ? AND revoked_at < ?)", cutoff, true, cutoff).
		Delete(&models.Session{})
	return res.RowsAffected, res.Error
}

func (s *SessionService) activeSession(ctx context.Context, sessionID, userID uuid.UUID) (*models.Session, error) {
	var session models.Session
	if err := s.db.WithContext(ctx).First(&session, "id = ?", sessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionInvalid
		}
		return nil, err
	}
	if session.UserID != userID || !session.Active(s.now()) {
		return nil, ErrSessionInvalid
	}
	return &session, nil
}
