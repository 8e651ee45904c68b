package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenType separates access tokens from refresh tokens.
type TokenType string

const (
	AccessToken  TokenType = "access"
	RefreshToken TokenType = "refresh"
)

var ErrWrongTokenType = errors.New("wrong token type")

// Claims is the payload shared by access and refresh tokens.
type Claims struct {
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	SessionID string    `json:"session_id"`
	Type      TokenType `json:"type"`
	jwt.RegisteredClaims
}

// IssuedToken is a signed token with its id and expiry.
type IssuedToken struct {
	Token     string
	ID        string
	ExpiresAt time.Time
}

// GenerateToken signs a token of the given type for the user and session.
func GenerateToken(secret string, typ TokenType, userID, sessionID uuid.UUID, role string, ttl time.Duration) (IssuedToken, error) {
	now := time.Now()
	exp := now.Add(ttl)
	jti := uuid.NewString()

	claims := &Claims{
		UserID:    userID.String(),
		Role:      role,
		SessionID: sessionID.String(),
		Type:      typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return IssuedToken{}, err
	}
	return IssuedToken{Token: signed, ID: jti, ExpiresAt: exp}, nil
}

// ParseToken validates signature, expiry and type. Expired tokens return an
// error wrapping jwt.ErrTokenExpired.
func ParseToken(secret, tokenString string, typ TokenType) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.Type != typ {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}

// IDs parses the user and session ids from claims.
func (c *Claims) IDs() (userID, sessionID uuid.UUID, err error) {
	if userID, err = uuid.Parse(c.UserID); err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	if sessionID, err = uuid.Parse(c.SessionID); err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return userID, sessionID, nil
}
