package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/dogwalking/auth-service/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenManager signs and verifies access tokens. Access tokens are stateless
// JWTs; verification needs only the signing secret, never the session store.
// Refresh tokens are opaque and handled by the session service, so nothing
// here issues them.
type TokenManager struct {
	secret            string
	issuer            string
	accessTokenExpiry time.Duration
}

// NewTokenManager creates a new TokenManager
func NewTokenManager(secret, issuer string, accessExpiry time.Duration) *TokenManager {
	return &TokenManager{
		secret:            secret,
		issuer:            issuer,
		accessTokenExpiry: accessExpiry,
	}
}

// GenerateAccessToken creates a short-lived access token bound to a principal
// and session, with a JTI for traceability.
func (tm *TokenManager) GenerateAccessToken(principalID, sessionID string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(tm.accessTokenExpiry)

	claims := &models.AccessClaims{
		Type:        "access",
		PrincipalID: principalID,
		SessionID:   sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    tm.issuer,
			Subject:   principalID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString([]byte(tm.secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign access token: %w", err)
	}

	return tokenString, expiresAt, nil
}

// ValidateAccessToken verifies signature, expiry, issuer and token type.
// An expired token reports ErrSessionExpired; everything else wrong with the
// token reports ErrInvalidToken.
func (tm *TokenManager) ValidateAccessToken(tokenString string) (*models.AccessClaims, error) {
	claims := &models.AccessClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Verify signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(tm.secret), nil
	}, jwt.WithIssuer(tm.issuer))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, models.ErrSessionExpired
		}
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, models.ErrInvalidToken
	}

	if claims.Type != "access" {
		return nil, fmt.Errorf("%w: wrong token type %q", models.ErrInvalidToken, claims.Type)
	}

	if claims.PrincipalID == "" || claims.SessionID == "" {
		return nil, fmt.Errorf("%w: missing subject claims", models.ErrInvalidToken)
	}

	return claims, nil
}

// HashRefreshToken derives the storage key for an opaque refresh token. The
// plaintext token never touches the database.
func HashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
