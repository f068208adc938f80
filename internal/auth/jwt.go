package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Realm identifies the JWT authentication realm.
type Realm string

// RealmRider is the only realm issued by this service.
const RealmRider Realm = "rider"

// Claims holds the custom JWT claims for rider sessions.
type Claims struct {
	jwt.RegisteredClaims
	Realm Realm  `json:"realm"`
	Email string `json:"email,omitempty"`
}

// JWTManager handles rider token generation and validation.
type JWTManager struct {
	secret      []byte
	riderExpiry time.Duration
	now         func() time.Time
}

// NewJWTManager creates a JWT manager issuing tokens valid for riderExpiry.
func NewJWTManager(secret string, riderExpiry time.Duration) *JWTManager {
	return &JWTManager{
		secret:      []byte(secret),
		riderExpiry: riderExpiry,
		now:         time.Now,
	}
}

// GenerateToken creates a signed rider JWT whose subject is the rider id.
func (m *JWTManager) GenerateToken(riderID, email string) (string, error) {
	if riderID == "" {
		return "", fmt.Errorf("rider id is required")
	}

	now := m.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   riderID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.riderExpiry)),
			ID:        uuid.New().String(),
		},
		Realm: RealmRider,
		Email: email,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// ValidateToken parses and validates a JWT, returning claims if valid.
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now))
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	return claims, nil
}

// ValidateRiderToken validates a token and ensures it was issued to a rider.
func (m *JWTManager) ValidateRiderToken(tokenString string) (*Claims, error) {
	claims, err := m.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Realm != RealmRider {
		return nil, fmt.Errorf("expected realm %s, got %s", RealmRider, claims.Realm)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token has no subject")
	}
	return claims, nil
}
