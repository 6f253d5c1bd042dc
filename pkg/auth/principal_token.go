package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/confops/confops/pkg/engine"
)

var ErrInvalidToken = errors.New("invalid token")

// PrincipalClaims carry the authenticated actor. Identity and role resolution
// happen upstream; this service only verifies the signature and hands the
// principal to the engine.
type PrincipalClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

type PrincipalTokenManager struct {
	signingKey []byte
	ttl        time.Duration
}

func NewPrincipalTokenManager(signingKey []byte, ttl time.Duration) *PrincipalTokenManager {
	return &PrincipalTokenManager{signingKey: signingKey, ttl: ttl}
}

func (m *PrincipalTokenManager) Generate(userID, role string) (string, error) {
	claims := PrincipalClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   userID,
			Issuer:    "confops",
		},
		UserID: userID,
		Role:   role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.signingKey)
}

func (m *PrincipalTokenManager) Validate(tokenString string) (*PrincipalClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &PrincipalClaims{}, func(token *jwt.Token) (interface{}, error) {
		return m.signingKey, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*PrincipalClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Principal converts validated claims into the engine's actor value type.
func (c *PrincipalClaims) Principal() engine.Principal {
	role := c.Role
	if role == "" {
		role = engine.RoleMember
	}
	return engine.Principal{ID: c.UserID, Role: role}
}
