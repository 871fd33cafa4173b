package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken signals the presented session token failed validation.
var ErrInvalidToken = errors.New("session: invalid token")

// Manager issues and validates signed session tokens carrying the
// authenticated account identity. The workflow engine never sees raw tokens;
// the presentation layer resolves them to an account id first.
type Manager struct {
	secret []byte
	ttl    time.Duration
}

// NewManager creates a token manager with the given signing secret.
func NewManager(secret string) *Manager {
	return &Manager{
		secret: []byte(secret),
		ttl:    24 * time.Hour,
	}
}

// Issue creates a signed token for the verified account.
func (m *Manager) Issue(accountID string) (string, error) {
	claims := jwt.MapClaims{
		"account_id": accountID,
		"exp":        time.Now().Add(m.ttl).Unix(),
		"iat":        time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("session: sign token: %w", err)
	}
	return signed, nil
}

// Verify validates a token and returns the account id it carries.
func (m *Manager) Verify(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("session: parse token: %w", ErrInvalidToken)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}
	accountID, ok := claims["account_id"].(string)
	if !ok || accountID == "" {
		return "", ErrInvalidToken
	}
	return accountID, nil
}
