package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken возвращается для неподписанного, просроченного или чужого токена
var ErrInvalidToken = errors.New("недействительный токен")

// Claims represents JWT claims
type Claims struct {
	CanWrite bool `json:"can_write"`
	jwt.RegisteredClaims
}

// Authenticator выпускает и проверяет токены доступа к API мира
type Authenticator struct {
	secret []byte
	issuer string
}

// NewAuthenticator создаёт аутентификатор с секретом в base64 (не короче 32 байт)
func NewAuthenticator(secret, issuer string) (*Authenticator, error) {
	decoded, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("секрет не в base64: %w", err)
	}
	if len(decoded) < 32 {
		return nil, errors.New("secret key must be at least 32 bytes")
	}
	return &Authenticator{secret: decoded, issuer: issuer}, nil
}

// IssueToken creates a signed token for subject
func (a *Authenticator) IssueToken(subject string, canWrite bool, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		CanWrite: canWrite,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    a.issuer,
			Subject:   subject,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// Validate checks token validity and returns its claims
func (a *Authenticator) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Verify signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithIssuer(a.issuer))

	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// GenerateSecureSecret generates a new secure secret key
func GenerateSecureSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
