// Package auth issues and verifies bearer credentials. Passwords are
// hashed with bcrypt; tokens are HS256 JWTs carrying the subject id and
// display name.
package auth

import (
	"errors"
	"fmt"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidToken is returned for missing claims, bad signatures and
// expired tokens alike; callers must not distinguish why a credential
// failed.
var ErrInvalidToken = errors.New("invalid or expired token")

// TokenData is what a verified credential yields.
type TokenData struct {
	UserID   string
	Username string
}

// Service signs and verifies tokens with a shared secret.
type Service struct {
	secret []byte
	ttl    time.Duration
}

func NewService(secret string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Service{secret: []byte(secret), ttl: ttl}
}

// HashPassword hashes a plaintext password with bcrypt.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("cannot hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether the plaintext matches the stored hash.
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// IssueToken creates a signed token for the given user.
func (s *Service) IssueToken(userID, username string) (string, error) {
	now := time.Now()
	claims := gojwt.MapClaims{
		"sub":      userID,
		"username": username,
		"iat":      now.Unix(),
		"exp":      now.Add(s.ttl).Unix(),
	}
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("cannot sign token: %w", err)
	}
	return signed, nil
}

// DecodeToken verifies the signature and expiry and extracts the
// subject identity and display name.
func (s *Service) DecodeToken(tokenStr string) (TokenData, error) {
	token, err := gojwt.Parse(tokenStr, func(t *gojwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*gojwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return TokenData{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(gojwt.MapClaims)
	if !ok {
		return TokenData{}, ErrInvalidToken
	}

	userID, _ := claims["sub"].(string)
	username, _ := claims["username"].(string)
	if userID == "" || username == "" {
		return TokenData{}, ErrInvalidToken
	}

	return TokenData{UserID: userID, Username: username}, nil
}
