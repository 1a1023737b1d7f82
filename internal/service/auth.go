package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/bnema/waveshift/internal/domain"
)

var (
	ErrInvalidToken = &domain.Error{Kind: domain.KindUnauthorized, Message: "invalid token"}
	ErrExpiredToken = &domain.Error{Kind: domain.KindUnauthorized, Message: "expired token"}
)

func validateOwnerID(ownerID string) error {
	if ownerID == "" {
		return fmt.Errorf("must not be empty")
	}
	if len(ownerID) > 64 {
		return fmt.Errorf("must be at most 64 characters")
	}
	for _, r := range ownerID {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '-' && r != '.' && r != '@' {
			return fmt.Errorf("must contain only letters, numbers, and _ - . @")
		}
	}
	return nil
}

// AuthService issues and checks owner tokens of the form
// "<unix timestamp>:<owner id>:<base64url HMAC-SHA256>". Tokens are stateless:
// there is no user table behind them.
type AuthService struct {
	secretKey string
	ttl       time.Duration
	now       func() time.Time
}

func NewAuthService(secretKey string, ttl time.Duration) *AuthService {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &AuthService{
		secretKey: secretKey,
		ttl:       ttl,
		now:       time.Now,
	}
}

func (s *AuthService) sign(timestamp, ownerID string) string {
	mac := hmac.New(sha256.New, []byte(s.secretKey))
	mac.Write([]byte(timestamp + ":" + ownerID))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil))
}

func (s *AuthService) GenerateToken(ownerID string) (string, error) {
	if err := validateOwnerID(ownerID); err != nil {
		return "", domain.Validationf("invalid owner id: %v", err)
	}

	timestamp := strconv.FormatInt(s.now().Unix(), 10)
	return timestamp + ":" + ownerID + ":" + s.sign(timestamp, ownerID), nil
}

// ValidateToken returns the owner the token was issued to.
func (s *AuthService) ValidateToken(token string) (string, error) {
	parts := strings.Split(token, ":")
	if len(parts) != 3 {
		return "", ErrInvalidToken
	}

	timestamp, ownerID, signature := parts[0], parts[1], parts[2]
	if validateOwnerID(ownerID) != nil {
		return "", ErrInvalidToken
	}

	if !hmac.Equal([]byte(signature), []byte(s.sign(timestamp, ownerID))) {
		return "", ErrInvalidToken
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return "", ErrInvalidToken
	}

	if s.now().After(time.Unix(ts, 0).Add(s.ttl)) {
		return "", ErrExpiredToken
	}

	return ownerID, nil
}
