package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/JakeFAU/qa-harvester/internal/harvest"
)

// TokenService signs and validates HS256 access tokens.
type TokenService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	clock  harvest.Clock
}

// TokenConfig configures a TokenService.
type TokenConfig struct {
	Secret string
	Issuer string
	TTL    time.Duration
	Clock  harvest.Clock
}

type claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// NewTokenService validates cfg and returns a TokenService.
func NewTokenService(cfg TokenConfig) (*TokenService, error) {
	if len(cfg.Secret) < 16 {
		return nil, errors.New("jwt secret must be at least 16 characters")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("token ttl must be > 0")
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "qa-harvester"
	}
	if cfg.Clock == nil {
		cfg.Clock = wallClock{}
	}
	return &TokenService{secret: []byte(cfg.Secret), issuer: cfg.Issuer, ttl: cfg.TTL, clock: cfg.Clock}, nil
}

// Issue signs a token for caller and returns it with its expiry.
func (s *TokenService) Issue(caller harvest.Caller) (string, time.Time, error) {
	if !caller.Known() {
		return "", time.Time{}, errors.New("caller has no user id")
	}
	now := s.clock.Now()
	expires := now.Add(s.ttl)
	c := claims{
		Username: caller.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   caller.UserID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

// Parse verifies a token and returns the caller it names. Every failure is ErrUnauthorized.
func (s *TokenService) Parse(token string) (harvest.Caller, error) {
	parsed, err := jwt.ParseWithClaims(
		token,
		&claims{},
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return harvest.Caller{}, harvest.Unauthorized("token expired")
		}
		return harvest.Caller{}, &harvest.Error{Kind: harvest.ErrUnauthorized, Message: "invalid token", Err: err}
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid || c.Subject == "" {
		return harvest.Caller{}, harvest.Unauthorized("invalid token claims")
	}
	return harvest.Caller{UserID: c.Subject, Username: c.Username}, nil
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }
