// Package auth issues and validates the session tokens that carry a
// principal and its role.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/rapidworks/expertdesk/internal/model"
)

// ErrInvalidToken is returned for tokens that fail parsing or validation.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the JWT payload of a session.
type Claims struct {
	UserID string     `json:"user_id"`
	Email  string     `json:"email"`
	Name   string     `json:"name"`
	Role   model.Role `json:"role"`
	jwt.RegisteredClaims
}

// Principal converts the claims to the session principal.
func (c *Claims) Principal() model.Principal {
	return model.Principal{
		UserID: c.UserID,
		Email:  c.Email,
		Name:   c.Name,
		Role:   c.Role,
	}
}

// JWTService signs and validates HS256 session tokens. The role is resolved
// from the email when a token is issued and travels in the claims after
// that.
type JWTService struct {
	secret      []byte
	issuer      string
	ttl         time.Duration
	staffDomain string
	admins      []string
	now         func() time.Time
}

// NewJWTService creates a JWT service from the auth config section.
func NewJWTService(cfg model.AuthConfig) (*JWTService, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("jwt secret is not configured")
	}
	ttl := time.Duration(cfg.TokenTTLMin) * time.Minute
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &JWTService{
		secret:      []byte(cfg.JWTSecret),
		issuer:      cfg.JWTIssuer,
		ttl:         ttl,
		staffDomain: cfg.StaffDomain,
		admins:      cfg.AdminEmails,
		now:         time.Now,
	}, nil
}

// Resolve builds the principal for an email, deriving its role.
func (s *JWTService) Resolve(email, name, userID string) model.Principal {
	return ResolvePrincipal(model.AuthConfig{StaffDomain: s.staffDomain, AdminEmails: s.admins}, email, name, userID)
}

// ResolvePrincipal builds the principal for an email once per session. A
// missing user id is derived from the email so customers keep a stable
// identity across processes.
func ResolvePrincipal(cfg model.AuthConfig, email, name, userID string) model.Principal {
	email = strings.ToLower(strings.TrimSpace(email))
	if userID == "" {
		userID = uuid.NewSHA1(uuid.NameSpaceURL, []byte("mailto:"+email)).String()
	}
	if name == "" {
		name, _, _ = strings.Cut(email, "@")
	}
	return model.Principal{
		UserID: userID,
		Email:  email,
		Name:   name,
		Role:   model.ResolveRole(email, cfg.StaffDomain, cfg.AdminEmails),
	}
}

// GenerateToken signs a token for p.
func (s *JWTService) GenerateToken(p model.Principal) (string, error) {
	now := s.now()
	claims := &Claims{
		UserID: p.UserID,
		Email:  p.Email,
		Name:   p.Name,
		Role:   p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   p.UserID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses a token and returns its claims.
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithTimeFunc(s.now)}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	switch claims.Role {
	case model.RoleCustomer, model.RoleExpert, model.RoleAdmin:
	default:
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}
	return claims, nil
}
