// Package auth manages the farmer session: the JWT issued by the user
// service, its decoded claims and the login/logout lifecycle of the store.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tphakala/farmdash/internal/entities"
	"github.com/tphakala/farmdash/internal/errors"
)

var (
	// ErrNoSession is returned when no token is stored.
	ErrNoSession = errors.Newf("not logged in").
			Component("auth").
			Category(errors.CategoryAuthentication).
			Build()

	// ErrSessionExpired is returned when the stored token is past its exp claim.
	ErrSessionExpired = errors.Newf("session token expired").
				Component("auth").
				Category(errors.CategoryAuthentication).
				Build()
)

// Claims is the payload of the user service JWT.
type Claims struct {
	ID    entities.ID      `json:"id"`
	Email string           `json:"email"`
	Roles jwt.ClaimStrings `json:"roles"`
	jwt.RegisteredClaims
}

// Session is a decoded token.
type Session struct {
	Token  string
	Claims Claims
}

// Parse decodes a token without verifying its signature. The signing key
// stays with the user service; the services verify the token on every call.
func Parse(token string) (*Session, error) {
	if token == "" {
		return nil, ErrNoSession
	}

	var claims Claims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return nil, errors.New(err).
			Component("auth").
			Category(errors.CategoryAuthentication).
			Context("operation", "parse_token").
			Build()
	}
	if claims.ID == "" {
		claims.ID = entities.ID(claims.Subject)
	}
	if claims.ID == "" {
		return nil, errors.Newf("token has no user id").
			Component("auth").
			Category(errors.CategoryAuthentication).
			Build()
	}
	return &Session{Token: token, Claims: claims}, nil
}

// Expired reports whether the exp claim is at or before now. Tokens without
// exp never expire client-side.
func (s *Session) Expired(now time.Time) bool {
	if s.Claims.ExpiresAt == nil {
		return false
	}
	return !now.Before(s.Claims.ExpiresAt.Time)
}

// FarmerID returns the id used for every per-farmer endpoint.
func (s *Session) FarmerID() string {
	return s.Claims.ID.String()
}

// Farmer returns the minimal profile carried by the token.
func (s *Session) Farmer() *entities.Farmer {
	return &entities.Farmer{
		ID:    s.Claims.ID,
		Email: s.Claims.Email,
		Roles: []string(s.Claims.Roles),
	}
}
