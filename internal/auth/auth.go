// Package auth issues and reads the access tokens that authenticate a sync connection.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// BearerPrefix is stripped from credentials before they are used.
const BearerPrefix = "Bearer "

var (
	ErrInvalidToken = errors.New("invalid access token")
	ErrNoSubject    = errors.New("access token has no subject")
)

// NormalizeCredential strips a leading "Bearer " (any case) and surrounding spaces.
func NormalizeCredential(credential string) string {
	c := strings.TrimSpace(credential)
	if len(c) >= len(BearerPrefix) && strings.EqualFold(c[:len(BearerPrefix)], BearerPrefix) {
		c = strings.TrimSpace(c[len(BearerPrefix):])
	}
	return c
}

// Issuer signs and validates HS256 access tokens whose subject is the user id.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer returns an Issuer. A zero ttl issues tokens without expiry.
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue returns a signed token for the user.
func (i *Issuer) Issue(userID int64) (string, error) {
	now := i.now()
	claims := jwt.RegisteredClaims{
		Subject:  strconv.FormatInt(userID, 10),
		IssuedAt: jwt.NewNumericDate(now),
	}
	if i.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(i.ttl))
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("signing access token: %w", err)
	}
	return token, nil
}

// Validate verifies the signature and expiry of a credential and returns its user id.
func (i *Issuer) Validate(credential string) (int64, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(NormalizeCredential(credential), claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(i.now))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("%w: subject %q is not a user id", ErrInvalidToken, claims.Subject)
	}
	return id, nil
}

// Subject reads the user id from a credential without verifying it.
// Clients use it to learn their own identity; only the server can verify tokens.
func Subject(credential string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(NormalizeCredential(credential), claims); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", ErrNoSubject
	}
	return claims.Subject, nil
}
