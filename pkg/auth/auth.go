/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package auth binds a bearer token to a device or controller identity.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrSecretRequired  = errors.New("jwt secret is required")
	ErrInvalidToken    = errors.New("invalid token")
	ErrInvalidRole     = errors.New("token role must be device or controller")
	ErrSubjectRequired = errors.New("token subject is required")
)

// Role distinguishes the two kinds of connected peers.
type Role string

const (
	RoleDevice     Role = "device"
	RoleController Role = "controller"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleDevice || r == RoleController
}

// Principal is the authenticated identity of a connection. Subject is the
// device ID for devices and the user ID for controllers.
type Principal struct {
	Subject string
	Role    Role
}

// Authenticator validates a bearer token.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*Principal, error)
}

// Claims is the token body.
type Claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

// JWTAuthenticator accepts HS256 tokens signed with a shared secret.
type JWTAuthenticator struct {
	secret []byte
	issuer string
	parser *jwt.Parser
}

// NewJWTAuthenticator creates an authenticator. A non-empty issuer is
// required to match the token's iss claim.
func NewJWTAuthenticator(secret []byte, issuer string) (*JWTAuthenticator, error) {
	if len(secret) == 0 {
		return nil, ErrSecretRequired
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	return &JWTAuthenticator{
		secret: secret,
		issuer: issuer,
		parser: jwt.NewParser(opts...),
	}, nil
}

func (a *JWTAuthenticator) Authenticate(_ context.Context, tokenString string) (*Principal, error) {
	claims := &Claims{}

	token, err := a.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	if claims.Subject == "" {
		return nil, ErrSubjectRequired
	}

	if !claims.Role.Valid() {
		return nil, ErrInvalidRole
	}

	return &Principal{Subject: claims.Subject, Role: claims.Role}, nil
}

// Issue signs a token for subject. A zero ttl issues a token without expiry.
func (a *JWTAuthenticator) Issue(subject string, role Role, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", ErrSubjectRequired
	}

	if !role.Valid() {
		return "", ErrInvalidRole
	}

	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			Issuer:   a.issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}

	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}
