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

package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndAuthenticate(t *testing.T) {
	t.Parallel()

	a, err := NewJWTAuthenticator([]byte("secret"), "fleetrelay")
	require.NoError(t, err)

	for _, role := range []Role{RoleDevice, RoleController} {
		token, err := a.Issue("subject-1", role, time.Minute)
		require.NoError(t, err)

		p, err := a.Authenticate(context.Background(), token)
		require.NoError(t, err)
		assert.Equal(t, &Principal{Subject: "subject-1", Role: role}, p)
	}
}

func TestAuthenticateRejects(t *testing.T) {
	t.Parallel()

	a, err := NewJWTAuthenticator([]byte("secret"), "fleetrelay")
	require.NoError(t, err)

	other, err := NewJWTAuthenticator([]byte("other-secret"), "fleetrelay")
	require.NoError(t, err)

	foreignIssuer, err := NewJWTAuthenticator([]byte("secret"), "someone-else")
	require.NoError(t, err)

	wrongKey, err := other.Issue("d1", RoleDevice, time.Minute)
	require.NoError(t, err)

	wrongIssuer, err := foreignIssuer.Issue("d1", RoleDevice, time.Minute)
	require.NoError(t, err)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: RoleDevice,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "d1",
			Issuer:    "fleetrelay",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	badRole, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role:             "admin",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "d1", Issuer: "fleetrelay"},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role:             RoleDevice,
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "fleetrelay"},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		Role:             RoleDevice,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "d1", Issuer: "fleetrelay"},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"garbage", "not-a-token", ErrInvalidToken},
		{"wrong key", wrongKey, ErrInvalidToken},
		{"wrong issuer", wrongIssuer, ErrInvalidToken},
		{"expired", expired, ErrInvalidToken},
		{"unknown role", badRole, ErrInvalidRole},
		{"missing subject", noSubject, ErrSubjectRequired},
		{"unexpected algorithm", hs512, ErrInvalidToken},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := a.Authenticate(context.Background(), tc.token)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestConstructionAndIssueValidation(t *testing.T) {
	t.Parallel()

	_, err := NewJWTAuthenticator(nil, "")
	require.ErrorIs(t, err, ErrSecretRequired)

	a, err := NewJWTAuthenticator([]byte("k"), "")
	require.NoError(t, err)

	_, err = a.Issue("", RoleDevice, 0)
	require.ErrorIs(t, err, ErrSubjectRequired)

	_, err = a.Issue("d1", "robot", 0)
	require.ErrorIs(t, err, ErrInvalidRole)

	token, err := a.Issue("d1", RoleDevice, 0)
	require.NoError(t, err)

	p, err := a.Authenticate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "d1", p.Subject)
}
