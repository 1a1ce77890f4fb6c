package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onlineauth/internal/common"
)

type jwksFixture struct {
	key     *rsa.PrivateKey
	kid     string
	fetches atomic.Int32
	failing atomic.Bool
	srv     *httptest.Server
}

func newJWKSFixture(t *testing.T) *jwksFixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	f := &jwksFixture{key: key, kid: "kid-1"}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.fetches.Add(1)
		if f.failing.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]string{{
				"kid": f.kid,
				"kty": "RSA",
				"alg": "RS256",
				"use": "sig",
				"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
			}},
		})
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *jwksFixture) verifier(t *testing.T) *IDTokenVerifier {
	t.Helper()
	v := NewIDTokenVerifier("client-1", f.srv.URL, f.srv.Client())
	t.Cleanup(v.Close)
	return v
}

func (f *jwksFixture) sign(t *testing.T, kid string, claims GoogleClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	raw, err := tok.SignedString(f.key)
	require.NoError(t, err)
	return raw
}

func validClaims(now time.Time) GoogleClaims {
	return GoogleClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "https://accounts.google.com",
			Subject:   "1077",
			Audience:  jwt.ClaimStrings{"client-1"},
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		Email:         "g@example.com",
		EmailVerified: true,
		Name:          "Gee",
		Picture:       "https://img/gee.png",
	}
}

func TestIDTokenVerifier_Valid(t *testing.T) {
	f := newJWKSFixture(t)
	v := f.verifier(t)

	claims, err := v.Verify(context.Background(), f.sign(t, f.kid, validClaims(time.Now())))
	require.NoError(t, err)
	assert.Equal(t, "1077", claims.Subject)
	assert.Equal(t, "g@example.com", claims.Email)
	assert.Equal(t, "Gee", claims.Name)
	assert.Equal(t, "https://img/gee.png", claims.Picture)
}

func TestIDTokenVerifier_AcceptsBareIssuer(t *testing.T) {
	f := newJWKSFixture(t)
	v := f.verifier(t)

	c := validClaims(time.Now())
	c.Issuer = "accounts.google.com"
	_, err := v.Verify(context.Background(), f.sign(t, f.kid, c))
	assert.NoError(t, err)
}

func TestIDTokenVerifier_Rejects(t *testing.T) {
	f := newJWKSFixture(t)
	now := time.Now()

	wrongAud := validClaims(now)
	wrongAud.Audience = jwt.ClaimStrings{"someone-else"}
	wrongIss := validClaims(now)
	wrongIss.Issuer = "https://evil.example.com"
	expired := validClaims(now)
	expired.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Hour))
	noExp := validClaims(now)
	noExp.ExpiresAt = nil

	cases := map[string]string{
		"audience": f.sign(t, f.kid, wrongAud),
		"issuer":   f.sign(t, f.kid, wrongIss),
		"expired":  f.sign(t, f.kid, expired),
		"no exp":   f.sign(t, f.kid, noExp),
		"kid":      f.sign(t, "other-kid", validClaims(now)),
		"garbage":  "not.a.token",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			v := f.verifier(t)
			_, err := v.Verify(context.Background(), raw)
			assert.ErrorIs(t, err, common.ErrInvalidToken)
		})
	}
}

func TestIDTokenVerifier_RejectsHS256(t *testing.T) {
	f := newJWKSFixture(t)
	v := f.verifier(t)

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims(time.Now()))
	tok.Header["kid"] = f.kid
	raw, err := tok.SignedString([]byte("shared"))
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), raw)
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestIDTokenVerifier_InputAndConfig(t *testing.T) {
	_, err := NewIDTokenVerifier("", "", nil).Verify(context.Background(), "x")
	assert.ErrorIs(t, err, common.ErrNotConfigured)

	_, err = NewIDTokenVerifier("client-1", "", nil).Verify(context.Background(), "")
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestIDTokenVerifier_CachesKeys(t *testing.T) {
	f := newJWKSFixture(t)
	v := f.verifier(t)
	raw := f.sign(t, f.kid, validClaims(time.Now()))

	for range 3 {
		_, err := v.Verify(context.Background(), raw)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), f.fetches.Load())
}

func TestIDTokenVerifier_UnknownKeyIDsDoNotRefetch(t *testing.T) {
	f := newJWKSFixture(t)
	v := f.verifier(t)
	now := time.Now()

	_, err := v.Verify(context.Background(), f.sign(t, f.kid, validClaims(now)))
	require.NoError(t, err)

	for i := range 50 {
		_, err := v.Verify(context.Background(), f.sign(t, fmt.Sprintf("bogus-%d", i), validClaims(now)))
		require.ErrorIs(t, err, common.ErrInvalidToken)
	}
	assert.Equal(t, int32(1), f.fetches.Load())
}

func TestIDTokenVerifier_FailedFetchIsRetriedAfterBackoff(t *testing.T) {
	f := newJWKSFixture(t)
	f.failing.Store(true)
	v := f.verifier(t)
	now := time.Now()
	v.clock = func() time.Time { return now }
	raw := f.sign(t, f.kid, validClaims(now))

	for range 5 {
		_, err := v.Verify(context.Background(), raw)
		require.ErrorIs(t, err, common.ErrInvalidToken)
	}
	assert.Equal(t, int32(1), f.fetches.Load())

	f.failing.Store(false)
	now = now.Add(keySetRetry + time.Second)
	_, err := v.Verify(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.fetches.Load())
}

func TestIDTokenVerifier_RefreshesInBackground(t *testing.T) {
	f := newJWKSFixture(t)
	v := NewIDTokenVerifier("client-1", f.srv.URL, f.srv.Client())
	v.refresh = 20 * time.Millisecond
	t.Cleanup(v.Close)

	_, err := v.Verify(context.Background(), f.sign(t, f.kid, validClaims(time.Now())))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return f.fetches.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond)
}
