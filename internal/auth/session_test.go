// AngelaMos | 2026
// session_test.go

package auth

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenlearn/entitlement-backend/internal/config"
	"github.com/lumenlearn/entitlement-backend/internal/core"
)

type sessionFixture struct {
	verifier   *SessionVerifier
	signingKey jwk.Key
	cfg        config.SessionConfig
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()

	dir := t.TempDir()
	privatePath := filepath.Join(dir, "private.pem")
	publicPath := filepath.Join(dir, "public.pem")
	require.NoError(t, GenerateKeyPair(privatePath, publicPath))

	cfg := config.SessionConfig{
		PublicKeyPath: publicPath,
		Issuer:        "lumenlearn",
		Audience:      "entitlement-backend",
	}

	verifier, err := NewSessionVerifier(cfg)
	require.NoError(t, err)

	keyPEM, err := readPEMKey(privatePath)
	require.NoError(t, err)

	return &sessionFixture{
		verifier:   verifier,
		signingKey: keyPEM,
		cfg:        cfg,
	}
}

func readPEMKey(path string) (jwk.Key, error) {
	keys, err := jwk.ReadFile(path, jwk.WithPEM(true))
	if err != nil {
		return nil, err
	}
	key, _ := keys.Key(0)
	return key, nil
}

func (f *sessionFixture) mint(
	t *testing.T,
	mutate func(b *jwt.Builder),
) string {
	t.Helper()

	now := time.Now()
	builder := jwt.NewBuilder().
		Subject("user-1").
		Issuer(f.cfg.Issuer).
		Audience([]string{f.cfg.Audience}).
		IssuedAt(now).
		Expiration(now.Add(time.Hour))
	if mutate != nil {
		mutate(builder)
	}

	token, err := builder.Build()
	require.NoError(t, err)

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.ES256(), f.signingKey))
	require.NoError(t, err)

	return string(signed)
}

func TestVerifySessionToken(t *testing.T) {
	fx := newSessionFixture(t)

	claims, err := fx.verifier.VerifySessionToken(
		context.Background(),
		fx.mint(t, nil),
	)
	require.NoError(t, err)

	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "user", claims.Role, "role defaults to user")
}

func TestVerifySessionTokenAdminRole(t *testing.T) {
	fx := newSessionFixture(t)

	token := fx.mint(t, func(b *jwt.Builder) {
		b.Claim("role", "admin")
	})

	claims, err := fx.verifier.VerifySessionToken(context.Background(), token)
	require.NoError(t, err)

	assert.Equal(t, "admin", claims.Role)
}

func TestVerifySessionTokenExpired(t *testing.T) {
	fx := newSessionFixture(t)

	token := fx.mint(t, func(b *jwt.Builder) {
		b.Expiration(time.Now().Add(-time.Hour))
	})

	_, err := fx.verifier.VerifySessionToken(context.Background(), token)
	assert.ErrorIs(t, err, core.ErrTokenExpired)
}

func TestVerifySessionTokenWrongIssuer(t *testing.T) {
	fx := newSessionFixture(t)

	token := fx.mint(t, func(b *jwt.Builder) {
		b.Issuer("somebody-else")
	})

	_, err := fx.verifier.VerifySessionToken(context.Background(), token)
	assert.ErrorIs(t, err, core.ErrTokenInvalid)
}

func TestVerifySessionTokenWrongKey(t *testing.T) {
	fx := newSessionFixture(t)
	other := newSessionFixture(t)

	_, err := fx.verifier.VerifySessionToken(
		context.Background(),
		other.mint(t, nil),
	)
	assert.ErrorIs(t, err, core.ErrTokenInvalid)
}

func TestVerifySessionTokenGarbage(t *testing.T) {
	fx := newSessionFixture(t)

	_, err := fx.verifier.VerifySessionToken(context.Background(), "garbage")
	assert.ErrorIs(t, err, core.ErrTokenInvalid)
}
