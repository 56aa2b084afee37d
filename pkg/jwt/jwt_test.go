package jwt

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func newTestManager(t *testing.T, key *rsa.PrivateKey) *Manager {
	return NewManagerFromKeys(key, nil, Config{Issuer: "storefront", AccessTokenTTL: time.Minute})
}

func TestGenerateAndValidate(t *testing.T) {
	m := newTestManager(t, newTestKey(t))

	pair, err := m.GenerateTokenPair("user-1", RoleAdmin)
	require.NoError(t, err)

	claims, err := m.ValidateToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.True(t, claims.IsAdmin())
	assert.NotEmpty(t, claims.ID)
}

func TestValidateToken_Rejects(t *testing.T) {
	key := newTestKey(t)
	m := newTestManager(t, key)

	tests := []struct {
		name  string
		token func() string
	}{
		{"мусор", func() string { return "not-a-token" }},
		{"чужой ключ", func() string {
			pair, err := newTestManager(t, newTestKey(t)).GenerateTokenPair("u", RoleCustomer)
			require.NoError(t, err)
			return pair.AccessToken
		}},
		{"истёкший", func() string {
			expired := NewManagerFromKeys(key, nil, Config{Issuer: "storefront", AccessTokenTTL: -time.Minute})
			expired.accessTTL = -time.Minute
			pair, err := expired.GenerateTokenPair("u", RoleCustomer)
			require.NoError(t, err)
			return pair.AccessToken
		}},
		{"другой издатель", func() string {
			pair, err := NewManagerFromKeys(key, nil, Config{Issuer: "other"}).GenerateTokenPair("u", RoleCustomer)
			require.NoError(t, err)
			return pair.AccessToken
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.ValidateToken(tt.token())
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestValidateOnlyManagerCannotSign(t *testing.T) {
	key := newTestKey(t)
	m := NewManagerFromKeys(nil, &key.PublicKey, Config{})

	_, err := m.GenerateTokenPair("u", RoleCustomer)
	assert.ErrorIs(t, err, ErrCannotSign)
}

func TestRevokeWithBlacklist(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	m := newTestManager(t, newTestKey(t))
	m.SetBlacklist(NewBlacklist(rdb))
	ctx := context.Background()

	pair, err := m.GenerateTokenPair("user-1", RoleCustomer)
	require.NoError(t, err)

	claims, err := m.ValidateWithBlacklist(ctx, pair.AccessToken)
	require.NoError(t, err)

	require.NoError(t, m.Revoke(ctx, claims))

	_, err = m.ValidateWithBlacklist(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, ErrTokenRevoked)

	ttl := mr.TTL(blacklistPrefix + claims.ID)
	assert.True(t, ttl > 0 && ttl <= time.Minute, "ключ живёт не дольше токена")
}

func TestBlacklist_SkipsExpired(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bl := NewBlacklist(rdb)

	require.NoError(t, bl.Add(context.Background(), "jti-old", time.Now().Add(-time.Second)))
	revoked, err := bl.Check(context.Background(), "jti-old")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestLoadKeys(t *testing.T) {
	key := newTestKey(t)
	dir := t.TempDir()

	privPath := filepath.Join(dir, "private.pem")
	require.NoError(t, os.WriteFile(privPath, pem.EncodeToMemory(&pem.Block{
		Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key),
	}), 0o600))

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPath := filepath.Join(dir, "public.pem")
	require.NoError(t, os.WriteFile(pubPath, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}), 0o600))

	m, err := NewManager(Config{PrivateKeyPath: privPath, PublicKeyPath: pubPath, Issuer: "storefront"})
	require.NoError(t, err)

	pair, err := m.GenerateTokenPair("u", RoleCustomer)
	require.NoError(t, err)
	_, err = m.ValidateToken(pair.AccessToken)
	assert.NoError(t, err)

	_, err = NewManager(Config{PublicKeyPath: filepath.Join(dir, "missing.pem")})
	assert.Error(t, err)
}
