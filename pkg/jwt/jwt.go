// Package jwt выдаёт и проверяет RS256 токены покупателей и администраторов магазина.
package jwt

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Роли пользователей.
const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

var (
	// ErrInvalidToken: подпись, срок или формат токена не прошли проверку.
	ErrInvalidToken = errors.New("невалидный токен")

	// ErrTokenRevoked: токен отозван через logout.
	ErrTokenRevoked = errors.New("токен отозван")

	// ErrCannotSign: менеджер создан без приватного ключа.
	ErrCannotSign = errors.New("приватный ключ не загружен")
)

// Claims: данные access токена.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// IsAdmin сообщает, выдан ли токен администратору.
func (c *Claims) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// TokenPair: access и refresh токены.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
}

// Config: пути к ключам и сроки жизни токенов.
type Config struct {
	PrivateKeyPath  string
	PublicKeyPath   string
	Issuer          string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// Manager подписывает и проверяет токены.
type Manager struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	blacklist  *Blacklist

	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewManager загружает ключи из PEM файлов. Без PrivateKeyPath менеджер только проверяет токены.
func NewManager(cfg Config) (*Manager, error) {
	pub, err := LoadPublicKey(cfg.PublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки публичного ключа: %w", err)
	}

	var priv *rsa.PrivateKey
	if cfg.PrivateKeyPath != "" {
		if priv, err = LoadPrivateKey(cfg.PrivateKeyPath); err != nil {
			return nil, fmt.Errorf("ошибка загрузки приватного ключа: %w", err)
		}
	}

	return NewManagerFromKeys(priv, pub, cfg), nil
}

// NewManagerFromKeys создаёт менеджер из готовых ключей.
func NewManagerFromKeys(priv *rsa.PrivateKey, pub *rsa.PublicKey, cfg Config) *Manager {
	if pub == nil && priv != nil {
		pub = &priv.PublicKey
	}
	accessTTL := cfg.AccessTokenTTL
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	refreshTTL := cfg.RefreshTokenTTL
	if refreshTTL <= 0 {
		refreshTTL = 7 * 24 * time.Hour
	}
	return &Manager{
		privateKey: priv,
		publicKey:  pub,
		issuer:     cfg.Issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// SetBlacklist подключает Redis blacklist для logout.
func (m *Manager) SetBlacklist(bl *Blacklist) {
	m.blacklist = bl
}

// GenerateTokenPair выдаёт пару токенов пользователю с ролью role.
func (m *Manager) GenerateTokenPair(userID, role string) (*TokenPair, error) {
	if m.privateKey == nil {
		return nil, ErrCannotSign
	}

	now := time.Now()
	accessExp := now.Add(m.accessTTL)

	access, err := m.sign(Claims{
		RegisteredClaims: m.registered(userID, now, accessExp),
		UserID:           userID,
		Role:             role,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка подписи access token: %w", err)
	}

	refresh, err := m.sign(Claims{
		RegisteredClaims: m.registered(userID, now, now.Add(m.refreshTTL)),
		UserID:           userID,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка подписи refresh token: %w", err)
	}

	return &TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresAt: accessExp.Unix()}, nil
}

func (m *Manager) registered(userID string, iat, exp time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    m.issuer,
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(iat),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
}

func (m *Manager) sign(c Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodRS256, c).SignedString(m.privateKey)
}

// ValidateToken проверяет подпись, срок и издателя.
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()})}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (any, error) {
		return m.publicKey, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ValidateWithBlacklist: ValidateToken плюс проверка отзыва по jti.
func (m *Manager) ValidateWithBlacklist(ctx context.Context, tokenString string) (*Claims, error) {
	claims, err := m.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if m.blacklist == nil {
		return claims, nil
	}

	revoked, err := m.blacklist.Check(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrTokenRevoked
	}
	return claims, nil
}

// Revoke отзывает токен до конца его срока жизни. Без blacklist: no-op.
func (m *Manager) Revoke(ctx context.Context, claims *Claims) error {
	if m.blacklist == nil || claims == nil || claims.ExpiresAt == nil {
		return nil
	}
	return m.blacklist.Add(ctx, claims.ID, claims.ExpiresAt.Time)
}

// LoadPrivateKey читает RSA ключ в PKCS#1 или PKCS#8.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	block, err := readPEM(path)
	if err != nil {
		return nil, err
	}
	if block.Type == "RSA PRIVATE KEY" {
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга приватного ключа: %w", err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("ключ не является RSA приватным ключом")
	}
	return rsaKey, nil
}

// LoadPublicKey читает RSA ключ в PKIX или PKCS#1.
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	block, err := readPEM(path)
	if err != nil {
		return nil, err
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return x509.ParsePKCS1PublicKey(block.Bytes)
	}
	rsaKey, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("ключ не является RSA публичным ключом")
	}
	return rsaKey, nil
}

func readPEM(path string) (*pem.Block, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла %s: %w", path, err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("не удалось декодировать PEM блок из %s", path)
	}
	return block, nil
}
