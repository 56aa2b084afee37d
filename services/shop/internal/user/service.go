// Package user: регистрация, вход и выход покупателей.
package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"example.com/storefront/pkg/jwt"
	"example.com/storefront/pkg/logger"
	"example.com/storefront/services/shop/internal/domain"
	"example.com/storefront/services/shop/internal/repository"
)

const (
	// defaultBcryptCost: стоимость хэширования bcrypt.
	defaultBcryptCost = 12

	minPasswordLength = 8
)

// TokenIssuer выдаёт, проверяет и отзывает токены. Реализуется *jwt.Manager.
type TokenIssuer interface {
	GenerateTokenPair(userID, role string) (*jwt.TokenPair, error)
	ValidateToken(tokenString string) (*jwt.Claims, error)
	Revoke(ctx context.Context, claims *jwt.Claims) error
}

// RegisterRequest: данные регистрации.
type RegisterRequest struct {
	Email    string
	Password string
	Name     string
}

// Service: пользователи и аутентификация.
type Service struct {
	users      repository.UserStore
	tokens     TokenIssuer
	limiter    LoginLimiter
	bcryptCost int
}

// Option настраивает Service.
type Option func(*Service)

// WithLoginLimiter включает защиту от перебора паролей.
func WithLoginLimiter(l LoginLimiter) Option {
	return func(s *Service) { s.limiter = l }
}

// WithBcryptCost задаёт стоимость bcrypt.
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.bcryptCost = cost }
}

// NewService создаёт сервис пользователей.
func NewService(stores repository.Stores, tokens TokenIssuer, opts ...Option) *Service {
	s := &Service{
		users:      stores.Users(),
		tokens:     tokens,
		bcryptCost: defaultBcryptCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidatePassword проверяет минимальную длину пароля.
func ValidatePassword(password string) error {
	if utf8.RuneCountInString(password) < minPasswordLength {
		return domain.ErrWeakPassword
	}
	return nil
}

// Register регистрирует покупателя с нулевым балансом.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*domain.User, error) {
	return s.create(ctx, req, domain.RoleCustomer)
}

// EnsureAdmin создаёт администратора, если пользователя с таким email нет.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) (*domain.User, error) {
	log := logger.FromContext(ctx)

	normalized, err := domain.NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	existing, err := s.users.GetByEmail(ctx, normalized)
	switch {
	case err == nil:
		if existing.Role != domain.RoleAdmin {
			log.Warn().Str("email", normalized).Msg("Учётная запись администратора занята покупателем")
		}
		return existing, nil
	case !errors.Is(err, domain.ErrUserNotFound):
		return nil, fmt.Errorf("ошибка получения пользователя: %w", err)
	}

	u, err := s.create(ctx, RegisterRequest{Email: normalized, Password: password, Name: "admin"}, domain.RoleAdmin)
	if errors.Is(err, domain.ErrEmailExists) {
		return s.users.GetByEmail(ctx, normalized)
	}
	return u, err
}

func (s *Service) create(ctx context.Context, req RegisterRequest, role string) (*domain.User, error) {
	log := logger.FromContext(ctx)

	if err := ValidatePassword(req.Password); err != nil {
		log.Warn().Str("email", req.Email).Msg("Попытка регистрации со слабым паролем")
		return nil, err
	}
	email, err := domain.NormalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("ошибка хэширования пароля: %w", err)
	}

	u, err := s.users.Create(ctx, &domain.UserDraft{
		Email:        email,
		Name:         strings.TrimSpace(req.Name),
		PasswordHash: string(hash),
		Role:         role,
	})
	if err != nil {
		if errors.Is(err, domain.ErrEmailExists) {
			log.Warn().Str("email", email).Msg("Попытка регистрации с занятым email")
			return nil, err
		}
		return nil, fmt.Errorf("ошибка создания пользователя: %w", err)
	}

	log.Info().
		Str("user_id", u.ID).
		Str("email", email).
		Str("role", role).
		Msg("Пользователь зарегистрирован")
	return u, nil
}

// Login проверяет пароль и выдаёт пару токенов.
// Несуществующий email и неверный пароль неотличимы для клиента.
func (s *Service) Login(ctx context.Context, email, password string) (*jwt.TokenPair, error) {
	log := logger.FromContext(ctx)
	email = strings.ToLower(strings.TrimSpace(email))

	if s.limiter != nil {
		locked, err := s.limiter.IsLocked(ctx, email)
		if err != nil {
			// Redis недоступен: вход не блокируем.
			log.Error().Err(err).Str("email", email).Msg("Ошибка проверки блокировки входа")
		} else if locked {
			log.Warn().Str("email", email).Msg("Вход в заблокированный аккаунт")
			return nil, domain.ErrAccountLocked
		}
	}

	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			s.recordFailure(ctx, email)
			return nil, domain.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("ошибка получения пользователя: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		log.Warn().Str("user_id", u.ID).Msg("Неверный пароль")
		s.recordFailure(ctx, email)
		return nil, domain.ErrInvalidCredentials
	}

	if s.limiter != nil {
		if err := s.limiter.Reset(ctx, email); err != nil {
			log.Error().Err(err).Str("email", email).Msg("Ошибка сброса счётчика попыток входа")
		}
	}

	pair, err := s.tokens.GenerateTokenPair(u.ID, u.Role)
	if err != nil {
		return nil, fmt.Errorf("ошибка генерации токенов: %w", err)
	}

	log.Info().Str("user_id", u.ID).Msg("Пользователь вошёл")
	return pair, nil
}

func (s *Service) recordFailure(ctx context.Context, email string) {
	if s.limiter == nil {
		return
	}
	if err := s.limiter.RecordFailure(ctx, email); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("email", email).Msg("Ошибка записи неудачной попытки входа")
	}
}

// Logout отзывает access токен до конца срока его жизни.
func (s *Service) Logout(ctx context.Context, accessToken string) error {
	claims, err := s.tokens.ValidateToken(accessToken)
	if err != nil {
		return err
	}
	if err := s.tokens.Revoke(ctx, claims); err != nil {
		return fmt.Errorf("ошибка отзыва токена: %w", err)
	}

	logger.Ctx(ctx).Info().
		Str("user_id", claims.UserID).
		Str("jti", claims.ID).
		Msg("Токен отозван")
	return nil
}

// Get возвращает пользователя.
func (s *Service) Get(ctx context.Context, userID string) (*domain.User, error) {
	return s.users.Get(ctx, userID)
}
