// Package retry реализует ограниченный повтор операций с экспоненциальной
// задержкой и джиттером поверх cenkalti/backoff.
//
// Граница повтора и граница атомарности разделены: Do вызывает внутреннюю
// операцию целиком заново, сама операция должна быть «всё или ничего».
//
//	err := retry.Do(ctx, retry.DefaultPolicy("coupon.issue"), domain.IsRetryable, func(ctx context.Context) error {
//	    return store.Issue(ctx, couponID, userID, version)
//	})
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"example.com/storefront/pkg/logger"
	"example.com/storefront/pkg/metrics"
)

// Policy описывает ограничение числа попыток и рост задержки.
type Policy struct {
	// Name: имя операции для логов и метрик (например "inventory.decrease").
	Name string

	MaxAttempts         uint
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
}

// DefaultPolicy возвращает политику по умолчанию: до 50 попыток,
// короткая растущая задержка со случайным разбросом.
func DefaultPolicy(name string) Policy {
	return Policy{
		Name:                name,
		MaxAttempts:         50,
		InitialInterval:     2 * time.Millisecond,
		MaxInterval:         50 * time.Millisecond,
		Multiplier:          1.5,
		RandomizationFactor: 0.5,
	}
}

// Named возвращает копию политики с другим именем операции.
func (p Policy) Named(name string) Policy {
	p.Name = name
	return p
}

// Do выполняет op, повторяя её пока retryable(err) == true и не исчерпаны попытки.
// Неповторяемая ошибка возвращается сразу, без задержки.
// После исчерпания попыток возвращается последняя ошибка операции.
func Do(ctx context.Context, p Policy, retryable func(error) bool, op func(ctx context.Context) error) error {
	_, err := DoValue(ctx, p, retryable, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// DoValue: то же, что Do, но для операций, возвращающих значение.
func DoValue[T any](ctx context.Context, p Policy, retryable func(error) bool, op func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}

	res, err := backoff.Retry(ctx, func() (T, error) {
		v, err := op(ctx)
		if err != nil && !retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(p.newBackOff()),
		backoff.WithMaxTries(attempts),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			metrics.RetryAttemptsTotal.WithLabelValues(p.Name).Inc()
			logger.Ctx(ctx).Debug().
				Err(err).
				Str("operation", p.Name).
				Dur("next_delay", next).
				Msg("Повтор операции после конфликта")
		}),
	)

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	if err != nil && retryable(err) {
		metrics.RetryExhaustedTotal.WithLabelValues(p.Name).Inc()
	}
	return res, err
}

func (p Policy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}
	if p.RandomizationFactor >= 0 {
		b.RandomizationFactor = p.RandomizationFactor
	}
	return b
}
