// Package circuitbreaker защищает вызовы внешних систем (Kafka) от каскадных сбоев.
//
// Closed: вызовы проходят; Open: вызовы отклоняются сразу с ErrOpen;
// Half-Open: пропускается MaxRequests пробных вызовов.
//
//	cb := circuitbreaker.New("kafka-relay")
//	err := cb.Execute(ctx, func(ctx context.Context) error { return producer.SendMessage(ctx, msg) })
package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	"example.com/storefront/pkg/logger"
)

// ErrOpen возвращается, когда breaker отклонил вызов без выполнения.
var ErrOpen = errors.New("circuit breaker открыт")

// Settings: параметры breaker.
type Settings struct {
	MaxRequests  uint32        // пробных вызовов в Half-Open
	Interval     time.Duration // сброс счётчиков в Closed
	Timeout      time.Duration // время в Open до Half-Open
	FailureRatio float64       // доля ошибок для перехода в Open
	MinRequests  uint32        // минимум вызовов для расчёта доли

	// IsFailure решает, считать ли ошибку сбоем. nil: любая ошибка, кроме отмены context.
	IsFailure func(err error) bool
}

// DefaultSettings возвращает настройки для relay в Kafka.
func DefaultSettings() Settings {
	return Settings{
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

// Breaker: gobreaker с логированием переходов состояния.
type Breaker struct {
	cb        *gobreaker.CircuitBreaker[struct{}]
	name      string
	isFailure func(err error) bool
}

// New создаёт Breaker с DefaultSettings.
func New(name string) *Breaker {
	return NewWithSettings(name, DefaultSettings())
}

// NewWithSettings создаёт Breaker с заданными настройками.
func NewWithSettings(name string, s Settings) *Breaker {
	isFailure := s.IsFailure
	if isFailure == nil {
		isFailure = defaultIsFailure
	}

	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= s.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !isFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			ev := logger.Info()
			if to == gobreaker.StateOpen {
				ev = logger.Warn()
			}
			ev.Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit Breaker сменил состояние")
		},
	})

	return &Breaker{cb: cb, name: name, isFailure: isFailure}
}

func defaultIsFailure(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// Execute выполняет fn через breaker. В состояниях Open и перегруженном Half-Open
// fn не вызывается и возвращается ошибка, совпадающая с ErrOpen.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return errors.Join(ErrOpen, err)
	}
	return err
}

// State возвращает текущее состояние.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// Name возвращает имя breaker.
func (b *Breaker) Name() string {
	return b.name
}
