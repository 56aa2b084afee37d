package outbox

import (
	"context"
	"errors"
	"time"

	"example.com/storefront/pkg/circuitbreaker"
	"example.com/storefront/pkg/kafka"
	"example.com/storefront/pkg/logger"
	"example.com/storefront/pkg/metrics"
)

// Sender отправляет сообщение в Kafka.
// В main это *kafka.Producer, обёрнутый в circuitbreaker.Producer.
type Sender interface {
	SendMessage(ctx context.Context, msg *kafka.Message) error
}

// WorkerConfig: настройки Worker.
type WorkerConfig struct {
	PollInterval time.Duration
	BatchSize    int

	// MaxRetries: после стольких неудачных отправок событие выводится из очереди.
	MaxRetries int

	CleanupInterval  time.Duration
	CleanupRetention time.Duration
}

// DefaultWorkerConfig возвращает настройки по умолчанию.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PollInterval:     time.Second,
		BatchSize:        100,
		MaxRetries:       5,
		CleanupInterval:  time.Hour,
		CleanupRetention: 7 * 24 * time.Hour,
	}
}

// Worker периодически читает outbox и отправляет события в Kafka.
type Worker struct {
	repo   Repository
	sender Sender
	cfg    WorkerConfig
}

// NewWorker создаёт Worker.
func NewWorker(repo Repository, sender Sender, cfg WorkerConfig) *Worker {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Hour
	}
	if cfg.CleanupRetention <= 0 {
		cfg.CleanupRetention = 7 * 24 * time.Hour
	}
	return &Worker{repo: repo, sender: sender, cfg: cfg}
}

// Run обрабатывает outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	log := logger.FromContext(ctx).With().Str("component", "outbox").Logger()
	log.Info().
		Dur("poll_interval", w.cfg.PollInterval).
		Int("batch_size", w.cfg.BatchSize).
		Msg("Запуск Outbox Worker")

	poll := time.NewTicker(w.cfg.PollInterval)
	defer poll.Stop()
	cleanup := time.NewTicker(w.cfg.CleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Остановка Outbox Worker")
			return
		case <-poll.C:
			w.ProcessBatch(ctx)
		case <-cleanup.C:
			w.cleanup(ctx)
		}
	}
}

// ProcessBatch отправляет одну пачку событий и возвращает число отправленных.
func (w *Worker) ProcessBatch(ctx context.Context) int {
	log := logger.FromContext(ctx)

	events, err := w.repo.GetUnprocessed(ctx, w.cfg.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("Ошибка чтения outbox")
		return 0
	}

	sent := 0
	for _, e := range events {
		if ctx.Err() != nil {
			return sent
		}

		if e.RetryCount >= w.cfg.MaxRetries {
			log.Warn().
				Str("outbox_id", e.ID).
				Str("event_type", e.EventType).
				Str("aggregate_id", e.AggregateID).
				Int("retry_count", e.RetryCount).
				Msg("Событие выведено из очереди: превышен лимит попыток")
			metrics.OutboxEventsTotal.WithLabelValues(e.EventType, "dead").Inc()
			if err := w.repo.MarkProcessed(ctx, e.ID); err != nil {
				log.Error().Err(err).Str("outbox_id", e.ID).Msg("Ошибка пометки dead letter")
			}
			continue
		}

		if err := w.send(ctx, e); err != nil {
			// Открытый breaker: остальная пачка упадёт так же, ждём следующего тика.
			if errors.Is(err, circuitbreaker.ErrOpen) {
				return sent
			}
			continue
		}
		sent++
	}
	return sent
}

func (w *Worker) send(ctx context.Context, e *Event) error {
	log := logger.FromContext(ctx).With().
		Str("outbox_id", e.ID).
		Str("topic", e.Topic).
		Str("event_type", e.EventType).
		Logger()

	if err := w.sender.SendMessage(ctx, e.Message()); err != nil {
		metrics.OutboxEventsTotal.WithLabelValues(e.EventType, "failed").Inc()
		// Отказ breaker не считается попыткой: событие не доходило до Kafka.
		if errors.Is(err, circuitbreaker.ErrOpen) {
			log.Warn().Err(err).Msg("Kafka недоступна, отправка outbox отложена")
			return err
		}

		log.Error().Err(err).Msg("Ошибка отправки события в Kafka")
		if markErr := w.repo.MarkFailed(ctx, e.ID, err); markErr != nil {
			log.Error().Err(markErr).Msg("Ошибка пометки outbox как failed")
		}
		return err
	}

	if err := w.repo.MarkProcessed(ctx, e.ID); err != nil {
		log.Error().Err(err).Msg("Ошибка пометки outbox как обработанной")
		return err
	}

	metrics.OutboxEventsTotal.WithLabelValues(e.EventType, "sent").Inc()
	log.Debug().Msg("Событие отправлено в Kafka")
	return nil
}

func (w *Worker) cleanup(ctx context.Context) {
	log := logger.FromContext(ctx)

	deleted, err := w.repo.DeleteProcessedBefore(ctx, time.Now().Add(-w.cfg.CleanupRetention))
	if err != nil {
		log.Error().Err(err).Msg("Ошибка очистки outbox")
		return
	}
	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Msg("Очистка отправленных событий outbox")
	}
}
