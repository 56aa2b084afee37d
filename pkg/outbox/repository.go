package outbox

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrEventNotFound: запись outbox не найдена.
var ErrEventNotFound = errors.New("запись outbox не найдена")

// Repository: хранилище outbox.
type Repository interface {
	// Create сохраняет событие. Внутри единицы работы: в той же транзакции.
	Create(ctx context.Context, e *Event) error

	// GetUnprocessed возвращает неотправленные события, сначала с меньшим числом ошибок.
	GetUnprocessed(ctx context.Context, limit int) ([]*Event, error)

	MarkProcessed(ctx context.Context, id string) error

	// MarkFailed увеличивает retry_count и сохраняет текст ошибки.
	MarkFailed(ctx context.Context, id string, err error) error

	// DeleteProcessedBefore удаляет отправленные события старше before.
	DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
}

// gormRepository: MySQL реализация через GORM.
type gormRepository struct {
	db *gorm.DB
}

// NewGormRepository создаёт репозиторий поверх db (или транзакции tx).
func NewGormRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Create(ctx context.Context, e *Event) error {
	m := modelFromEvent(e)
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return err
	}
	e.CreatedAt = m.CreatedAt
	return nil
}

// GetUnprocessed берёт строки с SKIP LOCKED, чтобы несколько инстансов
// не отправляли одну и ту же пачку одновременно.
func (r *gormRepository) GetUnprocessed(ctx context.Context, limit int) ([]*Event, error) {
	var models []EventModel
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("processed_at IS NULL").
		Order("retry_count ASC, created_at ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}

	events := make([]*Event, len(models))
	for i := range models {
		events[i] = models[i].toEvent()
	}
	return events, nil
}

func (r *gormRepository) MarkProcessed(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Model(&EventModel{}).
		Where("id = ?", id).
		Update("processed_at", time.Now())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrEventNotFound
	}
	return nil
}

func (r *gormRepository) MarkFailed(ctx context.Context, id string, cause error) error {
	res := r.db.WithContext(ctx).Model(&EventModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"retry_count": gorm.Expr("retry_count + 1"),
			"last_error":  cause.Error(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrEventNotFound
	}
	return nil
}

// DeleteProcessedBefore удаляет пачками по 1000 строк.
func (r *gormRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("processed_at IS NOT NULL AND processed_at < ?", before).
		Limit(1000).
		Delete(&EventModel{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
