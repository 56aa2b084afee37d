package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Бизнес-метрики магазина
// =============================================================================

var (
	// PaymentsTotal: исходы саги оплаты: result = confirmed | failed | rolled_back.
	// reason: вид ошибки (out_of_stock, insufficient_balance, ...), "" для успеха.
	PaymentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shop_payments_total",
			Help: "Количество попыток оплаты по результату",
		},
		[]string{"flow", "result", "reason"},
	)

	// PaymentDuration: длительность саги оплаты и возврата.
	PaymentDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shop_payment_duration_seconds",
			Help:    "Длительность саги оплаты/возврата",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"flow"},
	)

	// CouponIssueTotal: исходы выдачи купона: issued | sold_out | already_issued | ...
	CouponIssueTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shop_coupon_issue_total",
			Help: "Количество попыток выдачи купона по результату",
		},
		[]string{"result"},
	)

	// CouponLockWait: время ожидания блокировки купона.
	CouponLockWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shop_coupon_lock_wait_seconds",
			Help:    "Время ожидания блокировки купона",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
	)

	// RetryAttemptsTotal: повторы после конфликта версий по операции.
	RetryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shop_retry_attempts_total",
			Help: "Количество повторов операции после конфликта версий",
		},
		[]string{"operation"},
	)

	// RetryExhaustedTotal: операции, исчерпавшие все попытки.
	RetryExhaustedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shop_retry_exhausted_total",
			Help: "Количество операций, исчерпавших попытки повтора",
		},
		[]string{"operation"},
	)

	// OutboxEventsTotal: обработанные outbox события: status = sent | failed | dead.
	OutboxEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shop_outbox_events_total",
			Help: "Количество outbox событий по статусу отправки",
		},
		[]string{"event_type", "status"},
	)
)
