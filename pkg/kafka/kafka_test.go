package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/storefront/pkg/logger"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func headerValue(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		m := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) committedOffsets() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

type fakeDLQ struct {
	mu   sync.Mutex
	errs []error
}

func (d *fakeDLQ) SendToDLQ(_ context.Context, _ *Message, err error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs = append(d.errs, err)
	return nil
}

func (d *fakeDLQ) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.errs)
}

// =============================================================================
// Producer
// =============================================================================

func TestProducer_SendMessage_AddsContextHeaders(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{writer: w}

	ctx := logger.NewContextWithIDs(context.Background(), "trace-1", "corr-1")
	require.NoError(t, p.Send(ctx, TopicOrderEvents, []byte("order-1"), []byte(`{}`)))

	require.Len(t, w.msgs, 1)
	m := w.msgs[0]
	assert.Equal(t, TopicOrderEvents, m.Topic)
	assert.Equal(t, "order-1", string(m.Key))
	assert.Equal(t, "trace-1", headerValue(m, HeaderTraceID))
	assert.Equal(t, "corr-1", headerValue(m, HeaderCorrelationID))
	assert.NotEmpty(t, headerValue(m, HeaderTimestamp))
}

func TestProducer_SendToDLQ(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{writer: w}

	original := &Message{
		Topic:   TopicCouponIssueRequests,
		Key:     []byte("coupon-1"),
		Value:   []byte(`{"user_id":"u"}`),
		Headers: map[string]string{HeaderTraceID: "trace-9"},
	}
	require.NoError(t, p.SendToDLQ(context.Background(), original, errors.New("boom")))

	require.Len(t, w.msgs, 1)
	m := w.msgs[0]
	assert.Equal(t, TopicDLQ, m.Topic)
	assert.Equal(t, "boom", headerValue(m, headerDLQError))
	assert.Equal(t, TopicCouponIssueRequests, headerValue(m, headerDLQOriginalTopic))
	assert.Equal(t, "trace-9", headerValue(m, HeaderTraceID))
}

func TestProducer_WriteError(t *testing.T) {
	p := &Producer{writer: &fakeWriter{err: errors.New("broker down")}}

	err := p.Send(context.Background(), TopicOrderEvents, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
}

// =============================================================================
// Consumer
// =============================================================================

func runConsumer(t *testing.T, c *Consumer, run func(ctx context.Context) error, until func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx) }()

	require.Eventually(t, until, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer не остановился")
	}
}

func TestConsumer_Consume_PassesTraceHeaders(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{{
		Topic:   TopicCouponIssueRequests,
		Offset:  7,
		Headers: []kafka.Header{{Key: HeaderTraceID, Value: []byte("trace-7")}},
	}}}
	c := &Consumer{reader: reader, topic: TopicCouponIssueRequests}

	var gotTrace string
	var mu sync.Mutex
	runConsumer(t, c, func(ctx context.Context) error {
		return c.Consume(ctx, func(ctx context.Context, msg *Message) error {
			mu.Lock()
			gotTrace = logger.TraceIDFromContext(ctx)
			mu.Unlock()
			return nil
		})
	}, func() bool { return len(reader.committedOffsets()) == 1 })

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "trace-7", gotTrace)
	assert.Equal(t, []int64{7}, reader.committedOffsets())
}

func TestConsumer_ConsumeWithRetry(t *testing.T) {
	t.Run("временная ошибка повторяется", func(t *testing.T) {
		reader := &fakeReader{queue: []kafka.Message{{Offset: 1}}}
		dlq := &fakeDLQ{}
		c := &Consumer{reader: reader, dlq: dlq, topic: "t"}

		var mu sync.Mutex
		calls := 0
		runConsumer(t, c, func(ctx context.Context) error {
			return c.ConsumeWithRetry(ctx, func(ctx context.Context, msg *Message) error {
				mu.Lock()
				defer mu.Unlock()
				calls++
				if calls < 2 {
					return errors.New("temporary")
				}
				return nil
			}, 3)
		}, func() bool { return len(reader.committedOffsets()) == 1 })

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, 2, calls)
		assert.Equal(t, 0, dlq.count())
	})

	t.Run("permanent ошибка сразу в DLQ", func(t *testing.T) {
		reader := &fakeReader{queue: []kafka.Message{{Offset: 2}}}
		dlq := &fakeDLQ{}
		c := &Consumer{reader: reader, dlq: dlq, topic: "t"}

		var mu sync.Mutex
		calls := 0
		runConsumer(t, c, func(ctx context.Context) error {
			return c.ConsumeWithRetry(ctx, func(ctx context.Context, msg *Message) error {
				mu.Lock()
				defer mu.Unlock()
				calls++
				return Permanent(errors.New("bad payload"))
			}, 3)
		}, func() bool { return len(reader.committedOffsets()) == 1 })

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, 1, calls)
		assert.Equal(t, 1, dlq.count())
	})
}

func TestPermanent(t *testing.T) {
	base := errors.New("x")
	assert.Nil(t, Permanent(nil))
	assert.True(t, IsPermanent(Permanent(base)))
	assert.ErrorIs(t, Permanent(base), base)
	assert.False(t, IsPermanent(base))
}
