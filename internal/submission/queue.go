package submission

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/vitalpath/rxbridge/internal/infrastructure/redpanda"
)

// Enqueuer hands a built request to the asynchronous dispatch pipeline.
type Enqueuer interface {
	Enqueue(ctx context.Context, req *Request) error
}

// RequestPublisher is the broker facet the queue needs.
type RequestPublisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// Queue publishes built requests to the submission request topic. The
// submission worker consumes them, dispatches behind its idempotency
// inbox and publishes the terminal outcome to the results topic.
type Queue struct {
	producer RequestPublisher
	logger   *zap.Logger
}

func NewQueue(producer RequestPublisher, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{producer: producer, logger: logger}
}

// Enqueue publishes the request keyed by its idempotency key, so a
// duplicate of the same order lands on the same partition and the
// worker's inbox sees it in order.
func (q *Queue) Enqueue(ctx context.Context, req *Request) error {
	b, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode submission request: %w", err)
	}
	if err := q.producer.Publish(ctx, redpanda.TopicSubmissionRequests, req.IdempotencyKey, b); err != nil {
		return fmt.Errorf("enqueue submission request: %w", err)
	}
	q.logger.Info("submission request enqueued",
		zap.String("pharmacy", string(req.Pharmacy)),
		zap.String("idempotency_key", req.IdempotencyKey),
	)
	return nil
}
