package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// AuditRecorder writes audit events through the outbox for callers that
// have no enclosing transaction of their own.
type AuditRecorder struct {
	pool   *pgxpool.Pool
	topic  string
	logger *zap.Logger
}

// NewAuditRecorder creates a recorder that targets the given topic.
func NewAuditRecorder(pool *pgxpool.Pool, topic string, logger *zap.Logger) *AuditRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditRecorder{pool: pool, topic: topic, logger: logger}
}

// Record writes one audit event in its own transaction.
func (r *AuditRecorder) Record(ctx context.Context, event *AuditEvent) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin audit tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := WriteAudit(ctx, tx, r.topic, event); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit audit tx: %w", err)
	}
	return nil
}
