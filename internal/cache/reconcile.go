// internal/cache/reconcile.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// DefaultPayoutQueueName is the Redis list holding prize credits that failed
// at settlement time and await manual replay.
var DefaultPayoutQueueName = "taprush_failed_payouts"

// FailedPayoutRecord is everything an operator needs to replay a payout.
type FailedPayoutRecord struct {
	GameID    uuid.UUID       `json:"game_id"`
	WinnerID  uuid.UUID       `json:"winner_id"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason"`
	Timestamp int64           `json:"timestamp"`
}

// Reconciler queues failed prize payouts durably. The queue is append-only
// from the service's side; draining is an operator action.
type Reconciler struct {
	rdb   *redis.Client
	queue string
}

func NewReconciler(rdb *redis.Client) *Reconciler {
	return &Reconciler{
		rdb:   rdb,
		queue: getEnv("PAYOUT_QUEUE_NAME", DefaultPayoutQueueName),
	}
}

// EnqueueFailedPayout serializes the record and pushes it to the queue.
func (r *Reconciler) EnqueueFailedPayout(ctx context.Context, gameID, winnerID uuid.UUID, amount decimal.Decimal, reason string) error {
	rec := FailedPayoutRecord{
		GameID:    gameID,
		WinnerID:  winnerID,
		Amount:    amount,
		Reason:    reason,
		Timestamp: time.Now().UnixMilli(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal FailedPayoutRecord: %w", err)
	}
	if err := r.rdb.RPush(ctx, r.queue, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", r.queue, err)
	}
	return nil
}

// PendingPayouts peeks at the queue without consuming it.
func (r *Reconciler) PendingPayouts(ctx context.Context, limit int64) ([]FailedPayoutRecord, error) {
	raw, err := r.rdb.LRange(ctx, r.queue, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to LRange Redis list '%s': %w", r.queue, err)
	}
	out := make([]FailedPayoutRecord, 0, len(raw))
	for _, item := range raw {
		var rec FailedPayoutRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("corrupt payout record in queue '%s': %w", r.queue, err)
		}
		out = append(out, rec)
	}
	return out, nil
}
