// cmd/reconciler/main.go is a companion worker that drains the failed-payout
// queue and replays each prize credit against the durable ledger. Payouts that
// still cannot be applied (the user row is gone) are parked on a dead-letter
// list for a human.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/taprush/taprush/internal/cache"
	"github.com/taprush/taprush/internal/database"
	"github.com/taprush/taprush/internal/ledger"
	"github.com/taprush/taprush/internal/models"
)

const deadLetterQueue = "taprush_failed_payouts_dead"

type reconcilerWorker struct {
	rdb    *redis.Client
	ledger *ledger.Ledger
	queue  string
	logger *logrus.Logger
}

func main() {
	database.ConnectDB()
	if err := cache.ConnectRedis(); err != nil {
		log.Fatalf("redis: %v", err)
	}

	logger := logrus.New()
	w := &reconcilerWorker{
		rdb:    cache.Rdb,
		ledger: ledger.New(database.NewLedgerStore(database.DB), logger),
		queue:  getEnv("PAYOUT_QUEUE_NAME", cache.DefaultPayoutQueueName),
		logger: logger,
	}
	logger.Infof("reconciler draining %q", w.queue)
	w.run(context.Background())
}

func (w *reconcilerWorker) run(ctx context.Context) {
	for {
		res, err := w.rdb.BLPop(ctx, 5*time.Second, w.queue).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			w.logger.WithError(err).Error("queue pop failed")
			time.Sleep(2 * time.Second)
			continue
		}
		// BLPop returns [key, value].
		if len(res) < 2 {
			continue
		}
		w.replay(ctx, []byte(res[1]))
	}
}

func (w *reconcilerWorker) replay(ctx context.Context, raw []byte) {
	var rec cache.FailedPayoutRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		w.logger.WithError(err).Error("corrupt payout record; dead-lettering")
		w.deadLetter(ctx, raw)
		return
	}

	err := w.ledger.Credit(ctx, rec.WinnerID, rec.Amount,
		models.TxPayout, "reconciled prize for game "+rec.GameID.String())
	if err == nil {
		w.logger.WithFields(logrus.Fields{
			"game": rec.GameID, "winner": rec.WinnerID, "amount": rec.Amount,
		}).Info("payout replayed")
		return
	}

	if errors.Is(err, ledger.ErrUserNotFound) {
		w.logger.WithField("winner", rec.WinnerID).Error("winner row missing; dead-lettering")
		w.deadLetter(ctx, raw)
		return
	}

	// Transient failure: requeue at the back and back off.
	w.logger.WithError(err).Warn("replay failed, requeueing")
	if pushErr := w.rdb.RPush(ctx, w.queue, raw).Err(); pushErr != nil {
		w.logger.WithError(pushErr).Error("requeue failed; record lost from queue")
	}
	time.Sleep(5 * time.Second)
}

func (w *reconcilerWorker) deadLetter(ctx context.Context, raw []byte) {
	if err := w.rdb.RPush(ctx, deadLetterQueue, raw).Err(); err != nil {
		w.logger.WithError(err).Error("dead-letter push failed")
	}
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}
