// cmd/server/main.go
package main

import (
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/taprush/taprush/internal/anticheat"
	"github.com/taprush/taprush/internal/auth"
	"github.com/taprush/taprush/internal/bonus"
	"github.com/taprush/taprush/internal/cache"
	"github.com/taprush/taprush/internal/database"
	"github.com/taprush/taprush/internal/game"
	"github.com/taprush/taprush/internal/handlers"
	"github.com/taprush/taprush/internal/hub"
	"github.com/taprush/taprush/internal/leaderboard"
	"github.com/taprush/taprush/internal/ledger"
	"github.com/taprush/taprush/internal/room"
)

func main() {
	auth.Init()
	database.ConnectDB()
	if err := cache.ConnectRedis(); err != nil {
		log.Fatalf("redis: %v", err)
	}

	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	ldg := ledger.New(database.NewLedgerStore(database.DB), logger)

	h := hub.New(logger)
	manager := room.NewManager(room.DefaultConfig(), ldg, h, logger)

	monitor := anticheat.NewMonitor(
		getEnvInt("TAP_MAX_PER_MESSAGE", 50),
		getEnvInt("TAP_WINDOW_SECONDS", 3),
		getEnvInt("TAP_WINDOW_LIMIT", 60),
		logger,
	)
	engine := game.NewEngine(ldg, monitor, h, logger)
	engine.SetScoreboard(leaderboard.New(cache.Rdb))
	engine.SetReconciler(cache.NewReconciler(cache.Rdb))
	engine.SetArchiver(database.NewGameArchive(database.DB))

	bonusSvc := bonus.NewService(
		ldg,
		int64(getEnvInt("BONUS_GOAL", 1000)),
		decimal.NewFromInt(int64(getEnvInt("BONUS_REWARD", 5))),
		24*time.Hour,
		logger,
	)
	engine.SetBonusSettler(bonusSvc)

	manager.SetGameHooks(engine.Start, engine.Cancel)
	engine.SetOnEnd(manager.FinishRoom)
	h.Wire(manager, engine)

	srv := handlers.NewServer(logger)
	srv.Manager = manager
	srv.Engine = engine
	srv.Hub = h
	srv.Ledger = ldg
	srv.Board = leaderboard.New(cache.Rdb)
	srv.Bonus = bonusSvc
	srv.Reconciler = cache.NewReconciler(cache.Rdb)

	addr := ":8080"
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}
	logger.Infof("Running on %s", addr)
	if err := http.ListenAndServe(addr, srv.Router()); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}

func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
