package main

import (
	"log"

	"go.uber.org/zap"

	"github.com/gtplusnet/ante-official-sub001/internal/config"
	"github.com/gtplusnet/ante-official-sub001/internal/db"
	"github.com/gtplusnet/ante-official-sub001/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	l, err := logger.New(cfg.Log.Level, cfg.Log.Env)
	if err != nil {
		log.Fatalf("init logger failed: %v", err)
	}
	defer l.Sync()

	if err := db.Migrate(cfg.PG.DSN); err != nil {
		l.Fatal("migrate failed", zap.Error(err))
	}
	l.Info("migrations applied")
}
