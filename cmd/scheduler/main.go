package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"go.uber.org/zap"

	"github.com/gtplusnet/ante-official-sub001/internal/config"
	"github.com/gtplusnet/ante-official-sub001/internal/logger"
	"github.com/gtplusnet/ante-official-sub001/internal/queue"
	"github.com/gtplusnet/ante-official-sub001/internal/scheduler"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	l, err := logger.New(cfg.Log.Level, cfg.Log.Env)
	if err != nil {
		log.Fatalf("init logger failed: %v", err)
	}
	defer l.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 初始化 Redis
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	rdb, err := queue.Connect(connectCtx, cfg.Redis.URL)
	if err != nil {
		l.Fatal("redis init failed", zap.Error(err))
	}
	defer rdb.Close()

	q := queue.New(rdb, cfg.Queue.Name, queue.Options{
		StallTimeout:       cfg.Queue.StallTimeout,
		CompletedKeep:      cfg.Queue.CompletedKeep,
		CompletedRetention: cfg.Queue.CompletedRetention,
		FailedRetention:    cfg.Queue.FailedRetention,
	}, clock.WallClock)

	janitor, err := scheduler.NewJanitor(cfg.Scheduler.RetentionCron, []scheduler.Purger{q}, rdb, uuid.NewString(), l)
	if err != nil {
		l.Fatal("new janitor failed", zap.Error(err))
	}

	// 启动时先清理一次
	if n, err := janitor.RunOnce(ctx); err != nil {
		l.Warn("initial purge failed", zap.Error(err))
	} else {
		l.Info("initial purge done", zap.Int("purged", n))
	}

	janitor.Start()
	l.Info("scheduler started", zap.String("cron", cfg.Scheduler.RetentionCron))
	<-ctx.Done()

	stopCtx, cancelStop := context.WithTimeout(context.Background(), time.Minute)
	defer cancelStop()
	janitor.Stop(stopCtx)
	l.Info("scheduler stopped")
}
