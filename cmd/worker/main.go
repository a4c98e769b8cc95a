package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gtplusnet/ante-official-sub001/internal/config"
	"github.com/gtplusnet/ante-official-sub001/internal/db"
	"github.com/gtplusnet/ante-official-sub001/internal/domain"
	"github.com/gtplusnet/ante-official-sub001/internal/events"
	"github.com/gtplusnet/ante-official-sub001/internal/feed"
	"github.com/gtplusnet/ante-official-sub001/internal/http/handler"
	"github.com/gtplusnet/ante-official-sub001/internal/lease"
	"github.com/gtplusnet/ante-official-sub001/internal/logger"
	"github.com/gtplusnet/ante-official-sub001/internal/metrics"
	"github.com/gtplusnet/ante-official-sub001/internal/notify"
	"github.com/gtplusnet/ante-official-sub001/internal/queue"
	"github.com/gtplusnet/ante-official-sub001/internal/realtime"
	"github.com/gtplusnet/ante-official-sub001/internal/repo"
	"github.com/gtplusnet/ante-official-sub001/internal/script"
	"github.com/gtplusnet/ante-official-sub001/internal/service"
	"github.com/gtplusnet/ante-official-sub001/internal/worker"
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	//初始化依赖
	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := db.Init(initCtx, cfg.PG.DSN)
	if err != nil {
		l.Fatal("postgres init failed", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := queue.Connect(initCtx, cfg.Redis.URL)
	if err != nil {
		l.Fatal("redis init failed", zap.Error(err))
	}
	defer rdb.Close()

	reg := metrics.NewRegistry()
	m := metrics.New(reg)

	q := queue.New(rdb, cfg.Queue.Name, queue.Options{
		StallTimeout:       cfg.Queue.StallTimeout,
		CompletedKeep:      cfg.Queue.CompletedKeep,
		CompletedRetention: cfg.Queue.CompletedRetention,
		FailedRetention:    cfg.Queue.FailedRetention,
	}, clock.WallClock)
	reg.MustRegister(metrics.NewQueueDepthCollector(q))

	pg := db.New(pool)
	jobs := service.NewJobService(q, domain.RetryPolicy{
		Attempts:    cfg.Queue.Attempts,
		BackoffBase: cfg.Queue.BackoffBase,
	}, l, m)

	// 讨论串
	dispatcher := events.NewDispatcher(l)
	events.NewDiscussionHandler(repo.NewDiscussionRepo(pg), l).Register(dispatcher)

	// 通知：未配置地址时只记录日志
	var sender notify.Sender = notify.NewLogSender(l)
	if cfg.Notify.URL != "" {
		sender = notify.NewHTTPSender(cfg.Notify.URL, cfg.Notify.Timeout, l)
	}

	scripts := script.NewRegistry()
	if cfg.Script.WebhookURL != "" {
		scripts.Register(script.Match{}, script.NewWebhook(cfg.Script.WebhookURL, cfg.Script.Timeout))
	}

	pipeline := worker.NewPipeline(worker.PipelineDeps{
		Tasks:       repo.NewTaskRepo(pg),
		Watchers:    repo.NewWatcherRepo(pg),
		Notifier:    sender,
		Discussions: dispatcher,
		Scripts:     scripts,
		Broadcaster: realtime.NewBroadcaster(realtime.NewRedisEmitter(rdb, cfg.Realtime.Channel), l),
	}, l)

	workerID := uuid.NewString()
	runner := worker.NewRunner(q, pipeline, worker.RunnerConfig{
		WorkerID:       workerID,
		Concurrency:    cfg.Queue.Concurrency,
		PollInterval:   cfg.Queue.PollInterval,
		ExtendInterval: cfg.Queue.StallTimeout / 3,
	}, l, m).RecordRunsTo(repo.NewJobRunRepo(pg))
	leases := lease.NewManager(rdb)

	// 只暴露探针与指标
	engine := handler.NewRouter(handler.Routes{
		Health: handler.NewHealthHandler(
			handler.Check{Name: "postgres", Ping: pool.Ping},
			handler.Check{Name: "redis", Ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
		),
		Prometheus: metrics.Handler(reg),
	})
	srv := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	l.Info("worker started",
		zap.String("worker_id", workerID),
		zap.String("queue", q.Name()),
		zap.Int("concurrency", cfg.Queue.Concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runner.Run(gctx) })
	g.Go(func() error {
		worker.StartDelayedMover(gctx, q, leases, workerID, cfg.Worker.DelayedMoveInterval, l)
		return nil
	})
	g.Go(func() error {
		worker.StartStallReaper(gctx, q, leases, workerID, cfg.Worker.StallCheckInterval, l, m)
		return nil
	})
	g.Go(func() error {
		worker.StartHeartbeat(gctx, rdb, worker.WorkerInfo{
			ID:          workerID,
			Queue:       q.Name(),
			Concurrency: cfg.Queue.Concurrency,
			StartedAt:   time.Now().UTC(),
		}, cfg.Worker.HeartbeatTTL, cfg.Worker.HeartbeatTTL/3)
		return nil
	})

	// 变更流监听：多实例同时监听时由去重键保证只入队一次
	if cfg.Feed.Enabled {
		var src feed.Source
		switch cfg.Feed.Source {
		case "kafka":
			ks := feed.NewKafkaSource(cfg.Feed.KafkaBrokers, cfg.Feed.KafkaTopic, cfg.Feed.KafkaGroupID, l)
			defer ks.Close()
			src = ks
		default:
			src = feed.NewPGSource(pool, cfg.Feed.Channel, l)
		}
		listener := feed.NewListener(jobs, cfg.Feed.Schema, l, m)
		g.Go(func() error { return listener.Run(gctx, src) })
	}

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		l.Error("worker stopped with error", zap.Error(err))
		return
	}
	l.Info("worker stopped")
}
