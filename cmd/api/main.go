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

	"github.com/juju/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gtplusnet/ante-official-sub001/internal/config"
	"github.com/gtplusnet/ante-official-sub001/internal/db"
	"github.com/gtplusnet/ante-official-sub001/internal/domain"
	"github.com/gtplusnet/ante-official-sub001/internal/events"
	"github.com/gtplusnet/ante-official-sub001/internal/http/handler"
	"github.com/gtplusnet/ante-official-sub001/internal/logger"
	"github.com/gtplusnet/ante-official-sub001/internal/metrics"
	"github.com/gtplusnet/ante-official-sub001/internal/queue"
	"github.com/gtplusnet/ante-official-sub001/internal/realtime"
	"github.com/gtplusnet/ante-official-sub001/internal/repo"
	"github.com/gtplusnet/ante-official-sub001/internal/service"
	"github.com/gtplusnet/ante-official-sub001/internal/worker"
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

	// 初始化数据库连接
	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := db.Init(initCtx, cfg.PG.DSN)
	if err != nil {
		l.Fatal("postgres init failed", zap.Error(err))
	}
	defer pool.Close()

	// 初始化 Redis
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

	jobs := service.NewJobService(q, domain.RetryPolicy{
		Attempts:    cfg.Queue.Attempts,
		BackoffBase: cfg.Queue.BackoffBase,
	}, l, m)

	pg := db.New(pool)
	dispatcher := events.NewDispatcher(l)
	events.NewDiscussionHandler(repo.NewDiscussionRepo(pg), l).Register(dispatcher)

	// 本实例的 websocket 连接由 relay 从 Redis 频道接收推送
	hub := realtime.NewHub(l)
	relay := realtime.NewRelay(rdb, cfg.Realtime.Channel, hub, l)

	// 更新/动作事件经 Redis 频道推送，所有 api 实例的连接都能收到
	realtime.NewChangeBridge(realtime.NewBroadcaster(realtime.NewRedisEmitter(rdb, cfg.Realtime.Channel), l)).Register(dispatcher)

	// 组装路由
	engine := handler.NewRouter(handler.Routes{
		Health: handler.NewHealthHandler(
			handler.Check{Name: "postgres", Ping: pool.Ping},
			handler.Check{Name: "redis", Ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
		),
		Jobs:        handler.NewJobHandler(jobs, q, l),
		Runs:        handler.NewRunHandler(repo.NewJobRunRepo(pg), l),
		Queues:      handler.NewQueueHandler(func(name string) handler.QueueOps { return q.Named(name) }),
		Workers:     handler.NewWorkerHandler(func(ctx context.Context) ([]worker.WorkerInfo, error) { return worker.ListWorkers(ctx, rdb) }),
		Metrics:     handler.NewMetricsHandler(rdb, l),
		Discussions: handler.NewDiscussionHandler(dispatcher),
		WS:          handler.NewWSHandler(hub, l),
		Prometheus:  metrics.Handler(reg),
	})
	srv := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	// Shutdown 不跟踪已升级的 websocket 连接
	srv.RegisterOnShutdown(hub.Close)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return relay.Run(gctx) })
	g.Go(func() error {
		l.Info("starting api server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		l.Error("api stopped with error", zap.Error(err))
		return
	}
	l.Info("api stopped")
}
