package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/han-fei/fleetwatch/collector/internal/alert"
	"github.com/han-fei/fleetwatch/collector/internal/analysis"
	"github.com/han-fei/fleetwatch/collector/internal/api"
	"github.com/han-fei/fleetwatch/collector/internal/auth"
	"github.com/han-fei/fleetwatch/collector/internal/config"
	"github.com/han-fei/fleetwatch/collector/internal/history"
	"github.com/han-fei/fleetwatch/collector/internal/ingest"
	"github.com/han-fei/fleetwatch/collector/internal/metrics"
	"github.com/han-fei/fleetwatch/collector/internal/models"
	quicpush "github.com/han-fei/fleetwatch/collector/internal/quic"
	"github.com/han-fei/fleetwatch/collector/internal/service"
	"github.com/han-fei/fleetwatch/collector/internal/snapshot"
	"github.com/han-fei/fleetwatch/collector/internal/storage"
	"github.com/han-fei/fleetwatch/collector/internal/topology"
	"github.com/han-fei/fleetwatch/collector/internal/websocket"
)

var configFile string

func init() {
	flag.StringVar(&configFile, "config", "configs/collector.yaml", "配置文件路径")
}

func main() {
	flag.Parse()

	// 加载配置
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		log.Fatalf("加载配置文件失败: %v", err)
	}

	if cfg.Log.Path != "" {
		f, err := os.OpenFile(cfg.Log.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			log.Fatalf("打开日志文件失败: %v", err)
		}
		defer f.Close()
		log.SetOutput(f)
	}

	// 创建Redis存储，失败直接退出
	store, err := storage.NewRedisStorage(storage.RedisConfig{
		Addresses:      cfg.Storage.Redis.Addresses,
		Password:       cfg.Storage.Redis.Password,
		DB:             cfg.Storage.Redis.DB,
		PoolSize:       cfg.Storage.Redis.PoolSize,
		KeyPrefix:      cfg.Storage.Redis.KeyPrefix,
		DefaultTTL:     cfg.Retention.Horizon,
		EnableCluster:  cfg.Storage.Redis.EnableCluster,
		EnableSentinel: cfg.Storage.Redis.EnableSentinel,
		SentinelAddrs:  cfg.Storage.Redis.SentinelAddrs,
		SentinelMaster: cfg.Storage.Redis.SentinelMaster,
	})
	if err != nil {
		log.Fatalf("创建Redis存储失败: %v", err)
	}
	defer store.Close()

	reg := metrics.NewRegistry()
	snapshots := snapshot.NewManager(cfg.Snapshot.CPUWindowSize)
	wsServer := websocket.NewServer(cfg.WebSocket, reg)

	// QUIC推送是可选的，起不来就本进程内禁用
	var quicServer *quicpush.Server
	if cfg.QUIC.Enabled {
		quicServer, err = quicpush.NewServer(cfg.QUIC)
		if err != nil {
			log.Printf("QUIC推送服务不可用，已禁用: %v", err)
			quicServer = nil
		} else if err := quicServer.Start(); err != nil {
			log.Printf("QUIC推送服务启动失败，已禁用: %v", err)
			quicServer = nil
		}
	}

	// 告警状态变化推给在线前端并计数
	alertNotify := func(state *models.AlertState) {
		reg.AlertTransitions.WithLabelValues(state.Status).Inc()
		wsServer.BroadcastAlert(state)
		if quicServer != nil {
			quicServer.PushAlert(state)
		}
	}
	engine := alert.NewEngine(store, cfg.Alerts, alertNotify)
	scanner := alert.NewScanner(store, engine, cfg.Alerts.DownThreshold, cfg.Alerts.ScanInterval)

	reportNotify := func(report *models.Report) {
		wsServer.BroadcastReport(report)
		if quicServer != nil {
			quicServer.PushReport(report)
		}
	}
	ingestSvc := ingest.NewService(store, snapshots, engine, reportNotify)

	// 可选的查询接口鉴权
	var jwtAuth *auth.JWTAuth
	var login *auth.Handler
	if cfg.Auth.Enabled {
		jwtAuth = auth.NewJWTAuth(auth.JWTConfig{
			Secret:      cfg.Auth.JWTSecret,
			TokenExpiry: cfg.Auth.TokenExpiry,
		})
		login = auth.NewHandler(jwtAuth, cfg.Auth.Users)
	}

	apiHandler := api.NewHandler(api.Deps{
		Ingest:    ingestSvc,
		Store:     store,
		Snapshots: snapshots,
		Topology:  topology.NewBuilder(snapshots, cfg.Alerts.Staleness, cfg.Topology.MinRateMbps),
		Summary:   analysis.NewSummarizer(snapshots, store, cfg.Alerts.Staleness),
		Resolver:  history.NewResolver(),
		Metrics:   reg,
		WS:        wsServer,
		JWTAuth:   jwtAuth,
		Login:     login,
		Staleness: cfg.Alerts.Staleness,
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      apiHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	// Kafka消费链路
	kafkaConsumer := service.NewKafkaConsumer(cfg.Kafka, ingestSvc, reg)
	if err := kafkaConsumer.Start(gctx); err != nil {
		log.Fatalf("启动Kafka消费者失败: %v", err)
	}

	// HTTP服务
	g.Go(func() error {
		log.Printf("HTTP服务启动，监听地址: %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	// HTTP服务关停器
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancelShutdown()
		return httpServer.Shutdown(shutdownCtx)
	})

	// WebSocket推送主循环
	g.Go(func() error {
		return wsServer.Run(gctx)
	})

	// 代理下线扫描
	g.Go(func() error {
		return scanner.Run(gctx)
	})

	// 指标保留期清理
	g.Go(func() error {
		ticker := time.NewTicker(cfg.Retention.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticker.C:
				cutoff := time.Now().Add(-cfg.Retention.Horizon).Unix()
				deleted, err := store.RunRetention(gctx, cutoff, cfg.Retention.BatchSize)
				if err != nil {
					log.Printf("保留期清理失败: %v", err)
					continue
				}
				if deleted > 0 {
					log.Printf("保留期清理完成，删除 %d 个指标点", deleted)
				}
			}
		}
	})

	// 活跃主机数量表
	g.Go(func() error {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticker.C:
				active := snapshots.Active(time.Now(), cfg.Alerts.Staleness)
				reg.ActiveHosts.Set(float64(len(active)))
			}
		}
	})

	log.Println("采集端启动完成，等待上报...")

	// 等待信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("收到信号 %v，正在关闭...", sig)
	case <-gctx.Done():
	}
	cancel()

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("后台任务退出: %v", err)
	}

	if err := kafkaConsumer.Stop(); err != nil {
		log.Printf("关闭Kafka消费者失败: %v", err)
	}
	if quicServer != nil {
		if err := quicServer.Stop(); err != nil {
			log.Printf("关闭QUIC推送服务失败: %v", err)
		}
	}

	log.Println("服务已关闭")
}
