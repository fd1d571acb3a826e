// cmd/seckill-maintenance/main.go
package main

import (
	"context"
	"time"

	"seckill/internal/pkg/bootstrap"
	"seckill/internal/pkg/logger"
	"seckill/internal/pkg/tracing"
	"seckill/internal/service/seckill"
	"seckill/internal/zookeeper"
)

const serviceName = "seckill-maintenance"

// main 在销售开始前预热配置中的商品，然后周期性清理过期记录。
// 多个实例同时运行时通过 ZooKeeper 锁保证每轮只有一个实例在清理。
func main() {
	cfg, err := bootstrap.Init()
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to load config")
	}
	logger.Init(serviceName, cfg.App.LogLevel)

	tp, err := tracing.InitTracerProvider(serviceName, cfg.Infra.Jaeger.Endpoint, cfg.Infra.Jaeger.SampleRatio)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to initialize tracer provider")
	}

	components, err := seckill.Build(cfg, serviceName)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to build seckill components")
	}
	defer components.Close()

	if servers := cfg.Infra.Zookeeper.ServerList(); len(servers) > 0 {
		conn, err := zookeeper.Connect(servers, cfg.Infra.Zookeeper.SessionTimeout)
		if err != nil {
			logger.Logger.Fatal().Err(err).Msg("failed to connect to zookeeper")
		}
		defer conn.Close()
		lock, err := zookeeper.NewDistributedLock(conn, cfg.Seckill.Maintenance.LockResource)
		if err != nil {
			logger.Logger.Fatal().Err(err).Msg("failed to create sweep lock")
		}
		components.Maintenance.Locker = lock
	}

	ctx, stop := bootstrap.WaitForSignal(context.Background())
	defer stop()

	if ids := cfg.Seckill.Maintenance.WarmUp; len(ids) > 0 {
		if err := components.Maintenance.WarmUpAll(ctx, ids); err != nil {
			logger.Error().Err(err).Strs("products", ids).Msg("warm-up failed")
		} else {
			logger.Info().Strs("products", ids).Msg("warm-up finished")
		}
	}

	components.Maintenance.Run(ctx, cfg.Seckill.Maintenance.SweepInterval)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tracing.Shutdown(shutdownCtx, tp); err != nil {
		logger.Error().Err(err).Msg("Error shutting down tracer provider")
	}
}
