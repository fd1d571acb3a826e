// cmd/seckill-service/main.go
package main

import (
	"context"
	"os"

	"seckill/internal/pkg/bootstrap"
	"seckill/internal/pkg/logger"
	"seckill/internal/pkg/mq"
	"seckill/internal/service/seckill"
	"seckill/internal/service/seckill/interfaces"
)

const serviceName = "seckill-service"

// main 是应用的"组装根"：创建并组装所有依赖项，然后启动 HTTP 服务
func main() {
	cfg, err := bootstrap.Init()
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to load config")
	}
	logger.Init(serviceName, cfg.App.LogLevel)

	components, err := seckill.Build(cfg, serviceName)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to build seckill components")
	}

	ctx := context.Background()
	components.Pipeline.Start(ctx)

	// 其它实例预热后，通过事件失效本实例的资格缓存。
	// 每个实例使用独立的消费组，否则同组内只有一个实例能收到事件
	var consumer *interfaces.ProductEventConsumer
	if brokers := cfg.Infra.Kafka.BrokerList(); len(brokers) > 0 {
		host, _ := os.Hostname()
		groupID := cfg.Infra.Kafka.InstanceGroupID(host, cfg.App.NodeID)
		logger.Info().Str("group_id", groupID).Msg("consuming product events")
		reader := mq.NewBroadcastReader(brokers, cfg.Infra.Kafka.ProductEventsTopic, groupID)
		consumer = interfaces.NewProductEventConsumer(reader, components.Cache)
		consumer.Start(ctx)
	}

	handler := interfaces.NewSeckillHandler(components.Service, components.Maintenance)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        cfg.App.Port,
		Config:      cfg,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			handler.RegisterRoutes(appCtx.Mux)
		},
		OnShutdown: func(ctx context.Context) {
			if consumer != nil {
				if err := consumer.Stop(ctx); err != nil {
					logger.Error().Err(err).Msg("Error stopping product event consumer")
				}
			}
			if err := components.Pipeline.Stop(ctx); err != nil {
				logger.Error().Err(err).Msg("Error draining order pipeline")
			}
			components.Close()
		},
	})
}
