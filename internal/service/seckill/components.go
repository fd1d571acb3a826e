// Package seckill 组装秒杀服务的全部组件，供 cmd 下的各个进程共用。
package seckill

import (
	"context"
	"fmt"

	"seckill/internal/pkg/bootstrap"
	"seckill/internal/pkg/clock"
	"seckill/internal/pkg/httpclient"
	"seckill/internal/pkg/idgen"
	"seckill/internal/pkg/logger"
	"seckill/internal/pkg/mq"
	"seckill/internal/pkg/nacos"
	"seckill/internal/pkg/redis"
	"seckill/internal/service/seckill/application"
	"seckill/internal/service/seckill/application/saga"
	"seckill/internal/service/seckill/domain/port"
	"seckill/internal/service/seckill/infrastructure/adapter"
	"seckill/internal/service/seckill/infrastructure/persistence"
	"seckill/internal/service/seckill/infrastructure/store"

	"go.opentelemetry.io/otel"
)

// Components 持有一个进程内的全部组件；Close 按创建的逆序释放资源
type Components struct {
	Config bootstrap.Config

	Store    port.Store
	Products port.ProductRepository
	Orders   port.OrderRepository

	Cache       *application.EligibilityCache
	Pipeline    *application.OrderPipeline
	Service     *application.SeckillApplicationService
	Maintenance *application.MaintenanceService

	closers []func() error
}

// Build 按配置选择存储实现：store.driver=memory 时商品和订单也保存在内存中，
// 否则使用 Redis 与 MySQL。Kafka broker 为空时事件只写日志。
func Build(cfg bootstrap.Config, serviceName string) (*Components, error) {
	c := &Components{Config: cfg}
	tracer := otel.Tracer(serviceName)
	clk := clock.System{}

	if err := c.buildStorage(cfg, clk); err != nil {
		c.Close()
		return nil, err
	}

	var (
		orderEvents   port.OrderEventPublisher   = adapter.LoggingEventPublisher{}
		productEvents port.ProductEventPublisher = adapter.LoggingEventPublisher{}
	)
	if brokers := cfg.Infra.Kafka.BrokerList(); len(brokers) > 0 {
		orderAdapter := adapter.NewOrderEventKafkaAdapter(mq.NewKafkaWriter(brokers, cfg.Infra.Kafka.OrderEventsTopic))
		productAdapter := adapter.NewProductEventKafkaAdapter(mq.NewKafkaWriter(brokers, cfg.Infra.Kafka.ProductEventsTopic))
		c.closers = append(c.closers, orderAdapter.Close, productAdapter.Close)
		orderEvents, productEvents = orderAdapter, productAdapter
	}

	s := cfg.Seckill
	ledger := application.NewInventoryLedger(c.Store, clk, application.LedgerConfig{
		MaxRetries:     s.Ledger.MaxRetries,
		InitialBackoff: s.Ledger.InitialBackoff,
		MaxBackoff:     s.Ledger.MaxBackoff,
	})
	guard := application.NewParticipationGuard(c.Store, clk)
	book := application.NewReservationBook(c.Store, clk)

	cache, err := application.NewEligibilityCache(c.Products, ledger, clk, application.EligibilityConfig{
		TTL:         s.Eligibility.TTL,
		MissWindow:  s.Eligibility.MissWindow,
		SoldOutTTL:  s.Eligibility.SoldOutTTL,
		MaxProducts: s.Eligibility.MaxProducts,
	})
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Cache = cache
	c.closers = append(c.closers, func() error { cache.Close(); return nil })

	rules, err := application.NewAdmissionRules()
	if err != nil {
		c.Close()
		return nil, err
	}

	ids, err := idgen.NewGenerator(cfg.App.NodeID)
	if err != nil {
		c.Close()
		return nil, err
	}
	payments, err := c.buildPayments(cfg, httpclient.NewClient(tracer))
	if err != nil {
		c.Close()
		return nil, err
	}
	materializer := saga.NewMaterializer(tracer, clk, c.Orders, ids, payments, orderEvents)

	c.Pipeline = application.NewOrderPipeline(
		application.PipelineConfig{
			QueueSize:          s.Pipeline.QueueSize,
			Workers:            s.Pipeline.Workers,
			EnqueueTimeout:     s.Pipeline.EnqueueTimeout,
			MaterializeTimeout: s.Pipeline.MaterializeTimeout,
		},
		application.ReleasePolicy{
			OnTransientFailure: s.ReleasePolicy.OnTransientFailure,
			OnBusinessFailure:  s.ReleasePolicy.OnBusinessFailure,
			OnSoldOut:          s.ReleasePolicy.OnSoldOut,
			OnQueueFull:        s.ReleasePolicy.OnQueueFull,
		},
		application.PipelineDeps{
			Ledger:       ledger,
			Guard:        guard,
			Book:         book,
			Cache:        cache,
			Materializer: materializer,
			Events:       orderEvents,
			Clock:        clk,
			Tracer:       tracer,
		})

	c.Service = application.NewSeckillApplicationService(
		application.ServiceConfig{RequestTimeout: s.RequestTimeout, GracePeriod: s.GracePeriod},
		application.ServiceDeps{
			Limiter:  application.NewAdmissionLimiter(s.Limiter.Capacity, s.Limiter.RefillPerSecond, clk),
			Cache:    cache,
			Rules:    rules,
			Guard:    guard,
			Ledger:   ledger,
			Book:     book,
			Pipeline: c.Pipeline,
			Orders:   c.Orders,
			Clock:    clk,
			Tracer:   tracer,
		})

	c.Maintenance = application.NewMaintenanceService(application.MaintenanceDeps{
		Products: c.Products,
		Store:    c.Store,
		Ledger:   ledger,
		Cache:    cache,
		Rules:    rules,
		Events:   productEvents,
		Clock:    clk,
		Tracer:   tracer,
	})
	return c, nil
}

func (c *Components) buildStorage(cfg bootstrap.Config, clk clock.Clock) error {
	if cfg.Infra.Store.Driver == "memory" {
		logger.Warn().Msg("using in-memory store and repositories, state is lost on restart")
		c.Store = store.NewMemoryStore(clk)
		c.Products = persistence.NewMemoryProductRepository()
		c.Orders = persistence.NewMemoryOrderRepository()
		return nil
	}

	redisClient, err := redis.NewClient(cfg.Infra.Redis.Addrs, cfg.Infra.Redis.Password)
	if err != nil {
		return fmt.Errorf("failed to initialize redis client: %w", err)
	}
	c.closers = append(c.closers, redisClient.Close)
	redisStore, err := store.NewRedisStore(redisClient)
	if err != nil {
		return err
	}
	c.Store = redisStore

	db, err := persistence.OpenMySQL(cfg.Infra.MySQL.DSN(), true)
	if err != nil {
		return fmt.Errorf("failed to open mysql: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		c.closers = append(c.closers, sqlDB.Close)
	}
	c.Products = persistence.NewGormProductRepository(db)
	c.Orders = persistence.NewGormOrderRepository(db)
	return nil
}

// buildPayments 优先使用配置的 base_url；为空且启用 Nacos 时每次调用前发现支付服务实例
func (c *Components) buildPayments(cfg bootstrap.Config, client *httpclient.Client) (*adapter.PaymentHTTPAdapter, error) {
	p := cfg.Infra.Payment
	if p.BaseURL != "" || !cfg.Infra.Nacos.Enabled {
		return adapter.NewPaymentHTTPAdapter(client, p.BaseURL, p.Timeout), nil
	}
	registry, err := nacos.NewNacosClient(cfg.Infra.Nacos.Addrs, cfg.Infra.Nacos.Namespace, cfg.Infra.Nacos.Group)
	if err != nil {
		return nil, fmt.Errorf("failed to create nacos client for payment discovery: %w", err)
	}
	c.closers = append(c.closers, registry.Close)
	logger.Info().Str("service", p.ServiceName).Msg("payment service resolved through nacos")
	return adapter.NewDiscoveredPaymentAdapter(client, registry, p.ServiceName, p.Timeout), nil
}

// Close 释放连接；pipeline 需要在此之前由调用方 Stop
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			logger.Ctx(context.Background()).Warn().Err(err).Msg("error closing component")
		}
	}
	c.closers = nil
}
