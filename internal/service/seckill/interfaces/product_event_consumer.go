package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"seckill/internal/pkg/logger"
	"seckill/internal/pkg/mq"
	"seckill/internal/service/seckill/domain"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

// MessageReader 是 *kafka.Reader 中消费用到的部分
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// CacheInvalidator 由资格缓存实现
type CacheInvalidator interface {
	Invalidate(productID string)
}

// ProductEventConsumer 监听预热事件，使本实例的资格缓存失效，下一次访问时从仓储和账本重建
type ProductEventConsumer struct {
	reader MessageReader
	cache  CacheInvalidator

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewProductEventConsumer(reader MessageReader, cache CacheInvalidator) *ProductEventConsumer {
	return &ProductEventConsumer{reader: reader, cache: cache}
}

// Start 在后台消费，直到 Stop 或 ctx 结束
func (c *ProductEventConsumer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		logger.Ctx(ctx).Info().Msg("product event consumer started")
		for {
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, context.Canceled) {
					logger.Ctx(ctx).Info().Msg("product event consumer shutting down")
					return
				}
				logger.Ctx(ctx).Error().Err(err).Msg("could not read product event, retrying")
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
				continue
			}

			msgCtx := mq.ExtractTraceContext(ctx, msg.Headers)
			c.handle(msgCtx, msg)

			// 无法解码的消息同样提交，避免阻塞分区
			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				logger.Ctx(ctx).Error().Err(err).Msg("failed to commit product event")
			}
		}
	}()
}

func (c *ProductEventConsumer) handle(ctx context.Context, msg kafka.Message) {
	ctx, span := otel.Tracer(serviceName).Start(ctx, "consumer.ProductWarmed")
	defer span.End()

	var event domain.ProductWarmed
	if err := json.Unmarshal(msg.Value, &event); err != nil || event.ProductID == "" {
		logger.Ctx(ctx).Warn().Err(err).Str("key", string(msg.Key)).Msg("dropping malformed product event")
		return
	}
	c.cache.Invalidate(event.ProductID)
	logger.Ctx(ctx).Debug().Str("product_id", event.ProductID).Str("epoch", event.Epoch).Msg("eligibility cache invalidated")
}

// Stop 停止消费并关闭 reader
func (c *ProductEventConsumer) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return c.reader.Close()
}
