package adapter

import (
	"context"
	"encoding/json"
	"fmt"

	"seckill/internal/pkg/logger"
	"seckill/internal/pkg/mq"
	"seckill/internal/service/seckill/domain"
)

// EventWriter 是 *kafka.Writer 中发布事件用到的部分
type EventWriter interface {
	mq.MessageWriter
	Close() error
}

// OrderEventKafkaAdapter 实现了 port.OrderEventPublisher 接口。
// 以预留号为 key，同一预留的事件落在同一分区，保持先后顺序。
type OrderEventKafkaAdapter struct {
	writer EventWriter
}

func NewOrderEventKafkaAdapter(writer EventWriter) *OrderEventKafkaAdapter {
	return &OrderEventKafkaAdapter{writer: writer}
}

func (a *OrderEventKafkaAdapter) PublishOrderEvent(ctx context.Context, event *domain.OrderEvent) error {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal order event: %w", err)
	}
	return mq.ProduceMessage(ctx, a.writer, []byte(event.ReservationID), eventBytes)
}

// Close 关闭底层的Kafka writer。
func (a *OrderEventKafkaAdapter) Close() error {
	return a.writer.Close()
}

// ProductEventKafkaAdapter 实现了 port.ProductEventPublisher 接口
type ProductEventKafkaAdapter struct {
	writer EventWriter
}

func NewProductEventKafkaAdapter(writer EventWriter) *ProductEventKafkaAdapter {
	return &ProductEventKafkaAdapter{writer: writer}
}

func (a *ProductEventKafkaAdapter) PublishProductWarmed(ctx context.Context, event *domain.ProductWarmed) error {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal product event: %w", err)
	}
	return mq.ProduceMessage(ctx, a.writer, []byte(event.ProductID), eventBytes)
}

func (a *ProductEventKafkaAdapter) Close() error {
	return a.writer.Close()
}

// LoggingEventPublisher 在没有配置 Kafka 时使用，只把事件写进日志
type LoggingEventPublisher struct{}

func (LoggingEventPublisher) PublishOrderEvent(ctx context.Context, event *domain.OrderEvent) error {
	logger.Ctx(ctx).Info().
		Str("type", string(event.Type)).
		Str("reservation_id", event.ReservationID).
		Str("order_id", event.OrderID).
		Str("reason", string(event.Reason)).
		Msg("order event")
	return nil
}

func (LoggingEventPublisher) PublishProductWarmed(ctx context.Context, event *domain.ProductWarmed) error {
	logger.Ctx(ctx).Info().
		Str("product_id", event.ProductID).
		Str("epoch", event.Epoch).
		Int64("total_stock", event.TotalStock).
		Msg("product warmed")
	return nil
}
