package port

import (
	"context"

	"seckill/internal/service/seckill/domain"
)

// PaymentService 支付意向的创建与撤销。
// 业务拒绝返回 domain.ErrPaymentDeclined，基础设施故障用 domain.Transient 包装。
type PaymentService interface {
	CreateIntent(ctx context.Context, order *domain.Order) (string, error)
	CancelIntent(ctx context.Context, intentID string) error
}

type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event *domain.OrderEvent) error
}

type ProductEventPublisher interface {
	PublishProductWarmed(ctx context.Context, event *domain.ProductWarmed) error
}

// Locker 跨实例互斥，维护任务用它保证同一时刻只有一个实例在清理
type Locker interface {
	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error
}
