package port

import (
	"context"

	"seckill/internal/service/seckill/domain"
)

// ProductRepository 秒杀商品的持久化存储
type ProductRepository interface {
	FindByID(ctx context.Context, id string) (*domain.Product, error)
}

// OrderRepository 订单仓储；Save 按订单号 upsert
type OrderRepository interface {
	Save(ctx context.Context, order *domain.Order) error
	FindByID(ctx context.Context, id string) (*domain.Order, error)
	FindByReservationID(ctx context.Context, reservationID string) (*domain.Order, error)
}
