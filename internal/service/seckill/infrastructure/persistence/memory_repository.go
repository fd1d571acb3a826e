package persistence

import (
	"context"
	"sync"

	"seckill/internal/service/seckill/domain"
)

// MemoryProductRepository 用于单机部署和测试
type MemoryProductRepository struct {
	mu       sync.RWMutex
	products map[string]domain.Product
}

func NewMemoryProductRepository(products ...*domain.Product) *MemoryProductRepository {
	r := &MemoryProductRepository{products: make(map[string]domain.Product)}
	for _, p := range products {
		r.Put(p)
	}
	return r
}

func (r *MemoryProductRepository) Put(p *domain.Product) {
	r.mu.Lock()
	r.products[p.ID] = *p
	r.mu.Unlock()
}

func (r *MemoryProductRepository) FindByID(_ context.Context, id string) (*domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.products[id]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	return &p, nil
}

// MemoryOrderRepository 保存订单副本，调用方修改返回值不会影响已保存的数据
type MemoryOrderRepository struct {
	mu            sync.RWMutex
	orders        map[string]domain.Order
	byReservation map[string]string
}

func NewMemoryOrderRepository() *MemoryOrderRepository {
	return &MemoryOrderRepository{
		orders:        make(map[string]domain.Order),
		byReservation: make(map[string]string),
	}
}

func (r *MemoryOrderRepository) Save(_ context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[order.ID] = *order
	r.byReservation[order.ReservationID] = order.ID
	return nil
}

func (r *MemoryOrderRepository) FindByID(_ context.Context, id string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return &o, nil
}

func (r *MemoryOrderRepository) FindByReservationID(ctx context.Context, reservationID string) (*domain.Order, error) {
	r.mu.RLock()
	id, ok := r.byReservation[reservationID]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return r.FindByID(ctx, id)
}

// List 返回全部订单，按保存顺序无关
func (r *MemoryOrderRepository) List() []domain.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Order, 0, len(r.orders))
	for _, o := range r.orders {
		out = append(out, o)
	}
	return out
}
