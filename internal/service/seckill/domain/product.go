package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ProductStatus 秒杀商品的运营状态
type ProductStatus int

const (
	ProductStatusNotStarted ProductStatus = iota
	ProductStatusActive
	ProductStatusEnded
)

func (s ProductStatus) String() string {
	switch s {
	case ProductStatusNotStarted:
		return "NOT_STARTED"
	case ProductStatusActive:
		return "ACTIVE"
	case ProductStatusEnded:
		return "ENDED"
	default:
		return fmt.Sprintf("ProductStatus(%d)", int(s))
	}
}

// Product 是秒杀商品的持久化视图。剩余库存不在这里维护，由库存账本独占。
type Product struct {
	ID            string
	Name          string
	OriginalPrice decimal.Decimal
	SalePrice     decimal.Decimal
	TotalStock    int64
	StartTime     time.Time
	EndTime       time.Time
	Status        ProductStatus
	Enabled       bool
	LimitPerUser  int
	// AdmissionRule 是可选的 CEL 表达式，变量: user_id, product_id, quantity
	AdmissionRule string
	Version       int64
}

func (p *Product) Validate() error {
	switch {
	case p.ID == "":
		return fmt.Errorf("%w: product id is empty", ErrInvalidRequest)
	case p.TotalStock < 0:
		return fmt.Errorf("%w: product %s has negative stock", ErrInvalidRequest, p.ID)
	case !p.EndTime.After(p.StartTime):
		return fmt.Errorf("%w: product %s sale window is empty", ErrInvalidRequest, p.ID)
	case p.SalePrice.IsNegative():
		return fmt.Errorf("%w: product %s has negative price", ErrInvalidRequest, p.ID)
	}
	return nil
}

// Epoch 标识一次销售的库存代次；重新预热同一代次是幂等的
func (p *Product) Epoch() string {
	return fmt.Sprintf("%d-%d", p.StartTime.Unix(), p.Version)
}

// EffectiveLimit 每人限购，未配置时为 1
func (p *Product) EffectiveLimit() int {
	if p.LimitPerUser <= 0 {
		return 1
	}
	return p.LimitPerUser
}

// Snapshot 生成资格缓存使用的快照，stockHint 通常取自库存账本
func (p *Product) Snapshot(stockHint int64) Snapshot {
	return Snapshot{
		ProductID:     p.ID,
		Enabled:       p.Enabled,
		Status:        p.Status,
		StartTime:     p.StartTime,
		EndTime:       p.EndTime,
		StockHint:     stockHint,
		LimitPerUser:  p.EffectiveLimit(),
		SalePrice:     p.SalePrice,
		AdmissionRule: p.AdmissionRule,
	}
}

// Snapshot 是热路径上使用的商品元数据。StockHint 只是提示，真正的扣减以账本为准。
type Snapshot struct {
	ProductID     string
	Enabled       bool
	Status        ProductStatus
	StartTime     time.Time
	EndTime       time.Time
	StockHint     int64
	LimitPerUser  int
	SalePrice     decimal.Decimal
	AdmissionRule string
}

// SellableAt enabled && active && now ∈ [start, end) && stockHint > 0
func (s Snapshot) SellableAt(now time.Time) bool {
	return s.openAt(now) && s.StockHint > 0
}

// SoldOutAt 销售进行中，仅因库存提示为 0 而不可售
func (s Snapshot) SoldOutAt(now time.Time) bool {
	return s.openAt(now) && s.StockHint <= 0
}

func (s Snapshot) openAt(now time.Time) bool {
	return s.Enabled &&
		s.Status == ProductStatusActive &&
		!now.Before(s.StartTime) &&
		now.Before(s.EndTime)
}
