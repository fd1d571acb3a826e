package persistence

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProductModel 对应 seckill_product 表
type ProductModel struct {
	ID            string          `gorm:"primaryKey;size:64"`
	Name          string          `gorm:"size:128"`
	OriginalPrice decimal.Decimal `gorm:"type:decimal(12,2)"`
	SalePrice     decimal.Decimal `gorm:"type:decimal(12,2)"`
	TotalStock    int64
	StartTime     time.Time
	EndTime       time.Time
	Status        int  `gorm:"type:tinyint"`
	Enabled       bool `gorm:"default:true"`
	LimitPerUser  int  `gorm:"default:1"`
	AdmissionRule string `gorm:"type:text"`
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (ProductModel) TableName() string {
	return "seckill_product"
}

// OrderModel 对应 seckill_order 表；reservation_id 唯一，保证一个预留只落一张订单
type OrderModel struct {
	ID              string          `gorm:"primaryKey;size:32"`
	ReservationID   string          `gorm:"uniqueIndex;size:64"`
	UserID          string          `gorm:"index;size:64"`
	ProductID       string          `gorm:"index;size:64"`
	Quantity        int64
	UnitPrice       decimal.Decimal `gorm:"type:decimal(12,2)"`
	TotalAmount     decimal.Decimal `gorm:"type:decimal(12,2)"`
	Status          string          `gorm:"size:16"`
	PaymentIntentID string          `gorm:"size:64"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (OrderModel) TableName() string {
	return "seckill_order"
}
