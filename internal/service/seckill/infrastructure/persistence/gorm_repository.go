// Package persistence 提供商品与订单仓储：GORM (MySQL) 实现和内存实现。
package persistence

import (
	"context"

	"seckill/internal/service/seckill/domain"

	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// OpenMySQL 打开连接并迁移秒杀表
func OpenMySQL(dsn string, autoMigrate bool) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open mysql")
	}
	if autoMigrate {
		if err := db.AutoMigrate(&ProductModel{}, &OrderModel{}); err != nil {
			return nil, errors.Wrap(err, "migrate seckill tables")
		}
	}
	return db, nil
}

// GormProductRepository 是 ProductRepository 的 GORM 实现
type GormProductRepository struct {
	db *gorm.DB
}

func NewGormProductRepository(db *gorm.DB) *GormProductRepository {
	return &GormProductRepository{db: db}
}

func (r *GormProductRepository) FindByID(ctx context.Context, id string) (*domain.Product, error) {
	var model ProductModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrProductNotFound
		}
		return nil, domain.Transient(errors.Wrapf(err, "find product %s", id))
	}
	return ToDomainProduct(&model), nil
}

// GormOrderRepository 是 OrderRepository 的 GORM 实现
type GormOrderRepository struct {
	db *gorm.DB
}

func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

// Save 按主键 upsert，只更新订单生命周期中会变化的字段
func (r *GormOrderRepository) Save(ctx context.Context, order *domain.Order) error {
	model := FromDomainOrder(order)
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "payment_intent_id", "updated_at"}),
	}).Create(model).Error
	if err != nil {
		return domain.Transient(errors.Wrapf(err, "save order %s", order.ID))
	}
	return nil
}

func (r *GormOrderRepository) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	return r.findOne(ctx, "id = ?", id)
}

func (r *GormOrderRepository) FindByReservationID(ctx context.Context, reservationID string) (*domain.Order, error) {
	return r.findOne(ctx, "reservation_id = ?", reservationID)
}

func (r *GormOrderRepository) findOne(ctx context.Context, query string, arg string) (*domain.Order, error) {
	var model OrderModel
	err := r.db.WithContext(ctx).Where(query, arg).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, domain.Transient(errors.Wrapf(err, "find order by %s", arg))
	}
	return ToDomainOrder(&model), nil
}
