package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus 只允许 pending -> confirmed / failed
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	OrderStatusFailed    OrderStatus = "FAILED"
)

// Order 是秒杀订单聚合根；订单从不删除，失败只做标记
type Order struct {
	ID              string
	ReservationID   string
	UserID          string
	ProductID       string
	Quantity        int64
	UnitPrice       decimal.Decimal
	TotalAmount     decimal.Decimal
	Status          OrderStatus
	PaymentIntentID string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewOrder 由预留创建待确认订单
func NewOrder(id string, r *Reservation, now time.Time) (*Order, error) {
	if id == "" || r == nil || r.ID == "" || r.UserID == "" || r.ProductID == "" {
		return nil, errors.New("cannot create order with empty required fields")
	}
	if r.Quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity %d", ErrInvalidRequest, r.Quantity)
	}
	return &Order{
		ID:            id,
		ReservationID: r.ID,
		UserID:        r.UserID,
		ProductID:     r.ProductID,
		Quantity:      r.Quantity,
		UnitPrice:     r.UnitPrice,
		TotalAmount:   r.UnitPrice.Mul(decimal.NewFromInt(r.Quantity)),
		Status:        OrderStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func (o *Order) AttachPaymentIntent(intentID string, now time.Time) error {
	if o.Status != OrderStatusPending {
		return fmt.Errorf("%w: order %s is %s", ErrInvalidTransition, o.ID, o.Status)
	}
	o.PaymentIntentID = intentID
	o.UpdatedAt = now
	return nil
}

func (o *Order) MarkConfirmed(now time.Time) error {
	if o.Status != OrderStatusPending {
		return fmt.Errorf("%w: order %s is %s", ErrInvalidTransition, o.ID, o.Status)
	}
	o.Status = OrderStatusConfirmed
	o.UpdatedAt = now
	return nil
}

func (o *Order) MarkFailed(now time.Time) error {
	if o.Status == OrderStatusFailed {
		return nil
	}
	if o.Status != OrderStatusPending {
		return fmt.Errorf("%w: order %s is %s", ErrInvalidTransition, o.ID, o.Status)
	}
	o.Status = OrderStatusFailed
	o.UpdatedAt = now
	return nil
}
