package domain

import "time"

type OrderEventType string

const (
	OrderEventConfirmed         OrderEventType = "ORDER_CONFIRMED"
	OrderEventReservationFailed OrderEventType = "RESERVATION_FAILED"
)

// OrderEvent 订单结果事件，发往下游 (通知、报表)
type OrderEvent struct {
	EventID       string         `json:"event_id"`
	Type          OrderEventType `json:"type"`
	OrderID       string         `json:"order_id,omitempty"`
	ReservationID string         `json:"reservation_id"`
	UserID        string         `json:"user_id"`
	ProductID     string         `json:"product_id"`
	Quantity      int64          `json:"quantity"`
	TotalAmount   string         `json:"total_amount,omitempty"`
	Reason        RejectReason   `json:"reason,omitempty"`
	OccurredAt    time.Time      `json:"occurred_at"`
}

// ProductWarmed 预热完成事件；其它实例收到后失效本地资格缓存
type ProductWarmed struct {
	ProductID  string    `json:"product_id"`
	Epoch      string    `json:"epoch"`
	TotalStock int64     `json:"total_stock"`
	OccurredAt time.Time `json:"occurred_at"`
}
