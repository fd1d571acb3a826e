package application

import (
	"fmt"
	"time"

	"seckill/internal/service/seckill/domain"
)

// SubmitRequest 是一次秒杀请求
type SubmitRequest struct {
	UserID    string `json:"user_id"`
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
}

func (r SubmitRequest) Validate() error {
	switch {
	case r.UserID == "":
		return fmt.Errorf("%w: user id is empty", domain.ErrInvalidRequest)
	case r.ProductID == "":
		return fmt.Errorf("%w: product id is empty", domain.ErrInvalidRequest)
	case r.Quantity <= 0:
		return fmt.Errorf("%w: quantity %d", domain.ErrInvalidRequest, r.Quantity)
	}
	return nil
}

// AdmissionResult 要么 Accepted 并带预留号，要么带拒绝原因
type AdmissionResult struct {
	Accepted      bool                `json:"accepted"`
	ReservationID string              `json:"reservation_id,omitempty"`
	Reason        domain.RejectReason `json:"reason,omitempty"`
}

func Accepted(reservationID string) AdmissionResult {
	return AdmissionResult{Accepted: true, ReservationID: reservationID}
}

func Rejected(reason domain.RejectReason) AdmissionResult {
	return AdmissionResult{Reason: reason}
}

type OutcomeStatus string

const (
	OutcomePending   OutcomeStatus = "PENDING"
	OutcomeConfirmed OutcomeStatus = "CONFIRMED"
	OutcomeFailed    OutcomeStatus = "FAILED"
)

// Outcome 是 QueryOutcome 的结果
type Outcome struct {
	ReservationID string              `json:"reservation_id"`
	Status        OutcomeStatus       `json:"status"`
	OrderID       string              `json:"order_id,omitempty"`
	Reason        domain.RejectReason `json:"reason,omitempty"`
}

// Participation 是 HasParticipated 的结果；Outcome 只在已参与时出现
type Participation struct {
	UserID       string                      `json:"user_id"`
	ProductID    string                      `json:"product_id"`
	Participated bool                        `json:"participated"`
	Outcome      domain.ParticipationOutcome `json:"outcome,omitempty"`
}

// StockLevel 是账本中的剩余库存
type StockLevel struct {
	ProductID string `json:"product_id"`
	Remaining int64  `json:"remaining"`
}

// ProductStatus 是资格缓存对商品当前状态的判断，库存以缓存中的提示为准
type ProductStatus struct {
	ProductID string    `json:"product_id"`
	OnSale    bool      `json:"on_sale"`
	SoldOut   bool      `json:"sold_out"`
	StockHint int64     `json:"stock_hint"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}
