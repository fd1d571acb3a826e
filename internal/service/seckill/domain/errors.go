package domain

import (
	"context"
	"errors"
	"fmt"
)

// 业务拒绝：作为正常结果直接返回给调用方，不按错误记录日志
var (
	ErrRateLimited            = errors.New("seckill: system busy, rate limited")
	ErrIneligible             = errors.New("seckill: product is not on sale")
	ErrDuplicateParticipation = errors.New("seckill: user already participated")
	ErrInsufficientStock      = errors.New("seckill: insufficient stock")
	ErrInvalidRequest         = errors.New("seckill: invalid request")
)

// 基础设施与流水线错误
var (
	ErrTransient             = errors.New("seckill: transient infrastructure failure")
	ErrMaterializationFailed = errors.New("seckill: order materialization failed")
	ErrQueueFull             = errors.New("seckill: order queue is full")
	ErrQueueClosed           = errors.New("seckill: order queue is closed")
)

// 查询与状态错误
var (
	ErrProductNotFound      = errors.New("seckill: product not found")
	ErrOrderNotFound        = errors.New("seckill: order not found")
	ErrReservationNotFound  = errors.New("seckill: reservation not found")
	ErrLedgerNotInitialized = errors.New("seckill: stock ledger not initialized")
	ErrLedgerConflict       = errors.New("seckill: stock ledger holds a non-matching value")
	ErrStaleCompensation    = errors.New("seckill: compensation targets a previous sale epoch")
	ErrRestoreOverflow      = errors.New("seckill: restore would exceed total stock")
	ErrInvalidTransition    = errors.New("seckill: invalid state transition")
	ErrPaymentDeclined      = errors.New("seckill: payment intent declined")
)

// RejectReason 是返回给调用方的拒绝原因
type RejectReason string

const (
	ReasonNone                   RejectReason = ""
	ReasonRateLimited            RejectReason = "RATE_LIMITED"
	ReasonIneligible             RejectReason = "INELIGIBLE"
	ReasonDuplicateParticipation RejectReason = "DUPLICATE_PARTICIPATION"
	ReasonInsufficientStock      RejectReason = "INSUFFICIENT_STOCK"
	ReasonTransientFailure       RejectReason = "TRANSIENT_INFRASTRUCTURE_FAILURE"
	ReasonMaterializationFailed  RejectReason = "MATERIALIZATION_FAILED"
	ReasonInvalidRequest         RejectReason = "INVALID_REQUEST"
)

// IsBusinessOutcome 为 true 的原因是合法的业务结果，不需要补偿
func (r RejectReason) IsBusinessOutcome() bool {
	switch r {
	case ReasonRateLimited, ReasonIneligible, ReasonDuplicateParticipation, ReasonInsufficientStock, ReasonInvalidRequest:
		return true
	}
	return false
}

// ReasonOf 把错误映射为拒绝原因；未知错误一律视为基础设施故障
func ReasonOf(err error) RejectReason {
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, ErrRateLimited):
		return ReasonRateLimited
	case errors.Is(err, ErrIneligible), errors.Is(err, ErrProductNotFound), errors.Is(err, ErrLedgerNotInitialized):
		return ReasonIneligible
	case errors.Is(err, ErrDuplicateParticipation):
		return ReasonDuplicateParticipation
	case errors.Is(err, ErrInsufficientStock):
		return ReasonInsufficientStock
	case errors.Is(err, ErrInvalidRequest):
		return ReasonInvalidRequest
	case errors.Is(err, ErrMaterializationFailed), errors.Is(err, ErrPaymentDeclined):
		return ReasonMaterializationFailed
	default:
		return ReasonTransientFailure
	}
}

// StockShortageError 记录扣减失败时账本中观察到的剩余量；errors.Is 匹配 ErrInsufficientStock。
// Remaining 大于 0 说明只是请求数量超出剩余，商品并未售罄。
type StockShortageError struct {
	ProductID string
	Remaining int64
	Requested int64
}

func (e *StockShortageError) Error() string {
	return fmt.Sprintf("%s: product %s remaining=%d requested=%d", ErrInsufficientStock, e.ProductID, e.Remaining, e.Requested)
}

func (e *StockShortageError) Is(target error) bool { return target == ErrInsufficientStock }

// ObservedRemaining 从库存不足错误中取出账本剩余量
func ObservedRemaining(err error) (int64, bool) {
	var shortage *StockShortageError
	if errors.As(err, &shortage) {
		return shortage.Remaining, true
	}
	return 0, false
}

type transientError struct {
	cause error
}

func (e *transientError) Error() string        { return "transient: " + e.cause.Error() }
func (e *transientError) Unwrap() error        { return e.cause }
func (e *transientError) Is(target error) bool { return target == ErrTransient }

// Transient 标记一个由基础设施引起、重试可能成功的错误
func Transient(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTransient) {
		return err
	}
	return &transientError{cause: err}
}

// IsTransient 判断失败是否归因于基础设施；超时同样算作基础设施故障
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}
