package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Reservation 是对库存的临时占用，由库存账本产出、订单流水线独占
type Reservation struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	ProductID  string          `json:"product_id"`
	Quantity   int64           `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Epoch      string          `json:"epoch"`
	Sequence   uint64          `json:"sequence"`
	AdmittedAt time.Time       `json:"admitted_at"`
}

// ReservationState 预留在流水线中的状态
type ReservationState string

const (
	ReservationAdmitted          ReservationState = "ADMITTED"
	ReservationEnqueued          ReservationState = "ENQUEUED"
	ReservationMaterializing     ReservationState = "MATERIALIZING"
	ReservationConfirmed         ReservationState = "CONFIRMED"
	ReservationFailedCompensated ReservationState = "FAILED_COMPENSATED"
)

// 入队失败时预留可以直接从 Admitted/Enqueued 进入补偿终态；终态没有出边
var reservationTransitions = map[ReservationState][]ReservationState{
	ReservationAdmitted:      {ReservationEnqueued, ReservationFailedCompensated},
	ReservationEnqueued:      {ReservationMaterializing, ReservationFailedCompensated},
	ReservationMaterializing: {ReservationConfirmed, ReservationFailedCompensated},
}

func (s ReservationState) IsTerminal() bool {
	return s == ReservationConfirmed || s == ReservationFailedCompensated
}

func (s ReservationState) CanTransitionTo(next ReservationState) bool {
	for _, allowed := range reservationTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ReservationRecord 是 queryOutcome 读取的预留生命周期记录
type ReservationRecord struct {
	Reservation   Reservation      `json:"reservation"`
	State         ReservationState `json:"state"`
	OrderID       string           `json:"order_id,omitempty"`
	FailureReason RejectReason     `json:"failure_reason,omitempty"`
	UpdatedAt     time.Time        `json:"updated_at"`
	ExpiresAt     time.Time        `json:"expires_at"`
}

func NewReservationRecord(r Reservation, expiresAt time.Time) *ReservationRecord {
	return &ReservationRecord{
		Reservation: r,
		State:       ReservationAdmitted,
		UpdatedAt:   r.AdmittedAt,
		ExpiresAt:   expiresAt,
	}
}

func (r *ReservationRecord) TransitionTo(next ReservationState, now time.Time) error {
	if !r.State.CanTransitionTo(next) {
		return fmt.Errorf("%w: reservation %s %s -> %s", ErrInvalidTransition, r.Reservation.ID, r.State, next)
	}
	r.State = next
	r.UpdatedAt = now
	return nil
}
