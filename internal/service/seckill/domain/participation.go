package domain

import "time"

// ParticipationOutcome 参与记录上的结果标记
type ParticipationOutcome string

const (
	ParticipationPending   ParticipationOutcome = "PENDING"
	ParticipationConfirmed ParticipationOutcome = "CONFIRMED"
	ParticipationFailed    ParticipationOutcome = "FAILED"
)

// ParticipationRecord 的存在即是用户参与过该商品秒杀的唯一凭证
type ParticipationRecord struct {
	UserID    string               `json:"user_id"`
	ProductID string               `json:"product_id"`
	Outcome   ParticipationOutcome `json:"outcome"`
	CreatedAt time.Time            `json:"created_at"`
	ExpiresAt time.Time            `json:"expires_at"`
}

func (r *ParticipationRecord) ExpiredAt(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}
