package application

import (
	"seckill/internal/pkg/clock"

	"golang.org/x/time/rate"
)

// AdmissionLimiter 是入口的令牌桶：容量 C，每秒补充 R 个。
// 补充是惰性的，每次调用按 elapsed*R 计算并封顶到 C，检查与扣减在同一把锁内完成。
type AdmissionLimiter struct {
	clock   clock.Clock
	limiter *rate.Limiter
}

func NewAdmissionLimiter(capacity int, refillPerSecond float64, clk clock.Clock) *AdmissionLimiter {
	return &AdmissionLimiter{
		clock:   clk,
		limiter: rate.NewLimiter(rate.Limit(refillPerSecond), capacity),
	}
}

// Admit 有令牌时消耗一个并返回 true，否则立即返回 false，从不阻塞
func (l *AdmissionLimiter) Admit() bool {
	return l.limiter.AllowN(l.clock.Now(), 1)
}
