package adapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"seckill/internal/pkg/httpclient"
	"seckill/internal/pkg/logger"
	"seckill/internal/service/seckill/domain"

	"github.com/sony/gobreaker"
)

const (
	paymentCreatePath = "/payments/intents"
	paymentCancelPath = "/payments/intents/cancel"
)

type createIntentRequest struct {
	OrderID       string `json:"order_id"`
	ReservationID string `json:"reservation_id"`
	UserID        string `json:"user_id"`
	Amount        string `json:"amount"`
}

type createIntentResponse struct {
	IntentID string `json:"intent_id"`
}

type cancelIntentRequest struct {
	IntentID string `json:"intent_id"`
}

// ServiceResolver 按服务名返回一个可用实例的地址，由 nacos.Client 实现
type ServiceResolver interface {
	DiscoverServiceURL(serviceName string) (string, error)
}

// PaymentHTTPAdapter 实现了 port.PaymentService 接口，所有调用都经过熔断器。
type PaymentHTTPAdapter struct {
	client  *httpclient.Client
	baseURL string
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker

	resolver    ServiceResolver
	serviceName string
}

// NewPaymentHTTPAdapter 创建支付服务适配器；timeout <= 0 时只受调用方 ctx 约束
func NewPaymentHTTPAdapter(client *httpclient.Client, baseURL string, timeout time.Duration) *PaymentHTTPAdapter {
	return &PaymentHTTPAdapter{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		breaker: newPaymentBreaker(),
	}
}

// NewDiscoveredPaymentAdapter 每次调用前通过 resolver 选取一个健康实例
func NewDiscoveredPaymentAdapter(client *httpclient.Client, resolver ServiceResolver, serviceName string, timeout time.Duration) *PaymentHTTPAdapter {
	return &PaymentHTTPAdapter{
		client:      client,
		timeout:     timeout,
		breaker:     newPaymentBreaker(),
		resolver:    resolver,
		serviceName: serviceName,
	}
}

func newPaymentBreaker() *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "payment-service",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		// 4xx 是支付方的业务拒绝，不代表下游不可用
		IsSuccessful: func(err error) bool {
			return err == nil || isClientError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})
}

// CreateIntent 为订单创建支付意向
func (a *PaymentHTTPAdapter) CreateIntent(ctx context.Context, order *domain.Order) (string, error) {
	resp, err := executeWithBreaker(a.breaker, func() (createIntentResponse, error) {
		var out createIntentResponse
		err := a.post(ctx, paymentCreatePath, createIntentRequest{
			OrderID:       order.ID,
			ReservationID: order.ReservationID,
			UserID:        order.UserID,
			Amount:        order.TotalAmount.StringFixed(2),
		}, &out)
		return out, err
	})
	if err != nil {
		return "", a.translate(err, "create payment intent for order "+order.ID)
	}
	if resp.IntentID == "" {
		return "", domain.Transient(fmt.Errorf("payment service returned empty intent id for order %s", order.ID))
	}
	return resp.IntentID, nil
}

// CancelIntent 撤销支付意向；意向不存在时视为已撤销
func (a *PaymentHTTPAdapter) CancelIntent(ctx context.Context, intentID string) error {
	_, err := executeWithBreaker(a.breaker, func() (struct{}, error) {
		return struct{}{}, a.post(ctx, paymentCancelPath, cancelIntentRequest{IntentID: intentID}, nil)
	})
	var statusErr *httpclient.StatusError
	if errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound {
		return nil
	}
	if err != nil {
		return a.translate(err, "cancel payment intent "+intentID)
	}
	return nil
}

func (a *PaymentHTTPAdapter) post(ctx context.Context, path string, body, out interface{}) error {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	baseURL, err := a.endpoint()
	if err != nil {
		return err
	}
	return a.client.PostJSON(ctx, baseURL+path, body, out)
}

func (a *PaymentHTTPAdapter) endpoint() (string, error) {
	if a.resolver == nil {
		return a.baseURL, nil
	}
	url, err := a.resolver.DiscoverServiceURL(a.serviceName)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(url, "/"), nil
}

func (a *PaymentHTTPAdapter) translate(err error, op string) error {
	if isClientError(err) {
		return fmt.Errorf("%s: %w: %v", op, domain.ErrPaymentDeclined, err)
	}
	return domain.Transient(fmt.Errorf("%s: %w", op, err))
}

func isClientError(err error) bool {
	var statusErr *httpclient.StatusError
	return errors.As(err, &statusErr) && statusErr.Code >= 400 && statusErr.Code < 500
}

func executeWithBreaker[T any](cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	res, err := cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		return *new(T), err
	}
	return res.(T), nil
}
