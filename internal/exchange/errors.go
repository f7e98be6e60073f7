package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// 执行层错误分类。每种错误驱动不同的本地恢复：
// AuthError 熔断bot；RateLimited 退避重试；
// OrderRejected 放弃当前信号；Timeout 按失败处理，绝不假定已成交。

type AuthError struct {
	Msg string
}

func (e *AuthError) Error() string { return "auth error: " + e.Msg }

type RateLimitedError struct {
	Msg string
}

func (e *RateLimitedError) Error() string { return "rate limited: " + e.Msg }

type OrderRejectedError struct {
	Reason string
}

func (e *OrderRejectedError) Error() string { return "order rejected: " + e.Reason }

type TimeoutError struct {
	Op string
}

func (e *TimeoutError) Error() string { return fmt.Sprintf("timeout on %s", e.Op) }

func IsAuthError(err error) bool {
	var t *AuthError
	return errors.As(err, &t)
}

func IsRateLimited(err error) bool {
	var t *RateLimitedError
	return errors.As(err, &t)
}

func IsOrderRejected(err error) bool {
	var t *OrderRejectedError
	return errors.As(err, &t)
}

func IsTimeout(err error) bool {
	var t *TimeoutError
	return errors.As(err, &t)
}

// classify 把交易所返回的原始错误映射为类型化错误。
// okx错误码：50111/50113 鉴权失败，50011 请求频率超限。
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Op: op}
	}
	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(msg, "50111") || strings.Contains(msg, "50113") ||
		strings.Contains(lower, "invalid ok-access-key") || strings.Contains(lower, "apikey"):
		return &AuthError{Msg: msg}
	case strings.Contains(msg, "50011") || strings.Contains(lower, "too many requests") ||
		strings.Contains(msg, "429"):
		return &RateLimitedError{Msg: msg}
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline"):
		return &TimeoutError{Op: op}
	case op == "PlaceOrder":
		// 下单阶段其余错误都按拒单处理，只影响当前信号
		return &OrderRejectedError{Reason: msg}
	default:
		return err
	}
}
