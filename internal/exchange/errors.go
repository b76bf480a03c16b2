package exchange

import (
	"errors"
	"fmt"

	ccxt "github.com/ccxt/ccxt/go/v4"
)

var (
	// ErrConnection 会话建立或鉴权失败。
	ErrConnection = errors.New("connection error")
	// ErrQuery 只读查询失败。
	ErrQuery = errors.New("query error")
	// ErrOrder 下单或撤单失败。
	ErrOrder = errors.New("order error")
	// ErrParse 交易所返回的数值无法解析。
	ErrParse = errors.New("parse error")

	// ErrMaintenance 表示交易所处于维护状态，需要上层跳过交易。
	ErrMaintenance = errors.New("exchange on maintenance")
)

// Error 是适配器对外暴露的唯一错误类型，Kind 为上面的哨兵错误之一。
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exchange: %s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("exchange: %s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap 同时暴露类别与底层原因，便于 errors.Is 判断。
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// ConnectionError 构造会话错误。
func ConnectionError(op string, err error) error { return newError(ErrConnection, op, err) }

// QueryError 构造查询错误。
func QueryError(op string, err error) error { return newError(ErrQuery, op, err) }

// OrderError 构造下单错误。
func OrderError(op string, err error) error { return newError(ErrOrder, op, err) }

// ParseError 构造解析错误。
func ParseError(op string, err error) error { return newError(ErrParse, op, err) }

// IsRetryable 判断错误是否可重试。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.NetworkErrorErrType,
			ccxt.RequestTimeoutErrType,
			ccxt.ExchangeNotAvailableErrType,
			ccxt.RateLimitExceededErrType,
			ccxt.DDoSProtectionErrType,
			ccxt.BadResponseErrType,
			ccxt.NullResponseErrType:
			return true
		default:
			return false
		}
	}

	return false
}
