// Package exchangetest 提供 exchange.Adapter 的内存实现，供测试使用。
package exchangetest

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"mint-trader/internal/credential"
	"mint-trader/internal/exchange"
)

// ErrInjected 为注入的失败原因。
var ErrInjected = errors.New("injected failure")

// Call 记录一次下单请求。
type Call struct {
	Symbol   string
	Quantity string
	Price    string
	Side     exchange.Side
}

// Fake 是可编程的适配器。零值可用：余额为 0、精度为 8 位、所有操作成功。
type Fake struct {
	mu sync.Mutex

	Precision    *exchange.Precision
	BalanceValue float64
	Balances     map[string]float64
	State        exchange.OrderState

	FailBalance bool
	FailMarket  bool
	FailLimit   bool
	FailState   bool
	// FailStateTimes 使接下来的 N 次订单查询失败。
	FailStateTimes int
	// FailLimitTimes 使接下来的 N 次限价单失败。
	FailLimitTimes int
	// PanicState 使订单查询直接 panic。
	PanicState bool

	MarketCalls []Call
	LimitCalls  []Call
	StateCalls  int
	Cancelled   []string

	nextID int
}

var _ exchange.Adapter = (*Fake)(nil)

func (f *Fake) Balance(_ context.Context, denomination string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailBalance {
		return 0, exchange.QueryError("fetch_balance", ErrInjected)
	}
	if v, ok := f.Balances[denomination]; ok {
		return v, nil
	}
	return f.BalanceValue, nil
}

func (f *Fake) MarketOrder(_ context.Context, symbol string, funds string, side exchange.Side) (exchange.OrderHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.MarketCalls = append(f.MarketCalls, Call{Symbol: symbol, Quantity: funds, Side: side})
	if f.FailMarket {
		return exchange.OrderHandle{}, exchange.OrderError("create_market_order", ErrInjected)
	}
	return f.handle(symbol, exchange.KindMarket, side), nil
}

func (f *Fake) LimitOrder(_ context.Context, symbol string, quantity string, price string, side exchange.Side) (exchange.OrderHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.LimitCalls = append(f.LimitCalls, Call{Symbol: symbol, Quantity: quantity, Price: price, Side: side})
	if f.FailLimit {
		return exchange.OrderHandle{}, exchange.OrderError("create_limit_order", ErrInjected)
	}
	if f.FailLimitTimes > 0 {
		f.FailLimitTimes--
		return exchange.OrderHandle{}, exchange.OrderError("create_limit_order", ErrInjected)
	}
	return f.handle(symbol, exchange.KindLimit, side), nil
}

func (f *Fake) OrderState(_ context.Context, _ string) (exchange.OrderState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.StateCalls++
	if f.PanicState {
		panic("exchangetest: order state decode")
	}
	if f.FailState {
		return exchange.OrderState{}, exchange.QueryError("fetch_order", ErrInjected)
	}
	if f.FailStateTimes > 0 {
		f.FailStateTimes--
		return exchange.OrderState{}, exchange.QueryError("fetch_order", ErrInjected)
	}
	return f.State, nil
}

func (f *Fake) CancelOpenOrders(_ context.Context, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Cancelled = append(f.Cancelled, symbol)
	return nil
}

func (f *Fake) RoundToPrecision(_ string, value float64, field exchange.PrecisionField) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	precision := exchange.Precision{Price: 8, Quantity: 8}
	if f.Precision != nil {
		precision = *f.Precision
	}
	return exchange.Truncate(value, precision.Digits(field)), nil
}

// Markets 返回已提交的市价单数量。
func (f *Fake) Markets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.MarketCalls)
}

// Limits 返回已提交的限价单数量。
func (f *Fake) Limits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.LimitCalls)
}

func (f *Fake) handle(symbol string, kind exchange.OrderKind, side exchange.Side) exchange.OrderHandle {
	f.nextID++
	return exchange.OrderHandle{
		ID:     strconv.Itoa(f.nextID),
		Kind:   kind,
		Side:   side,
		Symbol: symbol,
	}
}

// Connector 按账户名返回预先准备的 Fake，可注入建连失败。
type Connector struct {
	mu       sync.Mutex
	Fakes    map[string]*Fake
	FailNext map[string]int
	Connects map[string]int
}

// NewConnector 创建按账户名映射的连接器。
func NewConnector(fakes map[string]*Fake) *Connector {
	return &Connector{
		Fakes:    fakes,
		FailNext: make(map[string]int),
		Connects: make(map[string]int),
	}
}

// Connect 满足 exchange.ConnectFunc。
func (c *Connector) Connect(_ context.Context, cred credential.Credential) (exchange.Adapter, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Connects[cred.Name]++
	if c.FailNext[cred.Name] > 0 {
		c.FailNext[cred.Name]--
		return nil, exchange.ConnectionError("connect", ErrInjected)
	}
	fake, ok := c.Fakes[cred.Name]
	if !ok {
		fake = &Fake{}
		c.Fakes[cred.Name] = fake
	}
	return fake, nil
}
