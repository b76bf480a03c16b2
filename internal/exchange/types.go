package exchange

import (
	"context"

	"mint-trader/internal/credential"
)

// Side 表示下单方向。
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderKind 表示委托类型。
type OrderKind string

const (
	KindMarket OrderKind = "market"
	KindLimit  OrderKind = "limit"
)

// PrecisionField 选择按价格还是按数量精度截断。
type PrecisionField int

const (
	FieldPrice PrecisionField = iota
	FieldQuantity
)

func (f PrecisionField) String() string {
	if f == FieldPrice {
		return "price"
	}
	return "quantity"
}

// Precision 为交易对的小数位要求。
type Precision struct {
	Price    int
	Quantity int
}

// Digits 返回指定字段的小数位数。
func (p Precision) Digits(field PrecisionField) int {
	if field == FieldPrice {
		return p.Price
	}
	return p.Quantity
}

// OrderHandle 为交易所返回的委托标识。
type OrderHandle struct {
	ID            string
	ClientOrderID string
	Kind          OrderKind
	Side          Side
	Symbol        string
}

// OrderState 描述已提交委托的成交价格与数量。
type OrderState struct {
	Price    float64
	Quantity float64
}

// Adapter 是核心逻辑对单一账户、单一交易所会话所需的全部能力。
// 所有失败都以 *Error 返回。
type Adapter interface {
	Balance(ctx context.Context, denomination string) (float64, error)
	MarketOrder(ctx context.Context, symbol string, funds string, side Side) (OrderHandle, error)
	LimitOrder(ctx context.Context, symbol string, quantity string, price string, side Side) (OrderHandle, error)
	OrderState(ctx context.Context, orderID string) (OrderState, error)
	CancelOpenOrders(ctx context.Context, symbol string) error
	RoundToPrecision(symbol string, value float64, field PrecisionField) (string, error)
}

// ConnectFunc 为账户建立交易所会话；凭证无效或精度表无法加载时返回 KindConnection 错误。
type ConnectFunc func(ctx context.Context, cred credential.Credential) (Adapter, error)

// PriceSource 提供参考价与精度查询。
type PriceSource interface {
	ReferencePrice(ctx context.Context, pair string) (float64, error)
	Precision(ctx context.Context, pair string) (Precision, error)
}

// SymbolRequest 为一次批次中归一化后的交易标的，批次内只读共享。
type SymbolRequest struct {
	Symbol string
	Pair   string
	Price  *float64
}

// ReferencePrice 返回已解析的参考价。
func (s SymbolRequest) ReferencePrice() (float64, bool) {
	if s.Price == nil || *s.Price <= 0 {
		return 0, false
	}
	return *s.Price, true
}

// WithPrice 返回携带参考价的副本。
func (s SymbolRequest) WithPrice(price float64) SymbolRequest {
	p := price
	s.Price = &p
	return s
}
