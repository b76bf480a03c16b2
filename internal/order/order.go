package order

import (
	"mint-trader/internal/exchange"
)

// Order 为账户持有的一笔待止盈的买入仓位。
// Alive 为 false 后不再被评估，并在下一次清理时移除。
type Order struct {
	ID     string             `json:"id"`
	Kind   exchange.OrderKind `json:"kind"`
	Side   exchange.Side      `json:"side"`
	Symbol string             `json:"symbol"`
	Health int                `json:"health"`
	Alive  bool               `json:"alive"`
}

// New 根据交易所回执创建存活订单。
func New(handle exchange.OrderHandle, health int) *Order {
	return &Order{
		ID:     handle.ID,
		Kind:   handle.Kind,
		Side:   handle.Side,
		Symbol: handle.Symbol,
		Health: health,
		Alive:  true,
	}
}

// LowerHealth 扣减一次健康值，归零时标记失效。
func (o *Order) LowerHealth() {
	o.Health--
	if o.Health <= 0 {
		o.Alive = false
	}
}

// Handoff 表示止盈单已交给交易所，本订单结束跟踪。
func (o *Order) Handoff() {
	o.Alive = false
}

// Registry 为单个账户的未平仓订单列表，仅由所属账户访问。
type Registry struct {
	orders []*Order
}

// NewRegistry 创建空注册表。
func NewRegistry() *Registry {
	return &Registry{}
}

// Add 追加订单。
func (r *Registry) Add(o *Order) {
	r.orders = append(r.orders, o)
}

// Len 返回当前订单数（含尚未清理的失效订单）。
func (r *Registry) Len() int {
	return len(r.orders)
}

// OpenFor 返回指定交易对上仍存活的订单，顺序与插入一致。
func (r *Registry) OpenFor(symbol string) []*Order {
	var out []*Order
	for _, o := range r.orders {
		if o.Alive && o.Symbol == symbol {
			out = append(out, o)
		}
	}
	return out
}

// Alive 返回存活订单数。
func (r *Registry) Alive() int {
	n := 0
	for _, o := range r.orders {
		if o.Alive {
			n++
		}
	}
	return n
}

// Snapshot 返回订单值拷贝，供观察使用。
func (r *Registry) Snapshot() []Order {
	out := make([]Order, 0, len(r.orders))
	for _, o := range r.orders {
		out = append(out, *o)
	}
	return out
}

// Purge 原地压缩移除失效订单，返回移除数量。
func (r *Registry) Purge() int {
	kept := r.orders[:0]
	for _, o := range r.orders {
		if o.Alive {
			kept = append(kept, o)
		}
	}
	removed := len(r.orders) - len(kept)
	for i := len(kept); i < len(r.orders); i++ {
		r.orders[i] = nil
	}
	r.orders = kept
	return removed
}
