package account

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"mint-trader/internal/credential"
	"mint-trader/internal/exchange"
	"mint-trader/internal/order"
)

// QuantitySource 决定止盈单数量取自订单成交量还是现货余额。
type QuantitySource string

const (
	QuantityFromOrder   QuantitySource = "order"
	QuantityFromBalance QuantitySource = "balance"
)

// Options 为账户的交易参数。
type Options struct {
	Denomination       string
	BalanceFraction    float64
	TakeProfitFraction float64
	InitialHealth      int
	InitialOrderHealth int
	QuantitySource     QuantitySource
}

// Account 绑定一组凭证、一个交易所会话、一个订单注册表与一份健康预算。
// 健康值归零即视为失效；同一时刻只允许一个顶层操作访问。
type Account struct {
	cred     credential.Credential
	connect  exchange.ConnectFunc
	adapter  exchange.Adapter
	opts     Options
	logger   *zap.Logger
	balance  float64
	health   int
	registry *order.Registry
	allSold  bool
}

// New 建立会话并获取初始余额；任一步失败都是致命错误。
func New(ctx context.Context, cred credential.Credential, connect exchange.ConnectFunc, opts Options, logger *zap.Logger) (*Account, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.InitialHealth <= 0 {
		opts.InitialHealth = 10
	}
	if opts.InitialOrderHealth <= 0 {
		opts.InitialOrderHealth = 3
	}
	if opts.QuantitySource == "" {
		opts.QuantitySource = QuantityFromOrder
	}

	adapter, err := connect(ctx, cred)
	if err != nil {
		return nil, fmt.Errorf("account: 账户 %s 建立交易所会话失败: %w", cred.Name, err)
	}

	balance, err := adapter.Balance(ctx, opts.Denomination)
	if err != nil {
		return nil, fmt.Errorf("account: 账户 %s 启动时获取余额失败: %w", cred.Name, err)
	}

	logger.Info("账户已就绪", zap.Float64("balance", balance), zap.Int("health", opts.InitialHealth))

	return &Account{
		cred:     cred,
		connect:  connect,
		adapter:  adapter,
		opts:     opts,
		logger:   logger,
		balance:  balance,
		health:   opts.InitialHealth,
		registry: order.NewRegistry(),
	}, nil
}

// Name 返回账户名。
func (a *Account) Name() string { return a.cred.Name }

// Health 返回当前健康值。
func (a *Account) Health() int { return a.health }

// Alive 当且仅当健康值为正。
func (a *Account) Alive() bool { return a.health > 0 }

// Balance 返回最近一次获取的余额。
func (a *Account) Balance() float64 { return a.balance }

// AllSold 返回本批次是否已全部挂出止盈单。
func (a *Account) AllSold() bool { return a.allSold }

// OpenOrders 返回存活订单数。
func (a *Account) OpenOrders() int { return a.registry.Alive() }

// BeginBatch 开始新的批次周期，清除 all_sold 锁存。
func (a *Account) BeginBatch() {
	a.allSold = false
}

func (a *Account) lowerHealth(amount int) {
	if amount <= 0 {
		return
	}
	a.health -= amount
	if a.health <= 0 {
		a.logger.Warn("账户健康值耗尽，已失效", zap.Int("health", a.health))
	}
}

// Fail 记录一次账户级失败并扣减健康值。
func (a *Account) Fail(amount int) {
	a.lowerHealth(amount)
}

// Allocation 计算单个标的的买入资金：余额 * 资金比例 / 标的数量。
func (a *Account) Allocation(symbolCount int) float64 {
	if symbolCount <= 0 {
		return 0
	}
	return a.balance * a.opts.BalanceFraction / float64(symbolCount)
}

// BuyResult 汇总一次买入阶段的结果。
type BuyResult struct {
	Account string
	Placed  int
	Failed  int
	Skipped int
	Err     error
}

// Buy 为每个标的尽力提交一笔市价买单。单个标的失败只扣减健康值，不影响其他标的。
func (a *Account) Buy(ctx context.Context, symbols []exchange.SymbolRequest) BuyResult {
	result := BuyResult{Account: a.Name()}
	funds := a.Allocation(len(symbols))

	for _, symbol := range symbols {
		if !a.Alive() {
			a.logger.Warn("账户已失效，跳过买入", zap.String("pair", symbol.Pair))
			result.Skipped++
			continue
		}

		handle, err := a.buyOne(ctx, symbol, funds)
		if err != nil {
			a.logger.Warn("买入失败", zap.String("pair", symbol.Pair), zap.Error(err))
			result.Failed++
			result.Err = multierr.Append(result.Err, err)
			a.lowerHealth(1)
			continue
		}

		a.registry.Add(order.New(handle, a.opts.InitialOrderHealth))
		result.Placed++
		a.logger.Info("买入成功",
			zap.String("pair", symbol.Pair),
			zap.String("order_id", handle.ID),
		)
	}

	return result
}

func (a *Account) buyOne(ctx context.Context, symbol exchange.SymbolRequest, funds float64) (exchange.OrderHandle, error) {
	amount, err := a.adapter.RoundToPrecision(symbol.Pair, funds, exchange.FieldPrice)
	if err != nil {
		return exchange.OrderHandle{}, err
	}
	return a.adapter.MarketOrder(ctx, symbol.Pair, amount, exchange.SideBuy)
}

// PassResult 汇总一次挂止盈单的尝试。
type PassResult struct {
	Account     string
	Finished    bool
	Sold        int
	QueryErrors int
	SellErrors  int
	Purged      int
	Err         error
}

// TrySettle 尝试为所请求标的上的每笔存活订单挂出止盈限价单。
// 账户已失效时立即返回完成；否则仅当本轮零错误时置位 all_sold。
func (a *Account) TrySettle(ctx context.Context, symbols []exchange.SymbolRequest) PassResult {
	result := PassResult{Account: a.Name()}
	if !a.Alive() {
		result.Finished = true
		return result
	}

	for _, symbol := range symbols {
		for _, o := range a.registry.OpenFor(symbol.Pair) {
			quantity, price, err := a.position(ctx, symbol, o)
			if err != nil {
				o.LowerHealth()
				result.QueryErrors++
				result.Err = multierr.Append(result.Err, err)
				a.logger.Warn("查询订单成交失败",
					zap.String("order_id", o.ID),
					zap.Int("order_health", o.Health),
					zap.Error(err),
				)
				continue
			}

			if err := a.placeTakeProfit(ctx, symbol, quantity, price); err != nil {
				result.SellErrors++
				result.Err = multierr.Append(result.Err, err)
				a.logger.Warn("挂止盈单失败", zap.String("order_id", o.ID), zap.Error(err))
				continue
			}

			o.Handoff()
			result.Sold++
		}
	}

	if result.SellErrors > 0 {
		a.lowerHealth(result.SellErrors)
	} else if result.QueryErrors == 0 {
		a.allSold = true
	}

	result.Purged = a.registry.Purge()
	result.Finished = a.allSold || !a.Alive()
	return result
}

func (a *Account) position(ctx context.Context, symbol exchange.SymbolRequest, o *order.Order) (float64, float64, error) {
	state, err := a.adapter.OrderState(ctx, o.ID)
	if err != nil {
		return 0, 0, err
	}

	quantity := state.Quantity
	if a.opts.QuantitySource == QuantityFromBalance {
		quantity, err = a.adapter.Balance(ctx, symbol.Symbol)
		if err != nil {
			return 0, 0, err
		}
	}

	price := state.Price
	if ref, ok := symbol.ReferencePrice(); ok {
		price = ref
	}
	return quantity, price, nil
}

func (a *Account) placeTakeProfit(ctx context.Context, symbol exchange.SymbolRequest, quantity, price float64) error {
	target := price * (1 + a.opts.TakeProfitFraction)
	priceStr, err := a.adapter.RoundToPrecision(symbol.Pair, target, exchange.FieldPrice)
	if err != nil {
		return err
	}
	qtyStr, err := a.adapter.RoundToPrecision(symbol.Pair, quantity, exchange.FieldQuantity)
	if err != nil {
		return err
	}

	handle, err := a.adapter.LimitOrder(ctx, symbol.Pair, qtyStr, priceStr, exchange.SideSell)
	if err != nil {
		return err
	}

	a.logger.Info("止盈单已挂出",
		zap.String("pair", symbol.Pair),
		zap.String("order_id", handle.ID),
		zap.String("price", priceStr),
		zap.String("quantity", qtyStr),
	)
	return nil
}

// Refresh 重建交易所会话并刷新余额，失败扣减 1 点健康值，最后清理失效订单。
func (a *Account) Refresh(ctx context.Context) error {
	defer a.registry.Purge()

	adapter, err := a.connect(ctx, a.cred)
	if err != nil {
		a.logger.Warn("重建交易所会话失败", zap.Error(err))
		a.lowerHealth(1)
		return fmt.Errorf("account: 刷新账户 %s 会话失败: %w", a.Name(), err)
	}
	a.adapter = adapter

	balance, err := a.adapter.Balance(ctx, a.opts.Denomination)
	if err != nil {
		a.logger.Warn("刷新余额失败", zap.Error(err))
		a.lowerHealth(1)
		return fmt.Errorf("account: 刷新账户 %s 余额失败: %w", a.Name(), err)
	}
	a.balance = balance
	return nil
}

// CancelOpenOrders 尽力撤销给定交易对上的挂单。
func (a *Account) CancelOpenOrders(ctx context.Context, pairs []string) error {
	var err error
	for _, pair := range pairs {
		if cancelErr := a.adapter.CancelOpenOrders(ctx, pair); cancelErr != nil {
			a.logger.Warn("撤单失败", zap.String("pair", pair), zap.Error(cancelErr))
			err = multierr.Append(err, cancelErr)
		}
	}
	return err
}

// Snapshot 为账户状态的只读拷贝。
type Snapshot struct {
	Name       string        `json:"name"`
	Health     int           `json:"health"`
	Alive      bool          `json:"alive"`
	Balance    float64       `json:"balance"`
	AllSold    bool          `json:"all_sold"`
	OpenOrders int           `json:"open_orders"`
	Orders     []order.Order `json:"orders,omitempty"`
}

// Snapshot 拷贝当前状态。
func (a *Account) Snapshot() Snapshot {
	return Snapshot{
		Name:       a.Name(),
		Health:     a.health,
		Alive:      a.Alive(),
		Balance:    a.balance,
		AllSold:    a.allSold,
		OpenOrders: a.registry.Alive(),
		Orders:     a.registry.Snapshot(),
	}
}
