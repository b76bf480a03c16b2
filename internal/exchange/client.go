package exchange

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"mint-trader/internal/config"
	"mint-trader/internal/credential"
)

type venueClient interface {
	FetchBalance(params ...interface{}) (ccxt.Balances, error)
	CreateMarketOrder(symbol string, side string, amount float64, options ...ccxt.CreateMarketOrderOptions) (ccxt.Order, error)
	CreateLimitOrder(symbol string, side string, amount float64, price float64, options ...ccxt.CreateLimitOrderOptions) (ccxt.Order, error)
	FetchOrder(id string, options ...ccxt.FetchOrderOptions) (ccxt.Order, error)
	CancelAllOrders(options ...ccxt.CancelAllOrdersOptions) ([]ccxt.Order, error)
}

// Client 是单个账户的 KuCoin 会话，实现 Adapter 并带重试机制。
type Client struct {
	cfg        config.ExchangeConfig
	logger     *zap.Logger
	venue      venueClient
	precisions map[string]Precision
	sleep      func(ctx context.Context, d time.Duration) error
}

var _ Adapter = (*Client)(nil)

func newClient(cfg config.ExchangeConfig, venue venueClient, precisions map[string]Precision, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:        cfg,
		logger:     logger,
		venue:      venue,
		precisions: precisions,
		sleep:      sleepContext,
	}
}

// NewKucoinVenue 使用账户凭证构造 ccxt KuCoin 私有客户端。
func NewKucoinVenue(cfg config.ExchangeConfig, cred credential.Credential) *ccxt.Kucoin {
	userConfig := map[string]interface{}{
		"enableRateLimit": true,
		"apiKey":          cred.APIKey,
		"secret":          cred.APISecret,
		"password":        cred.Passphrase,
		"options": map[string]interface{}{
			"adjustForTimeDifference": true,
			"defaultType":             "spot",
		},
	}

	ex := ccxt.NewKucoin(userConfig)
	if cfg.UseSandbox {
		ex.SetSandboxMode(true)
	}
	return ex
}

// Connector 负责为账户建立交易所会话。
type Connector struct {
	cfg     config.ExchangeConfig
	markets *MarketService
	logger  *zap.Logger
}

// NewConnector 创建会话工厂。
func NewConnector(cfg config.ExchangeConfig, markets *MarketService, logger *zap.Logger) *Connector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Connector{cfg: cfg, markets: markets, logger: logger}
}

// Connect 加载精度表并创建账户会话，满足 ConnectFunc。
func (c *Connector) Connect(ctx context.Context, cred credential.Credential) (Adapter, error) {
	if cred.APIKey == "" || cred.APISecret == "" {
		return nil, ConnectionError("connect", fmt.Errorf("账户 %s 凭证不完整", cred.Name))
	}

	precisions, err := c.markets.PrecisionTable(ctx)
	if err != nil {
		return nil, ConnectionError("load_precision_table", err)
	}

	venue := NewKucoinVenue(c.cfg, cred)
	return newClient(c.cfg, venue, precisions, c.logger.With(zap.String("account", cred.Name))), nil
}

// Balance 返回计价币种的可用余额。
func (c *Client) Balance(ctx context.Context, denomination string) (float64, error) {
	var balances ccxt.Balances
	err := c.callWithRetry(ctx, "fetch_balance", func() error {
		result, err := c.venue.FetchBalance()
		if err != nil {
			return err
		}
		balances = result
		return nil
	})
	if err != nil {
		return 0, QueryError("fetch_balance", err)
	}

	code := strings.ToUpper(denomination)
	if free, ok := balances.Free[code]; ok && free != nil {
		return *free, nil
	}
	if total, ok := balances.Total[code]; ok && total != nil {
		return *total, nil
	}
	// 未持有该币种时交易所不会返回条目，视为零余额。
	return 0, nil
}

// MarketOrder 提交市价单。买单的 funds 为计价币金额，卖单的 funds 为基础币数量。
func (c *Client) MarketOrder(ctx context.Context, symbol string, funds string, side Side) (OrderHandle, error) {
	value, err := strconv.ParseFloat(funds, 64)
	if err != nil {
		return OrderHandle{}, ParseError("market_order", err)
	}
	if value <= 0 {
		return OrderHandle{}, OrderError("market_order", fmt.Errorf("下单金额无效: %s", funds))
	}

	clientOID := uuid.NewString()
	params := map[string]interface{}{"clientOid": clientOID}
	amount := value
	if side == SideBuy {
		params["cost"] = value
		amount = 0
	}

	var placed ccxt.Order
	err = c.callWithRetry(ctx, "create_market_order", func() error {
		order, err := c.venue.CreateMarketOrder(symbol, string(side), amount, ccxt.WithCreateMarketOrderParams(params))
		if err != nil {
			return err
		}
		placed = order
		return nil
	})
	if err != nil {
		return OrderHandle{}, OrderError("create_market_order", err)
	}

	return c.handleFrom(placed, clientOID, KindMarket, side, symbol)
}

// LimitOrder 提交限价单。
func (c *Client) LimitOrder(ctx context.Context, symbol string, quantity string, price string, side Side) (OrderHandle, error) {
	qty, err := strconv.ParseFloat(quantity, 64)
	if err != nil {
		return OrderHandle{}, ParseError("limit_order", err)
	}
	px, err := strconv.ParseFloat(price, 64)
	if err != nil {
		return OrderHandle{}, ParseError("limit_order", err)
	}
	if qty <= 0 || px <= 0 {
		return OrderHandle{}, OrderError("limit_order", fmt.Errorf("委托参数无效 quantity=%s price=%s", quantity, price))
	}

	clientOID := uuid.NewString()
	params := map[string]interface{}{"clientOid": clientOID}

	var placed ccxt.Order
	err = c.callWithRetry(ctx, "create_limit_order", func() error {
		order, err := c.venue.CreateLimitOrder(symbol, string(side), qty, px, ccxt.WithCreateLimitOrderParams(params))
		if err != nil {
			return err
		}
		placed = order
		return nil
	})
	if err != nil {
		return OrderHandle{}, OrderError("create_limit_order", err)
	}

	return c.handleFrom(placed, clientOID, KindLimit, side, symbol)
}

// OrderState 查询委托的成交均价与成交数量。
func (c *Client) OrderState(ctx context.Context, orderID string) (OrderState, error) {
	var fetched ccxt.Order
	err := c.callWithRetry(ctx, "fetch_order", func() error {
		order, err := c.venue.FetchOrder(orderID)
		if err != nil {
			return err
		}
		fetched = order
		return nil
	})
	if err != nil {
		return OrderState{}, QueryError("fetch_order", err)
	}

	price := firstPositive(fetched.Average, fetched.Price)
	quantity := firstPositive(fetched.Filled, fetched.Amount)
	if price <= 0 || quantity <= 0 {
		return OrderState{}, ParseError("fetch_order", fmt.Errorf("订单 %s 缺少成交价格或数量", orderID))
	}

	return OrderState{Price: price, Quantity: quantity}, nil
}

// CancelOpenOrders 撤销交易对上的全部挂单。
func (c *Client) CancelOpenOrders(ctx context.Context, symbol string) error {
	err := c.callWithRetry(ctx, "cancel_all_orders", func() error {
		_, err := c.venue.CancelAllOrders(ccxt.WithCancelAllOrdersSymbol(symbol))
		return err
	})
	if err != nil {
		return OrderError("cancel_all_orders", err)
	}
	return nil
}

// RoundToPrecision 按交易对精度向零截断。
func (c *Client) RoundToPrecision(symbol string, value float64, field PrecisionField) (string, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return "", ParseError("round_to_precision", fmt.Errorf("%s 数值无效: %v", field, value))
	}
	precision, ok := c.precisions[symbol]
	if !ok {
		return "", QueryError("round_to_precision", fmt.Errorf("未知交易对 %s", symbol))
	}
	return Truncate(value, precision.Digits(field)), nil
}

func (c *Client) handleFrom(order ccxt.Order, clientOID string, kind OrderKind, side Side, symbol string) (OrderHandle, error) {
	if order.Id == nil || *order.Id == "" {
		return OrderHandle{}, ParseError("order_response", errors.New("交易所未返回订单号"))
	}
	return OrderHandle{
		ID:            *order.Id,
		ClientOrderID: clientOID,
		Kind:          kind,
		Side:          side,
		Symbol:        symbol,
	}, nil
}

func (c *Client) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	return callWithRetry(ctx, c.cfg.Retry, c.logger, c.sleep, operation, fn)
}

func callWithRetry(ctx context.Context, retry config.RetryConfig, logger *zap.Logger, sleep func(context.Context, time.Duration) error, operation string, fn func() error) error {
	attempt := 0
	delay := retry.MinDelay
	if delay <= 0 {
		delay = 200 * time.Millisecond
	}
	maxDelay := retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	maxAttempts := retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		attempt++
		start := time.Now()
		err := fn()
		duration := time.Since(start)
		if err == nil {
			if attempt > 1 {
				logger.Info("交易所调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", duration),
				)
			}
			return nil
		}

		normalizedErr, retryable := classifyError(err)

		if errors.Is(normalizedErr, ErrMaintenance) {
			logger.Warn("交易所维护中",
				zap.String("operation", operation),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		if !retryable || attempt >= maxAttempts {
			logger.Debug("交易所调用失败",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Duration("latency", duration),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		wait := delay
		if wait > maxDelay {
			wait = maxDelay
		}

		logger.Warn("交易所调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(normalizedErr),
		)

		if err := sleep(ctx, wait); err != nil {
			return err
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func classifyError(err error) (error, bool) {
	if err == nil {
		return nil, false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err, false
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		if ccxtErr.Type == ccxt.OnMaintenanceErrType {
			message := strings.TrimSpace(ccxtErr.Message)
			if message == "" {
				message = "exchange under maintenance"
			}
			return fmt.Errorf("%w: %s", ErrMaintenance, message), false
		}
		return err, IsRetryable(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return err, true
	}

	return err, false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func firstPositive(values ...*float64) float64 {
	for _, v := range values {
		if v != nil && *v > 0 {
			return *v
		}
	}
	return 0
}
