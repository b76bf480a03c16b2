package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mint-trader/internal/config"
)

type marketClient interface {
	LoadMarkets(params ...interface{}) (map[string]ccxt.MarketInterface, error)
	FetchTicker(symbol string, options ...ccxt.FetchTickerOptions) (ccxt.Ticker, error)
}

// MarketService 通过匿名客户端提供参考价与精度表。
type MarketService struct {
	cfg    config.ExchangeConfig
	client marketClient
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	table  map[string]Precision
	loaded time.Time
	ttl    time.Duration
}

var _ PriceSource = (*MarketService)(nil)

// NewMarketService 创建基于匿名 KuCoin 客户端的行情服务。
func NewMarketService(cfg config.ExchangeConfig, logger *zap.Logger) *MarketService {
	ex := ccxt.NewKucoin(map[string]interface{}{"enableRateLimit": true})
	if cfg.UseSandbox {
		ex.SetSandboxMode(true)
	}
	return newMarketService(cfg, ex, logger)
}

func newMarketService(cfg config.ExchangeConfig, client marketClient, logger *zap.Logger) *MarketService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MarketService{
		cfg:    cfg,
		client: client,
		logger: logger,
		sleep:  sleepContext,
		ttl:    time.Minute,
	}
}

// PrecisionTable 返回全部交易对的精度表。短时间内的重复请求复用上一次结果，
// 以免刷新周期内每个账户都重新拉取市场元数据。
func (s *MarketService) PrecisionTable(ctx context.Context) (map[string]Precision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.table != nil && time.Since(s.loaded) < s.ttl {
		return s.table, nil
	}

	var markets map[string]ccxt.MarketInterface
	err := callWithRetry(ctx, s.cfg.Retry, s.logger, s.sleep, "load_markets", func() error {
		result, err := s.client.LoadMarkets()
		if err != nil {
			return err
		}
		markets = result
		return nil
	})
	if err != nil {
		return nil, QueryError("load_markets", err)
	}
	if len(markets) == 0 {
		return nil, QueryError("load_markets", fmt.Errorf("交易所未返回任何市场"))
	}

	table := make(map[string]Precision, len(markets))
	for symbol, market := range markets {
		table[symbol] = Precision{
			Price:    digitsFromTick(market.Precision.Price),
			Quantity: digitsFromTick(market.Precision.Amount),
		}
	}

	s.table = table
	s.loaded = time.Now()
	s.logger.Info("已完成市场精度表加载", zap.Int("markets", len(table)))
	return table, nil
}

// Precision 返回单个交易对的精度。
func (s *MarketService) Precision(ctx context.Context, pair string) (Precision, error) {
	table, err := s.PrecisionTable(ctx)
	if err != nil {
		return Precision{}, err
	}
	precision, ok := table[pair]
	if !ok {
		return Precision{}, QueryError("precision", fmt.Errorf("未知交易对 %s", pair))
	}
	return precision, nil
}

// ReferencePrice 返回交易对最新成交价。
func (s *MarketService) ReferencePrice(ctx context.Context, pair string) (float64, error) {
	var ticker ccxt.Ticker
	err := callWithRetry(ctx, s.cfg.Retry, s.logger, s.sleep, "fetch_ticker", func() error {
		result, err := s.client.FetchTicker(pair)
		if err != nil {
			return err
		}
		ticker = result
		return nil
	})
	if err != nil {
		return 0, QueryError("fetch_ticker", err)
	}

	price := firstPositive(ticker.Last, ticker.Close)
	if price <= 0 {
		return 0, ParseError("fetch_ticker", fmt.Errorf("交易对 %s 缺少最新价", pair))
	}
	return price, nil
}

// ResolvePrices 并发解析批次内每个标的的参考价与精度；任一失败的标的被剔除并记录日志。
func ResolvePrices(ctx context.Context, source PriceSource, symbols []SymbolRequest, logger *zap.Logger) []SymbolRequest {
	if logger == nil {
		logger = zap.NewNop()
	}

	resolved := make([]*SymbolRequest, len(symbols))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(8)

	for i, symbol := range symbols {
		group.Go(func() error {
			if _, err := source.Precision(groupCtx, symbol.Pair); err != nil {
				logger.Warn("获取精度失败，剔除该标的",
					zap.String("pair", symbol.Pair),
					zap.Error(err),
				)
				return nil
			}
			price, err := source.ReferencePrice(groupCtx, symbol.Pair)
			if err != nil {
				logger.Warn("获取参考价失败，剔除该标的",
					zap.String("pair", symbol.Pair),
					zap.Error(err),
				)
				return nil
			}
			withPrice := symbol.WithPrice(price)
			resolved[i] = &withPrice
			return nil
		})
	}
	_ = group.Wait()

	out := make([]SymbolRequest, 0, len(symbols))
	for _, symbol := range resolved {
		if symbol != nil {
			out = append(out, *symbol)
		}
	}
	return out
}
