package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mint-trader/internal/account"
	"mint-trader/internal/config"
	"mint-trader/internal/credential"
	"mint-trader/internal/exchange"
	"mint-trader/internal/execution"
	"mint-trader/internal/metrics"
	"mint-trader/internal/monitor"
	"mint-trader/internal/store"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg     *config.Config
	creds   []credential.Credential
	logger  *zap.Logger
	store   *store.Store
	connect exchange.ConnectFunc
	prices  exchange.PriceSource
}

// Option 调整 App 的依赖，主要用于测试替换交易所。
type Option func(*App)

// WithConnector 替换默认的交易所建连函数。
func WithConnector(connect exchange.ConnectFunc) Option {
	return func(a *App) { a.connect = connect }
}

// WithPriceSource 替换默认的参考价来源。
func WithPriceSource(prices exchange.PriceSource) Option {
	return func(a *App) { a.prices = prices }
}

// New 创建 App 实例。
func New(cfg *config.Config, creds []credential.Credential, logger *zap.Logger, store *store.Store, opts ...Option) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:    cfg,
		creds:  creds,
		logger: logger,
		store:  store,
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.connect == nil || a.prices == nil {
		markets := exchange.NewMarketService(cfg.Exchange, logger)
		if a.prices == nil {
			a.prices = markets
		}
		if a.connect == nil {
			a.connect = exchange.NewConnector(cfg.Exchange, markets, logger).Connect
		}
	}
	return a
}

// Run 初始化账户池后并发运行刷新器、批次消费者与 HTTP 入口，直到 ctx 结束。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("交易系统初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("exchange", a.cfg.Exchange.Name),
		zap.String("quote", a.cfg.Exchange.QuoteAsset),
		zap.Int("accounts", len(a.creds)),
	)

	if len(a.creds) == 0 {
		return fmt.Errorf("%w: 未配置任何账户凭证", config.ErrConfig)
	}

	registry := prometheus.NewRegistry()
	var m *metrics.Metrics
	var gatherer prometheus.Gatherer
	if a.cfg.Metrics.Enabled {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m = metrics.New(registry)
		gatherer = registry
	}

	accounts, err := execution.LoadAccounts(ctx, a.creds, a.connect, accountOptions(a.cfg), a.logger)
	if err != nil {
		return err
	}

	var (
		recorder execution.Recorder
		events   *monitor.Service
	)
	if a.store != nil {
		events, err = monitor.NewService(a.store, a.logger)
		if err != nil {
			return err
		}
		recorder = events
	}

	pool := execution.NewPool(accounts, a.prices, execution.Options{
		QuoteAsset:    a.cfg.Exchange.QuoteAsset,
		RetryInterval: a.cfg.Settlement.RetryInterval,
		MaxRounds:     a.cfg.Settlement.MaxRounds,
		Concurrency:   a.cfg.Settlement.Concurrency,
	}, a.logger, m, recorder)
	queue := execution.NewQueue(a.cfg.Queue.Capacity, m)

	var (
		lister eventLister
		db     pinger
	)
	if events != nil {
		lister = events
		db = a.store
	}
	srv := newServer(queue, pool, a.cfg.Exchange.QuoteAsset, lister, db, gatherer, a.logger)

	a.logger.Info("账户池已就绪", zap.Int("accounts", len(accounts)))

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return pool.RunRefresher(groupCtx, a.cfg.Refresh.Interval)
	})
	group.Go(func() error {
		return pool.Consume(groupCtx, queue)
	})
	group.Go(func() error {
		return srv.serve(groupCtx, a.cfg.Server.Addr, a.cfg.Server.ShutdownTimeout)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		if events != nil {
			events.RecordError(context.Background(), "系统异常退出", err, nil)
		}
		return fmt.Errorf("系统异常退出: %w", err)
	}

	a.logger.Info("系统收到退出信号，正在停止")
	return nil
}

func accountOptions(cfg *config.Config) account.Options {
	return account.Options{
		Denomination:       cfg.Exchange.Denomination,
		BalanceFraction:    cfg.Trading.BalanceFraction,
		TakeProfitFraction: cfg.Trading.TakeProfitFraction,
		InitialHealth:      cfg.Trading.InitialAccountHealth,
		InitialOrderHealth: cfg.Trading.InitialOrderHealth,
		QuantitySource:     account.QuantitySource(cfg.Trading.QuantitySource),
	}
}
