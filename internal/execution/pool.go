package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mint-trader/internal/account"
	"mint-trader/internal/credential"
	"mint-trader/internal/exchange"
	"mint-trader/internal/log"
	"mint-trader/internal/metrics"
)

// ErrAccountPanic 标记单个账户任务中被恢复的 panic。
var ErrAccountPanic = errors.New("execution: 账户任务异常")

// Pool 独占持有全部账户。每个顶层操作（一次刷新或一次 Execute）都持有同一把互斥锁，
// 操作内部再按账户并发扇出。
type Pool struct {
	mu       sync.Mutex
	accounts []*account.Account

	prices   exchange.PriceSource
	opts     Options
	logger   *zap.Logger
	metrics  *metrics.Metrics
	recorder Recorder
	sleep    func(ctx context.Context, d time.Duration) error

	snapshots atomic.Pointer[[]account.Snapshot]
}

// NewPool 创建账户池。prices 为 nil 时跳过参考价解析。
func NewPool(accounts []*account.Account, prices exchange.PriceSource, opts Options, logger *zap.Logger, m *metrics.Metrics, recorder Recorder) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 50 * time.Millisecond
	}

	p := &Pool{
		accounts: accounts,
		prices:   prices,
		opts:     opts,
		logger:   logger,
		metrics:  m,
		recorder: recorder,
		sleep:    sleepContext,
	}
	p.publish()
	return p
}

// LoadAccounts 为每组凭证建立账户；任一账户初始化失败即返回错误。
func LoadAccounts(ctx context.Context, creds []credential.Credential, connect exchange.ConnectFunc, opts account.Options, logger *zap.Logger) ([]*account.Account, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	accounts := make([]*account.Account, len(creds))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(4)
	for i, cred := range creds {
		group.Go(func() error {
			acc, err := account.New(groupCtx, cred, connect, opts, log.ForAccount(logger, cred.Name))
			if err != nil {
				return err
			}
			accounts[i] = acc
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, fmt.Errorf("execution: 初始化账户失败: %w", err)
	}

	return accounts, nil
}

// Snapshots 返回最近一次发布的账户状态，不需要持有池锁。
func (p *Pool) Snapshots() []account.Snapshot {
	if snap := p.snapshots.Load(); snap != nil {
		return *snap
	}
	return nil
}

func (p *Pool) publish() {
	snaps := make([]account.Snapshot, 0, len(p.accounts))
	for _, acc := range p.accounts {
		snaps = append(snaps, acc.Snapshot())
	}
	p.snapshots.Store(&snaps)
	p.metrics.ObserveAccounts(snaps)
}

// fanOut 对每个账户并发执行 fn 并等待全部完成。单个账户的异常不会影响其他账户：
// 发生 panic 的账户扣减 1 点健康值，对应下标返回 ErrAccountPanic。
func (p *Pool) fanOut(ctx context.Context, op string, fn func(ctx context.Context, i int, acc *account.Account)) []error {
	group, groupCtx := errgroup.WithContext(ctx)
	if p.opts.Concurrency > 0 {
		group.SetLimit(p.opts.Concurrency)
	}

	panics := make([]error, len(p.accounts))
	for i, acc := range p.accounts {
		group.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					panics[i] = fmt.Errorf("%w: %s: %v", ErrAccountPanic, op, r)
					acc.Fail(1)
					p.logger.Error("账户任务异常",
						zap.String("operation", op),
						zap.String("account", acc.Name()),
						zap.Int("health", acc.Health()),
						zap.Any("panic", r),
					)
				}
			}()
			fn(groupCtx, i, acc)
			return nil
		})
	}
	_ = group.Wait()
	return panics
}

// BuyBatch 在所有账户上并发买入。
func (p *Pool) BuyBatch(ctx context.Context, symbols []exchange.SymbolRequest) []account.BuyResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buyBatch(ctx, symbols)
}

func (p *Pool) buyBatch(ctx context.Context, symbols []exchange.SymbolRequest) []account.BuyResult {
	results := make([]account.BuyResult, len(p.accounts))
	panics := p.fanOut(ctx, "buy", func(ctx context.Context, i int, acc *account.Account) {
		results[i] = acc.Buy(ctx, symbols)
	})
	for i, err := range panics {
		if err != nil {
			results[i].Account = p.accounts[i].Name()
			results[i].Err = multierr.Append(results[i].Err, err)
		}
	}
	p.metrics.ObserveBuys(results)
	p.publish()
	return results
}

// TrySettle 在所有账户上执行一轮挂止盈单，返回是否全部完成。
func (p *Pool) TrySettle(ctx context.Context, symbols []exchange.SymbolRequest) (bool, []account.PassResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.trySettle(ctx, symbols)
}

func (p *Pool) trySettle(ctx context.Context, symbols []exchange.SymbolRequest) (bool, []account.PassResult) {
	results := make([]account.PassResult, len(p.accounts))
	panics := p.fanOut(ctx, "settle", func(ctx context.Context, i int, acc *account.Account) {
		results[i] = acc.TrySettle(ctx, symbols)
	})

	done := true
	for i, acc := range p.accounts {
		if panics[i] != nil {
			results[i].Account = acc.Name()
			results[i].Err = multierr.Append(results[i].Err, panics[i])
		}
		results[i].Finished = acc.AllSold() || !acc.Alive()
		done = done && results[i].Finished
	}
	p.metrics.ObservePass(results)
	p.publish()
	return done, results
}

// Execute 执行一个完整批次：买入 → 解析参考价 → 轮询挂止盈单直到所有账户完成或失效。
func (p *Pool) Execute(ctx context.Context, symbols []exchange.SymbolRequest) (report BatchReport) {
	p.mu.Lock()
	defer p.mu.Unlock()

	report = BatchReport{
		ID:        uuid.NewString(),
		Symbols:   pairsOf(symbols),
		StartedAt: time.Now().UTC(),
	}
	logger := log.ForBatch(p.logger, report.ID)
	defer func() {
		report.FinishedAt = time.Now().UTC()
		report.Accounts = p.Snapshots()
		p.metrics.ObserveBatch(string(report.Outcome), report.Rounds)
		p.recorder.RecordBatch(ctx, report)
		logger.Info("批次结束",
			zap.String("outcome", string(report.Outcome)),
			zap.Int("rounds", report.Rounds),
			zap.Strings("unfinished", report.Unfinished),
			zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
		)
	}()

	if len(symbols) == 0 {
		report.Outcome = OutcomeEmpty
		return report
	}

	for _, acc := range p.accounts {
		acc.BeginBatch()
	}

	logger.Info("开始批次买入", zap.Strings("symbols", report.Symbols), zap.Int("accounts", len(p.accounts)))
	report.Buys = p.buyBatch(ctx, symbols)
	p.recorder.RecordBuys(ctx, report.ID, report.Buys)

	settleSet := symbols
	if p.prices != nil {
		settleSet = exchange.ResolvePrices(ctx, p.prices, symbols, logger)
		report.Dropped = difference(report.Symbols, pairsOf(settleSet))
	}
	if len(settleSet) == 0 {
		logger.Warn("所有标的参考价解析失败，跳过挂止盈单")
		report.Outcome = OutcomeEmpty
		return report
	}

	for {
		report.Rounds++
		done, results := p.trySettle(ctx, settleSet)
		report.LastPass = results
		if hasActivity(results) {
			p.recorder.RecordPass(ctx, report.ID, report.Rounds, results)
		}
		if done {
			report.Outcome = OutcomeCompleted
			report.Unfinished = nil
			return report
		}
		report.Unfinished = unfinished(results)

		if p.opts.MaxRounds > 0 && report.Rounds >= p.opts.MaxRounds {
			logger.Warn("达到最大轮询次数，放弃剩余止盈挂单", zap.Int("max_rounds", p.opts.MaxRounds))
			report.Outcome = OutcomeExhausted
			return report
		}

		if err := p.sleep(ctx, p.opts.RetryInterval); err != nil {
			report.Outcome = OutcomeCancelled
			return report
		}
	}
}

// RefreshAll 重建所有账户的交易所会话并刷新余额。
func (p *Pool) RefreshAll(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	errs := make([]error, len(p.accounts))
	panics := p.fanOut(ctx, "refresh", func(ctx context.Context, i int, acc *account.Account) {
		errs[i] = acc.Refresh(ctx)
	})
	p.publish()

	err := multierr.Combine(multierr.Combine(errs...), multierr.Combine(panics...))
	p.recorder.RecordRefresh(ctx, p.Snapshots(), err)
	if err != nil {
		p.logger.Warn("部分账户刷新失败", zap.Error(err))
	} else {
		p.logger.Info("账户刷新完成", zap.Int("accounts", len(p.accounts)))
	}
	return err
}

// CancelAll 尽力撤销所有存活账户在给定交易对上的挂单。
func (p *Pool) CancelAll(ctx context.Context, pairs []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	errs := make([]error, len(p.accounts))
	panics := p.fanOut(ctx, "cancel", func(ctx context.Context, i int, acc *account.Account) {
		if acc.Alive() {
			errs[i] = acc.CancelOpenOrders(ctx, pairs)
		}
	})
	p.publish()
	return multierr.Combine(multierr.Combine(errs...), multierr.Combine(panics...))
}

// RunRefresher 按固定周期刷新账户，直到 ctx 结束。
func (p *Pool) RunRefresher(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.New("execution: refresh interval 必须大于0")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_ = p.RefreshAll(ctx)
		}
	}
}

func hasActivity(results []account.PassResult) bool {
	for _, r := range results {
		if r.Sold > 0 || r.QueryErrors > 0 || r.SellErrors > 0 {
			return true
		}
	}
	return false
}

func unfinished(results []account.PassResult) []string {
	var out []string
	for _, r := range results {
		if !r.Finished {
			out = append(out, r.Account)
		}
	}
	return out
}

func pairsOf(symbols []exchange.SymbolRequest) []string {
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		out = append(out, s.Pair)
	}
	return out
}

func difference(all, kept []string) []string {
	keep := make(map[string]struct{}, len(kept))
	for _, k := range kept {
		keep[k] = struct{}{}
	}
	var out []string
	for _, a := range all {
		if _, ok := keep[a]; !ok {
			out = append(out, a)
		}
	}
	return out
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
