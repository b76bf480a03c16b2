package execution

import (
	"context"
	"time"

	"mint-trader/internal/account"
)

// Outcome 描述批次的结束方式。
type Outcome string

const (
	// OutcomeCompleted 所有账户均已完成或失效。
	OutcomeCompleted Outcome = "completed"
	// OutcomeExhausted 达到 settlement.max_rounds 仍有账户未完成。
	OutcomeExhausted Outcome = "exhausted"
	// OutcomeCancelled 上下文被取消。
	OutcomeCancelled Outcome = "cancelled"
	// OutcomeEmpty 没有可交易的标的。
	OutcomeEmpty Outcome = "empty"
)

// Options 控制编排循环。
type Options struct {
	QuoteAsset    string
	RetryInterval time.Duration
	// MaxRounds 为 0 时不限制轮数，仅依赖健康值熔断。
	MaxRounds   int
	Concurrency int
}

// BatchReport 为一次 Execute 的结果摘要。
type BatchReport struct {
	ID         string               `json:"id"`
	Symbols    []string             `json:"symbols"`
	Dropped    []string             `json:"dropped,omitempty"`
	Buys       []account.BuyResult  `json:"-"`
	Rounds     int                  `json:"rounds"`
	Outcome    Outcome              `json:"outcome"`
	Unfinished []string             `json:"unfinished,omitempty"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt time.Time            `json:"finished_at"`
	Accounts   []account.Snapshot   `json:"accounts"`
	LastPass   []account.PassResult `json:"-"`
}

// Recorder 持久化执行过程中的关键事件。
type Recorder interface {
	RecordBuys(ctx context.Context, batchID string, results []account.BuyResult)
	RecordPass(ctx context.Context, batchID string, round int, results []account.PassResult)
	RecordBatch(ctx context.Context, report BatchReport)
	RecordRefresh(ctx context.Context, snapshots []account.Snapshot, err error)
}

type nopRecorder struct{}

func (nopRecorder) RecordBuys(context.Context, string, []account.BuyResult)       {}
func (nopRecorder) RecordPass(context.Context, string, int, []account.PassResult) {}
func (nopRecorder) RecordBatch(context.Context, BatchReport)                      {}
func (nopRecorder) RecordRefresh(context.Context, []account.Snapshot, error)      {}
