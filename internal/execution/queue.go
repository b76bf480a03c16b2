package execution

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mint-trader/internal/exchange"
	"mint-trader/internal/metrics"
)

// ErrQueueFull 表示批次队列已满，请求被拒绝。
var ErrQueueFull = errors.New("execution: 批次队列已满")

// Batch 为一次外部下单请求。
type Batch struct {
	ID         string
	Symbols    []string
	ReceivedAt time.Time
}

// Queue 是有界批次队列，生产者不阻塞，消费者严格串行。
type Queue struct {
	batches chan Batch
	metrics *metrics.Metrics
}

// NewQueue 创建容量为 capacity 的队列。
func NewQueue(capacity int, m *metrics.Metrics) *Queue {
	if capacity <= 0 {
		capacity = 200
	}
	return &Queue{batches: make(chan Batch, capacity), metrics: m}
}

// Submit 入队一个批次，队列满时立即返回 ErrQueueFull。
func (q *Queue) Submit(symbols []string) (Batch, error) {
	batch := Batch{
		ID:         uuid.NewString(),
		Symbols:    append([]string(nil), symbols...),
		ReceivedAt: time.Now().UTC(),
	}
	select {
	case q.batches <- batch:
		q.metrics.SetQueueDepth(len(q.batches))
		return batch, nil
	default:
		return Batch{}, ErrQueueFull
	}
}

// Len 返回等待中的批次数。
func (q *Queue) Len() int { return len(q.batches) }

// Cap 返回队列容量。
func (q *Queue) Cap() int { return cap(q.batches) }

// Consume 依次取出批次并在池上执行，直到 ctx 结束。
// 每个批次执行完成后才会取下一个。
func (p *Pool) Consume(ctx context.Context, q *Queue) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case batch := <-q.batches:
			q.metrics.SetQueueDepth(len(q.batches))
			p.runBatch(ctx, batch)
		}
	}
}

func (p *Pool) runBatch(ctx context.Context, batch Batch) {
	logger := p.logger.With(zap.String("request", batch.ID))
	symbols := exchange.NormalizeSymbols(batch.Symbols, p.opts.QuoteAsset)
	if len(symbols) == 0 {
		logger.Warn("请求中没有有效标的，已忽略", zap.Strings("raw", batch.Symbols))
		return
	}

	logger.Info("开始执行批次",
		zap.Int("symbols", len(symbols)),
		zap.Duration("queued", time.Since(batch.ReceivedAt)),
	)
	report := p.Execute(ctx, symbols)
	logger.Info("批次执行完成",
		zap.String("batch", report.ID),
		zap.String("outcome", string(report.Outcome)),
	)
}
