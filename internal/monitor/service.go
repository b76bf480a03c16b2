package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mint-trader/internal/account"
	"mint-trader/internal/execution"
	"mint-trader/internal/store"
)

// Service 负责持久化执行事件。
type Service struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ execution.Recorder = (*Service)(nil)

// NewService 初始化监控服务，创建所需表结构。
func NewService(store *store.Store, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("monitor: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		db:     store.DB(),
		logger: logger,
	}

	if err := s.initSchema(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Service) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS execution_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	batch_id TEXT NOT NULL DEFAULT '',
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_execution_events_type ON execution_events(event_type);
CREATE INDEX IF NOT EXISTS idx_execution_events_batch ON execution_events(batch_id);
`
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("monitor: 初始化表失败: %w", err)
	}
	return nil
}

// Record 写入单个事件。
func (s *Service) Record(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("monitor: 序列化事件失败: %w", err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO execution_events (event_type, batch_id, payload, created_at) VALUES (?, ?, ?, ?)`,
		string(event.Type), event.BatchID, string(payload), event.Timestamp.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("monitor: 写入事件失败: %w", err)
	}

	return nil
}

// record 在批次被取消后依然写入事件。
func (s *Service) record(ctx context.Context, typ EventType, batchID string, payload interface{}) {
	if err := s.Record(context.WithoutCancel(ctx), Event{
		Type:      typ,
		BatchID:   batchID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}); err != nil {
		s.logger.Warn("记录监控事件失败", zap.String("type", string(typ)), zap.Error(err))
	}
}

// RecordBuys 记录批次的买入阶段。
func (s *Service) RecordBuys(ctx context.Context, batchID string, results []account.BuyResult) {
	outcomes := make([]BuyOutcome, 0, len(results))
	for _, r := range results {
		outcomes = append(outcomes, BuyOutcome{
			Account: r.Account,
			Placed:  r.Placed,
			Failed:  r.Failed,
			Skipped: r.Skipped,
			Error:   errString(r.Err),
		})
	}
	s.record(ctx, EventBuy, batchID, BuyPayload{Accounts: outcomes})
}

// RecordPass 记录一轮止盈挂单。
func (s *Service) RecordPass(ctx context.Context, batchID string, round int, results []account.PassResult) {
	outcomes := make([]PassOutcome, 0, len(results))
	for _, r := range results {
		outcomes = append(outcomes, PassOutcome{
			Account:     r.Account,
			Finished:    r.Finished,
			Sold:        r.Sold,
			QueryErrors: r.QueryErrors,
			SellErrors:  r.SellErrors,
			Purged:      r.Purged,
			Error:       errString(r.Err),
		})
	}
	s.record(ctx, EventSettlement, batchID, SettlementPayload{Round: round, Accounts: outcomes})
}

// RecordBatch 记录批次摘要。
func (s *Service) RecordBatch(ctx context.Context, report execution.BatchReport) {
	s.record(ctx, EventBatch, report.ID, BatchPayload{Report: report})
}

// RecordRefresh 记录账户刷新。
func (s *Service) RecordRefresh(ctx context.Context, snapshots []account.Snapshot, err error) {
	s.record(ctx, EventRefresh, "", RefreshPayload{Accounts: snapshots, Error: errString(err)})
}

// RecordError 记录异常。
func (s *Service) RecordError(ctx context.Context, msg string, err error, ctxMap map[string]interface{}) {
	s.record(ctx, EventError, "", ErrorPayload{
		Message: msg,
		Error:   errString(err),
		Context: ctxMap,
	})
}

// Filter 为事件检索条件，零值表示不过滤。
type Filter struct {
	Type    EventType
	BatchID string
	Limit   int
}

// ListEvents 按条件检索最近事件，按写入顺序倒序返回。
func (s *Service) ListEvents(ctx context.Context, filter Filter) ([]Event, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT event_type, batch_id, payload, created_at FROM execution_events WHERE 1=1`
	args := make([]interface{}, 0, 3)
	if filter.Type != "" {
		query += ` AND event_type = ?`
		args = append(args, string(filter.Type))
	}
	if filter.BatchID != "" {
		query += ` AND batch_id = ?`
		args = append(args, filter.BatchID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var (
			typ     string
			batchID string
			payload string
			created string
		)
		if scanErr := rows.Scan(&typ, &batchID, &payload, &created); scanErr != nil {
			return nil, fmt.Errorf("monitor: 解析事件失败: %w", scanErr)
		}

		ts, parseErr := time.Parse(time.RFC3339Nano, created)
		if parseErr != nil {
			ts = time.Now().UTC()
		}

		events = append(events, Event{
			Type:      EventType(typ),
			BatchID:   batchID,
			Timestamp: ts,
			Payload:   json.RawMessage(payload),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 读取事件失败: %w", err)
	}

	return events, nil
}
