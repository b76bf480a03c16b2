package monitor

import (
	"time"

	"mint-trader/internal/account"
	"mint-trader/internal/execution"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventBuy        EventType = "buy"
	EventSettlement EventType = "settlement_pass"
	EventBatch      EventType = "batch"
	EventRefresh    EventType = "refresh"
	EventError      EventType = "error"
)

// Event 封装通用监控事件。
type Event struct {
	Type      EventType   `json:"type"`
	BatchID   string      `json:"batch_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// BuyOutcome 为单个账户的买入结果。
type BuyOutcome struct {
	Account string `json:"account"`
	Placed  int    `json:"placed"`
	Failed  int    `json:"failed"`
	Skipped int    `json:"skipped"`
	Error   string `json:"error,omitempty"`
}

// BuyPayload 记录一个批次的买入阶段。
type BuyPayload struct {
	Accounts []BuyOutcome `json:"accounts"`
}

// PassOutcome 为单个账户的一轮挂单结果。
type PassOutcome struct {
	Account     string `json:"account"`
	Finished    bool   `json:"finished"`
	Sold        int    `json:"sold"`
	QueryErrors int    `json:"query_errors"`
	SellErrors  int    `json:"sell_errors"`
	Purged      int    `json:"purged"`
	Error       string `json:"error,omitempty"`
}

// SettlementPayload 记录一轮止盈挂单。
type SettlementPayload struct {
	Round    int           `json:"round"`
	Accounts []PassOutcome `json:"accounts"`
}

// BatchPayload 记录批次结束时的摘要。
type BatchPayload struct {
	Report execution.BatchReport `json:"report"`
}

// RefreshPayload 追踪刷新后的账户状态。
type RefreshPayload struct {
	Accounts []account.Snapshot `json:"accounts"`
	Error    string             `json:"error,omitempty"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
