package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"mint-trader/internal/account"
)

const namespace = "mint"

// Metrics 汇总账户与批次执行指标。nil 接收者上的所有方法均为空操作。
type Metrics struct {
	accountHealth *prometheus.GaugeVec
	accountAlive  *prometheus.GaugeVec
	accountOrders *prometheus.GaugeVec
	balance       *prometheus.GaugeVec
	buys          *prometheus.CounterVec
	sells         *prometheus.CounterVec
	queryErrors   prometheus.Counter
	batches       *prometheus.CounterVec
	rounds        prometheus.Histogram
	queueDepth    prometheus.Gauge
}

// New 创建指标并注册到 reg；reg 为 nil 时只创建不注册。
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		accountHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "account_health",
			Help:      "Remaining failure budget per account.",
		}, []string{"account"}),
		accountAlive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "account_alive",
			Help:      "1 when the account is still trading.",
		}, []string{"account"}),
		accountOrders: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "account_open_orders",
			Help:      "Tracked positions waiting for a take-profit order.",
		}, []string{"account"}),
		balance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "account_balance",
			Help:      "Last fetched balance in the settlement denomination.",
		}, []string{"account"}),
		buys: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buy_orders_total",
			Help:      "Market buy attempts by result.",
		}, []string{"result"}),
		sells: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "take_profit_orders_total",
			Help:      "Take-profit limit sell attempts by result.",
		}, []string{"result"}),
		queryErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_query_errors_total",
			Help:      "Failed fill lookups during settlement.",
		}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Executed batches by outcome.",
		}, []string{"outcome"}),
		rounds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "settlement_rounds",
			Help:      "Settlement passes needed per batch.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batch_queue_depth",
			Help:      "Batches waiting to be executed.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.accountHealth,
			m.accountAlive,
			m.accountOrders,
			m.balance,
			m.buys,
			m.sells,
			m.queryErrors,
			m.batches,
			m.rounds,
			m.queueDepth,
		)
	}
	return m
}

// ObserveAccounts 刷新账户状态类指标。
func (m *Metrics) ObserveAccounts(snapshots []account.Snapshot) {
	if m == nil {
		return
	}
	for _, s := range snapshots {
		m.accountHealth.WithLabelValues(s.Name).Set(float64(s.Health))
		alive := 0.0
		if s.Alive {
			alive = 1
		}
		m.accountAlive.WithLabelValues(s.Name).Set(alive)
		m.accountOrders.WithLabelValues(s.Name).Set(float64(s.OpenOrders))
		m.balance.WithLabelValues(s.Name).Set(s.Balance)
	}
}

// ObserveBuys 累计买入结果。
func (m *Metrics) ObserveBuys(results []account.BuyResult) {
	if m == nil {
		return
	}
	for _, r := range results {
		m.buys.WithLabelValues("placed").Add(float64(r.Placed))
		m.buys.WithLabelValues("failed").Add(float64(r.Failed))
		m.buys.WithLabelValues("skipped").Add(float64(r.Skipped))
	}
}

// ObservePass 累计一轮挂单结果。
func (m *Metrics) ObservePass(results []account.PassResult) {
	if m == nil {
		return
	}
	for _, r := range results {
		m.sells.WithLabelValues("placed").Add(float64(r.Sold))
		m.sells.WithLabelValues("failed").Add(float64(r.SellErrors))
		m.queryErrors.Add(float64(r.QueryErrors))
	}
}

// ObserveBatch 记录批次结束。
func (m *Metrics) ObserveBatch(outcome string, rounds int) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(outcome).Inc()
	m.rounds.Observe(float64(rounds))
}

// SetQueueDepth 更新队列长度。
func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}
