package app

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"mint-trader/internal/account"
	"mint-trader/internal/exchange"
	"mint-trader/internal/execution"
	"mint-trader/internal/monitor"
)

type batchSubmitter interface {
	Submit(symbols []string) (execution.Batch, error)
	Len() int
	Cap() int
}

type accountPool interface {
	Snapshots() []account.Snapshot
	CancelAll(ctx context.Context, pairs []string) error
}

type eventLister interface {
	ListEvents(ctx context.Context, filter monitor.Filter) ([]monitor.Event, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// createOrderRequest 为 POST /create_order 的请求体。
type createOrderRequest struct {
	Tokens []string `json:"tokens" binding:"required,min=1"`
}

// server 为 HTTP 入口。下单请求只入队，账户状态从快照读取。
type server struct {
	router   *gin.Engine
	queue    batchSubmitter
	accounts accountPool
	events   eventLister
	db       pinger
	quote    string
	logger   *zap.Logger
}

func newServer(queue batchSubmitter, accounts accountPool, quote string, events eventLister, db pinger, gatherer prometheus.Gatherer, logger *zap.Logger) *server {
	if logger == nil {
		logger = zap.NewNop()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))

	s := &server{
		router:   router,
		queue:    queue,
		accounts: accounts,
		events:   events,
		db:       db,
		quote:    quote,
		logger:   logger,
	}

	router.POST("/create_order", s.createOrder)
	router.POST("/cancel_orders", s.cancelOrders)
	router.GET("/accounts", s.listAccounts)
	router.GET("/events", s.listEvents)
	router.GET("/health", s.health)
	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	return s
}

func bindTokens(c *gin.Context) ([]string, bool) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求体必须为 {\"tokens\": [...]} 且至少包含一个标的"})
		return nil, false
	}

	tokens := make([]string, 0, len(req.Tokens))
	for _, t := range req.Tokens {
		if t = strings.TrimSpace(t); t != "" {
			tokens = append(tokens, t)
		}
	}
	if len(tokens) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tokens 不能为空"})
		return nil, false
	}
	return tokens, true
}

func (s *server) createOrder(c *gin.Context) {
	tokens, ok := bindTokens(c)
	if !ok {
		return
	}

	batch, err := s.queue.Submit(tokens)
	if err != nil {
		if errors.Is(err, execution.ErrQueueFull) {
			s.logger.Warn("批次队列已满，拒绝请求", zap.Strings("tokens", tokens))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"request_id": batch.ID,
		"tokens":     batch.Symbols,
		"queued":     s.queue.Len(),
	})
}

// cancelOrders 等待当前批次结束后撤销所有账户在给定标的上的挂单。
func (s *server) cancelOrders(c *gin.Context) {
	tokens, ok := bindTokens(c)
	if !ok {
		return
	}

	pairs := make([]string, 0, len(tokens))
	for _, sym := range exchange.NormalizeSymbols(tokens, s.quote) {
		pairs = append(pairs, sym.Pair)
	}
	if err := s.accounts.CancelAll(c.Request.Context(), pairs); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"pairs": pairs, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pairs": pairs})
}

func (s *server) listAccounts(c *gin.Context) {
	snaps := append([]account.Snapshot(nil), s.accounts.Snapshots()...)
	if c.Query("orders") != "true" {
		for i := range snaps {
			snaps[i].Orders = nil
		}
	}
	if snaps == nil {
		snaps = []account.Snapshot{}
	}
	c.JSON(http.StatusOK, snaps)
}

func (s *server) listEvents(c *gin.Context) {
	if s.events == nil {
		c.JSON(http.StatusOK, []monitor.Event{})
		return
	}

	limit := 200
	if qs := c.Query("limit"); qs != "" {
		if v, err := strconv.Atoi(qs); err == nil && v > 0 {
			limit = min(v, 1000)
		}
	}

	filter := monitor.Filter{
		Type:    monitor.EventType(strings.ToLower(strings.TrimSpace(c.Query("type")))),
		BatchID: strings.TrimSpace(c.Query("batch")),
		Limit:   limit,
	}
	events, err := s.events.ListEvents(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, events)
}

func (s *server) health(c *gin.Context) {
	alive := 0
	snaps := s.accounts.Snapshots()
	for _, snap := range snaps {
		if snap.Alive {
			alive++
		}
	}

	body := gin.H{
		"accounts":       len(snaps),
		"alive_accounts": alive,
		"queued":         s.queue.Len(),
		"queue_capacity": s.queue.Cap(),
	}

	status := http.StatusOK
	if s.db != nil {
		if err := s.db.Ping(c.Request.Context()); err != nil {
			status = http.StatusServiceUnavailable
			body["database"] = err.Error()
		}
	}
	if len(snaps) > 0 && alive == 0 {
		status = http.StatusServiceUnavailable
	}

	body["status"] = http.StatusText(status)
	c.JSON(status, body)
}

// serve 在 ctx 结束前持续提供 HTTP 服务，结束时优雅关闭。
func (s *server) serve(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP 入口已启动", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("关闭 HTTP 服务失败", zap.Error(err))
		return err
	}
	return nil
}
