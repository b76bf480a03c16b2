package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// ErrConfig 标记启动阶段的致命配置错误。
var ErrConfig = errors.New("config error")

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Exchange    ExchangeConfig    `mapstructure:"exchange"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Trading     TradingConfig     `mapstructure:"trading"`
	Settlement  SettlementConfig  `mapstructure:"settlement"`
	Refresh     RefreshConfig     `mapstructure:"refresh"`
	Queue       QueueConfig       `mapstructure:"queue"`
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// ExchangeConfig 描述交易所连接信息。
type ExchangeConfig struct {
	Name string `mapstructure:"name"`
	// Denomination 为空时取 QuoteAsset，两者必须一致。
	Denomination string      `mapstructure:"denomination"`
	QuoteAsset   string      `mapstructure:"quote_asset"`
	UseSandbox   bool        `mapstructure:"use_sandbox"`
	Retry        RetryConfig `mapstructure:"retry"`
}

// RetryConfig 统一控制交易所调用的重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// CredentialsConfig 指向账户凭证文件。
type CredentialsConfig struct {
	Path string `mapstructure:"path"`
}

// TradingConfig 控制买入资金比例与止盈幅度。
type TradingConfig struct {
	BalanceFraction      float64 `mapstructure:"balance_fraction"`
	TakeProfitFraction   float64 `mapstructure:"take_profit_fraction"`
	InitialAccountHealth int     `mapstructure:"initial_account_health"`
	InitialOrderHealth   int     `mapstructure:"initial_order_health"`
	// QuantitySource 为 order（按成交量）或 balance（按现货余额）。
	QuantitySource string `mapstructure:"quantity_source"`
}

// SettlementConfig 控制挂止盈单的轮询节奏。
// MaxRounds 为 0 表示不设上限，仅依赖账户与订单的健康值熔断。
type SettlementConfig struct {
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	MaxRounds     int           `mapstructure:"max_rounds"`
	Concurrency   int           `mapstructure:"concurrency"`
}

// RefreshConfig 控制后台刷新周期。
type RefreshConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// QueueConfig 控制批次队列容量。
type QueueConfig struct {
	Capacity int `mapstructure:"capacity"`
}

// ServerConfig 控制 HTTP 入口。
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// MetricsConfig 控制 prometheus 指标。
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Exchange.Name == "" {
		err = multierr.Append(err, errors.New("exchange.name 不能为空"))
	}
	if c.Exchange.Denomination == "" {
		err = multierr.Append(err, errors.New("exchange.denomination 不能为空"))
	}
	if c.Exchange.QuoteAsset == "" {
		err = multierr.Append(err, errors.New("exchange.quote_asset 不能为空"))
	}
	if c.Exchange.Denomination != "" && c.Exchange.QuoteAsset != "" &&
		!strings.EqualFold(c.Exchange.Denomination, c.Exchange.QuoteAsset) {
		err = multierr.Append(err, fmt.Errorf("exchange.denomination (%s) 必须与 quote_asset (%s) 一致", c.Exchange.Denomination, c.Exchange.QuoteAsset))
	}
	if c.Exchange.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.max_attempts 必须大于0"))
	}
	if c.Exchange.Retry.MinDelay <= 0 || c.Exchange.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.delay 必须为正"))
	}
	if c.Exchange.Retry.MinDelay > c.Exchange.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("exchange.retry.min_delay 不能大于 max_delay"))
	}
	if c.Credentials.Path == "" {
		err = multierr.Append(err, errors.New("credentials.path 不能为空"))
	}
	if c.Trading.BalanceFraction <= 0 || c.Trading.BalanceFraction > 1 {
		err = multierr.Append(err, errors.New("trading.balance_fraction 必须位于(0,1]"))
	}
	if c.Trading.TakeProfitFraction <= 0 {
		err = multierr.Append(err, errors.New("trading.take_profit_fraction 必须大于0"))
	}
	if c.Trading.InitialAccountHealth <= 0 {
		err = multierr.Append(err, errors.New("trading.initial_account_health 必须大于0"))
	}
	if c.Trading.InitialOrderHealth <= 0 {
		err = multierr.Append(err, errors.New("trading.initial_order_health 必须大于0"))
	}
	if c.Trading.QuantitySource != "order" && c.Trading.QuantitySource != "balance" {
		err = multierr.Append(err, fmt.Errorf("trading.quantity_source 不支持: %q", c.Trading.QuantitySource))
	}
	if c.Settlement.RetryInterval <= 0 {
		err = multierr.Append(err, errors.New("settlement.retry_interval 必须大于0"))
	}
	if c.Settlement.MaxRounds < 0 {
		err = multierr.Append(err, errors.New("settlement.max_rounds 不能为负"))
	}
	if c.Settlement.Concurrency < 0 {
		err = multierr.Append(err, errors.New("settlement.concurrency 不能为负"))
	}
	if c.Refresh.Interval <= 0 {
		err = multierr.Append(err, errors.New("refresh.interval 必须大于0"))
	}
	if c.Queue.Capacity <= 0 {
		err = multierr.Append(err, errors.New("queue.capacity 必须大于0"))
	}
	if c.Server.Addr == "" {
		err = multierr.Append(err, errors.New("server.addr 不能为空"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}

	if err != nil {
		return fmt.Errorf("%w: 配置校验失败: %w", ErrConfig, err)
	}

	return nil
}
