package config

import (
	"errors"
	"fmt"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "mint"
)

// Load 读取配置文件并结合环境变量返回 Config。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: 未找到配置文件 %q: %w", ErrConfig, path, err)
		}
		return nil, fmt.Errorf("%w: 读取配置文件失败: %w", ErrConfig, err)
	}

	return decode(v)
}

// Defaults 返回仅由默认值与环境变量构成的配置，主要用于测试和无配置文件启动。
func Defaults() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("%w: 解析配置失败: %w", ErrConfig, err)
	}
	if cfg.Exchange.Denomination == "" {
		cfg.Exchange.Denomination = cfg.Exchange.QuoteAsset
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("exchange.name", "kucoin")
	v.SetDefault("exchange.quote_asset", "BTC")
	v.SetDefault("exchange.use_sandbox", false)
	v.SetDefault("exchange.retry.max_attempts", 3)
	v.SetDefault("exchange.retry.min_delay", "200ms")
	v.SetDefault("exchange.retry.max_delay", "2s")

	v.SetDefault("credentials.path", "configs/settings.json")

	v.SetDefault("trading.balance_fraction", 0.1)
	v.SetDefault("trading.take_profit_fraction", 0.1)
	v.SetDefault("trading.initial_account_health", 10)
	v.SetDefault("trading.initial_order_health", 3)
	v.SetDefault("trading.quantity_source", "order")

	v.SetDefault("settlement.retry_interval", "50ms")
	v.SetDefault("settlement.max_rounds", 0)
	v.SetDefault("settlement.concurrency", 0)

	v.SetDefault("refresh.interval", "600s")

	v.SetDefault("queue.capacity", 200)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", "5s")

	v.SetDefault("database.path", "data/mint.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})

	v.SetDefault("metrics.enabled", true)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
