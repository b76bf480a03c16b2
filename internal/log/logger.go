package log

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"mint-trader/internal/config"
)

const serviceName = "mint-trader"

// NewLogger 根据配置创建 zap.Logger，所有日志携带 service 与 env 字段。
func NewLogger(cfg config.LoggingConfig, environment string) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if err := level.Set(strings.ToLower(cfg.Level)); err != nil {
		return nil, fmt.Errorf("解析日志级别失败: %w", err)
	}

	encoding := cfg.Encoding
	if encoding == "" {
		encoding = "console"
	}
	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}
	errorOutputs := cfg.ErrorOutputPaths
	if len(errorOutputs) == 0 {
		errorOutputs = []string{"stderr"}
	}

	fields := map[string]interface{}{"service": serviceName}
	if environment != "" {
		fields["env"] = environment
	}

	zapCfg := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       cfg.Development,
		DisableStacktrace: !cfg.Development,
		Encoding:          encoding,
		EncoderConfig:     encoderConfig(encoding),
		OutputPaths:       outputs,
		ErrorOutputPaths:  errorOutputs,
		InitialFields:     fields,
	}

	logger, err := zapCfg.Build(zap.AddCaller())
	if err != nil {
		return nil, fmt.Errorf("创建日志实例失败: %w", err)
	}
	return logger, nil
}

// console 输出带颜色的级别，json 输出纯文本级别以便采集。
func encoderConfig(encoding string) zapcore.EncoderConfig {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "ts"
	enc.NameKey = "logger"
	enc.CallerKey = "caller"
	enc.FunctionKey = zapcore.OmitKey
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeDuration = zapcore.StringDurationEncoder
	enc.EncodeCaller = zapcore.ShortCallerEncoder
	enc.EncodeLevel = zapcore.CapitalLevelEncoder
	if encoding == "console" {
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return enc
}

// ForAccount 为单个账户派生带名称字段的日志实例。
func ForAccount(logger *zap.Logger, name string) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger.Named("account").With(zap.String("account", name))
}

// ForBatch 为一个执行批次派生日志实例。
func ForBatch(logger *zap.Logger, batchID string) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger.Named("batch").With(zap.String("batch", batchID))
}
