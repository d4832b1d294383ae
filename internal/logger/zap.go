package logger

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger 封装 Zap 日志
type Logger struct {
	*zap.SugaredLogger
	config *Config
	fields map[string]bool
	closer io.Closer
}

// Config 日志配置
type Config struct {
	Level  string
	Format string
	Output string // stdout, stderr 或文件路径
	Fields []string

	// 文件输出的滚动参数
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// New 创建新的日志实例
func New(cfg *Config) (*Logger, error) {
	var (
		out    io.Writer
		closer io.Closer
	)
	switch cfg.Output {
	case "", "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		// 文件输出按大小滚动
		rotator := &lumberjack.Logger{
			Filename:   cfg.Output,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
			LocalTime:  true,
		}
		out, closer = rotator, rotator
	}

	l := NewWithWriter(cfg, out)
	l.closer = closer
	return l, nil
}

// NewWithWriter 创建写入指定 io.Writer 的日志实例
func NewWithWriter(cfg *Config, w io.Writer) *Logger {
	// 解析日志级别
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	// 配置编码器
	var encoder zapcore.Encoder
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	if cfg.Format == "console" {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(w), level)
	logger := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))

	fields := make(map[string]bool, len(cfg.Fields))
	for _, f := range cfg.Fields {
		fields[f] = true
	}

	return &Logger{
		SugaredLogger: logger.Sugar(),
		config:        cfg,
		fields:        fields,
	}
}

// Sync 刷新日志缓冲并关闭日志文件
func (l *Logger) Sync() error {
	err := l.SugaredLogger.Sync()
	if l.closer != nil {
		if cerr := l.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// IsFieldEnabled 检查字段是否启用
func (l *Logger) IsFieldEnabled(field string) bool {
	return l.fields[field]
}

// DNSRequestFields DNS 请求日志字段
type DNSRequestFields struct {
	Timestamp string
	ClientIP  string
	Method    string
	Path      string
	QueryName string
	QueryType string
	ECSSubnet string
	ECSAction string
	ECSReason string
	Upstream  string
	Status    int
	LatencyMs int64
}

// LogDNSRequest 记录 DNS 请求日志, 只输出配置中启用的字段
func (l *Logger) LogDNSRequest(fields *DNSRequestFields) {
	all := []struct {
		key   string
		value interface{}
	}{
		{"timestamp", fields.Timestamp},
		{"client_ip", fields.ClientIP},
		{"method", fields.Method},
		{"path", fields.Path},
		{"query_name", fields.QueryName},
		{"query_type", fields.QueryType},
		{"ecs_subnet", fields.ECSSubnet},
		{"ecs_action", fields.ECSAction},
		{"ecs_reason", fields.ECSReason},
		{"upstream", fields.Upstream},
		{"status", fields.Status},
		{"latency_ms", fields.LatencyMs},
	}

	args := make([]interface{}, 0, 2*len(all))
	for _, f := range all {
		if l.IsFieldEnabled(f.key) {
			args = append(args, f.key, f.value)
		}
	}

	l.Infow("dns_request", args...)
}
