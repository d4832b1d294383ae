package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// 默认上游 (Google Public DNS)
const (
	DefaultDNSQueryURL    = "https://dns.google/dns-query"
	DefaultResolveURL     = "https://dns.google/resolve"
	DefaultClientIPHeader = "CF-Connecting-IP"
)

// Config 主配置结构
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	ClientIP ClientIPConfig `yaml:"client_ip"`
	Upstream UpstreamConfig `yaml:"upstream"`
	ECS      ECSConfig      `yaml:"ecs"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Listen       string        `yaml:"listen"`
	TLS          TLSConfig     `yaml:"tls"`
	HTTP2        HTTP2Config   `yaml:"http2"`
	DNSPaths     []DNSPath     `yaml:"dns_paths"`
	MaxQuerySize int           `yaml:"max_query_size"` // POST 请求体上限
	Banner       string        `yaml:"banner"`         // 非 DNS 请求的响应文本
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// TLSConfig TLS 配置
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// HTTP2Config HTTP/2 配置 (未启用 TLS 时使用 h2c)
type HTTP2Config struct {
	Enabled bool `yaml:"enabled"`
}

// DNSPath DNS 查询路径配置
type DNSPath struct {
	Path    string `yaml:"path"`
	Enabled bool   `yaml:"enabled"`
}

// ClientIPConfig 客户端地址来源配置
type ClientIPConfig struct {
	Header             string   `yaml:"header"`               // 边缘代理写入的客户端地址头
	TrustedProxies     []string `yaml:"trusted_proxies"`      // 允许设置该头的对端 (IP 或 CIDR)
	FallbackRemoteAddr bool     `yaml:"fallback_remote_addr"` // 头缺失时使用连接对端地址
}

// TrustsAnyPeer 未配置可信代理时任意对端都能设置客户端地址头
func (c ClientIPConfig) TrustsAnyPeer() bool {
	return len(c.TrustedProxies) == 0
}

// UpstreamConfig 上游配置
type UpstreamConfig struct {
	DNSQueryURL string        `yaml:"dns_query_url"` // RFC 8484 wire-format 端点
	ResolveURL  string        `yaml:"resolve_url"`   // JSON API 端点
	Timeout     time.Duration `yaml:"timeout"`
	HTTP2       bool          `yaml:"http2"`
	Proxy       *ProxyConfig  `yaml:"proxy"`

	// ECHConfigList Base64 编码的 ECHConfigList, 启用后上游 TLS 使用 ECH
	ECHConfigList string `yaml:"ech_config_list"`
}

// ProxyConfig 代理配置
type ProxyConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Type     string `yaml:"type"`     // http 或 socks5
	Address  string `yaml:"address"`  // host:port
	Username string `yaml:"username"` // 可选
	Password string `yaml:"password"` // 可选
}

// ECSConfig EDNS Client Subnet 配置
type ECSConfig struct {
	Enabled *bool `yaml:"enabled"` // 默认启用
}

// IsEnabled 返回是否注入 ECS
func (e ECSConfig) IsEnabled() bool {
	return e.Enabled == nil || *e.Enabled
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level      string   `yaml:"level"`  // debug, info, warn, error
	Format     string   `yaml:"format"` // json 或 console
	Output     string   `yaml:"output"` // stdout, stderr 或文件路径
	Fields     []string `yaml:"fields"` // 要输出的字段
	MaxSizeMB  int      `yaml:"max_size_mb"`
	MaxBackups int      `yaml:"max_backups"`
	MaxAgeDays int      `yaml:"max_age_days"`
	Compress   bool     `yaml:"compress"`
}

// Load 从文件加载配置
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return Parse(data)
}

// Parse 解析 YAML 配置, 填充默认值并校验
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// 设置默认值
	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default 返回仅包含默认值的配置
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

// Validate 校验配置
func (c *Config) Validate() error {
	if err := validateUpstreamURL("upstream.dns_query_url", c.Upstream.DNSQueryURL); err != nil {
		return err
	}
	if err := validateUpstreamURL("upstream.resolve_url", c.Upstream.ResolveURL); err != nil {
		return err
	}

	if c.Server.TLS.Enabled && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
		return errors.New("server.tls: cert_file and key_file are required")
	}

	for _, p := range c.Server.DNSPaths {
		if !strings.HasPrefix(p.Path, "/") {
			return fmt.Errorf("server.dns_paths: %q must start with /", p.Path)
		}
	}

	if c.Upstream.ECHConfigList != "" {
		if _, err := base64.StdEncoding.DecodeString(c.Upstream.ECHConfigList); err != nil {
			return fmt.Errorf("upstream.ech_config_list: %w", err)
		}
	}

	if p := c.Upstream.Proxy; p != nil && p.Enabled {
		switch p.Type {
		case "http", "https", "socks5":
		default:
			return fmt.Errorf("upstream.proxy: unsupported type %q", p.Type)
		}
		if p.Address == "" {
			return errors.New("upstream.proxy: address is required")
		}
	}

	return nil
}

func validateUpstreamURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("%s: unsupported scheme %q", key, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%s: missing host", key)
	}
	return nil
}

// setDefaults 设置默认值
func setDefaults(cfg *Config) {
	// 服务器默认值
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = ":443"
	}

	if len(cfg.Server.DNSPaths) == 0 {
		cfg.Server.DNSPaths = []DNSPath{
			{Path: "/dns-query", Enabled: true},
		}
	}

	if cfg.Server.MaxQuerySize == 0 {
		cfg.Server.MaxQuerySize = 65535 // DNS 最大消息大小
	}
	if cfg.Server.Banner == "" {
		cfg.Server.Banner = "DNS-over-HTTPS endpoint with EDNS Client Subnet\n"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 15 * time.Second
	}

	// 客户端地址默认值
	if cfg.ClientIP.Header == "" {
		cfg.ClientIP.Header = DefaultClientIPHeader
	}

	// 上游默认值
	if cfg.Upstream.DNSQueryURL == "" {
		cfg.Upstream.DNSQueryURL = DefaultDNSQueryURL
	}
	if cfg.Upstream.ResolveURL == "" {
		cfg.Upstream.ResolveURL = DefaultResolveURL
	}
	if cfg.Upstream.Timeout == 0 {
		cfg.Upstream.Timeout = 5 * time.Second
	}

	// 日志默认值
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
	if len(cfg.Logging.Fields) == 0 {
		cfg.Logging.Fields = []string{
			"timestamp", "client_ip", "method", "path",
			"query_name", "query_type", "ecs_subnet", "ecs_action",
			"upstream", "status", "latency_ms",
		}
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 100
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 3
	}
	if cfg.Logging.MaxAgeDays == 0 {
		cfg.Logging.MaxAgeDays = 28
	}
}
