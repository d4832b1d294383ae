package proxy

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/http/httpproxy"
	netproxy "golang.org/x/net/proxy"

	"github.com/lyimoexiao/ecs-doh/internal/config"
)

// Dialer 代理拨号器接口
type Dialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// Manager 上游出口代理管理器
type Manager struct {
	config    *config.ProxyConfig
	dialer    Dialer
	proxyFunc func(*url.URL) (*url.URL, error) // HTTP CONNECT 代理
}

// NewManager 创建代理管理器
func NewManager(cfg *config.ProxyConfig) (*Manager, error) {
	direct := &net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}
	if cfg == nil || !cfg.Enabled {
		return &Manager{dialer: direct}, nil
	}

	m := &Manager{config: cfg, dialer: direct}

	switch cfg.Type {
	case "http", "https":
		u := proxyURL(cfg)
		m.proxyFunc = (&httpproxy.Config{
			HTTPProxy:  u.String(),
			HTTPSProxy: u.String(),
		}).ProxyFunc()
	case "socks5":
		d, err := netproxy.FromURL(proxyURL(cfg), direct)
		if err != nil {
			return nil, fmt.Errorf("failed to create SOCKS5 proxy dialer: %w", err)
		}
		cd, ok := d.(netproxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("SOCKS5 dialer does not support contexts")
		}
		m.dialer = cd
	default:
		return nil, fmt.Errorf("unsupported proxy type: %s", cfg.Type)
	}

	return m, nil
}

// proxyURL 由配置构建代理 URL (含可选认证信息)
func proxyURL(cfg *config.ProxyConfig) *url.URL {
	u := &url.URL{Scheme: cfg.Type, Host: cfg.Address}
	if cfg.Username != "" {
		u.User = url.UserPassword(cfg.Username, cfg.Password)
	}
	return u
}

// DialContext 通过代理拨号 (SOCKS5) 或直连
func (m *Manager) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	return m.dialer.DialContext(ctx, network, addr)
}

// Enabled 检查代理是否启用
func (m *Manager) Enabled() bool {
	return m.config != nil && m.config.Enabled
}

// String 返回代理描述, 用于日志 (不含密码)
func (m *Manager) String() string {
	if !m.Enabled() {
		return "direct"
	}
	return m.config.Type + "://" + m.config.Address
}

// ConfigureTransport 将代理设置应用到 HTTP 传输
func (m *Manager) ConfigureTransport(t *http.Transport) {
	t.DialContext = m.DialContext
	if m.proxyFunc != nil {
		proxyFunc := m.proxyFunc
		t.Proxy = func(r *http.Request) (*url.URL, error) {
			return proxyFunc(r.URL)
		}
	} else {
		t.Proxy = nil
	}
}
