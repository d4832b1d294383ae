package upstream

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/http2"

	"github.com/lyimoexiao/ecs-doh/internal/config"
	"github.com/lyimoexiao/ecs-doh/internal/proxy"
)

// DoH 媒体类型
const (
	ContentTypeDNSMessage = "application/dns-message"
	ContentTypeDNSJSON    = "application/dns-json"
)

// ResolveECSParam JSON API 的客户端子网参数名
const ResolveECSParam = "edns_client_subnet"

// ErrUpstream 上游请求失败
var ErrUpstream = errors.New("upstream request failed")

// addressHeaders 携带客户端地址的请求头, JSON 查询转发前移除,
// 上游只能看到截断后的 edns_client_subnet
var addressHeaders = []string{
	"CF-Connecting-IP",
	"CF-Connecting-IPv6",
	"True-Client-IP",
	"X-Forwarded-For",
	"X-Real-IP",
	"X-Client-IP",
	"Forwarded",
}

// Client 固定上游的 DoH 客户端
type Client struct {
	dnsQueryURL  *url.URL
	resolveURL   *url.URL
	httpClient   *http.Client
	proxyMgr     *proxy.Manager
	stripHeaders []string
}

// ClientOption 上游客户端选项
type ClientOption func(*Client)

// WithStripHeaders 追加转发前需要移除的请求头 (如配置的客户端地址头)
func WithStripHeaders(headers ...string) ClientOption {
	return func(c *Client) {
		for _, h := range headers {
			if h != "" {
				c.stripHeaders = append(c.stripHeaders, http.CanonicalHeaderKey(h))
			}
		}
	}
}

// NewClient 创建上游客户端
func NewClient(cfg *config.UpstreamConfig, proxyMgr *proxy.Manager, opts ...ClientOption) (*Client, error) {
	dnsQueryURL, err := url.Parse(cfg.DNSQueryURL)
	if err != nil {
		return nil, fmt.Errorf("invalid dns_query_url: %w", err)
	}
	resolveURL, err := url.Parse(cfg.ResolveURL)
	if err != nil {
		return nil, fmt.Errorf("invalid resolve_url: %w", err)
	}

	if proxyMgr == nil {
		if proxyMgr, err = proxy.NewManager(nil); err != nil {
			return nil, err
		}
	}

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}
	if cfg.ECHConfigList != "" {
		list, err := base64.StdEncoding.DecodeString(cfg.ECHConfigList)
		if err != nil {
			return nil, fmt.Errorf("invalid ech_config_list: %w", err)
		}
		// ECH 需要 TLS 1.3
		tlsConfig.MinVersion = tls.VersionTLS13
		tlsConfig.EncryptedClientHelloConfigList = list
	}

	transport := &http.Transport{
		TLSClientConfig:       tlsConfig,
		DisableCompression:    true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	proxyMgr.ConfigureTransport(transport)

	if cfg.HTTP2 {
		if _, err := http2.ConfigureTransports(transport); err != nil {
			return nil, fmt.Errorf("failed to configure HTTP/2: %w", err)
		}
	}

	c := &Client{
		dnsQueryURL: dnsQueryURL,
		resolveURL:  resolveURL,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		proxyMgr:     proxyMgr,
		stripHeaders: append([]string(nil), addressHeaders...),
	}

	// 应用选项
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// ForwardGET 以 RFC 8484 GET 方式转发, query 中包含 dns 参数
func (c *Client) ForwardGET(ctx context.Context, query url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, withQuery(c.dnsQueryURL, query), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", ContentTypeDNSMessage)

	return c.do(req)
}

// ForwardPOST 以 RFC 8484 POST 方式转发 wire-format 查询
func (c *Client) ForwardPOST(ctx context.Context, msg []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.dnsQueryURL.String(), bytes.NewReader(msg))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", ContentTypeDNSMessage)
	req.Header.Set("Accept", ContentTypeDNSMessage)

	return c.do(req)
}

// Resolve 转发 JSON API 查询, 复制客户端请求头 (逐跳头及客户端地址头除外)
func (c *Client) Resolve(ctx context.Context, query url.Values, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, withQuery(c.resolveURL, query), nil)
	if err != nil {
		return nil, err
	}
	CopyHeader(req.Header, header)
	req.Header.Del("Host")
	req.Header.Del("Content-Length")
	for _, h := range c.stripHeaders {
		req.Header.Del(h)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", ContentTypeDNSJSON)
	}

	return c.do(req)
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrUpstream, req.Method, req.URL.Host, err)
	}
	return resp, nil
}

// DNSQueryURL 返回 wire-format 上游地址
func (c *Client) DNSQueryURL() string {
	return c.dnsQueryURL.String()
}

// ResolveURL 返回 JSON API 上游地址
func (c *Client) ResolveURL() string {
	return c.resolveURL.String()
}

// String 返回上游描述
func (c *Client) String() string {
	return "doh://" + c.dnsQueryURL.Host + " via " + c.proxyMgr.String()
}

// withQuery 合并上游 URL 自带参数与请求参数, 请求参数优先
func withQuery(base *url.URL, query url.Values) string {
	u := *base
	q := u.Query()
	for k, v := range query {
		q[k] = v
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// IsTimeout 判断上游错误是否为超时
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
