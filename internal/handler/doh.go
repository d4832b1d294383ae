// Package handler provides HTTP request handlers for the DoH edge.
package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lyimoexiao/ecs-doh/internal/logger"
	"github.com/lyimoexiao/ecs-doh/internal/middleware"
	"github.com/lyimoexiao/ecs-doh/internal/upstream"
	"github.com/lyimoexiao/ecs-doh/pkg/dns"
)

// Forwarder sends DoH requests to the fixed upstream.
type Forwarder interface {
	ForwardGET(ctx context.Context, query url.Values) (*http.Response, error)
	ForwardPOST(ctx context.Context, msg []byte) (*http.Response, error)
	Resolve(ctx context.Context, query url.Values, header http.Header) (*http.Response, error)
	DNSQueryURL() string
	ResolveURL() string
}

// Options configures a DoHHandler.
type Options struct {
	Paths        []string // path prefixes served as DNS endpoints
	MaxQuerySize int
	Banner       string
	ECSEnabled   bool
}

// DoHHandler handles DNS-over-HTTPS requests
type DoHHandler struct {
	upstream     Forwarder
	log          *logger.Logger
	paths        []string
	maxQuerySize int
	banner       string
	ecsEnabled   bool
}

// NewDoHHandler creates a new DoH handler
func NewDoHHandler(up Forwarder, log *logger.Logger, opts Options) *DoHHandler {
	if opts.MaxQuerySize == 0 {
		opts.MaxQuerySize = dns.MaxMessageSize
	}
	if len(opts.Paths) == 0 {
		opts.Paths = []string{"/dns-query"}
	}
	return &DoHHandler{
		upstream:     up,
		log:          log,
		paths:        opts.Paths,
		maxQuerySize: opts.MaxQuerySize,
		banner:       opts.Banner,
		ecsEnabled:   opts.ECSEnabled,
	}
}

// Register installs the health check and the DNS endpoints on r. DNS paths
// are matched by prefix, so they are served from the fallback route.
func (h *DoHHandler) Register(r *gin.Engine) {
	r.GET("/health", h.HandleHealthCheck)
	r.NoRoute(h.Handle)
}

// requestInfo carries what is logged for one request
type requestInfo struct {
	start     time.Time
	queryName string
	queryType string
	upstream  string
	result    dns.Result
}

// Handle dispatches a request on a DNS path by method and headers
func (h *DoHHandler) Handle(c *gin.Context) {
	if !h.matchPath(c.Request.URL.Path) {
		c.Status(http.StatusNotFound)
		return
	}

	req := c.Request
	switch {
	case req.Method == http.MethodGet && req.URL.Query().Has("dns"):
		h.handleWireGET(c)
	case req.Method == http.MethodPost && isMediaType(req.Header.Get("Content-Type"), upstream.ContentTypeDNSMessage):
		h.handleWirePOST(c)
	case req.Method == http.MethodGet && acceptsJSON(req.Header.Get("Accept")):
		h.handleResolve(c)
	default:
		c.String(http.StatusOK, h.banner)
	}
}

// handleWireGET patches the base64url "dns" parameter and forwards it
func (h *DoHHandler) handleWireGET(c *gin.Context) {
	info := &requestInfo{start: time.Now(), upstream: h.upstream.DNSQueryURL()}

	query := c.Request.URL.Query()
	param := query.Get("dns")
	if param == "" {
		h.handleError(c, info, ErrQueryEmpty)
		return
	}
	if len(param) > base64Len(h.maxQuerySize) {
		h.handleError(c, info, ErrQueryTooLarge)
		return
	}

	if h.ecsEnabled {
		param, info.result = dns.InjectECSBase64(param, middleware.GetClientAddress(c))
		query.Set("dns", param)
	} else if msg, err := dns.DecodeBase64URL(param); err == nil {
		info.result = dns.Result{Message: msg, Reason: ErrECSDisabled}
	} else {
		info.result = dns.Result{Reason: err}
	}
	info.describe(info.result.Message)

	resp, err := h.upstream.ForwardGET(c.Request.Context(), query)
	h.relay(c, info, resp, err)
}

// handleWirePOST patches the wire-format body and forwards it
func (h *DoHHandler) handleWirePOST(c *gin.Context) {
	info := &requestInfo{start: time.Now(), upstream: h.upstream.DNSQueryURL()}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, int64(h.maxQuerySize)+1))
	if err != nil {
		h.handleError(c, info, fmt.Errorf("%w: %v", ErrReadBody, err))
		return
	}
	if len(body) == 0 {
		h.handleError(c, info, ErrQueryEmpty)
		return
	}
	if len(body) > h.maxQuerySize {
		h.handleError(c, info, ErrQueryTooLarge)
		return
	}

	if h.ecsEnabled {
		info.result = dns.InjectECS(body, middleware.GetClientAddress(c))
	} else {
		info.result = dns.Result{Message: body, Reason: ErrECSDisabled}
	}
	info.describe(info.result.Message)

	resp, err := h.upstream.ForwardPOST(c.Request.Context(), info.result.Message)
	h.relay(c, info, resp, err)
}

// handleResolve forwards a JSON API query, announcing the client subnet
// through the edns_client_subnet parameter
func (h *DoHHandler) handleResolve(c *gin.Context) {
	info := &requestInfo{start: time.Now(), upstream: h.upstream.ResolveURL()}

	query := c.Request.URL.Query()
	info.queryName = query.Get("name")
	info.queryType = query.Get("type")

	switch {
	case !h.ecsEnabled:
		info.result.Reason = ErrECSDisabled
	case query.Get(upstream.ResolveECSParam) != "":
		info.result.Reason = dns.ErrECSPresent
	default:
		subnet, err := dns.DeriveSubnet(middleware.GetClientAddress(c))
		if err != nil {
			info.result.Reason = err
			break
		}
		query.Set(upstream.ResolveECSParam, subnet.String())
		info.result = dns.Result{Action: dns.ActionPatched, Subnet: subnet}
	}

	resp, err := h.upstream.Resolve(c.Request.Context(), query, c.Request.Header)
	h.relay(c, info, resp, err)
}

// relay copies the upstream status, end-to-end headers and body unchanged
func (h *DoHHandler) relay(c *gin.Context, info *requestInfo, resp *http.Response, err error) {
	if err != nil {
		h.handleError(c, info, err)
		return
	}
	defer resp.Body.Close()

	relayHeader(c.Writer.Header(), resp.Header)
	c.Status(resp.StatusCode)
	c.Writer.WriteHeaderNow()
	if _, err := io.Copy(c.Writer, resp.Body); err != nil {
		h.log.Warnw("failed to relay upstream response",
			"upstream", info.upstream,
			"error", err,
		)
	}

	h.logRequest(c, info, resp.StatusCode)
}

// relayHeader copies upstream end-to-end headers into dst. Headers already
// set by the edge middleware (CORS, X-Request-ID) are kept as they are.
func relayHeader(dst, src http.Header) {
	filtered := make(http.Header, len(src))
	upstream.CopyHeader(filtered, src)
	for k, vv := range filtered {
		if _, owned := dst[k]; owned {
			continue
		}
		dst[k] = vv
	}
}

// handleError maps request errors to an HTTP status and JSON body
func (h *DoHHandler) handleError(c *gin.Context, info *requestInfo, err error) {
	var status int
	var errMsg string

	switch {
	case errors.Is(err, ErrQueryEmpty):
		status = http.StatusBadRequest
		errMsg = "DNS query is empty"
	case errors.Is(err, ErrQueryTooLarge):
		status = http.StatusRequestEntityTooLarge
		errMsg = "DNS query is too large"
	case errors.Is(err, ErrReadBody):
		status = http.StatusBadRequest
		errMsg = "failed to read request body"
	case upstream.IsTimeout(err):
		status = http.StatusGatewayTimeout
		errMsg = "upstream DNS timeout"
	default:
		status = http.StatusBadGateway
		errMsg = "upstream request failed"
	}

	if status >= http.StatusInternalServerError {
		h.log.Warnw("upstream error",
			"upstream", info.upstream,
			"request_id", middleware.GetRequestID(c),
			"error", err,
		)
	}

	h.logRequest(c, info, status)
	c.JSON(status, gin.H{"error": errMsg})
}

// logRequest logs request information
func (h *DoHHandler) logRequest(c *gin.Context, info *requestInfo, status int) {
	fields := &logger.DNSRequestFields{
		Timestamp: info.start.UTC().Format(time.RFC3339),
		ClientIP:  middleware.GetClientAddress(c),
		Method:    c.Request.Method,
		Path:      c.Request.URL.Path,
		QueryName: info.queryName,
		QueryType: info.queryType,
		ECSAction: info.result.Action.String(),
		Upstream:  info.upstream,
		Status:    status,
		LatencyMs: time.Since(info.start).Milliseconds(),
	}
	if info.result.Subnet != nil {
		fields.ECSSubnet = info.result.Subnet.String()
	}
	if info.result.Reason != nil {
		fields.ECSReason = info.result.Reason.Error()
	}

	h.log.LogDNSRequest(fields)
}

// HandleHealthCheck handles health check endpoint
func (h *DoHHandler) HandleHealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// describe records the query name and type of msg for logging
func (info *requestInfo) describe(msg []byte) {
	if msg == nil {
		return
	}
	q, err := dns.ParseQuestion(msg)
	if err != nil {
		return
	}
	info.queryName = q.Name
	info.queryType = dns.TypeToString(q.Type)
}

func (h *DoHHandler) matchPath(path string) bool {
	for _, p := range h.paths {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// isMediaType reports whether a Content-Type header names want, ignoring
// parameters and case
func isMediaType(header, want string) bool {
	mt, _, err := mime.ParseMediaType(header)
	return err == nil && mt == want
}

// acceptsJSON reports whether an Accept header lists application/dns-json
func acceptsJSON(accept string) bool {
	for _, part := range strings.Split(accept, ",") {
		if isMediaType(strings.TrimSpace(part), upstream.ContentTypeDNSJSON) {
			return true
		}
	}
	return false
}

// base64Len is the longest base64url text of an n byte message, padding
// included
func base64Len(n int) int {
	return (n + 2) / 3 * 4
}

// Error definitions
var (
	ErrQueryEmpty    = errors.New("dns query is empty")
	ErrQueryTooLarge = errors.New("dns query is too large")
	ErrReadBody      = errors.New("failed to read request body")
	ErrECSDisabled   = errors.New("ecs injection disabled")
)
