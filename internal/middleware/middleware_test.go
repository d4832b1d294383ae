package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/lyimoexiao/ecs-doh/internal/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func echoAddressRouter(mw gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(mw)
	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, GetClientAddress(c))
	})
	return r
}

// TestClientAddressMiddleware tests client address extraction
func TestClientAddressMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		trusted    []string
		fallback   bool
		remoteAddr string
		header     string
		want       string
	}{
		{"trusted peer", []string{"10.0.0.0/8"}, false, "10.1.2.3:4444", "203.0.113.77", "203.0.113.77"},
		{"trusted single ip", []string{"127.0.0.1"}, false, "127.0.0.1:4444", "2001:db8::1", "2001:db8::1"},
		{"trust all when empty", nil, false, "198.51.100.1:4444", "203.0.113.77", "203.0.113.77"},
		{"untrusted peer", []string{"10.0.0.0/8"}, false, "198.51.100.1:4444", "203.0.113.77", ""},
		{"untrusted peer fallback", []string{"10.0.0.0/8"}, true, "198.51.100.1:4444", "203.0.113.77", "198.51.100.1"},
		{"missing header", []string{"10.0.0.0/8"}, false, "10.1.2.3:4444", "", ""},
		{"missing header fallback", nil, true, "[2001:db8::9]:4444", "", "2001:db8::9"},
		{"list takes first", nil, false, "10.1.2.3:4444", " 203.0.113.77 , 10.1.2.3", "203.0.113.77"},
		{"invalid trusted entries ignored", []string{"bogus", "10.0.0.0/8"}, false, "10.1.2.3:4444", "203.0.113.77", "203.0.113.77"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := echoAddressRouter(ClientAddressMiddleware(tt.trusted, "CF-Connecting-IP", tt.fallback))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.header != "" {
				req.Header.Set("CF-Connecting-IP", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if got := w.Body.String(); got != tt.want {
				t.Errorf("GetClientAddress = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestCORSMiddleware tests preflight handling
func TestCORSMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(CORSMiddleware())
	r.GET("/dns-query", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/dns-query", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing Access-Control-Allow-Origin")
	}
}

// TestRequestIDMiddleware tests request ID propagation and generation
func TestRequestIDMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, GetRequestID(c)) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Body.String() != "abc" || w.Header().Get("X-Request-ID") != "abc" {
		t.Errorf("request ID = %q / %q, want abc", w.Body.String(), w.Header().Get("X-Request-ID"))
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Body.Len() == 0 {
		t.Error("request ID was not generated")
	}
}

// TestRecoveryMiddleware tests panic recovery
func TestRecoveryMiddleware(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter(&logger.Config{Level: "info"}, &buf)

	r := gin.New()
	r.Use(RecoveryMiddleware(log))
	r.GET("/", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if !strings.Contains(buf.String(), "panic recovered") {
		t.Errorf("log = %s", buf.String())
	}
}
