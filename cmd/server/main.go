package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/lyimoexiao/ecs-doh/internal/config"
	"github.com/lyimoexiao/ecs-doh/internal/handler"
	"github.com/lyimoexiao/ecs-doh/internal/logger"
	"github.com/lyimoexiao/ecs-doh/internal/middleware"
	"github.com/lyimoexiao/ecs-doh/internal/proxy"
	"github.com/lyimoexiao/ecs-doh/internal/upstream"
)

var (
	configPath = flag.String("config", "config.yaml", "配置文件路径")
	version    = "dev"
)

func main() {
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	log, err := logger.New(&logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		Fields:     cfg.Logging.Fields,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Infof("ecs-doh %s 启动中...", version)

	// 出口代理
	proxyMgr, err := proxy.NewManager(cfg.Upstream.Proxy)
	if err != nil {
		log.Fatalf("初始化代理失败: %v", err)
	}

	// 上游客户端
	client, err := upstream.NewClient(&cfg.Upstream, proxyMgr, upstream.WithStripHeaders(cfg.ClientIP.Header))
	if err != nil {
		log.Fatalf("创建上游客户端失败: %v", err)
	}
	log.Infof("上游: %s (JSON: %s)", client, client.ResolveURL())
	log.Infof("ECS 注入: %v, 客户端地址头: %s", cfg.ECS.IsEnabled(), cfg.ClientIP.Header)
	if cfg.ClientIP.TrustsAnyPeer() {
		log.Warnf("client_ip.trusted_proxies 为空, 任意对端均可通过 %s 伪造客户端地址", cfg.ClientIP.Header)
	}

	// 设置 Gin 模式
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router, err := newRouter(cfg, log, client)
	if err != nil {
		log.Fatalf("创建路由失败: %v", err)
	}

	// 创建 HTTP 服务器
	srv := &http.Server{
		Addr:         cfg.Server.Listen,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	if cfg.Server.HTTP2.Enabled {
		h2s := &http2.Server{}
		if cfg.Server.TLS.Enabled {
			if err := http2.ConfigureServer(srv, h2s); err != nil {
				log.Fatalf("配置 HTTP/2 失败: %v", err)
			}
		} else {
			// 边缘代理之后的明文 HTTP/2
			srv.Handler = h2c.NewHandler(router, h2s)
		}
	}

	// 启动服务器
	go func() {
		var err error
		if cfg.Server.TLS.Enabled {
			log.Infof("HTTPS 服务器启动，监听 %s", cfg.Server.Listen)
			err = srv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			log.Infof("HTTP 服务器启动，监听 %s (h2c: %v)", cfg.Server.Listen, cfg.Server.HTTP2.Enabled)
			err = srv.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("服务器启动失败: %v", err)
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("正在关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("服务器关闭错误: %v", err)
	}

	log.Info("服务器已关闭")
}

// newRouter 创建路由并注册中间件与 DoH 处理器
func newRouter(cfg *config.Config, log *logger.Logger, client handler.Forwarder) (*gin.Engine, error) {
	paths := make([]string, 0, len(cfg.Server.DNSPaths))
	for _, p := range cfg.Server.DNSPaths {
		if p.Enabled {
			paths = append(paths, p.Path)
			log.Infof("注册 DoH 路径: %s", p.Path)
		}
	}

	dohHandler := handler.NewDoHHandler(client, log, handler.Options{
		Paths:        paths,
		MaxQuerySize: cfg.Server.MaxQuerySize,
		Banner:       cfg.Server.Banner,
		ECSEnabled:   cfg.ECS.IsEnabled(),
	})

	router := gin.New()
	// 客户端地址由 ClientAddressMiddleware 按配置解析
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, fmt.Errorf("set trusted proxies: %w", err)
	}
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.ClientAddressMiddleware(
		cfg.ClientIP.TrustedProxies,
		cfg.ClientIP.Header,
		cfg.ClientIP.FallbackRemoteAddr,
	))
	router.Use(middleware.LoggingMiddleware(log))
	router.Use(middleware.CORSMiddleware())

	dohHandler.Register(router)

	return router, nil
}
