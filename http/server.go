// Package http 提供HTTP服务器功能
package http

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"diapredict/ml"
	"diapredict/monitoring"
	"diapredict/session"
)

// Server HTTP服务器
type Server struct {
	server  *http.Server
	config  ServerConfig
	handler http.Handler

	sessions     *session.Store
	metrics      *monitoring.Metrics
	hub          *monitoring.Hub
	logger       *zap.Logger
	defaultModel atomic.Pointer[ml.Handle]
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port           int
	Timeout        time.Duration
	AllowedOrigins []string
	MaxUploadBytes int64
	MaxBatchRows   int
	StrictColumns  bool
}

// DefaultServerConfig 默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:           8080,
		Timeout:        30 * time.Second,
		AllowedOrigins: []string{"*"},
		MaxUploadBytes: 10 << 20,
		MaxBatchRows:   100000,
	}
}

// Dependencies 服务器依赖，Metrics 和 Hub 可为 nil
type Dependencies struct {
	Sessions *session.Store
	Metrics  *monitoring.Metrics
	Hub      *monitoring.Hub
	Logger   *zap.Logger
}

// NewServer 创建HTTP服务器
func NewServer(config ServerConfig, deps Dependencies) *Server {
	s := &Server{
		config:   config,
		sessions: deps.Sessions,
		metrics:  deps.Metrics,
		hub:      deps.Hub,
		logger:   deps.Logger,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.sessions == nil {
		s.sessions = session.NewStore(1024, 2*time.Hour, s.logger)
	}

	api := http.NewServeMux()
	s.registerHandlers(api)

	// 创建中间件链
	apiChain := Chain(
		SecurityHeadersMiddleware,                    // 1. 安全头中间件
		TimeoutMiddleware(config.Timeout),            // 2. 超时中间件
		RequestSizeMiddleware(config.MaxUploadBytes), // 3. 请求大小限制
	)

	// WebSocket 和 metrics 不经过超时中间件
	root := http.NewServeMux()
	root.Handle("/", apiChain(api))
	if s.hub != nil {
		root.HandleFunc("GET /api/ws/predictions", s.hub.HandleWebSocket)
	}
	if s.metrics != nil {
		root.Handle("GET /metrics", s.metrics.Handler())
	}

	outer := Chain(
		RecoveryMiddleware(s.logger),          // 1. 恢复中间件（最先执行，捕获panic）
		LoggerMiddleware(s.logger),            // 2. 日志中间件
		CORSMiddleware(config.AllowedOrigins), // 3. CORS中间件
	)
	s.handler = outer(root)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", config.Port),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// SetDefaultModel 设置没有上传模型的会话使用的默认模型，nil 表示清除
func (s *Server) SetDefaultModel(handle *ml.Handle) {
	s.defaultModel.Store(handle)
	if handle != nil && s.hub != nil {
		s.hub.Publish(monitoring.ModelLoadedEvent, newModelInfo(handle, modelSourceDefault))
	}
}

// DefaultModel 当前默认模型
func (s *Server) DefaultModel() *ml.Handle {
	return s.defaultModel.Load()
}

// Handler 返回完整的处理器链，用于测试
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start 启动服务器
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop 停止服务器
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

// Addr 返回服务器地址
func (s *Server) Addr() string {
	return s.server.Addr
}
