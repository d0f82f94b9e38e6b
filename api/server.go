package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"mailtrader/config"
	"mailtrader/pkg/logger"
	"mailtrader/trader"
)

// Journal 流水查询（可选）
type Journal interface {
	GetRecentAlerts(limit int) ([]config.AlertRecord, error)
	GetOrdersByPair(pair string, limit int) ([]config.OrderRecord, error)
}

// Server 只读状态接口
type Server struct {
	router    *gin.Engine
	ledger    *trader.Ledger
	journal   Journal
	port      int
	startedAt time.Time
	log       *zap.Logger
	httpSrv   *http.Server
}

// NewServer journal 可以为 nil
func NewServer(ledger *trader.Ledger, journal Journal, port int, log *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		router:    router,
		ledger:    ledger,
		journal:   journal,
		port:      port,
		startedAt: time.Now(),
		log:       logger.OrNop(log),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/positions", s.handleListPositions)
		api.GET("/positions/:pair", s.handleGetPosition)
		api.GET("/alerts", s.handleRecentAlerts)
		api.GET("/orders", s.handleOrders)
	}
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Handler 供测试直接使用
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start 阻塞监听，Shutdown 后返回 nil
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info("🌐 状态接口已启动", zap.Int("port", s.port))
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// handleListPositions 所有跟踪过的交易对（含已清仓）
func (s *Server) handleListPositions(c *gin.Context) {
	c.JSON(http.StatusOK, s.ledger.Snapshot())
}

func (s *Server) handleGetPosition(c *gin.Context) {
	pair := strings.ToUpper(c.Param("pair"))
	state, ok := s.ledger.Get(pair)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "该交易对尚未交易"})
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) handleRecentAlerts(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusOK, []interface{}{})
		return
	}
	alerts, err := s.journal.GetRecentAlerts(50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if alerts == nil {
		alerts = []config.AlertRecord{}
	}
	c.JSON(http.StatusOK, alerts)
}

func (s *Server) handleOrders(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusOK, []interface{}{})
		return
	}
	orders, err := s.journal.GetOrdersByPair(strings.ToUpper(c.Query("pair")), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if orders == nil {
		orders = []config.OrderRecord{}
	}
	c.JSON(http.StatusOK, orders)
}
