package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lumenfab/probeflow/internal/api/websocket"
	"github.com/lumenfab/probeflow/internal/config"
	"github.com/lumenfab/probeflow/internal/interfaces"
	"go.uber.org/zap"
)

type Server struct {
	router  *gin.Engine
	manager interfaces.RunOrchestrator
	plans   interfaces.PlanSource
	cfg     *config.Config
	logger  *zap.Logger
	server  *http.Server
	wsHub   *websocket.Hub
}

func NewServer(cfg *config.Config, manager interfaces.RunOrchestrator, planLoader interfaces.PlanSource, logger *zap.Logger, wsHub *websocket.Hub) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:  gin.New(),
		manager: manager,
		plans:   planLoader,
		cfg:     cfg,
		logger:  logger,
		wsHub:   wsHub,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) Start() error {
	s.logger.Info("Starting REST API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Fatal("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	s.router.GET("/health", s.healthCheck)

	v1 := s.router.Group("/api/v1")
	{
		measurements := v1.Group("/measurements")
		{
			measurements.POST("/start", s.startMeasurement)
			measurements.POST("/pause", s.pauseMeasurement)
			measurements.POST("/resume", s.resumeMeasurement)
			measurements.POST("/cancel", s.cancelMeasurement)
			measurements.GET("/status", s.getMeasurementStatus)
		}

		ws := v1.Group("/ws")
		{
			ws.GET("/progress", s.wsProgress)
			ws.GET("/status", s.wsStatus)
		}
	}
}

// WebSocket handlers
func (s *Server) wsProgress(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

func (s *Server) wsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": s.wsHub.GetClientCount(),
	})
}

// Health check (public)
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}
