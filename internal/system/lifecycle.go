package system

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lumenfab/probeflow/internal/api/rest"
	"github.com/lumenfab/probeflow/internal/api/websocket"
	"github.com/lumenfab/probeflow/internal/config"
	"github.com/lumenfab/probeflow/internal/measure"
	"github.com/lumenfab/probeflow/internal/plans"
	"go.uber.org/zap"
)

type LifecycleManager struct {
	config     *config.Config
	planLoader *plans.Loader
	manager    *measure.Manager
	wsHub      *websocket.Hub
	logger     *zap.Logger

	restServer *rest.Server

	stateMu      sync.RWMutex
	currentState SystemState

	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

func NewLifecycleManager(cfg *config.Config, logger *zap.Logger) (*LifecycleManager, error) {
	planLoader, err := plans.NewLoader(cfg.Plans.SearchPaths)
	if err != nil {
		return nil, fmt.Errorf("failed to create plan loader: %w", err)
	}

	wsHub := websocket.NewHub(logger)

	manager := measure.NewManager(logger, cfg.Measurement.StatusRetention)
	manager.SetEventSink(wsHub)

	return &LifecycleManager{
		config:       cfg,
		planLoader:   planLoader,
		manager:      manager,
		wsHub:        wsHub,
		logger:       logger,
		currentState: StateInitializing,
		shutdownChan: make(chan struct{}),
	}, nil
}

// Manager returns the measurement run manager
func (lm *LifecycleManager) Manager() *measure.Manager {
	return lm.manager
}

// Start starts the entire system
func (lm *LifecycleManager) Start() error {
	lm.logger.Info("Starting probeflow measurement service")

	go lm.wsHub.Run()

	lm.restServer = rest.NewServer(lm.config, lm.manager, lm.planLoader, lm.logger, lm.wsHub)
	if err := lm.restServer.Start(); err != nil {
		lm.setError(fmt.Errorf("failed to start REST API: %w", err))
		return err
	}

	lm.setState(StateRunning)

	lm.logger.Info("System started successfully",
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.String("stage_url", lm.config.Hardware.StageURL),
		zap.String("analyzer_url", lm.config.Hardware.AnalyzerURL))

	return nil
}

// Shutdown gracefully shuts down the system
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")

		lm.setState(StateStopping)

		shutdownErr = lm.gracefulShutdown(ctx)

		lm.setState(StateStopped)

		close(lm.shutdownChan)
	})

	return shutdownErr
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	var wg sync.WaitGroup
	errChan := make(chan error, 3)

	// 1. Cancel any active measurement run and wait for it to drain
	wg.Add(1)
	go func() {
		defer wg.Done()
		if res := lm.manager.Cancel(); res.IsErr() {
			lm.logger.Debug("No active run to cancel", zap.String("reason", res.Error()))
		}
		lm.manager.Wait()
	}()

	// 2. REST API Server graceful shutdown
	if lm.restServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
				errChan <- fmt.Errorf("rest api shutdown failed: %w", err)
			}
		}()
	}

	// Wait for all shutdowns
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		lm.wsHub.Stop()
		lm.logger.Info("Graceful shutdown completed")
		return nil
	case <-ctx.Done():
		lm.logger.Warn("Shutdown timeout, forcing stop")
		return fmt.Errorf("shutdown timeout exceeded")
	case err := <-errChan:
		return err
	}
}

func (lm *LifecycleManager) setState(newState SystemState) {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()

	if err := ValidateTransition(lm.currentState, newState); err != nil {
		lm.logger.Warn("State transition rejected", zap.Error(err))
		return
	}

	lm.logger.Info("System state changed",
		zap.String("from", lm.currentState.String()),
		zap.String("to", newState.String()))
	lm.currentState = newState
}

func (lm *LifecycleManager) setError(err error) {
	lm.setState(StateError)
	lm.logger.Error("System error", zap.Error(err))
}

// CurrentState returns the current system state
func (lm *LifecycleManager) CurrentState() SystemState {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.currentState
}

// CurrentStatus returns a snapshot of the system status
func (lm *LifecycleManager) CurrentStatus() SystemStatus {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return SystemStatus{
		State:     lm.currentState,
		Timestamp: time.Now().Unix(),
	}
}
