package rest

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/lumenfab/probeflow/internal/measure"
	"github.com/lumenfab/probeflow/internal/types"
	"go.uber.org/zap"
)

// POST /api/v1/measurements/start
//
// A run is described either by a named plan file or by an inline device
// list. Endpoint addresses and timeout budgets default from service config.
func (s *Server) startMeasurement(c *gin.Context) {
	var req struct {
		Plan        string               `json:"plan"`
		Devices     []measure.DeviceSpec `json:"devices"`
		StageURL    string               `json:"stage_url"`
		AnalyzerURL string               `json:"analyzer_url"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeBadRequest, "Invalid request body", err.Error()))
		return
	}

	cfg := measure.RunConfig{
		Devices:     req.Devices,
		StageURL:    s.cfg.Hardware.StageURL,
		AnalyzerURL: s.cfg.Hardware.AnalyzerURL,
		MinPowerDBM: s.cfg.Measurement.MinPowerDBM,
		SpeedUMPerS: s.cfg.Measurement.StageSpeedUMPerS,
		Timeouts: measure.Timeouts{
			Motion:    s.cfg.Measurement.MotionTimeout,
			Alignment: s.cfg.Measurement.AlignmentTimeout,
			Sweep:     s.cfg.Measurement.SweepTimeout,
		},
		Intervals: measure.PollIntervals{
			Motion: s.cfg.Measurement.MotionPollInterval,
			Sweep:  s.cfg.Measurement.SweepPollInterval,
		},
	}

	if req.Plan != "" {
		plan, err := s.plans.Load(req.Plan)
		if err != nil {
			c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeBadRequest, "Failed to load plan", err.Error()))
			return
		}
		cfg.PlanID = plan.PlanID
		cfg.Devices = plan.Devices
		cfg.Alignment = plan.Alignment
		if plan.MinPowerDBM != 0 {
			cfg.MinPowerDBM = plan.MinPowerDBM
		}
		if plan.SpeedUMPerS > 0 {
			cfg.SpeedUMPerS = plan.SpeedUMPerS
		}
	}
	if req.StageURL != "" {
		cfg.StageURL = req.StageURL
	}
	if req.AnalyzerURL != "" {
		cfg.AnalyzerURL = req.AnalyzerURL
	}

	res := s.manager.Start(cfg)
	if res.IsErr() {
		status := http.StatusBadRequest
		code := types.CodeBadRequest
		if strings.Contains(res.Error(), "already active") {
			status = http.StatusConflict
			code = types.CodeConflict
		}
		c.JSON(status, types.NewErrorResponse(code, "Failed to start measurement", res.Error()))
		return
	}

	handle := res.Value()
	s.logger.Info("Measurement started via API",
		zap.String("run_id", handle.RunID),
		zap.Int("devices", len(cfg.Devices)))

	c.JSON(http.StatusAccepted, gin.H{
		"run_id":        handle.RunID,
		"total_devices": len(cfg.Devices),
	})
}

// POST /api/v1/measurements/pause
func (s *Server) pauseMeasurement(c *gin.Context) {
	if res := s.manager.Pause(); res.IsErr() {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeBadRequest, "Cannot pause", res.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// POST /api/v1/measurements/resume
func (s *Server) resumeMeasurement(c *gin.Context) {
	if res := s.manager.Resume(); res.IsErr() {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeBadRequest, "Cannot resume", res.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// POST /api/v1/measurements/cancel
func (s *Server) cancelMeasurement(c *gin.Context) {
	if res := s.manager.Cancel(); res.IsErr() {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeBadRequest, "Cannot cancel", res.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// GET /api/v1/measurements/status
func (s *Server) getMeasurementStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.manager.Status())
}
