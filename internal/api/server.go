package api

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"neurosync-backend/internal/aggregator"
	"neurosync-backend/internal/ml"
	"neurosync-backend/internal/models"
	"neurosync-backend/internal/pipeline"
	"neurosync-backend/internal/services"
	"neurosync-backend/internal/source"
)

// Query limits
const (
	defaultWindowSeconds   = 10
	minWindowSeconds       = 2
	maxWindowSeconds       = 60
	defaultHistoryLimit    = 20
	maxHistoryLimit        = 500
	defaultSnapshotSeconds = 30
	maxSnapshotSeconds     = 300
)

// HistoryStore reads stored insights
type HistoryStore interface {
	GetRecentInsights(deviceID string, limit int) ([]models.Insight, error)
}

// ServerConfig holds configuration for the HTTP API
type ServerConfig struct {
	CORSOrigins []string
	SnapshotDir string
}

// Server serves insights and features over HTTP
type Server struct {
	analyzer   *services.Analyzer
	aggregator *aggregator.StreamAggregator
	insights   *services.InsightService
	history    HistoryStore
	config     ServerConfig
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// HealthResponse reports whether any device is streaming
type HealthResponse struct {
	Status    string    `json:"status"`
	Streaming bool      `json:"streaming"`
	Devices   []string  `json:"devices"`
	Timestamp time.Time `json:"timestamp"`
}

// FeaturesResponse is the feature matrix of the latest window
type FeaturesResponse struct {
	DeviceID    string                `json:"device_id"`
	SampleRate  float64               `json:"sample_rate"`
	Samples     int                   `json:"samples"`
	Columns     []string              `json:"columns"`
	Rows        [][]float64           `json:"rows"`
	EpochStarts []float64             `json:"epoch_starts"`
	Stages      pipeline.StageReport  `json:"stages"`
	PPG         *pipeline.AuxFeatures `json:"ppg,omitempty"`
}

// HistoryResponse lists recent insights of a device
type HistoryResponse struct {
	DeviceID string           `json:"device_id"`
	Insights []models.Insight `json:"insights"`
	Count    int              `json:"count"`
}

// SummaryResponse aggregates the latest insight of every tracked device
type SummaryResponse struct {
	AvgFocus           float64   `json:"avg_focus"`
	AvgCalm            float64   `json:"avg_calm"`
	AvgStress          float64   `json:"avg_stress"`
	StudentsHighStress int       `json:"students_high_stress"`
	StudentsReporting  int       `json:"students_reporting"`
	StudentsTotal      int       `json:"students_total"`
	Timestamp          time.Time `json:"timestamp"`
}

// SnapshotResponse describes a written EDF snapshot
type SnapshotResponse struct {
	DeviceID string `json:"device_id"`
	Path     string `json:"path"`
	Records  int    `json:"records"`
}

// NewServer creates a new API server. insights and history may be nil
func NewServer(
	analyzer *services.Analyzer,
	agg *aggregator.StreamAggregator,
	insights *services.InsightService,
	history HistoryStore,
	config ServerConfig,
) *Server {
	return &Server{
		analyzer:   analyzer,
		aggregator: agg,
		insights:   insights,
		history:    history,
		config:     config,
	}
}

// SetupRoutes configures middleware and routes
func (s *Server) SetupRoutes() *gin.Engine {
	r := gin.New()

	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(cors.New(corsConfig(s.config.CORSOrigins)))

	r.GET("/health", s.HealthCheck)

	student := r.Group("/student")
	{
		student.GET("/insights", s.GetInsights)
		student.GET("/features", s.GetFeatures)
		student.GET("/history", s.GetHistory)
	}

	instructor := r.Group("/instructor")
	{
		instructor.GET("/summary", s.GetSummary)
	}

	recordings := r.Group("/recordings")
	{
		recordings.POST("/snapshot", s.CreateSnapshot)
	}

	return r
}

func corsConfig(origins []string) cors.Config {
	config := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	for _, origin := range origins {
		if origin == "*" {
			config.AllowAllOrigins = true
			return config
		}
	}
	if len(origins) == 0 {
		config.AllowAllOrigins = true
		return config
	}
	config.AllowOrigins = origins
	config.AllowCredentials = true
	return config
}

// HealthCheck reports service and streaming state
func (s *Server) HealthCheck(c *gin.Context) {
	devices := s.aggregator.GetAllDevices()
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Streaming: len(s.aggregator.ActiveDevices()) > 0,
		Devices:   devices,
		Timestamp: time.Now().UTC(),
	})
}

// GetInsights classifies the latest window of a device
func (s *Server) GetInsights(c *gin.Context) {
	deviceID, seconds, ok := s.windowQuery(c)
	if !ok {
		return
	}

	insight, _, err := s.analyzer.Analyze(deviceID, seconds)
	if err != nil {
		writeAnalysisError(c, err)
		return
	}
	c.JSON(http.StatusOK, insight)
}

// GetFeatures returns the feature matrix of the latest window of a device
func (s *Server) GetFeatures(c *gin.Context) {
	deviceID, seconds, ok := s.windowQuery(c)
	if !ok {
		return
	}

	analysis, err := s.analyzer.Features(deviceID, seconds)
	if err != nil {
		writeAnalysisError(c, err)
		return
	}

	starts := make([]float64, len(analysis.Result.Epochs))
	for i, epoch := range analysis.Result.Epochs {
		starts[i] = epoch.Start
	}
	c.JSON(http.StatusOK, FeaturesResponse{
		DeviceID:    deviceID,
		SampleRate:  analysis.Window.SampleRate,
		Samples:     analysis.Window.Samples(),
		Columns:     analysis.Result.Features.Columns,
		Rows:        analysis.Result.Features.Rows,
		EpochStarts: starts,
		Stages:      analysis.Result.Stages,
		PPG:         analysis.Aux,
	})
}

// GetHistory returns stored insights, newest first
func (s *Server) GetHistory(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultHistoryLimit)))
	if err != nil || limit < 1 || limit > maxHistoryLimit {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: fmt.Sprintf("limit must be an integer between 1 and %d", maxHistoryLimit),
		})
		return
	}

	deviceID, ok := s.resolveDevice(c)
	if !ok {
		return
	}

	insights := []models.Insight{}
	switch {
	case s.history != nil:
		stored, err := s.history.GetRecentInsights(deviceID, limit)
		if err != nil {
			log.Printf("API: Error reading history for %s: %v", deviceID, err)
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to read history", Details: err.Error()})
			return
		}
		insights = append(insights, stored...)
	case s.insights != nil:
		if latest, ok := s.insights.Latest(deviceID); ok {
			insights = append(insights, *latest)
		}
	}

	c.JSON(http.StatusOK, HistoryResponse{
		DeviceID: deviceID,
		Insights: insights,
		Count:    len(insights),
	})
}

// GetSummary averages the latest periodic insights across devices. Windows
// flagged as insufficient count towards the total only
func (s *Server) GetSummary(c *gin.Context) {
	summary := SummaryResponse{
		StudentsTotal: len(s.aggregator.GetAllDevices()),
		Timestamp:     time.Now().UTC(),
	}
	if s.insights == nil {
		c.JSON(http.StatusOK, summary)
		return
	}

	for _, insight := range s.insights.LatestAll() {
		if insight.Insufficient {
			continue
		}
		summary.StudentsReporting++
		summary.AvgFocus += insight.Probabilities["focus"]
		summary.AvgCalm += insight.Probabilities["calm"]
		summary.AvgStress += insight.Probabilities["stress"]
		if insight.PrimaryState == "stress" {
			summary.StudentsHighStress++
		}
	}
	if n := float64(summary.StudentsReporting); n > 0 {
		summary.AvgFocus /= n
		summary.AvgCalm /= n
		summary.AvgStress /= n
	}
	c.JSON(http.StatusOK, summary)
}

// CreateSnapshot writes the last seconds of a device to an EDF file
func (s *Server) CreateSnapshot(c *gin.Context) {
	seconds, err := strconv.ParseFloat(c.DefaultQuery("seconds", strconv.Itoa(defaultSnapshotSeconds)), 64)
	if err != nil || !(seconds >= 1 && seconds <= maxSnapshotSeconds) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: fmt.Sprintf("seconds must be between 1 and %d", maxSnapshotSeconds),
		})
		return
	}

	deviceID, ok := s.resolveDevice(c)
	if !ok {
		return
	}
	stream, found := s.aggregator.GetStream(deviceID)
	if !found || !stream.Active() {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "stream not started", Details: deviceID})
		return
	}

	if err := os.MkdirAll(s.config.SnapshotDir, 0o755); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to create snapshot directory", Details: err.Error()})
		return
	}
	name := fmt.Sprintf("%s_%s.edf", deviceID, time.Now().UTC().Format("20060102T150405Z"))
	path := filepath.Join(s.config.SnapshotDir, name)

	f, err := os.Create(path)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to create snapshot", Details: err.Error()})
		return
	}
	defer f.Close()

	records, err := source.WriteSnapshot(f, source.CaptureSnapshot(stream, s.aggregator.Channels(), seconds))
	if err != nil {
		_ = os.Remove(path)
		status := http.StatusInternalServerError
		if errors.Is(err, source.ErrSnapshotTooShort) {
			status = http.StatusConflict
		}
		c.JSON(status, ErrorResponse{Error: "failed to write snapshot", Details: err.Error()})
		return
	}

	log.Printf("API: Wrote %d s snapshot of %s to %s", records, deviceID, path)
	c.JSON(http.StatusOK, SnapshotResponse{DeviceID: deviceID, Path: path, Records: records})
}

// windowQuery parses device_id and window_seconds, writing a response on failure
func (s *Server) windowQuery(c *gin.Context) (string, float64, bool) {
	seconds, err := strconv.ParseFloat(c.DefaultQuery("window_seconds", strconv.Itoa(defaultWindowSeconds)), 64)
	if err != nil || !(seconds >= minWindowSeconds && seconds <= maxWindowSeconds) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: fmt.Sprintf("window_seconds must be between %d and %d", minWindowSeconds, maxWindowSeconds),
		})
		return "", 0, false
	}

	deviceID, ok := s.resolveDevice(c)
	return deviceID, seconds, ok
}

func (s *Server) resolveDevice(c *gin.Context) (string, bool) {
	deviceID, err := s.analyzer.ResolveDevice(c.Query("device_id"))
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "no device is streaming"})
		return "", false
	}
	return deviceID, true
}

func writeAnalysisError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrStreamNotStarted):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "stream not started", Details: err.Error()})
	case errors.Is(err, services.ErrSampleRateMismatch):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "sample rate mismatch", Details: err.Error()})
	case errors.Is(err, ml.ErrSchemaMismatch):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "feature schema does not match the model", Details: err.Error()})
	default:
		log.Printf("API: Analysis failed: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "analysis failed", Details: err.Error()})
	}
}
