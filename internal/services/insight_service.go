package services

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"neurosync-backend/internal/models"
)

// InsightStore persists insights and their band powers
type InsightStore interface {
	SaveInsight(insight *models.Insight) error
	SaveBandPowers(rows []models.BandPowerRow) error
}

// InsightService periodically classifies the latest window of every tracked
// device, stores the result and forwards it to the publisher
type InsightService struct {
	analyzer *Analyzer
	store    InsightStore

	// Configuration
	interval      time.Duration
	windowSeconds float64

	// Output channel for insights
	InsightChan chan *models.Insight

	// Internal state
	mu             sync.RWMutex
	trackedDevices map[string]bool
	latest         map[string]*models.Insight
}

// InsightServiceConfig holds configuration for insight service
type InsightServiceConfig struct {
	IntervalSeconds int     // How often every device is classified
	WindowSeconds   float64 // Length of the classified window
	ChannelSize     int     // Size of insight channel
}

// DefaultInsightServiceConfig returns default configuration
func DefaultInsightServiceConfig() InsightServiceConfig {
	return InsightServiceConfig{
		IntervalSeconds: 10,
		WindowSeconds:   10,
		ChannelSize:     50,
	}
}

// NewInsightService creates a new insight service. store may be nil
func NewInsightService(analyzer *Analyzer, store InsightStore, config InsightServiceConfig) *InsightService {
	interval := time.Duration(config.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &InsightService{
		analyzer:       analyzer,
		store:          store,
		interval:       interval,
		windowSeconds:  config.WindowSeconds,
		InsightChan:    make(chan *models.Insight, config.ChannelSize),
		trackedDevices: make(map[string]bool),
		latest:         make(map[string]*models.Insight),
	}
}

// Start begins the polling loop
func (is *InsightService) Start(ctx context.Context) {
	log.Printf("InsightService: Classifying every %v over %.0fs windows", is.interval, is.windowSeconds)

	ticker := time.NewTicker(is.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("InsightService: Shutting down...")
			close(is.InsightChan)
			log.Println("InsightService: Shutdown complete")
			return
		case <-ticker.C:
			is.pollAllDevices(ctx)
		}
	}
}

// pollAllDevices classifies every tracked device
func (is *InsightService) pollAllDevices(ctx context.Context) {
	for _, deviceID := range is.GetTrackedDevices() {
		if ctx.Err() != nil {
			return
		}
		is.processDevice(deviceID)
	}
}

// processDevice classifies, stores and forwards one device window
func (is *InsightService) processDevice(deviceID string) *models.Insight {
	insight, analysis, err := is.analyzer.Analyze(deviceID, is.windowSeconds)
	if err != nil {
		if !errors.Is(err, ErrStreamNotStarted) {
			log.Printf("InsightService: Error analyzing %s: %v", deviceID, err)
		}
		return nil
	}

	if is.store != nil {
		if err := is.store.SaveInsight(insight); err != nil {
			log.Printf("InsightService: Error saving insight for %s: %v", deviceID, err)
		}
		if err := is.store.SaveBandPowers(is.analyzer.BandPowerRows(insight, analysis)); err != nil {
			log.Printf("InsightService: Error saving band powers for %s: %v", deviceID, err)
		}
	}

	is.mu.Lock()
	is.latest[deviceID] = insight
	is.mu.Unlock()

	select {
	case is.InsightChan <- insight:
		log.Printf("InsightService: %s is %s (epochs=%d, insufficient=%v)",
			deviceID, insight.PrimaryState, insight.Epochs, insight.Insufficient)
	case <-time.After(1 * time.Second):
		log.Printf("InsightService: Warning - Insight channel full, dropping insight for %s", deviceID)
	}
	return insight
}

// RegisterDevice adds a device to the tracking list
func (is *InsightService) RegisterDevice(deviceID string) {
	is.mu.Lock()
	defer is.mu.Unlock()

	if !is.trackedDevices[deviceID] {
		is.trackedDevices[deviceID] = true
		log.Printf("InsightService: Now tracking device %s", deviceID)
	}
}

// GetTrackedDevices returns all tracked device IDs in sorted order
func (is *InsightService) GetTrackedDevices() []string {
	is.mu.RLock()
	defer is.mu.RUnlock()

	devices := make([]string, 0, len(is.trackedDevices))
	for deviceID := range is.trackedDevices {
		devices = append(devices, deviceID)
	}
	sort.Strings(devices)
	return devices
}

// Latest returns the most recent periodic insight of a device
func (is *InsightService) Latest(deviceID string) (*models.Insight, bool) {
	is.mu.RLock()
	defer is.mu.RUnlock()
	insight, ok := is.latest[deviceID]
	return insight, ok
}

// LatestAll returns the most recent periodic insight of every tracked device
// that has one, in device order
func (is *InsightService) LatestAll() []*models.Insight {
	devices := is.GetTrackedDevices()

	is.mu.RLock()
	defer is.mu.RUnlock()

	insights := make([]*models.Insight, 0, len(devices))
	for _, deviceID := range devices {
		if insight, ok := is.latest[deviceID]; ok {
			insights = append(insights, insight)
		}
	}
	return insights
}
