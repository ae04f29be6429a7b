package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"neurosync-backend/internal/aggregator"
	"neurosync-backend/internal/api"
	"neurosync-backend/internal/database"
	"neurosync-backend/internal/ml"
	"neurosync-backend/internal/models"
	"neurosync-backend/internal/mqtt"
	"neurosync-backend/internal/pipeline"
	"neurosync-backend/internal/ppg"
	"neurosync-backend/internal/services"
	"neurosync-backend/internal/source"
	"neurosync-backend/pkg/config"
)

func main() {
	log.Println("Starting NeuroSync EEG Backend...")

	// Load configuration
	cfg := config.Load()

	// === Feature pipeline ===
	pipe, err := pipeline.New(pipeline.Config{
		SampleRate:        cfg.EEGSampleRate,
		Channels:          cfg.EEGChannels,
		ReferenceChannels: cfg.ReferenceChannels,
		BandpassLow:       cfg.BandpassLow,
		BandpassHigh:      cfg.BandpassHigh,
		FilterOrder:       cfg.FilterOrder,
		NotchFreq:         cfg.NotchFreq,
		NotchQ:            cfg.NotchQ,
		EpochSeconds:      cfg.EpochSeconds,
		OverlapSeconds:    cfg.OverlapSeconds,
		ZeroFillAux:       cfg.ZeroFillAux,
	})
	if err != nil {
		log.Fatalf("Failed to build feature pipeline: %v", err)
	}

	classifier := loadClassifier(cfg.ModelPath, expectedColumns(pipe, cfg.ZeroFillAux))

	// === Initialize ClickHouse database ===
	// Persistence is optional so recordings can be replayed without a database
	var (
		insightStore services.InsightStore
		deviceStore  services.DeviceStore
		historyStore api.HistoryStore
	)
	db, err := database.NewClickHouseDB(
		cfg.ClickHouseAddr,
		cfg.ClickHouseDB,
		cfg.ClickHouseUser,
		cfg.ClickHousePass,
	)
	if err != nil {
		log.Printf("Warning: ClickHouse unavailable, running without persistence: %v", err)
	} else {
		defer db.Close()
		insightStore, deviceStore, historyStore = db, db, db
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// === Streams and services ===
	agg := aggregator.NewStreamAggregator(aggregator.StreamConfig{
		EEGChannels:   cfg.EEGChannels,
		EEGSampleRate: cfg.EEGSampleRate,
		EEGCapacity:   config.BufferFrames(cfg.BufferSeconds, cfg.EEGSampleRate),
		PPGSampleRate: cfg.PPGSampleRate,
		PPGCapacity:   config.BufferFrames(cfg.BufferSeconds, cfg.PPGSampleRate),
	})

	analyzer := services.NewAnalyzer(agg, pipe, classifier, ppg.NewExtractor(ppg.DefaultConfig()))

	insightService := services.NewInsightService(analyzer, insightStore, services.InsightServiceConfig{
		IntervalSeconds: cfg.InsightIntervalSeconds,
		WindowSeconds:   cfg.InsightWindowSeconds,
		ChannelSize:     50,
	})
	ingestService := services.NewIngestService(agg, deviceStore, insightService, services.DefaultIngestServiceConfig())

	go ingestService.Start(ctx)
	go insightService.Start(ctx)

	// === Initialize MQTT Client ===
	replaying := cfg.ReplayFile != ""
	mqttClient, err := mqtt.NewClient(mqtt.ClientConfig{
		Broker:         cfg.MQTTBroker,
		ClientID:       cfg.MQTTClientID,
		Username:       cfg.MQTTUsername,
		Password:       cfg.MQTTPassword,
		ConnectTimeout: 10 * time.Second,
	})
	switch {
	case err != nil && !replaying:
		log.Fatalf("Failed to initialize MQTT client: %v", err)
	case err != nil:
		log.Printf("Warning: MQTT unavailable, insights will not be published: %v", err)
		go drainInsights(ctx, insightService.InsightChan)
	default:
		defer mqttClient.Close()

		publisher := mqtt.NewPublisher(
			mqttClient.GetNativeClient(),
			mqtt.PublisherConfig{InsightTopic: cfg.MQTTTopicInsight},
			insightService.InsightChan,
		)
		go publisher.Start(ctx)
	}

	// === Sample source ===
	if replaying {
		replay := source.NewReplay(source.ReplayConfig{
			Path:          cfg.ReplayFile,
			DeviceID:      cfg.ReplayDeviceID,
			EEGSignals:    cfg.ReplayEEG,
			EEGSampleRate: cfg.EEGSampleRate,
			PPGSignal:     cfg.ReplayPPG,
			PPGSampleRate: cfg.PPGSampleRate,
			Realtime:      cfg.ReplayRealtime,
		}, ingestService.EEGChan, ingestService.PPGChan)

		go func() {
			if err := replay.Run(ctx); err != nil {
				log.Printf("Replay failed: %v", err)
			}
		}()
	} else {
		subscriber := mqtt.NewSubscriber(
			mqttClient.GetNativeClient(),
			mqtt.SubscriberConfig{EEGTopic: cfg.MQTTTopicEEG, PPGTopic: cfg.MQTTTopicPPG},
			len(cfg.EEGChannels),
			ingestService.EEGChan,
			ingestService.PPGChan,
		)
		if err := subscriber.SubscribeAll(); err != nil {
			log.Fatalf("Failed to subscribe to MQTT topics: %v", err)
		}
	}

	// === HTTP API ===
	gin.SetMode(gin.ReleaseMode)
	server := api.NewServer(analyzer, agg, insightService, historyStore, api.ServerConfig{
		CORSOrigins: cfg.CORSOrigins,
		SnapshotDir: cfg.SnapshotDir,
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// === Log startup info ===
	log.Println("=== NeuroSync EEG Backend is running ===")
	log.Printf("Channels: %v @ %.0f Hz, reference %v", cfg.EEGChannels, cfg.EEGSampleRate, cfg.ReferenceChannels)
	log.Printf("Filters: %.1f-%.1f Hz order %d, notch %.0f Hz", cfg.BandpassLow, cfg.BandpassHigh, cfg.FilterOrder, cfg.NotchFreq)
	log.Printf("Epochs: %.1fs with %.1fs overlap, classifier %s", cfg.EpochSeconds, cfg.OverlapSeconds, classifier.Version())
	if replaying {
		log.Printf("Source: replaying %s as %s", cfg.ReplayFile, cfg.ReplayDeviceID)
	} else {
		log.Printf("MQTT Topics:")
		log.Printf("  - EEG:     %s", cfg.MQTTTopicEEG)
		log.Printf("  - PPG:     %s", cfg.MQTTTopicPPG)
		log.Printf("  - Insight: %s", cfg.MQTTTopicInsight)
	}
	log.Printf("HTTP API listening on %s", cfg.HTTPAddr)
	log.Println("Press Ctrl+C to exit...")

	// === Wait for interrupt signal ===
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	// === Graceful shutdown ===
	log.Println("Shutdown signal received, stopping services...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown: %v", err)
	}

	// Give services time to finish processing
	time.Sleep(2 * time.Second)

	log.Println("Shutdown complete. Goodbye!")
}

// loadClassifier loads the trained model, writing a starter model when none
// exists and falling back to the heuristic when it cannot be used
func loadClassifier(path string, columns []string) ml.Classifier {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		log.Printf("Model %s not found, creating sample model", path)
		if err := ml.CreateSampleModel(path, columns); err != nil {
			log.Printf("Warning: failed to create sample model: %v", err)
		}
	}

	predictor, err := ml.NewPredictor(path)
	if err != nil {
		log.Printf("Warning: failed to load model, using heuristic classifier: %v", err)
		return ml.NewHeuristicModel()
	}
	log.Printf("Loaded model %s with %d features", predictor.Version(), len(predictor.FeatureNames()))
	return predictor
}

// expectedColumns is the feature schema for windows without heart rate, or
// with it when auxiliary columns are always emitted
func expectedColumns(pipe *pipeline.Pipeline, withAux bool) []string {
	var columns []string
	for _, channel := range pipe.Channels() {
		for _, band := range pipe.Bands() {
			columns = append(columns, channel+"_"+band.Name)
		}
	}
	if withAux {
		columns = append(columns, pipeline.ColumnPPGBPM, pipeline.ColumnPPGRMSSD)
	}
	return columns
}

// drainInsights consumes insights when no publisher is connected
func drainInsights(ctx context.Context, insights <-chan *models.Insight) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-insights:
			if !ok {
				return
			}
		}
	}
}
