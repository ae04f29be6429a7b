package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	// MQTT Configuration
	MQTTBroker   string
	MQTTClientID string
	MQTTUsername string
	MQTTPassword string

	// MQTT topics
	MQTTTopicEEG     string
	MQTTTopicPPG     string
	MQTTTopicInsight string

	// ClickHouse Configuration
	ClickHouseAddr string
	ClickHouseDB   string
	ClickHouseUser string
	ClickHousePass string

	// ML Model Configuration
	ModelPath string

	// HTTP API
	HTTPAddr    string
	CORSOrigins []string

	// Stream layout
	EEGChannels       []string
	ReferenceChannels []string
	EEGSampleRate     float64
	PPGSampleRate     float64
	BufferSeconds     float64 // 0 keeps everything

	// Conditioning
	BandpassLow  float64
	BandpassHigh float64
	FilterOrder  int
	NotchFreq    float64 // 0 disables the notch
	NotchQ       float64

	// Epochs and features
	EpochSeconds   float64
	OverlapSeconds float64
	ZeroFillAux    bool

	// Periodic insights
	InsightIntervalSeconds int
	InsightWindowSeconds   float64

	// Recordings
	SnapshotDir    string
	ReplayFile     string
	ReplayDeviceID string
	ReplayEEG      []int
	ReplayPPG      int
	ReplayRealtime bool
}

func Load() *Config {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		// MQTT Configuration
		MQTTBroker:   getEnv("MQTT_BROKER", "tcp://localhost:1883"),
		MQTTClientID: getEnv("MQTT_CLIENT_ID", "neurosync-backend"),
		MQTTUsername: getEnv("MQTT_USERNAME", ""),
		MQTTPassword: getEnv("MQTT_PASSWORD", ""),

		// MQTT topics
		MQTTTopicEEG:     getEnv("MQTT_TOPIC_EEG", "muse/+/eeg"),
		MQTTTopicPPG:     getEnv("MQTT_TOPIC_PPG", "muse/+/ppg"),
		MQTTTopicInsight: getEnv("MQTT_TOPIC_INSIGHT", "insights/{device_id}"),

		// ClickHouse Configuration
		ClickHouseAddr: getEnv("CLICKHOUSE_ADDR", "localhost:9000"),
		ClickHouseDB:   getEnv("CLICKHOUSE_DB", "neurosync"),
		ClickHouseUser: getEnv("CLICKHOUSE_USER", "default"),
		ClickHousePass: getEnv("CLICKHOUSE_PASS", ""),

		// ML Model Configuration
		ModelPath: getEnv("MODEL_PATH", "./model/eeg_model.json"),

		// HTTP API
		HTTPAddr:    getEnv("HTTP_ADDR", ":8000"),
		CORSOrigins: getEnvList("CORS_ORIGINS", []string{"http://localhost:3000"}),

		// Stream layout
		EEGChannels:       getEnvList("EEG_CHANNELS", []string{"TP9", "AF7", "AF8", "TP10"}),
		ReferenceChannels: getEnvList("REFERENCE_CHANNELS", []string{"TP9", "TP10"}),
		EEGSampleRate:     getEnvFloat("EEG_SAMPLE_RATE", 256),
		PPGSampleRate:     getEnvFloat("PPG_SAMPLE_RATE", 64),
		BufferSeconds:     getEnvFloat("BUFFER_SECONDS", 300),

		// Conditioning
		BandpassLow:  getEnvFloat("BANDPASS_LOW", 1),
		BandpassHigh: getEnvFloat("BANDPASS_HIGH", 45),
		FilterOrder:  getEnvInt("FILTER_ORDER", 4),
		NotchFreq:    getEnvFloat("NOTCH_FREQ", 50),
		NotchQ:       getEnvFloat("NOTCH_Q", 30),

		// Epochs and features
		EpochSeconds:   getEnvFloat("EPOCH_SECONDS", 2),
		OverlapSeconds: getEnvFloat("EPOCH_OVERLAP_SECONDS", 1),

		// Periodic insights
		InsightIntervalSeconds: getEnvInt("INSIGHT_INTERVAL_SECONDS", 10),
		InsightWindowSeconds:   getEnvFloat("INSIGHT_WINDOW_SECONDS", 10),

		// Recordings
		SnapshotDir:    getEnv("SNAPSHOT_DIR", "./recordings"),
		ReplayFile:     getEnv("REPLAY_FILE", ""),
		ReplayDeviceID: getEnv("REPLAY_DEVICE_ID", "replay"),
		ReplayEEG:      getEnvInts("REPLAY_EEG_SIGNALS", []int{0, 1, 2, 3}),
		ReplayPPG:      getEnvInt("REPLAY_PPG_SIGNAL", 4),
		ReplayRealtime: getEnvBool("REPLAY_REALTIME", true),
	}

	// Auxiliary columns default on whenever PPG can arrive
	cfg.ZeroFillAux = getEnvBool("FEATURES_ZERO_FILL_AUX", cfg.HasPPGSource())
	return cfg
}

// HasPPGSource reports whether the configured sample source delivers PPG
func (c *Config) HasPPGSource() bool {
	if c.ReplayFile != "" {
		return c.ReplayPPG >= 0
	}
	return c.MQTTTopicPPG != ""
}

// BufferFrames converts a retention in seconds to frames, 0 meaning unbounded
func BufferFrames(seconds, rate float64) int {
	if seconds <= 0 {
		return 0
	}
	return int(seconds * rate)
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Warning: failed to parse %s as int, using default: %v", key, err)
		return defaultValue
	}
	return intValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.Printf("Warning: failed to parse %s as float, using default: %v", key, err)
		return defaultValue
	}
	return floatValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		log.Printf("Warning: failed to parse %s as bool, using default: %v", key, err)
		return defaultValue
	}
	return boolValue
}

// getEnvList splits a comma separated value, dropping empty entries
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var list []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	if len(list) == 0 {
		return defaultValue
	}
	return list
}

func getEnvInts(key string, defaultValue []int) []int {
	items := getEnvList(key, nil)
	if items == nil {
		return defaultValue
	}

	ints := make([]int, len(items))
	for i, item := range items {
		v, err := strconv.Atoi(item)
		if err != nil {
			log.Printf("Warning: failed to parse %s as int list, using default: %v", key, err)
			return defaultValue
		}
		ints[i] = v
	}
	return ints
}
