package database

// SQL schemas for all ClickHouse tables

const (
	// EEGInsightsTableSQL creates the eeg_insights table
	EEGInsightsTableSQL = `
		CREATE TABLE IF NOT EXISTS eeg_insights (
			id String,
			timestamp DateTime64(3),
			device_id String,
			primary_state LowCardinality(String),
			probabilities Map(String, Float64),
			ppg_bpm Nullable(Float64),
			ppg_rmssd Nullable(Float64),
			window_seconds Float64,
			samples UInt32,
			epochs UInt32,
			insufficient_data Bool,
			model_version String
		) ENGINE = MergeTree()
		ORDER BY (device_id, timestamp)
		PARTITION BY toYYYYMM(timestamp)
	`

	// EEGBandPowersTableSQL creates the eeg_band_powers table (one row per epoch, channel and band)
	EEGBandPowersTableSQL = `
		CREATE TABLE IF NOT EXISTS eeg_band_powers (
			timestamp DateTime64(3),
			device_id String,
			insight_id String,
			epoch UInt16,
			epoch_start Float64,
			channel LowCardinality(String),
			band LowCardinality(String),
			power Float64
		) ENGINE = MergeTree()
		ORDER BY (device_id, timestamp, epoch, channel, band)
		PARTITION BY toYYYYMM(timestamp)
	`

	// DeviceRegistryTableSQL creates the device_registry table
	DeviceRegistryTableSQL = `
		CREATE TABLE IF NOT EXISTS device_registry (
			device_id String,
			name String,
			registered_at DateTime64(3),
			last_seen DateTime64(3),
			is_active Bool,
			channels Array(String),
			sample_rate Float64
		) ENGINE = ReplacingMergeTree(last_seen)
		ORDER BY device_id
	`
)

// AllTables returns all table creation SQL statements
func AllTables() []string {
	return []string{
		EEGInsightsTableSQL,
		EEGBandPowersTableSQL,
		DeviceRegistryTableSQL,
	}
}
