package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"neurosync-backend/internal/models"
)

type ClickHouseDB struct {
	conn driver.Conn
}

// NewClickHouseDB creates a new ClickHouse database connection
func NewClickHouseDB(addr, database, username, password string) (*ClickHouseDB, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: username,
			Password: password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})

	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	log.Printf("Connected to ClickHouse at %s", addr)

	db := &ClickHouseDB{conn: conn}

	// Initialize schema
	if err := db.InitSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// InitSchema creates the necessary tables if they don't exist
func (db *ClickHouseDB) InitSchema() error {
	ctx := context.Background()

	for _, tableSQL := range AllTables() {
		if err := db.conn.Exec(ctx, tableSQL); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	log.Println("Database schema initialized successfully")
	return nil
}

// SaveInsight saves a classified window to the database
func (db *ClickHouseDB) SaveInsight(insight *models.Insight) error {
	ctx := context.Background()

	query := `
		INSERT INTO eeg_insights (id, timestamp, device_id, primary_state, probabilities, ppg_bpm, ppg_rmssd,
			window_seconds, samples, epochs, insufficient_data, model_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := db.conn.Exec(ctx, query,
		insight.ID,
		insight.Timestamp,
		insight.DeviceID,
		insight.PrimaryState,
		insight.Probabilities,
		insight.PPG.BPM,
		insight.PPG.RMSSD,
		insight.WindowSeconds,
		uint32(insight.Samples),
		uint32(insight.Epochs),
		insight.Insufficient,
		insight.ModelVersion,
	)

	if err != nil {
		return fmt.Errorf("failed to insert insight: %w", err)
	}

	return nil
}

// SaveBandPowers writes per-epoch band powers in a single batch
func (db *ClickHouseDB) SaveBandPowers(rows []models.BandPowerRow) error {
	if len(rows) == 0 {
		return nil
	}
	ctx := context.Background()

	batch, err := db.conn.PrepareBatch(ctx, "INSERT INTO eeg_band_powers")
	if err != nil {
		return fmt.Errorf("failed to prepare band power batch: %w", err)
	}

	for _, row := range rows {
		if err := batch.Append(
			row.Timestamp,
			row.DeviceID,
			row.InsightID,
			uint16(row.Epoch),
			row.Start,
			row.Channel,
			row.Band,
			row.Power,
		); err != nil {
			return fmt.Errorf("failed to append band power row: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send band power batch: %w", err)
	}
	return nil
}

// UpsertDevice inserts or updates a device in the registry
func (db *ClickHouseDB) UpsertDevice(device *models.Device) error {
	ctx := context.Background()

	query := `
		INSERT INTO device_registry (device_id, name, registered_at, last_seen, is_active, channels, sample_rate)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	err := db.conn.Exec(ctx, query,
		device.DeviceID,
		device.Name,
		device.RegisteredAt,
		device.LastSeen,
		device.IsActive,
		device.Channels,
		device.SampleRate,
	)

	if err != nil {
		return fmt.Errorf("failed to upsert device: %w", err)
	}

	return nil
}

// GetRecentInsights returns the newest insights for a device, newest first
func (db *ClickHouseDB) GetRecentInsights(deviceID string, limit int) ([]models.Insight, error) {
	ctx := context.Background()

	query := `
		SELECT id, timestamp, device_id, primary_state, probabilities, ppg_bpm, ppg_rmssd,
			window_seconds, samples, epochs, insufficient_data, model_version
		FROM eeg_insights
		WHERE device_id = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`

	rows, err := db.conn.Query(ctx, query, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query insights: %w", err)
	}
	defer rows.Close()

	var insights []models.Insight
	for rows.Next() {
		var (
			insight         models.Insight
			samples, epochs uint32
		)
		if err := rows.Scan(
			&insight.ID,
			&insight.Timestamp,
			&insight.DeviceID,
			&insight.PrimaryState,
			&insight.Probabilities,
			&insight.PPG.BPM,
			&insight.PPG.RMSSD,
			&insight.WindowSeconds,
			&samples,
			&epochs,
			&insight.Insufficient,
			&insight.ModelVersion,
		); err != nil {
			return nil, fmt.Errorf("failed to scan insight: %w", err)
		}
		insight.Samples = int(samples)
		insight.Epochs = int(epochs)
		insights = append(insights, insight)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read insights: %w", err)
	}
	return insights, nil
}

// Close closes the ClickHouse connection
func (db *ClickHouseDB) Close() error {
	if db.conn != nil {
		if err := db.conn.Close(); err != nil {
			return fmt.Errorf("failed to close ClickHouse connection: %w", err)
		}
		log.Println("ClickHouse connection closed")
	}
	return nil
}
