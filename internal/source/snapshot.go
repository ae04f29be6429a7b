package source

import (
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/OpenPSG/edf"

	"neurosync-backend/internal/aggregator"
)

// ErrSnapshotTooShort is returned when a snapshot holds less than one data record
var ErrSnapshotTooShort = errors.New("snapshot shorter than one data record")

// Snapshot is a copy of the recent samples of one device
type Snapshot struct {
	DeviceID   string
	Start      time.Time
	Channels   []string
	SampleRate float64
	EEG        [][]float64 // channels x samples
	PPG        []float64   // may be empty
	PPGRate    float64
}

// CaptureSnapshot copies the last seconds of both buffers of a stream
func CaptureSnapshot(stream *aggregator.DeviceStream, channels []string, seconds float64) Snapshot {
	eeg := stream.EEG.Window(seconds)
	snap := Snapshot{
		DeviceID:   stream.DeviceID,
		Channels:   channels,
		SampleRate: eeg.SampleRate,
		EEG:        eeg.Data,
		Start:      time.Now(),
	}
	if !eeg.End.IsZero() {
		snap.Start = eeg.End.Add(-time.Duration(float64(eeg.Samples()) / eeg.SampleRate * float64(time.Second)))
	}
	if stream.PPG.IsActive() {
		ppg := stream.PPG.Window(seconds)
		snap.PPG = ppg.Data[0]
		snap.PPGRate = ppg.SampleRate
	}
	return snap
}

// WriteSnapshot writes the snapshot as EDF with one-second data records. The
// EEG channels come first, followed by PPG when present. A trailing partial
// second is dropped. It returns the number of records written
func WriteSnapshot(w io.WriteSeeker, snap Snapshot) (int, error) {
	eegRate, err := recordRate(snap.SampleRate)
	if err != nil {
		return 0, fmt.Errorf("invalid EEG rate: %w", err)
	}
	if len(snap.EEG) == 0 || len(snap.EEG) != len(snap.Channels) {
		return 0, fmt.Errorf("snapshot has %d EEG rows for %d channels", len(snap.EEG), len(snap.Channels))
	}

	records := len(snap.EEG[0]) / eegRate
	for _, row := range snap.EEG[1:] {
		records = min(records, len(row)/eegRate)
	}

	var ppgRate int
	withPPG := len(snap.PPG) > 0
	if withPPG {
		if ppgRate, err = recordRate(snap.PPGRate); err != nil {
			return 0, fmt.Errorf("invalid PPG rate: %w", err)
		}
		records = min(records, len(snap.PPG)/ppgRate)
	}
	if records == 0 {
		return 0, ErrSnapshotTooShort
	}

	signals := make([]edf.SignalHeader, 0, len(snap.Channels)+1)
	for i, name := range snap.Channels {
		signals = append(signals, newSignal("EEG "+name, "uV", snap.EEG[i][:records*eegRate], eegRate))
	}
	if withPPG {
		signals = append(signals, newSignal("PPG", "au", snap.PPG[:records*ppgRate], ppgRate))
	}

	writer, err := edf.Create(w, edf.Header{
		Version:            edf.Version0,
		PatientID:          snap.DeviceID,
		RecordingID:        "Snapshot " + snap.DeviceID,
		StartTime:          snap.Start,
		DataRecordDuration: time.Second,
		SignalCount:        len(signals),
		Signals:            signals,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create EDF writer: %w", err)
	}

	record := make([][]float64, len(signals))
	for r := 0; r < records; r++ {
		for i := range snap.Channels {
			record[i] = snap.EEG[i][r*eegRate : (r+1)*eegRate]
		}
		if withPPG {
			record[len(snap.Channels)] = snap.PPG[r*ppgRate : (r+1)*ppgRate]
		}
		if err := writer.WriteRecord(record); err != nil {
			return r, fmt.Errorf("failed to write record %d: %w", r, err)
		}
	}

	if err := writer.Close(); err != nil {
		return records, fmt.Errorf("failed to finalize EDF header: %w", err)
	}
	return records, nil
}

// recordRate returns the samples per one-second record
func recordRate(fs float64) (int, error) {
	if !(fs >= 1) || fs != math.Trunc(fs) {
		return 0, fmt.Errorf("%v Hz is not a positive whole number", fs)
	}
	return int(fs), nil
}

// newSignal sizes the physical range to the data, rounded outwards so the
// eight-character header fields hold it exactly
func newSignal(label, unit string, data []float64, samplesPerRecord int) edf.SignalHeader {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if math.IsInf(lo, 0) {
		lo, hi = 0, 0
	}
	return edf.SignalHeader{
		Label:             label,
		PhysicalDimension: unit,
		PhysicalMin:       math.Floor(lo) - 1,
		PhysicalMax:       math.Ceil(hi) + 1,
		DigitalMin:        math.MinInt16,
		DigitalMax:        math.MaxInt16,
		SamplesPerRecord:  samplesPerRecord,
	}
}
