package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/OpenPSG/edf"

	"neurosync-backend/internal/models"
)

// ReplayConfig selects the EDF signals to stream. The EDF reader does not
// expose signal rates, so they are configured alongside the indices
type ReplayConfig struct {
	Path          string
	DeviceID      string
	EEGSignals    []int
	EEGSampleRate float64
	PPGSignal     int // -1 disables PPG
	PPGSampleRate float64
	ChunkFrames   int  // EEG frames per batch
	Realtime      bool // pace batches at the recording rate
}

// DefaultChunkFrames matches the batch size of a headset notification
const DefaultChunkFrames = 12

// Replay streams an EDF recording into the ingest channels as if it came
// from a live headset
type Replay struct {
	config  ReplayConfig
	eegChan chan<- *models.SampleBatch
	ppgChan chan<- *models.SampleBatch
}

// NewReplay creates a new EDF replay source
func NewReplay(config ReplayConfig, eegChan, ppgChan chan<- *models.SampleBatch) *Replay {
	if config.ChunkFrames <= 0 {
		config.ChunkFrames = DefaultChunkFrames
	}
	return &Replay{
		config:  config,
		eegChan: eegChan,
		ppgChan: ppgChan,
	}
}

// Run streams the file once. It returns nil at the end of the recording or
// when ctx is cancelled
func (r *Replay) Run(ctx context.Context) error {
	if len(r.config.EEGSignals) == 0 {
		return fmt.Errorf("no EEG signals configured")
	}
	if r.config.EEGSampleRate <= 0 {
		return fmt.Errorf("invalid EEG sample rate %v", r.config.EEGSampleRate)
	}

	f, err := os.Open(r.config.Path)
	if err != nil {
		return fmt.Errorf("failed to open recording: %w", err)
	}
	defer f.Close()

	reader, err := edf.Open(f)
	if err != nil {
		return fmt.Errorf("failed to parse recording: %w", err)
	}

	eegReaders, err := signalReaders(reader, r.config.EEGSignals)
	if err != nil {
		return err
	}
	var ppgReader *edf.SignalReader
	if r.config.PPGSignal >= 0 && r.config.PPGSampleRate > 0 {
		if ppgReader, err = reader.Signal(r.config.PPGSignal); err != nil {
			return fmt.Errorf("failed to open PPG signal %d: %w", r.config.PPGSignal, err)
		}
	}

	log.Printf("Replay: Streaming %s as %s (%d EEG signals)", r.config.Path, r.config.DeviceID, len(eegReaders))

	start := time.Now()
	chunk := make([][]float64, len(eegReaders))
	for i := range chunk {
		chunk[i] = make([]float64, r.config.ChunkFrames)
	}
	var eegSent, ppgSent int

	for {
		n, done, err := readChunk(eegReaders, chunk)
		if err != nil {
			return err
		}
		if n > 0 {
			batch := &models.SampleBatch{
				DeviceID:   r.config.DeviceID,
				Kind:       models.StreamEEG,
				Timestamp:  start.Add(offset(eegSent+n, r.config.EEGSampleRate)),
				SampleRate: r.config.EEGSampleRate,
				Frames:     toFrames(chunk, n),
			}
			if !send(ctx, r.eegChan, batch) {
				return nil
			}
			eegSent += n
		}

		if ppgReader != nil {
			want := int(float64(eegSent)*r.config.PPGSampleRate/r.config.EEGSampleRate) - ppgSent
			if want > 0 {
				values := make([]float64, want)
				m, err := ppgReader.Read(values)
				if err != nil && !errors.Is(err, io.EOF) {
					return fmt.Errorf("failed to read PPG: %w", err)
				}
				if m > 0 {
					batch := &models.SampleBatch{
						DeviceID:   r.config.DeviceID,
						Kind:       models.StreamPPG,
						Timestamp:  start.Add(offset(ppgSent+m, r.config.PPGSampleRate)),
						SampleRate: r.config.PPGSampleRate,
						Frames:     toFrames([][]float64{values}, m),
					}
					if !send(ctx, r.ppgChan, batch) {
						return nil
					}
					ppgSent += m
				}
				if m < want {
					ppgReader = nil
				}
			}
		}

		if done {
			log.Printf("Replay: Finished %s after %d EEG frames", r.config.Path, eegSent)
			return nil
		}

		if r.config.Realtime {
			wait := time.Until(start.Add(offset(eegSent, r.config.EEGSampleRate)))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
		}
	}
}

// ReadSignals reads the given EDF signals to the end of the recording
func ReadSignals(r io.ReadSeeker, indices []int) ([][]float64, error) {
	reader, err := edf.Open(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse recording: %w", err)
	}
	readers, err := signalReaders(reader, indices)
	if err != nil {
		return nil, err
	}

	out := make([][]float64, len(readers))
	buf := make([]float64, 4096)
	for i, sr := range readers {
		for {
			n, err := sr.Read(buf)
			out[i] = append(out[i], buf[:n]...)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("failed to read signal %d: %w", indices[i], err)
			}
		}
	}
	return out, nil
}

func signalReaders(reader *edf.Reader, indices []int) ([]*edf.SignalReader, error) {
	readers := make([]*edf.SignalReader, len(indices))
	for i, idx := range indices {
		sr, err := reader.Signal(idx)
		if err != nil {
			return nil, fmt.Errorf("failed to open signal %d: %w", idx, err)
		}
		readers[i] = sr
	}
	return readers, nil
}

// readChunk fills chunk from every reader and returns the frame count common
// to all of them. done is set once any signal is exhausted
func readChunk(readers []*edf.SignalReader, chunk [][]float64) (int, bool, error) {
	n := len(chunk[0])
	done := false
	for i, sr := range readers {
		m, err := sr.Read(chunk[i])
		if errors.Is(err, io.EOF) {
			done = true
		} else if err != nil {
			return 0, false, fmt.Errorf("failed to read EEG: %w", err)
		}
		n = min(n, m)
	}
	return n, done, nil
}

// toFrames transposes the first n samples of each row into frames
func toFrames(rows [][]float64, n int) [][]float64 {
	frames := make([][]float64, n)
	for i := range frames {
		frame := make([]float64, len(rows))
		for ch, row := range rows {
			frame[ch] = row[i]
		}
		frames[i] = frame
	}
	return frames
}

func offset(frames int, fs float64) time.Duration {
	return time.Duration(float64(frames) / fs * float64(time.Second))
}

func send(ctx context.Context, ch chan<- *models.SampleBatch, batch *models.SampleBatch) bool {
	select {
	case ch <- batch:
		return true
	case <-ctx.Done():
		return false
	}
}
