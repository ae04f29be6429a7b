package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"slices"
	"strconv"
	"strings"

	"neurosync-backend/internal/pipeline"
	"neurosync-backend/internal/ppg"
	"neurosync-backend/internal/source"
	"neurosync-backend/pkg/config"
)

// featurize turns an EDF recording into labelled feature rows for training
func main() {
	input := flag.String("input", "", "EDF recording (required)")
	output := flag.String("output", "", "CSV output file (default stdout)")
	label := flag.String("label", "", "Label written on every row")
	signals := flag.String("signals", "0,1,2,3", "EDF signal indices of the EEG channels, in channel order")
	ppgSignal := flag.Int("ppg", -1, "EDF signal index of the PPG channel (-1 = none)")
	window := flag.Float64("window", 10, "Seconds per analysis window")
	flag.Parse()

	if *input == "" {
		fmt.Fprintf(os.Stderr, "Error: --input flag is required\n\n")
		flag.PrintDefaults()
		os.Exit(1)
	}

	cfg := config.Load()

	indices, err := parseIndices(*signals)
	if err != nil {
		log.Fatalf("Invalid --signals: %v", err)
	}
	if len(indices) != len(cfg.EEGChannels) {
		log.Fatalf("Got %d EEG signals for channels %v", len(indices), cfg.EEGChannels)
	}

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
		// A stable column set across windows, with heart rate when recorded
		ZeroFillAux: cfg.ZeroFillAux || *ppgSignal >= 0,
	})
	if err != nil {
		log.Fatalf("Failed to build feature pipeline: %v", err)
	}

	f, err := os.Open(*input)
	if err != nil {
		log.Fatalf("Failed to open recording: %v", err)
	}
	defer f.Close()

	read := indices
	if *ppgSignal >= 0 {
		read = append(slices.Clone(indices), *ppgSignal)
	}
	data, err := source.ReadSignals(f, read)
	if err != nil {
		log.Fatalf("Failed to read recording: %v", err)
	}
	eeg := data[:len(indices)]
	var ppgData []float64
	if *ppgSignal >= 0 {
		ppgData = data[len(indices)]
	}

	var out io.Writer = os.Stdout
	if *output != "" {
		file, err := os.Create(*output)
		if err != nil {
			log.Fatalf("Failed to create output: %v", err)
		}
		defer file.Close()
		out = file
	}

	rows, err := featurize(csv.NewWriter(out), pipe, ppg.NewExtractor(ppg.DefaultConfig()), eeg, ppgData, cfg.PPGSampleRate, *window, *label)
	if err != nil {
		log.Fatalf("Failed to write features: %v", err)
	}
	log.Printf("Wrote %d feature rows from %s", rows, *input)
}

// featurize runs the pipeline over consecutive windows and writes one CSV row
// per epoch. Windows whose columns differ from the first are skipped
func featurize(w *csv.Writer, pipe *pipeline.Pipeline, extractor *ppg.Extractor, eeg [][]float64, ppgData []float64, ppgRate, windowSeconds float64, label string) (int, error) {
	samples := len(eeg[0])
	for _, row := range eeg[1:] {
		samples = min(samples, len(row))
	}
	step := int(windowSeconds * pipe.SampleRate())
	if step < pipe.MinSamples() {
		return 0, fmt.Errorf("window of %d samples is shorter than one epoch", step)
	}

	var header []string
	written := 0
	for start, index := 0, 0; start+step <= samples; start, index = start+step, index+1 {
		window := make([][]float64, len(eeg))
		for ch := range eeg {
			window[ch] = eeg[ch][start : start+step]
		}

		var aux *pipeline.AuxFeatures
		if len(ppgData) > 0 {
			lo := int(float64(start) / pipe.SampleRate() * ppgRate)
			hi := min(len(ppgData), int(float64(start+step)/pipe.SampleRate()*ppgRate))
			if lo < hi {
				aux = extractor.Extract(ppgData[lo:hi], ppgRate)
			}
		}

		result := pipe.Run(window, aux)
		if header == nil {
			header = result.Features.Columns
			if err := w.Write(append(slices.Clone(header), "window", "epoch_start", "label")); err != nil {
				return written, err
			}
		} else if !slices.Equal(header, result.Features.Columns) {
			log.Printf("Skipping window %d: columns changed", index)
			continue
		}

		for i, features := range result.Features.Rows {
			record := make([]string, 0, len(features)+3)
			for _, v := range features {
				record = append(record, strconv.FormatFloat(v, 'g', -1, 64))
			}
			epochStart := float64(start)/pipe.SampleRate() + result.Epochs[i].Start
			record = append(record, strconv.Itoa(index), strconv.FormatFloat(epochStart, 'f', 3, 64), label)
			if err := w.Write(record); err != nil {
				return written, err
			}
			written++
		}
	}

	w.Flush()
	return written, w.Error()
}

func parseIndices(s string) ([]int, error) {
	var indices []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		i, err := strconv.Atoi(part)
		if err != nil {
			return nil, err
		}
		indices = append(indices, i)
	}
	if len(indices) == 0 {
		return nil, fmt.Errorf("no signal indices")
	}
	return indices, nil
}
