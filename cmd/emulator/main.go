package main

import (
	"context"
	"flag"
	"log"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"neurosync-backend/internal/models"
	"neurosync-backend/internal/mqtt"
	"neurosync-backend/pkg/config"
)

// emulator publishes a synthetic headset stream: four EEG channels plus the
// AUX value the real bridge forwards, and a PPG pulse
func main() {
	deviceID := flag.String("device", "muse-emulator", "Device ID used in topics")
	rate := flag.Float64("rate", 256, "EEG sample rate in Hz")
	ppgRate := flag.Float64("ppg-rate", 64, "PPG sample rate in Hz")
	chunk := flag.Int("chunk", 12, "EEG frames per message")
	alphaHz := flag.Float64("alpha", 10, "Frequency of the dominant rhythm in Hz")
	alphaAmp := flag.Float64("amplitude", 20, "Amplitude of the dominant rhythm in uV")
	bpm := flag.Float64("bpm", 72, "Simulated heart rate")
	duration := flag.Duration("duration", 0, "Stop after this long (0 = run until interrupted)")
	flag.Parse()

	cfg := config.Load()

	client, err := mqtt.NewClient(mqtt.ClientConfig{
		Broker:         cfg.MQTTBroker,
		ClientID:       "emulator-" + *deviceID,
		Username:       cfg.MQTTUsername,
		Password:       cfg.MQTTPassword,
		ConnectTimeout: 10 * time.Second,
	})
	if err != nil {
		log.Fatalf("Failed to initialize MQTT client: %v", err)
	}
	defer client.Close()

	eegTopic := publishTopic(cfg.MQTTTopicEEG)
	ppgTopic := publishTopic(cfg.MQTTTopicPPG)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if *duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	log.Printf("Emulator: Publishing %s at %.0f Hz to %s and %s", *deviceID, *rate, eegTopic, ppgTopic)

	interval := time.Duration(float64(*chunk) / *rate * float64(time.Second))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var eegSent, ppgSent int
	for {
		select {
		case <-ctx.Done():
			log.Printf("Emulator: Stopped after %d EEG frames", eegSent)
			return
		case now := <-ticker.C:
			frames := make([][]float64, *chunk)
			for i := range frames {
				t := float64(eegSent+i) / *rate
				frames[i] = eegFrame(t, *alphaHz, *alphaAmp)
			}
			eegSent += *chunk

			payload := &models.SamplePayload{
				DeviceID:   *deviceID,
				Timestamp:  now.UTC().Format(time.RFC3339Nano),
				SampleRate: *rate,
				Samples:    frames,
			}
			if err := mqtt.PublishSamples(client.GetNativeClient(), eegTopic, *deviceID, payload); err != nil {
				log.Printf("Emulator: %v", err)
			}

			want := int(float64(eegSent)*(*ppgRate)/(*rate)) - ppgSent
			if want <= 0 {
				continue
			}
			pulses := make([][]float64, want)
			for i := range pulses {
				t := float64(ppgSent+i) / *ppgRate
				pulses[i] = []float64{ppgValue(t, *bpm)}
			}
			ppgSent += want

			payload = &models.SamplePayload{
				DeviceID:   *deviceID,
				Timestamp:  now.UTC().Format(time.RFC3339Nano),
				SampleRate: *ppgRate,
				Samples:    pulses,
			}
			if err := mqtt.PublishSamples(client.GetNativeClient(), ppgTopic, *deviceID, payload); err != nil {
				log.Printf("Emulator: %v", err)
			}
		}
	}
}

// publishTopic turns a subscription pattern like muse/+/eeg into muse/{device_id}/eeg
func publishTopic(pattern string) string {
	return strings.Replace(pattern, "+", "{device_id}", 1)
}

func eegFrame(t, alphaHz, alphaAmp float64) []float64 {
	frame := make([]float64, 5)
	for ch := 0; ch < 4; ch++ {
		phase := float64(ch) * math.Pi / 4
		frame[ch] = alphaAmp*math.Sin(2*math.Pi*alphaHz*t+phase) +
			5*math.Sin(2*math.Pi*20*t) +
			3*rand.NormFloat64()
	}
	// AUX channel, dropped by the subscriber
	frame[4] = rand.NormFloat64()
	return frame
}

func ppgValue(t, bpm float64) float64 {
	phase := math.Mod(t*bpm/60, 1)
	// Sharp systolic rise followed by a slower decay
	return 100 + 10*math.Exp(-phase*6)*math.Sin(math.Pi*math.Min(1, phase*4))
}
