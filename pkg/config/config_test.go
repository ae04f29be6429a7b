package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("EEG_CHANNELS", "")
	t.Setenv("FILTER_ORDER", "")
	t.Setenv("FEATURES_ZERO_FILL_AUX", "")
	t.Setenv("MQTT_TOPIC_PPG", "")
	t.Setenv("REPLAY_FILE", "")

	cfg := Load()

	assert.Equal(t, []string{"TP9", "AF7", "AF8", "TP10"}, cfg.EEGChannels)
	assert.Equal(t, 4, cfg.FilterOrder)
	assert.True(t, cfg.HasPPGSource())
	assert.True(t, cfg.ZeroFillAux)
}

func TestZeroFillFollowsPPGSource(t *testing.T) {
	t.Setenv("FEATURES_ZERO_FILL_AUX", "")
	t.Setenv("REPLAY_FILE", "session.edf")
	t.Setenv("REPLAY_PPG_SIGNAL", "-1")

	cfg := Load()
	assert.False(t, cfg.HasPPGSource())
	assert.False(t, cfg.ZeroFillAux)

	t.Setenv("REPLAY_PPG_SIGNAL", "4")
	cfg = Load()
	assert.True(t, cfg.HasPPGSource())
	assert.True(t, cfg.ZeroFillAux)

	t.Setenv("FEATURES_ZERO_FILL_AUX", "false")
	assert.False(t, Load().ZeroFillAux)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("EEG_CHANNELS", " Fp1, Fp2 ,,")
	t.Setenv("EEG_SAMPLE_RATE", "250")
	t.Setenv("FILTER_ORDER", "2")
	t.Setenv("FEATURES_ZERO_FILL_AUX", "true")
	t.Setenv("REPLAY_EEG_SIGNALS", "1,2")

	cfg := Load()

	assert.Equal(t, []string{"Fp1", "Fp2"}, cfg.EEGChannels)
	assert.Equal(t, 250.0, cfg.EEGSampleRate)
	assert.Equal(t, 2, cfg.FilterOrder)
	assert.True(t, cfg.ZeroFillAux)
	assert.Equal(t, []int{1, 2}, cfg.ReplayEEG)
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("FILTER_ORDER", "four")
	t.Setenv("NOTCH_FREQ", "fifty")
	t.Setenv("REPLAY_REALTIME", "sometimes")
	t.Setenv("REPLAY_EEG_SIGNALS", "0,x")

	assert.Equal(t, 4, getEnvInt("FILTER_ORDER", 4))
	assert.Equal(t, 50.0, getEnvFloat("NOTCH_FREQ", 50))
	assert.True(t, getEnvBool("REPLAY_REALTIME", true))
	assert.Equal(t, []int{0}, getEnvInts("REPLAY_EEG_SIGNALS", []int{0}))
}

func TestBufferFrames(t *testing.T) {
	assert.Equal(t, 0, BufferFrames(0, 256))
	assert.Equal(t, 76800, BufferFrames(300, 256))
}
