package config

import "testing"

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SignalingURL = "ws://localhost:8080"

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got: %v", err)
	}
}

func TestValidateRejectsEmptySTUNServers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SignalingURL = "ws://localhost:8080"
	cfg.STUNServers = nil

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty stun_servers, got nil")
	}
}

func TestValidateRejectsOutOfRangeMaxPeers(t *testing.T) {
	cases := []int{0, -1, 11, 100}

	for _, maxPeers := range cases {
		cfg := DefaultConfig()
		cfg.SignalingURL = "ws://localhost:8080"
		cfg.MaxPeers = maxPeers

		if err := cfg.Validate(); err == nil {
			t.Errorf("max_peers=%d: expected error, got nil", maxPeers)
		}
	}
}

func TestValidateRejectsOutOfRangeJitterBuffer(t *testing.T) {
	cases := []int{0, 49, 201, 1000}

	for _, ms := range cases {
		cfg := DefaultConfig()
		cfg.SignalingURL = "ws://localhost:8080"
		cfg.JitterBufferSizeMs = ms

		if err := cfg.Validate(); err == nil {
			t.Errorf("jitter_buffer_size_ms=%d: expected error, got nil", ms)
		}
	}
}

func TestPresetsValidate(t *testing.T) {
	presets := map[string]*TransportConfig{
		"low_latency":    LowLatencyPreset(),
		"high_quality":   HighQualityPreset(),
		"mobile_network": MobileNetworkPreset(),
	}

	for name, cfg := range presets {
		cfg.SignalingURL = "ws://localhost:8080"
		if err := cfg.Validate(); err != nil {
			t.Errorf("preset %s should validate, got: %v", name, err)
		}
	}
}
