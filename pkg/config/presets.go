package config

import "time"

// LowLatencyPreset favors minimal playout delay over resilience: small
// jitter buffer, frequent RTCP reports.
func LowLatencyPreset() *TransportConfig {
	cfg := DefaultConfig()
	cfg.JitterBufferSizeMs = 50
	cfg.RTCPInterval = 2 * time.Second
	cfg.Bitrate.TargetBitrateKbps = 1200
	return cfg
}

// HighQualityPreset favors resilience and visual quality over latency:
// larger jitter buffer, higher bitrate ceilings.
func HighQualityPreset() *TransportConfig {
	cfg := DefaultConfig()
	cfg.JitterBufferSizeMs = 100
	cfg.VideoCodec.BitrateKbps = 3000
	cfg.Bitrate.TargetBitrateKbps = 3000
	cfg.Bitrate.MaxBitrateKbps = 4000
	cfg.Bitrate.MaxVideoResolution = "1920x1080"
	return cfg
}

// MobileNetworkPreset assumes a lossy, NAT-heavy link: larger jitter buffer,
// lower bitrate ceilings, longer ICE timeout. It does not configure TURN:
// TURNServers stays empty, so no relay is used unless one is added.
func MobileNetworkPreset() *TransportConfig {
	cfg := DefaultConfig()
	cfg.JitterBufferSizeMs = 150
	cfg.Bitrate.TargetBitrateKbps = 500
	cfg.Bitrate.MaxBitrateKbps = 800
	cfg.Bitrate.MinBitrateKbps = 80
	cfg.VideoCodec.BitrateKbps = 500
	cfg.VideoCodec.Width = 640
	cfg.VideoCodec.Height = 360
	cfg.ICETimeout = 15 * time.Second
	return cfg
}
