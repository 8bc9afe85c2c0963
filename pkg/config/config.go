// Package config loads and validates TransportConfig, following the
// teacher's YAML-plus-env-override pattern.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zenmesh/transport/pkg/errors"
)

// TransportConfig is the root, immutable-after-validation configuration for
// a Transport instance.
type TransportConfig struct {
	SignalingURL string `json:"signaling_url" yaml:"signaling_url"`
	PeerID       string `json:"peer_id" yaml:"peer_id"`

	// SigningSecret, if set, derives an HMAC key (via HKDF) that appends a tag
	// to the request ids of outbound offer/answer/ice_candidate messages.
	// Inbound request ids are not verified. Empty disables signing.
	SigningSecret string `json:"signing_secret" yaml:"signing_secret"`

	STUNServers []string     `json:"stun_servers" yaml:"stun_servers"`
	TURNServers []TURNServer `json:"turn_servers" yaml:"turn_servers"`

	MaxPeers int `json:"max_peers" yaml:"max_peers"`

	AudioCodec AudioCodecConfig `json:"audio_codec" yaml:"audio_codec"`
	VideoCodec VideoCodecConfig `json:"video_codec" yaml:"video_codec"`

	EnableDataChannel bool `json:"enable_data_channel" yaml:"enable_data_channel"`

	JitterBufferSizeMs int           `json:"jitter_buffer_size_ms" yaml:"jitter_buffer_size_ms"`
	ICETimeout         time.Duration `json:"ice_timeout" yaml:"ice_timeout"`
	RTCPInterval       time.Duration `json:"rtcp_interval" yaml:"rtcp_interval"`

	Bitrate BitratePolicy `json:"bitrate" yaml:"bitrate"`

	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Cluster ClusterConfig `json:"cluster" yaml:"cluster"`
	Redis   RedisConfig   `json:"redis" yaml:"redis"`

	Reconnect ReconnectConfig `json:"reconnect" yaml:"reconnect"`
}

// TURNServer is a single TURN relay's connection parameters.
type TURNServer struct {
	URLs       []string `json:"urls" yaml:"urls"`
	Username   string   `json:"username" yaml:"username"`
	Credential string   `json:"credential" yaml:"credential"`
}

// AudioCodecConfig configures the mandatory Opus codec.
type AudioCodecConfig struct {
	SampleRate int `json:"sample_rate" yaml:"sample_rate"` // 8000, 16000, 24000, 48000
	Channels   int `json:"channels" yaml:"channels"`       // 1-2
	BitrateKbps int `json:"bitrate_kbps" yaml:"bitrate_kbps"`
	Complexity int `json:"complexity" yaml:"complexity"` // 0-10
}

// VideoCodecConfig configures VP9 (preferred) / H.264 (fallback).
type VideoCodecConfig struct {
	Width       int `json:"width" yaml:"width"`
	Height      int `json:"height" yaml:"height"`
	Framerate   int `json:"framerate" yaml:"framerate"`
	BitrateKbps int `json:"bitrate_kbps" yaml:"bitrate_kbps"`
}

// BitratePolicy configures the adaptive bitrate controller.
type BitratePolicy struct {
	AdaptiveEnabled    bool `json:"adaptive_bitrate_enabled" yaml:"adaptive_bitrate_enabled"`
	TargetBitrateKbps  int  `json:"target_bitrate_kbps" yaml:"target_bitrate_kbps"`
	MinBitrateKbps     int  `json:"min_bitrate_kbps" yaml:"min_bitrate_kbps"`
	MaxBitrateKbps     int  `json:"max_bitrate_kbps" yaml:"max_bitrate_kbps"`
	MaxVideoResolution string `json:"max_video_resolution" yaml:"max_video_resolution"`
	VideoFramerateFPS  int  `json:"video_framerate_fps" yaml:"video_framerate_fps"`
}

// ReconnectConfig configures per-peer exponential backoff and circuit breaking.
type ReconnectConfig struct {
	InitialDelay          time.Duration `json:"initial_delay" yaml:"initial_delay"`
	MaxDelay              time.Duration `json:"max_delay" yaml:"max_delay"`
	BackoffMultiplier     float64       `json:"backoff_multiplier" yaml:"backoff_multiplier"`
	MaxAttempts           int           `json:"max_attempts" yaml:"max_attempts"`
	CircuitFailureThreshold int         `json:"circuit_failure_threshold" yaml:"circuit_failure_threshold"`
	CircuitCooldown       time.Duration `json:"circuit_cooldown" yaml:"circuit_cooldown"`
}

// LoggingConfig mirrors the ambient logger's tunables.
type LoggingConfig struct {
	Level      string `json:"level" yaml:"level"`
	Format     string `json:"format" yaml:"format"`
	OutputPath string `json:"output_path" yaml:"output_path"`
}

// ClusterConfig configures reconnect.NewDistributedStore, which mirrors
// circuit-breaker trips into Redis. Transport does not construct a
// DistributedStore, so these settings do not affect a Transport's own
// reconnect handling. Never used for session/media state, which stays
// strictly in-memory per instance.
type ClusterConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	NodeID  string `json:"node_id" yaml:"node_id"`
}

// RedisConfig backs ClusterConfig when Enabled is true.
type RedisConfig struct {
	Address    string        `json:"address" yaml:"address"`
	Password   string        `json:"password" yaml:"password"`
	DB         int           `json:"db" yaml:"db"`
	PoolSize   int           `json:"pool_size" yaml:"pool_size"`
	StateTTL   time.Duration `json:"state_ttl" yaml:"state_ttl"`
}

// DefaultConfig returns a baseline configuration; Validate should be called
// after any caller overrides before constructing a Transport.
func DefaultConfig() *TransportConfig {
	return &TransportConfig{
		STUNServers: []string{"stun:stun.l.google.com:19302"},
		MaxPeers:    10,
		AudioCodec: AudioCodecConfig{
			SampleRate:  48000,
			Channels:    1,
			BitrateKbps: 32,
			Complexity:  8,
		},
		VideoCodec: VideoCodecConfig{
			Width:       1280,
			Height:      720,
			Framerate:   30,
			BitrateKbps: 1500,
		},
		EnableDataChannel:  true,
		JitterBufferSizeMs: 50,
		ICETimeout:         10 * time.Second,
		RTCPInterval:       5 * time.Second,
		Bitrate: BitratePolicy{
			AdaptiveEnabled:    true,
			TargetBitrateKbps:  1500,
			MinBitrateKbps:     150,
			MaxBitrateKbps:     3000,
			MaxVideoResolution: "1280x720",
			VideoFramerateFPS:  30,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			OutputPath: "stdout",
		},
		Cluster: ClusterConfig{Enabled: false},
		Redis: RedisConfig{
			Address:  "localhost:6379",
			PoolSize: 10,
			StateTTL: 24 * time.Hour,
		},
		Reconnect: ReconnectConfig{
			InitialDelay:            1 * time.Second,
			MaxDelay:                30 * time.Second,
			BackoffMultiplier:       2.0,
			MaxAttempts:             5,
			CircuitFailureThreshold: 5,
			CircuitCooldown:         30 * time.Second,
		},
	}
}

// Validate enforces the invariants spec.md §4.7 requires at construction:
// non-empty STUN list, max_peers in [1,10], jitter_buffer_size_ms in [50,200].
func (c *TransportConfig) Validate() error {
	if len(c.STUNServers) == 0 {
		return errors.NewInvalidConfigError("stun_servers must not be empty")
	}
	if c.MaxPeers < 1 || c.MaxPeers > 10 {
		return errors.NewInvalidConfigError(fmt.Sprintf("max_peers must be in [1,10], got %d", c.MaxPeers))
	}
	if c.JitterBufferSizeMs < 50 || c.JitterBufferSizeMs > 200 {
		return errors.NewInvalidConfigError(fmt.Sprintf("jitter_buffer_size_ms must be in [50,200], got %d", c.JitterBufferSizeMs))
	}
	if c.AudioCodec.Channels < 1 || c.AudioCodec.Channels > 2 {
		return errors.NewInvalidConfigError("audio_codec.channels must be 1 or 2")
	}
	switch c.AudioCodec.SampleRate {
	case 8000, 16000, 24000, 48000:
	default:
		return errors.NewInvalidConfigError(fmt.Sprintf("audio_codec.sample_rate %d is not one of 8000/16000/24000/48000", c.AudioCodec.SampleRate))
	}
	if c.AudioCodec.Complexity < 0 || c.AudioCodec.Complexity > 10 {
		return errors.NewInvalidConfigError("audio_codec.complexity must be in [0,10]")
	}
	if c.SignalingURL == "" {
		return errors.NewInvalidConfigError("signaling_url must not be empty")
	}
	if c.ICETimeout <= 0 {
		return errors.NewInvalidConfigError("ice_timeout must be positive")
	}
	return nil
}

// Load reads a YAML config file over a DefaultConfig base, then applies
// environment overrides.
func Load(filename string) (*TransportConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.loadFromEnv()

	return cfg, nil
}

func (c *TransportConfig) loadFromEnv() {
	if url := os.Getenv("TRANSPORT_SIGNALING_URL"); url != "" {
		c.SignalingURL = url
	}
	if peerID := os.Getenv("TRANSPORT_PEER_ID"); peerID != "" {
		c.PeerID = peerID
	}
	if redisAddr := os.Getenv("REDIS_URL"); redisAddr != "" {
		c.Redis.Address = redisAddr
	}
	if redisPass := os.Getenv("REDIS_PASSWORD"); redisPass != "" {
		c.Redis.Password = redisPass
	}
	if secret := os.Getenv("TRANSPORT_SIGNING_SECRET"); secret != "" {
		c.SigningSecret = secret
	}
}
