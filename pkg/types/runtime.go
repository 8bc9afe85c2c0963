package types

import "github.com/zenmesh/transport/pkg/buffer"

// RuntimeDataKind tags which variant of RuntimeData is populated, modeling
// the spec's {Audio, Video, Data, Control} sum type as a discriminated union.
type RuntimeDataKind int

const (
	RuntimeAudio RuntimeDataKind = iota
	RuntimeVideo
	RuntimeDataBytes
	RuntimeControl
)

// RuntimeData is the boundary type the SessionRouter exchanges with the
// external pipeline: a sum type over audio samples, video planes, raw bytes,
// and control JSON, with every payload buffer shared (reference-counted)
// rather than copied across the boundary.
type RuntimeData struct {
	Kind RuntimeDataKind

	// Audio variant
	AudioSamples *buffer.Shared
	SampleRate   int
	Channels     int

	// Video variant
	VideoPlanes *buffer.Shared
	Width       int
	Height      int
	Format      string

	// Data variant
	Bytes *buffer.Shared

	// Control variant
	Control map[string]interface{}

	// OutputID tags which manifest output this data came from/is destined for.
	OutputID string
}

// NewAudioRuntimeData builds an Audio-variant RuntimeData.
func NewAudioRuntimeData(samples *buffer.Shared, sampleRate, channels int) RuntimeData {
	return RuntimeData{Kind: RuntimeAudio, AudioSamples: samples, SampleRate: sampleRate, Channels: channels}
}

// NewVideoRuntimeData builds a Video-variant RuntimeData.
func NewVideoRuntimeData(planes *buffer.Shared, width, height int, format string) RuntimeData {
	return RuntimeData{Kind: RuntimeVideo, VideoPlanes: planes, Width: width, Height: height, Format: format}
}

// NewDataRuntimeData builds a Data-variant RuntimeData.
func NewDataRuntimeData(bytes *buffer.Shared) RuntimeData {
	return RuntimeData{Kind: RuntimeDataBytes, Bytes: bytes}
}

// NewControlRuntimeData builds a Control-variant RuntimeData.
func NewControlRuntimeData(value map[string]interface{}) RuntimeData {
	return RuntimeData{Kind: RuntimeControl, Control: value}
}

// DataChannelKind tags a DataChannelMessage's payload variant.
type DataChannelKind int

const (
	DataChannelJSON DataChannelKind = iota
	DataChannelBinary
	DataChannelText
)

// MaxDataChannelMessageBytes bounds Binary/Text payloads (16 MiB).
const MaxDataChannelMessageBytes = 16 * 1024 * 1024

// DataChannelMessage is the tagged union produced/consumed via a peer's data
// channel. Channels are reliable/ordered by default.
type DataChannelMessage struct {
	Kind   DataChannelKind
	JSON   interface{}
	Binary []byte
	Text   string
}
