// Package webrtc wraps Pion's WebRTC peer connections with the session's
// state machine, adaptive bitrate control, and per-peer synchronization.
package webrtc

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pion/rtp"
	pionwebrtc "github.com/pion/webrtc/v3"

	"github.com/zenmesh/transport/pkg/buffer"
	"github.com/zenmesh/transport/pkg/config"
	"github.com/zenmesh/transport/pkg/errors"
	"github.com/zenmesh/transport/pkg/logger"
	"github.com/zenmesh/transport/pkg/syncmgr"
	"github.com/zenmesh/transport/pkg/types"
)

// PeerConnection wraps one Pion peer connection together with its ICE
// gatherer, bitrate controller, and sync manager. Exactly one SyncManager is
// owned per PeerConnection, matching one audio+video pair per remote peer.
type PeerConnection struct {
	id  types.PeerID
	log logger.Logger

	pc *pionwebrtc.PeerConnection

	ice   *iceGatherer
	sync  *syncmgr.SyncManager
	bwe   *BitrateController

	mu          sync.RWMutex
	state       types.ConnectionState
	metrics     types.ConnectionQualityMetrics
	connectedAt time.Time
	caps        types.Capabilities

	onICECandidate func(types.PeerID, pionwebrtc.ICECandidateInit)
	onStateChange  func(types.PeerID, types.ConnectionState)
	onDataMessage  func(types.PeerID, types.DataChannelMessage)

	dataChannel *pionwebrtc.DataChannel

	bufPool *buffer.Pool

	outboundMu  sync.Mutex
	audioOut    *pionwebrtc.TrackLocalStaticRTP
	videoOut    *pionwebrtc.TrackLocalStaticRTP
	audioSeq    uint16
	videoSeq    uint16
	audioTS     uint32
	videoTS     uint32
}

// NewPeerConnection creates the underlying Pion connection and wires its
// event handlers into this wrapper's state machine.
func NewPeerConnection(id types.PeerID, cfg *config.TransportConfig, log logger.Logger, bufPool *buffer.Pool) (*PeerConnection, error) {
	webrtcConfig := pionwebrtc.Configuration{
		ICEServers: CreateICEServers(cfg),
	}

	raw, err := pionwebrtc.NewPeerConnection(webrtcConfig)
	if err != nil {
		return nil, errors.NewSignalingError("failed to create peer connection", err)
	}

	peer := &PeerConnection{
		id:      id,
		log:     log.With(logger.String("peer_id", string(id))),
		pc:      raw,
		ice:     newICEGatherer(log),
		sync:    syncmgr.NewSyncManager(syncmgr.Config{JitterBufferTargetMs: cfg.JitterBufferSizeMs, MaxBufferMs: cfg.JitterBufferSizeMs * 4}, log),
		bwe:     NewBitrateController(cfg.Bitrate, log),
		state:   types.StateNew,
		bufPool: bufPool,
	}

	peer.setupHandlers()

	return peer, nil
}

func (p *PeerConnection) setupHandlers() {
	p.ice.Attach(p.pc, func(c pionwebrtc.ICECandidateInit) {
		if p.onICECandidate != nil {
			p.onICECandidate(p.id, c)
		}
	})

	p.pc.OnConnectionStateChange(func(state pionwebrtc.PeerConnectionState) {
		var next types.ConnectionState
		switch state {
		case pionwebrtc.PeerConnectionStateConnecting:
			next = types.StateConnecting
		case pionwebrtc.PeerConnectionStateConnected:
			next = types.StateConnected
		case pionwebrtc.PeerConnectionStateFailed:
			next = types.StateFailed
		case pionwebrtc.PeerConnectionStateClosed:
			next = types.StateClosed
		case pionwebrtc.PeerConnectionStateDisconnected:
			next = types.StateFailed
		default:
			return
		}

		p.setState(next)
	})

	p.pc.OnTrack(func(track *pionwebrtc.TrackRemote, receiver *pionwebrtc.RTPReceiver) {
		isAudio := track.Kind() == pionwebrtc.RTPCodecTypeAudio
		go p.readTrackPump(track)
		go p.drainReceiverRTCP(receiver, isAudio)
	})

	p.pc.OnDataChannel(func(dc *pionwebrtc.DataChannel) {
		p.mu.Lock()
		p.dataChannel = dc
		p.mu.Unlock()

		dc.OnMessage(func(msg pionwebrtc.DataChannelMessage) {
			p.handleDataChannelMessage(msg)
		})
	})
}

func (p *PeerConnection) setState(next types.ConnectionState) {
	p.mu.Lock()
	prev := p.state
	p.state = next
	if next == types.StateConnected && prev != types.StateConnected {
		p.connectedAt = time.Now()
	}
	p.mu.Unlock()

	p.log.Info("connection state changed", logger.String("state", next.String()))

	if p.onStateChange != nil {
		p.onStateChange(p.id, next)
	}
}

// OnICECandidate registers the callback invoked for each locally gathered
// ICE candidate, to be relayed via signaling.
func (p *PeerConnection) OnICECandidate(cb func(types.PeerID, pionwebrtc.ICECandidateInit)) {
	p.onICECandidate = cb
}

// OnStateChange registers the callback invoked on every connection state transition.
func (p *PeerConnection) OnStateChange(cb func(types.PeerID, types.ConnectionState)) {
	p.onStateChange = cb
}

// OnDataChannelMessage registers the callback invoked for inbound data channel messages.
func (p *PeerConnection) OnDataChannelMessage(cb func(types.PeerID, types.DataChannelMessage)) {
	p.onDataMessage = cb
}

// ID returns this connection's peer identifier.
func (p *PeerConnection) ID() types.PeerID { return p.id }

// State returns the current connection state.
func (p *PeerConnection) State() types.ConnectionState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// SyncManager exposes the owned sync manager for metrics/testing.
func (p *PeerConnection) SyncManager() *syncmgr.SyncManager { return p.sync }

// SetCapabilities records what this peer announced during peer.announce.
func (p *PeerConnection) SetCapabilities(caps types.Capabilities) {
	p.mu.Lock()
	p.caps = caps
	p.mu.Unlock()
}

// Capabilities returns the peer's last announced capabilities.
func (p *PeerConnection) Capabilities() types.Capabilities {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.caps
}

// CreateOffer creates and sets a local SDP offer, transitioning to
// GatheringIce, then blocks (bounded by cfg ICE timeout) for ICE gathering.
func (p *PeerConnection) CreateOffer(ctx context.Context, iceTimeout time.Duration) (pionwebrtc.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return pionwebrtc.SessionDescription{}, errors.NewSignalingError("create offer failed", err)
	}

	if err := p.pc.SetLocalDescription(offer); err != nil {
		return pionwebrtc.SessionDescription{}, errors.NewSignalingError("set local description failed", err)
	}

	p.setState(types.StateGatheringIce)
	p.ice.WaitComplete(ctx, iceTimeout)

	return offer, nil
}

// CreateAnswer mirrors CreateOffer on the answering side.
func (p *PeerConnection) CreateAnswer(ctx context.Context, iceTimeout time.Duration) (pionwebrtc.SessionDescription, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return pionwebrtc.SessionDescription{}, errors.NewSignalingError("create answer failed", err)
	}

	if err := p.pc.SetLocalDescription(answer); err != nil {
		return pionwebrtc.SessionDescription{}, errors.NewSignalingError("set local description failed", err)
	}

	p.setState(types.StateGatheringIce)
	p.ice.WaitComplete(ctx, iceTimeout)

	return answer, nil
}

// SetRemoteDescription applies a remote SDP offer or answer.
func (p *PeerConnection) SetRemoteDescription(sdp pionwebrtc.SessionDescription) error {
	if err := p.pc.SetRemoteDescription(sdp); err != nil {
		return errors.NewSignalingError("set remote description failed", err)
	}
	p.setState(types.StateConnecting)
	return nil
}

// AddICECandidate adds a remote trickle ICE candidate.
func (p *PeerConnection) AddICECandidate(candidate pionwebrtc.ICECandidateInit) error {
	if err := p.pc.AddICECandidate(candidate); err != nil {
		return errors.NewNatTraversalFailedError(string(p.id), err)
	}
	return nil
}

// AddTrack attaches a local track (audio or video) for sending to this peer
// and remembers it by media kind so SendRuntimeData can packetize onto it.
func (p *PeerConnection) AddTrack(track *pionwebrtc.TrackLocalStaticRTP) (*pionwebrtc.RTPSender, error) {
	sender, err := p.pc.AddTrack(track)
	if err != nil {
		return nil, errors.NewEncodingError("add track failed", err)
	}

	p.outboundMu.Lock()
	if track.Kind() == pionwebrtc.RTPCodecTypeAudio {
		p.audioOut = track
	} else {
		p.videoOut = track
	}
	p.outboundMu.Unlock()

	go p.drainSenderRTCP(sender)
	return sender, nil
}

// SendRuntimeData delivers one piece of session pipeline output to this
// peer. Audio/Video payloads are treated as already codec-encoded (codec
// adapters live upstream of the session router) and are packetized directly
// onto the matching outbound RTP track; Data/Control payloads go out over the
// data channel.
func (p *PeerConnection) SendRuntimeData(data types.RuntimeData) error {
	switch data.Kind {
	case types.RuntimeAudio:
		if data.AudioSamples == nil {
			return errors.NewInvalidDataError("audio runtime data missing samples")
		}
		return p.writeMediaRTP(true, data.AudioSamples.Bytes())
	case types.RuntimeVideo:
		if data.VideoPlanes == nil {
			return errors.NewInvalidDataError("video runtime data missing planes")
		}
		return p.writeMediaRTP(false, data.VideoPlanes.Bytes())
	case types.RuntimeDataBytes:
		if data.Bytes == nil {
			return errors.NewInvalidDataError("data runtime data missing bytes")
		}
		return p.SendDataChannelMessage(types.DataChannelMessage{Kind: types.DataChannelBinary, Binary: data.Bytes.Bytes()})
	case types.RuntimeControl:
		return p.SendDataChannelMessage(types.DataChannelMessage{Kind: types.DataChannelJSON, JSON: data.Control})
	default:
		return errors.NewInvalidDataError("unsupported runtime data kind")
	}
}

const (
	audioSamplesPerPacket = 960 // 20ms @ 48kHz, matches the configured audio codec clock
	videoClockPerFrame    = 3000 // 90kHz / 30fps
)

func (p *PeerConnection) writeMediaRTP(isAudio bool, payload []byte) error {
	p.outboundMu.Lock()
	defer p.outboundMu.Unlock()

	var track *pionwebrtc.TrackLocalStaticRTP
	if isAudio {
		track = p.audioOut
	} else {
		track = p.videoOut
	}
	if track == nil {
		return errors.NewInvalidDataError("no outbound track configured for this media kind")
	}

	var seq *uint16
	var ts *uint32
	var tsStep uint32
	if isAudio {
		seq, ts, tsStep = &p.audioSeq, &p.audioTS, audioSamplesPerPacket
	} else {
		seq, ts, tsStep = &p.videoSeq, &p.videoTS, videoClockPerFrame
	}

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			SequenceNumber: *seq,
			Timestamp:      *ts,
			Marker:         !isAudio,
		},
		Payload: payload,
	}

	*seq++
	*ts += tsStep

	if err := track.WriteRTP(pkt); err != nil {
		return errors.NewEncodingError("write outbound RTP failed", err)
	}
	return nil
}

// CreateDataChannel opens a data channel with Pion's default options
// (reliable, ordered), used for DataChannelMessage traffic.
func (p *PeerConnection) CreateDataChannel(label string) (*pionwebrtc.DataChannel, error) {
	dc, err := p.pc.CreateDataChannel(label, nil)
	if err != nil {
		return nil, errors.NewEncodingError("create data channel failed", err)
	}

	p.mu.Lock()
	p.dataChannel = dc
	p.mu.Unlock()

	dc.OnMessage(func(msg pionwebrtc.DataChannelMessage) {
		p.handleDataChannelMessage(msg)
	})

	return dc, nil
}

// SendDataChannelMessage sends a DataChannelMessage if a data channel is open.
func (p *PeerConnection) SendDataChannelMessage(msg types.DataChannelMessage) error {
	p.mu.RLock()
	dc := p.dataChannel
	p.mu.RUnlock()

	if dc == nil {
		return errors.NewInvalidDataError("no data channel open for peer")
	}

	switch msg.Kind {
	case types.DataChannelJSON:
		raw, err := json.Marshal(msg.JSON)
		if err != nil {
			return errors.NewEncodingError("encode data channel json failed", err)
		}
		return dc.SendText(string(raw))
	case types.DataChannelText:
		if len(msg.Text) > types.MaxDataChannelMessageBytes {
			return errors.NewInvalidDataError("data channel message exceeds maximum size")
		}
		return dc.SendText(msg.Text)
	case types.DataChannelBinary:
		if len(msg.Binary) > types.MaxDataChannelMessageBytes {
			return errors.NewInvalidDataError("data channel message exceeds maximum size")
		}
		return dc.Send(msg.Binary)
	default:
		return errors.NewInvalidDataError("unsupported data channel message kind")
	}
}

func (p *PeerConnection) handleDataChannelMessage(msg pionwebrtc.DataChannelMessage) {
	if p.onDataMessage == nil {
		return
	}

	if msg.IsString {
		p.onDataMessage(p.id, types.DataChannelMessage{Kind: types.DataChannelText, Text: string(msg.Data)})
		return
	}

	p.onDataMessage(p.id, types.DataChannelMessage{Kind: types.DataChannelBinary, Binary: msg.Data})
}

// readTrackPump reads RTP packets off a remote track and hands them to the
// sync manager keyed by media kind.
func (p *PeerConnection) readTrackPump(track *pionwebrtc.TrackRemote) {
	isAudio := track.Kind() == pionwebrtc.RTPCodecTypeAudio

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		p.ingestRTP(pkt, isAudio)
	}
}

func (p *PeerConnection) ingestRTP(pkt *rtp.Packet, isAudio bool) {
	shared := p.bufPool.Get(len(pkt.Payload))
	copy(shared.Bytes(), pkt.Payload)

	arrival := time.Now()

	if isAudio {
		p.sync.ProcessAudioFrame(types.AudioFrame{
			RTPTimestamp: pkt.Timestamp,
			RTPSequence:  pkt.SequenceNumber,
			Samples:      shared,
			SampleRate:   48000,
			ArrivalTime:  arrival,
			PayloadSize:  len(pkt.Payload),
		})
		return
	}

	p.sync.ProcessVideoFrame(types.VideoFrame{
		RTPTimestamp: pkt.Timestamp,
		RTPSequence:  pkt.SequenceNumber,
		Planes:       shared,
		ArrivalTime:  arrival,
		Marker:       pkt.Marker,
	})
}

// drainSenderRTCP reads the RTCP stream associated with an outbound sender.
// What arrives here is almost always a Receiver Report describing how the
// remote end is seeing our own outbound stream, which feeds bitrate
// adaptation; any Sender Report seen on this side describes our own send
// clock, not the remote's, so it is not forwarded to the sync manager.
func (p *PeerConnection) drainSenderRTCP(sender *pionwebrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		n, _, err := sender.Read(buf)
		if err != nil {
			return
		}

		pkts, err := decodeRTCP(buf[:n])
		if err != nil {
			continue
		}

		_, receiverReports := classifyRTCPPackets(pkts, time.Now())
		for _, rr := range receiverReports {
			p.applyReceiverReport(rr)
		}
	}
}

// drainReceiverRTCP reads the RTCP stream associated with an inbound track's
// receiver. This is where the remote's Sender Reports for that track arrive,
// carrying the NTP/RTP clock mapping the sync manager needs to reach Synced
// for that media kind.
func (p *PeerConnection) drainReceiverRTCP(receiver *pionwebrtc.RTPReceiver, isAudio bool) {
	buf := make([]byte, 1500)
	for {
		n, _, err := receiver.Read(buf)
		if err != nil {
			return
		}

		pkts, err := decodeRTCP(buf[:n])
		if err != nil {
			continue
		}

		senderReports, _ := classifyRTCPPackets(pkts, time.Now())
		for _, sr := range senderReports {
			p.sync.UpdateRTCPSenderReport(sr, isAudio)
		}
	}
}

func (p *PeerConnection) applyReceiverReport(rr types.RtcpReceiverReport) {
	lossRate := lossRateFromFraction(rr.FractionLost)
	kbps := p.bwe.Update(lossRate, 0)

	p.mu.Lock()
	p.metrics.PacketLossRate = lossRate
	p.metrics.BandwidthKbps = kbps
	p.metrics.UpdatedAt = time.Now()
	p.mu.Unlock()
}

// Metrics returns a snapshot of this connection's quality metrics.
func (p *PeerConnection) Metrics() types.ConnectionQualityMetrics {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.metrics
}

// ConnectedAt returns the time the connection last reached StateConnected.
func (p *PeerConnection) ConnectedAt() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connectedAt
}

// Close tears down the underlying Pion peer connection.
func (p *PeerConnection) Close() error {
	p.setState(types.StateClosed)
	return p.pc.Close()
}
