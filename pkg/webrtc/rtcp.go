package webrtc

import (
	"time"

	"github.com/pion/rtcp"

	"github.com/zenmesh/transport/pkg/types"
)

// decodeRTCP unmarshals a raw compound RTCP packet read off an RTPSender or
// RTPReceiver.
func decodeRTCP(raw []byte) ([]rtcp.Packet, error) {
	return rtcp.Unmarshal(raw)
}

// senderReportFromRTCP converts a parsed Pion SenderReport into the sync
// layer's RtcpSenderReport.
func senderReportFromRTCP(sr *rtcp.SenderReport, receivedAt time.Time) types.RtcpSenderReport {
	return types.RtcpSenderReport{
		NTPTimestamp: sr.NTPTime,
		RTPTimestamp: sr.RTPTime,
		PacketCount:  sr.PacketCount,
		OctetCount:   sr.OctetCount,
		SSRC:         sr.SSRC,
		ReceivedAt:   receivedAt,
	}
}

// receiverReportFromRTCP converts a parsed Pion ReceiverReport's first
// reception block into the bitrate controller's RtcpReceiverReport. Reports
// with no reception blocks (nothing yet to report on) return ok=false.
func receiverReportFromRTCP(rr *rtcp.ReceiverReport, receivedAt time.Time) (types.RtcpReceiverReport, bool) {
	if len(rr.Reports) == 0 {
		return types.RtcpReceiverReport{}, false
	}

	block := rr.Reports[0]
	return types.RtcpReceiverReport{
		SSRC:               block.SSRC,
		FractionLost:       block.FractionLost,
		CumulativeLost:     block.TotalLost,
		InterarrivalJitter: block.Jitter,
		LastSR:             block.LastSenderReport,
		DelaySinceLastSR:   block.Delay,
		ReceivedAt:         receivedAt,
	}, true
}

// lossRateFromFraction converts an RTCP fraction-lost byte (0-255, fixed point /256)
// into a [0,1] ratio.
func lossRateFromFraction(fractionLost uint8) float64 {
	return float64(fractionLost) / 256.0
}

// classifyRTCPPackets sorts already-parsed RTCP packets (see decodeRTCP) into
// sender and receiver reports; other packet types are ignored.
func classifyRTCPPackets(pkts []rtcp.Packet, receivedAt time.Time) (senderReports []types.RtcpSenderReport, receiverReports []types.RtcpReceiverReport) {
	for _, pkt := range pkts {
		switch p := pkt.(type) {
		case *rtcp.SenderReport:
			senderReports = append(senderReports, senderReportFromRTCP(p, receivedAt))
		case *rtcp.ReceiverReport:
			if rr, ok := receiverReportFromRTCP(p, receivedAt); ok {
				receiverReports = append(receiverReports, rr)
			}
		}
	}
	return senderReports, receiverReports
}
