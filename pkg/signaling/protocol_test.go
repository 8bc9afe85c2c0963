package signaling

import (
	"encoding/json"
	"testing"

	"github.com/zenmesh/transport/pkg/types"
)

func TestNewRequestCarriesID(t *testing.T) {
	msg, id := newRequest(types.MethodPeerOffer, types.OfferParams{From: "a", To: "b", SDP: "v=0"})
	if msg.ID != id {
		t.Fatalf("message ID %q does not match returned ID %q", msg.ID, id)
	}
	if msg.JSONRPC != jsonrpcVersion {
		t.Fatalf("expected jsonrpc version %q, got %q", jsonrpcVersion, msg.JSONRPC)
	}
}

func TestNewNotificationOmitsID(t *testing.T) {
	msg := newNotification(types.MethodPeerDisconnect, types.DisconnectParams{From: "a", To: "b"})
	if msg.ID != "" {
		t.Fatalf("expected empty ID on a notification, got %q", msg.ID)
	}
}

func TestDecodeParamsRoundTrips(t *testing.T) {
	original := types.OfferParams{From: "a", To: "b", SDP: "v=0", RequestID: "req-1"}

	// Simulate the map[string]interface{} shape produced by unmarshaling the envelope.
	var asMap interface{}
	raw, _ := json.Marshal(original)
	json.Unmarshal(raw, &asMap)

	var decoded types.OfferParams
	if err := decodeParams(asMap, &decoded); err != nil {
		t.Fatalf("decodeParams failed: %v", err)
	}

	if decoded != original {
		t.Fatalf("decoded params %+v do not match original %+v", decoded, original)
	}
}
