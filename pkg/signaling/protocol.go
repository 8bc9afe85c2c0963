// Package signaling implements the JSON-RPC 2.0 WebSocket client used for
// peer discovery and SDP/ICE exchange ahead of a direct WebRTC connection.
package signaling

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/zenmesh/transport/pkg/types"
)

const jsonrpcVersion = "2.0"

// newRequestID mints a fresh correlation id for a JSON-RPC request.
func newRequestID() string {
	return uuid.New().String()
}

// newNotification builds a fire-and-forget JSON-RPC message (no ID expected in reply).
func newNotification(method string, params interface{}) types.SignalingMessage {
	return types.SignalingMessage{JSONRPC: jsonrpcVersion, Method: method, Params: params}
}

// newRequest builds a JSON-RPC request carrying a correlation ID for a reply.
func newRequest(method string, params interface{}) (types.SignalingMessage, string) {
	id := newRequestID()
	return types.SignalingMessage{JSONRPC: jsonrpcVersion, Method: method, Params: params, ID: id}, id
}

// decodeParams re-marshals a message's loosely-typed Params field into a
// concrete struct. SignalingMessage.Params round-trips through
// encoding/json as map[string]interface{} once the envelope itself has been
// unmarshaled, so a second marshal/unmarshal pass is the straightforward way
// to recover the original shape.
func decodeParams(params interface{}, out interface{}) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
