package signaling

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zenmesh/transport/pkg/errors"
	"github.com/zenmesh/transport/pkg/logger"
	"github.com/zenmesh/transport/pkg/types"
)

const (
	writeTimeout   = 10 * time.Second
	pingInterval   = 30 * time.Second
	requestTimeout = 10 * time.Second

	backoffBase = 1 * time.Second
	backoffCap  = 30 * time.Second
)

// Client is a signaling WebSocket client: it dials out to a signaling
// endpoint, speaks JSON-RPC 2.0 over the connection, and reconnects with
// exponential backoff (base 1s, cap 30s) on unexpected disconnects.
type Client struct {
	url string
	log logger.Logger

	mu      sync.RWMutex
	conn    *websocket.Conn
	closed  bool
	sendCh  chan []byte
	closeCh chan struct{}

	pendingMu sync.Mutex
	pending   map[string]chan types.SignalingMessage

	onAnnounce     func(types.AnnounceParams)
	onOffer        func(types.OfferParams)
	onAnswer       func(types.AnswerParams)
	onICECandidate func(types.ICECandidateParams)
	onDisconnect   func(types.DisconnectParams)
	onReconnected  func()

	signer *RequestSigner

	wg sync.WaitGroup
}

// NewClient constructs a client bound to a signaling URL; call Connect to dial.
func NewClient(url string, log logger.Logger) *Client {
	return &Client{
		url:     url,
		log:     log,
		sendCh:  make(chan []byte, 256),
		closeCh: make(chan struct{}),
		pending: make(map[string]chan types.SignalingMessage),
	}
}

// OnAnnounce registers the callback for inbound peer.announce notifications.
func (c *Client) OnAnnounce(cb func(types.AnnounceParams)) { c.onAnnounce = cb }

// OnOffer registers the callback for inbound peer.offer notifications.
func (c *Client) OnOffer(cb func(types.OfferParams)) { c.onOffer = cb }

// OnAnswer registers the callback for inbound peer.answer notifications.
func (c *Client) OnAnswer(cb func(types.AnswerParams)) { c.onAnswer = cb }

// OnICECandidate registers the callback for inbound peer.ice_candidate notifications.
func (c *Client) OnICECandidate(cb func(types.ICECandidateParams)) { c.onICECandidate = cb }

// OnDisconnect registers the callback for inbound peer.disconnect notifications.
func (c *Client) OnDisconnect(cb func(types.DisconnectParams)) { c.onDisconnect = cb }

// OnReconnected registers a callback fired after a successful automatic reconnect.
func (c *Client) OnReconnected(cb func()) { c.onReconnected = cb }

// SetSigner enables HMAC signing of outbound request ids for offer/answer/
// ice_candidate messages.
func (c *Client) SetSigner(signer *RequestSigner) { c.signer = signer }

// signedRequestID returns a fresh request id, appending an HMAC tag when a
// signer is configured.
func (c *Client) signedRequestID() string {
	id := newRequestID()
	if c.signer == nil {
		return id
	}
	return id + "." + c.signer.Sign(id)
}

// Connect dials the signaling endpoint and starts the read/write pumps.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return errors.NewSignalingError("failed to dial signaling endpoint", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.closed = false
	c.mu.Unlock()

	c.wg.Add(2)
	go c.readPump(ctx)
	go c.writePump(ctx)

	return nil
}

// readPump reads inbound frames, dispatching replies to pending requests and
// notifications to their registered callbacks. On an unexpected close it
// triggers the reconnect loop.
func (c *Client) readPump(ctx context.Context) {
	defer c.wg.Done()

	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()

		_, data, err := conn.ReadMessage()
		if err != nil {
			c.log.Warn("signaling connection lost", logger.Err(err))
			if !c.isClosed() {
				go c.reconnectLoop(ctx)
			}
			return
		}

		var msg types.SignalingMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn("failed to decode signaling message", logger.Err(err))
			continue
		}

		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg types.SignalingMessage) {
	if msg.ID != "" && msg.Method == "" {
		c.pendingMu.Lock()
		ch, ok := c.pending[msg.ID]
		if ok {
			delete(c.pending, msg.ID)
		}
		c.pendingMu.Unlock()

		if ok {
			ch <- msg
		}
		return
	}

	switch msg.Method {
	case types.MethodPeerAnnounce:
		var p types.AnnounceParams
		if decodeParams(msg.Params, &p) == nil && c.onAnnounce != nil {
			c.onAnnounce(p)
		}
	case types.MethodPeerOffer:
		var p types.OfferParams
		if decodeParams(msg.Params, &p) == nil && c.onOffer != nil {
			c.onOffer(p)
		}
	case types.MethodPeerAnswer:
		var p types.AnswerParams
		if decodeParams(msg.Params, &p) == nil && c.onAnswer != nil {
			c.onAnswer(p)
		}
	case types.MethodPeerICECandidate:
		var p types.ICECandidateParams
		if decodeParams(msg.Params, &p) == nil && c.onICECandidate != nil {
			c.onICECandidate(p)
		}
	case types.MethodPeerDisconnect:
		var p types.DisconnectParams
		if decodeParams(msg.Params, &p) == nil && c.onDisconnect != nil {
			c.onDisconnect(p)
		}
	}
}

func (c *Client) writePump(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-c.sendCh:
			if !ok {
				return
			}
			c.mu.RLock()
			conn := c.conn
			c.mu.RUnlock()

			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Warn("failed to write signaling message", logger.Err(err))
			}

		case <-ticker.C:
			c.mu.RLock()
			conn := c.conn
			c.mu.RUnlock()
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			conn.WriteMessage(websocket.PingMessage, nil)

		case <-c.closeCh:
			return

		case <-ctx.Done():
			return
		}
	}
}

// reconnectLoop retries Connect with exponential backoff (base 1s, cap 30s)
// until it succeeds or the client is closed.
func (c *Client) reconnectLoop(ctx context.Context) {
	delay := backoffBase

	for {
		if c.isClosed() {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		c.log.Info("attempting signaling reconnect")

		if err := c.Connect(ctx); err != nil {
			c.log.Warn("signaling reconnect failed", logger.Err(err))
			delay *= 2
			if delay > backoffCap {
				delay = backoffCap
			}
			continue
		}

		c.log.Info("signaling reconnected")
		if c.onReconnected != nil {
			c.onReconnected()
		}
		return
	}
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// request sends a JSON-RPC request and blocks for its reply or timeout.
func (c *Client) request(method string, params interface{}) (types.SignalingMessage, error) {
	msg, id := newRequest(method, params)

	data, err := json.Marshal(msg)
	if err != nil {
		return types.SignalingMessage{}, errors.NewEncodingError("signaling request", err)
	}

	replyCh := make(chan types.SignalingMessage, 1)
	c.pendingMu.Lock()
	c.pending[id] = replyCh
	c.pendingMu.Unlock()

	select {
	case c.sendCh <- data:
	default:
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return types.SignalingMessage{}, errors.NewSignalingError("send buffer full", nil)
	}

	select {
	case reply := <-replyCh:
		if reply.Error != nil {
			return reply, errors.NewSignalingError(reply.Error.Message, nil)
		}
		return reply, nil
	case <-time.After(requestTimeout):
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return types.SignalingMessage{}, errors.NewSignalingTimeoutError(method)
	}
}

// notify sends a fire-and-forget JSON-RPC notification.
func (c *Client) notify(method string, params interface{}) error {
	msg := newNotification(method, params)

	data, err := json.Marshal(msg)
	if err != nil {
		return errors.NewEncodingError("signaling notification", err)
	}

	select {
	case c.sendCh <- data:
		return nil
	default:
		return errors.NewSignalingError("send buffer full", nil)
	}
}

// Announce registers this peer's capabilities with the signaling server.
func (c *Client) Announce(peerID string, caps types.Capabilities) error {
	return c.notify(types.MethodPeerAnnounce, types.AnnounceParams{PeerID: peerID, Capabilities: caps})
}

// SendOffer relays an SDP offer to a remote peer via the signaling server.
func (c *Client) SendOffer(from, to, sdp string) error {
	return c.notify(types.MethodPeerOffer, types.OfferParams{From: from, To: to, SDP: sdp, RequestID: c.signedRequestID()})
}

// SendAnswer relays an SDP answer to a remote peer via the signaling server.
func (c *Client) SendAnswer(from, to, sdp string) error {
	return c.notify(types.MethodPeerAnswer, types.AnswerParams{From: from, To: to, SDP: sdp, RequestID: c.signedRequestID()})
}

// SendICECandidate relays a trickle ICE candidate to a remote peer.
func (c *Client) SendICECandidate(from, to string, candidate interface{}) error {
	return c.notify(types.MethodPeerICECandidate, types.ICECandidateParams{From: from, To: to, Candidate: candidate, RequestID: c.signedRequestID()})
}

// SendDisconnect notifies the signaling server (and, transitively, other
// peers) that this peer is leaving.
func (c *Client) SendDisconnect(from, to string) error {
	return c.notify(types.MethodPeerDisconnect, types.DisconnectParams{From: from, To: to})
}

// Close terminates the connection and stops reconnect attempts.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	close(c.closeCh)

	var err error
	if conn != nil {
		err = conn.Close()
	}

	c.wg.Wait()

	return err
}
