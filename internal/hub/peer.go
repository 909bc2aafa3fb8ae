package hub

import (
	"encoding/json"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
)

// wsConn is the subset of *websocket.Conn the hub uses. Tests substitute
// in-memory fakes.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	Close() error
}

// Peer represents an individual viewer connection into a premiere room.
type Peer struct {
	// Viewer's opaque handle and display name.
	Handle string
	Name   string

	ws wsConn

	// Channel for outbound messages.
	dataQ chan []byte

	// Peer's room.
	room *Room

	// Rate limiting.
	numMessages int
	lastMessage time.Time
}

// payloadMsgWrap is the envelope for incoming client messages.
type payloadMsgWrap struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// newPeer returns a new instance of Peer.
func newPeer(handle, name string, ws wsConn, room *Room) *Peer {
	return &Peer{
		Handle: handle,
		Name:   name,
		ws:     ws,
		dataQ:  make(chan []byte, room.hub.cfg.MaxMessageQueue),
		room:   room,
	}
}

// RunListener is a blocking function that reads incoming messages from a
// peer's WS connection until it's dropped or there's an error. This should
// be invoked as a goroutine.
func (p *Peer) RunListener() {
	// The length cap is in characters; the frame limit has to fit the
	// widest UTF-8 encoding of that many characters plus the envelope.
	p.ws.SetReadLimit(int64(p.room.hub.cfg.MaxMessageLen*utf8.UTFMax + 256))
	for {
		_, m, err := p.ws.ReadMessage()
		if err != nil {
			break
		}
		p.processMessage(m)
	}

	// WS connection is closed. A dropped socket is a leave like any other.
	p.ws.Close()
	p.room.queueViewerReq(viewerReq{reqType: TypeRoomLeave, peer: p})
}

// RunWriter is a blocking function that writes messages in a peer's queue
// to the peer's WS connection. This should be invoked as a goroutine.
func (p *Peer) RunWriter() {
	defer p.ws.Close()
	for {
		message, ok := <-p.dataQ
		if !ok {
			p.writeWSData(websocket.CloseMessage, []byte{})
			return
		}
		if err := p.writeWSData(websocket.TextMessage, message); err != nil {
			return
		}
	}
}

// SendData queues a message to be written to the peer's WS.
func (p *Peer) SendData(b []byte) {
	select {
	case p.dataQ <- b:
	default:
		// Queue's full; the peer is too slow to keep up. Drop the socket
		// and let the listener's exit path run the leave.
		p.ws.Close()
	}
}

// sendError routes an error notification through the room loop so it's
// only delivered while the peer is still a member (its queue is owned by
// the loop and may already be closed otherwise).
func (p *Peer) sendError(reason string) {
	p.room.queueViewerReq(viewerReq{
		reqType: TypeError,
		peer:    p,
		data:    p.room.makePayload(reason, TypeError),
	})
}

// writeWSData writes the given payload to the peer's WS connection.
func (p *Peer) writeWSData(msgType int, payload []byte) error {
	p.ws.SetWriteDeadline(time.Now().Add(p.room.hub.cfg.WSTimeout))
	return p.ws.WriteMessage(msgType, payload)
}

// writeWSControl writes the given close payload to the peer's WS connection.
func (p *Peer) writeWSControl(payload []byte) error {
	return p.ws.WriteControl(websocket.CloseMessage, payload, time.Time{})
}

// processMessage processes incoming messages from peers.
func (p *Peer) processMessage(b []byte) {
	var m payloadMsgWrap
	if err := json.Unmarshal(b, &m); err != nil {
		p.sendError("malformed request")
		return
	}

	switch m.Type {
	// Chat post to the room.
	case TypeMessage:
		// Check rate limits and update counters.
		now := time.Now()
		if p.numMessages > 0 {
			if (p.numMessages%p.room.hub.cfg.RateLimitMessages+1) >= p.room.hub.cfg.RateLimitMessages &&
				time.Since(p.lastMessage) < p.room.hub.cfg.RateLimitInterval {
				p.writeWSControl(websocket.FormatCloseMessage(websocket.CloseNormalClosure, TypePeerRateLimited))
				p.ws.Close()
				return
			}
		}
		p.lastMessage = now
		p.numMessages++

		var body string
		if err := json.Unmarshal(m.Data, &body); err != nil {
			p.sendError("malformed message body")
			return
		}
		p.room.queueChat(p, body)

	// Explicit leave. The socket close that follows takes the same path
	// but is a no-op by then.
	case TypeRoomLeave:
		p.room.queueViewerReq(viewerReq{reqType: TypeRoomLeave, peer: p})
		p.ws.Close()

	// Request for the current viewer count.
	case TypeViewerCount:
		p.room.sendCount(p)
	default:
	}
}
