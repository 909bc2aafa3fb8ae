package hub

import (
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/minhancr123/movie-web-sub000/store"
)

type msgWrap struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

type msgPremiereInfo struct {
	Premiere       store.Premiere `json:"premiere"`
	Status         string         `json:"status"`
	ServerTime     time.Time      `json:"server_time"`
	ResyncInterval float64        `json:"resync_interval_secs"`
	DriftThreshold float64        `json:"drift_threshold_secs"`
}

// viewerReq represents a viewer request (join, leave etc.) that's processed
// by a Room.
type viewerReq struct {
	reqType string
	peer    *Peer

	// Pre-rendered payload for requests that carry one (history delivery).
	data []byte
}

// chatReq represents an incoming chat post awaiting persistence.
type chatReq struct {
	peer *Peer
	body string
}

// Room holds the set of viewers watching one premiere, for presence and
// chat purposes. All membership state is owned by the room's run loop, so
// every join/leave and the count broadcast it triggers happen as one
// atomic step.
type Room struct {
	ID       string
	Premiere store.Premiere
	hub      *Hub

	// Connected viewers keyed by their handle. Rejoining with the same
	// handle replaces the previous connection.
	viewers map[string]*Peer

	// Broadcast channel for messages.
	broadcastQ chan []byte

	// Viewer related requests.
	viewerQ chan viewerReq

	// Chat posts, consumed by the persistence loop.
	chatQ chan chatReq

	// Read-only count queries.
	countQ chan chan int

	// Dispose signal.
	disposeSig chan bool

	// Closed by the run loop on disposal. Guards every external send so
	// nothing ever writes to a dead room's channels.
	done chan struct{}
}

// NewRoom returns a new instance of Room.
func NewRoom(p store.Premiere, h *Hub) *Room {
	return &Room{
		ID:         p.ID,
		Premiere:   p,
		hub:        h,
		viewers:    make(map[string]*Peer, 100),
		broadcastQ: make(chan []byte, 100),
		viewerQ:    make(chan viewerReq, 100),
		chatQ:      make(chan chatReq, 100),
		countQ:     make(chan chan int),
		disposeSig: make(chan bool),
		done:       make(chan struct{}),
	}
}

// AddViewer adds a viewer to the room given a WS connection from an HTTP
// handler. Joining is idempotent per handle.
func (r *Room) AddViewer(handle, name string, ws wsConn) {
	r.queueViewerReq(viewerReq{reqType: TypeRoomJoin, peer: newPeer(handle, name, ws, r)})
}

// Dispose signals the room to disconnect all viewers and dispose of itself.
func (r *Room) Dispose() {
	select {
	case <-r.done:
	case r.disposeSig <- true:
	}
}

// Broadcast broadcasts a message to all connected viewers.
func (r *Room) Broadcast(data []byte) {
	select {
	case <-r.done:
	case r.broadcastQ <- data:
	}
}

// CountOf reports the number of viewers currently in the room. A disposed
// room reports zero.
func (r *Room) CountOf() int {
	reply := make(chan int, 1)
	select {
	case <-r.done:
		return 0
	case r.countQ <- reply:
	}
	select {
	case <-r.done:
		return 0
	case n := <-reply:
		return n
	}
}

// run is a blocking function that starts the main event loop for a room that
// handles viewer presence events and message broadcasts. This should be
// invoked as a goroutine.
func (r *Room) run() {
	// Rooms are disposed only after sitting empty for the timeout.
	// Connected viewers are activity even when they never chat; a silent
	// audience is the normal case for a premiere.
	idle := time.NewTimer(r.hub.cfg.RoomTimeout)
	defer idle.Stop()

loop:
	for {
		select {
		// Dispose request.
		case <-r.disposeSig:
			break loop

		// Incoming viewer request.
		case req := <-r.viewerQ:
			switch req.reqType {
			// A new viewer has joined.
			case TypeRoomJoin:
				r.addViewer(req.peer)

			// A viewer has left or its connection dropped. Both take the
			// same path; a repeat for the same connection is a no-op so a
			// double disconnect never decrements twice.
			case TypeRoomLeave:
				if r.removeViewer(req.peer) {
					r.Broadcast(r.makeCountPayload())
					r.Broadcast(r.makePayload(req.peer.Name+" left", TypeNotice))
					r.hub.log.Printf("%s left %s (%d watching)", req.peer.Handle, r.ID, len(r.viewers))
					if len(r.viewers) == 0 {
						idle.Reset(r.hub.cfg.RoomTimeout)
					}
				}

			// A viewer asked for the current count.
			case TypeViewerCount:
				if r.viewers[req.peer.Handle] == req.peer {
					req.peer.SendData(r.makeCountPayload())
				}

			// Async deliveries (chat history, post errors) for a viewer
			// that may have left in the meantime.
			case TypeHistory, TypeError:
				if r.viewers[req.peer.Handle] == req.peer {
					req.peer.SendData(req.data)
				}
			}

		// Read-only count query.
		case reply := <-r.countQ:
			reply <- len(r.viewers)

		// Fanout broadcast to all viewers.
		case m := <-r.broadcastQ:
			for _, p := range r.viewers {
				p.SendData(m)
			}

		// Kill the room once it has been empty for the timeout.
		case <-idle.C:
			if len(r.viewers) == 0 {
				break loop
			}
			idle.Reset(r.hub.cfg.RoomTimeout)
		}
	}

	r.hub.log.Printf("stopped room: %v", r.ID)
	r.remove()
}

// runChat is a blocking function that consumes chat posts, assigns their
// server-side timestamps, persists them, and queues the broadcast only
// after persistence succeeds. It runs on its own goroutine so store I/O
// never blocks the presence loop, while still giving concurrent posts a
// total order consistent with arrival. This should be invoked as a goroutine.
func (r *Room) runChat() {
	for {
		var req chatReq
		select {
		case <-r.done:
			return
		case req = <-r.chatQ:
		}

		body := strings.TrimSpace(req.body)
		if body == "" || utf8.RuneCountInString(body) > r.hub.cfg.MaxMessageLen {
			r.queueViewerReq(viewerReq{
				reqType: TypeError,
				peer:    req.peer,
				data:    r.makePayload("invalid message", TypeError),
			})
			continue
		}

		m := store.Message{
			PremiereID: r.ID,
			AuthorID:   req.peer.Handle,
			AuthorName: req.peer.Name,
			Body:       body,
			Timestamp:  time.Now(),
		}
		if err := r.hub.Store.AddMessage(m); err != nil {
			r.hub.log.Printf("error persisting message in %s: %v", r.ID, err)
			r.queueViewerReq(viewerReq{
				reqType: TypeError,
				peer:    req.peer,
				data:    r.makePayload("message could not be sent", TypeError),
			})
			continue
		}
		r.Broadcast(r.makePayload(m, TypeMessage))
	}
}

// addViewer registers a peer in the room, starts its pumps and broadcasts
// the new count. Capacity overflows are refused outright.
func (r *Room) addViewer(p *Peer) {
	if len(r.viewers) >= r.hub.cfg.MaxViewersPerRoom {
		if _, ok := r.viewers[p.Handle]; !ok {
			p.writeWSControl(websocket.FormatCloseMessage(websocket.CloseNormalClosure, TypeRoomFull))
			p.ws.Close()
			return
		}
	}

	// Same handle rejoining replaces the old connection; the count is
	// unaffected.
	if old, ok := r.viewers[p.Handle]; ok {
		close(old.dataQ)
		old.ws.Close()
	}
	r.viewers[p.Handle] = p

	go p.RunListener()
	go p.RunWriter()

	// Send the viewer the premiere's sync parameters.
	p.SendData(r.makePremiereInfoPayload())

	// Fetch chat history off the loop and deliver it once.
	go r.sendHistory(p)

	r.Broadcast(r.makeCountPayload())
	r.Broadcast(r.makePayload(p.Name+" joined", TypeNotice))
	r.hub.log.Printf("%s joined %s (%d watching)", p.Handle, r.ID, len(r.viewers))
}

// removeViewer removes a peer from the room. It reports whether the peer
// was actually present, so stale leave requests (an explicit leave
// followed by the socket dropping, or a connection replaced by a rejoin)
// don't trigger another count broadcast.
func (r *Room) removeViewer(p *Peer) bool {
	cur, ok := r.viewers[p.Handle]
	if !ok || cur != p {
		return false
	}
	close(p.dataQ)
	delete(r.viewers, p.Handle)
	return true
}

// sendHistory fetches the recent chat history for the room and queues it
// for delivery to the given peer. Runs off the room loop as store reads
// can block.
func (r *Room) sendHistory(p *Peer) {
	msgs, err := r.hub.Store.GetMessages(r.ID, r.hub.cfg.HistoryLimit)
	if err != nil {
		r.hub.log.Printf("error reading history for %s: %v", r.ID, err)
		return
	}
	r.queueViewerReq(viewerReq{
		reqType: TypeHistory,
		peer:    p,
		data:    r.makePayload(msgs, TypeHistory),
	})
}

// remove disposes a room by disconnecting all viewers and deregistering
// the room from the hub. Peers get the same teardown as a normal leave:
// their outbound queue is closed so the writer pump exits, and the socket
// is dropped even if the client ignores the close frame.
func (r *Room) remove() {
	for handle, p := range r.viewers {
		p.writeWSControl(websocket.FormatCloseMessage(websocket.CloseNormalClosure, TypeRoomDispose))
		close(p.dataQ)
		p.ws.Close()
		delete(r.viewers, handle)
	}

	// Unblocks every pending and future send into the room's channels;
	// the channels themselves are never closed.
	close(r.done)
	r.hub.removeRoom(r.ID)
}

// queueViewerReq queues a viewer addition / removal request to the room.
func (r *Room) queueViewerReq(req viewerReq) {
	select {
	case <-r.done:
	case r.viewerQ <- req:
	}
}

// queueChat queues an incoming chat post for validation and persistence.
func (r *Room) queueChat(p *Peer, body string) {
	select {
	case <-r.done:
	case r.chatQ <- chatReq{peer: p, body: body}:
	}
}

// sendCount queues a count delivery to the given peer. The count itself
// is read inside the room loop so it's never stale.
func (r *Room) sendCount(p *Peer) {
	r.queueViewerReq(viewerReq{reqType: TypeViewerCount, peer: p})
}

// makeCountPayload prepares the viewer count message. The count is read
// inside the room loop, right at the mutation that triggered it.
func (r *Room) makeCountPayload() []byte {
	return r.makePayload(len(r.viewers), TypeViewerCount)
}

// makePremiereInfoPayload prepares the premiere metadata and sync tuning
// sent to a viewer on join.
func (r *Room) makePremiereInfoPayload() []byte {
	now := time.Now()
	return r.makePayload(msgPremiereInfo{
		Premiere:       r.Premiere,
		Status:         r.Premiere.Status(now),
		ServerTime:     now,
		ResyncInterval: r.hub.cfg.ResyncInterval.Seconds(),
		DriftThreshold: r.hub.cfg.DriftThreshold.Seconds(),
	}, TypePremiereInfo)
}

// makePayload prepares a message payload.
func (r *Room) makePayload(data interface{}, typ string) []byte {
	m := msgWrap{
		Timestamp: time.Now(),
		Type:      typ,
		Data:      data,
	}
	b, _ := json.Marshal(m)
	return b
}
