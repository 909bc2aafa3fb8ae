package hub

import (
	"crypto/rand"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/minhancr123/movie-web-sub000/store"
)

// Types of messages sent to viewers.
const (
	TypeMessage         = "message"
	TypeHistory         = "chat.history"
	TypeViewerCount     = "viewer.count"
	TypePremiereInfo    = "premiere.info"
	TypeRoomJoin        = "room.join"
	TypeRoomLeave       = "room.leave"
	TypeRoomFull        = "room.full"
	TypeRoomDispose     = "room.dispose"
	TypePeerRateLimited = "peer.ratelimited"
	TypeNotice          = "notice"
	TypeError           = "error"
)

// Config represents the app configuration.
type Config struct {
	Address string `koanf:"address"`
	RootURL string `koanf:"root_url"`
	Name    string `koanf:"name"`

	HistoryLimit      int           `koanf:"history_limit"`
	MaxMessageLen     int           `koanf:"max_message_length"`
	WSTimeout         time.Duration `koanf:"websocket_timeout"`
	MaxMessageQueue   int           `koanf:"max_message_queue"`
	RateLimitInterval time.Duration `koanf:"rate_limit_interval"`
	RateLimitMessages int           `koanf:"rate_limit_messages"`
	MaxViewersPerRoom int           `koanf:"max_viewers_per_room"`
	RoomTimeout       time.Duration `koanf:"room_timeout"`
	SessionTTL        time.Duration `koanf:"session_ttl"`
	SessionCookie     string        `koanf:"session_cookie"`

	// Playback sync tuning handed to clients on join.
	ResyncInterval time.Duration `koanf:"resync_interval"`
	DriftThreshold time.Duration `koanf:"drift_threshold"`
}

// Hub acts as the controller and container for all premiere rooms.
type Hub struct {
	Store store.Store
	rooms map[string]*Room

	cfg *Config
	mut sync.RWMutex
	log *log.Logger
}

// NewHub returns a new instance of Hub.
func NewHub(cfg *Config, store store.Store, l *log.Logger) *Hub {
	return &Hub{
		rooms: make(map[string]*Room),

		cfg:   cfg,
		Store: store,
		log:   l,
	}
}

// ActivateRoom loads a premiere's room into the hub if it's not already
// active. The premiere existence check happens here, not in the room,
// which is dumb bookkeeping.
func (h *Hub) ActivateRoom(premiereID string) (*Room, error) {
	h.mut.RLock()
	room, ok := h.rooms[premiereID]
	h.mut.RUnlock()
	if ok {
		return room, nil
	}

	p, err := h.Store.GetPremiere(premiereID)
	if err != nil {
		return nil, errors.New("premiere doesn't exist")
	}

	return h.initRoom(p), nil
}

// GetRoom retrieves an active room from the hub.
func (h *Hub) GetRoom(premiereID string) *Room {
	h.mut.RLock()
	r := h.rooms[premiereID]
	h.mut.RUnlock()
	return r
}

// initRoom initializes a room on the Hub. Re-checks the registry under
// the write lock: two concurrent first activations race the read lock in
// ActivateRoom, and only one room may own a premiere.
func (h *Hub) initRoom(p store.Premiere) *Room {
	h.mut.Lock()
	if r, ok := h.rooms[p.ID]; ok {
		h.mut.Unlock()
		return r
	}
	r := NewRoom(p, h)
	h.rooms[p.ID] = r
	h.mut.Unlock()

	go r.run()
	go r.runChat()
	return r
}

// removeRoom removes a room from the hub. The premiere itself stays in
// the store; rooms are ephemeral.
func (h *Hub) removeRoom(premiereID string) {
	h.mut.Lock()
	delete(h.rooms, premiereID)
	h.mut.Unlock()
}

// GenerateGUID generates a cryptographically random, alphanumeric string of length n.
func GenerateGUID(n int) (string, error) {
	const dictionary = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	var bytes = make([]byte, n)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	for k, v := range bytes {
		bytes[k] = dictionary[v%byte(len(dictionary))]
	}
	return string(bytes), nil
}
