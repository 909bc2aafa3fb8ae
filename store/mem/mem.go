package mem

import (
	"sort"
	"sync"
	"time"

	"github.com/minhancr123/movie-web-sub000/store"
)

// Config represents the InMemory store config structure.
type Config struct {
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// InMemory represents the in-memory implementation of the Store interface.
// Rooms survive only for the life of the process; it's meant for dev
// setups and tests.
type InMemory struct {
	cfg       *Config
	premieres map[string]store.Premiere
	sessions  map[string]map[string]sessEntry
	messages  map[string][]store.Message
	mu        sync.Mutex
}

type sessEntry struct {
	sess   store.Sess
	expire time.Time
}

// New returns a new in-memory store.
func New(cfg Config) (*InMemory, error) {
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = time.Minute
	}
	m := &InMemory{
		cfg:       &cfg,
		premieres: map[string]store.Premiere{},
		sessions:  map[string]map[string]sessEntry{},
		messages:  map[string][]store.Message{},
	}
	go m.watch()
	return m, nil
}

// watch the store to clean it up.
func (m *InMemory) watch() {
	t := time.NewTicker(m.cfg.SweepInterval)
	defer t.Stop()
	for range t.C {
		m.cleanup()
	}
}

// cleanup removes expired sessions.
func (m *InMemory) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for _, sessions := range m.sessions {
		for id, s := range sessions {
			if s.expire.Before(now) {
				delete(sessions, id)
			}
		}
	}
}

// AddPremiere adds a premiere to the store.
func (m *InMemory) AddPremiere(p store.Premiere) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.premieres[p.ID] = p
	return nil
}

// GetPremiere gets a premiere from the store.
func (m *InMemory) GetPremiere(id string) (store.Premiere, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.premieres[id]
	if !ok {
		return store.Premiere{}, store.ErrPremiereNotFound
	}
	return p, nil
}

// PremiereExists checks if a premiere exists in the store.
func (m *InMemory) PremiereExists(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.premieres[id]
	return ok, nil
}

// ListPremieres returns up to limit premieres sorted by start time, soonest first.
func (m *InMemory) ListPremieres(limit int) ([]store.Premiere, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]store.Premiere, 0, len(m.premieres))
	for _, p := range m.premieres {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.Before(out[j].StartTime)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AddSession adds a viewer session to a premiere.
func (m *InMemory) AddSession(sessID, handle, name, premiereID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions, ok := m.sessions[premiereID]
	if !ok {
		sessions = map[string]sessEntry{}
		m.sessions[premiereID] = sessions
	}
	sessions[sessID] = sessEntry{
		sess:   store.Sess{ID: sessID, Handle: handle, Name: name},
		expire: time.Now().Add(ttl),
	}
	return nil
}

// GetSession retrieves a viewer session from the store.
func (m *InMemory) GetSession(sessID, premiereID string) (store.Sess, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[premiereID][sessID]
	if !ok || s.expire.Before(time.Now()) {
		return store.Sess{}, nil
	}
	return s.sess, nil
}

// RemoveSession deletes a session from a premiere.
func (m *InMemory) RemoveSession(sessID, premiereID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions[premiereID], sessID)
	return nil
}

// AddMessage appends a chat message to a premiere's history.
func (m *InMemory) AddMessage(msg store.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.messages[msg.PremiereID] = append(m.messages[msg.PremiereID], msg)
	return nil
}

// GetMessages returns up to limit most recent messages, oldest first.
func (m *InMemory) GetMessages(premiereID string, limit int) ([]store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := m.messages[premiereID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]store.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}
