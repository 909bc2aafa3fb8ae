package sqlite

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/minhancr123/movie-web-sub000/store"
)

// Config represents the SQLite store config structure.
type Config struct {
	Path string `koanf:"path"`
}

// SQLite represents the SQLite implementation of the Store interface.
// Unlike the redis backend, chat history here is durable across restarts.
type SQLite struct {
	cfg *Config
	db  *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS premieres (
	id TEXT PRIMARY KEY,
	movie_slug TEXT NOT NULL,
	title TEXT NOT NULL,
	start_time DATETIME NOT NULL,
	duration_secs INTEGER NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	id TEXT NOT NULL,
	premiere_id TEXT NOT NULL,
	handle TEXT NOT NULL,
	name TEXT NOT NULL,
	expires_at DATETIME NOT NULL,
	PRIMARY KEY (premiere_id, id)
);

CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	premiere_id TEXT NOT NULL,
	author_id TEXT NOT NULL,
	author_name TEXT NOT NULL,
	body TEXT NOT NULL,
	ts DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_premiere_ts ON messages(premiere_id, ts);
CREATE INDEX IF NOT EXISTS idx_premieres_start ON premieres(start_time);
`

// New opens (creating if needed) the SQLite store at cfg.Path.
func New(cfg Config) (*SQLite, error) {
	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, err
	}
	return &SQLite{cfg: &cfg, db: db}, nil
}

// AddPremiere adds a premiere to the store.
func (s *SQLite) AddPremiere(p store.Premiere) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO premieres
		(id, movie_slug, title, start_time, duration_secs, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.MovieSlug, p.Title, p.StartTime.UTC(), int64(p.Duration.Seconds()), p.CreatedAt.UTC())
	return err
}

// GetPremiere gets a premiere from the store.
func (s *SQLite) GetPremiere(id string) (store.Premiere, error) {
	var (
		p    store.Premiere
		secs int64
	)
	err := s.db.QueryRow(`SELECT id, movie_slug, title, start_time, duration_secs, created_at
		FROM premieres WHERE id = ?`, id).
		Scan(&p.ID, &p.MovieSlug, &p.Title, &p.StartTime, &secs, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return store.Premiere{}, store.ErrPremiereNotFound
	}
	if err != nil {
		return store.Premiere{}, err
	}
	p.Duration = time.Duration(secs) * time.Second
	return p, nil
}

// PremiereExists checks if a premiere exists in the store.
func (s *SQLite) PremiereExists(id string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(1) FROM premieres WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListPremieres returns up to limit premieres ordered by start time.
func (s *SQLite) ListPremieres(limit int) ([]store.Premiere, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`SELECT id, movie_slug, title, start_time, duration_secs, created_at
		FROM premieres ORDER BY start_time ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Premiere
	for rows.Next() {
		var (
			p    store.Premiere
			secs int64
		)
		if err := rows.Scan(&p.ID, &p.MovieSlug, &p.Title, &p.StartTime, &secs, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Duration = time.Duration(secs) * time.Second
		out = append(out, p)
	}
	return out, rows.Err()
}

// AddSession adds a viewer session to a premiere.
func (s *SQLite) AddSession(sessID, handle, name, premiereID string, ttl time.Duration) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO sessions (id, premiere_id, handle, name, expires_at)
		VALUES (?, ?, ?, ?, ?)`,
		sessID, premiereID, handle, name, time.Now().Add(ttl).UTC())
	return err
}

// GetSession retrieves a viewer session from the store.
func (s *SQLite) GetSession(sessID, premiereID string) (store.Sess, error) {
	var out store.Sess
	err := s.db.QueryRow(`SELECT id, handle, name FROM sessions
		WHERE id = ? AND premiere_id = ? AND expires_at > ?`,
		sessID, premiereID, time.Now().UTC()).
		Scan(&out.ID, &out.Handle, &out.Name)
	if err == sql.ErrNoRows {
		return store.Sess{}, nil
	}
	if err != nil {
		return store.Sess{}, err
	}
	return out, nil
}

// RemoveSession deletes a session from a premiere.
func (s *SQLite) RemoveSession(sessID, premiereID string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE id = ? AND premiere_id = ?`, sessID, premiereID)
	return err
}

// AddMessage appends a chat message to a premiere's history.
func (s *SQLite) AddMessage(m store.Message) error {
	_, err := s.db.Exec(`INSERT INTO messages (premiere_id, author_id, author_name, body, ts)
		VALUES (?, ?, ?, ?, ?)`,
		m.PremiereID, m.AuthorID, m.AuthorName, m.Body, m.Timestamp.UTC())
	return err
}

// GetMessages returns up to limit most recent messages, oldest first.
func (s *SQLite) GetMessages(premiereID string, limit int) ([]store.Message, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`SELECT premiere_id, author_id, author_name, body, ts FROM
		(SELECT * FROM messages WHERE premiere_id = ? ORDER BY ts DESC, id DESC LIMIT ?)
		ORDER BY ts ASC, id ASC`, premiereID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Message
	for rows.Next() {
		var m store.Message
		if err := rows.Scan(&m.PremiereID, &m.AuthorID, &m.AuthorName, &m.Body, &m.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
