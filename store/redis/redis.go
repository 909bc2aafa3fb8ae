package redis

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/minhancr123/movie-web-sub000/store"
)

// Config represents the Redis store config structure.
type Config struct {
	Address     string        `koanf:"address"`
	Password    string        `koanf:"password"`
	DB          int           `koanf:"db"`
	ActiveConns int           `koanf:"active_conns"`
	IdleConns   int           `koanf:"idle_conns"`
	Timeout     time.Duration `koanf:"timeout"`

	PrefixPremiere string `koanf:"prefix_premiere"`
	PrefixSession  string `koanf:"prefix_session"`
	PrefixMessages string `koanf:"prefix_messages"`
	KeySchedule    string `koanf:"key_schedule"`

	// Messages kept per premiere before the oldest are trimmed.
	MaxMessages int `koanf:"max_messages"`
}

// Redis represents the Redis implementation of the Store interface.
type Redis struct {
	cfg  *Config
	pool *redis.Pool
}

type premiere struct {
	ID        string `redis:"id"`
	MovieSlug string `redis:"movie_slug"`
	Title     string `redis:"title"`
	StartTime string `redis:"start_time"`
	Duration  int64  `redis:"duration"`
	CreatedAt string `redis:"created_at"`
}

// New returns a new Redis store.
func New(cfg Config) (*Redis, error) {
	pool := &redis.Pool{
		Wait:      true,
		MaxActive: cfg.ActiveConns,
		MaxIdle:   cfg.IdleConns,
		Dial: func() (redis.Conn, error) {
			return redis.Dial(
				"tcp",
				cfg.Address,
				redis.DialPassword(cfg.Password),
				redis.DialConnectTimeout(cfg.Timeout),
				redis.DialReadTimeout(cfg.Timeout),
				redis.DialWriteTimeout(cfg.Timeout),
				redis.DialDatabase(cfg.DB),
			)
		},
	}
	if cfg.MaxMessages == 0 {
		cfg.MaxMessages = 1000
	}

	// Test connection.
	c := pool.Get()
	defer c.Close()

	if err := c.Err(); err != nil {
		return nil, err
	}
	return &Redis{cfg: &cfg, pool: pool}, nil
}

// AddPremiere adds a premiere to the store and indexes it by start time.
func (r *Redis) AddPremiere(p store.Premiere) error {
	c := r.pool.Get()
	defer c.Close()

	key := fmt.Sprintf(r.cfg.PrefixPremiere, p.ID)
	c.Send("HMSET", key,
		"id", p.ID,
		"movie_slug", p.MovieSlug,
		"title", p.Title,
		"start_time", p.StartTime.Format(time.RFC3339),
		"duration", int64(p.Duration.Seconds()),
		"created_at", p.CreatedAt.Format(time.RFC3339))
	c.Send("ZADD", r.cfg.KeySchedule, p.StartTime.Unix(), p.ID)
	return c.Flush()
}

// GetPremiere gets a premiere from the store.
func (r *Redis) GetPremiere(id string) (store.Premiere, error) {
	c := r.pool.Get()
	defer c.Close()

	var (
		out store.Premiere
		p   premiere
		key = fmt.Sprintf(r.cfg.PrefixPremiere, id)
	)
	res, err := redis.Values(c.Do("HGETALL", key))
	if err != nil {
		return out, err
	}
	if len(res) == 0 {
		return out, store.ErrPremiereNotFound
	}
	if err := redis.ScanStruct(res, &p); err != nil {
		return out, err
	}

	start, err := time.Parse(time.RFC3339, p.StartTime)
	if err != nil {
		return out, err
	}
	created, err := time.Parse(time.RFC3339, p.CreatedAt)
	if err != nil {
		return out, err
	}
	return store.Premiere{
		ID:        id,
		MovieSlug: p.MovieSlug,
		Title:     p.Title,
		StartTime: start,
		Duration:  time.Duration(p.Duration) * time.Second,
		CreatedAt: created,
	}, nil
}

// PremiereExists checks if a premiere exists in the store.
func (r *Redis) PremiereExists(id string) (bool, error) {
	c := r.pool.Get()
	defer c.Close()

	ok, err := redis.Bool(c.Do("EXISTS", fmt.Sprintf(r.cfg.PrefixPremiere, id)))
	if err != nil && err != redis.ErrNil {
		return false, err
	}
	return ok, nil
}

// ListPremieres returns up to limit premieres ordered by start time.
func (r *Redis) ListPremieres(limit int) ([]store.Premiere, error) {
	c := r.pool.Get()
	defer c.Close()

	stop := limit - 1
	if limit <= 0 {
		stop = -1
	}
	ids, err := redis.Strings(c.Do("ZRANGE", r.cfg.KeySchedule, 0, stop))
	if err != nil {
		return nil, err
	}

	out := make([]store.Premiere, 0, len(ids))
	for _, id := range ids {
		p, err := r.GetPremiere(id)
		if err == store.ErrPremiereNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// AddSession adds a viewer session to a premiere.
func (r *Redis) AddSession(sessID, handle, name, premiereID string, ttl time.Duration) error {
	c := r.pool.Get()
	defer c.Close()

	key := fmt.Sprintf(r.cfg.PrefixSession, premiereID)
	c.Send("HMSET", key, sessID, handle+"|"+name)
	c.Send("EXPIRE", key, int(ttl.Seconds()))
	return c.Flush()
}

// GetSession retrieves a viewer session from the store.
func (r *Redis) GetSession(sessID, premiereID string) (store.Sess, error) {
	c := r.pool.Get()
	defer c.Close()

	v, err := redis.String(c.Do("HGET", fmt.Sprintf(r.cfg.PrefixSession, premiereID), sessID))
	if err != nil && err != redis.ErrNil {
		return store.Sess{}, err
	}
	if v == "" {
		return store.Sess{}, nil
	}

	handle, name := v, ""
	for i := 0; i < len(v); i++ {
		if v[i] == '|' {
			handle, name = v[:i], v[i+1:]
			break
		}
	}
	return store.Sess{ID: sessID, Handle: handle, Name: name}, nil
}

// RemoveSession deletes a session from a premiere.
func (r *Redis) RemoveSession(sessID, premiereID string) error {
	c := r.pool.Get()
	defer c.Close()

	_, err := redis.Bool(c.Do("HDEL", fmt.Sprintf(r.cfg.PrefixSession, premiereID), sessID))
	return err
}

// AddMessage appends a chat message to a premiere's capped history list.
func (r *Redis) AddMessage(m store.Message) error {
	c := r.pool.Get()
	defer c.Close()

	b, err := json.Marshal(m)
	if err != nil {
		return err
	}

	key := fmt.Sprintf(r.cfg.PrefixMessages, m.PremiereID)
	c.Send("RPUSH", key, b)
	c.Send("LTRIM", key, -r.cfg.MaxMessages, -1)
	return c.Flush()
}

// GetMessages returns up to limit most recent messages, oldest first.
func (r *Redis) GetMessages(premiereID string, limit int) ([]store.Message, error) {
	c := r.pool.Get()
	defer c.Close()

	start := 0
	if limit > 0 {
		start = -limit
	}
	vals, err := redis.ByteSlices(c.Do("LRANGE", fmt.Sprintf(r.cfg.PrefixMessages, premiereID), start, -1))
	if err != nil {
		return nil, err
	}

	out := make([]store.Message, 0, len(vals))
	for _, v := range vals {
		var m store.Message
		if err := json.Unmarshal(v, &m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
