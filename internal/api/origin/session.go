// Package origin implements the HTML admin surface where authorized GitHub
// accounts register the web origins allowed to call the API. It runs on a
// server-side session, separate from the JWT cookie the JSON API uses.
package origin

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/taskhive/taskhive/internal/config"
)

// SessionCookieName is the admin session cookie, distinct from the API's
// JWT cookie.
const SessionCookieName = "origin_session"

const sessionTTL = 30 * time.Minute

// Session is the per-browser admin state. Username is empty until the
// GitHub callback admits the account. Flash messages are consumed on read.
type Session struct {
	Username string   `json:"username"`
	CSRF     string   `json:"csrf"`
	State    string   `json:"state"`
	Info     []string `json:"info,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}

// Flash queues a message for the next page render.
func (s *Session) Flash(kind, message string) {
	if kind == "error" {
		s.Errors = append(s.Errors, message)
		return
	}
	s.Info = append(s.Info, message)
}

// ConsumeFlashes returns the queued messages and clears them.
func (s *Session) ConsumeFlashes() (info, errs []string) {
	info, errs = s.Info, s.Errors
	s.Info, s.Errors = nil, nil
	return info, errs
}

// Store persists sessions by ID. Load returns nil for unknown or expired
// IDs rather than an error.
type Store interface {
	Load(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, id string, session *Session) error
	Delete(ctx context.Context, id string) error
}

// ------------------------------------------------------------------
// In-memory store
// ------------------------------------------------------------------

type memoryEntry struct {
	session   Session
	expiresAt time.Time
}

// MemoryStore is the default single-process store. Expired entries are
// swept lazily on access.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

func (m *MemoryStore) Load(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[id]
	if !ok {
		return nil, nil
	}
	if time.Now().After(entry.expiresAt) {
		delete(m.entries, id)
		return nil, nil
	}
	session := entry.session
	return &session, nil
}

func (m *MemoryStore) Save(_ context.Context, id string, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for key, entry := range m.entries {
		if now.After(entry.expiresAt) {
			delete(m.entries, key)
		}
	}
	m.entries[id] = memoryEntry{session: *session, expiresAt: now.Add(sessionTTL)}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

// ------------------------------------------------------------------
// Redis store
// ------------------------------------------------------------------

// RedisStore keeps sessions in Redis so the admin surface survives process
// restarts and works behind multiple replicas.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed session store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func redisSessionKey(id string) string {
	return "origin:session:" + id
}

func (r *RedisStore) Load(ctx context.Context, id string) (*Session, error) {
	raw, err := r.client.Get(ctx, redisSessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	session := &Session{}
	if err := json.Unmarshal(raw, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (r *RedisStore) Save(ctx context.Context, id string, session *Session) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, redisSessionKey(id), raw, sessionTTL).Err()
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	return r.client.Del(ctx, redisSessionKey(id)).Err()
}

// ------------------------------------------------------------------
// Manager
// ------------------------------------------------------------------

// Manager ties sessions to the browser via the session cookie.
type Manager struct {
	store  Store
	secure bool
}

// NewManager creates a session manager. The cookie is marked Secure in
// production.
func NewManager(store Store, environment string) *Manager {
	return &Manager{store: store, secure: environment == config.EnvProduction}
}

func newSessionID() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic("session id entropy unavailable: " + err.Error())
	}
	return hex.EncodeToString(buf)
}

// Current returns the session for the request, or nil when the browser has
// no live session.
func (m *Manager) Current(c *gin.Context) (*Session, string, error) {
	id, err := c.Cookie(SessionCookieName)
	if err != nil || id == "" {
		return nil, "", nil
	}
	session, err := m.store.Load(c.Request.Context(), id)
	if err != nil {
		return nil, "", err
	}
	return session, id, nil
}

// Begin creates a fresh session and sets its cookie.
func (m *Manager) Begin(c *gin.Context) (*Session, string, error) {
	id := newSessionID()
	session := &Session{}
	if err := m.store.Save(c.Request.Context(), id, session); err != nil {
		return nil, "", err
	}
	m.setCookie(c, id, int(sessionTTL.Seconds()))
	return session, id, nil
}

// Save writes the session back to the store.
func (m *Manager) Save(c *gin.Context, id string, session *Session) error {
	return m.store.Save(c.Request.Context(), id, session)
}

// Destroy deletes the session and expires its cookie.
func (m *Manager) Destroy(c *gin.Context, id string) error {
	err := m.store.Delete(c.Request.Context(), id)
	m.setCookie(c, "", -1)
	return err
}

func (m *Manager) setCookie(c *gin.Context, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookieName, value, maxAge, "/origin", "", m.secure, true)
}
