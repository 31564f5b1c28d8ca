// Package session keeps one active model handle per user session.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"diapredict/ml"
)

var ErrNotFound = errors.New("session not found")

// Session is immutable; SetModel stores a new value rather than changing an
// existing one, so readers never see a half-updated session.
type Session struct {
	ID        string
	CreatedAt time.Time
	UpdatedAt time.Time
	Handle    *ml.Handle
}

func (s *Session) HasModel() bool {
	return s != nil && s.Handle != nil
}

type Store struct {
	mu     sync.Mutex
	cache  *expirable.LRU[string, *Session]
	logger *zap.Logger
}

// NewStore keeps at most capacity sessions; a session expires ttl after it
// was created or last given a model. ttl <= 0 disables expiry.
func NewStore(capacity int, ttl time.Duration, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{logger: logger}
	s.cache = expirable.NewLRU[string, *Session](capacity, func(id string, sess *Session) {
		s.logger.Debug("session evicted", zap.String("session", id), zap.Bool("had_model", sess.HasModel()))
	}, ttl)
	return s
}

func (s *Store) Create() *Session {
	now := time.Now().UTC()
	sess := &Session{ID: uuid.NewString(), CreatedAt: now, UpdatedAt: now}

	s.mu.Lock()
	s.cache.Add(sess.ID, sess)
	s.mu.Unlock()

	s.logger.Info("session created", zap.String("session", sess.ID))
	return sess
}

func (s *Store) Get(id string) (*Session, bool) {
	return s.cache.Get(id)
}

// SetModel replaces the session's model handle.
func (s *Store) SetModel(id string, handle *ml.Handle) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.cache.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	next := &Session{
		ID:        current.ID,
		CreatedAt: current.CreatedAt,
		UpdatedAt: time.Now().UTC(),
		Handle:    handle,
	}
	s.cache.Add(id, next)
	return next, nil
}

// Model returns the session's handle; ok is false for unknown sessions and
// for sessions that have not uploaded a model.
func (s *Store) Model(id string) (*ml.Handle, bool) {
	sess, ok := s.cache.Get(id)
	if !ok || !sess.HasModel() {
		return nil, false
	}
	return sess.Handle, true
}

func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Remove(id)
}

func (s *Store) Len() int {
	return s.cache.Len()
}
