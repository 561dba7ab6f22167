package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/thutuc-assistant/rag-chat/backend/internal/model/chat"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrTurnInProgress  = errors.New("a turn is already in progress for this session")
	ErrInvalidTurn     = errors.New("invalid turn")
)

// entry holds one session's log. The mutex guards turns and busy; the
// cache only stores the pointer.
type entry struct {
	mu      sync.Mutex
	session chat.Session
	turns   []chat.Turn
	busy    bool
}

// Service is the in-memory conversation store. Sessions expire after ttl
// without access; a zero ttl keeps them until EndSession.
type Service struct {
	sessions    *cache.Cache
	defaultTopK int
	now         func() time.Time
}

// NewService bootstraps the store. Expired sessions are purged every ttl/2.
// defaultTopK applies to sessions created without a top-k; zero selects
// chat.DefaultTopK.
func NewService(ttl time.Duration, defaultTopK int) *Service {
	expiration := cache.NoExpiration
	cleanup := time.Duration(0)
	if ttl > 0 {
		expiration = ttl
		cleanup = ttl / 2
	}

	return &Service{
		sessions:    cache.New(expiration, cleanup),
		defaultTopK: chat.ClampTopK(defaultTopK),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// DefaultTopK is the retrieval depth given to sessions created without one.
func (s *Service) DefaultTopK() int {
	return s.defaultTopK
}

// CreateSession provisions an empty session. topK is clamped to the
// supported range; zero selects the store default.
func (s *Service) CreateSession(_ context.Context, topK int) (chat.Session, error) {
	if topK == 0 {
		topK = s.defaultTopK
	}
	now := s.now()
	session := chat.Session{
		ID:        uuid.NewString(),
		TopK:      chat.ClampTopK(topK),
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.sessions.Set(session.ID, &entry{session: session, turns: make([]chat.Turn, 0, 16)}, cache.DefaultExpiration)
	return session, nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	e, err := s.lookup(sessionID)
	if err != nil {
		return chat.Session{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session, nil
}

// UpdateTopK changes the retrieval depth used by subsequent turns.
func (s *Service) UpdateTopK(_ context.Context, sessionID string, topK int) (chat.Session, error) {
	e, err := s.lookup(sessionID)
	if err != nil {
		return chat.Session{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.session.TopK = chat.ClampTopK(topK)
	e.session.UpdatedAt = s.now()
	return e.session, nil
}

// BeginTurn marks the session busy until the returned release func runs.
func (s *Service) BeginTurn(_ context.Context, sessionID string) (func(), error) {
	e, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busy {
		return nil, ErrTurnInProgress
	}
	e.busy = true

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			e.busy = false
			e.mu.Unlock()
		})
	}, nil
}

// AppendTurn finalizes a turn at the end of the session log.
func (s *Service) AppendTurn(_ context.Context, turn chat.Turn) (chat.Turn, error) {
	if turn.Role != chat.RoleUser && turn.Role != chat.RoleAssistant {
		return chat.Turn{}, fmt.Errorf("%w: unknown role %q", ErrInvalidTurn, turn.Role)
	}

	e, err := s.lookup(turn.SessionID)
	if err != nil {
		return chat.Turn{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	turn = turn.Clone()
	turn.ID = uuid.NewString()
	turn.Seq = len(e.turns)
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = s.now()
	}
	if turn.Status == "" {
		turn.Status = chat.StatusComplete
	}

	e.turns = append(e.turns, turn)
	e.session.UpdatedAt = turn.CreatedAt
	return turn.Clone(), nil
}

// LoadTranscript returns a copy of the session log in insertion order.
func (s *Service) LoadTranscript(_ context.Context, sessionID string) ([]chat.Turn, error) {
	e, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	copied := make([]chat.Turn, len(e.turns))
	for i, turn := range e.turns {
		copied[i] = turn.Clone()
	}
	return copied, nil
}

// EndSession discards the session and its log.
func (s *Service) EndSession(_ context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrSessionNotFound
	}
	if _, ok := s.sessions.Get(sessionID); !ok {
		return ErrSessionNotFound
	}
	s.sessions.Delete(sessionID)
	return nil
}

// Count reports the number of live sessions.
func (s *Service) Count() int {
	return s.sessions.ItemCount()
}

// lookup fetches the entry and slides its expiration. Replace fails once
// the key is gone, so a concurrent EndSession is never undone.
func (s *Service) lookup(sessionID string) (*entry, error) {
	if sessionID == "" {
		return nil, ErrSessionNotFound
	}

	raw, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	e := raw.(*entry)
	if err := s.sessions.Replace(sessionID, e, cache.DefaultExpiration); err != nil {
		return nil, ErrSessionNotFound
	}
	return e, nil
}
