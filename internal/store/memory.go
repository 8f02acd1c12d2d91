package store

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/auriance-health/auriance/internal/models"
)

// conversation is the in-memory state of one user. Fields other than elem
// are guarded by mu; elem is guarded by the store mutex.
type conversation struct {
	mu         sync.Mutex
	history    []models.Turn
	profile    models.Profile
	lastIntent models.Intent
	updatedAt  time.Time
	evicted    bool

	elem *list.Element
}

// InMemoryStore keeps conversations in process memory.
//
// The store mutex only covers the user index and LRU list; each conversation
// has its own mutex, so writes for different users never wait on each other.
type InMemoryStore struct {
	mu       sync.Mutex
	convs    map[models.UserID]*conversation
	lru      *list.List // front is most recently used; values are models.UserID
	maxUsers int
	now      func() time.Time
}

// NewInMemoryStore creates an in-memory conversation store.
func NewInMemoryStore(opts ...Option) *InMemoryStore {
	cfg := applyOpts(opts)
	slog.Debug("InMemoryStore.NewInMemoryStore: creating store", "max_users", cfg.MaxUsers)
	return &InMemoryStore{
		convs:    make(map[models.UserID]*conversation),
		lru:      list.New(),
		maxUsers: cfg.MaxUsers,
		now:      cfg.Clock,
	}
}

// lookup returns the conversation for userID, creating it when create is set.
// It marks the conversation as most recently used and enforces the capacity.
func (s *InMemoryStore) lookup(userID models.UserID, create bool) *conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[userID]
	if ok {
		s.lru.MoveToFront(c.elem)
		return c
	}
	if !create {
		return nil
	}

	c = &conversation{history: []models.Turn{}, updatedAt: s.now()}
	c.elem = s.lru.PushFront(userID)
	s.convs[userID] = c

	for s.maxUsers > 0 && len(s.convs) > s.maxUsers {
		back := s.lru.Back()
		victimID := back.Value.(models.UserID)
		s.removeLocked(victimID)
		slog.Debug("InMemoryStore.lookup: evicted least recently used conversation", "userID", victimID, "max_users", s.maxUsers)
	}
	return c
}

// removeLocked drops a conversation from the index. Caller holds s.mu.
func (s *InMemoryStore) removeLocked(userID models.UserID) {
	c, ok := s.convs[userID]
	if !ok {
		return
	}
	c.mu.Lock()
	c.evicted = true
	c.mu.Unlock()
	s.lru.Remove(c.elem)
	delete(s.convs, userID)
}

// withConversation runs fn with the user's conversation locked. When create
// is false and the user is unknown, fn is not called and false is returned.
func (s *InMemoryStore) withConversation(userID models.UserID, create bool, fn func(c *conversation)) bool {
	for {
		c := s.lookup(userID, create)
		if c == nil {
			return false
		}
		c.mu.Lock()
		if c.evicted {
			// Lost a race with eviction; look the user up again.
			c.mu.Unlock()
			if !create {
				return false
			}
			continue
		}
		fn(c)
		c.mu.Unlock()
		return true
	}
}

// GetContext returns the profile and the most recent turns for userID.
func (s *InMemoryStore) GetContext(_ context.Context, userID models.UserID) (models.ConversationContext, error) {
	out := models.ConversationContext{History: []models.Turn{}}
	s.withConversation(userID, false, func(c *conversation) {
		out.Profile = c.profile.Clone()
		out.History = lastN(c.history, models.ContextWindowTurns)
	})
	return out, nil
}

// AppendTurns appends turns for userID and truncates the oldest beyond the limit.
func (s *InMemoryStore) AppendTurns(_ context.Context, userID models.UserID, turns ...models.Turn) error {
	if err := validateTurns(turns); err != nil {
		return err
	}
	s.withConversation(userID, true, func(c *conversation) {
		now := s.now()
		for _, t := range turns {
			if t.CreatedAt.IsZero() {
				t.CreatedAt = now.UTC()
			}
			c.history = append(c.history, t)
		}
		if over := len(c.history) - models.MaxHistoryTurns; over > 0 {
			c.history = append([]models.Turn(nil), c.history[over:]...)
		}
		c.updatedAt = now
	})
	slog.Debug("InMemoryStore.AppendTurns: appended", "userID", userID, "count", len(turns))
	return nil
}

// GetHistory returns a copy of the full stored history.
func (s *InMemoryStore) GetHistory(_ context.Context, userID models.UserID) ([]models.Turn, error) {
	out := []models.Turn{}
	s.withConversation(userID, false, func(c *conversation) {
		out = lastN(c.history, len(c.history))
	})
	return out, nil
}

// ClearHistory empties the user's history. Unknown users already have an
// empty history, so nothing is created for them.
func (s *InMemoryStore) ClearHistory(_ context.Context, userID models.UserID) error {
	cleared := s.withConversation(userID, false, func(c *conversation) {
		c.history = []models.Turn{}
		c.updatedAt = s.now()
	})
	slog.Debug("InMemoryStore.ClearHistory: cleared", "userID", userID, "existed", cleared)
	return nil
}

// SetProfile replaces the user's profile.
func (s *InMemoryStore) SetProfile(_ context.Context, userID models.UserID, profile models.Profile) error {
	s.withConversation(userID, true, func(c *conversation) {
		c.profile = profile.Clone()
		c.updatedAt = s.now()
	})
	return nil
}

// SetLastIntent records the classification of the latest user turn.
func (s *InMemoryStore) SetLastIntent(_ context.Context, userID models.UserID, intent models.Intent) error {
	s.withConversation(userID, true, func(c *conversation) {
		c.lastIntent = intent
	})
	return nil
}

// LastIntent returns the recorded intent for userID, if any.
func (s *InMemoryStore) LastIntent(userID models.UserID) models.Intent {
	var intent models.Intent
	s.withConversation(userID, false, func(c *conversation) {
		intent = c.lastIntent
	})
	return intent
}

// EvictIdle removes every conversation last updated before the cutoff.
func (s *InMemoryStore) EvictIdle(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var idle []models.UserID
	for id, c := range s.convs {
		c.mu.Lock()
		if c.updatedAt.Before(before) {
			idle = append(idle, id)
		}
		c.mu.Unlock()
	}
	for _, id := range idle {
		s.removeLocked(id)
	}
	if len(idle) > 0 {
		slog.Info("InMemoryStore.EvictIdle: evicted idle conversations", "count", len(idle), "before", before)
	}
	return len(idle), nil
}

// Len returns the number of conversations held.
func (s *InMemoryStore) Len(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.convs), nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
