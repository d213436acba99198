package handlers

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vitalpath/rxbridge/internal/document"
	"github.com/vitalpath/rxbridge/internal/draft"
	"github.com/vitalpath/rxbridge/internal/pharmacy"
	"github.com/vitalpath/rxbridge/pkg/debounce"
)

// Session is one live draft-editing session: the engine owning the draft,
// the adapter for the selected pharmacy, and the confirmation document
// state.
type Session struct {
	ID        string
	Pharmacy  draft.Pharmacy
	Engine    *draft.Engine
	Adapter   pharmacy.Adapter
	Document  *document.Session
	CreatedAt time.Time

	// longevity is the pending Valiant auto-population timer, stopped on
	// session teardown.
	longevity *debounce.Timer
}

// Close tears the session down. In-flight notes fetches and document
// renders are not cancelled; their results are discarded.
func (s *Session) Close() {
	if s.longevity != nil {
		s.longevity.Stop()
	}
	s.Engine.Close()
	s.Document.Close()
}

// Store keeps live sessions in memory, keyed by session id.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

func (st *Store) Add(s *Session) string {
	st.mu.Lock()
	defer st.mu.Unlock()
	s.ID = uuid.New().String()
	st.sessions[s.ID] = s
	return s.ID
}

func (st *Store) Get(id string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	return s, ok
}

// Remove deletes and returns the session so the caller can close it.
func (st *Store) Remove(id string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	if ok {
		delete(st.sessions, id)
	}
	return s, ok
}

func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
