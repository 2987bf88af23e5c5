package rag

import (
	"sync"

	"github.com/PartsIQ/partsiq-mvp/engine/domain"
)

// maxRetainedTurns bounds session memory; generation sees a smaller window.
const maxRetainedTurns = 50

// HistoryWindow is the number of recent turns passed to generation.
const HistoryWindow = 10

// Session holds the conversation history for one chat session. It is a
// bounded deque with an explicit lifecycle: constructed at startup or per
// session, cleared on user request or session end.
type Session struct {
	mu    sync.Mutex
	turns []domain.Turn
}

// NewSession creates an empty session.
func NewSession() *Session {
	return &Session{}
}

// Append records a turn, evicting the oldest past the retention bound.
func (s *Session) Append(t domain.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, t)
	if len(s.turns) > maxRetainedTurns {
		s.turns = s.turns[len(s.turns)-maxRetainedTurns:]
	}
}

// Window returns a copy of the most recent n turns.
func (s *Session) Window(n int) []domain.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || n > len(s.turns) {
		n = len(s.turns)
	}
	out := make([]domain.Turn, n)
	copy(out, s.turns[len(s.turns)-n:])
	return out
}

// Len returns the number of retained turns.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}

// Clear discards all history.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = nil
}
