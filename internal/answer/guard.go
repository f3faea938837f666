package answer

import (
	"sync"

	knowledgeerrors "github.com/jmswen/knowledge/internal/errors"
)

// StreamGuard is the per-conversation streaming guard: it rejects
// a second concurrent stream on the same conversation id with a
// retryable busy error, and is released in a guaranteed-exit scope so
// the guard set is always empty once every stream it admitted has
// finished (P9).
type StreamGuard struct {
	mu     sync.Mutex
	active map[string]struct{}
}

// NewStreamGuard builds an empty guard.
func NewStreamGuard() *StreamGuard {
	return &StreamGuard{active: make(map[string]struct{})}
}

// Acquire admits conversationID if no stream currently holds it. The
// returned release func must be deferred by the caller regardless of
// outcome so the guard set never leaks an entry past a finished or
// aborted stream.
func (g *StreamGuard) Acquire(conversationID string) (release func(), err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, busy := g.active[conversationID]; busy {
		return nil, knowledgeerrors.NewKind(knowledgeerrors.KindConcurrency,
			"a response is already streaming for this conversation", nil)
	}

	g.active[conversationID] = struct{}{}
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.active, conversationID)
	}, nil
}

// Len reports how many conversations currently hold the guard. Used by
// tests to assert the set drains to empty.
func (g *StreamGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.active)
}
