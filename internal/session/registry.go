package session

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	ErrUnknownSession  = errors.New("unknown session")
	ErrSessionMismatch = errors.New("session total-chunk count mismatch")
)

// Session tracks one in-flight chunked upload. TotalChunks is fixed on
// first arrival; the received set only grows. Sessions live in process
// memory only and are removed right after a successful merge.
type Session struct {
	ID          string
	TempRoot    string
	TotalChunks int
	CreatedAt   time.Time

	received  map[int]struct{}
	completed bool
}

// Registry is the process-wide store of upload sessions. All access goes
// through one mutex so the completion decision in MarkReceived fires
// exactly once even when the last chunks of a session land concurrently.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	tempDir  string
}

func NewRegistry(tempDir string) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		tempDir:  tempDir,
	}
}

// Ensure returns the session for id, creating it with a fresh temp root on
// first sight. A totalChunks value different from the one the session was
// created with is a client configuration error.
func (r *Registry) Ensure(id string, totalChunks int) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok {
		if s.TotalChunks != totalChunks {
			return nil, ErrSessionMismatch
		}
		return s, nil
	}

	s := &Session{
		ID:          id,
		TempRoot:    filepath.Join(r.tempDir, id),
		TotalChunks: totalChunks,
		CreatedAt:   time.Now(),
		received:    make(map[int]struct{}),
	}
	if err := os.MkdirAll(s.TempRoot, 0o755); err != nil {
		return nil, err
	}
	r.sessions[id] = s
	return s, nil
}

// MarkReceived records one chunk index. Re-receiving an index is a no-op.
// The complete flag is returned true exactly once, on the call that fills
// the set; a session never reports complete a second time.
func (r *Registry) MarkReceived(id string, chunkIndex int) (received int, complete bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return 0, false, ErrUnknownSession
	}

	s.received[chunkIndex] = struct{}{}
	complete = !s.completed && len(s.received) == s.TotalChunks
	if complete {
		s.completed = true
	}
	return len(s.received), complete, nil
}

func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrUnknownSession
	}
	return s, nil
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
