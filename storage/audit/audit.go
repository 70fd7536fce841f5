// Package audit keeps a record of session lifecycle events and tool calls.
// Entries never carry tool arguments, so keys passed to tools stay out of it.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"bch-mcp-server/mcp"
)

// Entry kinds.
const (
	KindSessionOpen  = "session_open"
	KindSessionClose = "session_close"
	KindToolCall     = "tool_call"
)

// Entry is one audit record. Session holds a digest of the session token,
// never the token itself.
type Entry struct {
	At         time.Time `json:"at"`
	Kind       string    `json:"kind"`
	Session    string    `json:"session"`
	Tool       string    `json:"tool,omitempty"`
	Outcome    string    `json:"outcome,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
}

// Store persists audit entries.
type Store interface {
	Record(ctx context.Context, e Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close()
}

// SessionDigest is the short identifier stored in place of a session token.
func SessionDigest(token string) string {
	if token == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:8])
}

// MemoryStore keeps the most recent entries in a ring buffer.
type MemoryStore struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
}

// NewMemoryStore holds up to capacity entries.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemoryStore{entries: make([]Entry, capacity)}
}

func (s *MemoryStore) Record(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[s.next] = e
	s.next = (s.next + 1) % len(s.entries)
	if s.next == 0 {
		s.full = true
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *MemoryStore) Recent(_ context.Context, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.next
	if s.full {
		n = len(s.entries)
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Entry, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (s.next - 1 - i + len(s.entries)) % len(s.entries)
		out = append(out, s.entries[idx])
	}
	return out, nil
}

func (s *MemoryStore) Close() {}

// Recorder turns server events into entries. Writes are bounded so a slow
// store cannot stall tool calls.
type Recorder struct {
	store   Store
	timeout time.Duration
}

// NewRecorder wraps store.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store, timeout: 2 * time.Second}
}

func (r *Recorder) record(e Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	if err := r.store.Record(ctx, e); err != nil {
		log.Printf("audit: record %s: %v", e.Kind, err)
	}
}

// SessionOpened records a new session.
func (r *Recorder) SessionOpened(token string) {
	r.record(Entry{Kind: KindSessionOpen, Session: SessionDigest(token)})
}

// SessionClosed records a session ending for reason.
func (r *Recorder) SessionClosed(token, reason string) {
	r.record(Entry{Kind: KindSessionClose, Session: SessionDigest(token), Outcome: reason})
}

// ToolCall records a dispatched call.
func (r *Recorder) ToolCall(token, tool, outcome string, elapsed time.Duration) {
	r.record(Entry{
		Kind:       KindToolCall,
		Session:    SessionDigest(token),
		Tool:       tool,
		Outcome:    outcome,
		DurationMS: elapsed.Milliseconds(),
	})
}

// Handler serves GET ?limit=N with the most recent entries.
func Handler(store Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			mcp.WriteError(w, &mcp.ToolError{Code: "METHOD_NOT_ALLOWED", Message: "Method not allowed", HttpStatus: http.StatusMethodNotAllowed})
			return
		}
		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 || n > 1000 {
				mcp.WriteError(w, mcp.NewInvalidFieldError("", "limit", v, "limit must be between 1 and 1000"))
				return
			}
			limit = n
		}
		entries, err := store.Recent(r.Context(), limit)
		if err != nil {
			mcp.WriteError(w, mcp.NewInternalError("", err.Error()))
			return
		}
		mcp.WriteJSON(w, http.StatusOK, map[string]any{"entries": entries, "total": len(entries)})
	})
}
