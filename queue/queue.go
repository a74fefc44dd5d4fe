// Package queue implements the per-channel song request queue: dense 1-based
// sequence numbers, a played cursor, eager renumbering on delete, and a
// bounded display window. All operations are safe for concurrent use by the
// chat poller and the command handlers.
package queue

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lypsing/lilybot/telemetry"
)

// Origin tags where a request came from.
type Origin string

const (
	OriginLiveChat   Origin = "live-chat"
	OriginManual     Origin = "manual"
	OriginTwitchChat Origin = "twitch-chat"
)

// Request is one requested song. Immutable once appended.
type Request struct {
	Title       string
	Requester   string
	Origin      Origin
	RequestedAt time.Time
}

// Status of an entry relative to the played cursor.
type Status int

const (
	StatusPlayed Status = iota
	StatusCurrent
	StatusUpcoming
)

func (s Status) String() string {
	switch s {
	case StatusPlayed:
		return "played"
	case StatusCurrent:
		return "current"
	default:
		return "upcoming"
	}
}

// Entry is a request addressed by its current sequence number.
type Entry struct {
	Seq int
	Request
	Status Status
}

// Now reports the playing entry and the one after it. Playing is nil when
// nothing has been played yet; Next then holds the first upcoming entry.
type Now struct {
	Playing *Entry
	Next    *Entry
}

// Listing is a windowed view of a queue for display.
type Listing struct {
	Entries []Entry
	// SkippedPlayed is the number of older played entries hidden from the
	// window; rendered as a gap marker immediately before the current entry.
	SkippedPlayed int
	Total         int
	PlayedIndex   int
}

// ScopeStats summarizes one channel's queue for status reporting.
type ScopeStats struct {
	Total       int
	PlayedIndex int
}

var (
	ErrEmpty      = errors.New("queue is empty")
	ErrAtEnd      = errors.New("already at the last request")
	ErrOutOfRange = errors.New("sequence number out of range")
	ErrNotFound   = errors.New("no request at that sequence number")
	ErrProtected  = errors.New("cannot delete the currently playing request")
)

// DisplayBound is the maximum number of entries a listing may carry, matching
// the embed field limit of the relay channel (25, one reserved for the gap
// marker).
const DisplayBound = 24

// state is one channel's queue. entries[i] holds sequence number i+1, so the
// dense-numbering invariant is structural; deleting renumbers by slice
// removal. played is the sequence number of the current entry, 0 when nothing
// has been played yet.
type state struct {
	mu      sync.Mutex
	entries []Request
	played  int
}

// Engine owns the queues of all channels. Queues are created implicitly on
// first use and live for the process lifetime; they are independent of poll
// sessions and survive session stop/start.
type Engine struct {
	mu     sync.RWMutex
	scopes map[string]*state
}

func NewEngine() *Engine {
	return &Engine{scopes: make(map[string]*state)}
}

func (e *Engine) scope(id string) *state {
	e.mu.RLock()
	st, ok := e.scopes[id]
	e.mu.RUnlock()
	if ok {
		return st
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok = e.scopes[id]; !ok {
		st = &state{}
		e.scopes[id] = st
	}
	return st
}

// depth reports the total number of queued requests across all scopes.
func (e *Engine) depth() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := 0
	for _, st := range e.scopes {
		st.mu.Lock()
		n += len(st.entries)
		st.mu.Unlock()
	}
	return n
}

// Append adds a request to the end of a channel's queue and returns the
// assigned sequence number. It never fails.
func (e *Engine) Append(scope string, req Request) int {
	st := e.scope(scope)
	st.mu.Lock()
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now().UTC()
	}
	st.entries = append(st.entries, req)
	seq := len(st.entries)
	st.mu.Unlock()
	telemetry.SetQueueDepth(e.depth())
	return seq
}

func (st *state) entryAt(seq int) *Entry {
	status := StatusUpcoming
	switch {
	case seq < st.played:
		status = StatusPlayed
	case seq == st.played:
		status = StatusCurrent
	}
	return &Entry{Seq: seq, Request: st.entries[seq-1], Status: status}
}

// Current reports the playing entry, or the first upcoming one when nothing
// has been played yet. Both fields are nil for an empty queue.
func (e *Engine) Current(scope string) Now {
	st := e.scope(scope)
	st.mu.Lock()
	defer st.mu.Unlock()
	var now Now
	if st.played > 0 {
		now.Playing = st.entryAt(st.played)
		if st.played < len(st.entries) {
			now.Next = st.entryAt(st.played + 1)
		}
	} else if len(st.entries) > 0 {
		now.Next = st.entryAt(1)
	}
	return now
}

// Advance moves the played cursor forward by one. It returns ErrEmpty for an
// empty queue and ErrAtEnd when the cursor already sits on the last entry;
// neither changes state.
func (e *Engine) Advance(scope string) (Now, error) {
	st := e.scope(scope)
	st.mu.Lock()
	defer st.mu.Unlock()
	n := len(st.entries)
	if n == 0 {
		return Now{}, ErrEmpty
	}
	if st.played >= n {
		return Now{}, ErrAtEnd
	}
	st.played++
	now := Now{Playing: st.entryAt(st.played)}
	if st.played < n {
		now.Next = st.entryAt(st.played + 1)
	}
	return now, nil
}

// Delete removes the entry at seq and eagerly renumbers the remainder back
// into 1..N-1, order preserved. The currently playing entry is protected.
// On success the removed request and no error are returned; the played cursor
// is recomputed so it keeps pointing at the same request (entries deleted
// before it shift it down by one).
func (e *Engine) Delete(scope string, seq int) (Request, error) {
	st := e.scope(scope)
	st.mu.Lock()
	n := len(st.entries)
	if seq < 1 || seq > n {
		st.mu.Unlock()
		return Request{}, fmt.Errorf("%w: got %d, queue has %d", ErrOutOfRange, seq, n)
	}
	if seq == st.played {
		st.mu.Unlock()
		return Request{}, ErrProtected
	}
	removed := st.entries[seq-1]
	st.entries = append(st.entries[:seq-1], st.entries[seq:]...)
	if seq < st.played {
		st.played--
	}
	st.mu.Unlock()
	telemetry.SetQueueDepth(e.depth())
	return removed, nil
}

// List returns the display window for a channel's queue. Up to DisplayBound
// entries: everything when the queue fits, otherwise the last three played
// entries plus all unplayed ones, and when even that overflows, the current
// entry plus as many upcoming as fit (older played entries are dropped and
// reported via SkippedPlayed).
func (e *Engine) List(scope string) Listing {
	st := e.scope(scope)
	st.mu.Lock()
	defer st.mu.Unlock()

	n := len(st.entries)
	l := Listing{Total: n, PlayedIndex: st.played}
	if n == 0 {
		return l
	}

	var ids []int
	if n <= DisplayBound {
		for i := 1; i <= n; i++ {
			ids = append(ids, i)
		}
	} else {
		if st.played > 0 {
			for i := max(1, st.played-2); i <= st.played; i++ {
				ids = append(ids, i)
			}
		}
		for i := st.played + 1; i <= n; i++ {
			ids = append(ids, i)
		}
		if len(ids) > DisplayBound-1 {
			ids = ids[:0]
			if st.played > 0 {
				last := st.played + min(DisplayBound-2, n-st.played)
				for i := st.played; i <= last; i++ {
					ids = append(ids, i)
				}
			} else {
				for i := 1; i <= min(DisplayBound-1, n); i++ {
					ids = append(ids, i)
				}
			}
		}
		if st.played > 3 {
			l.SkippedPlayed = st.played - 3
		}
	}

	l.Entries = make([]Entry, 0, len(ids))
	for _, id := range ids {
		l.Entries = append(l.Entries, *st.entryAt(id))
	}
	return l
}

// Stats snapshots every channel's totals for the status endpoint.
func (e *Engine) Stats() map[string]ScopeStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]ScopeStats, len(e.scopes))
	for id, st := range e.scopes {
		st.mu.Lock()
		out[id] = ScopeStats{Total: len(st.entries), PlayedIndex: st.played}
		st.mu.Unlock()
	}
	return out
}
