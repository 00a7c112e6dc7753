// Package queue is the matchmaking waiting list. It is not safe for concurrent use;
// the lobby serialises access.
package queue

import (
	"time"

	"github.com/park285/netplay-matchmaker/internal/domain"
)

// Entry is one waiting identity.
type Entry struct {
	Identity   string // connection id
	PlayerID   string // authenticated identifier, may be empty
	Alias      string
	Prefs      domain.Preferences
	RatingHint *int
	EnqueuedAt time.Time
}

// Pair is a successful pairing. A is the head entry that triggered the search.
type Pair struct {
	A, B Entry
}

// Tier of a candidate relative to the head entry; lower is better.
type Tier int

const (
	TierExact  Tier = 1 // same region and connection quality
	TierRegion Tier = 2 // same region
	TierAny    Tier = 3
)

// Queue keeps entries in arrival order.
type Queue struct {
	entries []Entry
}

func New() *Queue { return &Queue{} }

// Enqueue adds e, replacing any existing entry for the same identity (the
// replacement goes to the back), then pairs as long as the head finds a partner.
func (q *Queue) Enqueue(e Entry) []Pair {
	if e.Identity == "" {
		return nil
	}
	if e.EnqueuedAt.IsZero() {
		e.EnqueuedAt = time.Now()
	}
	e.Prefs = e.Prefs.Normalize()
	q.remove(e.Identity)
	q.entries = append(q.entries, e)
	return q.pairAll()
}

// Cancel removes identity's entry and reports whether one existed.
func (q *Queue) Cancel(identity string) bool { return q.remove(identity) }

func (q *Queue) Contains(identity string) bool { return q.index(identity) >= 0 }

func (q *Queue) Len() int { return len(q.entries) }

// Clear drops every waiting entry and returns them.
func (q *Queue) Clear() []Entry {
	out := q.entries
	q.entries = nil
	return out
}

// Snapshot returns a copy of the waiting entries in queue order.
func (q *Queue) Snapshot() []Entry {
	out := make([]Entry, len(q.entries))
	copy(out, q.entries)
	return out
}

func (q *Queue) pairAll() []Pair {
	var pairs []Pair
	for len(q.entries) >= 2 {
		head := q.entries[0]
		idx, _ := bestCandidate(head, q.entries[1:])
		if idx < 0 {
			break
		}
		b := q.entries[idx+1]
		// head is index 0, so removing idx+1 first keeps both indices valid
		q.entries = append(q.entries[:idx+1], q.entries[idx+2:]...)
		q.entries = q.entries[1:]
		pairs = append(pairs, Pair{A: head, B: b})
	}
	return pairs
}

// bestCandidate returns the index in rest of the first entry of the best tier.
func bestCandidate(head Entry, rest []Entry) (int, Tier) {
	best, bestTier := -1, Tier(0)
	for i, c := range rest {
		if c.Identity == head.Identity {
			continue
		}
		t := TierOf(head.Prefs, c.Prefs)
		if best < 0 || t < bestTier {
			best, bestTier = i, t
			if t == TierExact {
				break
			}
		}
	}
	return best, bestTier
}

// TierOf classifies how well b suits a.
func TierOf(a, b domain.Preferences) Tier {
	if !a.SameRegion(b) {
		return TierAny
	}
	if a.Connection == b.Connection {
		return TierExact
	}
	return TierRegion
}

func (q *Queue) index(identity string) int {
	for i := range q.entries {
		if q.entries[i].Identity == identity {
			return i
		}
	}
	return -1
}

func (q *Queue) remove(identity string) bool {
	i := q.index(identity)
	if i < 0 {
		return false
	}
	q.entries = append(q.entries[:i], q.entries[i+1:]...)
	return true
}
