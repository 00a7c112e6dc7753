// Package relay fans match frames out to every connection attached to a match.
package relay

import (
	"sync"

	"github.com/park285/netplay-matchmaker/internal/obslog"
	"github.com/park285/netplay-matchmaker/pkg/matchproto"
	"go.uber.org/zap"
)

// Subscriber receives frames. Send must not block.
type Subscriber interface {
	ID() string
	Send(matchproto.Envelope) error
}

// Relay holds one topic per match id.
type Relay struct {
	mu     sync.RWMutex
	topics map[string]map[string]Subscriber
}

func New() *Relay {
	return &Relay{topics: make(map[string]map[string]Subscriber)}
}

// Subscribe attaches s to matchID. Re-subscribing replaces the earlier handle.
func (r *Relay) Subscribe(matchID string, s Subscriber) {
	if r == nil || matchID == "" || s == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	subs := r.topics[matchID]
	if subs == nil {
		subs = make(map[string]Subscriber)
		r.topics[matchID] = subs
	}
	subs[s.ID()] = s
}

// Unsubscribe detaches id from matchID; empty topics are dropped.
func (r *Relay) Unsubscribe(matchID, id string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	subs := r.topics[matchID]
	if subs == nil {
		return
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(r.topics, matchID)
	}
}

// Publish sends env to every subscriber of matchID and returns how many accepted it.
func (r *Relay) Publish(matchID string, env matchproto.Envelope) int {
	if r == nil {
		return 0
	}
	subs := r.snapshot(matchID)
	sent := 0
	for _, s := range subs {
		if err := s.Send(env); err != nil {
			obslog.L().Debug("relay_send_drop",
				zap.String("match_id", matchID),
				zap.String("conn_id", s.ID()),
				zap.String("type", env.Type),
				zap.Error(err),
			)
			continue
		}
		sent++
	}
	return sent
}

// Close removes the topic and returns the subscribers that were attached.
func (r *Relay) Close(matchID string) []Subscriber {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	subs := r.topics[matchID]
	delete(r.topics, matchID)
	r.mu.Unlock()
	out := make([]Subscriber, 0, len(subs))
	for _, s := range subs {
		out = append(out, s)
	}
	return out
}

// Count returns the number of subscribers on matchID.
func (r *Relay) Count(matchID string) int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics[matchID])
}

func (r *Relay) snapshot(matchID string) []Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	subs := r.topics[matchID]
	out := make([]Subscriber, 0, len(subs))
	for _, s := range subs {
		out = append(out, s)
	}
	return out
}
