package ratingstore

import (
	"context"
	"sync"
	"time"

	"github.com/park285/netplay-matchmaker/internal/domain"
)

// memstore is the development store used when no backend is configured.
type memstore struct {
	mu      sync.RWMutex
	records map[string]*domain.RatingRecord
	history []domain.RatingChange
	nextID  int64
}

func NewMemory() Store {
	return &memstore{records: make(map[string]*domain.RatingRecord)}
}

func (m *memstore) GetRating(_ context.Context, playerID string) (*domain.RatingRecord, error) {
	id, err := validID(playerID)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (m *memstore) UpsertRating(_ context.Context, playerID string, newRating, gamesDelta, winDelta, lossDelta int) error {
	id, err := validID(playerID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		r = &domain.RatingRecord{PlayerID: id, CreatedAt: now}
		m.records[id] = r
	}
	r.Rating = newRating
	r.GamesPlayed += gamesDelta
	r.Wins += winDelta
	r.Losses += lossDelta
	r.UpdatedAt = now
	return nil
}

func (m *memstore) AppendRatingHistory(_ context.Context, entry domain.RatingChange) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	entry.ID = m.nextID
	m.history = append(m.history, entry)
	return nil
}

func (m *memstore) History(_ context.Context, playerID string, limit int) ([]domain.RatingChange, error) {
	id, err := validID(playerID)
	if err != nil {
		return nil, err
	}
	limit = clampLimit(limit)
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.RatingChange, 0, limit)
	for i := len(m.history) - 1; i >= 0 && len(out) < limit; i-- {
		h := m.history[i]
		if h.WinnerID == id || h.LoserID == id {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *memstore) Close() error { return nil }
