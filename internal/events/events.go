// Package events publishes match lifecycle events to an external bus.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/park285/netplay-matchmaker/internal/obslog"
	"go.uber.org/zap"
)

// Event types.
const (
	TypeMatchCreated   = "match.created"
	TypeMatchCompleted = "match.completed"
	TypeMatchAborted   = "match.aborted"
	TypeRatingChanged  = "rating.changed"
)

// Event is the JSON body sent on the bus.
type Event struct {
	Type    string         `json:"type"`
	MatchID string         `json:"matchId"`
	At      time.Time      `json:"at"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Publisher is fire-and-forget. Implementations log failures instead of returning them
// to the match state machine.
type Publisher interface {
	Publish(Event)
	Close() error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(Event) {}
func (Nop) Close() error  { return nil }

// NATS publishes events as JSON on one subject.
type NATS struct {
	nc      *nats.Conn
	subject string
}

// NewNATS connects to url. The connection reconnects on its own.
func NewNATS(url, subject string) (*NATS, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("NATS_URL required")
	}
	if strings.TrimSpace(subject) == "" {
		return nil, errors.New("NATS subject required")
	}
	nc, err := nats.Connect(url,
		nats.Name("netplay-matchd"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				obslog.L().Warn("nats_disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			obslog.L().Info("nats_reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATS{nc: nc, subject: subject}, nil
}

func (p *NATS) Publish(e Event) {
	if p == nil || p.nc == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		obslog.L().Error("event_marshal_error", zap.String("type", e.Type), zap.Error(err))
		return
	}
	if err := p.nc.Publish(p.subject, data); err != nil {
		obslog.L().Warn("event_publish_error",
			zap.String("type", e.Type),
			zap.String("match_id", e.MatchID),
			zap.Error(err),
		)
	}
}

// Close flushes pending events and closes the connection.
func (p *NATS) Close() error {
	if p == nil || p.nc == nil {
		return nil
	}
	err := p.nc.Drain()
	if errors.Is(err, nats.ErrConnectionClosed) {
		return nil
	}
	return err
}
