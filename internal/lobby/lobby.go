// Package lobby owns the connection registry, the matchmaking queue and the live
// matches, and routes inbound messages between them.
package lobby

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/park285/netplay-matchmaker/internal/events"
	"github.com/park285/netplay-matchmaker/internal/match"
	"github.com/park285/netplay-matchmaker/internal/msgcat"
	"github.com/park285/netplay-matchmaker/internal/obslog"
	"github.com/park285/netplay-matchmaker/internal/queue"
	"github.com/park285/netplay-matchmaker/internal/ratingstore"
	"github.com/park285/netplay-matchmaker/internal/relay"
	"github.com/park285/netplay-matchmaker/internal/ruleset"
	"github.com/park285/netplay-matchmaker/pkg/matchproto"
	"go.uber.org/zap"
)

// Conn is one client connection. Send must not block.
type Conn interface {
	ID() string
	Send(matchproto.Envelope) error
}

// Options wires collaborators. Zero values get working defaults.
type Options struct {
	Rules         *ruleset.Ruleset
	Store         ratingstore.Store
	Events        events.Publisher
	Catalog       *msgcat.Catalog
	Logger        *zap.Logger
	SettleTimeout time.Duration

	// test hooks
	Now     func() time.Time
	Shuffle func(a, b match.Participant) (match.Participant, match.Participant)
	NewID   func() string
}

type client struct {
	conn        Conn
	playerID    string // from the authenticated handshake only
	alias       string
	matchID     string // live match this connection plays in
	chatMatchID string // chat-only attachment
}

type liveMatch struct {
	mu     sync.Mutex
	m      *match.Match
	closed bool
}

// Lobby is safe for concurrent use. Lock order: liveMatch.mu before Lobby.mu.
type Lobby struct {
	mu      sync.Mutex
	clients map[string]*client
	queue   *queue.Queue
	matches map[string]*liveMatch
	closing bool

	relay   *relay.Relay
	rules   *ruleset.Ruleset
	store   ratingstore.Store
	events  events.Publisher
	catalog *msgcat.Catalog
	log     *zap.Logger

	now           func() time.Time
	shuffle       func(a, b match.Participant) (match.Participant, match.Participant)
	newID         func() string
	settleTimeout time.Duration
	settleMu      sync.Mutex
	settling      sync.WaitGroup
}

func New(o Options) *Lobby {
	l := &Lobby{
		clients:       make(map[string]*client),
		queue:         queue.New(),
		matches:       make(map[string]*liveMatch),
		relay:         relay.New(),
		rules:         o.Rules,
		store:         o.Store,
		events:        o.Events,
		catalog:       o.Catalog,
		log:           o.Logger,
		now:           o.Now,
		shuffle:       o.Shuffle,
		newID:         o.NewID,
		settleTimeout: o.SettleTimeout,
	}
	if l.rules == nil {
		l.rules = ruleset.Default()
	}
	if l.store == nil {
		l.store = ratingstore.NewMemory()
	}
	if l.events == nil {
		l.events = events.Nop{}
	}
	if l.catalog == nil {
		l.catalog = msgcat.MustDefault()
	}
	if l.log == nil {
		l.log = obslog.L()
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.shuffle == nil {
		l.shuffle = match.Shuffle
	}
	if l.newID == nil {
		l.newID = func() string { return uuid.NewString() }
	}
	if l.settleTimeout <= 0 {
		l.settleTimeout = 5 * time.Second
	}
	return l
}

// Connect registers conn and greets it. A non-empty chatMatchID attaches the
// connection to that match's chat as a read-only observer.
func (l *Lobby) Connect(conn Conn, playerID, chatMatchID string) error {
	id := conn.ID()
	l.mu.Lock()
	if l.closing {
		l.mu.Unlock()
		return matchproto.ErrClosing
	}
	var lm *liveMatch
	if chatMatchID != "" {
		lm = l.matches[chatMatchID]
		if lm == nil {
			l.mu.Unlock()
			return matchproto.ErrNoMatch
		}
	}
	l.clients[id] = &client{conn: conn, playerID: playerID, chatMatchID: chatMatchID}
	l.mu.Unlock()

	_ = conn.Send(matchproto.New(matchproto.TypeConnected, matchproto.ConnectedData{
		ConnectionID: id,
		PlayerID:     playerID,
		MatchID:      chatMatchID,
	}))
	l.log.Info("conn_open", zap.String("conn_id", id), zap.Bool("authed", playerID != ""), zap.String("chat_match_id", chatMatchID))

	if lm != nil {
		lm.mu.Lock()
		if !lm.closed {
			l.relay.Subscribe(chatMatchID, conn)
			_ = conn.Send(matchproto.New(matchproto.TypeMatchState, matchproto.StateData{State: toState(lm.m)}))
			l.log.Debug("chat_attach", zap.String("conn_id", id), zap.String("match_id", chatMatchID), zap.Int("watchers", l.relay.Count(chatMatchID)))
		}
		lm.mu.Unlock()
	}
	return nil
}

// Disconnect removes the connection, cancels its search and forfeits its live match.
func (l *Lobby) Disconnect(connID string) {
	l.mu.Lock()
	c := l.clients[connID]
	delete(l.clients, connID)
	l.queue.Cancel(connID)
	var lm *liveMatch
	matchID := ""
	if c != nil {
		if c.chatMatchID != "" {
			l.relay.Unsubscribe(c.chatMatchID, connID)
		}
		matchID = c.matchID
		lm = l.matches[matchID]
	}
	l.mu.Unlock()

	if c == nil {
		return
	}
	l.log.Info("conn_close", zap.String("conn_id", connID), zap.String("match_id", matchID))
	if lm == nil {
		return
	}
	l.relay.Unsubscribe(matchID, connID)
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if lm.closed {
		return
	}
	idx, ok := lm.m.Index(connID)
	if !ok {
		return
	}
	l.teardownLocked(lm, matchproto.ReasonDisconnect, idx)
}

// HandleFrame decodes and dispatches one raw frame.
func (l *Lobby) HandleFrame(ctx context.Context, connID string, frame []byte) error {
	in, err := matchproto.Decode(frame)
	if err != nil {
		l.reply(connID, err)
		return err
	}
	return l.Handle(ctx, connID, in)
}

// Handle dispatches a decoded message. Rejections are sent back to the caller as an
// error frame and also returned.
func (l *Lobby) Handle(_ context.Context, connID string, in matchproto.Inbound) error {
	if in == nil {
		err := matchproto.BadRequest("empty message")
		l.reply(connID, err)
		return err
	}
	var err error
	switch msg := in.(type) {
	case matchproto.Search:
		err = l.search(connID, msg)
	case matchproto.Cancel:
		err = l.cancel(connID)
	case matchproto.SelectCharacter, matchproto.BanStage, matchproto.PickStage,
		matchproto.GameResult, matchproto.LeaveMatch:
		err = l.matchAction(connID, in)
	case matchproto.Chat:
		err = l.chat(connID, msg)
	default:
		err = matchproto.BadRequest("unsupported message")
	}
	if err != nil {
		l.reply(connID, err)
		l.log.Debug("action_rejected", zap.String("conn_id", connID), zap.String("kind", in.Kind()), zap.String("code", matchproto.CodeOf(err)))
	}
	return err
}

func (l *Lobby) reply(connID string, err error) {
	l.mu.Lock()
	c := l.clients[connID]
	l.mu.Unlock()
	if c != nil {
		_ = c.conn.Send(matchproto.ErrorPayload(err))
	}
}

// Wait blocks until in-flight rating settlements finish.
func (l *Lobby) Wait() { l.settling.Wait() }

// Shutdown refuses new connections and searches, tears down every live match and
// waits for settlements. Matches can no longer complete once it returns.
func (l *Lobby) Shutdown() {
	l.mu.Lock()
	l.closing = true
	dropped := l.queue.Clear()
	l.mu.Unlock()
	l.log.Info("lobby_shutdown", zap.Int("dropped_searches", len(dropped)))
	for _, lm := range l.liveMatches() {
		lm.mu.Lock()
		if !lm.closed {
			l.teardownLocked(lm, matchproto.ReasonShutdown, -1)
		}
		lm.mu.Unlock()
	}
	l.Wait()
}

func (l *Lobby) liveMatches() []*liveMatch {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*liveMatch, 0, len(l.matches))
	for _, lm := range l.matches {
		out = append(out, lm)
	}
	return out
}

// Stats is a point-in-time count for logs and tests.
type Stats struct {
	Connections int
	Queued      int
	LiveMatches int
	LongestWait time.Duration // oldest waiting search, zero when the queue is empty
}

func (l *Lobby) Stats() Stats {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	s := Stats{Connections: len(l.clients), Queued: l.queue.Len(), LiveMatches: len(l.matches)}
	for _, e := range l.queue.Snapshot() {
		if w := now.Sub(e.EnqueuedAt); w > s.LongestWait {
			s.LongestWait = w
		}
	}
	return s
}

// MatchOf returns a copy of the live match connID plays in.
func (l *Lobby) MatchOf(connID string) (*match.Match, bool) {
	l.mu.Lock()
	c := l.clients[connID]
	var lm *liveMatch
	if c != nil {
		lm = l.matches[c.matchID]
	}
	l.mu.Unlock()
	if lm == nil {
		return nil, false
	}
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if lm.closed {
		return nil, false
	}
	return lm.m.Clone(), true
}
