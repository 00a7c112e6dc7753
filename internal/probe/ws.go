package probe

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Frame is an outbound server message with its payload left undecoded.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type FrameCallback func(f Frame)

type callbackEntry struct {
	id       int
	callback FrameCallback
}

// Session is a single websocket connection to the server. Incoming frames are
// fanned out to registered callbacks from one reader goroutine.
type Session struct {
	wsURL   string
	headers HeaderProvider

	conn *websocket.Conn

	cbs    []callbackEntry
	nextID int
	cbM    sync.RWMutex

	rootCtx    context.Context
	rootCancel context.CancelFunc
	done       chan struct{}
	errM       sync.Mutex
	readErr    error
}

func NewSession(wsURL string, headers HeaderProvider) *Session {
	return &Session{wsURL: wsURL, headers: headers, done: make(chan struct{})}
}

func (s *Session) OnFrame(cb FrameCallback) int {
	s.cbM.Lock()
	defer s.cbM.Unlock()
	s.nextID++
	s.cbs = append(s.cbs, callbackEntry{id: s.nextID, callback: cb})
	return s.nextID
}

func (s *Session) RemoveFrameCallback(id int) {
	s.cbM.Lock()
	defer s.cbM.Unlock()
	for i, e := range s.cbs {
		if e.id == id {
			s.cbs = append(s.cbs[:i], s.cbs[i+1:]...)
			return
		}
	}
}

func (s *Session) Connect(ctx context.Context) error {
	if s.conn != nil {
		return errors.New("already connected")
	}
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, s.wsURL, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      s.buildHeaders(),
	})
	if err != nil {
		return err
	}
	s.conn = conn
	s.rootCtx, s.rootCancel = context.WithCancel(context.Background())
	go s.listen()
	return nil
}

func (s *Session) listen() {
	defer close(s.done)
	for {
		var f Frame
		if err := wsjson.Read(s.rootCtx, s.conn, &f); err != nil {
			s.errM.Lock()
			s.readErr = err
			s.errM.Unlock()
			return
		}
		s.cbM.RLock()
		cbs := append([]callbackEntry(nil), s.cbs...)
		s.cbM.RUnlock()
		for _, e := range cbs {
			e.callback(f)
		}
	}
}

// Send writes one inbound message. A nil data omits the payload.
func (s *Session) Send(ctx context.Context, typ string, data any) error {
	if s.conn == nil {
		return errors.New("not connected")
	}
	msg := map[string]any{"type": typ}
	if data != nil {
		msg["data"] = data
	}
	return wsjson.Write(ctx, s.conn, msg)
}

// Done is closed when the reader stops.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the error that stopped the reader, if any.
func (s *Session) Err() error {
	s.errM.Lock()
	defer s.errM.Unlock()
	return s.readErr
}

func (s *Session) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close(websocket.StatusNormalClosure, "probe done")
	s.rootCancel()
	<-s.done
	return err
}

func (s *Session) buildHeaders() http.Header {
	h := http.Header{}
	if s.headers == nil {
		return h
	}
	for k, v := range s.headers() {
		if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
			h.Set(k, v)
		}
	}
	return h
}
