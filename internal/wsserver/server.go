// Package wsserver serves the match protocol over websockets and answers plain
// HTTP health checks on the same root path.
package wsserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/park285/netplay-matchmaker/internal/lobby"
	"github.com/park285/netplay-matchmaker/internal/obslog"
	"github.com/park285/netplay-matchmaker/pkg/matchproto"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// HeaderUserEmail carries the authenticated identifier set by the auth proxy.
const HeaderUserEmail = "X-User-Email"

const maxFrameBytes = 64 << 10

type Options struct {
	Addr           string
	AllowedOrigins []string
	SendBuffer     int
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	Logger         *zap.Logger
}

type Server struct {
	lobby *lobby.Lobby
	opts  Options
	log   *zap.Logger

	httpSrv *http.Server

	mu    sync.Mutex
	conns map[string]*wsConn
	wg    sync.WaitGroup
}

func New(l *lobby.Lobby, o Options) *Server {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.PingInterval == 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	log := o.Logger
	if log == nil {
		log = obslog.L()
	}
	s := &Server{lobby: l, opts: o, log: log, conns: make(map[string]*wsConn)}
	s.httpSrv = &http.Server{
		Addr:              o.Addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe blocks until Shutdown. http.ErrServerClosed is returned as nil.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

func (s *Server) Serve(ln net.Listener) error {
	s.log.Info("ws_listen", zap.String("addr", ln.Addr().String()))
	if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting and then closes every open websocket.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.StopAccepting(ctx)
	if cerr := s.CloseConnections(ctx); cerr != nil {
		return cerr
	}
	return err
}

// StopAccepting closes the listener. Upgraded websockets stay open.
func (s *Server) StopAccepting(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// CloseConnections closes every websocket after flushing queued frames and waits
// for the connection handlers to finish.
func (s *Server) CloseConnections(ctx context.Context) error {
	s.mu.Lock()
	for _, c := range s.conns {
		c.stop(websocket.StatusGoingAway, "server shutdown")
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if !strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
		return
	}
	s.serveWS(w, r)
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  s.opts.AllowedOrigins,
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		s.log.Warn("ws_accept_error", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	ws.SetReadLimit(maxFrameBytes)

	s.wg.Add(1)
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := newConn(uuid.NewString(), ws, s.opts.SendBuffer, cancel)
	go c.writeLoop(s.opts.WriteTimeout)

	playerID := strings.TrimSpace(r.Header.Get(HeaderUserEmail))
	chatMatchID := strings.TrimSpace(r.URL.Query().Get("matchId"))
	if err := s.lobby.Connect(c, playerID, chatMatchID); err != nil {
		wctx, wcancel := context.WithTimeout(ctx, s.opts.WriteTimeout)
		_ = wsjson.Write(wctx, ws, matchproto.ErrorPayload(err))
		wcancel()
		c.stop(websocket.StatusPolicyViolation, matchproto.CodeOf(err))
		<-c.writerDone
		_ = ws.Close(websocket.StatusPolicyViolation, matchproto.CodeOf(err))
		return
	}

	s.track(c)
	defer s.untrack(c.id)
	go c.pingLoop(ctx, s.opts.PingInterval)

	s.readLoop(ctx, c)

	s.lobby.Disconnect(c.id)
	c.stop(websocket.StatusNormalClosure, "")
	<-c.writerDone
	code, reason := c.closeStatus()
	_ = ws.Close(code, reason)
}

func (s *Server) readLoop(ctx context.Context, c *wsConn) {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			if st := websocket.CloseStatus(err); st != websocket.StatusNormalClosure && st != websocket.StatusGoingAway && ctx.Err() == nil {
				s.log.Debug("ws_read_error", zap.String("conn_id", c.id), zap.Error(err))
			}
			return
		}
		if typ != websocket.MessageText {
			_ = c.Send(matchproto.ErrorPayload(matchproto.BadRequest("text frames only")))
			continue
		}
		_ = s.lobby.HandleFrame(ctx, c.id, data)
	}
}

func (s *Server) track(c *wsConn) {
	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()
}

func (s *Server) untrack(id string) {
	s.mu.Lock()
	delete(s.conns, id)
	s.mu.Unlock()
}

// Connections returns the number of open websockets.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}
