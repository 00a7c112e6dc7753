package wsserver

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/park285/netplay-matchmaker/pkg/matchproto"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

var (
	ErrConnClosed     = errors.New("connection closed")
	ErrSendBufferFull = errors.New("send buffer full")
)

// wsConn adapts one websocket to lobby.Conn. Frames are queued and written by a
// single writer goroutine; a full queue closes the connection as a slow consumer.
type wsConn struct {
	id string
	ws *websocket.Conn

	out        chan matchproto.Envelope
	done       chan struct{}
	writerDone chan struct{}
	stopOnce   sync.Once
	cancelRead context.CancelFunc
	closeCode  websocket.StatusCode
	closeMsg   string
	mu         sync.Mutex
}

func newConn(id string, ws *websocket.Conn, buffer int, cancelRead context.CancelFunc) *wsConn {
	if buffer <= 0 {
		buffer = 64
	}
	return &wsConn{
		id:         id,
		ws:         ws,
		out:        make(chan matchproto.Envelope, buffer),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
		cancelRead: cancelRead,
		closeCode:  websocket.StatusNormalClosure,
	}
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Send(e matchproto.Envelope) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.out <- e:
		return nil
	default:
		c.stop(websocket.StatusPolicyViolation, "slow consumer")
		return ErrSendBufferFull
	}
}

// stop ends the writer after it flushes queued frames, then closes the socket
// with code, which unblocks the reader.
func (c *wsConn) stop(code websocket.StatusCode, reason string) {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.closeCode, c.closeMsg = code, reason
		c.mu.Unlock()
		close(c.done)
		go func() {
			<-c.writerDone
			_ = c.ws.Close(code, reason)
			c.cancelRead()
		}()
	})
}

func (c *wsConn) closeStatus() (websocket.StatusCode, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, c.closeMsg
}

func (c *wsConn) writeLoop(timeout time.Duration) {
	defer close(c.writerDone)
	for {
		select {
		case e := <-c.out:
			if err := c.write(e, timeout); err != nil {
				c.stop(websocket.StatusGoingAway, "write failed")
				return
			}
		case <-c.done:
			c.flush(timeout)
			return
		}
	}
}

func (c *wsConn) flush(timeout time.Duration) {
	for {
		select {
		case e := <-c.out:
			if err := c.write(e, timeout); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *wsConn) write(e matchproto.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return wsjson.Write(ctx, c.ws, e)
}

func (c *wsConn) pingLoop(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := c.ws.Ping(pctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				c.stop(websocket.StatusGoingAway, "ping failure")
				return
			}
		}
	}
}
