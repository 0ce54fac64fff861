// Package transport accepts websocket connections and bridges decoded
// protocol frames to the orchestrator. One goroutine reads per
// connection; writes are serialized so concurrent session broadcasts
// cannot interleave frames.
package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/chess-arena-server/internal/obslog"
	"github.com/park285/chess-arena-server/internal/registry"
	"github.com/park285/chess-arena-server/pkg/protocol"
)

const writeTimeout = 5 * time.Second

// EventHandler is the orchestrator surface the transport needs.
type EventHandler interface {
	HandleEvent(conn registry.Conn, ev protocol.ClientEvent)
	HandleDisconnect(conn registry.Conn)
}

type Server struct {
	handler        EventHandler
	allowedOrigins []string
	httpSrv        *http.Server
}

func NewServer(handler EventHandler, allowedOrigins []string) *Server {
	s := &Server{handler: handler, allowedOrigins: allowedOrigins}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	s.httpSrv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) ListenAndServe(addr string) error {
	s.httpSrv.Addr = addr
	obslog.L().Info("transport_listen", zap.String("addr", addr))
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  s.allowedOrigins,
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		obslog.L().Warn("transport_accept_failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	conn := &wsConn{ws: ws, ctx: ctx, cancel: cancel}
	defer func() {
		s.handler.HandleDisconnect(conn)
		conn.Close()
	}()

	for {
		var env protocol.Envelope
		if err := wsjson.Read(ctx, ws, &env); err != nil {
			return
		}
		ev, err := protocol.DecodeClient(env)
		if err != nil {
			obslog.L().Warn("transport_bad_frame",
				zap.String("type", env.Type), zap.Error(err))
			continue
		}
		s.handler.HandleEvent(conn, ev)
	}
}

// wsConn adapts one websocket to registry.Conn.
type wsConn struct {
	ws     *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (c *wsConn) Send(ev protocol.ServerEvent) error {
	env, err := protocol.EncodeServer(ev)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, c.ws, env)
}

func (c *wsConn) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.ws.Close(websocket.StatusNormalClosure, "closing")
	})
}
