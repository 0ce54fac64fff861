package livefeed

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/chess-arena-server/internal/obslog"
)

// Server exposes the spectator feed: GET /live lists in-progress game
// IDs, GET /live/{id} returns the latest snapshot.
type Server struct {
	store *Store
	srv   *fasthttp.Server
}

func NewServer(store *Store) *Server {
	s := &Server{store: store}
	s.srv = &fasthttp.Server{
		Handler:      s.handle,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		Name:         "arena-livefeed",
	}
	return s
}

func (s *Server) ListenAndServe(addr string) error {
	obslog.L().Info("livefeed_listen", zap.String("addr", addr))
	return s.srv.ListenAndServe(addr)
}

func (s *Server) Shutdown() error { return s.srv.Shutdown() }

func (s *Server) handle(ctx *fasthttp.RequestCtx) {
	if !ctx.IsGet() {
		ctx.SetStatusCode(fasthttp.StatusMethodNotAllowed)
		return
	}
	path := string(ctx.Path())
	switch {
	case path == "/live":
		s.handleList(ctx)
	case strings.HasPrefix(path, "/live/"):
		s.handleGame(ctx, strings.TrimPrefix(path, "/live/"))
	default:
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	}
}

func (s *Server) handleList(ctx *fasthttp.RequestCtx) {
	reqCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ids, err := s.store.LiveIDs(reqCtx)
	if err != nil {
		obslog.L().Warn("livefeed_list_failed", zap.Error(err))
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	sort.Strings(ids)
	if ids == nil {
		ids = []string{}
	}
	writeJSON(ctx, map[string]any{"games": ids})
}

func (s *Server) handleGame(ctx *fasthttp.RequestCtx, gameID string) {
	gameID = strings.TrimSpace(gameID)
	if gameID == "" || strings.Contains(gameID, "/") {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		return
	}
	reqCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := s.store.Get(reqCtx, gameID)
	if err != nil {
		obslog.L().Warn("livefeed_get_failed", zap.String("game_id", gameID), zap.Error(err))
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	if st == nil {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		return
	}
	writeJSON(ctx, st)
}

func writeJSON(ctx *fasthttp.RequestCtx, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType("application/json; charset=utf-8")
	ctx.SetBody(b)
}
