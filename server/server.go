// Package server bridges the engine to a presentation layer over a
// websocket: commands come in as JSON frames, the event timeline goes out.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sweetpotato0/shard/engine"
	shardErrors "github.com/sweetpotato0/shard/errors"
	"github.com/sweetpotato0/shard/event"
	"github.com/sweetpotato0/shard/gateway"
	"github.com/sweetpotato0/shard/message"
	"github.com/sweetpotato0/shard/pkg/logging"
	"github.com/sweetpotato0/shard/session"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
	wsPingEvery = (wsPongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

type wsInbound struct {
	Type      string             `json:"type"`
	Messages  []*message.Message `json:"messages,omitempty"`
	Model     string             `json:"model_id,omitempty"`
	WebSearch *bool              `json:"web_search_enabled,omitempty"`
	Image     *message.Image     `json:"image,omitempty"`
}

type wsOutbound struct {
	Type    string `json:"type"`
	ID      uint64 `json:"id,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Server serves the websocket bridge and a few read-only endpoints.
type Server struct {
	engine       *engine.Engine
	bus          *event.Bus
	defaultModel string
	webSearch    bool
	logger       *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithDefaultModel sets the model used when a submission names none.
func WithDefaultModel(id string) Option {
	return func(s *Server) {
		if id != "" {
			s.defaultModel = id
		}
	}
}

// WithWebSearch sets the default for submissions that omit web_search_enabled.
func WithWebSearch(enabled bool) Option {
	return func(s *Server) {
		s.webSearch = enabled
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a server. bus must be the emitter eng publishes to.
func New(eng *engine.Engine, bus *event.Bus, opts ...Option) *Server {
	s := &Server{
		engine:       eng,
		bus:          bus,
		defaultModel: gateway.DefaultModel,
		webSearch:    true,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.WithComponent("server")
	}
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /models", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, gateway.Catalog)
	})
	mux.HandleFunc("GET /history", s.handleHistory)
	mux.HandleFunc("DELETE /history/{key}", s.handleForget)
	mux.HandleFunc("GET /ws", s.handleWS)
	return mux
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	records, err := s.engine.Sessions().History(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, wsOutbound{Type: "error", Code: "internal", Message: err.Error()})
		return
	}
	if records == nil {
		records = []*session.Record{}
	}
	count, err := s.engine.Sessions().HistoryCount(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, wsOutbound{Type: "error", Code: "internal", Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Count: count, Records: records})
}

func (s *Server) handleForget(w http.ResponseWriter, r *http.Request) {
	err := s.engine.Sessions().Forget(r.Context(), r.PathValue("key"))
	switch {
	case errors.Is(err, shardErrors.ErrNotFound):
		writeJSON(w, http.StatusNotFound, wsOutbound{Type: "error", Code: "not_found", Message: err.Error()})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, wsOutbound{Type: "error", Code: "internal", Message: err.Error()})
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
		s.logger.Warn("ws set read deadline failed", "error", err)
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	writeCh := make(chan any, 64)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(wsPingEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case out := <-writeCh:
				if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
					return
				}
				if err := conn.WriteJSON(out); err != nil {
					cancel()
					return
				}
			case <-ticker.C:
				if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
					return
				}
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	unsubscribe := s.bus.Subscribe(event.Filter(s.engine.Current, func(ev event.Event) {
		push(ctx, writeCh, ev)
	}))
	defer func() {
		cancel()
		unsubscribe()
	}()
	s.logger.Info("ws client connected", "remote", r.RemoteAddr)

	for {
		var in wsInbound
		if err := conn.ReadJSON(&in); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				push(ctx, writeCh, wsOutbound{Type: "error", Code: "invalid_argument", Message: "malformed frame"})
				continue
			}
			cancel()
			<-writerDone
			s.logger.Info("ws client disconnected", "remote", r.RemoteAddr)
			return
		}

		switch strings.ToLower(strings.TrimSpace(in.Type)) {
		case "ping":
			push(ctx, writeCh, wsOutbound{Type: "pong"})
		case "submit":
			req := engine.TurnRequest{
				Messages:  in.Messages,
				Model:     in.Model,
				WebSearch: s.webSearch,
				Image:     in.Image,
			}
			if req.Model == "" {
				req.Model = s.defaultModel
			}
			if in.WebSearch != nil {
				req.WebSearch = *in.WebSearch
			}
			id := s.engine.SubmitTurn(ctx, req)
			push(ctx, writeCh, wsOutbound{Type: "submitted", ID: id})
		case "cancel":
			id := s.engine.CancelCurrentGeneration()
			push(ctx, writeCh, wsOutbound{Type: "cancelled", ID: id})
		case "":
			push(ctx, writeCh, wsOutbound{Type: "error", Code: "invalid_argument", Message: "type is required"})
		default:
			push(ctx, writeCh, wsOutbound{Type: "error", Code: "invalid_argument", Message: "unsupported type: " + in.Type})
		}
	}
}

// push queues out for the writer. Events are never dropped while the
// connection is alive.
func push(ctx context.Context, writeCh chan<- any, out any) {
	select {
	case writeCh <- out:
	case <-ctx.Done():
	}
}

type historyResponse struct {
	Count   int               `json:"count"`
	Records []*session.Record `json:"records"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
