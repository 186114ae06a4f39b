package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adwski/chat-backend/backend/model"
	"github.com/adwski/chat-backend/backend/service"
	"github.com/rs/zerolog"
)

const (
	defaultShutdownDeadline = 10 * time.Second
	defaultReadTimeout      = 15 * time.Second
	defaultMaxBodySize      = 1 << 20
)

var (
	ErrUnexpected = errors.New("unexpected server error")
)

type ctxKey struct{}

type (
	ChatService interface {
		Register(ctx context.Context, req service.RegisterRequest) (*service.AuthResponse, error)
		Login(ctx context.Context, req service.LoginRequest) (*service.AuthResponse, error)
		Authenticate(token string) (string, error)
		SearchUsers(ctx context.Context, callerID, search string) ([]model.User, error)
		GetUser(ctx context.Context, userID string) (*model.User, error)

		AccessChat(ctx context.Context, callerID, userID string) (*model.Chat, error)
		FetchChats(ctx context.Context, callerID string) ([]model.Chat, error)
		CreateGroupChat(ctx context.Context, callerID, name string, userIDs []string) (*model.Chat, error)
		RenameGroup(ctx context.Context, chatID, name string) (*model.Chat, error)
		AddToGroup(ctx context.Context, chatID, userID string) (*model.Chat, error)
		RemoveFromGroup(ctx context.Context, chatID, userID string) (*model.Chat, error)
		DeleteGroup(ctx context.Context, callerID, chatID string) error
		MarkRead(ctx context.Context, callerID, chatID string) (int64, error)

		SendMessage(ctx context.Context, callerID, chatID, content string) (*model.Message, error)
		ListMessages(ctx context.Context, callerID, chatID string) ([]model.Message, error)
	}

	StatsSource interface {
		Stats() map[string]int64
	}
)

type GenericResponse struct {
	Message string      `json:"message,omitempty"`
	Error   string      `json:"error,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

type Server struct {
	logger zerolog.Logger
	svc    ChatService
	stats  StatsSource
	origin string
	*http.Server
}

type Config struct {
	Logger        *zerolog.Logger
	ChatService   ChatService
	Stats         StatsSource
	ListenAddr    string
	AllowedOrigin string
}

func NewServer(cfg Config) *Server {
	srv := &Server{
		logger: cfg.Logger.With().Str("component", "api-server").Logger(),
		svc:    cfg.ChatService,
		stats:  cfg.Stats,
		origin: cfg.AllowedOrigin,
	}
	if srv.origin == "" {
		srv.origin = "*"
	}

	r := http.NewServeMux()
	r.HandleFunc("GET /{$}", srv.root)
	r.HandleFunc("GET /api/stats", srv.getStats)

	r.HandleFunc("POST /api/user", srv.register)
	r.HandleFunc("POST /api/user/login", srv.login)
	r.HandleFunc("GET /api/user", srv.protect(srv.searchUsers))
	r.HandleFunc("GET /api/user/{id}", srv.protect(srv.getUser))

	r.HandleFunc("POST /api/chat", srv.protect(srv.accessChat))
	r.HandleFunc("GET /api/chat", srv.protect(srv.fetchChats))
	r.HandleFunc("POST /api/chat/group", srv.protect(srv.createGroupChat))
	r.HandleFunc("PUT /api/chat/rename", srv.protect(srv.renameGroup))
	r.HandleFunc("PUT /api/chat/groupadd", srv.protect(srv.addToGroup))
	r.HandleFunc("PUT /api/chat/groupremove", srv.protect(srv.removeFromGroup))
	r.HandleFunc("PUT /api/chat/{chatID}/read", srv.protect(srv.markRead))
	r.HandleFunc("DELETE /api/chat/group/{chatID}", srv.protect(srv.deleteGroup))

	r.HandleFunc("POST /api/message", srv.protect(srv.sendMessage))
	r.HandleFunc("GET /api/message/{chatID}", srv.protect(srv.listMessages))

	r.HandleFunc("OPTIONS /", srv.corsHandler)

	srv.Server = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: defaultReadTimeout,
	}
	return srv
}

func (srv *Server) corsHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", srv.origin)
	w.Header().Set("Access-Control-Allow-Methods", "POST, GET, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
	w.Header().Set("Access-Control-Max-Age", "86400")
	w.Header().Set("Access-Control-Allow-Credentials", "true")
	w.WriteHeader(http.StatusNoContent)
}

// protect rejects requests without a valid bearer token and puts caller id
// into request context.
func (srv *Server) protect(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			srv.writeJSON(w, http.StatusUnauthorized, &GenericResponse{Message: "not authorized, no token"})
			return
		}
		userID, err := srv.svc.Authenticate(token)
		if err != nil {
			srv.writeJSON(w, http.StatusUnauthorized, &GenericResponse{Message: "not authorized, token failed"})
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, userID)))
	}
}

func callerID(r *http.Request) string {
	id, _ := r.Context().Value(ctxKey{}).(string)
	return id
}

func (srv *Server) readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, defaultMaxBodySize))
	defer func() {
		_ = r.Body.Close()
	}()
	if err == nil {
		err = json.Unmarshal(body, v)
	}
	if err != nil {
		srv.logger.Debug().Err(err).Str("path", r.URL.Path).Msg("bad request body")
		srv.writeJSON(w, http.StatusBadRequest, &GenericResponse{Message: "invalid request body"})
		return false
	}
	return true
}

func (srv *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		srv.logger.Error().Err(err).Msg("failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", srv.origin)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.WriteHeader(code)
	if _, err = w.Write(b); err != nil {
		srv.logger.Error().Err(err).Msg("failed to write response")
	}
}

// writeError maps service errors onto HTTP statuses.
func (srv *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var code int
	switch {
	case errors.Is(err, service.ErrValidation), errors.Is(err, service.ErrConflict):
		code = http.StatusBadRequest
	case errors.Is(err, service.ErrUnauthorized):
		code = http.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden):
		code = http.StatusForbidden
	case errors.Is(err, service.ErrNotFound):
		code = http.StatusNotFound
	default:
		srv.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		srv.writeJSON(w, http.StatusInternalServerError, &GenericResponse{Message: ErrUnexpected.Error()})
		return
	}
	srv.writeJSON(w, code, &GenericResponse{Message: strings.ReplaceAll(err.Error(), "\n", ": ")})
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	hErr := make(chan error)
	go func() {
		hErr <- srv.ListenAndServe()
	}()

	srv.logger.Info().Str("addr", srv.Addr).Msg("server started")

	select {
	case err := <-hErr:
		if !errors.Is(err, http.ErrServerClosed) {
			errc <- errors.Join(ErrUnexpected, err)
		}
	case <-ctx.Done():
		shCtx, shCancel := context.WithTimeout(context.Background(), defaultShutdownDeadline)
		defer shCancel()
		if err := srv.Shutdown(shCtx); err != nil {
			srv.logger.Error().Err(err).Msg("server shutdown failed")
		}
	}
}
