package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"greencycle/internal/auth"
	"greencycle/internal/chat"
	"greencycle/internal/domain"
	"greencycle/internal/metrics"
)

const (
	maxBodySize     = 64 << 10
	shutdownTimeout = 5 * time.Second
)

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Web implements domain.Channel as a JSON API plus websocket endpoint that a
// site's chat widget talks to.
type Web struct {
	host   string
	port   int
	logger *slog.Logger
	server *http.Server

	sessions       *chat.Registry
	auth           *auth.TokenAuthenticator
	health         Pinger
	pickups        domain.PickupNotifier
	requireAuth    bool
	allowedOrigins map[string]bool
	metricsPath    string
	webhookSecret  string
	limiter        *RateLimiter
	validate       *validator.Validate

	identMu sync.Mutex
	idents  map[string]*webSession

	clientsMu sync.Mutex
	clients   map[*wsClient]struct{}
}

type WebConfig struct {
	Host           string
	Port           int
	Sessions       *chat.Registry
	Auth           *auth.TokenAuthenticator // nil disables bearer tokens
	Health         Pinger                   // optional, reported on /status
	Pickups        domain.PickupNotifier    // optional, feeds pickups_changed frames
	RequireAuth    bool
	AllowedOrigins []string
	MetricsPath    string       // empty disables /metrics
	WebhookSecret  string       // enables POST /hooks/pickups when Pickups is set
	Limiter        *RateLimiter // optional, throttles user sends per client
	Logger         *slog.Logger
}

type sendRequest struct {
	Text string `json:"text" validate:"required"`
}

func NewWeb(cfg WebConfig) *Web {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	origins := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		origins[o] = true
	}
	w := &Web{
		host:           cfg.Host,
		port:           cfg.Port,
		logger:         cfg.Logger,
		sessions:       cfg.Sessions,
		auth:           cfg.Auth,
		health:         cfg.Health,
		pickups:        cfg.Pickups,
		requireAuth:    cfg.RequireAuth,
		allowedOrigins: origins,
		metricsPath:    cfg.MetricsPath,
		webhookSecret:  cfg.WebhookSecret,
		limiter:        cfg.Limiter,
		validate:       validator.New(),
		idents:         make(map[string]*webSession),
		clients:        make(map[*wsClient]struct{}),
	}
	w.sessions.OnClose(w.forget)
	return w
}

func (w *Web) Name() string { return "web" }

// Handler returns the router. Exposed for tests and for embedding.
func (w *Web) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogger(w.logger))
	router.Use(middleware.Recoverer)

	router.Get("/status", w.handleStatus)
	if w.metricsPath != "" {
		router.Get(w.metricsPath, metrics.Collector.Handler())
	}
	if w.webhookSecret != "" && w.pickups != nil {
		router.Post("/hooks/pickups", w.handlePickupHook)
	}

	router.Group(func(r chi.Router) {
		r.Use(w.authenticate)
		r.Get("/ws", w.handleWS)

		r.Route("/api/chat/sessions", func(api chi.Router) {
			api.Use(render.SetContentType(render.ContentTypeJSON))
			api.Post("/", w.handleCreate)
			api.Route("/{id}", func(s chi.Router) {
				s.Get("/", w.handleGet)
				s.Delete("/", w.handleClose)
				s.With(w.throttle).Post("/messages", w.handleSend)
				s.With(w.throttle).Post("/quick-replies/{qrID}", w.handleQuickReply)
			})
		})
	})

	router.NotFound(func(rw http.ResponseWriter, r *http.Request) {
		renderError(rw, r, http.StatusNotFound, "not found")
	})
	router.MethodNotAllowed(func(rw http.ResponseWriter, r *http.Request) {
		renderError(rw, r, http.StatusMethodNotAllowed, "method not allowed")
	})
	return router
}

// Start serves until ctx is cancelled.
func (w *Web) Start(ctx context.Context) error {
	addr := net.JoinHostPort(w.host, strconv.Itoa(w.port))
	w.server = &http.Server{
		Addr:              addr,
		Handler:           w.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(w.logger.Handler(), slog.LevelError),
	}

	w.logger.Info("web channel started", "addr", "http://"+addr, "require_auth", w.requireAuth)

	go func() {
		<-ctx.Done()
		w.closeAllClients()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		w.server.Shutdown(shutdownCtx)
	}()

	if err := w.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("web listen: %w", err)
	}
	return nil
}

// Stop is a no-op: the server shuts down when Start's context is cancelled.
func (w *Web) Stop() error {
	return nil
}

type identityKey struct{}

// authenticate resolves the bearer token (header, or ?token= for websocket
// clients that cannot set headers) into an identity on the request context.
func (w *Web) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		token := auth.BearerToken(r.Header.Get("Authorization"))
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		var id *domain.Identity
		if token != "" {
			if w.auth == nil {
				renderError(rw, r, http.StatusUnauthorized, "authentication not enabled")
				return
			}
			var err error
			id, err = w.auth.Authenticate(r.Context(), token)
			if err != nil {
				w.logger.Debug("bearer token rejected", "request_id", middleware.GetReqID(r.Context()))
				renderError(rw, r, http.StatusUnauthorized, "invalid token")
				return
			}
		}
		if id == nil && w.requireAuth {
			renderError(rw, r, http.StatusUnauthorized, "authorization required")
			return
		}

		ctx := context.WithValue(r.Context(), identityKey{}, id)
		next.ServeHTTP(rw, r.WithContext(ctx))
	})
}

// throttle applies the per-client send limit.
func (w *Web) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if ok, wait := w.limiter.Allow(clientKey(r)); !ok {
			rw.Header().Set("Retry-After", strconv.Itoa(int(wait.Seconds())+1))
			renderError(rw, r, http.StatusTooManyRequests, ErrRateLimited.Error())
			return
		}
		next.ServeHTTP(rw, r)
	})
}

// clientKey identifies the sender for rate limiting: the signed-in user, or
// the remote address for guests.
func clientKey(r *http.Request) string {
	if id := identityFrom(r.Context()); id != nil {
		return "user:" + id.UserID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

func identityFrom(ctx context.Context) *domain.Identity {
	id, _ := ctx.Value(identityKey{}).(*domain.Identity)
	return id
}

// webSession binds a chat session to the user who owns it. A guest session
// has no owner until a signed-in request claims it; after that only the
// owner's token can reach it.
type webSession struct {
	ident *auth.Switchable
	owner string
}

// openSession creates a session owned by the caller, if signed in.
func (w *Web) openSession(id *domain.Identity) *chat.Session {
	ws := &webSession{ident: auth.NewSwitchable(id)}
	if id != nil {
		ws.owner = id.UserID
	}
	s := w.sessions.Create(ws.ident)
	w.identMu.Lock()
	w.idents[s.ID()] = ws
	w.identMu.Unlock()
	return s
}

// session looks up a web session on behalf of the request's caller. Owned
// sessions answer ErrSessionNotFound to anyone but their owner, so a session
// id alone reveals nothing. A signed-in caller claims a guest session.
func (w *Web) session(r *http.Request, sessionID string) (*chat.Session, error) {
	s, err := w.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	caller := identityFrom(r.Context())

	w.identMu.Lock()
	defer w.identMu.Unlock()
	ws, ok := w.idents[sessionID]
	if !ok {
		// created by another channel
		return nil, chat.ErrSessionNotFound
	}
	switch {
	case ws.owner == "":
		if caller != nil {
			ws.owner = caller.UserID
			ws.ident.Set(caller)
		}
	case caller == nil || caller.UserID != ws.owner:
		w.logger.Debug("session access denied", "session", sessionID, "request_id", middleware.GetReqID(r.Context()))
		return nil, chat.ErrSessionNotFound
	default:
		ws.ident.Set(caller)
	}
	return s, nil
}

func (w *Web) forget(sessionID string) {
	w.identMu.Lock()
	delete(w.idents, sessionID)
	w.identMu.Unlock()
}

func (w *Web) handleCreate(rw http.ResponseWriter, r *http.Request) {
	s := w.openSession(identityFrom(r.Context()))
	render.Status(r, http.StatusCreated)
	render.JSON(rw, r, viewOf(s))
}

func (w *Web) handleGet(rw http.ResponseWriter, r *http.Request) {
	s, err := w.session(r, chi.URLParam(r, "id"))
	if err != nil {
		renderError(rw, r, statusFor(err), err.Error())
		return
	}
	render.JSON(rw, r, viewOf(s))
}

func (w *Web) handleClose(rw http.ResponseWriter, r *http.Request) {
	s, err := w.session(r, chi.URLParam(r, "id"))
	if err != nil {
		renderError(rw, r, statusFor(err), err.Error())
		return
	}
	if err := w.sessions.Close(s.ID()); err != nil {
		renderError(rw, r, statusFor(err), err.Error())
		return
	}
	render.NoContent(rw, r)
}

func (w *Web) handleSend(rw http.ResponseWriter, r *http.Request) {
	logger := w.logger.With("request_id", middleware.GetReqID(r.Context()))

	s, err := w.session(r, chi.URLParam(r, "id"))
	if err != nil {
		renderError(rw, r, statusFor(err), err.Error())
		return
	}

	var req sendRequest
	if err := render.DecodeJSON(http.MaxBytesReader(rw, r.Body, maxBodySize), &req); err != nil {
		logger.Debug("invalid send body", "err", err)
		renderError(rw, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := w.validate.Struct(req); err != nil {
		renderError(rw, r, http.StatusBadRequest, chat.ErrEmptyMessage.Error())
		return
	}

	turn, err := s.Send(r.Context(), req.Text)
	if err != nil {
		logger.Debug("send rejected", "session", s.ID(), "err", err)
		renderError(rw, r, statusFor(err), err.Error())
		return
	}
	render.JSON(rw, r, turn)
}

func (w *Web) handleQuickReply(rw http.ResponseWriter, r *http.Request) {
	s, err := w.session(r, chi.URLParam(r, "id"))
	if err != nil {
		renderError(rw, r, statusFor(err), err.Error())
		return
	}

	sel, err := s.SelectQuickReply(r.Context(), chi.URLParam(r, "qrID"))
	if err != nil {
		renderError(rw, r, statusFor(err), err.Error())
		return
	}
	if sel.Turn != nil {
		render.JSON(rw, r, sel.Turn)
		return
	}
	render.JSON(rw, r, struct {
		Navigate navigation `json:"navigate"`
	}{navigation{Destination: sel.Navigate, Path: sel.Navigate.PathFor(s.Identity() != nil)}})
}

func (w *Web) handleStatus(rw http.ResponseWriter, r *http.Request) {
	resp := struct {
		Status      string `json:"status"`
		Store       string `json:"store"`
		Sessions    int    `json:"sessions"`
		Connections int64  `json:"ws_connections"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Store:       "ok",
		Sessions:    w.sessions.Len(),
		Connections: metrics.WSConnections.Value(),
		Uptime:      metrics.Collector.Uptime().Round(time.Second).String(),
	}
	if w.health == nil {
		resp.Store = "none"
	} else if err := w.health.Ping(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.Store = err.Error()
	}
	render.JSON(rw, r, resp)
}
