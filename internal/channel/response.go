package channel

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"greencycle/internal/chat"
	"greencycle/internal/domain"
)

// errorResponse is the body of every non-2xx API answer.
type errorResponse struct {
	Error string `json:"error"`
}

// navigation tells the embedding page where to route.
type navigation struct {
	Destination domain.Destination `json:"destination"`
	Path        string             `json:"path"`
}

// sessionView is the JSON snapshot of a chat session.
type sessionView struct {
	SessionID    string              `json:"session_id"`
	Messages     []domain.Message    `json:"messages"`
	Composing    bool                `json:"composing"`
	QuickReplies []domain.QuickReply `json:"quick_replies"`
}

func viewOf(s *chat.Session) sessionView {
	return sessionView{
		SessionID:    s.ID(),
		Messages:     s.Messages(),
		Composing:    s.Composing(),
		QuickReplies: s.QuickReplies(),
	}
}

func renderError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, errorResponse{Error: msg})
}

// statusFor maps session errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, chat.ErrMessageTooLong):
		return http.StatusBadRequest
	case errors.Is(err, chat.ErrSessionNotFound), errors.Is(err, chat.ErrUnknownQuickReply):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// requestLogger logs one line per request once the handler returns.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			t1 := time.Now()
			defer func() {
				logger.Debug("http request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", time.Since(t1),
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()
			next.ServeHTTP(ww, r)
		}
		return http.HandlerFunc(fn)
	}
}
