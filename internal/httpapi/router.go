package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// NewRouter builds the HTTP handler. The device websocket is served without a
// request timeout since its connections are long lived; admin routes require
// the bearer token adminToken.
func NewRouter(api *API, deviceWebsocket http.Handler, adminToken string, requestTimeout time.Duration, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api/v1/device", func(r chi.Router) {
		r.Get("/ws", deviceWebsocket.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))
			r.Use(adminAuth(adminToken, logger))

			r.Get("/connected", api.ConnectedDevices)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/connection", api.Connection)
				r.Post("/unlock-tool", api.UnlockTool)
				r.Post("/restart", api.RestartDevice)
				r.Post("/update-firmware", api.UpdateFirmware)
				r.Post("/add-user-card-identity", api.AddUserCardIdentity)
			})
		})
	})

	return r
}

// adminAuth requires "Authorization: Bearer <token>".
func adminAuth(token string, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				logger.Info().Str("remote_addr", r.RemoteAddr).Str("path", r.URL.Path).Msg("Rejected unauthenticated admin request")
				writeJSON(w, logger, http.StatusUnauthorized, ErrorBody{
					Type:       "NotAuthenticated",
					Message:    "Required authentication not found.",
					Parameters: map[string]string{},
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Debug().
					Str("request_id", middleware.GetReqID(r.Context())).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Int("bytes", ww.BytesWritten()).
					Dur("duration", time.Since(start)).
					Msg("HTTP request")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
