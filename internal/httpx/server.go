package httpx

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Check reports whether one dependency is reachable.
type Check func(ctx context.Context) error

func NewRouter(log zerolog.Logger) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, Authenticate, RequestLogger(log))
	r.Use(middleware.Timeout(15 * time.Second))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

// Ready mounts /readyz, which runs every check and answers 503 naming the
// dependencies that failed.
func Ready(r chi.Router, checks map[string]Check) {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		failed := map[string]string{}
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				zerolog.Ctx(ctx).Warn().Err(err).Str("dependency", name).Msg("readiness check failed")
				failed[name] = "unreachable"
			}
		}
		if len(failed) > 0 {
			fail(w, http.StatusServiceUnavailable, "Not ready", "unavailable", failed)
			return
		}
		respond(w, http.StatusOK, "Ready", nil)
	})
}
