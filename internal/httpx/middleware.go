package httpx

import (
	"context"
	"net/http"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

type Role string

const (
	RoleCashier Role = "cashier"
	RoleManager Role = "manager"
)

const (
	HeaderUserID   = "X-User-Id"
	HeaderUserRole = "X-User-Role"
)

// Identity is the caller as asserted by the gateway in front of the API.
type Identity struct {
	UserID string
	Role   Role
}

type identityKey struct{}

func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// Authenticate reads the identity headers. It never rejects; RequireRole does.
func Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if userID == "" {
			next.ServeHTTP(w, r)
			return
		}
		id := Identity{
			UserID: userID,
			Role:   Role(strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderUserRole)))),
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
	})
}

func RequireRole(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFrom(r.Context())
			if !ok {
				fail(w, http.StatusUnauthorized, "Unauthenticated", "unauthenticated", nil)
				return
			}
			if !slices.Contains(roles, id.Role) {
				fail(w, http.StatusForbidden, "Forbidden", "forbidden", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger puts a request-scoped logger on the context, writes one
// access line per request and turns panics into 500s.
func RequestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			reqLog := log.With().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Logger()
			r = r.WithContext(reqLog.WithContext(r.Context()))

			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					reqLog.Error().
						Interface("panic", rec).
						Bytes("stack", debug.Stack()).
						Msg("panic recovered")
					if ww.Status() == 0 {
						fail(ww, http.StatusInternalServerError, "Internal server error", "internal", nil)
					}
				}

				id, _ := IdentityFrom(r.Context())
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				reqLog.Info().
					Str("user_id", id.UserID).
					Str("role", string(id.Role)).
					Str("url", r.URL.String()).
					Int("status", status).
					Int("bytes", ww.BytesWritten()).
					Dur("duration", time.Since(start)).
					Msg("request completed")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
