package session

import (
	"net/http"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/firmguard/internal/apierror"
	"github.com/wolfeidau/firmguard/internal/auth"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Warning headers carry the seconds left before the session expires.
const (
	IdleWarningHeader     = "X-Session-Idle-Warning"
	AbsoluteWarningHeader = "X-Session-Absolute-Warning"
)

// Middleware enforces the session policy for authenticated requests. It must
// run after authentication; requests without a principal pass through.
func (e *Engine) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := auth.PrincipalFromContext(r.Context())
			if principal == nil {
				next.ServeHTTP(w, r)
				return
			}

			check := e.CheckTimeout(r.Context(), Subject{
				UserID:     principal.UserID,
				IssuedAt:   principal.IssuedAt,
				RememberMe: principal.RememberMe,
			}, e.now())

			if check.Expired() {
				code := apierror.CodeSessionIdleTimeout
				if check.Result == ResultAbsoluteExpired {
					code = apierror.CodeSessionAbsoluteTimeout
				}
				e.metrics.SessionTimeoutsTotal.Add(r.Context(), 1,
					metric.WithAttributes(attribute.String("result", check.Result.String())))
				zerolog.Ctx(r.Context()).Info().Str("code", string(code)).Msg("Session terminated")

				auth.ClearSessionCookie(w, r)
				apierror.Write(w, http.StatusUnauthorized, code)
				return
			}

			if check.IdleWarning {
				w.Header().Set(IdleWarningHeader, strconv.Itoa(int(check.IdleRemaining.Seconds())))
			}
			if check.AbsoluteWarning {
				w.Header().Set(AbsoluteWarningHeader, strconv.Itoa(int(check.AbsoluteRemaining.Seconds())))
			}
			if check.IdleWarning || check.AbsoluteWarning {
				e.metrics.SessionWarningsTotal.Add(r.Context(), 1)
			}

			next.ServeHTTP(w, r)
		})
	}
}
