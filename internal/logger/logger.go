package logger

import (
	"net/http"
	"os"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	httpmiddleware "github.com/wolfeidau/firmguard/internal/http"
)

// RequestIDHeader carries the request id back to the client.
const RequestIDHeader = "X-Request-ID"

func Setup(dev bool) zerolog.Logger {
	var logger zerolog.Logger
	level := zerolog.InfoLevel
	if dev {
		level = zerolog.DebugLevel
	}

	logger = zerolog.New(os.Stderr).Level(level).With().Timestamp().Caller().Logger()

	if dev {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, FormatTimestamp: func(i any) string {
			return time.Now().Format(time.RFC3339)
		}}).Level(level).With().Stack().Logger()
	}

	return logger
}

// RequestLogger attaches a request scoped logger to the context and logs the
// outcome of every request. Handlers retrieve it with zerolog.Ctx.
func RequestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, requestID)

			reqLogger := logger.With().
				Str("request_id", requestID).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("client_ip", httpmiddleware.ClientIP(r)).
				Logger()

			r = r.WithContext(reqLogger.WithContext(r.Context()))

			m := httpsnoop.CaptureMetrics(next, w, r)

			var evt *zerolog.Event
			switch {
			case m.Code >= http.StatusInternalServerError:
				evt = reqLogger.Error()
			case m.Code >= http.StatusBadRequest:
				evt = reqLogger.Warn()
			default:
				evt = reqLogger.Info()
			}
			evt.Int("status", m.Code).
				Int64("bytes", m.Written).
				Dur("duration", m.Duration).
				Str("user_agent", r.UserAgent()).
				Msg("http request")
		})
	}
}
