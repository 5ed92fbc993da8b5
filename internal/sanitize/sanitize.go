// Package sanitize removes NoSQL operator keys from request input.
package sanitize

import (
	"bytes"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/firmguard/internal/apierror"
	"github.com/wolfeidau/firmguard/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const defaultMaxBodyBytes = 1 << 20

// Options configures the sanitizer.
type Options struct {
	// Strict rejects requests containing operator keys instead of
	// removing them.
	Strict bool
	// MaxBodyBytes caps the JSON body inspected. Larger bodies pass through
	// untouched.
	MaxBodyBytes int64
}

// IsOperatorKey reports whether a key could be interpreted as a query
// operator or a path into a nested document.
func IsOperatorKey(key string) bool {
	return strings.HasPrefix(key, "$") || strings.Contains(key, ".")
}

// Clean returns a copy of v with operator keys removed from every object,
// and the sorted list of removed keys.
func Clean(v any) (any, []string) {
	removed := map[string]struct{}{}
	out := clean(v, removed)
	return out, sortedKeys(removed)
}

func clean(v any, removed map[string]struct{}) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			if IsOperatorKey(k) {
				removed[k] = struct{}{}
				continue
			}
			out[k] = clean(child, removed)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = clean(child, removed)
		}
		return out
	default:
		return v
	}
}

// queryKeyIsOperator handles bracket notation such as filter[$gt] or
// a[b.c] as well as plain keys.
func queryKeyIsOperator(key string) bool {
	if IsOperatorKey(key) {
		return true
	}
	for part := range strings.SplitSeq(key, "[") {
		if IsOperatorKey(strings.TrimSuffix(part, "]")) {
			return true
		}
	}
	return false
}

// Middleware sanitizes query parameters and JSON bodies. Any internal
// failure lets the request through unchanged.
func Middleware(opts Options) func(http.Handler) http.Handler {
	if opts.MaxBodyBytes == 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	metrics := telemetry.GetMetrics()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := zerolog.Ctx(r.Context())

			removed, ok := sanitizeRequest(r, opts)
			if !ok || len(removed) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			mode := "strip"
			if opts.Strict {
				mode = "block"
			}
			metrics.SanitizedRequestTotal.Add(r.Context(), 1, metric.WithAttributes(attribute.String("mode", mode)))
			logger.Warn().Strs("keys", removed).Str("mode", mode).Str("path", r.URL.Path).Msg("Operator keys in request input")

			if opts.Strict {
				apierror.WriteResponse(w, http.StatusBadRequest,
					apierror.New(apierror.CodeSanitizationBlocked).WithDetails(map[string]any{"keys": removed}))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// sanitizeRequest rewrites r in place unless strict. ok is false when the
// sanitizer itself failed; the request is then left as it was.
func sanitizeRequest(r *http.Request, opts Options) (removed []string, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			zerolog.Ctx(r.Context()).Error().Interface("panic", rec).Msg("Sanitizer failed, continuing unsanitized")
			removed, ok = nil, false
		}
	}()

	found := map[string]struct{}{}

	query := r.URL.Query()
	queryChanged := false
	for key := range query {
		if queryKeyIsOperator(key) {
			found[key] = struct{}{}
			queryChanged = true
			if !opts.Strict {
				query.Del(key)
			}
		}
	}
	if queryChanged && !opts.Strict {
		r.URL.RawQuery = query.Encode()
	}

	if bodyRemoved, ok := sanitizeBody(r, opts); ok {
		for _, k := range bodyRemoved {
			found[k] = struct{}{}
		}
	}

	return sortedKeys(found), true
}

func sanitizeBody(r *http.Request, opts Options) ([]string, bool) {
	if r.Body == nil || r.Body == http.NoBody || !isJSON(r) {
		return nil, false
	}
	if r.ContentLength > opts.MaxBodyBytes {
		return nil, false
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, opts.MaxBodyBytes+1))
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil || int64(len(body)) > opts.MaxBodyBytes {
		return nil, false
	}

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, false
	}

	cleaned, removed := Clean(doc)
	if len(removed) == 0 || opts.Strict {
		return removed, true
	}

	rewritten, err := json.Marshal(cleaned)
	if err != nil {
		return nil, false
	}
	r.Body = io.NopCloser(bytes.NewReader(rewritten))
	r.ContentLength = int64(len(rewritten))
	return removed, true
}

func isJSON(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && (mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"))
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
