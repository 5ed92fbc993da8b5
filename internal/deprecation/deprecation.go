// Package deprecation announces deprecated API versions and endpoints and
// retires them after their sunset date.
package deprecation

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/firmguard/internal/apierror"
	"github.com/wolfeidau/firmguard/internal/reshape"
	"github.com/wolfeidau/firmguard/internal/routematch"
	"github.com/wolfeidau/firmguard/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"gopkg.in/yaml.v3"
)

// Response headers.
const (
	HeaderDeprecation       = "Deprecation"
	HeaderSunset            = "Sunset"
	HeaderLink              = "Link"
	HeaderWarning           = "Warning"
	HeaderDeprecatedVersion = "X-API-Deprecated-Version"
)

// Rule deprecates a whole API version, or one endpoint when Path is set.
type Rule struct {
	// Version is "v1" or "v2". Empty matches any version.
	Version string `yaml:"version"`
	// Path is a route pattern matched like routematch patterns.
	Path string `yaml:"path"`
	// Method restricts the rule to one HTTP method.
	Method       string    `yaml:"method"`
	DeprecatedAt time.Time `yaml:"deprecated_at"`
	Sunset       time.Time `yaml:"sunset"`
	// Successor is linked from deprecated responses.
	Successor string `yaml:"successor"`
	// MovedTo permanently redirects the endpoint.
	MovedTo string `yaml:"moved_to"`
	Message string `yaml:"message"`
}

func (r Rule) matches(req *http.Request, version reshape.Version) bool {
	if r.Version != "" && !strings.EqualFold(r.Version, version.String()) {
		return false
	}
	if r.Method != "" && !strings.EqualFold(r.Method, req.Method) {
		return false
	}
	if r.Path != "" && !routematch.Match(routematch.Normalize(req.URL.Path), routematch.Normalize(r.Path)) {
		return false
	}
	return true
}

func (r Rule) message() string {
	if r.Message != "" {
		return r.Message
	}
	if r.Path == "" {
		return fmt.Sprintf("API %s is deprecated", r.Version)
	}
	return "This endpoint is deprecated"
}

// Registry holds the deprecation rules. Endpoint rules take precedence over
// version rules.
type Registry struct {
	rules   []Rule
	native  reshape.Version
	now     func() time.Time
	metrics *telemetry.Metrics
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(reg *Registry) { reg.now = now }
}

// NewRegistry validates rules and creates a Registry. native is the version
// assumed when a request does not name one.
func NewRegistry(rules []Rule, native reshape.Version, opts ...Option) (*Registry, error) {
	for i, r := range rules {
		if r.Version == "" && r.Path == "" {
			return nil, fmt.Errorf("rule %d: version or path is required", i)
		}
		if r.Version != "" {
			if _, err := reshape.ParseVersion(r.Version); err != nil {
				return nil, fmt.Errorf("rule %d: %w", i, err)
			}
		}
		if !r.DeprecatedAt.IsZero() && !r.Sunset.IsZero() && r.Sunset.Before(r.DeprecatedAt) {
			return nil, fmt.Errorf("rule %d: sunset precedes deprecation", i)
		}
	}

	reg := &Registry{
		rules:   rules,
		native:  native,
		now:     time.Now,
		metrics: telemetry.GetMetrics(),
	}
	for _, opt := range opts {
		opt(reg)
	}
	return reg, nil
}

// LoadRules reads rules from YAML, a list under the "deprecations" key.
func LoadRules(r io.Reader) ([]Rule, error) {
	var doc struct {
		Deprecations []Rule `yaml:"deprecations"`
	}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode deprecation rules: %w", err)
	}
	return doc.Deprecations, nil
}

// Lookup returns the rule applying to req.
func (reg *Registry) Lookup(req *http.Request) (Rule, bool) {
	version := reshape.NegotiateVersion(req, reg.native)

	var versionRule *Rule
	for i := range reg.rules {
		r := reg.rules[i]
		if !r.matches(req, version) {
			continue
		}
		if r.Path != "" {
			return r, true
		}
		if versionRule == nil {
			versionRule = &reg.rules[i]
		}
	}
	if versionRule != nil {
		return *versionRule, true
	}
	return Rule{}, false
}

// Middleware applies the matching rule: moved endpoints answer 301
// ENDPOINT_MOVED, endpoints past sunset answer 410 ENDPOINT_GONE, and
// deprecated endpoints carry the deprecation headers.
func (reg *Registry) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rule, ok := reg.Lookup(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			logger := zerolog.Ctx(r.Context())
			now := reg.now()
			version := reshape.NegotiateVersion(r, reg.native)

			if rule.MovedTo != "" {
				location := rule.MovedTo
				if r.URL.RawQuery != "" {
					location += "?" + r.URL.RawQuery
				}
				w.Header().Set("Location", location)
				apierror.WriteResponse(w, http.StatusMovedPermanently,
					apierror.New(apierror.CodeEndpointMoved).WithDetails(map[string]any{"location": rule.MovedTo}))
				return
			}

			if !rule.Sunset.IsZero() && now.After(rule.Sunset) {
				logger.Info().Str("path", r.URL.Path).Time("sunset", rule.Sunset).Msg("Call to retired endpoint")
				details := map[string]any{"sunset": rule.Sunset.UTC().Format(time.RFC3339)}
				if rule.Successor != "" {
					details["successor"] = rule.Successor
				}
				apierror.WriteResponse(w, http.StatusGone, apierror.New(apierror.CodeEndpointGone).WithDetails(details))
				return
			}

			setHeaders(w.Header(), rule, version)
			reg.metrics.DeprecatedCallsTotal.Add(r.Context(), 1, metric.WithAttributes(
				attribute.String("version", version.String()),
				attribute.Bool("endpoint", rule.Path != ""),
			))
			logger.Debug().Str("path", r.URL.Path).Msg("Call to deprecated API")

			next.ServeHTTP(w, r)
		})
	}
}

func setHeaders(h http.Header, rule Rule, version reshape.Version) {
	if rule.DeprecatedAt.IsZero() {
		h.Set(HeaderDeprecation, "true")
	} else {
		h.Set(HeaderDeprecation, "@"+strconv.FormatInt(rule.DeprecatedAt.Unix(), 10))
	}
	if !rule.Sunset.IsZero() {
		h.Set(HeaderSunset, rule.Sunset.UTC().Format(http.TimeFormat))
	}
	if rule.Successor != "" {
		h.Add(HeaderLink, fmt.Sprintf(`<%s>; rel="successor-version"`, rule.Successor))
	}
	h.Set(HeaderWarning, fmt.Sprintf(`299 - %q`, rule.message()))
	if rule.Version != "" {
		h.Set(HeaderDeprecatedVersion, version.String())
	}
}
