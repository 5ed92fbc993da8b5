package reshape

import (
	"fmt"
	"net/http"
	"strings"
)

// Version is a public API version.
type Version int

const (
	V1 Version = 1
	V2 Version = 2
)

func (v Version) String() string {
	return fmt.Sprintf("v%d", int(v))
}

// ParseVersion accepts "1", "v1", "V1", "1.0" and the same forms for 2.
func ParseVersion(s string) (Version, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "v")
	s = strings.TrimSuffix(s, ".0")
	switch s {
	case "1":
		return V1, nil
	case "2":
		return V2, nil
	default:
		return 0, fmt.Errorf("unsupported API version %q", s)
	}
}

// Version negotiation headers.
const (
	AcceptVersionHeader = "Accept-Version"
	APIVersionHeader    = "X-API-Version"
)

// NegotiateVersion picks the version a client asked for: the /api/vN path
// prefix first, then Accept-Version, then X-API-Version. Unknown or missing
// values yield fallback.
func NegotiateVersion(r *http.Request, fallback Version) Version {
	path := strings.ToLower(r.URL.Path)
	for _, v := range []Version{V1, V2} {
		prefix := "/api/" + v.String()
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return v
		}
	}

	for _, header := range []string{AcceptVersionHeader, APIVersionHeader} {
		if value := r.Header.Get(header); value != "" {
			if v, err := ParseVersion(value); err == nil {
				return v
			}
		}
	}

	return fallback
}
