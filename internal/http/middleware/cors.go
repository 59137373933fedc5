package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

const defaultCORSMaxAge = 600

var (
	corsMethods       = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	corsRequestHeader = []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"}
	// Location and Retry-After drive client polling, so browsers must see them.
	corsExposedHeader = []string{"Location", "Retry-After", "X-Request-Id"}
)

type CORSConfig struct {
	// AllowedOrigins accepts exact origins, "*", or subdomain patterns such as
	// "https://*.example.com".
	AllowedOrigins []string
	MaxAgeSeconds  int
}

type originMatcher struct {
	any      bool
	exact    map[string]struct{}
	suffixes []wildcardOrigin
}

type wildcardOrigin struct {
	scheme string
	suffix string
}

func newOriginMatcher(origins []string) originMatcher {
	matcher := originMatcher{exact: make(map[string]struct{}, len(origins))}
	for _, raw := range origins {
		origin := strings.ToLower(strings.TrimRight(strings.TrimSpace(raw), "/"))
		switch {
		case origin == "":
		case origin == "*":
			matcher.any = true
		case strings.Contains(origin, "://*."):
			scheme, host, _ := strings.Cut(origin, "://*")
			matcher.suffixes = append(matcher.suffixes, wildcardOrigin{scheme: scheme, suffix: host})
		default:
			matcher.exact[origin] = struct{}{}
		}
	}
	return matcher
}

func (m originMatcher) allows(origin string) bool {
	if m.any {
		return true
	}
	origin = strings.ToLower(origin)
	if _, ok := m.exact[origin]; ok {
		return true
	}
	scheme, host, found := strings.Cut(origin, "://")
	if !found {
		return false
	}
	for _, pattern := range m.suffixes {
		if scheme == pattern.scheme && strings.HasSuffix(host, pattern.suffix) && len(host) > len(pattern.suffix) {
			return true
		}
	}
	return false
}

// CORS answers preflights itself and decorates actual requests from allowed
// origins. Requests from other origins pass through untouched.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	matcher := newOriginMatcher(cfg.AllowedOrigins)
	maxAge := cfg.MaxAgeSeconds
	if maxAge <= 0 {
		maxAge = defaultCORSMaxAge
	}
	preflight := map[string]string{
		"Access-Control-Allow-Methods": strings.Join(corsMethods, ", "),
		"Access-Control-Allow-Headers": strings.Join(corsRequestHeader, ", "),
		"Access-Control-Max-Age":       strconv.Itoa(maxAge),
	}
	exposed := strings.Join(corsExposedHeader, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if origin == "" || !matcher.allows(origin) {
				next.ServeHTTP(w, r)
				return
			}

			header := w.Header()
			header.Add("Vary", "Origin")
			if matcher.any {
				header.Set("Access-Control-Allow-Origin", "*")
			} else {
				header.Set("Access-Control-Allow-Origin", origin)
			}

			if r.Method == http.MethodOptions {
				header.Add("Vary", "Access-Control-Request-Method")
				header.Add("Vary", "Access-Control-Request-Headers")
				for name, value := range preflight {
					header.Set(name, value)
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			header.Set("Access-Control-Expose-Headers", exposed)
			next.ServeHTTP(w, r)
		})
	}
}
