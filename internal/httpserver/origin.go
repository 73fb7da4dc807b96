package httpserver

import (
	"net/http"
	"net/url"
	"strings"
)

// withOriginPolicy gates browser cross-origin access to a handler.
//
// Requests without an Origin header pass through: they are same-origin or not
// from a browser. With a header, the origin must be on the allowlist, or match
// the request host when no allowlist is configured. "*" allows any origin.
func (s *Server) withOriginPolicy(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		originHeader := strings.TrimSpace(r.Header.Get("Origin"))
		if originHeader == "" {
			next(w, r)
			return
		}

		normalized, host, ok := normalizeOrigin(originHeader)
		if !ok || !s.originAllowed(normalized, host, r.Host) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		w.Header().Set("Access-Control-Allow-Origin", normalized)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")
		w.Header().Add("Vary", "Origin")

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.Header().Set("Access-Control-Allow-Methods", "GET,OPTIONS")
			if reqHeaders := strings.TrimSpace(r.Header.Get("Access-Control-Request-Headers")); reqHeaders != "" {
				w.Header().Set("Access-Control-Allow-Headers", reqHeaders)
			}
			w.Header().Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}

func (s *Server) originAllowed(normalized, originHost, requestHost string) bool {
	if len(s.cfg.AllowedOrigins) > 0 {
		for _, allowed := range s.cfg.AllowedOrigins {
			if allowed == "*" || allowed == normalized {
				return true
			}
		}
		return false
	}
	// Default policy: same host only.
	return hostsEquivalent(originHost, strings.ToLower(requestHost))
}

// normalizeOrigin validates an Origin header and reduces it to a canonical
// scheme://host[:port] form, lowercased, with default ports stripped.
func normalizeOrigin(raw string) (normalized, host string, ok bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", false
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" || (u.Path != "" && u.Path != "/") {
		return "", "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}

	host = strings.ToLower(u.Host)
	if (scheme == "http" && strings.HasSuffix(host, ":80")) ||
		(scheme == "https" && strings.HasSuffix(host, ":443")) {
		host = host[:strings.LastIndex(host, ":")]
	}
	return scheme + "://" + host, host, true
}

// hostsEquivalent compares host[:port] values, treating the default HTTP(S)
// ports as absent.
func hostsEquivalent(a, b string) bool {
	strip := func(h string) string {
		h = strings.TrimSuffix(h, ":80")
		h = strings.TrimSuffix(h, ":443")
		return h
	}
	return strip(a) == strip(b)
}
