package server

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"goa.design/clue/log"
	"golang.org/x/time/rate"
)

// clientKey extracts the credential from either auth header form.
func clientKey(r *http.Request) string {
	if k := r.Header.Get("X-API-Key"); k != "" {
		return k
	}
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return token
	}
	return ""
}

// clientAuth guards the client endpoints. With no client keys configured the
// gateway runs in insecure mode and lets everything through.
func (s *Server) clientAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Insecure() {
			log.Debugf(r.Context(), "insecure mode: accepting unauthenticated request")
			next.ServeHTTP(w, r)
			return
		}
		key := clientKey(r)
		for _, allowed := range s.cfg.AdapterAPIKeys {
			if key == allowed {
				next.ServeHTTP(w, r)
				return
			}
		}
		writeError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing API key")
	})
}

// adminAuth guards the admin endpoints. With no admin keys configured the
// endpoints are disabled outright.
func (s *Server) adminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.cfg.AdminAPIKeys) == 0 {
			writeError(w, http.StatusForbidden, "permission_error", "admin endpoints are disabled")
			return
		}
		key := clientKey(r)
		for _, allowed := range s.cfg.AdminAPIKeys {
			if key == allowed {
				next.ServeHTTP(w, r)
				return
			}
		}
		writeError(w, http.StatusForbidden, "permission_error", "admin authentication failed")
	})
}

// cors applies the configured origin policy and answers preflight requests.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if allowed := s.allowOrigin(origin); allowed != "" {
				w.Header().Set("Access-Control-Allow-Origin", allowed)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-API-Key")
			}
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowOrigin(origin string) string {
	for _, o := range s.cfg.CORSOrigins {
		if o == "*" {
			return "*"
		}
		if o == origin {
			return origin
		}
	}
	return ""
}

// clientLimiter applies a per-client token bucket. Clients are identified by
// API key, falling back to remote address in insecure mode.
type clientLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newClientLimiter(requests int, window time.Duration) *clientLimiter {
	return &clientLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(float64(requests) / window.Seconds()),
		burst:    requests,
	}
}

func (l *clientLimiter) allow(client string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[client]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[client] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		client := clientKey(r)
		if client == "" {
			client, _, _ = net.SplitHostPort(r.RemoteAddr)
		}
		if !s.limiter.allow(client) {
			writeError(w, http.StatusTooManyRequests, "rate_limit_error", "rate limit exceeded, please slow down")
			return
		}
		next.ServeHTTP(w, r)
	})
}
