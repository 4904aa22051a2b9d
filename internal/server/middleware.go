package server

import (
	"container/list"
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/coursedeck/coursedeck/internal/config"
)

// CORSMiddleware adds CORS headers to responses.
// If origins is empty or nil, CORS headers are not added.
// authHeaderName is included in Access-Control-Allow-Headers when non-empty.
func CORSMiddleware(origins []string, authHeaderName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(origins) == 0 {
			return next
		}

		allowHeaders := "Content-Type, Authorization, X-API-Key"
		if authHeaderName != "" && authHeaderName != "Authorization" && authHeaderName != "X-API-Key" {
			allowHeaders += ", " + authHeaderName
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := false
			allowAll := false
			for _, o := range origins {
				if o == "*" {
					allowed = true
					allowAll = true
					break
				}
				if o == origin {
					allowed = true
					break
				}
			}

			if allowed && origin != "" {
				if allowAll {
					w.Header().Set("Access-Control-Allow-Origin", "*")
				} else {
					w.Header().Set("Access-Control-Allow-Origin", origin)
				}
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", allowHeaders)
				w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours
			}

			// Handle preflight request
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// SecurityHeadersMiddleware adds security headers to all responses.
// The player renders courseware inside a same-origin iframe, so framing by
// self stays allowed while cross-site framing is blocked.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Frame-Options", "SAMEORIGIN")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			// CSP: courseware HTML carries inline scripts and styles and may
			// reference remote images and audio from its source repository.
			w.Header().Set("Content-Security-Policy",
				"default-src 'self'; "+
					"script-src 'self' 'unsafe-inline'; "+
					"style-src 'self' 'unsafe-inline' https:; "+
					"img-src 'self' data: https:; "+
					"media-src 'self' https:; "+
					"font-src 'self' data: https:; "+
					"connect-src 'self'; "+
					"frame-src 'self'; "+
					"frame-ancestors 'self'")

			next.ServeHTTP(w, r)
		})
	}
}

// evictionLogInterval is the minimum time between eviction log messages.
const evictionLogInterval = 30 * time.Second

// ipLimiter tracks a per-IP token bucket and its position in the LRU list.
type ipLimiter struct {
	ip       string
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimitMiddleware limits requests using a token bucket algorithm with per-IP tracking.
// rps is the rate limit in requests per second, burst is the maximum burst size,
// and maxIPs is the maximum number of unique IPs to track (LRU eviction when full).
//
// The cleanup goroutine starts immediately when this function is called.
// The ctx parameter controls its lifetime; cancel ctx to stop it.
// The returned channel is closed when the goroutine exits,
// allowing callers to wait for a clean shutdown.
func RateLimitMiddleware(ctx context.Context, rps float64, burst int, maxIPs int) (func(http.Handler) http.Handler, <-chan struct{}) {
	if maxIPs <= 0 {
		maxIPs = 10000
	}

	var (
		items = make(map[string]*list.Element)
		order = list.New() // front = most recent, back = oldest
		mu    sync.Mutex

		// Eviction logging state (always accessed under mu)
		lastEvictLog time.Time
		evictCount   int
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				mu.Lock()
				now := time.Now()
				// Cannot break early: LRU order tracks access recency,
				// not lastSeen time, so stale entries may appear anywhere.
				for e := order.Back(); e != nil; {
					lim := e.Value.(*ipLimiter)
					prev := e.Prev()
					if now.Sub(lim.lastSeen) > 10*time.Minute {
						order.Remove(e)
						delete(items, lim.ip)
					}
					e = prev
				}
				mu.Unlock()
			case <-ctx.Done():
				return
			}
		}
	}()

	middleware := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := getClientIP(r)

			mu.Lock()
			elem, exists := items[ip]
			if exists {
				order.MoveToFront(elem)
				elem.Value.(*ipLimiter).lastSeen = time.Now()
			} else {
				// Evict least recently used if at capacity
				if order.Len() >= maxIPs {
					back := order.Back()
					if back != nil {
						evicted := back.Value.(*ipLimiter)
						order.Remove(back)
						delete(items, evicted.ip)
						evictCount++
						if time.Since(lastEvictLog) >= evictionLogInterval {
							log.Printf("[RateLimit] Evicted %d least-recent IP(s) (at capacity: %d IPs)", evictCount, maxIPs)
							lastEvictLog = time.Now()
							evictCount = 0
						}
					}
				}
				lim := &ipLimiter{
					ip:       ip,
					limiter:  rate.NewLimiter(rate.Limit(rps), burst),
					lastSeen: time.Now(),
				}
				elem = order.PushFront(lim)
				items[ip] = elem
			}
			allowed := elem.Value.(*ipLimiter).limiter.Allow()
			mu.Unlock()

			if !allowed {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}

	return middleware, done
}

// getClientIP extracts the client IP from the request.
// It only trusts X-Forwarded-For / X-Real-IP when the immediate peer is a
// loopback or private address (i.e., behind a reverse proxy).
func getClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	peerIP := net.ParseIP(host)
	trustedProxy := peerIP != nil && (peerIP.IsLoopback() || peerIP.IsPrivate())

	if trustedProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			if parts := strings.SplitN(xff, ",", 2); len(parts) > 0 {
				return strings.TrimSpace(parts[0])
			}
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}

	if peerIP != nil {
		return peerIP.String()
	}
	return host
}

// AuthMiddleware validates API key authentication for mutating endpoints.
// If no key is configured, authentication is disabled and all requests pass
// through.
func AuthMiddleware(authCfg *config.AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		key := authCfg.GetAPIKey()
		if key == "" {
			return next
		}

		headerName := authCfg.GetHeaderName()

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get(headerName)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			// Handle "Authorization: Bearer <token>" format
			if headerName == "Authorization" {
				const bearerPrefix = "Bearer "
				if len(token) > len(bearerPrefix) && token[:len(bearerPrefix)] == bearerPrefix {
					token = token[len(bearerPrefix):]
				} else {
					writeError(w, http.StatusUnauthorized, "invalid authorization format, expected Bearer token")
					return
				}
			}

			if !secureCompare(token, key) {
				writeError(w, http.StatusUnauthorized, "invalid API key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// secureCompare performs a constant-time string comparison to prevent timing attacks.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	var result byte
	for i := 0; i < len(a); i++ {
		result |= a[i] ^ b[i]
	}
	return result == 0
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[API] Error encoding JSON response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		log.Printf("[API] Error encoding error response: %v", err)
	}
}
