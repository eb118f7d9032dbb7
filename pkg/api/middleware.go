package api

import (
	"context"
	"errors"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const requestIDHeader = "X-Request-ID"

// RequestID stamps every response with an X-Request-ID, reusing the
// caller's value when present.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// RateLimiter manages per-client token buckets.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rps      rate.Limit
	burst    int
	ttl      time.Duration
	stop     chan struct{}
	once     sync.Once
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows rps requests per second per client with the given
// burst. Stop must be called to release the cleanup goroutine.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		rps:      rate.Limit(rps),
		burst:    burst,
		ttl:      3 * time.Minute,
		stop:     make(chan struct{}),
	}
	go rl.cleanup(time.Minute)
	return rl
}

// Stop ends background cleanup.
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) limiterFor(client string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.visitors[client]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.visitors[client] = v
	}
	v.lastSeen = time.Now()
	return v.limiter
}

func (rl *RateLimiter) cleanup(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.mu.Lock()
			for client, v := range rl.visitors {
				if time.Since(v.lastSeen) > rl.ttl {
					delete(rl.visitors, client)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// Middleware rejects clients over their budget with 429. Retry-After is
// the time until the next token, rounded up to whole seconds.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := rl.limiterFor(clientKey(r)).Reserve()
		if !res.OK() {
			WriteTooManyRequests(w, r, 1)
			return
		}
		if delay := res.Delay(); delay > 0 {
			res.Cancel()
			WriteTooManyRequests(w, r, int(math.Ceil(delay.Seconds())))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = strings.Trim(r.RemoteAddr, "[]")
	}
	return host
}

type subjectKey struct{}

// Subject returns the authenticated token subject, if any.
func Subject(ctx context.Context) string {
	s, _ := ctx.Value(subjectKey{}).(string)
	return s
}

// publicPaths never require a token.
var publicPaths = map[string]bool{
	"/health": true,
}

// Authenticator validates HS256 bearer tokens.
type Authenticator struct {
	secret []byte
	parser *jwt.Parser
}

// NewAuthenticator returns nil when secret is empty, which disables
// authentication.
func NewAuthenticator(secret string) *Authenticator {
	if secret == "" {
		return nil
	}
	return &Authenticator{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}
}

// Validate parses token and returns its subject.
func (a *Authenticator) Validate(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	if _, err := a.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}); err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("token subject is required")
	}
	return claims.Subject, nil
}

// Middleware enforces bearer authentication on non-public paths. A nil
// Authenticator passes every request through.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	if a == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		if header == "" {
			WriteUnauthorized(w, r, "Missing Authorization header")
			return
		}
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			WriteUnauthorized(w, r, "Invalid Authorization header format (expected 'Bearer <token>')")
			return
		}

		subject, err := a.Validate(token)
		if err != nil {
			WriteUnauthorized(w, r, "Invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), subjectKey{}, subject)))
	})
}
