package target

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/hlog"
)

// APIKeyHeader carries the client token.
const APIKeyHeader = "API_KEY"

// LimitReachedMessage is the body of a 429 response.
const LimitReachedMessage = "you have reached the maximum number of requests or actions allowed within a certain time frame"

// Key types, used as the key_type metric label.
const (
	KeyTypeIP    = "ip"
	KeyTypeToken = "token"
)

// KeyGetter returns the key a request is counted under. An empty key
// skips limiting.
type KeyGetter func(r *http.Request) string

// ErrorHandler answers a request whose store lookup failed.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// LimitReachedHandler answers a request over its limit.
type LimitReachedHandler func(w http.ResponseWriter, r *http.Request)

// Middleware enforces one Limiter on an http.Handler.
type Middleware struct {
	Limiter        *Limiter
	KeyType        string
	KeyGetter      KeyGetter
	OnError        ErrorHandler
	OnLimitReached LimitReachedHandler
	Metrics        *Metrics
}

// Option configures a Middleware.
type Option func(*Middleware)

// WithKeyGetter sets how requests are keyed.
func WithKeyGetter(kg KeyGetter) Option {
	return func(m *Middleware) { m.KeyGetter = kg }
}

// WithKeyType sets the label reported in metrics.
func WithKeyType(keyType string) Option {
	return func(m *Middleware) { m.KeyType = keyType }
}

// WithErrorHandler replaces the default 500 response.
func WithErrorHandler(h ErrorHandler) Option {
	return func(m *Middleware) { m.OnError = h }
}

// WithLimitReachedHandler replaces the default 429 response.
func WithLimitReachedHandler(h LimitReachedHandler) Option {
	return func(m *Middleware) { m.OnLimitReached = h }
}

// WithMetrics records decisions in metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Middleware) { m.Metrics = metrics }
}

// NewMiddleware returns a middleware keyed by client IP unless options say
// otherwise.
func NewMiddleware(limiter *Limiter, opts ...Option) *Middleware {
	m := &Middleware{
		Limiter:        limiter,
		KeyType:        KeyTypeIP,
		KeyGetter:      IPKeyGetter,
		OnError:        DefaultErrorHandler,
		OnLimitReached: DefaultLimitReachedHandler,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Handler wraps next.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := m.KeyGetter(r)
		if strings.TrimSpace(key) == "" {
			next.ServeHTTP(w, r)
			return
		}

		lctx, err := m.Limiter.Get(r.Context(), key)
		if err != nil {
			m.Metrics.observe(m.KeyType, outcomeError)
			m.OnError(w, r, err)
			return
		}

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
		h.Set("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))

		if lctx.Reached {
			m.Metrics.observe(m.KeyType, outcomeLimited)
			m.OnLimitReached(w, r)
			return
		}

		m.Metrics.observe(m.KeyType, outcomeAllowed)
		next.ServeHTTP(w, r)
	})
}

// DefaultErrorHandler logs err and answers 500.
func DefaultErrorHandler(w http.ResponseWriter, r *http.Request, err error) {
	hlog.FromRequest(r).Error().Err(err).Msg("rate limit store failed")
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

// DefaultLimitReachedHandler answers 429.
func DefaultLimitReachedHandler(w http.ResponseWriter, _ *http.Request) {
	http.Error(w, LimitReachedMessage, http.StatusTooManyRequests)
}

// TokenKeyGetter keys requests by their API_KEY header, as "token:<key>".
func TokenKeyGetter(r *http.Request) string {
	token := apiKey(r)
	if token == "" {
		return ""
	}
	return KeyTypeToken + ":" + token
}

// IPKeyGetter keys requests by client IP, as "ip:<addr>", skipping
// requests that carry a token so they are only counted against the token
// limit.
func IPKeyGetter(r *http.Request) string {
	if apiKey(r) != "" {
		return ""
	}
	ip := ClientIP(r)
	if ip == nil {
		return ""
	}
	return KeyTypeIP + ":" + ip.String()
}

func apiKey(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(APIKeyHeader))
}

// ClientIP returns the IP of r.RemoteAddr, or nil if it cannot be parsed.
func ClientIP(r *http.Request) net.IP {
	addr := strings.TrimSpace(r.RemoteAddr)
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return net.ParseIP(addr)
	}
	return net.ParseIP(host)
}
