package httpapi

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type RateLimitConfig struct {
	IPPerMinute      int
	IPBurst          int
	SessionPerMinute int
	SessionBurst     int
	// TrustedProxies lists the peers (single addresses or CIDR prefixes)
	// whose X-Forwarded-For header is honored. Empty means never.
	TrustedProxies []string
	Now            func() time.Time
}

// RateLimiter throttles by client address and, separately, by the
// authenticated actor.
type RateLimiter struct {
	ipLimiter    *keyedLimiter
	actorLimiter *keyedLimiter
	trusted      []netip.Prefix
}

func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{
		ipLimiter:    newKeyedLimiter(cfg.IPPerMinute, cfg.IPBurst, now),
		actorLimiter: newKeyedLimiter(cfg.SessionPerMinute, cfg.SessionBurst, now),
		trusted:      parseTrustedProxies(cfg.TrustedProxies),
	}
}

// Middleware applies the per-address limit. It runs before authentication.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ip := l.clientIP(r); ip != "" && !l.ipLimiter.allow(ip) {
			writeError(w, requestIDFromRequest(r), http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ActorMiddleware applies the per-actor limit. It must run after
// AuthMiddleware so only resolved sessions get a bucket.
func (l *RateLimiter) ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actor, ok := actorFromContext(r.Context()); ok && !l.actorLimiter.allow(actor.UserID) {
			writeError(w, requestIDFromRequest(r), http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) clientIP(r *http.Request) string {
	peer := remoteHost(r.RemoteAddr)
	if !l.trustedPeer(peer) {
		return peer
	}
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded == "" {
		return peer
	}
	// Walk right to left and stop at the first hop we do not operate.
	hops := strings.Split(forwarded, ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		addr, err := netip.ParseAddr(hop)
		if err != nil {
			return peer
		}
		if !l.trustedPeer(addr.String()) {
			return addr.String()
		}
	}
	return peer
}

func (l *RateLimiter) trustedPeer(host string) bool {
	if len(l.trusted) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range l.trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func parseTrustedProxies(values []string) []netip.Prefix {
	var prefixes []netip.Prefix
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if prefix, err := netip.ParsePrefix(value); err == nil {
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		if addr, err := netip.ParseAddr(value); err == nil {
			addr = addr.Unmap()
			prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
		}
	}
	return prefixes
}

func remoteHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// keyedLimiter holds one token bucket per key. A bucket idle for longer than
// it takes to refill is indistinguishable from a fresh one, so it is dropped.
type keyedLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	idle      time.Duration
	now       func() time.Time
	lastSweep time.Time
	limiters  map[string]*limiterEntry
}

func newKeyedLimiter(perMinute, burst int, now func() time.Time) *keyedLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	if burst <= 0 {
		burst = 20
	}
	limit := rate.Limit(float64(perMinute) / 60.0)
	idle := time.Duration(float64(burst) / float64(limit) * float64(time.Second))
	if idle < time.Minute {
		idle = time.Minute
	}
	return &keyedLimiter{
		limit:     limit,
		burst:     burst,
		idle:      idle,
		now:       now,
		lastSweep: now(),
		limiters:  make(map[string]*limiterEntry),
	}
}

func (l *keyedLimiter) allow(key string) bool {
	now := l.now()
	l.mu.Lock()
	if now.Sub(l.lastSweep) >= l.idle {
		l.sweep(now)
	}
	entry, ok := l.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = entry
	}
	entry.lastSeen = now
	l.mu.Unlock()
	return entry.limiter.AllowN(now, 1)
}

func (l *keyedLimiter) sweep(now time.Time) {
	for key, entry := range l.limiters {
		if now.Sub(entry.lastSeen) >= l.idle {
			delete(l.limiters, key)
		}
	}
	l.lastSweep = now
}
