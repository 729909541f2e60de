package httpapi

import (
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// instrument applies per-client rate limiting, request metrics and the
// optional access log to one route.
func (s *Server) instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusWriter{ResponseWriter: w}
		ip := remoteIP(r)

		if !s.limiter.Allow(ip) {
			s.metrics.IncRateLimited()
			http.Error(rec, "rate limit exceeded", http.StatusTooManyRequests)
		} else {
			next.ServeHTTP(rec, r)
		}

		dur := time.Since(start)
		s.metrics.ObserveRequest(route, r.Method, rec.Status(), dur)
		if s.opts.EnableAccessLog {
			log.Printf("httpapi: %s %s %s %d %dB %s", ip, r.Method, r.URL.Path, rec.Status(), rec.bytes, dur.Round(time.Microsecond))
		}
	})
}

// statusWriter remembers the status and size of a response.
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}

func (w *statusWriter) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

// clientLimits hands out one token bucket per client address. Buckets idle
// for longer than idleTTL are swept once the table passes sweepAt entries.
type clientLimits struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	every   rate.Limit
	burst   int
	idleTTL time.Duration
	sweepAt int
}

type bucket struct {
	*rate.Limiter
	seen time.Time
}

func newClientLimits(rps, burst int) *clientLimits {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	return &clientLimits{
		buckets: make(map[string]*bucket),
		every:   rate.Limit(rps),
		burst:   burst,
		idleTTL: 5 * time.Minute,
		sweepAt: 1024,
	}
}

func (l *clientLimits) Allow(client string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.buckets[client]
	if b == nil {
		b = &bucket{Limiter: rate.NewLimiter(l.every, l.burst)}
		l.buckets[client] = b
	}
	b.seen = now
	ok := b.AllowN(now, 1)

	if len(l.buckets) > l.sweepAt {
		for key, other := range l.buckets {
			if now.Sub(other.seen) > l.idleTTL {
				delete(l.buckets, key)
			}
		}
	}
	return ok
}

func remoteIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
