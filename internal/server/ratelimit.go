package server

import (
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/54b3r/docqa-go/internal/logging"
)

// routeClass groups the endpoints that draw from one per-client budget.
type routeClass string

const (
	// classQuery covers POST /api/query, which may call a generation backend.
	classQuery routeClass = "query"
	// classBatch covers POST /api/query/batch. Each question costs a token.
	classBatch routeClass = "batch"
	// classSearch covers search and similar-document lookups.
	classSearch routeClass = "search"
)

// Budget is a token bucket: Rate tokens per second, at most Burst at once.
type Budget struct {
	Rate  float64
	Burst int
}

// defaultBudgets apply to any class whose configured budget is zero. The
// batch burst admits one full batch.
var defaultBudgets = map[routeClass]Budget{
	classQuery:  {Rate: 10, Burst: 20},
	classBatch:  {Rate: 2, Burst: maxBatchQueries},
	classSearch: {Rate: 20, Burst: 40},
}

// clientIdle is how long a client's buckets survive without traffic.
const clientIdle = 5 * time.Minute

type bucketKey struct {
	client string
	class  routeClass
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter keeps one token bucket per client and route class, so a
// client that exhausts its batch budget can still ask single questions.
type rateLimiter struct {
	mu      sync.Mutex
	budgets map[routeClass]Budget
	buckets map[bucketKey]*bucket
	// now is swapped in tests.
	now func() time.Time
}

// newRateLimiter builds a limiter over budgets, filling zero entries from
// defaultBudgets, and starts the idle-bucket sweeper. Call the returned
// function to stop it.
func newRateLimiter(budgets map[routeClass]Budget) (*rateLimiter, func()) {
	resolved := make(map[routeClass]Budget, len(defaultBudgets))
	for class, def := range defaultBudgets {
		b := budgets[class]
		if b.Rate == 0 {
			b.Rate = def.Rate
		}
		if b.Burst == 0 {
			b.Burst = def.Burst
		}
		resolved[class] = b
	}

	rl := &rateLimiter{
		budgets: resolved,
		buckets: make(map[bucketKey]*bucket),
		now:     time.Now,
	}

	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				rl.sweep()
			}
		}
	}()

	var once sync.Once
	return rl, func() { once.Do(func() { close(stop) }) }
}

// take charges cost tokens to the client's bucket for class. When the
// bucket cannot cover them nothing is charged, and wait says how long the
// client should back off. A cost above the burst can never be paid and
// reports a zero wait.
func (rl *rateLimiter) take(client string, class routeClass, cost int) (ok bool, wait time.Duration) {
	budget, known := rl.budgets[class]
	if !known {
		return true, 0
	}

	now := rl.now()
	rl.mu.Lock()
	key := bucketKey{client: client, class: class}
	b, found := rl.buckets[key]
	if !found {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(budget.Rate), budget.Burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	rl.mu.Unlock()

	res := b.limiter.ReserveN(now, cost)
	if !res.OK() {
		return false, 0
	}
	if d := res.DelayFrom(now); d > 0 {
		res.CancelAt(now)
		return false, d
	}
	return true, 0
}

// sweep drops buckets idle for longer than clientIdle.
func (rl *rateLimiter) sweep() {
	cutoff := rl.now().Add(-clientIdle)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, key)
		}
	}
}

// size reports the number of live buckets.
func (rl *rateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// limit charges one token of class before calling next.
func (s *Server) limit(class routeClass, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.admit(w, r, class, 1) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// admit charges cost tokens of class to the caller. When the budget is spent
// it writes a 429 and returns false.
func (s *Server) admit(w http.ResponseWriter, r *http.Request, class routeClass, cost int) bool {
	if s.limiter == nil {
		return true
	}
	ip := clientIP(r)
	ok, wait := s.limiter.take(ip, class, cost)
	if ok {
		return true
	}

	s.metrics.rateLimitedTotal.WithLabelValues(string(class)).Inc()
	logging.FromContext(r.Context()).Warn("rate limit exceeded",
		slog.String("ip", ip),
		slog.String("route", string(class)),
		slog.Int("cost", cost),
	)

	if wait == 0 {
		writeError(w, http.StatusTooManyRequests,
			fmt.Sprintf("request needs %d tokens, more than the %s budget ever holds", cost, class))
		return false
	}
	w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
	writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	return false
}

// clientIP returns the host part of RemoteAddr. X-Forwarded-For is not
// trusted.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
