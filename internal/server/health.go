package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/rag"
	"github.com/54b3r/docqa-go/internal/version"
)

// probeTimeout bounds each dependency probe of a readiness check.
const probeTimeout = 5 * time.Second

// Pinger reports whether one dependency is reachable. Implementations must
// be safe to call from multiple goroutines.
type Pinger interface {
	Ping(ctx context.Context) error
	// Name labels the dependency in readiness replies, e.g. "qdrant".
	Name() string
}

// MultiPinger probes several dependencies at once.
type MultiPinger struct {
	pingers []Pinger
}

// NewMultiPinger constructs a MultiPinger over pingers.
func NewMultiPinger(pingers ...Pinger) *MultiPinger {
	return &MultiPinger{pingers: pingers}
}

// Ping probes every dependency concurrently and joins the failures, each
// prefixed with its dependency name, so a caller sees everything that is
// down in one go.
func (m *MultiPinger) Ping(ctx context.Context) error {
	errs := make([]error, len(m.pingers))
	var wg sync.WaitGroup
	for i, p := range m.pingers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.Ping(ctx); err != nil {
				errs[i] = fmt.Errorf("%s: %w", p.Name(), err)
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Name returns the label used when a MultiPinger is itself nested.
func (m *MultiPinger) Name() string { return "dependencies" }

// readyCheck is one line of a readiness reply.
type readyCheck struct {
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// readyResponse is the JSON body returned by GET /api/ready.
type readyResponse struct {
	// Ready is true only when every dependency answered and the index exists.
	Ready   bool   `json:"ready"`
	Backend string `json:"backend,omitempty"`
	Index   string `json:"index"`
	// Vectors is the index size, present when the index check passed.
	Vectors *uint64      `json:"vectors,omitempty"`
	Checks  []readyCheck `json:"checks"`
}

// handleReady handles GET /api/ready. The configured pingers run
// concurrently, then the index is checked through the engine so a server
// whose index was never created reports 503 rather than answering every
// question with "no relevant information".
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	resp := readyResponse{
		Backend: s.cfg.StoreBackend,
		Index:   s.engine.Index(),
		Checks:  make([]readyCheck, len(s.pingers)),
	}

	var wg sync.WaitGroup
	for i, p := range s.pingers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp.Checks[i] = probe(r.Context(), p.Name(), p.Ping)
		}()
	}

	var stats rag.IndexStats
	indexCheck := probe(r.Context(), "index", func(ctx context.Context) error {
		var err error
		stats, err = s.engine.Stats(ctx)
		if errors.Is(err, rag.ErrIndexNotFound) {
			return fmt.Errorf("index %q does not exist, run docqa setup-index", resp.Index)
		}
		return err
	})
	wg.Wait()
	resp.Checks = append(resp.Checks, indexCheck)
	if indexCheck.OK {
		resp.Vectors = &stats.TotalVectors
	}

	resp.Ready = true
	for _, c := range resp.Checks {
		if c.OK {
			continue
		}
		resp.Ready = false
		log.Warn("readiness check failed",
			slog.String("dependency", c.Name),
			slog.String("error", c.Error),
		)
	}

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, r, status, resp)
}

// probe runs check under probeTimeout and times it.
func probe(ctx context.Context, name string, check func(context.Context) error) readyCheck {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	start := time.Now()
	err := check(ctx)
	c := readyCheck{Name: name, OK: err == nil, LatencyMS: time.Since(start).Milliseconds()}
	if err != nil {
		c.Error = err.Error()
	}
	return c
}

// healthResponse is the JSON body returned by GET /api/health.
type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Backend string `json:"backend,omitempty"`
	Index   string `json:"index"`
}

// handleHealth handles GET /api/health. It never touches a dependency.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, healthResponse{
		Status:  "ok",
		Version: version.Version,
		Backend: s.cfg.StoreBackend,
		Index:   s.engine.Index(),
	})
}
