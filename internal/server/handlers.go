package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/rag"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// maxBatchQueries caps the number of queries in one batch request.
const maxBatchQueries = 100

// handleQuery handles POST /api/query.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !s.decode(w, r, &req) {
		return
	}
	annotate(r,
		slog.Int("top_k", req.TopK),
		slog.Int("query_len", utf8.RuneCountInString(req.Query)),
		slog.Int("filters", len(req.Filters)),
	)
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.QueryTimeout)
	defer cancel()

	resp, err := s.engine.Query(ctx, req.Query, req.TopK, req.Filters)
	if err != nil {
		s.fail(w, r, "query failed", err)
		return
	}
	annotate(r, slog.Int("sources", len(resp.Sources)), slog.String("generation", string(resp.Method)))
	writeJSON(w, r, http.StatusOK, resp)
}

// handleBatch handles POST /api/query/batch. Individual failures are
// reported in their slot and never fail the request.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !s.decode(w, r, &req) {
		return
	}
	annotate(r, slog.Int("queries", len(req.Queries)))
	if len(req.Queries) == 0 {
		writeError(w, http.StatusBadRequest, "queries must not be empty")
		return
	}
	if len(req.Queries) > maxBatchQueries {
		writeError(w, http.StatusBadRequest, "too many queries, limit is "+strconv.Itoa(maxBatchQueries))
		return
	}
	if !s.admit(w, r, classBatch, len(req.Queries)) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.QueryTimeout)
	defer cancel()

	writeJSON(w, r, http.StatusOK, s.engine.BatchQuery(ctx, req.Queries))
}

// handleSearch handles POST /api/search.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !s.decode(w, r, &req) {
		return
	}
	annotate(r,
		slog.Int("top_k", req.TopK),
		slog.Int("query_len", utf8.RuneCountInString(req.Query)),
		slog.Bool("keyword", req.Keyword != ""),
	)
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.QueryTimeout)
	defer cancel()

	results, err := s.engine.HybridSearch(ctx, req.Query, req.Keyword, req.TopK)
	if err != nil {
		s.fail(w, r, "search failed", err)
		return
	}
	writeJSON(w, r, http.StatusOK, resultsResponse{Results: results, Count: len(results)})
}

// handleSimilar handles GET /api/documents/{id}/similar?top_k=N.
func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "document id is required")
		return
	}
	topK := 0
	if v := r.URL.Query().Get("top_k"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "top_k must be a non-negative integer")
			return
		}
		topK = n
	}
	annotate(r, slog.String("document_id", id), slog.Int("top_k", topK))

	results, err := s.engine.SimilarDocuments(r.Context(), id, topK)
	if err != nil {
		s.fail(w, r, "similar documents failed", err)
		return
	}
	writeJSON(w, r, http.StatusOK, resultsResponse{Results: results, Count: len(results)})
}

// handleStats handles GET /api/index/stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Stats(r.Context())
	if err != nil {
		if errors.Is(err, rag.ErrIndexNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.fail(w, r, "stats failed", err)
		return
	}
	writeJSON(w, r, http.StatusOK, stats)
}

// decode reads a JSON body into dst, replying 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// fail logs err and replies 504 for timeouts, 500 otherwise.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	logging.FromContext(r.Context()).Error(msg, slog.Any("error", err))
	if errors.Is(err, context.DeadlineExceeded) {
		writeError(w, http.StatusGatewayTimeout, "request timed out")
		return
	}
	writeError(w, http.StatusInternalServerError, msg)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("encode response", slog.Any("error", err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: msg})
}
