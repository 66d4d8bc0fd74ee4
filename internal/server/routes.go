package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lazypower/stage0/internal/guardian"
	"github.com/lazypower/stage0/internal/iqo"
	"github.com/lazypower/stage0/internal/knowledge"
	"github.com/lazypower/stage0/internal/stage0"
)

type runRequest struct {
	SpecID   string  `json:"spec_id"`
	SpecText string  `json:"spec_text"`
	Env      iqo.Env `json:"env"`
	Explain  bool    `json:"explain"`
}

func decodeRun(r *http.Request) (*runRequest, string) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, "invalid json"
	}
	if req.SpecText == "" {
		return nil, "spec_text required"
	}
	if req.SpecID == "" {
		req.SpecID = "adhoc"
	}
	return &req, ""
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	req, msg := decodeRun(r)
	if req == nil {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	res, err := s.eng.Run(r.Context(), req.SpecID, req.SpecText, stage0.RunOptions{Env: req.Env, Explain: req.Explain})
	if err != nil {
		s.log.Error("run failed", "spec_id", req.SpecID, "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCompile(w http.ResponseWriter, r *http.Request) {
	req, msg := decodeRun(r)
	if req == nil {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	res, err := s.eng.Compile(r.Context(), req.SpecID, req.SpecText, stage0.RunOptions{Env: req.Env, Explain: req.Explain})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type createRequest struct {
	guardian.Draft
	InferLinks bool `json:"infer_links"`
}

// guardError maps guardian rejections to 400 and the rest to 500.
func guardError(err error) int {
	switch {
	case errors.Is(err, guardian.ErrMissingCreatedAt),
		errors.Is(err, guardian.ErrMissingAttribution),
		errors.Is(err, guardian.ErrInvalidTimestamp):
		return http.StatusBadRequest
	case errors.Is(err, knowledge.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleCreateMemory(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content required")
		return
	}
	res, err := s.eng.WriteMemory(r.Context(), req.Draft, stage0.WriteOptions{InferLinks: req.InferLinks})
	if err != nil {
		writeError(w, guardError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleUpdateMemory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var d guardian.Draft
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	m, err := s.eng.UpdateMemory(r.Context(), id, d)
	if err != nil {
		writeError(w, guardError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	n, err := s.eng.InvalidateMemory(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"memory_id": id, "invalidated": n})
}

func (s *Server) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	n, err := s.eng.RecalculateScores(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"recalculated": n})
}

func (s *Server) handlePrune(w http.ResponseWriter, r *http.Request) {
	n, err := s.eng.PruneCache(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"pruned": n})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.eng.CacheStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type overlayEntry struct {
	MemoryID        string  `json:"memory_id"`
	DynamicScore    float64 `json:"dynamic_score"`
	UsageCount      int     `json:"usage_count"`
	InitialPriority int     `json:"initial_priority"`
	LastAccessedAt  *int64  `json:"last_accessed_at"`
	StructureStatus string  `json:"structure_status"`
}

func (s *Server) handleOverlayTop(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	recs, err := s.eng.TopMemories(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]overlayEntry, len(recs))
	for i, rec := range recs {
		out[i] = overlayEntry{
			MemoryID:        rec.MemoryID,
			DynamicScore:    rec.DynamicScore,
			UsageCount:      rec.UsageCount,
			InitialPriority: rec.InitialPriority,
			LastAccessedAt:  rec.LastAccessedAt,
			StructureStatus: rec.StructureStatus,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"memories": out})
}
