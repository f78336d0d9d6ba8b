package server

import (
	"errors"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/turbolytics/pixelator/internal/catalog"
	"github.com/turbolytics/pixelator/pkg/batch"
)

type RunInfo struct {
	batch.Summary
	Phase    batch.Phase `json:"phase"`
	Progress float64     `json:"progress"`
}

func newRunInfo(s batch.Summary, phase batch.Phase) RunInfo {
	info := RunInfo{Summary: s, Phase: phase}
	if s.Total > 0 {
		info.Progress = float64(s.Processed) / float64(s.Total)
	}
	return info
}

func runInfo(run *batch.Run) RunInfo {
	return newRunInfo(run.Summary(), run.Phase())
}

func catalogInfo(c catalog.Catalog) RunInfo {
	phase := batch.PhaseFailed
	if c.Completed {
		phase = batch.PhaseCompleted
	}
	return newRunInfo(c.Summary(), phase)
}

func (s *Server) register(run *batch.Run) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[run.ID()] = run
	s.order = append(s.order, run.ID())
	s.evict()

	s.logger.Info("run registered",
		zap.String("run_id", run.ID()),
		zap.String("phase", string(run.Phase())))
}

// evict drops the oldest finished runs beyond the retention limit. Callers
// hold s.mu.
func (s *Server) evict() {
	excess := len(s.order) - s.retainedRuns
	if excess <= 0 {
		return
	}
	kept := s.order[:0]
	for _, id := range s.order {
		if excess > 0 && s.runs[id].Phase().Terminal() {
			delete(s.runs, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = n
	}

	s.mu.RLock()
	runs := make([]RunInfo, 0, len(s.runs))
	seen := make(map[string]struct{}, len(s.runs))
	for id, run := range s.runs {
		runs = append(runs, runInfo(run))
		seen[id] = struct{}{}
	}
	s.mu.RUnlock()

	entries, err := s.catalog.List(r.Context(), limit)
	if err != nil {
		s.logger.Warn("listing catalog", zap.Error(err))
	}
	for _, c := range entries {
		if _, ok := seen[c.RunID]; ok {
			continue
		}
		runs = append(runs, catalogInfo(c))
	}

	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if len(runs) > limit {
		runs = runs[:limit]
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.RLock()
	run, exists := s.runs[id]
	s.mu.RUnlock()

	if exists {
		writeJSON(w, http.StatusOK, runInfo(run))
		return
	}

	c, err := s.catalog.Load(r.Context(), id)
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		writeError(w, http.StatusNotFound, errors.New("run not found"))
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, catalogInfo(c))
	}
}
