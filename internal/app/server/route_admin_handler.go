package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"

	"proxywarden/internal/api/dto"
	"proxywarden/internal/app"
	"proxywarden/internal/auth"
)

func (s *Server) listSources(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sources == nil {
		writeJSON(w, http.StatusOK, map[string]any{"sources": []dto.HarvestSourceInfo{}})
		return
	}

	sources, err := s.deps.Sources.ListHarvestSources(r.Context())
	if err != nil {
		writePoolError(w, err)
		return
	}

	infos := make([]dto.HarvestSourceInfo, 0, len(sources))
	for _, source := range sources {
		infos = append(infos, dto.NewHarvestSourceInfo(source))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": infos})
}

func (s *Server) listBlockedRanges(w http.ResponseWriter, r *http.Request) {
	if s.deps.Blacklist == nil {
		writeJSON(w, http.StatusOK, map[string]any{"ranges": []dto.BlockedRangeInfo{}})
		return
	}

	ranges, err := s.deps.Blacklist.Ranges(r.Context())
	if err != nil {
		writePoolError(w, err)
		return
	}

	infos := make([]dto.BlockedRangeInfo, 0, len(ranges))
	for _, blocked := range ranges {
		infos = append(infos, dto.NewBlockedRangeInfo(blocked))
	}
	writeJSON(w, http.StatusOK, map[string]any{"ranges": infos})
}

func (s *Server) addBlockedRange(w http.ResponseWriter, r *http.Request) {
	if s.deps.Blacklist == nil {
		writeError(w, "blacklist is not configured", http.StatusServiceUnavailable)
		return
	}

	var payload dto.BlockRangeRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	blocked, created, err := s.deps.Blacklist.Add(r.Context(), payload.CIDR, payload.Reason)
	if err != nil {
		writePoolError(w, err)
		return
	}

	subject, _ := auth.SubjectFromContext(r.Context())
	status := http.StatusOK
	if created {
		status = http.StatusCreated
		log.Info("Blocked range added", "cidr", blocked.CIDR, "by", subject)
	}
	writeJSON(w, status, dto.NewBlockedRangeInfo(blocked))
}

func (s *Server) deleteBlockedRange(w http.ResponseWriter, r *http.Request) {
	if s.deps.Blacklist == nil {
		writeError(w, "blacklist is not configured", http.StatusServiceUnavailable)
		return
	}

	cidr := r.URL.Query().Get("cidr")
	if cidr == "" {
		writeError(w, "cidr is required", http.StatusBadRequest)
		return
	}

	removed, err := s.deps.Blacklist.Remove(r.Context(), cidr)
	if err != nil {
		writePoolError(w, err)
		return
	}
	if !removed {
		writeError(w, "blocked range not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// triggerRefresh forces a cycle. It runs in the background unless wait=true,
// in which case the cycle report is returned.
func (s *Server) triggerRefresh(w http.ResponseWriter, r *http.Request) {
	if s.deps.Refresher == nil {
		writeError(w, "refresh is not configured", http.StatusServiceUnavailable)
		return
	}

	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	ctx := context.WithoutCancel(r.Context())

	if !wait {
		go func() {
			if _, err := s.deps.Refresher.RunCycle(ctx, true); err != nil && !errors.Is(err, app.ErrCycleRunning) {
				log.Error("Requested refresh cycle failed", "error", err)
			}
		}()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
		return
	}

	report, err := s.deps.Refresher.RunCycle(ctx, true)
	if errors.Is(err, app.ErrCycleRunning) {
		writeError(w, "a refresh cycle is already running", http.StatusConflict)
		return
	}
	if err != nil {
		writePoolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newRefreshResult(report))
}

func newRefreshResult(report app.CycleReport) dto.RefreshResult {
	return dto.RefreshResult{
		RunID:      report.RunID,
		Skipped:    report.Skipped,
		SkipReason: report.SkipReason,
		Harvested:  report.Harvest.Accepted,
		Checked:    report.Sweep.Checked + report.Recheck.Checked,
		Working:    report.Sweep.Working + report.Recheck.Working,
		Purged:     report.Purged,
		DurationMs: report.Duration.Milliseconds(),
		Statistics: report.Statistics,
	}
}
