package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"

	"proxywarden/internal/api/dto"
	"proxywarden/internal/auth"
	"proxywarden/internal/jobs/checker"
	"proxywarden/internal/support"
)

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"instance": support.GetInstanceName(),
	})
}

func (s *Server) getBestProxy(w http.ResponseWriter, r *http.Request) {
	maxAge, err := parseMaxAge(r.URL.Query().Get("max_age"), s.deps.MaxAge)
	if err != nil {
		writePoolError(w, err)
		return
	}

	proxy, err := s.deps.Pool.GetOne(r.Context(), maxAge)
	if err != nil {
		writePoolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewProxyInfo(proxy))
}

func (s *Server) getRandomProxy(w http.ResponseWriter, r *http.Request) {
	maxAge, err := parseMaxAge(r.URL.Query().Get("max_age"), s.deps.MaxAge)
	if err != nil {
		writePoolError(w, err)
		return
	}

	proxy, err := s.deps.Pool.GetRandom(r.Context(), maxAge)
	if err != nil {
		writePoolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewProxyInfo(proxy))
}

func (s *Server) listProxies(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, err := parseLimit(query.Get("limit"))
	if err != nil {
		writePoolError(w, err)
		return
	}
	maxAge, err := parseMaxAge(query.Get("max_age"), s.deps.MaxAge)
	if err != nil {
		writePoolError(w, err)
		return
	}

	proxies, err := s.deps.Pool.GetN(r.Context(), limit, maxAge)
	if err != nil {
		writePoolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewProxyList(proxies))
}

func (s *Server) markProxyFailed(w http.ResponseWriter, r *http.Request) {
	var payload dto.MarkFailedRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(payload.Proxy) == "" {
		writeError(w, "proxy is required", http.StatusBadRequest)
		return
	}

	if err := s.deps.Pool.MarkFailedURL(r.Context(), payload.Proxy); err != nil {
		writePoolError(w, err)
		return
	}

	subject, _ := auth.SubjectFromContext(r.Context())
	log.Debug("Failure reported", "proxy", payload.Proxy, "reporter", subject)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Pool.GetStatistics(r.Context())
	if err != nil {
		writePoolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// spotCheck probes a random sample of unchecked records right away and
// returns the ones that work.
func (s *Server) spotCheck(w http.ResponseWriter, r *http.Request) {
	if s.deps.Checker == nil {
		writeError(w, "spot checks are not configured", http.StatusServiceUnavailable)
		return
	}

	limit := s.deps.SampleSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := parseLimit(raw)
		if err != nil {
			writePoolError(w, err)
			return
		}
		if parsed > checker.MaxRandomSample {
			writePoolError(w, fmt.Errorf("%w: spot-check limit above %d", errBadQuery, checker.MaxRandomSample))
			return
		}
		limit = parsed
	}

	working, err := s.deps.Checker.CheckRandomSample(r.Context(), limit)
	if err != nil {
		writePoolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewProxyList(working))
}
