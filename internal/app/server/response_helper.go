package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"proxywarden/internal/database"
	"proxywarden/internal/domain"
	"proxywarden/internal/jobs/checker"
	"proxywarden/internal/pool"
)

const (
	defaultLimit = 10
	maxLimit     = 1000
)

// maxAgeHours is the largest hour count a time.Duration holds.
const maxAgeHours = float64(math.MaxInt64 / int64(time.Hour))

var errBadQuery = errors.New("invalid query parameter")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

func rejectRequest(w http.ResponseWriter, status int, message string) {
	writeError(w, message, status)
}

// writePoolError maps the pool and store sentinels onto status codes.
func writePoolError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pool.ErrNoWorkingProxy):
		writeError(w, "no working proxy available", http.StatusNotFound)
	case errors.Is(err, pool.ErrProxyNotFound):
		writeError(w, "proxy not found", http.StatusNotFound)
	case errors.Is(err, pool.ErrInvalidArgument),
		errors.Is(err, checker.ErrInvalidArgument),
		errors.Is(err, domain.ErrInvalidEndpoint),
		errors.Is(err, domain.ErrUnsupportedProtocol),
		errors.Is(err, database.ErrInvalidCIDR),
		errors.Is(err, errBadQuery):
		writeError(w, err.Error(), http.StatusBadRequest)
	default:
		log.Error("Request failed", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
	}
}

// parseMaxAge accepts a Go duration ("24h", "90m") or a bare number of hours.
func parseMaxAge(raw string, fallback time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	if hours, err := strconv.ParseFloat(raw, 64); err == nil {
		if math.IsNaN(hours) || math.Abs(hours) > maxAgeHours {
			return 0, fmt.Errorf("%w: max_age %q out of range", errBadQuery, raw)
		}
		return time.Duration(hours * float64(time.Hour)), nil
	}
	maxAge, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: max_age %q", errBadQuery, raw)
	}
	return maxAge, nil
}

func parseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: limit %q", errBadQuery, raw)
	}
	if limit > maxLimit {
		return 0, fmt.Errorf("%w: limit above %d", errBadQuery, maxLimit)
	}
	return limit, nil
}
