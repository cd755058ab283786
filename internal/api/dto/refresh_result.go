package dto

import "proxywarden/internal/domain"

type RefreshResult struct {
	RunID      string            `json:"run_id"`
	Skipped    bool              `json:"skipped"`
	SkipReason string            `json:"skip_reason,omitempty"`
	Harvested  int               `json:"harvested"`
	Checked    int               `json:"checked"`
	Working    int               `json:"working"`
	Purged     int64             `json:"purged"`
	DurationMs int64             `json:"duration_ms"`
	Statistics domain.Statistics `json:"statistics"`
}
