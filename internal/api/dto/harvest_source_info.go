package dto

import (
	"time"

	"proxywarden/internal/domain"
)

type HarvestSourceInfo struct {
	Name           string     `json:"name"`
	LastHarvestAt  time.Time  `json:"last_harvest_at"`
	LastCount      int        `json:"last_count"`
	LastError      string     `json:"last_error,omitempty"`
	LastSuccessAt  *time.Time `json:"last_success_at,omitempty"`
	TotalHarvested int64      `json:"total_harvested"`
}

func NewHarvestSourceInfo(source domain.HarvestSource) HarvestSourceInfo {
	return HarvestSourceInfo{
		Name:           source.Name,
		LastHarvestAt:  source.LastHarvestAt,
		LastCount:      source.LastCount,
		LastError:      source.LastError,
		LastSuccessAt:  source.LastSuccessAt,
		TotalHarvested: source.TotalHarvested,
	}
}
