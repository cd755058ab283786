package dto

import (
	"time"

	"proxywarden/internal/domain"
)

type BlockedRangeInfo struct {
	CIDR      string    `json:"cidr"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func NewBlockedRangeInfo(blocked domain.BlockedRange) BlockedRangeInfo {
	return BlockedRangeInfo{CIDR: blocked.CIDR, Reason: blocked.Reason, CreatedAt: blocked.CreatedAt}
}

type BlockRangeRequest struct {
	CIDR   string `json:"cidr"`
	Reason string `json:"reason"`
}
