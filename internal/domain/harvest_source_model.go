package domain

import "time"

// HarvestSource keeps the outcome of the latest harvest per source adapter.
type HarvestSource struct {
	Name           string     `gorm:"primaryKey;size:120"`
	LastHarvestAt  time.Time  `gorm:"not null;index"`
	LastCount      int        `gorm:"not null"`
	LastError      string     `gorm:"size:512"`
	LastSuccessAt  *time.Time `gorm:"index"`
	TotalHarvested int64      `gorm:"not null"`
	CreatedAt      time.Time  `gorm:"autoCreateTime"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime"`
}

func (HarvestSource) TableName() string {
	return "harvest_sources"
}
