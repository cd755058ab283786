package domain

import "time"

type BlockedRange struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	CIDR      string    `gorm:"column:cidr;not null;size:64;uniqueIndex"`
	Reason    string    `gorm:"size:255"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (BlockedRange) TableName() string {
	return "blocked_ranges"
}
