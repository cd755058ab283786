package database

import (
	"context"
	"fmt"
	"net"
	"strings"

	"proxywarden/internal/domain"

	"gorm.io/gorm/clause"
)

func (s *Store) ListBlockedRanges(ctx context.Context) ([]domain.BlockedRange, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	ranges := make([]domain.BlockedRange, 0)
	if err := db.Order("id ASC").Find(&ranges).Error; err != nil {
		return nil, fmt.Errorf("database: list blocked ranges: %w", err)
	}
	return ranges, nil
}

// AddBlockedRange stores cidr in canonical form. Adding a known range is a
// no-op and reports false.
func (s *Store) AddBlockedRange(ctx context.Context, cidr string, reason string) (domain.BlockedRange, bool, error) {
	canonical, err := CanonicalCIDR(cidr)
	if err != nil {
		return domain.BlockedRange{}, false, err
	}
	db, err := s.conn(ctx)
	if err != nil {
		return domain.BlockedRange{}, false, err
	}

	row := domain.BlockedRange{CIDR: canonical, Reason: strings.TrimSpace(reason)}
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cidr"}},
		DoNothing: true,
	}).Create(&row)
	if result.Error != nil {
		return domain.BlockedRange{}, false, fmt.Errorf("database: add blocked range: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		var existing domain.BlockedRange
		if err := db.Where("cidr = ?", canonical).First(&existing).Error; err != nil {
			return domain.BlockedRange{}, false, fmt.Errorf("database: load blocked range: %w", err)
		}
		return existing, false, nil
	}
	return row, true, nil
}

func (s *Store) DeleteBlockedRange(ctx context.Context, cidr string) (bool, error) {
	canonical, err := CanonicalCIDR(cidr)
	if err != nil {
		return false, err
	}
	db, err := s.conn(ctx)
	if err != nil {
		return false, err
	}

	result := db.Where("cidr = ?", canonical).Delete(&domain.BlockedRange{})
	if result.Error != nil {
		return false, fmt.Errorf("database: delete blocked range: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// CanonicalCIDR accepts a CIDR or a bare IP (treated as a single host range).
func CanonicalCIDR(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty value", ErrInvalidCIDR)
	}
	if !strings.Contains(trimmed, "/") {
		ip := net.ParseIP(trimmed)
		if ip == nil {
			return "", fmt.Errorf("%w: %q", ErrInvalidCIDR, value)
		}
		if ip.To4() != nil {
			trimmed += "/32"
		} else {
			trimmed += "/128"
		}
	}
	_, network, err := net.ParseCIDR(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidCIDR, value)
	}
	return network.String(), nil
}
