package database

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRecordHarvest_TracksOutcomes(t *testing.T) {
	db := setupProxyTestDB(t)
	st := NewStore(db)
	ctx := context.Background()

	first := time.Now().Add(-time.Hour).UTC()
	if err := st.RecordHarvest(ctx, "geonode", 120, nil, first); err != nil {
		t.Fatalf("record first harvest: %v", err)
	}

	second := first.Add(30 * time.Minute)
	if err := st.RecordHarvest(ctx, "geonode", 0, errors.New("status 503"), second); err != nil {
		t.Fatalf("record failed harvest: %v", err)
	}

	third := second.Add(10 * time.Minute)
	if err := st.RecordHarvest(ctx, "github", 40, nil, third); err != nil {
		t.Fatalf("record github harvest: %v", err)
	}

	sources, err := st.ListHarvestSources(ctx)
	if err != nil {
		t.Fatalf("list harvest sources: %v", err)
	}
	if len(sources) != 2 {
		t.Fatalf("sources = %d, want 2", len(sources))
	}

	geonode := sources[0]
	if geonode.Name != "geonode" {
		t.Fatalf("sources not ordered by name: %s first", geonode.Name)
	}
	if geonode.LastCount != 0 || geonode.LastError != "status 503" {
		t.Fatalf("latest geonode outcome = %d/%q", geonode.LastCount, geonode.LastError)
	}
	if geonode.TotalHarvested != 120 {
		t.Fatalf("geonode total = %d, want 120", geonode.TotalHarvested)
	}
	if geonode.LastSuccessAt == nil || !geonode.LastSuccessAt.Equal(normalizeTime(first)) {
		t.Fatalf("failed harvest must keep the previous success time, got %v", geonode.LastSuccessAt)
	}
	if !geonode.LastHarvestAt.Equal(normalizeTime(second)) {
		t.Fatalf("last harvest = %s, want %s", geonode.LastHarvestAt, second)
	}

	if sources[1].LastError != "" || sources[1].LastCount != 40 {
		t.Fatalf("github outcome = %+v", sources[1])
	}
}

func TestBlockedRanges_AddListDelete(t *testing.T) {
	db := setupProxyTestDB(t)
	st := NewStore(db)
	ctx := context.Background()

	row, created, err := st.AddBlockedRange(ctx, "203.0.113.77/24", "abuse")
	if err != nil {
		t.Fatalf("add blocked range: %v", err)
	}
	if !created {
		t.Fatal("expected new range to be created")
	}
	if row.CIDR != "203.0.113.0/24" {
		t.Fatalf("stored cidr = %q, want canonical 203.0.113.0/24", row.CIDR)
	}

	again, created, err := st.AddBlockedRange(ctx, "203.0.113.0/24", "duplicate")
	if err != nil {
		t.Fatalf("add duplicate range: %v", err)
	}
	if created {
		t.Fatal("duplicate range must not be created twice")
	}
	if again.Reason != "abuse" {
		t.Fatalf("duplicate returned reason %q, want the stored one", again.Reason)
	}

	if _, _, err := st.AddBlockedRange(ctx, "198.51.100.4", ""); err != nil {
		t.Fatalf("add single host: %v", err)
	}
	if _, _, err := st.AddBlockedRange(ctx, "not-a-range", ""); !errors.Is(err, ErrInvalidCIDR) {
		t.Fatalf("expected ErrInvalidCIDR, got %v", err)
	}

	ranges, err := st.ListBlockedRanges(ctx)
	if err != nil {
		t.Fatalf("list blocked ranges: %v", err)
	}
	if len(ranges) != 2 || ranges[1].CIDR != "198.51.100.4/32" {
		t.Fatalf("ranges = %+v", ranges)
	}

	deleted, err := st.DeleteBlockedRange(ctx, "203.0.113.0/24")
	if err != nil {
		t.Fatalf("delete blocked range: %v", err)
	}
	if !deleted {
		t.Fatal("expected range to be deleted")
	}
}
