package planner

import (
	"strings"
	"testing"

	"raidsmith/internal/grouping"
	"raidsmith/internal/inventory"
)

func dev(name string, size int64) inventory.Device {
	return inventory.Device{Name: name, Path: "/dev/" + name, SizeBytes: size, Present: true}
}

const tb = int64(1_000_000_000_000)

func planFor(t *testing.T, devices ...inventory.Device) *RaidPlan {
	t.Helper()
	groups := grouping.Group(devices, 10)
	rec := Recommend(Plan(groups))
	if rec == nil {
		t.Fatal("no recommendation")
	}
	return rec
}

func TestFourEqualDrivesRecommendStripedMirror(t *testing.T) {
	rec := planFor(t,
		dev("sda", 1_800*tb/1000),
		dev("sdb", 1_800*tb/1000),
		dev("sdc", 1_800*tb/1000),
		dev("sdd", 1_800*tb/1000),
	)
	if rec.ID != "raid10-1.8TB" {
		t.Fatalf("expected raid10-1.8TB, got %s", rec.ID)
	}
	if !strings.Contains(rec.Rationale, "tolerat") {
		t.Fatalf("rationale should cite failure tolerance: %q", rec.Rationale)
	}
	// raid6, raid5 and individual must survive as alternatives.
	ids := map[string]bool{}
	for _, alt := range rec.Alternatives {
		ids[alt.ID] = true
	}
	for _, want := range []string{"raid6-1.8TB", "raid5-1.8TB", "individual-1.8TB"} {
		if !ids[want] {
			t.Fatalf("missing alternative %s (have %v)", want, ids)
		}
	}
}

func TestSingleDriveIsInformationalNoRaid(t *testing.T) {
	rec := planFor(t, dev("sda", 1_800*tb/1000))
	if rec.ID != "no-raid" {
		t.Fatalf("expected no-raid, got %s", rec.ID)
	}
	if rec.Insufficient == nil {
		t.Fatal("no-raid plan must carry InsufficientDevicesError")
	}
	if len(rec.Arrays) != 0 || len(rec.Unprotected) != 1 {
		t.Fatalf("unexpected shape: %+v", rec)
	}
}

func TestTwoGroupsRecommendDualMirror(t *testing.T) {
	rec := planFor(t,
		dev("sda", 4*tb),
		dev("sdb", 4*tb),
		dev("sdc", 1*tb),
		dev("sdd", 1*tb),
	)
	if rec.ID != "dual-mirror" {
		t.Fatalf("expected dual-mirror, got %s", rec.ID)
	}
	if len(rec.Arrays) != 2 {
		t.Fatalf("expected one mirror per group: %+v", rec.Arrays)
	}
	for _, a := range rec.Arrays {
		if a.Scheme != SchemeMirror || len(a.Members) != 2 {
			t.Fatalf("expected 2-member mirror, got %+v", a)
		}
	}
	if rec.ProtectedBytes() != 10*tb {
		t.Fatalf("expected all 10TB protected, got %d", rec.ProtectedBytes())
	}
}

func TestTwoDrivesMirrorWithChecksumAlternative(t *testing.T) {
	rec := planFor(t, dev("sda", 1*tb), dev("sdb", 1*tb))
	if rec.ID != "raid1-1.0TB" {
		t.Fatalf("expected raid1-1.0TB, got %s", rec.ID)
	}
	found := false
	for _, alt := range rec.Alternatives {
		if alt.ID == "raid1c-1.0TB" {
			found = true
			if alt.Arrays[0].Filesystem != "btrfs" {
				t.Fatalf("checksum mirror should format btrfs: %+v", alt.Arrays[0])
			}
		}
	}
	if !found {
		t.Fatalf("raid1c alternative missing: %+v", rec.Alternatives)
	}
}

func TestThreeDrivesMirrorWithSpareAndParity(t *testing.T) {
	rec := planFor(t, dev("sda", 2*tb), dev("sdb", 2*tb), dev("sdc", 2*tb))
	// Both plans protect all three devices; parity-single has no spare idle
	// and the mirror tolerates only one failure as well, so raid5 wins on
	// scheme preference after the full tie.
	if rec.ID != "raid5-2.0TB" {
		t.Fatalf("expected raid5-2.0TB, got %s", rec.ID)
	}
	var mirror *RaidPlan
	for _, alt := range rec.Alternatives {
		if alt.ID == "raid1-2.0TB" {
			mirror = alt
		}
	}
	if mirror == nil {
		t.Fatalf("mirror alternative missing")
	}
	if len(mirror.Arrays[0].Members) != 2 || len(mirror.Arrays[0].Spares) != 1 {
		t.Fatalf("expected 2 members + 1 spare, got %+v", mirror.Arrays[0])
	}
}

func TestMixedOptimalForThreeGroups(t *testing.T) {
	rec := planFor(t,
		dev("sda", 8*tb), dev("sdb", 8*tb), dev("sdc", 8*tb), dev("sdd", 8*tb),
		dev("sde", 4*tb), dev("sdf", 4*tb),
		dev("sdg", 1*tb),
	)
	if rec.ID != "mixed-optimal" {
		t.Fatalf("expected mixed-optimal, got %s", rec.ID)
	}
	if len(rec.Arrays) != 2 {
		t.Fatalf("expected raid6 + mirror, got %+v", rec.Arrays)
	}
	if rec.Arrays[0].Scheme != SchemeParityDual || len(rec.Arrays[0].Members) != 4 {
		t.Fatalf("largest group should be parity-dual: %+v", rec.Arrays[0])
	}
	if rec.Arrays[1].Scheme != SchemeMirror {
		t.Fatalf("second group should be a mirror: %+v", rec.Arrays[1])
	}
	if len(rec.Unprotected) != 1 || rec.Unprotected[0].Path != "/dev/sdg" {
		t.Fatalf("singleton should stay unprotected: %+v", rec.Unprotected)
	}
}

func TestSelectByIdentifier(t *testing.T) {
	rec := planFor(t,
		dev("sda", 1_800*tb/1000), dev("sdb", 1_800*tb/1000),
		dev("sdc", 1_800*tb/1000), dev("sdd", 1_800*tb/1000),
	)
	p, ok := Select(rec, "raid6-1.8TB")
	if !ok || p.ID != "raid6-1.8TB" {
		t.Fatalf("select failed: %v %v", p, ok)
	}
	if _, ok := Select(rec, "raid9000"); ok {
		t.Fatal("unknown id must not resolve")
	}
	p, ok = Select(rec, "")
	if !ok || p != rec {
		t.Fatal("empty id should resolve to the recommendation")
	}
}
