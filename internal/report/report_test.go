package report

import (
	"strings"
	"testing"

	"raidsmith/internal/grouping"
	"raidsmith/internal/guard"
	"raidsmith/internal/inventory"
	"raidsmith/internal/planner"
)

func TestWritePlanIncludesRecommendationAndAlternatives(t *testing.T) {
	var devices []inventory.Device
	for _, n := range []string{"sda", "sdb", "sdc", "sdd"} {
		devices = append(devices, inventory.Device{
			Name: n, Path: "/dev/" + n, SizeBytes: 1_800_000_000_000,
			Model: "WDC WD2003FZEX", Serial: "WMC" + n, Present: true,
		})
	}
	groups := grouping.Group(devices, 10)
	rec := planner.Recommend(planner.Plan(groups))

	var b strings.Builder
	WritePlan(&b, groups, rec)
	out := b.String()

	for _, want := range []string{"raid10-1.8TB", "/dev/sda", "rationale:", "raid6-1.8TB", "1.8TB", "[Alternatives]"} {
		if !strings.Contains(out, want) {
			t.Fatalf("preview missing %q:\n%s", want, out)
		}
	}
}

func TestWritePlanNoRaid(t *testing.T) {
	devices := []inventory.Device{{Name: "sda", Path: "/dev/sda", SizeBytes: 1_800_000_000_000, Present: true}}
	groups := grouping.Group(devices, 10)
	rec := planner.Recommend(planner.Plan(groups))

	var b strings.Builder
	WritePlan(&b, groups, rec)
	out := b.String()
	if !strings.Contains(out, "no-raid") || !strings.Contains(out, "note:") {
		t.Fatalf("no-raid preview should carry the informational note:\n%s", out)
	}
}

func TestWriteStatusClassifies(t *testing.T) {
	arrays := []inventory.ArrayDescriptor{
		{Name: "md0", Path: "/dev/md0", Level: "raid1", Active: true,
			Members: []inventory.ArrayMember{{Device: "/dev/sda3"}, {Device: "/dev/sdb3"}}},
		{Name: "md1", Path: "/dev/md1", Level: "raid1", Active: true,
			Members: []inventory.ArrayMember{{Device: "/dev/sdc1"}, {Device: "/dev/sdd1"}}},
		{Name: "md2", Path: "/dev/md2", Level: "raid1", Active: true,
			Members: []inventory.ArrayMember{{Device: "/dev/sde1"}, {Device: "/dev/sdf1"}}},
	}
	snap := guard.ParseMounts("/dev/md0 / ext4 rw 0 0\n/dev/md1 /srv/data1 ext4 rw 0 0\n/dev/md2 /srv/data2 ext4 rw 0 0\n")

	var b strings.Builder
	WriteStatus(&b, arrays, snap)
	out := b.String()

	if strings.Count(out, "SYSTEM") != 1 {
		t.Fatalf("expected exactly one SYSTEM array:\n%s", out)
	}
	if strings.Count(out, "DATA") != 2 {
		t.Fatalf("expected two DATA arrays:\n%s", out)
	}
}

func TestWriteStatusEmpty(t *testing.T) {
	var b strings.Builder
	WriteStatus(&b, nil, &guard.MountSnapshot{})
	if !strings.Contains(b.String(), "No software RAID arrays") {
		t.Fatalf("empty status: %q", b.String())
	}
}
