package grouping

import (
	"testing"

	"raidsmith/internal/inventory"
)

func dev(name string, size int64) inventory.Device {
	return inventory.Device{Name: name, Path: "/dev/" + name, SizeBytes: size, Present: true}
}

const tb = int64(1_000_000_000_000)

func TestGroupSplitsOnTolerance(t *testing.T) {
	devices := []inventory.Device{
		dev("sda", 4*tb),
		dev("sdb", 1*tb),
		dev("sdc", 4*tb),
		dev("sdd", 1*tb),
	}
	groups := Group(devices, 10)
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d: %+v", len(groups), groups)
	}
	if len(groups[0].Devices) != 2 || groups[0].RefBytes != 4*tb {
		t.Fatalf("large group mismatch: %+v", groups[0])
	}
	if len(groups[1].Devices) != 2 || groups[1].RefBytes != 1*tb {
		t.Fatalf("small group mismatch: %+v", groups[1])
	}
	if groups[0].Label != "4.0TB" {
		t.Fatalf("label mismatch: %q", groups[0].Label)
	}
}

func TestGroupTolerantOfMinorVariance(t *testing.T) {
	// Same nominal size from two vendors; a few GB apart.
	devices := []inventory.Device{
		dev("sda", 1_800_000_000_000),
		dev("sdb", 1_792_000_000_000),
		dev("sdc", 1_758_000_000_000),
	}
	groups := Group(devices, 10)
	if len(groups) != 1 {
		t.Fatalf("expected a single group, got %+v", groups)
	}
	if len(groups[0].Devices) != 3 {
		t.Fatalf("expected 3 members, got %+v", groups[0])
	}
}

func TestGroupUnionIsExactlyInput(t *testing.T) {
	devices := []inventory.Device{
		dev("sda", 4*tb),
		dev("sdb", 2*tb),
		dev("sdc", 1*tb),
		dev("sdd", 500_000_000_000),
		dev("sde", 4*tb),
	}
	groups := Group(devices, 10)

	seen := map[string]int{}
	for _, g := range groups {
		for _, d := range g.Devices {
			seen[d.Path]++
		}
	}
	if len(seen) != len(devices) {
		t.Fatalf("device count mismatch: %v", seen)
	}
	for _, d := range devices {
		if seen[d.Path] != 1 {
			t.Fatalf("device %s appears %d times", d.Path, seen[d.Path])
		}
	}
}

func TestGroupsSortedDescending(t *testing.T) {
	devices := []inventory.Device{
		dev("sdb", 1*tb),
		dev("sda", 4*tb),
	}
	groups := Group(devices, 10)
	if groups[0].RefBytes < groups[1].RefBytes {
		t.Fatalf("groups not capacity-sorted descending: %+v", groups)
	}
}
