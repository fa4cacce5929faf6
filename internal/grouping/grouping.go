package grouping

import (
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"raidsmith/internal/inventory"
)

// DeviceGroup is a set of devices whose capacities fall within a tolerance
// band of the group's reference (first member) capacity. Every scanned device
// belongs to exactly one group.
type DeviceGroup struct {
	Label    string // canonical size label, e.g. "1.8TB"
	RefBytes int64
	Devices  []inventory.Device
}

// Group buckets devices by capacity. Devices are sorted by capacity
// descending (ties keep scan order); a new group opens whenever a device
// deviates from the current group's reference capacity by more than
// tolerancePct percent.
//
// Tolerance is checked against the group reference only, not pairwise: a
// chain of devices each near its neighbor can drift away from the reference
// without splitting. Preserved behavior; see DESIGN.md.
func Group(devices []inventory.Device, tolerancePct float64) []DeviceGroup {
	sorted := make([]inventory.Device, len(devices))
	copy(sorted, devices)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].SizeBytes > sorted[j].SizeBytes
	})

	var groups []DeviceGroup
	for _, d := range sorted {
		if len(groups) > 0 {
			g := &groups[len(groups)-1]
			if withinTolerance(g.RefBytes, d.SizeBytes, tolerancePct) {
				g.Devices = append(g.Devices, d)
				continue
			}
		}
		groups = append(groups, DeviceGroup{
			Label:    SizeLabel(d.SizeBytes),
			RefBytes: d.SizeBytes,
			Devices:  []inventory.Device{d},
		})
	}
	return groups
}

func withinTolerance(ref, size int64, tolerancePct float64) bool {
	if ref <= 0 {
		return size == ref
	}
	dev := float64(ref-size) / float64(ref) * 100
	if dev < 0 {
		dev = -dev
	}
	return dev <= tolerancePct
}

// SizeLabel renders a capacity as the canonical label used in group keys and
// plan identifiers, e.g. 1920383410176 -> "1.9TB".
func SizeLabel(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}
	return strings.ReplaceAll(humanize.Bytes(uint64(bytes)), " ", "")
}
