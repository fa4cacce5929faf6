package guard

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"raidsmith/internal/inventory"
)

// ProtectedPaths are the mount points that mark a device as backing the
// running operating system.
var ProtectedPaths = []string{"/", "/boot", "/var", "/usr", "/home", "/opt", "/tmp"}

// MountEntry is one line of the kernel mount table.
type MountEntry struct {
	Source     string
	MountPoint string
}

// MountSnapshot is the mount topology captured once per session. Guard
// verdicts for a whole teardown batch are taken against the same snapshot so
// that earlier removals cannot shift later decisions.
type MountSnapshot struct {
	Entries []MountEntry
}

// LoadSnapshot reads the live mount table.
func LoadSnapshot() (*MountSnapshot, error) {
	b, err := os.ReadFile("/proc/self/mounts")
	if err != nil {
		return nil, errors.Wrap(err, "read mount table")
	}
	return ParseMounts(string(b)), nil
}

// ParseMounts parses /proc/self/mounts content.
func ParseMounts(content string) *MountSnapshot {
	snap := &MountSnapshot{}
	for _, line := range strings.Split(content, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || !strings.HasPrefix(fields[0], "/dev/") {
			continue
		}
		snap.Entries = append(snap.Entries, MountEntry{
			Source:     fields[0],
			MountPoint: unescapeMount(fields[1]),
		})
	}
	return snap
}

// unescapeMount decodes the octal escapes the kernel uses for spaces and the
// like in mount points.
func unescapeMount(s string) string {
	replacer := strings.NewReplacer(`\040`, " ", `\011`, "\t", `\012`, "\n", `\134`, `\`)
	return replacer.Replace(s)
}

// RootSource is the device backing the root filesystem, or empty when the
// snapshot has no root entry.
func (s *MountSnapshot) RootSource() string {
	for _, e := range s.Entries {
		if e.MountPoint == "/" {
			return e.Source
		}
	}
	return ""
}

// MountsOf returns every mount whose source is dev or a partition of dev.
func (s *MountSnapshot) MountsOf(dev string) []MountEntry {
	var out []MountEntry
	for _, e := range s.Entries {
		if e.Source == dev || ParentDisk(e.Source) == dev {
			out = append(out, e)
		}
	}
	return out
}

var (
	partSuffix  = regexp.MustCompile(`^(.*[0-9])p[0-9]+$`) // nvme0n1p3, md0p1, mmcblk0p2
	plainSuffix = regexp.MustCompile(`^([a-z/]+)[0-9]+$`)  // sda3, vdb1, xvda2
)

// ParentDisk strips a partition suffix down to the parent block device.
// Whole-disk paths pass through unchanged.
func ParentDisk(dev string) string {
	if m := partSuffix.FindStringSubmatch(dev); m != nil {
		return m[1]
	}
	// md devices only partition with a pN suffix; md0 is already top-level.
	if strings.HasPrefix(strings.TrimPrefix(dev, "/dev/"), "md") {
		return dev
	}
	if m := plainSuffix.FindStringSubmatch(dev); m != nil {
		return m[1]
	}
	return dev
}

func protected(mountPoint string) bool {
	for _, p := range ProtectedPaths {
		if mountPoint == p {
			return true
		}
	}
	return false
}

// IsSystemArray classifies an array as SYSTEM when it backs the running OS.
// The checks short-circuit in order: the array backs the root mount, the
// array has a filesystem on a protected path, or a member's parent disk
// does. The verdict is derived fresh from the snapshot on every call and
// never stored.
func IsSystemArray(desc inventory.ArrayDescriptor, snap *MountSnapshot) (bool, string) {
	root := snap.RootSource()
	if root != "" && (root == desc.Path || ParentDisk(root) == desc.Path) {
		return true, fmt.Sprintf("%s backs the root filesystem (%s)", desc.Path, root)
	}

	for _, e := range snap.MountsOf(desc.Path) {
		if protected(e.MountPoint) {
			return true, fmt.Sprintf("%s is mounted at protected path %s", e.Source, e.MountPoint)
		}
	}

	for _, m := range desc.Members {
		parent := ParentDisk(m.Device)
		for _, e := range snap.MountsOf(parent) {
			if protected(e.MountPoint) {
				return true, fmt.Sprintf("member %s shares disk %s with protected mount %s", m.Device, parent, e.MountPoint)
			}
		}
	}
	return false, ""
}
