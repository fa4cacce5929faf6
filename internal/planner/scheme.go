package planner

import "fmt"

// Scheme is an enumerated redundancy level.
type Scheme string

const (
	SchemeNone           Scheme = "none"
	SchemeMirror         Scheme = "raid1"
	SchemeMirrorChecksum Scheme = "raid1c" // mirror on a checksumming filesystem
	SchemeParitySingle   Scheme = "raid5"
	SchemeParityDual     Scheme = "raid6"
	SchemeStripedMirror  Scheme = "raid10"
	SchemeIndividual     Scheme = "individual"
)

// MdLevel is the level string handed to mdadm --level. Empty for schemes
// that do not assemble an md device.
func (s Scheme) MdLevel() string {
	switch s {
	case SchemeMirror, SchemeMirrorChecksum:
		return "1"
	case SchemeParitySingle:
		return "5"
	case SchemeParityDual:
		return "6"
	case SchemeStripedMirror:
		return "10"
	}
	return ""
}

// Filesystem is the filesystem formatted onto the assembled array.
func (s Scheme) Filesystem() string {
	if s == SchemeMirrorChecksum {
		return "btrfs"
	}
	return "ext4"
}

// MinDevices is the smallest member count the scheme accepts.
func (s Scheme) MinDevices() int {
	switch s {
	case SchemeMirror, SchemeMirrorChecksum:
		return 2
	case SchemeParitySingle:
		return 3
	case SchemeParityDual, SchemeStripedMirror:
		return 4
	}
	return 1
}

// Redundant reports whether the scheme survives at least one member failure.
func (s Scheme) Redundant() bool {
	switch s {
	case SchemeMirror, SchemeMirrorChecksum, SchemeParitySingle, SchemeParityDual, SchemeStripedMirror:
		return true
	}
	return false
}

// FailuresTolerated is the number of simultaneous member failures the scheme
// rides out with n active members. For striped mirrors this is the
// best-placement figure of one failure per mirror leg.
func (s Scheme) FailuresTolerated(n int) int {
	switch s {
	case SchemeMirror, SchemeMirrorChecksum:
		return n - 1
	case SchemeParitySingle:
		return 1
	case SchemeParityDual:
		return 2
	case SchemeStripedMirror:
		return n / 2
	}
	return 0
}

// UsableBytes is the usable capacity with n active members of memberBytes
// each.
func (s Scheme) UsableBytes(n int, memberBytes int64) int64 {
	switch s {
	case SchemeMirror, SchemeMirrorChecksum:
		return memberBytes
	case SchemeParitySingle:
		return int64(n-1) * memberBytes
	case SchemeParityDual:
		return int64(n-2) * memberBytes
	case SchemeStripedMirror:
		return int64(n/2) * memberBytes
	}
	return int64(n) * memberBytes
}

// preference orders schemes for the final deterministic tie-break; higher
// wins.
func (s Scheme) preference() int {
	switch s {
	case SchemeStripedMirror:
		return 6
	case SchemeParityDual:
		return 5
	case SchemeParitySingle:
		return 4
	case SchemeMirror:
		return 3
	case SchemeMirrorChecksum:
		return 2
	case SchemeIndividual:
		return 1
	}
	return 0
}

// InsufficientDevicesError marks a plan whose hardware cannot support any
// redundant scheme. It is informational, not fatal: the "none" plan is a
// valid terminal outcome.
type InsufficientDevicesError struct {
	Devices int
}

func (e *InsufficientDevicesError) Error() string {
	return fmt.Sprintf("%d device(s) present; at least 2 similar-size devices are required for redundancy", e.Devices)
}
