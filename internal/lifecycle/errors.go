package lifecycle

import "fmt"

// UnsafeRemovalError is returned when a teardown targets an array the guard
// classifies as SYSTEM. It is never overridable, force included.
type UnsafeRemovalError struct {
	Array  string
	Reason string
}

func (e *UnsafeRemovalError) Error() string {
	return fmt.Sprintf("refusing to remove system array %s: %s", e.Array, e.Reason)
}

// UnmountFailure halts an array's teardown before any destructive step.
type UnmountFailure struct {
	Array      string
	MountPoint string
	Err        error
}

func (e *UnmountFailure) Error() string {
	return fmt.Sprintf("unmount of %s (array %s) failed: %v; nothing was destroyed, retry with --force or run 'umount %s' manually",
		e.MountPoint, e.Array, e.Err, e.MountPoint)
}

func (e *UnmountFailure) Unwrap() error { return e.Err }

// CreateFailure aborts an array's apply; partially-initialized state is left
// in place for inspection rather than auto-rolled-back.
type CreateFailure struct {
	Array string
	Err   error
}

func (e *CreateFailure) Error() string {
	return fmt.Sprintf("array creation for %s failed: %v; inspect with 'mdadm --detail %s' and 'cat /proc/mdstat'",
		e.Array, e.Err, e.Array)
}

func (e *CreateFailure) Unwrap() error { return e.Err }

// FormatFailure aborts an array's apply after creation; the created array is
// left assembled for inspection.
type FormatFailure struct {
	Array string
	Err   error
}

func (e *FormatFailure) Error() string {
	return fmt.Sprintf("formatting %s failed: %v; the array is assembled but empty, inspect with 'blkid %s'",
		e.Array, e.Err, e.Array)
}

func (e *FormatFailure) Unwrap() error { return e.Err }
