package lifecycle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"raidsmith/internal/bootcfg"
	"raidsmith/internal/execx"
	"raidsmith/internal/guard"
	"raidsmith/internal/inventory"
	"raidsmith/internal/planner"
	"raidsmith/internal/storage"
)

// Array is a materialized array under lifecycle management. Created only by
// Apply, destroyed only by Teardown.
type Array struct {
	Name        string // md0
	Path        string // /dev/md0
	Scheme      planner.Scheme
	Members     []inventory.Device
	Spares      []inventory.Device
	State       State
	MountPoint  string
	StorageName string
}

// Manager applies plans and tears down arrays as a guarded state machine.
// Execution is strictly sequential; hardware steps on the same devices must
// never overlap.
type Manager struct {
	Run           execx.Runner
	Store         storage.Manager
	Boot          *bootcfg.Persister
	Scanner       *inventory.Scanner
	Log           zerolog.Logger
	MountRoot     string // default /mnt
	StoragePrefix string // default raid
	MountsPath    string // default /proc/self/mounts
	DryRun        bool
}

func NewManager(run execx.Runner, store storage.Manager, boot *bootcfg.Persister, scanner *inventory.Scanner, log zerolog.Logger) *Manager {
	return &Manager{
		Run:           run,
		Store:         store,
		Boot:          boot,
		Scanner:       scanner,
		Log:           log,
		MountRoot:     "/mnt",
		StoragePrefix: "raid",
		MountsPath:    "/proc/self/mounts",
	}
}

func (m *Manager) storageName(arrayName string) string {
	return m.StoragePrefix + "-" + arrayName
}

func (m *Manager) mountPoint(arrayName string) string {
	return filepath.Join(m.MountRoot, m.storageName(arrayName))
}

func (m *Manager) transition(arr *Array, to State) error {
	next, err := arr.State.Advance(to)
	if err != nil {
		return err
	}
	m.Log.Info().
		Str("array", arr.Name).
		Str("from", arr.State.String()).
		Str("to", next.String()).
		Msg("lifecycle transition")
	arr.State = next
	return nil
}

// Apply materializes every array in the plan: create, format, mount,
// register. Each step checks current hardware state first, so re-running
// Apply on an already-registered array is a no-op success.
func (m *Manager) Apply(ctx context.Context, plan *planner.RaidPlan) ([]*Array, error) {
	existing, err := m.Scanner.ListArrays(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list existing arrays")
	}

	var applied []*Array
	taken := map[string]bool{}
	for _, d := range existing {
		taken[d.Name] = true
	}

	for _, spec := range plan.Arrays {
		arr := &Array{
			Scheme:  spec.Scheme,
			Members: spec.Members,
			Spares:  spec.Spares,
			State:   StatePlanned,
		}
		if found := findByMembers(existing, spec); found != nil {
			arr.Name = found.Name
		} else {
			arr.Name = nextName(taken)
		}
		taken[arr.Name] = true
		arr.Path = "/dev/" + arr.Name
		arr.MountPoint = m.mountPoint(arr.Name)
		arr.StorageName = m.storageName(arr.Name)

		if err := m.ensureCreated(ctx, arr, spec, existing); err != nil {
			return applied, err
		}
		if err := m.ensureFormatted(ctx, arr, spec); err != nil {
			return applied, err
		}
		if err := m.ensureMounted(ctx, arr); err != nil {
			return applied, err
		}
		if err := m.ensureRegistered(ctx, arr); err != nil {
			return applied, err
		}
		applied = append(applied, arr)
	}

	if len(applied) > 0 && !m.DryRun {
		m.persistTopology(ctx)
	}
	return applied, nil
}

func findByMembers(existing []inventory.ArrayDescriptor, spec planner.ArraySpec) *inventory.ArrayDescriptor {
	want := map[string]bool{}
	for _, d := range spec.Members {
		want[d.Path] = true
	}
	for _, d := range spec.Spares {
		want[d.Path] = true
	}
	for i, desc := range existing {
		if len(desc.Members) != len(want) {
			continue
		}
		all := true
		for _, mem := range desc.Members {
			if !want[mem.Device] {
				all = false
				break
			}
		}
		if all {
			return &existing[i]
		}
	}
	return nil
}

func nextName(taken map[string]bool) string {
	for i := 0; ; i++ {
		name := fmt.Sprintf("md%d", i)
		if !taken[name] {
			return name
		}
	}
}

func (m *Manager) ensureCreated(ctx context.Context, arr *Array, spec planner.ArraySpec, existing []inventory.ArrayDescriptor) error {
	if findByMembers(existing, spec) != nil {
		m.Log.Info().Str("array", arr.Name).Msg("array already assembled; create skipped")
		return m.transition(arr, StateCreated)
	}
	if m.DryRun {
		m.Log.Info().Str("array", arr.Name).Str("level", spec.Scheme.MdLevel()).Msg("dry-run: would create array")
		return m.transition(arr, StateCreated)
	}

	for _, d := range append(append([]inventory.Device{}, spec.Members...), spec.Spares...) {
		if out, err := m.Run.Combined(ctx, 30*time.Second, "wipefs", "-a", d.Path); err != nil {
			m.Log.Warn().Str("device", d.Path).Str("output", strings.TrimSpace(out)).Err(err).Msg("pre-create signature wipe failed")
		}
	}

	args := []string{
		"--create", arr.Path,
		"--level", spec.Scheme.MdLevel(),
		"--raid-devices", fmt.Sprintf("%d", len(spec.Members)),
		"--metadata", "1.2",
		"--run", "--force",
	}
	if len(spec.Spares) > 0 {
		args = append(args, "--spare-devices", fmt.Sprintf("%d", len(spec.Spares)))
	}
	for _, d := range spec.Members {
		args = append(args, d.Path)
	}
	for _, d := range spec.Spares {
		args = append(args, d.Path)
	}

	execx.Settle(ctx, m.Run)
	out, err := m.Run.Combined(ctx, 3*time.Minute, "mdadm", args...)
	if err != nil {
		// Device events can be racy right after wiping; settle and retry once.
		execx.Settle(ctx, m.Run)
		out2, err2 := m.Run.Combined(ctx, 3*time.Minute, "mdadm", args...)
		if err2 != nil {
			return &CreateFailure{Array: arr.Path, Err: errors.Wrap(err2, strings.TrimSpace(out+"\n"+out2))}
		}
	}
	execx.Settle(ctx, m.Run)

	// Wait for the kernel to commit the new array to mdstat.
	if err := m.waitAssembled(ctx, arr.Name); err != nil {
		return &CreateFailure{Array: arr.Path, Err: err}
	}
	return m.transition(arr, StateCreated)
}

func (m *Manager) waitAssembled(ctx context.Context, name string) error {
	for attempt := 0; attempt < 10; attempt++ {
		arrays, err := m.Scanner.ListArrays(ctx)
		if err != nil {
			return err
		}
		for _, d := range arrays {
			if d.Name == name {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return errors.Errorf("%s did not appear in /proc/mdstat", name)
}

func (m *Manager) ensureFormatted(ctx context.Context, arr *Array, spec planner.ArraySpec) error {
	out, _ := m.Run.Combined(ctx, 30*time.Second, "blkid", "-o", "value", "-s", "TYPE", arr.Path)
	if strings.TrimSpace(out) != "" {
		m.Log.Info().Str("array", arr.Name).Str("fstype", strings.TrimSpace(out)).Msg("filesystem present; format skipped")
		return m.transition(arr, StateFormatted)
	}
	if m.DryRun {
		m.Log.Info().Str("array", arr.Name).Str("fs", spec.Filesystem).Msg("dry-run: would format")
		return m.transition(arr, StateFormatted)
	}

	var mkfs []string
	switch spec.Filesystem {
	case "btrfs":
		mkfs = []string{"mkfs.btrfs", "-f", "-L", arr.StorageName, arr.Path}
	default:
		mkfs = []string{"mkfs.ext4", "-F", "-m", "0", "-L", arr.StorageName, arr.Path}
	}
	if out, err := m.Run.Combined(ctx, 10*time.Minute, mkfs[0], mkfs[1:]...); err != nil {
		return &FormatFailure{Array: arr.Path, Err: errors.Wrap(err, strings.TrimSpace(out))}
	}
	return m.transition(arr, StateFormatted)
}

func (m *Manager) mounts() *guard.MountSnapshot {
	b, err := os.ReadFile(m.MountsPath)
	if err != nil {
		return &guard.MountSnapshot{}
	}
	return guard.ParseMounts(string(b))
}

func (m *Manager) ensureMounted(ctx context.Context, arr *Array) error {
	for _, e := range m.mounts().MountsOf(arr.Path) {
		m.Log.Info().Str("array", arr.Name).Str("mountpoint", e.MountPoint).Msg("already mounted; mount skipped")
		arr.MountPoint = e.MountPoint
		return m.transition(arr, StateMounted)
	}
	if m.DryRun {
		m.Log.Info().Str("array", arr.Name).Str("mountpoint", arr.MountPoint).Msg("dry-run: would mount")
		return m.transition(arr, StateMounted)
	}
	if err := os.MkdirAll(arr.MountPoint, 0o755); err != nil {
		return errors.Wrapf(err, "create mount point %s", arr.MountPoint)
	}
	if out, err := m.Run.Combined(ctx, 60*time.Second, "mount", arr.Path, arr.MountPoint); err != nil {
		return errors.Wrapf(err, "mount %s at %s: %s", arr.Path, arr.MountPoint, strings.TrimSpace(out))
	}
	return m.transition(arr, StateMounted)
}

func (m *Manager) ensureRegistered(ctx context.Context, arr *Array) error {
	ok, err := m.Store.Registered(ctx, arr.StorageName)
	if err != nil {
		m.Log.Warn().Err(err).Str("storage", arr.StorageName).Msg("storage manager query failed")
	}
	if ok {
		m.Log.Info().Str("storage", arr.StorageName).Msg("already registered; registration skipped")
		return m.transition(arr, StateRegistered)
	}
	if m.DryRun {
		m.Log.Info().Str("storage", arr.StorageName).Msg("dry-run: would register")
		return m.transition(arr, StateRegistered)
	}
	if err := m.Store.Register(ctx, arr.StorageName, arr.MountPoint); err != nil {
		// Registration is best-effort; the array is usable without it.
		m.Log.Warn().Err(err).Str("storage", arr.StorageName).Msg("storage registration failed")
		return nil
	}
	return m.transition(arr, StateRegistered)
}

// Teardown removes one array: unmount, deregister, stop, wipe. The guard
// verdict is taken against the session snapshot and is never overridable.
func (m *Manager) Teardown(ctx context.Context, desc inventory.ArrayDescriptor, snap *guard.MountSnapshot, force bool) error {
	if sys, reason := guard.IsSystemArray(desc, snap); sys {
		m.Log.Error().Str("array", desc.Name).Str("reason", reason).Msg("guard verdict: SYSTEM")
		return &UnsafeRemovalError{Array: desc.Path, Reason: reason}
	}
	m.Log.Info().Str("array", desc.Name).Msg("guard verdict: DATA")

	arr := &Array{
		Name:        desc.Name,
		Path:        desc.Path,
		State:       StateRegistered,
		StorageName: m.storageName(desc.Name),
	}
	if err := m.transition(arr, StateUnmounting); err != nil {
		return err
	}

	for _, e := range snap.MountsOf(desc.Path) {
		if err := m.unmount(ctx, desc, e, force); err != nil {
			return err
		}
	}

	if m.DryRun {
		m.Log.Info().Str("array", desc.Name).Str("storage", arr.StorageName).Msg("dry-run: would deregister storage, stop the array, and wipe member signatures")
		return nil
	}

	if err := m.Store.Deregister(ctx, arr.StorageName); err != nil {
		// Best-effort cleanup; never blocks the teardown.
		m.Log.Warn().Err(err).Str("storage", arr.StorageName).Msg("storage deregistration failed")
	}

	if out, err := m.Run.Combined(ctx, 60*time.Second, "mdadm", "--stop", desc.Path); err != nil {
		return errors.Wrapf(err, "stop %s: %s", desc.Path, strings.TrimSpace(out))
	}
	if err := m.transition(arr, StateStopped); err != nil {
		return err
	}

	// Past the irreversible boundary: individual wipe failures are warnings,
	// a partially wiped array is already non-reassemblable.
	for _, mem := range desc.Members {
		if out, err := m.Run.Combined(ctx, 30*time.Second, "wipefs", "-a", mem.Device); err != nil {
			m.Log.Warn().Str("device", mem.Device).Str("output", strings.TrimSpace(out)).Err(err).Msg("superblock wipe failed; continuing")
		}
	}
	return m.transition(arr, StateWiped)
}

func (m *Manager) unmount(ctx context.Context, desc inventory.ArrayDescriptor, e guard.MountEntry, force bool) error {
	if m.DryRun {
		m.Log.Info().Str("array", desc.Name).Str("mountpoint", e.MountPoint).Msg("dry-run: would unmount")
		return nil
	}
	out, err := m.Run.Combined(ctx, 60*time.Second, "umount", e.MountPoint)
	if err == nil {
		m.Log.Info().Str("array", desc.Name).Str("mountpoint", e.MountPoint).Msg("unmounted")
		return nil
	}
	if !force {
		return &UnmountFailure{Array: desc.Path, MountPoint: e.MountPoint, Err: errors.Wrap(err, strings.TrimSpace(out))}
	}
	m.Log.Warn().Str("mountpoint", e.MountPoint).Err(err).Msg("unmount failed; retrying forcefully")
	out, err = m.Run.Combined(ctx, 60*time.Second, "umount", "-l", e.MountPoint)
	if err != nil {
		return &UnmountFailure{Array: desc.Path, MountPoint: e.MountPoint, Err: errors.Wrap(err, strings.TrimSpace(out))}
	}
	return nil
}

// TeardownBatch removes the given arrays sequentially against one shared
// mount snapshot. The overall result fails only when every item failed.
func (m *Manager) TeardownBatch(ctx context.Context, descs []inventory.ArrayDescriptor, snap *guard.MountSnapshot, force bool) error {
	if len(descs) == 0 {
		return nil
	}
	succeeded := 0
	var firstErr error
	for _, desc := range descs {
		if err := m.Teardown(ctx, desc, snap, force); err != nil {
			m.Log.Error().Str("array", desc.Name).Err(err).Msg("teardown failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		succeeded++
	}

	if succeeded > 0 && !m.DryRun {
		m.persistTopology(ctx)
	}
	if succeeded == 0 {
		return errors.Wrap(firstErr, "all removals failed")
	}
	return nil
}

// persistTopology refreshes mdadm.conf and the boot image after a
// structural change. Failures are warnings; the change itself already took
// effect.
func (m *Manager) persistTopology(ctx context.Context) {
	if err := m.Boot.PersistArrays(ctx); err != nil {
		m.Log.Warn().Err(err).Msg("persisting array topology failed")
	}
	if err := m.Boot.RegenerateBootImage(ctx); err != nil {
		m.Log.Warn().Err(err).Msg("boot image regeneration failed")
	}
}
