// Package app ties discovery, planning, and the lifecycle manager into the
// operator-facing actions. Every action renders what it is about to do and,
// for mutating actions, asks for confirmation before touching hardware.
package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"raidsmith/internal/grouping"
	"raidsmith/internal/guard"
	"raidsmith/internal/inventory"
	"raidsmith/internal/lifecycle"
	"raidsmith/internal/monitor"
	"raidsmith/internal/planner"
	"raidsmith/internal/report"
)

// Confirmer gates hardware mutation on an explicit operator decision.
type Confirmer interface {
	Confirm(prompt string) (bool, error)
}

// StdinConfirmer accepts only a literal "yes".
type StdinConfirmer struct {
	In  io.Reader
	Out io.Writer
}

func (c *StdinConfirmer) Confirm(prompt string) (bool, error) {
	fmt.Fprintf(c.Out, "%s [yes/NO]: ", prompt)
	line, err := bufio.NewReader(c.In).ReadString('\n')
	if err != nil && line == "" {
		return false, errors.Wrap(err, "read confirmation")
	}
	return strings.TrimSpace(line) == "yes", nil
}

// AutoConfirmer answers yes unconditionally, for --yes runs.
type AutoConfirmer struct{}

func (AutoConfirmer) Confirm(string) (bool, error) { return true, nil }

type App struct {
	Scanner    *inventory.Scanner
	Manager    *lifecycle.Manager
	Monitor    *monitor.Monitor
	Confirm    Confirmer
	Log        zerolog.Logger
	Out        io.Writer
	MountsPath string // default /proc/self/mounts
}

// PrepareOptions shape one prepare-drives run.
type PrepareOptions struct {
	Drives    []string // explicit device paths; empty means every eligible disk
	PlanID    string   // pick a specific plan instead of the recommendation
	Tolerance float64  // size grouping tolerance, percent
}

func (a *App) mountsPath() string {
	if a.MountsPath == "" {
		return "/proc/self/mounts"
	}
	return a.MountsPath
}

func (a *App) snapshot() (*guard.MountSnapshot, error) {
	b, err := os.ReadFile(a.mountsPath())
	if err != nil {
		return nil, errors.Wrap(err, "read mount table")
	}
	return guard.ParseMounts(string(b)), nil
}

// PrepareDrives scans eligible disks, plans, previews, and on confirmation
// applies the chosen plan.
func (a *App) PrepareDrives(ctx context.Context, opts PrepareOptions) error {
	devices, err := a.eligibleDevices(ctx, opts.Drives)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Fprintln(a.Out, "No eligible drives found.")
		return nil
	}

	groups := grouping.Group(devices, opts.Tolerance)
	for _, g := range groups {
		a.Log.Info().Str("group", g.Label).Int("devices", len(g.Devices)).Msg("size group formed")
	}
	rec := planner.Recommend(planner.Plan(groups))
	report.WritePlan(a.Out, groups, rec)
	if rec == nil {
		return nil
	}
	a.Log.Info().Str("plan", rec.ID).Str("rationale", rec.Rationale).Msg("recommendation")

	chosen, ok := planner.Select(rec, opts.PlanID)
	if !ok {
		return errors.Errorf("no plan named %q; see the alternatives above", opts.PlanID)
	}
	if len(chosen.Arrays) == 0 {
		fmt.Fprintln(a.Out, "Nothing to apply: the chosen plan creates no arrays.")
		return nil
	}
	if opts.PlanID != "" && chosen.ID != rec.ID {
		fmt.Fprintf(a.Out, "\nApplying %s instead of the recommendation.\n", chosen.ID)
	}

	verb := "Create"
	if a.Manager.DryRun {
		verb = "Dry-run: walk through creating"
	}
	ok, err = a.Confirm.Confirm(fmt.Sprintf("%s %d array(s) per plan %s?", verb, len(chosen.Arrays), chosen.ID))
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(a.Out, "Aborted; no changes made.")
		return nil
	}

	applied, err := a.Manager.Apply(ctx, chosen)
	for _, arr := range applied {
		fmt.Fprintf(a.Out, "%s: %s, mounted at %s, storage %s\n",
			arr.Path, arr.State, arr.MountPoint, arr.StorageName)
	}
	return err
}

// eligibleDevices drops disks already holding mounts or array membership,
// then applies the operator's explicit selection when one was given.
func (a *App) eligibleDevices(ctx context.Context, selected []string) ([]inventory.Device, error) {
	devices, err := a.Scanner.Scan(ctx)
	if err != nil {
		return nil, err
	}
	snap, err := a.snapshot()
	if err != nil {
		return nil, err
	}
	arrays, err := a.Scanner.ListArrays(ctx)
	if err != nil {
		return nil, err
	}
	inUse := map[string]bool{}
	for _, e := range snap.Entries {
		inUse[guard.ParentDisk(e.Source)] = true
	}
	for _, arr := range arrays {
		for _, m := range arr.Members {
			inUse[guard.ParentDisk(m.Device)] = true
		}
	}

	want := map[string]bool{}
	for _, p := range selected {
		want[p] = true
	}

	var out []inventory.Device
	for _, d := range devices {
		if inUse[d.Path] {
			a.Log.Debug().Str("device", d.Path).Msg("in use; excluded from planning")
			continue
		}
		if len(want) > 0 && !want[d.Path] {
			continue
		}
		out = append(out, d)
		delete(want, d.Path)
	}
	if len(want) > 0 {
		missing := make([]string, 0, len(want))
		for p := range want {
			missing = append(missing, p)
		}
		return nil, errors.Errorf("requested drives not eligible or not present: %s", strings.Join(missing, " "))
	}
	return out, nil
}

// Status renders assembled arrays with their SYSTEM/DATA classification.
func (a *App) Status(ctx context.Context) error {
	arrays, err := a.Scanner.ListArrays(ctx)
	if err != nil {
		return err
	}
	snap, err := a.snapshot()
	if err != nil {
		return err
	}
	report.WriteStatus(a.Out, arrays, snap)
	return nil
}

// RemoveData tears down every non-system array after preview and
// confirmation. System arrays are listed as kept, never offered.
func (a *App) RemoveData(ctx context.Context, force bool) error {
	arrays, err := a.Scanner.ListArrays(ctx)
	if err != nil {
		return err
	}
	snap, err := a.snapshot()
	if err != nil {
		return err
	}

	var removable []inventory.ArrayDescriptor
	for _, arr := range arrays {
		if sys, reason := guard.IsSystemArray(arr, snap); sys {
			fmt.Fprintf(a.Out, "keeping %s: %s\n", arr.Path, reason)
			continue
		}
		removable = append(removable, arr)
	}
	if len(removable) == 0 {
		fmt.Fprintln(a.Out, "No data arrays to remove.")
		return nil
	}

	paths := make([]string, 0, len(removable))
	for _, arr := range removable {
		paths = append(paths, arr.Path)
	}
	verb := "Destroy"
	if a.Manager.DryRun {
		verb = "Dry-run: walk through destroying"
	}
	ok, err := a.Confirm.Confirm(fmt.Sprintf("%s %s and wipe member superblocks?", verb, strings.Join(paths, " ")))
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(a.Out, "Aborted; no changes made.")
		return nil
	}
	return a.Manager.TeardownBatch(ctx, removable, snap, force)
}

// MonitorRun starts the health sweep loop, or a single sweep with once.
func (a *App) MonitorRun(ctx context.Context, schedule string, once bool) error {
	return a.Monitor.Start(ctx, schedule, once)
}
