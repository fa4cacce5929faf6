// Package report renders plans and array status as human-reviewable
// previews. Everything here is a pure function of its inputs; the same
// rendering serves dry-run and live runs.
package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"raidsmith/internal/grouping"
	"raidsmith/internal/guard"
	"raidsmith/internal/inventory"
	"raidsmith/internal/planner"
)

func tabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 1, 2, ' ', 0)
}

func size(b int64) string {
	if b < 0 {
		b = 0
	}
	return humanize.Bytes(uint64(b))
}

func deviceType(d inventory.Device) string {
	if d.Rotational {
		return "hdd"
	}
	return "ssd"
}

// WritePlan renders the grouped device table, the recommendation with its
// rationale, and every alternative.
func WritePlan(w io.Writer, groups []grouping.DeviceGroup, rec *planner.RaidPlan) {
	tw := tabWriter(w)
	fmt.Fprintln(tw, "[Devices]")
	fmt.Fprintln(tw, "Group\tDevice\tSize\tType\tModel\tSerial")
	for _, g := range groups {
		for _, d := range g.Devices {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				g.Label, d.Path, size(d.SizeBytes), deviceType(d), d.Model, d.Serial)
		}
	}
	fmt.Fprintln(tw)
	tw.Flush()

	if rec == nil {
		fmt.Fprintln(w, "No plan.")
		return
	}

	fmt.Fprintf(w, "[Recommendation] %s\n", rec.ID)
	writePlanBody(w, rec, "  ")
	fmt.Fprintf(w, "  rationale: %s\n", rec.Rationale)
	if rec.Insufficient != nil {
		fmt.Fprintf(w, "  note: %s\n", rec.Insufficient.Error())
	}

	if len(rec.Alternatives) > 0 {
		fmt.Fprintln(w)
		tw = tabWriter(w)
		fmt.Fprintln(tw, "[Alternatives]")
		fmt.Fprintln(tw, "Plan\tUsable\tProtected\tTolerates\tDevices")
		for _, alt := range rec.Alternatives {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n",
				alt.ID, size(alt.UsableBytes()), size(alt.ProtectedBytes()),
				alt.FailuresTolerated(), len(alt.Arrays))
		}
		tw.Flush()
	}
}

func writePlanBody(w io.Writer, p *planner.RaidPlan, indent string) {
	for _, a := range p.Arrays {
		members := make([]string, 0, len(a.Members))
		for _, d := range a.Members {
			members = append(members, d.Path)
		}
		line := fmt.Sprintf("%s%s on %s (%s group) -> %s usable, %s",
			indent, a.Scheme, strings.Join(members, " "), a.GroupLabel,
			size(a.UsableBytes), a.Filesystem)
		if len(a.Spares) > 0 {
			spares := make([]string, 0, len(a.Spares))
			for _, d := range a.Spares {
				spares = append(spares, d.Path)
			}
			line += fmt.Sprintf(", spare %s", strings.Join(spares, " "))
		}
		fmt.Fprintln(w, line)
	}
	if len(p.Unprotected) > 0 {
		paths := make([]string, 0, len(p.Unprotected))
		for _, d := range p.Unprotected {
			paths = append(paths, d.Path)
		}
		fmt.Fprintf(w, "%sunprotected: %s\n", indent, strings.Join(paths, " "))
	}
}

// WriteStatus renders existing arrays with their SYSTEM/DATA classification
// against the given mount snapshot.
func WriteStatus(w io.Writer, arrays []inventory.ArrayDescriptor, snap *guard.MountSnapshot) {
	if len(arrays) == 0 {
		fmt.Fprintln(w, "No software RAID arrays assembled.")
		return
	}
	tw := tabWriter(w)
	fmt.Fprintln(tw, "Array\tLevel\tClass\tMembers\tMounts")
	for _, a := range arrays {
		members := make([]string, 0, len(a.Members))
		for _, m := range a.Members {
			members = append(members, strings.TrimPrefix(m.Device, "/dev/"))
		}
		var mounts []string
		for _, e := range snap.MountsOf(a.Path) {
			mounts = append(mounts, e.MountPoint)
		}
		class := "DATA"
		if sys, _ := guard.IsSystemArray(a, snap); sys {
			class = "SYSTEM"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			a.Path, a.Level, class, strings.Join(members, " "), strings.Join(mounts, " "))
	}
	tw.Flush()
}
