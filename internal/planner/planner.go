package planner

import (
	"fmt"
	"sort"
	"strings"

	"raidsmith/internal/grouping"
	"raidsmith/internal/inventory"
)

// ArraySpec is one concrete array inside a plan: a scheme bound to member
// devices. Pure data; nothing here touches hardware.
type ArraySpec struct {
	Scheme      Scheme
	GroupLabel  string
	Members     []inventory.Device
	Spares      []inventory.Device
	UsableBytes int64
	Filesystem  string
}

// RaidPlan is a concrete proposal. A plan never mutates hardware; it is
// handed to the lifecycle manager for that.
type RaidPlan struct {
	ID           string
	Arrays       []ArraySpec
	Unprotected  []inventory.Device
	Rationale    string
	Alternatives []*RaidPlan

	// Insufficient is set on the "no-raid" plan when the hardware cannot
	// support any redundant scheme. Informational, not fatal.
	Insufficient *InsufficientDevicesError
}

// ProtectedBytes is the total raw capacity of devices attached to a
// redundant array (members and spares).
func (p *RaidPlan) ProtectedBytes() int64 {
	var total int64
	for _, a := range p.Arrays {
		if !a.Scheme.Redundant() {
			continue
		}
		for _, d := range a.Members {
			total += d.SizeBytes
		}
		for _, d := range a.Spares {
			total += d.SizeBytes
		}
	}
	return total
}

// FailuresTolerated is the number of simultaneous device failures the plan
// is guaranteed to ride out: the weakest redundant array bounds the batch.
func (p *RaidPlan) FailuresTolerated() int {
	tolerated := 0
	first := true
	for _, a := range p.Arrays {
		if !a.Scheme.Redundant() {
			continue
		}
		t := a.Scheme.FailuresTolerated(len(a.Members))
		if first || t < tolerated {
			tolerated = t
			first = false
		}
	}
	if first {
		return 0
	}
	return tolerated
}

// UsableBytes is the summed usable capacity of the plan's arrays.
func (p *RaidPlan) UsableBytes() int64 {
	var total int64
	for _, a := range p.Arrays {
		total += a.UsableBytes
	}
	return total
}

func (p *RaidPlan) deviceCount() int {
	n := 0
	for _, a := range p.Arrays {
		if a.Scheme.Redundant() {
			n += len(a.Members) + len(a.Spares)
		}
	}
	return n
}

func (p *RaidPlan) maxPreference() int {
	pref := 0
	for _, a := range p.Arrays {
		if v := a.Scheme.preference(); v > pref {
			pref = v
		}
	}
	return pref
}

// Plan enumerates every feasible plan for the scanned groups: per-group
// scheme plans plus, with multiple groups, a composite covering all of them.
func Plan(groups []grouping.DeviceGroup) []*RaidPlan {
	all := allDevices(groups)

	var plans []*RaidPlan
	for _, g := range groups {
		plans = append(plans, groupPlans(g, all)...)
	}
	switch {
	case len(groups) == 2:
		plans = append(plans, dualMirror(groups, all))
	case len(groups) >= 3:
		plans = append(plans, mixedOptimal(groups, all))
	}
	if len(plans) == 0 {
		plans = append(plans, noRaidPlan(all))
	}
	return plans
}

func allDevices(groups []grouping.DeviceGroup) []inventory.Device {
	var out []inventory.Device
	for _, g := range groups {
		out = append(out, g.Devices...)
	}
	return out
}

// groupPlans applies the per-group enumeration rule for a group of size n.
func groupPlans(g grouping.DeviceGroup, all []inventory.Device) []*RaidPlan {
	n := len(g.Devices)
	switch {
	case n == 1:
		// Singleton groups cannot host a scheme of their own; with no other
		// feasible plan the planner falls back to the no-raid plan.
		return nil
	case n == 2:
		return []*RaidPlan{
			schemePlan(SchemeMirror, g, g.Devices, nil, all),
			schemePlan(SchemeMirrorChecksum, g, g.Devices, nil, all),
		}
	case n == 3:
		return []*RaidPlan{
			schemePlan(SchemeMirror, g, g.Devices[:2], g.Devices[2:], all),
			schemePlan(SchemeParitySingle, g, g.Devices, nil, all),
		}
	default:
		plans := []*RaidPlan{
			schemePlan(SchemeParitySingle, g, g.Devices, nil, all),
			schemePlan(SchemeParityDual, g, g.Devices, nil, all),
		}
		if n%2 == 0 {
			plans = append(plans, schemePlan(SchemeStripedMirror, g, g.Devices, nil, all))
		}
		plans = append(plans, individualPlan(g, all))
		return plans
	}
}

func schemePlan(s Scheme, g grouping.DeviceGroup, members, spares []inventory.Device, all []inventory.Device) *RaidPlan {
	spec := ArraySpec{
		Scheme:      s,
		GroupLabel:  g.Label,
		Members:     members,
		Spares:      spares,
		UsableBytes: s.UsableBytes(len(members), minBytes(members)),
		Filesystem:  s.Filesystem(),
	}
	p := &RaidPlan{
		ID:     fmt.Sprintf("%s-%s", s, g.Label),
		Arrays: []ArraySpec{spec},
	}
	p.Unprotected = remaining(all, p.Arrays)
	return p
}

func individualPlan(g grouping.DeviceGroup, all []inventory.Device) *RaidPlan {
	p := &RaidPlan{ID: fmt.Sprintf("individual-%s", g.Label)}
	p.Unprotected = all
	return p
}

func noRaidPlan(all []inventory.Device) *RaidPlan {
	return &RaidPlan{
		ID:           "no-raid",
		Unprotected:  all,
		Insufficient: &InsufficientDevicesError{Devices: len(all)},
	}
}

// dualMirror proposes one independent mirror per group when exactly two
// groups exist. Group members beyond the mirror pair ride along as spares.
func dualMirror(groups []grouping.DeviceGroup, all []inventory.Device) *RaidPlan {
	p := &RaidPlan{ID: "dual-mirror"}
	for _, g := range groups {
		if len(g.Devices) < 2 {
			continue
		}
		p.Arrays = append(p.Arrays, ArraySpec{
			Scheme:      SchemeMirror,
			GroupLabel:  g.Label,
			Members:     g.Devices[:2],
			Spares:      g.Devices[2:],
			UsableBytes: SchemeMirror.UsableBytes(2, minBytes(g.Devices[:2])),
			Filesystem:  SchemeMirror.Filesystem(),
		})
	}
	p.Unprotected = remaining(all, p.Arrays)
	return p
}

// mixedOptimal covers three or more groups: the largest group gets
// parity-dual when it has four members, a mirror otherwise; every other
// group of two or more gets its own mirror; singletons stay individual.
func mixedOptimal(groups []grouping.DeviceGroup, all []inventory.Device) *RaidPlan {
	p := &RaidPlan{ID: "mixed-optimal"}

	largest := 0
	for i, g := range groups {
		if len(g.Devices) > len(groups[largest].Devices) {
			largest = i
		}
	}
	for i, g := range groups {
		n := len(g.Devices)
		if n < 2 {
			continue
		}
		if i == largest && n >= 4 {
			p.Arrays = append(p.Arrays, ArraySpec{
				Scheme:      SchemeParityDual,
				GroupLabel:  g.Label,
				Members:     g.Devices,
				UsableBytes: SchemeParityDual.UsableBytes(n, minBytes(g.Devices)),
				Filesystem:  SchemeParityDual.Filesystem(),
			})
			continue
		}
		p.Arrays = append(p.Arrays, ArraySpec{
			Scheme:      SchemeMirror,
			GroupLabel:  g.Label,
			Members:     g.Devices[:2],
			Spares:      g.Devices[2:],
			UsableBytes: SchemeMirror.UsableBytes(2, minBytes(g.Devices[:2])),
			Filesystem:  SchemeMirror.Filesystem(),
		})
	}
	p.Unprotected = remaining(all, p.Arrays)
	return p
}

// Recommend selects one plan with the deterministic scoring policy: most
// protected raw capacity, then most tolerated simultaneous failures, then
// fewest devices, then fixed scheme preference. The selected plan carries a
// rationale naming the deciding factor and retains every other feasible plan
// as an alternative.
func Recommend(plans []*RaidPlan) *RaidPlan {
	if len(plans) == 0 {
		return nil
	}
	ranked := make([]*RaidPlan, len(plans))
	copy(ranked, plans)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.ProtectedBytes() != b.ProtectedBytes() {
			return a.ProtectedBytes() > b.ProtectedBytes()
		}
		if a.FailuresTolerated() != b.FailuresTolerated() {
			return a.FailuresTolerated() > b.FailuresTolerated()
		}
		if a.deviceCount() != b.deviceCount() {
			return a.deviceCount() < b.deviceCount()
		}
		if a.maxPreference() != b.maxPreference() {
			return a.maxPreference() > b.maxPreference()
		}
		return a.ID < b.ID
	})

	winner := ranked[0]
	winner.Alternatives = ranked[1:]
	winner.Rationale = rationale(winner, ranked[1:])
	return winner
}

func rationale(winner *RaidPlan, rest []*RaidPlan) string {
	if winner.Insufficient != nil {
		return winner.Insufficient.Error()
	}
	if len(rest) == 0 {
		return "only feasible configuration"
	}
	runner := rest[0]
	switch {
	case winner.ProtectedBytes() > runner.ProtectedBytes():
		return fmt.Sprintf("protects the most raw capacity (%s vs %s for %s)",
			grouping.SizeLabel(winner.ProtectedBytes()), grouping.SizeLabel(runner.ProtectedBytes()), runner.ID)
	case winner.FailuresTolerated() > runner.FailuresTolerated():
		return fmt.Sprintf("highest tolerated simultaneous failures (%d vs %d for %s) at equal protected capacity",
			winner.FailuresTolerated(), runner.FailuresTolerated(), runner.ID)
	case winner.deviceCount() < runner.deviceCount():
		return fmt.Sprintf("simpler topology (%d devices vs %d for %s) at equal protection",
			winner.deviceCount(), runner.deviceCount(), runner.ID)
	default:
		return fmt.Sprintf("tolerates %d simultaneous device failures at equal protected capacity; %s preferred over %s on scheme order",
			winner.FailuresTolerated(), schemeSummary(winner), runner.ID)
	}
}

func schemeSummary(p *RaidPlan) string {
	var parts []string
	for _, a := range p.Arrays {
		parts = append(parts, string(a.Scheme))
	}
	if len(parts) == 0 {
		return string(SchemeNone)
	}
	return strings.Join(parts, "+")
}

// Select returns the plan with the given identifier from a recommendation
// and its alternatives.
func Select(recommended *RaidPlan, id string) (*RaidPlan, bool) {
	if recommended == nil {
		return nil, false
	}
	if id == "" || recommended.ID == id {
		return recommended, true
	}
	for _, alt := range recommended.Alternatives {
		if alt.ID == id {
			return alt, true
		}
	}
	return nil, false
}

func minBytes(devices []inventory.Device) int64 {
	var m int64
	for i, d := range devices {
		if i == 0 || d.SizeBytes < m {
			m = d.SizeBytes
		}
	}
	return m
}

func remaining(all []inventory.Device, arrays []ArraySpec) []inventory.Device {
	used := map[string]bool{}
	for _, a := range arrays {
		for _, d := range a.Members {
			used[d.Path] = true
		}
		for _, d := range a.Spares {
			used[d.Path] = true
		}
	}
	var out []inventory.Device
	for _, d := range all {
		if !used[d.Path] {
			out = append(out, d)
		}
	}
	return out
}
