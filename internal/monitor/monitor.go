// Package monitor runs periodic health sweeps over assembled arrays and
// their member devices: degraded md state from the kernel report and SMART
// verdicts from smartctl.
package monitor

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	cron "github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"raidsmith/internal/execx"
	"raidsmith/internal/inventory"
)

type Monitor struct {
	Run          execx.Runner
	Scanner      *inventory.Scanner
	Log          zerolog.Logger
	SmartTimeout time.Duration
}

func New(r execx.Runner, scanner *inventory.Scanner, log zerolog.Logger) *Monitor {
	return &Monitor{Run: r, Scanner: scanner, Log: log, SmartTimeout: 60 * time.Second}
}

// Start parses a 5-field cron expression and sweeps on every tick until the
// context is done. With once set, a single sweep runs immediately instead.
func (m *Monitor) Start(ctx context.Context, schedule string, once bool) error {
	if once {
		return m.Sweep(ctx)
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(strings.TrimSpace(schedule))
	if err != nil {
		return errors.Wrapf(err, "invalid schedule %q", schedule)
	}
	for {
		next := sched.Next(time.Now())
		m.Log.Info().Time("next", next).Msg("health sweep scheduled")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Until(next)):
		}
		if err := m.Sweep(ctx); err != nil {
			m.Log.Warn().Err(err).Msg("health sweep failed")
		}
	}
}

// Sweep inspects the live md state and probes SMART on every whole disk.
func (m *Monitor) Sweep(ctx context.Context) error {
	path := m.Scanner.MdstatPath
	if path == "" {
		path = "/proc/mdstat"
	}
	if b, err := os.ReadFile(path); err == nil {
		for _, name := range DegradedArrays(string(b)) {
			m.Log.Warn().Str("array", name).Msg("array is degraded")
		}
	} else if !os.IsNotExist(err) {
		return errors.Wrap(err, "read mdstat")
	}

	if !m.Run.Look("smartctl") {
		m.Log.Info().Msg("smartctl not found; SMART probing skipped")
		return nil
	}
	devices, err := m.Scanner.Scan(ctx)
	if err != nil {
		return err
	}
	for _, d := range devices {
		passed, err := m.probeSmart(ctx, d.Path)
		if err != nil {
			m.Log.Warn().Str("device", d.Path).Err(err).Msg("SMART probe failed")
			continue
		}
		evt := m.Log.Info()
		if !passed {
			evt = m.Log.Error()
		}
		evt.Str("device", d.Path).Bool("passed", passed).Msg("SMART verdict")
	}
	return nil
}

type smartReport struct {
	SmartStatus struct {
		Passed bool `json:"passed"`
	} `json:"smart_status"`
}

func (m *Monitor) probeSmart(ctx context.Context, device string) (bool, error) {
	out, err := m.Run.Combined(ctx, m.SmartTimeout, "smartctl", "-H", "-j", device)
	trim := strings.TrimSpace(out)
	// smartctl exits non-zero for failing drives but still emits the report.
	if !strings.HasPrefix(trim, "{") {
		if err != nil {
			return false, err
		}
		return false, errors.New("no SMART report produced")
	}
	var rep smartReport
	if jsonErr := json.Unmarshal([]byte(trim), &rep); jsonErr != nil {
		return false, errors.Wrap(jsonErr, "parse smartctl json")
	}
	return rep.SmartStatus.Passed, nil
}

// DegradedArrays scans raw mdstat content for arrays whose member map shows
// a missing device, e.g. [UU_U].
func DegradedArrays(content string) []string {
	var out []string
	current := ""
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if fields := strings.Fields(trimmed); len(fields) > 1 && fields[1] == ":" && strings.HasPrefix(fields[0], "md") {
			current = fields[0]
			continue
		}
		if current == "" {
			continue
		}
		if open := strings.LastIndex(trimmed, "["); open >= 0 {
			mapPart := trimmed[open:]
			if strings.HasPrefix(mapPart, "[U") || strings.HasPrefix(mapPart, "[_") {
				if strings.Contains(mapPart, "_") {
					out = append(out, current)
				}
				current = ""
			}
		}
	}
	return out
}
