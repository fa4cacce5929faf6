package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"raidsmith/internal/app"
	"raidsmith/internal/bootcfg"
	"raidsmith/internal/execx"
	"raidsmith/internal/inventory"
	"raidsmith/internal/lifecycle"
	"raidsmith/internal/monitor"
	"raidsmith/internal/storage"
)

func main() {
	var (
		prepare    bool
		drives     bool
		only       string
		planID     string
		tolerance  float64
		removeRaid bool
		status     bool
		monitorRun bool
		schedule   string
		once       bool
		dryRun     bool
		force      bool
		yes        bool
		logJSON    bool
		auditPath  string
		verbose    bool
	)

	flag.BoolVar(&prepare, "preparedrives", false, "scan unused drives, plan arrays, and apply after confirmation")
	flag.BoolVar(&drives, "drives", false, "alias of --preparedrives")
	flag.StringVar(&only, "only", "", "comma-separated device paths to restrict planning to, e.g. /dev/sda,/dev/sdb")
	flag.StringVar(&planID, "config", "", "apply this plan id instead of the recommendation")
	flag.Float64Var(&tolerance, "tolerance", 10, "size grouping tolerance in percent")
	flag.BoolVar(&removeRaid, "removeraid", false, "tear down every non-system array after confirmation")
	flag.BoolVar(&status, "status", false, "show assembled arrays and their SYSTEM/DATA classification")
	flag.BoolVar(&monitorRun, "monitor", false, "run the scheduled health sweep")
	flag.StringVar(&schedule, "schedule", "0 * * * *", "cron schedule for --monitor")
	flag.BoolVar(&once, "once", false, "with --monitor, run a single sweep and exit")
	flag.BoolVar(&dryRun, "dry-run", false, "log every step without touching hardware")
	flag.BoolVar(&force, "force", false, "skip confirmation; during removal, also retry failed unmounts lazily")
	flag.BoolVar(&yes, "yes", false, "skip confirmation prompts")
	flag.BoolVar(&logJSON, "log-json", false, "emit JSON log lines instead of console output")
	flag.StringVar(&auditPath, "audit", "", "append JSON audit log lines to this file")
	flag.BoolVar(&verbose, "v", false, "debug logging")
	flag.Parse()

	log, closeAudit, err := setupLogging(logJSON, auditPath, verbose)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer closeAudit()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := buildApp(log, dryRun, yes || force)

	var runErr error
	switch {
	case prepare || drives:
		runErr = a.PrepareDrives(ctx, app.PrepareOptions{
			Drives:    splitDrives(only),
			PlanID:    planID,
			Tolerance: tolerance,
		})
	case removeRaid:
		runErr = a.RemoveData(ctx, force)
	case status:
		runErr = a.Status(ctx)
	case monitorRun:
		runErr = a.MonitorRun(ctx, schedule, once)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if runErr != nil && runErr != context.Canceled {
		log.Error().Err(runErr).Msg("run failed")
		os.Exit(1)
	}
}

func buildApp(log zerolog.Logger, dryRun, yes bool) *app.App {
	run := execx.Shell{}
	scanner := inventory.NewScanner(run)
	boot := bootcfg.New(run)
	store := storage.Detect(run)

	mgr := lifecycle.NewManager(run, store, boot, scanner, log)
	mgr.DryRun = dryRun
	if v := os.Getenv("RAIDSMITH_MOUNT_ROOT"); v != "" {
		mgr.MountRoot = v
	}
	if v := os.Getenv("RAIDSMITH_STORAGE_PREFIX"); v != "" {
		mgr.StoragePrefix = v
	}

	var confirm app.Confirmer = &app.StdinConfirmer{In: os.Stdin, Out: os.Stdout}
	if yes {
		confirm = app.AutoConfirmer{}
	}

	return &app.App{
		Scanner: scanner,
		Manager: mgr,
		Monitor: monitor.New(run, scanner, log),
		Confirm: confirm,
		Log:     log,
		Out:     os.Stdout,
	}
}

// setupLogging builds the session logger: console or JSON on stderr, plus an
// optional JSON audit trail. Every line carries a session id so one
// invocation's actions can be correlated after the fact.
func setupLogging(jsonOut bool, auditPath string, verbose bool) (zerolog.Logger, func(), error) {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}

	var sink io.Writer = zerolog.ConsoleWriter{Out: os.Stderr}
	if jsonOut {
		sink = os.Stderr
	}

	closeAudit := func() {}
	if auditPath != "" {
		f, err := os.OpenFile(auditPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Logger{}, nil, fmt.Errorf("open audit log: %w", err)
		}
		sink = zerolog.MultiLevelWriter(sink, f)
		closeAudit = func() { _ = f.Close() }
	}

	log := zerolog.New(sink).Level(level).With().
		Timestamp().
		Str("session", uuid.NewString()).
		Logger()
	return log, closeAudit, nil
}

func splitDrives(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
