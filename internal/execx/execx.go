package execx

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Runner executes external storage tooling. Every hardware mutation in the
// program funnels through a single Runner so that dry-run and tests can
// substitute it.
type Runner interface {
	// Combined runs name with args and returns combined stdout+stderr.
	Combined(ctx context.Context, timeout time.Duration, name string, args ...string) (string, error)
	// Look reports whether name is resolvable on PATH.
	Look(name string) bool
}

type Shell struct{}

func (Shell) Combined(ctx context.Context, timeout time.Duration, name string, args ...string) (string, error) {
	c, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cmd := exec.CommandContext(c, name, args...)
	b, err := cmd.CombinedOutput()
	out := string(b)
	if c.Err() == context.DeadlineExceeded {
		return out, errors.Errorf("command timed out: %s %s", name, strings.Join(args, " "))
	}
	if err != nil {
		return out, errors.Wrapf(err, "%s %s", name, strings.Join(args, " "))
	}
	return out, nil
}

func (Shell) Look(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// Settle waits for udev to process pending block device events. Errors are
// ignored; settle is advisory.
func Settle(ctx context.Context, r Runner) {
	_, _ = r.Combined(ctx, 10*time.Second, "udevadm", "settle", "--timeout=5")
}
