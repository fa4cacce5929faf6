package storage

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"raidsmith/internal/execx"
)

// Manager registers mounted filesystems with the host's storage manager so
// they become usable for guest images. Registration failures are surfaced as
// errors; callers decide whether they are fatal (they are not during
// teardown).
type Manager interface {
	Register(ctx context.Context, name, path string) error
	Deregister(ctx context.Context, name string) error
	Registered(ctx context.Context, name string) (bool, error)
}

// Proxmox drives pvesm, the Proxmox VE storage manager CLI.
type Proxmox struct {
	Run execx.Runner
}

func (p *Proxmox) Register(ctx context.Context, name, path string) error {
	out, err := p.Run.Combined(ctx, 60*time.Second, "pvesm", "add", "dir", name,
		"--path", path, "--content", "images,rootdir,backup,iso,vztmpl")
	if err != nil {
		if strings.Contains(strings.ToLower(out), "already defined") {
			return nil
		}
		return errors.Wrapf(err, "pvesm add %s", name)
	}
	return nil
}

func (p *Proxmox) Deregister(ctx context.Context, name string) error {
	out, err := p.Run.Combined(ctx, 60*time.Second, "pvesm", "remove", name)
	if err != nil {
		if strings.Contains(strings.ToLower(out), "does not exist") {
			return nil
		}
		return errors.Wrapf(err, "pvesm remove %s", name)
	}
	return nil
}

func (p *Proxmox) Registered(ctx context.Context, name string) (bool, error) {
	out, err := p.Run.Combined(ctx, 30*time.Second, "pvesm", "status")
	if err != nil {
		return false, errors.Wrap(err, "pvesm status")
	}
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) > 0 && fields[0] == name {
			return true, nil
		}
	}
	return false, nil
}

// Noop serves hosts without a storage manager installed.
type Noop struct{}

func (Noop) Register(context.Context, string, string) error { return nil }
func (Noop) Deregister(context.Context, string) error       { return nil }
func (Noop) Registered(context.Context, string) (bool, error) {
	return false, nil
}

// Detect picks the pvesm-backed manager when the tool is present.
func Detect(r execx.Runner) Manager {
	if r.Look("pvesm") {
		return &Proxmox{Run: r}
	}
	return Noop{}
}
