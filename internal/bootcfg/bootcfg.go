package bootcfg

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"raidsmith/internal/execx"
)

// Persister records the current array topology so it survives a reboot:
// mdadm.conf for reassembly and the initramfs for early boot.
type Persister struct {
	Run      execx.Runner
	ConfPath string // defaults to /etc/mdadm/mdadm.conf
}

func New(r execx.Runner) *Persister {
	return &Persister{Run: r, ConfPath: "/etc/mdadm/mdadm.conf"}
}

// PersistArrays rewrites mdadm.conf from the live topology reported by
// mdadm --detail --scan.
func (p *Persister) PersistArrays(ctx context.Context) error {
	out, err := p.Run.Combined(ctx, 30*time.Second, "mdadm", "--detail", "--scan")
	if err != nil {
		return errors.Wrap(err, "mdadm --detail --scan")
	}
	content := Render(out)
	if err := os.MkdirAll(filepath.Dir(p.ConfPath), 0o755); err != nil {
		return errors.Wrap(err, "mdadm.conf dir")
	}
	if err := os.WriteFile(p.ConfPath, []byte(content), 0o644); err != nil {
		return errors.Wrap(err, "write mdadm.conf")
	}
	return nil
}

// Render builds mdadm.conf content from scan output, keeping only ARRAY
// lines and adding the standard preamble.
func Render(scan string) string {
	var b strings.Builder
	b.WriteString("# mdadm.conf generated by raidsmith; manual edits are overwritten\n")
	b.WriteString("HOMEHOST <system>\n")
	b.WriteString("MAILADDR root\n")
	for _, line := range strings.Split(scan, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "ARRAY ") {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// RegenerateBootImage refreshes the initramfs so removed arrays are not
// reassembled and new ones are available at boot.
func (p *Persister) RegenerateBootImage(ctx context.Context) error {
	if !p.Run.Look("update-initramfs") {
		return errors.New("update-initramfs not found on PATH")
	}
	_, err := p.Run.Combined(ctx, 5*time.Minute, "update-initramfs", "-u")
	if err != nil {
		return errors.Wrap(err, "update-initramfs -u")
	}
	return nil
}
