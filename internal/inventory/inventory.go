package inventory

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"

	"raidsmith/internal/execx"
)

// Device is an immutable snapshot of a whole-disk block device taken at scan
// time. It is rebuilt from live system state on every invocation and never
// persisted.
type Device struct {
	Name       string // kernel name, e.g. "sda"
	Path       string // /dev/sda
	SizeBytes  int64
	Model      string
	Serial     string
	Rotational bool
	Present    bool
}

// ScanError means the device-listing facility itself is unavailable. It is
// fatal to the invocation.
type ScanError struct {
	Err error
}

func (e *ScanError) Error() string {
	return "device scan unavailable: " + e.Err.Error()
}

func (e *ScanError) Unwrap() error { return e.Err }

// Scanner enumerates block devices and live software-RAID state.
type Scanner struct {
	Run        execx.Runner
	MdstatPath string // defaults to /proc/mdstat
}

func NewScanner(r execx.Runner) *Scanner {
	return &Scanner{Run: r, MdstatPath: "/proc/mdstat"}
}

type lsblkReport struct {
	Blockdevices []lsblkDev `json:"blockdevices"`
}

type lsblkDev struct {
	Name     string     `json:"name"`
	Type     string     `json:"type"`
	Size     int64      `json:"size"`
	Rota     *int       `json:"rota,omitempty"`
	Model    string     `json:"model,omitempty"`
	Serial   string     `json:"serial,omitempty"`
	Children []lsblkDev `json:"children,omitempty"`
}

// Scan lists whole disks. Partitions and assembled md devices are excluded
// here; mount ownership is resolved separately by the guard.
func (s *Scanner) Scan(ctx context.Context) ([]Device, error) {
	if !s.Run.Look("lsblk") {
		return nil, &ScanError{Err: errors.New("lsblk not found on PATH")}
	}
	out, err := s.Run.Combined(ctx, 30*time.Second, "lsblk", "-b", "-J", "-o", "NAME,TYPE,SIZE,ROTA,MODEL,SERIAL")
	if err != nil {
		return nil, &ScanError{Err: err}
	}
	var parsed lsblkReport
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		return nil, &ScanError{Err: errors.Wrap(err, "parse lsblk json")}
	}

	devices := make([]Device, 0, len(parsed.Blockdevices))
	for _, dev := range parsed.Blockdevices {
		if dev.Type != "disk" || dev.Name == "" {
			continue
		}
		d := Device{
			Name:       dev.Name,
			Path:       "/dev/" + dev.Name,
			SizeBytes:  dev.Size,
			Model:      orUnknown(dev.Model),
			Serial:     orUnknown(dev.Serial),
			Rotational: dev.Rota != nil && *dev.Rota == 1,
			Present:    true,
		}
		devices = append(devices, d)
	}
	return devices, nil
}

func orUnknown(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "unknown"
	}
	return s
}
