package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"raidsmith/internal/bootcfg"
	"raidsmith/internal/execx"
	"raidsmith/internal/inventory"
	"raidsmith/internal/lifecycle"
	"raidsmith/internal/monitor"
)

const lsblkFourDisks = `{"blockdevices":[
  {"name":"sda","size":1800000000000,"type":"disk","model":"WD","serial":"A","rota":1},
  {"name":"sdb","size":1800000000000,"type":"disk","model":"WD","serial":"B","rota":1},
  {"name":"sdc","size":1800000000000,"type":"disk","model":"WD","serial":"C","rota":1},
  {"name":"sdd","size":1800000000000,"type":"disk","model":"WD","serial":"D","rota":1}
]}`

type scriptedConfirmer struct {
	answer  bool
	prompts []string
}

func (c *scriptedConfirmer) Confirm(prompt string) (bool, error) {
	c.prompts = append(c.prompts, prompt)
	return c.answer, nil
}

type memStore struct {
	registered map[string]string
}

func (s *memStore) Register(_ context.Context, name, path string) error {
	s.registered[name] = path
	return nil
}

func (s *memStore) Deregister(_ context.Context, name string) error {
	delete(s.registered, name)
	return nil
}

func (s *memStore) Registered(_ context.Context, name string) (bool, error) {
	_, ok := s.registered[name]
	return ok, nil
}

type fixture struct {
	app     *App
	fake    *execx.Fake
	confirm *scriptedConfirmer
	out     *bytes.Buffer
	mdstat  string
	mounts  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		fake:    execx.NewFake(),
		confirm: &scriptedConfirmer{},
		out:     &bytes.Buffer{},
		mdstat:  filepath.Join(dir, "mdstat"),
		mounts:  filepath.Join(dir, "mounts"),
	}
	f.writeMdstat("unused devices: <none>\n")
	f.writeMounts("/dev/sdz3 / ext4 rw 0 0\n")
	f.fake.On("lsblk", lsblkFourDisks)
	f.fake.On("mdadm --detail --scan", "ARRAY /dev/md0 metadata=1.2 UUID=0000\n")

	scanner := inventory.NewScanner(f.fake)
	scanner.MdstatPath = f.mdstat
	boot := bootcfg.New(f.fake)
	boot.ConfPath = filepath.Join(dir, "mdadm.conf")
	store := &memStore{registered: map[string]string{}}

	mgr := lifecycle.NewManager(f.fake, store, boot, scanner, zerolog.Nop())
	mgr.MountRoot = filepath.Join(dir, "mnt")
	mgr.MountsPath = f.mounts

	f.app = &App{
		Scanner:    scanner,
		Manager:    mgr,
		Monitor:    monitor.New(f.fake, scanner, zerolog.Nop()),
		Confirm:    f.confirm,
		Log:        zerolog.Nop(),
		Out:        f.out,
		MountsPath: f.mounts,
	}
	return f
}

func (f *fixture) writeMdstat(content string) {
	if err := os.WriteFile(f.mdstat, []byte(content), 0o644); err != nil {
		panic(err)
	}
}

func (f *fixture) writeMounts(content string) {
	if err := os.WriteFile(f.mounts, []byte(content), 0o644); err != nil {
		panic(err)
	}
}

// wireKernelReactions makes the fake behave like the kernel: the created
// array appears in mdstat, the formatted array reports a filesystem, the
// mounted array shows up in the mount table.
func (f *fixture) wireKernelReactions() {
	f.fake.OnCall = func(line string) {
		switch {
		case strings.HasPrefix(line, "mdadm --create /dev/md0"):
			f.writeMdstat("md0 : active raid10 sda[0] sdb[1] sdc[2] sdd[3]\n")
		case strings.HasPrefix(line, "mkfs.ext4"):
			f.fake.On("blkid -o value -s TYPE /dev/md0", "ext4\n")
		case strings.HasPrefix(line, "mount /dev/md0"):
			f.writeMounts("/dev/sdz3 / ext4 rw 0 0\n/dev/md0 /mnt/raid-md0 ext4 rw 0 0\n")
		}
	}
}

func TestPrepareDrivesAbortsWithoutConfirmation(t *testing.T) {
	f := newFixture(t)
	f.confirm.answer = false

	if err := f.app.PrepareDrives(context.Background(), PrepareOptions{Tolerance: 10}); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if f.fake.Called("mdadm --create") || f.fake.Called("wipefs") {
		t.Fatalf("declined run touched hardware: %v", f.fake.Calls)
	}
	if !strings.Contains(f.out.String(), "Aborted") {
		t.Fatalf("missing abort notice:\n%s", f.out.String())
	}
	if !strings.Contains(f.out.String(), "raid10-1.8TB") {
		t.Fatalf("preview must render before the prompt:\n%s", f.out.String())
	}
}

func TestPrepareDrivesAppliesRecommendation(t *testing.T) {
	f := newFixture(t)
	f.confirm.answer = true
	f.wireKernelReactions()

	if err := f.app.PrepareDrives(context.Background(), PrepareOptions{Tolerance: 10}); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if !f.fake.Called("mdadm --create /dev/md0 --level 10") {
		t.Fatalf("recommended raid10 not created: %v", f.fake.Calls)
	}
	if !strings.Contains(f.out.String(), "/dev/md0") {
		t.Fatalf("applied summary missing:\n%s", f.out.String())
	}
}

func TestPrepareDrivesSelectsAlternative(t *testing.T) {
	f := newFixture(t)
	f.confirm.answer = true
	f.fake.OnCall = func(line string) {
		if strings.HasPrefix(line, "mdadm --create /dev/md0") {
			f.writeMdstat("md0 : active raid6 sda[0] sdb[1] sdc[2] sdd[3]\n")
		}
		if strings.HasPrefix(line, "mkfs.ext4") {
			f.fake.On("blkid -o value -s TYPE /dev/md0", "ext4\n")
		}
		if strings.HasPrefix(line, "mount /dev/md0") {
			f.writeMounts("/dev/sdz3 / ext4 rw 0 0\n/dev/md0 /mnt/raid-md0 ext4 rw 0 0\n")
		}
	}

	if err := f.app.PrepareDrives(context.Background(), PrepareOptions{Tolerance: 10, PlanID: "raid6-1.8TB"}); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if !f.fake.Called("mdadm --create /dev/md0 --level 6") {
		t.Fatalf("selected raid6 not created: %v", f.fake.Calls)
	}
}

func TestPrepareDrivesRejectsUnknownPlan(t *testing.T) {
	f := newFixture(t)
	f.confirm.answer = true

	err := f.app.PrepareDrives(context.Background(), PrepareOptions{Tolerance: 10, PlanID: "raid7-extreme"})
	if err == nil || !strings.Contains(err.Error(), "raid7-extreme") {
		t.Fatalf("expected unknown plan error, got %v", err)
	}
	if f.fake.Called("mdadm --create") {
		t.Fatal("unknown plan must not touch hardware")
	}
}

func TestPrepareDrivesExcludesBusyDisks(t *testing.T) {
	f := newFixture(t)
	f.confirm.answer = false
	// sda carries a mounted partition, sdb is an array member already.
	f.writeMounts("/dev/sdz3 / ext4 rw 0 0\n/dev/sda1 /srv/stuff ext4 rw 0 0\n")
	f.writeMdstat("md7 : active raid1 sdb1[0] sdy1[1]\n")

	if err := f.app.PrepareDrives(context.Background(), PrepareOptions{Tolerance: 10}); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	out := f.out.String()
	if strings.Contains(out, "/dev/sda") || strings.Contains(out, "/dev/sdb") {
		t.Fatalf("busy disks leaked into the preview:\n%s", out)
	}
	if !strings.Contains(out, "/dev/sdc") || !strings.Contains(out, "/dev/sdd") {
		t.Fatalf("free disks missing from the preview:\n%s", out)
	}
}

func TestPrepareDrivesRejectsIneligibleSelection(t *testing.T) {
	f := newFixture(t)
	f.writeMounts("/dev/sdz3 / ext4 rw 0 0\n/dev/sda1 /srv/stuff ext4 rw 0 0\n")

	err := f.app.PrepareDrives(context.Background(), PrepareOptions{Tolerance: 10, Drives: []string{"/dev/sda"}})
	if err == nil || !strings.Contains(err.Error(), "/dev/sda") {
		t.Fatalf("expected ineligible selection error, got %v", err)
	}
}

func TestRemoveDataKeepsSystemArrays(t *testing.T) {
	f := newFixture(t)
	f.confirm.answer = true
	f.writeMdstat("md0 : active raid1 sda3[0] sdb3[1]\nmd1 : active raid1 sdc1[0] sdd1[1]\n")
	f.writeMounts("/dev/md0 / ext4 rw 0 0\n/dev/md1 /srv/data1 ext4 rw 0 0\n")

	if err := f.app.RemoveData(context.Background(), false); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if f.fake.Called("mdadm --stop /dev/md0") {
		t.Fatal("system array md0 must never be offered for removal")
	}
	if !f.fake.Called("mdadm --stop /dev/md1") {
		t.Fatalf("data array md1 not removed: %v", f.fake.Calls)
	}
	if !strings.Contains(f.out.String(), "keeping /dev/md0") {
		t.Fatalf("kept system array not reported:\n%s", f.out.String())
	}
}

func TestRemoveDataNothingToDo(t *testing.T) {
	f := newFixture(t)
	f.writeMdstat("md0 : active raid1 sda3[0] sdb3[1]\n")
	f.writeMounts("/dev/md0 / ext4 rw 0 0\n")

	if err := f.app.RemoveData(context.Background(), false); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(f.confirm.prompts) != 0 {
		t.Fatal("no prompt expected when nothing is removable")
	}
	if !strings.Contains(f.out.String(), "No data arrays") {
		t.Fatalf("missing notice:\n%s", f.out.String())
	}
}

func TestStatusRendersClassification(t *testing.T) {
	f := newFixture(t)
	f.writeMdstat("md0 : active raid1 sda3[0] sdb3[1]\nmd1 : active raid1 sdc1[0] sdd1[1]\n")
	f.writeMounts("/dev/md0 / ext4 rw 0 0\n/dev/md1 /srv/data1 ext4 rw 0 0\n")

	if err := f.app.Status(context.Background()); err != nil {
		t.Fatalf("status: %v", err)
	}
	out := f.out.String()
	if !strings.Contains(out, "SYSTEM") || !strings.Contains(out, "DATA") {
		t.Fatalf("classification missing:\n%s", out)
	}
}

func TestStdinConfirmer(t *testing.T) {
	var out bytes.Buffer
	c := &StdinConfirmer{In: strings.NewReader("yes\n"), Out: &out}
	ok, err := c.Confirm("proceed?")
	if err != nil || !ok {
		t.Fatalf("yes should confirm: %v %v", ok, err)
	}
	c = &StdinConfirmer{In: strings.NewReader("y\n"), Out: &out}
	ok, err = c.Confirm("proceed?")
	if err != nil || ok {
		t.Fatalf("anything but literal yes must decline: %v %v", ok, err)
	}
}
