package inventory

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ArrayMember is one device participating in an assembled array, with the
// role index mdstat reports for it.
type ArrayMember struct {
	Device string // /dev/sda3
	Role   int
	Faulty bool
	Spare  bool
}

// ArrayDescriptor describes one assembled software-RAID array as reported by
// the kernel. Rebuilt from /proc/mdstat on every invocation.
type ArrayDescriptor struct {
	Name    string // md0
	Path    string // /dev/md0
	Level   string // raid1, raid5, ...
	Active  bool
	Members []ArrayMember
}

// ListArrays parses the kernel's live mdstat report. Zero assembled arrays
// is an empty list, not an error.
func (s *Scanner) ListArrays(ctx context.Context) ([]ArrayDescriptor, error) {
	_ = ctx
	path := s.MdstatPath
	if path == "" {
		path = "/proc/mdstat"
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// md driver not loaded: no arrays.
			return nil, nil
		}
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return ParseMdstat(string(b))
}

// ParseMdstat extracts active arrays from mdstat content. The interesting
// lines look like:
//
//	md0 : active raid1 sda3[0] sdb3[1](F)
func ParseMdstat(content string) ([]ArrayDescriptor, error) {
	var out []ArrayDescriptor
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "Personalities") || strings.HasPrefix(line, "unused devices") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 || fields[1] != ":" || !strings.HasPrefix(fields[0], "md") {
			continue
		}
		desc := ArrayDescriptor{
			Name:   fields[0],
			Path:   "/dev/" + fields[0],
			Active: fields[2] == "active",
		}
		rest := fields[3:]
		// An optional "(read-only)" or "(auto-read-only)" marker can follow
		// the state; the raid level is the next bare token.
		for len(rest) > 0 && strings.HasPrefix(rest[0], "(") {
			rest = rest[1:]
		}
		if len(rest) > 0 && !strings.Contains(rest[0], "[") {
			desc.Level = rest[0]
			rest = rest[1:]
		}
		for _, tok := range rest {
			m, ok := parseMember(tok)
			if !ok {
				continue
			}
			desc.Members = append(desc.Members, m)
		}
		out = append(out, desc)
	}
	return out, nil
}

// parseMember decodes tokens of the form "sda3[0]", "sdb3[1](F)" or
// "sdc3[2](S)".
func parseMember(tok string) (ArrayMember, bool) {
	open := strings.Index(tok, "[")
	close := strings.Index(tok, "]")
	if open <= 0 || close <= open {
		return ArrayMember{}, false
	}
	role, err := strconv.Atoi(tok[open+1 : close])
	if err != nil {
		return ArrayMember{}, false
	}
	m := ArrayMember{
		Device: "/dev/" + tok[:open],
		Role:   role,
	}
	flags := tok[close+1:]
	m.Faulty = strings.Contains(flags, "(F)")
	m.Spare = strings.Contains(flags, "(S)")
	return m, true
}
