package execx

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Fake is a scripted Runner for tests. Responses are matched by the longest
// registered prefix of "name arg1 arg2 ...".
type Fake struct {
	Responses map[string]FakeResult
	Missing   map[string]bool // tools Look should report absent
	Calls     []string

	// OnCall, when set, observes every invocation; tests use it to mimic
	// the kernel state changing underneath the tool.
	OnCall func(line string)
}

type FakeResult struct {
	Out string
	Err string
}

func NewFake() *Fake {
	return &Fake{Responses: map[string]FakeResult{}}
}

func (f *Fake) On(prefix, out string) *Fake {
	f.Responses[prefix] = FakeResult{Out: out}
	return f
}

func (f *Fake) Fail(prefix, msg string) *Fake {
	f.Responses[prefix] = FakeResult{Err: msg}
	return f
}

func (f *Fake) Combined(_ context.Context, _ time.Duration, name string, args ...string) (string, error) {
	line := strings.TrimSpace(name + " " + strings.Join(args, " "))
	f.Calls = append(f.Calls, line)
	if f.OnCall != nil {
		f.OnCall(line)
	}
	best := ""
	for prefix := range f.Responses {
		if strings.HasPrefix(line, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return "", nil
	}
	res := f.Responses[best]
	if res.Err != "" {
		return res.Out, errors.New(res.Err)
	}
	return res.Out, nil
}

func (f *Fake) Look(name string) bool {
	return !f.Missing[name]
}

// Called reports whether any recorded invocation starts with prefix.
func (f *Fake) Called(prefix string) bool {
	for _, c := range f.Calls {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}
