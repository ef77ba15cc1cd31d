package alpha

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
)

// Policy selects how the window builder treats partial windows and
// missing values. Policies are mutually exclusive.
type Policy int

const (
	// PolicyDefault builds contiguous windows clipped to the partition
	// start. Missing values are included verbatim.
	PolicyDefault Policy = iota

	// PolicyRequireFullWindow leaves a position undefined until a full
	// window of period values fits inside its partition.
	PolicyRequireFullWindow

	// PolicySkipMissing leaves a missing position undefined and otherwise
	// collects up to period non-missing values backward within the partition.
	PolicySkipMissing
)

func (p Policy) String() string {
	switch p {
	case PolicyDefault:
		return "default"
	case PolicyRequireFullWindow:
		return "require_full_window"
	case PolicySkipMissing:
		return "skip_missing"
	default:
		return "unknown"
	}
}

// Flags returns the bitmask equivalent of the policy.
func (p Policy) Flags() Flags {
	switch p {
	case PolicyRequireFullWindow:
		return FlagRequireFullWindow
	case PolicySkipMissing:
		return FlagSkipMissing
	default:
		return FlagNone
	}
}

func (p Policy) valid() bool {
	return p >= PolicyDefault && p <= PolicySkipMissing
}

// Flags is the bitmask form of a Policy accepted by Configure.
type Flags uint32

const (
	FlagNone              Flags = 0
	FlagSkipMissing       Flags = 1 << 0
	FlagRequireFullWindow Flags = 1 << 1

	flagMask = FlagSkipMissing | FlagRequireFullWindow
)

// PolicyFromFlags maps a bitmask onto a Policy. Setting both flags has no
// defined meaning and is rejected with ErrAmbiguousPolicy.
func PolicyFromFlags(f Flags) (Policy, error) {
	if f&^flagMask != 0 {
		return PolicyDefault, fmt.Errorf("unknown flag bits %#x: %w", uint32(f&^flagMask), ErrConfiguration)
	}
	switch f {
	case FlagNone:
		return PolicyDefault, nil
	case FlagSkipMissing:
		return PolicySkipMissing, nil
	case FlagRequireFullWindow:
		return PolicyRequireFullWindow, nil
	default:
		return PolicyDefault, fmt.Errorf("skip-missing combined with require-full-window: %w", ErrAmbiguousPolicy)
	}
}

// ParseFlags parses "none", "skip_nan", "strictly_cycle" (and the long
// policy names), joined with '|' or ',', or a plain integer bitmask.
func ParseFlags(s string) (Flags, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return FlagNone, nil
	}
	if n, err := strconv.ParseUint(s, 10, 32); err == nil {
		return Flags(n), nil
	}

	var f Flags
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == '|' || r == ',' }) {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "", "none", "0", "default":
		case "skip_nan", "skip_missing":
			f |= FlagSkipMissing
		case "strictly_cycle", "require_full_window":
			f |= FlagRequireFullWindow
		default:
			return FlagNone, fmt.Errorf("unknown flag %q: %w", part, ErrConfiguration)
		}
	}
	return f, nil
}

func (f Flags) String() string {
	switch f {
	case FlagNone:
		return "none"
	case FlagSkipMissing:
		return "skip_nan"
	case FlagRequireFullWindow:
		return "strictly_cycle"
	case FlagSkipMissing | FlagRequireFullWindow:
		return "skip_nan|strictly_cycle"
	default:
		return strconv.FormatUint(uint64(f), 10)
	}
}

// Context is an immutable computation configuration. The zero value is the
// default policy with a single group.
type Context struct {
	policy Policy
	groups int
}

// NewContext validates and returns a Context.
func NewContext(policy Policy, groups int) (Context, error) {
	if !policy.valid() {
		return Context{}, fmt.Errorf("policy %d: %w", int(policy), ErrConfiguration)
	}
	if groups <= 0 {
		return Context{}, fmt.Errorf("groups %d must be positive: %w", groups, ErrConfiguration)
	}
	return Context{policy: policy, groups: groups}, nil
}

// NewContextFromFlags builds a Context from the bitmask form.
func NewContextFromFlags(flags Flags, groups int) (Context, error) {
	policy, err := PolicyFromFlags(flags)
	if err != nil {
		return Context{}, err
	}
	return NewContext(policy, groups)
}

func (c Context) Policy() Policy { return c.policy }

func (c Context) Groups() int {
	if c.groups <= 0 {
		return 1
	}
	return c.groups
}

func (c Context) String() string {
	return "policy=" + c.policy.String() + " groups=" + strconv.Itoa(c.Groups())
}

// Partitions splits a series of length n according to the context's groups.
func (c Context) Partitions(n int) ([]Partition, error) {
	return Partitions(n, c.Groups())
}

var active atomic.Pointer[Context]

// Configure replaces the process-wide active Context. On error the active
// Context is left untouched.
func Configure(flags Flags, groups int) error {
	c, err := NewContextFromFlags(flags, groups)
	if err != nil {
		return err
	}
	SetActive(c)
	return nil
}

// SetActive installs c as the process-wide active Context.
func SetActive(c Context) {
	active.Store(&c)
}

// Active returns a snapshot of the process-wide active Context.
func Active() Context {
	if c := active.Load(); c != nil {
		return *c
	}
	return Context{}
}
