package osd

import (
	"fmt"
	"strings"
)

// RMWFlags describes what an op needs to do to the object it targets.
// Flags are set during setup and only read afterwards; they are orthogonal
// to the op's phase.
type RMWFlags uint8

const (
	RMWRead RMWFlags = 1 << iota
	RMWWrite
	RMWClassRead
	RMWClassWrite
	RMWPGOp
)

var rmwNames = []struct {
	flag RMWFlags
	name string
}{
	{RMWRead, "read"},
	{RMWWrite, "write"},
	{RMWClassRead, "class_read"},
	{RMWClassWrite, "class_write"},
	{RMWPGOp, "pg_op"},
}

// Has reports whether every bit of flag is set.
func (f RMWFlags) Has(flag RMWFlags) bool {
	return f&flag == flag && flag != 0
}

// String lists the set flags joined by "+", or "none".
func (f RMWFlags) String() string {
	var parts []string
	for _, n := range rmwNames {
		if f&n.flag != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "+")
}

// ParseRMWFlags combines flag names ("read", "write", "class_read",
// "class_write", "pg_op").
func ParseRMWFlags(names ...string) (RMWFlags, error) {
	var out RMWFlags
	for _, name := range names {
		found := false
		for _, n := range rmwNames {
			if n.name == name {
				out |= n.flag
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown rmw flag %q", name)
		}
	}
	return out, nil
}

// RMWSource is implemented by requests that know their own rmw flags.
type RMWSource interface {
	RMWFlags() RMWFlags
}
