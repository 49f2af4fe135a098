// Package undefined implements the two undefined-variable policies. Strict
// makes the engine fail on any unset name; Permissive binds unset names to
// Null, a value that renders empty and absorbs further access.
package undefined

import "fmt"

// Policy selects how references to unset names behave.
type Policy int

const (
	// Strict fails the render on the first unset name or attribute.
	Strict Policy = iota
	// Permissive renders unset names as empty.
	Permissive
)

// FromNonStrict maps the configuration flag to a policy.
func FromNonStrict(nonStrict bool) Policy {
	if nonStrict {
		return Permissive
	}
	return Strict
}

// IsStrict reports whether the policy raises on unset names.
func (p Policy) IsStrict() bool {
	return p == Strict
}

func (p Policy) String() string {
	switch p {
	case Strict:
		return "strict"
	case Permissive:
		return "permissive"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}
