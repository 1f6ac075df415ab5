package training

import "github.com/sw965/oslow"

// ParamGroup identifies which parameter set a phase step may write.
type ParamGroup string

const (
	GroupFlow        ParamGroup = "flow"
	GroupPermutation ParamGroup = "permutation"
)

// ParamGroupLock grants exclusive write access to one parameter group
// for the duration of a phase step. Acquire returns a release func the
// caller must defer, so the lock is restored on every exit path; a
// second Acquire before release is a programming error and fails.
type ParamGroupLock struct {
	held   ParamGroup
	locked bool
}

func (l *ParamGroupLock) Acquire(group ParamGroup) (func(), error) {
	if l.locked {
		return nil, oslow.NewConfigurationError("param_group_lock", "group %q requested while %q is held", group, l.held)
	}
	l.held = group
	l.locked = true
	return func() {
		l.locked = false
		l.held = ""
	}, nil
}

// Held reports the currently locked group, if any.
func (l *ParamGroupLock) Held() (ParamGroup, bool) {
	return l.held, l.locked
}
