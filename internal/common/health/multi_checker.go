package health

import (
	"errors"
	"sort"
	"strings"
)

type namedChecker struct {
	name    string
	checker Checker
}

// MultiChecker reports unhealthy iff any of its named checkers does. Unlike
// the teacher's version, checkers are named on Add rather than anonymous:
// the scheduler core runs one backend per configured cluster tag, each with
// its own replicaset/pod watch checkers, and an operator staring at /health
// needs to know which one went stale, not just that "something" did.
type MultiChecker struct {
	checkers []namedChecker
}

func NewMultiChecker() *MultiChecker {
	return &MultiChecker{}
}

func (mc *MultiChecker) Check() error {
	var errorStrings []string
	for name, err := range mc.Results() {
		if err != nil {
			errorStrings = append(errorStrings, name+": "+err.Error())
		}
	}
	if len(errorStrings) == 0 {
		return nil
	}
	sort.Strings(errorStrings)
	return errors.New(strings.Join(errorStrings, "\n"))
}

// Results runs every registered checker and returns its outcome keyed by
// name, letting an HTTP handler report a per-check breakdown instead of one
// opaque error string.
func (mc *MultiChecker) Results() map[string]error {
	results := make(map[string]error, len(mc.checkers))
	for _, nc := range mc.checkers {
		results[nc.name] = nc.checker.Check()
	}
	return results
}

func (mc *MultiChecker) Add(name string, checker Checker) {
	mc.checkers = append(mc.checkers, namedChecker{name: name, checker: checker})
}
