package health

import (
	"fmt"
	"time"
)

// WatchChecker reports unhealthy once a watch stream's last successful
// snapshot or event is older than maxAge, catching a watcher stuck retrying
// snapshot-then-stream against an unreachable orchestrator.
type WatchChecker struct {
	name       string
	maxAge     time.Duration
	lastActive func() time.Time
}

func NewWatchChecker(name string, maxAge time.Duration, lastActive func() time.Time) *WatchChecker {
	return &WatchChecker{name: name, maxAge: maxAge, lastActive: lastActive}
}

func (c *WatchChecker) Check() error {
	last := c.lastActive()
	if last.IsZero() {
		return fmt.Errorf("%s watcher has not completed its first snapshot", c.name)
	}
	if age := time.Since(last); age > c.maxAge {
		return fmt.Errorf("%s watcher stale for %s, exceeds %s", c.name, age, c.maxAge)
	}
	return nil
}
