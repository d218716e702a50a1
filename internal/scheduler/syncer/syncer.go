// Package syncer implements the periodic snapshot publisher of spec.md 4.8:
// it calls get-service->instances on a backend and pushes
// {service -> {active-instances, failed-instances}} onto a bounded channel
// for the router/autoscaler to consume. It is grounded on the teacher's
// internal/common/task.BackgroundTaskManager for the interval-driven worker
// registration and internal/executor/healthmonitor's shared-cell-plus-worker
// shape for retrieve-syncer-state's observability cell.
package syncer

import (
	"sync"
	"time"

	"github.com/waiter-project/scheduler/internal/common/armadacontext"
	"github.com/waiter-project/scheduler/internal/common/task"
	"github.com/waiter-project/scheduler/internal/scheduler"
)

// Snapshot is one published syncer tick.
type Snapshot struct {
	Timestamp time.Time
	Services  map[string]scheduler.ServiceInstances
}

// Syncer periodically reads a backend's services and instances and publishes
// a Snapshot to a bounded channel. The zero value is not usable; use New.
type Syncer struct {
	backend scheduler.Scheduler
	out     chan Snapshot

	mu    sync.Mutex
	state scheduler.SyncerState
}

// New returns a Syncer over backend, buffering up to bufferSize unconsumed
// snapshots before the oldest is dropped to make room for the newest.
func New(backend scheduler.Scheduler, bufferSize int) *Syncer {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Syncer{
		backend: backend,
		out:     make(chan Snapshot, bufferSize),
	}
}

// Start registers the publish tick on taskManager at interval. The first
// publish starts immediately on the task's goroutine, matching
// BackgroundTaskManager.Register's immediate-first-run semantics; Start does
// not wait for it to finish.
func (s *Syncer) Start(taskManager *task.BackgroundTaskManager, interval time.Duration) {
	taskManager.Register(s.publish, interval, "syncer")
}

// Out is the bounded channel snapshots are published to.
func (s *Syncer) Out() <-chan Snapshot {
	return s.out
}

// RetrieveSyncerState returns the most recent publish timestamp and snapshot
// size, per spec.md 4.8.
func (s *Syncer) RetrieveSyncerState() scheduler.SyncerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// publish is the periodic tick. Per spec.md 7's syncer error policy, any
// failure is caught and logged against ctx's logger; the channel still
// receives a snapshot, empty for any service whose instances could not be
// read.
func (s *Syncer) publish(ctx *armadacontext.Context) {
	snapshot := Snapshot{Timestamp: time.Now(), Services: map[string]scheduler.ServiceInstances{}}

	services, err := s.backend.GetServices()
	if err != nil {
		ctx.Log.Errorf("get-services failed: %s", err)
	}

	for _, svc := range services {
		instances, err := s.backend.GetServiceInstances(svc.Id)
		if err != nil {
			ctx.Log.Errorf("get-service-instances failed for %s: %s", svc.Id, err)
			instances = &scheduler.ServiceInstances{}
		}
		snapshot.Services[svc.Id] = *instances
	}

	s.send(ctx, snapshot)

	s.mu.Lock()
	s.state = scheduler.SyncerState{LastPublishTime: snapshot.Timestamp, LastServiceCount: len(snapshot.Services)}
	s.mu.Unlock()
}

// send is a non-blocking, drop-oldest publish: a slow consumer must not stall
// the syncer's interval-driven tick, and a snapshot from this tick is always
// preferred over one from a prior tick.
func (s *Syncer) send(ctx *armadacontext.Context, snapshot Snapshot) {
	select {
	case s.out <- snapshot:
		return
	default:
	}
	select {
	case <-s.out:
	default:
	}
	select {
	case s.out <- snapshot:
	default:
		ctx.Log.Warn("dropped a snapshot, consumer is not keeping up")
	}
}
