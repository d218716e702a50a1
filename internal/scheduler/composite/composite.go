// Package composite implements the composite scheduler: a pure router over
// several tagged sub-schedulers, per spec.md 4.7. It holds no orchestrator
// state of its own; every operation it exposes is either a fan-out across all
// backends (get-services, state) or a lookup-then-delegate to exactly one
// backend (everything keyed by service-id).
package composite

import (
	"fmt"
	"sync"

	"github.com/waiter-project/scheduler/internal/scheduler/domain"
	"github.com/waiter-project/scheduler/internal/scheduler"
)

// Scheduler routes operations to one of several tagged backends. The tag a
// service belongs to is fixed at create time (domain.ServiceDescription.Tag,
// defaulting to defaultTag) and remembered for the lifetime of the service, so
// every later service-id-keyed operation reaches the same backend that
// created it.
type Scheduler struct {
	backends   map[string]scheduler.Scheduler
	defaultTag string

	mu          sync.RWMutex
	assignments map[string]string // service-id -> tag
}

// New builds a composite scheduler over backends, keyed by tag. defaultTag
// must be a key of backends.
func New(backends map[string]scheduler.Scheduler, defaultTag string) (*Scheduler, error) {
	if _, ok := backends[defaultTag]; !ok {
		return nil, fmt.Errorf("composite scheduler: default-tag %q has no backend", defaultTag)
	}
	return &Scheduler{
		backends:    backends,
		defaultTag:  defaultTag,
		assignments: map[string]string{},
	}, nil
}

var _ scheduler.Scheduler = (*Scheduler)(nil)

func (s *Scheduler) tagFor(serviceId string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if tag, ok := s.assignments[serviceId]; ok {
		return tag
	}
	return s.defaultTag
}

func (s *Scheduler) backendFor(serviceId string) scheduler.Scheduler {
	return s.backends[s.tagFor(serviceId)]
}

func (s *Scheduler) assign(serviceId, tag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignments[serviceId] = tag
}

func (s *Scheduler) forget(serviceId string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.assignments, serviceId)
}

// GetServices concatenates get-services across every backend, per spec.md 4.7.
func (s *Scheduler) GetServices() ([]*domain.Service, error) {
	var all []*domain.Service
	for _, backend := range s.backends {
		services, err := backend.GetServices()
		if err != nil {
			return nil, err
		}
		all = append(all, services...)
	}
	return all, nil
}

func (s *Scheduler) ServiceExists(serviceId string) (bool, error) {
	return s.backendFor(serviceId).ServiceExists(serviceId)
}

// CreateServiceIfNew resolves the service's tag (desc.Tag, or the default),
// remembers the assignment so later operations on this service-id route to
// the same backend, and delegates.
func (s *Scheduler) CreateServiceIfNew(desc *domain.ServiceDescription) *scheduler.CreateOutcome {
	tag := desc.Tag
	if tag == "" {
		tag = s.defaultTag
	}
	backend, ok := s.backends[tag]
	if !ok {
		return &scheduler.CreateOutcome{
			OperationOutcome: scheduler.OperationOutcome{Success: false, Status: 400, Message: fmt.Sprintf("no backend registered for tag %q", tag)},
			Result:           scheduler.CreateResultError,
		}
	}
	outcome := backend.CreateServiceIfNew(desc)
	if outcome.Success {
		s.assign(desc.ServiceId, tag)
	}
	return outcome
}

func (s *Scheduler) DeleteService(serviceId string) *scheduler.DeleteOutcome {
	outcome := s.backendFor(serviceId).DeleteService(serviceId)
	if outcome.Success {
		s.forget(serviceId)
	}
	return outcome
}

func (s *Scheduler) ScaleService(serviceId string, target int) *scheduler.ScaleOutcome {
	return s.backendFor(serviceId).ScaleService(serviceId, target)
}

func (s *Scheduler) KillInstance(instance *domain.ServiceInstance) *scheduler.KillOutcome {
	return s.backendFor(instance.ServiceId).KillInstance(instance)
}

func (s *Scheduler) RetrieveDirectoryContent(host, path string) ([]scheduler.DirectoryEntry, error) {
	// Directory listing talks directly to the pod's fileserver sidecar and
	// carries no service-id, so every backend shares the implementation; any
	// one of them can serve it. Route through the default backend.
	return s.backends[s.defaultTag].RetrieveDirectoryContent(host, path)
}

func (s *Scheduler) GetServiceInstances(serviceId string) (*scheduler.ServiceInstances, error) {
	return s.backendFor(serviceId).GetServiceInstances(serviceId)
}

// State merges the sub-scheduler states into one flat State: services and
// failed instances keyed by service-id, and the syncer state of whichever
// backend published most recently. The result is not broken down by tag.
func (s *Scheduler) State() *scheduler.State {
	merged := &scheduler.State{
		Services:        map[string]*domain.Service{},
		FailedInstances: map[string]map[string]*domain.FailedInstance{},
	}
	var latestPublish scheduler.SyncerState
	for _, backend := range s.backends {
		state := backend.State()
		for id, svc := range state.Services {
			merged.Services[id] = svc
		}
		for id, failed := range state.FailedInstances {
			merged.FailedInstances[id] = failed
		}
		if state.Syncer.LastPublishTime.After(latestPublish.LastPublishTime) {
			latestPublish = state.Syncer
		}
	}
	merged.Syncer = latestPublish
	return merged
}

func (s *Scheduler) ValidateService(serviceId string) error {
	return s.backendFor(serviceId).ValidateService(serviceId)
}
