// Package watchstate holds the in-memory mirror of Kubernetes cluster state the
// scheduler core observes: service-id -> Service (from the ReplicaSet watch) and
// service-id -> pod-name -> ServiceInstance (from the Pod watch). It is grounded
// on the teacher's pattern of a cache.Indexer-backed informer
// (internal/executor/context/cluster_context.go), but since this module's
// orchestrator client is a raw HTTP watch stream rather than client-go, the cache
// itself is a copy-on-write map held behind an atomic pointer: readers load a
// snapshot without ever taking a lock, and writers swap in a new map.
package watchstate

import (
	"sync/atomic"
	"time"

	"github.com/waiter-project/scheduler/internal/scheduler/domain"
)

// Metadata tracks the bookmarking state of one watch stream: when the last
// snapshot/event was applied and what resource-version it carried. Per spec.md
// 9, a resource-version is an opaque bookmark token, not a comparable number.
type Metadata struct {
	SnapshotTime    time.Time
	WatchTime       time.Time
	SnapshotVersion string
	WatchVersion    string
}

type servicesMap = map[string]*domain.Service

// podsMap is service-id -> pod-name -> instance.
type podsMap = map[string]map[string]*domain.ServiceInstance

// State is the process-scoped mirror of orchestrator state for one backend.
// The zero value is not usable (its map pointers are nil); build one with New.
type State struct {
	services atomic.Pointer[servicesMap]
	pods     atomic.Pointer[podsMap]

	serviceMeta atomic.Pointer[Metadata]
	podMeta     atomic.Pointer[Metadata]
}

// New returns an empty State.
func New() *State {
	s := &State{}
	empty := servicesMap{}
	s.services.Store(&empty)
	emptyPods := podsMap{}
	s.pods.Store(&emptyPods)
	s.serviceMeta.Store(&Metadata{})
	s.podMeta.Store(&Metadata{})
	return s
}

// Services returns the current snapshot of service-id -> Service. The returned
// map must not be mutated by the caller.
func (s *State) Services() servicesMap {
	return *s.services.Load()
}

// Service looks up a single service by id.
func (s *State) Service(serviceId string) (*domain.Service, bool) {
	svc, ok := s.Services()[serviceId]
	return svc, ok
}

// SetServices atomically replaces the entire service mirror, as done after a
// snapshot list call.
func (s *State) SetServices(services servicesMap, version string) {
	if services == nil {
		services = servicesMap{}
	}
	s.services.Store(&services)
	s.updateServiceMeta(func(m *Metadata) {
		m.SnapshotTime = time.Now()
		m.SnapshotVersion = version
	})
}

// UpsertService copy-on-write inserts or replaces one service, as done for a
// watch ADDED/MODIFIED event.
func (s *State) UpsertService(svc *domain.Service, version string) {
	cur := s.Services()
	next := make(servicesMap, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	next[svc.Id] = svc
	s.services.Store(&next)
	s.updateServiceMeta(func(m *Metadata) {
		m.WatchTime = time.Now()
		m.WatchVersion = version
	})
}

// DeleteService copy-on-write removes a service, as done for a watch DELETED
// event or after delete-service succeeds.
func (s *State) DeleteService(serviceId string, version string) {
	cur := s.Services()
	if _, ok := cur[serviceId]; !ok {
		return
	}
	next := make(servicesMap, len(cur))
	for k, v := range cur {
		if k != serviceId {
			next[k] = v
		}
	}
	s.services.Store(&next)
	s.updateServiceMeta(func(m *Metadata) {
		m.WatchTime = time.Now()
		if version != "" {
			m.WatchVersion = version
		}
	})
}

// Pods returns the current snapshot of service-id -> pod-name -> instance. The
// returned map must not be mutated by the caller.
func (s *State) Pods() podsMap {
	return *s.pods.Load()
}

// PodsForService returns the instances observed for one service.
func (s *State) PodsForService(serviceId string) map[string]*domain.ServiceInstance {
	return s.Pods()[serviceId]
}

// SetPods atomically replaces the entire pod mirror, as done after a snapshot
// list call.
func (s *State) SetPods(pods podsMap, version string) {
	if pods == nil {
		pods = podsMap{}
	}
	s.pods.Store(&pods)
	s.updatePodMeta(func(m *Metadata) {
		m.SnapshotTime = time.Now()
		m.SnapshotVersion = version
	})
}

// UpsertPod copy-on-write inserts or replaces one pod's instance under its
// owning service-id, as done for a watch ADDED/MODIFIED event.
func (s *State) UpsertPod(serviceId, podName string, instance *domain.ServiceInstance, version string) {
	cur := s.Pods()
	next := make(podsMap, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	curForService := next[serviceId]
	nextForService := make(map[string]*domain.ServiceInstance, len(curForService)+1)
	for k, v := range curForService {
		nextForService[k] = v
	}
	nextForService[podName] = instance
	next[serviceId] = nextForService
	s.pods.Store(&next)
	s.updatePodMeta(func(m *Metadata) {
		m.WatchTime = time.Now()
		m.WatchVersion = version
	})
}

// DeletePod copy-on-write removes one pod's instance, as done for a watch
// DELETED event.
func (s *State) DeletePod(serviceId, podName string, version string) {
	cur := s.Pods()
	curForService, ok := cur[serviceId]
	if !ok {
		return
	}
	if _, ok := curForService[podName]; !ok {
		return
	}
	next := make(podsMap, len(cur))
	for k, v := range cur {
		next[k] = v
	}
	nextForService := make(map[string]*domain.ServiceInstance, len(curForService))
	for k, v := range curForService {
		if k != podName {
			nextForService[k] = v
		}
	}
	next[serviceId] = nextForService
	s.pods.Store(&next)
	s.updatePodMeta(func(m *Metadata) {
		m.WatchTime = time.Now()
		if version != "" {
			m.WatchVersion = version
		}
	})
}

// ServiceMeta returns the ReplicaSet watch stream's bookmarking metadata.
func (s *State) ServiceMeta() Metadata {
	return *s.serviceMeta.Load()
}

// PodMeta returns the Pod watch stream's bookmarking metadata.
func (s *State) PodMeta() Metadata {
	return *s.podMeta.Load()
}

func (s *State) updateServiceMeta(mutate func(*Metadata)) {
	cur := *s.serviceMeta.Load()
	mutate(&cur)
	s.serviceMeta.Store(&cur)
}

func (s *State) updatePodMeta(mutate func(*Metadata)) {
	cur := *s.podMeta.Load()
	mutate(&cur)
	s.podMeta.Store(&cur)
}
