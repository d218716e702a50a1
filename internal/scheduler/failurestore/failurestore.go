// Package failurestore retains a per-service history of terminated pod
// incarnations. The history has no size cap: a service's entries are dropped
// only when the service is deleted. It mines the same status.containerStatuses[0].lastState.terminated
// field the teacher's util.ExtractPodFailedCause/isOom helpers
// (internal/executor/util/pod_status.go) inspect to classify failed containers,
// but instead of producing a one-shot api.Cause for a reporter, it accumulates a
// keyed, idempotent FailedInstance history per spec.md 4.5.
package failurestore

import (
	"sync"

	corev1 "k8s.io/api/core/v1"

	"github.com/waiter-project/scheduler/internal/scheduler/domain"
)

const oomKilledReason = "OOMKilled"

// killedByOrchestratorExitCode is the exit code Kubernetes' own liveness-probe
// kill leaves behind; combined with reason "Error" it marks a pod that died
// because it failed its probe, not because the process itself exited non-zero.
const killedByOrchestratorExitCode = 137

const killedByOrchestratorReason = "Error"

// Store is the process-scoped failure history: service-id -> instance-id ->
// FailedInstance. Safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	byServc map[string]map[string]*domain.FailedInstance
}

// New returns an empty Store.
func New() *Store {
	return &Store{byServc: map[string]map[string]*domain.FailedInstance{}}
}

// Observe inspects one live-pod update and inserts a FailedInstance if the
// pod's primary container carries a lastState.terminated that has not already
// been recorded. Per spec.md 4.5, entries are keyed by
// (service-id, pod-name, restart-count - 1), so repeated observations of the
// same terminated incarnation are idempotent and a fresh restart always
// produces a new, distinct record. Returns the inserted instance, or nil if
// nothing new was observed.
func (s *Store) Observe(serviceId string, pod *corev1.Pod) *domain.FailedInstance {
	if len(pod.Status.ContainerStatuses) == 0 {
		return nil
	}
	cs := pod.Status.ContainerStatuses[0]
	terminated := cs.LastTerminationState.Terminated
	if terminated == nil {
		return nil
	}
	if cs.RestartCount == 0 {
		return nil
	}
	failedRestartCount := int(cs.RestartCount) - 1
	instanceId := domain.InstanceId(serviceId, pod.Name, failedRestartCount)

	var flags []domain.InstanceFlag
	if terminated.Reason == oomKilledReason {
		flags = []domain.InstanceFlag{domain.MemoryLimitExceeded}
	}

	var exitCode *int32
	killedByOrchestrator := terminated.ExitCode == killedByOrchestratorExitCode && terminated.Reason == killedByOrchestratorReason
	if !killedByOrchestrator {
		ec := terminated.ExitCode
		exitCode = &ec
	}

	failed := &domain.FailedInstance{ServiceInstance: domain.ServiceInstance{
		Id:           instanceId,
		ServiceId:    serviceId,
		StartedAt:    terminated.StartedAt.Time,
		Healthy:      false,
		RestartCount: failedRestartCount,
		Flags:        flags,
		ExitCode:     exitCode,
	}}

	s.mu.Lock()
	defer s.mu.Unlock()
	forService, ok := s.byServc[serviceId]
	if !ok {
		forService = map[string]*domain.FailedInstance{}
		s.byServc[serviceId] = forService
	}
	if _, exists := forService[instanceId]; exists {
		return nil
	}
	forService[instanceId] = failed
	return failed
}

// ForService returns the failure history for one service. The returned map
// must not be mutated by the caller.
func (s *Store) ForService(serviceId string) map[string]*domain.FailedInstance {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*domain.FailedInstance, len(s.byServc[serviceId]))
	for k, v := range s.byServc[serviceId] {
		out[k] = v
	}
	return out
}

// All returns a snapshot of the entire failure history, as used by the state
// operation.
func (s *Store) All() map[string]map[string]*domain.FailedInstance {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]map[string]*domain.FailedInstance, len(s.byServc))
	for serviceId, forService := range s.byServc {
		copied := make(map[string]*domain.FailedInstance, len(forService))
		for k, v := range forService {
			copied[k] = v
		}
		out[serviceId] = copied
	}
	return out
}

// DeleteService removes a service's entire failure history. Called after
// delete-service succeeds, per spec.md 3's "removed only when the service is
// deleted" and invariant 4 in spec.md 8.
func (s *Store) DeleteService(serviceId string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byServc, serviceId)
}
