// Package shellscheduler implements the Scheduler facade against a local
// os/exec-driven process table instead of an orchestrator. Per spec.md 9 ("a
// shell backend is only for tests"), it exists purely for composite-scheduler
// and syncer tests that need a real, runnable backend without a Kubernetes
// API server. It is grounded on the teacher's in-memory fake backends
// (internal/executor/context/fake.SyncFakeClusterContext,
// internal/executor/job/fake): a map-backed table mutated directly by the
// operations the real backend would otherwise issue over the wire, except
// here "the wire" is literally forking a process.
package shellscheduler

import (
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/waiter-project/scheduler/internal/scheduler/authorizer"
	"github.com/waiter-project/scheduler/internal/scheduler/domain"
	"github.com/waiter-project/scheduler/internal/scheduler"
)

type instance struct {
	data *domain.ServiceInstance
	cmd  *exec.Cmd
}

// Scheduler is the shell-backed Scheduler. The zero value is not usable; use
// New.
type Scheduler struct {
	mu          sync.Mutex
	services    map[string]*domain.Service
	descriptors map[string]*domain.ServiceDescription
	instances   map[string]map[string]*instance // service-id -> instance-id -> instance
	failed      map[string]map[string]*domain.FailedInstance
	authorizer  authorizer.Authorizer
}

// New returns an empty shell scheduler. authz defaults to AllowAll if nil.
func New(authz authorizer.Authorizer) *Scheduler {
	if authz == nil {
		authz = authorizer.AllowAll{}
	}
	return &Scheduler{
		services:    map[string]*domain.Service{},
		descriptors: map[string]*domain.ServiceDescription{},
		instances:   map[string]map[string]*instance{},
		failed:      map[string]map[string]*domain.FailedInstance{},
		authorizer:  authz,
	}
}

var _ scheduler.Scheduler = (*Scheduler)(nil)

func (s *Scheduler) GetServices() ([]*domain.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Service, 0, len(s.services))
	for _, svc := range s.services {
		copied := *svc
		out = append(out, &copied)
	}
	return out, nil
}

func (s *Scheduler) ServiceExists(serviceId string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.services[serviceId]
	return ok, nil
}

// CreateServiceIfNew registers the service and spawns min-instances shell
// processes running desc.Cmd. cmd-type "docker" is rejected, matching the
// real backend's restriction.
func (s *Scheduler) CreateServiceIfNew(desc *domain.ServiceDescription) *scheduler.CreateOutcome {
	if desc.CmdType == "docker" {
		return &scheduler.CreateOutcome{
			OperationOutcome: scheduler.OperationOutcome{Success: false, Status: 400, Message: "cmd-type docker is unsupported"},
			Result:           scheduler.CreateResultError,
		}
	}

	s.mu.Lock()
	if _, exists := s.services[desc.ServiceId]; exists {
		s.mu.Unlock()
		return &scheduler.CreateOutcome{
			OperationOutcome: scheduler.OperationOutcome{Success: true, Status: 200, Message: "service already exists"},
			Result:           scheduler.CreateResultAlreadyExists,
		}
	}
	svc := &domain.Service{Id: desc.ServiceId, AppName: desc.ServiceId, Namespace: desc.RunAsUser}
	s.services[desc.ServiceId] = svc
	s.descriptors[desc.ServiceId] = desc
	s.instances[desc.ServiceId] = map[string]*instance{}
	s.mu.Unlock()

	for i := 0; i < desc.MinInstances; i++ {
		if err := s.spawn(desc); err != nil {
			return &scheduler.CreateOutcome{
				OperationOutcome: scheduler.OperationOutcome{Success: false, Status: 500, Message: err.Error()},
				Result:           scheduler.CreateResultError,
			}
		}
	}

	return &scheduler.CreateOutcome{
		OperationOutcome: scheduler.OperationOutcome{Success: true, Status: 201, Message: "created"},
		Result:           scheduler.CreateResultCreated,
		Service:          svc,
	}
}

// spawn forks one shell incarnation of desc.Cmd and records it as a running
// instance. The process is genuinely started via os/exec, not simulated, so
// tests exercise the same start/kill/wait lifecycle the real backend manages
// through the orchestrator.
func (s *Scheduler) spawn(desc *domain.ServiceDescription) error {
	id := uuid.New().String()
	podName := "shell-" + id[:8]

	cmd := exec.Command("/bin/sh", "-c", desc.Cmd)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting instance of %s: %w", desc.ServiceId, err)
	}

	inst := &instance{
		cmd: cmd,
		data: &domain.ServiceInstance{
			Id:        domain.InstanceId(desc.ServiceId, podName, 0),
			ServiceId: desc.ServiceId,
			PodName:   podName,
			Namespace: desc.RunAsUser,
			Host:      "127.0.0.1",
			Healthy:   true,
			StartedAt: time.Now(),
		},
	}

	s.mu.Lock()
	s.instances[desc.ServiceId][inst.data.Id] = inst
	svc := s.services[desc.ServiceId]
	svc.Instances++
	svc.TaskCount++
	svc.TaskStats.Healthy++
	svc.TaskStats.Running++
	s.mu.Unlock()

	go s.reap(desc.ServiceId, inst)
	return nil
}

// reap waits for a spawned process to exit on its own (as opposed to being
// killed by KillInstance, which removes the bookkeeping itself) and records
// the exit as a failure.
func (s *Scheduler) reap(serviceId string, inst *instance) {
	err := inst.cmd.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	byId, ok := s.instances[serviceId]
	if !ok {
		return
	}
	if _, ok := byId[inst.data.Id]; !ok {
		return // already removed by KillInstance/DeleteService
	}
	delete(byId, inst.data.Id)

	if svc, ok := s.services[serviceId]; ok {
		svc.TaskCount--
		svc.TaskStats.Healthy--
		svc.TaskStats.Running--
	}

	exitCode := int32(0)
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = int32(exitErr.ExitCode())
	}
	failedInstance := &domain.FailedInstance{ServiceInstance: *inst.data}
	failedInstance.Healthy = false
	failedInstance.ExitCode = &exitCode

	forService, ok := s.failed[serviceId]
	if !ok {
		forService = map[string]*domain.FailedInstance{}
		s.failed[serviceId] = forService
	}
	forService[inst.data.Id] = failedInstance
}

func (s *Scheduler) DeleteService(serviceId string) *scheduler.DeleteOutcome {
	s.mu.Lock()
	_, ok := s.services[serviceId]
	if !ok {
		s.mu.Unlock()
		return &scheduler.DeleteOutcome{
			OperationOutcome: scheduler.OperationOutcome{Success: true, Status: 404, Message: "no such service exists"},
			Result:           scheduler.DeleteResultNoSuchService,
		}
	}
	instances := s.instances[serviceId]
	delete(s.services, serviceId)
	delete(s.descriptors, serviceId)
	delete(s.instances, serviceId)
	delete(s.failed, serviceId)
	s.mu.Unlock()

	for _, inst := range instances {
		_ = inst.cmd.Process.Kill()
	}

	return &scheduler.DeleteOutcome{
		OperationOutcome: scheduler.OperationOutcome{Success: true, Status: 200, Message: "deleted"},
		Result:           scheduler.DeleteResultDeleted,
	}
}

func (s *Scheduler) ScaleService(serviceId string, target int) *scheduler.ScaleOutcome {
	s.mu.Lock()
	desc, ok := s.descriptors[serviceId]
	current := 0
	if svc, exists := s.services[serviceId]; exists {
		current = svc.Instances
	}
	s.mu.Unlock()
	if !ok {
		return &scheduler.ScaleOutcome{
			OperationOutcome: scheduler.OperationOutcome{Success: false, Status: 404, Message: "no such service exists"},
			Result:           scheduler.ScaleResultError,
		}
	}
	if target <= current {
		return &scheduler.ScaleOutcome{
			OperationOutcome: scheduler.OperationOutcome{Success: true, Status: 200, Message: "target at or below current, no-op"},
			Result:           scheduler.ScaleResultNoOp,
		}
	}
	for i := current; i < target; i++ {
		if err := s.spawn(desc); err != nil {
			return &scheduler.ScaleOutcome{
				OperationOutcome: scheduler.OperationOutcome{Success: false, Status: 500, Message: err.Error()},
				Result:           scheduler.ScaleResultError,
			}
		}
	}
	return &scheduler.ScaleOutcome{
		OperationOutcome: scheduler.OperationOutcome{Success: true, Status: 200, Message: "scaled"},
		Result:           scheduler.ScaleResultSuccess,
	}
}

func (s *Scheduler) KillInstance(target *domain.ServiceInstance) *scheduler.KillOutcome {
	s.mu.Lock()
	byId, ok := s.instances[target.ServiceId]
	if !ok {
		s.mu.Unlock()
		return &scheduler.KillOutcome{
			OperationOutcome: scheduler.OperationOutcome{Success: true, Status: 404, Message: "no such instance exists"},
			Killed:           false,
		}
	}
	inst, ok := byId[target.Id]
	if !ok {
		s.mu.Unlock()
		return &scheduler.KillOutcome{
			OperationOutcome: scheduler.OperationOutcome{Success: true, Status: 404, Message: "no such instance exists"},
			Killed:           false,
		}
	}
	delete(byId, target.Id)
	if svc, exists := s.services[target.ServiceId]; exists {
		svc.Instances--
		svc.TaskCount--
		svc.TaskStats.Healthy--
		svc.TaskStats.Running--
	}
	s.mu.Unlock()

	if err := inst.cmd.Process.Kill(); err != nil {
		return &scheduler.KillOutcome{
			OperationOutcome: scheduler.OperationOutcome{Success: false, Status: 500, Message: err.Error()},
			Killed:           false,
		}
	}
	go inst.cmd.Wait() // reap the zombie; bookkeeping already removed above.

	return &scheduler.KillOutcome{
		OperationOutcome: scheduler.OperationOutcome{Success: true, Status: 200, Message: "killed"},
		Killed:           true,
	}
}

func (s *Scheduler) RetrieveDirectoryContent(host, path string) ([]scheduler.DirectoryEntry, error) {
	// The shell backend has no fileserver sidecar, so it lists no entries.
	return nil, nil
}

func (s *Scheduler) GetServiceInstances(serviceId string) (*scheduler.ServiceInstances, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	active := make([]*domain.ServiceInstance, 0, len(s.instances[serviceId]))
	for _, inst := range s.instances[serviceId] {
		copied := *inst.data
		active = append(active, &copied)
	}
	failed := make([]*domain.FailedInstance, 0, len(s.failed[serviceId]))
	for _, f := range s.failed[serviceId] {
		copied := *f
		failed = append(failed, &copied)
	}
	return &scheduler.ServiceInstances{ActiveInstances: active, FailedInstances: failed}, nil
}

func (s *Scheduler) State() *scheduler.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	services := make(map[string]*domain.Service, len(s.services))
	for id, svc := range s.services {
		copied := *svc
		services[id] = &copied
	}
	failed := make(map[string]map[string]*domain.FailedInstance, len(s.failed))
	for id, forService := range s.failed {
		copiedForService := make(map[string]*domain.FailedInstance, len(forService))
		for k, v := range forService {
			copiedForService[k] = v
		}
		failed[id] = copiedForService
	}
	return &scheduler.State{Services: services, FailedInstances: failed}
}

func (s *Scheduler) ValidateService(serviceId string) error {
	return s.authorizer.Authorize(serviceId)
}
