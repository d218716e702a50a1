// Package scheduler defines the Scheduler facade: the stable interface the rest of
// Waiter (router, autoscaler, UI) consumes, implemented by the Kubernetes-backed
// scheduler, the composite scheduler, and the shell-backed test scheduler. This is
// the scheduler-core analogue of the teacher's context.ClusterContext interface in
// internal/executor/context/cluster_context.go: one capability interface, several
// backends.
package scheduler

import (
	"time"

	"github.com/waiter-project/scheduler/internal/scheduler/domain"
)

// CreateResult tags the outcome of create-service-if-new.
type CreateResult string

const (
	CreateResultCreated       CreateResult = "created"
	CreateResultAlreadyExists CreateResult = "already-exists"
	CreateResultError         CreateResult = "error"
)

// DeleteResult tags the outcome of delete-service.
type DeleteResult string

const (
	DeleteResultDeleted       DeleteResult = "deleted"
	DeleteResultNoSuchService DeleteResult = "no-such-service-exists"
	DeleteResultError         DeleteResult = "error"
)

// ScaleResult tags the outcome of scale-service.
type ScaleResult string

const (
	ScaleResultSuccess  ScaleResult = "success"
	ScaleResultConflict ScaleResult = "conflict"
	ScaleResultNoOp     ScaleResult = "no-op"
	ScaleResultError    ScaleResult = "error"
)

// OperationOutcome is the structured result every mutating scheduler operation
// returns, carrying an HTTP-flavoured status, a human message and a domain-level
// result tag, matching how every mutating operation reports "all operations
// return a result object containing status, message, a domain-level result tag".
type OperationOutcome struct {
	Success bool
	Status  int
	Message string
}

// CreateOutcome is the result of create-service-if-new.
type CreateOutcome struct {
	OperationOutcome
	Result  CreateResult
	Service *domain.Service
}

// DeleteOutcome is the result of delete-service.
type DeleteOutcome struct {
	OperationOutcome
	Result DeleteResult
}

// ScaleOutcome is the result of scale-service.
type ScaleOutcome struct {
	OperationOutcome
	Result ScaleResult
}

// KillOutcome is the result of kill-instance.
type KillOutcome struct {
	OperationOutcome
	Killed bool
}

// DirectoryEntry is one entry returned by retrieve-directory-content.
type DirectoryEntry struct {
	Name string
	Type string // "file" or "directory"
	Url  string // present for files
	Path string // present for directories (navigable sub-path)
}

// ServiceInstances is the active/failed instance view for one service, as produced
// by get-service->instances and published by the syncer.
type ServiceInstances struct {
	ActiveInstances []*domain.ServiceInstance
	FailedInstances []*domain.FailedInstance
}

// State is the debug/observability snapshot returned by the state operation:
// the watch state, the failure store and the syncer's own bookkeeping.
type State struct {
	Services        map[string]*domain.Service
	FailedInstances map[string]map[string]*domain.FailedInstance
	Syncer          SyncerState
}

// SyncerState is what retrieve-syncer-state exposes for observability.
type SyncerState struct {
	LastPublishTime time.Time
	LastServiceCount int
}

// Scheduler is the facade every backend (Kubernetes, composite, shell-for-test)
// implements.
type Scheduler interface {
	GetServices() ([]*domain.Service, error)
	ServiceExists(serviceId string) (bool, error)
	CreateServiceIfNew(descriptor *domain.ServiceDescription) *CreateOutcome
	DeleteService(serviceId string) *DeleteOutcome
	ScaleService(serviceId string, targetInstances int) *ScaleOutcome
	KillInstance(instance *domain.ServiceInstance) *KillOutcome
	RetrieveDirectoryContent(host, path string) ([]DirectoryEntry, error)
	GetServiceInstances(serviceId string) (*ServiceInstances, error)
	State() *State
	ValidateService(serviceId string) error
}
