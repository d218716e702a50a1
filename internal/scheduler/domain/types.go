// Package domain holds the data model the scheduler core exposes to the rest of
// Waiter: Service, ServiceInstance and FailedInstance, plus the label/annotation
// keys used to recover them from Kubernetes objects. It is the scheduler-core
// analogue of the teacher's internal/executor/domain package.
package domain

import (
	"strconv"
	"time"
)

// Label and annotation keys applied to every ReplicaSet and Pod the scheduler core
// creates, and read back off watched objects to recover Waiter-level identity.
const (
	LabelApp       = "app"
	LabelManagedBy = "managed-by"

	AnnotationServiceId = "waiter/service-id"
	AnnotationProtocol  = "waiter/protocol"
	AnnotationPortCount = "waiter/port-count"
)

// InstanceFlag is a bit of extra detail about why an instance is in its current
// state. The only flag defined today is memory-limit-exceeded (OOMKilled).
type InstanceFlag string

const MemoryLimitExceeded InstanceFlag = "memory-limit-exceeded"

// TaskStats breaks a Service's observed task-count down into healthy, running,
// staged and unhealthy counts. Invariant: Running + Staged == TaskCount and
// Unhealthy == TaskCount - Healthy - Staged, clamped to zero (see spec open
// question: readyReplicas - replicas can transiently go negative).
type TaskStats struct {
	Healthy   int
	Running   int
	Staged    int
	Unhealthy int
}

// Service is a logical Waiter workload reified as a ReplicaSet.
type Service struct {
	Id         string
	Instances  int // requested replicas (spec.replicas)
	TaskCount  int // observed replicas (status.replicas)
	TaskStats  TaskStats
	AppName    string
	Namespace  string
}

// ServiceInstance is one observed incarnation of one replica of a Service.
type ServiceInstance struct {
	Id           string
	ServiceId    string
	PodName      string
	Namespace    string
	Host         string
	Port         int
	ExtraPorts   []int
	Protocol     string
	StartedAt    time.Time
	Healthy      bool
	LogDirectory string
	RestartCount int
	Flags        []InstanceFlag
	ExitCode     *int32
}

// FailedInstance is a terminated incarnation retained in the failure store. It has
// the same shape as ServiceInstance with Healthy always false.
type FailedInstance struct {
	ServiceInstance
}

// InstanceId derives the unique, restart-scoped instance id for a pod incarnation:
// service-id + "." + pod-name + "-" + restart-count. Collisions are impossible
// across services because service-id is a prefix delimited by "."; collisions
// within a service require identical (pod-name, restart-count), which the
// orchestrator's monotonic restart-count rules out for a live pod.
func InstanceId(serviceId, podName string, restartCount int) string {
	return serviceId + "." + podName + "-" + strconv.Itoa(restartCount)
}
