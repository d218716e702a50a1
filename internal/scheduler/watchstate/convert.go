package watchstate

import (
	"fmt"
	"path"
	"strconv"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"

	"github.com/waiter-project/scheduler/internal/scheduler/domain"
)

// ConvertReplicaSet derives a Service from a ReplicaSet, as the replicasets-watcher
// does for every item in a snapshot list or ADDED/MODIFIED watch event. Objects
// missing the waiter/service-id annotation are not Waiter-owned and are rejected
// so the caller can skip them, per spec.md 4.3 ("skipping conversion errors").
func ConvertReplicaSet(rs *appsv1.ReplicaSet) (*domain.Service, error) {
	serviceId, ok := rs.Annotations[domain.AnnotationServiceId]
	if !ok || serviceId == "" {
		return nil, fmt.Errorf("replicaset %s/%s has no %s annotation", rs.Namespace, rs.Name, domain.AnnotationServiceId)
	}

	requested := 0
	if rs.Spec.Replicas != nil {
		requested = int(*rs.Spec.Replicas)
	}

	taskCount := int(rs.Status.Replicas)
	staged := taskCount - int(rs.Status.AvailableReplicas)
	if staged < 0 {
		staged = 0
	}
	running := taskCount - staged
	if running < 0 {
		running = 0
	}
	healthy := int(rs.Status.ReadyReplicas)
	// unhealthy = taskCount - healthy - staged, clamped at zero per spec.md 9's
	// open question: readyReplicas - replicas can transiently go negative.
	unhealthy := taskCount - healthy - staged
	if unhealthy < 0 {
		unhealthy = 0
	}

	return &domain.Service{
		Id:        serviceId,
		Instances: requested,
		TaskCount: taskCount,
		TaskStats: domain.TaskStats{
			Healthy:   healthy,
			Running:   running,
			Staged:    staged,
			Unhealthy: unhealthy,
		},
		AppName:   rs.Name,
		Namespace: rs.Namespace,
	}, nil
}

// ConvertPod derives a ServiceInstance from a live Pod. homePath is the mount
// path the spec builder uses for the user-home volume (see specbuilder),
// reused here to derive a per-pod log directory.
func ConvertPod(pod *corev1.Pod, homePath string) (serviceId string, instance *domain.ServiceInstance, err error) {
	serviceId, ok := pod.Annotations[domain.AnnotationServiceId]
	if !ok || serviceId == "" {
		return "", nil, fmt.Errorf("pod %s/%s has no %s annotation", pod.Namespace, pod.Name, domain.AnnotationServiceId)
	}

	portCount := 1
	if raw, ok := pod.Annotations[domain.AnnotationPortCount]; ok {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			portCount = n
		}
	}
	protocol := pod.Annotations[domain.AnnotationProtocol]

	restartCount := 0
	healthy := false
	var exitCode *int32
	if len(pod.Status.ContainerStatuses) > 0 {
		// spec.md 9's open question: incarnation count is read off
		// containerStatuses[0]; multi-container pods need an explicit
		// container-name selector to be fully robust. We follow the source.
		cs := pod.Status.ContainerStatuses[0]
		restartCount = int(cs.RestartCount)
		healthy = cs.Ready
		if cs.State.Terminated != nil {
			ec := cs.State.Terminated.ExitCode
			exitCode = &ec
		}
	}

	primaryPort := 0
	if len(pod.Spec.Containers) > 0 && len(pod.Spec.Containers[0].Ports) > 0 {
		primaryPort = int(pod.Spec.Containers[0].Ports[0].ContainerPort)
	}
	extraPorts := make([]int, 0, portCount-1)
	for i := 1; i < portCount; i++ {
		extraPorts = append(extraPorts, primaryPort+i)
	}

	var startedAt = pod.CreationTimestamp.Time
	if pod.Status.StartTime != nil {
		startedAt = pod.Status.StartTime.Time
	}

	instance = &domain.ServiceInstance{
		Id:           domain.InstanceId(serviceId, pod.Name, restartCount),
		ServiceId:    serviceId,
		PodName:      pod.Name,
		Namespace:    pod.Namespace,
		Host:         pod.Status.PodIP,
		Port:         primaryPort,
		ExtraPorts:   extraPorts,
		Protocol:     protocol,
		StartedAt:    startedAt,
		Healthy:      healthy,
		LogDirectory: path.Join(homePath, pod.Name),
		RestartCount: restartCount,
		ExitCode:     exitCode,
	}
	return serviceId, instance, nil
}

// IsPodLive reports whether a pod counts as an active instance: it has been
// assigned an IP and is not in the process of being torn down, per spec.md
// 4.3's liveness filter.
func IsPodLive(pod *corev1.Pod) bool {
	return pod.Status.PodIP != "" && pod.DeletionTimestamp == nil
}
