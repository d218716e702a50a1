package k8sbackend

import (
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"

	"github.com/waiter-project/scheduler/internal/common/armadacontext"
	"github.com/waiter-project/scheduler/internal/scheduler/domain"
	"github.com/waiter-project/scheduler/internal/scheduler/specbuilder"
	"github.com/waiter-project/scheduler/internal/scheduler/watchstate"
)

// reconnectDelay is how long a watch worker waits before re-snapshotting after
// an error, to avoid hammering the orchestrator on a persistent failure.
const reconnectDelay = 2 * time.Second

// runReplicaSetsWatcher is the replicasets-watcher worker of spec.md 4.3: an
// infinite snapshot-then-stream loop that keeps the watch state's service
// mirror current. It returns only when ctx is done.
func (k *KubernetesScheduler) runReplicaSetsWatcher(ctx *armadacontext.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		version, err := k.snapshotReplicaSets(ctx)
		if err != nil {
			ctx.Log.Warnf("replicasets snapshot failed, retrying: %s", err)
			sleepOrDone(ctx, reconnectDelay)
			continue
		}
		if err := k.streamReplicaSets(ctx, version); err != nil {
			ctx.Log.Warnf("replicasets watch stream ended, re-snapshotting: %s", err)
			sleepOrDone(ctx, reconnectDelay)
		}
	}
}

func (k *KubernetesScheduler) snapshotReplicaSets(ctx *armadacontext.Context) (string, error) {
	url := replicaSetsListURL(k.cfg.ReplicaSetApiVersion, k.cfg.OrchestratorName)
	var list appsv1.ReplicaSetList
	if err := k.client.Request(ctx, "GET", url, nil, "", &list); err != nil {
		return "", err
	}

	result := make(map[string]*domain.Service, len(list.Items))
	for i := range list.Items {
		rs := &list.Items[i]
		service, err := watchstate.ConvertReplicaSet(rs)
		if err != nil {
			log.Debugf("skipping replicaset %s/%s: %s", rs.Namespace, rs.Name, err)
			continue
		}
		result[service.Id] = service
	}
	k.watch.SetServices(result, list.ResourceVersion)
	return list.ResourceVersion, nil
}

func (k *KubernetesScheduler) streamReplicaSets(ctx *armadacontext.Context, fromVersion string) error {
	url := replicaSetsWatchURL(k.cfg.ReplicaSetApiVersion, k.cfg.OrchestratorName, fromVersion)
	events, err := k.client.Stream(ctx, url)
	if err != nil {
		return err
	}
	for event := range events {
		var rs appsv1.ReplicaSet
		if err := json.Unmarshal(event.Object, &rs); err != nil {
			ctx.Log.Warnf("discarding malformed replicaset watch event: %s", err)
			continue
		}
		switch event.Type {
		case "DELETED":
			if serviceId, ok := rs.Annotations[domain.AnnotationServiceId]; ok {
				k.watch.DeleteService(serviceId, rs.ResourceVersion)
			}
		default: // ADDED, MODIFIED
			service, convErr := watchstate.ConvertReplicaSet(&rs)
			if convErr != nil {
				ctx.Log.Debugf("skipping replicaset watch event for %s/%s: %s", rs.Namespace, rs.Name, convErr)
				continue
			}
			k.watch.UpsertService(service, rs.ResourceVersion)
		}
	}
	return nil
}

// runPodsWatcher is the pods-watcher worker of spec.md 4.3. In addition to
// maintaining the pod mirror it feeds every pod update through the failure
// store per spec.md 4.5.
func (k *KubernetesScheduler) runPodsWatcher(ctx *armadacontext.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		version, err := k.snapshotPods(ctx)
		if err != nil {
			ctx.Log.Warnf("pods snapshot failed, retrying: %s", err)
			sleepOrDone(ctx, reconnectDelay)
			continue
		}
		if err := k.streamPods(ctx, version); err != nil {
			ctx.Log.Warnf("pods watch stream ended, re-snapshotting: %s", err)
			sleepOrDone(ctx, reconnectDelay)
		}
	}
}

func (k *KubernetesScheduler) snapshotPods(ctx *armadacontext.Context) (string, error) {
	url := podsListURL(k.cfg.OrchestratorName)
	var list corev1.PodList
	if err := k.client.Request(ctx, "GET", url, nil, "", &list); err != nil {
		return "", err
	}

	result := map[string]map[string]*domain.ServiceInstance{}
	for i := range list.Items {
		pod := &list.Items[i]
		k.observePod(pod)
		if !watchstate.IsPodLive(pod) {
			continue
		}
		serviceId, inst, err := watchstate.ConvertPod(pod, specbuilder.HomePath)
		if err != nil {
			continue
		}
		if result[serviceId] == nil {
			result[serviceId] = map[string]*domain.ServiceInstance{}
		}
		result[serviceId][pod.Name] = inst
	}
	k.watch.SetPods(result, list.ResourceVersion)
	return list.ResourceVersion, nil
}

func (k *KubernetesScheduler) streamPods(ctx *armadacontext.Context, fromVersion string) error {
	url := podsWatchURL(k.cfg.OrchestratorName, fromVersion)
	events, err := k.client.Stream(ctx, url)
	if err != nil {
		return err
	}
	for event := range events {
		var pod corev1.Pod
		if err := json.Unmarshal(event.Object, &pod); err != nil {
			ctx.Log.Warnf("discarding malformed pod watch event: %s", err)
			continue
		}
		switch event.Type {
		case "DELETED":
			if serviceId, ok := pod.Annotations[domain.AnnotationServiceId]; ok {
				k.watch.DeletePod(serviceId, pod.Name, pod.ResourceVersion)
			}
		default: // ADDED, MODIFIED
			k.observePod(&pod)
			serviceId, ok := pod.Annotations[domain.AnnotationServiceId]
			if !ok {
				continue
			}
			if !watchstate.IsPodLive(&pod) {
				k.watch.DeletePod(serviceId, pod.Name, pod.ResourceVersion)
				continue
			}
			_, inst, convErr := watchstate.ConvertPod(&pod, specbuilder.HomePath)
			if convErr != nil {
				continue
			}
			k.watch.UpsertPod(serviceId, pod.Name, inst, pod.ResourceVersion)
		}
	}
	return nil
}

// observePod feeds a pod update through the failure store regardless of
// liveness: a terminated incarnation is exactly the case where the pod is no
// longer live, so the failure store must see it before any liveness
// filtering happens.
func (k *KubernetesScheduler) observePod(pod *corev1.Pod) {
	serviceId, ok := pod.Annotations[domain.AnnotationServiceId]
	if !ok {
		return
	}
	k.failures.Observe(serviceId, pod)
}

func sleepOrDone(ctx *armadacontext.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}
