package k8sbackend

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/avast/retry-go"
	jsonpatch "github.com/evanphx/json-patch"
	"github.com/pkg/errors"
	appsv1 "k8s.io/api/apps/v1"

	"github.com/waiter-project/scheduler/internal/common/armadacontext"
	"github.com/waiter-project/scheduler/internal/scheduler/domain"
	"github.com/waiter-project/scheduler/internal/scheduler/namecodec"
	"github.com/waiter-project/scheduler/internal/scheduler"
	"github.com/waiter-project/scheduler/internal/scheduler/schedulererrors"
	"github.com/waiter-project/scheduler/internal/scheduler/specbuilder"
	"github.com/waiter-project/scheduler/internal/scheduler/watchstate"
)

var _ scheduler.Scheduler = (*KubernetesScheduler)(nil)

// GetServices returns the current watch-state snapshot. Per spec.md 4.4 this
// never fails: there is no orchestrator call on the hot path.
func (k *KubernetesScheduler) GetServices() ([]*domain.Service, error) {
	services := k.watch.Services()
	out := make([]*domain.Service, 0, len(services))
	for _, s := range services {
		out = append(out, s)
	}
	return out, nil
}

// ServiceExists reports whether the watch state currently mirrors a service
// with this id. Since the watch state is the eventually-consistent local
// mirror of the orchestrator (spec.md 1's non-goals), this is a local lookup
// rather than a fresh orchestrator round trip.
func (k *KubernetesScheduler) ServiceExists(serviceId string) (bool, error) {
	_, ok := k.watch.Service(serviceId)
	return ok, nil
}

// CreateServiceIfNew builds a ReplicaSet from desc and submits it, per
// spec.md 4.4's create row. A 409 from the orchestrator (the service already
// exists) is treated as a no-op success; docker cmd-type is rejected
// up front as unsupported.
func (k *KubernetesScheduler) CreateServiceIfNew(desc *domain.ServiceDescription) *scheduler.CreateOutcome {
	ctx, cancel := armadacontext.WithTimeout(armadacontext.Background(), defaultRequestTimeout)
	defer cancel()
	ctx = armadacontext.WithLogField(ctx, "service-id", desc.ServiceId)

	if desc.CmdType == "docker" {
		return &scheduler.CreateOutcome{
			OperationOutcome: scheduler.OperationOutcome{Success: false, Status: 400, Message: "cmd-type docker is unsupported"},
			Result:           scheduler.CreateResultError,
		}
	}

	appName, err := namecodec.ComputeAppName(desc.ServiceId, k.cfg.MaxNameLength, k.cfg.PodSuffixLength)
	if err != nil {
		return &scheduler.CreateOutcome{
			OperationOutcome: scheduler.OperationOutcome{Success: false, Status: 400, Message: err.Error()},
			Result:           scheduler.CreateResultError,
		}
	}

	rs, err := specbuilder.Build(k.cfg, desc.ServiceId, appName, desc)
	if err != nil {
		return &scheduler.CreateOutcome{
			OperationOutcome: scheduler.OperationOutcome{Success: false, Status: 400, Message: err.Error()},
			Result:           scheduler.CreateResultError,
		}
	}

	body, err := json.Marshal(rs)
	if err != nil {
		return &scheduler.CreateOutcome{
			OperationOutcome: scheduler.OperationOutcome{Success: false, Status: 500, Message: err.Error()},
			Result:           scheduler.CreateResultError,
		}
	}

	var created appsv1.ReplicaSet
	url := replicaSetsCreateURL(k.cfg.ReplicaSetApiVersion, desc.RunAsUser)
	err = k.client.Request(ctx, http.MethodPost, url, body, "application/json", &created)
	if err != nil {
		var conflict *schedulererrors.ConflictError
		if errors.As(err, &conflict) {
			return &scheduler.CreateOutcome{
				OperationOutcome: scheduler.OperationOutcome{Success: true, Status: 200, Message: "service already exists"},
				Result:           scheduler.CreateResultAlreadyExists,
			}
		}
		ctx.Log.Errorf("create-service-if-new failed: %s", err)
		return &scheduler.CreateOutcome{
			OperationOutcome: scheduler.OperationOutcome{Success: false, Status: 500, Message: err.Error()},
			Result:           scheduler.CreateResultError,
		}
	}

	service, convErr := watchstate.ConvertReplicaSet(&created)
	if convErr != nil {
		service = &domain.Service{Id: desc.ServiceId, AppName: appName, Namespace: desc.RunAsUser, Instances: desc.MinInstances}
	}
	k.watch.UpsertService(service, created.ResourceVersion)

	return &scheduler.CreateOutcome{
		OperationOutcome: scheduler.OperationOutcome{Success: true, Status: 201, Message: "created"},
		Result:           scheduler.CreateResultCreated,
		Service:          service,
	}
}

// DeleteService deletes the owning ReplicaSet with background propagation
// (pods are garbage-collected asynchronously) and drops the service's
// failure history, per spec.md 4.4 and invariant 4 in spec.md 8.
func (k *KubernetesScheduler) DeleteService(serviceId string) *scheduler.DeleteOutcome {
	ctx, cancel := armadacontext.WithTimeout(armadacontext.Background(), defaultRequestTimeout)
	defer cancel()

	service, ok := k.watch.Service(serviceId)
	if !ok {
		k.failures.DeleteService(serviceId)
		return &scheduler.DeleteOutcome{
			OperationOutcome: scheduler.OperationOutcome{Success: true, Status: 404, Message: "no such service exists"},
			Result:           scheduler.DeleteResultNoSuchService,
		}
	}

	propagation := "Background"
	body, err := json.Marshal(deleteOptions{Kind: "DeleteOptions", ApiVersion: "v1", PropagationPolicy: &propagation})
	if err != nil {
		return &scheduler.DeleteOutcome{
			OperationOutcome: scheduler.OperationOutcome{Success: false, Status: 500, Message: err.Error()},
			Result:           scheduler.DeleteResultError,
		}
	}

	err = k.client.Request(ctx, http.MethodDelete, replicaSetURL(k.cfg.ReplicaSetApiVersion, service.Namespace, service.AppName), body, "application/json", nil)
	if err != nil {
		var notFound *schedulererrors.NotFoundError
		if errors.As(err, &notFound) {
			k.watch.DeleteService(serviceId, "")
			k.failures.DeleteService(serviceId)
			return &scheduler.DeleteOutcome{
				OperationOutcome: scheduler.OperationOutcome{Success: true, Status: 404, Message: "no such service exists"},
				Result:           scheduler.DeleteResultNoSuchService,
			}
		}
		ctx.Log.Errorf("delete-service failed for %s: %s", serviceId, err)
		return &scheduler.DeleteOutcome{
			OperationOutcome: scheduler.OperationOutcome{Success: false, Status: 500, Message: err.Error()},
			Result:           scheduler.DeleteResultError,
		}
	}

	k.watch.DeleteService(serviceId, "")
	k.failures.DeleteService(serviceId)
	return &scheduler.DeleteOutcome{
		OperationOutcome: scheduler.OperationOutcome{Success: true, Status: 200, Message: "deleted"},
		Result:           scheduler.DeleteResultDeleted,
	}
}

// scalePatchOp is one entry of the JSON-Patch body PATCHed to the
// orchestrator with content-type application/json-patch+json.
type scalePatchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value int    `json:"value"`
}

// buildScalePatch builds the test-guarded replace patch of spec.md 4.4, and
// round-trips it through evanphx/json-patch's decoder as a structural sanity
// check before it goes over the wire.
func buildScalePatch(current, target int) ([]byte, error) {
	ops := []scalePatchOp{
		{Op: "test", Path: "/spec/replicas", Value: current},
		{Op: "replace", Path: "/spec/replicas", Value: target},
	}
	body, err := json.Marshal(ops)
	if err != nil {
		return nil, err
	}
	if _, err := jsonpatch.DecodePatch(body); err != nil {
		return nil, errors.Wrap(err, "building scale patch")
	}
	return body, nil
}

func (k *KubernetesScheduler) patchReplicas(ctx *armadacontext.Context, service *domain.Service, target int) error {
	body, err := buildScalePatch(service.Instances, target)
	if err != nil {
		return errors.WithStack(&schedulererrors.InternalError{Message: err.Error()})
	}
	url := replicaSetURL(k.cfg.ReplicaSetApiVersion, service.Namespace, service.AppName)
	return k.client.Request(ctx, http.MethodPatch, url, body, "application/json-patch+json", nil)
}

// ScaleService issues an upward-only scale, retrying on conflict up to
// max-patch-retries by re-reading the current replica count from watch state
// between attempts, per spec.md 4.4 and scenario S5.
func (k *KubernetesScheduler) ScaleService(serviceId string, target int) *scheduler.ScaleOutcome {
	ctx, cancel := armadacontext.WithTimeout(armadacontext.Background(), defaultRequestTimeout)
	defer cancel()
	ctx = armadacontext.WithLogField(ctx, "service-id", serviceId)

	service, ok := k.watch.Service(serviceId)
	if !ok {
		return &scheduler.ScaleOutcome{
			OperationOutcome: scheduler.OperationOutcome{Success: false, Status: 404, Message: "no such service exists"},
			Result:           scheduler.ScaleResultError,
		}
	}
	if target <= service.Instances {
		return &scheduler.ScaleOutcome{
			OperationOutcome: scheduler.OperationOutcome{Success: true, Status: 200, Message: "target at or below current, no-op"},
			Result:           scheduler.ScaleResultNoOp,
		}
	}

	attempts := uint(k.cfg.MaxPatchRetries) + 1
	if attempts == 0 {
		attempts = 1
	}

	err := retry.Do(
		func() error {
			cur, ok := k.watch.Service(serviceId)
			if !ok {
				return errors.WithStack(&schedulererrors.NotFoundError{Resource: "service", Name: serviceId})
			}
			if target <= cur.Instances {
				return nil
			}
			return k.patchReplicas(ctx, cur, target)
		},
		retry.Attempts(attempts),
		retry.Delay(20*time.Millisecond),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isConflict),
	)
	if err != nil {
		var conflict *schedulererrors.ConflictError
		if errors.As(err, &conflict) {
			return &scheduler.ScaleOutcome{
				OperationOutcome: scheduler.OperationOutcome{Success: false, Status: 409, Message: "scale conflict after retries exhausted"},
				Result:           scheduler.ScaleResultConflict,
			}
		}
		var notFound *schedulererrors.NotFoundError
		if errors.As(err, &notFound) {
			return &scheduler.ScaleOutcome{
				OperationOutcome: scheduler.OperationOutcome{Success: false, Status: 404, Message: "no such service exists"},
				Result:           scheduler.ScaleResultError,
			}
		}
		ctx.Log.Errorf("scale-service failed: %s", err)
		return &scheduler.ScaleOutcome{
			OperationOutcome: scheduler.OperationOutcome{Success: false, Status: 500, Message: err.Error()},
			Result:           scheduler.ScaleResultError,
		}
	}

	return &scheduler.ScaleOutcome{
		OperationOutcome: scheduler.OperationOutcome{Success: true, Status: 200, Message: "scaled"},
		Result:           scheduler.ScaleResultSuccess,
	}
}

// scaleDelta adjusts replicas by delta (which may be negative), used
// internally by the safe-kill protocol's step 2. It does not retry: a
// failure here is logged by the caller and tolerated, per spec.md 4.4's
// rationale that all three safe-kill steps tolerate partial failure.
func (k *KubernetesScheduler) scaleDelta(ctx *armadacontext.Context, serviceId string, delta int) error {
	service, ok := k.watch.Service(serviceId)
	if !ok {
		return errors.WithStack(&schedulererrors.NotFoundError{Resource: "service", Name: serviceId})
	}
	target := service.Instances + delta
	if target < 0 {
		target = 0
	}
	return k.patchReplicas(ctx, service, target)
}

type deleteOptions struct {
	Kind               string  `json:"kind"`
	ApiVersion         string  `json:"apiVersion"`
	GracePeriodSeconds *int64  `json:"gracePeriodSeconds,omitempty"`
	PropagationPolicy  *string `json:"propagationPolicy,omitempty"`
}

func (k *KubernetesScheduler) deletePod(ctx *armadacontext.Context, namespace, name string, graceSeconds int64) error {
	body, err := json.Marshal(deleteOptions{Kind: "DeleteOptions", ApiVersion: "v1", GracePeriodSeconds: &graceSeconds})
	if err != nil {
		return errors.WithStack(&schedulererrors.InternalError{Message: err.Error()})
	}
	return k.client.Request(ctx, http.MethodDelete, podURL(namespace, name), body, "application/json", nil)
}

// KillInstance runs the three-step safe-kill protocol of spec.md 4.4: delete
// the pod with a long grace period so the owning ReplicaSet prefers it as its
// scale-down victim, scale the ReplicaSet down by one, then force-delete the
// pod immediately. Every step tolerates partial failure; only a non-404
// failure on the final delete fails the whole operation (scenario S6).
func (k *KubernetesScheduler) KillInstance(instance *domain.ServiceInstance) *scheduler.KillOutcome {
	ctx, cancel := armadacontext.WithTimeout(armadacontext.Background(), defaultRequestTimeout)
	defer cancel()
	ctx = armadacontext.WithLogField(ctx, "instance-id", instance.Id)

	if err := k.deletePod(ctx, instance.Namespace, instance.PodName, 300); err != nil && !isNotFound(err) {
		ctx.Log.Warnf("safe-kill step 1 (graceful delete) failed: %s", err)
	}

	if err := k.scaleDelta(ctx, instance.ServiceId, -1); err != nil {
		ctx.Log.Warnf("safe-kill step 2 (scale down) failed: %s", err)
	}

	err := k.deletePod(ctx, instance.Namespace, instance.PodName, 0)
	if err != nil && !isNotFound(err) {
		ctx.Log.Errorf("safe-kill step 3 (force delete) failed: %s", err)
		return &scheduler.KillOutcome{
			OperationOutcome: scheduler.OperationOutcome{Success: false, Status: 500, Message: err.Error()},
			Killed:           false,
		}
	}

	return &scheduler.KillOutcome{
		OperationOutcome: scheduler.OperationOutcome{Success: true, Status: 200, Message: "killed"},
		Killed:           true,
	}
}

// RetrieveDirectoryContent fetches a directory listing from the per-pod
// fileserver sidecar and annotates each entry with a client-navigable URL or
// sub-path, per spec.md 4.4. A transport failure yields (nil, nil) rather
// than an error, matching the spec's "transport -> nil" failure mode.
func (k *KubernetesScheduler) RetrieveDirectoryContent(host, requestPath string) ([]scheduler.DirectoryEntry, error) {
	normalised := "/" + strings.Trim(requestPath, "/") + "/"
	url := fmt.Sprintf("%s://%s:%d%s", k.cfg.Fileserver.Scheme, host, k.cfg.Fileserver.Port, normalised)

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, nil
	}
	resp, err := k.httpClient.Do(req)
	if err != nil {
		return nil, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil
	}

	var raw []struct {
		Name string `json:"name"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, nil
	}

	entries := make([]scheduler.DirectoryEntry, 0, len(raw))
	for _, r := range raw {
		entry := scheduler.DirectoryEntry{Name: r.Name, Type: r.Type}
		if r.Type == "directory" {
			entry.Path = path.Join(normalised, r.Name)
		} else {
			entry.Url = fmt.Sprintf("%s://%s:%d%s", k.cfg.Fileserver.Scheme, host, k.cfg.Fileserver.Port, path.Join(normalised, r.Name))
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// GetServiceInstances returns the active-instance and failed-instance view
// for one service, consumed by the syncer's get-service->instances call.
func (k *KubernetesScheduler) GetServiceInstances(serviceId string) (*scheduler.ServiceInstances, error) {
	activeMap := k.watch.PodsForService(serviceId)
	active := make([]*domain.ServiceInstance, 0, len(activeMap))
	for _, v := range activeMap {
		active = append(active, v)
	}

	failedMap := k.failures.ForService(serviceId)
	failed := make([]*domain.FailedInstance, 0, len(failedMap))
	for _, v := range failedMap {
		failed = append(failed, v)
	}

	return &scheduler.ServiceInstances{ActiveInstances: active, FailedInstances: failed}, nil
}

// State returns a debug/observability snapshot of the watch state, the
// failure store and (if attached) the syncer's bookkeeping.
func (k *KubernetesScheduler) State() *scheduler.State {
	var syncerState scheduler.SyncerState
	if k.syncerState != nil {
		syncerState = k.syncerState()
	}
	return &scheduler.State{
		Services:        k.watch.Services(),
		FailedInstances: k.failures.All(),
		Syncer:          syncerState,
	}
}

// ValidateService delegates to the configured authorizer, per spec.md 4.4's
// "validate-service" row.
func (k *KubernetesScheduler) ValidateService(serviceId string) error {
	return k.authorizer.Authorize(serviceId)
}

func isNotFound(err error) bool {
	var notFound *schedulererrors.NotFoundError
	return errors.As(err, &notFound)
}

func isConflict(err error) bool {
	var conflict *schedulererrors.ConflictError
	return errors.As(err, &conflict)
}
