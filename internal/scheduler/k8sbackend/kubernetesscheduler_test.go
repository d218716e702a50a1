package k8sbackend

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/waiter-project/scheduler/internal/scheduler/authorizer"
	"github.com/waiter-project/scheduler/internal/scheduler/client"
	"github.com/waiter-project/scheduler/internal/scheduler/configuration"
	"github.com/waiter-project/scheduler/internal/scheduler/domain"
	"github.com/waiter-project/scheduler/internal/scheduler"
)

func testConfig() configuration.Kubernetes {
	return configuration.Kubernetes{
		OrchestratorName:     "waiter",
		PodBasePort:          10000,
		PodSuffixLength:      5,
		MaxNameLength:        32,
		MaxPatchRetries:      2,
		ReplicaSetApiVersion: "apps/v1",
		Fileserver:           configuration.Fileserver{Port: 9090, Scheme: "http"},
	}
}

func newTestScheduler(t *testing.T, handler http.Handler) (*KubernetesScheduler, *httptest.Server) {
	srv := httptest.NewServer(handler)
	c := client.New(srv.URL, client.Options{ConnTimeout: time.Second, SocketTimeout: 5 * time.Second}, nil, 0, nil)
	k := New(testConfig(), c, authorizer.AllowAll{})
	return k, srv
}

func TestCreateServiceIfNew_RejectsDocker(t *testing.T) {
	k, srv := newTestScheduler(t, http.NewServeMux())
	defer srv.Close()

	outcome := k.CreateServiceIfNew(&domain.ServiceDescription{ServiceId: "waiter-app-0123456789abcdef", CmdType: "docker"})
	assert.False(t, outcome.Success)
	assert.Equal(t, scheduler.CreateResultError, outcome.Result)
}

func TestCreateServiceIfNew_AlreadyExistsIsSuccess(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/apis/apps/v1/namespaces/nobody/replicasets", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"message":"already exists"}`))
	})
	k, srv := newTestScheduler(t, mux)
	defer srv.Close()

	desc := &domain.ServiceDescription{
		ServiceId: "waiter-app-0123456789abcdef", CmdType: "shell", Cmd: "run.sh",
		RunAsUser: "nobody", MinInstances: 1, Ports: 1, Cpus: 1, MemMb: 128,
	}
	outcome := k.CreateServiceIfNew(desc)
	assert.True(t, outcome.Success)
	assert.Equal(t, scheduler.CreateResultAlreadyExists, outcome.Result)
}

func TestCreateServiceIfNew_Created(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/apis/apps/v1/namespaces/nobody/replicasets", func(w http.ResponseWriter, r *http.Request) {
		var rs appsv1.ReplicaSet
		require.NoError(t, json.NewDecoder(r.Body).Decode(&rs))
		rs.ResourceVersion = "1"
		w.WriteHeader(http.StatusCreated)
		require.NoError(t, json.NewEncoder(w).Encode(rs))
	})
	k, srv := newTestScheduler(t, mux)
	defer srv.Close()

	desc := &domain.ServiceDescription{
		ServiceId: "waiter-app-0123456789abcdef", CmdType: "shell", Cmd: "run.sh",
		RunAsUser: "nobody", MinInstances: 2, Ports: 1, Cpus: 1, MemMb: 128,
	}
	outcome := k.CreateServiceIfNew(desc)
	require.True(t, outcome.Success)
	assert.Equal(t, scheduler.CreateResultCreated, outcome.Result)
	assert.Equal(t, 201, outcome.Status)

	exists, err := k.ServiceExists(desc.ServiceId)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestDeleteService_NoSuchService(t *testing.T) {
	k, srv := newTestScheduler(t, http.NewServeMux())
	defer srv.Close()

	outcome := k.DeleteService("waiter-missing-0123456789abcdef")
	assert.True(t, outcome.Success)
	assert.Equal(t, scheduler.DeleteResultNoSuchService, outcome.Result)
}

func TestDeleteService_Deletes(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/apis/apps/v1/namespaces/nobody/replicasets/app-1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	k, srv := newTestScheduler(t, mux)
	defer srv.Close()

	k.watch.UpsertService(&domain.Service{Id: "svc-1", AppName: "app-1", Namespace: "nobody", Instances: 2}, "1")

	outcome := k.DeleteService("svc-1")
	assert.True(t, outcome.Success)
	assert.Equal(t, scheduler.DeleteResultDeleted, outcome.Result)

	_, ok := k.watch.Service("svc-1")
	assert.False(t, ok)
}

// TestScaleService_RetriesOnConflict exercises the scenario: current=3,
// target=5, first PATCH returns 409, watch state is updated to current=4 out
// of band (as a watch event would do), second PATCH succeeds.
func TestScaleService_RetriesOnConflict(t *testing.T) {
	var calls int
	mux := http.NewServeMux()
	mux.HandleFunc("/apis/apps/v1/namespaces/nobody/replicasets/app-1", func(w http.ResponseWriter, r *http.Request) {
		calls++
		body, _ := parseScalePatch(r)
		if calls == 1 {
			assert.Equal(t, 3, body[0].Value)
			assert.Equal(t, 5, body[1].Value)
			w.WriteHeader(http.StatusConflict)
			return
		}
		assert.Equal(t, 4, body[0].Value)
		assert.Equal(t, 5, body[1].Value)
		w.WriteHeader(http.StatusOK)
	})
	k, srv := newTestScheduler(t, mux)
	defer srv.Close()

	k.watch.UpsertService(&domain.Service{Id: "svc-1", AppName: "app-1", Namespace: "nobody", Instances: 3}, "1")

	go func() {
		time.Sleep(10 * time.Millisecond)
		k.watch.UpsertService(&domain.Service{Id: "svc-1", AppName: "app-1", Namespace: "nobody", Instances: 4}, "2")
	}()

	outcome := k.ScaleService("svc-1", 5)
	assert.True(t, outcome.Success)
	assert.Equal(t, scheduler.ScaleResultSuccess, outcome.Result)
	assert.Equal(t, 2, calls)
}

func TestScaleService_NoOpWhenTargetNotAboveCurrent(t *testing.T) {
	k, srv := newTestScheduler(t, http.NewServeMux())
	defer srv.Close()

	k.watch.UpsertService(&domain.Service{Id: "svc-1", AppName: "app-1", Namespace: "nobody", Instances: 5}, "1")

	outcome := k.ScaleService("svc-1", 5)
	assert.True(t, outcome.Success)
	assert.Equal(t, scheduler.ScaleResultNoOp, outcome.Result)
}

// TestKillInstance_SafeKillTolerantOfPartialFailure exercises scenario S6:
// graceful delete succeeds, scale-down fails with an HTTP 500 (logged only),
// and the force delete returns 404 which still counts as killed.
func TestKillInstance_SafeKillTolerantOfPartialFailure(t *testing.T) {
	var deleteCalls int
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/namespaces/nobody/pods/app-1-abcde", func(w http.ResponseWriter, r *http.Request) {
		deleteCalls++
		if deleteCalls == 1 {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/apis/apps/v1/namespaces/nobody/replicasets/app-1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	k, srv := newTestScheduler(t, mux)
	defer srv.Close()

	k.watch.UpsertService(&domain.Service{Id: "svc-1", AppName: "app-1", Namespace: "nobody", Instances: 3}, "1")

	instance := &domain.ServiceInstance{Id: "svc-1.app-1-abcde-0", ServiceId: "svc-1", PodName: "app-1-abcde", Namespace: "nobody"}
	outcome := k.KillInstance(instance)
	assert.True(t, outcome.Success)
	assert.True(t, outcome.Killed)
	assert.Equal(t, 2, deleteCalls)
}

func TestGetServiceInstances_CombinesActiveAndFailed(t *testing.T) {
	k, srv := newTestScheduler(t, http.NewServeMux())
	defer srv.Close()

	k.watch.UpsertPod("svc-1", "app-1-abcde", &domain.ServiceInstance{Id: "svc-1.app-1-abcde-0", ServiceId: "svc-1"}, "1")
	k.failures.Observe("svc-1", podWithTerminatedContainer())

	instances, err := k.GetServiceInstances("svc-1")
	require.NoError(t, err)
	assert.Len(t, instances.ActiveInstances, 1)
	assert.Len(t, instances.FailedInstances, 1)
}

func TestValidateService_DelegatesToAuthorizer(t *testing.T) {
	k, srv := newTestScheduler(t, http.NewServeMux())
	defer srv.Close()
	k.authorizer = authorizer.DenyAll{}

	err := k.ValidateService("svc-1")
	assert.Error(t, err)
}

func TestState_ReflectsAttachedSyncer(t *testing.T) {
	k, srv := newTestScheduler(t, http.NewServeMux())
	defer srv.Close()

	k.AttachSyncer(func() scheduler.SyncerState {
		return scheduler.SyncerState{LastServiceCount: 3}
	})

	state := k.State()
	assert.Equal(t, 3, state.Syncer.LastServiceCount)
}

func podWithTerminatedContainer() *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "app-1-abcde", Namespace: "nobody"},
		Status: corev1.PodStatus{
			ContainerStatuses: []corev1.ContainerStatus{
				{
					RestartCount: 1,
					LastTerminationState: corev1.ContainerState{
						Terminated: &corev1.ContainerStateTerminated{ExitCode: 1, Reason: "Error", StartedAt: metav1.Time{}},
					},
				},
			},
		},
	}
}

type scaleOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value int    `json:"value"`
}

func parseScalePatch(r *http.Request) ([]scaleOp, error) {
	var ops []scaleOp
	err := json.NewDecoder(r.Body).Decode(&ops)
	return ops, err
}
