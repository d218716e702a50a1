package syncer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waiter-project/scheduler/internal/common/armadacontext"
	"github.com/waiter-project/scheduler/internal/common/task"
	"github.com/waiter-project/scheduler/internal/scheduler/authorizer"
	"github.com/waiter-project/scheduler/internal/scheduler/domain"
	"github.com/waiter-project/scheduler/internal/scheduler/shellscheduler"
)

func TestPublish_EmitsSnapshotWithServiceInstances(t *testing.T) {
	backend := shellscheduler.New(authorizer.AllowAll{})
	require.True(t, backend.CreateServiceIfNew(&domain.ServiceDescription{
		ServiceId: "svc-1", CmdType: "shell", Cmd: "sleep 5", RunAsUser: "nobody", MinInstances: 1,
	}).Success)
	defer backend.DeleteService("svc-1")

	s := New(backend, 4)
	s.publish(armadacontext.Background())

	snapshot := <-s.Out()
	require.Contains(t, snapshot.Services, "svc-1")
	assert.Len(t, snapshot.Services["svc-1"].ActiveInstances, 1)

	state := s.RetrieveSyncerState()
	assert.Equal(t, 1, state.LastServiceCount)
	assert.False(t, state.LastPublishTime.IsZero())
}

func TestSend_DropsOldestWhenConsumerIsSlow(t *testing.T) {
	backend := shellscheduler.New(nil)
	s := New(backend, 1)

	s.send(armadacontext.Background(), Snapshot{Timestamp: time.Unix(1, 0)})
	s.send(armadacontext.Background(), Snapshot{Timestamp: time.Unix(2, 0)})

	got := <-s.Out()
	assert.Equal(t, int64(2), got.Timestamp.Unix())
}

func TestStart_RunsFirstPublishImmediately(t *testing.T) {
	backend := shellscheduler.New(nil)
	s := New(backend, 4)
	manager := task.NewBackgroundTaskManager(armadacontext.Background(), "waiter_syncer_test_")
	defer manager.StopAll(time.Second)

	s.Start(manager, time.Hour)

	select {
	case <-s.Out():
	case <-time.After(time.Second):
		t.Fatal("expected a snapshot from the immediate first run")
	}
}
