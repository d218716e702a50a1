package task

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waiter-project/scheduler/internal/common/armadacontext"
)

func TestRegister_RunsImmediatelyAndPassesTaggedContext(t *testing.T) {
	manager := NewBackgroundTaskManager(armadacontext.Background(), "waiter_task_test_")
	defer manager.StopAll(time.Second)

	var runs atomic.Int32
	var gotTag string
	done := make(chan struct{}, 1)

	manager.Register(func(ctx *armadacontext.Context) {
		gotTag, _ = ctx.Log.Data["task"].(string)
		if runs.Add(1) == 1 {
			done <- struct{}{}
		}
	}, time.Hour, "probe")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected the first run to happen immediately")
	}
	assert.Equal(t, "probe", gotTag)
}

func TestStopAll_WaitsForRegisteredTasksToExit(t *testing.T) {
	manager := NewBackgroundTaskManager(armadacontext.Background(), "waiter_task_test_")

	manager.Register(func(ctx *armadacontext.Context) {}, time.Millisecond, "tight_loop")

	timedOut := manager.StopAll(time.Second)
	require.False(t, timedOut)
}
