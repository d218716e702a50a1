package specbuilder

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waiter-project/scheduler/internal/scheduler/configuration"
	"github.com/waiter-project/scheduler/internal/scheduler/domain"
)

func testConfig() configuration.Kubernetes {
	return configuration.Kubernetes{
		OrchestratorName: "waiter",
		PodBasePort:      10000,
	}
}

func testDescription() *domain.ServiceDescription {
	return &domain.ServiceDescription{
		ServiceId:                        "waiter-myapp-e8b625cc83c411e8974c38d5474b213d",
		CmdType:                          "shell",
		Cmd:                              "run.sh",
		RunAsUser:                        "myuser",
		MinInstances:                     2,
		Ports:                            2,
		Protocol:                         "http",
		Cpus:                             0.5,
		MemMb:                            512,
		HealthCheckUrl:                   "/status",
		HealthCheckIntervalSecs:          10,
		HealthCheckMaxConsecutiveFailures: 5,
		GracePeriodSecs:                  30,
		Env:                              map[string]string{"FOO": "bar"},
	}
}

func TestBuild_RejectsDocker(t *testing.T) {
	desc := testDescription()
	desc.CmdType = "docker"
	_, err := Build(testConfig(), desc.ServiceId, "myapp-e8b625cc474b213d", desc)
	assert.Error(t, err)
}

func TestBuild_ReplicasEqualsMinInstances(t *testing.T) {
	rs, err := Build(testConfig(), "svc-1", "myapp-e8b625cc474b213d", testDescription())
	require.NoError(t, err)
	require.NotNil(t, rs.Spec.Replicas)
	assert.EqualValues(t, 2, *rs.Spec.Replicas)
}

func TestBuild_LabelsAndAnnotations(t *testing.T) {
	desc := testDescription()
	rs, err := Build(testConfig(), desc.ServiceId, "myapp-e8b625cc474b213d", desc)
	require.NoError(t, err)

	assert.Equal(t, "myapp-e8b625cc474b213d", rs.Labels[domain.LabelApp])
	assert.Equal(t, "waiter", rs.Labels[domain.LabelManagedBy])
	assert.Equal(t, desc.ServiceId, rs.Annotations[domain.AnnotationServiceId])
	assert.Equal(t, "http", rs.Annotations[domain.AnnotationProtocol])
	assert.Equal(t, "2", rs.Annotations[domain.AnnotationPortCount])

	assert.Equal(t, rs.Labels, rs.Spec.Template.Labels)
	assert.Equal(t, rs.Annotations, rs.Spec.Template.Annotations)
}

func TestBuild_PortsDerivedFromStableHash(t *testing.T) {
	desc := testDescription()
	rs, err := Build(testConfig(), desc.ServiceId, "myapp-e8b625cc474b213d", desc)
	require.NoError(t, err)

	container := rs.Spec.Template.Spec.Containers[0]
	require.Len(t, container.Ports, 2)
	port0 := container.Ports[0].ContainerPort
	assert.Equal(t, port0+1, container.Ports[1].ContainerPort)

	rs2, err := Build(testConfig(), desc.ServiceId, "myapp-e8b625cc474b213d", desc)
	require.NoError(t, err)
	assert.Equal(t, port0, rs2.Spec.Template.Spec.Containers[0].Ports[0].ContainerPort, "port0 must be stable for the same service-id")

	foundPort0Env := false
	for _, e := range container.Env {
		if e.Name == "PORT0" {
			foundPort0Env = true
			assert.Equal(t, fmt.Sprintf("%d", port0), e.Value)
		}
	}
	assert.True(t, foundPort0Env)
}

func TestBuild_MesosCompatibilityEnv(t *testing.T) {
	rs, err := Build(testConfig(), "svc-1", "app", testDescription())
	require.NoError(t, err)
	env := map[string]string{}
	for _, e := range rs.Spec.Template.Spec.Containers[0].Env {
		env[e.Name] = e.Value
	}
	assert.Equal(t, HomePath, env["MESOS_DIRECTORY"])
	assert.Equal(t, HomePath, env["MESOS_SANDBOX"])
}

func TestBuild_ProbesDifferOnlyByFailureThreshold(t *testing.T) {
	desc := testDescription()
	rs, err := Build(testConfig(), desc.ServiceId, "app", desc)
	require.NoError(t, err)

	c := rs.Spec.Template.Spec.Containers[0]
	require.NotNil(t, c.LivenessProbe)
	require.NotNil(t, c.ReadinessProbe)
	assert.EqualValues(t, desc.HealthCheckMaxConsecutiveFailures, c.LivenessProbe.FailureThreshold)
	assert.EqualValues(t, 1, c.ReadinessProbe.FailureThreshold)
	assert.Equal(t, c.LivenessProbe.HTTPGet.Path, c.ReadinessProbe.HTTPGet.Path)
	assert.Equal(t, c.LivenessProbe.HTTPGet.Port, c.ReadinessProbe.HTTPGet.Port)
}

func TestBuild_NoFileserverSidecarWhenPortZero(t *testing.T) {
	rs, err := Build(testConfig(), "svc-1", "app", testDescription())
	require.NoError(t, err)
	assert.Len(t, rs.Spec.Template.Spec.Containers, 1)
}

func TestBuild_FileserverSidecarSharesVolume(t *testing.T) {
	cfg := testConfig()
	cfg.Fileserver.Port = 6789
	rs, err := Build(cfg, "svc-1", "app", testDescription())
	require.NoError(t, err)
	require.Len(t, rs.Spec.Template.Spec.Containers, 2)

	sidecar := rs.Spec.Template.Spec.Containers[1]
	assert.Equal(t, fileserverContainerName, sidecar.Name)
	require.Len(t, sidecar.VolumeMounts, 1)
	assert.Equal(t, homeVolumeName, sidecar.VolumeMounts[0].Name)
}
