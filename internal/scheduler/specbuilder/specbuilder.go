// Package specbuilder is the pure function that turns a service-description
// into a Kubernetes ReplicaSet/Pod template, per spec.md 4.6. It is grounded on
// the teacher's cmd/kubeadm static-pod construction
// (cmd/kubeadm/app/phases/controlplane/manifests.go's componentPod/
// componentProbe/componentResources helpers), adapted from kubeadm's one-container
// static Pod to a ReplicaSet-owned, optionally-sidecarred, probed workload.
package specbuilder

import (
	"fmt"
	"hash/fnv"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"

	"github.com/waiter-project/scheduler/internal/scheduler/configuration"
	"github.com/waiter-project/scheduler/internal/scheduler/domain"
)

// HomePath is the mount point of the ephemeral user-home volume, used both for
// MESOS_DIRECTORY/MESOS_SANDBOX compatibility env vars and by watchstate to
// derive a per-pod log directory.
const HomePath = "/home/app"

const (
	appContainerName        = "waiter-app"
	fileserverContainerName = "waiter-fileserver"
	homeVolumeName          = "user-home"
	waiterInit              = "/usr/bin/waiter-init"
)

// primaryPort0 computes PORT0 = pod-base-port + (hash(service-id) mod 100) * 10,
// a value that's pseudo-random across services but stable for a given one, per
// spec.md 4.6.
func primaryPort0(serviceId string, podBasePort int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(serviceId))
	return podBasePort + int(h.Sum32()%100)*10
}

// Build produces the ReplicaSet to submit for a newly created service. cfg is
// the owning backend's Kubernetes configuration (orchestrator-name, ports,
// fileserver); appName is the name already derived by namecodec.
func Build(cfg configuration.Kubernetes, serviceId, appName string, desc *domain.ServiceDescription) (*appsv1.ReplicaSet, error) {
	if desc.CmdType == "docker" {
		return nil, fmt.Errorf("cmd-type %q is unsupported", desc.CmdType)
	}

	labels := map[string]string{
		domain.LabelApp:       appName,
		domain.LabelManagedBy: cfg.OrchestratorName,
	}
	annotations := map[string]string{
		domain.AnnotationServiceId: serviceId,
		domain.AnnotationProtocol:  desc.Protocol,
		domain.AnnotationPortCount: fmt.Sprintf("%d", desc.Ports),
	}

	podTemplate, err := buildPodTemplate(cfg, serviceId, appName, desc, labels, annotations)
	if err != nil {
		return nil, err
	}

	replicas := int32(desc.MinInstances)
	return &appsv1.ReplicaSet{
		ObjectMeta: metav1.ObjectMeta{
			Name:        appName,
			Namespace:   desc.RunAsUser,
			Labels:      labels,
			Annotations: annotations,
		},
		Spec: appsv1.ReplicaSetSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{MatchLabels: labels},
			Template: podTemplate,
		},
	}, nil
}

func buildPodTemplate(cfg configuration.Kubernetes, serviceId, appName string, desc *domain.ServiceDescription, labels, annotations map[string]string) (corev1.PodTemplateSpec, error) {
	if desc.Ports < 1 {
		return corev1.PodTemplateSpec{}, fmt.Errorf("service %s requests %d ports, need at least 1", serviceId, desc.Ports)
	}

	port0 := primaryPort0(serviceId, cfg.PodBasePort)
	env := buildEnv(desc, port0)

	ports := make([]corev1.ContainerPort, 0, desc.Ports)
	for i := 0; i < desc.Ports; i++ {
		ports = append(ports, corev1.ContainerPort{ContainerPort: int32(port0 + i)})
	}

	cpuQty := resource.NewMilliQuantity(int64(desc.Cpus*1000), resource.DecimalSI)
	memQty := resource.MustParse(fmt.Sprintf("%dMi", desc.MemMb))
	resources := corev1.ResourceRequirements{
		Requests: corev1.ResourceList{
			corev1.ResourceCPU:    *cpuQty,
			corev1.ResourceMemory: memQty,
		},
		Limits: corev1.ResourceList{
			corev1.ResourceCPU:    *cpuQty,
			corev1.ResourceMemory: memQty,
		},
	}

	appContainer := corev1.Container{
		Name:           appContainerName,
		Command:        append([]string{waiterInit}, desc.Cmd),
		Env:            env,
		Ports:          ports,
		Resources:      resources,
		LivenessProbe:  buildProbe(desc, port0, desc.HealthCheckMaxConsecutiveFailures),
		ReadinessProbe: buildProbe(desc, port0, 1),
		VolumeMounts: []corev1.VolumeMount{
			{Name: homeVolumeName, MountPath: HomePath},
		},
	}

	containers := []corev1.Container{appContainer}
	if cfg.Fileserver.Port != 0 {
		containers = append(containers, buildFileserverSidecar(cfg))
	}

	terminationGrace := int64(0)
	return corev1.PodTemplateSpec{
		ObjectMeta: metav1.ObjectMeta{
			Labels:      labels,
			Annotations: annotations,
		},
		Spec: corev1.PodSpec{
			Containers:                    containers,
			TerminationGracePeriodSeconds: &terminationGrace,
			Volumes: []corev1.Volume{
				{
					Name: homeVolumeName,
					VolumeSource: corev1.VolumeSource{
						EmptyDir: &corev1.EmptyDirVolumeSource{},
					},
				},
			},
		},
	}, nil
}

// buildEnv is the base Waiter env plus PORT0..PORT{N-1} and the
// MESOS_DIRECTORY/MESOS_SANDBOX compatibility variables.
func buildEnv(desc *domain.ServiceDescription, port0 int) []corev1.EnvVar {
	env := make([]corev1.EnvVar, 0, len(desc.Env)+desc.Ports+2)
	for k, v := range desc.Env {
		env = append(env, corev1.EnvVar{Name: k, Value: v})
	}
	for i := 0; i < desc.Ports; i++ {
		env = append(env, corev1.EnvVar{Name: fmt.Sprintf("PORT%d", i), Value: fmt.Sprintf("%d", port0+i)})
	}
	env = append(env,
		corev1.EnvVar{Name: "MESOS_DIRECTORY", Value: HomePath},
		corev1.EnvVar{Name: "MESOS_SANDBOX", Value: HomePath},
	)
	return env
}

// buildProbe builds an HTTP GET probe against PORT0, shared shape for
// liveness/readiness with the failure threshold the only difference, per
// spec.md 4.6.
func buildProbe(desc *domain.ServiceDescription, port0, failureThreshold int) *corev1.Probe {
	return &corev1.Probe{
		ProbeHandler: corev1.ProbeHandler{
			HTTPGet: &corev1.HTTPGetAction{
				Path: desc.HealthCheckUrl,
				Port: intstr.FromInt(port0),
			},
		},
		PeriodSeconds:       int32(desc.HealthCheckIntervalSecs),
		InitialDelaySeconds: int32(desc.GracePeriodSecs),
		FailureThreshold:    int32(failureThreshold),
		TimeoutSeconds:      1,
	}
}

// buildFileserverSidecar returns the optional directory-listing sidecar
// sharing the user-home volume, present only when a fileserver port is
// configured.
func buildFileserverSidecar(cfg configuration.Kubernetes) corev1.Container {
	return corev1.Container{
		Name:    fileserverContainerName,
		Command: []string{"/usr/bin/waiter-fileserver"},
		Ports: []corev1.ContainerPort{
			{ContainerPort: int32(cfg.Fileserver.Port)},
		},
		VolumeMounts: []corev1.VolumeMount{
			{Name: homeVolumeName, MountPath: HomePath},
		},
	}
}
