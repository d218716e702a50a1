package domain

// ServiceDescription is the input to create-service-if-new: everything needed to
// build a workload spec for a logical service. It is the scheduler core's view of
// what the rest of Waiter (token/descriptor parsing, config defaults) has already
// resolved for a service-id.
type ServiceDescription struct {
	ServiceId    string
	Tag          string // selects a composite-scheduler backend; empty means the composite's default-tag
	CmdType      string // "shell" (supported) or "docker" (unsupported.)
	Cmd          string
	RunAsUser    string // becomes the Kubernetes namespace
	MinInstances int

	Ports       int
	Protocol    string
	Cpus        float64
	MemMb       int

	HealthCheckUrl                     string
	HealthCheckIntervalSecs            int
	HealthCheckMaxConsecutiveFailures  int
	GracePeriodSecs                    int

	Env map[string]string
}
