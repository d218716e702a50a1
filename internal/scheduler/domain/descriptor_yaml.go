package domain

import (
	"os"

	"gopkg.in/yaml.v3"
)

// serviceDescriptionYAML mirrors ServiceDescription's wire shape for YAML
// service-description files, the format the shell-for-test backend's fixture
// loader and waiter-scheduler's future CLI tooling read, grounded on the
// teacher's queue-reconciler YAML-descriptor loading
// (internal/queue-reconciler/queue_reconciler.go).
type serviceDescriptionYAML struct {
	ServiceId    string            `yaml:"service-id"`
	Tag          string            `yaml:"tag"`
	CmdType      string            `yaml:"cmd-type"`
	Cmd          string            `yaml:"cmd"`
	RunAsUser    string            `yaml:"run-as-user"`
	MinInstances int               `yaml:"min-instances"`
	Ports        int               `yaml:"ports"`
	Protocol     string            `yaml:"protocol"`
	Cpus         float64           `yaml:"cpus"`
	MemMb        int               `yaml:"mem-mb"`
	HealthCheck  struct {
		Url                    string `yaml:"url"`
		IntervalSecs           int    `yaml:"interval-secs"`
		MaxConsecutiveFailures int    `yaml:"max-consecutive-failures"`
	} `yaml:"health-check"`
	GracePeriodSecs int               `yaml:"grace-period-secs"`
	Env             map[string]string `yaml:"env"`
}

// LoadServiceDescription reads a single service-description from a YAML
// file.
func LoadServiceDescription(path string) (*ServiceDescription, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseServiceDescription(content)
}

// ParseServiceDescription decodes a service-description from YAML content.
func ParseServiceDescription(content []byte) (*ServiceDescription, error) {
	var raw serviceDescriptionYAML
	if err := yaml.Unmarshal(content, &raw); err != nil {
		return nil, err
	}
	return &ServiceDescription{
		ServiceId:                         raw.ServiceId,
		Tag:                               raw.Tag,
		CmdType:                           raw.CmdType,
		Cmd:                               raw.Cmd,
		RunAsUser:                         raw.RunAsUser,
		MinInstances:                      raw.MinInstances,
		Ports:                             raw.Ports,
		Protocol:                          raw.Protocol,
		Cpus:                              raw.Cpus,
		MemMb:                             raw.MemMb,
		HealthCheckUrl:                    raw.HealthCheck.Url,
		HealthCheckIntervalSecs:           raw.HealthCheck.IntervalSecs,
		HealthCheckMaxConsecutiveFailures: raw.HealthCheck.MaxConsecutiveFailures,
		GracePeriodSecs:                   raw.GracePeriodSecs,
		Env:                               raw.Env,
	}, nil
}
