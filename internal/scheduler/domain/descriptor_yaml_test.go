package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServiceDescription(t *testing.T) {
	content := []byte(`
service-id: waiter-app-0123456789abcdef
tag: primary
cmd-type: shell
cmd: ./run.sh
run-as-user: nobody
min-instances: 2
ports: 1
protocol: http
cpus: 0.5
mem-mb: 256
health-check:
  url: /status
  interval-secs: 10
  max-consecutive-failures: 3
grace-period-secs: 30
env:
  FOO: bar
`)

	desc, err := ParseServiceDescription(content)
	require.NoError(t, err)
	assert.Equal(t, "waiter-app-0123456789abcdef", desc.ServiceId)
	assert.Equal(t, "primary", desc.Tag)
	assert.Equal(t, 2, desc.MinInstances)
	assert.Equal(t, "/status", desc.HealthCheckUrl)
	assert.Equal(t, 3, desc.HealthCheckMaxConsecutiveFailures)
	assert.Equal(t, "bar", desc.Env["FOO"])
}

func TestLoadServiceDescription_MissingFile(t *testing.T) {
	_, err := LoadServiceDescription("/nonexistent/path.yaml")
	assert.Error(t, err)
}
