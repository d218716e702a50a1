// Package configuration holds the scheduler core's process configuration tree,
// loaded with viper/pflag the same way the teacher's cmd/fakeexecutor/main.go and
// internal/common/startup.go (LoadConfig) load internal/executor/configuration.
package configuration

import (
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	log "github.com/sirupsen/logrus"
)

// HttpOptions configures connect/socket timeouts for the orchestrator client.
type HttpOptions struct {
	ConnTimeout   time.Duration `mapstructure:"conn-timeout"`
	SocketTimeout time.Duration `mapstructure:"socket-timeout"`
}

// Fileserver configures the per-pod sidecar used for directory listing.
type Fileserver struct {
	Port   int    `mapstructure:"port"`
	Scheme string `mapstructure:"scheme"`
}

// Authentication configures the orchestrator auth-refresh worker.
type Authentication struct {
	ActionFn         string `mapstructure:"action-fn"`
	RefreshDelayMins int    `mapstructure:"refresh-delay-mins"`
}

// Authorizer configures which authorizer capability check backs validate-service.
type Authorizer struct {
	Kind string `mapstructure:"kind"`
}

// ReplicaSetSpecBuilder names the factory function used to build workload
// specs; today there is exactly one (specbuilder.Build), but the field is kept
// to mirror the source's pluggable factory-fn knob.
type ReplicaSetSpecBuilder struct {
	FactoryFn string `mapstructure:"factory-fn"`
}

// Kubernetes is one Kubernetes-backed scheduler backend's configuration, per
// spec.md 6's "Configuration (recognized options)".
type Kubernetes struct {
	Url         string      `mapstructure:"url"`
	HttpOptions HttpOptions `mapstructure:"http-options"`

	OrchestratorName string `mapstructure:"orchestrator-name"`

	PodBasePort     int `mapstructure:"pod-base-port"`
	PodSuffixLength int `mapstructure:"pod-suffix-length"`
	MaxNameLength   int `mapstructure:"max-name-length"`
	MaxPatchRetries int `mapstructure:"max-patch-retries"`

	ReplicaSetApiVersion  string                `mapstructure:"replicaset-api-version"`
	ReplicaSetSpecBuilder ReplicaSetSpecBuilder `mapstructure:"replicaset-spec-builder"`

	Fileserver Fileserver `mapstructure:"fileserver"`

	Authentication Authentication `mapstructure:"authentication"`
	Authorizer     Authorizer     `mapstructure:"authorizer"`

	SchedulerSyncerIntervalSecs int `mapstructure:"scheduler-syncer-interval-secs"`
}

// Composite configures the tag -> backend routing of the composite scheduler.
type Composite struct {
	DefaultTag string `mapstructure:"default-tag"`
}

// Configuration is the root process configuration: one or more named
// Kubernetes backends, composed behind the composite scheduler, plus the
// metrics/health server port.
type Configuration struct {
	Backends   map[string]Kubernetes `mapstructure:"backends"`
	Composite  Composite             `mapstructure:"composite"`
	MetricPort int                   `mapstructure:"metric-port"`
	HealthPort int                   `mapstructure:"health-port"`
}

// ConfigFlagName is the pflag name used for config file paths, matching the
// teacher's CustomConfigLocation convention in cmd/fakeexecutor/main.go.
const ConfigFlagName = "config"

// RegisterFlags registers the --config flag. Call once, before pflag.Parse().
func RegisterFlags() {
	pflag.StringSlice(
		ConfigFlagName,
		[]string{},
		"Fully qualified path to a configuration file (repeat, or comma-separate, for multiple files)",
	)
}

// Load reads every file named by --config into cfg, failing loudly (matching
// LoadConfig's os.Exit(-1) behaviour) if any of them cannot be read.
func Load(cfg *Configuration) {
	paths, _ := pflag.CommandLine.GetStringSlice(ConfigFlagName)
	v := viper.New()
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.SetConfigFile(p)
		if err := v.MergeInConfig(); err != nil {
			log.Fatalf("failed to read config file %s: %s", p, err)
		}
	}
	if err := v.Unmarshal(cfg); err != nil {
		log.Fatalf("failed to unmarshal configuration: %s", err)
	}
}

// ConfigureLogging sets the scheduler core's log formatter, matching the
// teacher's internal/common/startup.go ConfigureLogging.
func ConfigureLogging() {
	log.SetFormatter(&log.TextFormatter{ForceColors: true, FullTimestamp: true})
}
