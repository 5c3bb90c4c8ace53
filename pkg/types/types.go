package types

import (
	"time"
)

// Topology is the declarative description of one deployment: the services
// to run, the networks they share, and the named volumes they mount.
// Loaded once per run and read-only thereafter.
type Topology struct {
	Services []*Service
	Networks map[string]*Network
	Volumes  map[string]*Volume
}

// Service represents a single containerized workload on the target host.
type Service struct {
	Name          string
	Image         string
	BuildContext  string // When set, the image is built from this directory
	ContainerName string
	RestartPolicy RestartPolicy
	Env           []string
	Ports         []*PortMapping
	Networks      []string
	Volumes       []*VolumeMount
	DependsOn     []*Dependency
	HealthCheck   *HealthCheck
}

// RestartPolicy defines container restart behavior
type RestartPolicy string

const (
	RestartAlways        RestartPolicy = "always"
	RestartUnlessStopped RestartPolicy = "unless-stopped"
	RestartOnFailure     RestartPolicy = "on-failure"
	RestartNever         RestartPolicy = "no"
)

// Valid reports whether p is a recognized restart policy.
func (p RestartPolicy) Valid() bool {
	switch p {
	case RestartAlways, RestartUnlessStopped, RestartOnFailure, RestartNever:
		return true
	}
	return false
}

// Dependency declares that a service must wait for another service
// before it is started.
type Dependency struct {
	Service   string
	Condition DependencyCondition
}

// DependencyCondition defines what "ready" means for a dependency
type DependencyCondition string

const (
	// ConditionStarted only requires the dependency's container to exist
	ConditionStarted DependencyCondition = "service_started"

	// ConditionHealthy requires the dependency's health probe to pass
	ConditionHealthy DependencyCondition = "service_healthy"
)

// PortMapping defines port exposure on the host
type PortMapping struct {
	HostPort      int
	ContainerPort int
	Protocol      string // "tcp" or "udp"
}

// VolumeMount defines a volume mount point
type VolumeMount struct {
	Source   string // Named volume or host path
	Target   string // Container path
	ReadOnly bool
}

// HealthCheck defines the readiness probe for a service
type HealthCheck struct {
	Type        HealthCheckType
	Endpoint    string   // URL or address, for http/tcp probes
	Command     []string // For exec probes, run inside the container
	Interval    time.Duration
	Timeout     time.Duration
	Retries     int
	StartPeriod time.Duration
}

// HealthCheckType defines the type of health probe
type HealthCheckType string

const (
	HealthCheckHTTP HealthCheckType = "http"
	HealthCheckTCP  HealthCheckType = "tcp"
	HealthCheckExec HealthCheckType = "exec"
)

// Network represents a named isolated communication domain. Services that
// share a network can address each other by service name.
type Network struct {
	Name     string
	Driver   string
	External bool
}

// Volume represents a named persistent storage unit that outlives any
// single container instance.
type Volume struct {
	Name     string
	Driver   string
	External bool
}

// ServiceStatus is the terminal classification of one service at the end
// of a deployment run.
type ServiceStatus string

const (
	StatusHealthy   ServiceStatus = "healthy"
	StatusUnhealthy ServiceStatus = "unhealthy"
	StatusUnknown   ServiceStatus = "unknown" // never started or never probed
)

// Reachability is the verdict of the external end-to-end check.
type Reachability string

const (
	ReachableEncrypted Reachability = "reachable-encrypted"
	ReachablePlain     Reachability = "reachable-plain"
	Unreachable        Reachability = "unreachable"
)

// ServiceOutcome holds the final state of one service after a run.
type ServiceOutcome struct {
	Name    string
	Status  ServiceStatus
	Started bool
	Message string
	LogTail []string // Last N log lines, captured for diagnostics
}

// DeploymentOutcome is the immutable result of one deployment run.
// It is computed fresh each run and reported; only a summary is journaled.
type DeploymentOutcome struct {
	RunID        string
	Host         string
	StartedAt    time.Time
	FinishedAt   time.Time
	Services     []*ServiceOutcome
	Reachability Reachability
	Degraded     bool
	Err          string // Fatal error that aborted the run, if any
}

// Succeeded reports whether the run completed without a fatal error, every
// monitored service reached healthy, and the public endpoint answered over
// an encrypted transport.
func (o *DeploymentOutcome) Succeeded() bool {
	return o.Err == "" && !o.Degraded && o.Reachability == ReachableEncrypted
}

// Service looks up a service outcome by name.
func (o *DeploymentOutcome) Service(name string) *ServiceOutcome {
	for _, s := range o.Services {
		if s.Name == name {
			return s
		}
	}
	return nil
}
