package topology

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/opskit/stevedore/pkg/errdefs"
	"github.com/opskit/stevedore/pkg/types"
	"gopkg.in/yaml.v3"
)

// manifest mirrors the on-disk YAML document. Field names follow the
// compose dialect so existing service manifests load unchanged.
type manifest struct {
	Services map[string]*serviceSpec `yaml:"services"`
	Networks map[string]*networkSpec `yaml:"networks"`
	Volumes  map[string]*volumeSpec  `yaml:"volumes"`
}

type serviceSpec struct {
	Image         string           `yaml:"image"`
	Build         string           `yaml:"build"`
	ContainerName string           `yaml:"container_name"`
	Restart       string           `yaml:"restart"`
	Environment   []string         `yaml:"environment"`
	Ports         []string         `yaml:"ports"`
	Volumes       []string         `yaml:"volumes"`
	Networks      []string         `yaml:"networks"`
	DependsOn     dependsOnSpec    `yaml:"depends_on"`
	HealthCheck   *healthCheckSpec `yaml:"healthcheck"`
}

type networkSpec struct {
	Driver   string `yaml:"driver"`
	External bool   `yaml:"external"`
}

type volumeSpec struct {
	Driver   string `yaml:"driver"`
	External bool   `yaml:"external"`
}

type healthCheckSpec struct {
	Test        []string `yaml:"test"`
	Interval    string   `yaml:"interval"`
	Timeout     string   `yaml:"timeout"`
	Retries     int      `yaml:"retries"`
	StartPeriod string   `yaml:"start_period"`
}

// dependsOnSpec accepts both compose forms: a bare list of service names
// and a map of service name to {condition}.
type dependsOnSpec []*types.Dependency

func (d *dependsOnSpec) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var names []string
		if err := node.Decode(&names); err != nil {
			return err
		}
		for _, name := range names {
			*d = append(*d, &types.Dependency{Service: name, Condition: types.ConditionStarted})
		}
		return nil
	case yaml.MappingNode:
		var m map[string]struct {
			Condition string `yaml:"condition"`
		}
		if err := node.Decode(&m); err != nil {
			return err
		}
		names := make([]string, 0, len(m))
		for name := range m {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			cond := types.DependencyCondition(m[name].Condition)
			if cond == "" {
				cond = types.ConditionStarted
			}
			if cond != types.ConditionStarted && cond != types.ConditionHealthy {
				return fmt.Errorf("unknown depends_on condition %q for %s", cond, name)
			}
			*d = append(*d, &types.Dependency{Service: name, Condition: cond})
		}
		return nil
	default:
		return fmt.Errorf("depends_on must be a list or a map")
	}
}

// Load parses a topology document, validates its invariants, and returns
// the topology with services ordered so that every dependency precedes
// its dependents. Load has no side effects.
func Load(data []byte) (*types.Topology, error) {
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &errdefs.ParseError{Reason: err.Error()}
	}
	if len(m.Services) == 0 {
		return nil, &errdefs.ParseError{Field: "services", Reason: "at least one service is required"}
	}

	topo := &types.Topology{
		Networks: make(map[string]*types.Network),
		Volumes:  make(map[string]*types.Volume),
	}

	for name, spec := range m.Networks {
		topo.Networks[name] = &types.Network{Name: name, Driver: spec.driver(), External: spec.External}
	}
	for name, spec := range m.Volumes {
		topo.Volumes[name] = &types.Volume{Name: name, Driver: spec.driver(), External: spec.External}
	}

	names := make([]string, 0, len(m.Services))
	for name := range m.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		svc, err := buildService(name, m.Services[name], topo)
		if err != nil {
			return nil, err
		}
		topo.Services = append(topo.Services, svc)
	}

	if err := validateDependencies(topo); err != nil {
		return nil, err
	}

	ordered, err := Order(topo.Services)
	if err != nil {
		return nil, err
	}
	topo.Services = ordered

	return topo, nil
}

func (n *networkSpec) driver() string {
	if n == nil || n.Driver == "" {
		return "bridge"
	}
	return n.Driver
}

func (v *volumeSpec) driver() string {
	if v == nil || v.Driver == "" {
		return "local"
	}
	return v.Driver
}

func buildService(name string, spec *serviceSpec, topo *types.Topology) (*types.Service, error) {
	if spec == nil {
		return nil, &errdefs.ParseError{Field: name, Reason: "empty service definition"}
	}
	if spec.Image == "" && spec.Build == "" {
		return nil, &errdefs.ParseError{Field: name, Reason: "one of image or build is required"}
	}

	svc := &types.Service{
		Name:          name,
		Image:         spec.Image,
		BuildContext:  spec.Build,
		ContainerName: spec.ContainerName,
		RestartPolicy: types.RestartPolicy(spec.Restart),
		Env:           spec.Environment,
		Networks:      spec.Networks,
		DependsOn:     spec.DependsOn,
	}
	if svc.ContainerName == "" {
		svc.ContainerName = name
	}
	if spec.Restart == "" {
		svc.RestartPolicy = types.RestartNever
	}
	if !svc.RestartPolicy.Valid() {
		return nil, &errdefs.ParseError{
			Field:  name + ".restart",
			Reason: fmt.Sprintf("unknown restart policy %q", spec.Restart),
		}
	}
	// Built images are tagged after the service when no explicit image is set
	if svc.Image == "" {
		svc.Image = name + ":latest"
	}

	for _, env := range spec.Environment {
		if !strings.Contains(env, "=") {
			return nil, &errdefs.ParseError{
				Field:  name + ".environment",
				Reason: fmt.Sprintf("%q is not KEY=VALUE", env),
			}
		}
	}

	for _, p := range spec.Ports {
		mapping, err := parsePort(p)
		if err != nil {
			return nil, &errdefs.ParseError{Field: name + ".ports", Reason: err.Error()}
		}
		svc.Ports = append(svc.Ports, mapping)
	}

	for _, v := range spec.Volumes {
		mount, err := parseVolume(v)
		if err != nil {
			return nil, &errdefs.ParseError{Field: name + ".volumes", Reason: err.Error()}
		}
		// Named volumes must be declared; bind mounts reference host paths
		if !strings.HasPrefix(mount.Source, "/") && !strings.HasPrefix(mount.Source, ".") {
			if _, ok := topo.Volumes[mount.Source]; !ok {
				return nil, &errdefs.ParseError{
					Field:  name + ".volumes",
					Reason: fmt.Sprintf("volume %q is not declared", mount.Source),
				}
			}
		}
		svc.Volumes = append(svc.Volumes, mount)
	}

	for _, n := range spec.Networks {
		if _, ok := topo.Networks[n]; !ok {
			return nil, &errdefs.ParseError{
				Field:  name + ".networks",
				Reason: fmt.Sprintf("network %q is not declared", n),
			}
		}
	}

	if spec.HealthCheck != nil {
		hc, err := buildHealthCheck(name, spec.HealthCheck)
		if err != nil {
			return nil, err
		}
		svc.HealthCheck = hc
	}

	return svc, nil
}

// parsePort parses "host:container[/proto]".
func parsePort(s string) (*types.PortMapping, error) {
	proto := "tcp"
	if i := strings.IndexByte(s, '/'); i >= 0 {
		proto = s[i+1:]
		s = s[:i]
	}
	host, container, ok := strings.Cut(s, ":")
	if !ok {
		return nil, fmt.Errorf("port %q must be host:container", s)
	}
	hp, err := strconv.Atoi(host)
	if err != nil {
		return nil, fmt.Errorf("invalid host port %q", host)
	}
	cp, err := strconv.Atoi(container)
	if err != nil {
		return nil, fmt.Errorf("invalid container port %q", container)
	}
	return &types.PortMapping{HostPort: hp, ContainerPort: cp, Protocol: proto}, nil
}

// parseVolume parses "source:target[:mode]".
func parseVolume(s string) (*types.VolumeMount, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return nil, fmt.Errorf("volume %q must be source:target[:mode]", s)
	}
	mount := &types.VolumeMount{Source: parts[0], Target: parts[1]}
	if len(parts) == 3 {
		switch parts[2] {
		case "ro":
			mount.ReadOnly = true
		case "rw":
		default:
			return nil, fmt.Errorf("unknown volume mode %q", parts[2])
		}
	}
	return mount, nil
}

func buildHealthCheck(service string, spec *healthCheckSpec) (*types.HealthCheck, error) {
	if len(spec.Test) == 0 {
		return nil, &errdefs.ParseError{Field: service + ".healthcheck.test", Reason: "command vector is required"}
	}

	hc := &types.HealthCheck{
		Interval: 6 * time.Second,
		Timeout:  5 * time.Second,
		Retries:  3,
	}

	// The leading vector element selects the probe type. CMD and CMD-SHELL
	// run inside the container; HTTP and TCP are probed from outside.
	head, rest := spec.Test[0], spec.Test[1:]
	switch head {
	case "CMD", "CMD-SHELL":
		if len(rest) == 0 {
			return nil, &errdefs.ParseError{Field: service + ".healthcheck.test", Reason: "CMD requires a command"}
		}
		hc.Type = types.HealthCheckExec
		hc.Command = rest
	case "HTTP":
		if len(rest) != 1 {
			return nil, &errdefs.ParseError{Field: service + ".healthcheck.test", Reason: "HTTP requires exactly one URL"}
		}
		hc.Type = types.HealthCheckHTTP
		hc.Endpoint = rest[0]
	case "TCP":
		if len(rest) != 1 {
			return nil, &errdefs.ParseError{Field: service + ".healthcheck.test", Reason: "TCP requires exactly one address"}
		}
		hc.Type = types.HealthCheckTCP
		hc.Endpoint = rest[0]
	default:
		// Bare command vector, same as CMD
		hc.Type = types.HealthCheckExec
		hc.Command = spec.Test
	}

	var err error
	if hc.Interval, err = parseDuration(spec.Interval, hc.Interval); err != nil {
		return nil, &errdefs.ParseError{Field: service + ".healthcheck.interval", Reason: err.Error()}
	}
	if hc.Timeout, err = parseDuration(spec.Timeout, hc.Timeout); err != nil {
		return nil, &errdefs.ParseError{Field: service + ".healthcheck.timeout", Reason: err.Error()}
	}
	if hc.StartPeriod, err = parseDuration(spec.StartPeriod, 0); err != nil {
		return nil, &errdefs.ParseError{Field: service + ".healthcheck.start_period", Reason: err.Error()}
	}
	if spec.Retries > 0 {
		hc.Retries = spec.Retries
	}

	return hc, nil
}

func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration %q must be positive", s)
	}
	return d, nil
}

func validateDependencies(topo *types.Topology) error {
	known := make(map[string]bool, len(topo.Services))
	for _, svc := range topo.Services {
		known[svc.Name] = true
	}
	for _, svc := range topo.Services {
		for _, dep := range svc.DependsOn {
			if !known[dep.Service] {
				return &errdefs.ParseError{
					Field:  svc.Name + ".depends_on",
					Reason: fmt.Sprintf("unknown service %q", dep.Service),
				}
			}
			if dep.Service == svc.Name {
				return &errdefs.CyclicDependencyError{Cycle: []string{svc.Name, svc.Name}}
			}
		}
	}
	return nil
}

// Order returns services sorted so that every dependency appears before
// its dependents. Ties break alphabetically, so the order is stable across
// runs. Returns CyclicDependencyError when the graph has a cycle.
func Order(services []*types.Service) ([]*types.Service, error) {
	byName := make(map[string]*types.Service, len(services))
	indegree := make(map[string]int, len(services))
	dependents := make(map[string][]string, len(services))

	for _, svc := range services {
		byName[svc.Name] = svc
		indegree[svc.Name] = len(svc.DependsOn)
	}
	for _, svc := range services {
		for _, dep := range svc.DependsOn {
			dependents[dep.Service] = append(dependents[dep.Service], svc.Name)
		}
	}

	var ready []string
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	ordered := make([]*types.Service, 0, len(services))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		ordered = append(ordered, byName[name])

		var unblocked []string
		for _, dependent := range dependents[name] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				unblocked = append(unblocked, dependent)
			}
		}
		sort.Strings(unblocked)
		ready = append(ready, unblocked...)
	}

	if len(ordered) != len(services) {
		var cycle []string
		for name, deg := range indegree {
			if deg > 0 {
				cycle = append(cycle, name)
			}
		}
		sort.Strings(cycle)
		return nil, &errdefs.CyclicDependencyError{Cycle: cycle}
	}

	return ordered, nil
}
