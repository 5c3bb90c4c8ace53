package reconciler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opskit/stevedore/pkg/errdefs"
	"github.com/opskit/stevedore/pkg/health"
	"github.com/opskit/stevedore/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRuntime tracks running containers in memory and records the order
// of operations.
type fakeRuntime struct {
	running  map[string]bool
	ops      []string
	failRun  map[string]error
	logLines []string
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		running: make(map[string]bool),
		failRun: make(map[string]error),
	}
}

func (f *fakeRuntime) ContainerExists(_ context.Context, name string) (bool, error) {
	return f.running[name], nil
}

func (f *fakeRuntime) StopContainer(_ context.Context, name string) error {
	if f.running[name] {
		f.ops = append(f.ops, "stop "+name)
	}
	return nil
}

func (f *fakeRuntime) RemoveContainer(_ context.Context, name string) error {
	if f.running[name] {
		f.ops = append(f.ops, "rm "+name)
		delete(f.running, name)
	}
	return nil
}

func (f *fakeRuntime) PruneVolumes(_ context.Context, pattern string) ([]string, error) {
	f.ops = append(f.ops, "prune "+pattern)
	return nil, nil
}

func (f *fakeRuntime) EnsureNetwork(_ context.Context, n *types.Network) error {
	f.ops = append(f.ops, "network "+n.Name)
	return nil
}

func (f *fakeRuntime) EnsureVolume(_ context.Context, v *types.Volume) error {
	f.ops = append(f.ops, "volume "+v.Name)
	return nil
}

func (f *fakeRuntime) BuildImage(_ context.Context, image, _ string) error {
	f.ops = append(f.ops, "build "+image)
	return nil
}

func (f *fakeRuntime) RunContainer(_ context.Context, svc *types.Service) (string, error) {
	if err := f.failRun[svc.Name]; err != nil {
		return "", err
	}
	f.ops = append(f.ops, "run "+svc.ContainerName)
	f.running[svc.ContainerName] = true
	return "id-" + svc.ContainerName, nil
}

func (f *fakeRuntime) Logs(_ context.Context, _ string, _ int) ([]string, error) {
	return f.logLines, nil
}

func (f *fakeRuntime) runningNames() []string {
	var names []string
	for name, up := range f.running {
		if up {
			names = append(names, name)
		}
	}
	return names
}

// staticChecker always reports the same health verdict.
type staticChecker struct{ healthy bool }

func (c staticChecker) Check(context.Context) health.Result {
	return health.Result{Healthy: c.healthy, CheckedAt: time.Now()}
}

func (c staticChecker) Type() health.CheckType { return health.CheckTypeHTTP }

func factoryFor(healthyServices map[string]bool) CheckerFactory {
	return func(svc *types.Service) health.Checker {
		return staticChecker{healthy: healthyServices[svc.Name]}
	}
}

func appCaddyTopology() *types.Topology {
	hc := &types.HealthCheck{
		Type:     types.HealthCheckHTTP,
		Endpoint: "http://localhost:8000/health",
		Interval: time.Millisecond,
		Timeout:  time.Millisecond,
		Retries:  3,
	}
	app := &types.Service{
		Name:          "app",
		ContainerName: "app",
		Image:         "app:latest",
		BuildContext:  ".",
		HealthCheck:   hc,
	}
	caddy := &types.Service{
		Name:          "caddy",
		ContainerName: "caddy",
		Image:         "caddy:2",
		DependsOn: []*types.Dependency{
			{Service: "app", Condition: types.ConditionHealthy},
		},
	}
	return &types.Topology{
		Services: []*types.Service{app, caddy},
		Networks: map[string]*types.Network{"web": {Name: "web"}},
		Volumes:  map[string]*types.Volume{"app-cache": {Name: "app-cache"}},
	}
}

func testPoller() *health.Poller {
	return health.NewPoller(time.Millisecond, 4)
}

func TestReconcile_StartsDependencyFirst(t *testing.T) {
	rt := newFakeRuntime()
	rec := New(rt, testPoller(), factoryFor(map[string]bool{"app": true}), "")

	results, err := rec.Reconcile(context.Background(), appCaddyTopology())
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Started)
	assert.True(t, results[1].Started)

	var appIdx, caddyIdx int
	for i, op := range rt.ops {
		switch op {
		case "run app":
			appIdx = i
		case "run caddy":
			caddyIdx = i
		}
	}
	assert.Less(t, appIdx, caddyIdx, "app must start before caddy")
}

func TestReconcile_UnhealthyDependencySkipsDependent(t *testing.T) {
	rt := newFakeRuntime()
	rec := New(rt, testPoller(), factoryFor(map[string]bool{"app": false}), "")

	results, err := rec.Reconcile(context.Background(), appCaddyTopology())
	require.NoError(t, err)

	assert.True(t, results[0].Started, "app container still starts")
	assert.False(t, results[1].Started, "caddy must not start")
	assert.Contains(t, results[1].Skipped, "app")

	for _, op := range rt.ops {
		assert.NotEqual(t, "run caddy", op)
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	rt := newFakeRuntime()
	rec := New(rt, testPoller(), factoryFor(map[string]bool{"app": true}), "")
	topo := appCaddyTopology()

	_, err := rec.Reconcile(context.Background(), topo)
	require.NoError(t, err)
	first := rt.runningNames()

	// Second run against the same topology: poller caches are fresh
	rec = New(rt, testPoller(), factoryFor(map[string]bool{"app": true}), "")
	_, err = rec.Reconcile(context.Background(), topo)
	require.NoError(t, err)
	second := rt.runningNames()

	assert.ElementsMatch(t, first, second)
	assert.Len(t, second, 2)
}

func TestReconcile_ReplacesExistingContainer(t *testing.T) {
	rt := newFakeRuntime()
	rt.running["app"] = true
	rec := New(rt, testPoller(), factoryFor(map[string]bool{"app": true}), "")

	_, err := rec.Reconcile(context.Background(), appCaddyTopology())
	require.NoError(t, err)

	assert.Contains(t, rt.ops, "stop app")
	assert.Contains(t, rt.ops, "rm app")
	assert.Contains(t, rt.ops, "run app")
}

func TestReconcile_StartupErrorCarriesLogTail(t *testing.T) {
	rt := newFakeRuntime()
	rt.failRun["app"] = errors.New("port already allocated")
	rt.logLines = []string{"bind: address already in use"}
	rec := New(rt, testPoller(), factoryFor(nil), "")

	_, err := rec.Reconcile(context.Background(), appCaddyTopology())
	require.Error(t, err)

	var startupErr *errdefs.StartupError
	require.ErrorAs(t, err, &startupErr)
	assert.Equal(t, "app", startupErr.Service)
	assert.Equal(t, []string{"bind: address already in use"}, startupErr.LogTail)
}

func TestReconcile_PrunesVolumesBeforeStarting(t *testing.T) {
	rt := newFakeRuntime()
	rec := New(rt, testPoller(), factoryFor(map[string]bool{"app": true}), "app_")

	_, err := rec.Reconcile(context.Background(), appCaddyTopology())
	require.NoError(t, err)

	require.NotEmpty(t, rt.ops)
	assert.Equal(t, "prune app_", rt.ops[0])
}
