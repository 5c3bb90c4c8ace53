package deploy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/opskit/stevedore/pkg/errdefs"
	"github.com/opskit/stevedore/pkg/health"
	"github.com/opskit/stevedore/pkg/reconciler"
	"github.com/opskit/stevedore/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stageRecorder struct {
	order []string
}

type fakeTransfer struct {
	rec *stageRecorder
	err error
}

func (f *fakeTransfer) Push(context.Context, string, string) error {
	f.rec.order = append(f.rec.order, "transfer")
	return f.err
}

type fakeBoot struct {
	rec *stageRecorder
	err error
}

func (f *fakeBoot) Ensure(context.Context) error {
	f.rec.order = append(f.rec.order, "bootstrap")
	return f.err
}

type fakeRecon struct {
	rec     *stageRecorder
	results []*reconciler.Result
	err     error
}

func (f *fakeRecon) Reconcile(context.Context, *types.Topology) ([]*reconciler.Result, error) {
	f.rec.order = append(f.rec.order, "reconcile")
	return f.results, f.err
}

type fakeVerifier struct {
	rec     *stageRecorder
	verdict types.Reachability
}

func (f *fakeVerifier) Verify(context.Context) types.Reachability {
	f.rec.order = append(f.rec.order, "verify")
	return f.verdict
}

func topoWithProbe(endpoint string) *types.Topology {
	return &types.Topology{
		Services: []*types.Service{
			{
				Name:          "app",
				ContainerName: "app",
				Image:         "app:latest",
				HealthCheck: &types.HealthCheck{
					Type:     types.HealthCheckHTTP,
					Endpoint: endpoint,
					Interval: time.Millisecond,
					Timeout:  100 * time.Millisecond,
					Retries:  3,
				},
			},
		},
	}
}

func started(names ...string) []*reconciler.Result {
	var results []*reconciler.Result
	for _, n := range names {
		results = append(results, &reconciler.Result{Service: n, Started: true})
	}
	return results
}

func newTestPipeline(cfg Config, transfer Transferrer, boot Bootstrapper, recon Reconciler, verifier Verifier) *Pipeline {
	return NewPipeline(cfg, transfer, boot, recon, health.NewPoller(time.Millisecond, 3), verifier, nil)
}

func TestRun_HappyPath(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	rec := &stageRecorder{}
	cfg := Config{
		Topology:  topoWithProbe(healthy.URL + "/health"),
		SourceDir: "/src",
		RemoteDir: "/srv/app",
	}
	p := newTestPipeline(cfg,
		&fakeTransfer{rec: rec},
		&fakeBoot{rec: rec},
		&fakeRecon{rec: rec, results: started("app")},
		&fakeVerifier{rec: rec, verdict: types.ReachableEncrypted},
	)

	outcome := p.Run(context.Background())

	require.Empty(t, outcome.Err)
	assert.True(t, outcome.Succeeded())
	assert.Equal(t, types.StatusHealthy, outcome.Service("app").Status)
	assert.Equal(t, types.ReachableEncrypted, outcome.Reachability)
	assert.Equal(t, []string{"transfer", "bootstrap", "reconcile", "verify"}, rec.order)
	assert.NotEmpty(t, outcome.RunID)
	assert.False(t, outcome.FinishedAt.IsZero())
}

func TestRun_TransferFailureAborts(t *testing.T) {
	rec := &stageRecorder{}
	cfg := Config{Topology: topoWithProbe("http://localhost/health"), SourceDir: "/src"}
	p := newTestPipeline(cfg,
		&fakeTransfer{rec: rec, err: &errdefs.TransferError{Path: "/srv/app"}},
		&fakeBoot{rec: rec},
		&fakeRecon{rec: rec},
		&fakeVerifier{rec: rec},
	)

	outcome := p.Run(context.Background())

	assert.NotEmpty(t, outcome.Err)
	assert.False(t, outcome.Succeeded())
	// No remote mutation after a transfer failure
	assert.Equal(t, []string{"transfer"}, rec.order)
	assert.Equal(t, types.StatusUnknown, outcome.Service("app").Status)
}

func TestRun_BootstrapFailureAborts(t *testing.T) {
	rec := &stageRecorder{}
	cfg := Config{Topology: topoWithProbe("http://localhost/health")}
	p := newTestPipeline(cfg,
		nil,
		&fakeBoot{rec: rec, err: &errdefs.BootstrapError{Step: "install-runtime"}},
		&fakeRecon{rec: rec},
		&fakeVerifier{rec: rec},
	)

	outcome := p.Run(context.Background())

	assert.NotEmpty(t, outcome.Err)
	assert.Equal(t, []string{"bootstrap"}, rec.order)
}

func TestRun_HealthTimeoutDegradesButContinues(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer failing.Close()

	rec := &stageRecorder{}
	cfg := Config{Topology: topoWithProbe(failing.URL + "/health")}
	p := newTestPipeline(cfg,
		nil,
		&fakeBoot{rec: rec},
		&fakeRecon{rec: rec, results: started("app")},
		&fakeVerifier{rec: rec, verdict: types.ReachableEncrypted},
	)

	outcome := p.Run(context.Background())

	assert.Empty(t, outcome.Err, "health timeout is not fatal")
	assert.True(t, outcome.Degraded)
	assert.False(t, outcome.Succeeded())
	assert.Equal(t, types.StatusUnhealthy, outcome.Service("app").Status)
	// Reachability still checked so operators get full diagnostics
	assert.Contains(t, rec.order, "verify")
}

func TestRun_PlainReachabilityIsDegraded(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	rec := &stageRecorder{}
	cfg := Config{Topology: topoWithProbe(healthy.URL + "/health")}
	p := newTestPipeline(cfg,
		nil,
		&fakeBoot{rec: rec},
		&fakeRecon{rec: rec, results: started("app")},
		&fakeVerifier{rec: rec, verdict: types.ReachablePlain},
	)

	outcome := p.Run(context.Background())

	assert.Empty(t, outcome.Err)
	assert.True(t, outcome.Degraded)
	assert.Equal(t, types.StatusHealthy, outcome.Service("app").Status)
	assert.Equal(t, types.ReachablePlain, outcome.Reachability)
}

func TestRun_SkippedServiceIsUnknown(t *testing.T) {
	rec := &stageRecorder{}
	topo := topoWithProbe("http://localhost/health")
	topo.Services = append(topo.Services, &types.Service{
		Name:          "caddy",
		ContainerName: "caddy",
		Image:         "caddy:2",
	})
	cfg := Config{Topology: topo}

	results := []*reconciler.Result{
		{Service: "app", Started: true},
		{Service: "caddy", Skipped: "dependency app never became healthy (timed-out)"},
	}
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer failing.Close()
	topo.Services[0].HealthCheck.Endpoint = failing.URL

	p := newTestPipeline(cfg,
		nil,
		&fakeBoot{rec: rec},
		&fakeRecon{rec: rec, results: results},
		&fakeVerifier{rec: rec, verdict: types.Unreachable},
	)

	outcome := p.Run(context.Background())

	assert.Equal(t, types.StatusUnhealthy, outcome.Service("app").Status)
	caddy := outcome.Service("caddy")
	assert.Equal(t, types.StatusUnknown, caddy.Status)
	assert.False(t, caddy.Started)
	assert.Contains(t, caddy.Message, "app")
	assert.True(t, outcome.Degraded)
}

func TestRewriteLoopback(t *testing.T) {
	tests := []struct {
		endpoint, host, want string
	}{
		{"http://localhost:8000/health", "deploy.example.com", "http://deploy.example.com:8000/health"},
		{"http://127.0.0.1:8000/health", "deploy.example.com", "http://deploy.example.com:8000/health"},
		{"http://app.internal/health", "deploy.example.com", "http://app.internal/health"},
		{"http://localhost:8000/health", "", "http://localhost:8000/health"},
	}
	for _, tt := range tests {
		if got := rewriteLoopback(tt.endpoint, tt.host); got != tt.want {
			t.Errorf("rewriteLoopback(%q, %q) = %q, want %q", tt.endpoint, tt.host, got, tt.want)
		}
	}
}
