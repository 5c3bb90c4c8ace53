package topology

import (
	"errors"
	"testing"
	"time"

	"github.com/opskit/stevedore/pkg/errdefs"
	"github.com/opskit/stevedore/pkg/types"
)

const twoServiceManifest = `
services:
  app:
    build: .
    container_name: photogrammetry-api
    restart: unless-stopped
    environment:
      - PORT=8000
    ports:
      - "8000:8000"
    networks:
      - web
    volumes:
      - app-cache:/app/cache
    healthcheck:
      test: ["HTTP", "http://localhost:8000/health"]
      interval: 6s
      timeout: 5s
      retries: 3
      start_period: 10s
  caddy:
    image: caddy:2
    restart: unless-stopped
    ports:
      - "80:80"
      - "443:443"
    networks:
      - web
    depends_on:
      app:
        condition: service_healthy
    healthcheck:
      test: ["CMD", "wget", "-q", "--spider", "http://localhost"]
networks:
  web:
    driver: bridge
volumes:
  app-cache: {}
`

func TestLoad_TwoServiceManifest(t *testing.T) {
	topo, err := Load([]byte(twoServiceManifest))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(topo.Services) != 2 {
		t.Fatalf("expected 2 services, got %d", len(topo.Services))
	}

	// app has no dependencies so it must come first
	if topo.Services[0].Name != "app" || topo.Services[1].Name != "caddy" {
		t.Errorf("unexpected order: %s, %s", topo.Services[0].Name, topo.Services[1].Name)
	}

	app := topo.Services[0]
	if app.ContainerName != "photogrammetry-api" {
		t.Errorf("unexpected container name: %s", app.ContainerName)
	}
	if app.RestartPolicy != types.RestartUnlessStopped {
		t.Errorf("unexpected restart policy: %s", app.RestartPolicy)
	}
	if app.HealthCheck == nil || app.HealthCheck.Type != types.HealthCheckHTTP {
		t.Fatalf("expected HTTP health check, got %+v", app.HealthCheck)
	}
	if app.HealthCheck.Interval != 6*time.Second {
		t.Errorf("expected 6s interval, got %v", app.HealthCheck.Interval)
	}
	if app.HealthCheck.StartPeriod != 10*time.Second {
		t.Errorf("expected 10s start period, got %v", app.HealthCheck.StartPeriod)
	}
	// Built image defaults to the service name
	if app.Image != "app:latest" {
		t.Errorf("unexpected image: %s", app.Image)
	}

	caddy := topo.Services[1]
	if len(caddy.DependsOn) != 1 || caddy.DependsOn[0].Condition != types.ConditionHealthy {
		t.Fatalf("expected healthy condition on caddy dependency, got %+v", caddy.DependsOn)
	}
	if caddy.HealthCheck == nil || caddy.HealthCheck.Type != types.HealthCheckExec {
		t.Fatalf("expected exec health check for caddy, got %+v", caddy.HealthCheck)
	}
	if len(topo.Networks) != 1 || topo.Networks["web"] == nil {
		t.Errorf("expected declared network web, got %v", topo.Networks)
	}
	if len(topo.Volumes) != 1 || topo.Volumes["app-cache"] == nil {
		t.Errorf("expected declared volume app-cache, got %v", topo.Volumes)
	}
}

func TestLoad_DependencyOrder(t *testing.T) {
	// c -> b -> a plus an independent service, declared out of order
	doc := `
services:
  c:
    image: c:1
    depends_on: [b]
  standalone:
    image: s:1
  b:
    image: b:1
    depends_on: [a]
  a:
    image: a:1
`
	topo, err := Load([]byte(doc))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	index := make(map[string]int)
	for i, svc := range topo.Services {
		index[svc.Name] = i
	}
	for _, svc := range topo.Services {
		for _, dep := range svc.DependsOn {
			if index[dep.Service] >= index[svc.Name] {
				t.Errorf("dependency %s of %s appears after it", dep.Service, svc.Name)
			}
		}
	}
}

func TestLoad_CyclicDependency(t *testing.T) {
	doc := `
services:
  a:
    image: a:1
    depends_on: [b]
  b:
    image: b:1
    depends_on: [a]
`
	_, err := Load([]byte(doc))
	var cycleErr *errdefs.CyclicDependencyError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected CyclicDependencyError, got %v", err)
	}
	if len(cycleErr.Cycle) == 0 {
		t.Error("expected cycle members in error")
	}
}

func TestLoad_SelfDependency(t *testing.T) {
	doc := `
services:
  a:
    image: a:1
    depends_on: [a]
`
	_, err := Load([]byte(doc))
	var cycleErr *errdefs.CyclicDependencyError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected CyclicDependencyError, got %v", err)
	}
}

func TestLoad_Rejections(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"no services", `networks: {}`},
		{"missing image and build", "services:\n  a: {}\n"},
		{"bad restart policy", "services:\n  a:\n    image: a:1\n    restart: sometimes\n"},
		{"bad environment entry", "services:\n  a:\n    image: a:1\n    environment: [PORT]\n"},
		{"bad port", "services:\n  a:\n    image: a:1\n    ports: [\"eighty:80\"]\n"},
		{"undeclared network", "services:\n  a:\n    image: a:1\n    networks: [web]\n"},
		{"undeclared volume", "services:\n  a:\n    image: a:1\n    volumes: [\"cache:/cache\"]\n"},
		{"unknown dependency", "services:\n  a:\n    image: a:1\n    depends_on: [ghost]\n"},
		{"bad volume mode", "services:\n  a:\n    image: a:1\n    volumes: [\"/d:/d:rx\"]\n"},
		{"empty healthcheck test", "services:\n  a:\n    image: a:1\n    healthcheck: {retries: 2}\n"},
		{"not yaml", "services: ["},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load([]byte(tt.doc))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			var parseErr *errdefs.ParseError
			if !errors.As(err, &parseErr) {
				t.Errorf("expected ParseError, got %T: %v", err, err)
			}
		})
	}
}

func TestLoad_BindMountsSkipVolumeDeclaration(t *testing.T) {
	doc := `
services:
  a:
    image: a:1
    volumes:
      - "/etc/caddy:/etc/caddy:ro"
      - "./site:/srv"
`
	topo, err := Load([]byte(doc))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	mounts := topo.Services[0].Volumes
	if len(mounts) != 2 {
		t.Fatalf("expected 2 mounts, got %d", len(mounts))
	}
	if !mounts[0].ReadOnly {
		t.Error("expected first mount to be read-only")
	}
	if mounts[1].ReadOnly {
		t.Error("expected second mount to be read-write")
	}
}

func TestOrder_Deterministic(t *testing.T) {
	services := []*types.Service{
		{Name: "z"},
		{Name: "m"},
		{Name: "a"},
	}
	ordered, err := Order(services)
	if err != nil {
		t.Fatalf("Order failed: %v", err)
	}
	got := []string{ordered[0].Name, ordered[1].Name, ordered[2].Name}
	want := []string{"a", "m", "z"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}
