package config

import (
	"testing"
	"time"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, key := range []string{
		"DEPLOY_HOST", "DEPLOY_USER", "DEPLOY_KEY", "DEPLOY_PORT",
		"DEPLOY_DIR", "DEPLOY_DOMAIN", "DEPLOY_MANIFEST",
		"DEPLOY_PRUNE_PATTERN", "DEPLOY_POLL_INTERVAL",
		"DEPLOY_POLL_ATTEMPTS", "DEPLOY_JOURNAL",
	} {
		t.Setenv(key, "")
	}

	cfg := FromEnv()

	if cfg.User != "root" {
		t.Errorf("User = %q, want root", cfg.User)
	}
	if cfg.Port != 22 {
		t.Errorf("Port = %d, want 22", cfg.Port)
	}
	if cfg.RemoteDir != "/opt/app" {
		t.Errorf("RemoteDir = %q, want /opt/app", cfg.RemoteDir)
	}
	if cfg.ManifestPath != "deploy.yml" {
		t.Errorf("ManifestPath = %q, want deploy.yml", cfg.ManifestPath)
	}
	if cfg.PollInterval != 6*time.Second {
		t.Errorf("PollInterval = %v, want 6s", cfg.PollInterval)
	}
	if cfg.PollAttempts != 15 {
		t.Errorf("PollAttempts = %d, want 15", cfg.PollAttempts)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("DEPLOY_HOST", "203.0.113.7")
	t.Setenv("DEPLOY_USER", "deploy")
	t.Setenv("DEPLOY_PORT", "2222")
	t.Setenv("DEPLOY_POLL_INTERVAL", "2s")
	t.Setenv("DEPLOY_POLL_ATTEMPTS", "30")
	t.Setenv("DEPLOY_DOMAIN", "")

	cfg := FromEnv()

	if cfg.Host != "203.0.113.7" {
		t.Errorf("Host = %q", cfg.Host)
	}
	if cfg.User != "deploy" {
		t.Errorf("User = %q", cfg.User)
	}
	if cfg.Port != 2222 {
		t.Errorf("Port = %d", cfg.Port)
	}
	if cfg.PollInterval != 2*time.Second {
		t.Errorf("PollInterval = %v", cfg.PollInterval)
	}
	if cfg.PollAttempts != 30 {
		t.Errorf("PollAttempts = %d", cfg.PollAttempts)
	}
	if cfg.Domain != "203.0.113.7" {
		t.Errorf("Domain should fall back to host, got %q", cfg.Domain)
	}
}

func TestFromEnv_BadValuesFallBack(t *testing.T) {
	t.Setenv("DEPLOY_PORT", "not-a-port")
	t.Setenv("DEPLOY_POLL_INTERVAL", "soon")

	cfg := FromEnv()

	if cfg.Port != 22 {
		t.Errorf("bad port should fall back to 22, got %d", cfg.Port)
	}
	if cfg.PollInterval != 6*time.Second {
		t.Errorf("bad interval should fall back to 6s, got %v", cfg.PollInterval)
	}
}
