package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/opskit/stevedore/pkg/log"
)

// Config carries the deployment settings resolved from the environment.
// Command-line flags override anything loaded here.
type Config struct {
	// Host is the deployment target (IP or hostname). Empty means deploy
	// to the local machine.
	Host string

	// User is the SSH login on the target.
	User string

	// KeyPath is the SSH private key file.
	KeyPath string

	// Port is the SSH port.
	Port int

	// RemoteDir is where the release lands on the target.
	RemoteDir string

	// Domain is the public name used for the reachability check. Falls
	// back to Host when unset.
	Domain string

	// ManifestPath is the topology manifest, relative to the source dir.
	ManifestPath string

	// PrunePattern selects which dangling volumes are removed before a
	// rollout. Empty disables pruning.
	PrunePattern string

	// PollInterval is the spacing between readiness probes.
	PollInterval time.Duration

	// PollAttempts bounds how many probes a service gets before the run
	// gives up on it.
	PollAttempts int

	// JournalPath is the bbolt file recording run history.
	JournalPath string
}

// FromEnv loads configuration from the environment, reading a .env file
// first when one exists. Missing variables fall back to workable defaults.
func FromEnv() Config {
	// .env is optional; environment variables win on conflicts anyway
	// because godotenv never overwrites existing ones.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger := log.WithComponent("config")
		logger.Debug().Err(err).Msg("skipping .env")
	}

	cfg := Config{
		Host:         os.Getenv("DEPLOY_HOST"),
		User:         getenv("DEPLOY_USER", "root"),
		KeyPath:      getenv("DEPLOY_KEY", defaultKeyPath()),
		Port:         getint("DEPLOY_PORT", 22),
		RemoteDir:    getenv("DEPLOY_DIR", "/opt/app"),
		Domain:       os.Getenv("DEPLOY_DOMAIN"),
		ManifestPath: getenv("DEPLOY_MANIFEST", "deploy.yml"),
		PrunePattern: os.Getenv("DEPLOY_PRUNE_PATTERN"),
		PollInterval: getduration("DEPLOY_POLL_INTERVAL", 6*time.Second),
		PollAttempts: getint("DEPLOY_POLL_ATTEMPTS", 15),
		JournalPath:  getenv("DEPLOY_JOURNAL", defaultJournalPath()),
	}
	if cfg.Domain == "" {
		cfg.Domain = cfg.Host
	}
	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logger := log.WithComponent("config")
		logger.Warn().Str("key", key).Str("value", v).Msg("not an integer, using default")
		return fallback
	}
	return n
}

func getduration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logger := log.WithComponent("config")
		logger.Warn().Str("key", key).Str("value", v).Msg("not a duration, using default")
		return fallback
	}
	return d
}

func defaultKeyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home + "/.ssh/id_ed25519"
}

func defaultJournalPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "stevedore.db"
	}
	return home + "/.stevedore/journal.db"
}
