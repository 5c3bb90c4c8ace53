package journal

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/opskit/stevedore/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var bucketRuns = []byte("runs")

// Entry is the persisted summary of one deployment run. The full
// DeploymentOutcome stays ephemeral; only this summary is kept so
// `stevedore history` can answer "when did we last deploy, and how did
// it go".
type Entry struct {
	RunID        string                         `json:"run_id"`
	Host         string                         `json:"host"`
	StartedAt    time.Time                      `json:"started_at"`
	FinishedAt   time.Time                      `json:"finished_at"`
	Verdict      string                         `json:"verdict"`
	Reachability types.Reachability             `json:"reachability"`
	Services     map[string]types.ServiceStatus `json:"services"`
	Error        string                         `json:"error,omitempty"`
}

// Journal is a bbolt-backed record of past deployment runs.
type Journal struct {
	db *bolt.DB
}

// Open opens (or creates) the journal database at path.
func Open(path string) (*Journal, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRuns)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Journal{db: db}, nil
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record converts an outcome to its summary entry and appends it. Keys
// are the run start time plus the run ID, so iteration order is
// chronological.
func (j *Journal) Record(outcome *types.DeploymentOutcome) error {
	entry := Entry{
		RunID:        outcome.RunID,
		Host:         outcome.Host,
		StartedAt:    outcome.StartedAt,
		FinishedAt:   outcome.FinishedAt,
		Reachability: outcome.Reachability,
		Services:     make(map[string]types.ServiceStatus, len(outcome.Services)),
		Error:        outcome.Err,
	}
	for _, svc := range outcome.Services {
		entry.Services[svc.Name] = svc.Status
	}
	switch {
	case outcome.Err != "":
		entry.Verdict = "failed"
	case outcome.Degraded:
		entry.Verdict = "degraded"
	default:
		entry.Verdict = "success"
	}

	return j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		key := entry.StartedAt.UTC().Format(time.RFC3339Nano) + "/" + entry.RunID
		return b.Put([]byte(key), data)
	})
}

// List returns up to limit entries, most recent first. limit <= 0 returns
// everything.
func (j *Journal) List(limit int) ([]*Entry, error) {
	var entries []*Entry
	err := j.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRuns).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(entries) >= limit {
				break
			}
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, &entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
