package jobqueue

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"time"

	"github.com/degremont/pcocc/pkg/kv"
	"github.com/pborman/uuid"
)

// JobPath is the path in the config store
var JobPath = "pcocc/jobs/"

// Job actions
const (
	ActionInstantiate = "instantiate"
	ActionTeardown    = "teardown"
)

// Job Status
const (
	JobStatusNew     = "new"
	JobStatusWorking = "working"
	JobStatusDone    = "done"
	JobStatusError   = "error"
)

// Job is a single unit of cluster work such as an instantiation or a
// teardown
type Job struct {
	ID            string    `json:"id"`
	Action        string    `json:"action"`
	Allocation    string    `json:"allocation,omitempty"`
	Template      string    `json:"template,omitempty"`
	Count         int       `json:"count,omitempty"`
	Error         string    `json:"error,omitempty"`
	Status        string    `json:"status,omitempty"`
	StartedAt     time.Time `json:"started_at,omitempty"`
	FinishedAt    time.Time `json:"finished_at,omitempty"`
	modifiedIndex uint64
	client        *Client
}

// NewJob creates a new job.
func (c *Client) NewJob() *Job {
	return &Job{
		ID:     uuid.New(),
		client: c,
		Status: JobStatusNew,
	}
}

// Validate ensures required fields are populated.
func (j *Job) Validate() error {
	if j.ID == "" {
		return errors.New("ID is required")
	}

	if j.Action == "" {
		return errors.New("Action is required")
	}

	switch j.Action {
	case ActionInstantiate:
		if j.Template == "" {
			return errors.New("Template is required")
		}
	case ActionTeardown:
		if j.Allocation == "" {
			return errors.New("Allocation is required")
		}
	}

	if j.Status == "" {
		return errors.New("Status is required")
	}

	return nil
}

// key is a helper to generate the config store key.
func (j *Job) key() string {
	return filepath.Join(JobPath, j.ID)
}

// Save persists a job.
func (j *Job) Save() error {
	if err := j.Validate(); err != nil {
		return err
	}

	v, err := json.Marshal(j)
	if err != nil {
		return err
	}

	index, err := j.client.kv.Update(j.key(), kv.Value{Data: v, Index: j.modifiedIndex})
	if err != nil {
		return err
	}

	j.modifiedIndex = index

	return nil
}

// Refresh reloads a Job from the data store.
func (j *Job) Refresh() error {
	value, err := j.client.kv.Get(j.key())
	if err != nil {
		return err
	}

	if err := json.Unmarshal(value.Data, &j); err != nil {
		return err
	}
	j.modifiedIndex = value.Index

	return nil
}

// Job retrieves a single job from the data store.
func (c *Client) Job(id string) (*Job, error) {
	j := &Job{
		ID:     id,
		client: c,
	}

	if err := j.Refresh(); err != nil {
		return nil, err
	}

	return j, nil
}
