package jobqueue

import (
	"errors"

	"github.com/degremont/pcocc"
)

// Task is a "helper" struct to pull together information from beanstalk and the kv
type Task struct {
	ID         uint64 // id from beanstalkd
	JobID      string // body from beanstalkd
	Job        *Job
	Allocation *pcocc.Allocation
	client     *Client
}

// Delete removes a task from beanstalk
func (t *Task) Delete() error {
	return t.client.beanConn.Delete(t.ID)
}

// Release releases a task back to beanstalk
func (t *Task) Release() error {
	return t.client.beanConn.Release(t.ID, priority, delay)
}

// RefreshJob reloads a task's job information
func (t *Task) RefreshJob() error {
	job, err := t.client.Job(t.JobID)
	if err != nil {
		return err
	}
	t.Job = job
	return nil
}

// RefreshAllocation reloads the allocation a teardown task targets.
// Instantiate tasks have no allocation yet.
func (t *Task) RefreshAllocation() error {
	if t.Job == nil {
		return errors.New("trying to load allocation from nil job")
	}
	if t.Job.Action != ActionTeardown {
		return nil
	}
	if t.Job.Allocation == "" {
		return errors.New("job missing allocation id")
	}
	alloc, err := t.client.ctx.Allocation(t.Job.Allocation)
	if err != nil {
		return err
	}
	t.Allocation = alloc
	return nil
}
