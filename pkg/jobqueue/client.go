package jobqueue

import (
	"time"

	"github.com/degremont/pcocc"
	"github.com/degremont/pcocc/pkg/kv"
	"github.com/kr/beanstalk"
)

// Beanstalk parameters
const (
	priority     = uint32(0)
	delay        = 5 * time.Second
	ttr          = 5 * time.Second
	timeout      = 10 * time.Hour
	reserveDelay = 5 * time.Second
)

// Client is for interacting with the job queue
type Client struct {
	beanConn *beanstalk.Conn
	kv       kv.KV
	ctx      *pcocc.Context
	tubes    *tubes
}

// NewClient creates a new Client and initializes the beanstalk connection + tubes
func NewClient(bstalk string, store kv.KV) (*Client, error) {
	conn, err := beanstalk.Dial("tcp", bstalk)
	if err != nil {
		return nil, err
	}

	client := &Client{
		beanConn: conn,
		kv:       store,
		ctx:      pcocc.NewContext(store),
		tubes:    newTubes(conn),
	}
	return client, nil
}

// AddTask queues a job in the tube matching its action
func (c *Client) AddTask(j *Job) (uint64, error) {
	ts := c.tubes.teardown
	if j.Action == ActionInstantiate {
		ts = c.tubes.instantiate
	}
	id, err := ts.Put(j.ID)
	return id, err
}

// DeleteTask removes a task from beanstalk by id
func (c *Client) DeleteTask(id uint64) error {
	return c.beanConn.Delete(id)
}

// NextInstantiateTask returns the next task from the instantiate tube
func (c *Client) NextInstantiateTask() (*Task, error) {
	task, err := c.nextTask(c.tubes.instantiate)
	return task, err
}

// NextTeardownTask returns the next task from the teardown tube
func (c *Client) NextTeardownTask() (*Task, error) {
	task, err := c.nextTask(c.tubes.teardown)
	return task, err
}

// nextTask returns the next task from a tubeSet and loads its Job
func (c *Client) nextTask(ts *tubeSet) (*Task, error) {
	id, body, err := ts.Reserve()
	if err != nil {
		return nil, err
	}

	task := &Task{
		ID:     id,
		JobID:  body,
		client: c,
	}

	if err := task.RefreshJob(); err != nil {
		return task, err
	}
	if err := task.RefreshAllocation(); err != nil {
		return task, err
	}

	return task, err
}
