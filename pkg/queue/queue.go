// Package queue runs submitted jobs one at a time on a single worker and
// keeps their status, progress and result for polling.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

var (
	// ErrNotFound is returned for unknown or pruned job ids
	ErrNotFound = errors.New("job does not exist")
	// ErrQueueFull is returned when the waiting list is at capacity
	ErrQueueFull = errors.New("job queue is full")
	// ErrStopped is returned when submitting to a stopped queue
	ErrStopped = errors.New("job queue is stopped")
)

// Status of a job
type Status int

const (
	// Waiting the job is queued
	Waiting Status = iota + 1
	// Running the job is executing
	Running
	// Success the job finished without error
	Success
	// Failure the job returned an error, panicked or was abandoned
	Failure
)

var statusNames = map[Status]string{
	Waiting: "waiting",
	Running: "running",
	Success: "success",
	Failure: "failure",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "unknown"
}

// MarshalText encodes the status by name
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Reporter updates the progress of the running job. It never blocks.
type Reporter func(fraction float64, message string)

// Func is the work of one job
type Func func(ctx context.Context, report Reporter) (interface{}, error)

// Option configures a Queue
type Option struct {
	Name string
	// QueueLength caps the number of waiting jobs
	QueueLength int
	// Timeout bounds each job through its context; zero means none
	Timeout time.Duration
	// Retain is how many finished jobs stay available to Get
	Retain int
}

// Info is a snapshot of a job
type Info struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Status   Status      `json:"status"`
	Fraction float64     `json:"fraction"`
	Message  string      `json:"message,omitempty"`
	Result   interface{} `json:"-"`
	Error    string      `json:"error,omitempty"`
	Created  time.Time   `json:"created"`
	Started  time.Time   `json:"started,omitempty"`
	Finished time.Time   `json:"finished,omitempty"`
}

type job struct {
	info Info
	fn   Func
	done chan struct{}
}

// Queue is a single-worker job queue
type Queue struct {
	opt    Option
	logger hclog.Logger

	mu       sync.Mutex
	jobs     map[string]*job
	finished []string
	stopped  bool

	jobque chan *job
	ctx    context.Context
	cancel context.CancelFunc
	start  sync.Once
	wg     sync.WaitGroup
}

// New creates a queue. Call Start before jobs can run.
func New(opt Option, logger hclog.Logger) *Queue {
	if opt.Name == "" {
		opt.Name = "queue"
	}
	if opt.QueueLength <= 0 {
		opt.QueueLength = 64
	}
	if opt.Retain <= 0 {
		opt.Retain = 100
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		opt:    opt,
		logger: logger.Named(opt.Name),
		jobs:   map[string]*job{},
		jobque: make(chan *job, opt.QueueLength),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the worker. Calling it again has no effect.
func (q *Queue) Start() {
	q.start.Do(func() {
		q.wg.Add(1)
		go q.work()
	})
}

// Stop cancels the running job's context, fails every waiting job and
// waits for the worker to exit
func (q *Queue) Stop() {
	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()

	for {
		select {
		case j := <-q.jobque:
			q.finish(j, nil, ErrStopped)
		default:
			return
		}
	}
}

// Submit queues fn and returns the job id
func (q *Queue) Submit(name string, fn Func) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return "", ErrStopped
	}

	j := &job{
		info: Info{
			ID:      uuid.NewString(),
			Name:    name,
			Status:  Waiting,
			Created: time.Now(),
		},
		fn:   fn,
		done: make(chan struct{}),
	}

	select {
	case q.jobque <- j:
	default:
		return "", ErrQueueFull
	}
	q.jobs[j.info.ID] = j
	q.logger.Debug("job queued", "id", j.info.ID, "name", name)
	return j.info.ID, nil
}

// Get returns a snapshot of the job
func (q *Queue) Get(id string) (Info, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[id]
	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return j.info, nil
}

// Wait blocks until the job finishes or ctx is done
func (q *Queue) Wait(ctx context.Context, id string) (Info, error) {
	q.mu.Lock()
	j, ok := q.jobs[id]
	q.mu.Unlock()
	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	select {
	case <-j.done:
		return q.Get(id)
	case <-ctx.Done():
		return Info{}, ctx.Err()
	}
}

// Len returns the number of waiting jobs
func (q *Queue) Len() int {
	return len(q.jobque)
}

func (q *Queue) work() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case j := <-q.jobque:
			if q.ctx.Err() != nil {
				q.finish(j, nil, ErrStopped)
				return
			}
			q.run(j)
		}
	}
}

func (q *Queue) run(j *job) {
	q.mu.Lock()
	j.info.Status = Running
	j.info.Started = time.Now()
	q.mu.Unlock()

	ctx := q.ctx
	if q.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.opt.Timeout)
		defer cancel()
	}

	q.logger.Info("job running", "id", j.info.ID, "name", j.info.Name)
	res, err := q.exec(ctx, j)
	q.finish(j, res, err)
}

// exec calls the job function and turns a panic into an error. The worker
// waits for the function to return, so at most one job ever runs.
func (q *Queue) exec(ctx context.Context, j *job) (res interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", j.info.ID, r)
		}
	}()
	report := func(fraction float64, message string) {
		q.mu.Lock()
		j.info.Fraction = fraction
		j.info.Message = message
		q.mu.Unlock()
	}
	return j.fn(ctx, report)
}

func (q *Queue) finish(j *job, res interface{}, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	j.info.Finished = time.Now()
	if err != nil {
		j.info.Status = Failure
		j.info.Error = err.Error()
		q.logger.Error("job failed", "id", j.info.ID, "name", j.info.Name, "error", err)
	} else {
		j.info.Status = Success
		j.info.Fraction = 1
		j.info.Result = res
		q.logger.Info("job succeeded", "id", j.info.ID, "name", j.info.Name,
			"elapsed", j.info.Finished.Sub(j.info.Started))
	}
	close(j.done)

	q.finished = append(q.finished, j.info.ID)
	for len(q.finished) > q.opt.Retain {
		delete(q.jobs, q.finished[0])
		q.finished = q.finished[1:]
	}
}
