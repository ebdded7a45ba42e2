// Package systems runs frame work on a fixed set of workers. Worker i only
// ever runs jobs submitted for thread i, so a job may use the per-thread
// pools of a render frame without further locking.
package systems

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima/engine/core"
)

// Job does the work of one recording thread.
type Job func(thread int) error

type jobTask struct {
	run        Job
	onComplete func(error)
}

type JobSystem struct {
	numWorkers int
	jobQueues  []chan jobTask
	wg         sync.WaitGroup

	mu       sync.RWMutex
	isClosed bool
}

var ErrNoWorkers = errors.New("attempting to create worker pool with less than 1 worker")
var ErrNegativeChannelSize = errors.New("attempting to create worker pool with a negative channel size")
var ErrJobSystemClosed = errors.New("job system already shut down")

func NewJobSystem(numWorkers int, channelSize int) (*JobSystem, error) {
	if numWorkers <= 0 {
		return nil, ErrNoWorkers
	}
	if channelSize < 0 {
		return nil, ErrNegativeChannelSize
	}

	js := &JobSystem{
		numWorkers: numWorkers,
		jobQueues:  make([]chan jobTask, numWorkers),
	}
	for i := range js.jobQueues {
		js.jobQueues[i] = make(chan jobTask, channelSize)
	}

	js.start()

	return js, nil
}

func (js *JobSystem) start() {
	for i := 0; i < js.numWorkers; i++ {
		js.wg.Add(1)
		go func(thread int) {
			defer js.wg.Done()
			for job := range js.jobQueues[thread] {
				err := job.run(thread)
				if err != nil {
					core.LogError("job on thread %d failed: %s", thread, err)
				}
				if job.onComplete != nil {
					job.onComplete(err)
				}
			}
		}(i)
	}
}

func (js *JobSystem) Workers() int {
	return js.numWorkers
}

// Shutdown waits for the queued jobs and stops the workers.
func (js *JobSystem) Shutdown() error {
	js.mu.Lock()
	if js.isClosed {
		js.mu.Unlock()
		return nil
	}
	js.isClosed = true
	for _, q := range js.jobQueues {
		close(q)
	}
	js.mu.Unlock()

	js.wg.Wait()
	return nil
}

// Submit queues job on the worker of thread. onComplete, when set, runs on
// that worker with the job's error.
func (js *JobSystem) Submit(thread int, job Job, onComplete func(error)) error {
	if thread < 0 || thread >= js.numWorkers {
		return errors.Newf("thread %d out of range, job system has %d workers", thread, js.numWorkers)
	}

	js.mu.RLock()
	defer js.mu.RUnlock()
	if js.isClosed {
		return ErrJobSystemClosed
	}
	js.jobQueues[thread] <- jobTask{run: job, onComplete: onComplete}
	return nil
}

// RunAll runs job once on every worker and waits for all of them. The
// errors of every failed thread are combined.
func (js *JobSystem) RunAll(job Job) error {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		combined error
	)
	for thread := 0; thread < js.numWorkers; thread++ {
		wg.Add(1)
		err := js.Submit(thread, job, func(err error) {
			defer wg.Done()
			if err == nil {
				return
			}
			mu.Lock()
			combined = errors.CombineErrors(combined, errors.Wrapf(err, "thread %d", thread))
			mu.Unlock()
		})
		if err != nil {
			wg.Done()
			wg.Wait()
			return err
		}
	}
	wg.Wait()
	return combined
}
