package utils

import (
	"sync"
)

// Job represents a task to be executed by a worker.
type Job struct {
	Task func()
}

// WorkerPool manages a pool of workers to execute jobs.
type WorkerPool struct {
	workers   int
	jobQueue  chan Job
	waitGroup sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewWorkerPool creates a new WorkerPool with the specified number of
// workers and a job queue holding up to queueSize pending jobs.
func NewWorkerPool(workers, queueSize int) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < workers {
		queueSize = workers
	}
	pool := &WorkerPool{
		workers:  workers,
		jobQueue: make(chan Job, queueSize),
	}

	pool.waitGroup.Add(workers)
	for i := 0; i < workers; i++ {
		go pool.worker()
	}

	return pool
}

// worker processes jobs from the jobQueue.
func (wp *WorkerPool) worker() {
	defer wp.waitGroup.Done()
	for job := range wp.jobQueue {
		job.Task()
	}
}

// Submit adds a new job to the worker pool, waiting for queue space. Jobs
// submitted after Shutdown are dropped; Submit reports whether the job was queued.
func (wp *WorkerPool) Submit(task func()) bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.closed {
		return false
	}
	wp.jobQueue <- Job{Task: task}
	return true
}

// TrySubmit queues the job only if there is space, without blocking.
func (wp *WorkerPool) TrySubmit(task func()) bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.closed {
		return false
	}
	select {
	case wp.jobQueue <- Job{Task: task}:
		return true
	default:
		return false
	}
}

// Shutdown stops accepting jobs and waits for queued jobs to finish.
func (wp *WorkerPool) Shutdown() {
	wp.mu.Lock()
	if wp.closed {
		wp.mu.Unlock()
		return
	}
	wp.closed = true
	close(wp.jobQueue)
	wp.mu.Unlock()

	wp.waitGroup.Wait()
}
