package queue

import "sync"

// Job is one unit of queued work. OnFail is invoked (on the worker
// goroutine) when Run returns an error.
type Job struct {
	Run    func() error
	OnFail func(error)
}

// Queue decouples event intake from run execution: a bounded channel
// drained by a fixed pool of workers. Enqueue never blocks; a full queue
// is reported to the caller.
type Queue struct {
	jobs    chan Job
	workers int
	wg      sync.WaitGroup
}

func NewQueue(size, workers int) *Queue {
	if workers <= 0 {
		workers = 1
	}
	return &Queue{
		jobs:    make(chan Job, size),
		workers: workers,
	}
}

func (q *Queue) Enqueue(job Job) bool {
	select {
	case q.jobs <- job:
		return true
	default:
		return false
	}
}

func (q *Queue) Start() {
	for range q.workers {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for job := range q.jobs {
				if err := job.Run(); err != nil {
					if job.OnFail != nil {
						job.OnFail(err)
					}
				}
			}
		}()
	}
}

// Stop closes intake and waits for in-flight jobs to finish.
func (q *Queue) Stop() {
	close(q.jobs)
	q.wg.Wait()
}
