// Package utils holds small supervised concurrency helpers used by the
// net layer.
//
// WorkerPool starts exactly N long-lived goroutines that loop on a
// shared task channel until the tomb dies, holding a steady pool of N
// live workers rather than spawning and discarding one goroutine per
// task.
package utils

import (
	"github.com/rs/zerolog/log"
	"gopkg.in/tomb.v2"
)

const defaultTaskChanSize = 100

// WorkerFunction processes one task submitted to the pool.
type WorkerFunction = func(t *tomb.Tomb, task any) error

// WorkerPool runs a fixed number of worker goroutines pulling from a
// shared task channel, supervised by a caller-provided tomb.
type WorkerPool struct {
	n     int
	tasks chan any
}

// NewWorkerPool creates a pool sized for size concurrent workers.
func NewWorkerPool(size int) *WorkerPool {
	return &WorkerPool{n: size, tasks: make(chan any, defaultTaskChanSize)}
}

// Submit enqueues a task for a worker to pick up. Blocks if the queue is
// full.
func (p *WorkerPool) Submit(task any) { p.tasks <- task }

// Setup starts n worker goroutines under t, each running work against
// tasks pulled from the shared channel until t is killed.
func (p *WorkerPool) Setup(t *tomb.Tomb, work WorkerFunction) {
	log.Info().Int("workers", p.n).Msg("starting worker pool")
	for i := 0; i < p.n; i++ {
		t.Go(func() error { return p.worker(t, work) })
	}
}

func (p *WorkerPool) worker(t *tomb.Tomb, work WorkerFunction) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case task := <-p.tasks:
			if err := work(t, task); err != nil {
				log.Error().Err(err).Msg("worker task failed")
			}
		}
	}
}
