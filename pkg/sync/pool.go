package sync

import (
	"fmt"
	goSync "sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
)

// progressInterval is how often the pool logs how much work it has
// finished. Long drains would otherwise look stalled.
const progressInterval = 15 * time.Second

// Result is the outcome of one scheduled job.
type Result struct {
	Path string
	Err  error
}

// Pool is a fixed-size worker pool for leaf copy jobs. Directory traversal
// stays on the coordinating goroutine; only leaf work is dispatched here,
// which bounds concurrency to the pool width no matter the tree shape.
//
// Every job owns its descriptors exclusively, so jobs may block in
// syscalls without coordinating with each other.
type Pool struct {
	jobs      chan job
	waitGroup goSync.WaitGroup

	completed int64

	resultsMutex goSync.Mutex
	failures     []Result

	clock      clockwork.Clock
	stopTicker chan struct{}
}

type job struct {
	path string
	run  func() error
}

// NewPool starts workers goroutines consuming the job queue.
func NewPool(workers int, clock clockwork.Clock) *Pool {
	if workers < 1 {
		workers = 1
	}

	pool := &Pool{
		jobs:       make(chan job, workers*2),
		clock:      clock,
		stopTicker: make(chan struct{}),
	}

	for i := 0; i < workers; i++ {
		pool.waitGroup.Add(1)
		go pool.worker()
	}
	go pool.reportProgress()

	return pool
}

// Submit queues one job. It may block while all workers are busy, which
// naturally throttles the walk.
func (p *Pool) Submit(path string, run func() error) {
	p.jobs <- job{path: path, run: run}
}

// Drain closes the queue, waits for every submitted job to finish, and
// returns the failures. The pool can't be used afterwards.
func (p *Pool) Drain() []Result {
	close(p.jobs)
	p.waitGroup.Wait()
	close(p.stopTicker)

	p.resultsMutex.Lock()
	defer p.resultsMutex.Unlock()
	return p.failures
}

func (p *Pool) worker() {
	defer p.waitGroup.Done()

	for j := range p.jobs {
		if err := p.runSafely(j); err != nil {
			log.WithError(err).WithField("path", j.path).Error("Failed to sync entry")
			p.resultsMutex.Lock()
			p.failures = append(p.failures, Result{Path: j.path, Err: err})
			p.resultsMutex.Unlock()
		}
		atomic.AddInt64(&p.completed, 1)
	}
}

// runSafely is the job boundary: a panicking job must not take its sibling
// jobs or the coordinator down with it.
func (p *Pool) runSafely(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return j.run()
}

func (p *Pool) reportProgress() {
	ticker := p.clock.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			log.Infof("Processed %d entries so far.", atomic.LoadInt64(&p.completed))
		case <-p.stopTicker:
			return
		}
	}
}
