// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package chain implements the generic, staged processing-chain runtime
// at the heart of the transport engine: a directed sequence of
// producer/filter/consumer steps running concurrently, connected by
// bounded blocking queues (pkg/queue), with lifetime, cancellation, and
// back-pressure semantics (spec.md §4.3).
//
// A Chain is one-shot: once Stopped (or run to natural completion via
// Wait) it cannot be restarted. Steps exchange block.Block values; every
// transfer mode in the system -- in2net, net2disk, file2check, and so on
// -- is expressed as one Chain.
package chain

import (
	"sync"

	"github.com/sirupsen/logrus"

	"jive5ab/pkg/block"
	"jive5ab/pkg/queue"
)

// Sync is passed to every step function. It exposes the step's user data,
// its position in the chain, the downstream queue depth it was
// configured with, and a mutex/condition pair the step may use for its
// own waits (e.g. a filter blocked on an external compiled-extractor
// handle). Communicate locks this same mutex before invoking the
// caller-supplied configuration function, so step functions that read
// UserData under Lock/Unlock see a consistent view across Communicate
// calls from the command dispatcher.
type Sync struct {
	UserData interface{}
	StepID   int
	QDepth   int

	mu   sync.Mutex
	cond *sync.Cond

	cancelled chan struct{}
}

// Lock acquires the step's own mutex (mirrors sync_type's exposed
// mutex in the original design).
func (s *Sync) Lock() { s.mu.Lock() }

// Unlock releases the step's own mutex.
func (s *Sync) Unlock() { s.mu.Unlock() }

// Cond returns a condition variable bound to the step's own mutex, for
// steps that need to wait on custom, step-local state.
func (s *Sync) Cond() *sync.Cond { return s.cond }

// Cancelled reports whether the chain has been told to stop. Step
// functions performing long-running work with no queue/fd to block on
// should poll this between units of work.
func (s *Sync) Cancelled() bool {
	select {
	case <-s.cancelled:
		return true
	default:
		return false
	}
}

// ProducerFunc reads from an external source (disk, network, memory) and
// pushes blocks to outQ. It returns nil on a natural end of input (e.g.
// EOF) and a non-nil error on failure.
type ProducerFunc func(outQ *queue.Queue[block.Block], s *Sync) error

// FilterFunc pops from inQ, transforms, and pushes to outQ. It returns
// when inQ reports disabled (propagated from upstream) or on error.
type FilterFunc func(inQ, outQ *queue.Queue[block.Block], s *Sync) error

// ConsumerFunc pops from inQ and writes to an external sink. It returns
// when inQ reports disabled or on error.
type ConsumerFunc func(inQ *queue.Queue[block.Block], s *Sync) error

type stepKind int

const (
	kindProducer stepKind = iota
	kindFilter
	kindConsumer
)

type step struct {
	kind     stepKind
	producer ProducerFunc
	filter   FilterFunc
	consumer ConsumerFunc
	inQ      *queue.Queue[block.Block]
	outQ     *queue.Queue[block.Block]
	sync     *Sync
	cancelFn func()
}

type finalizer struct {
	fn   func()
}

// Chain composes steps into a runnable pipeline.
type Chain struct {
	log      *logrus.Logger
	mu       sync.Mutex
	steps    []*step
	final    []finalizer
	started  bool
	stopped  bool
	cancelCh chan struct{}
	wg       sync.WaitGroup

	abortOnce sync.Once
	finalOnce sync.Once
	stopOnce  sync.Once

	errMu sync.Mutex
	err   error
}

// New creates an empty Chain.
func New(log *logrus.Logger) *Chain {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Chain{log: log, cancelCh: make(chan struct{})}
}

func (c *Chain) newSync(stepID, qdepth int, ud interface{}) *Sync {
	s := &Sync{UserData: ud, StepID: stepID, QDepth: qdepth, cancelled: c.cancelCh}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// AddProducer appends a producer step. qdepth is the capacity of the
// queue created between this step and the next.
func (c *Chain) AddProducer(fn ProducerFunc, qdepth int, userdata interface{}) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := len(c.steps)
	st := &step{kind: kindProducer, producer: fn, outQ: queue.New[block.Block](qdepth)}
	st.sync = c.newSync(id, qdepth, userdata)
	c.steps = append(c.steps, st)
	return id
}

// AddFilter appends a filter step, consuming the previous step's queue
// and creating a new downstream queue of capacity qdepth.
func (c *Chain) AddFilter(fn FilterFunc, qdepth int, userdata interface{}) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := len(c.steps)
	prev := c.steps[id-1]
	st := &step{kind: kindFilter, filter: fn, inQ: prev.outQ, outQ: queue.New[block.Block](qdepth)}
	st.sync = c.newSync(id, qdepth, userdata)
	c.steps = append(c.steps, st)
	return id
}

// AddConsumer appends the terminal consumer step, consuming the previous
// step's queue. No downstream queue is created.
func (c *Chain) AddConsumer(fn ConsumerFunc, userdata interface{}) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := len(c.steps)
	prev := c.steps[id-1]
	st := &step{kind: kindConsumer, consumer: fn, inQ: prev.outQ}
	st.sync = c.newSync(id, 0, userdata)
	c.steps = append(c.steps, st)
	return id
}

// RegisterCancel associates a cancellation function with a step; Stop
// invokes it (typically to close a file descriptor or call
// shutdown(2)-equivalent on a net.Conn, unblocking a step parked in
// blocking I/O).
func (c *Chain) RegisterCancel(stepID int, fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps[stepID].cancelFn = fn
}

// RegisterFinal registers a finalizer, run exactly once after every step
// has exited, in registration order. A finalizer that panics is logged
// but does not block the remaining finalizers or teardown.
func (c *Chain) RegisterFinal(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.final = append(c.final, finalizer{fn: fn})
}

// Communicate locks stepID's Sync and invokes fn with its UserData. Used
// for live configuration changes and in-band notifications while the
// chain is running.
func (c *Chain) Communicate(stepID int, fn func(userdata interface{})) {
	c.mu.Lock()
	s := c.steps[stepID].sync
	c.mu.Unlock()
	s.Lock()
	defer s.Unlock()
	fn(s.UserData)
}

// Run spawns one goroutine per step, in order (producer first). Run may
// only be called once.
func (c *Chain) Run() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	steps := append([]*step(nil), c.steps...)
	c.mu.Unlock()

	for _, st := range steps {
		st := st
		c.wg.Add(1)
		go c.runStep(st)
	}
}

func (c *Chain) runStep(st *step) {
	defer c.wg.Done()
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				c.log.WithField("step", st.sync.StepID).Errorf("chain: step panicked: %v", r)
				err = panicError{r}
			}
		}()
		switch st.kind {
		case kindProducer:
			err = st.producer(st.outQ, st.sync)
		case kindFilter:
			err = st.filter(st.inQ, st.outQ, st.sync)
		case kindConsumer:
			err = st.consumer(st.inQ, st.sync)
		}
	}()

	if st.outQ != nil {
		st.outQ.DelayedDisable()
	}
	if err != nil {
		c.recordError(err)
		c.log.WithField("step", st.sync.StepID).WithError(err).Warn("chain: step exited with error")
		c.abort()
	}
}

type panicError struct{ v interface{} }

func (p panicError) Error() string { return "panic in chain step" }

func (c *Chain) recordError(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

// Err returns the first error observed from any step, if any.
func (c *Chain) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// abort immediately disables every queue in the chain so that no step
// remains blocked waiting on data that will never arrive. It is called
// from within a step's own goroutine when that step fails, so it must
// never join step goroutines (that would deadlock).
func (c *Chain) abort() {
	c.abortOnce.Do(func() {
		c.mu.Lock()
		steps := append([]*step(nil), c.steps...)
		c.mu.Unlock()
		for _, st := range steps {
			if st.outQ != nil {
				st.outQ.Disable()
			}
		}
	})
}

// Stop idempotently cancels the chain: it marks the cancellation
// context, invokes every registered cancel function, disables all
// queues, joins every step goroutine, and finally runs the finalizers in
// registration order. It returns only once every step thread has been
// joined.
func (c *Chain) Stop() {
	c.stopOnce.Do(func() {
		close(c.cancelCh)
		c.mu.Lock()
		steps := append([]*step(nil), c.steps...)
		c.mu.Unlock()
		for _, st := range steps {
			if st.cancelFn != nil {
				st.cancelFn()
			}
		}
		c.abort()
	})
	c.wg.Wait()
	c.runFinalizers()
}

// DelayedDisable asks every step to stop accepting new input while
// letting already-queued data drain, then waits for all steps to exit
// and runs the finalizers. Unlike Stop, it does not immediately disable
// queues that still hold data.
func (c *Chain) DelayedDisable() {
	c.mu.Lock()
	steps := append([]*step(nil), c.steps...)
	c.mu.Unlock()
	for _, st := range steps {
		if st.outQ != nil {
			st.outQ.DelayedDisable()
		}
	}
	c.wg.Wait()
	c.runFinalizers()
}

// Wait joins all step goroutines without disabling any queue -- the
// correct way to retire a chain whose producer reached EOF naturally and
// whose downstream steps are expected to drain and stop on their own via
// the outQ.DelayedDisable() each step already performs on exit.
func (c *Chain) Wait() {
	c.wg.Wait()
	c.runFinalizers()
}

func (c *Chain) runFinalizers() {
	c.finalOnce.Do(func() {
		c.mu.Lock()
		finals := append([]finalizer(nil), c.final...)
		c.mu.Unlock()
		for _, f := range finals {
			c.runOneFinalizer(f)
		}
	})
}

func (c *Chain) runOneFinalizer(f finalizer) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Errorf("chain: finalizer panicked: %v", r)
		}
	}()
	f.fn()
}

// NumSteps returns how many steps were added.
func (c *Chain) NumSteps() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.steps)
}
