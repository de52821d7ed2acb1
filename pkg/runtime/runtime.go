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

package runtime

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"jive5ab/pkg/chain"
	"jive5ab/pkg/errorqueue"
	"jive5ab/pkg/netparms"
	"jive5ab/pkg/vextime"
)

// Runtime is one command-dispatcher connection's state: its current
// transfer mode/submode, the netparms in effect, the installed chain (if
// any), and its own error queue and key-deleter registry for
// per_runtime-style caches.
type Runtime struct {
	mu sync.Mutex

	// ID identifies this runtime across log lines and metric labels for
	// the lifetime of the process; stable once assigned by New.
	ID uuid.UUID

	Mode    TransferMode
	Submode TransferSubmode

	NetParms *netparms.NetParms
	Errors   *errorqueue.Queue

	Chain *chain.Chain

	log *logrus.Logger

	keyDeleters map[interface{}]func(key interface{})
}

// New creates an idle Runtime with default netparms and its own error
// queue.
func New(log *logrus.Logger) *Runtime {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Runtime{
		ID:          uuid.New(),
		Mode:        NoTransfer,
		NetParms:    netparms.New(),
		Errors:      errorqueue.New(vextime.Now),
		log:         log,
		keyDeleters: make(map[interface{}]func(key interface{})),
	}
}

// StartTransfer atomically installs c as the running chain and sets the
// transfer mode, per spec.md §4.6's "changing the runtime's transfermode
// atomically with installing the chain."
func (r *Runtime) StartTransfer(mode TransferMode, c *chain.Chain) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Chain = c
	r.Mode = mode
	r.Submode = TransferSubmode{}
}

// StopTransfer stops the installed chain (if any), waits for it to fully
// unwind, and resets to no_transfer. delayed, when true, lets queued data
// drain first (delayed_disable) rather than tearing down immediately.
func (r *Runtime) StopTransfer(delayed bool) {
	r.mu.Lock()
	c := r.Chain
	r.mu.Unlock()

	if c != nil {
		if delayed {
			c.DelayedDisable()
		} else {
			c.Stop()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.Chain = nil
	r.Mode = NoTransfer
	r.Submode = TransferSubmode{}
}

// CurrentMode returns the transfer mode under lock, since command
// functions read it from a different goroutine than the one owning the
// TCP connection's read loop in some deployments (e.g. a status poller).
func (r *Runtime) CurrentMode() TransferMode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Mode
}

// CurrentSubmode returns the transfer submode under lock.
func (r *Runtime) CurrentSubmode() TransferSubmode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Submode
}

// UpdateSubmode runs fn against the submode under lock, for command
// functions that need to raise or lower a flag (e.g. in2net=connect
// setting CONNECTED) without racing a concurrent status? read.
func (r *Runtime) UpdateSubmode(fn func(*TransferSubmode)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.Submode)
}

// registerKeyDeleter is called by Cache[T] the first time it touches
// this runtime, mirroring per_runtime<T>::operator[]'s
// "rteptr->key_deleters[this] = ...".
func (r *Runtime) registerKeyDeleter(cacheID interface{}, fn func(key interface{})) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.keyDeleters[cacheID]; !ok {
		r.keyDeleters[cacheID] = fn
	}
}

func (r *Runtime) unregisterKeyDeleter(cacheID interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.keyDeleters, cacheID)
}

// Close runs every registered key-deleter (forgetting this runtime's
// entry in every Cache[T] that ever touched it) and tears down the
// installed chain, if any. Mirrors runtime's destructor in the original,
// which walks key_deleters so caches never hold a dangling runtime
// pointer.
func (r *Runtime) Close() {
	r.mu.Lock()
	deleters := make([]func(key interface{}), 0, len(r.keyDeleters))
	for _, fn := range r.keyDeleters {
		deleters = append(deleters, fn)
	}
	c := r.Chain
	r.mu.Unlock()

	for _, fn := range deleters {
		fn(r)
	}
	if c != nil {
		c.Stop()
	}
}
