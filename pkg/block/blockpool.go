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

package block

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// BlockPool is a grow-on-demand list of Pools. It starts with one pool and,
// on exhaustion, allocates another and retries -- the allocation from a
// freshly created pool is assumed to succeed.
type BlockPool struct {
	mu        sync.Mutex
	pools     []*Pool
	cur       int
	blockSize int
	perPool   int
	log       *logrus.Logger
}

// NewBlockPool creates a BlockPool whose constituent Pools each hold
// perPool blocks of blockSize bytes, starting with a single Pool.
func NewBlockPool(blockSize, perPool int, log *logrus.Logger) *BlockPool {
	if log == nil {
		log = logrus.StandardLogger()
	}
	bp := &BlockPool{blockSize: blockSize, perPool: perPool, log: log}
	bp.pools = append(bp.pools, NewPool(blockSize, perPool, log))
	return bp
}

// Get tries each pool in rotation starting at the current pool; on
// complete failure across all existing pools it appends a new pool and
// allocates from it.
func (bp *BlockPool) Get() Block {
	bp.mu.Lock()
	n := len(bp.pools)
	start := bp.cur
	pools := bp.pools
	bp.mu.Unlock()

	for i := 0; i < n; i++ {
		idx := (start + i) % n
		if b := pools[idx].Get(); !b.IsEmpty() {
			bp.mu.Lock()
			bp.cur = idx
			bp.mu.Unlock()
			return b
		}
	}

	bp.mu.Lock()
	defer bp.mu.Unlock()
	bp.log.WithField("pools", len(bp.pools)+1).Debug("block: growing blockpool")
	p := NewPool(bp.blockSize, bp.perPool, bp.log)
	bp.pools = append(bp.pools, p)
	bp.cur = len(bp.pools) - 1
	return p.Get()
}

// NumPools reports how many Pools currently back this BlockPool.
func (bp *BlockPool) NumPools() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.pools)
}

// Close closes every constituent Pool, waiting up to timeout for each.
func (bp *BlockPool) Close(timeout time.Duration) {
	bp.mu.Lock()
	pools := append([]*Pool(nil), bp.pools...)
	bp.mu.Unlock()
	for _, p := range pools {
		p.Close(timeout)
	}
}
