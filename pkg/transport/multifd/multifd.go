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

// Package multifd fans a single logical transfer across every endpoint
// in a netparms.NetParms's HPS list (spec.md §6: "an ordered host/port/
// suffix endpoint list"), running one reader sub-chain per endpoint and
// merging their output into the caller's outer chain, the multi-fd
// analogue of pkg/transport/udps.Build's single-endpoint nested chain.
package multifd

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"jive5ab/pkg/block"
	"jive5ab/pkg/chain"
	"jive5ab/pkg/netparms"
	"jive5ab/pkg/queue"
)

// Spawn builds the reader ProducerFunc for one endpoint, e.g. dialing
// or listening on hps and wrapping the result with a transport package's
// Reader.
type Spawn func(hps netparms.HPS) (chain.ProducerFunc, error)

// ErrNoEndpoints is returned when np has an empty endpoint list.
var ErrNoEndpoints = errors.New("multifd: no endpoints configured")

// Build returns a ProducerFunc that drains np's entire endpoint list
// (via repeated Rotate calls, so every HPS entry is visited exactly
// once per run regardless of np's internal rotation cursor position),
// spawns one reader sub-chain per endpoint, and interleaves every
// sub-chain's output into outQ. The outer Sync's cancellation stops
// every sub-chain; Build returns once all of them have, surfacing the
// first sub-chain error, if any.
func Build(np *netparms.NetParms, spawn Spawn, log *logrus.Logger) chain.ProducerFunc {
	return func(outQ *queue.Queue[block.Block], s *chain.Sync) error {
		n := len(np.Endpoints)
		if n == 0 {
			return ErrNoEndpoints
		}

		var mu sync.Mutex
		subs := make([]*chain.Chain, 0, n)
		for i := 0; i < n; i++ {
			h, ok := np.Rotate()
			if !ok {
				break
			}
			prod, err := spawn(h)
			if err != nil {
				return fmt.Errorf("multifd: spawn %s: %w", h, err)
			}
			sub := chain.New(log)
			sub.AddProducer(prod, 4, nil)
			sub.AddConsumer(bridge(outQ), nil)
			mu.Lock()
			subs = append(subs, sub)
			mu.Unlock()
		}

		var wg sync.WaitGroup
		errCh := make(chan error, len(subs))
		for _, sub := range subs {
			wg.Add(1)
			go func(c *chain.Chain) {
				defer wg.Done()
				c.Run()
				c.Wait()
				if err := c.Err(); err != nil {
					errCh <- err
				}
			}(sub)
		}

		watchDone := make(chan struct{})
		go func() {
			ticker := time.NewTicker(10 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-watchDone:
					return
				case <-ticker.C:
					if s.Cancelled() {
						mu.Lock()
						for _, c := range subs {
							c.Stop()
						}
						mu.Unlock()
						return
					}
				}
			}
		}()

		wg.Wait()
		close(watchDone)
		close(errCh)
		for err := range errCh {
			if err != nil {
				return err
			}
		}
		return nil
	}
}

// bridge forwards every block a sub-chain produces into the outer
// chain's outQ, releasing it instead if the outer queue has been
// disabled.
func bridge(outQ *queue.Queue[block.Block]) chain.ConsumerFunc {
	return func(inQ *queue.Queue[block.Block], _ *chain.Sync) error {
		for {
			b, ok := inQ.Pop()
			if !ok {
				return nil
			}
			if !outQ.Push(b) {
				b.Release()
				return nil
			}
		}
	}
}
