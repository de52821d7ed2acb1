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
	"fmt"
	"sort"
	"sync"
	"time"
)

// Diagnostics is a process-wide registry of the knobs cmd/jive5abd was
// actually started with -- flags, resolved config file values, detected
// hardware personality -- the Go analogue of the teacher's
// core.SetThreshold*/getThresholdSnapshot registry in
// cmd/ratelimiter-api. The diagnostics? query reads it back so an
// operator can confirm what the daemon is running with, without
// re-reading its command line.
type Diagnostics struct {
	mu   sync.Mutex
	vals map[string]string
}

var process = &Diagnostics{vals: make(map[string]string)}

// Diag returns the process-wide Diagnostics registry.
func Diag() *Diagnostics { return process }

// Set records name=value.
func (d *Diagnostics) Set(name, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.vals[name] = value
}

// SetInt records name=value as a decimal integer.
func (d *Diagnostics) SetInt(name string, v int) { d.Set(name, fmt.Sprintf("%d", v)) }

// SetDuration records name=value using time.Duration's String form.
func (d *Diagnostics) SetDuration(name string, v time.Duration) { d.Set(name, v.String()) }

// SetBool records name=value as "true"/"false".
func (d *Diagnostics) SetBool(name string, v bool) { d.Set(name, fmt.Sprintf("%t", v)) }

// Snapshot returns every configured knob as "name=value", sorted by
// name.
func (d *Diagnostics) Snapshot() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.vals))
	for k := range d.vals {
		names = append(names, k)
	}
	sort.Strings(names)
	lines := make([]string, 0, len(names))
	for _, k := range names {
		lines = append(lines, fmt.Sprintf("%s=%s", k, d.vals[k]))
	}
	return lines
}
