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

package vsi

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"jive5ab/pkg/runtime"
)

// Hardware selects which command map a dispatcher was built for,
// mirroring mk5a/mk5b-dim/mk5b-dom/mk5c/generic hardware detection at
// startup.
type Hardware string

const (
	HardwareMk5A    Hardware = "mk5a"
	HardwareMk5BDIM Hardware = "mk5b-dim"
	HardwareMk5BDOM Hardware = "mk5b-dom"
	HardwareMk5C    Hardware = "mk5c"
	HardwareGeneric Hardware = "generic"
)

// CommandFunc implements one keyword. It receives whether the call was a
// query, its arguments, and the connection's Runtime, and returns a
// fully-formed Reply. A CommandFunc must never spawn a goroutine
// directly (spec.md §4.6: "all concurrency goes through the chain") and
// must not let an error escape -- wrap failures into a Reply via Err,
// except genuine programmer-bug panics, which Dispatch recovers.
type CommandFunc func(req Request, rte *runtime.Runtime) Reply

// Gate reports whether cmd is legal to invoke given the runtime's
// current transfer mode. A nil Gate always allows the command (mirrors
// commands with no INPROGRESS restriction, e.g. most queries).
type Gate func(mode runtime.TransferMode) bool

type registration struct {
	fn   CommandFunc
	gate Gate
}

// CommandMap is the per-hardware keyword -> implementation table.
type CommandMap struct {
	hw       Hardware
	commands map[string]registration
}

// NewCommandMap creates an empty command map for the given hardware.
func NewCommandMap(hw Hardware) *CommandMap {
	return &CommandMap{hw: hw, commands: make(map[string]registration)}
}

// Register installs fn under keyword, gated by gate (nil = always
// legal).
func (m *CommandMap) Register(keyword string, fn CommandFunc, gate Gate) {
	m.commands[keyword] = registration{fn: fn, gate: gate}
}

// Lookup returns the registration for keyword, if any.
func (m *CommandMap) Lookup(keyword string) (CommandFunc, Gate, bool) {
	r, ok := m.commands[keyword]
	return r.fn, r.gate, ok
}

// Dispatcher ties a CommandMap to a specific connection's Runtime and
// runs incoming lines through tokenize -> gate -> invoke -> format.
type Dispatcher struct {
	Commands *CommandMap
	Runtime  *runtime.Runtime
	log      *logrus.Logger
}

// NewDispatcher builds a Dispatcher for one connection.
func NewDispatcher(commands *CommandMap, rte *runtime.Runtime, log *logrus.Logger) *Dispatcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Dispatcher{Commands: commands, Runtime: rte, log: log}
}

// HandleLine processes a full line (possibly several ';'-separated
// commands) and returns the concatenated replies in order.
func (d *Dispatcher) HandleLine(line string) []Reply {
	cmds := SplitLine(line)
	replies := make([]Reply, 0, len(cmds))
	for _, c := range cmds {
		replies = append(replies, d.HandleOne(c))
	}
	return replies
}

// HandleOne processes one already-split command string (without the
// trailing ';').
func (d *Dispatcher) HandleOne(cmd string) Reply {
	req, err := ParseRequest(cmd)
	if err != nil {
		d.log.WithError(err).Warn("vsi: malformed command")
		return Err("error", false, CodeParameterError, err.Error())
	}

	fn, gate, ok := d.Commands.Lookup(req.Keyword)
	if !ok {
		return Err(req.Keyword, req.IsQuery, CodeParameterError, "unknown command")
	}

	if gate != nil && !gate(d.Runtime.CurrentMode()) {
		return Err(req.Keyword, req.IsQuery, CodeIllegalInThisMode, "illegal in current mode")
	}

	return d.invoke(fn, req)
}

// invoke calls fn, recovering a panic as a command-scope failure per
// spec.md §7's "programmer bugs ... caught at the top of the command
// loop; reply is code 4 with the exception message; process continues."
func (d *Dispatcher) invoke(fn CommandFunc, req Request) (reply Reply) {
	defer func() {
		if r := recover(); r != nil {
			d.log.WithField("keyword", req.Keyword).Errorf("vsi: command panicked: %v", r)
			reply = Err(req.Keyword, req.IsQuery, CodeActionFailed, fmt.Sprintf("%v", r))
		}
	}()
	return fn(req, d.Runtime)
}
