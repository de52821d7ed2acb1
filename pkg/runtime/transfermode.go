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

// Package runtime holds the per-connection Runtime: the current
// TransferMode/TransferSubmode state machine, the netparms/constraint
// results in effect, and the per-runtime generic cache (spec.md §4.8,
// §4.9), grounded on
// _examples/original_source/evlbi5a/{transfermode.h,runtime.h,per_runtime.h}.
package runtime

import "strings"

// TransferMode names a chain pattern currently installed (or
// no_transfer). There is deliberately no guarantee the numeric value of
// any entry is stable across versions; compare by name or by the
// exported predicates below.
type TransferMode int

const (
	NoTransfer TransferMode = iota

	Disk2Net
	Disk2Out
	Disk2File

	In2Net
	In2Disk
	In2Fork
	In2File

	Net2Out
	Net2Disk
	Net2Fork
	Net2File
	Net2Check
	Net2SFXC
	Net2SFXCFork

	Fill2Net
	Fill2File
	Fill2Out

	Spill2Net
	Spid2Net
	Spin2Net
	Spin2File
	Splet2Net
	Splet2File
	Spill2File
	Spid2File
	Spif2File
	Spif2Net

	File2Check
	File2Mem
	File2Disk
	File2Net

	In2Mem
	In2MemFork
	Mem2Net
	Mem2File
	Mem2SFXC
	Mem2Time

	Net2Mem

	Condition
)

var transferModeNames = map[TransferMode]string{
	NoTransfer: "no_transfer",

	Disk2Net:  "disk2net",
	Disk2Out:  "disk2out",
	Disk2File: "disk2file",

	In2Net:  "in2net",
	In2Disk: "in2disk",
	In2Fork: "in2fork",
	In2File: "in2file",

	Net2Out:      "net2out",
	Net2Disk:     "net2disk",
	Net2Fork:     "net2fork",
	Net2File:     "net2file",
	Net2Check:    "net2check",
	Net2SFXC:     "net2sfxc",
	Net2SFXCFork: "net2sfxcfork",

	Fill2Net:  "fill2net",
	Fill2File: "fill2file",
	Fill2Out:  "fill2out",

	Spill2Net:  "spill2net",
	Spid2Net:   "spid2net",
	Spin2Net:   "spin2net",
	Spin2File:  "spin2file",
	Splet2Net:  "splet2net",
	Splet2File: "splet2file",
	Spill2File: "spill2file",
	Spid2File:  "spid2file",
	Spif2File:  "spif2file",
	Spif2Net:   "spif2net",

	File2Check: "file2check",
	File2Mem:   "file2mem",
	File2Disk:  "file2disk",
	File2Net:   "file2net",

	In2Mem:     "in2mem",
	In2MemFork: "in2memfork",
	Mem2Net:    "mem2net",
	Mem2File:   "mem2file",
	Mem2SFXC:   "mem2sfxc",
	Mem2Time:   "mem2time",

	Net2Mem: "net2mem",

	Condition: "condition",
}

var transferModeByName = func() map[string]TransferMode {
	m := make(map[string]TransferMode, len(transferModeNames))
	for tm, name := range transferModeNames {
		m[name] = tm
	}
	return m
}()

// String renders the mode the way status replies and logs do.
func (tm TransferMode) String() string {
	if s, ok := transferModeNames[tm]; ok {
		return s
	}
	return "unknown_transfer_mode"
}

// ParseTransferMode is string2transfermode: case-insensitive, returns
// NoTransfer for anything unrecognized.
func ParseTransferMode(s string) TransferMode {
	if tm, ok := transferModeByName[strings.ToLower(s)]; ok {
		return tm
	}
	return NoTransfer
}

// FromFile reports whether tm reads from a regular file.
func FromFile(tm TransferMode) bool {
	switch tm {
	case File2Check, File2Mem, File2Disk, File2Net:
		return true
	}
	return false
}

// ToFile reports whether tm writes to a regular file.
func ToFile(tm TransferMode) bool {
	switch tm {
	case Disk2File, In2File, Net2File, Fill2File, Spin2File, Splet2File, Spill2File, Spid2File, Spif2File, Mem2File:
		return true
	}
	return false
}

// FromNet reports whether tm's source is the network.
func FromNet(tm TransferMode) bool {
	switch tm {
	case Net2Out, Net2Disk, Net2Fork, Net2File, Net2Check, Net2SFXC, Net2SFXCFork, Net2Mem, Splet2Net, Splet2File:
		return true
	}
	return false
}

// ToNet reports whether tm's sink is the network.
func ToNet(tm TransferMode) bool {
	switch tm {
	case Disk2Net, In2Net, Fill2Net, Spill2Net, Spid2Net, Spin2Net, Spif2Net, File2Net, Mem2Net:
		return true
	}
	return false
}

// FromIO reports whether tm reads live from the I/O board (Mark5/Mark6
// front end), the "in2*" family.
func FromIO(tm TransferMode) bool {
	switch tm {
	case In2Net, In2Disk, In2Fork, In2File, In2Mem, In2MemFork, Spin2Net, Spin2File:
		return true
	}
	return false
}

// ToIO reports whether tm writes live to the I/O board, the "*2out"
// family.
func ToIO(tm TransferMode) bool {
	switch tm {
	case Disk2Out, Net2Out, Fill2Out:
		return true
	}
	return false
}

// FromDisk reports whether tm reads from the StreamStor disk pack.
func FromDisk(tm TransferMode) bool {
	switch tm {
	case Disk2Net, Disk2Out, Disk2File:
		return true
	}
	return false
}

// ToDisk reports whether tm writes to the StreamStor disk pack.
func ToDisk(tm TransferMode) bool {
	switch tm {
	case In2Disk, Net2Disk, File2Disk:
		return true
	}
	return false
}

// FromFill reports whether tm's source is the synthetic fill-pattern
// generator rather than a real device.
func FromFill(tm TransferMode) bool {
	switch tm {
	case Fill2Net, Fill2File, Fill2Out, Spill2Net, Spill2File:
		return true
	}
	return false
}

// StreamstorBusy reports whether tm keeps the StreamStor device
// occupied, barring commands that also need exclusive StreamStor access
// (e.g. disk directory reads, conditioning).
func StreamstorBusy(tm TransferMode) bool {
	return FromDisk(tm) || ToDisk(tm) || tm == Condition
}

// DiskUnavail is an alias kept distinct from StreamstorBusy because
// conditioning (`condition`) occupies the disk pack without being a
// "transfer" in the disk2*/​*2disk sense.
func DiskUnavail(tm TransferMode) bool {
	return tm == Condition || FromDisk(tm) || ToDisk(tm)
}

// SubmodeFlag is one bit of transfer_submode's bitset.
type SubmodeFlag uint32

const (
	PauseFlag     SubmodeFlag = 1 << iota
	RunFlag
	WaitFlag
	ConnectedFlag
)

var submodeNames = map[SubmodeFlag]string{
	PauseFlag:     "PAUSE",
	RunFlag:       "RUN",
	WaitFlag:      "WAIT",
	ConnectedFlag: "CONNECTED",
}

// TransferSubmode is the small bitset of auxiliary state flags
// (paused/running/waiting/connected) layered on top of TransferMode.
type TransferSubmode struct {
	flags SubmodeFlag
}

// Set raises f.
func (s *TransferSubmode) Set(f SubmodeFlag) *TransferSubmode {
	s.flags |= f
	return s
}

// Clr lowers f.
func (s *TransferSubmode) Clr(f SubmodeFlag) *TransferSubmode {
	s.flags &^= f
	return s
}

// ClrAll lowers every flag.
func (s *TransferSubmode) ClrAll() *TransferSubmode {
	s.flags = 0
	return s
}

// Is reports whether f is raised.
func (s TransferSubmode) Is(f SubmodeFlag) bool {
	return s.flags&f != 0
}

// String renders the set flags as "<FLAG1,FLAG2,>", matching the
// original's stream operator.
func (s TransferSubmode) String() string {
	var b strings.Builder
	b.WriteByte('<')
	for _, f := range []SubmodeFlag{PauseFlag, RunFlag, WaitFlag, ConnectedFlag} {
		if s.Is(f) {
			b.WriteString(submodeNames[f])
			b.WriteByte(',')
		}
	}
	b.WriteByte('>')
	return b.String()
}
