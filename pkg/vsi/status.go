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

	"github.com/dustin/go-humanize"

	"jive5ab/pkg/runtime"
)

// StatusReport is the data behind the status? query: current transfer
// mode/submode plus a human-readable summary of bytes moved so far,
// suitable both for the machine-parseable VSI/S reply and for a
// human-facing client like cmd/vsictl.
type StatusReport struct {
	RuntimeID    string
	Mode         runtime.TransferMode
	Submode      runtime.TransferSubmode
	Bytes        uint64
	ErrorPending bool
}

// Summary renders a one-line human-readable status, e.g. "net2disk
// <run,connected,> 128 MB transferred".
func (s StatusReport) Summary() string {
	return fmt.Sprintf("%s %s %s transferred", s.Mode, s.Submode, humanize.Bytes(s.Bytes))
}

// Reply renders the VSI/S status? reply: code, mode and submode flags,
// and whether an error is pending in the connection's error queue
// (spec.md §4.10: "the status? query reports whether any errors are
// pending").
func (s StatusReport) Reply() Reply {
	return OK("status", true, s.Mode.String(), s.Submode.String(), fmt.Sprintf("%t", s.ErrorPending))
}

// NewStatusReport snapshots rte's mode/submode, error-pending state, and
// the given byte counter into a StatusReport.
func NewStatusReport(rte *runtime.Runtime, bytesTransferred uint64) StatusReport {
	return StatusReport{
		RuntimeID:    rte.ID.String(),
		Mode:         rte.CurrentMode(),
		Submode:      rte.CurrentSubmode(),
		Bytes:        bytesTransferred,
		ErrorPending: rte.Errors.Pending(),
	}
}
