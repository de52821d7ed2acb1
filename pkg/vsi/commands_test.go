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
	"bytes"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	. "github.com/onsi/gomega"

	"jive5ab/pkg/jlog"
	"jive5ab/pkg/mountpoints"
	"jive5ab/pkg/runtime"
	"jive5ab/pkg/transport/vbs"
)

func makeDisks(t *testing.T, n int) *mountpoints.Info {
	t.Helper()
	root := t.TempDir()
	var mps []string
	for i := 0; i < n; i++ {
		d := filepath.Join(root, "disk"+string(rune('0'+i)))
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
		mps = append(mps, d)
	}
	return mountpoints.NewWithMountpoints(root, mps, jlog.Discard())
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *runtime.Runtime, *Deps) {
	t.Helper()
	deps := NewDeps(makeDisks(t, 2), jlog.Discard())
	m := NewCommandMap(HardwareGeneric)
	RegisterCommands(m, deps)
	rte := runtime.New(jlog.Discard())
	return NewDispatcher(m, rte, jlog.Discard()), rte, deps
}

func TestNetProtocolSetAndQuery(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	r := d.HandleOne("net_protocol=udps")
	if r.Code != CodeOK {
		t.Fatalf("set: %v", r)
	}
	r = d.HandleOne("net_protocol?")
	if r.Code != CodeOK || len(r.Fields) != 1 || r.Fields[0] != "udps" {
		t.Fatalf("query: %v", r)
	}
}

func TestNetProtocolRejectsUnknown(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	r := d.HandleOne("net_protocol=carrier-pigeon")
	if r.Code != CodeParameterError {
		t.Fatalf("expected parameter error, got %v", r)
	}
}

func TestNetPortGrammarRoundTrip(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	r := d.HandleOne("net_port=host1@2630:host2@2631=suffixA")
	if r.Code != CodeOK {
		t.Fatalf("set: %v", r)
	}
	r = d.HandleOne("net_port?")
	if r.Code != CodeOK {
		t.Fatalf("query: %v", r)
	}
	got := r.Fields[0]
	want := "host1@2630 : host2@2631=suffixA"
	if got != want {
		t.Fatalf("net_port? = %q, want %q", got, want)
	}
}

func TestAckperiodRequiresArgumentOnSet(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	r := d.HandleOne("ackperiod=")
	if r.Code != CodeParameterError {
		t.Fatalf("expected parameter error for missing arg, got %v", r)
	}
	r = d.HandleOne("ackperiod?")
	if r.Code != CodeOK {
		t.Fatalf("query always legal: %v", r)
	}
}

func TestMountQueryListsDiscoveredMountpoints(t *testing.T) {
	d, _, deps := newTestDispatcher(t)
	r := d.HandleOne("mount?")
	if r.Code != CodeOK {
		t.Fatalf("mount?: %v", r)
	}
	for _, mp := range deps.Mountpoints.Mountpoints() {
		if !bytes.Contains([]byte(r.Fields[0]), []byte(mp)) {
			t.Fatalf("expected %q in mount? reply %q", mp, r.Fields[0])
		}
	}
}

func TestDatastreamSetAndQuery(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	r := d.HandleOne("datastream=myds:flexbuf")
	if r.Code != CodeOK {
		t.Fatalf("set: %v", r)
	}
	r = d.HandleOne("datastream?myds")
	if r.Code != CodeOK {
		t.Fatalf("query: %v", r)
	}
}

func TestDatastreamQueryUnknownNameErrors(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	r := d.HandleOne("datastream?nope")
	if r.Code != CodeParameterError {
		t.Fatalf("expected parameter error, got %v", r)
	}
}

func TestTrackmaskComputesAsynchronously(t *testing.T) {
	g := NewWithT(t)
	d, _, _ := newTestDispatcher(t)
	r := d.HandleOne("trackmask=0xffffffff00000000")
	if r.Code != CodeOK {
		t.Fatalf("set: %v", r)
	}
	r = d.HandleOne("trackmask?")
	if r.Code != CodeInitiated {
		t.Fatalf("expected still-computing reply immediately after set, got %v", r)
	}

	g.Eventually(func() Code {
		r = d.HandleOne("trackmask?")
		return r.Code
	}, time.Second, time.Millisecond).Should(Equal(CodeOK))
	if len(r.Fields) < 2 || r.Fields[1] != "0xffffffff00000000" {
		t.Fatalf("unexpected trackmask result: %v", r.Fields)
	}
}

func TestResetReturnsToNoTransfer(t *testing.T) {
	d, rte, _ := newTestDispatcher(t)
	rte.StartTransfer(runtime.In2Net, nil)
	r := d.HandleOne("reset=abort")
	if r.Code != CodeOK {
		t.Fatalf("reset: %v", r)
	}
	if rte.CurrentMode() != runtime.NoTransfer {
		t.Fatalf("expected no_transfer after reset, got %v", rte.CurrentMode())
	}
}

func TestIn2NetConnectGatedByIdleMode(t *testing.T) {
	d, rte, _ := newTestDispatcher(t)
	rte.StartTransfer(runtime.Disk2Net, nil)
	r := d.HandleOne("in2net=connect")
	if r.Code != CodeIllegalInThisMode {
		t.Fatalf("expected illegal-in-mode, got %v", r)
	}
	rte.StopTransfer(false)

	r = d.HandleOne("in2net=connect")
	if r.Code != CodeOK {
		t.Fatalf("connect: %v", r)
	}
	if !rte.CurrentSubmode().Is(runtime.ConnectedFlag) {
		t.Fatalf("expected CONNECTED flag set")
	}
}

func TestFile2DiskThenDisk2NetRoundTrip(t *testing.T) {
	d, rte, deps := newTestDispatcher(t)

	srcPath := filepath.Join(t.TempDir(), "source.vdif")
	payload := bytes.Repeat([]byte("scan-data"), 5000)
	if err := os.WriteFile(srcPath, payload, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	r := d.HandleOne("file2disk=" + srcPath + ":exp900_eb")
	if r.Code != CodeOK {
		t.Fatalf("file2disk=: %v", r)
	}
	rte.Chain.Wait()
	if err := rte.Chain.Err(); err != nil {
		t.Fatalf("file2disk chain error: %v", err)
	}

	paths, err := vbs.ScanFiles(deps.Mountpoints, "exp900_eb")
	if err != nil {
		t.Fatalf("scan recorded chunks: %v", err)
	}
	var got bytes.Buffer
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err != nil {
			t.Fatalf("ReadFile: %v", err)
		}
		got.Write(b)
	}
	if !bytes.Equal(got.Bytes(), payload) {
		t.Fatalf("recorded chunks mismatch: got %d bytes, want %d", got.Len(), len(payload))
	}
}

func TestErrorQueryReportsNoErrorWhenEmpty(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	r := d.HandleOne("error?")
	if r.Code != CodeOK || r.Fields[1] != "no error" {
		t.Fatalf("expected empty error queue reply, got %v", r)
	}
}

func TestFailedTransferSetupSurfacesThroughStatusAndErrorQuery(t *testing.T) {
	d, rte, _ := newTestDispatcher(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	r := d.HandleOne(fmt.Sprintf("net_port=%d", port))
	if r.Code != CodeOK {
		t.Fatalf("net_port=: %v", r)
	}
	r = d.HandleOne("net2disk=exp900_eb")
	if r.Code != CodeActionFailed {
		t.Fatalf("expected net2disk= on an already-bound port to fail, got %v", r)
	}

	r = d.HandleOne("status?")
	if r.Code != CodeOK || r.Fields[2] != "true" {
		t.Fatalf("expected status? to report a pending error, got %v", r)
	}

	r = d.HandleOne("error?")
	if r.Code != CodeOK || r.Fields[0] != strconv.Itoa(int(CodeActionFailed)) {
		t.Fatalf("expected error? to return the queued error number, got %v", r)
	}

	r = d.HandleOne("error?")
	if r.Code != CodeOK || r.Fields[1] != "no error" {
		t.Fatalf("expected error queue drained after one pop, got %v", r)
	}

	_ = rte
}
