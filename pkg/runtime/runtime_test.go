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

import "testing"

func TestParseTransferModeCaseInsensitive(t *testing.T) {
	if ParseTransferMode("IN2NET") != In2Net {
		t.Fatal("expected case-insensitive match")
	}
	if ParseTransferMode("bogus") != NoTransfer {
		t.Fatal("expected unrecognized string to fall back to no_transfer")
	}
}

func TestPredicatesPartitionEnum(t *testing.T) {
	if !FromNet(Net2Disk) || FromDisk(Net2Disk) {
		t.Fatal("net2disk should be fromnet, not fromdisk")
	}
	if !ToDisk(Net2Disk) || ToNet(Net2Disk) {
		t.Fatal("net2disk should be todisk, not tonet")
	}
	if !FromDisk(Disk2Net) || !ToNet(Disk2Net) {
		t.Fatal("disk2net should be both fromdisk and tonet")
	}
	if !FromIO(In2Disk) {
		t.Fatal("in2disk should be fromio")
	}
	if !ToIO(Disk2Out) {
		t.Fatal("disk2out should be toio")
	}
	if !StreamstorBusy(Disk2Net) || !StreamstorBusy(Condition) {
		t.Fatal("disk2net and condition should both occupy the streamstor")
	}
}

func TestSubmodeFlags(t *testing.T) {
	var s TransferSubmode
	s.Set(RunFlag).Set(WaitFlag)
	if !s.Is(RunFlag) || !s.Is(WaitFlag) || s.Is(PauseFlag) {
		t.Fatalf("unexpected flag state: %v", s)
	}
	s.Clr(WaitFlag)
	if s.Is(WaitFlag) {
		t.Fatal("expected WaitFlag cleared")
	}
	s.ClrAll()
	if s.Is(RunFlag) {
		t.Fatal("expected ClrAll to clear everything")
	}
}

func TestCacheRoundTripAndRuntimeCloseForgets(t *testing.T) {
	rte := New(nil)
	c := NewCache[string]()

	c.Set(rte, "trackmask", "computing")
	if v, ok := c.Get(rte, "trackmask"); !ok || v != "computing" {
		t.Fatalf("expected cached value, got %q ok=%v", v, ok)
	}

	rte.Close()

	if _, ok := c.Get(rte, "trackmask"); ok {
		t.Fatal("expected cache entry to be forgotten after Runtime.Close")
	}
}

func TestStartAndStopTransfer(t *testing.T) {
	rte := New(nil)
	if rte.CurrentMode() != NoTransfer {
		t.Fatal("expected fresh runtime to be idle")
	}
	rte.StartTransfer(Net2Disk, nil)
	if rte.CurrentMode() != Net2Disk {
		t.Fatalf("expected net2disk, got %v", rte.CurrentMode())
	}
	rte.StopTransfer(false)
	if rte.CurrentMode() != NoTransfer {
		t.Fatal("expected reset to no_transfer after stop")
	}
}
