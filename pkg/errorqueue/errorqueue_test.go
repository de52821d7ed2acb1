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

package errorqueue

import (
	"testing"

	"jive5ab/pkg/vextime"
)

// TestCompression is testable property 8: pushing the same (number,
// message) pair K times yields a single entry with Occurrences == K and
// Time <= TimeLast.
func TestCompression(t *testing.T) {
	sec := int64(1000)
	q := New(func() vextime.Time {
		sec++
		return vextime.Time{Sec: sec, Sub: vextime.Rational{Num: 0, Den: 1}}
	})
	for i := 0; i < 5; i++ {
		q.Push(4, "streamstor read failed")
	}
	if q.Len() != 1 {
		t.Fatalf("expected a single compressed entry, got %d", q.Len())
	}
	e, ok := q.Peek()
	if !ok {
		t.Fatal("expected an entry")
	}
	if e.Occurrences != 5 {
		t.Fatalf("expected occurrences=5, got %d", e.Occurrences)
	}
	if e.Time.Sec > e.TimeLast.Sec {
		t.Fatalf("expected Time <= TimeLast, got %d > %d", e.Time.Sec, e.TimeLast.Sec)
	}
}

func TestPeekThenPopOrdering(t *testing.T) {
	q := New(nil)
	q.Push(1, "first")
	q.Push(2, "second")

	peeked, ok := q.Peek()
	if !ok || peeked.Number != 1 {
		t.Fatalf("expected peek to return the oldest entry first, got %+v", peeked)
	}
	popped, ok := q.Pop()
	if !ok || popped.Number != 1 {
		t.Fatalf("expected pop to return the oldest entry, got %+v", popped)
	}
	if !q.Pending() {
		t.Fatal("expected one remaining entry to be pending")
	}
	second, ok := q.Pop()
	if !ok || second.Number != 2 {
		t.Fatalf("expected second entry, got %+v", second)
	}
	if q.Pending() {
		t.Fatal("expected no pending entries after draining")
	}
}

func TestEmptyMessageIgnored(t *testing.T) {
	q := New(nil)
	q.Push(1, "")
	if q.Pending() {
		t.Fatal("expected empty-message push to be ignored")
	}
}
