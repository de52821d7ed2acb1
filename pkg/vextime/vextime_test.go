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

package vextime

import (
	"math/rand"
	"testing"
)

// TestArithmeticExact is testable property 9: for any a, b, dt = a-b
// satisfies b+dt == a exactly (rationals, no float drift).
func TestArithmeticExact(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	dens := []uint64{1, 32000000, 8000000, 4, 3}
	for i := 0; i < 500; i++ {
		den := dens[rng.Intn(len(dens))]
		a := Time{Sec: rng.Int63n(2_000_000_000), Sub: Rational{Num: rng.Uint64() % maxu(den, 1), Den: den}}
		den2 := dens[rng.Intn(len(dens))]
		b := Time{Sec: rng.Int63n(2_000_000_000), Sub: Rational{Num: rng.Uint64() % maxu(den2, 1), Den: den2}}

		dt := a.Minus(b)
		got := b.Add(dt)
		if got.Sec != a.Sec {
			t.Fatalf("sec mismatch: a=%+v b=%+v dt=%+v got=%+v", a, b, dt, got)
		}
		if got.Sub.Float64() != a.Sub.Float64() {
			// allow exact rational equivalence even if num/den differ
			if !ratEqual(got.Sub, a.Sub) {
				t.Fatalf("subsecond mismatch: a=%+v got=%+v", a.Sub, got.Sub)
			}
		}
	}
}

func ratEqual(x, y Rational) bool {
	if x.Den == 0 || y.Den == 0 {
		return x.Den == y.Den && x.Num == y.Num
	}
	return x.Num*y.Den == y.Num*x.Den
}

func maxu(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func TestUnknownSubsecond(t *testing.T) {
	u := UnknownSubsecond
	if !u.Unknown() {
		t.Fatalf("expected UnknownSubsecond.Unknown() == true")
	}
	if (Rational{Num: 0, Den: 1}).Unknown() {
		t.Fatalf("0/1 must not be treated as unknown")
	}
}

func TestToVEXFormat(t *testing.T) {
	tm := Time{Sec: 1_700_000_000, Sub: Rational{Num: 0, Den: 1}}
	s := tm.ToVEX()
	if len(s) == 0 {
		t.Fatalf("expected non-empty VEX string")
	}
}
