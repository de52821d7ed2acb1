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

// Package vextime implements the high-resolution time stamp used
// throughout the transport core: whole seconds since the epoch plus a
// rational sub-second, so that a-b and b+(a-b)==a hold exactly -- no
// floating point drift from repeated arithmetic on sample-clock-derived
// fractions (e.g. 1/32000000).
package vextime

import (
	"fmt"
	"time"
)

// UnknownSubsecond is the sentinel numerator/denominator pair meaning
// "subsecond unknown" (as opposed to 0/1, which means "exactly on the
// second").
var UnknownSubsecond = Rational{Num: 1, Den: 0}

// Rational is a subsecond fraction Num/Den, 0 <= Num < Den (except for the
// UnknownSubsecond sentinel, where Den == 0).
type Rational struct {
	Num uint64
	Den uint64
}

// Unknown reports whether r is the UnknownSubsecond sentinel.
func (r Rational) Unknown() bool { return r.Den == 0 }

// Float64 returns the fraction as a float64, or 0 if unknown.
func (r Rational) Float64() float64 {
	if r.Unknown() || r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

// Time is a high-resolution timestamp: whole seconds since the Unix
// epoch, plus a rational subsecond.
type Time struct {
	Sec int64
	Sub Rational
}

// Delta is a signed difference between two Times, expressed the same way
// (whole seconds plus a signed rational remainder folded into Sec so that
// 0 <= Sub.Num < Sub.Den always holds for non-zero Den).
type Delta struct {
	Sec int64
	Sub Rational
	Neg bool
}

// Now returns the current time with subsecond unknown (callers that have
// a sample-clock subsecond should construct a Time directly).
func Now() Time {
	t := time.Now()
	return Time{Sec: t.Unix(), Sub: UnknownSubsecond}
}

// commonDenominator returns a denominator both fractions can be expressed
// over (the product, unless one side is already a multiple of the other).
func commonDenominator(a, b Rational) uint64 {
	if a.Den == b.Den {
		return a.Den
	}
	if a.Den == 0 {
		return b.Den
	}
	if b.Den == 0 {
		return a.Den
	}
	if a.Den%b.Den == 0 {
		return a.Den
	}
	if b.Den%a.Den == 0 {
		return b.Den
	}
	return a.Den * b.Den
}

func scale(r Rational, den uint64) uint64 {
	if r.Den == 0 || den == r.Den {
		return r.Num
	}
	return r.Num * (den / r.Den)
}

// Minus computes a-b as an exact Delta. Both a.Sub and b.Sub must be
// known (non-UnknownSubsecond); Minus panics otherwise, since "unknown
// minus known" has no exact rational answer.
func (a Time) Minus(b Time) Delta {
	if a.Sub.Unknown() || b.Sub.Unknown() {
		panic("vextime: Minus requires known subseconds on both operands")
	}
	den := commonDenominator(a.Sub, b.Sub)
	an := scale(a.Sub, den)
	bn := scale(b.Sub, den)

	sec := a.Sec - b.Sec
	var num int64 = int64(an) - int64(bn)
	if num < 0 {
		sec--
		num += int64(den)
	}
	return Delta{Sec: sec, Sub: Rational{Num: uint64(num), Den: den}}
}

// Add returns a+d exactly.
func (a Time) Add(d Delta) Time {
	if a.Sub.Unknown() {
		panic("vextime: Add requires a known subsecond")
	}
	den := commonDenominator(a.Sub, d.Sub)
	an := scale(a.Sub, den)
	dn := int64(scale(d.Sub, den))
	if d.Neg {
		dn = -dn
	}

	sec := a.Sec + d.Sec
	num := int64(an) + dn
	for num < 0 {
		num += int64(den)
		sec--
	}
	for den > 0 && num >= int64(den) {
		num -= int64(den)
		sec++
	}
	return Time{Sec: sec, Sub: Rational{Num: uint64(num), Den: den}}
}

// String renders an ISO8601-ish representation, "unknown" subsecond
// rendered as ".???".
func (t Time) String() string {
	base := time.Unix(t.Sec, 0).UTC().Format("2006-01-02T15:04:05")
	if t.Sub.Unknown() {
		return base + ".???Z"
	}
	frac := fmt.Sprintf("%06d", int64(t.Sub.Float64()*1e6))
	return base + "." + frac + "Z"
}

// ToVEX renders the VEX day-of-year timestamp form: yyyyDDDdHHhMMmSSs.
func (t Time) ToVEX() string {
	ut := time.Unix(t.Sec, 0).UTC()
	return fmt.Sprintf("%04dy%03dd%02dh%02dm%02ds", ut.Year(), ut.YearDay(), ut.Hour(), ut.Minute(), ut.Second())
}
