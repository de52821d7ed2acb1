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

// Package vsi implements the VSI/S line protocol command dispatcher:
// tokenizing `KEYWORD(=|?)arg:arg;` requests, looking commands up in a
// per-hardware command map, gating them against the runtime's current
// transfer mode, and formatting `!KEYWORD(=|?) code: field...;` replies
// (spec.md §4.6, §6).
package vsi

import "strings"

// Code is one of the fixed VSI/S numeric reply codes (spec.md §6).
type Code int

const (
	CodeOK                 Code = 0
	CodeInitiated          Code = 1
	CodeActionFailed        Code = 4
	CodeBusy               Code = 5
	CodeIllegalInThisMode  Code = 6
	CodeParameterError     Code = 8
)

// Reply is a parsed/about-to-be-formatted VSI/S response.
type Reply struct {
	Keyword  string
	IsQuery  bool
	Code     Code
	Fields   []string
}

// OK builds a success reply with the given fields.
func OK(keyword string, isQuery bool, fields ...string) Reply {
	return Reply{Keyword: keyword, IsQuery: isQuery, Code: CodeOK, Fields: fields}
}

// Err builds a non-success reply.
func Err(keyword string, isQuery bool, code Code, reason string) Reply {
	fields := []string{}
	if reason != "" {
		fields = []string{reason}
	}
	return Reply{Keyword: keyword, IsQuery: isQuery, Code: code, Fields: fields}
}

// String renders the reply per spec.md §6: "!KEYWORD(=|?) code: field...;".
func (r Reply) String() string {
	sep := "="
	if r.IsQuery {
		sep = "?"
	}
	var b strings.Builder
	b.WriteByte('!')
	b.WriteString(r.Keyword)
	b.WriteString(sep)
	b.WriteByte(' ')
	b.WriteString(itoa(int(r.Code)))
	for _, f := range r.Fields {
		b.WriteString(" : ")
		b.WriteString(f)
	}
	b.WriteByte(';')
	return b.String()
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
