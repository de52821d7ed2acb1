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
	"strings"
)

// Request is one parsed `KEYWORD(=|?)[arg[:arg]*]` command, stripped of
// whitespace.
type Request struct {
	Keyword string
	IsQuery bool
	Args    []string
}

// SplitLine splits a line on ';' into individual command strings,
// dropping empty trailing fragments -- spec.md §4.6: "possibly multiple
// [commands] per line separated by ';'".
func SplitLine(line string) []string {
	parts := strings.Split(line, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ParseRequest tokenizes one command (without its trailing ';') into a
// Request. Whitespace around the keyword, the operator, and each
// argument is stripped.
func ParseRequest(cmd string) (Request, error) {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		return Request{}, fmt.Errorf("vsi: empty command")
	}

	opIdx := strings.IndexAny(cmd, "=?")
	if opIdx < 0 {
		return Request{}, fmt.Errorf("vsi: missing '=' or '?' in %q", cmd)
	}

	keyword := strings.TrimSpace(cmd[:opIdx])
	if keyword == "" {
		return Request{}, fmt.Errorf("vsi: empty keyword in %q", cmd)
	}
	isQuery := cmd[opIdx] == '?'

	rest := strings.TrimSpace(cmd[opIdx+1:])
	var args []string
	if rest != "" {
		for _, a := range strings.Split(rest, ":") {
			args = append(args, strings.TrimSpace(a))
		}
	}

	return Request{Keyword: strings.ToLower(keyword), IsQuery: isQuery, Args: args}, nil
}
