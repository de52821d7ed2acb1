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

// Package mountpoints implements FlexBuff/Mark6 mount-point discovery and
// the pattern/alias resolver described in spec.md's "mountpoints /
// datastreams" data model entry, grounded on
// _examples/original_source/evlbi5a/mk6info.cc.
package mountpoints

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// mk6GroupID matches a Mark6 groupid: any non-empty string made up of the
// digits 1-4, each naming one built-in single-module alias whose
// patterns are unioned together (e.g. "124").
var mk6GroupID = regexp.MustCompile(`^[1-4]+$`)

// builtinGroupDefs mirrors mk_builtins(): the fixed built-in aliases
// "1".."4" each resolving to one regex, plus "flexbuf" covering every
// /mnt/diskN mountpoint.
var builtinGroupDefs = map[string][]string{
	"1":       {`^/mnt/disk/1/[0-7]$`},
	"2":       {`^/mnt/disk/2/[0-7]$`},
	"3":       {`^/mnt/disk/3/[0-7]$`},
	"4":       {`^/mnt/disk/4/[0-7]$`},
	"flexbuf": {`^/mnt/disk[0-9]+$`},
}

// IsBuiltin reports whether groupid names a built-in alias or a valid
// Mark6 groupid (any combination of digits 1-4).
func IsBuiltin(groupid string) bool {
	if _, ok := builtinGroupDefs[groupid]; ok {
		return true
	}
	return mk6GroupID.MatchString(groupid)
}

// PatternOf returns the regex patterns a built-in alias or Mark6 groupid
// resolves to, or nil if groupid is neither (i.e. it must be looked up in
// a user-supplied dictionary instead).
func PatternOf(groupid string) []string {
	if p, ok := builtinGroupDefs[groupid]; ok {
		out := make([]string, len(p))
		copy(out, p)
		return out
	}
	if !mk6GroupID.MatchString(groupid) {
		return nil
	}
	var rv []string
	for _, ch := range groupid {
		p, ok := builtinGroupDefs[string(ch)]
		if !ok {
			// mk6GroupID matched but no builtin pattern exists for one of
			// its characters -- an internal inconsistency in the builtin
			// table, not user input; should never happen.
			panic(fmt.Sprintf("mountpoints: no builtin pattern for group %q", string(ch)))
		}
		rv = append(rv, p...)
	}
	return rv
}

// isValidPattern reports whether s is already a usable pattern rather
// than an alias needing further resolution: an anchored regex (^...$) or
// a string containing a shell-glob metacharacter.
func isValidPattern(s string) bool {
	if len(s) >= 2 && s[0] == '^' && s[len(s)-1] == '$' {
		return true
	}
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']':
			return true
		}
	}
	return false
}

// ErrUndefinedAlias is returned by ResolvePatterns when an entry is
// neither a valid pattern nor a known alias.
type ErrUndefinedAlias struct {
	Alias string
}

func (e ErrUndefinedAlias) Error() string {
	return fmt.Sprintf("mountpoints: group definition %q not found in dictionaries", e.Alias)
}

// ResolvePatterns expands pl (a mix of literal patterns and aliases)
// against the built-in group defs and the caller-supplied userGrps
// dictionary, iteratively, until every entry is a concrete pattern, and
// returns the de-duplicated union -- spec.md testable property 7.
func ResolvePatterns(pl []string, userGrps map[string][]string) ([]string, error) {
	accumulator := make(map[string]struct{})
	remaining := append([]string(nil), pl...)

	for len(remaining) > 0 {
		var aliases []string
		for _, s := range remaining {
			if isValidPattern(s) {
				accumulator[s] = struct{}{}
			} else {
				aliases = append(aliases, s)
			}
		}

		var next []string
		for _, alias := range aliases {
			if builtin := PatternOf(alias); builtin != nil {
				next = append(next, builtin...)
				continue
			}
			patterns, ok := userGrps[alias]
			if !ok {
				return nil, ErrUndefinedAlias{Alias: alias}
			}
			next = append(next, patterns...)
		}
		remaining = next
	}

	rv := make([]string, 0, len(accumulator))
	for p := range accumulator {
		rv = append(rv, p)
	}
	sort.Strings(rv)
	return rv, nil
}

// FindMountpoints scans root's immediate children for directories whose
// full path matches any of patterns (each either an anchored regex or a
// shell glob), mirroring find_mountpoints()'s use against "/".
func FindMountpoints(root string, patterns []string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("mountpoints: reading %s: %w", root, err)
	}

	var rx []*regexp.Regexp
	var globs []string
	for _, p := range patterns {
		if len(p) >= 2 && p[0] == '^' && p[len(p)-1] == '$' {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("mountpoints: invalid pattern %q: %w", p, err)
			}
			rx = append(rx, re)
		} else {
			globs = append(globs, p)
		}
	}

	var found []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		full := filepath.Join(root, e.Name())
		matched := false
		for _, re := range rx {
			if re.MatchString(full) {
				matched = true
				break
			}
		}
		if !matched {
			for _, g := range globs {
				if ok, _ := filepath.Match(g, full); ok {
					matched = true
					break
				}
			}
		}
		if matched {
			found = append(found, full)
		}
	}
	sort.Strings(found)
	return found, nil
}

// Info holds the discovered FlexBuff mountpoints and the datastream
// (name -> filter-pattern list) map, the Go analogue of mk6info_type.
//
// The mountpoint list is refreshed from watchLoop (running on its own
// goroutine) and datastreams are written by SetDatastream, while command
// dispatch goroutines read both concurrently (mount?, datastream?, and
// every vbs transfer); mu guards both fields and must be held for every
// read or write of either.
type Info struct {
	Root string

	log     *logrus.Logger
	watcher *fsnotify.Watcher

	mu          sync.RWMutex
	mountpoints []string
	datastreams map[string][]string
}

// Mountpoints returns the current set of discovered mountpoints.
func (i *Info) Mountpoints() []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]string, len(i.mountpoints))
	copy(out, i.mountpoints)
	return out
}

// Datastream returns the pattern list registered for name, if any.
func (i *Info) Datastream(name string) ([]string, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	p, ok := i.datastreams[name]
	return p, ok
}

// New discovers the FlexBuff mountpoints under root using the built-in
// "flexbuf" pattern and starts an fsnotify watch on root so that
// mountpoints appearing or disappearing (e.g. a drive remounted) are
// observed without polling.
func New(root string, log *logrus.Logger) (*Info, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	mps, err := FindMountpoints(root, builtinGroupDefs["flexbuf"])
	if err != nil {
		return nil, err
	}
	info := &Info{
		Root:        root,
		mountpoints: mps,
		datastreams: make(map[string][]string),
		log:         log,
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.WithError(err).Warn("mountpoints: fsnotify unavailable, liveness watch disabled")
		return info, nil
	}
	if err := w.Add(root); err != nil {
		log.WithError(err).Warnf("mountpoints: failed to watch %s", root)
		w.Close()
		return info, nil
	}
	info.watcher = w
	go info.watchLoop()
	return info, nil
}

// NewWithMountpoints builds an Info around an explicit mountpoint list,
// with no liveness watch. Used where the caller already knows the
// mountpoint set (tests, or a fixed configuration) rather than
// discovering it from a root directory's "flexbuf" pattern.
func NewWithMountpoints(root string, mps []string, log *logrus.Logger) *Info {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Info{
		Root:        root,
		mountpoints: append([]string(nil), mps...),
		datastreams: make(map[string][]string),
		log:         log,
	}
}

func (i *Info) watchLoop() {
	for {
		select {
		case ev, ok := <-i.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Remove) != 0 {
				if mps, err := FindMountpoints(i.Root, builtinGroupDefs["flexbuf"]); err == nil {
					i.mu.Lock()
					i.mountpoints = mps
					i.mu.Unlock()
					i.log.WithField("count", len(mps)).Debug("mountpoints: refreshed after fs event")
				}
			}
		case err, ok := <-i.watcher.Errors:
			if !ok {
				return
			}
			i.log.WithError(err).Warn("mountpoints: fsnotify watch error")
		}
	}
}

// SetDatastream registers a named datastream's pattern list (the
// datastream= command's target of configuration).
func (i *Info) SetDatastream(name string, patterns []string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.datastreams[name] = patterns
}

// Close stops the liveness watch, if any.
func (i *Info) Close() error {
	if i.watcher != nil {
		return i.watcher.Close()
	}
	return nil
}
