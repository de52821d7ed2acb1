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

// Package jlog supplies the single process-wide structured logger used by
// every other package in this module. Components take a *logrus.Entry
// (or the bare *logrus.Logger) as a constructor argument; nothing in this
// module reaches for a package-level logger of its own.
package jlog

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New builds a logger with the formatting conventions used throughout the
// daemon: output goes to stderr, with the text formatter and full
// timestamps when stderr is a terminal, JSON when it is not (e.g. under
// systemd).
func New(level logrus.Level) *logrus.Logger {
	l := logrus.New()
	l.SetLevel(level)
	l.SetOutput(os.Stderr)
	if fi, err := os.Stderr.Stat(); err == nil && (fi.Mode()&os.ModeCharDevice) != 0 {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	return l
}

// Discard returns a logger that drops everything; used by tests and by
// packages exercised without a caller-supplied logger.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(discardWriter{})
	return l
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
