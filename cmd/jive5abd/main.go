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

// jive5abd is the long-running VSI/S command server: it binds the
// control port, accepts one connection per client, and runs each
// connection's lines through a pkg/vsi.Dispatcher backed by its own
// pkg/runtime.Runtime. Discovered FlexBuff mountpoints, the shared PSN
// accounting table, and the trackmask job cache are injected once at
// startup and shared by every connection's commands.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/sirupsen/logrus"

	"github.com/coreos/go-systemd/v22/daemon"

	"jive5ab/pkg/jlog"
	"jive5ab/pkg/mountpoints"
	"jive5ab/pkg/runtime"
	"jive5ab/pkg/telemetry"
	"jive5ab/pkg/vsi"
)

func main() {
	addr := flag.String("addr", ":2630", "VSI/S control port listen address")
	diskRoot := flag.String("disk-root", "/mnt/disks", "root directory FlexBuff/Mark6 mountpoints are discovered under")
	hardware := flag.String("hardware", string(vsi.HardwareGeneric), "hardware personality: generic|mk5a|mk5b-dim|mk5b-dom|mk5c")
	metricsAddr := flag.String("metrics-addr", "", "if non-empty, expose Prometheus /metrics on this address")
	confPath := flag.String("conf", "~/.jive5abd.conf", "operator config file (key=value per line); flags still win")
	logLevel := flag.String("log-level", "info", "log level: debug|info|warn|error")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log := jlog.New(level)

	resolvedConf, confVals := loadConfFile(*confPath, log)
	for k, v := range confVals {
		switch k {
		case "addr":
			if !flagWasSet("addr") {
				*addr = v
			}
		case "disk-root":
			if !flagWasSet("disk-root") {
				*diskRoot = v
			}
		case "hardware":
			if !flagWasSet("hardware") {
				*hardware = v
			}
		case "metrics-addr":
			if !flagWasSet("metrics-addr") {
				*metricsAddr = v
			}
		}
	}

	diag := runtime.Diag()
	diag.Set("addr", *addr)
	diag.Set("disk-root", *diskRoot)
	diag.Set("hardware", *hardware)
	diag.Set("metrics-addr", *metricsAddr)
	diag.Set("conf", resolvedConf)
	diag.Set("log-level", level.String())

	mp, err := mountpoints.New(*diskRoot, log)
	if err != nil {
		log.WithError(err).Fatal("jive5abd: mountpoint discovery failed")
	}
	defer mp.Close()

	deps := vsi.NewDeps(mp, log)
	commands := vsi.NewCommandMap(vsi.Hardware(*hardware))
	vsi.RegisterCommands(commands, deps)

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		log.WithError(err).Fatal("jive5abd: listen failed")
	}
	log.WithField("addr", ln.Addr().String()).Info("jive5abd: VSI/S control port open")

	var metricsServer *telemetry.Server
	if *metricsAddr != "" {
		metrics := telemetry.NewMetrics()
		metricsServer = telemetry.NewServer(*metricsAddr, metrics, log)
		metricsServer.Serve()
		log.WithField("addr", *metricsAddr).Info("jive5abd: metrics endpoint open")
	}

	notifySystemd(log)
	stopWatchdog := startWatchdog(log)
	defer stopWatchdog()

	var wg sync.WaitGroup
	connClosed := make(chan struct{})
	go acceptLoop(ln, commands, log, &wg, connClosed)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("jive5abd: shutting down")
	ln.Close()
	<-connClosed
	wg.Wait()

	if metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(ctx); err != nil {
			log.WithError(err).Warn("jive5abd: metrics server shutdown")
		}
	}
	log.Info("jive5abd: stopped")
}

// acceptLoop accepts connections until ln is closed, running each on its
// own goroutine with its own Runtime. It signals connClosed once Accept
// starts failing (the expected outcome of ln.Close() during shutdown).
func acceptLoop(ln net.Listener, commands *vsi.CommandMap, log *logrus.Logger, wg *sync.WaitGroup, connClosed chan<- struct{}) {
	defer close(connClosed)
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveConn(conn, commands, log)
		}()
	}
}

// serveConn runs one client connection's VSI/S line loop until it closes
// or the connection's Runtime is torn down.
func serveConn(conn net.Conn, commands *vsi.CommandMap, log *logrus.Logger) {
	defer conn.Close()
	rte := runtime.New(log)
	defer rte.Close()

	d := vsi.NewDispatcher(commands, rte, log)
	entry := log.WithField("remote", conn.RemoteAddr().String())
	entry.Info("jive5abd: connection accepted")

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		for _, reply := range d.HandleLine(line) {
			if _, err := fmt.Fprintln(conn, reply.String()); err != nil {
				entry.WithError(err).Warn("jive5abd: write failed")
				return
			}
		}
	}
	entry.Info("jive5abd: connection closed")
}

// loadConfFile resolves confPath via go-homedir (so "~/.jive5abd.conf"
// finds the operator's config the way an interactive shell would) and
// parses it as simple "key=value" lines, one knob per line, '#'-prefixed
// lines ignored. A missing file is not an error: not every deployment
// carries one.
func loadConfFile(confPath string, log *logrus.Logger) (string, map[string]string) {
	resolved, err := homedir.Expand(confPath)
	if err != nil {
		log.WithError(err).Warn("jive5abd: could not expand config path")
		return confPath, nil
	}
	resolved = filepath.Clean(resolved)

	f, err := os.Open(resolved)
	if err != nil {
		return resolved, nil
	}
	defer f.Close()

	vals := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		vals[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	log.WithField("path", resolved).WithField("knobs", len(vals)).Info("jive5abd: config file loaded")
	return resolved, vals
}

// flagWasSet reports whether name was passed explicitly on the command
// line, so a config file value never overrides an operator's explicit
// flag.
func flagWasSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

// notifySystemd sends READY=1 once the control port is open, per
// sd_notify(3); a no-op (and silent) outside a systemd unit.
func notifySystemd(log *logrus.Logger) {
	ok, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		log.WithError(err).Warn("jive5abd: sd_notify READY failed")
	} else if ok {
		log.Info("jive5abd: notified systemd READY=1")
	}
}

// startWatchdog pings the systemd watchdog at half its configured
// interval, if WATCHDOG_USEC is set in the environment; returns a stop
// function that is always safe to call.
func startWatchdog(log *logrus.Logger) func() {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return func() {}
	}
	ticker := time.NewTicker(interval / 2)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
					log.WithError(err).Warn("jive5abd: sd_notify WATCHDOG failed")
				}
			case <-done:
				return
			}
		}
	}()
	return func() {
		ticker.Stop()
		close(done)
	}
}
