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
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"jive5ab/pkg/block"
	"jive5ab/pkg/chain"
	"jive5ab/pkg/constraint"
	"jive5ab/pkg/mountpoints"
	"jive5ab/pkg/netparms"
	"jive5ab/pkg/psn"
	"jive5ab/pkg/queue"
	"jive5ab/pkg/runtime"
	"jive5ab/pkg/stripedcounter"
	"jive5ab/pkg/transport/file"
	"jive5ab/pkg/transport/tcp"
	"jive5ab/pkg/transport/udp"
	"jive5ab/pkg/transport/udps"
	"jive5ab/pkg/transport/udt"
	"jive5ab/pkg/transport/unixsock"
	"jive5ab/pkg/transport/vbs"
)

// Deps collects the process-wide resources representative command
// functions close over: the discovered FlexBuff/Mark6 mountpoints, the
// per-sender PSN accounting table shared by every udps transfer, and the
// background trackmask-solution cache keyed per connection Runtime.
type Deps struct {
	Mountpoints *mountpoints.Info
	PSNTable    *psn.Table
	Log         *logrus.Logger

	trackmasks *runtime.Cache[*trackmaskJob]
}

// NewDeps builds the shared dependencies representative commands need.
func NewDeps(mp *mountpoints.Info, log *logrus.Logger) *Deps {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Deps{
		Mountpoints: mp,
		PSNTable:    psn.NewTable(stripedcounter.New(8)),
		Log:         log,
		trackmasks:  runtime.NewCache[*trackmaskJob](),
	}
}

// RegisterCommands installs the representative command set spec.md's
// supplemented-features section names onto m: the ones whose gating and
// reply shape exercise the dispatcher/runtime end-to-end without
// touching hardware registers, BCD/hex utilities, or the channel
// extraction internals this module explicitly leaves out.
func RegisterCommands(m *CommandMap, deps *Deps) {
	idle := func(mode runtime.TransferMode) bool { return mode == runtime.NoTransfer }

	m.Register("net_protocol", deps.netProtocol, nil)
	m.Register("net_port", deps.netPort, nil)
	m.Register("mtu", deps.mtu, nil)
	m.Register("ackperiod", deps.ackperiod, nil)
	m.Register("interpacketdelay", deps.interpacketdelay, nil)
	m.Register("mount", deps.mount, nil)
	m.Register("datastream", deps.datastream, nil)
	m.Register("trackmask", deps.trackmask, nil)
	m.Register("status", deps.status, nil)
	m.Register("error", deps.errorQuery, nil)
	m.Register("evlbi", deps.evlbi, nil)
	m.Register("diagnostics", deps.diagnostics, nil)

	m.Register("net2disk", deps.net2disk, idle)
	m.Register("disk2net", deps.disk2net, idle)
	m.Register("net2file", deps.net2file, idle)
	m.Register("file2disk", deps.file2disk, idle)
	m.Register("in2net", deps.in2net, idle)

	m.Register("reset", deps.reset, nil)
}

func requireArg(req Request) (string, error) {
	if len(req.Args) == 0 || req.Args[0] == "" {
		return "", fmt.Errorf("command must have an argument")
	}
	return req.Args[0], nil
}

// actionFailed records err in rte's error queue (spec.md §4.10, S6) and
// returns the CodeActionFailed reply callers were already producing, so
// status?/error? reflect failed transfer setups like a closed listen
// port.
func (d *Deps) actionFailed(rte *runtime.Runtime, keyword string, err error) Reply {
	rte.Errors.Push(int(CodeActionFailed), err.Error())
	return Err(keyword, false, CodeActionFailed, err.Error())
}

// --- net_protocol=/? ---

func (d *Deps) netProtocol(req Request, rte *runtime.Runtime) Reply {
	if req.IsQuery {
		return OK(req.Keyword, true, string(rte.NetParms.Protocol))
	}
	arg, err := requireArg(req)
	if err != nil {
		return Err(req.Keyword, false, CodeParameterError, err.Error())
	}
	if err := rte.NetParms.SetProtocol(arg); err != nil {
		return Err(req.Keyword, false, CodeParameterError, err.Error())
	}
	return OK(req.Keyword, false)
}

// --- net_port=/? --- (S5's grammar: a bare port as the base entry,
// additional host@port=suffix entries)

func (d *Deps) netPort(req Request, rte *runtime.Runtime) Reply {
	if req.IsQuery {
		return OK(req.Keyword, true, rte.NetParms.String())
	}
	if len(req.Args) == 0 {
		if err := rte.NetParms.SetPort(0); err != nil {
			return Err(req.Keyword, false, CodeParameterError, err.Error())
		}
		return OK(req.Keyword, false)
	}
	var eps []netparms.HPS
	for _, a := range req.Args {
		hps, err := parseHPS(a)
		if err != nil {
			return Err(req.Keyword, false, CodeParameterError, err.Error())
		}
		eps = append(eps, hps)
	}
	rte.NetParms.Endpoints = eps
	return OK(req.Keyword, false)
}

func parseHPS(s string) (netparms.HPS, error) {
	suffix := ""
	if i := strings.Index(s, "="); i >= 0 {
		suffix = s[i+1:]
		s = s[:i]
	}

	// A bare number, with no "@host" prefix, is S5's base entry: a port
	// with no host restriction (the receiver listens on any interface).
	if port, err := strconv.Atoi(s); err == nil {
		return netparms.HPS{Port: port, Suffix: suffix}, nil
	}

	host := s
	port := netparms.DefaultPort
	if i := strings.LastIndex(s, "@"); i >= 0 {
		host = s[:i]
		p, err := strconv.Atoi(s[i+1:])
		if err != nil {
			return netparms.HPS{}, fmt.Errorf("net_port: bad port in %q", s)
		}
		port = p
	}
	return netparms.HPS{Host: host, Port: port, Suffix: suffix}, nil
}

// --- mtu=/? ---

func (d *Deps) mtu(req Request, rte *runtime.Runtime) Reply {
	if req.IsQuery {
		return OK(req.Keyword, true, strconv.Itoa(rte.NetParms.MTU))
	}
	arg, err := requireArg(req)
	if err != nil {
		return Err(req.Keyword, false, CodeParameterError, err.Error())
	}
	mtu, err := strconv.Atoi(arg)
	if err != nil {
		return Err(req.Keyword, false, CodeParameterError, "mtu must be a number")
	}
	if err := rte.NetParms.SetMTU(mtu); err != nil {
		return Err(req.Keyword, false, CodeParameterError, err.Error())
	}
	return OK(req.Keyword, false)
}

// --- ackperiod=/? --- grounded on original_source/src/mk5command/ackperiod.cc:
// query is always legal, set requires an argument, any integer accepted.

func (d *Deps) ackperiod(req Request, rte *runtime.Runtime) Reply {
	if req.IsQuery {
		return OK(req.Keyword, true, strconv.Itoa(rte.NetParms.AckPeriod))
	}
	arg, err := requireArg(req)
	if err != nil {
		return Err(req.Keyword, false, CodeParameterError, err.Error())
	}
	ack, err := strconv.Atoi(arg)
	if err != nil {
		return Err(req.Keyword, false, CodeParameterError, "ackperiod must be a number")
	}
	if err := rte.NetParms.SetAckPeriod(ack); err != nil {
		return Err(req.Keyword, false, CodeParameterError, err.Error())
	}
	return OK(req.Keyword, false)
}

// --- interpacketdelay= --- grounded on
// original_source/{src,evlbi5a}/mk5command/interpacketdelay.cc: nanosecond
// delay between consecutive packets on the sending side; negative means
// "as fast as possible" in the original, here simply stored verbatim.

func (d *Deps) interpacketdelay(req Request, rte *runtime.Runtime) Reply {
	if req.IsQuery {
		return OK(req.Keyword, true, strconv.Itoa(rte.NetParms.InterPacketDelay))
	}
	arg, err := requireArg(req)
	if err != nil {
		return Err(req.Keyword, false, CodeParameterError, err.Error())
	}
	ipd, err := strconv.Atoi(arg)
	if err != nil {
		return Err(req.Keyword, false, CodeParameterError, "interpacketdelay must be a number")
	}
	rte.NetParms.SetInterPacketDelay(ipd)
	return OK(req.Keyword, false)
}

// --- mount=/? --- grounded on original_source/src/mk5command/mount.cc:
// mount?  lists the discovered FlexBuff mountpoints; mount= is a no-op
// acknowledgement since mount discovery here is continuous (fsnotify),
// not commanded.

func (d *Deps) mount(req Request, rte *runtime.Runtime) Reply {
	if req.IsQuery {
		return OK(req.Keyword, true, strings.Join(d.Mountpoints.Mountpoints(), " : "))
	}
	return OK(req.Keyword, false)
}

// --- datastream= --- grounded on
// original_source/src/mk5command/datastream.cc: names a pattern-list
// alias used to select which mountpoints a subsequent disk transfer
// scatters/gathers across.

func (d *Deps) datastream(req Request, rte *runtime.Runtime) Reply {
	if len(req.Args) < 1 {
		return Err(req.Keyword, req.IsQuery, CodeParameterError, "datastream requires a name")
	}
	name := req.Args[0]
	if req.IsQuery {
		patterns, ok := d.Mountpoints.Datastream(name)
		if !ok {
			return Err(req.Keyword, true, CodeParameterError, "unknown datastream "+name)
		}
		return OK(req.Keyword, true, strings.Join(patterns, " : "))
	}
	patterns, err := mountpoints.ResolvePatterns(req.Args[1:], nil)
	if err != nil {
		return Err(req.Keyword, false, CodeParameterError, err.Error())
	}
	d.Mountpoints.SetDatastream(name, patterns)
	return OK(req.Keyword, false)
}

// --- trackmask=/? --- the S4 scenario: a background "compile the
// channel-dropping solution" job tracked per connection via
// pkg/runtime.Cache, grounded on
// original_source/evlbi5a/mk5command/trackmask.cc's computefun/per_runtime
// pattern. There is no stream of blocks to move, only one scalar
// solution to compute, so the job runs as a one-step pkg/chain pipeline
// whose producer computes the solution and pushes nothing.
type trackmaskJob struct {
	id     uuid.UUID
	mask   uint64
	done   chan struct{}
	result uint64
}

func (d *Deps) trackmask(req Request, rte *runtime.Runtime) Reply {
	const key = "trackmask"
	if req.IsQuery {
		job, ok := d.trackmasks.Get(rte, key)
		if !ok {
			return Err(req.Keyword, true, CodeParameterError, "no trackmask set")
		}
		select {
		case <-job.done:
			return OK(req.Keyword, true, "0", fmt.Sprintf("0x%x", job.result), "0")
		default:
			return Reply{Keyword: req.Keyword, IsQuery: true, Code: CodeInitiated, Fields: []string{"still computing"}}
		}
	}

	arg, err := requireArg(req)
	if err != nil {
		return Err(req.Keyword, false, CodeParameterError, err.Error())
	}
	mask, err := strconv.ParseUint(strings.TrimPrefix(arg, "0x"), 16, 64)
	if err != nil {
		mask, err = strconv.ParseUint(arg, 0, 64)
		if err != nil {
			return Err(req.Keyword, false, CodeParameterError, "trackmask must be a number")
		}
	}

	job := &trackmaskJob{id: uuid.New(), mask: mask, done: make(chan struct{})}
	d.trackmasks.Set(rte, key, job)
	c := chain.New(d.Log)
	c.AddProducer(func(_ *queue.Queue[block.Block], _ *chain.Sync) error {
		// The actual "compile a bit-extraction solution for this mask"
		// computation is the explicitly out-of-scope JIT channel-extractor
		// compiler; this stands in for it with the one property callers
		// observe: it finishes asynchronously and trackmask? reflects that.
		time.Sleep(5 * time.Millisecond)
		job.result = mask
		close(job.done)
		return nil
	}, 1, nil)
	c.Run()
	return OK(req.Keyword, false)
}

// --- status? --- delegates to StatusReport, populated from the
// runtime's current mode/submode.

func (d *Deps) status(req Request, rte *runtime.Runtime) Reply {
	report := NewStatusReport(rte, 0)
	return report.Reply()
}

// --- error? --- grounded on original_source/src/errorqueue.h /
// evlbi5a/errorqueue.cc: pops the oldest pending error, if any.

func (d *Deps) errorQuery(req Request, rte *runtime.Runtime) Reply {
	e, ok := rte.Errors.Pop()
	if !ok {
		return OK(req.Keyword, true, "0", "no error")
	}
	return OK(req.Keyword, true, strconv.Itoa(e.Number), e.Message)
}

// --- evlbi=/? --- minimal eVLBI statistics surface keyed by tag
// (spec.md §3's runtime field); here it surfaces udps PSN accounting
// per sender since that is the only live eVLBI-relevant counter this
// module actually maintains.

func (d *Deps) evlbi(req Request, rte *runtime.Runtime) Reply {
	if !req.IsQuery {
		return OK(req.Keyword, false)
	}
	senders := d.PSNTable.Senders()
	fields := make([]string, 0, len(senders))
	for _, s := range senders {
		fields = append(fields, fmt.Sprintf("%s:%d:%d", s.Sender.String(), s.PacketCount, s.LossCount))
	}
	if len(fields) == 0 {
		fields = []string{"no senders"}
	}
	return OK(req.Keyword, true, fields...)
}

// --- diagnostics? --- reports the startup knobs cmd/jive5abd recorded
// in runtime.Diag(), the way status? reports a connection's live
// mode/submode; this reports the whole process's configuration instead.

func (d *Deps) diagnostics(req Request, rte *runtime.Runtime) Reply {
	lines := runtime.Diag().Snapshot()
	if len(lines) == 0 {
		return OK(req.Keyword, true, "no diagnostics recorded")
	}
	return OK(req.Keyword, true, lines...)
}

// --- reset=abort --- tears down whatever chain is installed, returning
// the runtime to no_transfer.

func (d *Deps) reset(req Request, rte *runtime.Runtime) Reply {
	arg, _ := requireArg(req)
	if arg != "" && arg != "abort" {
		return Err(req.Keyword, false, CodeParameterError, "reset only supports 'abort'")
	}
	rte.StopTransfer(false)
	return OK(req.Keyword, false)
}

// acceptThenRead builds a producer that accepts exactly one connection on
// ln and then behaves like tcp.Reader against it, closing ln once the
// connection is in hand (spec.md §4.5's reader steps are one-shot: one
// transfer, one accepted connection).
func acceptThenRead(ln net.Listener, np *netparms.NetParms, pool *block.Pool, readSize, writeSize int) chain.ProducerFunc {
	return func(outQ *queue.Queue[block.Block], s *chain.Sync) error {
		conn, err := tcp.Accept(ln, np)
		ln.Close()
		if err != nil {
			return err
		}
		defer conn.Close()
		return tcp.Reader(conn, pool, readSize, writeSize)(outQ, s)
	}
}

// acceptThenReadUnix is acceptThenRead's UNIX-domain-socket counterpart.
func acceptThenReadUnix(ln net.Listener, np *netparms.NetParms, pool *block.Pool, readSize, writeSize int) chain.ProducerFunc {
	return func(outQ *queue.Queue[block.Block], s *chain.Sync) error {
		conn, err := unixsock.Accept(ln, np)
		ln.Close()
		if err != nil {
			return err
		}
		defer conn.Close()
		return unixsock.Reader(conn, pool, readSize, writeSize)(outQ, s)
	}
}

// solveSizes runs the §4.4 constraint solver against rte's netparms so a
// transfer's read/write/block sizes -- and a udps transfer's datagram
// payload -- come from the solver rather than the raw configured
// blocksize. Representative commands have no data format registered, so
// HeaderSearch is the zero value and variable block size is allowed
// (spec.md §4.4's relaxed mode); an ambiguous combination still fails per
// the §9 open-question decision (no_solution, never a guess).
func solveSizes(np *netparms.NetParms) (constraint.Sizes, error) {
	return constraint.Solve(np, constraint.HeaderSearch{}, constraint.Compression{}, true)
}

// buildNetReader dispatches net2disk=/net2file='s network-receive side on
// rte.NetParms.Protocol (spec.md §4.5/§4.6): tcp/rtcp/unix accept exactly
// one connection and behave like a byte-stream reader; udp is one block
// per raw datagram with no accounting; udps/pudp/udt run the sequenced
// reader sub-chain (reordering window, per-sender PSN accounting shared
// via d.PSNTable, ACK-back cadence from rte.NetParms.AckPeriod). It
// returns the producer plus a cleanup to run if the chain is torn down
// before the producer itself gets to close its listener/socket.
func (d *Deps) buildNetReader(rte *runtime.Runtime, hps netparms.HPS, sizes constraint.Sizes) (chain.ProducerFunc, func(), error) {
	np := rte.NetParms
	switch np.Protocol {
	case netparms.ProtoUnix:
		ln, err := unixsock.Listen(hps.Host)
		if err != nil {
			return nil, nil, err
		}
		pool := block.NewPool(sizes.WriteSize, np.NBlock, d.Log)
		return acceptThenReadUnix(ln, np, pool, sizes.ReadSize, sizes.WriteSize), func() { ln.Close() }, nil

	case netparms.ProtoUDP:
		conn, err := udp.ListenUDP(fmt.Sprintf(":%d", hps.Port), np)
		if err != nil {
			return nil, nil, err
		}
		pool := block.NewPool(sizes.ReadSize, np.NBlock, d.Log)
		return udp.Reader(conn, pool, sizes.ReadSize), func() { conn.Close() }, nil

	case netparms.ProtoUDPS, netparms.ProtoPUDP, netparms.ProtoUDT:
		conn, err := udp.ListenUDP(fmt.Sprintf(":%d", hps.Port), np)
		if err != nil {
			return nil, nil, err
		}
		pool := block.NewPool(udps.SeqnrLen+sizes.ReadSize, np.NBlock, d.Log)
		cfg := udps.Config{
			Conn:      conn,
			Pool:      pool,
			ReadSize:  sizes.ReadSize,
			WriteSize: sizes.WriteSize,
			AckPeriod: func() int { return np.AckPeriod },
			Table:     d.PSNTable,
			Log:       d.Log,
		}
		return udps.Build(cfg), func() { conn.Close() }, nil

	default: // tcp, rtcp
		ln, err := tcp.Listen(fmt.Sprintf(":%d", hps.Port), np)
		if err != nil {
			return nil, nil, err
		}
		pool := block.NewPool(sizes.WriteSize, np.NBlock, d.Log)
		return acceptThenRead(ln, np, pool, sizes.ReadSize, sizes.WriteSize), func() { ln.Close() }, nil
	}
}

// buildNetWriter dispatches disk2net='s network-send side on
// rte.NetParms.Protocol, mirroring buildNetReader: tcp/rtcp/unix dial a
// stream connection; udp sends one datagram per block with no sequencing;
// udps/pudp/udt send sequence-numbered datagrams and adapt their pacing
// from the receiver's rotating ACK-back tokens (pkg/transport/udt's
// CongestionController, grounded on udps's wire framing per
// pkg/transport/udt's package doc).
func (d *Deps) buildNetWriter(rte *runtime.Runtime, hps netparms.HPS) (chain.ConsumerFunc, func(), error) {
	np := rte.NetParms
	switch np.Protocol {
	case netparms.ProtoUnix:
		conn, err := unixsock.Dial(hps.Host, np)
		if err != nil {
			return nil, nil, err
		}
		return unixsock.Writer(conn), func() { conn.Close() }, nil

	case netparms.ProtoUDP:
		conn, err := udp.DialUDP(fmt.Sprintf("%s:%d", hps.Host, hps.Port), np)
		if err != nil {
			return nil, nil, err
		}
		return udp.Writer(conn, conn.RemoteAddr().(*net.UDPAddr)), func() { conn.Close() }, nil

	case netparms.ProtoUDPS, netparms.ProtoPUDP, netparms.ProtoUDT:
		raddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", hps.Host, hps.Port))
		if err != nil {
			return nil, nil, err
		}
		conn, err := udp.ListenUDP(":0", np)
		if err != nil {
			return nil, nil, err
		}
		ipd := time.Duration(np.InterPacketDelay) * time.Nanosecond
		cc := udt.NewCongestionController(ipd, 10*time.Microsecond, 20*time.Millisecond)
		return udt.Writer(conn, raddr, cc), func() { conn.Close() }, nil

	default: // tcp, rtcp
		conn, err := tcp.Dial(fmt.Sprintf("%s:%d", hps.Host, hps.Port), np)
		if err != nil {
			return nil, nil, err
		}
		return tcp.Writer(conn), func() { conn.Close() }, nil
	}
}

func openForWrite(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
}

func openForRead(path string) (*os.File, error) {
	return os.Open(path)
}

func fileWriter(f *os.File) chain.ConsumerFunc {
	return file.Writer(f)
}

func fileReader(f *os.File, pool *block.Pool, readSize int) chain.ProducerFunc {
	return file.Reader(f, pool, readSize)
}

// --- net2disk= --- listens on the configured endpoint and writes the
// received stream into a FlexBuff recording named by the first argument,
// dispatching the network side on rte.NetParms.Protocol (buildNetReader)
// and sizing it from the §4.4 constraint solver.

func (d *Deps) net2disk(req Request, rte *runtime.Runtime) Reply {
	recording, err := requireArg(req)
	if err != nil {
		return Err(req.Keyword, false, CodeParameterError, err.Error())
	}
	hps, ok := rte.NetParms.Rotate()
	if !ok {
		return Err(req.Keyword, false, CodeParameterError, "net_port must be set before net2disk=")
	}
	sizes, err := solveSizes(rte.NetParms)
	if err != nil {
		return d.actionFailed(rte, req.Keyword, err)
	}
	producer, cleanup, err := d.buildNetReader(rte, hps, sizes)
	if err != nil {
		return d.actionFailed(rte, req.Keyword, err)
	}

	c := chain.New(d.Log)
	c.RegisterFinal(cleanup)
	c.AddProducer(producer, rte.NetParms.NBlock, nil)
	c.AddConsumer(vbs.Writer(d.Mountpoints, recording), nil)
	c.Run()

	rte.StartTransfer(runtime.Net2Disk, c)
	return OK(req.Keyword, false)
}

// --- disk2net= --- reads a FlexBuff recording and streams it to the
// configured endpoint, dispatching the network side on
// rte.NetParms.Protocol (buildNetWriter) and sizing it from the solver.

func (d *Deps) disk2net(req Request, rte *runtime.Runtime) Reply {
	recording, err := requireArg(req)
	if err != nil {
		return Err(req.Keyword, false, CodeParameterError, err.Error())
	}
	hps, ok := rte.NetParms.Rotate()
	if !ok {
		return Err(req.Keyword, false, CodeParameterError, "net_port must be set before disk2net=")
	}
	sizes, err := solveSizes(rte.NetParms)
	if err != nil {
		return d.actionFailed(rte, req.Keyword, err)
	}
	consumer, cleanup, err := d.buildNetWriter(rte, hps)
	if err != nil {
		return d.actionFailed(rte, req.Keyword, err)
	}

	pool := block.NewPool(sizes.ReadSize, rte.NetParms.NBlock, d.Log)
	c := chain.New(d.Log)
	c.AddProducer(vbs.Reader(d.Mountpoints, recording, pool, sizes.ReadSize), rte.NetParms.NBlock, nil)
	c.AddConsumer(consumer, nil)
	c.RegisterFinal(cleanup)
	c.Run()

	rte.StartTransfer(runtime.Disk2Net, c)
	return OK(req.Keyword, false)
}

// --- net2file= --- listens and writes the received stream into a plain
// file at the path given as the second argument, dispatching the network
// side on rte.NetParms.Protocol (buildNetReader).

func (d *Deps) net2file(req Request, rte *runtime.Runtime) Reply {
	if len(req.Args) < 2 {
		return Err(req.Keyword, false, CodeParameterError, "net2file requires host:port and a file path")
	}
	path := req.Args[1]
	hps, ok := rte.NetParms.Rotate()
	if !ok {
		return Err(req.Keyword, false, CodeParameterError, "net_port must be set before net2file=")
	}
	sizes, err := solveSizes(rte.NetParms)
	if err != nil {
		return d.actionFailed(rte, req.Keyword, err)
	}
	producer, netCleanup, err := d.buildNetReader(rte, hps, sizes)
	if err != nil {
		return d.actionFailed(rte, req.Keyword, err)
	}
	f, err := openForWrite(path)
	if err != nil {
		netCleanup()
		return d.actionFailed(rte, req.Keyword, err)
	}

	c := chain.New(d.Log)
	c.RegisterFinal(func() { netCleanup(); f.Close() })
	c.AddProducer(producer, rte.NetParms.NBlock, nil)
	c.AddConsumer(fileWriter(f), nil)
	c.Run()

	rte.StartTransfer(runtime.Net2File, c)
	return OK(req.Keyword, false)
}

// --- file2disk= --- reads a plain file given as the first argument and
// scatters it into a FlexBuff recording named by the second.

func (d *Deps) file2disk(req Request, rte *runtime.Runtime) Reply {
	if len(req.Args) < 2 {
		return Err(req.Keyword, false, CodeParameterError, "file2disk requires a source path and a recording name")
	}
	path, recording := req.Args[0], req.Args[1]
	f, err := openForRead(path)
	if err != nil {
		return d.actionFailed(rte, req.Keyword, err)
	}

	pool := block.NewPool(rte.NetParms.BlockSize, rte.NetParms.NBlock, d.Log)
	c := chain.New(d.Log)
	c.RegisterFinal(func() { f.Close() })
	c.AddProducer(fileReader(f, pool, rte.NetParms.BlockSize), rte.NetParms.NBlock, nil)
	c.AddConsumer(vbs.Writer(d.Mountpoints, recording), nil)
	c.Run()

	rte.StartTransfer(runtime.File2Disk, c)
	return OK(req.Keyword, false)
}

// --- in2net=connect --- spec.md's representative "ioboard source"
// transfer; since the ioboard hardware binding is explicitly out of
// scope, connect puts the runtime into in2net/CONNECTED submode without
// installing a chain, which is enough to exercise the dispatcher/runtime
// gating path the way the original's "connect" sub-verb does before a
// separate "on" sub-verb actually starts data flowing.

func (d *Deps) in2net(req Request, rte *runtime.Runtime) Reply {
	arg, err := requireArg(req)
	if err != nil {
		return Err(req.Keyword, false, CodeParameterError, err.Error())
	}
	if arg != "connect" {
		return Err(req.Keyword, false, CodeParameterError, "in2net only supports 'connect'")
	}
	rte.StartTransfer(runtime.In2Net, nil)
	rte.UpdateSubmode(func(s *runtime.TransferSubmode) { s.Set(runtime.ConnectedFlag) })
	return OK(req.Keyword, false)
}
