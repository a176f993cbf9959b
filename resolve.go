// Copyright © by Jeff Foley 2017-2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

// Package resolve is the DNS resolver embedded in the tunnel client. It sends
// A/AAAA queries for its callers over a single virtual UDP connection provided
// by the host and reports exactly one result per requested record type.
//
// A Resolver is not safe for concurrent use. Every method must be called from
// the goroutine running its Scheduler.
package resolve

import (
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/owasp-amass/tunresolve/types"
	"go.uber.org/zap"
)

const (
	// DefaultTimeout is the duration waited for outstanding queries before the connection is torn down.
	DefaultTimeout = 2 * time.Second
	// MaxParallelBackgroundResolves is the default cap on outstanding background transactions.
	MaxParallelBackgroundResolves = 5
	// DefaultAppName tags the resolver connection for the exclusion matcher and traffic accounting.
	DefaultAppName = "__vpn_dns_resolver__"

	maxIDAttempts = 8
)

var (
	// DefaultResolverAddr is the upstream resolver reached through the tunnel.
	DefaultResolverAddr = netip.MustParseAddrPort("94.140.14.140:53")
	// DefaultSourceAddr is the internal pseudo-address the resolver connects from.
	DefaultSourceAddr = netip.MustParseAddrPort("127.0.0.11:1")
)

// Config holds the settings consumed at construction.
type Config struct {
	Logger *zap.Logger
	// Timeout defaults to DefaultTimeout.
	Timeout time.Duration
	// BackgroundCapacity defaults to MaxParallelBackgroundResolves and must allow one query per record type.
	BackgroundCapacity int
	ResolverAddr       netip.AddrPort
	// SourceAddr provides the address and first port of the connection source.
	SourceAddr netip.AddrPort
	AppName    string
	// ConnIDs allocates connection IDs shared with the host. It must never return types.NoConn.
	ConnIDs       func() types.ConnID
	IPv6Available bool
}

func (c *Config) setDefaults() error {
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.BackgroundCapacity == 0 {
		c.BackgroundCapacity = MaxParallelBackgroundResolves
	}
	if !c.ResolverAddr.IsValid() {
		c.ResolverAddr = DefaultResolverAddr
	}
	if !c.SourceAddr.IsValid() {
		c.SourceAddr = DefaultSourceAddr
	}
	if c.AppName == "" {
		c.AppName = DefaultAppName
	}

	if c.Timeout < 0 {
		return fmt.Errorf("invalid timeout %v", c.Timeout)
	}
	if c.BackgroundCapacity < len(types.AllRecordTypes) {
		return fmt.Errorf("the background capacity must be at least %d", len(types.AllRecordTypes))
	}
	return nil
}

// Resolver is the embedded DNS resolution subsystem.
type Resolver struct {
	cfg         Config
	log         *zap.Logger
	host        types.Host
	codec       types.Codec
	sched       types.Scheduler
	queues      *queues
	xchgs       *xchgMgr
	state       connState
	accepting   connBatch
	closing     connBatch
	aborted     connBatch
	resolveTask *trigger
	acceptTask  *trigger
	closeTask   *trigger
	timeout     *governor
	metrics     *resolverMetrics
	connIDs     func() types.ConnID
	lastConn    types.ConnID
	nextID      types.ResolveID
	nextPort    uint16
	ipv6        bool
	draining    bool
}

// New returns a Resolver that talks to the host and runs its deferred work on sched.
func New(cfg Config, host types.Host, codec types.Codec, sched types.Scheduler) (*Resolver, error) {
	if host == nil || codec == nil || sched == nil {
		return nil, errors.New("the host, codec and scheduler are required")
	}
	if err := cfg.setDefaults(); err != nil {
		return nil, err
	}

	r := &Resolver{
		cfg:      cfg,
		log:      cfg.Logger.With(zap.String("component", "dns-resolver")),
		host:     host,
		codec:    codec,
		sched:    sched,
		queues:   newQueues(),
		xchgs:    newXchgMgr(),
		metrics:  newResolverMetrics(),
		connIDs:  cfg.ConnIDs,
		nextPort: cfg.SourceAddr.Port(),
		ipv6:     cfg.IPv6Available,
	}
	if r.nextPort == 0 {
		r.nextPort = 1
	}
	if r.connIDs == nil {
		r.connIDs = func() types.ConnID {
			r.lastConn++
			return r.lastConn
		}
	}

	r.resolveTask = newTrigger(sched, r.resolvePendingDomains)
	r.acceptTask = newTrigger(sched, r.drainAccepting)
	r.closeTask = newTrigger(sched, r.drainClosing)
	r.timeout = &governor{
		sched:   sched,
		timeout: cfg.Timeout,
		expired: r.onTimeout,
	}
	return r, nil
}

// SetIPv6Availability controls whether future AAAA queries are put on the wire.
func (r *Resolver) SetIPv6Availability(available bool) {
	r.ipv6 = available
}

// Resolve queues a request for the record types of name. The handler receives
// one result per record type unless the request is cancelled first.
func (r *Resolver) Resolve(kind types.QueueKind, name string, rtypes types.RecordTypeSet, handler types.ResultHandler) types.ResolveID {
	if kind != types.Background {
		kind = types.Foreground
	}

	r.nextID++
	id := r.nextID
	r.log.Debug("resolve", zap.Uint64("id", uint64(id)), zap.String("name", name), zap.Stringer("queue", kind))

	r.queues.enqueue(&pending{
		id:      id,
		kind:    kind,
		name:    name,
		types:   rtypes,
		handler: handler,
	})
	r.resolveTask.fire()
	return id
}

// Cancel forgets the request without delivering any result for it.
func (r *Resolver) Cancel(id types.ResolveID) {
	if !r.queues.remove(id) {
		r.xchgs.removeResolve(id)
	}
	r.disarmIfIdle()
}

// StopResolvingQueues fails and clears the queued and in-flight requests of the queue kinds.
func (r *Resolver) StopResolvingQueues(kinds types.QueueKindSet) {
	for _, kind := range types.QueueKinds {
		if !kinds.Has(kind) {
			continue
		}
		for _, p := range r.queues.take(kind) {
			r.failPending(p, types.ErrStopped)
		}
	}

	for _, x := range r.xchgs.removeKinds(kinds) {
		r.raise(x.handler, x.resolveID, types.Result{RecordType: x.rtype, Err: types.ErrStopped})
	}
	r.disarmIfIdle()
}

// StopResolving fails everything, closes the connection and resets all state.
func (r *Resolver) StopResolving() {
	r.StopResolvingQueues(types.AllQueues)
	if r.state.id != types.NoConn {
		r.closeConnection(r.state.id, false, false)
	}
	// handlers may have queued new requests while failing the old ones
	for !r.queues.empty() {
		for _, p := range r.queues.takeAll() {
			r.failPending(p, types.ErrStopped)
		}
	}
	r.deinit()
}

func (r *Resolver) deinit() {
	r.queues.reset()
	r.xchgs = newXchgMgr()
	r.state = connState{}
	r.accepting = nil
	r.closing = nil
	r.aborted = nil
	r.acceptTask.reset()
	r.closeTask.reset()
	r.resolveTask.reset()
	r.timeout.disarm()
	r.draining = false
}

// Outstanding returns the number of queued requests and in-flight transactions of the queue kind.
func (r *Resolver) Outstanding(kind types.QueueKind) (queued, inflight int) {
	return r.queues.len(kind), r.xchgs.count(kind)
}

// Connection returns the current connection ID and whether the host confirmed it.
func (r *Resolver) Connection() (types.ConnID, bool) {
	return r.state.id, r.state.open
}

// OnWireData takes inbound bytes from the host and returns the number of bytes consumed.
func (r *Resolver) OnWireData(id types.ConnID, data []byte) (int, error) {
	p, err := r.codec.Decode(data)
	if err != nil {
		r.log.Debug("failed to parse the reply", zap.Uint64("conn", uint64(id)), zap.Error(err))
		if !errors.Is(err, types.ErrMalformed) {
			err = fmt.Errorf("%w: %v", types.ErrMalformed, err)
		}
		return 0, err
	}

	if id == types.NoConn || id != r.state.id {
		r.log.Warn("data arrived on the wrong connection",
			zap.Uint64("conn", uint64(id)),
			zap.Uint64("expected", uint64(r.state.id)),
		)
		r.metrics.violations.Inc()
		return 0, types.ErrWrongConnection
	}

	switch p.Kind {
	case types.PacketAdvisory:
		r.log.Debug("the packet holds an inapplicable message", zap.Uint16("msg_id", p.ID))
	case types.PacketRequest:
		r.log.Debug("the packet holds a DNS request", zap.Uint16("msg_id", p.ID))
	case types.PacketReply:
		r.correlate(p)
	}

	r.resolvePendingDomains()
	return len(data), nil
}

func (r *Resolver) correlate(p types.Packet) {
	x := r.xchgs.remove(p.ID)
	if x == nil {
		r.log.Debug("ignoring an unsolicited reply", zap.Uint16("msg_id", p.ID))
		r.metrics.unsolicited.Inc()
		return
	}

	res := types.Result{RecordType: x.rtype}
	if len(p.Addrs) > 0 {
		res.Addr = p.Addrs[0]
	} else {
		r.log.Debug("the resolved address list is empty", zap.Uint16("msg_id", p.ID), zap.Stringer("type", x.rtype))
		res.Err = types.ErrEmptyAnswer
	}
	r.raise(x.handler, x.resolveID, res)
}

func (r *Resolver) resolvePendingDomains() {
	if r.draining {
		// a handler or a synchronous host reentered the drain
		r.resolveTask.fire()
		return
	}
	if r.queues.empty() && r.xchgs.len() == 0 {
		r.timeout.disarm()
		return
	}

	r.timeout.arm()
	switch r.state.phase() {
	case phaseClosed:
		r.ensureOpen()
		return
	case phaseConnecting:
		return
	}

	r.draining = true
	defer func() { r.draining = false }()

	for _, kind := range types.QueueKinds {
		r.resolveQueue(kind)
	}
}

func (r *Resolver) capacity(kind types.QueueKind) int {
	if kind == types.Background {
		return r.cfg.BackgroundCapacity
	}
	return int(^uint(0) >> 1)
}

func (r *Resolver) resolveQueue(kind types.QueueKind) {
	limit := r.capacity(kind)

	for r.state.open {
		p, found := r.queues.peek(kind)
		if !found {
			return
		}
		if need := r.wireCount(p.types); need > 0 && r.xchgs.count(kind)+need > limit {
			return
		}

		_, _ = r.queues.drainOne(kind)
		r.submit(p)
	}
}

// wireCount returns the number of transactions the record types would put on the wire.
func (r *Resolver) wireCount(rtypes types.RecordTypeSet) int {
	var n int
	for _, rt := range rtypes.Types() {
		if rt != types.RecordTypeAAAA || r.ipv6 {
			n++
		}
	}
	return n
}

func (r *Resolver) submit(p *pending) {
	var failures []types.Result

	for _, rt := range p.types.Types() {
		var err error

		switch {
		case !r.state.open:
			err = types.ErrClosed
		case rt == types.RecordTypeAAAA && !r.ipv6:
			err = types.ErrIPv6Unavailable
		default:
			err = r.sendQuery(p, rt)
		}
		if err != nil {
			failures = append(failures, types.Result{RecordType: rt, Err: err})
		}
	}

	for _, res := range failures {
		r.raise(p.handler, p.id, res)
	}
}

func (r *Resolver) sendQuery(p *pending, rt types.RecordType) error {
	qid, data, err := r.encode(p.name, rt)
	if err != nil {
		r.log.Debug("failed to encode the packet", zap.String("name", p.name), zap.Error(err))
		return err
	}

	if err := r.xchgs.add(qid, &xchg{
		resolveID: p.id,
		rtype:     rt,
		handler:   p.handler,
		kind:      p.kind,
	}); err != nil {
		return fmt.Errorf("%w: %v", types.ErrEncode, err)
	}

	conn := r.state.id
	if n := r.host.RequestWrite(conn, data); n != len(data) {
		r.log.Debug("failed to send the request",
			zap.Uint64("conn", uint64(conn)),
			zap.Int("written", n),
			zap.Int("length", len(data)),
		)
		// a reply delivered during the write already settled the transaction
		if r.xchgs.remove(qid) == nil {
			return nil
		}
		return types.ErrWriteRejected
	}
	return nil
}

// encode returns a query whose message ID is not used by an outstanding transaction.
func (r *Resolver) encode(name string, rt types.RecordType) (uint16, []byte, error) {
	for i := 0; i < maxIDAttempts; i++ {
		qid, data, err := r.codec.EncodeQuery(rt, name)
		if err != nil {
			if !errors.Is(err, types.ErrEncode) {
				err = fmt.Errorf("%w: %v", types.ErrEncode, err)
			}
			return 0, nil, err
		}
		if !r.xchgs.has(qid) {
			return qid, data, nil
		}
	}
	return 0, nil, fmt.Errorf("%w: no free message ID for %s", types.ErrEncode, name)
}

func (r *Resolver) disarmIfIdle() {
	if r.queues.empty() && r.xchgs.len() == 0 {
		r.timeout.disarm()
	}
}

func (r *Resolver) failPending(p *pending, reason error) {
	for _, rt := range p.types.Types() {
		r.raise(p.handler, p.id, types.Result{RecordType: rt, Err: reason})
	}
}

func (r *Resolver) raise(h types.ResultHandler, id types.ResolveID, res types.Result) {
	if res.Success() {
		r.metrics.success.Inc()
	} else {
		r.metrics.failure.Inc()
	}

	if h != nil {
		h(id, res)
	}
}
