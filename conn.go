// Copyright © by Jeff Foley 2022-2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package resolve

import (
	"net/netip"

	"github.com/owasp-amass/tunresolve/types"
	"go.uber.org/zap"
)

// MaxDatagramSize is the flow control window reported for the resolver connection.
const MaxDatagramSize = 65535

type connPhase uint8

const (
	phaseClosed connPhase = iota
	phaseConnecting
	phaseOpen
)

func (p connPhase) String() string {
	switch p {
	case phaseConnecting:
		return "connecting"
	case phaseOpen:
		return "open"
	}
	return "closed"
}

// connState tracks the one virtual connection to the upstream resolver.
type connState struct {
	id   types.ConnID
	open bool
}

func (s connState) phase() connPhase {
	switch {
	case s.id == types.NoConn:
		return phaseClosed
	case !s.open:
		return phaseConnecting
	}
	return phaseOpen
}

// ensureOpen asks the host for a connection unless one is already requested or open.
func (r *Resolver) ensureOpen() {
	if r.state.phase() != phaseClosed {
		return
	}

	id := r.connIDs()
	if id == types.NoConn {
		r.log.Error("the connection ID generator returned the reserved ID")
		return
	}
	r.state = connState{id: id}

	req := types.ConnectRequest{
		ID:       id,
		Protocol: types.ProtocolUDP,
		Source:   r.sourceAddr(),
		Dest:     r.cfg.ResolverAddr,
		AppName:  r.cfg.AppName,
	}
	r.log.Debug("requesting the resolver connection",
		zap.Uint64("conn", uint64(id)),
		zap.Stringer("src", req.Source),
		zap.Stringer("dst", req.Dest),
	)
	r.host.RequestConnect(req)
}

func (r *Resolver) sourceAddr() netip.AddrPort {
	port := r.nextPort
	if r.nextPort++; r.nextPort == 0 {
		r.nextPort = 1
	}
	return netip.AddrPortFrom(r.cfg.SourceAddr.Addr(), port)
}

// OnAcceptConfirmed is called by the host once it has set up the connection.
// Confirmations are processed by a deferred drain.
func (r *Resolver) OnAcceptConfirmed(id types.ConnID) {
	r.accepting.add(id)
	r.acceptTask.fire()
}

// OnConnectFailed is called by the host when the connection could not be made.
func (r *Resolver) OnConnectFailed(id types.ConnID) {
	r.log.Debug("failed to make the resolver connection", zap.Uint64("conn", uint64(id)))
	r.closeConnection(id, false, true)
}

// OnCloseConfirmed is called by the host when it closed the connection on its side.
func (r *Resolver) OnCloseConfirmed(id types.ConnID) {
	r.closeConnection(id, true, true)
}

// FlowControlInfo returns the send and receive windows for the connection.
func (r *Resolver) FlowControlInfo(id types.ConnID) (int, int) {
	if id != types.NoConn && id == r.state.id {
		return MaxDatagramSize, MaxDatagramSize
	}
	return 0, 0
}

func (r *Resolver) drainAccepting() {
	for _, id := range r.accepting.take() {
		r.acceptPending(id)
	}
}

func (r *Resolver) acceptPending(id types.ConnID) {
	r.host.NotifyAccepted(id)

	switch {
	case r.state.open && r.state.id == id:
		r.log.Warn("the resolving connection is already open", zap.Uint64("conn", uint64(id)))
		r.metrics.violations.Inc()
		return
	case r.state.phase() != phaseConnecting || r.state.id != id:
		r.log.Warn("unexpected resolving connection ID",
			zap.Uint64("expected", uint64(r.state.id)),
			zap.Uint64("conn", uint64(id)),
			zap.Stringer("phase", r.state.phase()),
		)
		r.metrics.violations.Inc()
		r.closeConnection(id, false, false)
		return
	}

	r.state.open = true
	r.metrics.opened.Inc()
	r.log.Debug("the resolver connection is open", zap.Uint64("conn", uint64(id)))
	r.resolvePendingDomains()
}

func (r *Resolver) drainClosing() {
	for _, id := range r.closing.take() {
		graceful := !r.aborted.remove(id)
		r.closeConnection(id, graceful, false)
	}
}

// closeConnection closes the connection now or, when async, from a deferred drain.
func (r *Resolver) closeConnection(id types.ConnID, graceful, async bool) {
	if id == types.NoConn {
		return
	}

	r.accepting.remove(id)
	if async {
		r.closing.add(id)
		if !graceful {
			r.aborted.add(id)
		}
		r.closeTask.fire()
		return
	}

	r.closeNow(id, graceful, types.ErrClosed)
}

// closeNow tears down the current connection and fails everything outstanding
// with reason. Any other connection is only reported closed to the host.
func (r *Resolver) closeNow(id types.ConnID, graceful bool, reason error) {
	r.accepting.remove(id)
	r.closing.remove(id)
	r.aborted.remove(id)

	if id != r.state.id {
		r.log.Debug("discarding a stale connection", zap.Uint64("conn", uint64(id)))
		r.host.NotifyClosed(id, graceful)
		return
	}

	r.timeout.disarm()
	xchgs := r.xchgs.removeAll()
	entries := r.queues.takeAll()
	r.state = connState{}

	r.log.Debug("the resolver connection has been closed",
		zap.Uint64("conn", uint64(id)),
		zap.Bool("graceful", graceful),
		zap.Int("in_flight", len(xchgs)),
		zap.Int("queued", len(entries)),
		zap.Error(reason),
	)

	for _, x := range xchgs {
		r.raise(x.handler, x.resolveID, types.Result{RecordType: x.rtype, Err: reason})
	}
	for _, p := range entries {
		r.failPending(p, reason)
	}

	if id != types.NoConn {
		r.metrics.closed.Inc()
		r.host.NotifyClosed(id, graceful)
	}
}
