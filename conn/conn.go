// Copyright © by Jeff Foley 2017-2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

// Package conn maps the resolver's virtual connections onto real UDP sockets.
package conn

import (
	"net"
	"time"

	"github.com/owasp-amass/tunresolve/types"
	"github.com/zhangyunhao116/skipmap"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultDialTimeout bounds the time spent creating a socket.
const DefaultDialTimeout = 5 * time.Second

// Listener receives the host events of a virtual connection.
type Listener interface {
	OnAcceptConfirmed(id types.ConnID)
	OnConnectFailed(id types.ConnID)
	OnCloseConfirmed(id types.ConnID)
	OnWireData(id types.ConnID, data []byte) (int, error)
}

// Options configures a Host.
type Options struct {
	Logger *zap.Logger
	// Upstream replaces the destination of every connection request when set.
	Upstream string
	// WriteQPS paces outbound datagrams. Zero means no limit.
	WriteQPS    int
	DialTimeout time.Duration
}

// Host implements types.Host. The Listener is always invoked on the scheduler.
type Host struct {
	done     chan struct{}
	log      *zap.Logger
	sched    types.Scheduler
	listener Listener
	upstream string
	timeout  time.Duration
	rate     *rate.Limiter
	socks    *skipmap.Uint64Map[*socket]
}

// New returns a Host that delivers its events through sched.
func New(sched types.Scheduler, opts Options) *Host {
	limit := rate.Inf
	if opts.WriteQPS > 0 {
		limit = rate.Limit(opts.WriteQPS)
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Host{
		done:     make(chan struct{}),
		log:      opts.Logger.With(zap.String("component", "dns-host")),
		sched:    sched,
		upstream: opts.Upstream,
		timeout:  opts.DialTimeout,
		rate:     rate.NewLimiter(limit, 1),
		socks:    skipmap.NewUint64[*socket](),
	}
}

// SetListener must be called before the first connection request.
func (h *Host) SetListener(l Listener) {
	h.listener = l
}

// Close releases every socket. Events already posted may still be delivered.
func (h *Host) Close() {
	select {
	case <-h.done:
		return
	default:
		close(h.done)
	}

	h.socks.Range(func(id uint64, s *socket) bool {
		s.close()
		h.socks.LoadAndDelete(id)
		return true
	})
}

// Len returns the number of open sockets.
func (h *Host) Len() int { return h.socks.Len() }

func (h *Host) post(fn func(l Listener)) {
	select {
	case <-h.done:
		return
	default:
	}

	h.sched.Submit(func() {
		if h.listener != nil {
			fn(h.listener)
		}
	})
}

func (h *Host) drop(s *socket) {
	h.socks.LoadAndDelete(uint64(s.id))
	s.close()
}

// RequestConnect dials the socket in the background and reports the outcome through the Listener.
func (h *Host) RequestConnect(req types.ConnectRequest) {
	if req.Protocol != types.ProtocolUDP {
		h.log.Warn("unsupported protocol", zap.Uint64("conn", uint64(req.ID)), zap.Stringer("protocol", req.Protocol))
		h.post(func(l Listener) { l.OnConnectFailed(req.ID) })
		return
	}

	addr := req.Dest.String()
	if h.upstream != "" {
		addr = h.upstream
	}

	go func() {
		c, err := net.DialTimeout("udp", addr, h.timeout)
		if err != nil {
			h.log.Debug("failed to dial the upstream", zap.String("addr", addr), zap.Error(err))
			h.post(func(l Listener) { l.OnConnectFailed(req.ID) })
			return
		}

		s := newSocket(req.ID, c)
		select {
		case <-h.done:
			s.close()
			return
		default:
		}

		h.socks.Store(uint64(req.ID), s)
		// Close may have swept the sockets before the store
		select {
		case <-h.done:
			h.drop(s)
			return
		default:
		}
		h.log.Debug("connected",
			zap.Uint64("conn", uint64(req.ID)),
			zap.String("app", req.AppName),
			zap.Stringer("src", req.Source),
			zap.String("dst", addr),
		)
		go h.responses(s)
		h.post(func(l Listener) { l.OnAcceptConfirmed(req.ID) })
	}()
}

func (h *Host) NotifyAccepted(id types.ConnID) {
	if s, found := h.socks.Load(uint64(id)); found {
		s.accepted = true
	}
}

// RequestWrite returns zero unless the accepted socket took the datagram within the write budget.
func (h *Host) RequestWrite(id types.ConnID, data []byte) int {
	s, found := h.socks.Load(uint64(id))
	if !found || !s.accepted {
		return 0
	}
	if !h.rate.Allow() {
		h.log.Debug("write rate exceeded", zap.Uint64("conn", uint64(id)))
		return 0
	}

	n, err := s.write(data)
	if err != nil {
		h.log.Debug("failed to write the datagram", zap.Uint64("conn", uint64(id)), zap.Error(err))
		return 0
	}
	return n
}

func (h *Host) NotifyClosed(id types.ConnID, graceful bool) {
	if s, found := h.socks.LoadAndDelete(uint64(id)); found {
		h.log.Debug("closing the socket", zap.Uint64("conn", uint64(id)), zap.Bool("graceful", graceful))
		s.close()
	}
}
