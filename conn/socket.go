// Copyright © by Jeff Foley 2017-2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package conn

import (
	"net"
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/owasp-amass/tunresolve/types"
	"go.uber.org/zap"
)

const (
	headerSize   = 12
	writeTimeout = 2 * time.Second
)

// socket backs one virtual connection with a connected UDP socket.
type socket struct {
	once     sync.Once
	done     chan struct{}
	id       types.ConnID
	conn     net.Conn
	accepted bool
}

func newSocket(id types.ConnID, conn net.Conn) *socket {
	_ = conn.SetDeadline(time.Time{})

	return &socket{
		done: make(chan struct{}),
		id:   id,
		conn: conn,
	}
}

func (s *socket) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

func (s *socket) closed() bool {
	select {
	case <-s.done:
		return true
	default:
	}
	return false
}

func (s *socket) write(data []byte) (int, error) {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.Write(data)
}

// responses posts every datagram large enough to hold a DNS header into the loop.
func (h *Host) responses(s *socket) {
	b := make([]byte, dns.MaxMsgSize)

	for {
		n, err := s.conn.Read(b)
		if err != nil {
			if s.closed() {
				return
			}

			h.log.Debug("the upstream socket failed", zap.Uint64("conn", uint64(s.id)), zap.Error(err))
			h.drop(s)
			h.post(func(l Listener) { l.OnCloseConfirmed(s.id) })
			return
		}
		if n < headerSize {
			continue
		}

		data := make([]byte, n)
		copy(data, b[:n])
		h.post(func(l Listener) {
			if _, err := l.OnWireData(s.id, data); err != nil {
				h.log.Debug("the resolver rejected the datagram", zap.Uint64("conn", uint64(s.id)), zap.Error(err))
			}
		})
	}
}
