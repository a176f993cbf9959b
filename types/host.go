// Copyright © by Jeff Foley 2017-2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"net/netip"
	"time"
)

// Protocol is the transport protocol of a virtual connection.
type Protocol uint8

const (
	ProtocolUDP Protocol = 17
)

func (p Protocol) String() string {
	if p == ProtocolUDP {
		return "udp"
	}
	return "unknown"
}

// ConnectRequest asks the host to open a virtual connection.
type ConnectRequest struct {
	ID       ConnID
	Protocol Protocol
	Source   netip.AddrPort
	Dest     netip.AddrPort
	// AppName lets the exclusion matcher and traffic accounting recognize the resolver.
	AppName string
}

// Host is the tunnel side of the virtual connection.
type Host interface {
	// RequestConnect asks for a new connection. The host later answers through
	// the resolver's OnAcceptConfirmed or OnConnectFailed.
	RequestConnect(req ConnectRequest)

	// NotifyAccepted tells the host that the resolver took ownership of the connection.
	NotifyAccepted(id ConnID)

	// RequestWrite hands an encoded query to the host and returns the number of bytes accepted.
	RequestWrite(id ConnID, data []byte) int

	// NotifyClosed tells the host that the connection is gone.
	NotifyClosed(id ConnID, graceful bool)
}

// Codec is the DNS wire codec.
type Codec interface {
	EncodeQuery(rt RecordType, name string) (uint16, []byte, error)
	Decode(data []byte) (Packet, error)
}

// PacketKind classifies a decoded packet.
type PacketKind uint8

const (
	// PacketAdvisory is a well formed packet the resolver has no use for.
	PacketAdvisory PacketKind = iota
	// PacketRequest is a DNS query.
	PacketRequest
	// PacketReply is a DNS answer for an A or AAAA question.
	PacketReply
)

// Packet is the outcome of a successful decode.
type Packet struct {
	Kind  PacketKind
	ID    uint16
	Addrs []netip.Addr
}

// Task is a submitted unit of work. Cancel is idempotent and safe after the task fired.
type Task interface {
	Cancel()
}

// Scheduler runs submitted tasks one at a time in submission order.
type Scheduler interface {
	Submit(fn func()) Task
	Schedule(d time.Duration, fn func()) Task
}
