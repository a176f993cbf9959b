// Copyright © by Jeff Foley 2017-2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

// Package codec encodes A/AAAA queries and classifies received DNS packets.
package codec

import (
	"fmt"
	"strings"

	"github.com/miekg/dns"
	"github.com/owasp-amass/tunresolve/types"
	"github.com/owasp-amass/tunresolve/utils"
	"golang.org/x/net/idna"
)

// Codec implements types.Codec with the miekg/dns message packer.
type Codec struct{}

// New returns a DNS wire codec.
func New() *Codec { return &Codec{} }

// EncodeQuery builds a recursive query for the name and returns its transaction ID with the packed bytes.
func (c *Codec) EncodeQuery(rt types.RecordType, name string) (uint16, []byte, error) {
	fqdn, err := normalize(name)
	if err != nil {
		return 0, nil, err
	}

	msg := utils.QueryMsg(fqdn, rt.Qtype())
	msg.Id = dns.Id()

	out, err := msg.Pack()
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %s: %v", types.ErrEncode, name, err)
	}
	return msg.Id, out, nil
}

// Decode classifies a received packet. Only unpack failures produce an error.
func (c *Codec) Decode(data []byte) (types.Packet, error) {
	m := new(dns.Msg)
	if err := m.Unpack(data); err != nil {
		return types.Packet{}, fmt.Errorf("%w: %v", types.ErrMalformed, err)
	}

	p := types.Packet{ID: m.Id}
	if !m.Response {
		p.Kind = types.PacketRequest
		return p, nil
	}
	if m.Opcode != dns.OpcodeQuery || len(m.Question) == 0 {
		p.Kind = types.PacketAdvisory
		return p, nil
	}

	qtype := m.Question[0].Qtype
	if _, ok := types.RecordTypeFromQtype(qtype); !ok {
		p.Kind = types.PacketAdvisory
		return p, nil
	}

	p.Kind = types.PacketReply
	p.Addrs = utils.AddressesByType(m, qtype)
	return p, nil
}

func normalize(name string) (string, error) {
	name = utils.RemoveLastDot(strings.TrimSpace(name))
	if name == "" {
		return "", fmt.Errorf("%w: empty name", types.ErrEncode)
	}

	if !isASCII(name) {
		ascii, err := idna.Lookup.ToASCII(name)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %v", types.ErrEncode, name, err)
		}
		name = ascii
	}

	if _, ok := dns.IsDomainName(name); !ok {
		return "", fmt.Errorf("%w: %s is not a valid domain name", types.ErrEncode, name)
	}
	return strings.ToLower(name), nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}
