// Copyright © by Jeff Foley 2017-2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"net/netip"
	"strings"

	"github.com/miekg/dns"
)

// RecordType is the DNS answer category resolved independently by the resolver.
type RecordType uint8

const (
	RecordTypeA RecordType = iota
	RecordTypeAAAA
)

// AllRecordTypes lists every supported record type in report order.
var AllRecordTypes = []RecordType{RecordTypeA, RecordTypeAAAA}

func (rt RecordType) String() string {
	switch rt {
	case RecordTypeA:
		return "A"
	case RecordTypeAAAA:
		return "AAAA"
	}
	return "UNKNOWN"
}

// Qtype returns the DNS question type for the record type.
func (rt RecordType) Qtype() uint16 {
	if rt == RecordTypeAAAA {
		return dns.TypeAAAA
	}
	return dns.TypeA
}

// RecordTypeFromQtype maps a DNS question type onto a supported record type.
func RecordTypeFromQtype(qtype uint16) (RecordType, bool) {
	switch qtype {
	case dns.TypeA:
		return RecordTypeA, true
	case dns.TypeAAAA:
		return RecordTypeAAAA, true
	}
	return RecordTypeA, false
}

// ParseRecordType accepts the textual name of a record type, case insensitive.
func ParseRecordType(s string) (RecordType, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "A":
		return RecordTypeA, true
	case "AAAA":
		return RecordTypeAAAA, true
	}
	return RecordTypeA, false
}

// RecordTypeSet is a set of record types.
type RecordTypeSet uint8

// NewRecordTypeSet returns a set holding the provided record types.
func NewRecordTypeSet(rts ...RecordType) RecordTypeSet {
	var s RecordTypeSet
	for _, rt := range rts {
		s = s.With(rt)
	}
	return s
}

func (s RecordTypeSet) With(rt RecordType) RecordTypeSet { return s | 1<<rt }
func (s RecordTypeSet) Has(rt RecordType) bool          { return s&(1<<rt) != 0 }

// Types returns the members of the set in report order.
func (s RecordTypeSet) Types() []RecordType {
	var rts []RecordType
	for _, rt := range AllRecordTypes {
		if s.Has(rt) {
			rts = append(rts, rt)
		}
	}
	return rts
}

// Len returns the number of record types in the set.
func (s RecordTypeSet) Len() int { return len(s.Types()) }

// QueueKind is the priority class of a resolve request.
type QueueKind uint8

const (
	// Background requests have a bounded number of outstanding wire transactions.
	Background QueueKind = iota
	// Foreground requests are unbounded.
	Foreground
)

// QueueKinds lists the queue kinds in drain priority order.
var QueueKinds = []QueueKind{Background, Foreground}

func (k QueueKind) String() string {
	switch k {
	case Background:
		return "background"
	case Foreground:
		return "foreground"
	}
	return "unknown"
}

// QueueKindSet is a set of queue kinds.
type QueueKindSet uint8

// AllQueues holds every queue kind.
const AllQueues QueueKindSet = 1<<Background | 1<<Foreground

// NewQueueKindSet returns a set holding the provided queue kinds.
func NewQueueKindSet(kinds ...QueueKind) QueueKindSet {
	var s QueueKindSet
	for _, k := range kinds {
		s |= 1 << k
	}
	return s
}

func (s QueueKindSet) Has(k QueueKind) bool { return s&(1<<k) != 0 }

// ResolveID is the caller's handle for one logical resolve request.
type ResolveID uint64

// ConnID identifies a virtual connection shared with the host.
type ConnID uint64

// NoConn is the ConnID value meaning that no connection exists.
const NoConn ConnID = 0

// Result is delivered once per requested record type. Err is nil on success,
// in which case Addr holds the first address of the answer.
type Result struct {
	RecordType RecordType
	Addr       netip.Addr
	Err        error
}

// Success reports whether the result carries an address.
func (r Result) Success() bool { return r.Err == nil }

// ResultHandler receives the results for a resolve request.
type ResultHandler func(id ResolveID, res Result)
