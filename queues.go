// Copyright © by Jeff Foley 2017-2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package resolve

import (
	"github.com/owasp-amass/tunresolve/types"
	"github.com/zhangyunhao116/skipmap"
)

// pending is a resolve request that has not been put on the wire yet.
type pending struct {
	id      types.ResolveID
	kind    types.QueueKind
	name    string
	types   types.RecordTypeSet
	handler types.ResultHandler
}

// queues holds the admission queues. IDs are issued in insertion order,
// so the key order of each map is the FIFO order.
type queues struct {
	lists [2]*skipmap.Uint64Map[*pending]
}

func newQueues() *queues {
	q := new(queues)
	q.reset()
	return q
}

func (q *queues) reset() {
	for i := range q.lists {
		q.lists[i] = skipmap.NewUint64[*pending]()
	}
}

func (q *queues) enqueue(p *pending) {
	q.lists[p.kind].Store(uint64(p.id), p)
}

func (q *queues) remove(id types.ResolveID) bool {
	for _, l := range q.lists {
		if _, found := l.LoadAndDelete(uint64(id)); found {
			return true
		}
	}
	return false
}

func (q *queues) peek(kind types.QueueKind) (*pending, bool) {
	var first *pending

	q.lists[kind].Range(func(_ uint64, p *pending) bool {
		first = p
		return false
	})
	return first, first != nil
}

func (q *queues) drainOne(kind types.QueueKind) (*pending, bool) {
	p, found := q.peek(kind)
	if found {
		_, _ = q.lists[kind].LoadAndDelete(uint64(p.id))
	}
	return p, found
}

// take removes and returns every entry of the queue in FIFO order.
func (q *queues) take(kind types.QueueKind) []*pending {
	var all []*pending

	q.lists[kind].Range(func(_ uint64, p *pending) bool {
		all = append(all, p)
		return true
	})
	q.lists[kind] = skipmap.NewUint64[*pending]()
	return all
}

// takeAll empties both queues in drain priority order.
func (q *queues) takeAll() []*pending {
	var all []*pending

	for _, kind := range types.QueueKinds {
		all = append(all, q.take(kind)...)
	}
	return all
}

func (q *queues) len(kind types.QueueKind) int { return q.lists[kind].Len() }

func (q *queues) empty() bool {
	for _, l := range q.lists {
		if l.Len() > 0 {
			return false
		}
	}
	return true
}
