// Copyright © by Jeff Foley 2021-2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package resolve

import (
	"fmt"
	"sort"

	"github.com/owasp-amass/tunresolve/types"
)

// xchg is one outstanding wire transaction.
type xchg struct {
	resolveID types.ResolveID
	rtype     types.RecordType
	handler   types.ResultHandler
	kind      types.QueueKind
}

// The xchgMgr maps DNS message IDs to the requests they serve.
type xchgMgr struct {
	xchgs  map[uint16]*xchg
	counts [2]int
}

func newXchgMgr() *xchgMgr {
	return &xchgMgr{xchgs: make(map[uint16]*xchg)}
}

func (r *xchgMgr) add(id uint16, x *xchg) error {
	if _, found := r.xchgs[id]; found {
		return fmt.Errorf("key %d is already in use", id)
	}

	r.xchgs[id] = x
	r.counts[x.kind]++
	return nil
}

func (r *xchgMgr) has(id uint16) bool {
	_, found := r.xchgs[id]
	return found
}

func (r *xchgMgr) remove(id uint16) *xchg {
	if reqs := r.delete([]uint16{id}); len(reqs) > 0 {
		return reqs[0]
	}
	return nil
}

// removeResolve drops every transaction serving the resolve request.
func (r *xchgMgr) removeResolve(rid types.ResolveID) []*xchg {
	var ids []uint16
	for id, x := range r.xchgs {
		if x.resolveID == rid {
			ids = append(ids, id)
		}
	}

	return r.delete(ids)
}

func (r *xchgMgr) removeKinds(kinds types.QueueKindSet) []*xchg {
	var ids []uint16
	for id, x := range r.xchgs {
		if kinds.Has(x.kind) {
			ids = append(ids, id)
		}
	}

	return r.delete(ids)
}

func (r *xchgMgr) removeAll() []*xchg {
	var ids []uint16
	for id := range r.xchgs {
		ids = append(ids, id)
	}

	return r.delete(ids)
}

// delete returns the removed transactions ordered by request and record type.
func (r *xchgMgr) delete(ids []uint16) []*xchg {
	var removed []*xchg

	for _, id := range ids {
		if x, found := r.xchgs[id]; found {
			removed = append(removed, x)
			r.counts[x.kind]--
			delete(r.xchgs, id)
		}
	}

	sort.SliceStable(removed, func(i, j int) bool {
		if removed[i].resolveID == removed[j].resolveID {
			return removed[i].rtype < removed[j].rtype
		}
		return removed[i].resolveID < removed[j].resolveID
	})
	return removed
}

func (r *xchgMgr) count(kind types.QueueKind) int { return r.counts[kind] }

func (r *xchgMgr) len() int { return len(r.xchgs) }
