// Copyright © by Jeff Foley 2017-2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package resolve

import "github.com/owasp-amass/tunresolve/types"

// trigger runs fn on the scheduler at most once per pending submission,
// no matter how many times fire is called before it runs.
type trigger struct {
	sched types.Scheduler
	task  types.Task
	fn    func()
}

func newTrigger(sched types.Scheduler, fn func()) *trigger {
	return &trigger{sched: sched, fn: fn}
}

func (t *trigger) fire() {
	if t.task != nil {
		return
	}
	t.task = t.sched.Submit(t.run)
}

func (t *trigger) run() {
	// Cleared before fn so that a fire from inside fn schedules a follow-up
	t.task = nil
	t.fn()
}

func (t *trigger) pending() bool { return t.task != nil }

func (t *trigger) reset() {
	if t.task != nil {
		t.task.Cancel()
		t.task = nil
	}
}

// connBatch is an ordered set of connection IDs awaiting a deferred drain.
type connBatch []types.ConnID

func (b *connBatch) add(id types.ConnID) {
	for _, c := range *b {
		if c == id {
			return
		}
	}
	*b = append(*b, id)
}

func (b *connBatch) remove(id types.ConnID) bool {
	for i, c := range *b {
		if c == id {
			*b = append((*b)[:i], (*b)[i+1:]...)
			return true
		}
	}
	return false
}

func (b *connBatch) take() []types.ConnID {
	ids := *b
	*b = nil
	return ids
}
