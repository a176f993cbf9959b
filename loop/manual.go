// Copyright © by Jeff Foley 2017-2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package loop

import (
	"sort"
	"time"

	"github.com/owasp-amass/tunresolve/types"
)

type manualTask struct {
	fn       func()
	at       time.Duration
	seq      uint64
	canceled bool
}

func (t *manualTask) Cancel() { t.canceled = true }

// Manual is a deterministic scheduler driven by the caller with a virtual clock.
// It is not safe for concurrent use.
type Manual struct {
	now    time.Duration
	seq    uint64
	tasks  []*manualTask
	timers []*manualTask
}

// NewManual returns a scheduler whose virtual clock starts at zero.
func NewManual() *Manual { return &Manual{} }

func (m *Manual) Submit(fn func()) types.Task {
	m.seq++
	t := &manualTask{fn: fn, at: m.now, seq: m.seq}
	m.tasks = append(m.tasks, t)
	return t
}

func (m *Manual) Schedule(d time.Duration, fn func()) types.Task {
	m.seq++
	t := &manualTask{fn: fn, at: m.now + d, seq: m.seq}
	m.timers = append(m.timers, t)
	return t
}

// Now returns the virtual time elapsed since the scheduler was created.
func (m *Manual) Now() time.Duration { return m.now }

// RunPending runs submitted tasks, including those submitted while running,
// until none remain. It returns the number of tasks that ran.
func (m *Manual) RunPending() int {
	var count int

	for len(m.tasks) > 0 {
		t := m.tasks[0]
		m.tasks = m.tasks[1:]

		if !t.canceled {
			t.canceled = true
			t.fn()
			count++
		}
	}
	return count
}

// Advance moves the virtual clock forward by d, firing due timers in deadline order.
func (m *Manual) Advance(d time.Duration) int {
	target := m.now + d
	count := m.RunPending()

	for {
		t := m.nextTimer(target)
		if t == nil {
			break
		}

		m.now = t.at
		m.tasks = append(m.tasks, t)
		count += m.RunPending()
	}

	m.now = target
	return count
}

// Pending returns the number of submitted tasks that have not run yet.
func (m *Manual) Pending() int {
	var count int
	for _, t := range m.tasks {
		if !t.canceled {
			count++
		}
	}
	return count
}

// Timers returns the number of armed timers.
func (m *Manual) Timers() int {
	var count int
	for _, t := range m.timers {
		if !t.canceled {
			count++
		}
	}
	return count
}

func (m *Manual) nextTimer(deadline time.Duration) *manualTask {
	live := m.timers[:0]
	for _, t := range m.timers {
		if !t.canceled {
			live = append(live, t)
		}
	}
	m.timers = live

	sort.SliceStable(m.timers, func(i, j int) bool {
		if m.timers[i].at == m.timers[j].at {
			return m.timers[i].seq < m.timers[j].seq
		}
		return m.timers[i].at < m.timers[j].at
	})

	if len(m.timers) == 0 || m.timers[0].at > deadline {
		return nil
	}

	t := m.timers[0]
	m.timers = m.timers[1:]
	return t
}
