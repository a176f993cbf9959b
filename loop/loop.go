// Copyright © by Jeff Foley 2017-2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

// Package loop provides the single-threaded cooperative task scheduler shared by
// the resolver and its host.
package loop

import (
	"context"
	"errors"
	"time"

	"github.com/caffix/queue"
	"github.com/owasp-amass/tunresolve/types"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// ErrStopped is returned by Do once the loop has been stopped.
var ErrStopped = errors.New("the event loop has been stopped")

type task struct {
	fn       func()
	canceled *atomic.Bool
	timer    *time.Timer
}

func newTask(fn func()) *task {
	return &task{
		fn:       fn,
		canceled: atomic.NewBool(false),
	}
}

// Cancel prevents the task from running if it has not started yet.
func (t *task) Cancel() {
	t.canceled.Store(true)
	if t.timer != nil {
		t.timer.Stop()
	}
}

// Loop runs submitted tasks one at a time, in submission order, on its own goroutine.
type Loop struct {
	done     chan struct{}
	finished chan struct{}
	log      *zap.Logger
	tasks    queue.Queue
	executed *atomic.Uint64
}

// New starts an event loop.
func New(logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &Loop{
		done:     make(chan struct{}),
		finished: make(chan struct{}),
		log:      logger,
		tasks:    queue.NewQueue(),
		executed: atomic.NewUint64(0),
	}

	go l.run()
	return l
}

// Submit queues fn to run on the loop goroutine.
func (l *Loop) Submit(fn func()) types.Task {
	t := newTask(fn)

	select {
	case <-l.done:
		t.canceled.Store(true)
	default:
		l.tasks.Append(t)
	}
	return t
}

// Schedule queues fn to run on the loop goroutine once d has elapsed.
func (l *Loop) Schedule(d time.Duration, fn func()) types.Task {
	t := newTask(fn)

	select {
	case <-l.done:
		t.canceled.Store(true)
		return t
	default:
	}

	t.timer = time.AfterFunc(d, func() {
		select {
		case <-l.done:
			return
		default:
		}
		if !t.canceled.Load() {
			l.tasks.Append(t)
		}
	})
	return t
}

// Do runs fn on the loop goroutine and waits for it to return.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	ch := make(chan struct{})
	t := l.Submit(func() {
		defer close(ch)
		fn()
	})

	select {
	case <-ch:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		t.Cancel()
		return ctx.Err()
	}
}

// Executed returns the number of tasks that have run.
func (l *Loop) Executed() uint64 { return l.executed.Load() }

// Stop terminates the loop. Tasks that have not started are dropped.
func (l *Loop) Stop() {
	select {
	case <-l.done:
		return
	default:
	}
	close(l.done)
}

// Finished is closed once the loop goroutine has returned.
func (l *Loop) Finished() <-chan struct{} { return l.finished }

func (l *Loop) run() {
	defer close(l.finished)
events:
	for {
		select {
		case <-l.done:
			break events
		case <-l.tasks.Signal():
		}

		for {
			select {
			case <-l.done:
				break events
			default:
			}

			element, found := l.tasks.Next()
			if !found {
				break
			}
			if t, ok := element.(*task); ok {
				l.exec(t)
			}
		}
	}
	// release the tasks remaining on the queue
	l.tasks.Process(func(element interface{}) {
		if t, ok := element.(*task); ok {
			t.canceled.Store(true)
		}
	})
}

func (l *Loop) exec(t *task) {
	if t.canceled.Swap(true) {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("task panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	l.executed.Inc()
	t.fn()
}
