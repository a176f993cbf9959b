// Copyright © by Jeff Foley 2017-2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package loop

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func stopAndWait(t *testing.T, l *Loop) {
	l.Stop()
	select {
	case <-l.Finished():
	case <-time.After(5 * time.Second):
		t.Fatal("the loop goroutine did not return")
	}
}

func TestLoopOrdering(t *testing.T) {
	l := New(zaptest.NewLogger(t))
	defer stopAndWait(t, l)

	var order []int
	for i := 0; i < 100; i++ {
		i := i
		l.Submit(func() { order = append(order, i) })
	}
	require.NoError(t, l.Do(context.Background(), func() {}))

	require.Len(t, order, 100)
	for i, v := range order {
		require.Equal(t, i, v)
	}
}

func TestLoopCancel(t *testing.T) {
	l := New(zaptest.NewLogger(t))
	defer stopAndWait(t, l)

	var ran []string
	require.NoError(t, l.Do(context.Background(), func() {
		first := l.Submit(func() { ran = append(ran, "first") })
		l.Submit(func() { ran = append(ran, "second") })
		first.Cancel()
		// cancelling twice is harmless
		first.Cancel()
	}))
	require.NoError(t, l.Do(context.Background(), func() {}))

	require.Equal(t, []string{"second"}, ran)
}

func TestLoopSchedule(t *testing.T) {
	l := New(zaptest.NewLogger(t))
	defer stopAndWait(t, l)

	fired := make(chan time.Time, 1)
	start := time.Now()
	l.Schedule(20*time.Millisecond, func() { fired <- time.Now() })

	select {
	case at := <-fired:
		require.GreaterOrEqual(t, at.Sub(start), 20*time.Millisecond)
	case <-time.After(5 * time.Second):
		t.Fatal("the scheduled task never ran")
	}
}

func TestLoopScheduleCancel(t *testing.T) {
	l := New(zaptest.NewLogger(t))
	defer stopAndWait(t, l)

	fired := make(chan struct{}, 1)
	task := l.Schedule(10*time.Millisecond, func() { fired <- struct{}{} })
	task.Cancel()

	select {
	case <-fired:
		t.Fatal("a cancelled timer ran")
	case <-time.After(50 * time.Millisecond):
	}
	// safe to cancel after the deadline passed
	task.Cancel()
}

func TestLoopPanicRecovered(t *testing.T) {
	l := New(zaptest.NewLogger(t))
	defer stopAndWait(t, l)

	l.Submit(func() { panic("boom") })
	require.NoError(t, l.Do(context.Background(), func() {}))
	require.Equal(t, uint64(2), l.Executed())
}

func TestLoopDoContext(t *testing.T) {
	l := New(zaptest.NewLogger(t))
	defer stopAndWait(t, l)

	block := make(chan struct{})
	l.Submit(func() { <-block })
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, l.Do(ctx, func() {}), context.DeadlineExceeded)
}

func TestLoopStopped(t *testing.T) {
	l := New(zaptest.NewLogger(t))
	stopAndWait(t, l)
	// It should be safe to stop the loop more than once
	l.Stop()

	ran := false
	l.Submit(func() { ran = true })
	l.Schedule(time.Millisecond, func() { ran = true })
	require.ErrorIs(t, l.Do(context.Background(), func() { ran = true }), ErrStopped)
	require.False(t, ran)
}
