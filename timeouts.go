// Copyright © by Jeff Foley 2017-2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package resolve

import (
	"time"

	"github.com/owasp-amass/tunresolve/types"
	"go.uber.org/zap"
)

// governor is the single timer guarding all outstanding work.
type governor struct {
	sched   types.Scheduler
	timeout time.Duration
	task    types.Task
	expired func()
}

func (g *governor) arm() {
	g.disarm()
	g.task = g.sched.Schedule(g.timeout, func() {
		g.task = nil
		g.expired()
	})
}

func (g *governor) disarm() {
	if g.task != nil {
		g.task.Cancel()
		g.task = nil
	}
}

func (g *governor) armed() bool { return g.task != nil }

// onTimeout tears the connection down and fails everything still outstanding.
func (r *Resolver) onTimeout() {
	r.log.Debug("resolve timed out",
		zap.Uint64("conn", uint64(r.state.id)),
		zap.Int("in_flight", r.xchgs.len()),
	)
	r.metrics.timeouts.Inc()
	r.closeNow(r.state.id, false, types.ErrTimeout)
}
