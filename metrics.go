// Copyright © by Jeff Foley 2017-2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package resolve

import (
	"io"

	"github.com/VictoriaMetrics/metrics"
)

type resolverMetrics struct {
	set         *metrics.Set
	success     *metrics.Counter
	failure     *metrics.Counter
	timeouts    *metrics.Counter
	opened      *metrics.Counter
	closed      *metrics.Counter
	unsolicited *metrics.Counter
	violations  *metrics.Counter
}

func newResolverMetrics() *resolverMetrics {
	s := metrics.NewSet()

	return &resolverMetrics{
		set:         s,
		success:     s.NewCounter(`tunresolve_results_total{outcome="success"}`),
		failure:     s.NewCounter(`tunresolve_results_total{outcome="failure"}`),
		timeouts:    s.NewCounter(`tunresolve_timeouts_total`),
		opened:      s.NewCounter(`tunresolve_connections_opened_total`),
		closed:      s.NewCounter(`tunresolve_connections_closed_total`),
		unsolicited: s.NewCounter(`tunresolve_unsolicited_replies_total`),
		violations:  s.NewCounter(`tunresolve_protocol_violations_total`),
	}
}

// WriteMetrics writes the resolver counters in Prometheus text format.
func (r *Resolver) WriteMetrics(w io.Writer) {
	r.metrics.set.WritePrometheus(w)
}
